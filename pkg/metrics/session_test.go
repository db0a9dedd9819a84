package metrics

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsmlink/hsmlink-go/pkg/socket"
)

func TestMain(m *testing.M) {
	if err := socket.Startup(); err != nil {
		fmt.Fprintln(os.Stderr, "socket startup:", err)
		os.Exit(1)
	}
	code := m.Run()
	socket.Cleanup()
	os.Exit(code)
}

func TestCollectorWithSessions(t *testing.T) {
	c, _ := newCollector(t)

	srv := socket.NewServer()
	require.NoError(t, srv.OpenAddr("127.0.0.1", 0))
	defer srv.Close()
	srv.SetLogger(c)

	ep, err := socket.Resolve("127.0.0.1", srv.Port())
	require.NoError(t, err)
	client, err := socket.ConnectAsyncWith(ep, socket.ConnectOptions{Logger: c})
	require.NoError(t, err)
	defer client.Close()

	peer, err := srv.Accept(5 * time.Second)
	require.NoError(t, err)
	defer peer.Close()
	require.NoError(t, client.PollConnect(5*time.Second))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Sessions))

	require.NoError(t, client.SendPacket([]byte("hello")))
	buf := make([]byte, 16)
	n, err := peer.ReadPacket(buf, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Frames.WithLabelValues("out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Frames.WithLabelValues("in")))

	client.Close()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Sessions))
}
