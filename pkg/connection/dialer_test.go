package connection

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

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
	if err := socket.Cleanup(); err != nil && code == 0 {
		fmt.Fprintln(os.Stderr, "socket cleanup:", err)
		code = 1
	}
	os.Exit(code)
}

func openServer(t *testing.T) *socket.Server {
	t.Helper()
	srv := socket.NewServer()
	require.NoError(t, srv.OpenAddr("127.0.0.1", 0))
	t.Cleanup(func() { srv.Close() })
	return srv
}

func acceptOne(t *testing.T, srv *socket.Server) <-chan *socket.Session {
	t.Helper()
	out := make(chan *socket.Session, 1)
	go func() {
		s, err := srv.Accept(5 * time.Second)
		if err != nil {
			close(out)
			return
		}
		t.Cleanup(func() { s.Close() })
		out <- s
	}()
	return out
}

func TestSessionDialerConnect(t *testing.T) {
	srv := openServer(t)
	d := &SessionDialer{Host: "127.0.0.1", Port: srv.Port()}
	defer d.Close()

	accepted := acceptOne(t, srv)
	require.NoError(t, d.Connect(context.Background()))
	first := d.Session()
	require.NotNil(t, first)
	assert.Equal(t, socket.StateConnected, first.State())

	peer := <-accepted
	require.NotNil(t, peer)
	require.NoError(t, first.SendPacket([]byte("ping")))
	buf := make([]byte, 16)
	n, err := peer.ReadPacket(buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	// A second connect replaces and closes the first session.
	accepted = acceptOne(t, srv)
	require.NoError(t, d.Connect(context.Background()))
	<-accepted
	assert.NotSame(t, first, d.Session())
	assert.Equal(t, socket.StateClosed, first.State())

	require.NoError(t, d.Close())
	assert.Nil(t, d.Session())
	require.NoError(t, d.Close())
}

func TestSessionDialerRefused(t *testing.T) {
	srv := socket.NewServer()
	require.NoError(t, srv.OpenAddr("127.0.0.1", 0))
	port := srv.Port()
	srv.Close()

	d := &SessionDialer{Host: "127.0.0.1", Port: port}
	err := d.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, socket.StatusError, socket.StatusOf(err))
	assert.Nil(t, d.Session())
}

func TestSessionDialerContextCancel(t *testing.T) {
	// Nobody accepts, so the TLS handshake never completes.
	srv := openServer(t)
	d := &SessionDialer{
		Host:      "127.0.0.1",
		Port:      srv.Port(),
		Options:   socket.ConnectOptions{TLS: true, InsecureSkipVerify: true},
		PollSlice: 20 * time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := d.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, d.Session())
}

func TestManagerWithSessionDialer(t *testing.T) {
	srv := openServer(t)
	d := &SessionDialer{Host: "127.0.0.1", Port: srv.Port()}
	defer d.Close()

	m := NewManager(d.Connect, WithBackoff(fastBackoff()))
	m.StartReconnectLoop()
	defer m.Close()

	accepted := acceptOne(t, srv)
	require.NoError(t, m.Connect(context.Background()))
	<-accepted
	first := d.Session()

	accepted = acceptOne(t, srv)
	m.NotifyConnectionLost()
	waitForState(t, m, StateConnected)
	<-accepted
	assert.NotSame(t, first, d.Session())
}
