package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsmlink/hsmlink-go/pkg/cert"
	"github.com/hsmlink/hsmlink-go/pkg/connection"
	"github.com/hsmlink/hsmlink-go/pkg/discovery"
	"github.com/hsmlink/hsmlink-go/pkg/socket"
)

const sample = `
link:
  host: hsm.example.net
  port: 1500
tls:
  enabled: true
  subject: client.example.net
  store: CLIENT
  server_name: hsm.example.net
timeouts:
  connect: 3s
  io: 250ms
framing:
  max_packet_size: 4096
reconnect:
  initial: 100ms
  max: 5s
log:
  level: debug
  protocol: /tmp/client.hlog
`

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, DefaultPort, c.Link.Port)
	assert.Equal(t, DefaultStore, c.TLS.Store)
	assert.Equal(t, socket.DefaultIOTimeout, c.Timeouts.IO)
	assert.Equal(t, socket.MaxPacketSize, c.Framing.MaxPacketSize)
	assert.Equal(t, connection.InitialBackoff, c.Reconnect.Initial)
	assert.Equal(t, connection.MaxBackoff, c.Reconnect.Max)
	assert.Equal(t, discovery.BrowseTimeout, c.Discovery.BrowseFor)
	assert.Equal(t, slog.LevelInfo, c.Level())
	assert.Empty(t, c.Validate())
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "hsm.example.net", c.Link.Host)
	assert.Equal(t, 1500, c.Link.Port)
	assert.True(t, c.TLS.Enabled)
	assert.Equal(t, "CLIENT", c.TLS.Store)
	assert.Equal(t, 3*time.Second, c.Timeouts.Connect)
	assert.Equal(t, 250*time.Millisecond, c.Timeouts.IO)
	assert.Equal(t, DefaultAcceptTimeout, c.Timeouts.Accept, "unset values keep defaults")
	assert.Equal(t, 4096, c.Framing.MaxPacketSize)
	assert.Equal(t, 100*time.Millisecond, c.Reconnect.Initial)
	assert.Equal(t, slog.LevelDebug, c.Level())
	assert.Empty(t, c.Validate())

	opts := c.ConnectOptions(nil)
	assert.True(t, opts.TLS)
	assert.Equal(t, "hsm.example.net", opts.ServerName)
	assert.Equal(t, 4096, opts.MaxPacketSize)
	assert.Equal(t, 250*time.Millisecond, opts.IOTimeout)

	b := c.Backoff()
	assert.Equal(t, 100*time.Millisecond, b.Current())
}

func TestParseEmpty(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("link: [unclosed"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Contains(t, err.Error(), "failed to parse YAML")

	_, err = Parse([]byte("link:\n  hots: x\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = Parse([]byte("timeouts:\n  io: soon\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hsmlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1500, c.Link.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Contains(t, le.Error(), "missing.yaml")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("::"), 0o600))
	_, err = Load(bad)
	require.ErrorAs(t, err, &le)
	assert.Equal(t, bad, le.File)
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Link.Port = 70000
	c.Framing.MaxPacketSize = 1 << 20
	c.Timeouts.IO = -time.Second
	c.Reconnect.Initial = time.Minute
	c.Reconnect.Max = time.Second
	c.Log.Level = "loud"
	c.TLS.RequireClientCert = true
	c.Discovery.Advertise = true

	errs := c.Validate()
	assert.Len(t, errs, 7)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrInvalidConfig)
	}
	assert.Equal(t, slog.LevelInfo, c.Level(), "invalid level falls back to info")
}

func TestEndpoint(t *testing.T) {
	c := Default()
	c.Link.Host = "127.0.0.1"
	c.Link.Port = 1500
	ep, err := c.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1500", ep.String())

	assert.Equal(t, "0.0.0.0", c.ListenHost())
	c.Link.Listen = "127.0.0.1"
	assert.Equal(t, "127.0.0.1", c.ListenHost())
}

func TestCredentialsFromDisk(t *testing.T) {
	root := t.TempDir()
	cred, err := cert.GenerateSelfSigned("client.example.net", time.Hour)
	require.NoError(t, err)
	store := cert.NewFileStore(filepath.Join(root, "CLIENT"))
	require.NoError(t, store.Add(cred))
	require.NoError(t, store.Save())

	caFile := filepath.Join(root, "ca.pem")
	require.NoError(t, os.WriteFile(caFile, cert.EncodeCertPEM(cred.Certificate), 0o600))

	c := Default()
	none, err := c.Credential()
	require.NoError(t, err)
	assert.Nil(t, none)
	pool, err := c.RootCAs()
	require.NoError(t, err)
	assert.Nil(t, pool)

	c.TLS.StoreRoot = root
	c.TLS.Store = "CLIENT"
	c.TLS.Subject = "client.example.net"
	c.TLS.CAFile = caFile

	got, err := c.Credential()
	require.NoError(t, err)
	assert.True(t, got.Certificate.Equal(cred.Certificate))

	pool, err = c.RootCAs()
	require.NoError(t, err)
	require.NotNil(t, pool)
	assert.NoError(t, cert.Verify(cred, pool))

	c.TLS.Subject = "someone-else"
	_, err = c.Credential()
	assert.ErrorIs(t, err, cert.ErrCertNotFound)
}
