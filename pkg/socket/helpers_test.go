package socket

import (
	"crypto/x509"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hsmlink/hsmlink-go/pkg/cert"
	"github.com/hsmlink/hsmlink-go/pkg/log"
)

func rootsFor(creds ...*cert.Credential) *x509.CertPool {
	pool := x509.NewCertPool()
	for _, c := range creds {
		pool.AddCert(c.Certificate)
	}
	return pool
}

func localhostCredential(t *testing.T) *cert.Credential {
	t.Helper()
	cred, err := cert.GenerateSelfSigned("localhost", time.Hour)
	require.NoError(t, err)
	return cred
}

// openServer listens on an ephemeral loopback port.
func openServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer()
	require.NoError(t, srv.OpenAddr("127.0.0.1", 0))
	t.Cleanup(func() { srv.Close() })
	return srv
}

func serverEndpoint(srv *Server) Endpoint {
	return EndpointFrom(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), srv.Addr().Port()))
}

// pollConnected drives PollConnect in short slices, as an event loop would.
func pollConnected(s *Session, limit time.Duration) error {
	deadline := time.Now().Add(limit)
	for {
		err := s.PollConnect(100 * time.Millisecond)
		if StatusOf(err) != StatusTimeout || time.Now().After(deadline) {
			return err
		}
	}
}

type acceptResult struct {
	s   *Session
	err error
}

// connectPair connects a client to srv while srv accepts on another
// goroutine, which is how the TLS handshake interleaves.
func connectPair(t *testing.T, srv *Server, opts ConnectOptions) (client, server *Session) {
	t.Helper()
	accepted := make(chan acceptResult, 1)
	go func() {
		s, err := srv.Accept(5 * time.Second)
		accepted <- acceptResult{s, err}
	}()

	client, err := ConnectAsyncWith(serverEndpoint(srv), opts)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, pollConnected(client, 5*time.Second))

	r := <-accepted
	require.NoError(t, r.err)
	t.Cleanup(func() { r.s.Close() })
	return client, r.s
}

// mockLogger records protocol events.
type mockLogger struct {
	mock.Mock

	mu     sync.Mutex
	events []log.Event
}

func newMockLogger() *mockLogger {
	m := &mockLogger{}
	m.On("Log", mock.Anything).Return()
	return m
}

func (m *mockLogger) Log(ev log.Event) {
	m.Called(ev)
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

func (m *mockLogger) byCategory(c log.Category) []log.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []log.Event
	for _, ev := range m.events {
		if ev.Category == c {
			out = append(out, ev)
		}
	}
	return out
}

var _ log.Logger = (*mockLogger)(nil)
