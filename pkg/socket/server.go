package socket

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hsmlink/hsmlink-go/pkg/cert"
	"github.com/hsmlink/hsmlink-go/pkg/log"
)

// Server is a listening socket. Accept hands out sessions that are already
// connected, with the TLS server handshake done inline when credentials
// are installed.
//
// Credentials are read under a lock at the start of each Accept, so they
// may be changed while an Accept runs without affecting it.
type Server struct {
	mu                sync.RWMutex
	cred              *cert.Credential
	clientCAs         *x509.CertPool
	requireClientCert bool
	locator           cert.Locator
	logger            log.Logger
	maxPacket         int
	ioTimeout         time.Duration

	lmu    sync.Mutex
	t      *Transport
	addr   netip.AddrPort
	closed bool
	// handshaking is the session Accept is negotiating, closed by Close.
	handshaking *Session

	// acceptMu serializes WaitEvent and Accept.
	acceptMu sync.Mutex

	state     atomic.Int32
	events    emitter
	errs      errorSlot
	closeOnce sync.Once
	closeErr  error
}

// NewServer returns a closed server. Call Open to start listening.
func NewServer() *Server {
	return &Server{
		locator: cert.DirLocator{Root: cert.DefaultStoreRoot},
	}
}

// Open binds all IPv4 interfaces at port and starts listening. Port 0
// picks an ephemeral port; see Addr.
func (s *Server) Open(port int) error {
	const op = "open"
	if port < 0 || port > 65535 {
		return s.record(newError(KindIO, op, fmt.Errorf("%w: %d", ErrInvalidPort, port)))
	}
	return s.listen(op, netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(port)))
}

// OpenAddr listens on one local interface.
func (s *Server) OpenAddr(host string, port int) error {
	const op = "open"
	if port < 0 || port > 65535 {
		return s.record(newError(KindIO, op, fmt.Errorf("%w: %d", ErrInvalidPort, port)))
	}
	addr, err := DefaultResolver.lookup(host)
	if err != nil {
		return s.record(newError(KindResolution, op, err))
	}
	return s.listen(op, netip.AddrPortFrom(addr, uint16(port)))
}

func (s *Server) listen(op string, ap netip.AddrPort) error {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	if s.closed {
		return s.record(newError(KindState, op, ErrClosed))
	}
	if s.t != nil {
		return s.record(newError(KindState, op, errors.New("already listening")))
	}
	t, err := Listen(EndpointFrom(ap))
	if err != nil {
		return s.record(err)
	}
	s.t = t
	s.addr = t.LocalAddr()
	s.events.setAddrs(hostPort(s.addr), "")
	s.setState(StateListening)
	return nil
}

// Addr returns the bound address, including the port chosen for Open(0).
func (s *Server) Addr() netip.AddrPort {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	return s.addr
}

// Port returns the bound port.
func (s *Server) Port() int { return int(s.Addr().Port()) }

// SetLocator changes how InitCredentialsFromStore finds stores.
func (s *Server) SetLocator(l cert.Locator) {
	s.mu.Lock()
	s.locator = l
	s.mu.Unlock()
}

// InitCredentialsFromStore loads the credential for subject from the named
// store and enables TLS on every later Accept. With requireClientCert the
// handshake fails for clients that present no certificate.
func (s *Server) InitCredentialsFromStore(subject, storeName string, requireClientCert bool) error {
	const op = "init credentials"
	s.mu.RLock()
	loc := s.locator
	s.mu.RUnlock()
	if loc == nil {
		loc = cert.DirLocator{}
	}
	store, err := loc.Open(storeName)
	if err != nil {
		return s.record(newError(KindHandshake, op, err))
	}
	cred, err := store.Find(subject)
	if err != nil {
		return s.record(newError(KindHandshake, op, fmt.Errorf("%s in %s: %w", subject, storeName, err)))
	}
	s.mu.Lock()
	s.cred = cred
	s.requireClientCert = requireClientCert
	s.mu.Unlock()
	return nil
}

// SetCredential installs cred directly. Nil turns TLS off for later Accepts.
func (s *Server) SetCredential(cred *cert.Credential, requireClientCert bool) {
	s.mu.Lock()
	s.cred = cred
	s.requireClientCert = requireClientCert
	s.mu.Unlock()
}

// SetClientCAs sets the pool that verifies client certificates.
func (s *Server) SetClientCAs(pool *x509.CertPool) {
	s.mu.Lock()
	s.clientCAs = pool
	s.mu.Unlock()
}

// SetLogger installs a protocol event logger for the listener and every
// session it accepts afterwards.
func (s *Server) SetLogger(l log.Logger) {
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
	s.events.setLogger(l)
}

// SetMaxPacketSize sets the ReadPacket limit for accepted sessions.
func (s *Server) SetMaxPacketSize(n int) {
	s.mu.Lock()
	s.maxPacket = n
	s.mu.Unlock()
}

// SetIOTimeout sets the IO timeout for accepted sessions.
func (s *Server) SetIOTimeout(d time.Duration) {
	s.mu.Lock()
	s.ioTimeout = d
	s.mu.Unlock()
}

// TLSEnabled reports whether credentials are installed.
func (s *Server) TLSEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred != nil
}

// WaitEvent blocks until a connection is pending. Infinite waits without
// bound.
func (s *Server) WaitEvent(timeout time.Duration) error {
	const op = "wait event"
	s.acceptMu.Lock()
	defer s.acceptMu.Unlock()
	t, err := s.listener(op)
	if err != nil {
		return s.record(err)
	}
	return s.record(s.waitPending(op, t, deadlineFor(timeout)))
}

func (s *Server) waitPending(op string, t *Transport, deadline time.Time) error {
	for {
		_, err := t.Poll(EventReadable, remaining(deadline))
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTimeout) {
			return newError(KindOf(err), op, errors.Unwrap(err))
		}
		if !deadline.IsZero() {
			return newError(KindTimeout, op, nil)
		}
	}
}

// Accept takes one pending connection within timeout. With credentials
// installed the server handshake runs before Accept returns; if it fails
// or does not finish in time the connection is discarded and a
// KindHandshake error is returned.
func (s *Server) Accept(timeout time.Duration) (*Session, error) {
	const op = "accept"
	s.acceptMu.Lock()
	defer s.acceptMu.Unlock()

	t, err := s.listener(op)
	if err != nil {
		return nil, s.record(err)
	}
	deadline := deadlineFor(timeout)

	var nt *Transport
	for {
		nt, err = t.Accept()
		if err == nil {
			break
		}
		if !errors.Is(err, ErrWouldBlock) {
			return nil, s.record(err)
		}
		if err := s.waitPending(op, t, deadline); err != nil {
			return nil, s.record(err)
		}
	}

	cfg, settings, err := s.snapshot()
	if err != nil {
		nt.Close()
		return nil, s.record(newError(KindHandshake, op, err))
	}

	sess := newSession(nt, RoleServer, settings.logger, settings.maxPacket, settings.ioTimeout)
	sess.adopt()
	if cfg == nil {
		sess.setState(StateConnected, "")
		return sess, nil
	}

	if !s.track(sess) {
		sess.Close()
		return nil, s.record(newError(KindState, op, ErrClosed))
	}
	sess.startTLS(RoleServer, cfg)
	err = sess.awaitHandshake(deadline)
	if !s.untrack() {
		sess.Close()
		return nil, s.record(newError(KindState, op, ErrClosed))
	}
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			err = newError(KindHandshake, op, fmt.Errorf("not complete before timeout: %v", err))
		}
		sess.Close()
		return nil, s.record(err)
	}
	return sess, nil
}

func (s *Server) track(sess *Session) bool {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	if s.closed {
		return false
	}
	s.handshaking = sess
	return true
}

// untrack reports false if Close took the session in the meantime.
func (s *Server) untrack() bool {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	if s.handshaking == nil {
		return false
	}
	s.handshaking = nil
	return true
}

type acceptSettings struct {
	logger    log.Logger
	maxPacket int
	ioTimeout time.Duration
}

// snapshot reads everything an Accept needs under one read lock.
func (s *Server) snapshot() (*tls.Config, acceptSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings := acceptSettings{logger: s.logger, maxPacket: s.maxPacket, ioTimeout: s.ioTimeout}
	if s.cred == nil {
		return nil, settings, nil
	}
	cfg, err := NewServerTLSConfig(&TLSConfig{
		Credential:        s.cred,
		ClientCAs:         s.clientCAs,
		RequireClientCert: s.requireClientCert,
	})
	return cfg, settings, err
}

func (s *Server) listener(op string) (*Transport, error) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	switch {
	case s.closed:
		return nil, newError(KindState, op, ErrClosed)
	case s.t == nil:
		return nil, newError(KindState, op, ErrNotListening)
	}
	return s.t, nil
}

func (s *Server) State() ConnectionState { return ConnectionState(s.state.Load()) }

// LastError returns the most recent failure.
func (s *Server) LastError() LastError { return s.errs.get() }

// LastErrString returns the most recent failure message, or "".
func (s *Server) LastErrString() string { return s.errs.get().String() }

// Close stops listening. Sessions already accepted stay open. A blocked
// WaitEvent or Accept returns promptly, including one that is midway
// through a TLS handshake.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		s.lmu.Lock()
		t := s.t
		pending := s.handshaking
		s.handshaking = nil
		s.closed = true
		s.lmu.Unlock()
		if t != nil {
			s.closeErr = t.Close()
		}
		if pending != nil {
			pending.Close()
		}
		s.setState(StateClosed)
	})
	return s.closeErr
}

func (s *Server) setState(to ConnectionState) {
	from := ConnectionState(s.state.Swap(int32(to)))
	if from != to {
		s.events.state(log.StateEntityListener, from.String(), to.String(), "")
	}
}

func (s *Server) record(err error) error {
	if err == nil {
		return nil
	}
	s.errs.record(err)
	s.events.failure(layerOf(err), opOf(err), err)
	return err
}
