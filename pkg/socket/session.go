package socket

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hsmlink/hsmlink-go/pkg/cert"
	"github.com/hsmlink/hsmlink-go/pkg/log"
)

// DefaultIOTimeout bounds the internal retries of Send and ReadAvailable.
const DefaultIOTimeout = 5 * time.Second

// Infinite makes WaitEvent, PollConnect and Accept wait without bound.
// Other operations treat a negative timeout as the session IO timeout.
const Infinite time.Duration = -1

// drainChunk is the scratch size used to discard oversize packets.
const drainChunk = 512

// ConnectOptions configures ConnectAsyncWith.
type ConnectOptions struct {
	// TLS runs a client handshake after the TCP connect completes.
	TLS bool

	// ServerName overrides the endpoint host for SNI and verification.
	ServerName string

	// RootCAs verifies the server. Nil trusts the platform root store.
	RootCAs *x509.CertPool

	// InsecureSkipVerify disables server verification. Test use only.
	InsecureSkipVerify bool

	// Credential is presented to servers that ask for a client certificate.
	Credential *cert.Credential

	Logger        log.Logger
	MaxPacketSize int
	IOTimeout     time.Duration
}

// Session is a connected byte stream, plain or TLS. Reads and writes are
// serialized separately, so one reader and one writer may run at once.
// Close may be called from any goroutine and unblocks pending calls.
//
// Any hard failure leaves the session broken: later calls other than
// Close fail with a KindState error. Timeouts never break a session.
type Session struct {
	id   string
	role Role
	t    *Transport

	tlsConfig  *tls.Config
	serverName string

	state atomic.Int32

	readMu  sync.Mutex
	writeMu sync.Mutex

	// Bytes already pulled off the wire by a ReadExact that timed out.
	// Guarded by readMu.
	carry []byte
	eof   bool

	mu        sync.Mutex
	ch        *Channel
	broken    error
	maxPacket int
	ioTimeout time.Duration
	local     netip.AddrPort
	remote    netip.AddrPort

	events    emitter
	errs      errorSlot
	closeOnce sync.Once
	closeErr  error
}

// ConnectAsync starts a connect to ep and returns at once with the session
// in StateConnecting. Drive it with PollConnect.
func ConnectAsync(ep Endpoint, useTLS bool) (*Session, error) {
	return ConnectAsyncWith(ep, ConnectOptions{TLS: useTLS})
}

// ConnectAsyncWith is ConnectAsync with explicit options.
func ConnectAsyncWith(ep Endpoint, opts ConnectOptions) (*Session, error) {
	const op = "connect"
	if !ep.IsValid() {
		return nil, newError(KindConnect, op, ErrNoAddress)
	}

	var cfg *tls.Config
	if opts.TLS {
		name := opts.ServerName
		if name == "" {
			name = ep.Host()
		}
		c, err := NewClientTLSConfig(&TLSConfig{
			Credential:         opts.Credential,
			RootCAs:            opts.RootCAs,
			ServerName:         name,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		})
		if err != nil {
			return nil, newError(KindHandshake, op, err)
		}
		cfg = c
	}

	t, err := Dial(ep)
	if err != nil {
		return nil, err
	}
	s := newSession(t, RoleClient, opts.Logger, opts.MaxPacketSize, opts.IOTimeout)
	s.tlsConfig = cfg
	if cfg != nil {
		s.serverName = cfg.ServerName
	}
	s.mu.Lock()
	s.remote = ep.AddrPort()
	s.mu.Unlock()
	s.events.setAddrs("", ep.String())
	s.setState(StateConnecting, "")
	return s, nil
}

func newSession(t *Transport, role Role, logger log.Logger, maxPacket int, ioTimeout time.Duration) *Session {
	s := &Session{
		id:   uuid.NewString(),
		role: role,
		t:    t,
	}
	s.events.connID = s.id
	s.events.logger = logger
	if role == RoleServer {
		s.events.role = log.RoleServer
	}
	s.SetMaxPacketSize(maxPacket)
	s.SetIOTimeout(ioTimeout)
	return s
}

// adopt records the addresses of a connected transport.
func (s *Session) adopt() {
	local, remote := s.t.LocalAddr(), s.t.RemoteAddr()
	s.mu.Lock()
	s.local = local
	if remote.IsValid() {
		s.remote = remote
	}
	remote = s.remote
	s.mu.Unlock()
	s.t.SetNoDelay(true)
	s.events.setAddrs(hostPort(local), hostPort(remote))
}

// PollConnect drives the connect and, for TLS sessions, the client
// handshake. It returns nil once the session is StateConnected and a
// KindTimeout error if timeout elapses first; the caller may call again.
func (s *Session) PollConnect(timeout time.Duration) error {
	const op = "poll connect"
	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.brokenErr(op); err != nil {
		return s.record(err)
	}
	deadline := deadlineFor(timeout)

	switch s.State() {
	case StateConnected:
		return nil
	case StateConnecting:
		if err := s.completeConnect(op, deadline); err != nil {
			return s.record(err)
		}
		if s.tlsConfig == nil {
			s.setState(StateConnected, "")
			return nil
		}
		s.startTLS(RoleClient, s.tlsConfig)
		fallthrough
	case StateHandshakingTLS:
		return s.record(s.awaitHandshake(deadline))
	case StateClosing, StateClosed:
		return s.record(newError(KindState, op, ErrClosed))
	default:
		return s.record(newError(KindState, op, ErrNotConnected))
	}
}

func (s *Session) completeConnect(op string, deadline time.Time) error {
	for {
		_, err := s.t.Poll(EventWritable, remaining(deadline))
		if err != nil {
			if !errors.Is(err, ErrTimeout) {
				return s.fail(op, err)
			}
			if !deadline.IsZero() {
				return newError(KindTimeout, op, nil)
			}
			continue
		}
		err = s.t.ConnectResult()
		if errors.Is(err, ErrWouldBlock) {
			if expired(deadline) {
				return newError(KindTimeout, op, nil)
			}
			continue
		}
		if err != nil {
			s.markBroken(err)
			return err
		}
		s.adopt()
		return nil
	}
}

// startTLS creates the channel lazily and kicks off the handshake.
func (s *Session) startTLS(role Role, cfg *tls.Config) {
	conn := newStreamConn(s.t)
	var ch *Channel
	if role == RoleClient {
		ch = NewClientChannel(conn, cfg)
	} else {
		ch = NewServerChannel(conn, cfg)
	}
	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()
	s.setState(StateHandshakingTLS, "")
	ch.Advance()
	s.events.handshake(log.HandshakeStarted, nil, s.serverName, nil)
}

func (s *Session) awaitHandshake(deadline time.Time) error {
	ch := s.channel()
	timeout := Infinite
	if !deadline.IsZero() {
		timeout = max(0, time.Until(deadline))
	}
	p, err := ch.Wait(timeout)
	switch p {
	case Complete:
		s.setState(StateConnected, "")
		s.events.handshake(log.HandshakeCompleted, ch, s.serverName, nil)
		return nil
	case InProgress:
		return err
	default:
		s.markBroken(err)
		s.events.handshake(log.HandshakeFailed, ch, s.serverName, err)
		return err
	}
}

// WaitEvent blocks until data can be read, the peer has closed, or the
// socket has failed. Infinite waits without bound.
func (s *Session) WaitEvent(timeout time.Duration) error {
	const op = "wait event"
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if err := s.usable(op); err != nil {
		return s.record(err)
	}
	if len(s.carry) > 0 || s.eof {
		return nil
	}
	ch := s.channel()
	if ch != nil && ch.Buffered() > 0 {
		return nil
	}

	deadline := deadlineFor(timeout)
	for {
		_, err := s.t.Poll(EventReadable, remaining(deadline))
		if err != nil {
			if !errors.Is(err, ErrTimeout) {
				return s.record(s.fail(op, err))
			}
			if !deadline.IsZero() {
				return s.record(newError(KindTimeout, op, nil))
			}
			continue
		}
		// A TLS record may arrive in pieces; only a full record counts.
		if ch == nil || ch.probe(time.Now()) {
			return nil
		}
		if expired(deadline) {
			return s.record(newError(KindTimeout, op, nil))
		}
	}
}

// Send transmits all of p, retrying until the IO timeout. A timeout with
// nothing written is reported as KindTimeout; any other failure breaks
// the session, since the peer may have seen part of p.
func (s *Session) Send(p []byte) error {
	const op = "send"
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.record(s.sendLocked(op, p))
}

func (s *Session) sendLocked(op string, p []byte) error {
	if err := s.usable(op); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	deadline := time.Now().Add(s.IOTimeout())

	if ch := s.channel(); ch != nil {
		if _, err := ch.Write(p, deadline); err != nil {
			return s.fail(op, err)
		}
		s.events.data(log.LayerTransport, log.DirectionOut, p)
		return nil
	}

	sent := 0
	for sent < len(p) {
		n, err := s.t.Send(p[sent:])
		sent += n
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrWouldBlock) {
			return s.fail(op, err)
		}
		if _, err := s.t.Poll(EventWritable, remaining(deadline)); err != nil {
			if !errors.Is(err, ErrTimeout) {
				return s.fail(op, err)
			}
			if sent == 0 {
				return newError(KindTimeout, op, nil)
			}
			return s.fail(op, fmt.Errorf("partial send: %d of %d bytes", sent, len(p)))
		}
	}
	s.events.data(log.LayerTransport, log.DirectionOut, p)
	return nil
}

// SendPacket sends payload with its 2-byte length prefix in one Send.
func (s *Session) SendPacket(payload []byte) error {
	const op = "send packet"
	pkt, err := EncodePacket(payload)
	if err != nil {
		return s.record(err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.sendLocked(op, pkt); err != nil {
		return s.record(err)
	}
	s.events.data(log.LayerFraming, log.DirectionOut, pkt)
	return nil
}

// ReadAvailable performs one best-effort read of up to len(buf) bytes,
// waiting at most the IO timeout for something to arrive. An orderly close
// by the peer is reported as KindPeerClosed.
func (s *Session) ReadAvailable(buf []byte) (int, error) {
	const op = "read available"
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if err := s.usable(op); err != nil {
		return 0, s.record(err)
	}
	if len(buf) == 0 {
		return 0, nil
	}
	if len(s.carry) > 0 {
		n := copy(buf, s.carry)
		s.consumeCarry(n)
		return n, nil
	}
	n, err := s.readSome(buf, time.Now().Add(s.IOTimeout()))
	if err != nil {
		return 0, s.record(s.readErr(op, err))
	}
	return n, nil
}

// ReadExact fills buf completely or fails. On timeout the caller sees no
// bytes; the partial data is kept so the next read resumes in place.
func (s *Session) ReadExact(buf []byte, timeout time.Duration) error {
	const op = "read exact"
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if err := s.usable(op); err != nil {
		return s.record(err)
	}
	return s.record(s.readExactLocked(op, buf, s.readDeadline(timeout)))
}

// ReadPacket reads one length-prefixed packet into buf and returns the
// payload length. A packet larger than min(len(buf), MaxPacketSize) is
// drained from the stream and reported as ErrPacketTooLarge; the next
// packet reads normally. If draining fails the session is broken.
func (s *Session) ReadPacket(buf []byte, timeout time.Duration) (int, error) {
	const op = "read packet"
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if err := s.usable(op); err != nil {
		return 0, s.record(err)
	}
	deadline := s.readDeadline(timeout)

	var hdr [PacketHeaderSize]byte
	if err := s.readExactLocked(op, hdr[:], deadline); err != nil {
		return 0, s.record(err)
	}
	n := int(binary.BigEndian.Uint16(hdr[:]))
	limit := min(len(buf), s.MaxPacketSize())

	if n > limit {
		if err := s.drain(op, n, deadline); err != nil {
			e := newError(KindFraming, op, fmt.Errorf("drain oversize packet: %w", err))
			s.markBroken(e)
			return 0, s.record(e)
		}
		return 0, s.record(newError(KindFraming, op, fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, n, limit)))
	}

	if err := s.readExactLocked(op, buf[:n], deadline); err != nil {
		if errors.Is(err, ErrTimeout) {
			s.carry = append(hdr[:], s.carry...)
		}
		return 0, s.record(err)
	}
	if s.events.enabled() {
		pkt, _ := EncodePacket(buf[:n])
		s.events.data(log.LayerFraming, log.DirectionIn, pkt)
	}
	return n, nil
}

func (s *Session) readExactLocked(op string, buf []byte, deadline time.Time) error {
	n := copy(buf, s.carry)
	s.consumeCarry(n)
	for n < len(buf) {
		m, err := s.readSome(buf[n:], deadline)
		n += m
		if err != nil {
			if errors.Is(err, ErrTimeout) && n > 0 {
				s.carry = append([]byte(nil), buf[:n]...)
			}
			return s.readErr(op, err)
		}
	}
	return nil
}

func (s *Session) drain(op string, n int, deadline time.Time) error {
	var scratch [drainChunk]byte
	for n > 0 {
		k := min(n, len(scratch))
		if err := s.readExactLocked(op, scratch[:k], deadline); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

// readSome returns at least one byte or an error, waiting until deadline.
func (s *Session) readSome(p []byte, deadline time.Time) (int, error) {
	if s.eof {
		return 0, newError(KindPeerClosed, "recv", nil)
	}
	if ch := s.channel(); ch != nil {
		n, err := ch.Read(p, deadline)
		if errors.Is(err, ErrPeerClosed) {
			s.eof = true
		}
		if n > 0 {
			s.events.data(log.LayerTransport, log.DirectionIn, p[:n])
		}
		return n, err
	}
	for {
		n, err := s.t.Recv(p)
		if err == nil {
			s.events.data(log.LayerTransport, log.DirectionIn, p[:n])
			return n, nil
		}
		if errors.Is(err, ErrPeerClosed) {
			s.eof = true
			return 0, err
		}
		if !errors.Is(err, ErrWouldBlock) {
			return 0, err
		}
		if _, err := s.t.Poll(EventReadable, remaining(deadline)); err != nil {
			return 0, err
		}
	}
}

// readErr classifies a read failure: timeouts and peer close leave the
// session usable, anything else breaks it.
func (s *Session) readErr(op string, err error) error {
	switch KindOf(err) {
	case KindTimeout:
		return newError(KindTimeout, op, nil)
	case KindPeerClosed:
		return newError(KindPeerClosed, op, nil)
	default:
		return s.fail(op, err)
	}
}

func (s *Session) consumeCarry(n int) {
	s.carry = s.carry[n:]
	if len(s.carry) == 0 {
		s.carry = nil
	}
}

// Read implements io.Reader on top of ReadAvailable. Peer close is io.EOF.
func (s *Session) Read(p []byte) (int, error) {
	n, err := s.ReadAvailable(p)
	if errors.Is(err, ErrPeerClosed) {
		return n, io.EOF
	}
	return n, err
}

// Write implements io.Writer on top of Send.
func (s *Session) Write(p []byte) (int, error) {
	if err := s.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// CipherSuite returns the negotiated TLS suite, or "" for plain sessions
// and before the handshake completes.
func (s *Session) CipherSuite() string {
	ch := s.channel()
	if ch == nil {
		return ""
	}
	return ch.CipherSuite()
}

// TLSState returns the negotiated TLS parameters and whether TLS is active.
func (s *Session) TLSState() (tls.ConnectionState, bool) {
	ch := s.channel()
	if ch == nil || ch.State() != ChannelEstablished {
		return tls.ConnectionState{}, false
	}
	return ch.ConnectionState(), true
}

// PeerCertificates returns the certificates presented by the peer.
func (s *Session) PeerCertificates() []*x509.Certificate {
	st, ok := s.TLSState()
	if !ok {
		return nil
	}
	return st.PeerCertificates
}

// IsTLS reports whether the session runs over a TLS channel.
func (s *Session) IsTLS() bool { return s.channel() != nil || s.tlsConfig != nil }

func (s *Session) ID() string  { return s.id }
func (s *Session) Role() Role  { return s.role }
func (s *Session) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

func (s *Session) LocalAddr() netip.AddrPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *Session) RemoteAddr() netip.AddrPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// MaxPacketSize returns the protocol limit applied by ReadPacket.
func (s *Session) MaxPacketSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPacket
}

// SetMaxPacketSize sets the ReadPacket limit. Values outside
// 1..MaxPacketSize select MaxPacketSize.
func (s *Session) SetMaxPacketSize(n int) {
	if n <= 0 || n > MaxPacketSize {
		n = MaxPacketSize
	}
	s.mu.Lock()
	s.maxPacket = n
	s.mu.Unlock()
}

func (s *Session) IOTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ioTimeout
}

// SetIOTimeout bounds Send and ReadAvailable. Non-positive values select
// DefaultIOTimeout.
func (s *Session) SetIOTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultIOTimeout
	}
	s.mu.Lock()
	s.ioTimeout = d
	s.mu.Unlock()
}

// SetLogger installs a protocol event logger. Nil disables capture.
func (s *Session) SetLogger(l log.Logger) { s.events.setLogger(l) }

// LastError returns the most recent failure.
func (s *Session) LastError() LastError { return s.errs.get() }

// LastErrString returns the most recent failure message, or "".
func (s *Session) LastErrString() string { return s.errs.get().String() }

// Close shuts the session down. It is idempotent and safe to call from
// any goroutine; blocked calls on the session return promptly.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.setState(StateClosing, "")
		if ch := s.channel(); ch != nil {
			ch.Close()
		}
		s.closeErr = s.t.Close()
		s.setState(StateClosed, "")
	})
	return s.closeErr
}

func (s *Session) channel() *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

func (s *Session) setState(to ConnectionState, reason string) {
	from := ConnectionState(s.state.Swap(int32(to)))
	if from != to {
		s.events.state(log.StateEntityConnection, from.String(), to.String(), reason)
	}
}

func (s *Session) markBroken(err error) {
	s.mu.Lock()
	if s.broken == nil {
		s.broken = err
	}
	s.mu.Unlock()
}

// fail wraps a hard failure under op and breaks the session.
func (s *Session) fail(op string, err error) error {
	kind := KindOf(err)
	if kind == KindTimeout || kind == KindWouldBlock || kind == KindNone {
		kind = KindIO
	}
	var se *Error
	cause := err
	if errors.As(err, &se) && se.Err != nil {
		cause = se.Err
	}
	e := newError(kind, op, cause)
	s.markBroken(e)
	return e
}

func (s *Session) brokenErr(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken != nil {
		return newError(KindState, op, fmt.Errorf("%w: %v", ErrBroken, s.broken))
	}
	return nil
}

// usable checks that the session is connected and not broken.
func (s *Session) usable(op string) error {
	if err := s.brokenErr(op); err != nil {
		return err
	}
	switch s.State() {
	case StateConnected:
		return nil
	case StateClosing, StateClosed:
		return newError(KindState, op, ErrClosed)
	default:
		return newError(KindState, op, ErrNotConnected)
	}
}

// record stores err as the last error and emits it.
func (s *Session) record(err error) error {
	if err == nil {
		return nil
	}
	s.errs.record(err)
	s.events.failure(layerOf(err), opOf(err), err)
	return err
}

func (s *Session) readDeadline(timeout time.Duration) time.Time {
	if timeout < 0 {
		timeout = s.IOTimeout()
	}
	return time.Now().Add(timeout)
}

// deadlineFor converts a timeout to a deadline; negative means none.
func deadlineFor(timeout time.Duration) time.Time {
	if timeout < 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// remaining returns the poll budget left before deadline. Without a
// deadline it returns one DefaultPollTimeout slice.
func remaining(deadline time.Time) time.Duration {
	if deadline.IsZero() {
		return DefaultPollTimeout
	}
	return max(0, time.Until(deadline))
}

func expired(deadline time.Time) bool {
	return !deadline.IsZero() && !time.Now().Before(deadline)
}

func layerOf(err error) log.Layer {
	switch KindOf(err) {
	case KindHandshake:
		return log.LayerTLS
	case KindFraming:
		return log.LayerFraming
	default:
		return log.LayerTransport
	}
}

func opOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Op
	}
	return ""
}
