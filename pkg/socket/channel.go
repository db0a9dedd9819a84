package socket

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// maxRecordPlaintext is the largest plaintext a single TLS record carries.
const maxRecordPlaintext = 16 << 10

// Role selects which side of the handshake a Channel plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// ChannelState is the TLS channel lifecycle.
type ChannelState int

const (
	ChannelIdle ChannelState = iota
	ChannelHandshaking
	ChannelEstablished
	ChannelFailed
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelIdle:
		return "IDLE"
	case ChannelHandshaking:
		return "HANDSHAKING"
	case ChannelEstablished:
		return "ESTABLISHED"
	case ChannelFailed:
		return "FAILED"
	case ChannelClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Progress is the result of one handshake step.
type Progress int

const (
	InProgress Progress = iota
	Complete
	Failed
)

func (p Progress) String() string {
	switch p {
	case InProgress:
		return "IN_PROGRESS"
	case Complete:
		return "COMPLETE"
	default:
		return "FAILED"
	}
}

// handshaker is the subset of *tls.Conn a Channel drives.
type handshaker interface {
	HandshakeContext(ctx context.Context) error
	ConnectionState() tls.ConnectionState
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

var _ handshaker = (*tls.Conn)(nil)

// Channel is a TLS session state machine:
//
//	Idle → Handshaking → Established → Failed | Closed
//
// crypto/tls has no resumable handshake step, so the handshake runs on its
// own goroutine doing blocking I/O on the underlying conn. Advance only
// observes that goroutine and never blocks; Wait blocks up to a timeout.
// A timed-out Wait leaves the handshake running. Failures are permanent.
type Channel struct {
	role Role
	hs   handshaker

	mu      sync.Mutex
	state   ChannelState
	err     error
	done    chan struct{}
	result  error
	cancel  context.CancelFunc
	started time.Time
	elapsed time.Duration

	// Plaintext decrypted by probe and not yet handed out by Read.
	pending    []byte
	pendingBuf []byte
	eof        bool
}

// NewClientChannel wraps conn for the client side of a handshake.
func NewClientChannel(conn net.Conn, cfg *tls.Config) *Channel {
	return newChannel(RoleClient, tls.Client(conn, cfg))
}

// NewServerChannel wraps conn for the server side of a handshake.
func NewServerChannel(conn net.Conn, cfg *tls.Config) *Channel {
	return newChannel(RoleServer, tls.Server(conn, cfg))
}

func newChannel(role Role, hs handshaker) *Channel {
	return &Channel{role: role, hs: hs}
}

func (c *Channel) Role() Role { return c.role }

func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Elapsed returns how long the handshake took once it has finished.
func (c *Channel) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// Advance starts the handshake on the first call and reports its progress.
// It never blocks.
func (c *Channel) Advance() (Progress, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.advanceLocked()
}

func (c *Channel) advanceLocked() (Progress, error) {
	switch c.state {
	case ChannelIdle:
		c.startLocked()
		return InProgress, nil
	case ChannelHandshaking:
		select {
		case <-c.done:
			return c.finishLocked()
		default:
			return InProgress, nil
		}
	case ChannelEstablished:
		return Complete, nil
	case ChannelFailed:
		return Failed, c.err
	default:
		return Failed, newError(KindState, "handshake", ErrClosed)
	}
}

func (c *Channel) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.started = time.Now()
	c.state = ChannelHandshaking
	go func() {
		err := c.hs.HandshakeContext(ctx)
		c.result = err
		close(done)
	}()
}

func (c *Channel) finishLocked() (Progress, error) {
	c.elapsed = time.Since(c.started)
	if c.result != nil {
		c.state = ChannelFailed
		c.err = newError(KindHandshake, "handshake", c.result)
		return Failed, c.err
	}
	c.state = ChannelEstablished
	return Complete, nil
}

// Wait advances the handshake and blocks until it finishes or timeout
// elapses. A negative timeout waits until the handshake finishes. On
// timeout it returns InProgress with a KindTimeout error.
func (c *Channel) Wait(timeout time.Duration) (Progress, error) {
	c.mu.Lock()
	p, err := c.advanceLocked()
	done := c.done
	c.mu.Unlock()
	if p != InProgress {
		return p, err
	}

	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-done:
		return c.Advance()
	case <-expired:
		return InProgress, newError(KindTimeout, "handshake", nil)
	}
}

// ConnectionState returns the negotiated parameters once established.
func (c *Channel) ConnectionState() tls.ConnectionState {
	if c.State() != ChannelEstablished {
		return tls.ConnectionState{}
	}
	return c.hs.ConnectionState()
}

// CipherSuite returns the negotiated suite name, or "" before establishment.
func (c *Channel) CipherSuite() string {
	if c.State() != ChannelEstablished {
		return ""
	}
	return tls.CipherSuiteName(c.hs.ConnectionState().CipherSuite)
}

// Buffered returns the decrypted bytes waiting to be read.
func (c *Channel) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Read decrypts into p, waiting until deadline for a full record. Partial
// records stay buffered across calls. A zero deadline waits indefinitely.
func (c *Channel) Read(p []byte, deadline time.Time) (int, error) {
	const op = "tls read"
	c.mu.Lock()
	if c.state != ChannelEstablished {
		err := c.stateErrLocked(op)
		c.mu.Unlock()
		return 0, err
	}
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		c.mu.Unlock()
		return n, nil
	}
	if c.eof {
		c.mu.Unlock()
		return 0, newError(KindPeerClosed, op, nil)
	}
	c.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}
	c.hs.SetReadDeadline(deadline)
	n, err := c.hs.Read(p)
	if n > 0 {
		return n, nil
	}
	return 0, c.readFailure(op, err)
}

// probe pulls one record into the pending buffer without waiting past
// deadline. It reports whether Read would now return without waiting.
func (c *Channel) probe(deadline time.Time) bool {
	c.mu.Lock()
	if c.state != ChannelEstablished || len(c.pending) > 0 || c.eof {
		c.mu.Unlock()
		return true
	}
	if c.pendingBuf == nil {
		c.pendingBuf = make([]byte, maxRecordPlaintext)
	}
	buf := c.pendingBuf
	c.mu.Unlock()

	c.hs.SetReadDeadline(deadline)
	n, err := c.hs.Read(buf)
	if n > 0 {
		c.mu.Lock()
		c.pending = buf[:n]
		c.mu.Unlock()
		return true
	}
	return !errors.Is(c.readFailure("tls read", err), ErrTimeout)
}

func (c *Channel) readFailure(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return newError(KindTimeout, op, nil)
	case errors.Is(err, io.EOF):
		c.mu.Lock()
		c.eof = true
		c.mu.Unlock()
		return newError(KindPeerClosed, op, nil)
	default:
		return c.fail(op, err)
	}
}

// Write encrypts and sends all of p before deadline. Any failure,
// including a missed deadline, fails the channel.
func (c *Channel) Write(p []byte, deadline time.Time) (int, error) {
	const op = "tls write"
	c.mu.Lock()
	if c.state != ChannelEstablished {
		err := c.stateErrLocked(op)
		c.mu.Unlock()
		return 0, err
	}
	c.mu.Unlock()

	c.hs.SetWriteDeadline(deadline)
	n, err := c.hs.Write(p)
	if err != nil {
		return n, c.fail(op, err)
	}
	return n, nil
}

func (c *Channel) fail(op string, err error) error {
	e := newError(KindIO, op, err)
	c.mu.Lock()
	if c.state == ChannelEstablished {
		c.state = ChannelFailed
		c.err = e
	}
	c.mu.Unlock()
	return e
}

func (c *Channel) stateErrLocked(op string) error {
	switch c.state {
	case ChannelFailed:
		return c.err
	case ChannelClosed:
		return newError(KindState, op, ErrClosed)
	default:
		return newError(KindState, op, ErrNotConnected)
	}
}

// Close stops a running handshake and sends close_notify when established.
// It does not close the underlying transport.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == ChannelClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = ChannelClosed
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return c.hs.Close()
}
