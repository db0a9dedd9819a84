package socket

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// streamConn presents a Transport as a blocking net.Conn with deadlines,
// which is what crypto/tls drives. A missed deadline returns
// os.ErrDeadlineExceeded; crypto/tls treats that as temporary on reads and
// keeps any partial record buffered.
type streamConn struct {
	t *Transport

	mu     sync.Mutex
	rdl    time.Time
	wdl    time.Time
	closed atomic.Bool
}

func newStreamConn(t *Transport) *streamConn {
	return &streamConn{t: t}
}

func (c *streamConn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if c.closed.Load() {
			return 0, net.ErrClosed
		}
		n, err := c.t.Recv(p)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, ErrPeerClosed):
			return 0, io.EOF
		case !errors.Is(err, ErrWouldBlock):
			return 0, err
		}
		if err := c.wait(EventReadable, c.readDeadline()); err != nil {
			return 0, err
		}
	}
}

func (c *streamConn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		if c.closed.Load() {
			return written, net.ErrClosed
		}
		n, err := c.t.Send(p[written:])
		written += n
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrWouldBlock) {
			return written, err
		}
		if err := c.wait(EventWritable, c.writeDeadline()); err != nil {
			return written, err
		}
	}
	return written, nil
}

// wait polls for ev until deadline. A zero deadline waits indefinitely in
// DefaultPollTimeout slices.
func (c *streamConn) wait(ev Events, deadline time.Time) error {
	for {
		timeout := DefaultPollTimeout
		if !deadline.IsZero() {
			timeout = time.Until(deadline)
			if timeout <= 0 {
				return os.ErrDeadlineExceeded
			}
		}
		_, err := c.t.Poll(ev, timeout)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTimeout) {
			return err
		}
	}
}

func (c *streamConn) readDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rdl
}

func (c *streamConn) writeDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wdl
}

// Close only detaches the conn; the owning Session closes the Transport.
func (c *streamConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *streamConn) LocalAddr() net.Addr  { return net.TCPAddrFromAddrPort(c.t.LocalAddr()) }
func (c *streamConn) RemoteAddr() net.Addr { return net.TCPAddrFromAddrPort(c.t.RemoteAddr()) }

func (c *streamConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	c.rdl, c.wdl = t, t
	c.mu.Unlock()
	return nil
}

func (c *streamConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.rdl = t
	c.mu.Unlock()
	return nil
}

func (c *streamConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.wdl = t
	c.mu.Unlock()
	return nil
}

var _ net.Conn = (*streamConn)(nil)
