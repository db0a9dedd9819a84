//go:build unix

package socket

import (
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Transport owns one non-blocking TCP socket. Send, Recv and Poll never
// block longer than asked. Close may be called from any goroutine; it
// wakes a concurrent Poll and releases the descriptor exactly once.
type Transport struct {
	// mu is held shared by every syscall on fd and exclusively by Close.
	mu     sync.RWMutex
	fd     int
	wakeR  int
	wakeW  int
	closed atomic.Bool
}

// Dial starts a non-blocking connect to ep. The returned transport is
// connecting; wait for EventWritable and then call ConnectResult.
func Dial(ep Endpoint) (*Transport, error) {
	const op = "connect"
	sa, family := sockaddr(ep.AddrPort())
	t, err := openTransport(family)
	if err != nil {
		return nil, newError(KindConnect, op, err)
	}
	for {
		err = unix.Connect(t.fd, sa)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil && err != unix.EINPROGRESS && err != unix.EALREADY {
		t.Close()
		return nil, newError(KindConnect, op, err)
	}
	return t, nil
}

// Listen binds ep with SO_REUSEADDR and starts listening.
func Listen(ep Endpoint) (*Transport, error) {
	const op = "listen"
	sa, family := sockaddr(ep.AddrPort())
	t, err := openTransport(family)
	if err != nil {
		return nil, newError(KindIO, op, err)
	}
	if err := unix.SetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		t.Close()
		return nil, newError(KindIO, op, err)
	}
	if err := unix.Bind(t.fd, sa); err != nil {
		t.Close()
		return nil, newError(KindIO, op, err)
	}
	if err := unix.Listen(t.fd, listenBacklog); err != nil {
		t.Close()
		return nil, newError(KindIO, op, err)
	}
	return t, nil
}

func openTransport(family int) (*Transport, error) {
	if err := process.acquire(); err != nil {
		return nil, err
	}
	syscall.ForkLock.RLock()
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		process.release()
		return nil, err
	}
	t, err := wrapFD(fd)
	if err != nil {
		unix.Close(fd)
		process.release()
		return nil, err
	}
	return t, nil
}

// wrapFD takes ownership of a socket that is already counted in process.
func wrapFD(fd int) (*Transport, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	var p [2]int
	syscall.ForkLock.RLock()
	err := unix.Pipe(p[:])
	if err == nil {
		unix.CloseOnExec(p[0])
		unix.CloseOnExec(p[1])
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, err
	}
	unix.SetNonblock(p[0], true)
	unix.SetNonblock(p[1], true)
	return &Transport{fd: fd, wakeR: p[0], wakeW: p[1]}, nil
}

// Accept takes one pending connection. It returns ErrWouldBlock when the
// queue is empty.
func (t *Transport) Accept() (*Transport, error) {
	const op = "accept"
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed.Load() {
		return nil, newError(KindIO, op, ErrClosed)
	}
	if err := process.acquire(); err != nil {
		return nil, newError(KindState, op, err)
	}
	for {
		syscall.ForkLock.RLock()
		nfd, _, err := unix.Accept(t.fd)
		if err == nil {
			unix.CloseOnExec(nfd)
		}
		syscall.ForkLock.RUnlock()

		switch {
		case err == nil:
			nt, werr := wrapFD(nfd)
			if werr != nil {
				unix.Close(nfd)
				process.release()
				return nil, newError(KindIO, op, werr)
			}
			return nt, nil
		case err == unix.EINTR || err == unix.ECONNABORTED:
			continue
		case isWouldBlock(err):
			process.release()
			return nil, newError(KindWouldBlock, op, nil)
		default:
			process.release()
			return nil, newError(KindIO, op, err)
		}
	}
}

// ConnectResult reports the outcome of a connect started by Dial.
// It returns ErrWouldBlock while the connect is still in flight.
func (t *Transport) ConnectResult() error {
	const op = "connect"
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed.Load() {
		return newError(KindIO, op, ErrClosed)
	}
	soerr, err := unix.GetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return newError(KindConnect, op, err)
	}
	if soerr != 0 {
		return newError(KindConnect, op, unix.Errno(soerr))
	}
	if _, err := unix.Getpeername(t.fd); err != nil {
		if err == unix.ENOTCONN {
			return newError(KindWouldBlock, op, nil)
		}
		return newError(KindConnect, op, err)
	}
	return nil
}

// Send writes as much of p as the socket accepts without blocking.
func (t *Transport) Send(p []byte) (int, error) {
	const op = "send"
	if len(p) == 0 {
		return 0, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed.Load() {
		return 0, newError(KindIO, op, ErrClosed)
	}
	for {
		n, err := unix.Write(t.fd, p)
		switch {
		case err == nil:
			return n, nil
		case err == unix.EINTR:
			continue
		case isWouldBlock(err):
			return 0, newError(KindWouldBlock, op, nil)
		default:
			return 0, newError(KindIO, op, err)
		}
	}
}

// Recv reads whatever is available into p. An orderly shutdown by the
// peer is reported as ErrPeerClosed, never as a zero-length read.
func (t *Transport) Recv(p []byte) (int, error) {
	const op = "recv"
	if len(p) == 0 {
		return 0, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed.Load() {
		return 0, newError(KindIO, op, ErrClosed)
	}
	for {
		n, err := unix.Read(t.fd, p)
		switch {
		case err == nil && n == 0:
			return 0, newError(KindPeerClosed, op, nil)
		case err == nil:
			return n, nil
		case err == unix.EINTR:
			continue
		case isWouldBlock(err):
			return 0, newError(KindWouldBlock, op, nil)
		default:
			return 0, newError(KindIO, op, err)
		}
	}
}

// Poll waits until one of want is ready or timeout elapses. Zero polls
// once; negative uses DefaultPollTimeout. EventError and EventHangup are
// always reported. A concurrent Close makes Poll return ErrClosed.
func (t *Transport) Poll(want Events, timeout time.Duration) (Events, error) {
	const op = "poll"
	if timeout < 0 {
		timeout = DefaultPollTimeout
	}
	deadline := time.Now().Add(timeout)

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed.Load() {
		return 0, newError(KindIO, op, ErrClosed)
	}

	var ev int16
	if want.Has(EventReadable) {
		ev |= unix.POLLIN
	}
	if want.Has(EventWritable) {
		ev |= unix.POLLOUT
	}
	fds := []unix.PollFd{
		{Fd: int32(t.fd), Events: ev},
		{Fd: int32(t.wakeR), Events: unix.POLLIN},
	}
	for {
		fds[0].Revents, fds[1].Revents = 0, 0
		n, err := unix.Poll(fds, pollMillis(time.Until(deadline)))
		if err != nil && err != unix.EINTR {
			return 0, newError(KindIO, op, err)
		}
		if fds[1].Revents != 0 || t.closed.Load() {
			return 0, newError(KindIO, op, ErrClosed)
		}
		if n > 0 {
			if fds[0].Revents&unix.POLLNVAL != 0 {
				return 0, newError(KindIO, op, ErrClosed)
			}
			if got := toEvents(fds[0].Revents); got != 0 {
				return got, nil
			}
		}
		if !time.Now().Before(deadline) {
			return 0, newError(KindTimeout, op, nil)
		}
	}
}

// SetNoDelay toggles TCP_NODELAY.
func (t *Transport) SetNoDelay(on bool) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed.Load() {
		return newError(KindIO, "setsockopt", ErrClosed)
	}
	v := 0
	if on {
		v = 1
	}
	if err := unix.SetsockoptInt(t.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v); err != nil {
		return newError(KindIO, "setsockopt", err)
	}
	return nil
}

// LocalAddr returns the bound address, or the zero value once closed.
func (t *Transport) LocalAddr() netip.AddrPort {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed.Load() {
		return netip.AddrPort{}
	}
	sa, err := unix.Getsockname(t.fd)
	if err != nil {
		return netip.AddrPort{}
	}
	return addrPort(sa)
}

// RemoteAddr returns the peer address, or the zero value if not connected.
func (t *Transport) RemoteAddr() netip.AddrPort {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed.Load() {
		return netip.AddrPort{}
	}
	sa, err := unix.Getpeername(t.fd)
	if err != nil {
		return netip.AddrPort{}
	}
	return addrPort(sa)
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool { return t.closed.Load() }

// Close releases the socket. Later calls are no-ops.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	unix.Write(t.wakeW, []byte{0})

	t.mu.Lock()
	defer t.mu.Unlock()
	err := unix.Close(t.fd)
	unix.Close(t.wakeR)
	unix.Close(t.wakeW)
	process.release()
	if err != nil {
		return newError(KindIO, "close", err)
	}
	return nil
}

func toEvents(revents int16) Events {
	var e Events
	if revents&unix.POLLIN != 0 {
		e |= EventReadable
	}
	if revents&unix.POLLOUT != 0 {
		e |= EventWritable
	}
	if revents&unix.POLLERR != 0 {
		e |= EventError
	}
	if revents&unix.POLLHUP != 0 {
		e |= EventHangup
	}
	return e
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func sockaddr(ap netip.AddrPort) (unix.Sockaddr, int) {
	a := ap.Addr().Unmap()
	if a.Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: a.As4()}, unix.AF_INET
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: a.As16()}, unix.AF_INET6
}

func addrPort(sa unix.Sockaddr) netip.AddrPort {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr).Unmap(), uint16(v.Port))
	}
	return netip.AddrPort{}
}
