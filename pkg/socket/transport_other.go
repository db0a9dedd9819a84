//go:build !unix

package socket

import (
	"net/netip"
	"time"
)

// Transport is unavailable on this platform; every constructor fails
// with ErrUnsupported.
type Transport struct{}

func Dial(Endpoint) (*Transport, error) {
	return nil, newError(KindConnect, "connect", ErrUnsupported)
}

func Listen(Endpoint) (*Transport, error) {
	return nil, newError(KindIO, "listen", ErrUnsupported)
}

func (t *Transport) Accept() (*Transport, error) {
	return nil, newError(KindIO, "accept", ErrUnsupported)
}

func (t *Transport) ConnectResult() error { return newError(KindConnect, "connect", ErrUnsupported) }

func (t *Transport) Send([]byte) (int, error) { return 0, newError(KindIO, "send", ErrUnsupported) }

func (t *Transport) Recv([]byte) (int, error) { return 0, newError(KindIO, "recv", ErrUnsupported) }

func (t *Transport) Poll(Events, time.Duration) (Events, error) {
	return 0, newError(KindIO, "poll", ErrUnsupported)
}

func (t *Transport) SetNoDelay(bool) error       { return newError(KindIO, "setsockopt", ErrUnsupported) }
func (t *Transport) LocalAddr() netip.AddrPort  { return netip.AddrPort{} }
func (t *Transport) RemoteAddr() netip.AddrPort { return netip.AddrPort{} }
func (t *Transport) Closed() bool               { return true }
func (t *Transport) Close() error               { return nil }
