package socket

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// DefaultResolveTimeout bounds DNS lookups done by DefaultResolver.
const DefaultResolveTimeout = 5 * time.Second

// Family restricts which address family a Resolver returns.
type Family int

const (
	// FamilyAny accepts either family and prefers IPv4.
	FamilyAny Family = iota
	FamilyIPv4
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "any"
	}
}

func (f Family) accepts(a netip.Addr) bool {
	switch f {
	case FamilyIPv4:
		return a.Is4()
	case FamilyIPv6:
		return a.Is6()
	default:
		return true
	}
}

// Endpoint is a resolved address and port. It also remembers the host
// name it was resolved from, which clients use as the TLS server name.
type Endpoint struct {
	addr netip.AddrPort
	host string
}

// EndpointFrom wraps an already-resolved address.
func EndpointFrom(addr netip.AddrPort) Endpoint {
	return Endpoint{addr: addr, host: addr.Addr().String()}
}

func (e Endpoint) AddrPort() netip.AddrPort { return e.addr }
func (e Endpoint) Addr() netip.Addr         { return e.addr.Addr() }
func (e Endpoint) Port() uint16             { return e.addr.Port() }

// Host returns the name the endpoint was resolved from.
func (e Endpoint) Host() string { return e.host }

// IsValid reports whether the endpoint holds an address.
func (e Endpoint) IsValid() bool { return e.addr.IsValid() }

func (e Endpoint) String() string { return e.addr.String() }

// Resolver turns host/port pairs into Endpoints.
type Resolver struct {
	// Timeout bounds name lookups. Zero uses DefaultResolveTimeout.
	Timeout time.Duration

	Family Family

	// LookupNetIP overrides the system resolver.
	LookupNetIP func(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// DefaultResolver is used by Resolve.
var DefaultResolver = &Resolver{}

// Resolve resolves host and port with DefaultResolver.
func Resolve(host string, port int) (Endpoint, error) {
	return DefaultResolver.Resolve(host, port)
}

// Resolve returns one endpoint for host:port. Literal addresses never hit
// the network. Port must be in 1..65535.
func (r *Resolver) Resolve(host string, port int) (Endpoint, error) {
	const op = "resolve"
	if port < 1 || port > 65535 {
		return Endpoint{}, newError(KindResolution, op, fmt.Errorf("%w: %d", ErrInvalidPort, port))
	}
	addr, err := r.lookup(host)
	if err != nil {
		return Endpoint{}, newError(KindResolution, op, err)
	}
	return Endpoint{addr: netip.AddrPortFrom(addr, uint16(port)), host: host}, nil
}

// lookup resolves host to a single address of the configured family.
func (r *Resolver) lookup(host string) (netip.Addr, error) {
	if host == "" {
		return netip.Addr{}, fmt.Errorf("%w: empty host", ErrNoAddress)
	}
	if a, err := netip.ParseAddr(host); err == nil {
		a = a.Unmap()
		if !r.Family.accepts(a) {
			return netip.Addr{}, fmt.Errorf("%w: %s is not %s", ErrFamilyMismatch, host, r.Family)
		}
		return a, nil
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	lookup := r.LookupNetIP
	if lookup == nil {
		lookup = net.DefaultResolver.LookupNetIP
	}
	network := "ip"
	switch r.Family {
	case FamilyIPv4:
		network = "ip4"
	case FamilyIPv6:
		network = "ip6"
	}
	addrs, err := lookup(ctx, network, host)
	if err != nil {
		return netip.Addr{}, err
	}

	var fallback netip.Addr
	for _, a := range addrs {
		a = a.Unmap()
		if !r.Family.accepts(a) {
			continue
		}
		if a.Is4() {
			return a, nil
		}
		if !fallback.IsValid() {
			fallback = a
		}
	}
	if fallback.IsValid() {
		return fallback, nil
	}
	if len(addrs) > 0 {
		return netip.Addr{}, fmt.Errorf("%w: no %s address for %s", ErrFamilyMismatch, r.Family, host)
	}
	return netip.Addr{}, fmt.Errorf("%w: %s", ErrNoAddress, host)
}

// hostPort formats host and port for log events.
func hostPort(a netip.AddrPort) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}
