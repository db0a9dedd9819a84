package discovery

import (
	"errors"
	"net"
	"net/netip"
	"strconv"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service hsmlink servers register.
	ServiceType = "_hsmlink._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// ProtocolVersion is advertised in the v TXT key.
	ProtocolVersion = 1
)

// TXT record keys.
const (
	TXTKeyVersion   = "v"
	TXTKeyTLS       = "tls"
	TXTKeySubject   = "subject"
	TXTKeyMaxPacket = "maxpkt"
)

// Timing constants.
const (
	// BrowseTimeout is the default time Find waits for answers.
	BrowseTimeout = 3 * time.Second

	// DefaultTTL is the DNS record TTL used when none is configured.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxTXTRecordSize is the recommended upper bound for all TXT strings.
	MaxTXTRecordSize = 400
)

// Errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrInvalidPort         = errors.New("invalid port")
	ErrNotFound            = errors.New("service not found")
	ErrAlreadyExists       = errors.New("service already exists")
)

// ServiceInfo is what a server advertises.
type ServiceInfo struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// Port is the listening port.
	Port uint16

	// TLS reports whether sessions are TLS.
	TLS bool

	// Subject is the certificate subject of the server credential.
	Subject string

	// MaxPacketSize is the largest accepted payload. Zero omits the key.
	MaxPacketSize int
}

// Validate checks the fields that end up on the wire.
func (i *ServiceInfo) Validate() error {
	if err := ValidateInstanceName(i.Instance); err != nil {
		return err
	}
	if i.Port == 0 {
		return ErrInvalidPort
	}
	return nil
}

// Service is a discovered server.
type Service struct {
	Instance  string
	Host      string
	Port      uint16
	Addresses []string

	Version       int
	TLS           bool
	Subject       string
	MaxPacketSize int
}

// AddrPorts returns the parseable addresses joined with Port, IPv4 first.
func (s *Service) AddrPorts() []netip.AddrPort {
	var v4, v6 []netip.AddrPort
	for _, a := range s.Addresses {
		ip, err := netip.ParseAddr(a)
		if err != nil {
			continue
		}
		ap := netip.AddrPortFrom(ip.Unmap(), s.Port)
		if ip.Unmap().Is4() {
			v4 = append(v4, ap)
		} else {
			v6 = append(v6, ap)
		}
	}
	return append(v4, v6...)
}

// Target returns the host and port a client should dial: the first IPv4
// address if any, otherwise the first address, otherwise the host name.
func (s *Service) Target() (string, int) {
	if aps := s.AddrPorts(); len(aps) > 0 {
		return aps[0].Addr().String(), int(s.Port)
	}
	return s.Host, int(s.Port)
}

func (s *Service) String() string {
	host, port := s.Target()
	return s.Instance + " (" + net.JoinHostPort(host, strconv.Itoa(port)) + ")"
}
