// Package discovery advertises and finds hsmlink servers over mDNS/DNS-SD.
//
// Servers register one instance of the _hsmlink._tcp service per listener.
// The instance name is user-chosen (for example the host name), and the
// SRV record carries the listening port.
//
// TXT records:
//
//	v=1                 protocol version
//	tls=0|1             whether sessions start with a TLS handshake
//	subject=<name>      certificate subject clients should verify (TLS only)
//	maxpkt=<n>          largest packet payload the server accepts (optional)
//
// Browsing aggregates answers per instance name: addresses reported on
// several interfaces are merged into one Service, and an instance whose
// last address is withdrawn is forgotten.
package discovery
