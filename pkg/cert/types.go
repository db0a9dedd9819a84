package cert

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"strings"
	"time"
)

// Validity periods used by the generators.
const (
	// DefaultValidity is the lifetime of self-signed and issued credentials.
	DefaultValidity = 365 * 24 * time.Hour

	// CAValidity is the lifetime of a generated certificate authority.
	CAValidity = 10 * 365 * 24 * time.Hour

	// RenewalWindow is how long before expiry a credential reports NeedsRenewal.
	RenewalWindow = 30 * 24 * time.Hour
)

// Credential is a TLS identity: a leaf certificate, its private key and
// any intermediates presented alongside it. Credentials are read-only once
// built; the socket layer shares them across concurrent handshakes.
type Credential struct {
	// Name is the store entry name (file stem for FileStore).
	Name string

	Certificate *x509.Certificate
	PrivateKey  crypto.Signer

	// Chain holds intermediates, leaf first excluded.
	Chain []*x509.Certificate
}

// TLSCertificate converts the credential for use in tls.Config.
func (c *Credential) TLSCertificate() tls.Certificate {
	if c == nil || c.Certificate == nil || c.PrivateKey == nil {
		return tls.Certificate{}
	}
	raw := make([][]byte, 0, 1+len(c.Chain))
	raw = append(raw, c.Certificate.Raw)
	for _, ic := range c.Chain {
		raw = append(raw, ic.Raw)
	}
	return tls.Certificate{
		Certificate: raw,
		PrivateKey:  c.PrivateKey,
		Leaf:        c.Certificate,
	}
}

// Subject returns the leaf CommonName.
func (c *Credential) Subject() string {
	if c == nil || c.Certificate == nil {
		return ""
	}
	return c.Certificate.Subject.CommonName
}

// ExpiresAt returns the leaf NotAfter.
func (c *Credential) ExpiresAt() time.Time {
	if c == nil || c.Certificate == nil {
		return time.Time{}
	}
	return c.Certificate.NotAfter
}

// IsExpired reports whether the leaf is past NotAfter.
func (c *Credential) IsExpired() bool {
	if c == nil || c.Certificate == nil {
		return true
	}
	return time.Now().After(c.Certificate.NotAfter)
}

// NeedsRenewal reports whether the leaf expires within RenewalWindow.
func (c *Credential) NeedsRenewal() bool {
	if c == nil || c.Certificate == nil {
		return true
	}
	return time.Now().Add(RenewalWindow).After(c.Certificate.NotAfter)
}

// MatchesSubject reports whether name equals the CommonName or any DNS SAN,
// ignoring case.
func (c *Credential) MatchesSubject(name string) bool {
	if c == nil || c.Certificate == nil || name == "" {
		return false
	}
	if strings.EqualFold(c.Certificate.Subject.CommonName, name) {
		return true
	}
	for _, dns := range c.Certificate.DNSNames {
		if strings.EqualFold(dns, name) {
			return true
		}
	}
	return false
}

// Authority is a certificate authority able to issue credentials.
type Authority struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer
}

// Pool returns a pool holding the authority certificate, suitable for
// tls.Config.RootCAs or ClientCAs.
func (a *Authority) Pool() *x509.CertPool {
	if a == nil || a.Certificate == nil {
		return nil
	}
	pool := x509.NewCertPool()
	pool.AddCert(a.Certificate)
	return pool
}
