package cert

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Verification errors.
var (
	ErrCertExpired     = errors.New("certificate has expired")
	ErrCertNotYetValid = errors.New("certificate is not yet valid")
	ErrInvalidChain    = errors.New("invalid certificate chain")
	ErrNoPeerCert      = errors.New("no peer certificate")
)

// Verify checks cred's validity window and, when roots is non-nil, that it
// chains to roots through cred.Chain.
func Verify(cred *Credential, roots *x509.CertPool) error {
	if cred == nil || cred.Certificate == nil {
		return ErrInvalidCert
	}
	return verifyLeaf(cred.Certificate, cred.Chain, roots, time.Now())
}

// VerifyPeer returns a tls.Config.VerifyPeerCertificate callback that
// checks the presented chain against roots. It is used with
// InsecureSkipVerify or RequireAnyClientCert when the trust anchors are not
// known to crypto/tls.
func VerifyPeer(roots *x509.CertPool) func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return ErrNoPeerCert
		}
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			c, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("parse peer certificate: %w", err)
			}
			certs = append(certs, c)
		}
		return verifyLeaf(certs[0], certs[1:], roots, time.Now())
	}
}

func verifyLeaf(leaf *x509.Certificate, chain []*x509.Certificate, roots *x509.CertPool, now time.Time) error {
	if now.Before(leaf.NotBefore) {
		return ErrCertNotYetValid
	}
	if now.After(leaf.NotAfter) {
		return ErrCertExpired
	}
	if roots == nil {
		return nil
	}
	inter := x509.NewCertPool()
	for _, c := range chain {
		inter.AddCert(c)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: inter,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChain, err)
	}
	return nil
}

// Info is a printable summary of a certificate.
type Info struct {
	Subject   string
	Issuer    string
	DNSNames  []string
	NotBefore time.Time
	NotAfter  time.Time
	IsCA      bool
}

// Describe extracts an Info from c.
func Describe(c *x509.Certificate) *Info {
	if c == nil {
		return nil
	}
	return &Info{
		Subject:   c.Subject.CommonName,
		Issuer:    c.Issuer.CommonName,
		DNSNames:  c.DNSNames,
		NotBefore: c.NotBefore,
		NotAfter:  c.NotAfter,
		IsCA:      c.IsCA,
	}
}
