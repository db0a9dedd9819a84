package socket

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/hsmlink/hsmlink-go/pkg/cert"
)

// TLSConfig holds the inputs for building client or server tls.Configs.
type TLSConfig struct {
	// Credential is required for servers and optional for clients
	// (mutual TLS).
	Credential *cert.Credential

	// RootCAs verifies the server. Nil means the platform root store.
	RootCAs *x509.CertPool

	// ClientCAs verifies client certificates on the server.
	ClientCAs *x509.CertPool

	// ServerName is sent as SNI and checked against the server certificate.
	ServerName string

	// RequireClientCert makes the server reject clients without a certificate.
	RequireClientCert bool

	// InsecureSkipVerify disables server certificate verification.
	// Test use only.
	InsecureSkipVerify bool

	// VerifyPeerCertificate is an optional extra check on the peer chain.
	VerifyPeerCertificate func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error
}

// NewServerTLSConfig builds a server configuration.
//
// With RequireClientCert, clients must present a certificate; it is
// verified against ClientCAs when set, otherwise any certificate is
// accepted and VerifyPeerCertificate (if any) decides.
func NewServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, errors.New("tls config is required")
	}
	if cfg.Credential == nil {
		return nil, ErrNoCredential
	}
	tc := cfg.Credential.TLSCertificate()
	if len(tc.Certificate) == 0 {
		return nil, fmt.Errorf("%w: credential has no certificate or key", ErrNoCredential)
	}

	clientAuth := tls.NoClientCert
	switch {
	case cfg.RequireClientCert && cfg.ClientCAs != nil:
		clientAuth = tls.RequireAndVerifyClientCert
	case cfg.RequireClientCert:
		clientAuth = tls.RequireAnyClientCert
	case cfg.ClientCAs != nil:
		clientAuth = tls.VerifyClientCertIfGiven
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{tc},
		ClientAuth:   clientAuth,
		ClientCAs:    cfg.ClientCAs,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		// Sessions are never resumed.
		SessionTicketsDisabled: true,

		VerifyPeerCertificate: cfg.VerifyPeerCertificate,
	}, nil
}

// NewClientTLSConfig builds a client configuration.
func NewClientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, errors.New("tls config is required")
	}
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    cfg.RootCAs,
		ServerName: cfg.ServerName,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		SessionTicketsDisabled: true,
		VerifyPeerCertificate:  cfg.VerifyPeerCertificate,
		InsecureSkipVerify:     cfg.InsecureSkipVerify,
	}
	if cfg.Credential != nil {
		tc := cfg.Credential.TLSCertificate()
		if len(tc.Certificate) == 0 {
			return nil, fmt.Errorf("%w: credential has no certificate or key", ErrNoCredential)
		}
		tlsConfig.Certificates = []tls.Certificate{tc}
	}
	return tlsConfig, nil
}
