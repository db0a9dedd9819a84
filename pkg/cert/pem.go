package cert

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// PEM and container decoding errors.
var (
	ErrInvalidPEM = errors.New("invalid PEM data")
	ErrInvalidKey = errors.New("invalid private key")
)

// EncodeCertPEM encodes one or more certificates as consecutive PEM blocks.
func EncodeCertPEM(certs ...*x509.Certificate) []byte {
	var out []byte
	for _, c := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	return out
}

// DecodeCertPEM decodes every CERTIFICATE block in data, in order.
func DecodeCertPEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		certs = append(certs, c)
	}
	if len(certs) == 0 {
		return nil, ErrInvalidPEM
	}
	return certs, nil
}

// EncodeKeyPEM encodes a private key as PKCS#8.
func EncodeKeyPEM(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// DecodeKeyPEM decodes a PKCS#8, SEC1 EC or PKCS#1 RSA private key.
func DecodeKeyPEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPEM
	}
	var (
		key any
		err error
	)
	switch block.Type {
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("%w: unexpected block %q", ErrInvalidPEM, block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return asSigner(key)
}

// DecodePKCS12 decodes a .p12/.pfx container holding one certificate and key.
func DecodePKCS12(data []byte, password string) (*Credential, error) {
	key, leaf, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("decode pkcs12: %w", err)
	}
	signer, err := asSigner(key)
	if err != nil {
		return nil, err
	}
	return &Credential{Certificate: leaf, PrivateKey: signer}, nil
}

// ReadCredentialFiles loads a leaf (plus optional chain) and key from PEM files.
func ReadCredentialFiles(certPath, keyPath string) (*Credential, error) {
	certData, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	certs, err := DecodeCertPEM(certData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", certPath, err)
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	key, err := DecodeKeyPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", keyPath, err)
	}
	return &Credential{Certificate: certs[0], PrivateKey: key, Chain: certs[1:]}, nil
}

// WriteCredentialFiles writes cred as a certificate chain file and a key
// file readable only by the owner.
func WriteCredentialFiles(certPath, keyPath string, cred *Credential) error {
	if cred == nil || cred.Certificate == nil || cred.PrivateKey == nil {
		return ErrInvalidCert
	}
	certs := append([]*x509.Certificate{cred.Certificate}, cred.Chain...)
	if err := os.WriteFile(certPath, EncodeCertPEM(certs...), 0o644); err != nil {
		return err
	}
	keyData, err := EncodeKeyPEM(cred.PrivateKey)
	if err != nil {
		return err
	}
	return os.WriteFile(keyPath, keyData, 0o600)
}

func asSigner(key any) (crypto.Signer, error) {
	s, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a signer", ErrInvalidKey, key)
	}
	return s, nil
}
