package cert

import (
	"net"
	"testing"
	"time"
)

func TestGenerateSelfSigned(t *testing.T) {
	cred, err := GenerateSelfSigned("localhost", time.Hour)
	if err != nil {
		t.Fatalf("GenerateSelfSigned: %v", err)
	}
	if cred.Subject() != "localhost" {
		t.Errorf("Subject = %q", cred.Subject())
	}
	if cred.Name != "localhost" {
		t.Errorf("Name = %q", cred.Name)
	}
	if !cred.MatchesSubject("LOCALHOST") {
		t.Error("subject match should ignore case")
	}
	if err := cred.Certificate.VerifyHostname("127.0.0.1"); err != nil {
		t.Errorf("localhost credential should cover 127.0.0.1: %v", err)
	}
	if cred.IsExpired() {
		t.Error("fresh credential reported expired")
	}
	if !cred.NeedsRenewal() {
		t.Error("one-hour credential should be inside the renewal window")
	}
}

func TestGenerateSelfSignedIPSubject(t *testing.T) {
	cred, err := GenerateSelfSigned("10.0.0.7", 0)
	if err != nil {
		t.Fatalf("GenerateSelfSigned: %v", err)
	}
	if len(cred.Certificate.IPAddresses) != 1 || !cred.Certificate.IPAddresses[0].Equal(net.ParseIP("10.0.0.7")) {
		t.Errorf("IPAddresses = %v", cred.Certificate.IPAddresses)
	}
	if len(cred.Certificate.DNSNames) != 0 {
		t.Errorf("DNSNames = %v, want none", cred.Certificate.DNSNames)
	}
	if cred.NeedsRenewal() {
		t.Error("default validity should be outside the renewal window")
	}
}

func TestGenerateRejectsEmptySubject(t *testing.T) {
	if _, err := GenerateSelfSigned("", time.Hour); err != ErrEmptySubject {
		t.Errorf("GenerateSelfSigned err = %v", err)
	}
	if _, err := GenerateCA("", time.Hour); err != ErrEmptySubject {
		t.Errorf("GenerateCA err = %v", err)
	}
}

func TestAuthorityIssue(t *testing.T) {
	ca, err := GenerateCA("test-ca", time.Hour)
	if err != nil {
		t.Fatalf("GenerateCA: %v", err)
	}
	if !ca.Certificate.IsCA {
		t.Fatal("CA certificate must be a CA")
	}

	cred, err := ca.Issue("client-1", 24*time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if cred.Certificate.Issuer.CommonName != "test-ca" {
		t.Errorf("Issuer = %q", cred.Certificate.Issuer.CommonName)
	}
	if cred.ExpiresAt().After(ca.Certificate.NotAfter) {
		t.Error("issued credential must not outlive the CA")
	}
	if err := Verify(cred, ca.Pool()); err != nil {
		t.Errorf("Verify: %v", err)
	}

	var nilCA *Authority
	if _, err := nilCA.Issue("x", time.Hour); err != ErrInvalidCert {
		t.Errorf("nil authority err = %v", err)
	}
	if nilCA.Pool() != nil {
		t.Error("nil authority should have nil pool")
	}
}

func TestTLSCertificateIncludesChain(t *testing.T) {
	ca, _ := GenerateCA("ca", time.Hour)
	cred, _ := ca.Issue("server", time.Hour)
	cred.Chain = append(cred.Chain, ca.Certificate)

	tc := cred.TLSCertificate()
	if len(tc.Certificate) != 2 {
		t.Fatalf("chain length = %d, want 2", len(tc.Certificate))
	}
	if tc.Leaf != cred.Certificate {
		t.Error("Leaf not set")
	}

	var empty *Credential
	if got := empty.TLSCertificate(); len(got.Certificate) != 0 {
		t.Error("nil credential should produce an empty certificate")
	}
}

func TestNilCredentialAccessors(t *testing.T) {
	var c *Credential
	if c.Subject() != "" || !c.ExpiresAt().IsZero() || !c.IsExpired() || !c.NeedsRenewal() || c.MatchesSubject("x") {
		t.Error("nil credential accessors should be inert")
	}
}
