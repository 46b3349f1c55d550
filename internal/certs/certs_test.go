package certs

import (
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/ktiyab/coheara/internal/database"
	"github.com/ktiyab/coheara/internal/store"
)

func setupTLSStore(t *testing.T) *store.TLSStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewTLSStore(db)
}

func TestLoadOrCreatePersists(t *testing.T) {
	ts := setupTLSStore(t)

	first, err := LoadOrCreate(ts, "tls-secret")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// A second call with the same secret loads the stored CA, not a new one.
	second, err := LoadOrCreate(ts, "tls-secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(first.CertPEM()) != string(second.CertPEM()) {
		t.Error("reload produced a different CA certificate")
	}
}

func TestLoadWrongSecretFails(t *testing.T) {
	ts := setupTLSStore(t)

	if _, err := LoadOrCreate(ts, "tls-secret"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := LoadOrCreate(ts, "other-secret"); err == nil {
		t.Error("CA key decrypted with the wrong secret")
	}
}

func TestIssueLeaf(t *testing.T) {
	ts := setupTLSStore(t)

	ca, err := LoadOrCreate(ts, "tls-secret")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	leaf, err := ca.IssueLeaf([]string{"hub.local", "192.168.1.10"})
	if err != nil {
		t.Fatalf("issue leaf: %v", err)
	}

	cert, err := x509.ParseCertificate(leaf.Certificate[0])
	if err != nil {
		t.Fatalf("parse leaf: %v", err)
	}

	// The leaf must verify against the CA the companions pin.
	block, _ := pem.Decode(ca.CertPEM())
	if block == nil {
		t.Fatal("invalid CA PEM")
	}
	caCert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse ca: %v", err)
	}
	roots := x509.NewCertPool()
	roots.AddCert(caCert)

	if _, err := cert.Verify(x509.VerifyOptions{DNSName: "hub.local", Roots: roots}); err != nil {
		t.Errorf("leaf does not verify against its CA: %v", err)
	}

	found := false
	for _, ip := range cert.IPAddresses {
		if ip.String() == "192.168.1.10" {
			found = true
		}
	}
	if !found {
		t.Error("leaf missing requested IP SAN")
	}
}
