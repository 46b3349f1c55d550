// Package certs maintains the hub's local certificate authority. Companions
// trust the CA certificate received at pairing time, so sync traffic stays
// encrypted even on an untrusted local network. The CA key is persisted only
// in encrypted form.
package certs

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/ktiyab/coheara/internal/store"
)

const (
	caValidity   = 10 * 365 * 24 * time.Hour
	leafValidity = 30 * 24 * time.Hour

	saltSize  = 16
	nonceSize = 12
	keySize   = 32
	argonTime = 3
	argonMem  = 64 * 1024
	argonPar  = 4
)

// Authority issues short-lived TLS leaf certificates signed by the hub's CA.
type Authority struct {
	caCert  *x509.Certificate
	caKey   *ecdsa.PrivateKey
	certPEM []byte
}

// LoadOrCreate restores the CA from the store, decrypting its key with the
// secret, or mints a fresh CA on first boot and persists it encrypted.
func LoadOrCreate(ts *store.TLSStore, secret string) (*Authority, error) {
	certPEM, keyEnc, err := ts.Get()
	if err != nil {
		return nil, err
	}
	if certPEM != "" {
		return load(certPEM, keyEnc, secret)
	}

	a, certOut, keyEncOut, err := create(secret)
	if err != nil {
		return nil, err
	}
	if err := ts.Save(string(certOut), keyEncOut); err != nil {
		return nil, err
	}
	return a, nil
}

// CertPEM returns the CA certificate for distribution to pairing devices.
func (a *Authority) CertPEM() []byte {
	return a.certPEM
}

// IssueLeaf mints a short-lived server certificate for the given hosts,
// ready to install on the hub's TLS listener.
func (a *Authority) IssueLeaf(hosts []string) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate leaf key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "coheara-hub"},
		NotBefore:    time.Now().Add(-5 * time.Minute),
		NotAfter:     time.Now().Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.caCert, &key.PublicKey, a.caKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("sign leaf: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("marshal leaf key: %w", err)
	}

	leafPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return tls.X509KeyPair(leafPEM, keyPEM)
}

func create(secret string) (*Authority, []byte, []byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("generate ca key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("generate serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "Coheara Local CA", Organization: []string{"Coheara"}},
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              time.Now().Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("self-sign ca: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse ca: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal ca key: %w", err)
	}
	keyEnc, err := encryptKey(keyDER, secret)
	if err != nil {
		return nil, nil, nil, err
	}

	return &Authority{caCert: cert, caKey: key, certPEM: certPEM}, certPEM, keyEnc, nil
}

func load(certPEM string, keyEnc []byte, secret string) (*Authority, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, fmt.Errorf("decode ca cert pem")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse ca cert: %w", err)
	}

	keyDER, err := decryptKey(keyEnc, secret)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParseECPrivateKey(keyDER)
	if err != nil {
		return nil, fmt.Errorf("parse ca key: %w", err)
	}

	return &Authority{caCert: cert, caKey: key, certPEM: []byte(certPEM)}, nil
}

// encryptKey seals the CA key under an argon2id-derived key.
// Blob format: [16-byte salt][12-byte nonce][AES-256-GCM ciphertext].
func encryptKey(keyDER []byte, secret string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	aead, err := newAEAD(secret, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ct := aead.Seal(nil, nonce, keyDER, nil)
	out := make([]byte, 0, saltSize+nonceSize+len(ct))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ct...)
	return out, nil
}

func decryptKey(blob []byte, secret string) ([]byte, error) {
	if len(blob) < saltSize+nonceSize {
		return nil, fmt.Errorf("ca key blob too small")
	}
	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	ct := blob[saltSize+nonceSize:]

	aead, err := newAEAD(secret, salt)
	if err != nil {
		return nil, err
	}
	keyDER, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt ca key: %w", err)
	}
	return keyDER, nil
}

func newAEAD(secret string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(secret), salt, argonTime, argonMem, argonPar, keySize)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return aead, nil
}
