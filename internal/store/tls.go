package store

import (
	"database/sql"
	"fmt"
)

// TLSStore persists the local certificate authority: the CA certificate in
// the clear and its private key as an encrypted blob.
type TLSStore struct {
	db *sql.DB
}

func NewTLSStore(db *sql.DB) *TLSStore {
	return &TLSStore{db: db}
}

// Get returns the stored CA material, or ("", nil, nil) when none exists yet.
func (s *TLSStore) Get() (string, []byte, error) {
	var certPEM string
	var keyEnc []byte
	err := s.db.QueryRow(`SELECT ca_cert_pem, ca_key_enc FROM server_tls WHERE id = 1`).Scan(&certPEM, &keyEnc)
	if err == sql.ErrNoRows {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("get server tls: %w", err)
	}
	return certPEM, keyEnc, nil
}

func (s *TLSStore) Save(certPEM string, keyEnc []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO server_tls (id, ca_cert_pem, ca_key_enc) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET ca_cert_pem = excluded.ca_cert_pem, ca_key_enc = excluded.ca_key_enc`,
		certPEM, keyEnc,
	)
	if err != nil {
		return fmt.Errorf("save server tls: %w", err)
	}
	return nil
}
