// Package config manages the companion's stored credentials. Pairing writes
// them once; every later run loads them. Credentials are all-or-nothing: a
// partial file reads as not configured rather than half-working.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotConfigured means the companion has never paired (or its credentials
// file is incomplete) and must run the pairing flow before anything else.
var ErrNotConfigured = errors.New("companion not configured: pair with a hub first")

// Credentials is everything the companion needs to talk to its hub.
type Credentials struct {
	HubURL     string `json:"hub_url"`
	DeviceID   string `json:"device_id"`
	Token      string `json:"token"`
	PrivateKey string `json:"private_key"` // base64 curve25519 scalar
	CACertPEM  string `json:"ca_cert_pem,omitempty"`
	ProfileID  int64  `json:"profile_id,omitempty"`
}

func (c *Credentials) complete() bool {
	return c.HubURL != "" && c.DeviceID != "" && c.Token != ""
}

// DefaultPath returns the per-user credentials file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "coheara", "credentials.json"), nil
}

// Load reads credentials from path. A missing or incomplete file returns
// ErrNotConfigured.
func Load(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if !creds.complete() {
		return nil, ErrNotConfigured
	}
	return &creds, nil
}

// Save writes credentials to path, creating parent directories. The file is
// user-readable only.
func Save(path string, creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}
