// Package config loads hub configuration from the environment. Every knob has
// a working default so a bare `coheara` starts a usable hub.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v9"
)

type Config struct {
	Port   string `env:"COHEARA_PORT" envDefault:"8443"`
	DBPath string `env:"COHEARA_DB_PATH" envDefault:"coheara.db"`

	// TLSSecret protects the CA private key at rest. Empty disables TLS and
	// the hub serves plain HTTP, which is only sensible behind a dev proxy.
	TLSSecret string   `env:"COHEARA_TLS_SECRET"`
	TLSHosts  []string `env:"COHEARA_TLS_HOSTS" envSeparator:"," envDefault:"localhost,127.0.0.1"`

	LogLevel string `env:"COHEARA_LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"COHEARA_LOG_FILE"`

	// Days of deletion-log history kept before the prune watermark advances.
	TombstoneRetentionDays int `env:"COHEARA_TOMBSTONE_RETENTION_DAYS" envDefault:"90"`

	Backup BackupConfig `envPrefix:"COHEARA_BACKUP_"`
}

// BackupConfig holds the optional S3 snapshot target. Bucket, keys and the
// passphrase must all be set for backups to be enabled.
type BackupConfig struct {
	Bucket     string `env:"BUCKET"`
	Region     string `env:"REGION" envDefault:"us-east-1"`
	AccessKey  string `env:"ACCESS_KEY"`
	SecretKey  string `env:"SECRET_KEY"`
	Endpoint   string `env:"ENDPOINT"`
	Passphrase string `env:"PASSPHRASE"`
}

func (b BackupConfig) Enabled() bool {
	return b.Bucket != "" && b.AccessKey != "" && b.SecretKey != "" && b.Passphrase != ""
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
