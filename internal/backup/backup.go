// Package backup uploads encrypted snapshots of the health vault to
// S3-compatible storage. Snapshots are whole-database copies encrypted with a
// passphrase-derived key before anything leaves the machine.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const keyPrefix = "snapshots/"

// snapshotHourUTC is when the daily scheduled snapshot runs.
const snapshotHourUTC = 3

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config holds snapshot manager configuration.
type Config struct {
	Bucket        string
	Region        string
	AccessKey     string
	SecretKey     string
	Endpoint      string
	Passphrase    string
	DBPath        string
	RetentionDays int
}

// State represents the snapshot manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current snapshot manager status.
type Status struct {
	State        State      `json:"state"`
	LastSnapshot *time.Time `json:"last_snapshot,omitempty"`
	Error        string     `json:"error,omitempty"`
	InProgress   bool       `json:"in_progress"`
}

// Manager runs scheduled and on-demand vault snapshots.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	status Status

	db     *sql.DB
	client s3Client
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, db *sql.DB, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		db:     db,
		logger: logger,
		status: Status{State: StateDisabled},
	}

	if cfg.Bucket != "" && cfg.AccessKey != "" && cfg.SecretKey != "" && cfg.Passphrase != "" {
		m.client = newS3Client(cfg)
		m.status.State = StateIdle
	}

	return m
}

func newS3Client(cfg Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether the manager has a usable snapshot target.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

// Start begins the daily snapshot loop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.client == nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				if now.Hour() != snapshotHourUTC || now.Minute() != 0 {
					continue
				}
				if _, err := m.RunNow(ctx); err != nil {
					m.logger.Error("scheduled snapshot failed", "error", err)
				}
				if err := m.Cleanup(ctx); err != nil {
					m.logger.Error("snapshot cleanup failed", "error", err)
				}
			}
		}
	}()
}

// Stop gracefully stops the snapshot loop.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current snapshot status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// RunNow takes a snapshot immediately and returns its object key.
func (m *Manager) RunNow(ctx context.Context) (string, error) {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.Bucket
	m.mu.RUnlock()

	if client == nil {
		return "", fmt.Errorf("snapshots not configured")
	}

	m.setStatus(Status{State: StateRunning, InProgress: true})

	timestamp := time.Now().UTC().Format("2006-01-02T150405Z")
	key := fmt.Sprintf("%svault-%s.db.enc", keyPrefix, timestamp)

	tmpDir := os.TempDir()
	dbCopy := filepath.Join(tmpDir, fmt.Sprintf("coheara-snapshot-%s.db", timestamp))
	encFile := dbCopy + ".enc"
	defer os.Remove(dbCopy)
	defer os.Remove(encFile)

	// VACUUM INTO gives a consistent copy without pausing writers.
	if _, err := m.db.ExecContext(ctx, "VACUUM INTO ?", dbCopy); err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return "", fmt.Errorf("copy database: %w", err)
	}

	if err := EncryptFile(dbCopy, encFile, m.cfg.Passphrase); err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return "", fmt.Errorf("encrypt: %w", err)
	}

	encData, err := os.Open(encFile)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return "", fmt.Errorf("open encrypted file: %w", err)
	}
	defer encData.Close()

	stat, _ := encData.Stat()

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          encData,
		ContentLength: aws.Int64(stat.Size()),
	})
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return "", fmt.Errorf("upload to s3: %w", err)
	}

	now := time.Now().UTC()
	m.setStatus(Status{State: StateIdle, LastSnapshot: &now})
	m.logger.Info("snapshot uploaded", "key", key, "bytes", stat.Size())

	return key, nil
}

// Restore downloads a snapshot, decrypts and validates it, then replaces the
// database file. The caller must restart the hub afterwards.
func (m *Manager) Restore(ctx context.Context, key string) error {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.Bucket
	m.mu.RUnlock()

	if client == nil {
		return fmt.Errorf("snapshots not configured")
	}

	tmpDir := os.TempDir()
	encFile := filepath.Join(tmpDir, "coheara-restore.db.enc")
	decFile := filepath.Join(tmpDir, "coheara-restore.db")
	defer os.Remove(encFile)
	defer os.Remove(decFile)

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	outFile, err := os.Create(encFile)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(outFile, result.Body); err != nil {
		outFile.Close()
		return fmt.Errorf("write downloaded file: %w", err)
	}
	outFile.Close()

	if err := DecryptFile(encFile, decFile, m.cfg.Passphrase); err != nil {
		return fmt.Errorf("decrypt snapshot: %w", err)
	}

	tmpDB, err := sql.Open("sqlite", decFile)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	var integrity string
	if err := tmpDB.QueryRow("PRAGMA integrity_check").Scan(&integrity); err != nil {
		tmpDB.Close()
		return fmt.Errorf("integrity check: %w", err)
	}
	tmpDB.Close()
	if integrity != "ok" {
		return fmt.Errorf("integrity check failed: %s", integrity)
	}

	if err := copyFile(decFile, m.cfg.DBPath); err != nil {
		return fmt.Errorf("replace database: %w", err)
	}

	m.logger.Info("restore complete, restart required", "key", key)
	return nil
}

// List returns the snapshot keys currently in the bucket, newest first.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.Bucket
	m.mu.RUnlock()

	if client == nil {
		return nil, fmt.Errorf("snapshots not configured")
	}

	out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(keyPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		keys = append(keys, aws.ToString(obj.Key))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys, nil
}

// Cleanup deletes snapshots older than the retention period. Snapshot age is
// parsed from the timestamp embedded in the key.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.Bucket
	retention := m.cfg.RetentionDays
	m.mu.RUnlock()

	if client == nil || retention <= 0 {
		return nil
	}

	keys, err := m.List(ctx)
	if err != nil {
		return err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retention)
	for _, key := range keys {
		ts := strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix+"vault-"), ".db.enc")
		taken, err := time.Parse("2006-01-02T150405Z", ts)
		if err != nil || !taken.Before(cutoff) {
			continue
		}
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("failed to delete old snapshot", "key", key, "error", err)
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
