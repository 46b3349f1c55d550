package store

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ktiyab/coheara/internal/model"
)

const (
	// SessionTTL is how long an issued token is honored before the device
	// must pair a fresh session.
	SessionTTL = 30 * 24 * time.Hour

	// RotateAfter is the session age past which the auth layer rotates the
	// token on the next authenticated call.
	RotateAfter = 24 * time.Hour

	// RotationGrace is how long the previous token stays valid after a
	// rotation, so requests in flight with the old token still succeed.
	RotationGrace = 2 * time.Minute
)

type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the hex SHA-256 of a bearer token. Only hashes are ever
// persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

const sessionCols = `device_id, token_hash, prev_token_hash, prev_expires_at, created_at, expires_at, last_used_at`

func scanSession(scanner interface{ Scan(...any) error }) (*model.DeviceSession, error) {
	var s model.DeviceSession
	err := scanner.Scan(&s.DeviceID, &s.TokenHash, &s.PrevTokenHash, &s.PrevExpiresAt,
		&s.CreatedAt, &s.ExpiresAt, &s.LastUsedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Issue creates a fresh session for the device, replacing any existing one
// (a device holds at most one active session). The bearer token is returned
// exactly once.
func (s *SessionStore) Issue(deviceID string) (string, *model.DeviceSession, error) {
	token, err := newToken()
	if err != nil {
		return "", nil, err
	}
	expires := time.Now().Add(SessionTTL).UTC()

	_, err = s.db.Exec(
		`INSERT INTO device_sessions (device_id, token_hash, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (device_id) DO UPDATE SET
		   token_hash = excluded.token_hash,
		   prev_token_hash = '',
		   prev_expires_at = NULL,
		   created_at = CURRENT_TIMESTAMP,
		   expires_at = excluded.expires_at,
		   last_used_at = CURRENT_TIMESTAMP`,
		deviceID, HashToken(token), expires,
	)
	if err != nil {
		return "", nil, fmt.Errorf("issue session: %w", err)
	}

	sess, err := s.GetByDeviceID(deviceID)
	if err != nil {
		return "", nil, err
	}
	return token, sess, nil
}

func (s *SessionStore) GetByDeviceID(deviceID string) (*model.DeviceSession, error) {
	row := s.db.QueryRow(`SELECT `+sessionCols+` FROM device_sessions WHERE device_id = ?`, deviceID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// Validate checks a presented bearer token for the device. It accepts the
// current token, or the previous one while its rotation grace window is open.
// Comparison is constant-time over the hashes.
func (s *SessionStore) Validate(deviceID, token string, now time.Time) (*model.DeviceSession, error) {
	sess, err := s.GetByDeviceID(deviceID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	if sess.State(now) == model.SessionExpired {
		return nil, nil
	}

	hash := HashToken(token)
	if subtle.ConstantTimeCompare([]byte(hash), []byte(sess.TokenHash)) == 1 {
		return sess, nil
	}
	if sess.PrevTokenHash != "" && sess.PrevExpiresAt != nil && now.Before(*sess.PrevExpiresAt) {
		if subtle.ConstantTimeCompare([]byte(hash), []byte(sess.PrevTokenHash)) == 1 {
			return sess, nil
		}
	}
	return nil, nil
}

// Rotate issues a replacement token. The current hash moves to the previous
// slot with a bounded grace expiry instead of being dropped, which keeps
// rotation race-safe under concurrent in-flight requests.
func (s *SessionStore) Rotate(deviceID string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	graceUntil := time.Now().Add(RotationGrace).UTC()
	expires := time.Now().Add(SessionTTL).UTC()

	res, err := s.db.Exec(
		`UPDATE device_sessions SET
		   prev_token_hash = token_hash,
		   prev_expires_at = ?,
		   token_hash = ?,
		   created_at = CURRENT_TIMESTAMP,
		   expires_at = ?,
		   last_used_at = CURRENT_TIMESTAMP
		 WHERE device_id = ?`,
		graceUntil, HashToken(token), expires, deviceID,
	)
	if err != nil {
		return "", fmt.Errorf("rotate session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("rotate rows affected: %w", err)
	}
	if n == 0 {
		return "", fmt.Errorf("rotate session: no session for device %s", deviceID)
	}
	return token, nil
}

// Touch stamps last use; rotation policy reads it to decide when to rotate.
func (s *SessionStore) Touch(deviceID string) error {
	_, err := s.db.Exec(
		`UPDATE device_sessions SET last_used_at = CURRENT_TIMESTAMP WHERE device_id = ?`, deviceID,
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *SessionStore) Delete(deviceID string) error {
	_, err := s.db.Exec(`DELETE FROM device_sessions WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions past their expiry. Run from the hub's
// cleanup loop.
func (s *SessionStore) DeleteExpired(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM device_sessions WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired sessions rows affected: %w", err)
	}
	return n, nil
}
