package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ktiyab/coheara/internal/model"
)

// PairingTTL bounds how long a displayed QR/PIN stays redeemable.
const PairingTTL = 5 * time.Minute

type PairingStore struct {
	db *sql.DB
}

func NewPairingStore(db *sql.DB) *PairingStore {
	return &PairingStore{db: db}
}

const pairingCols = `id, pin_hash, state, device_name, device_model, public_key, enc_token, created_at, expires_at`

func scanPairing(scanner interface{ Scan(...any) error }) (*model.PairingSession, error) {
	var p model.PairingSession
	err := scanner.Scan(&p.ID, &p.PINHash, &p.State, &p.DeviceName, &p.DeviceModel,
		&p.PublicKey, &p.EncToken, &p.CreatedAt, &p.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create opens a pairing session holding the PIN hash.
func (s *PairingStore) Create(pinHash string) (*model.PairingSession, error) {
	id := uuid.NewString()
	expires := time.Now().Add(PairingTTL).UTC()

	_, err := s.db.Exec(
		`INSERT INTO pairing_sessions (id, pin_hash, expires_at) VALUES (?, ?, ?)`,
		id, pinHash, expires,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pairing session: %w", err)
	}
	return s.GetByID(id)
}

func (s *PairingStore) GetByID(id string) (*model.PairingSession, error) {
	row := s.db.QueryRow(`SELECT `+pairingCols+` FROM pairing_sessions WHERE id = ?`, id)
	p, err := scanPairing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pairing session: %w", err)
	}
	return p, nil
}

// SubmitKey parks the phone's public key on the session and moves it to
// phone_confirmed. Only a pending, unexpired session accepts a key.
func (s *PairingStore) SubmitKey(id, deviceName, deviceModel, publicKey string, now time.Time) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE pairing_sessions SET
		   state = ?, device_name = ?, device_model = ?, public_key = ?
		 WHERE id = ? AND state = ? AND expires_at > ?`,
		model.PairingPhoneConfirmed, deviceName, deviceModel, publicKey,
		id, model.PairingPending, now.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("submit pairing key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("submit key rows affected: %w", err)
	}
	return n == 1, nil
}

// Complete moves a phone-confirmed session to complete and parks the sealed
// session token for the phone to collect. Desktop approval only; a session
// the phone has not confirmed cannot complete.
func (s *PairingStore) Complete(id string, encToken []byte, now time.Time) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE pairing_sessions SET state = ?, enc_token = ?
		 WHERE id = ? AND state = ? AND expires_at > ?`,
		model.PairingComplete, encToken, id, model.PairingPhoneConfirmed, now.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("complete pairing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	return n == 1, nil
}

// TakeToken hands out the sealed session token exactly once. The second
// collection attempt finds nothing.
func (s *PairingStore) TakeToken(id string, now time.Time) ([]byte, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var blob []byte
	err = tx.QueryRow(
		`SELECT enc_token FROM pairing_sessions
		 WHERE id = ? AND state = ? AND enc_token IS NOT NULL AND expires_at > ?`,
		id, model.PairingComplete, now.UTC(),
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("take pairing token: %w", err)
	}

	if _, err := tx.Exec(`UPDATE pairing_sessions SET enc_token = NULL WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("clear pairing token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return blob, nil
}

func (s *PairingStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM pairing_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete pairing session: %w", err)
	}
	return nil
}

// DeleteExpired removes stale pairing sessions. Run from the cleanup loop.
func (s *PairingStore) DeleteExpired(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM pairing_sessions WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired pairing sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired pairing rows affected: %w", err)
	}
	return n, nil
}
