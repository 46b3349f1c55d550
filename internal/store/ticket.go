package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WSTicketTTL bounds how long a minted WebSocket ticket may be redeemed.
const WSTicketTTL = 30 * time.Second

type TicketStore struct {
	db *sql.DB
}

func NewTicketStore(db *sql.DB) *TicketStore {
	return &TicketStore{db: db}
}

// Issue mints a one-time WebSocket ticket for the device and returns its
// cleartext exactly once, with the TTL the handler reports to the client.
func (s *TicketStore) Issue(deviceID string) (string, time.Duration, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", 0, fmt.Errorf("generate ticket: %w", err)
	}
	ticket := hex.EncodeToString(b)
	expires := time.Now().Add(WSTicketTTL).UTC()

	_, err := s.db.Exec(
		`INSERT INTO ws_tickets (id, ticket_hash, device_id, expires_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), HashToken(ticket), deviceID, expires,
	)
	if err != nil {
		return "", 0, fmt.Errorf("insert ticket: %w", err)
	}
	return ticket, WSTicketTTL, nil
}

// Redeem consumes a ticket and returns the device id it was minted for.
// A ticket redeems at most once within its TTL; the second use and any use
// past expiry return ("", nil).
func (s *TicketStore) Redeem(ticket string, now time.Time) (string, error) {
	hash := HashToken(ticket)

	var deviceID string
	err := s.db.QueryRow(
		`UPDATE ws_tickets SET used_at = CURRENT_TIMESTAMP
		 WHERE ticket_hash = ? AND used_at IS NULL AND expires_at > ?
		 RETURNING device_id`,
		hash, now.UTC(),
	).Scan(&deviceID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redeem ticket: %w", err)
	}
	return deviceID, nil
}

// DeleteExpired removes used and expired tickets. Run from the cleanup loop.
func (s *TicketStore) DeleteExpired(now time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM ws_tickets WHERE used_at IS NOT NULL OR expires_at < ?`, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired tickets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired tickets rows affected: %w", err)
	}
	return n, nil
}
