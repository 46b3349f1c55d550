package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ktiyab/coheara/internal/model"
)

type AlertStore struct {
	db *sql.DB
}

func NewAlertStore(db *sql.DB) *AlertStore {
	return &AlertStore{db: db}
}

const alertCols = `id, profile_id, severity, kind, message, acknowledged_at, created_at, updated_at`

func scanAlert(scanner interface{ Scan(...any) error }) (*model.Alert, error) {
	var a model.Alert
	err := scanner.Scan(&a.ID, &a.ProfileID, &a.Severity, &a.Kind, &a.Message,
		&a.AcknowledgedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *AlertStore) Create(profileID int64, severity model.AlertSeverity, kind, message string) (*model.Alert, error) {
	id := uuid.NewString()
	if severity == "" {
		severity = model.AlertSeverityInfo
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	v, err := bumpVersion(tx, model.EntityAlerts)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(
		`INSERT INTO alerts (id, profile_id, severity, kind, message, row_version)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, profileID, severity, kind, message, v,
	)
	if err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}
	if err := clearTombstone(tx, model.EntityAlerts, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func (s *AlertStore) GetByID(id string) (*model.Alert, error) {
	row := s.db.QueryRow(`SELECT `+alertCols+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

func (s *AlertStore) ListByProfile(profileID int64) ([]model.Alert, error) {
	return s.listWhere(s.db, `profile_id = ?`, profileID)
}

func (s *AlertStore) ListChanged(q Querier, profileID, since int64) ([]model.Alert, error) {
	return s.listWhere(q, `profile_id = ? AND row_version > ?`, profileID, since)
}

func (s *AlertStore) listWhere(q Querier, where string, args ...any) ([]model.Alert, error) {
	rows, err := q.Query(`SELECT `+alertCols+` FROM alerts WHERE `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

// Acknowledge marks the alert as seen. Acknowledgement is a mutation like any
// other: it bumps the alerts counter so companions pick the state up.
func (s *AlertStore) Acknowledge(id string) (*model.Alert, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	v, err := bumpVersion(tx, model.EntityAlerts)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(
		`UPDATE alerts SET acknowledged_at = CURRENT_TIMESTAMP, row_version = ?,
		   updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND acknowledged_at IS NULL`,
		v, id,
	)
	if err != nil {
		return nil, fmt.Errorf("acknowledge alert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func (s *AlertStore) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var profileID int64
	err = tx.QueryRow(`DELETE FROM alerts WHERE id = ? RETURNING profile_id`, id).Scan(&profileID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	v, err := bumpVersion(tx, model.EntityAlerts)
	if err != nil {
		return err
	}
	if err := logDeletion(tx, model.EntityAlerts, profileID, id, v); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
