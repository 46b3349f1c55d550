package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ktiyab/coheara/internal/model"
)

type AppointmentStore struct {
	db *sql.DB
}

func NewAppointmentStore(db *sql.DB) *AppointmentStore {
	return &AppointmentStore{db: db}
}

const appointmentCols = `id, profile_id, professional, location, purpose, notes,
	scheduled_at, created_at, updated_at`

func scanAppointment(scanner interface{ Scan(...any) error }) (*model.Appointment, error) {
	var a model.Appointment
	err := scanner.Scan(&a.ID, &a.ProfileID, &a.Professional, &a.Location,
		&a.Purpose, &a.Notes, &a.ScheduledAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

type AppointmentParams struct {
	Professional string
	Location     string
	Purpose      string
	Notes        string
	ScheduledAt  time.Time
}

func (s *AppointmentStore) Create(profileID int64, p AppointmentParams) (*model.Appointment, error) {
	id := uuid.NewString()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	v, err := bumpVersion(tx, model.EntityAppointments)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(
		`INSERT INTO appointments (id, profile_id, professional, location, purpose, notes,
		   scheduled_at, row_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, profileID, p.Professional, p.Location, p.Purpose, p.Notes, p.ScheduledAt, v,
	)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	if err := clearTombstone(tx, model.EntityAppointments, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func (s *AppointmentStore) GetByID(id string) (*model.Appointment, error) {
	row := s.db.QueryRow(`SELECT `+appointmentCols+` FROM appointments WHERE id = ?`, id)
	a, err := scanAppointment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (s *AppointmentStore) ListByProfile(profileID int64) ([]model.Appointment, error) {
	return s.listWhere(s.db, `profile_id = ?`, profileID)
}

func (s *AppointmentStore) ListChanged(q Querier, profileID, since int64) ([]model.Appointment, error) {
	return s.listWhere(q, `profile_id = ? AND row_version > ?`, profileID, since)
}

func (s *AppointmentStore) listWhere(q Querier, where string, args ...any) ([]model.Appointment, error) {
	rows, err := q.Query(`SELECT `+appointmentCols+` FROM appointments WHERE `+where+` ORDER BY scheduled_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		appts = append(appts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointments: %w", err)
	}
	return appts, nil
}

func (s *AppointmentStore) Update(id string, p AppointmentParams) (*model.Appointment, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	v, err := bumpVersion(tx, model.EntityAppointments)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(
		`UPDATE appointments SET professional = ?, location = ?, purpose = ?, notes = ?,
		   scheduled_at = ?, row_version = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		p.Professional, p.Location, p.Purpose, p.Notes, p.ScheduledAt, v, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func (s *AppointmentStore) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var profileID int64
	err = tx.QueryRow(`DELETE FROM appointments WHERE id = ? RETURNING profile_id`, id).Scan(&profileID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	v, err := bumpVersion(tx, model.EntityAppointments)
	if err != nil {
		return err
	}
	if err := logDeletion(tx, model.EntityAppointments, profileID, id, v); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
