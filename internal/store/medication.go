package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ktiyab/coheara/internal/model"
)

type MedicationStore struct {
	db *sql.DB
}

func NewMedicationStore(db *sql.DB) *MedicationStore {
	return &MedicationStore{db: db}
}

const medicationCols = `id, profile_id, name, dosage, frequency, instructions, prescriber,
	started_at, ended_at, active, created_at, updated_at`

func scanMedication(scanner interface{ Scan(...any) error }) (*model.Medication, error) {
	var m model.Medication
	err := scanner.Scan(&m.ID, &m.ProfileID, &m.Name, &m.Dosage, &m.Frequency,
		&m.Instructions, &m.Prescriber, &m.StartedAt, &m.EndedAt, &m.Active,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MedicationParams carries the writable fields of a medication.
type MedicationParams struct {
	Name         string
	Dosage       string
	Frequency    string
	Instructions string
	Prescriber   string
	StartedAt    *time.Time
	EndedAt      *time.Time
	Active       bool
}

func (s *MedicationStore) Create(profileID int64, p MedicationParams) (*model.Medication, error) {
	id := uuid.NewString()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	v, err := bumpVersion(tx, model.EntityMedications)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(
		`INSERT INTO medications (id, profile_id, name, dosage, frequency, instructions,
		   prescriber, started_at, ended_at, active, row_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, profileID, p.Name, p.Dosage, p.Frequency, p.Instructions,
		p.Prescriber, p.StartedAt, p.EndedAt, p.Active, v,
	)
	if err != nil {
		return nil, fmt.Errorf("insert medication: %w", err)
	}
	if err := clearTombstone(tx, model.EntityMedications, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func (s *MedicationStore) GetByID(id string) (*model.Medication, error) {
	row := s.db.QueryRow(`SELECT `+medicationCols+` FROM medications WHERE id = ?`, id)
	m, err := scanMedication(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get medication: %w", err)
	}
	return m, nil
}

func (s *MedicationStore) ListByProfile(profileID int64) ([]model.Medication, error) {
	return s.listWhere(s.db, `profile_id = ?`, profileID)
}

// ListChanged returns the medications whose row version advanced past the
// given ledger version, through q.
func (s *MedicationStore) ListChanged(q Querier, profileID, since int64) ([]model.Medication, error) {
	return s.listWhere(q, `profile_id = ? AND row_version > ?`, profileID, since)
}

func (s *MedicationStore) listWhere(q Querier, where string, args ...any) ([]model.Medication, error) {
	rows, err := q.Query(`SELECT `+medicationCols+` FROM medications WHERE `+where+` ORDER BY name`, args...)
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}
	defer rows.Close()

	var meds []model.Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		meds = append(meds, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate medications: %w", err)
	}
	return meds, nil
}

func (s *MedicationStore) Update(id string, p MedicationParams) (*model.Medication, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	v, err := bumpVersion(tx, model.EntityMedications)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(
		`UPDATE medications SET name = ?, dosage = ?, frequency = ?, instructions = ?,
		   prescriber = ?, started_at = ?, ended_at = ?, active = ?,
		   row_version = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		p.Name, p.Dosage, p.Frequency, p.Instructions, p.Prescriber,
		p.StartedAt, p.EndedAt, p.Active, v, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update medication: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func (s *MedicationStore) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var profileID int64
	err = tx.QueryRow(`DELETE FROM medications WHERE id = ? RETURNING profile_id`, id).Scan(&profileID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete medication: %w", err)
	}
	v, err := bumpVersion(tx, model.EntityMedications)
	if err != nil {
		return err
	}
	if err := logDeletion(tx, model.EntityMedications, profileID, id, v); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecordDoseChange appends to the dose history and applies the new dosage.
// Dose history is a dependent table: it bumps the medications counter and
// touches the owning row so delta sync picks the medication up.
func (s *MedicationStore) RecordDoseChange(medicationID, newDosage, reason string) (*model.DoseChange, error) {
	med, err := s.GetByID(medicationID)
	if err != nil {
		return nil, err
	}
	if med == nil {
		return nil, fmt.Errorf("medication %s not found", medicationID)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	v, err := bumpVersion(tx, model.EntityMedications)
	if err != nil {
		return nil, err
	}

	dc := &model.DoseChange{
		ID:           uuid.NewString(),
		MedicationID: medicationID,
		OldDosage:    med.Dosage,
		NewDosage:    newDosage,
		Reason:       reason,
		ChangedAt:    time.Now().UTC(),
	}
	_, err = tx.Exec(
		`INSERT INTO dose_changes (id, medication_id, old_dosage, new_dosage, reason, changed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		dc.ID, dc.MedicationID, dc.OldDosage, dc.NewDosage, dc.Reason, dc.ChangedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert dose change: %w", err)
	}
	_, err = tx.Exec(
		`UPDATE medications SET dosage = ?, row_version = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		newDosage, v, medicationID,
	)
	if err != nil {
		return nil, fmt.Errorf("apply dose change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return dc, nil
}

// DoseHistory lists dose changes for a medication, newest first.
func (s *MedicationStore) DoseHistory(medicationID string) ([]model.DoseChange, error) {
	rows, err := s.db.Query(
		`SELECT id, medication_id, old_dosage, new_dosage, reason, changed_at
		 FROM dose_changes WHERE medication_id = ? ORDER BY changed_at DESC`,
		medicationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list dose changes: %w", err)
	}
	defer rows.Close()

	var changes []model.DoseChange
	for rows.Next() {
		var dc model.DoseChange
		if err := rows.Scan(&dc.ID, &dc.MedicationID, &dc.OldDosage, &dc.NewDosage, &dc.Reason, &dc.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan dose change: %w", err)
		}
		changes = append(changes, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dose changes: %w", err)
	}
	return changes, nil
}
