package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ktiyab/coheara/internal/model"
)

type LabStore struct {
	db *sql.DB
}

func NewLabStore(db *sql.DB) *LabStore {
	return &LabStore{db: db}
}

const labCols = `id, profile_id, test_name, value, unit, reference_range, flag, notes,
	taken_at, created_at, updated_at`

func scanLabResult(scanner interface{ Scan(...any) error }) (*model.LabResult, error) {
	var l model.LabResult
	err := scanner.Scan(&l.ID, &l.ProfileID, &l.TestName, &l.Value, &l.Unit,
		&l.ReferenceRange, &l.Flag, &l.Notes, &l.TakenAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

type LabParams struct {
	TestName       string
	Value          string
	Unit           string
	ReferenceRange string
	Flag           model.LabFlag
	Notes          string
	TakenAt        time.Time
}

func (s *LabStore) Create(profileID int64, p LabParams) (*model.LabResult, error) {
	id := uuid.NewString()
	if p.Flag == "" {
		p.Flag = model.LabFlagNormal
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	v, err := bumpVersion(tx, model.EntityLabs)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(
		`INSERT INTO lab_results (id, profile_id, test_name, value, unit, reference_range,
		   flag, notes, taken_at, row_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, profileID, p.TestName, p.Value, p.Unit, p.ReferenceRange, p.Flag, p.Notes, p.TakenAt, v,
	)
	if err != nil {
		return nil, fmt.Errorf("insert lab result: %w", err)
	}
	if err := clearTombstone(tx, model.EntityLabs, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func (s *LabStore) GetByID(id string) (*model.LabResult, error) {
	row := s.db.QueryRow(`SELECT `+labCols+` FROM lab_results WHERE id = ?`, id)
	l, err := scanLabResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lab result: %w", err)
	}
	return l, nil
}

func (s *LabStore) ListByProfile(profileID int64) ([]model.LabResult, error) {
	return s.listWhere(s.db, `profile_id = ?`, profileID)
}

func (s *LabStore) ListChanged(q Querier, profileID, since int64) ([]model.LabResult, error) {
	return s.listWhere(q, `profile_id = ? AND row_version > ?`, profileID, since)
}

func (s *LabStore) listWhere(q Querier, where string, args ...any) ([]model.LabResult, error) {
	rows, err := q.Query(`SELECT `+labCols+` FROM lab_results WHERE `+where+` ORDER BY taken_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list lab results: %w", err)
	}
	defer rows.Close()

	var labs []model.LabResult
	for rows.Next() {
		l, err := scanLabResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lab result: %w", err)
		}
		labs = append(labs, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lab results: %w", err)
	}
	return labs, nil
}

func (s *LabStore) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var profileID int64
	err = tx.QueryRow(`DELETE FROM lab_results WHERE id = ? RETURNING profile_id`, id).Scan(&profileID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete lab result: %w", err)
	}
	v, err := bumpVersion(tx, model.EntityLabs)
	if err != nil {
		return err
	}
	if err := logDeletion(tx, model.EntityLabs, profileID, id, v); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
