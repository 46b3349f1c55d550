package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ktiyab/coheara/internal/model"
)

type TimelineStore struct {
	db *sql.DB
}

func NewTimelineStore(db *sql.DB) *TimelineStore {
	return &TimelineStore{db: db}
}

const timelineCols = `id, profile_id, kind, title, detail, occurred_at, created_at, updated_at`

func scanTimelineEvent(scanner interface{ Scan(...any) error }) (*model.TimelineEvent, error) {
	var e model.TimelineEvent
	err := scanner.Scan(&e.ID, &e.ProfileID, &e.Kind, &e.Title, &e.Detail,
		&e.OccurredAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *TimelineStore) Create(profileID int64, kind, title, detail string, occurredAt time.Time) (*model.TimelineEvent, error) {
	id := uuid.NewString()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	v, err := bumpVersion(tx, model.EntityTimeline)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(
		`INSERT INTO timeline_events (id, profile_id, kind, title, detail, occurred_at, row_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, profileID, kind, title, detail, occurredAt, v,
	)
	if err != nil {
		return nil, fmt.Errorf("insert timeline event: %w", err)
	}
	if err := clearTombstone(tx, model.EntityTimeline, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func (s *TimelineStore) GetByID(id string) (*model.TimelineEvent, error) {
	row := s.db.QueryRow(`SELECT `+timelineCols+` FROM timeline_events WHERE id = ?`, id)
	e, err := scanTimelineEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get timeline event: %w", err)
	}
	return e, nil
}

func (s *TimelineStore) ListByProfile(profileID int64) ([]model.TimelineEvent, error) {
	return s.listWhere(s.db, `profile_id = ?`, profileID)
}

func (s *TimelineStore) ListChanged(q Querier, profileID, since int64) ([]model.TimelineEvent, error) {
	return s.listWhere(q, `profile_id = ? AND row_version > ?`, profileID, since)
}

func (s *TimelineStore) listWhere(q Querier, where string, args ...any) ([]model.TimelineEvent, error) {
	rows, err := q.Query(`SELECT `+timelineCols+` FROM timeline_events WHERE `+where+` ORDER BY occurred_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	defer rows.Close()

	var events []model.TimelineEvent
	for rows.Next() {
		e, err := scanTimelineEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}
	return events, nil
}

func (s *TimelineStore) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var profileID int64
	err = tx.QueryRow(`DELETE FROM timeline_events WHERE id = ? RETURNING profile_id`, id).Scan(&profileID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete timeline event: %w", err)
	}
	v, err := bumpVersion(tx, model.EntityTimeline)
	if err != nil {
		return err
	}
	if err := logDeletion(tx, model.EntityTimeline, profileID, id, v); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
