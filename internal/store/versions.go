package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ktiyab/coheara/internal/model"
)

// Querier is the subset of *sql.DB and *sql.Tx the read paths need. It lets
// the sync coordinator run every read of one response inside a single
// transaction so versions and records always come from the same snapshot.
type Querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// VersionStore reads the per-entity-type version ledger.
type VersionStore struct {
	db *sql.DB
}

func NewVersionStore(db *sql.DB) *VersionStore {
	return &VersionStore{db: db}
}

// Current returns the current ledger counters.
func (s *VersionStore) Current() (model.SyncVersions, error) {
	return s.CurrentIn(s.db)
}

// CurrentIn reads the ledger through q, typically an open read transaction.
func (s *VersionStore) CurrentIn(q Querier) (model.SyncVersions, error) {
	rows, err := q.Query(`SELECT entity_type, version FROM sync_versions`)
	if err != nil {
		return model.SyncVersions{}, fmt.Errorf("select versions: %w", err)
	}
	defer rows.Close()

	var v model.SyncVersions
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return model.SyncVersions{}, fmt.Errorf("scan version: %w", err)
		}
		v.Set(model.EntityType(t), n)
	}
	if err := rows.Err(); err != nil {
		return model.SyncVersions{}, fmt.Errorf("iterate versions: %w", err)
	}
	return v, nil
}

// PrunedIn returns, per entity type, the highest version whose tombstones
// have already been pruned from the deletion log.
func (s *VersionStore) PrunedIn(q Querier) (model.SyncVersions, error) {
	rows, err := q.Query(`SELECT entity_type, pruned_version FROM sync_versions`)
	if err != nil {
		return model.SyncVersions{}, fmt.Errorf("select pruned versions: %w", err)
	}
	defer rows.Close()

	var v model.SyncVersions
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return model.SyncVersions{}, fmt.Errorf("scan pruned version: %w", err)
		}
		v.Set(model.EntityType(t), n)
	}
	if err := rows.Err(); err != nil {
		return model.SyncVersions{}, fmt.Errorf("iterate pruned versions: %w", err)
	}
	return v, nil
}

// UpdatedAt returns the last time the given counter moved.
func (s *VersionStore) UpdatedAt(t model.EntityType) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRow(
		`SELECT updated_at FROM sync_versions WHERE entity_type = ?`, string(t),
	).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("select version updated_at: %w", err)
	}
	return ts, nil
}

// bumpVersion advances the counter for t inside the caller's transaction and
// returns the new value. Every mutating store method calls this exactly once
// per logical mutation, in the same transaction as the data change. There is
// no failure mode of its own beyond the enclosing transaction failing.
func bumpVersion(q Querier, t model.EntityType) (int64, error) {
	var v int64
	err := q.QueryRow(
		`UPDATE sync_versions
		 SET version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE entity_type = ?
		 RETURNING version`,
		string(t),
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("bump %s version: %w", t, err)
	}
	return v, nil
}

// logDeletion records a tombstone inside the caller's transaction. version is
// the post-bump counter value the delete produced. Tombstones are scoped to
// the owning profile so one profile's deletes never leak into another's
// delta. Re-creating a record after deleting it replaces the stale tombstone.
func logDeletion(q Querier, t model.EntityType, profileID int64, id string, version int64) error {
	_, err := q.Exec(
		`INSERT INTO deletion_log (entity_type, entity_id, profile_id, version)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (entity_type, entity_id) DO UPDATE SET
		   profile_id = excluded.profile_id, version = excluded.version,
		   deleted_at = CURRENT_TIMESTAMP`,
		string(t), id, profileID, version,
	)
	if err != nil {
		return fmt.Errorf("log %s deletion: %w", t, err)
	}
	return nil
}

// clearTombstone removes a stale tombstone when a record id is re-created.
func clearTombstone(q Querier, t model.EntityType, id string) error {
	_, err := q.Exec(
		`DELETE FROM deletion_log WHERE entity_type = ? AND entity_id = ?`,
		string(t), id,
	)
	if err != nil {
		return fmt.Errorf("clear %s tombstone: %w", t, err)
	}
	return nil
}
