package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ktiyab/coheara/internal/model"
)

// DeletionStore reads and prunes the tombstone log. Writing tombstones is the
// job of the entity stores' delete paths (see logDeletion).
type DeletionStore struct {
	db *sql.DB
}

func NewDeletionStore(db *sql.DB) *DeletionStore {
	return &DeletionStore{db: db}
}

// IDsSince returns the ids of profileID's records of type t deleted after the
// given ledger version, through q. Other profiles' tombstones stay out of the
// caller's delta.
func (s *DeletionStore) IDsSince(q Querier, t model.EntityType, profileID, since int64) ([]string, error) {
	rows, err := q.Query(
		`SELECT entity_id FROM deletion_log
		 WHERE profile_id = ? AND entity_type = ? AND version > ?
		 ORDER BY version`,
		profileID, string(t), since,
	)
	if err != nil {
		return nil, fmt.Errorf("select tombstones: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tombstone: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tombstones: %w", err)
	}
	return ids, nil
}

// Prune drops tombstones older than the retention window and advances each
// type's pruned-version watermark past them. Clients whose baseline predates
// the watermark are upgraded to a full resync by the coordinator.
func (s *DeletionStore) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE sync_versions SET pruned_version = COALESCE((
		   SELECT MAX(version) FROM deletion_log
		   WHERE entity_type = sync_versions.entity_type AND deleted_at < ?
		 ), pruned_version)`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("advance pruned watermark: %w", err)
	}

	res, err := tx.Exec(`DELETE FROM deletion_log WHERE deleted_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune tombstones: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return n, nil
}
