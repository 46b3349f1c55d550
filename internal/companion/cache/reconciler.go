package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ktiyab/coheara/internal/model"
)

var entityTables = map[model.EntityType]string{
	model.EntityMedications:   "cached_medications",
	model.EntityLabs:          "cached_labs",
	model.EntityTimeline:      "cached_timeline",
	model.EntityAlerts:        "cached_alerts",
	model.EntityAppointments:  "cached_appointments",
	model.EntityProfile:       "cached_profile",
	model.EntityConversations: "cached_conversations",
}

// ApplyFull replaces the entire cache with a snapshot. Applying the same
// snapshot twice leaves the cache identical; a crash mid-apply rolls back to
// the previous state.
func (c *Cache) ApplyFull(p *model.SyncPayload) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer tx.Rollback()

	for _, table := range entityTables {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if p.Profile != nil {
		if err := upsertProfile(tx, p.Profile); err != nil {
			return err
		}
	}
	for i := range p.Medications {
		if err := upsertJSON(tx, "cached_medications", p.Medications[i].ID, p.Medications[i]); err != nil {
			return err
		}
	}
	for i := range p.Labs {
		if err := upsertJSON(tx, "cached_labs", p.Labs[i].ID, p.Labs[i]); err != nil {
			return err
		}
	}
	for i := range p.Timeline {
		if err := upsertJSON(tx, "cached_timeline", p.Timeline[i].ID, p.Timeline[i]); err != nil {
			return err
		}
	}
	for i := range p.Alerts {
		if err := upsertJSON(tx, "cached_alerts", p.Alerts[i].ID, p.Alerts[i]); err != nil {
			return err
		}
	}
	for i := range p.Appointments {
		if err := upsertAppointment(tx, p.Appointments[i]); err != nil {
			return err
		}
	}
	for i := range p.Conversations {
		if err := upsertJSON(tx, "cached_conversations", p.Conversations[i].ID, p.Conversations[i]); err != nil {
			return err
		}
	}

	if err := setVersions(tx, p.Versions); err != nil {
		return err
	}
	if err := setSyncedAt(tx, p.SyncedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}
	return nil
}

// ApplyDelta folds a delta into the cache: upserts first, tombstone removals
// second, version counters last, all in one transaction.
func (c *Cache) ApplyDelta(d *model.DeltaPayload) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer tx.Rollback()

	if d.Profile != nil {
		if err := upsertProfile(tx, d.Profile); err != nil {
			return err
		}
	}
	for i := range d.Medications {
		if err := upsertJSON(tx, "cached_medications", d.Medications[i].ID, d.Medications[i]); err != nil {
			return err
		}
	}
	for i := range d.Labs {
		if err := upsertJSON(tx, "cached_labs", d.Labs[i].ID, d.Labs[i]); err != nil {
			return err
		}
	}
	for i := range d.Timeline {
		if err := upsertJSON(tx, "cached_timeline", d.Timeline[i].ID, d.Timeline[i]); err != nil {
			return err
		}
	}
	for i := range d.Alerts {
		if err := upsertJSON(tx, "cached_alerts", d.Alerts[i].ID, d.Alerts[i]); err != nil {
			return err
		}
	}
	for i := range d.Appointments {
		if err := upsertAppointment(tx, d.Appointments[i]); err != nil {
			return err
		}
	}
	for i := range d.Conversations {
		if err := upsertJSON(tx, "cached_conversations", d.Conversations[i].ID, d.Conversations[i]); err != nil {
			return err
		}
	}

	removals := []struct {
		table string
		ids   []string
	}{
		{"cached_medications", d.RemovedMedicationIDs},
		{"cached_labs", d.RemovedLabIDs},
		{"cached_timeline", d.RemovedTimelineIDs},
		{"cached_alerts", d.RemovedAlertIDs},
		{"cached_appointments", d.RemovedAppointmentIDs},
		{"cached_conversations", d.RemovedConversationIDs},
	}
	for _, rm := range removals {
		for _, id := range rm.ids {
			if _, err := tx.Exec(`DELETE FROM `+rm.table+` WHERE id = ?`, id); err != nil {
				return fmt.Errorf("remove from %s: %w", rm.table, err)
			}
		}
	}

	if err := setVersions(tx, d.Versions); err != nil {
		return err
	}
	if err := setSyncedAt(tx, d.SyncedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}
	return nil
}

// Versions returns the ledger counters as last seen from the hub. All zeros
// on a fresh cache, which the hub reads as "send everything".
func (c *Cache) Versions() (model.SyncVersions, error) {
	var v model.SyncVersions
	rows, err := c.db.Query(`SELECT entity_type, version FROM sync_state`)
	if err != nil {
		return v, fmt.Errorf("read sync state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t model.EntityType
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return v, fmt.Errorf("scan sync state: %w", err)
		}
		v.Set(t, n)
	}
	return v, rows.Err()
}

// LastSyncedAt returns when the cache last applied a sync response, or nil if
// it never has.
func (c *Cache) LastSyncedAt() (*time.Time, error) {
	var ts sql.NullTime
	err := c.db.QueryRow(`SELECT last_synced_at FROM cache_meta WHERE id = 1`).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("read last synced: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}
	t := ts.Time
	return &t, nil
}

// RemoveExpiredAppointments drops cached appointments whose scheduled time has
// passed. Past appointments live on in the hub's timeline, not in the cache.
func (c *Cache) RemoveExpiredAppointments(now time.Time) (int64, error) {
	res, err := c.db.Exec(`DELETE FROM cached_appointments WHERE scheduled_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("remove expired appointments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired rows affected: %w", err)
	}
	return n, nil
}

func upsertJSON(tx *sql.Tx, table, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal for %s: %w", table, err)
	}
	_, err = tx.Exec(
		`INSERT INTO `+table+` (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		id, string(data),
	)
	if err != nil {
		return fmt.Errorf("upsert into %s: %w", table, err)
	}
	return nil
}

func upsertAppointment(tx *sql.Tx, a model.Appointment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal appointment: %w", err)
	}
	_, err = tx.Exec(
		`INSERT INTO cached_appointments (id, scheduled_at, data) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET scheduled_at = excluded.scheduled_at, data = excluded.data`,
		a.ID, a.ScheduledAt.UTC(), string(data),
	)
	if err != nil {
		return fmt.Errorf("upsert appointment: %w", err)
	}
	return nil
}

func upsertProfile(tx *sql.Tx, p *model.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	_, err = tx.Exec(
		`INSERT INTO cached_profile (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		p.ID, string(data),
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func setVersions(tx *sql.Tx, v model.SyncVersions) error {
	for _, t := range model.TrackedEntityTypes {
		if _, err := tx.Exec(
			`UPDATE sync_state SET version = ? WHERE entity_type = ?`,
			v.Get(t), t,
		); err != nil {
			return fmt.Errorf("set version for %s: %w", t, err)
		}
	}
	return nil
}

func setSyncedAt(tx *sql.Tx, at time.Time) error {
	if _, err := tx.Exec(`UPDATE cache_meta SET last_synced_at = ? WHERE id = 1`, at.UTC()); err != nil {
		return fmt.Errorf("set last synced: %w", err)
	}
	return nil
}
