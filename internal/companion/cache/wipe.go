package cache

import (
	"fmt"
	"strings"
)

// WipeMode selects how much of the local state a wipe removes.
type WipeMode string

const (
	// WipeFull clears everything, deferred questions included.
	WipeFull WipeMode = "full"
	// WipeHealthOnly clears synced health data but keeps the user's own
	// deferred questions.
	WipeHealthOnly WipeMode = "health_only"
)

// Wipe removes cached health data and resets sync state so the next sync
// starts from scratch. Call VerifyWiped afterwards before reporting success.
func (c *Cache) Wipe(mode WipeMode) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin wipe: %w", err)
	}
	defer tx.Rollback()

	for _, table := range entityTables {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
	}
	if _, err := tx.Exec(`UPDATE sync_state SET version = 0`); err != nil {
		return fmt.Errorf("reset sync state: %w", err)
	}
	if _, err := tx.Exec(`UPDATE cache_meta SET last_synced_at = NULL WHERE id = 1`); err != nil {
		return fmt.Errorf("reset sync time: %w", err)
	}
	if mode == WipeFull {
		if _, err := tx.Exec(`DELETE FROM deferred_questions`); err != nil {
			return fmt.Errorf("wipe deferred questions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit wipe: %w", err)
	}
	return nil
}

// VerifyWiped independently re-reads every table the wipe mode covers and
// errors if any still holds rows. Wipe reporting success without this check
// would be a hollow promise. A full wipe must also leave zero deferred
// questions behind.
func (c *Cache) VerifyWiped(mode WipeMode) error {
	tables := make([]string, 0, len(entityTables)+1)
	for _, table := range entityTables {
		tables = append(tables, table)
	}
	if mode == WipeFull {
		tables = append(tables, "deferred_questions")
	}

	var dirty []string
	for _, table := range tables {
		var n int64
		if err := c.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			return fmt.Errorf("verify %s: %w", table, err)
		}
		if n > 0 {
			dirty = append(dirty, table)
		}
	}
	if len(dirty) > 0 {
		return fmt.Errorf("wipe incomplete: rows remain in %s", strings.Join(dirty, ", "))
	}
	return nil
}
