// Package cache holds the companion's local copy of synced health data. It is
// a read replica: the hub stays authoritative, the cache only mirrors what
// sync responses deliver and records which ledger versions it has seen.
package cache

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Cache is the companion-side store. All mutations happen inside ApplyFull,
// ApplyDelta or Wipe; reads serve the UI.
type Cache struct {
	db *sql.DB
}

// Open opens (or creates) the cache database at path and runs migrations.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=DELETE&_synchronous=FULL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache: %w", err)
	}

	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}
