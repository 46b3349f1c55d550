package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ktiyab/coheara/internal/model"
)

// Profile returns the cached profile, or nil before the first sync.
func (c *Cache) Profile() (*model.Profile, error) {
	var data string
	err := c.db.QueryRow(`SELECT data FROM cached_profile LIMIT 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var p model.Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	return &p, nil
}

func (c *Cache) Medications() ([]model.Medication, error) {
	return readAll[model.Medication](c, "cached_medications")
}

func (c *Cache) Labs() ([]model.LabResult, error) {
	return readAll[model.LabResult](c, "cached_labs")
}

func (c *Cache) Timeline() ([]model.TimelineEvent, error) {
	return readAll[model.TimelineEvent](c, "cached_timeline")
}

func (c *Cache) Alerts() ([]model.Alert, error) {
	return readAll[model.Alert](c, "cached_alerts")
}

func (c *Cache) Appointments() ([]model.Appointment, error) {
	return readAll[model.Appointment](c, "cached_appointments")
}

func (c *Cache) Conversations() ([]model.Conversation, error) {
	return readAll[model.Conversation](c, "cached_conversations")
}

func readAll[T any](c *Cache, table string) ([]T, error) {
	rows, err := c.db.Query(`SELECT data FROM ` + table)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", table, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
