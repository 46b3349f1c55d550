package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ktiyab/coheara/internal/model"
)

type DeviceStore struct {
	db *sql.DB
}

func NewDeviceStore(db *sql.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

const deviceCols = `id, name, model, public_key, profile_id, paired_at, last_seen_at, revoked_at`

func scanDevice(scanner interface{ Scan(...any) error }) (*model.PairedDevice, error) {
	var d model.PairedDevice
	err := scanner.Scan(&d.ID, &d.Name, &d.Model, &d.PublicKey, &d.ProfileID,
		&d.PairedAt, &d.LastSeenAt, &d.RevokedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Create registers a paired device and grants it access to its owner profile
// plus every profile the owner currently has a grant into, all in one
// transaction.
func (s *DeviceStore) Create(name, deviceModel, publicKey string, profileID int64) (*model.PairedDevice, error) {
	id := uuid.NewString()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO paired_devices (id, name, model, public_key, profile_id)
		 VALUES (?, ?, ?, ?, ?)`,
		id, name, deviceModel, publicKey, profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert device: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO device_profile_access (device_id, profile_id) VALUES (?, ?)`,
		id, profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("grant owner profile: %w", err)
	}

	// Transitive grants: profiles already shared into the owner profile.
	_, err = tx.Exec(
		`INSERT OR IGNORE INTO device_profile_access (device_id, profile_id)
		 SELECT ?, from_profile_id FROM profile_access_grants
		 WHERE to_profile_id = ? AND revoked_at IS NULL`,
		id, profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("grant shared profiles: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func (s *DeviceStore) GetByID(id string) (*model.PairedDevice, error) {
	row := s.db.QueryRow(`SELECT `+deviceCols+` FROM paired_devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

func (s *DeviceStore) List() ([]model.PairedDevice, error) {
	rows, err := s.db.Query(`SELECT ` + deviceCols + ` FROM paired_devices ORDER BY paired_at`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []model.PairedDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return devices, nil
}

// Revoke marks the device revoked and drops its session so the next request
// fails at the authentication layer regardless of token validity.
func (s *DeviceStore) Revoke(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE paired_devices SET revoked_at = CURRENT_TIMESTAMP WHERE id = ? AND revoked_at IS NULL`, id,
	)
	if err != nil {
		return fmt.Errorf("revoke device: %w", err)
	}
	_, err = tx.Exec(`DELETE FROM device_sessions WHERE device_id = ?`, id)
	if err != nil {
		return fmt.Errorf("drop device session: %w", err)
	}
	_, err = tx.Exec(
		`UPDATE device_profile_access SET revoked_at = CURRENT_TIMESTAMP
		 WHERE device_id = ? AND revoked_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("revoke device access: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *DeviceStore) TouchLastSeen(id string) error {
	_, err := s.db.Exec(
		`UPDATE paired_devices SET last_seen_at = CURRENT_TIMESTAMP WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}

// GrantProfileAccess adds a direct device-to-profile edge.
func (s *DeviceStore) GrantProfileAccess(deviceID string, profileID int64) error {
	_, err := s.db.Exec(
		`INSERT INTO device_profile_access (device_id, profile_id) VALUES (?, ?)
		 ON CONFLICT (device_id, profile_id) DO UPDATE SET
		   granted_at = CURRENT_TIMESTAMP, revoked_at = NULL`,
		deviceID, profileID,
	)
	if err != nil {
		return fmt.Errorf("grant profile access: %w", err)
	}
	return nil
}

func (s *DeviceStore) RevokeProfileAccess(deviceID string, profileID int64) error {
	_, err := s.db.Exec(
		`UPDATE device_profile_access SET revoked_at = CURRENT_TIMESTAMP
		 WHERE device_id = ? AND profile_id = ? AND revoked_at IS NULL`,
		deviceID, profileID,
	)
	if err != nil {
		return fmt.Errorf("revoke profile access: %w", err)
	}
	return nil
}

// GrantProfileToProfile adds a unidirectional profile-to-profile read grant:
// devices owned by toProfile may read fromProfile's collections.
func (s *DeviceStore) GrantProfileToProfile(fromProfileID, toProfileID int64) error {
	_, err := s.db.Exec(
		`INSERT INTO profile_access_grants (from_profile_id, to_profile_id) VALUES (?, ?)
		 ON CONFLICT (from_profile_id, to_profile_id) DO UPDATE SET
		   granted_at = CURRENT_TIMESTAMP, revoked_at = NULL`,
		fromProfileID, toProfileID,
	)
	if err != nil {
		return fmt.Errorf("grant profile to profile: %w", err)
	}
	return nil
}

func (s *DeviceStore) RevokeProfileGrant(fromProfileID, toProfileID int64) error {
	_, err := s.db.Exec(
		`UPDATE profile_access_grants SET revoked_at = CURRENT_TIMESTAMP
		 WHERE from_profile_id = ? AND to_profile_id = ? AND revoked_at IS NULL`,
		fromProfileID, toProfileID,
	)
	if err != nil {
		return fmt.Errorf("revoke profile grant: %w", err)
	}
	return nil
}

// AccessibleProfiles returns the set of profile ids the device may currently
// read: its non-revoked direct edges plus non-revoked grants into its owner
// profile. Effective access is a pure query over non-revoked edges, so a
// revocation takes effect on the next request.
func (s *DeviceStore) AccessibleProfiles(deviceID string) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT profile_id FROM device_profile_access
		 WHERE device_id = ? AND revoked_at IS NULL
		 UNION
		 SELECT g.from_profile_id FROM profile_access_grants g
		 JOIN paired_devices d ON d.profile_id = g.to_profile_id
		 WHERE d.id = ? AND d.revoked_at IS NULL AND g.revoked_at IS NULL
		 ORDER BY 1`,
		deviceID, deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list accessible profiles: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan profile id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accessible profiles: %w", err)
	}
	return ids, nil
}

// HasAccess reports whether the device may currently read the given profile.
func (s *DeviceStore) HasAccess(deviceID string, profileID int64) (bool, error) {
	ids, err := s.AccessibleProfiles(deviceID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == profileID {
			return true, nil
		}
	}
	return false, nil
}
