package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ktiyab/coheara/internal/model"
)

type ProfileStore struct {
	db *sql.DB
}

func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

const profileCols = `id, name, date_of_birth, blood_type, notes, created_at, updated_at`

func scanProfile(scanner interface{ Scan(...any) error }) (*model.Profile, error) {
	var p model.Profile
	err := scanner.Scan(&p.ID, &p.Name, &p.DateOfBirth, &p.BloodType, &p.Notes,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *ProfileStore) Create(name string) (*model.Profile, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	v, err := bumpVersion(tx, model.EntityProfile)
	if err != nil {
		return nil, err
	}
	res, err := tx.Exec(
		`INSERT INTO profiles (name, row_version) VALUES (?, ?)`, name, v,
	)
	if err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

// GetByID returns the profile with its allergy and emergency-contact
// sub-records loaded.
func (s *ProfileStore) GetByID(id int64) (*model.Profile, error) {
	return s.getIn(s.db, id)
}

// GetIn reads the profile through q, typically an open read transaction.
func (s *ProfileStore) GetIn(q Querier, id int64) (*model.Profile, error) {
	return s.getIn(q, id)
}

func (s *ProfileStore) getIn(q Querier, id int64) (*model.Profile, error) {
	row := q.QueryRow(`SELECT `+profileCols+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	p.Allergies, err = s.listAllergies(q, id)
	if err != nil {
		return nil, err
	}
	p.EmergencyContacts, err = s.listContacts(q, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ChangedIn returns the profile if its row version advanced past since,
// otherwise nil.
func (s *ProfileStore) ChangedIn(q Querier, id, since int64) (*model.Profile, error) {
	var rowVersion int64
	err := q.QueryRow(`SELECT row_version FROM profiles WHERE id = ?`, id).Scan(&rowVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile row version: %w", err)
	}
	if rowVersion <= since {
		return nil, nil
	}
	return s.getIn(q, id)
}

func (s *ProfileStore) List() ([]model.Profile, error) {
	rows, err := s.db.Query(`SELECT ` + profileCols + ` FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return profiles, nil
}

type ProfileParams struct {
	Name        string
	DateOfBirth *time.Time
	BloodType   string
	Notes       string
}

func (s *ProfileStore) Update(id int64, p ProfileParams) (*model.Profile, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	v, err := bumpVersion(tx, model.EntityProfile)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(
		`UPDATE profiles SET name = ?, date_of_birth = ?, blood_type = ?, notes = ?,
		   row_version = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		p.Name, p.DateOfBirth, p.BloodType, p.Notes, v, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

// AddAllergy inserts an allergy. Allergies are a dependent table of the
// profile collection: the profile counter bumps and the owning row is
// touched so delta sync resends the whole profile.
func (s *ProfileStore) AddAllergy(profileID int64, substance, reaction, severity string) (*model.Allergy, error) {
	a := &model.Allergy{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		Substance: substance,
		Reaction:  reaction,
		Severity:  severity,
		CreatedAt: time.Now().UTC(),
	}

	err := s.touchingProfile(profileID, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO allergies (id, profile_id, substance, reaction, severity, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, a.ProfileID, a.Substance, a.Reaction, a.Severity, a.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert allergy: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *ProfileStore) RemoveAllergy(profileID int64, allergyID string) error {
	return s.touchingProfile(profileID, func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM allergies WHERE id = ? AND profile_id = ?`, allergyID, profileID)
		if err != nil {
			return fmt.Errorf("delete allergy: %w", err)
		}
		return nil
	})
}

func (s *ProfileStore) AddEmergencyContact(profileID int64, name, relation, phone string) (*model.EmergencyContact, error) {
	c := &model.EmergencyContact{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		Name:      name,
		Relation:  relation,
		Phone:     phone,
		CreatedAt: time.Now().UTC(),
	}

	err := s.touchingProfile(profileID, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO emergency_contacts (id, profile_id, name, relation, phone, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.ProfileID, c.Name, c.Relation, c.Phone, c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert emergency contact: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ProfileStore) RemoveEmergencyContact(profileID int64, contactID string) error {
	return s.touchingProfile(profileID, func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM emergency_contacts WHERE id = ? AND profile_id = ?`, contactID, profileID)
		if err != nil {
			return fmt.Errorf("delete emergency contact: %w", err)
		}
		return nil
	})
}

// touchingProfile runs fn inside a transaction that bumps the profile counter
// and stamps the owning profile row with the new version.
func (s *ProfileStore) touchingProfile(profileID int64, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	v, err := bumpVersion(tx, model.EntityProfile)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	_, err = tx.Exec(
		`UPDATE profiles SET row_version = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		v, profileID,
	)
	if err != nil {
		return fmt.Errorf("touch profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *ProfileStore) listAllergies(q Querier, profileID int64) ([]model.Allergy, error) {
	rows, err := q.Query(
		`SELECT id, profile_id, substance, reaction, severity, created_at
		 FROM allergies WHERE profile_id = ? ORDER BY substance`,
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("list allergies: %w", err)
	}
	defer rows.Close()

	allergies := []model.Allergy{}
	for rows.Next() {
		var a model.Allergy
		if err := rows.Scan(&a.ID, &a.ProfileID, &a.Substance, &a.Reaction, &a.Severity, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan allergy: %w", err)
		}
		allergies = append(allergies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allergies: %w", err)
	}
	return allergies, nil
}

func (s *ProfileStore) listContacts(q Querier, profileID int64) ([]model.EmergencyContact, error) {
	rows, err := q.Query(
		`SELECT id, profile_id, name, relation, phone, created_at
		 FROM emergency_contacts WHERE profile_id = ? ORDER BY name`,
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("list emergency contacts: %w", err)
	}
	defer rows.Close()

	contacts := []model.EmergencyContact{}
	for rows.Next() {
		var c model.EmergencyContact
		if err := rows.Scan(&c.ID, &c.ProfileID, &c.Name, &c.Relation, &c.Phone, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan emergency contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emergency contacts: %w", err)
	}
	return contacts, nil
}
