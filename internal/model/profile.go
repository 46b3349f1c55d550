package model

import "time"

// Profile is the person a set of health records belongs to. A hub holds one
// owner profile plus any managed profiles (children, dependents).
type Profile struct {
	ID                int64              `json:"id"`
	Name              string             `json:"name"`
	DateOfBirth       *time.Time         `json:"date_of_birth,omitempty"`
	BloodType         string             `json:"blood_type,omitempty"`
	Notes             string             `json:"notes,omitempty"`
	Allergies         []Allergy          `json:"allergies"`
	EmergencyContacts []EmergencyContact `json:"emergency_contacts"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Allergy belongs to the profile collection for versioning purposes.
type Allergy struct {
	ID        string    `json:"id"`
	ProfileID int64     `json:"profile_id"`
	Substance string    `json:"substance"`
	Reaction  string    `json:"reaction,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EmergencyContact belongs to the profile collection for versioning purposes.
type EmergencyContact struct {
	ID        string    `json:"id"`
	ProfileID int64     `json:"profile_id"`
	Name      string    `json:"name"`
	Relation  string    `json:"relation,omitempty"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}
