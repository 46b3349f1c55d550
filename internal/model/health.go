package model

import "time"

// Medication is a prescribed or self-reported medication on a profile.
type Medication struct {
	ID           string     `json:"id"`
	ProfileID    int64      `json:"profile_id"`
	Name         string     `json:"name"`
	Dosage       string     `json:"dosage"`
	Frequency    string     `json:"frequency"`
	Instructions string     `json:"instructions,omitempty"`
	Prescriber   string     `json:"prescriber,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DoseChange is a historical dosage adjustment. Dose changes belong to the
// medications collection for versioning purposes.
type DoseChange struct {
	ID           string    `json:"id"`
	MedicationID string    `json:"medication_id"`
	OldDosage    string    `json:"old_dosage"`
	NewDosage    string    `json:"new_dosage"`
	Reason       string    `json:"reason,omitempty"`
	ChangedAt    time.Time `json:"changed_at"`
}

type LabFlag string

const (
	LabFlagNormal LabFlag = "normal"
	LabFlagLow    LabFlag = "low"
	LabFlagHigh   LabFlag = "high"
)

// LabResult is a single analyte measurement from a lab report.
type LabResult struct {
	ID             string    `json:"id"`
	ProfileID      int64     `json:"profile_id"`
	TestName       string    `json:"test_name"`
	Value          string    `json:"value"`
	Unit           string    `json:"unit,omitempty"`
	ReferenceRange string    `json:"reference_range,omitempty"`
	Flag           LabFlag   `json:"flag"`
	Notes          string    `json:"notes,omitempty"`
	TakenAt        time.Time `json:"taken_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TimelineEvent is an entry in the profile's health timeline: a diagnosis,
// a procedure, a document import, a medication start, and so on.
type TimelineEvent struct {
	ID         string    `json:"id"`
	ProfileID  int64     `json:"profile_id"`
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Alert is a safety notice raised against the profile's data, for example an
// interaction between two active medications.
type Alert struct {
	ID             string        `json:"id"`
	ProfileID      int64         `json:"profile_id"`
	Severity       AlertSeverity `json:"severity"`
	Kind           string        `json:"kind"`
	Message        string        `json:"message"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Appointment is an upcoming visit with a health professional.
type Appointment struct {
	ID           string    `json:"id"`
	ProfileID    int64     `json:"profile_id"`
	Professional string    `json:"professional"`
	Location     string    `json:"location,omitempty"`
	Purpose      string    `json:"purpose,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
