package model

import "time"

// EntityType names one of the synchronized collections.
type EntityType string

const (
	EntityMedications   EntityType = "medications"
	EntityLabs          EntityType = "labs"
	EntityTimeline      EntityType = "timeline"
	EntityAlerts        EntityType = "alerts"
	EntityAppointments  EntityType = "appointments"
	EntityProfile       EntityType = "profile"
	EntityConversations EntityType = "conversations"
)

// TrackedEntityTypes lists every collection covered by the version ledger,
// in the order they appear in sync payloads.
var TrackedEntityTypes = []EntityType{
	EntityMedications,
	EntityLabs,
	EntityTimeline,
	EntityAlerts,
	EntityAppointments,
	EntityProfile,
	EntityConversations,
}

// SyncVersions maps each tracked entity type to its current ledger counter.
// A zero value for a type means "never synced" on the client side.
type SyncVersions struct {
	Medications   int64 `json:"medications"`
	Labs          int64 `json:"labs"`
	Timeline      int64 `json:"timeline"`
	Alerts        int64 `json:"alerts"`
	Appointments  int64 `json:"appointments"`
	Profile       int64 `json:"profile"`
	Conversations int64 `json:"conversations"`
}

// Get returns the counter for the given entity type.
func (v SyncVersions) Get(t EntityType) int64 {
	switch t {
	case EntityMedications:
		return v.Medications
	case EntityLabs:
		return v.Labs
	case EntityTimeline:
		return v.Timeline
	case EntityAlerts:
		return v.Alerts
	case EntityAppointments:
		return v.Appointments
	case EntityProfile:
		return v.Profile
	case EntityConversations:
		return v.Conversations
	}
	return 0
}

// Set assigns the counter for the given entity type.
func (v *SyncVersions) Set(t EntityType, n int64) {
	switch t {
	case EntityMedications:
		v.Medications = n
	case EntityLabs:
		v.Labs = n
	case EntityTimeline:
		v.Timeline = n
	case EntityAlerts:
		v.Alerts = n
	case EntityAppointments:
		v.Appointments = n
	case EntityProfile:
		v.Profile = n
	case EntityConversations:
		v.Conversations = n
	}
}

// IsZero reports whether the caller has never completed a sync: every tracked
// counter is still zero. A counter that is zero because the hub never mutated
// that type is a valid delta baseline, not a missing one.
func (v SyncVersions) IsZero() bool {
	return v == SyncVersions{}
}

// Equal reports whether both snapshots carry identical counters.
func (v SyncVersions) Equal(o SyncVersions) bool {
	return v == o
}

// SyncPayload is a full snapshot of every tracked collection. It is sent on a
// device's first sync and whenever a delta cannot be computed safely.
type SyncPayload struct {
	Profile       *Profile        `json:"profile"`
	Medications   []Medication    `json:"medications"`
	Labs          []LabResult     `json:"labs"`
	Timeline      []TimelineEvent `json:"timeline"`
	Alerts        []Alert         `json:"alerts"`
	Appointments  []Appointment   `json:"appointments"`
	Conversations []Conversation  `json:"conversations"`
	Versions      SyncVersions    `json:"versions"`
	SyncedAt      time.Time       `json:"syncedAt"`
}

// DeltaPayload carries only the collections whose version advanced past the
// caller's snapshot. A nil collection means "unchanged", not "empty"; removed
// id lists are tombstones for records deleted since the caller's version.
type DeltaPayload struct {
	Profile       *Profile        `json:"profile,omitempty"`
	Medications   []Medication    `json:"medications,omitempty"`
	Labs          []LabResult     `json:"labs,omitempty"`
	Timeline      []TimelineEvent `json:"timeline,omitempty"`
	Alerts        []Alert         `json:"alerts,omitempty"`
	Appointments  []Appointment   `json:"appointments,omitempty"`
	Conversations []Conversation  `json:"conversations,omitempty"`

	RemovedMedicationIDs   []string `json:"removed_medication_ids,omitempty"`
	RemovedLabIDs          []string `json:"removed_lab_ids,omitempty"`
	RemovedTimelineIDs     []string `json:"removed_timeline_ids,omitempty"`
	RemovedAlertIDs        []string `json:"removed_alert_ids,omitempty"`
	RemovedAppointmentIDs  []string `json:"removed_appointment_ids,omitempty"`
	RemovedConversationIDs []string `json:"removed_conversation_ids,omitempty"`

	Versions SyncVersions `json:"versions"`
	SyncedAt time.Time    `json:"syncedAt"`
}

// SyncRequest is the body of POST /api/sync: the caller's last-known versions
// plus an optional flag forcing a full snapshot. ProfileID selects which
// accessible profile to sync; zero means the device's owner profile.
type SyncRequest struct {
	Versions  SyncVersions `json:"versions"`
	Full      bool         `json:"full,omitempty"`
	ProfileID int64        `json:"profile_id,omitempty"`
}

// Tombstone records a deletion so that clients syncing out of phase with the
// delete can still observe it.
type Tombstone struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Version    int64      `json:"version"`
	DeletedAt  time.Time  `json:"deleted_at"`
}
