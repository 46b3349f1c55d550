// Package sync computes the minimal response to a companion's sync request:
// nothing, a delta, or a full snapshot.
package sync

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/ktiyab/coheara/internal/model"
	"github.com/ktiyab/coheara/internal/store"
)

// Coordinator compares a caller's last-known versions against the ledger and
// assembles the response. Every read of one response happens inside a single
// transaction, so the advertised versions always match the records returned
// even while other devices poll and the hub keeps writing.
type Coordinator struct {
	db            *sql.DB
	versions      *store.VersionStore
	profiles      *store.ProfileStore
	medications   *store.MedicationStore
	labs          *store.LabStore
	timeline      *store.TimelineStore
	alerts        *store.AlertStore
	appointments  *store.AppointmentStore
	conversations *store.ConversationStore
	deletions     *store.DeletionStore
	logger        *slog.Logger
}

func NewCoordinator(db *sql.DB, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		db:            db,
		versions:      store.NewVersionStore(db),
		profiles:      store.NewProfileStore(db),
		medications:   store.NewMedicationStore(db),
		labs:          store.NewLabStore(db),
		timeline:      store.NewTimelineStore(db),
		alerts:        store.NewAlertStore(db),
		appointments:  store.NewAppointmentStore(db),
		conversations: store.NewConversationStore(db),
		deletions:     store.NewDeletionStore(db),
		logger:        logger,
	}
}

// Response is the outcome of one sync computation. Exactly one of the three
// shapes applies: no change at all, a delta, or a full snapshot.
type Response struct {
	NoChange bool
	Full     *model.SyncPayload
	Delta    *model.DeltaPayload
}

// Compute builds the response for a caller that last synced profileID at the
// versions in req. A caller with an all-zero snapshot (never synced), an
// explicit full request, or a baseline older than the tombstone pruning
// watermark gets a full snapshot; a caller already at the current versions
// gets NoChange.
func (c *Coordinator) Compute(profileID int64, req model.SyncRequest) (*Response, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin sync read: %w", err)
	}
	defer tx.Rollback()

	current, err := c.versions.CurrentIn(tx)
	if err != nil {
		return nil, err
	}
	pruned, err := c.versions.PrunedIn(tx)
	if err != nil {
		return nil, err
	}

	full := req.Full || req.Versions.IsZero()
	if !full {
		// Tombstones the caller still needs may already be pruned; deltas
		// would silently miss deletes, so fall back to a full resync.
		for _, t := range model.TrackedEntityTypes {
			if req.Versions.Get(t) < pruned.Get(t) {
				full = true
				c.logger.Info("delta baseline predates tombstone retention, sending full sync",
					"entity_type", t, "caller", req.Versions.Get(t), "pruned", pruned.Get(t))
				break
			}
		}
	}

	if !full && current.Equal(req.Versions) {
		return &Response{NoChange: true}, nil
	}

	now := time.Now().UTC()
	if full {
		payload, err := c.fullPayload(tx, profileID, current, now)
		if err != nil {
			return nil, err
		}
		return &Response{Full: payload}, nil
	}

	delta, err := c.deltaPayload(tx, profileID, req.Versions, current, now)
	if err != nil {
		return nil, err
	}
	return &Response{Delta: delta}, nil
}

func (c *Coordinator) fullPayload(tx *sql.Tx, profileID int64, current model.SyncVersions, now time.Time) (*model.SyncPayload, error) {
	p := &model.SyncPayload{Versions: current, SyncedAt: now}

	var err error
	if p.Profile, err = c.profiles.GetIn(tx, profileID); err != nil {
		return nil, err
	}
	if p.Medications, err = c.medications.ListChanged(tx, profileID, 0); err != nil {
		return nil, err
	}
	if p.Labs, err = c.labs.ListChanged(tx, profileID, 0); err != nil {
		return nil, err
	}
	if p.Timeline, err = c.timeline.ListChanged(tx, profileID, 0); err != nil {
		return nil, err
	}
	if p.Alerts, err = c.alerts.ListChanged(tx, profileID, 0); err != nil {
		return nil, err
	}
	if p.Appointments, err = c.appointments.ListChanged(tx, profileID, 0); err != nil {
		return nil, err
	}
	if p.Conversations, err = c.conversations.ListChanged(tx, profileID, 0); err != nil {
		return nil, err
	}

	// A full snapshot means "this is everything": empty collections are
	// encoded as empty arrays, never null.
	if p.Medications == nil {
		p.Medications = []model.Medication{}
	}
	if p.Labs == nil {
		p.Labs = []model.LabResult{}
	}
	if p.Timeline == nil {
		p.Timeline = []model.TimelineEvent{}
	}
	if p.Alerts == nil {
		p.Alerts = []model.Alert{}
	}
	if p.Appointments == nil {
		p.Appointments = []model.Appointment{}
	}
	if p.Conversations == nil {
		p.Conversations = []model.Conversation{}
	}
	return p, nil
}

func (c *Coordinator) deltaPayload(tx *sql.Tx, profileID int64, caller, current model.SyncVersions, now time.Time) (*model.DeltaPayload, error) {
	d := &model.DeltaPayload{Versions: current, SyncedAt: now}

	// Types whose counter did not move are omitted entirely: absent means
	// "unchanged", not "empty".
	var err error
	if current.Medications > caller.Medications {
		if d.Medications, err = c.medications.ListChanged(tx, profileID, caller.Medications); err != nil {
			return nil, err
		}
		if d.RemovedMedicationIDs, err = c.deletions.IDsSince(tx, model.EntityMedications, profileID, caller.Medications); err != nil {
			return nil, err
		}
	}
	if current.Labs > caller.Labs {
		if d.Labs, err = c.labs.ListChanged(tx, profileID, caller.Labs); err != nil {
			return nil, err
		}
		if d.RemovedLabIDs, err = c.deletions.IDsSince(tx, model.EntityLabs, profileID, caller.Labs); err != nil {
			return nil, err
		}
	}
	if current.Timeline > caller.Timeline {
		if d.Timeline, err = c.timeline.ListChanged(tx, profileID, caller.Timeline); err != nil {
			return nil, err
		}
		if d.RemovedTimelineIDs, err = c.deletions.IDsSince(tx, model.EntityTimeline, profileID, caller.Timeline); err != nil {
			return nil, err
		}
	}
	if current.Alerts > caller.Alerts {
		if d.Alerts, err = c.alerts.ListChanged(tx, profileID, caller.Alerts); err != nil {
			return nil, err
		}
		if d.RemovedAlertIDs, err = c.deletions.IDsSince(tx, model.EntityAlerts, profileID, caller.Alerts); err != nil {
			return nil, err
		}
	}
	if current.Appointments > caller.Appointments {
		if d.Appointments, err = c.appointments.ListChanged(tx, profileID, caller.Appointments); err != nil {
			return nil, err
		}
		if d.RemovedAppointmentIDs, err = c.deletions.IDsSince(tx, model.EntityAppointments, profileID, caller.Appointments); err != nil {
			return nil, err
		}
	}
	if current.Profile > caller.Profile {
		if d.Profile, err = c.profiles.ChangedIn(tx, profileID, caller.Profile); err != nil {
			return nil, err
		}
	}
	if current.Conversations > caller.Conversations {
		if d.Conversations, err = c.conversations.ListChanged(tx, profileID, caller.Conversations); err != nil {
			return nil, err
		}
		if d.RemovedConversationIDs, err = c.deletions.IDsSince(tx, model.EntityConversations, profileID, caller.Conversations); err != nil {
			return nil, err
		}
	}

	return d, nil
}
