package sync

import (
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ktiyab/coheara/internal/database"
	"github.com/ktiyab/coheara/internal/model"
	"github.com/ktiyab/coheara/internal/store"
)

func setupCoordinatorTest(t *testing.T) (*sql.DB, *Coordinator, *store.ProfileStore, *store.MedicationStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return db, NewCoordinator(db, logger), store.NewProfileStore(db), store.NewMedicationStore(db)
}

func TestComputeFirstSyncIsFull(t *testing.T) {
	_, c, ps, ms := setupCoordinatorTest(t)

	p, _ := ps.Create("Margaret")
	if _, err := ms.Create(p.ID, store.MedicationParams{Name: "Lisinopril", Dosage: "10mg", Active: true}); err != nil {
		t.Fatalf("create medication: %v", err)
	}

	resp, err := c.Compute(p.ID, model.SyncRequest{})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if resp.Full == nil {
		t.Fatal("first sync did not return a full snapshot")
	}
	if len(resp.Full.Medications) != 1 {
		t.Errorf("medications = %d, want 1", len(resp.Full.Medications))
	}
	if resp.Full.Profile == nil || resp.Full.Profile.ID != p.ID {
		t.Error("snapshot missing profile")
	}
	// Untouched collections come back as empty arrays, not nil.
	if resp.Full.Labs == nil {
		t.Error("labs collection is nil in full snapshot")
	}
	if resp.Full.Versions.Medications == 0 {
		t.Error("snapshot versions not populated")
	}
}

func TestComputeNoChange(t *testing.T) {
	_, c, ps, ms := setupCoordinatorTest(t)

	p, _ := ps.Create("Margaret")
	ms.Create(p.ID, store.MedicationParams{Name: "Lisinopril", Dosage: "10mg", Active: true})

	first, err := c.Compute(p.ID, model.SyncRequest{})
	if err != nil {
		t.Fatalf("first compute: %v", err)
	}

	resp, err := c.Compute(p.ID, model.SyncRequest{Versions: first.Full.Versions})
	if err != nil {
		t.Fatalf("second compute: %v", err)
	}
	if !resp.NoChange {
		t.Error("caller at current versions did not get NoChange")
	}
}

func TestComputeDeltaCarriesOnlyChangedTypes(t *testing.T) {
	_, c, ps, ms := setupCoordinatorTest(t)

	p, _ := ps.Create("Margaret")
	ms.Create(p.ID, store.MedicationParams{Name: "Lisinopril", Dosage: "10mg", Active: true})
	first, _ := c.Compute(p.ID, model.SyncRequest{})

	added, err := ms.Create(p.ID, store.MedicationParams{Name: "Metformin", Dosage: "500mg", Active: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	resp, err := c.Compute(p.ID, model.SyncRequest{Versions: first.Full.Versions})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if resp.Delta == nil {
		t.Fatal("expected delta")
	}
	if len(resp.Delta.Medications) != 1 || resp.Delta.Medications[0].ID != added.ID {
		t.Errorf("delta medications = %v, want just %s", resp.Delta.Medications, added.ID)
	}
	// Unchanged collections are omitted, absent means unchanged.
	if resp.Delta.Labs != nil {
		t.Error("labs present in delta despite no change")
	}
	if resp.Delta.Profile != nil {
		t.Error("profile present in delta despite no change")
	}
}

func TestComputeDeltaWithUntouchedCounters(t *testing.T) {
	_, c, ps, ms := setupCoordinatorTest(t)

	p, _ := ps.Create("Margaret")
	ms.Create(p.ID, store.MedicationParams{Name: "Lisinopril", Dosage: "10mg", Active: true})
	first, _ := c.Compute(p.ID, model.SyncRequest{})

	// The hub never mutated labs, timeline, alerts, appointments or
	// conversations, so the caller legitimately echoes zero for them. That is
	// a valid delta baseline; only the all-zero snapshot means "never synced".
	if first.Full.Versions.Conversations != 0 {
		t.Fatalf("conversations counter = %d, want untouched 0", first.Full.Versions.Conversations)
	}

	if _, err := ms.Create(p.ID, store.MedicationParams{Name: "Metformin", Dosage: "500mg", Active: true}); err != nil {
		t.Fatalf("create: %v", err)
	}

	resp, err := c.Compute(p.ID, model.SyncRequest{Versions: first.Full.Versions})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if resp.Full != nil {
		t.Fatal("zero counters for untouched types forced a full sync instead of a delta")
	}
	if resp.Delta == nil || len(resp.Delta.Medications) != 1 {
		t.Fatalf("expected a one-medication delta, got %+v", resp)
	}
}

func TestComputeDeltaCarriesTombstones(t *testing.T) {
	_, c, ps, ms := setupCoordinatorTest(t)

	p, _ := ps.Create("Margaret")
	med, _ := ms.Create(p.ID, store.MedicationParams{Name: "Lisinopril", Dosage: "10mg", Active: true})
	first, _ := c.Compute(p.ID, model.SyncRequest{})

	if err := ms.Delete(med.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	resp, err := c.Compute(p.ID, model.SyncRequest{Versions: first.Full.Versions})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if resp.Delta == nil {
		t.Fatal("expected delta")
	}
	if len(resp.Delta.RemovedMedicationIDs) != 1 || resp.Delta.RemovedMedicationIDs[0] != med.ID {
		t.Errorf("removed ids = %v, want [%s]", resp.Delta.RemovedMedicationIDs, med.ID)
	}
	if len(resp.Delta.Medications) != 0 {
		t.Errorf("deleted record still in delta: %v", resp.Delta.Medications)
	}
}

func TestComputeExplicitFull(t *testing.T) {
	_, c, ps, ms := setupCoordinatorTest(t)

	p, _ := ps.Create("Margaret")
	ms.Create(p.ID, store.MedicationParams{Name: "Lisinopril", Dosage: "10mg", Active: true})
	first, _ := c.Compute(p.ID, model.SyncRequest{})

	resp, err := c.Compute(p.ID, model.SyncRequest{Versions: first.Full.Versions, Full: true})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if resp.Full == nil {
		t.Error("explicit full request did not return a snapshot")
	}
}

func TestComputeFullAfterTombstonePrune(t *testing.T) {
	db, c, ps, ms := setupCoordinatorTest(t)

	p, _ := ps.Create("Margaret")
	med, _ := ms.Create(p.ID, store.MedicationParams{Name: "Lisinopril", Dosage: "10mg", Active: true})
	stale, _ := c.Compute(p.ID, model.SyncRequest{})

	if err := ms.Delete(med.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.NewDeletionStore(db).Prune(-time.Second); err != nil {
		t.Fatalf("prune: %v", err)
	}

	// The tombstone this caller needed is gone; a delta would silently miss
	// the delete, so the coordinator upgrades to a full snapshot.
	resp, err := c.Compute(p.ID, model.SyncRequest{Versions: stale.Full.Versions})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if resp.Full == nil {
		t.Fatal("stale baseline past the pruning watermark did not force a full sync")
	}
	if len(resp.Full.Medications) != 0 {
		t.Errorf("deleted medication present in snapshot: %v", resp.Full.Medications)
	}
}

func TestComputeProfileDelta(t *testing.T) {
	_, c, ps, ms := setupCoordinatorTest(t)

	p, _ := ps.Create("Margaret")
	ms.Create(p.ID, store.MedicationParams{Name: "Lisinopril", Dosage: "10mg", Active: true})
	first, _ := c.Compute(p.ID, model.SyncRequest{})

	if _, err := ps.AddAllergy(p.ID, "Penicillin", "hives", "severe"); err != nil {
		t.Fatalf("add allergy: %v", err)
	}

	resp, err := c.Compute(p.ID, model.SyncRequest{Versions: first.Full.Versions})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if resp.Delta == nil || resp.Delta.Profile == nil {
		t.Fatal("allergy change did not surface the profile in the delta")
	}
	if len(resp.Delta.Profile.Allergies) != 1 {
		t.Errorf("allergies = %d, want 1", len(resp.Delta.Profile.Allergies))
	}
}
