package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/ktiyab/coheara/internal/database"
)

func setupLedgerTestDB(t *testing.T) (*sql.DB, *ProfileStore, *MedicationStore, *VersionStore, *DeletionStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, NewProfileStore(db), NewMedicationStore(db), NewVersionStore(db), NewDeletionStore(db)
}

func medRowVersion(t *testing.T, db *sql.DB, id string) int64 {
	t.Helper()
	var v int64
	if err := db.QueryRow(`SELECT row_version FROM medications WHERE id = ?`, id).Scan(&v); err != nil {
		t.Fatalf("read row_version: %v", err)
	}
	return v
}

func TestVersionBumpsOnMutation(t *testing.T) {
	db, ps, ms, vs, _ := setupLedgerTestDB(t)

	p, err := ps.Create("Margaret")
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}

	before, err := vs.Current()
	if err != nil {
		t.Fatalf("read versions: %v", err)
	}

	med, err := ms.Create(p.ID, MedicationParams{Name: "Lisinopril", Dosage: "10mg", Frequency: "daily", Active: true})
	if err != nil {
		t.Fatalf("create medication: %v", err)
	}

	after, err := vs.Current()
	if err != nil {
		t.Fatalf("read versions: %v", err)
	}
	if after.Medications != before.Medications+1 {
		t.Errorf("medications version = %d, want %d", after.Medications, before.Medications+1)
	}
	if rv := medRowVersion(t, db, med.ID); rv != after.Medications {
		t.Errorf("row stamped with version %d, ledger at %d", rv, after.Medications)
	}
	// Other counters stay put.
	if after.Labs != before.Labs {
		t.Errorf("labs version moved from %d to %d on a medication write", before.Labs, after.Labs)
	}
}

func TestListChangedFiltersByVersion(t *testing.T) {
	db, ps, ms, vs, _ := setupLedgerTestDB(t)

	p, _ := ps.Create("Margaret")
	first, err := ms.Create(p.ID, MedicationParams{Name: "Lisinopril", Dosage: "10mg", Active: true})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	mid, _ := vs.Current()
	second, err := ms.Create(p.ID, MedicationParams{Name: "Metformin", Dosage: "500mg", Active: true})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	changed, err := ms.ListChanged(db, p.ID, mid.Medications)
	if err != nil {
		t.Fatalf("list changed: %v", err)
	}
	if len(changed) != 1 {
		t.Fatalf("changed count = %d, want 1", len(changed))
	}
	if changed[0].ID != second.ID {
		t.Errorf("changed id = %s, want %s", changed[0].ID, second.ID)
	}

	all, err := ms.ListChanged(db, p.ID, 0)
	if err != nil {
		t.Fatalf("list changed from zero: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("count from zero = %d, want 2", len(all))
	}
	_ = first
}

func TestUpdateRestampsRowVersion(t *testing.T) {
	db, ps, ms, vs, _ := setupLedgerTestDB(t)

	p, _ := ps.Create("Margaret")
	med, _ := ms.Create(p.ID, MedicationParams{Name: "Lisinopril", Dosage: "10mg", Active: true})
	createdRV := medRowVersion(t, db, med.ID)

	if _, err := ms.Update(med.ID, MedicationParams{Name: "Lisinopril", Dosage: "20mg", Active: true}); err != nil {
		t.Fatalf("update: %v", err)
	}
	updatedRV := medRowVersion(t, db, med.ID)
	if updatedRV <= createdRV {
		t.Errorf("row version %d not advanced past %d", updatedRV, createdRV)
	}

	v, _ := vs.Current()
	if updatedRV != v.Medications {
		t.Errorf("row version %d != ledger %d", updatedRV, v.Medications)
	}
}

func TestDeleteWritesTombstone(t *testing.T) {
	db, ps, ms, vs, ds := setupLedgerTestDB(t)

	p, _ := ps.Create("Margaret")
	med, _ := ms.Create(p.ID, MedicationParams{Name: "Lisinopril", Dosage: "10mg", Active: true})
	baseline, _ := vs.Current()

	if err := ms.Delete(med.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	ids, err := ds.IDsSince(db, "medications", p.ID, baseline.Medications)
	if err != nil {
		t.Fatalf("tombstones since: %v", err)
	}
	if len(ids) != 1 || ids[0] != med.ID {
		t.Errorf("tombstones = %v, want [%s]", ids, med.ID)
	}

	// The delete itself bumps the ledger so other devices notice.
	after, _ := vs.Current()
	if after.Medications != baseline.Medications+1 {
		t.Errorf("medications version = %d, want %d", after.Medications, baseline.Medications+1)
	}

	// Nothing before the deletion version.
	none, _ := ds.IDsSince(db, "medications", p.ID, after.Medications)
	if len(none) != 0 {
		t.Errorf("expected no tombstones past current version, got %v", none)
	}
}

func TestRecreateClearsTombstone(t *testing.T) {
	db, ps, ms, _, ds := setupLedgerTestDB(t)

	p, _ := ps.Create("Margaret")
	med, _ := ms.Create(p.ID, MedicationParams{Name: "Lisinopril", Dosage: "10mg", Active: true})
	if err := ms.Delete(med.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// A fresh record reuses nothing, but creating any medication must not
	// resurrect the old tombstone either.
	if _, err := ms.Create(p.ID, MedicationParams{Name: "Lisinopril", Dosage: "10mg", Active: true}); err != nil {
		t.Fatalf("recreate: %v", err)
	}

	ids, err := ds.IDsSince(db, "medications", p.ID, 0)
	if err != nil {
		t.Fatalf("tombstones: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("tombstone count = %d, want 1", len(ids))
	}
}

func TestTombstonesScopedToProfile(t *testing.T) {
	db, ps, ms, _, ds := setupLedgerTestDB(t)

	margaret, _ := ps.Create("Margaret")
	harold, _ := ps.Create("Harold")
	his, err := ms.Create(harold.ID, MedicationParams{Name: "Warfarin", Dosage: "5mg", Active: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ms.Delete(his.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Harold's delete must never surface in Margaret's delta.
	ids, err := ds.IDsSince(db, "medications", margaret.ID, 0)
	if err != nil {
		t.Fatalf("tombstones: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("tombstones for other profile leaked: %v", ids)
	}

	ids, err = ds.IDsSince(db, "medications", harold.ID, 0)
	if err != nil {
		t.Fatalf("tombstones: %v", err)
	}
	if len(ids) != 1 || ids[0] != his.ID {
		t.Errorf("owner tombstones = %v, want [%s]", ids, his.ID)
	}
}

func TestPruneAdvancesWatermark(t *testing.T) {
	db, ps, ms, vs, ds := setupLedgerTestDB(t)

	p, _ := ps.Create("Margaret")
	med, _ := ms.Create(p.ID, MedicationParams{Name: "Lisinopril", Dosage: "10mg", Active: true})
	if err := ms.Delete(med.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// A retention of zero makes every tombstone old enough to prune.
	n, err := ds.Prune(-time.Second)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d tombstones, want 1", n)
	}

	ids, _ := ds.IDsSince(db, "medications", p.ID, 0)
	if len(ids) != 0 {
		t.Errorf("tombstones after prune = %v, want none", ids)
	}

	pruned, err := vs.PrunedIn(db)
	if err != nil {
		t.Fatalf("pruned versions: %v", err)
	}
	current, _ := vs.Current()
	if pruned.Medications == 0 {
		t.Error("pruned watermark not advanced")
	}
	if pruned.Medications > current.Medications {
		t.Errorf("watermark %d past ledger %d", pruned.Medications, current.Medications)
	}
}

func TestDoseChangeBumpsMedications(t *testing.T) {
	_, ps, ms, vs, _ := setupLedgerTestDB(t)

	p, _ := ps.Create("Margaret")
	med, _ := ms.Create(p.ID, MedicationParams{Name: "Lisinopril", Dosage: "10mg", Active: true})
	before, _ := vs.Current()

	change, err := ms.RecordDoseChange(med.ID, "20mg", "BP still elevated")
	if err != nil {
		t.Fatalf("record dose change: %v", err)
	}
	if change.OldDosage != "10mg" || change.NewDosage != "20mg" {
		t.Errorf("dose change %s -> %s, want 10mg -> 20mg", change.OldDosage, change.NewDosage)
	}

	after, _ := vs.Current()
	if after.Medications != before.Medications+1 {
		t.Errorf("version = %d, want %d", after.Medications, before.Medications+1)
	}

	got, err := ms.GetByID(med.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Dosage != "20mg" {
		t.Errorf("dosage = %s, want 20mg", got.Dosage)
	}

	history, err := ms.DoseHistory(med.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history length = %d, want 1", len(history))
	}
}
