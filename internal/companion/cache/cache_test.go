package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ktiyab/coheara/internal/model"
)

func setupCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func snapshot(now time.Time) *model.SyncPayload {
	return &model.SyncPayload{
		Profile: &model.Profile{ID: 1, Name: "Margaret"},
		Medications: []model.Medication{
			{ID: "med-1", ProfileID: 1, Name: "Lisinopril", Dosage: "10mg", Active: true},
			{ID: "med-2", ProfileID: 1, Name: "Metformin", Dosage: "500mg", Active: true},
		},
		Labs:          []model.LabResult{{ID: "lab-1", ProfileID: 1, TestName: "A1C", Value: "6.1"}},
		Timeline:      []model.TimelineEvent{},
		Alerts:        []model.Alert{},
		Appointments:  []model.Appointment{{ID: "appt-1", ProfileID: 1, Professional: "Dr. Chen", ScheduledAt: now.Add(48 * time.Hour)}},
		Conversations: []model.Conversation{},
		Versions:      model.SyncVersions{Medications: 5, Labs: 3, Timeline: 1, Alerts: 1, Appointments: 2, Profile: 1, Conversations: 1},
		SyncedAt:      now,
	}
}

func TestApplyFullReplacesEverything(t *testing.T) {
	c := setupCache(t)
	now := time.Now().UTC().Truncate(time.Second)

	if err := c.ApplyFull(snapshot(now)); err != nil {
		t.Fatalf("apply full: %v", err)
	}

	meds, err := c.Medications()
	if err != nil {
		t.Fatalf("read medications: %v", err)
	}
	if len(meds) != 2 {
		t.Errorf("medications = %d, want 2", len(meds))
	}

	p, err := c.Profile()
	if err != nil {
		t.Fatalf("read profile: %v", err)
	}
	if p == nil || p.Name != "Margaret" {
		t.Error("profile not cached")
	}

	v, err := c.Versions()
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if v.Medications != 5 || v.Labs != 3 {
		t.Errorf("versions = %+v", v)
	}

	last, err := c.LastSyncedAt()
	if err != nil {
		t.Fatalf("last synced: %v", err)
	}
	if last == nil {
		t.Fatal("last synced not recorded")
	}

	// A second full snapshot replaces, never merges.
	smaller := snapshot(now)
	smaller.Medications = smaller.Medications[:1]
	if err := c.ApplyFull(smaller); err != nil {
		t.Fatalf("apply second full: %v", err)
	}
	meds, _ = c.Medications()
	if len(meds) != 1 {
		t.Errorf("after replacement medications = %d, want 1", len(meds))
	}
}

func TestApplyFullIsIdempotent(t *testing.T) {
	c := setupCache(t)
	now := time.Now().UTC().Truncate(time.Second)

	if err := c.ApplyFull(snapshot(now)); err != nil {
		t.Fatalf("apply full: %v", err)
	}
	if err := c.ApplyFull(snapshot(now)); err != nil {
		t.Fatalf("apply full again: %v", err)
	}

	meds, err := c.Medications()
	if err != nil {
		t.Fatalf("read medications: %v", err)
	}
	if len(meds) != 2 {
		t.Errorf("medications = %d, want 2", len(meds))
	}
	labs, err := c.Labs()
	if err != nil {
		t.Fatalf("read labs: %v", err)
	}
	if len(labs) != 1 {
		t.Errorf("labs = %d, want 1", len(labs))
	}
	v, err := c.Versions()
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if v.Medications != 5 {
		t.Errorf("versions.medications = %d, want 5", v.Medications)
	}
}

func TestApplyDeltaUpsertsAndTombstones(t *testing.T) {
	c := setupCache(t)
	now := time.Now().UTC()

	if err := c.ApplyFull(snapshot(now)); err != nil {
		t.Fatalf("apply full: %v", err)
	}

	delta := &model.DeltaPayload{
		Medications: []model.Medication{
			{ID: "med-1", ProfileID: 1, Name: "Lisinopril", Dosage: "20mg", Active: true}, // dose change
			{ID: "med-3", ProfileID: 1, Name: "Atorvastatin", Dosage: "40mg", Active: true},
		},
		RemovedMedicationIDs: []string{"med-2"},
		Versions:             model.SyncVersions{Medications: 8, Labs: 3, Timeline: 1, Alerts: 1, Appointments: 2, Profile: 1, Conversations: 1},
		SyncedAt:             now.Add(time.Minute),
	}
	if err := c.ApplyDelta(delta); err != nil {
		t.Fatalf("apply delta: %v", err)
	}

	meds, err := c.Medications()
	if err != nil {
		t.Fatalf("read medications: %v", err)
	}
	if len(meds) != 2 {
		t.Fatalf("medications = %d, want 2 (one updated, one added, one removed)", len(meds))
	}
	byID := map[string]model.Medication{}
	for _, m := range meds {
		byID[m.ID] = m
	}
	if byID["med-1"].Dosage != "20mg" {
		t.Errorf("med-1 dosage = %s, want 20mg", byID["med-1"].Dosage)
	}
	if _, ok := byID["med-2"]; ok {
		t.Error("tombstoned med-2 still cached")
	}
	if _, ok := byID["med-3"]; !ok {
		t.Error("new med-3 not cached")
	}

	// Untouched collections survive the delta.
	labs, _ := c.Labs()
	if len(labs) != 1 {
		t.Errorf("labs = %d, want 1", len(labs))
	}

	v, _ := c.Versions()
	if v.Medications != 8 {
		t.Errorf("medications version = %d, want 8", v.Medications)
	}
}

func TestRemoveExpiredAppointments(t *testing.T) {
	c := setupCache(t)
	now := time.Now().UTC()

	p := snapshot(now)
	p.Appointments = append(p.Appointments, model.Appointment{
		ID: "appt-old", ProfileID: 1, Professional: "Dr. Chen", ScheduledAt: now.Add(-48 * time.Hour),
	})
	if err := c.ApplyFull(p); err != nil {
		t.Fatalf("apply full: %v", err)
	}

	n, err := c.RemoveExpiredAppointments(now)
	if err != nil {
		t.Fatalf("remove expired: %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d, want 1", n)
	}

	appts, _ := c.Appointments()
	if len(appts) != 1 || appts[0].ID != "appt-1" {
		t.Errorf("appointments = %v, want just the upcoming one", appts)
	}
}

func TestFreshnessTiers(t *testing.T) {
	c := setupCache(t)
	now := time.Now().UTC()

	// Never synced: red with a warning.
	f, err := c.Freshness(now)
	if err != nil {
		t.Fatalf("freshness: %v", err)
	}
	if f.Tier != FreshnessRed || f.Warning == "" {
		t.Errorf("never synced: tier = %s warning = %q", f.Tier, f.Warning)
	}

	p := snapshot(now)
	if err := c.ApplyFull(p); err != nil {
		t.Fatalf("apply full: %v", err)
	}

	cases := []struct {
		age      time.Duration
		tier     FreshnessTier
		warnWant bool
	}{
		{30 * time.Minute, FreshnessGreen, false},
		{3 * time.Hour, FreshnessNeutral, false},
		{36 * time.Hour, FreshnessAmber, true},
		{8 * 24 * time.Hour, FreshnessRed, true},
	}
	for _, tc := range cases {
		f, err := c.Freshness(now.Add(tc.age))
		if err != nil {
			t.Fatalf("freshness at +%v: %v", tc.age, err)
		}
		if f.Tier != tc.tier {
			t.Errorf("age %v: tier = %s, want %s", tc.age, f.Tier, tc.tier)
		}
		if (f.Warning != "") != tc.warnWant {
			t.Errorf("age %v: warning = %q, want warning=%v", tc.age, f.Warning, tc.warnWant)
		}
	}
}

func TestWipeFullAndVerify(t *testing.T) {
	c := setupCache(t)
	now := time.Now().UTC()

	if err := c.ApplyFull(snapshot(now)); err != nil {
		t.Fatalf("apply full: %v", err)
	}
	if _, err := c.AddQuestion("Ask about the new dosage"); err != nil {
		t.Fatalf("add question: %v", err)
	}

	// Populated cache fails verification.
	if err := c.VerifyWiped(WipeFull); err == nil {
		t.Error("VerifyWiped passed on a populated cache")
	}

	if err := c.Wipe(WipeFull); err != nil {
		t.Fatalf("wipe: %v", err)
	}
	if err := c.VerifyWiped(WipeFull); err != nil {
		t.Errorf("verify after wipe: %v", err)
	}

	meds, _ := c.Medications()
	if len(meds) != 0 {
		t.Error("medications survived wipe")
	}
	qs, _ := c.PendingQuestions()
	if len(qs) != 0 {
		t.Error("deferred questions survived full wipe")
	}
	v, _ := c.Versions()
	if v.Medications != 0 {
		t.Error("versions not reset, next sync would be a delta")
	}
	last, _ := c.LastSyncedAt()
	if last != nil {
		t.Error("last synced not cleared")
	}
}

func TestWipeHealthOnlyKeepsQuestions(t *testing.T) {
	c := setupCache(t)
	now := time.Now().UTC()

	if err := c.ApplyFull(snapshot(now)); err != nil {
		t.Fatalf("apply full: %v", err)
	}
	if _, err := c.AddQuestion("Ask about the new dosage"); err != nil {
		t.Fatalf("add question: %v", err)
	}

	if err := c.Wipe(WipeHealthOnly); err != nil {
		t.Fatalf("wipe: %v", err)
	}

	meds, _ := c.Medications()
	if len(meds) != 0 {
		t.Error("medications survived wipe")
	}
	qs, err := c.PendingQuestions()
	if err != nil {
		t.Fatalf("pending questions: %v", err)
	}
	if len(qs) != 1 {
		t.Errorf("questions = %d, want 1 preserved", len(qs))
	}

	// Verification is scoped the same way the wipe is: the kept questions are
	// fine for health_only but would flunk a full-wipe check.
	if err := c.VerifyWiped(WipeHealthOnly); err != nil {
		t.Errorf("verify health_only wipe: %v", err)
	}
	if err := c.VerifyWiped(WipeFull); err == nil {
		t.Error("full-wipe verification ignored surviving deferred questions")
	}
}

func TestDeferredQuestionLifecycle(t *testing.T) {
	c := setupCache(t)

	q1, err := c.AddQuestion("Is the dizziness related to the new dose?")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	q2, err := c.AddQuestion("Renew the prescription?")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	pending, err := c.PendingQuestions()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	// Oldest first, so they are raised in the order they came up.
	if pending[0].ID != q1.ID {
		t.Error("pending questions not oldest-first")
	}

	if err := c.MarkAsked([]string{q1.ID}); err != nil {
		t.Fatalf("mark asked: %v", err)
	}
	pending, _ = c.PendingQuestions()
	if len(pending) != 1 || pending[0].ID != q2.ID {
		t.Errorf("pending after ask = %v, want just q2", pending)
	}

	// Clearing is by id batch and only touches asked questions: q2 is still
	// pending, so asking to clear both removes just q1.
	n, err := c.ClearAsked([]string{q1.ID, q2.ID})
	if err != nil {
		t.Fatalf("clear asked: %v", err)
	}
	if n != 1 {
		t.Errorf("cleared %d, want 1", n)
	}
	pending, _ = c.PendingQuestions()
	if len(pending) != 1 || pending[0].ID != q2.ID {
		t.Errorf("pending after clear = %v, want q2 untouched", pending)
	}
}
