package store

import (
	"testing"

	"github.com/ktiyab/coheara/internal/database"
)

func setupDeviceTestDB(t *testing.T) (*DeviceStore, *ProfileStore, *SessionStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewDeviceStore(db), NewProfileStore(db), NewSessionStore(db)
}

func TestDeviceCreateGrantsOwnerProfile(t *testing.T) {
	ds, ps, _ := setupDeviceTestDB(t)

	p, _ := ps.Create("Margaret")
	d, err := ds.Create("Margaret's phone", "Pixel 8", "a2V5", p.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.ID == "" {
		t.Error("empty device id")
	}

	ok, err := ds.HasAccess(d.ID, p.ID)
	if err != nil {
		t.Fatalf("has access: %v", err)
	}
	if !ok {
		t.Error("device lacks access to its owner profile")
	}

	profiles, err := ds.AccessibleProfiles(d.ID)
	if err != nil {
		t.Fatalf("accessible: %v", err)
	}
	if len(profiles) != 1 || profiles[0] != p.ID {
		t.Errorf("accessible = %v, want [%d]", profiles, p.ID)
	}
}

func TestDeviceProfileGrants(t *testing.T) {
	ds, ps, _ := setupDeviceTestDB(t)

	owner, _ := ps.Create("Margaret")
	other, _ := ps.Create("Harold")
	d, _ := ds.Create("Margaret's phone", "Pixel 8", "a2V5", owner.ID)

	if ok, _ := ds.HasAccess(d.ID, other.ID); ok {
		t.Fatal("access to ungranted profile")
	}

	if err := ds.GrantProfileAccess(d.ID, other.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if ok, _ := ds.HasAccess(d.ID, other.ID); !ok {
		t.Error("granted profile not accessible")
	}

	if err := ds.RevokeProfileAccess(d.ID, other.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, _ := ds.HasAccess(d.ID, other.ID); ok {
		t.Error("revoked profile still accessible")
	}
}

func TestProfileToProfileGrantExtendsDeviceAccess(t *testing.T) {
	ds, ps, _ := setupDeviceTestDB(t)

	owner, _ := ps.Create("Margaret")
	other, _ := ps.Create("Harold")
	d, _ := ds.Create("Margaret's phone", "Pixel 8", "a2V5", owner.ID)

	// Harold shares his record with Margaret; her devices see it.
	if err := ds.GrantProfileToProfile(other.ID, owner.ID); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if ok, _ := ds.HasAccess(d.ID, other.ID); !ok {
		t.Error("profile grant not visible through device")
	}

	if err := ds.RevokeProfileGrant(other.ID, owner.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, _ := ds.HasAccess(d.ID, other.ID); ok {
		t.Error("revoked profile grant still honored")
	}
}

func TestDeviceRevokeKillsSession(t *testing.T) {
	ds, ps, ss := setupDeviceTestDB(t)

	p, _ := ps.Create("Margaret")
	d, _ := ds.Create("Margaret's phone", "Pixel 8", "a2V5", p.ID)
	if _, _, err := ss.Issue(d.ID); err != nil {
		t.Fatalf("issue session: %v", err)
	}

	if err := ds.Revoke(d.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	got, err := ds.GetByID(d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.RevokedAt == nil {
		t.Error("device not marked revoked")
	}
	if sess, _ := ss.GetByDeviceID(d.ID); sess != nil {
		t.Error("revoked device still holds a session")
	}
	if ok, _ := ds.HasAccess(d.ID, p.ID); ok {
		t.Error("revoked device retains profile access")
	}
}
