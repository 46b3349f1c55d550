package store

import (
	"testing"
	"time"

	"github.com/ktiyab/coheara/internal/database"
	"github.com/ktiyab/coheara/internal/model"
)

func setupSessionTestDB(t *testing.T) (*SessionStore, *DeviceStore, *ProfileStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSessionStore(db), NewDeviceStore(db), NewProfileStore(db)
}

func pairedDevice(t *testing.T, ds *DeviceStore, ps *ProfileStore) *model.PairedDevice {
	t.Helper()
	p, err := ps.Create("Margaret")
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	d, err := ds.Create("Margaret's phone", "Pixel 8", "a2V5", p.ID)
	if err != nil {
		t.Fatalf("create device: %v", err)
	}
	return d
}

func TestSessionIssueAndValidate(t *testing.T) {
	ss, ds, ps := setupSessionTestDB(t)
	d := pairedDevice(t, ds, ps)

	token, sess, err := ss.Issue(d.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(token) != 64 { // 32 bytes hex-encoded
		t.Errorf("token length = %d, want 64", len(token))
	}
	if sess.TokenHash == token {
		t.Error("stored hash equals raw token")
	}

	got, err := ss.Validate(d.ID, token, time.Now())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got == nil {
		t.Fatal("valid token rejected")
	}
}

func TestSessionValidateWrongToken(t *testing.T) {
	ss, ds, ps := setupSessionTestDB(t)
	d := pairedDevice(t, ds, ps)

	if _, _, err := ss.Issue(d.ID); err != nil {
		t.Fatalf("issue: %v", err)
	}

	got, err := ss.Validate(d.ID, "deadbeef", time.Now())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got != nil {
		t.Error("wrong token accepted")
	}
}

func TestSessionReissueReplaces(t *testing.T) {
	ss, ds, ps := setupSessionTestDB(t)
	d := pairedDevice(t, ds, ps)

	first, _, err := ss.Issue(d.ID)
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	second, _, err := ss.Issue(d.ID)
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}

	if got, _ := ss.Validate(d.ID, first, time.Now()); got != nil {
		t.Error("replaced token still accepted")
	}
	if got, _ := ss.Validate(d.ID, second, time.Now()); got == nil {
		t.Error("current token rejected")
	}
}

func TestSessionRotateKeepsOldTokenInGrace(t *testing.T) {
	ss, ds, ps := setupSessionTestDB(t)
	d := pairedDevice(t, ds, ps)

	old, _, err := ss.Issue(d.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	fresh, err := ss.Rotate(d.ID)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if fresh == old {
		t.Fatal("rotation returned the same token")
	}

	now := time.Now()
	if got, _ := ss.Validate(d.ID, fresh, now); got == nil {
		t.Error("fresh token rejected")
	}
	// In-flight requests still carry the old token inside the grace window.
	if got, _ := ss.Validate(d.ID, old, now); got == nil {
		t.Error("old token rejected inside grace window")
	}
	// Past the grace window the old token dies.
	if got, _ := ss.Validate(d.ID, old, now.Add(RotationGrace+time.Second)); got != nil {
		t.Error("old token accepted past grace window")
	}
}

func TestSessionExpiry(t *testing.T) {
	ss, ds, ps := setupSessionTestDB(t)
	d := pairedDevice(t, ds, ps)

	token, _, err := ss.Issue(d.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	past := time.Now().Add(SessionTTL + time.Hour)
	if got, _ := ss.Validate(d.ID, token, past); got != nil {
		t.Error("expired session accepted")
	}

	n, err := ss.DeleteExpired(past)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d sessions, want 1", n)
	}
	if sess, _ := ss.GetByDeviceID(d.ID); sess != nil {
		t.Error("expired session survived cleanup")
	}
}

func TestSessionStateTransitions(t *testing.T) {
	now := time.Now()
	grace := now.Add(time.Minute)
	sess := &model.DeviceSession{
		TokenHash: "h",
		ExpiresAt: now.Add(time.Hour),
	}

	if s := sess.State(now); s != model.SessionActive {
		t.Errorf("state = %s, want active", s)
	}

	sess.PrevTokenHash = "prev"
	sess.PrevExpiresAt = &grace
	if s := sess.State(now); s != model.SessionRotatingGrace {
		t.Errorf("state = %s, want rotating_grace", s)
	}

	if s := sess.State(now.Add(2 * time.Hour)); s != model.SessionExpired {
		t.Errorf("state = %s, want expired", s)
	}
}
