package store

import (
	"testing"
	"time"

	"github.com/ktiyab/coheara/internal/database"
	"github.com/ktiyab/coheara/internal/model"
)

func setupPairingTestDB(t *testing.T) *PairingStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPairingStore(db)
}

func TestPairingStateMachine(t *testing.T) {
	ps := setupPairingTestDB(t)

	sess, err := ps.Create("pinhash")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.State != model.PairingPending {
		t.Errorf("state = %s, want pending", sess.State)
	}

	ok, err := ps.SubmitKey(sess.ID, "Phone", "Pixel 8", "a2V5", time.Now())
	if err != nil {
		t.Fatalf("submit key: %v", err)
	}
	if !ok {
		t.Fatal("submit key found no pending session")
	}

	// Key submission only lands once.
	ok, err = ps.SubmitKey(sess.ID, "Phone", "Pixel 8", "a2V5", time.Now())
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if ok {
		t.Error("key submitted twice on one session")
	}

	ok, err = ps.Complete(sess.ID, []byte("sealed"), time.Now())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !ok {
		t.Fatal("complete found no confirmed session")
	}

	got, err := ps.GetByID(sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != model.PairingComplete {
		t.Errorf("state = %s, want complete", got.State)
	}
}

func TestPairingTakeTokenOnce(t *testing.T) {
	ps := setupPairingTestDB(t)

	sess, _ := ps.Create("pinhash")
	ps.SubmitKey(sess.ID, "Phone", "", "a2V5", time.Now())
	ps.Complete(sess.ID, []byte("sealed"), time.Now())

	blob, err := ps.TakeToken(sess.ID, time.Now())
	if err != nil {
		t.Fatalf("take token: %v", err)
	}
	if string(blob) != "sealed" {
		t.Errorf("blob = %q, want sealed", blob)
	}

	again, err := ps.TakeToken(sess.ID, time.Now())
	if err != nil {
		t.Fatalf("second take: %v", err)
	}
	if again != nil {
		t.Error("token taken twice")
	}
}

func TestPairingExpiredSessionIgnored(t *testing.T) {
	ps := setupPairingTestDB(t)

	sess, _ := ps.Create("pinhash")
	future := time.Now().Add(PairingTTL + time.Minute)

	if ok, _ := ps.SubmitKey(sess.ID, "Phone", "", "a2V5", future); ok {
		t.Error("expired session accepted a key")
	}

	n, err := ps.DeleteExpired(future)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d sessions, want 1", n)
	}
}
