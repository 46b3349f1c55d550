package store

import (
	"testing"
	"time"

	"github.com/ktiyab/coheara/internal/database"
)

func setupTicketTestDB(t *testing.T) (*TicketStore, *DeviceStore, *ProfileStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewTicketStore(db), NewDeviceStore(db), NewProfileStore(db)
}

func TestTicketRedeemOnce(t *testing.T) {
	ts, ds, ps := setupTicketTestDB(t)
	d := pairedDevice(t, ds, ps)

	ticket, ttl, err := ts.Issue(d.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if ttl <= 0 {
		t.Errorf("ttl = %v, want positive", ttl)
	}

	deviceID, err := ts.Redeem(ticket, time.Now())
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if deviceID != d.ID {
		t.Errorf("device = %s, want %s", deviceID, d.ID)
	}

	// Second redemption of the same ticket fails.
	again, err := ts.Redeem(ticket, time.Now())
	if err != nil {
		t.Fatalf("second redeem: %v", err)
	}
	if again != "" {
		t.Error("ticket redeemed twice")
	}
}

func TestTicketExpired(t *testing.T) {
	ts, ds, ps := setupTicketTestDB(t)
	d := pairedDevice(t, ds, ps)

	ticket, _, err := ts.Issue(d.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	got, err := ts.Redeem(ticket, time.Now().Add(WSTicketTTL+time.Second))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got != "" {
		t.Error("expired ticket redeemed")
	}
}

func TestTicketUnknown(t *testing.T) {
	ts, _, _ := setupTicketTestDB(t)

	got, err := ts.Redeem("no-such-ticket", time.Now())
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got != "" {
		t.Error("unknown ticket redeemed")
	}
}
