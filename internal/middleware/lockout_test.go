package middleware

import (
	"testing"
	"time"
)

func TestLockoutTriggersAfterThreshold(t *testing.T) {
	l := NewLockout()

	for i := 0; i < DefaultMaxFailures-1; i++ {
		l.RecordFailure("1.2.3.4")
		if l.Locked("1.2.3.4") {
			t.Fatalf("locked after %d failures", i+1)
		}
	}
	l.RecordFailure("1.2.3.4")
	if !l.Locked("1.2.3.4") {
		t.Error("not locked after threshold")
	}
	// Other sources are unaffected.
	if l.Locked("5.6.7.8") {
		t.Error("unrelated source locked")
	}
}

func TestLockoutReset(t *testing.T) {
	l := NewLockout()

	for i := 0; i < DefaultMaxFailures-1; i++ {
		l.RecordFailure("1.2.3.4")
	}
	l.Reset("1.2.3.4")
	l.RecordFailure("1.2.3.4")
	if l.Locked("1.2.3.4") {
		t.Error("locked despite reset")
	}
}

func TestLockoutWindowRollover(t *testing.T) {
	l := &Lockout{
		entries:     make(map[string]*lockoutEntry),
		maxFailures: 2,
		window:      10 * time.Millisecond,
		lockFor:     time.Minute,
	}

	l.RecordFailure("1.2.3.4")
	time.Sleep(15 * time.Millisecond)

	// The window expired, so the count restarts; failures in the fresh window
	// still have to reach the threshold on their own.
	l.RecordFailure("1.2.3.4")
	if l.Locked("1.2.3.4") {
		t.Fatal("locked after one failure in a fresh window")
	}
	l.RecordFailure("1.2.3.4")
	if !l.Locked("1.2.3.4") {
		t.Error("not locked after reaching the threshold in one window")
	}
}

func TestLockoutExpires(t *testing.T) {
	l := &Lockout{
		entries:     make(map[string]*lockoutEntry),
		maxFailures: 1,
		window:      time.Minute,
		lockFor:     10 * time.Millisecond,
	}

	l.RecordFailure("1.2.3.4")
	if !l.Locked("1.2.3.4") {
		t.Fatal("not locked")
	}
	time.Sleep(15 * time.Millisecond)
	if l.Locked("1.2.3.4") {
		t.Error("still locked past the lockout duration")
	}
}
