package middleware

import (
	"sync"
	"time"
)

const (
	// DefaultMaxFailures failed pairing/auth attempts per window trigger a
	// timed lockout for the source.
	DefaultMaxFailures = 5
	DefaultWindow      = time.Minute
	DefaultLockFor     = 15 * time.Minute
)

type lockoutEntry struct {
	failures    int
	windowAt    time.Time
	lockedUntil time.Time
}

// Lockout tracks failed authentication attempts per source identity and
// imposes a timed lockout after too many failures in one window.
type Lockout struct {
	mu          sync.Mutex
	entries     map[string]*lockoutEntry
	maxFailures int
	window      time.Duration
	lockFor     time.Duration
}

func NewLockout() *Lockout {
	return &Lockout{
		entries:     make(map[string]*lockoutEntry),
		maxFailures: DefaultMaxFailures,
		window:      DefaultWindow,
		lockFor:     DefaultLockFor,
	}
}

// Locked reports whether the source is currently locked out.
func (l *Lockout) Locked(source string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[source]
	if !ok {
		return false
	}
	return time.Now().Before(e.lockedUntil)
}

// RecordFailure counts one failed attempt; crossing the threshold within the
// window starts the lockout timer.
func (l *Lockout) RecordFailure(source string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e, ok := l.entries[source]
	if !ok || now.After(e.windowAt) {
		e = &lockoutEntry{windowAt: now.Add(l.window)}
		l.entries[source] = e
	}
	e.failures++
	if e.failures >= l.maxFailures {
		e.lockedUntil = now.Add(l.lockFor)
	}
}

// Reset clears the failure count after a successful authentication.
func (l *Lockout) Reset(source string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, source)
}

// Cleanup removes stale entries. Run from the hub's cleanup loop.
func (l *Lockout) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for source, e := range l.entries {
		if now.After(e.windowAt) && now.After(e.lockedUntil) {
			delete(l.entries, source)
		}
	}
}
