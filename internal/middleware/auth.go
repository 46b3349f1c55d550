package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ktiyab/coheara/internal/auth"
	"github.com/ktiyab/coheara/internal/store"
)

const (
	headerDeviceID  = "X-Device-Id"
	headerNonce     = "X-Request-Nonce"
	headerTimestamp = "X-Request-Timestamp"
	headerNewToken  = "X-New-Token"

	// maxClockSkew bounds how stale a request timestamp may be.
	maxClockSkew = 5 * time.Minute
)

// nonceCache remembers recently seen request nonces so a captured request
// cannot be replayed within the timestamp window.
type nonceCache struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	limit time.Duration
}

func newNonceCache(limit time.Duration) *nonceCache {
	return &nonceCache{seen: make(map[string]time.Time), limit: limit}
}

// remember returns false if the nonce was already used inside the window.
func (c *nonceCache) remember(nonce string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for n, at := range c.seen {
		if now.Sub(at) > c.limit {
			delete(c.seen, n)
		}
	}
	if _, dup := c.seen[nonce]; dup {
		return false
	}
	c.seen[nonce] = now
	return true
}

// DeviceAuth validates the device headers and bearer token, rejects revoked
// devices regardless of token validity, rotates aging tokens via the
// X-New-Token response header, and records failed attempts in the lockout
// tracker. The rotation grace window makes rotation race-safe for requests
// already in flight with the old token.
func DeviceAuth(devices *store.DeviceStore, sessions *store.SessionStore, lockout *Lockout, logger *slog.Logger) func(http.Handler) http.Handler {
	nonces := newNonceCache(maxClockSkew)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			source := RealIP(r)
			if lockout.Locked(source) {
				http.Error(w, "Too many failed attempts", http.StatusTooManyRequests)
				return
			}

			deviceID := r.Header.Get(headerDeviceID)
			token := bearerToken(r)
			nonce := r.Header.Get(headerNonce)
			tsHeader := r.Header.Get(headerTimestamp)
			if deviceID == "" || token == "" || nonce == "" || tsHeader == "" {
				lockout.RecordFailure(source)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			now := time.Now()
			ts, err := time.Parse(time.RFC3339, tsHeader)
			if err != nil || now.Sub(ts) > maxClockSkew || ts.Sub(now) > maxClockSkew {
				lockout.RecordFailure(source)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !nonces.remember(deviceID+":"+nonce, now) {
				lockout.RecordFailure(source)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			device, err := devices.GetByID(deviceID)
			if err != nil || device == nil || device.Revoked() {
				lockout.RecordFailure(source)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			sess, err := sessions.Validate(deviceID, token, now)
			if err != nil || sess == nil {
				lockout.RecordFailure(source)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			lockout.Reset(source)
			if err := devices.TouchLastSeen(deviceID); err != nil {
				logger.Warn("touch last seen", "device_id", deviceID, "error", err)
			}

			// Rotate aging tokens opportunistically. The old token stays
			// valid for the grace window.
			if now.Sub(sess.CreatedAt) > store.RotateAfter {
				if newToken, err := sessions.Rotate(deviceID); err == nil {
					w.Header().Set(headerNewToken, newToken)
				} else {
					logger.Warn("rotate session token", "device_id", deviceID, "error", err)
				}
			} else {
				if err := sessions.Touch(deviceID); err != nil {
					logger.Warn("touch session", "device_id", deviceID, "error", err)
				}
			}

			dc := auth.DeviceContext{
				DeviceID:  deviceID,
				ProfileID: device.ProfileID,
			}
			next.ServeHTTP(w, r.WithContext(auth.WithDevice(r.Context(), dc)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
