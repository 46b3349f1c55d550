package model

import "time"

// PairedDevice is a mobile companion that completed pairing. PublicKey is the
// device's long-lived curve25519 public key, stored base64-encoded.
type PairedDevice struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Model      string     `json:"model,omitempty"`
	PublicKey  string     `json:"public_key"`
	ProfileID  int64      `json:"profile_id"`
	PairedAt   time.Time  `json:"paired_at"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Revoked reports whether the device has been unpaired.
func (d *PairedDevice) Revoked() bool {
	return d.RevokedAt != nil
}

// SessionState classifies a device session's rotation state.
type SessionState string

const (
	SessionActive        SessionState = "active"
	SessionRotatingGrace SessionState = "rotating_grace"
	SessionExpired       SessionState = "expired"
)

// DeviceSession is the unit of authentication for REST calls. Only token
// hashes are persisted; the bearer token itself is returned once at issuance
// or rotation. During the rotation grace window the previous hash stays valid
// so in-flight requests started with the old token still succeed.
type DeviceSession struct {
	DeviceID      string     `json:"device_id"`
	TokenHash     string     `json:"-"`
	PrevTokenHash string     `json:"-"`
	PrevExpiresAt *time.Time `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	LastUsedAt    time.Time  `json:"last_used_at"`
}

// State returns the session's rotation state at the given instant.
func (s *DeviceSession) State(now time.Time) SessionState {
	if now.After(s.ExpiresAt) {
		return SessionExpired
	}
	if s.PrevTokenHash != "" && s.PrevExpiresAt != nil && now.Before(*s.PrevExpiresAt) {
		return SessionRotatingGrace
	}
	return SessionActive
}

// PairingState is the lifecycle of an in-flight pairing attempt. Both ends
// must confirm: the phone by submitting its key with the right PIN, the
// desktop by approving the parked request.
type PairingState string

const (
	PairingPending        PairingState = "pending"
	PairingPhoneConfirmed PairingState = "phone_confirmed"
	PairingComplete       PairingState = "complete"
	PairingExpired        PairingState = "expired"
)

// PairingSession is one QR/PIN pairing exchange in progress.
type PairingSession struct {
	ID          string       `json:"id"`
	PINHash     string       `json:"-"`
	State       PairingState `json:"state"`
	DeviceName  string       `json:"device_name,omitempty"`
	DeviceModel string       `json:"device_model,omitempty"`
	PublicKey   string       `json:"-"`
	EncToken    []byte       `json:"-"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// WSTicket is a one-time short-TTL credential authorizing a single WebSocket
// upgrade, so the long-lived bearer token never appears in a URL.
type WSTicket struct {
	ID         string     `json:"-"`
	TicketHash string     `json:"-"`
	DeviceID   string     `json:"device_id"`
	ExpiresAt  time.Time  `json:"expires_at"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ProfileAccess is a directed, revocable edge granting a device read access
// to a profile's collections.
type ProfileAccess struct {
	DeviceID  string     `json:"device_id"`
	ProfileID int64      `json:"profile_id"`
	GrantedAt time.Time  `json:"granted_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// ProfileGrant is a directed, revocable profile-to-profile read grant
// (owner shares a managed profile with another profile's devices).
type ProfileGrant struct {
	FromProfileID int64      `json:"from_profile_id"`
	ToProfileID   int64      `json:"to_profile_id"`
	GrantedAt     time.Time  `json:"granted_at"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
}
