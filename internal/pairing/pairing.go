// Package pairing implements the hub side of device pairing: QR/PIN issuance,
// curve25519 key exchange, split approval, and session issuance.
package pairing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/ktiyab/coheara/internal/model"
	"github.com/ktiyab/coheara/internal/store"
)

var (
	ErrNotFound     = errors.New("pairing session not found")
	ErrExpired      = errors.New("pairing session expired")
	ErrBadPIN       = errors.New("wrong pairing PIN")
	ErrBadPublicKey = errors.New("invalid device public key")
	ErrWrongState   = errors.New("pairing session in wrong state")
)

// Invite is what the desktop renders as a QR code: the session id, the PIN
// the user reads out, and the hub's ephemeral public key for this exchange.
type Invite struct {
	SessionID    string    `json:"session_id"`
	PIN          string    `json:"pin"`
	HubPublicKey string    `json:"hub_public_key"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Completion is the result of desktop approval: the registered device and the
// confirmation fingerprint both screens display so the user can confirm the
// exchange was not intercepted. The bearer token itself goes to the phone
// sealed; the desktop never sees it.
type Completion struct {
	Device      *model.PairedDevice
	Fingerprint string
}

// Authority drives the pairing state machine:
// Unpaired -> Pairing -> Paired -> (Revoked | session expiry -> re-auth).
// The phone confirms by submitting its key with the right PIN; the desktop
// confirms by approving the parked request. Neither side alone completes the
// exchange, which closes the race where one side assumes success early.
type Authority struct {
	pairings *store.PairingStore
	devices  *store.DeviceStore
	sessions *store.SessionStore
	logger   *slog.Logger

	mu       sync.Mutex
	hubPrivs map[string][]byte // pairing session id -> ephemeral hub private key
}

func NewAuthority(pairings *store.PairingStore, devices *store.DeviceStore, sessions *store.SessionStore, logger *slog.Logger) *Authority {
	return &Authority{
		pairings: pairings,
		devices:  devices,
		sessions: sessions,
		logger:   logger,
		hubPrivs: make(map[string][]byte),
	}
}

// Begin opens a pairing session: a fresh 6-digit PIN and an ephemeral hub
// curve25519 keypair. The private half never leaves memory; a hub restart
// simply expires the attempt.
func (a *Authority) Begin() (*Invite, error) {
	pin, err := newPIN()
	if err != nil {
		return nil, err
	}

	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("generate hub key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive hub public key: %w", err)
	}

	sess, err := a.pairings.Create(hashPIN(pin))
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.hubPrivs[sess.ID] = priv
	a.mu.Unlock()

	a.logger.Info("pairing session opened", "session_id", sess.ID, "expires_at", sess.ExpiresAt)
	return &Invite{
		SessionID:    sess.ID,
		PIN:          pin,
		HubPublicKey: base64.StdEncoding.EncodeToString(pub),
		ExpiresAt:    sess.ExpiresAt,
	}, nil
}

// SubmitKey is the phone's half of the confirmation: PIN plus its long-lived
// curve25519 public key. On success the session parks in phone_confirmed
// until the desktop approves.
func (a *Authority) SubmitKey(sessionID, pin, deviceName, deviceModel, publicKeyB64 string) error {
	sess, err := a.pairings.GetByID(sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotFound
	}
	now := time.Now()
	if now.After(sess.ExpiresAt) {
		return ErrExpired
	}
	if sess.State != model.PairingPending {
		return ErrWrongState
	}
	if subtle.ConstantTimeCompare([]byte(hashPIN(pin)), []byte(sess.PINHash)) != 1 {
		return ErrBadPIN
	}
	if _, err := decodePublicKey(publicKeyB64); err != nil {
		return err
	}

	ok, err := a.pairings.SubmitKey(sessionID, deviceName, deviceModel, publicKeyB64, now)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWrongState
	}
	a.logger.Info("pairing key submitted", "session_id", sessionID, "device_name", deviceName)
	return nil
}

// Approve is the desktop's half: it registers the device under ownerProfileID,
// issues its first session token, and computes the confirmation fingerprint
// from the X25519 shared secret.
func (a *Authority) Approve(sessionID string, ownerProfileID int64) (*Completion, error) {
	sess, err := a.pairings.GetByID(sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	now := time.Now()
	if now.After(sess.ExpiresAt) {
		return nil, ErrExpired
	}
	if sess.State != model.PairingPhoneConfirmed {
		return nil, ErrWrongState
	}

	devicePub, err := decodePublicKey(sess.PublicKey)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	priv, ok := a.hubPrivs[sessionID]
	a.mu.Unlock()
	if !ok {
		// Hub restarted mid-pairing; the attempt must start over.
		return nil, ErrExpired
	}

	shared, err := curve25519.X25519(priv, devicePub)
	if err != nil {
		return nil, fmt.Errorf("derive shared secret: %w", err)
	}

	device, err := a.devices.Create(sess.DeviceName, sess.DeviceModel, sess.PublicKey, ownerProfileID)
	if err != nil {
		return nil, err
	}
	token, _, err := a.sessions.Issue(device.ID)
	if err != nil {
		return nil, err
	}

	// The token travels back to the phone sealed under the exchange secret,
	// so a listener on the pairing endpoints learns nothing.
	encToken, err := sealToken(token, device.ID, shared)
	if err != nil {
		return nil, err
	}
	done, err := a.pairings.Complete(sessionID, encToken, now)
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, ErrWrongState
	}

	a.mu.Lock()
	delete(a.hubPrivs, sessionID)
	a.mu.Unlock()

	a.logger.Info("device paired", "device_id", device.ID, "device_name", device.Name, "profile_id", ownerProfileID)
	return &Completion{
		Device:      device,
		Fingerprint: fingerprint(shared),
	}, nil
}

// Claim hands the phone its sealed session token once the desktop has
// approved. The blob can be collected exactly once.
func (a *Authority) Claim(sessionID string) ([]byte, error) {
	sess, err := a.pairings.GetByID(sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	now := time.Now()
	if now.After(sess.ExpiresAt) {
		return nil, ErrExpired
	}
	if sess.State != model.PairingComplete {
		return nil, ErrWrongState
	}

	blob, err := a.pairings.TakeToken(sessionID, now)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, ErrNotFound
	}
	return blob, nil
}

// Reject abandons a pairing attempt from the desktop side.
func (a *Authority) Reject(sessionID string) error {
	a.mu.Lock()
	delete(a.hubPrivs, sessionID)
	a.mu.Unlock()
	return a.pairings.Delete(sessionID)
}

type sealedCredentials struct {
	DeviceID string `json:"device_id"`
	Token    string `json:"token"`
}

// sealToken encrypts the device id and bearer token under a key derived from
// the X25519 shared secret. Blob layout: [12-byte nonce][AES-256-GCM ciphertext].
func sealToken(token, deviceID string, shared []byte) ([]byte, error) {
	plaintext, err := json.Marshal(sealedCredentials{DeviceID: deviceID, Token: token})
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}

	gcm, err := sharedAEAD(shared)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// OpenToken is the phone-side mirror of the sealing done at approval.
func OpenToken(blob, shared []byte) (deviceID, token string, err error) {
	gcm, err := sharedAEAD(shared)
	if err != nil {
		return "", "", err
	}
	if len(blob) < gcm.NonceSize() {
		return "", "", errors.New("sealed token too short")
	}
	plaintext, err := gcm.Open(nil, blob[:gcm.NonceSize()], blob[gcm.NonceSize():], nil)
	if err != nil {
		return "", "", fmt.Errorf("open sealed token: %w", err)
	}
	var creds sealedCredentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return "", "", fmt.Errorf("unmarshal credentials: %w", err)
	}
	return creds.DeviceID, creds.Token, nil
}

func sharedAEAD(shared []byte) (cipher.AEAD, error) {
	key := sha256.Sum256(shared)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

func newPIN() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}
	n := binary.BigEndian.Uint32(b[:]) % 1000000
	return fmt.Sprintf("%06d", n), nil
}

func hashPIN(pin string) string {
	sum := sha256.Sum256([]byte("coheara-pairing-pin:" + pin))
	return hex.EncodeToString(sum[:])
}

func decodePublicKey(b64 string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, ErrBadPublicKey
	}
	if len(key) != curve25519.PointSize {
		return nil, ErrBadPublicKey
	}
	return key, nil
}

// fingerprint shortens the shared secret to six uppercase hex characters,
// enough for two humans to compare across screens.
func fingerprint(shared []byte) string {
	sum := sha256.Sum256(shared)
	return fmt.Sprintf("%X", sum[:3])
}
