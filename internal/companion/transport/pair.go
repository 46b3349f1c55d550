package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/ktiyab/coheara/internal/companion/config"
	"github.com/ktiyab/coheara/internal/pairing"
)

// PairRequest is everything the user supplies to pair with a hub: the hub's
// address plus the session id, PIN, and hub public key read from the QR code.
type PairRequest struct {
	HubURL       string
	SessionID    string
	PIN          string
	HubPublicKey string // base64 X25519 point from the QR payload
	DeviceName   string
	DeviceModel  string
}

// ErrAwaitingApproval is returned by ClaimToken while the desktop side has
// not yet approved the pairing.
var ErrAwaitingApproval = errors.New("awaiting desktop approval")

// Pair runs the full phone-side pairing flow: key exchange, polling for
// approval, and opening the sealed credentials. It blocks until the desktop
// approves, the session expires, or the context is cancelled.
func Pair(ctx context.Context, req PairRequest) (*config.Credentials, error) {
	hubURL := strings.TrimRight(req.HubURL, "/")

	// The hub's certificate chains to its own private CA, which we have not
	// learned yet. Trust-on-first-use: fetch the CA without verification,
	// then pin it for everything after. The sealed token does not depend on
	// transport security; it is bound to the X25519 exchange and the PIN.
	bootstrap := &http.Client{
		Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
		Timeout:   15 * time.Second,
	}
	caPEM, err := fetchCA(ctx, bootstrap, hubURL)
	if err != nil {
		return nil, err
	}

	client := bootstrap
	if caPEM != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(caPEM)) {
			return nil, errors.New("hub served an invalid CA certificate")
		}
		client = &http.Client{
			Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}},
			Timeout:   15 * time.Second,
		}
	}

	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}

	hubPub, err := base64.StdEncoding.DecodeString(req.HubPublicKey)
	if err != nil || len(hubPub) != curve25519.PointSize {
		return nil, errors.New("invalid hub public key")
	}
	shared, err := curve25519.X25519(priv, hubPub)
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}

	if err := submitKey(ctx, client, hubURL, req, pub); err != nil {
		return nil, err
	}

	// Poll until the person at the desktop approves.
	blob, err := awaitToken(ctx, client, hubURL, req.SessionID)
	if err != nil {
		return nil, err
	}

	deviceID, token, err := pairing.OpenToken(blob, shared)
	if err != nil {
		return nil, fmt.Errorf("open sealed credentials: %w", err)
	}

	return &config.Credentials{
		HubURL:     hubURL,
		DeviceID:   deviceID,
		Token:      token,
		PrivateKey: base64.StdEncoding.EncodeToString(priv),
		CACertPEM:  caPEM,
	}, nil
}

func fetchCA(ctx context.Context, client *http.Client, hubURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hubURL+"/ca", nil)
	if err != nil {
		return "", fmt.Errorf("build ca request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		pem, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return "", fmt.Errorf("read ca: %w", err)
		}
		return string(pem), nil
	case http.StatusNotFound:
		// Hub runs without TLS; nothing to pin.
		return "", nil
	default:
		return "", statusError(resp)
	}
}

func submitKey(ctx context.Context, client *http.Client, hubURL string, pr PairRequest, pub []byte) error {
	body, err := json.Marshal(map[string]string{
		"session_id":   pr.SessionID,
		"pin":          pr.PIN,
		"device_name":  pr.DeviceName,
		"device_model": pr.DeviceModel,
		"public_key":   base64.StdEncoding.EncodeToString(pub),
	})
	if err != nil {
		return fmt.Errorf("marshal key submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hubURL+"/api/pair/key", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build key request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

// ClaimToken asks the hub once for the sealed credential blob.
func ClaimToken(ctx context.Context, client *http.Client, hubURL, sessionID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hubURL+"/api/pair/"+sessionID+"/token", nil)
	if err != nil {
		return nil, fmt.Errorf("build claim request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out struct {
			EncToken string `json:"enc_token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode claim response: %w", err)
		}
		blob, err := base64.StdEncoding.DecodeString(out.EncToken)
		if err != nil {
			return nil, fmt.Errorf("decode sealed token: %w", err)
		}
		return blob, nil
	case http.StatusAccepted:
		return nil, ErrAwaitingApproval
	case http.StatusGone:
		return nil, errors.New("pairing session expired")
	default:
		return nil, statusError(resp)
	}
}

func awaitToken(ctx context.Context, client *http.Client, hubURL, sessionID string) ([]byte, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		blob, err := ClaimToken(ctx, client, hubURL, sessionID)
		if err == nil {
			return blob, nil
		}
		if !errors.Is(err, ErrAwaitingApproval) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
