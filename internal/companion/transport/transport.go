// Package transport is the companion's HTTP and WebSocket client for the hub.
// Every request carries the device's bearer token plus a nonce and timestamp;
// rotated tokens arriving via X-New-Token are adopted transparently.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ktiyab/coheara/internal/companion/config"
	"github.com/ktiyab/coheara/internal/model"
)

var (
	// ErrUnauthorized means the hub rejected the device's credentials. The
	// device must re-pair; retrying will not help.
	ErrUnauthorized = errors.New("hub rejected credentials")
	// ErrUnavailable means the hub could not be reached. Normal when the
	// phone is away from home; retry later.
	ErrUnavailable = errors.New("hub unreachable")
)

// HTTPError is any other non-success status from the hub.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("hub returned %d: %s", e.Status, e.Body)
}

// TokenCallback is invoked whenever the hub rotates the device's token, so
// the caller can persist it. Missing the callback means the next run starts
// with a stale token.
type TokenCallback func(newToken string)

// Client talks to one hub on behalf of one paired device.
type Client struct {
	baseURL  string
	deviceID string
	http     *http.Client
	logger   *slog.Logger
	onToken  TokenCallback

	mu    sync.RWMutex
	token string
}

// New builds a Client from stored credentials. When the credentials carry a
// CA certificate, only that CA is trusted for TLS.
func New(creds *config.Credentials, onToken TokenCallback, logger *slog.Logger) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if creds.CACertPEM != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(creds.CACertPEM)) {
			return nil, errors.New("invalid CA certificate in credentials")
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	return &Client{
		baseURL:  creds.HubURL,
		deviceID: creds.DeviceID,
		token:    creds.Token,
		http:     &http.Client{Transport: transport, Timeout: 30 * time.Second},
		logger:   logger,
		onToken:  onToken,
	}, nil
}

// Sync posts the device's version snapshot and returns whatever the hub
// decided to send back.
func (c *Client) Sync(ctx context.Context, req model.SyncRequest) (*SyncResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal sync request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/sync", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return &SyncResult{NoChange: true}, nil
	case http.StatusOK:
		// fall through to decode
	default:
		return nil, statusError(resp)
	}

	if resp.Header.Get("X-Sync-Mode") == "full" {
		var full model.SyncPayload
		if err := json.NewDecoder(resp.Body).Decode(&full); err != nil {
			return nil, fmt.Errorf("decode full payload: %w", err)
		}
		return &SyncResult{Full: &full}, nil
	}
	var delta model.DeltaPayload
	if err := json.NewDecoder(resp.Body).Decode(&delta); err != nil {
		return nil, fmt.Errorf("decode delta payload: %w", err)
	}
	return &SyncResult{Delta: &delta}, nil
}

// SyncResult mirrors the hub's three possible sync outcomes.
type SyncResult struct {
	NoChange bool
	Full     *model.SyncPayload
	Delta    *model.DeltaPayload
}

// MintTicket asks the hub for a one-time WebSocket ticket.
func (c *Client) MintTicket(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/ws-ticket", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", statusError(resp)
	}
	var out struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ticket: %w", err)
	}
	return out.Ticket, nil
}

// do issues one authenticated request and adopts any rotated token from the
// response.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-Id", c.deviceID)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-Nonce", uuid.NewString())
	req.Header.Set("X-Request-Timestamp", time.Now().UTC().Format(time.RFC3339))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if newToken := resp.Header.Get("X-New-Token"); newToken != "" {
		c.mu.Lock()
		c.token = newToken
		c.mu.Unlock()
		if c.onToken != nil {
			c.onToken(newToken)
		}
		c.logger.Debug("adopted rotated token")
	}

	return resp, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrUnauthorized, string(body))
	}
	return &HTTPError{Status: resp.StatusCode, Body: string(body)}
}
