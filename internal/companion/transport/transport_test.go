package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ktiyab/coheara/internal/companion/config"
	"github.com/ktiyab/coheara/internal/model"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server, *string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var adopted string
	c, err := New(&config.Credentials{
		HubURL:   srv.URL,
		DeviceID: "dev-1",
		Token:    "token-1",
	}, func(newToken string) { adopted = newToken }, discard())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, srv, &adopted
}

func TestSyncSendsAuthHeaders(t *testing.T) {
	var got http.Header
	c, _, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))

	res, err := c.Sync(context.Background(), model.SyncRequest{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !res.NoChange {
		t.Error("204 not mapped to NoChange")
	}

	if got.Get("X-Device-Id") != "dev-1" {
		t.Errorf("device header = %q", got.Get("X-Device-Id"))
	}
	if got.Get("Authorization") != "Bearer token-1" {
		t.Errorf("authorization = %q", got.Get("Authorization"))
	}
	if got.Get("X-Request-Nonce") == "" {
		t.Error("nonce header missing")
	}
	if got.Get("X-Request-Timestamp") == "" {
		t.Error("timestamp header missing")
	}
}

func TestSyncFullMode(t *testing.T) {
	c, _, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Sync-Mode", "full")
		json.NewEncoder(w).Encode(model.SyncPayload{
			Medications: []model.Medication{{ID: "med-1", Name: "Lisinopril"}},
			Versions:    model.SyncVersions{Medications: 4},
		})
	}))

	res, err := c.Sync(context.Background(), model.SyncRequest{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Full == nil {
		t.Fatal("full payload not decoded")
	}
	if res.Delta != nil || res.NoChange {
		t.Error("result not exclusively full")
	}
	if len(res.Full.Medications) != 1 {
		t.Errorf("medications = %d, want 1", len(res.Full.Medications))
	}
}

func TestSyncDeltaMode(t *testing.T) {
	c, _, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req model.SyncRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Versions.Medications != 4 {
			t.Errorf("request versions = %+v", req.Versions)
		}
		w.Header().Set("X-Sync-Mode", "delta")
		json.NewEncoder(w).Encode(model.DeltaPayload{
			RemovedMedicationIDs: []string{"med-9"},
			Versions:             model.SyncVersions{Medications: 5},
		})
	}))

	res, err := c.Sync(context.Background(), model.SyncRequest{Versions: model.SyncVersions{Medications: 4}})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Delta == nil {
		t.Fatal("delta payload not decoded")
	}
	if len(res.Delta.RemovedMedicationIDs) != 1 {
		t.Errorf("removed ids = %v", res.Delta.RemovedMedicationIDs)
	}
}

func TestTokenRotationAdopted(t *testing.T) {
	calls := 0
	c, _, adopted := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("X-New-Token", "token-2")
		} else if r.Header.Get("Authorization") != "Bearer token-2" {
			t.Errorf("second call authorization = %q, want rotated token", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	if _, err := c.Sync(context.Background(), model.SyncRequest{}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if *adopted != "token-2" {
		t.Errorf("callback token = %q, want token-2", *adopted)
	}
	if _, err := c.Sync(context.Background(), model.SyncRequest{}); err != nil {
		t.Fatalf("second sync: %v", err)
	}
}

func TestSyncUnauthorized(t *testing.T) {
	c, _, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}))

	_, err := c.Sync(context.Background(), model.SyncRequest{})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestSyncHubUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	c, err := New(&config.Credentials{HubURL: srv.URL, DeviceID: "dev-1", Token: "t"}, nil, discard())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.Sync(context.Background(), model.SyncRequest{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestSyncServerError(t *testing.T) {
	c, _, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := c.Sync(context.Background(), model.SyncRequest{})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want HTTPError", err)
	}
	if httpErr.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", httpErr.Status)
	}
}

func TestMintTicket(t *testing.T) {
	c, _, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ws-ticket" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"ticket": "tkt-123"})
	}))

	ticket, err := c.MintTicket(context.Background())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if ticket != "tkt-123" {
		t.Errorf("ticket = %q", ticket)
	}
}
