package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ktiyab/coheara/internal/middleware"
	"github.com/ktiyab/coheara/internal/pairing"
)

type PairingHandler struct {
	authority *pairing.Authority
	lockout   *middleware.Lockout
	logger    *slog.Logger
}

func NewPairingHandler(a *pairing.Authority, lockout *middleware.Lockout, logger *slog.Logger) *PairingHandler {
	return &PairingHandler{authority: a, lockout: lockout, logger: logger}
}

// Begin handles POST /admin/pair (desktop side): it opens a pairing
// session and returns the QR payload.
func (h *PairingHandler) Begin(w http.ResponseWriter, r *http.Request) {
	invite, err := h.authority.Begin()
	if err != nil {
		h.logger.Error("begin pairing", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to begin pairing")
		return
	}
	writeJSON(w, http.StatusCreated, invite)
}

type submitKeyRequest struct {
	SessionID   string `json:"session_id"`
	PIN         string `json:"pin"`
	DeviceName  string `json:"device_name"`
	DeviceModel string `json:"device_model"`
	PublicKey   string `json:"public_key"`
}

// SubmitKey handles POST /api/pair/key (phone side): PIN plus the device's
// long-lived public key. Failures count toward the source's lockout.
func (h *PairingHandler) SubmitKey(w http.ResponseWriter, r *http.Request) {
	source := middleware.RealIP(r)
	if h.lockout.Locked(source) {
		errorJSON(w, http.StatusTooManyRequests, "too many failed attempts")
		return
	}

	var req submitKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.DeviceName = strings.TrimSpace(req.DeviceName)
	if req.DeviceName == "" {
		req.DeviceName = "Companion"
	}

	err := h.authority.SubmitKey(req.SessionID, req.PIN, req.DeviceName, req.DeviceModel, req.PublicKey)
	switch {
	case err == nil:
		h.lockout.Reset(source)
		writeJSON(w, http.StatusOK, map[string]string{"status": "awaiting_approval"})
	case errors.Is(err, pairing.ErrBadPIN), errors.Is(err, pairing.ErrBadPublicKey):
		h.lockout.RecordFailure(source)
		errorJSON(w, http.StatusUnauthorized, "pairing rejected")
	case errors.Is(err, pairing.ErrNotFound):
		h.lockout.RecordFailure(source)
		errorJSON(w, http.StatusNotFound, "pairing session not found")
	case errors.Is(err, pairing.ErrExpired):
		errorJSON(w, http.StatusGone, "pairing session expired")
	case errors.Is(err, pairing.ErrWrongState):
		errorJSON(w, http.StatusConflict, "pairing session already confirmed")
	default:
		h.logger.Error("submit pairing key", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to submit key")
	}
}

type approveRequest struct {
	SessionID string `json:"session_id"`
	ProfileID int64  `json:"profile_id"`
}

// Approve handles POST /admin/pair/approve (desktop side): the second half of
// the split approval. It registers the device and parks the sealed token for
// the phone to collect.
func (h *PairingHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	done, err := h.authority.Approve(req.SessionID, req.ProfileID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"device":      done.Device,
			"fingerprint": done.Fingerprint,
		})
	case errors.Is(err, pairing.ErrNotFound):
		errorJSON(w, http.StatusNotFound, "pairing session not found")
	case errors.Is(err, pairing.ErrExpired):
		errorJSON(w, http.StatusGone, "pairing session expired")
	case errors.Is(err, pairing.ErrWrongState):
		errorJSON(w, http.StatusConflict, "phone has not confirmed yet")
	default:
		h.logger.Error("approve pairing", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to approve pairing")
	}
}

// Claim handles GET /api/pair/{id}/token (phone side): polled after key
// submission until the desktop approves. The sealed blob is handed out once;
// only the device holding the exchange secret can open it.
func (h *PairingHandler) Claim(w http.ResponseWriter, r *http.Request) {
	blob, err := h.authority.Claim(r.PathValue("id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{
			"enc_token": base64.StdEncoding.EncodeToString(blob),
		})
	case errors.Is(err, pairing.ErrWrongState):
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "awaiting_approval"})
	case errors.Is(err, pairing.ErrNotFound):
		errorJSON(w, http.StatusNotFound, "pairing session not found")
	case errors.Is(err, pairing.ErrExpired):
		errorJSON(w, http.StatusGone, "pairing session expired")
	default:
		h.logger.Error("claim pairing token", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to claim token")
	}
}

type rejectRequest struct {
	SessionID string `json:"session_id"`
}

// Reject handles POST /admin/pair/reject (desktop side).
func (h *PairingHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.authority.Reject(req.SessionID); err != nil {
		h.logger.Error("reject pairing", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to reject pairing")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}
