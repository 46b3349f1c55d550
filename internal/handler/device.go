package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ktiyab/coheara/internal/auth"
	"github.com/ktiyab/coheara/internal/model"
	"github.com/ktiyab/coheara/internal/store"
)

type DeviceHandler struct {
	devices  *store.DeviceStore
	sessions *store.SessionStore
	logger   *slog.Logger
}

func NewDeviceHandler(devices *store.DeviceStore, sessions *store.SessionStore, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{devices: devices, sessions: sessions, logger: logger}
}

// List handles GET /api/devices (desktop side).
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.List()
	if err != nil {
		h.logger.Error("list devices", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []model.PairedDevice{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// Revoke handles DELETE /api/devices/{id} (desktop side). A revoked device is
// rejected at the auth layer on its next request no matter what token it
// still holds.
func (h *DeviceHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	device, err := h.devices.GetByID(id)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to get device")
		return
	}
	if device == nil {
		errorJSON(w, http.StatusNotFound, "device not found")
		return
	}

	if err := h.devices.Revoke(id); err != nil {
		h.logger.Error("revoke device", "error", err, "device_id", id)
		errorJSON(w, http.StatusInternalServerError, "failed to revoke device")
		return
	}
	h.logger.Info("device revoked", "device_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

type accessRequest struct {
	ProfileID int64 `json:"profile_id"`
}

// GrantAccess handles POST /api/devices/{id}/access (desktop side).
func (h *DeviceHandler) GrantAccess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req accessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.devices.GrantProfileAccess(id, req.ProfileID); err != nil {
		h.logger.Error("grant access", "error", err, "device_id", id)
		errorJSON(w, http.StatusInternalServerError, "failed to grant access")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

// RevokeAccess handles DELETE /api/devices/{id}/access (desktop side).
func (h *DeviceHandler) RevokeAccess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req accessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.devices.RevokeProfileAccess(id, req.ProfileID); err != nil {
		h.logger.Error("revoke access", "error", err, "device_id", id)
		errorJSON(w, http.StatusInternalServerError, "failed to revoke access")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// AccessibleProfiles handles GET /api/profiles/accessible (device side): the
// set of profiles the calling device may sync.
func (h *DeviceHandler) AccessibleProfiles(w http.ResponseWriter, r *http.Request) {
	deviceID := auth.DeviceID(r.Context())
	ids, err := h.devices.AccessibleProfiles(deviceID)
	if err != nil {
		h.logger.Error("list accessible profiles", "error", err, "device_id", deviceID)
		errorJSON(w, http.StatusInternalServerError, "failed to list profiles")
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile_ids": ids})
}

type grantRequest struct {
	ToProfileID int64 `json:"to_profile_id"`
}

// GrantProfile handles POST /api/profiles/{id}/grants (desktop side): share
// profile {id} with devices owned by to_profile_id, unidirectionally.
func (h *DeviceHandler) GrantProfile(w http.ResponseWriter, r *http.Request) {
	fromID, err := parseProfileIDParam(r)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid profile id")
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.devices.GrantProfileToProfile(fromID, req.ToProfileID); err != nil {
		h.logger.Error("grant profile", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to grant profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

// RevokeProfileGrant handles DELETE /api/profiles/{id}/grants (desktop side).
func (h *DeviceHandler) RevokeProfileGrant(w http.ResponseWriter, r *http.Request) {
	fromID, err := parseProfileIDParam(r)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid profile id")
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.devices.RevokeProfileGrant(fromID, req.ToProfileID); err != nil {
		h.logger.Error("revoke profile grant", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to revoke grant")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
