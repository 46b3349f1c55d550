package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ktiyab/coheara/internal/auth"
	"github.com/ktiyab/coheara/internal/model"
	"github.com/ktiyab/coheara/internal/store"
	syncpkg "github.com/ktiyab/coheara/internal/sync"
)

// SyncModeHeader tells the caller whether a 200 body is a full snapshot or a
// delta.
const SyncModeHeader = "X-Sync-Mode"

type SyncHandler struct {
	coordinator *syncpkg.Coordinator
	devices     *store.DeviceStore
	logger      *slog.Logger
}

func NewSyncHandler(c *syncpkg.Coordinator, devices *store.DeviceStore, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{coordinator: c, devices: devices, logger: logger}
}

// Sync handles POST /api/sync. The response is 204 when nothing changed, a
// full snapshot for first-time (or explicitly full) syncs, and a delta
// otherwise.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req model.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	dc, _ := auth.FromContext(r.Context())
	profileID := req.ProfileID
	if profileID == 0 {
		profileID = dc.ProfileID
	} else if profileID != dc.ProfileID {
		ok, err := h.devices.HasAccess(dc.DeviceID, profileID)
		if err != nil {
			h.logger.Error("check profile access", "error", err)
			errorJSON(w, http.StatusInternalServerError, "failed to check access")
			return
		}
		if !ok {
			errorJSON(w, http.StatusForbidden, "no access to profile")
			return
		}
	}

	resp, err := h.coordinator.Compute(profileID, req)
	if err != nil {
		h.logger.Error("compute sync", "error", err, "device_id", dc.DeviceID)
		errorJSON(w, http.StatusInternalServerError, "failed to compute sync")
		return
	}

	switch {
	case resp.NoChange:
		w.WriteHeader(http.StatusNoContent)
	case resp.Full != nil:
		h.logger.Debug("full sync", "device_id", dc.DeviceID, "profile_id", profileID)
		w.Header().Set(SyncModeHeader, "full")
		writeJSON(w, http.StatusOK, resp.Full)
	default:
		h.logger.Debug("delta sync", "device_id", dc.DeviceID, "profile_id", profileID)
		w.Header().Set(SyncModeHeader, "delta")
		writeJSON(w, http.StatusOK, resp.Delta)
	}
}
