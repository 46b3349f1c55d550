package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ktiyab/coheara/internal/auth"
	"github.com/ktiyab/coheara/internal/model"
	"github.com/ktiyab/coheara/internal/store"
	"github.com/ktiyab/coheara/internal/websocket"
)

type AlertHandler struct {
	alerts *store.AlertStore
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewAlertHandler(as *store.AlertStore, hub *websocket.Hub, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{alerts: as, hub: hub, logger: logger}
}

type alertRequest struct {
	Severity model.AlertSeverity `json:"severity"`
	Kind     string              `json:"kind"`
	Message  string              `json:"message"`
}

func (h *AlertHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		errorJSON(w, http.StatusBadRequest, "message is required")
		return
	}
	switch req.Severity {
	case model.AlertSeverityInfo, model.AlertSeverityWarning, model.AlertSeverityCritical:
	case "":
		req.Severity = model.AlertSeverityInfo
	default:
		errorJSON(w, http.StatusBadRequest, "invalid severity")
		return
	}

	alert, err := h.alerts.Create(auth.ProfileID(r.Context()), req.Severity, req.Kind, req.Message)
	if err != nil {
		h.logger.Error("create alert", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to create alert")
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(websocket.SyncUpdate("alerts", "created", alert.ID))
	}
	writeJSON(w, http.StatusCreated, alert)
}

func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.alerts.ListByProfile(auth.ProfileID(r.Context()))
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// Acknowledge handles POST /api/alerts/{id}/ack. Acknowledgement is a tracked
// mutation so companions pick it up on their next delta.
func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	alert, err := h.alerts.Acknowledge(id)
	if err != nil {
		h.logger.Error("acknowledge alert", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to acknowledge alert")
		return
	}
	if alert == nil {
		errorJSON(w, http.StatusNotFound, "alert not found")
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(websocket.SyncUpdate("alerts", "updated", alert.ID))
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *AlertHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.alerts.Delete(id); err != nil {
		h.logger.Error("delete alert", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to delete alert")
		return
	}
	if h.hub != nil {
		h.hub.Broadcast(websocket.SyncUpdate("alerts", "deleted", id))
	}
	w.WriteHeader(http.StatusNoContent)
}
