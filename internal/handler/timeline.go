package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ktiyab/coheara/internal/auth"
	"github.com/ktiyab/coheara/internal/model"
	"github.com/ktiyab/coheara/internal/store"
	"github.com/ktiyab/coheara/internal/websocket"
)

type TimelineHandler struct {
	timeline *store.TimelineStore
	hub      *websocket.Hub
	logger   *slog.Logger
}

func NewTimelineHandler(ts *store.TimelineStore, hub *websocket.Hub, logger *slog.Logger) *TimelineHandler {
	return &TimelineHandler{timeline: ts, hub: hub, logger: logger}
}

type timelineRequest struct {
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (h *TimelineHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req timelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		errorJSON(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.OccurredAt.IsZero() {
		req.OccurredAt = time.Now()
	}

	event, err := h.timeline.Create(auth.ProfileID(r.Context()), req.Kind, req.Title, req.Detail, req.OccurredAt)
	if err != nil {
		h.logger.Error("create timeline event", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to create timeline event")
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(websocket.SyncUpdate("timeline", "created", event.ID))
	}
	writeJSON(w, http.StatusCreated, event)
}

func (h *TimelineHandler) List(w http.ResponseWriter, r *http.Request) {
	events, err := h.timeline.ListByProfile(auth.ProfileID(r.Context()))
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to list timeline events")
		return
	}
	if events == nil {
		events = []model.TimelineEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *TimelineHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.timeline.Delete(id); err != nil {
		h.logger.Error("delete timeline event", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to delete timeline event")
		return
	}
	if h.hub != nil {
		h.hub.Broadcast(websocket.SyncUpdate("timeline", "deleted", id))
	}
	w.WriteHeader(http.StatusNoContent)
}
