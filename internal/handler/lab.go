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

type LabHandler struct {
	labs   *store.LabStore
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewLabHandler(ls *store.LabStore, hub *websocket.Hub, logger *slog.Logger) *LabHandler {
	return &LabHandler{labs: ls, hub: hub, logger: logger}
}

type labRequest struct {
	TestName       string        `json:"test_name"`
	Value          string        `json:"value"`
	Unit           string        `json:"unit"`
	ReferenceRange string        `json:"reference_range"`
	Flag           model.LabFlag `json:"flag"`
	Notes          string        `json:"notes"`
	TakenAt        time.Time     `json:"taken_at"`
}

func (h *LabHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req labRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.TestName = strings.TrimSpace(req.TestName)
	if req.TestName == "" {
		errorJSON(w, http.StatusBadRequest, "test_name is required")
		return
	}
	if req.TakenAt.IsZero() {
		req.TakenAt = time.Now()
	}

	lab, err := h.labs.Create(auth.ProfileID(r.Context()), store.LabParams{
		TestName:       req.TestName,
		Value:          req.Value,
		Unit:           req.Unit,
		ReferenceRange: req.ReferenceRange,
		Flag:           req.Flag,
		Notes:          req.Notes,
		TakenAt:        req.TakenAt,
	})
	if err != nil {
		h.logger.Error("create lab result", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to create lab result")
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(websocket.SyncUpdate("labs", "created", lab.ID))
	}
	writeJSON(w, http.StatusCreated, lab)
}

func (h *LabHandler) List(w http.ResponseWriter, r *http.Request) {
	labs, err := h.labs.ListByProfile(auth.ProfileID(r.Context()))
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to list lab results")
		return
	}
	if labs == nil {
		labs = []model.LabResult{}
	}
	writeJSON(w, http.StatusOK, labs)
}

func (h *LabHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.labs.Delete(id); err != nil {
		h.logger.Error("delete lab result", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to delete lab result")
		return
	}
	if h.hub != nil {
		h.hub.Broadcast(websocket.SyncUpdate("labs", "deleted", id))
	}
	w.WriteHeader(http.StatusNoContent)
}
