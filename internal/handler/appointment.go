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

type AppointmentHandler struct {
	appointments *store.AppointmentStore
	hub          *websocket.Hub
	logger       *slog.Logger
}

func NewAppointmentHandler(as *store.AppointmentStore, hub *websocket.Hub, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{appointments: as, hub: hub, logger: logger}
}

type appointmentRequest struct {
	Professional string    `json:"professional"`
	Location     string    `json:"location"`
	Purpose      string    `json:"purpose"`
	Notes        string    `json:"notes"`
	ScheduledAt  time.Time `json:"scheduled_at"`
}

func (r appointmentRequest) params() store.AppointmentParams {
	return store.AppointmentParams{
		Professional: r.Professional,
		Location:     r.Location,
		Purpose:      r.Purpose,
		Notes:        r.Notes,
		ScheduledAt:  r.ScheduledAt,
	}
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req appointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Professional = strings.TrimSpace(req.Professional)
	if req.Professional == "" {
		errorJSON(w, http.StatusBadRequest, "professional is required")
		return
	}
	if req.ScheduledAt.IsZero() {
		errorJSON(w, http.StatusBadRequest, "scheduled_at is required")
		return
	}

	appt, err := h.appointments.Create(auth.ProfileID(r.Context()), req.params())
	if err != nil {
		h.logger.Error("create appointment", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to create appointment")
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(websocket.SyncUpdate("appointments", "created", appt.ID))
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	appts, err := h.appointments.ListByProfile(auth.ProfileID(r.Context()))
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to list appointments")
		return
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	writeJSON(w, http.StatusOK, appts)
}

func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := h.appointments.GetByID(id)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to get appointment")
		return
	}
	if existing == nil {
		errorJSON(w, http.StatusNotFound, "appointment not found")
		return
	}

	var req appointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Professional = strings.TrimSpace(req.Professional)
	if req.Professional == "" {
		errorJSON(w, http.StatusBadRequest, "professional is required")
		return
	}

	appt, err := h.appointments.Update(id, req.params())
	if err != nil {
		h.logger.Error("update appointment", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to update appointment")
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(websocket.SyncUpdate("appointments", "updated", appt.ID))
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.appointments.Delete(id); err != nil {
		h.logger.Error("delete appointment", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to delete appointment")
		return
	}
	if h.hub != nil {
		h.hub.Broadcast(websocket.SyncUpdate("appointments", "deleted", id))
	}
	w.WriteHeader(http.StatusNoContent)
}
