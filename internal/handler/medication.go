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

type MedicationHandler struct {
	medications *store.MedicationStore
	hub         *websocket.Hub
	logger      *slog.Logger
}

func NewMedicationHandler(ms *store.MedicationStore, hub *websocket.Hub, logger *slog.Logger) *MedicationHandler {
	return &MedicationHandler{medications: ms, hub: hub, logger: logger}
}

func (h *MedicationHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

type medicationRequest struct {
	Name         string     `json:"name"`
	Dosage       string     `json:"dosage"`
	Frequency    string     `json:"frequency"`
	Instructions string     `json:"instructions"`
	Prescriber   string     `json:"prescriber"`
	StartedAt    *time.Time `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at"`
	Active       bool       `json:"active"`
}

func (r medicationRequest) params() store.MedicationParams {
	return store.MedicationParams{
		Name:         r.Name,
		Dosage:       r.Dosage,
		Frequency:    r.Frequency,
		Instructions: r.Instructions,
		Prescriber:   r.Prescriber,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
		Active:       r.Active,
	}
}

func (h *MedicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req medicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		errorJSON(w, http.StatusBadRequest, "name is required")
		return
	}

	med, err := h.medications.Create(auth.ProfileID(r.Context()), req.params())
	if err != nil {
		h.logger.Error("create medication", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to create medication")
		return
	}

	h.broadcast(websocket.SyncUpdate("medications", "created", med.ID))
	writeJSON(w, http.StatusCreated, med)
}

func (h *MedicationHandler) List(w http.ResponseWriter, r *http.Request) {
	meds, err := h.medications.ListByProfile(auth.ProfileID(r.Context()))
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to list medications")
		return
	}
	if meds == nil {
		meds = []model.Medication{}
	}
	writeJSON(w, http.StatusOK, meds)
}

func (h *MedicationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := h.medications.GetByID(id)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to get medication")
		return
	}
	if existing == nil {
		errorJSON(w, http.StatusNotFound, "medication not found")
		return
	}

	var req medicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		errorJSON(w, http.StatusBadRequest, "name is required")
		return
	}

	med, err := h.medications.Update(id, req.params())
	if err != nil {
		h.logger.Error("update medication", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to update medication")
		return
	}

	h.broadcast(websocket.SyncUpdate("medications", "updated", med.ID))
	writeJSON(w, http.StatusOK, med)
}

func (h *MedicationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.medications.Delete(id); err != nil {
		h.logger.Error("delete medication", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to delete medication")
		return
	}
	h.broadcast(websocket.SyncUpdate("medications", "deleted", id))
	w.WriteHeader(http.StatusNoContent)
}

type doseChangeRequest struct {
	NewDosage string `json:"new_dosage"`
	Reason    string `json:"reason"`
}

// ChangeDose handles POST /api/medications/{id}/dose: it appends dose history
// and applies the new dosage in one mutation.
func (h *MedicationHandler) ChangeDose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req doseChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.NewDosage) == "" {
		errorJSON(w, http.StatusBadRequest, "new_dosage is required")
		return
	}

	dc, err := h.medications.RecordDoseChange(id, req.NewDosage, req.Reason)
	if err != nil {
		h.logger.Error("record dose change", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to record dose change")
		return
	}

	h.broadcast(websocket.SyncUpdate("medications", "updated", id))
	writeJSON(w, http.StatusCreated, dc)
}

// DoseHistory handles GET /api/medications/{id}/dose.
func (h *MedicationHandler) DoseHistory(w http.ResponseWriter, r *http.Request) {
	changes, err := h.medications.DoseHistory(r.PathValue("id"))
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to list dose changes")
		return
	}
	if changes == nil {
		changes = []model.DoseChange{}
	}
	writeJSON(w, http.StatusOK, changes)
}
