package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ktiyab/coheara/internal/model"
	"github.com/ktiyab/coheara/internal/store"
	"github.com/ktiyab/coheara/internal/websocket"
)

type ProfileHandler struct {
	profiles *store.ProfileStore
	hub      *websocket.Hub
	logger   *slog.Logger
}

func NewProfileHandler(ps *store.ProfileStore, hub *websocket.Hub, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: ps, hub: hub, logger: logger}
}

func (h *ProfileHandler) notify(action string, profileID int64) {
	if h.hub != nil {
		h.hub.Broadcast(websocket.SyncUpdate("profile", action, profileIDString(profileID)))
	}
}

func (h *ProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		errorJSON(w, http.StatusBadRequest, "name is required")
		return
	}

	profile, err := h.profiles.Create(req.Name)
	if err != nil {
		h.logger.Error("create profile", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to create profile")
		return
	}

	h.notify("created", profile.ID)
	writeJSON(w, http.StatusCreated, profile)
}

func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.profiles.List()
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to list profiles")
		return
	}
	if profiles == nil {
		profiles = []model.Profile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseProfileIDParam(r)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid profile ID")
		return
	}
	profile, err := h.profiles.GetByID(id)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to get profile")
		return
	}
	if profile == nil {
		errorJSON(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseProfileIDParam(r)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid profile ID")
		return
	}

	var req struct {
		Name        string     `json:"name"`
		DateOfBirth *time.Time `json:"date_of_birth"`
		BloodType   string     `json:"blood_type"`
		Notes       string     `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		errorJSON(w, http.StatusBadRequest, "name is required")
		return
	}

	profile, err := h.profiles.Update(id, store.ProfileParams{
		Name:        req.Name,
		DateOfBirth: req.DateOfBirth,
		BloodType:   req.BloodType,
		Notes:       req.Notes,
	})
	if err != nil {
		h.logger.Error("update profile", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	if profile == nil {
		errorJSON(w, http.StatusNotFound, "profile not found")
		return
	}

	h.notify("updated", id)
	writeJSON(w, http.StatusOK, profile)
}

func (h *ProfileHandler) AddAllergy(w http.ResponseWriter, r *http.Request) {
	id, err := parseProfileIDParam(r)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid profile ID")
		return
	}

	var req struct {
		Substance string `json:"substance"`
		Reaction  string `json:"reaction"`
		Severity  string `json:"severity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Substance = strings.TrimSpace(req.Substance)
	if req.Substance == "" {
		errorJSON(w, http.StatusBadRequest, "substance is required")
		return
	}

	allergy, err := h.profiles.AddAllergy(id, req.Substance, req.Reaction, req.Severity)
	if err != nil {
		h.logger.Error("add allergy", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to add allergy")
		return
	}

	h.notify("updated", id)
	writeJSON(w, http.StatusCreated, allergy)
}

func (h *ProfileHandler) RemoveAllergy(w http.ResponseWriter, r *http.Request) {
	id, err := parseProfileIDParam(r)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid profile ID")
		return
	}
	if err := h.profiles.RemoveAllergy(id, r.PathValue("allergyID")); err != nil {
		h.logger.Error("remove allergy", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to remove allergy")
		return
	}
	h.notify("updated", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProfileHandler) AddEmergencyContact(w http.ResponseWriter, r *http.Request) {
	id, err := parseProfileIDParam(r)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid profile ID")
		return
	}

	var req struct {
		Name     string `json:"name"`
		Relation string `json:"relation"`
		Phone    string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		errorJSON(w, http.StatusBadRequest, "name is required")
		return
	}

	contact, err := h.profiles.AddEmergencyContact(id, req.Name, req.Relation, req.Phone)
	if err != nil {
		h.logger.Error("add emergency contact", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to add emergency contact")
		return
	}

	h.notify("updated", id)
	writeJSON(w, http.StatusCreated, contact)
}

func (h *ProfileHandler) RemoveEmergencyContact(w http.ResponseWriter, r *http.Request) {
	id, err := parseProfileIDParam(r)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid profile ID")
		return
	}
	if err := h.profiles.RemoveEmergencyContact(id, r.PathValue("contactID")); err != nil {
		h.logger.Error("remove emergency contact", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to remove emergency contact")
		return
	}
	h.notify("updated", id)
	w.WriteHeader(http.StatusNoContent)
}
