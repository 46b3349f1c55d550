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

type ConversationHandler struct {
	conversations *store.ConversationStore
	hub           *websocket.Hub
	logger        *slog.Logger
}

func NewConversationHandler(cs *store.ConversationStore, hub *websocket.Hub, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{conversations: cs, hub: hub, logger: logger}
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		errorJSON(w, http.StatusBadRequest, "title is required")
		return
	}

	conv, err := h.conversations.Create(auth.ProfileID(r.Context()), req.Title)
	if err != nil {
		h.logger.Error("create conversation", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(websocket.SyncUpdate("conversations", "created", conv.ID))
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	convs, err := h.conversations.ListByProfile(auth.ProfileID(r.Context()))
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, err := h.conversations.GetByID(r.PathValue("id"))
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}
	if conv == nil {
		errorJSON(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := h.conversations.GetByID(id)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}
	if conv == nil {
		errorJSON(w, http.StatusNotFound, "conversation not found")
		return
	}

	var req struct {
		Role    model.MessageRole `json:"role"`
		Content string            `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		errorJSON(w, http.StatusBadRequest, "content is required")
		return
	}
	switch req.Role {
	case model.MessageRoleUser, model.MessageRoleAssistant:
	default:
		errorJSON(w, http.StatusBadRequest, "invalid role")
		return
	}

	msg, err := h.conversations.AppendMessage(id, req.Role, req.Content)
	if err != nil {
		h.logger.Error("append message", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to append message")
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(websocket.SyncUpdate("conversations", "updated", id))
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.conversations.Delete(id); err != nil {
		h.logger.Error("delete conversation", "error", err)
		errorJSON(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	if h.hub != nil {
		h.hub.Broadcast(websocket.SyncUpdate("conversations", "deleted", id))
	}
	w.WriteHeader(http.StatusNoContent)
}
