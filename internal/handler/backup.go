package handler

import (
	"log/slog"
	"net/http"

	"github.com/ktiyab/coheara/internal/backup"
)

type BackupHandler struct {
	manager *backup.Manager
	logger  *slog.Logger
}

func NewBackupHandler(m *backup.Manager, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{manager: m, logger: logger}
}

func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Status())
}

func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.manager.List(r.Context())
	if err != nil {
		errorJSON(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"snapshots": keys})
}

func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	key, err := h.manager.RunNow(r.Context())
	if err != nil {
		h.logger.Error("manual snapshot", "error", err)
		errorJSON(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"key": key})
}
