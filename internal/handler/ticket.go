package handler

import (
	"log/slog"
	"net/http"

	"github.com/ktiyab/coheara/internal/auth"
	"github.com/ktiyab/coheara/internal/store"
)

type TicketHandler struct {
	tickets *store.TicketStore
	logger  *slog.Logger
}

func NewTicketHandler(tickets *store.TicketStore, logger *slog.Logger) *TicketHandler {
	return &TicketHandler{tickets: tickets, logger: logger}
}

// Issue handles POST /api/ws-ticket: it mints a one-time short-TTL
// ticket the device presents on the WebSocket upgrade instead of its bearer
// token.
func (h *TicketHandler) Issue(w http.ResponseWriter, r *http.Request) {
	deviceID := auth.DeviceID(r.Context())

	ticket, ttl, err := h.tickets.Issue(deviceID)
	if err != nil {
		h.logger.Error("issue ws ticket", "error", err, "device_id", deviceID)
		errorJSON(w, http.StatusInternalServerError, "failed to issue ticket")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":      ticket,
		"ttl_seconds": int(ttl.Seconds()),
	})
}
