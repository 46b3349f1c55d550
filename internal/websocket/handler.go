package websocket

import (
	"log/slog"
	"net/http"
	"time"

	ws "github.com/coder/websocket"

	"github.com/ktiyab/coheara/internal/store"
)

// HandleConnect returns the GET /ws/connect handler. The upgrade is
// authorized by a one-time ticket minted over the authenticated REST surface;
// the long-lived bearer token never appears in a URL.
func HandleConnect(hub *Hub, tickets *store.TicketStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			http.Error(w, "ticket required", http.StatusUnauthorized)
			return
		}

		deviceID, err := tickets.Redeem(ticket, time.Now())
		if err != nil {
			logger.Error("redeem ticket", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if deviceID == "" {
			// Unknown, expired, or already used: tickets redeem exactly once.
			http.Error(w, "invalid ticket", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // local network, ticket already authorized the upgrade
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}

		logger.Info("companion connected", "device_id", deviceID)
		client := NewClient(hub, conn, deviceID)
		client.Run(r.Context())
		logger.Info("companion disconnected", "device_id", deviceID)
	}
}
