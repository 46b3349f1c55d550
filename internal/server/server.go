package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ktiyab/coheara/internal/backup"
	"github.com/ktiyab/coheara/internal/handler"
	"github.com/ktiyab/coheara/internal/middleware"
	"github.com/ktiyab/coheara/internal/pairing"
	"github.com/ktiyab/coheara/internal/store"
	syncpkg "github.com/ktiyab/coheara/internal/sync"
	ws "github.com/ktiyab/coheara/internal/websocket"
)

type Server struct {
	db  *sql.DB
	hub *ws.Hub

	medicationH   *handler.MedicationHandler
	labH          *handler.LabHandler
	timelineH     *handler.TimelineHandler
	alertH        *handler.AlertHandler
	appointmentH  *handler.AppointmentHandler
	profileH      *handler.ProfileHandler
	conversationH *handler.ConversationHandler
	syncH         *handler.SyncHandler
	ticketH       *handler.TicketHandler
	pairingH      *handler.PairingHandler
	deviceH       *handler.DeviceHandler
	backupH       *handler.BackupHandler

	deviceStore   *store.DeviceStore
	sessionStore  *store.SessionStore
	ticketStore   *store.TicketStore
	pairingStore  *store.PairingStore
	deletionStore *store.DeletionStore

	rateLimiter *middleware.RateLimiter
	lockout     *middleware.Lockout
	caPEM       []byte
	logger      *slog.Logger
}

func New(db *sql.DB, backupMgr *backup.Manager, caPEM []byte, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	medicationStore := store.NewMedicationStore(db)
	labStore := store.NewLabStore(db)
	timelineStore := store.NewTimelineStore(db)
	alertStore := store.NewAlertStore(db)
	appointmentStore := store.NewAppointmentStore(db)
	profileStore := store.NewProfileStore(db)
	conversationStore := store.NewConversationStore(db)

	deviceStore := store.NewDeviceStore(db)
	sessionStore := store.NewSessionStore(db)
	ticketStore := store.NewTicketStore(db)
	pairingStore := store.NewPairingStore(db)
	deletionStore := store.NewDeletionStore(db)

	coordinator := syncpkg.NewCoordinator(db, logger.With("component", "sync"))
	authority := pairing.NewAuthority(pairingStore, deviceStore, sessionStore, logger.With("component", "pairing"))
	lockout := middleware.NewLockout()

	return &Server{
		db:            db,
		hub:           hub,
		medicationH:   handler.NewMedicationHandler(medicationStore, hub, logger.With("component", "medication")),
		labH:          handler.NewLabHandler(labStore, hub, logger.With("component", "lab")),
		timelineH:     handler.NewTimelineHandler(timelineStore, hub, logger.With("component", "timeline")),
		alertH:        handler.NewAlertHandler(alertStore, hub, logger.With("component", "alert")),
		appointmentH:  handler.NewAppointmentHandler(appointmentStore, hub, logger.With("component", "appointment")),
		profileH:      handler.NewProfileHandler(profileStore, hub, logger.With("component", "profile")),
		conversationH: handler.NewConversationHandler(conversationStore, hub, logger.With("component", "conversation")),
		syncH:         handler.NewSyncHandler(coordinator, deviceStore, logger.With("component", "sync_handler")),
		ticketH:       handler.NewTicketHandler(ticketStore, logger.With("component", "ticket")),
		pairingH:      handler.NewPairingHandler(authority, lockout, logger.With("component", "pairing_handler")),
		deviceH:       handler.NewDeviceHandler(deviceStore, sessionStore, logger.With("component", "device")),
		backupH:       handler.NewBackupHandler(backupMgr, logger.With("component", "backup_handler")),
		deviceStore:   deviceStore,
		sessionStore:  sessionStore,
		ticketStore:   ticketStore,
		pairingStore:  pairingStore,
		deletionStore: deletionStore,
		rateLimiter:   middleware.NewRateLimiter(),
		lockout:       lockout,
		caPEM:         caPEM,
		logger:        logger,
	}
}

// Hub returns the websocket hub for broadcasting outside the request path.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// TicketStore returns the ticket store for cleanup tasks.
func (s *Server) TicketStore() *store.TicketStore {
	return s.ticketStore
}

// PairingStore returns the pairing store for cleanup tasks.
func (s *Server) PairingStore() *store.PairingStore {
	return s.pairingStore
}

// DeletionStore returns the deletion log store for tombstone pruning.
func (s *Server) DeletionStore() *store.DeletionStore {
	return s.deletionStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Lockout returns the lockout tracker for cleanup tasks.
func (s *Server) Lockout() *middleware.Lockout {
	return s.lockout
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes. The pairing key submission is the only unauthenticated
	// write and is both rate-limited and lockout-guarded.
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("GET /ca", s.caHandler)
	outerMux.HandleFunc("POST /api/pair/key", s.rateLimitedHandler(s.pairingH.SubmitKey))
	outerMux.HandleFunc("GET /api/pair/{id}/token", s.rateLimitedHandler(s.pairingH.Claim))
	outerMux.HandleFunc("GET /ws/connect", ws.HandleConnect(s.hub, s.ticketStore, s.logger.With("component", "ws_connect")))

	// Device routes require a paired device session.
	deviceMux := http.NewServeMux()
	s.registerDeviceRoutes(deviceMux)
	deviceAuth := middleware.DeviceAuth(s.deviceStore, s.sessionStore, s.lockout, s.logger.With("component", "device_auth"))
	outerMux.Handle("/api/", deviceAuth(deviceMux))

	// Admin routes never leave the hub machine.
	adminMux := http.NewServeMux()
	s.registerAdminRoutes(adminMux)
	outerMux.Handle("/admin/", middleware.RequireLoopback(adminMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// caHandler serves the hub's CA certificate so companions can pin it. The
// certificate is public material; possession grants nothing.
func (s *Server) caHandler(w http.ResponseWriter, r *http.Request) {
	if len(s.caPEM) == 0 {
		http.Error(w, "TLS not enabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write(s.caPEM)
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerDeviceRoutes(mux *http.ServeMux) {
	// Sync and realtime plumbing
	mux.HandleFunc("POST /api/sync", s.syncH.Sync)
	mux.HandleFunc("POST /api/ws-ticket", s.ticketH.Issue)
	mux.HandleFunc("GET /api/profiles/accessible", s.deviceH.AccessibleProfiles)

	// Medication API routes
	mux.HandleFunc("POST /api/medications", s.medicationH.Create)
	mux.HandleFunc("GET /api/medications", s.medicationH.List)
	mux.HandleFunc("PUT /api/medications/{id}", s.medicationH.Update)
	mux.HandleFunc("DELETE /api/medications/{id}", s.medicationH.Delete)
	mux.HandleFunc("POST /api/medications/{id}/dose", s.medicationH.ChangeDose)
	mux.HandleFunc("GET /api/medications/{id}/dose", s.medicationH.DoseHistory)

	// Lab result API routes
	mux.HandleFunc("POST /api/labs", s.labH.Create)
	mux.HandleFunc("GET /api/labs", s.labH.List)
	mux.HandleFunc("DELETE /api/labs/{id}", s.labH.Delete)

	// Timeline API routes
	mux.HandleFunc("POST /api/timeline", s.timelineH.Create)
	mux.HandleFunc("GET /api/timeline", s.timelineH.List)
	mux.HandleFunc("DELETE /api/timeline/{id}", s.timelineH.Delete)

	// Alert API routes
	mux.HandleFunc("POST /api/alerts", s.alertH.Create)
	mux.HandleFunc("GET /api/alerts", s.alertH.List)
	mux.HandleFunc("POST /api/alerts/{id}/ack", s.alertH.Acknowledge)
	mux.HandleFunc("DELETE /api/alerts/{id}", s.alertH.Delete)

	// Appointment API routes
	mux.HandleFunc("POST /api/appointments", s.appointmentH.Create)
	mux.HandleFunc("GET /api/appointments", s.appointmentH.List)
	mux.HandleFunc("PUT /api/appointments/{id}", s.appointmentH.Update)
	mux.HandleFunc("DELETE /api/appointments/{id}", s.appointmentH.Delete)

	// Conversation API routes
	mux.HandleFunc("POST /api/conversations", s.conversationH.Create)
	mux.HandleFunc("GET /api/conversations", s.conversationH.List)
	mux.HandleFunc("GET /api/conversations/{id}", s.conversationH.Get)
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.conversationH.AppendMessage)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.conversationH.Delete)
}

func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	// Pairing lifecycle: begin and approve stay on the hub machine, only the
	// key submission is network-reachable.
	mux.HandleFunc("POST /admin/pair", s.pairingH.Begin)
	mux.HandleFunc("POST /admin/pair/approve", s.pairingH.Approve)
	mux.HandleFunc("POST /admin/pair/reject", s.pairingH.Reject)

	// Device management
	mux.HandleFunc("GET /admin/devices", s.deviceH.List)
	mux.HandleFunc("DELETE /admin/devices/{id}", s.deviceH.Revoke)
	mux.HandleFunc("POST /admin/devices/{id}/access", s.deviceH.GrantAccess)
	mux.HandleFunc("DELETE /admin/devices/{id}/access", s.deviceH.RevokeAccess)

	// Profile management
	mux.HandleFunc("POST /admin/profiles", s.profileH.Create)
	mux.HandleFunc("GET /admin/profiles", s.profileH.List)
	mux.HandleFunc("GET /admin/profiles/{id}", s.profileH.Get)
	mux.HandleFunc("PUT /admin/profiles/{id}", s.profileH.Update)
	mux.HandleFunc("POST /admin/profiles/{id}/allergies", s.profileH.AddAllergy)
	mux.HandleFunc("DELETE /admin/profiles/{id}/allergies/{allergyID}", s.profileH.RemoveAllergy)
	mux.HandleFunc("POST /admin/profiles/{id}/contacts", s.profileH.AddEmergencyContact)
	mux.HandleFunc("DELETE /admin/profiles/{id}/contacts/{contactID}", s.profileH.RemoveEmergencyContact)
	mux.HandleFunc("POST /admin/profiles/{id}/grants", s.deviceH.GrantProfile)
	mux.HandleFunc("DELETE /admin/profiles/{id}/grants", s.deviceH.RevokeProfileGrant)

	// Snapshot management
	mux.HandleFunc("GET /admin/backup/status", s.backupH.Status)
	mux.HandleFunc("GET /admin/backup/snapshots", s.backupH.List)
	mux.HandleFunc("POST /admin/backup/run", s.backupH.Run)
}
