package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"medrelay/internal/appointment"
	"medrelay/internal/conversation"
	"medrelay/internal/logger"
	"medrelay/internal/metrics"
	"medrelay/internal/presence"
)

// HubStatus is the slice of the hub the HTTP layer reports on
type HubStatus interface {
	IsRunning() bool
	ConnectionCount() int
}

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Revoker withdraws a credential before its expiry
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
}

// Deps collects everything the router needs
type Deps struct {
	WebSocket     http.Handler
	Hub           HubStatus
	Presence      *presence.Registry
	Conversations *conversation.Store
	Appointments  *appointment.Broker
	Database      HealthChecker
	Revoker       Revoker
	// ServiceKey authorizes POST /api/tokens/revoke; the route is not mounted without it
	ServiceKey string
	// Gatherer backs /metrics; the route is not mounted without it
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps   Deps
	logger *slog.Logger
	router chi.Router
}

// NewServer builds the chi router with its middleware chain
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: logger.OrDefault(deps.Logger),
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Middleware order: recovery wraps logging so a panic is still logged as a 500
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(NewRecoveryMiddleware(s.logger))
	r.Use(NewLoggingMiddleware(s.logger))
	r.Use(corsMiddleware)

	if s.deps.WebSocket != nil {
		r.Method(http.MethodGet, "/ws", s.deps.WebSocket)
	}
	r.Get("/health", s.healthCheck)
	if s.deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(s.deps.Gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/presence/doctors", s.onlineDoctors)
		r.Get("/stats", s.stats)
		if s.deps.ServiceKey != "" && s.deps.Revoker != nil {
			r.With(s.requireServiceKey).Post("/tokens/revoke", s.revokeToken)
		}
	})
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Database    string    `json:"database"`
	Hub         string    `json:"hub"`
	Connections int       `json:"connections"`
}

type OnlineDoctorsResponse struct {
	Doctors []string `json:"doctors"`
}

type StatsResponse struct {
	Connections   int                `json:"connections"`
	Presence      presence.Stats     `json:"presence"`
	Conversations conversation.Stats `json:"conversations"`
	Appointments  appointment.Stats  `json:"appointments"`
}

type RevokeRequest struct {
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: GET /health - 503 when the revocation store or the hub is down
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
		Hub:       "running",
	}

	if s.deps.Database != nil {
		if err := s.deps.Database.HealthCheck(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Database = "error: " + err.Error()
		}
	}
	if s.deps.Hub != nil {
		resp.Connections = s.deps.Hub.ConnectionCount()
		if !s.deps.Hub.IsRunning() {
			resp.Status = "unhealthy"
			resp.Hub = "stopped"
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GET /api/presence/doctors
func (s *Server) onlineDoctors(w http.ResponseWriter, r *http.Request) {
	doctors := []string{}
	if s.deps.Presence != nil {
		doctors = s.deps.Presence.OnlineDoctors()
	}
	writeJSON(w, http.StatusOK, OnlineDoctorsResponse{Doctors: doctors})
}

// GET /api/stats reports counts only, never identities or content
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	if s.deps.Hub != nil {
		resp.Connections = s.deps.Hub.ConnectionCount()
	}
	if s.deps.Presence != nil {
		resp.Presence = s.deps.Presence.Stats()
	}
	if s.deps.Conversations != nil {
		resp.Conversations = s.deps.Conversations.Stats()
	}
	if s.deps.Appointments != nil {
		resp.Appointments = s.deps.Appointments.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/tokens/revoke - called by the credential issuer on logout or account lock
func (s *Server) revokeToken(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.TokenID == "" {
		writeError(w, http.StatusBadRequest, "token_id is required")
		return
	}
	if req.ExpiresAt.IsZero() {
		writeError(w, http.StatusBadRequest, "expires_at is required")
		return
	}

	if err := s.deps.Revoker.Revoke(r.Context(), req.TokenID, req.ExpiresAt); err != nil {
		s.logger.Error("token revocation failed",
			slog.String("token_id", req.TokenID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}

	s.logger.Info("token revoked", slog.String("token_id", req.TokenID))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requireServiceKey(next http.Handler) http.Handler {
	expected := []byte(s.deps.ServiceKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		given := []byte(r.Header.Get("X-Service-Key"))
		if subtle.ConstantTimeCompare(given, expected) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid service key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    status,
		Message: message,
	})
}
