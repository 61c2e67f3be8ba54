package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"medrelay/internal/auth"
	"medrelay/internal/hub"
	"medrelay/internal/logger"
	"medrelay/internal/metrics"
	"medrelay/pkg/interfaces"
	"medrelay/pkg/types"
)

// Dispatcher receives connection lifecycle events and inbound frames; *hub.Hub satisfies it
type Dispatcher interface {
	Register(conn interfaces.Connection) error
	Unregister(conn interfaces.Connection) error
	Submit(conn interfaces.Connection, frame *types.InboundFrame) error
}

// Handler authenticates WebSocket handshakes and pumps frames into the dispatcher
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic;
// the handler only knows about credentials, sockets and the dispatcher
type Handler struct {
	verifier   interfaces.TokenVerifier
	dispatcher Dispatcher
	config     Config
	upgrader   websocket.Upgrader
	recorder   metrics.Recorder
	logger     *slog.Logger
}

// NewHandler creates a handler. recorder and log may be nil.
func NewHandler(verifier interfaces.TokenVerifier, dispatcher Dispatcher, config Config, recorder metrics.Recorder, log *slog.Logger) *Handler {
	return &Handler{
		verifier:   verifier,
		dispatcher: dispatcher,
		config:     config.withDefaults(),
		upgrader: websocket.Upgrader{
			// FUNCTIONAL DISCOVERY: Clients are mobile and web apps on arbitrary origins;
			// the bearer credential is the access control, not the Origin header
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		recorder: metrics.OrNop(recorder),
		logger:   logger.OrDefault(log),
	}
}

// ServeHTTP handles GET /ws
// ARCHITECTURAL DISCOVERY: Multi-stage validation (credential -> upgrade -> identity -> registration)
// rejects bad handshakes with a plain HTTP error before any socket resources are spent
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Authenticate(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		h.rejectHandshake(w, r, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Warn("websocket upgrade failed",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	conn := NewConnection(ws, h.config)
	// TECHNICAL DISCOVERY: Identity is bound before registration so the hub never
	// sees an anonymous connection
	if err := conn.SetIdentity(identity); err != nil {
		h.logger.Error("failed to bind identity", slog.String("error", err.Error()))
		_ = conn.Close()
		return
	}

	if err := h.dispatcher.Register(conn); err != nil {
		h.logger.Error("failed to register connection",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		_ = conn.Close()
		return
	}

	go h.readPump(conn)
}

func (h *Handler) rejectHandshake(w http.ResponseWriter, r *http.Request, err error) {
	reason := auth.Reason(err)
	h.recorder.AuthFailure(reason)

	status := http.StatusUnauthorized
	message := err.Error()
	if !errors.Is(err, auth.ErrAuthentication) {
		// The revocation store failed; the credential itself was not judged
		status = http.StatusServiceUnavailable
		message = ErrAuthUnavailable.Error()
		h.logger.Error("authentication backend failure", slog.String("error", err.Error()))
	} else {
		h.logger.Info("handshake rejected",
			slog.String("reason", reason),
			slog.String("remote_addr", r.RemoteAddr),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  reason,
	})
}

// readPump decodes inbound frames until the socket fails, then deregisters the connection
// TECHNICAL DISCOVERY: The read deadline is extended by every pong, so a peer that stops
// answering heartbeats is detected within PongWait
func (h *Handler) readPump(conn *Connection) {
	defer func() {
		if err := h.dispatcher.Unregister(conn); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			h.logger.Warn("failed to unregister connection",
				slog.String("user_id", conn.GetUserID()),
				slog.String("error", err.Error()),
			)
		}
		_ = conn.Close()
	}()

	ws := conn.conn
	ws.SetReadLimit(h.config.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.config.PongWait)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error",
					slog.String("user_id", conn.GetUserID()),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame types.InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
			// A bad frame costs the sender an error reply, not the connection
			_ = conn.Send(types.NewErrorFrame(hub.CodeValidation, ErrMalformedFrame.Error()))
			continue
		}

		if err := h.dispatcher.Submit(conn, &frame); err != nil {
			return
		}
	}
}
