// Package hub is the session lifecycle controller: a single coordinator goroutine
// that owns connection bookkeeping and dispatches every inbound event.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"medrelay/internal/appointment"
	"medrelay/internal/logger"
	"medrelay/internal/metrics"
	"medrelay/internal/presence"
	"medrelay/internal/router"
	"medrelay/pkg/interfaces"
	"medrelay/pkg/types"
)

// QueueSize bounds the coordinator inbox shared by all connections
const QueueSize = 1024

type requestKind int

const (
	kindRegister requestKind = iota
	kindUnregister
	kindFrame
)

// request is one item on the coordinator inbox
// ARCHITECTURAL DISCOVERY: Register, frames and unregister for a connection travel on
// the same channel so the coordinator always sees them in the order they happened
type request struct {
	kind  requestKind
	conn  interfaces.Connection
	frame *types.InboundFrame
}

// Hub coordinates presence, routing and booking for every live connection
type Hub struct {
	queue chan request

	presence *presence.Registry
	router   *router.Router
	broker   *appointment.Broker
	recorder metrics.Recorder
	logger   *slog.Logger
	handlers map[string]eventHandler

	// connections is owned by the run goroutine; count mirrors its size for readers
	connections map[interfaces.Connection]struct{}
	count       atomic.Int64

	running  bool
	shutdown chan struct{}
	done     chan struct{}
	mu       sync.RWMutex
}

// NewHub wires the coordinator to its collaborators. recorder and log may be nil.
func NewHub(registry *presence.Registry, r *router.Router, broker *appointment.Broker, recorder metrics.Recorder, log *slog.Logger) *Hub {
	h := &Hub{
		queue:       make(chan request, QueueSize),
		presence:    registry,
		router:      r,
		broker:      broker,
		recorder:    metrics.OrNop(recorder),
		logger:      logger.OrDefault(log),
		connections: make(map[interfaces.Connection]struct{}),
	}
	h.registerHandlers()
	return h
}

// Start launches the coordinator goroutine
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})

	h.logger.Info("starting hub")
	go h.run(ctx, h.shutdown, h.done)
	return nil
}

// Stop signals the coordinator to exit and waits for it
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	done := h.done
	h.mu.Unlock()

	<-done
	h.logger.Info("hub stopped")
	return nil
}

// Register queues a newly authenticated connection
func (h *Hub) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	return h.enqueue(request{kind: kindRegister, conn: conn})
}

// Unregister queues the teardown of a closed connection
func (h *Hub) Unregister(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	return h.enqueue(request{kind: kindUnregister, conn: conn})
}

// Submit queues an inbound frame read from conn. It blocks only the caller's read
// loop when the inbox is full, never the coordinator.
func (h *Hub) Submit(conn interfaces.Connection, frame *types.InboundFrame) error {
	if conn == nil {
		return ErrNilConnection
	}
	return h.enqueue(request{kind: kindFrame, conn: conn, frame: frame})
}

// ConnectionCount returns the number of registered connections
func (h *Hub) ConnectionCount() int {
	return int(h.count.Load())
}

// IsRunning reports whether the coordinator is accepting requests
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) enqueue(req request) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	shutdown, done := h.shutdown, h.done
	h.mu.RUnlock()

	select {
	case h.queue <- req:
		return nil
	case <-shutdown:
		return ErrHubNotRunning
	case <-done:
		return ErrHubNotRunning
	}
}

// run is the coordinator loop; every shared-state mutation starts here
func (h *Hub) run(ctx context.Context, shutdown, done chan struct{}) {
	defer close(done)
	defer h.markStopped(done)
	defer h.closeAll()

	for {
		select {
		case req := <-h.queue:
			h.handle(ctx, req)
		case <-shutdown:
			h.logger.Info("hub shutdown requested")
			return
		case <-ctx.Done():
			h.logger.Info("hub context cancelled")
			return
		}
	}
}

// markStopped clears running when the loop exits on its own, e.g. on context
// cancellation; a restarted hub owns a different done channel and is left alone
func (h *Hub) markStopped(done chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done == done {
		h.running = false
	}
}

func (h *Hub) handle(ctx context.Context, req request) {
	switch req.kind {
	case kindRegister:
		h.handleRegistration(req.conn)
	case kindUnregister:
		h.handleDeregistration(req.conn)
	case kindFrame:
		h.handleFrame(ctx, req.conn, req.frame)
	}
}

func (h *Hub) handleRegistration(conn interfaces.Connection) {
	if _, exists := h.connections[conn]; exists {
		return
	}
	h.connections[conn] = struct{}{}
	h.count.Store(int64(len(h.connections)))
	h.recorder.ConnectionOpened()

	h.logger.Info("connection registered",
		slog.String("user_id", conn.GetUserID()),
		slog.String("role", conn.GetRole()),
	)
}

// handleDeregistration tears down a connection
// RACE CONDITION FIX: Presence only drops the entry if this connection still owns it,
// so a superseded connection closing late cannot evict its replacement
func (h *Hub) handleDeregistration(conn interfaces.Connection) {
	if _, exists := h.connections[conn]; !exists {
		return
	}
	delete(h.connections, conn)
	h.count.Store(int64(len(h.connections)))
	h.recorder.ConnectionClosed()

	entry, removed := h.presence.LeaveConnection(conn)
	h.logger.Info("connection deregistered",
		slog.String("user_id", conn.GetUserID()),
		slog.Bool("was_joined", removed),
	)
	if removed && entry.Role == types.RoleDoctor {
		h.broadcastOnlineDoctors()
	}
}

func (h *Hub) closeAll() {
	for conn := range h.connections {
		_ = conn.Close()
		delete(h.connections, conn)
	}
	h.count.Store(0)
}

func (h *Hub) handleFrame(ctx context.Context, conn interfaces.Connection, frame *types.InboundFrame) {
	if frame == nil {
		return
	}
	// One malformed request must not take down the coordinator for everyone
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic while handling event",
				slog.String("event", frame.Type),
				slog.String("user_id", conn.GetUserID()),
				slog.Any("panic", rec),
			)
			h.fail(conn, frame.RequestID, fmt.Errorf("%w: %v", ErrInternal, rec))
		}
	}()

	switch frame.Type {
	case types.EventPing:
		pong := types.NewPush(types.FramePong, nil)
		pong.RequestID = frame.RequestID
		h.reply(conn, pong)
		return
	case types.EventJoin:
		h.handleJoin(conn, frame)
		return
	}

	handler, known := h.handlers[frame.Type]
	if !known {
		h.fail(conn, frame.RequestID, ErrUnknownEvent)
		return
	}
	if !h.presence.IsJoined(conn) {
		h.fail(conn, frame.RequestID, ErrNotJoined)
		return
	}
	handler(ctx, conn, frame)
}

type eventHandler func(ctx context.Context, conn interfaces.Connection, frame *types.InboundFrame)

// registerHandlers maps every event that requires a joined connection
func (h *Hub) registerHandlers() {
	h.handlers = map[string]eventHandler{
		types.EventSendMessage:            h.handleSendMessage,
		types.EventTyping:                 h.handleTyping,
		types.EventMarkRead:               h.handleMarkRead,
		types.EventBookAppointment:        h.handleBookAppointment,
		types.EventCancelAppointment:      h.handleCancelAppointment,
		types.EventGetConversationHistory: h.handleGetHistory,
		types.EventGetAppointments:        h.handleGetAppointments,
	}
}

// handleJoin binds the connection into presence
// FUNCTIONAL DISCOVERY: The declared user id and role must match the credential;
// an empty declaration falls back to the credential's values
func (h *Hub) handleJoin(conn interfaces.Connection, frame *types.InboundFrame) {
	var p types.JoinPayload
	if err := decode(frame.Payload, &p); err != nil {
		h.fail(conn, frame.RequestID, err)
		return
	}

	identity := conn.Identity()
	if p.UserID == "" {
		p.UserID = identity.ID
	}
	if p.Role == "" {
		p.Role = identity.Role
	}
	if p.UserID != identity.ID {
		h.fail(conn, frame.RequestID, ErrIdentityMismatch)
		return
	}
	if p.Role != identity.Role {
		h.fail(conn, frame.RequestID, ErrRoleMismatch)
		return
	}

	result, err := h.presence.Join(conn, p.Role, p.UserID)
	if err != nil {
		h.fail(conn, frame.RequestID, err)
		return
	}

	if result.Replaced != nil {
		h.logger.Info("connection superseded", slog.String("user_id", p.UserID))
		go result.Replaced.Close()
	}

	h.logger.Info("user joined",
		slog.String("user_id", p.UserID),
		slog.String("role", p.Role),
	)

	if result.DoctorsChanged {
		h.broadcastOnlineDoctors()
		return
	}
	// A patient join changes nothing for others but still needs the current list
	h.reply(conn, h.onlineDoctorsFrame())
}

func (h *Hub) handleSendMessage(ctx context.Context, conn interfaces.Connection, frame *types.InboundFrame) {
	var p types.SendMessagePayload
	if err := decode(frame.Payload, &p); err != nil {
		h.fail(conn, frame.RequestID, err)
		return
	}

	msg, err := h.router.SendMessage(ctx, router.SendMessageRequest{
		ConversationID: p.ConversationID,
		SenderID:       conn.GetUserID(),
		Content:        p.Content,
		Attachment:     p.Attachment,
		Timestamp:      p.Timestamp,
	})
	if err != nil {
		h.fail(conn, frame.RequestID, err)
		return
	}
	h.ack(conn, frame.RequestID, types.MessageAck{Status: types.MessageStatusSent, Message: msg})
}

func (h *Hub) handleTyping(ctx context.Context, conn interfaces.Connection, frame *types.InboundFrame) {
	var p types.TypingPayload
	if err := decode(frame.Payload, &p); err != nil {
		h.fail(conn, frame.RequestID, err)
		return
	}
	if err := h.router.SendTyping(ctx, p.ConversationID, conn.GetUserID(), p.IsTyping); err != nil {
		h.fail(conn, frame.RequestID, err)
	}
}

func (h *Hub) handleMarkRead(ctx context.Context, conn interfaces.Connection, frame *types.InboundFrame) {
	var p types.ConversationPayload
	if err := decode(frame.Payload, &p); err != nil {
		h.fail(conn, frame.RequestID, err)
		return
	}
	count, err := h.router.MarkRead(ctx, p.ConversationID, conn.GetUserID())
	if err != nil {
		h.fail(conn, frame.RequestID, err)
		return
	}
	h.ack(conn, frame.RequestID, types.MessagesReadEvent{
		ConversationID: p.ConversationID,
		ReaderID:       conn.GetUserID(),
		Count:          count,
	})
}

func (h *Hub) handleGetHistory(ctx context.Context, conn interfaces.Connection, frame *types.InboundFrame) {
	var p types.ConversationPayload
	if err := decode(frame.Payload, &p); err != nil {
		h.fail(conn, frame.RequestID, err)
		return
	}
	messages, err := h.router.History(ctx, p.ConversationID, conn.GetUserID())
	if err != nil {
		h.fail(conn, frame.RequestID, err)
		return
	}
	h.ack(conn, frame.RequestID, types.HistoryResult{ConversationID: p.ConversationID, Messages: messages})
}

func (h *Hub) handleBookAppointment(ctx context.Context, conn interfaces.Connection, frame *types.InboundFrame) {
	var p types.BookAppointmentPayload
	if err := decode(frame.Payload, &p); err != nil {
		h.recorder.BookingAttempt(metrics.OutcomeInvalid)
		h.fail(conn, frame.RequestID, err)
		return
	}
	if conn.GetRole() != types.RolePatient {
		h.recorder.BookingAttempt(metrics.OutcomeUnauthorized)
		h.fail(conn, frame.RequestID, ErrPatientsOnly)
		return
	}

	appt, err := h.broker.Book(ctx, appointment.BookRequest{
		DoctorID:  p.DoctorID,
		PatientID: conn.GetUserID(),
		Date:      p.Date,
		Type:      p.Type,
	})
	if err != nil {
		h.recorder.BookingAttempt(bookingOutcome(err))
		h.fail(conn, frame.RequestID, err)
		return
	}
	h.recorder.BookingAttempt(metrics.OutcomeOK)

	h.logger.Info("appointment booked",
		slog.String("appointment_id", appt.ID),
		slog.String("doctor_id", appt.DoctorID),
		slog.String("patient_id", appt.PatientID),
	)

	h.ack(conn, frame.RequestID, appt)
	h.notifyParties(appt, types.AppointmentUpdateNew)
}

func (h *Hub) handleCancelAppointment(ctx context.Context, conn interfaces.Connection, frame *types.InboundFrame) {
	var p types.CancelAppointmentPayload
	if err := decode(frame.Payload, &p); err != nil {
		h.recorder.Cancellation(metrics.OutcomeInvalid)
		h.fail(conn, frame.RequestID, err)
		return
	}

	appt, changed, err := h.broker.Cancel(ctx, p.AppointmentID, conn.GetUserID())
	if err != nil {
		h.recorder.Cancellation(cancelOutcome(err))
		h.fail(conn, frame.RequestID, err)
		return
	}

	h.ack(conn, frame.RequestID, appt)
	if !changed {
		h.recorder.Cancellation(metrics.OutcomeRepeat)
		return
	}
	h.recorder.Cancellation(metrics.OutcomeOK)

	h.logger.Info("appointment cancelled",
		slog.String("appointment_id", appt.ID),
		slog.String("user_id", appt.CancelledBy),
	)
	h.notifyParties(appt, types.AppointmentUpdateCancelled)
}

func (h *Hub) handleGetAppointments(ctx context.Context, conn interfaces.Connection, frame *types.InboundFrame) {
	h.ack(conn, frame.RequestID, types.AppointmentsResult{Appointments: h.broker.ForUser(conn.GetUserID())})
}

// notifyParties pushes an appointment_update to whichever of the two parties is online
func (h *Hub) notifyParties(appt types.Appointment, kind string) {
	update := types.AppointmentUpdate{Type: kind, Appointment: appt}
	for _, userID := range []string{appt.DoctorID, appt.PatientID} {
		h.router.Deliver(userID, types.NewPush(types.FrameAppointmentUpdate, update))
	}
}

func (h *Hub) onlineDoctorsFrame() *types.OutboundFrame {
	doctors := h.presence.OnlineDoctors()
	h.recorder.SetOnlineDoctors(len(doctors))
	return types.NewPush(types.FrameOnlineDoctors, types.OnlineDoctorsPayload{Doctors: doctors})
}

// broadcastOnlineDoctors sends one consistent snapshot to every registered connection
func (h *Hub) broadcastOnlineDoctors() {
	frame := h.onlineDoctorsFrame()
	for conn := range h.connections {
		h.router.Push(conn, frame)
	}
	h.logger.Debug("online doctors broadcast",
		slog.Int("online_doctors", len(frame.Payload.(types.OnlineDoctorsPayload).Doctors)),
		slog.Int("recipients", len(h.connections)),
	)
}

func (h *Hub) reply(conn interfaces.Connection, frame *types.OutboundFrame) {
	h.router.Push(conn, frame)
}

// ack answers a request; requests without an id get no ack
func (h *Hub) ack(conn interfaces.Connection, requestID string, payload interface{}) {
	if requestID == "" {
		return
	}
	h.reply(conn, types.NewAck(requestID, payload))
}

// fail reports err to the requester only; it never affects other connections
func (h *Hub) fail(conn interfaces.Connection, requestID string, err error) {
	code := codeFor(err)
	if code == CodeInternal {
		h.logger.Error("request failed",
			slog.String("user_id", conn.GetUserID()),
			slog.String("error", err.Error()),
		)
	} else {
		h.logger.Debug("request rejected",
			slog.String("user_id", conn.GetUserID()),
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
	}

	if requestID == "" {
		h.reply(conn, types.NewErrorFrame(code, reasonFor(err)))
		return
	}
	h.reply(conn, types.NewNack(requestID, code, reasonFor(err)))
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func bookingOutcome(err error) string {
	switch {
	case errors.Is(err, appointment.ErrSlotConflict):
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeInvalid
	}
}

func cancelOutcome(err error) string {
	switch {
	case errors.Is(err, appointment.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, appointment.ErrUnauthorized):
		return metrics.OutcomeUnauthorized
	default:
		return metrics.OutcomeInvalid
	}
}
