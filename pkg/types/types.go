package types

import (
	"encoding/json"
	"time"
)

// Roles carried by an authenticated identity
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
)

// ARCHITECTURAL DISCOVERY: Inbound event names are the only vocabulary the hub dispatches on;
// anything else is answered with an unknown_event ack
const (
	EventJoin                   = "join"
	EventSendMessage            = "send_message"
	EventTyping                 = "typing"
	EventMarkRead               = "mark_read"
	EventBookAppointment        = "book_appointment"
	EventCancelAppointment      = "cancel_appointment"
	EventGetConversationHistory = "get_conversation_history"
	EventGetAppointments        = "get_appointments"
	EventPing                   = "ping"
)

// Outbound frame types pushed by the server
const (
	FrameAck               = "ack"
	FrameOnlineDoctors     = "online_doctors"
	FrameNewMessage        = "new_message"
	FrameTyping            = "typing"
	FrameMessagesRead      = "messages_read"
	FrameAppointmentUpdate = "appointment_update"
	FrameError             = "error"
	FramePong              = "pong"
)

// Appointment lifecycle: scheduled -> cancelled (terminal)
const (
	AppointmentStatusScheduled = "scheduled"
	AppointmentStatusCancelled = "cancelled"
)

// Kinds carried by an appointment_update push
const (
	AppointmentUpdateNew       = "new"
	AppointmentUpdateCancelled = "cancelled"
)

// MessageStatusSent is the only status a sender ever receives; delivery is best effort
const MessageStatusSent = "sent"

// Identity is the authenticated owner of a connection
type Identity struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsDoctor reports whether the identity carries the doctor role
func (i Identity) IsDoctor() bool {
	return i.Role == RoleDoctor
}

// Attachment describes a file shared in a conversation. The file itself lives
// with the CRUD collaborator; only the descriptor travels through the relay.
type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message is one chat payload inside a conversation
// FUNCTIONAL DISCOVERY: Only Delivered and Read ever change after creation
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Delivered      bool        `json:"delivered"`
	Read           bool        `json:"read"`
}

// Appointment is a booking between one doctor and one patient
type Appointment struct {
	ID          string     `json:"id"`
	DoctorID    string     `json:"doctor_id"`
	PatientID   string     `json:"patient_id"`
	Date        time.Time  `json:"date"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CancelledBy string     `json:"cancelled_by,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// IsCancelled reports whether the appointment reached its terminal state
func (a Appointment) IsCancelled() bool {
	return a.Status == AppointmentStatusCancelled
}

// InboundFrame is the envelope of every client -> server WebSocket frame
// ARCHITECTURAL DISCOVERY: Payload stays raw until the hub knows the event type,
// so one decode pass validates the envelope and a second decodes the body
type InboundFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// OutboundFrame is the envelope of every server -> client WebSocket frame
type OutboundFrame struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Success   *bool       `json:"success,omitempty"`
	Code      string      `json:"code,omitempty"`
	Error     string      `json:"error,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Client -> server payloads

type JoinPayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type SendMessagePayload struct {
	ConversationID string      `json:"conversation_id"`
	Content        string      `json:"content"`
	Timestamp      time.Time   `json:"timestamp"`
	Attachment     *Attachment `json:"attachment,omitempty"`
}

type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type ConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

type BookAppointmentPayload struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
	Type     string `json:"type"`
}

type CancelAppointmentPayload struct {
	AppointmentID string `json:"appointment_id"`
}

// Server -> client payloads

type OnlineDoctorsPayload struct {
	Doctors []string `json:"doctors"`
}

type MessageAck struct {
	Status  string  `json:"status"`
	Message Message `json:"message"`
}

type TypingEvent struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

type MessagesReadEvent struct {
	ConversationID string `json:"conversation_id"`
	ReaderID       string `json:"reader_id"`
	Count          int    `json:"count"`
}

type AppointmentUpdate struct {
	Type        string      `json:"type"`
	Appointment Appointment `json:"appointment"`
}

type HistoryResult struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

type AppointmentsResult struct {
	Appointments []Appointment `json:"appointments"`
}
