// Package router delivers chat, typing and read-receipt payloads between the two
// parties of a conversation.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"medrelay/internal/conversation"
	"medrelay/internal/logger"
	"medrelay/internal/metrics"
	"medrelay/internal/presence"
	"medrelay/pkg/interfaces"
	"medrelay/pkg/types"
)

// SendMessageRequest is a chat message as accepted from an authenticated sender
type SendMessageRequest struct {
	ConversationID string
	SenderID       string
	Content        string
	Attachment     *types.Attachment
	Timestamp      time.Time
}

// Router resolves counterparties and pushes payloads to their live connections
// ARCHITECTURAL DISCOVERY: Store-then-push; an unreachable counterparty is not an
// error, the message simply stays undelivered in history
type Router struct {
	presence  *presence.Registry
	store     *conversation.Store
	limiter   *RateLimiter
	sanitizer *Sanitizer
	recorder  metrics.Recorder
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewRouter creates a router. limiter may be nil to disable rate limiting;
// recorder and log may be nil.
func NewRouter(registry *presence.Registry, store *conversation.Store, limiter *RateLimiter, recorder metrics.Recorder, log *slog.Logger) *Router {
	return &Router{
		presence:  registry,
		store:     store,
		limiter:   limiter,
		sanitizer: NewSanitizer(),
		recorder:  metrics.OrNop(recorder),
		logger:    logger.OrDefault(log),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// SendMessage stores a chat message and pushes it to the counterparty if reachable.
// The returned message carries the stored delivered flag.
func (r *Router) SendMessage(ctx context.Context, req SendMessageRequest) (types.Message, error) {
	if err := ctx.Err(); err != nil {
		return types.Message{}, err
	}
	id, err := r.resolve(req.ConversationID, req.SenderID)
	if err != nil {
		return types.Message{}, err
	}

	// FUNCTIONAL DISCOVERY: Validate what will be stored, so markup-only bodies are
	// empty and the length bound applies after stripping
	content := r.sanitizer.Sanitize(req.Content)
	attachment := r.sanitizeAttachment(req.Attachment)
	if err := types.ValidateContent(content, attachment); err != nil {
		return types.Message{}, err
	}

	// Only well-formed sends spend the sender's budget
	if r.limiter != nil && !r.limiter.Allow(req.SenderID) {
		return types.Message{}, ErrRateLimitExceeded
	}

	counterparty, _ := id.Counterparty(req.SenderID)

	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = r.now()
	}

	msg := types.Message{
		ID:             r.newID(),
		ConversationID: id.String(),
		SenderID:       req.SenderID,
		Content:        content,
		Attachment:     attachment,
		Timestamp:      timestamp.UTC(),
	}

	stored := r.store.Append(id, msg, func(m types.Message) bool {
		return r.Deliver(counterparty, types.NewPush(types.FrameNewMessage, m))
	})

	r.recorder.MessageRouted(stored.Delivered)
	r.logger.Debug("message routed",
		slog.String("conversation_id", stored.ConversationID),
		slog.String("message_id", stored.ID),
		slog.String("user_id", req.SenderID),
		slog.Bool("delivered", stored.Delivered),
	)
	return stored, nil
}

// SendTyping relays a typing indicator; nothing is stored
func (r *Router) SendTyping(ctx context.Context, conversationID, senderID string, isTyping bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := r.resolve(conversationID, senderID)
	if err != nil {
		return err
	}
	counterparty, _ := id.Counterparty(senderID)

	event := types.TypingEvent{
		ConversationID: id.String(),
		UserID:         senderID,
		IsTyping:       isTyping,
	}
	if r.Deliver(counterparty, types.NewPush(types.FrameTyping, event)) {
		r.recorder.TypingRouted()
	}
	return nil
}

// MarkRead flags every message readerID received in the conversation as read and
// tells the counterparty how many changed
func (r *Router) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id, err := r.resolve(conversationID, readerID)
	if err != nil {
		return 0, err
	}

	count := r.store.MarkRead(id, readerID)
	if count > 0 {
		counterparty, _ := id.Counterparty(readerID)
		r.Deliver(counterparty, types.NewPush(types.FrameMessagesRead, types.MessagesReadEvent{
			ConversationID: id.String(),
			ReaderID:       readerID,
			Count:          count,
		}))
	}
	return count, nil
}

// History returns the conversation in append order; the requester must be a party
func (r *Router) History(ctx context.Context, conversationID, requesterID string) ([]types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := r.resolve(conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	return r.store.History(id), nil
}

// Deliver pushes frame to userID's live connection and reports whether it was queued.
// A peer whose send buffer is full is closed so it cannot hold back anyone else.
func (r *Router) Deliver(userID string, frame *types.OutboundFrame) bool {
	entry, ok := r.presence.Lookup(userID)
	if !ok {
		return false
	}
	return r.Push(entry.Conn, frame)
}

// Push sends frame on conn, retiring the connection if it is not draining
func (r *Router) Push(conn interfaces.Connection, frame *types.OutboundFrame) bool {
	err := conn.Send(frame)
	if err == nil {
		return true
	}
	if errors.Is(err, interfaces.ErrSendBufferFull) {
		r.recorder.SlowConsumerDropped()
		r.logger.Warn("closing slow consumer",
			slog.String("user_id", conn.GetUserID()),
			slog.String("frame_type", frame.Type),
		)
		go conn.Close()
	}
	return false
}

func (r *Router) resolve(conversationID, participant string) (conversation.ID, error) {
	if strings.TrimSpace(conversationID) == "" {
		return conversation.ID{}, ErrEmptyConversation
	}
	return conversation.ParseIDFor(conversationID, participant)
}

func (r *Router) sanitizeAttachment(a *types.Attachment) *types.Attachment {
	if a == nil {
		return nil
	}
	clean := *a
	clean.Name = r.sanitizer.Sanitize(a.Name)
	return &clean
}
