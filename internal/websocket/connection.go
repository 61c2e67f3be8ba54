package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"medrelay/pkg/interfaces"
	"medrelay/pkg/types"
)

// Config tunes a single WebSocket connection
type Config struct {
	SendBuffer     int           // frames queued per connection before it counts as slow
	WriteTimeout   time.Duration // deadline for one frame or control message
	PongWait       time.Duration // read deadline, extended by every pong
	PingInterval   time.Duration // must be shorter than PongWait
	MaxMessageSize int64         // largest inbound frame in bytes
}

// DefaultConfig returns settings suited to chat traffic
func DefaultConfig() Config {
	return Config{
		SendBuffer:     256,
		WriteTimeout:   10 * time.Second,
		PongWait:       60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions,
// so data frames and heartbeat pings all go through one writer goroutine
type Connection struct {
	conn     *websocket.Conn
	config   Config
	writeCh  chan []byte        // never closed; Send may race with Close
	identity types.Identity     // Set after authentication
	authed   bool               // Authentication status
	ctx      context.Context    // For cancellation
	cancel   context.CancelFunc // For cleanup
	mu       sync.RWMutex       // Protect auth fields
}

// NewConnection wraps conn and starts its writer goroutine
func NewConnection(conn *websocket.Conn, config Config) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	config = config.withDefaults()
	c := &Connection{
		conn:    conn,
		config:  config,
		writeCh: make(chan []byte, config.SendBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	// The writer owns the socket. Closing it here also unblocks the read pump.
	defer func() {
		c.cancel()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout)); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.writeClose()
			return
		}
	}
}

// writeClose makes a best-effort attempt at a clean close handshake
func (c *Connection) writeClose() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// Send marshals v and queues it for the writer without blocking
// FUNCTIONAL DISCOVERY: A full queue means the peer is not draining; the caller
// decides what to do with a slow consumer instead of stalling here
func (c *Connection) Send(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return interfaces.ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return interfaces.ErrConnectionClosed
	default:
		return interfaces.ErrSendBufferFull
	}
}

// Close asks the writer to send a close frame and release the socket; safe to call more than once
func (c *Connection) Close() error {
	c.cancel()
	return nil
}

// Done is closed once the connection starts shutting down
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) SetIdentity(identity types.Identity) error {
	if !types.IsValidUserID(identity.ID) {
		return types.ErrInvalidUserID
	}
	if !types.IsValidRole(identity.Role) {
		return types.ErrInvalidRole
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
	c.authed = true
	return nil
}

func (c *Connection) Identity() types.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authed
}

func (c *Connection) GetUserID() string {
	return c.Identity().ID
}

func (c *Connection) GetRole() string {
	return c.Identity().Role
}
