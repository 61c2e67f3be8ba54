package interfaces

import "medrelay/pkg/types"

// Connection represents a live client connection
// ARCHITECTURAL DISCOVERY: Pure abstraction without transport details so presence,
// routing and the hub can be exercised with in-memory fakes
type Connection interface {
	// Send queues a frame for delivery without blocking the caller.
	// Implementations return ErrSendBufferFull when the peer is not draining
	// and ErrConnectionClosed after Close.
	Send(v interface{}) error

	// Close closes the connection and releases its resources; safe to call twice
	Close() error

	// SetIdentity binds the authenticated identity; called once after the handshake
	SetIdentity(identity types.Identity) error

	// Identity returns the bound identity (zero value before authentication)
	Identity() types.Identity

	// GetUserID returns the authenticated identity id
	GetUserID() string

	// GetRole returns the authenticated role ("patient" or "doctor")
	GetRole() string

	// IsAuthenticated returns true once SetIdentity succeeded
	IsAuthenticated() bool
}
