package interfaces

import "errors"

// Common connection errors shared by every Connection implementation
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrNilConnection    = errors.New("connection cannot be nil")
	ErrNotAuthenticated = errors.New("connection must be authenticated")
)
