package websocket

import "errors"

// Connection-related errors
var (
	ErrInvalidJSON = errors.New("invalid JSON data")
)

// Handler-related errors
var (
	ErrMalformedFrame  = errors.New("malformed frame: expected a JSON object with a type")
	ErrAuthUnavailable = errors.New("authentication temporarily unavailable")
)
