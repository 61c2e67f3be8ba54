package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrNilConnection     = errors.New("connection cannot be nil")
)

// Request errors; the message text is sent back to the client as the failure reason
var (
	ErrNotJoined        = errors.New("join before sending other events")
	ErrUnknownEvent     = errors.New("unknown event type")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrIdentityMismatch = errors.New("user id does not match your credentials")
	ErrRoleMismatch     = errors.New("role does not match your credentials")
	ErrPatientsOnly     = errors.New("only patients can book appointments")
	ErrInternal         = errors.New("internal error")
)
