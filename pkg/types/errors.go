package types

import "errors"

// ARCHITECTURAL DISCOVERY: Validation errors double as the human-readable reason
// returned to the client, so the messages are written for end users
var (
	ErrInvalidUserID          = errors.New("user id must be 1-64 characters, alphanumeric, underscore or hyphen")
	ErrInvalidRole            = errors.New("role must be 'patient' or 'doctor'")
	ErrEmptyContent           = errors.New("message must have content or an attachment")
	ErrContentTooLarge        = errors.New("message content exceeds 5000 characters")
	ErrInvalidAttachment      = errors.New("attachment must have a name and an http(s) url")
	ErrInvalidAppointmentType = errors.New("appointment type must be 1-50 characters")
)
