package hub

import (
	"errors"

	"medrelay/internal/appointment"
	"medrelay/internal/conversation"
	"medrelay/internal/router"
	"medrelay/pkg/types"
)

// Machine-readable failure codes carried next to the human-readable reason
const (
	CodeSlotConflict = "slot_conflict"
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeValidation   = "validation"
	CodeRateLimited  = "rate_limited"
	CodeNotJoined    = "not_joined"
	CodeUnknownEvent = "unknown_event"
	CodeInternal     = "internal"
)

type classified struct {
	err  error
	code string
}

// Order matters only where sentinels wrap each other; none of these do
var knownErrors = []classified{
	{appointment.ErrSlotConflict, CodeSlotConflict},
	{appointment.ErrNotFound, CodeNotFound},
	{appointment.ErrUnauthorized, CodeUnauthorized},
	{conversation.ErrNotParticipant, CodeUnauthorized},
	{ErrIdentityMismatch, CodeUnauthorized},
	{ErrRoleMismatch, CodeUnauthorized},
	{ErrPatientsOnly, CodeUnauthorized},
	{router.ErrRateLimitExceeded, CodeRateLimited},
	{ErrNotJoined, CodeNotJoined},
	{ErrUnknownEvent, CodeUnknownEvent},
	{ErrInvalidPayload, CodeValidation},
	{conversation.ErrMalformedConversationID, CodeValidation},
	{router.ErrEmptyConversation, CodeValidation},
	{appointment.ErrInvalidDate, CodeValidation},
	{appointment.ErrInvalidDoctor, CodeValidation},
	{appointment.ErrInvalidPatient, CodeValidation},
	{appointment.ErrSelfBooking, CodeValidation},
	{types.ErrInvalidUserID, CodeValidation},
	{types.ErrInvalidRole, CodeValidation},
	{types.ErrEmptyContent, CodeValidation},
	{types.ErrContentTooLarge, CodeValidation},
	{types.ErrInvalidAttachment, CodeValidation},
	{types.ErrInvalidAppointmentType, CodeValidation},
}

func classify(err error) (classified, bool) {
	for _, known := range knownErrors {
		if errors.Is(err, known.err) {
			return known, true
		}
	}
	return classified{}, false
}

// reasonFor returns the user-facing reason for err; unexpected errors never leak details
func reasonFor(err error) string {
	if known, ok := classify(err); ok {
		return known.err.Error()
	}
	return ErrInternal.Error()
}

func codeFor(err error) string {
	if known, ok := classify(err); ok {
		return known.code
	}
	return CodeInternal
}
