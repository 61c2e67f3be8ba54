package appointment

import "errors"

// ARCHITECTURAL DISCOVERY: Messages are shown to the requester verbatim
var (
	ErrSlotConflict   = errors.New("this time slot is already booked")
	ErrNotFound       = errors.New("appointment not found")
	ErrUnauthorized   = errors.New("only the doctor or patient of this appointment can cancel it")
	ErrInvalidDate    = errors.New("date must be an RFC 3339 timestamp")
	ErrInvalidDoctor  = errors.New("invalid doctor id")
	ErrInvalidPatient = errors.New("invalid patient id")
	ErrSelfBooking    = errors.New("cannot book an appointment with yourself")
)
