package auth

import (
	"errors"
	"fmt"
)

// ErrAuthentication is wrapped by every handshake rejection
var ErrAuthentication = errors.New("authentication failed")

var (
	ErrMissingToken = fmt.Errorf("%w: missing token", ErrAuthentication)
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrAuthentication)
	ErrExpiredToken = fmt.Errorf("%w: token expired", ErrAuthentication)
	ErrInvalidRole  = fmt.Errorf("%w: token role must be patient or doctor", ErrAuthentication)
	ErrRevokedToken = fmt.Errorf("%w: token revoked", ErrAuthentication)
)

// Reason returns a short metric label for an authentication error
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing"
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrInvalidRole):
		return "role"
	case errors.Is(err, ErrRevokedToken):
		return "revoked"
	case errors.Is(err, ErrInvalidToken):
		return "invalid"
	default:
		return "internal"
	}
}
