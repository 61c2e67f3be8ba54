package interfaces

import (
	"context"
	"time"

	"medrelay/pkg/types"
)

// TokenVerifier decodes a signed credential into an identity
// FUNCTIONAL DISCOVERY: Issuance lives with the CRUD collaborator; the relay only verifies
type TokenVerifier interface {
	Authenticate(ctx context.Context, rawToken string) (types.Identity, error)
}

// RevocationStore tracks credentials withdrawn before their expiry
type RevocationStore interface {
	// IsRevoked reports whether the token id was revoked
	IsRevoked(ctx context.Context, tokenID string) (bool, error)

	// Revoke records a revocation; expiresAt is the token's own expiry and
	// bounds how long the record has to be kept
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error

	// PurgeExpired drops revocations for tokens that have expired anyway
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)

	// HealthCheck verifies the backing store is reachable
	HealthCheck(ctx context.Context) error

	// Close releases the backing store
	Close() error
}
