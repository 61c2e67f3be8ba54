// Package auth verifies the signed credential a client presents when connecting.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"medrelay/pkg/interfaces"
	"medrelay/pkg/types"
)

// Config holds the verification policy shared with the credential issuer
type Config struct {
	Secret string
	Issuer string
	Leeway time.Duration
}

// Claims is the token body issued by the credential service
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator turns a raw token into an identity or an ErrAuthentication
// ARCHITECTURAL DISCOVERY: Verification only; issuance belongs to the credential service.
// The authenticator never touches presence, it only admits or rejects.
type Authenticator struct {
	secret      []byte
	parser      *jwt.Parser
	revocations interfaces.RevocationStore
	now         func() time.Time
}

// NewAuthenticator creates an HS256 verifier. revocations may be nil.
func NewAuthenticator(cfg Config, revocations interfaces.RevocationStore) (*Authenticator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth secret is required")
	}
	a := &Authenticator{
		secret:      []byte(cfg.Secret),
		revocations: revocations,
		now:         time.Now,
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	a.parser = jwt.NewParser(opts...)
	return a, nil
}

// Authenticate verifies signature, expiry, role and revocation of rawToken
func (a *Authenticator) Authenticate(ctx context.Context, rawToken string) (types.Identity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return types.Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return types.Identity{}, ErrExpiredToken
		}
		return types.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !types.IsValidUserID(claims.Subject) {
		return types.Identity{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	if !types.IsValidRole(claims.Role) {
		return types.Identity{}, ErrInvalidRole
	}

	identity := types.Identity{
		ID:      claims.Subject,
		Role:    claims.Role,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}

	if identity.TokenID != "" && a.revocations != nil {
		revoked, err := a.revocations.IsRevoked(ctx, identity.TokenID)
		if err != nil {
			return types.Identity{}, fmt.Errorf("checking revocation: %w", err)
		}
		if revoked {
			return types.Identity{}, ErrRevokedToken
		}
	}
	return identity, nil
}

// Revoke withdraws a token id until its own expiry
func (a *Authenticator) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if a.revocations == nil {
		return errors.New("revocation store not configured")
	}
	if strings.TrimSpace(tokenID) == "" {
		return errors.New("token id is required")
	}
	return a.revocations.Revoke(ctx, tokenID, expiresAt)
}

// PurgeExpired drops revocations whose tokens have expired on their own
func (a *Authenticator) PurgeExpired(ctx context.Context) (int64, error) {
	if a.revocations == nil {
		return 0, nil
	}
	return a.revocations.PurgeExpired(ctx, a.now())
}

// TokenFromRequest reads the credential from the "token" query parameter or a bearer header.
// Browsers cannot set headers on a WebSocket handshake, hence the query parameter.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
