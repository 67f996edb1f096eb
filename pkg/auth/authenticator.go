package auth

import (
	apperrors "flowsync/pkg/errors"
)

// TokenAuthenticator verifies a join token and records the capabilities
// it grants in the registry.
type TokenAuthenticator struct {
	jwt      *JWTService
	registry *Registry
}

// NewTokenAuthenticator wires the verifier to the grant registry.
func NewTokenAuthenticator(jwt *JWTService, registry *Registry) *TokenAuthenticator {
	return &TokenAuthenticator{jwt: jwt, registry: registry}
}

// Authenticate parses the token and requires a grant for roomID. Every
// room in the claims is registered, so later capability checks need no
// re-parse.
func (a *TokenAuthenticator) Authenticate(token, roomID string) (string, string, error) {
	claims, err := a.jwt.ParseToken(token)
	if err != nil {
		return "", "", err
	}
	if _, ok := a.registry.GrantFromClaims(claims, roomID); !ok {
		return "", "", apperrors.NewForbiddenError("no access to room")
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return claims.Subject, name, nil
}

// DevAuthenticator accepts any non-empty token as a principal id, for
// development mode together with AllowAll.
type DevAuthenticator struct{}

// Authenticate treats the token as the user id.
func (DevAuthenticator) Authenticate(token, _ string) (string, string, error) {
	if token == "" {
		return "", "", apperrors.NewUnauthorizedError("missing token")
	}
	return token, token, nil
}
