// Package auth answers the one question the collaboration core asks of
// the wider application: does this principal have edit or view rights on
// this room? Tokens are minted by the main application; this package only
// verifies them and keeps a registry of the capabilities they granted.
package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"flowsync/application/ports"
	"flowsync/domain/flow"
	apperrors "flowsync/pkg/errors"
)

// Claims are the room capabilities carried by a collaboration token.
// Rooms maps room id to the granted role.
type Claims struct {
	jwt.RegisteredClaims
	Name  string            `json:"name"`
	Rooms map[string]string `json:"rooms"`
}

// JWTService verifies collaboration tokens.
type JWTService struct {
	secret []byte
	issuer string
}

// NewJWTService creates a verifier for HS256 tokens from the main app.
func NewJWTService(secret, issuer string) *JWTService {
	return &JWTService{secret: []byte(secret), issuer: issuer}
}

// ParseToken verifies signature and issuer and returns the claims.
func (s *JWTService) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, apperrors.NewUnauthorizedError("invalid token").WithCause(err)
	}
	if !token.Valid {
		return nil, apperrors.NewUnauthorizedError("invalid token")
	}
	return claims, nil
}

// Registry implements ports.Authorizer from grants observed at join time.
// The websocket layer registers a principal's verified claims when the
// join_room token checks out; the session manager then consults the
// registry for every later capability question.
type Registry struct {
	mu     sync.RWMutex
	grants map[string]map[string]flow.Role // principal -> roomID -> role
}

var _ ports.Authorizer = (*Registry)(nil)

// NewRegistry creates an empty grant registry.
func NewRegistry() *Registry {
	return &Registry{grants: make(map[string]map[string]flow.Role)}
}

// Grant records a verified capability.
func (r *Registry) Grant(principal, roomID string, role flow.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.grants[principal] == nil {
		r.grants[principal] = make(map[string]flow.Role)
	}
	r.grants[principal][roomID] = role
}

// GrantFromClaims records every room capability in the claims and returns
// the role granted for roomID, if any.
func (r *Registry) GrantFromClaims(claims *Claims, roomID string) (flow.Role, bool) {
	var granted flow.Role
	found := false
	for room, roleName := range claims.Rooms {
		role, ok := parseRole(roleName)
		if !ok {
			continue
		}
		r.Grant(claims.Subject, room, role)
		if room == roomID {
			granted = role
			found = true
		}
	}
	return granted, found
}

// Revoke removes a principal's capability for one room.
func (r *Registry) Revoke(principal, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rooms, ok := r.grants[principal]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.grants, principal)
		}
	}
}

func (r *Registry) role(principal, roomID string) (flow.Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.grants[principal][roomID]
	return role, ok
}

// CanEdit implements ports.Authorizer.
func (r *Registry) CanEdit(_ context.Context, principal, roomID string) bool {
	role, ok := r.role(principal, roomID)
	return ok && role.CanEdit()
}

// CanView implements ports.Authorizer.
func (r *Registry) CanView(_ context.Context, principal, roomID string) bool {
	_, ok := r.role(principal, roomID)
	return ok
}

func parseRole(name string) (flow.Role, bool) {
	switch name {
	case "owner", "OWNER":
		return flow.RoleOwner, true
	case "editor", "EDITOR":
		return flow.RoleEditor, true
	case "viewer", "VIEWER":
		return flow.RoleViewer, true
	default:
		return "", false
	}
}

// AllowAll grants every principal edit rights everywhere. Development
// mode only.
type AllowAll struct{}

var _ ports.Authorizer = AllowAll{}

func (AllowAll) CanEdit(context.Context, string, string) bool { return true }
func (AllowAll) CanView(context.Context, string, string) bool { return true }
