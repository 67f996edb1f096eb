package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"flowsync/pkg/auth"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal returns the authenticated subject stored by Authenticate, or
// "" when the request went through unauthenticated middleware.
func Principal(ctx context.Context) string {
	principal, _ := ctx.Value(principalKey).(string)
	return principal
}

// Authenticate guards the admin API with a bearer token verified by the
// same JWT service the collaboration channel uses. Passing a nil service
// disables the guard (development mode).
func Authenticate(jwtService *auth.JWTService) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if jwtService == nil {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				respondUnauthorized(w, "missing bearer token")
				return
			}

			claims, err := jwtService.ParseToken(token)
			if err != nil {
				respondUnauthorized(w, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
