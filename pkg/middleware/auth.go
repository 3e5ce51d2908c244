// Package middleware provides HTTP middleware for bearer-token
// authentication and request logging.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/dwellos/ssobridge/pkg/auth"
)

// contextKey is the type for middleware context keys
type contextKey string

// claimsKey is the context key for verified session claims
const claimsKey contextKey = "session_claims"

// AuthMiddleware extracts and verifies bearer tokens.
// It never rejects a request by itself: most SSO actions are anonymous, so
// the middleware only attaches verified claims to the request context and
// leaves authorization decisions to the handlers.
type AuthMiddleware struct {
	issuer *auth.SessionIssuer
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(issuer *auth.SessionIssuer) *AuthMiddleware {
	return &AuthMiddleware{issuer: issuer}
}

// Handler wraps an HTTP handler with bearer-token extraction
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.issuer.Verify(parts[1])
		if err != nil {
			// Invalid tokens are treated the same as absent tokens;
			// handlers answer 401 when the action requires auth.
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext extracts verified session claims from the request context
func ClaimsFromContext(ctx context.Context) *auth.SessionClaims {
	claims, ok := ctx.Value(claimsKey).(*auth.SessionClaims)
	if !ok {
		return nil
	}
	return claims
}
