package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pizzeria-app/storefront/internal/apperr"
	"github.com/pizzeria-app/storefront/internal/auth"
)

type contextKey string

const claimsKey contextKey = "claims"

// Authenticate requires a valid bearer access token and stores its claims in
// the request context. Failures answer 401 with a redirect to the login page.
func Authenticate(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeAuthError(w, http.StatusUnauthorized, apperr.Unauthenticated(), "missing authorization header")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeAuthError(w, http.StatusUnauthorized, apperr.Unauthenticated(), "invalid authorization format")
				return
			}

			claims, err := auth.ValidateToken(jwtSecret, parts[1])
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, apperr.Unauthenticated(), "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole lets through only callers holding one of roles. Callers with
// another role are sent to the home page.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeAuthError(w, http.StatusUnauthorized, apperr.Unauthenticated(), "not authenticated")
				return
			}

			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			writeAuthError(w, http.StatusForbidden, apperr.Forbidden(), "insufficient permissions")
		})
	}
}

// WithClaims returns a context carrying claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

func writeAuthError(w http.ResponseWriter, status int, ae *apperr.AuthorizationError, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "redirect": ae.Redirect})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
