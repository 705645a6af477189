// Package middleware contains HTTP middleware for the gateway.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/fiesta/internal/auth"
	"github.com/DukeRupert/fiesta/internal/handler"
)

// =============================================================================
// AuthMiddleware
// =============================================================================

// AuthMiddleware verifies bearer tokens and places the tenant in the request
// context.
type AuthMiddleware struct {
	secret string
	logger *slog.Logger
}

// NewAuthMiddleware creates a new auth middleware verifying HS256 tokens
// signed with secret.
func NewAuthMiddleware(secret string, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		secret: secret,
		logger: logger,
	}
}

// RequireTenant is middleware that rejects requests without a valid bearer
// token.
//
// Flow:
//
//	Request -> RequireTenant -> Handler
//	           |
//	           +-> Read "Authorization: Bearer <token>"
//	           +-> Verify signature and expiry
//	           +-> If invalid: 401 unauthenticated
//	           +-> If valid: tenant ID (the sub claim) stored in context
func (m *AuthMiddleware) RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			handler.UnauthorizedResponse(w, r, m.logger, "Missing bearer token")
			return
		}

		tenantID, err := auth.ParseToken(token, m.secret)
		if err != nil {
			message := "Invalid bearer token"
			if errors.Is(err, auth.ErrTokenExpired) {
				message = "Bearer token expired"
			}
			m.logger.Debug("bearer token rejected",
				"error", err,
				"path", r.URL.Path,
				"ip", getClientIP(r),
			)
			handler.UnauthorizedResponse(w, r, m.logger, message)
			return
		}

		noteTenant(r.Context(), tenantID)
		next.ServeHTTP(w, r.WithContext(auth.SetTenant(r.Context(), tenantID)))
	})
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	stack := Stack(loggingMw.Handler, ipLimit.Limit, authMw.RequireTenant)
//	mux.Handle("POST /v1/chat", stack(chatHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Ensure middleware functions have correct signature
var (
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).RequireTenant
	_ func(http.Handler) http.Handler = (&RateLimitMiddleware{}).Limit
)
