package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/fiesta/internal/domain"
	"github.com/DukeRupert/fiesta/internal/handler"
	"github.com/DukeRupert/fiesta/internal/metrics"
)

// =============================================================================
// Rate Limit Middleware
// =============================================================================

// Limiter is the sliding-window limiter the middleware consults.
type Limiter interface {
	Admit(key string, ceiling int) bool
	RetryAfter(key string) time.Duration
}

// RateLimitMiddleware bounds requests per client IP before any token is
// verified. The per-tenant ceiling is enforced later by the entitlement
// guard; this limit only protects the edge.
type RateLimitMiddleware struct {
	limiter Limiter
	ceiling int
	logger  *slog.Logger
}

// NewRateLimitMiddleware creates a new rate limit middleware allowing
// ceiling requests per window per IP. A ceiling of zero or less disables it.
func NewRateLimitMiddleware(limiter Limiter, ceiling int, logger *slog.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		ceiling: ceiling,
		logger:  logger,
	}
}

// Limit returns middleware that rate limits requests.
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.ceiling <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := "ip:" + getClientIP(r)
		if !m.limiter.Admit(key, m.ceiling) {
			m.logger.Warn("rate limit exceeded",
				"ip", getClientIP(r),
				"path", r.URL.Path,
				"method", r.Method,
			)
			metrics.AdmissionResult("ip_rate_limited")

			retryAfter := int(m.limiter.RetryAfter(key).Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			handler.ErrorResponse(w, r, m.logger, domain.RateLimit("middleware.ratelimit"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Helpers
// =============================================================================

// getClientIP extracts the client IP from the request, considering proxy headers.
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs: client, proxy1, proxy2
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if clientIP := strings.TrimSpace(first); clientIP != "" {
			return clientIP
		}
	}

	// Check X-Real-IP (nginx)
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}

	return ip
}
