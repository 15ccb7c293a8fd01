package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/vaidashi/storefront-api/pkg/logger"
	"github.com/vaidashi/storefront-api/pkg/ratelimit"
)

// RateLimiterMiddleware rejects clients that exceed their per-IP budget
type RateLimiterMiddleware struct {
	limiter           *ratelimit.KeyedLimiter
	logger            logger.Logger
	trustForwardedFor bool
}

func NewRateLimiterMiddleware(limiter *ratelimit.KeyedLimiter, trustForwardedFor bool, logger logger.Logger) *RateLimiterMiddleware {
	return &RateLimiterMiddleware{
		limiter:           limiter,
		logger:            logger,
		trustForwardedFor: trustForwardedFor,
	}
}

func (m *RateLimiterMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r, m.trustForwardedFor)

		if !m.limiter.Allow(ip) {
			m.logger.Warn("Rate limit exceeded", "method", r.Method, "path", r.URL.Path, "ip", ip)

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"error":"Too many requests"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Settings exposes the limiter configuration
func (m *RateLimiterMiddleware) Settings() map[string]interface{} {
	return m.limiter.Settings()
}

// ClientIP extracts the caller address, honouring X-Forwarded-For only when trusted
func ClientIP(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
			return strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)

	if err != nil {
		return r.RemoteAddr
	}

	return host
}
