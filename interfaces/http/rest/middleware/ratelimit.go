package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Eashwar-S/knowledge-map/pkg/common"
	"github.com/Eashwar-S/knowledge-map/pkg/ratelimit"

	"go.uber.org/zap"
)

// RateLimit rejects callers that exhaust their bucket with 429. The key is
// the client IP, so it belongs after chi's RealIP middleware.
func RateLimit(limiter ratelimit.Limiter, retryAfter time.Duration, logger *zap.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	retrySeconds := strconv.Itoa(max(1, int(retryAfter.Round(time.Second)/time.Second)))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIP(r)
			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				// a broken limiter must not take the API down
				logger.Warn("Rate limiter failed, allowing request", zap.String("key", key), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				logger.Debug("Rate limit exceeded", zap.String("key", key), zap.String("path", r.URL.Path))
				w.Header().Set("Retry-After", retrySeconds)
				common.RespondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
