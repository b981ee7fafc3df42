package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ClientIP returns the host part of RemoteAddr. chi's RealIP middleware runs
// first so proxies' X-Forwarded-For is already applied.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limiter's allowance with 429 and a
// Retry-After header. Limiter failures let the request through.
func Middleware(l Limiter, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			allowed, retryAfter, err := l.Allow(r.Context(), ip)
			if err != nil {
				logger.Warnw("rate limiter unavailable, allowing request", "ip", ip, "err", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				logger.Debugw("rate limited", "ip", ip, "path", r.URL.Path, "retry_after", retryAfter)
				w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retryAfter)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "too_many_requests",
					"message": "too many requests, try again later",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retrySeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
