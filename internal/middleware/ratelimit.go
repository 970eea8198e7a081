package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"firstprinciple-chat/internal/metrics"
	"firstprinciple-chat/internal/models"
	"firstprinciple-chat/internal/ratelimit"
)

// ClientKeyHeader carries the stable per-client identifier.
const ClientKeyHeader = "X-Client-Key"

const maxClientKeyLen = 128

// RateLimiter enforces a per-client sliding window in front of a handler.
type RateLimiter struct {
	limiter *ratelimit.Limiter
	logger  zerolog.Logger
}

func NewRateLimiter(limiter *ratelimit.Limiter, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{limiter: limiter, logger: logger}
}

// clientKey prefers the client's own identifier and falls back to its IP.
func clientKey(r *http.Request) string {
	if key := r.Header.Get(ClientKeyHeader); key != "" && len(key) <= maxClientKeyLen {
		return "client:" + key
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return "ip:" + ip
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		d := rl.limiter.Check(key)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limiter.MaxRequests()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.ResetAt.IsZero() {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		}

		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		metrics.RateLimitHits.WithLabelValues(r.URL.Path).Inc()
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Wait.Seconds()))))

		rl.logger.Warn().
			Str("event", "rate_limit_exceeded").
			Str("key", key).
			Str("endpoint", r.URL.Path).
			Dur("wait", d.Wait).
			Msg("rate limit exceeded")

		remaining := d.Remaining
		retryAfter := d.Wait.Milliseconds()
		writeJSONError(w, http.StatusTooManyRequests, models.APIError{
			Code:              "RATE_LIMITED",
			Message:           fmt.Sprintf("Too many requests, please retry in %s. Remaining requests: %d", ratelimit.FormatWait(d.Wait), remaining),
			RequestID:         requestID(r),
			RemainingRequests: &remaining,
			RetryAfterMs:      &retryAfter,
		})
	})
}
