package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/imagecpr/internal/ratelimit"
	"go.uber.org/zap"
)

// uploadCostUnit is the request body size charged as one token on the
// synchronous transform route.
const uploadCostUnit = 1 << 20

type RateLimiter interface {
	AllowN(ctx context.Context, subject string, cost int64) (ratelimit.Decision, error)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cost := requestCost(r)
		if cost == 0 {
			next.ServeHTTP(w, r)
			return
		}

		route := routeLabel(r.URL.Path)
		subject := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
		if subject == "" {
			subject = "anonymous"
		}
		subject += ":" + route

		decision, err := s.rateLimiter.AllowN(r.Context(), subject, cost)
		if err != nil {
			s.logger.Warn("rate limiter unavailable, allowing request",
				zap.String("subject", subject), zap.Int64("cost", cost), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		if decision.Limit > 0 {
			h.Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
		}
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := max(int(decision.RetryAfter.Round(time.Second).Seconds()), 1)
		h.Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

// requestCost is the number of tokens a request is charged. Reads are free;
// inline transforms pay one token per started MiB of upload.
func requestCost(r *http.Request) int64 {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return 0
	}
	switch {
	case r.URL.Path == "/v1/process":
		if r.ContentLength <= 0 {
			return 1
		}
		return (r.ContentLength + uploadCostUnit - 1) / uploadCostUnit
	case strings.HasPrefix(r.URL.Path, "/v1/jobs"):
		return 1
	default:
		return 0
	}
}
