package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// withRateLimit applies the token bucket to job mutations, keyed by user and
// route. A limiter failure lets the request through.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/v1/jobs") {
			next.ServeHTTP(w, r)
			return
		}

		route := routeLabel(r.URL.Path)
		subject := s.rateLimitSubject(r, route)
		decision, err := s.rateLimiter.Allow(r.Context(), subject)
		if err != nil {
			s.logger.WithField("subject", subject).WithError(err).Warn("rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
			s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitSubject(r *http.Request, route string) string {
	user := strings.TrimSpace(r.Header.Get(s.userIDHeader))
	if user == "" {
		user = "anonymous"
	}
	return user + ":" + route
}

func retryAfterSeconds(d time.Duration) int {
	return max(int(d.Round(time.Second)/time.Second), 1)
}
