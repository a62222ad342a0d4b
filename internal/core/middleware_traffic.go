package core

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"paygate/internal/types"
)

const (
	defaultRateLimitMax    = 20
	defaultRateLimitWindow = time.Minute
)

// RateLimit enforces a per-subject budget on /v1 routes using
// RateLimitStore. It runs after AuthMiddleware and is a pass-through when no
// store is configured or no claim is present.
//
// Store failures fail open: a Redis outage must not block payments.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimitStore == nil {
			next.ServeHTTP(w, r)
			return
		}
		claim, ok := types.GetClaim(r.Context())
		if !ok || claim.SubjectID == "" {
			next.ServeHTTP(w, r)
			return
		}

		limit, window := s.rateLimitPolicy()
		result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), "subject:"+claim.SubjectID, limit, window)
		if err != nil {
			s.Logger.ErrorContext(r.Context(), "rate limit store error",
				slog.String("subject_id", claim.SubjectID),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, limit, result)

		if !result.Allowed {
			s.Logger.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("subject_id", claim.SubjectID),
				slog.String("path", r.URL.Path),
			)
			retryAfter := max(int(time.Until(result.ResetAt).Seconds()), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, r, types.ErrCodeRateLimit, "Rate limit exceeded. Retry after the reset time.", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitPolicy() (int, time.Duration) {
	limit, window := defaultRateLimitMax, defaultRateLimitWindow
	if s.Config != nil {
		if s.Config.Redis.OrderLimit > 0 {
			limit = s.Config.Redis.OrderLimit
		}
		if s.Config.Redis.OrderWindow > 0 {
			window = s.Config.Redis.OrderWindow
		}
	}
	return limit, window
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
