package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/prudhvinik1/activitysync/internal/models"
	"github.com/prudhvinik1/activitysync/internal/ratelimit"
	"github.com/prudhvinik1/activitysync/internal/services"
	"github.com/sirupsen/logrus"
)

// RateLimit admits requests per authenticated device. It must run after
// AuthGate. Limiter failures admit the request.
func RateLimit(limiter ratelimit.Limiter, logger *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				unauthorized(w)
				return
			}

			decision, err := limiter.Allow(r.Context(), id.DeviceID.String())
			if err != nil {
				logger.WithError(err).WithField("device_id", id.DeviceID).Warn("rate limiter unavailable, admitting request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				WriteRateLimited(w, &services.RateLimitError{RetryAfter: decision.RetryAfter})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteRateLimited is the one place a 429 is rendered. Retry-After is in
// whole seconds, rounded up, and never less than one.
func WriteRateLimited(w http.ResponseWriter, rerr *services.RateLimitError) {
	retryAfter := int(math.Ceil(rerr.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: "rate_limited", RetryAfter: retryAfter})
}
