package ratelimit

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
)

// IdentifierFunc extracts the rate-limit identifier (user, client, address)
// from a request. An empty identifier skips limiting.
type IdentifierFunc func(r *http.Request) string

type MiddlewareConfig struct {
	ResourceKey string
	MaxRequests int
	Window      time.Duration
	Identify    IdentifierFunc
}

// Middleware applies the sliding window to every request and writes the
// X-RateLimit headers. Denied requests get a 429 with the mapped error body.
func Middleware(limiter *SlidingWindowLimiter, cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := ""
			if cfg.Identify != nil {
				identifier = strings.TrimSpace(cfg.Identify(r))
			}
			if limiter == nil || identifier == "" {
				next.ServeHTTP(w, r)
				return
			}

			status, allowed := limiter.Consume(r.Context(), cfg.ResourceKey, identifier, cfg.MaxRequests, cfg.Window)
			now := limiter.now()
			ApplyHeaders(w, status, now)
			if allowed {
				next.ServeHTTP(w, r)
				return
			}
			mapped := core.MapError(NewExceededError(cfg.ResourceKey, identifier, status, now))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(mapped.Code)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":       "rate_limited",
				"text_code":   mapped.TextCode,
				"message":     mapped.Message,
				"retry_after": w.Header().Get(HeaderRetryAfter),
			})
		})
	}
}
