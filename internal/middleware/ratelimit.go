package middleware

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/walletcore/backend/internal/services"
)

// RateLimit is one named request budget.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// RateLimiter throttles API traffic using Redis counters. Wallet mutations
// get a tighter budget than reads. Without Redis the limiter is a no-op.
type RateLimiter struct {
	redis  *redis.Client
	limits map[string]RateLimit
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{
		redis: redisClient,
		limits: map[string]RateLimit{
			"default": {Requests: 100, Window: time.Hour},
			"mutate":  {Requests: 10, Window: 5 * time.Minute},
		},
	}
}

// Middleware picks the budget per request: POSTs under /wallets/ count
// against the mutation budget, everything else against the default.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.redis == nil {
			next.ServeHTTP(w, r)
			return
		}

		limitName := "default"
		if r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/wallets/") {
			limitName = "mutate"
		}
		limit := rl.limits[limitName]

		client := clientIdentifier(r)
		key := fmt.Sprintf("ratelimit:%s:%s", limitName, client)

		count, err := rl.redis.Incr(r.Context(), key).Result()
		if err != nil {
			// Redis trouble must not take the API down.
			log.Printf("[RATELIMIT] Counter increment failed: %v", err)
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			if err := rl.redis.Expire(r.Context(), key, limit.Window).Err(); err != nil {
				log.Printf("[RATELIMIT] Failed to set window expiry: %v", err)
			}
		}

		if count > int64(limit.Requests) {
			log.Printf("[RATELIMIT] Limit %s exceeded for %s", limitName, client)
			services.SendJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "Rate limit exceeded",
				"message":     fmt.Sprintf("Too many requests. Limit: %d per %s", limit.Requests, limit.Window),
				"retry_after": int(limit.Window.Seconds()),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIdentifier keys the counter by API key when authenticated, falling
// back to the remote address.
func clientIdentifier(r *http.Request) string {
	if key, ok := CallerFromContext(r.Context()); ok {
		return "key:" + key.KeyID
	}
	return "ip:" + r.RemoteAddr
}
