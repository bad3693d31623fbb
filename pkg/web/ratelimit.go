package web

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    int           // requests per window
	window   time.Duration // time window
	cleanup  time.Duration // cleanup interval
	done     chan struct{} // signals cleanup goroutine to stop
}

// visitor tracks rate limit state for a single client
type visitor struct {
	tokens    int
	lastReset time.Time
	mu        sync.Mutex
}

// NewRateLimiter creates a new rate limiter
// limit: maximum requests per window
// window: time window for rate limiting (e.g., 1 minute)
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		window:   window,
		cleanup:  5 * time.Minute,
		done:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop signals the cleanup goroutine to exit
func (rl *RateLimiter) Stop() {
	close(rl.done)
}

// Allow checks if a request from the given identifier should be allowed
func (rl *RateLimiter) Allow(identifier string) bool {
	rl.mu.Lock()
	v, exists := rl.visitors[identifier]
	if !exists {
		v = &visitor{
			tokens:    rl.limit,
			lastReset: time.Now(),
		}
		rl.visitors[identifier] = v
	}
	rl.mu.Unlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	if now.Sub(v.lastReset) > rl.window {
		v.tokens = rl.limit
		v.lastReset = now
	}

	if v.tokens > 0 {
		v.tokens--
		return true
	}

	return false
}

// GetRetryAfter returns the time until the rate limit resets
func (rl *RateLimiter) GetRetryAfter(identifier string) time.Duration {
	rl.mu.Lock()
	v, exists := rl.visitors[identifier]
	rl.mu.Unlock()

	if !exists {
		return 0
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	remaining := rl.window - time.Since(v.lastReset)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// cleanupLoop periodically removes stale visitor entries
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for id, v := range rl.visitors {
				v.mu.Lock()
				if now.Sub(v.lastReset) > rl.window*2 {
					delete(rl.visitors, id)
				}
				v.mu.Unlock()
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

// RateLimitMiddleware applies the prompt limiter to the prompt endpoints and
// the general limiter to everything else under /api/. Prompt rounds cost LLM
// calls and a subprocess each, so they get the tighter budget.
func RateLimitMiddleware(promptLimiter, apiLimiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := getClientIdentifier(r)

			var limiter *RateLimiter
			var limitType string

			if isPromptEndpoint(r.URL.Path) {
				limiter = promptLimiter
				limitType = "prompt"
			} else if strings.HasPrefix(r.URL.Path, "/api/") {
				limiter = apiLimiter
				limitType = "api"
			} else {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(identifier) {
				retryAfter := limiter.GetRetryAfter(identifier)
				w.Header().Set("Retry-After", formatRetryAfter(retryAfter))
				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.limit))
				w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(retryAfter).Unix()))

				WriteError(w, NewAPIErrorWithSuggestion(
					ErrCodeRateLimited,
					"Too many requests",
					"You have exceeded the rate limit for "+limitType+" endpoints. Please wait before trying again.",
				))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIdentifier returns a unique identifier for rate limiting
func getClientIdentifier(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
	}
	return ip
}

func isPromptEndpoint(path string) bool {
	return path == "/api/prompt" || path == "/api/prompt/ws"
}

// formatRetryAfter formats a duration in seconds for Retry-After header
func formatRetryAfter(d time.Duration) string {
	seconds := int(d.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}
