package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// maxClients is the maximum number of tracked clients to prevent memory
// exhaustion from spoofed source addresses.
const maxClients = 10000

// RateLimiter implements a sliding-window rate limiter per client IP:
// a request is admitted while fewer than the limit were admitted within the
// past minute; admission timestamps age out individually.
type RateLimiter struct {
	mu        sync.Mutex
	requests  map[string][]time.Time
	rate      int
	window    time.Duration
	cleanup   time.Duration
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRateLimiter creates a sliding-window limiter admitting rate requests
// per window per client IP.
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		rate:     rate,
		window:   window,
		cleanup:  5 * time.Minute,
		stopCh:   make(chan struct{}),
	}

	rl.wg.Add(1)
	go func() {
		defer rl.wg.Done()
		rl.cleanupRoutine()
	}()

	return rl
}

// Allow checks whether a request from the given IP is admitted, and records
// the admission if so.
func (rl *RateLimiter) Allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.pruneLocked(ip, now)

	if len(rl.requests[ip]) >= rl.rate {
		return false
	}

	if _, exists := rl.requests[ip]; !exists && len(rl.requests) >= maxClients {
		rl.evictOldestLocked()
	}

	rl.requests[ip] = append(rl.requests[ip], now)
	return true
}

// Remaining returns how many admissions the IP has left in the window.
func (rl *RateLimiter) Remaining(ip string) int {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.pruneLocked(ip, now)
	remaining := rl.rate - len(rl.requests[ip])
	if remaining < 0 {
		return 0
	}
	return remaining
}

// pruneLocked drops admissions older than the window. Caller holds rl.mu.
func (rl *RateLimiter) pruneLocked(ip string, now time.Time) {
	window := rl.requests[ip]
	if len(window) == 0 {
		return
	}
	cutoff := now.Add(-rl.window)
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(rl.requests, ip)
		return
	}
	rl.requests[ip] = kept
}

// evictOldestLocked removes the client whose newest admission is oldest.
// Caller holds rl.mu.
func (rl *RateLimiter) evictOldestLocked() {
	var oldestIP string
	var oldestTime time.Time
	first := true

	for ip, window := range rl.requests {
		newest := window[len(window)-1]
		if first || newest.Before(oldestTime) {
			oldestIP = ip
			oldestTime = newest
			first = false
		}
	}
	if oldestIP != "" {
		delete(rl.requests, oldestIP)
	}
}

// cleanupRoutine removes stale client entries.
func (rl *RateLimiter) cleanupRoutine() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStale()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanupStale() {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip := range rl.requests {
		rl.pruneLocked(ip, now)
	}
}

// Close stops the cleanup routine. Idempotent.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.stopCh)
		rl.wg.Wait()
	})
}

// RateLimiterMiddleware wraps RateLimiter with cleanup support for graceful
// shutdown. Call Close() on shutdown to stop the cleanup goroutine.
type RateLimiterMiddleware struct {
	limiter *RateLimiter
	exempt  map[string]bool
}

// NewRateLimitMiddleware creates the per-IP rate limit middleware.
// Paths in exempt (e.g. the health endpoint) bypass the limiter.
func NewRateLimitMiddleware(requestsPerMinute int, exemptPaths ...string) *RateLimiterMiddleware {
	exempt := make(map[string]bool, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = true
	}

	log.Info().
		Int("requests_per_minute", requestsPerMinute).
		Msg("Rate limiting enabled")

	return &RateLimiterMiddleware{
		limiter: NewRateLimiter(requestsPerMinute, time.Minute),
		exempt:  exempt,
	}
}

// Close stops the rate limiter's cleanup routine.
func (m *RateLimiterMiddleware) Close() {
	if m.limiter != nil {
		m.limiter.Close()
	}
}

// Handler returns the middleware handler function.
func (m *RateLimiterMiddleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.exempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r)
			if !m.limiter.Allow(ip) {
				w.Header().Set("Retry-After", "60")
				writeJSONError(w, http.StatusTooManyRequests, errorBody{
					Error:             "rate_limit_exceeded",
					Message:           "Too many requests. Please try again later.",
					RetryAfterSeconds: 60,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client IP from a request: the first X-Forwarded-For
// token, else X-Real-IP, else the peer address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if idx := strings.Index(xff, ","); idx > 0 {
			first = xff[:idx]
		}
		if normalized := normalizeIP(first); normalized != "" {
			return normalized
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if normalized := normalizeIP(xri); normalized != "" {
			return normalized
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return normalizeIP(host)
}

// normalizeIP validates and normalizes an IP address string.
// Returns a canonical IP string or the original string if invalid.
// This prevents bypass attempts using IPv6 variations.
func normalizeIP(ipStr string) string {
	ipStr = strings.TrimSpace(ipStr)
	if ipStr == "" {
		return ""
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ipStr
	}

	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	return ip.String()
}
