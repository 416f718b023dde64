package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	defer rl.Close()

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d rejected, want admitted", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Error("request over limit admitted")
	}

	// Other clients are tracked independently
	if !rl.Allow("5.6.7.8") {
		t.Error("unrelated client rejected")
	}
}

func TestRateLimiterWindowReopens(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Close()

	rl.Allow("1.2.3.4")
	rl.Allow("1.2.3.4")
	if rl.Allow("1.2.3.4") {
		t.Fatal("over-limit request admitted")
	}

	// Age the earliest admission past the window; one slot must reopen.
	rl.mu.Lock()
	rl.requests["1.2.3.4"][0] = time.Now().Add(-61 * time.Second)
	rl.mu.Unlock()

	if !rl.Allow("1.2.3.4") {
		t.Error("slot did not reopen after the earliest admission aged out")
	}
}

func TestRateLimiterRemaining(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute)
	defer rl.Close()

	if got := rl.Remaining("9.9.9.9"); got != 5 {
		t.Errorf("Remaining(untouched) = %d, want 5", got)
	}
	rl.Allow("9.9.9.9")
	rl.Allow("9.9.9.9")
	if got := rl.Remaining("9.9.9.9"); got != 3 {
		t.Errorf("Remaining = %d, want 3", got)
	}
}

func TestRateLimitMiddlewareResponse(t *testing.T) {
	m := NewRateLimitMiddleware(1)
	defer m.Close()

	handler := m.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/start", nil)
	req.RemoteAddr = "10.1.1.1:5000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}
	body := rec.Body.String()
	if !strings.Contains(body, "rate_limit_exceeded") || !strings.Contains(body, "\"retry_after_seconds\":60") {
		t.Errorf("body = %s", body)
	}
}

func TestRateLimitMiddlewareExemptPath(t *testing.T) {
	m := NewRateLimitMiddleware(1, "/health")
	defer m.Close()

	handler := m.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.1.1.1:5000"

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("health request %d = %d, want exempt from limiting", i+1, rec.Code)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		want       string
	}{
		{"peer address", "192.0.2.1:1234", "", "", "192.0.2.1"},
		{"xff first token", "192.0.2.1:1234", "203.0.113.7, 10.0.0.1", "", "203.0.113.7"},
		{"xff single", "192.0.2.1:1234", "203.0.113.9", "", "203.0.113.9"},
		{"x-real-ip fallback", "192.0.2.1:1234", "", "203.0.113.5", "203.0.113.5"},
		{"xff wins over real-ip", "192.0.2.1:1234", "203.0.113.7", "203.0.113.5", "203.0.113.7"},
		{"ipv4-mapped normalized", "192.0.2.1:1234", "::ffff:203.0.113.9", "", "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
