package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		username       string
		password       string
		token          string
		reqUsername    string
		reqPassword    string
		reqToken       string
		expectedStatus int
	}{
		{name: "no auth configured - allows request", expectedStatus: http.StatusOK},
		{name: "valid basic auth", username: "admin", password: "secret123", reqUsername: "admin", reqPassword: "secret123", expectedStatus: http.StatusOK},
		{name: "invalid basic auth username", username: "admin", password: "secret123", reqUsername: "wrong", reqPassword: "secret123", expectedStatus: http.StatusUnauthorized},
		{name: "invalid basic auth password", username: "admin", password: "secret123", reqUsername: "admin", reqPassword: "wrong", expectedStatus: http.StatusUnauthorized},
		{name: "missing credentials", username: "admin", password: "secret123", expectedStatus: http.StatusUnauthorized},
		{name: "valid token auth", token: "test-token-12345", reqToken: "test-token-12345", expectedStatus: http.StatusOK},
		{name: "invalid token auth", token: "test-token-12345", reqToken: "wrong-token", expectedStatus: http.StatusUnauthorized},
		{name: "token accepted despite bad basic auth", username: "admin", password: "secret123", token: "test-token-12345", reqToken: "test-token-12345", reqUsername: "wrong", reqPassword: "wrong", expectedStatus: http.StatusOK},
		{name: "basic accepted despite bad token", username: "admin", password: "secret123", token: "test-token-12345", reqToken: "nope", reqUsername: "admin", reqPassword: "secret123", expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &authConfig{
				adminUsername: tt.username,
				adminPassword: tt.password,
				adminToken:    tt.token,
				enabled:       (tt.username != "" && tt.password != "") || tt.token != "",
			}
			handler := adminAuth(okHandler(), cfg)

			req := httptest.NewRequest(http.MethodPost, "/admin/reset", nil)
			if tt.reqUsername != "" || tt.reqPassword != "" {
				req.SetBasicAuth(tt.reqUsername, tt.reqPassword)
			}
			if tt.reqToken != "" {
				req.Header.Set("X-Admin-Token", tt.reqToken)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if tt.expectedStatus == http.StatusUnauthorized {
				if got := rr.Header().Get("WWW-Authenticate"); got != `Basic realm="chatlens admin"` {
					t.Errorf("WWW-Authenticate = %q", got)
				}
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), &rateLimiterConfig{enabled: true, requestsPerIP: 3, window: 100 * time.Millisecond})

	for i := 0; i < 3; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	if limiter.allow("192.168.1.1") {
		t.Error("request 4 should be denied (rate limit exceeded)")
	}
	if !limiter.allow("192.168.1.2") {
		t.Error("other IP should be allowed")
	}

	time.Sleep(150 * time.Millisecond)
	if !limiter.allow("192.168.1.1") {
		t.Error("request after window expiry should be allowed")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Second})
	for i := 0; i < 100; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Fatalf("request %d should be allowed when rate limiter is disabled", i+1)
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), &rateLimiterConfig{enabled: true, requestsPerIP: 5, window: time.Second})
	limiter.allow("192.168.1.1")

	limiter.cleanup(time.Now().Add(time.Second))
	if len(limiter.visitors) != 1 {
		t.Fatalf("recent visitor dropped")
	}
	limiter.cleanup(time.Now().Add(3 * time.Second))
	if len(limiter.visitors) != 0 {
		t.Fatalf("stale visitor kept: %d", len(limiter.visitors))
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"ipv4 with port", "192.168.1.1:12345", "", "192.168.1.1"},
		{"ipv6 with port", "[2001:db8::1]:12345", "", "2001:db8::1"},
		{"forwarded chain", "10.0.0.1:12345", "203.0.113.1, 10.0.0.2", "203.0.113.1"},
		{"forwarded ipv6 without port", "127.0.0.1:8080", "2001:db8::42", "2001:db8::42"},
		{"forwarded ipv4 without port", "10.0.0.1:8080", "192.0.2.1", "192.0.2.1"},
		{"bare remote address", "192.0.2.9", "", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := newIPRateLimiter(t.Context(), &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: time.Second})
	handler := rateLimitMiddleware(okHandler(), limiter)

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/speech/transcript", nil)
		req.RemoteAddr = remote
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := send("[2001:db8::1]:12345"); rr.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rr.Code)
		}
	}
	// Same host on another port shares the budget.
	rr := send("[2001:db8::1]:54321")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("request 3: expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
}

func TestCORSConfig(t *testing.T) {
	tests := []struct {
		name              string
		permissive        bool
		allowedOrigins    []string
		requestOrigin     string
		expectAllowOrigin string
		expectCredentials bool
	}{
		{name: "permissive mode allows all origins", permissive: true, requestOrigin: "https://example.com", expectAllowOrigin: "*"},
		{name: "restricted mode with matching origin", allowedOrigins: []string{"https://example.com", "https://app.example.com"}, requestOrigin: "https://example.com", expectAllowOrigin: "https://example.com", expectCredentials: true},
		{name: "restricted mode with non-matching origin", allowedOrigins: []string{"https://example.com"}, requestOrigin: "https://evil.com"},
		{name: "wildcard subdomain matching", allowedOrigins: []string{"*.example.com"}, requestOrigin: "https://app.example.com", expectAllowOrigin: "https://app.example.com", expectCredentials: true},
		{name: "restricted mode without origin", allowedOrigins: []string{"https://example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &corsConfig{permissive: tt.permissive, allowedOrigins: tt.allowedOrigins}
			handler := withCORSConfig(okHandler(), cfg)

			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			if tt.requestOrigin != "" {
				req.Header.Set("Origin", tt.requestOrigin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.expectAllowOrigin {
				t.Errorf("expected Allow-Origin %q, got %q", tt.expectAllowOrigin, got)
			}
			if tt.expectCredentials && rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("expected Allow-Credentials: true for restricted mode")
			}
		})
	}
}

func TestCORSPreflightRequest(t *testing.T) {
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for OPTIONS request")
	}), &corsConfig{permissive: true})

	req := httptest.NewRequest(http.MethodOptions, "/speech/transcript", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Methods") != corsMethods {
		t.Error("expected Allow-Methods header on OPTIONS response")
	}
	if rr.Header().Get("Access-Control-Allow-Headers") != corsHeaders {
		t.Error("expected Allow-Headers header on OPTIONS response")
	}
}

func TestLoadAuthConfig(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		wantEnabled bool
	}{
		{name: "no auth configured", envVars: map[string]string{}},
		{name: "username without password", envVars: map[string]string{"ADMIN_USERNAME": "admin"}},
		{name: "basic auth only", envVars: map[string]string{"ADMIN_USERNAME": "admin", "ADMIN_PASSWORD": "secret"}, wantEnabled: true},
		{name: "token auth only", envVars: map[string]string{"ADMIN_TOKEN": "test-token"}, wantEnabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"ADMIN_USERNAME", "ADMIN_PASSWORD", "ADMIN_TOKEN"} {
				t.Setenv(k, tt.envVars[k])
			}
			if cfg := loadAuthConfig(); cfg.enabled != tt.wantEnabled {
				t.Errorf("expected enabled=%v, got %v", tt.wantEnabled, cfg.enabled)
			}
		})
	}
}

func TestLoadRateLimiterConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "")
	cfg := loadRateLimiterConfig()
	if !cfg.enabled || cfg.requestsPerIP != 30 || cfg.window != time.Minute {
		t.Fatalf("defaults = %+v", cfg)
	}

	t.Setenv("RATE_LIMIT_ENABLED", "0")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "5")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "10")
	cfg = loadRateLimiterConfig()
	if cfg.enabled || cfg.requestsPerIP != 5 || cfg.window != 10*time.Second {
		t.Fatalf("overrides = %+v", cfg)
	}

	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "-3")
	if cfg = loadRateLimiterConfig(); cfg.requestsPerIP != 30 {
		t.Fatalf("negative limit accepted: %d", cfg.requestsPerIP)
	}
}

func TestLoadCORSConfig(t *testing.T) {
	tests := []struct {
		name           string
		envVars        map[string]string
		wantPermissive bool
		wantOriginsLen int
	}{
		{name: "default dev mode", envVars: map[string]string{}, wantPermissive: true},
		{name: "explicit dev mode", envVars: map[string]string{"ENV": "dev"}, wantPermissive: true},
		{name: "production mode", envVars: map[string]string{"ENV": "production"}},
		{name: "production with allowed origins", envVars: map[string]string{"ENV": "production", "CORS_ALLOWED_ORIGINS": "https://example.com, https://app.example.com,"}, wantOriginsLen: 2},
		{name: "explicit permissive override", envVars: map[string]string{"ENV": "production", "CORS_PERMISSIVE": "1"}, wantPermissive: true},
		{name: "explicit restrictive override", envVars: map[string]string{"CORS_PERMISSIVE": "false"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"ENV", "CORS_PERMISSIVE", "CORS_ALLOWED_ORIGINS"} {
				t.Setenv(k, tt.envVars[k])
			}
			cfg := loadCORSConfig()
			if cfg.permissive != tt.wantPermissive {
				t.Errorf("expected permissive=%v, got %v", tt.wantPermissive, cfg.permissive)
			}
			if len(cfg.allowedOrigins) != tt.wantOriginsLen {
				t.Errorf("expected %d allowed origins, got %d", tt.wantOriginsLen, len(cfg.allowedOrigins))
			}
		})
	}
}

func TestIsOriginAllowed(t *testing.T) {
	tests := []struct {
		name           string
		origin         string
		allowedOrigins []string
		want           bool
	}{
		{"exact match", "https://example.com", []string{"https://example.com", "https://other.com"}, true},
		{"no match", "https://evil.com", []string{"https://example.com"}, false},
		{"wildcard subdomain match", "https://app.example.com", []string{"*.example.com"}, true},
		{"wildcard subdomain deeper match", "https://api.v2.example.com", []string{"*.example.com"}, true},
		{"wildcard matches apex", "https://example.com", []string{"*.example.com"}, true},
		{"wildcard rejects lookalike", "https://badexample.com", []string{"*.example.com"}, false},
		{"http vs https mismatch", "http://example.com", []string{"https://example.com"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isOriginAllowed(tt.origin, tt.allowedOrigins); got != tt.want {
				t.Errorf("isOriginAllowed(%q, %v) = %v, want %v", tt.origin, tt.allowedOrigins, got, tt.want)
			}
		})
	}
}
