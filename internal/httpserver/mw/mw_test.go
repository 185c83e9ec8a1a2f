package mw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MrSnakeDoc/pinbook/internal/logger"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

func TestMatchHost(t *testing.T) {
	tests := []struct {
		host, pattern string
		want          bool
	}{
		{"pinbook.example.com", "pinbook.example.com", true},
		{"pinbook.example.com", "*.example.com", true},
		{"example.com", "*.example.com", false},
		{"evil.com", "pinbook.example.com", false},
	}
	for _, tt := range tests {
		if got := matchHost(tt.host, tt.pattern); got != tt.want {
			t.Errorf("matchHost(%q, %q) = %v, want %v", tt.host, tt.pattern, got, tt.want)
		}
	}
}

func TestEnforceHost(t *testing.T) {
	h := EnforceHost([]string{"*.example.com"}, logger.Nop())(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/bookmarks", nil)
	req.Host = "pinbook.example.com"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("allowed host status = %v", rec.Code)
	}

	req.Host = "evil.com"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("rejected host status = %v", rec.Code)
	}
}

func TestAllowOnlyCIDRS(t *testing.T) {
	h := AllowOnlyCIDRS([]string{"10.0.0.0/8"}, false, logger.Nop())(okHandler)

	tests := []struct {
		remote string
		want   int
	}{
		{"10.1.2.3:5555", http.StatusOK},
		{"192.168.1.1:5555", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = tt.remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s: status = %v, want %v", tt.remote, rec.Code, tt.want)
		}
	}
}

func TestLimiterRefills(t *testing.T) {
	now := time.Now()
	l := newLimiter(RateLimitConfig{Burst: 2, RefillPerIPPerMin: 60}, now)

	for i := 0; i < 2; i++ {
		if v := l.allow("1.2.3.4", now); !v.ok {
			t.Fatalf("request %d should pass within burst", i)
		}
	}
	v := l.allow("1.2.3.4", now)
	if v.ok {
		t.Fatal("third request should be limited")
	}
	if v.retryAfter != 1 {
		t.Errorf("retryAfter = %v, want 1", v.retryAfter)
	}
	if v := l.allow("5.6.7.8", now); !v.ok {
		t.Error("other clients have their own bucket")
	}
	if v := l.allow("1.2.3.4", now.Add(time.Second)); !v.ok {
		t.Error("one token is refilled after a second")
	}
}

func TestLimiterSweepsIdleClients(t *testing.T) {
	now := time.Now()
	l := newLimiter(RateLimitConfig{Burst: 1, RefillPerIPPerMin: 1, MaxEntries: 2, IdleTTL: time.Minute}, now)

	l.allow("1.1.1.1", now)
	l.allow("2.2.2.2", now.Add(30*time.Second))
	l.allow("3.3.3.3", now.Add(90*time.Second))
	if _, ok := l.buckets["1.1.1.1"]; ok {
		t.Error("idle client should be swept once the table is full")
	}
	if len(l.buckets) != 2 {
		t.Errorf("tracked clients = %d, want 2", len(l.buckets))
	}
}

func TestRateLimitRejectsWithJSON(t *testing.T) {
	now := time.Now()
	r := chi.NewRouter()
	r.Use(RateLimit(RateLimitConfig{
		Burst:             1,
		RefillPerIPPerMin: 1,
		Now:               func() time.Time { return now },
		ExemptRoutes:      []string{"/hooks/{id}"},
	}))
	r.Get("/api/bookmarks", okHandler)
	r.Get("/hooks/{id}", okHandler)

	do := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "1.2.3.4:1000"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	if rec := do("/api/bookmarks"); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %v", rec.Code)
	}
	rec := do("/api/bookmarks")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %v", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["error"] != "rate_limited" {
		t.Errorf("body = %v (%v)", body, err)
	}

	if rec := do("/hooks/42"); rec.Code != http.StatusOK {
		t.Errorf("exempt route status = %v", rec.Code)
	}
	// same prefix, different route: still limited
	if rec := do("/hooks/42/replay"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("unmatched path status = %v, want 429", rec.Code)
	}
}

func TestLogRedactsCredentials(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := Log(logger.FromZap(zap.New(core)), false)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/pinboard?endpoint=posts/recent&auth_token=alice:SECRET", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d log entries, want 2", len(entries))
	}
	q, _ := entries[0].ContextMap()["query"].(string)
	if strings.Contains(q, "SECRET") || !strings.Contains(q, "auth_token=REDACTED") {
		t.Errorf("query field = %q", q)
	}
	if entries[0].Level != zapcore.InfoLevel || entries[1].Level != zapcore.DebugLevel {
		t.Errorf("levels = %v, %v", entries[0].Level, entries[1].Level)
	}
}

func TestRedactQuery(t *testing.T) {
	tests := []struct {
		raw, want string
	}{
		{"", ""},
		{"q=go", "q=go"},
		{"Auth_Token=x&tag=a", "Auth_Token=REDACTED&tag=a"},
		{"token=x", "token=REDACTED"},
	}
	for _, tt := range tests {
		v, _ := url.ParseQuery(tt.raw)
		if got := RedactQuery(v); got != tt.want {
			t.Errorf("RedactQuery(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
