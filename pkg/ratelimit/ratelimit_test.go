package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 || cfg.Burst <= 0 {
		t.Fatalf("expected positive defaults, got %+v", cfg)
	}
}

func TestLimiterAllowsWithinBurst(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 2})
	if !l.Allow() {
		t.Fatalf("expected first request to be allowed")
	}
	if !l.Allow() {
		t.Fatalf("expected second request (within burst) to be allowed")
	}
	if l.Allow() {
		t.Fatalf("expected third request to exceed burst")
	}
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1})
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/health", nil)

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec2.Code)
	}
}

func TestResetRestoresCapacity(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1})
	l.Allow()
	if l.Allow() {
		t.Fatalf("expected bucket to be empty before reset")
	}
	l.Reset()
	if !l.Allow() {
		t.Fatalf("expected bucket to be refilled after reset")
	}
}
