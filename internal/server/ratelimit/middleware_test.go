package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWriteHeaders(t *testing.T) {
	reset := time.Unix(1700000000, 0)
	tests := []struct {
		name       string
		result     Result
		retryAfter string
	}{
		{"Allowed", Result{Allowed: true, Limit: 60, Remaining: 59, ResetAt: reset}, ""},
		{"Limited", Result{Limit: 5, ResetAt: reset, RetryAfter: 12 * time.Second}, "12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteHeaders(w, tt.result)
			if got := w.Header().Get("X-RateLimit-Reset"); got != "1700000000" {
				t.Errorf("X-RateLimit-Reset = %q", got)
			}
			if got := w.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tt.retryAfter)
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewResponseWriter(rec, Result{Allowed: true, Limit: 60, Remaining: 10})
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte("{}"))
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "10" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d", rec.Code)
	}
	if u, ok := w.(interface{ Unwrap() http.ResponseWriter }); !ok || u.Unwrap() != rec {
		t.Error("Unwrap() does not return the wrapped writer")
	}
}

func TestBuildKey(t *testing.T) {
	if got := BuildKey("10.0.0.1", "write"); got != "ip:10.0.0.1:write" {
		t.Errorf("BuildKey() = %q", got)
	}
}
