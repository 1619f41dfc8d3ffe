package ratelimit

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLimiter_Allow(t *testing.T) {
	// 5 requests per minute, burst of 5
	l := NewLimiter(5, time.Minute, 5)
	defer l.Close()

	for i := range 5 {
		result := l.Allow("ip:a:auth")
		if !result.Allowed {
			t.Errorf("request %d should be allowed", i+1)
		}
		if result.Limit != 5 {
			t.Errorf("expected Limit=5, got %d", result.Limit)
		}
		if result.RetryAfter != 0 {
			t.Errorf("RetryAfter = %v for an allowed request", result.RetryAfter)
		}
	}

	result := l.Allow("ip:a:auth")
	if result.Allowed {
		t.Error("6th request should be rate limited")
	}
	if result.Remaining != 0 {
		t.Errorf("expected Remaining=0, got %d", result.Remaining)
	}
	// One token every 12s.
	if result.RetryAfter < 11*time.Second || result.RetryAfter > 12*time.Second {
		t.Errorf("RetryAfter = %v, want about 12s", result.RetryAfter)
	}
	if !result.ResetAt.After(time.Now()) {
		t.Error("ResetAt should be in the future")
	}
}

func TestLimiter_DifferentKeys(t *testing.T) {
	l := NewLimiter(5, time.Minute, 5)
	defer l.Close()

	for range 5 {
		l.Allow("key1")
	}
	if l.Allow("key1").Allowed {
		t.Error("key1 should be rate limited")
	}
	for range 5 {
		if !l.Allow("key2").Allowed {
			t.Error("key2 should not be rate limited")
		}
	}
	if l.Len() != 2 {
		t.Errorf("Len() = %d, want 2", l.Len())
	}
}

func TestLimiter_Cleanup(t *testing.T) {
	l := NewLimiter(60, time.Minute, 10)
	defer l.Close()

	l.Allow("idle")
	l.Allow("busy")
	// The busy bucket keeps being used while the idle one refills.
	later := time.Now().Add(staleAfter + time.Minute)
	b, _ := l.buckets.Load("busy")
	b.lastSeen.Store(later.UnixNano())

	l.cleanup(later)
	if _, ok := l.buckets.Load("idle"); ok {
		t.Error("idle bucket should be removed")
	}
	if _, ok := l.buckets.Load("busy"); !ok {
		t.Error("busy bucket should be kept")
	}
}

func TestLimiter_CloseTwice(t *testing.T) {
	l := NewLimiter(1, time.Minute, 1)
	l.Close()
	l.Close()
}
