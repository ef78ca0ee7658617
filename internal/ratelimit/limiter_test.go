package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAllow_Burst(t *testing.T) {
	l := NewLimiter(1.0, 3)
	for i := 0; i < 3; i++ {
		if !l.Allow("k") {
			t.Errorf("request %d should be allowed (within burst)", i+1)
		}
	}
	if l.Allow("k") {
		t.Error("request after burst exhaustion should be rejected")
	}
	if !l.Allow("other") {
		t.Error("keys should have independent buckets")
	}
}

func TestAllow_Refill(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(10.0, 2)
	l.nowFunc = func() time.Time { return now }

	l.Allow("k")
	l.Allow("k")
	if l.Allow("k") {
		t.Fatal("expected rejection after burst")
	}

	now = now.Add(100 * time.Millisecond)
	if !l.Allow("k") {
		t.Error("expected one token after 100ms at 10/s")
	}

	now = now.Add(10 * time.Second)
	if got := l.Tokens("k"); got != 2 {
		t.Errorf("expected refill capped at burst 2, got %g", got)
	}
}

func TestAllow_Concurrent(t *testing.T) {
	l := NewLimiter(0, 50)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("k") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 50 {
		t.Errorf("expected exactly 50 allowed, got %d", allowed)
	}
}

func TestNewToolLimiters(t *testing.T) {
	tests := []struct {
		tool  string
		burst int
	}{
		{"cablex_expand", 2},
		{"cablex_inspect", 10},
		{"cablex_runs", 10},
	}
	limiters := NewToolLimiters()
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			l, ok := limiters[tt.tool]
			if !ok {
				t.Fatalf("missing limiter for %s", tt.tool)
			}
			l.nowFunc = func() time.Time { return time.Unix(0, 0) }
			for i := 0; i < tt.burst; i++ {
				if !l.Allow(tt.tool) {
					t.Fatalf("request %d rejected within burst", i+1)
				}
			}
			if l.Allow(tt.tool) {
				t.Errorf("expected rejection after burst %d", tt.burst)
			}
		})
	}
}

func TestCheckLimit(t *testing.T) {
	limiters := ToolLimiters{"cablex_expand": NewLimiter(0, 1)}
	if err := CheckLimit(limiters, "cablex_expand"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := CheckLimit(limiters, "cablex_expand"); !errors.Is(err, ErrLimited) {
		t.Errorf("expected ErrLimited, got %v", err)
	}
	if err := CheckLimit(limiters, "unknown_tool"); err != nil {
		t.Errorf("tools without a limiter should pass, got %v", err)
	}
}
