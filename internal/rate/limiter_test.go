package rate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPerKey_Allow(t *testing.T) {
	limiter := New(10.0, 5)

	for i := 0; i < 5; i++ {
		if !limiter.Allow("ip-api") {
			t.Errorf("expected Allow to return true for burst request %d", i+1)
		}
	}

	if limiter.Allow("ip-api") {
		t.Error("expected Allow to return false after burst exhausted")
	}

	if !limiter.Allow("ipwho.is") {
		t.Error("expected Allow to return true for different key")
	}
}

func TestPerKey_Wait(t *testing.T) {
	limiter := New(100.0, 1)

	start := time.Now()
	if err := limiter.Wait(context.Background(), "k"); err != nil {
		t.Fatal(err)
	}
	if err := limiter.Wait(context.Background(), "k"); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d < 5*time.Millisecond {
		t.Errorf("expected Wait to delay, got %v", d)
	}
}

func TestPerKey_WaitHonoursContext(t *testing.T) {
	limiter := New(0.1, 1)
	_ = limiter.Wait(context.Background(), "slow")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx, "slow"); err == nil {
		t.Error("expected an error when the context cannot cover the wait")
	}
}

func TestPerKey_Disabled(t *testing.T) {
	limiter := New(0, 1)
	if limiter.Enabled() {
		t.Fatal("zero rate should disable limiting")
	}
	for i := 0; i < 100; i++ {
		if !limiter.Allow("x") {
			t.Fatal("disabled limiter must always allow")
		}
	}
	if err := limiter.Wait(context.Background(), "x"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	var nilLimiter *PerKey
	if !nilLimiter.Allow("x") {
		t.Error("nil limiter must allow")
	}
}

func TestPerKey_Concurrent(t *testing.T) {
	limiter := New(1000.0, 10)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow("concurrent") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed == 0 {
		t.Error("expected some requests to be allowed")
	}
	if allowed > 15 {
		t.Errorf("expected rate limiting to apply, but %d requests were allowed", allowed)
	}
}

func BenchmarkPerKey_Allow(b *testing.B) {
	limiter := New(1000000.0, 1000000)
	for i := 0; i < b.N; i++ {
		limiter.Allow("benchmark")
	}
}
