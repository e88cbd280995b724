package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

func TestRegistry_ClosedState(t *testing.T) {
	r := NewRegistry(&Config{
		Threshold:    3,
		FailureRatio: 0.6,
		Timeout:      time.Second,
		Interval:     time.Minute,
	})

	if s := r.State("ip-api"); s != gobreaker.StateClosed {
		t.Errorf("expected StateClosed, got %v", s)
	}

	for i := 0; i < 5; i++ {
		if err := r.Execute("ip-api", func() error { return nil }); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}

	if s := r.State("ip-api"); s != gobreaker.StateClosed {
		t.Errorf("expected StateClosed after successes, got %v", s)
	}
}

func TestRegistry_OpensOnFailures(t *testing.T) {
	r := NewRegistry(&Config{
		Threshold:    3,
		FailureRatio: 0.6,
		Timeout:      time.Minute,
		Interval:     time.Minute,
	})
	testErr := errors.New("test error")

	_ = r.Execute("ipwho.is", func() error { return testErr })
	_ = r.Execute("ipwho.is", func() error { return testErr })
	if s := r.State("ipwho.is"); s != gobreaker.StateClosed {
		t.Errorf("expected StateClosed below threshold, got %v", s)
	}

	_ = r.Execute("ipwho.is", func() error { return testErr })
	if s := r.State("ipwho.is"); s != gobreaker.StateOpen {
		t.Fatalf("expected StateOpen after failures, got %v", s)
	}

	called := false
	err := r.Execute("ipwho.is", func() error { called = true; return nil })
	if !errors.Is(err, ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
	if !IsRejected(err) {
		t.Error("IsRejected should be true for an open breaker")
	}
	if called {
		t.Error("fn must not run while the breaker is open")
	}
}

func TestRegistry_HalfOpenRecovers(t *testing.T) {
	r := NewRegistry(&Config{
		Threshold:    2,
		FailureRatio: 0.5,
		Timeout:      50 * time.Millisecond,
		Interval:     time.Minute,
		MaxRequests:  1,
	})
	testErr := errors.New("test error")

	_ = r.Execute("seed", func() error { return testErr })
	_ = r.Execute("seed", func() error { return testErr })
	if s := r.State("seed"); s != gobreaker.StateOpen {
		t.Fatalf("expected StateOpen, got %v", s)
	}

	time.Sleep(80 * time.Millisecond)
	if s := r.State("seed"); s != gobreaker.StateHalfOpen {
		t.Fatalf("expected StateHalfOpen after timeout, got %v", s)
	}

	if err := r.Execute("seed", func() error { return nil }); err != nil {
		t.Fatalf("trial request failed: %v", err)
	}
	if s := r.State("seed"); s != gobreaker.StateClosed {
		t.Errorf("expected StateClosed after successful trial, got %v", s)
	}
}

func TestRegistry_NamesAreIndependent(t *testing.T) {
	r := NewRegistry(&Config{Threshold: 1, FailureRatio: 0.5, Timeout: time.Minute, Interval: time.Minute})

	_ = r.Execute("a", func() error { return errors.New("boom") })
	if s := r.State("a"); s != gobreaker.StateOpen {
		t.Fatalf("expected a open, got %v", s)
	}
	if err := r.Execute("b", func() error { return nil }); err != nil {
		t.Errorf("b should be unaffected by a, got %v", err)
	}

	stats := r.Stats()
	if stats["a"].State != "open" || stats["b"].State != "closed" {
		t.Errorf("unexpected stats: %+v", stats)
	}

	r.Reset("a")
	if s := r.State("a"); s != gobreaker.StateClosed {
		t.Errorf("expected a closed after reset, got %v", s)
	}
}

func TestRegistry_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	r := NewRegistry(&Config{
		Threshold:    1,
		FailureRatio: 1,
		Timeout:      time.Minute,
		Interval:     time.Minute,
		OnStateChange: func(name string, from, to gobreaker.State) {
			mu.Lock()
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
			mu.Unlock()
		},
	})

	_ = r.Execute("ipapi.co", func() error { return errors.New("down") })

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != "ipapi.co:closed->open" {
		t.Errorf("unexpected transitions: %v", transitions)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Execute("shared", func() error { return nil })
		}()
	}
	wg.Wait()

	if got := r.Stats()["shared"].Requests; got != 50 {
		t.Errorf("expected 50 requests, got %d", got)
	}
}
