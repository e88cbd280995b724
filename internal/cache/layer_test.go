package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gustycube/podwatch/internal/logging"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLayer(t *testing.T) (*Layer, *MemoryStore, *clock) {
	t.Helper()
	c := &clock{t: time.Unix(1700000000, 0)}
	store := NewMemoryStore(0)
	store.now = c.now
	t.Cleanup(func() { store.Close() })
	return NewLayer(store, logging.NewNop()), store, c
}

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestLayer_SetGet(t *testing.T) {
	l, _, _ := newTestLayer(t)
	ctx := context.Background()

	l.Set(ctx, KeyNodes, payload{"a", 3}, time.Minute)

	var got payload
	if !l.Get(ctx, KeyNodes, &got) {
		t.Fatal("expected hit")
	}
	if got != (payload{"a", 3}) {
		t.Errorf("got %+v", got)
	}
	if l.Get(ctx, "missing", &got) {
		t.Error("expected miss for unknown key")
	}
}

func TestLayer_Expiry(t *testing.T) {
	l, store, c := newTestLayer(t)
	ctx := context.Background()

	l.Set(ctx, KeyStats, payload{"s", 1}, 60*time.Second)
	c.advance(59 * time.Second)
	var got payload
	if !l.Get(ctx, KeyStats, &got) {
		t.Fatal("entry expired too early")
	}
	c.advance(time.Second)
	if l.Get(ctx, KeyStats, &got) {
		t.Error("read after expiry must miss")
	}
	if store.Len() != 0 {
		t.Error("expired entry should be dropped on read")
	}
}

func TestLayer_DeletePattern(t *testing.T) {
	l, store, _ := newTestLayer(t)
	ctx := context.Background()

	for _, k := range []string{KeyNodes, "pnodes:x", HistoryKey("pk1", 7), LeaderboardKey("uptime", 10), KeyStats, KeyHeatmap, "geo:unrelated"} {
		l.Set(ctx, k, payload{k, 1}, time.Hour)
	}

	if n := l.DeletePattern(ctx, "pnodes:*"); n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	var got payload
	if l.Get(ctx, KeyNodes, &got) {
		t.Error("pnodes:all should be gone immediately")
	}
	if !l.Get(ctx, HistoryKey("pk1", 7), &got) {
		t.Error("pnodes:* must not match pnode: keys")
	}

	l.DeletePattern(ctx, RefreshPatterns...)
	if store.Len() != 1 {
		t.Errorf("only the unrelated key should survive, have %d", store.Len())
	}
}

func TestLayer_Delete(t *testing.T) {
	l, _, _ := newTestLayer(t)
	ctx := context.Background()
	l.Set(ctx, "a", 1, time.Hour)
	l.Set(ctx, "b", 2, time.Hour)
	l.Delete(ctx, "a", "b")

	var v int
	if l.Get(ctx, "a", &v) || l.Get(ctx, "b", &v) {
		t.Error("keys should be deleted")
	}
}

type brokenStore struct{}

var errDown = errors.New("store down")

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errDown }
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errDown
}
func (brokenStore) Delete(context.Context, ...string) error { return errDown }
func (brokenStore) DeletePattern(context.Context, string) (int, error) {
	return 0, errDown
}
func (brokenStore) Ping(context.Context) error { return errDown }
func (brokenStore) Close() error               { return nil }

func TestLayer_StoreFailureIsMiss(t *testing.T) {
	l := NewLayer(brokenStore{}, logging.NewNop())
	ctx := context.Background()

	l.Set(ctx, "k", payload{"x", 1}, time.Minute)
	var got payload
	if l.Get(ctx, "k", &got) {
		t.Error("store errors must read as misses")
	}
	l.Delete(ctx, "k")
	if n := l.DeletePattern(ctx, "*"); n != 0 {
		t.Errorf("n = %d", n)
	}

	calls := 0
	v, err := GetOrCompute(ctx, l, "k", time.Minute, func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil || v != 42 || calls != 1 {
		t.Errorf("GetOrCompute should bypass a broken store: v=%d err=%v calls=%d", v, err, calls)
	}
}

func TestLayer_CorruptEntryIsMiss(t *testing.T) {
	l, store, _ := newTestLayer(t)
	ctx := context.Background()
	store.Set(ctx, "bad", []byte("not json"), time.Minute)
	store.Set(ctx, "wrongtype", []byte(`{"data":"text","timestamp":1}`), time.Minute)

	var got payload
	if l.Get(ctx, "bad", &got) || l.Get(ctx, "wrongtype", &got) {
		t.Error("undecodable entries must be misses")
	}
}

func TestGetOrCompute_CachesResult(t *testing.T) {
	l, _, _ := newTestLayer(t)
	ctx := context.Background()

	calls := 0
	fn := func(context.Context) ([]payload, error) {
		calls++
		return []payload{{"a", 1}, {"b", 2}}, nil
	}
	for i := 0; i < 3; i++ {
		v, err := GetOrCompute(ctx, l, KeyNodes, time.Minute, fn)
		if err != nil || len(v) != 2 || v[1].Name != "b" {
			t.Fatalf("v=%v err=%v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestGetOrCompute_CollapsesConcurrentMisses(t *testing.T) {
	l, _, _ := newTestLayer(t)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := GetOrCompute(ctx, l, "collapse", time.Minute, fn)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = v
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("fn ran %d times, want 1", got)
	}
	for i, v := range results {
		if v != 7 {
			t.Errorf("caller %d got %d", i, v)
		}
	}
}

func TestGetOrCompute_ErrorsNotCached(t *testing.T) {
	l, _, _ := newTestLayer(t)
	ctx := context.Background()
	boom := errors.New("boom")

	if _, err := GetOrCompute(ctx, l, "k", time.Minute, func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	v, err := GetOrCompute(ctx, l, "k", time.Minute, func(context.Context) (int, error) { return 5, nil })
	if err != nil || v != 5 {
		t.Errorf("v=%d err=%v", v, err)
	}
}

func TestGetOrCompute_DetachedFromCallerCancel(t *testing.T) {
	l, _, _ := newTestLayer(t)

	release := make(chan struct{})
	done := make(chan error, 1)
	fn := func(ctx context.Context) (int, error) {
		<-release
		done <- ctx.Err()
		return 9, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := GetOrCompute(ctx, l, "detached", time.Minute, fn)
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller should get context.Canceled, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Errorf("computation saw cancellation: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	var v int
	for !l.Get(context.Background(), "detached", &v) {
		if time.Now().After(deadline) {
			t.Fatal("detached computation never populated the cache")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if v != 9 {
		t.Errorf("v = %d", v)
	}
}

func TestMemoryStore_Janitor(t *testing.T) {
	s := NewMemoryStore(10 * time.Millisecond)
	defer s.Close()
	ctx := context.Background()

	s.Set(ctx, "short", []byte("x"), 5*time.Millisecond)
	s.Set(ctx, "forever", []byte("y"), 0)

	deadline := time.Now().Add(time.Second)
	for s.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not sweep, len = %d", s.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok, _ := s.Get(ctx, "forever"); !ok {
		t.Error("non-expiring key was swept")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	s := NewRedisStore(addr, os.Getenv("REDIS_PASSWORD"), 0)
	defer s.Close()
	if err := s.Ping(ctx); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}

	l := NewLayer(s, logging.NewNop())
	l.Set(ctx, "podwatch-test:pnodes:all", payload{"r", 1}, time.Minute)
	l.Set(ctx, "podwatch-test:pnode:x", payload{"r", 2}, time.Minute)

	var got payload
	if !l.Get(ctx, "podwatch-test:pnodes:all", &got) || got.Count != 1 {
		t.Fatalf("redis round trip failed: %+v", got)
	}
	if n := l.DeletePattern(ctx, "podwatch-test:*"); n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	if l.Get(ctx, "podwatch-test:pnodes:all", &got) {
		t.Error("key survived pattern delete")
	}
}
