package dedup

import (
	"sync"
	"testing"
)

func TestMemory_Seen(t *testing.T) {
	var d Interface = NewMemory()

	if d.Seen("6PbJSbfG1") {
		t.Error("expected false for first occurrence")
	}
	if !d.Seen("6PbJSbfG1") {
		t.Error("expected true for second occurrence")
	}
	if d.Seen("2kLmVjo9") {
		t.Error("expected false for new pubkey")
	}
}

func TestMemory_Concurrent(t *testing.T) {
	d := NewMemory()
	var wg sync.WaitGroup
	var mu sync.Mutex
	first := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !d.Seen("shared-pubkey") {
				mu.Lock()
				first++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if first != 1 {
		t.Errorf("expected exactly 1 first occurrence, got %d", first)
	}
}

func BenchmarkMemory_Seen(b *testing.B) {
	d := NewMemory()
	for i := 0; i < b.N; i++ {
		d.Seen(string(rune(i)))
	}
}
