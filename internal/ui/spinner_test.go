package ui

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestSpinner_Frames(t *testing.T) {
	s := newSpinner(&bytes.Buffer{}, false, "querying seeds")
	first := s.String()
	second := s.String()
	if !strings.HasSuffix(first, "querying seeds") {
		t.Errorf("frame %q missing message", first)
	}
	if first == second {
		t.Error("spinner should advance between frames")
	}
	for range len(frames) - 2 {
		_ = s.String()
	}
	if got := s.String(); got != first {
		t.Errorf("frames should wrap, got %q want %q", got, first)
	}
}

func TestSpinner_DisabledWritesNothing(t *testing.T) {
	var buf syncBuffer
	s := newSpinner(&buf, false, "x")
	s.interval = time.Millisecond
	s.Start()
	time.Sleep(10 * time.Millisecond)
	s.Stop()
	if buf.String() != "" {
		t.Errorf("disabled spinner wrote %q", buf.String())
	}
}

func TestSpinner_DrawsAndClears(t *testing.T) {
	var buf syncBuffer
	s := newSpinner(&buf, true, "enriching")
	s.interval = time.Millisecond
	s.Start()
	s.Start()
	deadline := time.Now().Add(time.Second)
	for !strings.Contains(buf.String(), "enriching") {
		if time.Now().After(deadline) {
			t.Fatal("spinner never drew")
		}
		time.Sleep(time.Millisecond)
	}
	s.SetMessage("done")
	s.Stop()
	s.Stop()
	if !strings.HasSuffix(buf.String(), "\r\033[K") {
		t.Error("stop should clear the line")
	}
}
