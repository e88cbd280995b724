// Package ui draws transient progress on a terminal for the admin tool.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var frames = []rune{'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏'}

// Spinner redraws one status line until stopped. It draws nothing when the
// output is not a terminal.
type Spinner struct {
	mu       sync.Mutex
	out      io.Writer
	enabled  bool
	message  string
	current  int
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewSpinner writes to f when f is a terminal.
func NewSpinner(f *os.File, message string) *Spinner {
	return newSpinner(f, isTerminal(f), message)
}

func newSpinner(w io.Writer, enabled bool, message string) *Spinner {
	return &Spinner{
		out:      w,
		enabled:  enabled,
		message:  message,
		interval: 100 * time.Millisecond,
	}
}

func isTerminal(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// SetMessage replaces the text after the spinner glyph.
func (s *Spinner) SetMessage(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
}

// String returns the current frame and advances it.
func (s *Spinner) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	line := fmt.Sprintf("%c %s", frames[s.current], s.message)
	s.current = (s.current + 1) % len(frames)
	return line
}

// Start begins redrawing. Calling Start on a running spinner is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
}

func (s *Spinner) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			fmt.Fprint(s.out, "\r\033[K")
			return
		case <-ticker.C:
			fmt.Fprintf(s.out, "\r\033[K%s", s.String())
		}
	}
}

// Stop clears the line and waits for the redraw loop to exit.
func (s *Spinner) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}
