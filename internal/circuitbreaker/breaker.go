// Package circuitbreaker keeps one breaker per upstream name (a geo
// provider, a host) on top of sony/gobreaker.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// Config holds the settings applied to every breaker in a Registry.
type Config struct {
	// MaxRequests is the number of trial requests allowed while half-open.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state after which counts
	// are cleared.
	Interval time.Duration

	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration

	// Threshold is the minimum number of requests before the failure ratio
	// is evaluated.
	Threshold uint32

	// FailureRatio opens the breaker once failures/requests reaches it.
	FailureRatio float64

	// OnStateChange is called whenever a named breaker changes state.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		Threshold:    5,
		FailureRatio: 0.6,
	}
}

var (
	ErrOpenState       = gobreaker.ErrOpenState
	ErrTooManyRequests = gobreaker.ErrTooManyRequests
)

// IsRejected reports whether err came from a breaker refusing the call
// rather than from the call itself.
func IsRejected(err error) bool {
	return errors.Is(err, ErrOpenState) || errors.Is(err, ErrTooManyRequests)
}

// Stats is a snapshot of one breaker.
type Stats struct {
	State               string
	Requests            uint32
	Failures            uint32
	ConsecutiveFailures uint32
}

// Registry manages circuit breakers per name.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
	config   *Config
}

// NewRegistry creates an empty registry. A nil config uses DefaultConfig.
func NewRegistry(config *Config) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Threshold == 0 {
		config.Threshold = 1
	}
	return &Registry{
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
		config:   config,
	}
}

// Execute runs fn through the breaker for name. When the breaker is open fn
// is not called and ErrOpenState is returned.
func (r *Registry) Execute(name string, fn func() error) error {
	_, err := r.get(name).Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// State returns the state for a specific name.
func (r *Registry) State(name string) gobreaker.State {
	return r.get(name).State()
}

// Stats returns statistics for every breaker created so far.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))
	for name, cb := range r.breakers {
		c := cb.Counts()
		stats[name] = Stats{
			State:               cb.State().String(),
			Requests:            c.Requests,
			Failures:            c.TotalFailures,
			ConsecutiveFailures: c.ConsecutiveFailures,
		}
	}
	return stats
}

// Reset forgets the breaker for name; the next call starts closed.
func (r *Registry) Reset(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, name)
}

func (r *Registry) get(name string) *gobreaker.CircuitBreaker[struct{}] {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cfg := r.config
	cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < cfg.Threshold {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureRatio
		},
		OnStateChange: cfg.OnStateChange,
	})
	r.breakers[name] = cb
	return cb
}
