// Package health serves liveness, readiness and dependency health for the
// podwatch server.
package health

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gustycube/podwatch/internal/logging"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) worse(o Status) bool { return s.rank() > o.rank() }

func (s Status) rank() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	}
	return 0
}

// Check is the outcome of one dependency check.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

func result(status Status, message string, start time.Time) Check {
	now := time.Now()
	return Check{
		Status:      status,
		Message:     message,
		LastChecked: now,
		Duration:    now.Sub(start) / time.Millisecond,
	}
}

// Response is the /health body.
type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    []Check           `json:"checks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler manages health and readiness checks
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	metadata map[string]string
	logger   *logging.Logger
	ready    bool
	started  time.Time
}

func NewHandler(logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		checkers: make(map[string]Checker),
		metadata: make(map[string]string),
		logger:   logger,
		started:  time.Now(),
	}
}

// RegisterChecker adds or replaces the checker reported as name.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

func (h *Handler) SetMetadata(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metadata[key] = value
}

func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

func (h *Handler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

func (h *Handler) snapshot() (map[string]Checker, map[string]string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return maps.Clone(h.checkers), maps.Clone(h.metadata), h.ready
}

// Run executes every registered checker and folds their statuses.
func (h *Handler) Run(ctx context.Context) Response {
	checkers, metadata, _ := h.snapshot()

	resp := Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Checks:    make([]Check, 0, len(checkers)),
		Metadata:  metadata,
	}
	for _, name := range slices.Sorted(maps.Keys(checkers)) {
		c := checkers[name].Check(ctx)
		c.Name = name
		resp.Checks = append(resp.Checks, c)
		if c.Status == StatusUnhealthy {
			h.logger.Warnw("health check failed", "check", name, "message", c.Message)
		}
		if c.Status.worse(resp.Status) {
			resp.Status = c.Status
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// HealthHandler answers 503 only when a check is unhealthy; degraded is 200.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := h.Run(ctx)
	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	_, metadata, ready := h.snapshot()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ready":     ready,
		"timestamp": time.Now(),
		"metadata":  metadata,
	})
}

func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

// PingChecker reports a dependency as unhealthy when its ping fails. A
// nil ping means the dependency is not configured.
type PingChecker struct {
	label string
	ping  func(ctx context.Context) error
}

func NewPingChecker(label string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{label: label, ping: ping}
}

func (c *PingChecker) Check(ctx context.Context) Check {
	start := time.Now()
	if c.ping == nil {
		return result(StatusHealthy, c.label+" not configured", start)
	}
	if err := c.ping(ctx); err != nil {
		return result(StatusUnhealthy, c.label+" connection failed: "+err.Error(), start)
	}
	return result(StatusHealthy, c.label+" connection OK", start)
}

// QueueChecker reports a bounded queue as degraded above 90% full.
type QueueChecker struct {
	depth    func() int
	capacity int
}

func NewQueueChecker(depth func() int, capacity int) *QueueChecker {
	return &QueueChecker{depth: depth, capacity: capacity}
}

func (c *QueueChecker) Check(context.Context) Check {
	start := time.Now()
	if c.capacity > 0 {
		d := c.depth()
		if float64(d)/float64(c.capacity)*100 > 90 {
			return result(StatusDegraded, fmt.Sprintf("queue near capacity (%d/%d)", d, c.capacity), start)
		}
	}
	return result(StatusHealthy, "queue draining normally", start)
}

// PassChecker tracks seed reachability of the latest aggregation pass:
// healthy when every seed answered, degraded when some failed, unhealthy
// when none did. Before the first pass it reports healthy.
type PassChecker struct {
	mu     sync.Mutex
	ok     int
	total  int
	failed []string
	at     time.Time
}

func NewPassChecker() *PassChecker { return &PassChecker{} }

// Observe records a pass in which ok of total seeds answered; failed names
// the seeds that did not.
func (c *PassChecker) Observe(ok, total int, failed []string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ok, c.total, c.at = ok, total, at
	c.failed = slices.Clone(failed)
}

func (c *PassChecker) Check(context.Context) Check {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.at.IsZero():
		return result(StatusHealthy, "no aggregation pass yet", start)
	case c.ok == 0:
		return result(StatusUnhealthy, fmt.Sprintf("no seed answered at %s", c.at.Format(time.RFC3339)), start)
	case c.ok < c.total:
		return result(StatusDegraded, fmt.Sprintf("%d/%d seeds answered, failing: %s", c.ok, c.total, strings.Join(c.failed, ", ")), start)
	}
	return result(StatusHealthy, fmt.Sprintf("%d/%d seeds answered", c.ok, c.total), start)
}
