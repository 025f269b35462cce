// Package health serves the daemon's /health, /ready and /live endpoints.
// /health runs every registered Checker and reports the worst status;
// /ready reflects whether the core finished its first sync; /live only says
// the process answers.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/orasrs/orasrs-core/internal/logging"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Check is the result of one Checker run.
type Check struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	LastChecked time.Time `json:"last_checked"`
	DurationMS  int64     `json:"duration_ms"`
}

// Response is the /health body.
type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    []Check           `json:"checks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type Checker interface {
	Check(ctx context.Context) Check
}

const checkTimeout = 5 * time.Second

type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	metadata map[string]string
	logger   *logging.Logger
	ready    bool
}

func NewHandler(logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{
		checkers: make(map[string]Checker),
		metadata: make(map[string]string),
		logger:   logger,
	}
}

// RegisterChecker adds or replaces the checker reported under name.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// SetMetadata attaches a static key to /health and /ready bodies.
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

// snapshot copies the registry so checks run without the handler lock.
func (h *Handler) snapshot() (names []string, checkers map[string]Checker, metadata map[string]string, ready bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	checkers = make(map[string]Checker, len(h.checkers))
	for name, c := range h.checkers {
		names = append(names, name)
		checkers[name] = c
	}
	sort.Strings(names)
	metadata = make(map[string]string, len(h.metadata))
	for k, v := range h.metadata {
		metadata[k] = v
	}
	return names, checkers, metadata, h.ready
}

// HealthHandler runs every checker in name order. Degraded answers 200,
// unhealthy 503.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	names, checkers, metadata, _ := h.snapshot()
	resp := Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make([]Check, 0, len(names)),
		Metadata:  metadata,
	}
	for _, name := range names {
		c := checkers[name].Check(ctx)
		c.Name = name
		if c.Status.rank() > resp.Status.rank() {
			resp.Status = c.Status
		}
		if c.Status != StatusHealthy {
			h.logger.Warnw("health check not healthy", "check", name, "status", c.Status, "message", c.Message)
		}
		resp.Checks = append(resp.Checks, c)
	}

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, resp)
}

func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	_, _, metadata, ready := h.snapshot()
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, map[string]any{
		"ready":     ready,
		"timestamp": time.Now(),
		"metadata":  metadata,
	})
}

func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debugw("health response write failed", "err", err)
	}
}

func millis(d time.Duration) int64 { return d.Milliseconds() }

// RedisChecker pings the Redis upstream. A nil ping means Redis is not in use.
type RedisChecker struct {
	ping func(ctx context.Context) error
}

func NewRedisChecker(ping func(ctx context.Context) error) *RedisChecker {
	return &RedisChecker{ping: ping}
}

func (c *RedisChecker) Check(ctx context.Context) Check {
	start := time.Now()
	if c.ping == nil {
		return Check{Status: StatusHealthy, Message: "redis upstream not configured", LastChecked: start}
	}
	check := Check{Status: StatusHealthy, Message: "redis upstream reachable", LastChecked: start}
	if err := c.ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = "redis upstream unreachable: " + err.Error()
	}
	check.DurationMS = millis(time.Since(start))
	return check
}

// FreshnessChecker reports how long ago the threat cache last synced.
type FreshnessChecker struct {
	lastUpdate func() (int64, error)
	maxAge     time.Duration
	now        func() time.Time
}

// NewFreshnessChecker degrades once the last sync is older than maxAge and
// fails when the cache cannot be read at all.
func NewFreshnessChecker(lastUpdate func() (int64, error), maxAge time.Duration) *FreshnessChecker {
	return &FreshnessChecker{lastUpdate: lastUpdate, maxAge: maxAge, now: time.Now}
}

func (c *FreshnessChecker) Check(ctx context.Context) Check {
	start := c.now()
	last, err := c.lastUpdate()
	check := Check{Status: StatusHealthy, LastChecked: start}

	switch {
	case err != nil:
		check.Status = StatusUnhealthy
		check.Message = "threat cache unavailable: " + err.Error()
	case last == 0:
		check.Status = StatusDegraded
		check.Message = "threat cache never synced"
	case start.Sub(time.Unix(last, 0)) > c.maxAge:
		check.Status = StatusDegraded
		check.Message = "threat cache stale since " + time.Unix(last, 0).UTC().Format(time.RFC3339)
	default:
		check.Message = "threat cache fresh"
	}
	check.DurationMS = millis(c.now().Sub(start))
	return check
}

// PeerChecker reports reachability of probed peers.
type PeerChecker struct {
	reachable func() int
	attempted func() int
}

func NewPeerChecker(reachable, attempted func() int) *PeerChecker {
	return &PeerChecker{reachable: reachable, attempted: attempted}
}

func (c *PeerChecker) Check(ctx context.Context) Check {
	start := time.Now()
	ok, tried := c.reachable(), c.attempted()

	check := Check{Status: StatusHealthy, Message: "peers reachable", LastChecked: start}
	switch {
	case tried == 0:
		check.Message = "no peers probed yet"
	case ok == 0:
		check.Status = StatusDegraded
		check.Message = "no probed peer is reachable"
	}
	check.DurationMS = millis(time.Since(start))
	return check
}
