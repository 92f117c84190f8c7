// Package ratelimit provides sliding-window call budgets per downstream
// service name.
//
// Features:
//   - Per-service limits with a shared default
//   - Trailing 60-second window with exact per-call accounting
//   - Rejection (not queuing) at admission time; callers own backoff
//   - Thread-safe implementation
package ratelimit

import (
	"sync"
	"time"
)

// Window is the trailing interval calls are counted over.
const Window = 60 * time.Second

// =============================================================================
// Config & Usage
// =============================================================================

// Config defines the per-window call budget.
type Config struct {
	// RequestsPerWindow is the maximum number of calls admitted within
	// the trailing window. Zero or negative means unlimited.
	RequestsPerWindow int `json:"requests_per_window"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{RequestsPerWindow: 60}
}

// Usage reports current window occupancy for a service.
type Usage struct {
	Service   string `json:"service"`
	Current   int    `json:"current"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// =============================================================================
// Limiter
// =============================================================================

// serviceWindow holds recent call timestamps for one service, oldest
// first. Expired entries are dropped lazily on every touch.
type serviceWindow struct {
	timestamps []time.Time
}

// prune drops timestamps older than the window. Returns remaining count.
func (w *serviceWindow) prune(now time.Time) int {
	cutoff := now.Add(-Window)
	i := 0
	for i < len(w.timestamps) && !w.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.timestamps = append(w.timestamps[:0], w.timestamps[i:]...)
	}
	return len(w.timestamps)
}

// Limiter bounds throughput to downstream services using a sliding
// window of call timestamps per service name.
//
// Usage:
//
//	limiter := NewLimiter(nil, nil)
//	if !limiter.TryAcquire("cv_enhance") {
//	    return modelclient.NewInternalRateLimitError("cv_enhance", limiter.Limit("cv_enhance"))
//	}
type Limiter struct {
	defaultConfig  Config
	serviceConfigs map[string]Config
	windows        map[string]*serviceWindow
	logger         Logger

	// now is replaceable in tests.
	now func() time.Time

	mu sync.Mutex
}

// Logger is the interface for logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// NewLimiter creates a new limiter. A nil config uses defaults.
func NewLimiter(config *Config, logger Logger) *Limiter {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	return &Limiter{
		defaultConfig:  cfg,
		serviceConfigs: make(map[string]Config),
		windows:        make(map[string]*serviceWindow),
		logger:         logger,
		now:            time.Now,
	}
}

// SetServiceLimit overrides the budget for a specific service.
func (l *Limiter) SetServiceLimit(service string, config Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.serviceConfigs[service] = config
}

// Limit returns the effective per-window limit for a service.
func (l *Limiter) Limit(service string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limitLocked(service)
}

func (l *Limiter) limitLocked(service string) int {
	if cfg, ok := l.serviceConfigs[service]; ok {
		return cfg.RequestsPerWindow
	}
	return l.defaultConfig.RequestsPerWindow
}

// TryAcquire admits one call for the service if the trailing window has
// budget, recording it. Returns false once the window is full; callers
// translate that into an InternalRateLimitError. Never blocks.
func (l *Limiter) TryAcquire(service string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := l.limitLocked(service)
	if limit <= 0 {
		return true // unlimited
	}

	now := l.now()
	w, ok := l.windows[service]
	if !ok {
		w = &serviceWindow{}
		l.windows[service] = w
	}

	if w.prune(now) >= limit {
		if l.logger != nil {
			l.logger.Warn("rate_limit_rejected",
				"service", service,
				"limit", limit,
			)
		}
		return false
	}

	w.timestamps = append(w.timestamps, now)
	return true
}

// GetUsage returns the current window occupancy for a service.
func (l *Limiter) GetUsage(service string) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := l.limitLocked(service)
	current := 0
	if w, ok := l.windows[service]; ok {
		current = w.prune(l.now())
	}
	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	return Usage{
		Service:   service,
		Current:   current,
		Limit:     limit,
		Remaining: remaining,
	}
}

// Reset clears the recorded window for a service.
func (l *Limiter) Reset(service string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, service)
}

// CleanupExpired drops services whose windows are empty.
// Called periodically by the governor's cleanup loop to prevent memory
// growth across many service names.
func (l *Limiter) CleanupExpired() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cleaned := 0
	for service, w := range l.windows {
		if w.prune(now) == 0 {
			delete(l.windows, service)
			cleaned++
		}
	}
	return cleaned
}
