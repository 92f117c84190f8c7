// Package gate deduplicates identical pipeline executions.
//
// Features:
//   - Exactly-once execution per request fingerprint while in flight
//   - Short TTL result cache for just-completed executions
//   - Caller timeouts that abandon the wait without cancelling the work
//   - Forced regeneration that bypasses both flight and cache
//
// The fingerprint is an opaque key; callers derive it from whatever
// identifies a duplicate request in their domain.
package gate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/resumeforge/modelgate/modelclient"
)

// DefaultTTL is how long completed results remain served as duplicates.
const DefaultTTL = 30 * time.Second

// Logger is the interface for logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Factory produces the value for one execution. It receives a context
// detached from the caller's cancellation so that an abandoned wait does
// not abort work other callers may still join.
type Factory func(ctx context.Context) (any, error)

// Result is what ExecuteOnce hands back.
type Result struct {
	// Value is the factory's return value.
	Value any `json:"value"`
	// WasDuplicate is true when this caller rode on another caller's
	// execution or on a cached result rather than triggering its own.
	WasDuplicate bool `json:"was_duplicate"`
	// CacheHit is true when the value came from the TTL cache with no
	// in-flight execution involved.
	CacheHit bool `json:"cache_hit"`
}

// cacheEntry is a completed result with an expiry.
type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// =============================================================================
// Gate
// =============================================================================

// Gate collapses concurrent and recently-repeated executions of the same
// key into a single factory run.
type Gate struct {
	ttl     time.Duration
	flights singleflight.Group
	logger  Logger

	cache    map[string]cacheEntry
	inFlight map[string]struct{}

	// now is replaceable in tests.
	now func() time.Time

	mu sync.Mutex
}

// NewGate creates a gate. Non-positive ttl uses DefaultTTL.
func NewGate(ttl time.Duration, logger Logger) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gate{
		ttl:      ttl,
		logger:   logger,
		cache:    make(map[string]cacheEntry),
		inFlight: make(map[string]struct{}),
		now:      time.Now,
	}
}

// ExecuteOnce runs the factory for key at most once across concurrent
// callers, serving followers the first caller's result. Results are
// cached for the gate's TTL after completion.
//
// A positive timeout bounds only this caller's wait: on expiry the
// caller gets a PipelineTimeoutError while the execution continues in
// the background and lands in the cache for later callers. Errors are
// never cached.
func (g *Gate) ExecuteOnce(ctx context.Context, key string, timeout time.Duration, factory Factory) (*Result, error) {
	if value, ok := g.lookupCache(key); ok {
		return &Result{Value: value, WasDuplicate: true, CacheHit: true}, nil
	}

	// Detach from the caller so an abandoned wait cannot cancel work
	// other callers share.
	execCtx := context.WithoutCancel(ctx)

	var ranHere bool
	ch := g.flights.DoChan(key, func() (any, error) {
		// A previous flight can settle between this caller's cache miss
		// and joining; recheck so the window stays exactly-once.
		if value, ok := g.lookupCache(key); ok {
			return value, nil
		}
		ranHere = true
		g.trackFlight(key, true)
		defer g.trackFlight(key, false)

		value, err := factory(execCtx)
		if err != nil {
			return nil, err
		}
		g.storeCache(key, value)
		return value, nil
	})

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return &Result{Value: res.Val, WasDuplicate: !ranHere}, nil
	case <-timeoutCh:
		if g.logger != nil {
			g.logger.Warn("execution_wait_timed_out",
				"key", key,
				"timeout", timeout.String(),
			)
		}
		return nil, modelclient.NewPipelineTimeoutError(key, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ForceRegenerate evicts any cached result for key and detaches the key
// from its current flight, so the next ExecuteOnce triggers a fresh run.
func (g *Gate) ForceRegenerate(key string) {
	g.flights.Forget(key)
	g.mu.Lock()
	delete(g.cache, key)
	g.mu.Unlock()
	if g.logger != nil {
		g.logger.Info("forced_regeneration", "key", key)
	}
}

// InFlightCount returns the number of keys currently executing.
func (g *Gate) InFlightCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inFlight)
}

// CacheSize returns the number of unexpired cached results.
func (g *Gate) CacheSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	count := 0
	for _, entry := range g.cache {
		if entry.expiresAt.After(now) {
			count++
		}
	}
	return count
}

// CleanupExpired drops expired cache entries. Returns the number removed.
func (g *Gate) CleanupExpired() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	cleaned := 0
	for key, entry := range g.cache {
		if !entry.expiresAt.After(now) {
			delete(g.cache, key)
			cleaned++
		}
	}
	return cleaned
}

// StartCleanupLoop starts a background goroutine that periodically drops
// expired cache entries. Returns a stop function.
func (g *Gate) StartCleanupLoop(interval time.Duration) func() {
	if interval <= 0 {
		interval = g.ttl
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				if cleaned := g.CleanupExpired(); cleaned > 0 && g.logger != nil {
					g.logger.Debug("gate_cache_cleaned", "entries", cleaned)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}

// =============================================================================
// Internals
// =============================================================================

func (g *Gate) lookupCache(key string) (any, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.cache[key]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.After(g.now()) {
		delete(g.cache, key)
		return nil, false
	}
	return entry.value, true
}

func (g *Gate) storeCache(key string, value any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[key] = cacheEntry{value: value, expiresAt: g.now().Add(g.ttl)}
}

func (g *Gate) trackFlight(key string, active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if active {
		g.inFlight[key] = struct{}{}
	} else {
		delete(g.inFlight, key)
	}
}
