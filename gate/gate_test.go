package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/resumeforge/modelgate/modelclient"
)

// =============================================================================
// Deduplication Tests
// =============================================================================

func TestExecuteOnce_ConcurrentCallersShareOneExecution(t *testing.T) {
	g := NewGate(time.Minute, nil)

	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})

	factory := func(ctx context.Context) (any, error) {
		calls.Add(1)
		close(started)
		<-release
		return "generated", nil
	}

	const callers = 5
	results := make([]*Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.ExecuteOnce(context.Background(), "fp-1", 0, factory)
		}(i)
	}

	<-started
	// All five callers are either in flight or queued on the same key.
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("expected exactly 1 factory call, got %d", n)
	}
	originators := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if results[i].Value != "generated" {
			t.Errorf("caller %d: unexpected value %v", i, results[i].Value)
		}
		if !results[i].WasDuplicate {
			originators++
		}
	}
	if originators != 1 {
		t.Errorf("expected exactly 1 non-duplicate caller, got %d", originators)
	}
}

// Hammers the boundary where a flight settles (result cached, key
// forgotten) while late callers race past their cache miss: the factory
// must still run exactly once per key within the TTL window.
func TestExecuteOnce_ExactlyOnceAcrossFlightSettle(t *testing.T) {
	g := NewGate(time.Minute, nil)

	const rounds = 300
	const callers = 20

	for r := 0; r < rounds; r++ {
		key := fmt.Sprintf("fp-settle-%d", r)
		var calls atomic.Int32
		var originators atomic.Int32
		factory := func(ctx context.Context) (any, error) {
			calls.Add(1)
			return "v", nil
		}

		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := g.ExecuteOnce(context.Background(), key, 0, factory)
				if err != nil {
					t.Errorf("round %d: unexpected error: %v", r, err)
					return
				}
				if !res.WasDuplicate {
					originators.Add(1)
				}
			}()
		}
		wg.Wait()

		if n := calls.Load(); n != 1 {
			t.Fatalf("round %d: expected exactly 1 factory call, got %d", r, n)
		}
		if n := originators.Load(); n != 1 {
			t.Fatalf("round %d: expected exactly 1 non-duplicate caller, got %d", r, n)
		}
	}
}

func TestExecuteOnce_DistinctKeysRunIndependently(t *testing.T) {
	g := NewGate(time.Minute, nil)

	var calls atomic.Int32
	factory := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "v", nil
	}

	if _, err := g.ExecuteOnce(context.Background(), "fp-a", 0, factory); err != nil {
		t.Fatal(err)
	}
	if _, err := g.ExecuteOnce(context.Background(), "fp-b", 0, factory); err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("expected 2 factory calls for distinct keys, got %d", n)
	}
}

// =============================================================================
// Cache Tests
// =============================================================================

func TestExecuteOnce_ServesCachedResultWithinTTL(t *testing.T) {
	g := NewGate(time.Minute, nil)

	var calls atomic.Int32
	factory := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "cached-value", nil
	}

	first, err := g.ExecuteOnce(context.Background(), "fp-1", 0, factory)
	if err != nil {
		t.Fatal(err)
	}
	if first.WasDuplicate || first.CacheHit {
		t.Errorf("first call should be a fresh execution: %+v", first)
	}

	second, err := g.ExecuteOnce(context.Background(), "fp-1", 0, factory)
	if err != nil {
		t.Fatal(err)
	}
	if !second.WasDuplicate || !second.CacheHit {
		t.Errorf("second call should hit the cache: %+v", second)
	}
	if second.Value != "cached-value" {
		t.Errorf("unexpected cached value %v", second.Value)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 factory call, got %d", n)
	}
}

func TestExecuteOnce_CacheExpiresAfterTTL(t *testing.T) {
	g := NewGate(30*time.Second, nil)
	current := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	g.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	var calls atomic.Int32
	factory := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "v", nil
	}

	g.ExecuteOnce(context.Background(), "fp-1", 0, factory)

	mu.Lock()
	current = current.Add(31 * time.Second)
	mu.Unlock()

	res, err := g.ExecuteOnce(context.Background(), "fp-1", 0, factory)
	if err != nil {
		t.Fatal(err)
	}
	if res.CacheHit {
		t.Error("expired entry should not be served")
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("expected re-execution after expiry, got %d calls", n)
	}
}

func TestExecuteOnce_ErrorsAreNotCached(t *testing.T) {
	g := NewGate(time.Minute, nil)

	var calls atomic.Int32
	factory := func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("flaky upstream")
		}
		return "ok", nil
	}

	if _, err := g.ExecuteOnce(context.Background(), "fp-1", 0, factory); err == nil {
		t.Fatal("expected error from first call")
	}
	res, err := g.ExecuteOnce(context.Background(), "fp-1", 0, factory)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "ok" || res.CacheHit {
		t.Errorf("failed execution should not be cached: %+v", res)
	}
}

// =============================================================================
// Timeout Tests
// =============================================================================

func TestExecuteOnce_TimeoutAbandonsWaitNotWork(t *testing.T) {
	g := NewGate(time.Minute, nil)

	release := make(chan struct{})
	var calls atomic.Int32
	factory := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "late-value", nil
	}

	_, err := g.ExecuteOnce(context.Background(), "fp-1", 10*time.Millisecond, factory)
	var timeoutErr *modelclient.PipelineTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected PipelineTimeoutError, got %v", err)
	}
	if timeoutErr.Key != "fp-1" {
		t.Errorf("expected key fp-1 on error, got %q", timeoutErr.Key)
	}

	// The execution keeps running and lands in the cache.
	close(release)
	deadline := time.After(2 * time.Second)
	for g.CacheSize() == 0 {
		select {
		case <-deadline:
			t.Fatal("background execution never populated the cache")
		case <-time.After(5 * time.Millisecond):
		}
	}

	res, err := g.ExecuteOnce(context.Background(), "fp-1", 0, factory)
	if err != nil {
		t.Fatal(err)
	}
	if !res.CacheHit || res.Value != "late-value" {
		t.Errorf("expected cached background result, got %+v", res)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 factory call, got %d", n)
	}
}

func TestExecuteOnce_CallerCancellationDoesNotCancelWork(t *testing.T) {
	g := NewGate(time.Minute, nil)

	observed := make(chan error, 1)
	factory := func(ctx context.Context) (any, error) {
		time.Sleep(20 * time.Millisecond)
		observed <- ctx.Err()
		return "v", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	if _, err := g.ExecuteOnce(ctx, "fp-1", 0, factory); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := <-observed; err != nil {
		t.Errorf("factory context should be detached from the caller, got %v", err)
	}
}

// =============================================================================
// Regeneration & Bookkeeping Tests
// =============================================================================

func TestForceRegenerate_BypassesCache(t *testing.T) {
	g := NewGate(time.Minute, nil)

	var calls atomic.Int32
	factory := func(ctx context.Context) (any, error) {
		return calls.Add(1), nil
	}

	g.ExecuteOnce(context.Background(), "fp-1", 0, factory)
	g.ForceRegenerate("fp-1")

	res, err := g.ExecuteOnce(context.Background(), "fp-1", 0, factory)
	if err != nil {
		t.Fatal(err)
	}
	if res.CacheHit {
		t.Error("forced regeneration should bypass the cache")
	}
	if res.Value != int32(2) {
		t.Errorf("expected fresh execution value 2, got %v", res.Value)
	}
}

func TestInFlightCount(t *testing.T) {
	g := NewGate(time.Minute, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	factory := func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return "v", nil
	}

	go g.ExecuteOnce(context.Background(), "fp-1", 0, factory)
	<-started

	if n := g.InFlightCount(); n != 1 {
		t.Errorf("expected 1 in-flight key, got %d", n)
	}
	close(release)

	deadline := time.After(2 * time.Second)
	for g.InFlightCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("in-flight count never drained")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCleanupExpired(t *testing.T) {
	g := NewGate(30*time.Second, nil)
	current := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	g.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	factory := func(ctx context.Context) (any, error) { return "v", nil }
	g.ExecuteOnce(context.Background(), "fp-1", 0, factory)
	g.ExecuteOnce(context.Background(), "fp-2", 0, factory)

	if cleaned := g.CleanupExpired(); cleaned != 0 {
		t.Errorf("fresh entries should not be cleaned, got %d", cleaned)
	}

	mu.Lock()
	current = current.Add(31 * time.Second)
	mu.Unlock()

	if cleaned := g.CleanupExpired(); cleaned != 2 {
		t.Errorf("expected 2 cleaned entries, got %d", cleaned)
	}
	if g.CacheSize() != 0 {
		t.Errorf("cache should be empty, got %d", g.CacheSize())
	}
}
