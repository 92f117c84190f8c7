package events

import (
	"context"
	"sync"
)

// HandlerFunc processes one event. Errors are collected by the bus and
// reported through the logger; they never stop other handlers.
type HandlerFunc func(ctx context.Context, event Event) error

// Middleware intercepts events before and after fan-out for
// cross-cutting concerns.
type Middleware interface {
	// Before may rewrite the event. Returning ok=false aborts publication.
	Before(ctx context.Context, event Event) (Event, bool)
	// After observes the outcome of fan-out.
	After(ctx context.Context, event Event, err error)
}

// Logger is the interface for logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// subscription pairs a handler with a removable identity. Handlers are
// tracked by id because func values are not comparable.
type subscription struct {
	id      uint64
	handler HandlerFunc
}

// Bus is a thread-safe, in-memory event bus.
//
// Features:
//   - Event fan-out to multiple subscribers, concurrently
//   - Wildcard subscriptions for audit-everything listeners
//   - Middleware chain run before and after fan-out
//   - Per-subscriber panic isolation
//
// Usage:
//
//	bus := NewBus(logger)
//	unsubscribe := bus.Subscribe(TypeVerificationCompleted, metricsHandler)
//	bus.Publish(ctx, New(TypeVerificationCompleted, requestID, service, data))
type Bus struct {
	subscribers map[string][]subscription
	middleware  []Middleware
	nextID      uint64
	logger      Logger
	mu          sync.RWMutex
}

// NewBus creates an event bus.
func NewBus(logger Logger) *Bus {
	return &Bus{
		subscribers: make(map[string][]subscription),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type (or TypeWildcard).
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType string, handler HandlerFunc) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, s := range subs {
			if s.id == id {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// AddMiddleware appends middleware, executed in registration order on
// Before and reverse order on After.
func (b *Bus) AddMiddleware(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw)
}

// Publish fans the event out to all matching subscribers concurrently
// and waits for them. A panicking or failing subscriber never affects
// the others; the first failure is reported to After middleware.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	middleware := make([]Middleware, len(b.middleware))
	copy(middleware, b.middleware)
	matched := make([]subscription, 0, len(b.subscribers[event.Type])+len(b.subscribers[TypeWildcard]))
	matched = append(matched, b.subscribers[event.Type]...)
	matched = append(matched, b.subscribers[TypeWildcard]...)
	b.mu.RUnlock()

	for _, mw := range middleware {
		processed, ok := mw.Before(ctx, event)
		if !ok {
			if b.logger != nil {
				b.logger.Debug("event_aborted_by_middleware", "type", event.Type)
			}
			return
		}
		event = processed
	}

	var wg sync.WaitGroup
	errs := make([]error, len(matched))
	for i, sub := range matched {
		wg.Add(1)
		go func(idx int, s subscription) {
			defer wg.Done()
			errs[idx] = b.dispatch(ctx, s, event)
		}(i, sub)
	}
	wg.Wait()

	var firstErr error
	for _, err := range errs {
		if err != nil {
			firstErr = err
			break
		}
	}
	for i := len(middleware) - 1; i >= 0; i-- {
		middleware[i].After(ctx, event, firstErr)
	}
}

// dispatch runs one handler with panic recovery.
func (b *Bus) dispatch(ctx context.Context, sub subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if b.logger != nil {
				b.logger.Error("event_handler_panic",
					"type", event.Type,
					"panic", r,
				)
			}
		}
	}()

	if err = sub.handler(ctx, event); err != nil && b.logger != nil {
		b.logger.Warn("event_handler_failed",
			"type", event.Type,
			"error", err.Error(),
		)
	}
	return err
}

// SubscriberCount returns the number of handlers registered for a type.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[eventType])
}

// Clear removes all subscribers and middleware. Useful for testing.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string][]subscription)
	b.middleware = nil
}
