package events

import (
	"context"
)

// LoggingMiddleware logs all event traffic through the bus.
type LoggingMiddleware struct {
	logger Logger
}

// NewLoggingMiddleware creates a LoggingMiddleware.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Before logs event receipt.
func (m *LoggingMiddleware) Before(ctx context.Context, event Event) (Event, bool) {
	if m.logger != nil {
		m.logger.Debug("event_published",
			"type", event.Type,
			"request_id", event.RequestID,
			"service", event.Service,
		)
	}
	return event, true
}

// After logs fan-out completion.
func (m *LoggingMiddleware) After(ctx context.Context, event Event, err error) {
	if err != nil && m.logger != nil {
		m.logger.Warn("event_fanout_failed",
			"type", event.Type,
			"error", err.Error(),
		)
	}
}

var _ Middleware = (*LoggingMiddleware)(nil)
