package observability

import (
	"context"

	"github.com/resumeforge/modelgate/events"
	"github.com/resumeforge/modelgate/typeutil"
)

// MetricsListener translates pipeline events into Prometheus metrics, so
// the pipeline itself never touches metric vars directly.
type MetricsListener struct {
	unsubscribes []func()
}

// NewMetricsListener subscribes metric recorders on the bus.
func NewMetricsListener(bus *events.Bus) *MetricsListener {
	l := &MetricsListener{}
	l.unsubscribes = append(l.unsubscribes,
		bus.Subscribe(events.TypeVerificationCompleted, l.onCompleted),
		bus.Subscribe(events.TypeRetryScheduled, l.onRetry),
		bus.Subscribe(events.TypeRateLimitRejected, l.onRateLimitRejected),
	)
	return l
}

// Close detaches the listener from the bus.
func (l *MetricsListener) Close() {
	for _, unsubscribe := range l.unsubscribes {
		unsubscribe()
	}
	l.unsubscribes = nil
}

func (l *MetricsListener) onCompleted(ctx context.Context, event events.Event) error {
	// Duplicate serves count as dedup hits, not as fresh pipeline runs.
	if typeutil.SafeBoolDefault(event.Data["was_duplicate"], false) {
		source := "in_flight"
		if typeutil.SafeBoolDefault(event.Data["cache_hit"], false) {
			source = "cache"
		}
		RecordDedupHit(event.Service, source)
		return nil
	}

	outcome := typeutil.SafeStringDefault(event.Data["final_outcome"], "error")
	score := typeutil.SafeFloat64Default(event.Data["overall_score"], 0)
	durationMS := typeutil.SafeIntDefault(event.Data["processing_time_ms"], 0)
	RecordVerification(event.Service, outcome, score, int64(durationMS))
	return nil
}

func (l *MetricsListener) onRetry(ctx context.Context, event events.Event) error {
	reason := typeutil.SafeStringDefault(event.Data["reason"], "low_score")
	RecordRetry(event.Service, reason)
	return nil
}

func (l *MetricsListener) onRateLimitRejected(ctx context.Context, event events.Event) error {
	RecordRateLimitRejection(event.Service)
	return nil
}
