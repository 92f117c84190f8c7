// Package governor provides the unified entry point for verified model
// generation.
//
// The Governor composes:
//   - Gate (request deduplication with TTL result cache)
//   - Limiter (sliding-window admission per service)
//   - Orchestrator (secondary-model verification with PII safety pass)
//   - Coordinator (bounded retry with feedback-driven regeneration)
//   - Log (bounded, redacted audit trail)
//   - Bus (pipeline lifecycle events for metrics and probes)
//
// Usage:
//
//	gov, err := governor.New(primary, verifier, nil, logger)
//	stop := gov.StartCleanupLoop(0)
//	defer stop()
//
//	result, err := gov.GetVerifiedResult(ctx, governor.Request{
//	    Service: "cv_enhance",
//	    Prompt:  prompt,
//	})
package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/resumeforge/modelgate/audit"
	"github.com/resumeforge/modelgate/config"
	"github.com/resumeforge/modelgate/events"
	"github.com/resumeforge/modelgate/gate"
	"github.com/resumeforge/modelgate/modelclient"
	"github.com/resumeforge/modelgate/ratelimit"
	"github.com/resumeforge/modelgate/retry"
	"github.com/resumeforge/modelgate/verify"
)

var tracer = otel.Tracer("modelgate/governor")

// fingerprintNamespace keys deterministic request fingerprints.
var fingerprintNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// =============================================================================
// Request & Result
// =============================================================================

// Request asks for a verified generation.
type Request struct {
	// RequestID correlates logs, events, and audit records. Assigned
	// when empty.
	RequestID string `json:"request_id"`
	// Service names the downstream consumer (e.g. "cv_enhance").
	Service string `json:"service"`
	// Prompt is what the primary model generates from.
	Prompt string `json:"prompt"`
	// Params tunes primary generation.
	Params modelclient.GenerationParams `json:"params"`
	// Criteria selects and weights verification dimensions. Empty means
	// the default six.
	Criteria verify.Criteria `json:"criteria"`
	// ForceRegenerate bypasses deduplication and the result cache.
	ForceRegenerate bool `json:"force_regenerate"`
	// TimeoutMS bounds this caller's wait. Zero falls back to the
	// configured pipeline timeout. The execution itself is never
	// cancelled by a caller timeout.
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

// VerifiedResult is the pipeline's terminal answer. A failed
// verification is data here, not an error: FinalState and Result say
// what happened, and the caller decides whether to serve, block, or
// escalate.
type VerifiedResult struct {
	RequestID        string          `json:"request_id"`
	Service          string          `json:"service"`
	Response         string          `json:"response"`
	Verified         bool            `json:"verified"`
	Result           *verify.Result  `json:"result"`
	FinalState       retry.State     `json:"final_state"`
	Attempts         []retry.Attempt `json:"attempts,omitempty"`
	AuditID          string          `json:"audit_id"`
	WasDuplicate     bool            `json:"was_duplicate"`
	CacheHit         bool            `json:"cache_hit"`
	ProcessingTimeMS int64           `json:"processing_time_ms"`
}

// Err converts an unverified result into a typed error for callers that
// escalate instead of serving degraded output. Returns nil when the
// result is verified or parked for manual review.
func (r *VerifiedResult) Err() error {
	if r.Verified || r.FinalState == retry.StateManualReview {
		return nil
	}
	score := 0.0
	if r.Result != nil {
		score = r.Result.OverallScore
	}
	return &modelclient.VerificationFailure{
		Service:  r.Service,
		Score:    score,
		Attempts: len(r.Attempts) + 1,
	}
}

// =============================================================================
// Governor
// =============================================================================

// Governor is the central coordinator for verified generation.
type Governor struct {
	config       *config.GovernorConfig
	gate         *gate.Gate
	limiter      *ratelimit.Limiter
	orchestrator *verify.Orchestrator
	coordinator  *retry.Coordinator
	auditLog     *audit.Log
	bus          *events.Bus
	primary      modelclient.PrimaryClient
	logger       Logger

	startedAt time.Time
}

// New creates a governor. A nil cfg uses defaults; an invalid cfg is an
// error.
func New(
	primary modelclient.PrimaryClient,
	verifier modelclient.VerifierClient,
	cfg *config.GovernorConfig,
	logger Logger,
) (*Governor, error) {
	if cfg == nil {
		cfg = config.DefaultGovernorConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid governor config: %w", err)
	}
	if primary == nil || verifier == nil {
		return nil, fmt.Errorf("both primary and verifier clients are required")
	}

	orchestrator := verify.NewOrchestrator(verifier, cfg.VerifyConfig(), logger)
	limiterCfg := cfg.RateLimitConfig()

	g := &Governor{
		config:       cfg,
		gate:         gate.NewGate(cfg.DedupTTL(), logger),
		limiter:      ratelimit.NewLimiter(&limiterCfg, logger),
		orchestrator: orchestrator,
		coordinator:  retry.NewCoordinator(orchestrator, primary, cfg.RetryConfig(), logger),
		auditLog:     audit.NewLog(cfg.AuditCapacity, logger),
		bus:          events.NewBus(logger),
		primary:      primary,
		logger:       logger,
		startedAt:    time.Now().UTC(),
	}

	if logger != nil {
		logger.Info("governor_initialized",
			"score_threshold", cfg.ScoreThreshold,
			"max_retries", cfg.MaxRetries,
			"requests_per_window", cfg.RequestsPerWindow,
		)
	}
	return g, nil
}

// Events returns the pipeline event bus for listener registration.
func (g *Governor) Events() *events.Bus {
	return g.bus
}

// RateLimiter returns the admission limiter for per-service overrides.
func (g *Governor) RateLimiter() *ratelimit.Limiter {
	return g.limiter
}

// =============================================================================
// Pipeline
// =============================================================================

// GetVerifiedResult generates a response for the request and verifies it
// through the secondary model, retrying with feedback up to the
// configured budget.
//
// Identical concurrent requests share one execution; identical requests
// within the dedup TTL are served from cache. Admission is checked once
// per actual execution, not per caller.
func (g *Governor) GetVerifiedResult(ctx context.Context, req Request) (*VerifiedResult, error) {
	ctx, span := tracer.Start(ctx, "governor.GetVerifiedResult")
	defer span.End()

	if req.Service == "" {
		return nil, fmt.Errorf("service is required")
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if !req.Criteria.IsEmpty() {
		// Reject malformed criteria before spending any model budget.
		if err := req.Criteria.Validate(); err != nil {
			return nil, fmt.Errorf("invalid criteria: %w", err)
		}
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	span.SetAttributes(
		attribute.String("service", req.Service),
		attribute.String("request_id", req.RequestID),
	)

	key := Fingerprint(req.Service, req.Prompt, req.Params)
	if req.ForceRegenerate {
		g.gate.ForceRegenerate(key)
	}

	g.bus.Publish(ctx, events.New(events.TypeVerificationStarted, req.RequestID, req.Service, map[string]any{
		"fingerprint":      key,
		"force_regenerate": req.ForceRegenerate,
	}))

	timeout := g.config.PipelineTimeout()
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	start := time.Now()
	res, err := g.gate.ExecuteOnce(ctx, key, timeout, func(execCtx context.Context) (any, error) {
		return g.runPipeline(execCtx, req, key)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline execution failed")
		return nil, err
	}

	result, ok := res.Value.(*VerifiedResult)
	if !ok {
		return nil, fmt.Errorf("unexpected pipeline value %T", res.Value)
	}

	if res.WasDuplicate {
		// Copy the shared result so per-caller fields don't race.
		dup := *result
		dup.RequestID = req.RequestID
		dup.WasDuplicate = true
		dup.CacheHit = res.CacheHit
		dup.ProcessingTimeMS = time.Since(start).Milliseconds()
		g.bus.Publish(ctx, events.New(events.TypeVerificationCompleted, req.RequestID, req.Service, map[string]any{
			"final_outcome":      string(finalOutcome(dup.FinalState)),
			"overall_score":      overallScore(dup.Result),
			"processing_time_ms": dup.ProcessingTimeMS,
			"was_duplicate":      true,
			"cache_hit":          res.CacheHit,
		}))
		return &dup, nil
	}
	return result, nil
}

// runPipeline is the factory executed exactly once per fingerprint:
// admission, generation, verification with retry, audit.
func (g *Governor) runPipeline(ctx context.Context, req Request, key string) (*VerifiedResult, error) {
	start := time.Now()

	if !g.limiter.TryAcquire(req.Service) {
		g.bus.Publish(ctx, events.New(events.TypeRateLimitRejected, req.RequestID, req.Service, map[string]any{
			"limit": g.limiter.Limit(req.Service),
		}))
		return nil, modelclient.NewInternalRateLimitError(req.Service, g.limiter.Limit(req.Service))
	}

	initial, err := safeExecuteWithResult(g.logger, "primary.Generate", func() (string, error) {
		return g.primary.Generate(ctx, req.Prompt, req.Params)
	})
	if err != nil {
		if isPanicError(err) {
			g.recordPanic(req, "", err, start)
		}
		return nil, err
	}

	outcome, err := safeExecuteWithResult(g.logger, "retry.VerifyWithRetry", func() (*retry.Outcome, error) {
		return g.coordinator.VerifyWithRetry(ctx, req.Service, req.Prompt, initial, req.Criteria)
	})
	if err != nil {
		if isPanicError(err) {
			g.recordPanic(req, initial, err, start)
			return nil, err
		}
		if modelclient.KindOf(err) == modelclient.KindFatal {
			return nil, err
		}
		// Transport budget exhausted: the candidate exists but could not
		// be judged, so park it for a human instead of failing the call.
		if outcome == nil {
			outcome = &retry.Outcome{FinalResponse: initial}
		}
		outcome.FinalState = retry.StateManualReview
		if g.logger != nil {
			g.logger.Warn("verification_degraded_to_manual_review",
				"request_id", req.RequestID,
				"service", req.Service,
				"error", err.Error(),
			)
		}
	}

	for _, attempt := range outcome.Attempts {
		g.bus.Publish(ctx, events.New(events.TypeAttemptCompleted, req.RequestID, req.Service, map[string]any{
			"attempt":        attempt.Number,
			"reason":         attempt.Reason,
			"carried_issues": len(attempt.CarriedIssues),
		}))
		g.bus.Publish(ctx, events.New(events.TypeRetryScheduled, req.RequestID, req.Service, map[string]any{
			"attempt": attempt.Number,
			"reason":  attempt.Reason,
		}))
	}

	result := &VerifiedResult{
		RequestID:        req.RequestID,
		Service:          req.Service,
		Response:         outcome.FinalResponse,
		Verified:         outcome.Verified,
		Result:           outcome.Result,
		FinalState:       outcome.FinalState,
		Attempts:         outcome.Attempts,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}

	result.AuditID = g.auditLog.Record(audit.Entry{
		RequestID:             req.RequestID,
		Service:               req.Service,
		Prompt:                req.Prompt,
		Response:              outcome.FinalResponse,
		Result:                outcome.Result,
		RetryAttempts:         outcome.Attempts,
		FinalOutcome:          finalOutcome(outcome.FinalState),
		TotalProcessingTimeMS: result.ProcessingTimeMS,
	})

	g.bus.Publish(ctx, events.New(events.TypeAuditRecorded, req.RequestID, req.Service, map[string]any{
		"audit_id":      result.AuditID,
		"final_outcome": string(finalOutcome(outcome.FinalState)),
	}))
	g.bus.Publish(ctx, events.New(events.TypeVerificationCompleted, req.RequestID, req.Service, map[string]any{
		"final_outcome":      string(finalOutcome(outcome.FinalState)),
		"overall_score":      overallScore(outcome.Result),
		"processing_time_ms": result.ProcessingTimeMS,
		"was_duplicate":      false,
		"cache_hit":          false,
	}))

	return result, nil
}

// recordPanic leaves an audit trail for a recovered pipeline panic. The
// record carries a critical safety issue so it surfaces in the issue
// breakdown.
func (g *Governor) recordPanic(req Request, response string, err error, start time.Time) {
	g.auditLog.Record(audit.Entry{
		RequestID: req.RequestID,
		Service:   req.Service,
		Prompt:    req.Prompt,
		Response:  response,
		Result: &verify.Result{
			Recommendation: verify.RecommendationManualReview,
			Issues: []verify.Issue{{
				Category:    "safety",
				Severity:    verify.SeverityCritical,
				Description: "pipeline execution aborted: " + err.Error(),
			}},
		},
		FinalOutcome:          audit.OutcomeRejected,
		TotalProcessingTimeMS: time.Since(start).Milliseconds(),
	})
}

// =============================================================================
// Introspection
// =============================================================================

// GetStats returns aggregate pipeline statistics.
func (g *Governor) GetStats() map[string]any {
	auditStats := g.auditLog.GetStats()
	return map[string]any{
		"total_verifications":        auditStats.TotalVerifications,
		"success_rate":               auditStats.SuccessRate,
		"average_score":              auditStats.AverageScore,
		"average_processing_time_ms": auditStats.AverageProcessingTimeMS,
		"issue_breakdown":            auditStats.IssueBreakdown,
		"in_flight":                  g.gate.InFlightCount(),
		"cached_results":             g.gate.CacheSize(),
		"uptime_seconds":             time.Since(g.startedAt).Seconds(),
	}
}

// GetAuditLogs returns up to limit recent audit records, newest first.
func (g *Governor) GetAuditLogs(limit int) []audit.Record {
	return g.auditLog.GetAuditLogs(limit)
}

// GetUsage returns the admission window occupancy for a service.
func (g *Governor) GetUsage(service string) ratelimit.Usage {
	return g.limiter.GetUsage(service)
}

// StartCleanupLoop starts a background goroutine that periodically drops
// expired dedup cache entries and idle rate windows. Returns a stop
// function. Non-positive interval defaults to one minute.
func (g *Governor) StartCleanupLoop(interval time.Duration) func() {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				g.runCleanupCycle()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}

// runCleanupCycle performs a single cleanup cycle with panic recovery.
func (g *Governor) runCleanupCycle() {
	defer func() {
		if r := recover(); r != nil {
			if g.logger != nil {
				g.logger.Error("cleanup_panic_recovered", "error", r)
			}
		}
	}()

	gateCleaned := g.gate.CleanupExpired()
	windowsCleaned := g.limiter.CleanupExpired()

	if g.logger != nil {
		g.logger.Debug("governor_cleanup_completed",
			"cache_entries_cleaned", gateCleaned,
			"rate_windows_cleaned", windowsCleaned,
		)
	}
}

// =============================================================================
// Helpers
// =============================================================================

// Fingerprint derives the deterministic deduplication key for a request.
// Params participate so differently-tuned generations never collide.
func Fingerprint(service, prompt string, params modelclient.GenerationParams) string {
	material := fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%s\x00%v",
		service, prompt,
		derefOr(params.Temperature, "-"),
		derefOr(params.MaxTokens, "-"),
		derefOr(params.TopP, "-"),
		params.Stop)
	return uuid.NewSHA1(fingerprintNamespace, []byte(material)).String()
}

// derefOr formats a pointer's value, or the fallback when nil.
func derefOr[T any](p *T, fallback string) string {
	if p == nil {
		return fallback
	}
	return fmt.Sprintf("%v", *p)
}

func finalOutcome(state retry.State) audit.Outcome {
	switch state {
	case retry.StateApproved:
		return audit.OutcomeApproved
	case retry.StateManualReview:
		return audit.OutcomeManualReview
	default:
		return audit.OutcomeRejected
	}
}

func overallScore(result *verify.Result) float64 {
	if result == nil {
		return 0
	}
	return result.OverallScore
}
