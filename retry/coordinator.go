// Package retry drives bounded verification attempts, feeding verifier
// feedback back into regeneration of the primary model's response.
//
// State machine:
//
//	PENDING -> VERIFYING -> (APPROVED | RETRYING | REJECTED | MANUAL_REVIEW)
//	RETRYING -> VERIFYING
//
// Failure semantics: a verification failure is never silently dropped.
// The outcome always carries the last result, the attempt history, and
// the final response so the caller can serve it unverified, block it, or
// queue it for human review.
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/resumeforge/modelgate/modelclient"
	"github.com/resumeforge/modelgate/verify"
)

var tracer = otel.Tracer("modelgate/retry")

// Logger is the interface for logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// =============================================================================
// STATES
// =============================================================================

// State is the coordinator's position in the verification lifecycle.
type State string

const (
	StatePending      State = "pending"
	StateVerifying    State = "verifying"
	StateApproved     State = "approved"
	StateRetrying     State = "retrying"
	StateRejected     State = "rejected"
	StateManualReview State = "manual_review"
)

// IsTerminal returns true if this is a terminal state.
func (s State) IsTerminal() bool {
	return s == StateApproved || s == StateRejected || s == StateManualReview
}

// =============================================================================
// ATTEMPTS
// =============================================================================

// Retry reasons recorded on attempts.
const (
	ReasonLowScore       = "low_score"
	ReasonTransportError = "transport_error"
)

// Attempt records one retry decision. Append-only during the loop's own
// execution, immutable afterwards.
type Attempt struct {
	Number        int            `json:"attempt_number"`
	Timestamp     time.Time      `json:"timestamp"`
	Reason        string         `json:"reason"`
	CarriedIssues []verify.Issue `json:"carried_issues,omitempty"`
}

// Outcome is the terminal result of a verify-with-retry loop.
type Outcome struct {
	Verified      bool           `json:"verified"`
	Result        *verify.Result `json:"result"`
	FinalResponse string         `json:"final_response"`
	FinalState    State          `json:"final_state"`
	Attempts      []Attempt      `json:"attempts,omitempty"`
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Config holds retry loop parameters.
type Config struct {
	// MaxRetries is the maximum number of verification attempts.
	MaxRetries int `json:"max_retries"`
	// BaseDelay is the delay before attempt n+1, scaled linearly:
	// BaseDelay * attemptNumber.
	BaseDelay time.Duration `json:"base_delay"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
	}
}

// Verifier scores a candidate response. Implemented by
// *verify.Orchestrator.
type Verifier interface {
	Verify(ctx context.Context, req verify.Request) (*verify.Result, error)
}

// Coordinator runs the bounded verification loop for one candidate
// response, regenerating through the primary model between attempts.
type Coordinator struct {
	verifier Verifier
	primary  modelclient.PrimaryClient
	config   Config
	logger   Logger

	// sleep is replaceable in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator creates a retry coordinator.
func NewCoordinator(verifier Verifier, primary modelclient.PrimaryClient, config Config, logger Logger) *Coordinator {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultConfig().MaxRetries
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = DefaultConfig().BaseDelay
	}
	return &Coordinator{
		verifier: verifier,
		primary:  primary,
		config:   config,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// VerifyWithRetry runs up to MaxRetries verification attempts on the
// initial response, regenerating with accumulated feedback between
// attempts.
//
// Transport errors from either model are retry triggers while budget
// remains; once exhausted, the last one is surfaced as the loop's
// terminal error alongside the outcome. Fatal-kind errors (vendor quota)
// abort immediately.
func (c *Coordinator) VerifyWithRetry(
	ctx context.Context,
	service, originalPrompt, initialResponse string,
	criteria verify.Criteria,
) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "retry.VerifyWithRetry")
	defer span.End()
	span.SetAttributes(attribute.String("service", service))

	outcome := &Outcome{
		FinalResponse: initialResponse,
		FinalState:    StatePending,
	}
	var history []string
	currentResponse := initialResponse
	var lastErr error

	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		outcome.FinalState = StateVerifying

		result, err := c.verifier.Verify(ctx, verify.Request{
			Service:           service,
			OriginalPrompt:    originalPrompt,
			CandidateResponse: currentResponse,
			History:           history,
			Criteria:          criteria,
		})
		outcome.Result = result
		outcome.FinalResponse = currentResponse

		if err != nil {
			if modelclient.KindOf(err) == modelclient.KindFatal {
				outcome.FinalState = StateRejected
				span.RecordError(err)
				span.SetStatus(codes.Error, "fatal error during verification")
				return outcome, err
			}
			lastErr = err
			if attempt >= c.config.MaxRetries {
				break
			}
			c.recordAttempt(outcome, attempt, ReasonTransportError, nil)
			if serr := c.backoff(ctx, attempt); serr != nil {
				outcome.FinalState = StateRejected
				return outcome, serr
			}
			// Same response, fresh verification attempt.
			continue
		}
		lastErr = nil

		if result.Recommendation == verify.RecommendationApprove {
			outcome.Verified = true
			outcome.FinalState = StateApproved
			span.SetAttributes(attribute.Int("attempts_used", attempt))
			if c.logger != nil {
				c.logger.Info("verification_approved",
					"service", service,
					"attempt", attempt,
					"overall_score", result.OverallScore,
				)
			}
			return outcome, nil
		}

		if attempt >= c.config.MaxRetries {
			break
		}

		outcome.FinalState = StateRetrying
		carried := result.IssuesAtLeast(verify.SeverityHigh)
		c.recordAttempt(outcome, attempt, ReasonLowScore, carried)

		if c.logger != nil {
			c.logger.Info("verification_retry_scheduled",
				"service", service,
				"attempt", attempt,
				"overall_score", result.OverallScore,
				"recommendation", string(result.Recommendation),
			)
		}

		if serr := c.backoff(ctx, attempt); serr != nil {
			outcome.FinalState = StateRejected
			return outcome, serr
		}

		regenPrompt := buildRegenerationPrompt(originalPrompt, currentResponse, result)
		regenerated, gerr := c.primary.Generate(ctx, regenPrompt, modelclient.GenerationParams{})
		if gerr != nil {
			if modelclient.KindOf(gerr) == modelclient.KindFatal {
				outcome.FinalState = StateRejected
				span.RecordError(gerr)
				span.SetStatus(codes.Error, "fatal error during regeneration")
				return outcome, gerr
			}
			// Transport failure on regeneration: the next attempt
			// re-verifies the response we already have.
			lastErr = gerr
			if c.logger != nil {
				c.logger.Warn("regeneration_failed",
					"service", service,
					"attempt", attempt,
					"error", gerr.Error(),
				)
			}
			continue
		}

		history = append(history, currentResponse)
		currentResponse = regenerated
	}

	// Budget exhausted.
	if lastErr != nil {
		outcome.FinalState = StateRejected
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, "attempts exhausted on transport errors")
		return outcome, lastErr
	}

	if outcome.Result != nil && outcome.Result.Recommendation == verify.RecommendationManualReview {
		outcome.FinalState = StateManualReview
	} else {
		outcome.FinalState = StateRejected
	}
	if c.logger != nil {
		c.logger.Warn("verification_exhausted",
			"service", service,
			"max_retries", c.config.MaxRetries,
			"final_state", string(outcome.FinalState),
		)
	}
	return outcome, nil
}

// recordAttempt appends to the attempt history. len(Attempts) stays
// strictly below MaxRetries: only non-terminal attempts are recorded.
func (c *Coordinator) recordAttempt(outcome *Outcome, number int, reason string, carried []verify.Issue) {
	outcome.Attempts = append(outcome.Attempts, Attempt{
		Number:        number,
		Timestamp:     time.Now().UTC(),
		Reason:        reason,
		CarriedIssues: carried,
	})
}

// backoff sleeps BaseDelay * attempt (linear escalation), honoring ctx.
func (c *Coordinator) backoff(ctx context.Context, attempt int) error {
	return c.sleep(ctx, c.config.BaseDelay*time.Duration(attempt))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// REGENERATION PROMPT
// =============================================================================

// buildRegenerationPrompt embeds every critical and high severity issue,
// plus the verifier's free-form feedback, into a fresh generation prompt.
func buildRegenerationPrompt(originalPrompt, previousResponse string, result *verify.Result) string {
	var b strings.Builder

	b.WriteString(originalPrompt)
	b.WriteString("\n\nYour previous answer was rejected by a quality review. Produce a corrected answer.\n")

	fmt.Fprintf(&b, "\n## Previous answer\n%s\n", previousResponse)

	issues := result.IssuesAtLeast(verify.SeverityHigh)
	if len(issues) > 0 {
		b.WriteString("\n## Problems to fix\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "- [%s/%s] %s", issue.Category, issue.Severity, issue.Description)
			if issue.Suggestion != "" {
				fmt.Fprintf(&b, " (suggestion: %s)", issue.Suggestion)
			}
			b.WriteString("\n")
		}
	}

	if result.Feedback != "" {
		fmt.Fprintf(&b, "\n## Reviewer feedback\n%s\n", result.Feedback)
	}

	b.WriteString("\nAddress every listed problem. Do not repeat rejected content.\n")
	return b.String()
}
