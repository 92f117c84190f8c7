package modelclient

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// ErrorKind classifies an error for retry decisions.
//
// The retry coordinator branches on kind, never on message text or
// vendor status codes.
type ErrorKind string

const (
	// KindRetryable indicates a transient failure; the retry loop may
	// regenerate and try again while attempt budget remains.
	KindRetryable ErrorKind = "retryable"
	// KindFatal indicates the call must not be retried by the pipeline;
	// the error propagates to the caller unchanged.
	KindFatal ErrorKind = "fatal"
)

// Kinder is implemented by errors that carry an explicit kind.
type Kinder interface {
	Kind() ErrorKind
}

// KindOf returns the kind of err. Errors that do not declare a kind are
// treated as retryable: anything untyped coming out of a model client is
// transport-shaped, and the loop's attempt budget still bounds it.
func KindOf(err error) ErrorKind {
	var k Kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindRetryable
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// TransportError wraps a network or timeout failure talking to a model.
type TransportError struct {
	Op    string // "generate" or "judge"
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("model transport failed during %s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Kind returns KindRetryable.
func (e *TransportError) Kind() ErrorKind { return KindRetryable }

// NewTransportError creates a new TransportError.
func NewTransportError(op string, cause error) *TransportError {
	return &TransportError{Op: op, Cause: cause}
}

// VendorRateLimitError indicates the downstream vendor rejected the call
// with a quota error. Distinguishable from content-quality failures so the
// retry loop never burns attempts on it.
type VendorRateLimitError struct {
	Service    string
	RetryAfter time.Duration // zero when the vendor gave no hint
	Cause      error
}

func (e *VendorRateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("vendor rate limit hit for %s, retry after %s", e.Service, e.RetryAfter)
	}
	return fmt.Sprintf("vendor rate limit hit for %s", e.Service)
}

func (e *VendorRateLimitError) Unwrap() error { return e.Cause }

// Kind returns KindFatal.
func (e *VendorRateLimitError) Kind() ErrorKind { return KindFatal }

// NewVendorRateLimitError creates a new VendorRateLimitError.
func NewVendorRateLimitError(service string, retryAfter time.Duration, cause error) *VendorRateLimitError {
	return &VendorRateLimitError{Service: service, RetryAfter: retryAfter, Cause: cause}
}

// InternalRateLimitError indicates the local limiter rejected the call
// at admission time. The caller owns backoff.
type InternalRateLimitError struct {
	Service string
	Limit   int
}

func (e *InternalRateLimitError) Error() string {
	return fmt.Sprintf("local rate limit exceeded for %s (limit %d/min)", e.Service, e.Limit)
}

// Kind returns KindFatal.
func (e *InternalRateLimitError) Kind() ErrorKind { return KindFatal }

// NewInternalRateLimitError creates a new InternalRateLimitError.
func NewInternalRateLimitError(service string, limit int) *InternalRateLimitError {
	return &InternalRateLimitError{Service: service, Limit: limit}
}

// ParseError indicates the verifier reply was not strict structured data.
// The orchestrator degrades this locally to a manual_review result; it
// never crosses the Verify boundary.
type ParseError struct {
	Reason string
	Cause  error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("verifier reply not parseable: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("verifier reply not parseable: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Kind returns KindFatal.
func (e *ParseError) Kind() ErrorKind { return KindFatal }

// NewParseError creates a new ParseError.
func NewParseError(reason string, cause error) *ParseError {
	return &ParseError{Reason: reason, Cause: cause}
}

// PipelineTimeoutError is returned to a caller whose wait deadline elapsed.
// The underlying execution keeps running and still populates the cache.
type PipelineTimeoutError struct {
	Key     string
	Timeout time.Duration
}

func (e *PipelineTimeoutError) Error() string {
	return fmt.Sprintf("pipeline wait for %q timed out after %s (execution continues in background)", e.Key, e.Timeout)
}

// Kind returns KindFatal.
func (e *PipelineTimeoutError) Kind() ErrorKind { return KindFatal }

// NewPipelineTimeoutError creates a new PipelineTimeoutError.
func NewPipelineTimeoutError(key string, timeout time.Duration) *PipelineTimeoutError {
	return &PipelineTimeoutError{Key: key, Timeout: timeout}
}

// VerificationFailure reports that retries were exhausted below threshold.
// The pipeline returns this as data (Verified=false on the outcome), not
// as an error; the type exists for callers that choose to escalate an
// unverified result into their own error flow.
type VerificationFailure struct {
	Service  string
	Score    float64
	Attempts int
}

func (e *VerificationFailure) Error() string {
	return fmt.Sprintf("verification failed for %s after %d attempts (score %.1f)", e.Service, e.Attempts, e.Score)
}

// Kind returns KindFatal.
func (e *VerificationFailure) Kind() ErrorKind { return KindFatal }
