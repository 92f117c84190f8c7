// Package events provides the in-process event stream for the
// verification pipeline.
//
// Every stage of a pipeline run emits an Event; listeners (metrics,
// logging, test probes) subscribe by type without coupling the pipeline
// to them.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the pipeline.
const (
	TypeVerificationStarted   = "VerificationStarted"
	TypeAttemptCompleted      = "AttemptCompleted"
	TypeRetryScheduled        = "RetryScheduled"
	TypeVerificationCompleted = "VerificationCompleted"
	TypeAuditRecorded         = "AuditRecorded"
	TypeRateLimitRejected     = "RateLimitRejected"
)

// TypeWildcard subscribes a handler to every event type.
const TypeWildcard = "*"

// Event is one pipeline lifecycle notification. Payload fields specific
// to the event type live in Data.
type Event struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	Service   string         `json:"service,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// New creates an event with a fresh id and timestamp.
func New(eventType, requestID, service string, data map[string]any) Event {
	return Event{
		EventID:   uuid.NewString(),
		Type:      eventType,
		RequestID: requestID,
		Service:   service,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
