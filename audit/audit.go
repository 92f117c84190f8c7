// Package audit keeps a bounded, PII-redacting record of every
// verification pipeline invocation.
//
// Features:
//   - Ring-buffer semantics: capacity N, FIFO eviction, atomic append
//   - Prompt/response sanitization with typed placeholder tags
//   - Aggregate statistics maintained across evictions
//
// Persistence is in-memory only; an external sink is an out-of-scope
// collaborator.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/resumeforge/modelgate/retry"
	"github.com/resumeforge/modelgate/verify"
)

// DefaultCapacity is the default ring-buffer size.
const DefaultCapacity = 1000

// =============================================================================
// Outcomes
// =============================================================================

// Outcome is the terminal classification of a pipeline invocation.
type Outcome string

const (
	OutcomeApproved     Outcome = "approved"
	OutcomeRejected     Outcome = "rejected"
	OutcomeManualReview Outcome = "manual_review"
)

// =============================================================================
// Entries & Records
// =============================================================================

// Entry is what the pipeline submits for recording. Prompt and response
// arrive raw; Record sanitizes them before storage.
type Entry struct {
	RequestID             string          `json:"request_id"`
	Service               string          `json:"service"`
	Prompt                string          `json:"prompt"`
	Response              string          `json:"response"`
	Result                *verify.Result  `json:"result"`
	RetryAttempts         []retry.Attempt `json:"retry_attempts,omitempty"`
	FinalOutcome          Outcome         `json:"final_outcome"`
	TotalProcessingTimeMS int64           `json:"total_processing_time_ms"`
}

// Record is an immutable stored audit record.
type Record struct {
	AuditID               string          `json:"audit_id"`
	RequestID             string          `json:"request_id"`
	Service               string          `json:"service"`
	SanitizedPrompt       string          `json:"sanitized_prompt"`
	SanitizedResponse     string          `json:"sanitized_response"`
	Result                *verify.Result  `json:"result"`
	RetryAttempts         []retry.Attempt `json:"retry_attempts,omitempty"`
	FinalOutcome          Outcome         `json:"final_outcome"`
	TotalProcessingTimeMS int64           `json:"total_processing_time_ms"`
	Timestamp             time.Time       `json:"timestamp"`
}

// Stats aggregates every recorded verification, surviving ring eviction.
type Stats struct {
	TotalVerifications      int            `json:"total_verifications"`
	SuccessRate             float64        `json:"success_rate"`
	AverageScore            float64        `json:"average_score"`
	AverageProcessingTimeMS float64        `json:"average_processing_time_ms"`
	IssueBreakdown          map[string]int `json:"issue_breakdown"`
}

// =============================================================================
// Log
// =============================================================================

// Log is the bounded audit log.
type Log struct {
	capacity int
	records  []Record // ring storage, oldest at head
	head     int      // index of oldest record
	size     int

	// lifetime aggregates
	total          int
	approved       int
	scoreSum       float64
	processingSum  float64
	issueBreakdown map[string]int

	logger Logger
	mu     sync.RWMutex
}

// Logger is the interface for logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// NewLog creates an audit log with the given capacity.
// Non-positive capacity falls back to DefaultCapacity.
func NewLog(capacity int, logger Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity:       capacity,
		records:        make([]Record, capacity),
		issueBreakdown: make(map[string]int),
		logger:         logger,
	}
}

// Record sanitizes and appends an entry, returning the assigned audit id.
// The append is atomic: a reader never observes a partially written
// record. Insertion past capacity evicts the oldest record.
func (l *Log) Record(entry Entry) string {
	record := Record{
		AuditID:               uuid.NewString(),
		RequestID:             entry.RequestID,
		Service:               entry.Service,
		SanitizedPrompt:       verify.RedactPII(entry.Prompt),
		SanitizedResponse:     verify.RedactPII(entry.Response),
		Result:                entry.Result,
		RetryAttempts:         entry.RetryAttempts,
		FinalOutcome:          entry.FinalOutcome,
		TotalProcessingTimeMS: entry.TotalProcessingTimeMS,
		Timestamp:             time.Now().UTC(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size == l.capacity {
		// Overwrite the oldest slot.
		l.records[l.head] = record
		l.head = (l.head + 1) % l.capacity
	} else {
		l.records[(l.head+l.size)%l.capacity] = record
		l.size++
	}

	l.total++
	if entry.FinalOutcome == OutcomeApproved {
		l.approved++
	}
	if entry.Result != nil {
		l.scoreSum += entry.Result.OverallScore
		for _, issue := range entry.Result.Issues {
			l.issueBreakdown[issue.Category]++
		}
	}
	l.processingSum += float64(entry.TotalProcessingTimeMS)

	if l.logger != nil {
		l.logger.Debug("audit_recorded",
			"audit_id", record.AuditID,
			"service", record.Service,
			"final_outcome", string(record.FinalOutcome),
		)
	}

	return record.AuditID
}

// GetStats returns aggregate statistics over every recorded entry,
// including evicted ones.
func (l *Log) GetStats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{
		TotalVerifications: l.total,
		IssueBreakdown:     make(map[string]int, len(l.issueBreakdown)),
	}
	for k, v := range l.issueBreakdown {
		stats.IssueBreakdown[k] = v
	}
	if l.total > 0 {
		stats.SuccessRate = float64(l.approved) / float64(l.total)
		stats.AverageScore = l.scoreSum / float64(l.total)
		stats.AverageProcessingTimeMS = l.processingSum / float64(l.total)
	}
	return stats
}

// GetAuditLogs returns up to limit of the most recent records, newest
// first. A non-positive limit returns everything retained.
func (l *Log) GetAuditLogs(limit int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		// Walk backwards from the newest slot.
		idx := (l.head + l.size - 1 - i + l.capacity) % l.capacity
		out = append(out, l.records[idx])
	}
	return out
}

// Size returns the number of retained records.
func (l *Log) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Capacity returns the ring capacity.
func (l *Log) Capacity() int {
	return l.capacity
}
