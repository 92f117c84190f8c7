package verify

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// ENUMS
// =============================================================================

// Severity grades an issue found by the verifier.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFromString parses a severity string.
func SeverityFromString(value string) (Severity, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return "", fmt.Errorf("invalid severity '%s'. Must be one of: low, medium, high, critical", value)
	}
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank(s) >= severityRank(other)
}

func severityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Recommendation is the verifier's classification of the outcome.
//
// Outcomes:
//
//	APPROVE: serve the response as verified
//	RETRY: regenerate with feedback, attempt budget permitting
//	MANUAL_REVIEW: hold for a human; critical or safety findings
type Recommendation string

const (
	RecommendationApprove      Recommendation = "approve"
	RecommendationRetry        Recommendation = "retry"
	RecommendationManualReview Recommendation = "manual_review"
)

// RecommendationFromString parses a recommendation string.
func RecommendationFromString(value string) (Recommendation, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "approve":
		return RecommendationApprove, nil
	case "retry":
		return RecommendationRetry, nil
	case "manual_review":
		return RecommendationManualReview, nil
	default:
		return "", fmt.Errorf("invalid recommendation '%s'. Must be one of: approve, retry, manual_review", value)
	}
}

// =============================================================================
// ISSUES
// =============================================================================

// Issue is a single finding reported during verification.
type Issue struct {
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// =============================================================================
// SCORES
// =============================================================================

// CriterionScores holds per-criterion scores in [0,100].
// The six default dimensions are fixed fields; custom criteria scores are
// keyed by criterion name.
type CriterionScores struct {
	Accuracy     float64 `json:"accuracy"`
	Completeness float64 `json:"completeness"`
	Relevance    float64 `json:"relevance"`
	Consistency  float64 `json:"consistency"`
	Safety       float64 `json:"safety"`
	Format       float64 `json:"format"`

	Custom map[string]float64 `json:"custom,omitempty"`
}

// Get returns the score for a default criterion name.
func (s CriterionScores) Get(name string) float64 {
	switch name {
	case CriterionAccuracy:
		return s.Accuracy
	case CriterionCompleteness:
		return s.Completeness
	case CriterionRelevance:
		return s.Relevance
	case CriterionConsistency:
		return s.Consistency
	case CriterionSafety:
		return s.Safety
	case CriterionFormat:
		return s.Format
	default:
		return 0
	}
}

func (s *CriterionScores) set(name string, value float64) {
	switch name {
	case CriterionAccuracy:
		s.Accuracy = value
	case CriterionCompleteness:
		s.Completeness = value
	case CriterionRelevance:
		s.Relevance = value
	case CriterionConsistency:
		s.Consistency = value
	case CriterionSafety:
		s.Safety = value
	case CriterionFormat:
		s.Format = value
	}
}

// clampScore bounds a score to [0,100].
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// clampConfidence bounds a confidence to [0,1].
func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// =============================================================================
// RESULT
// =============================================================================

// Result is the verification outcome for a single candidate response.
type Result struct {
	Verified         bool            `json:"verified"`
	Confidence       float64         `json:"confidence"`    // [0,1]
	OverallScore     float64         `json:"overall_score"` // [0,100]
	Scores           CriterionScores `json:"detailed_scores"`
	Issues           []Issue         `json:"issues,omitempty"`
	Recommendation   Recommendation  `json:"recommendation"`
	Feedback         string          `json:"feedback,omitempty"`
	ProcessingTimeMS int64           `json:"processing_time_ms"`
}

// HasCriticalIssue reports whether any finding is critical severity.
func (r *Result) HasCriticalIssue() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// IssuesAtLeast returns the issues with severity >= min, in report order.
func (r *Result) IssuesAtLeast(min Severity) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity.AtLeast(min) {
			out = append(out, issue)
		}
	}
	return out
}

// degradedResult is the deterministic fallback when verification
// infrastructure itself fails. Never approved, never silently served.
func degradedResult(reason string, start time.Time) *Result {
	return &Result{
		Verified:       false,
		Confidence:     0,
		OverallScore:   0,
		Recommendation: RecommendationManualReview,
		Issues: []Issue{{
			Category:    "safety",
			Severity:    SeverityCritical,
			Description: reason,
			Suggestion:  "route to manual review; verifier output was unusable",
		}},
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}
}
