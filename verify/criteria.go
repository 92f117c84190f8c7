// Package verify scores a primary model's output against explicit criteria
// using an independent secondary model, then classifies the outcome.
//
// The orchestrator never lets verification infrastructure failures escape:
// unparseable or missing judgments degrade to a deterministic manual_review
// result. A pattern-based safety pass runs independently of the model's
// own judgment and can only lower the safety sub-score, never raise it.
package verify

import (
	"fmt"
	"strings"
)

// =============================================================================
// CRITERIA
// =============================================================================

// Default criterion names, in prompt and scoring order.
const (
	CriterionAccuracy     = "accuracy"
	CriterionCompleteness = "completeness"
	CriterionRelevance    = "relevance"
	CriterionConsistency  = "consistency"
	CriterionSafety       = "safety"
	CriterionFormat       = "format"
)

// defaultCriterionWeight is the weight of every enabled default criterion.
// Only custom criteria carry explicit weights.
const defaultCriterionWeight = 1.0

// CustomCriterion is a caller-defined, weighted evaluation dimension.
type CustomCriterion struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// Criteria selects which dimensions the verifier scores.
// Default criteria are boolean flags with equal weight; custom entries
// add weighted dimensions on top.
type Criteria struct {
	Accuracy     bool `json:"accuracy"`
	Completeness bool `json:"completeness"`
	Relevance    bool `json:"relevance"`
	Consistency  bool `json:"consistency"`
	Safety       bool `json:"safety"`
	Format       bool `json:"format"`

	Custom []CustomCriterion `json:"custom,omitempty"`
}

// DefaultCriteria returns criteria with all six default dimensions enabled.
func DefaultCriteria() Criteria {
	return Criteria{
		Accuracy:     true,
		Completeness: true,
		Relevance:    true,
		Consistency:  true,
		Safety:       true,
		Format:       true,
	}
}

// EnabledDefaults returns the names of enabled default criteria, in order.
func (c Criteria) EnabledDefaults() []string {
	var names []string
	flags := []struct {
		name    string
		enabled bool
	}{
		{CriterionAccuracy, c.Accuracy},
		{CriterionCompleteness, c.Completeness},
		{CriterionRelevance, c.Relevance},
		{CriterionConsistency, c.Consistency},
		{CriterionSafety, c.Safety},
		{CriterionFormat, c.Format},
	}
	for _, f := range flags {
		if f.enabled {
			names = append(names, f.name)
		}
	}
	return names
}

// IsEmpty reports whether no criterion is enabled at all.
func (c Criteria) IsEmpty() bool {
	return len(c.EnabledDefaults()) == 0 && len(c.Custom) == 0
}

// Validate checks custom criteria for usable names and weights.
func (c Criteria) Validate() error {
	seen := make(map[string]bool, len(c.Custom))
	for _, cc := range c.Custom {
		name := strings.TrimSpace(cc.Name)
		if name == "" {
			return fmt.Errorf("custom criterion with empty name")
		}
		if cc.Weight <= 0 {
			return fmt.Errorf("custom criterion %q has non-positive weight %g", name, cc.Weight)
		}
		if seen[name] {
			return fmt.Errorf("duplicate custom criterion %q", name)
		}
		seen[name] = true
	}
	if c.IsEmpty() {
		return fmt.Errorf("no criteria enabled")
	}
	return nil
}

// criterionGuidance describes what each default dimension means to the
// verifier. Kept terse; the verifier model fills in domain judgment.
var criterionGuidance = map[string]string{
	CriterionAccuracy:     "factual correctness of the response relative to the original prompt",
	CriterionCompleteness: "whether the response addresses every part of the request",
	CriterionRelevance:    "whether the response stays on the requested subject",
	CriterionConsistency:  "internal consistency and agreement with supplied context",
	CriterionSafety:       "absence of personal data leakage, harmful or fabricated content",
	CriterionFormat:       "conformance to the requested output structure and style",
}
