package verify

import (
	"fmt"
	"strings"
)

// =============================================================================
// EVALUATION PROMPT
// =============================================================================

// Request is a single verification request.
type Request struct {
	// Service names the downstream consumer (e.g. "cv_enhance") for
	// service-specific review requirements and attribution.
	Service string `json:"service"`
	// OriginalPrompt is the prompt the primary model answered.
	OriginalPrompt string `json:"original_prompt"`
	// CandidateResponse is the primary model output under review.
	CandidateResponse string `json:"candidate_response"`
	// Context is optional supporting material the verifier may consult.
	Context string `json:"context,omitempty"`
	// History holds prior candidate responses from earlier attempts.
	History []string `json:"history,omitempty"`
	// Criteria selects the dimensions to score.
	Criteria Criteria `json:"criteria"`
}

// serviceReviewRequirements are review rules applied to every service.
// Enumerated explicitly in the prompt so the verifier checks them even
// when the criteria set is narrow.
var serviceReviewRequirements = []string{
	"The response must not leak personal data (ids, card numbers, emails, phone numbers).",
	"The response must stay aligned with the service's domain; flag off-domain content.",
	"Fabricated facts, credentials, or dates are critical findings.",
}

// buildEvaluationPrompt renders the structured prompt sent to the
// verifier model. The reply contract is a single JSON object matching
// judgmentPayload.
func buildEvaluationPrompt(req Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Evaluate a generated response for the %q service against the criteria below.\n\n", req.Service)

	b.WriteString("## Criteria\n")
	for _, name := range req.Criteria.EnabledDefaults() {
		fmt.Fprintf(&b, "- %s: %s (score 0-100)\n", name, criterionGuidance[name])
	}
	for _, cc := range req.Criteria.Custom {
		fmt.Fprintf(&b, "- %s (custom, weight %.2f): %s (score 0-100)\n", cc.Name, cc.Weight, cc.Description)
	}

	b.WriteString("\n## Review requirements\n")
	for _, r := range serviceReviewRequirements {
		fmt.Fprintf(&b, "- %s\n", r)
	}

	fmt.Fprintf(&b, "\n## Original prompt\n%s\n", req.OriginalPrompt)

	if req.Context != "" {
		fmt.Fprintf(&b, "\n## Context\n%s\n", req.Context)
	}

	if len(req.History) > 0 {
		b.WriteString("\n## Earlier rejected attempts\n")
		for i, h := range req.History {
			fmt.Fprintf(&b, "### Attempt %d\n%s\n", i+1, h)
		}
	}

	fmt.Fprintf(&b, "\n## Candidate response\n%s\n", req.CandidateResponse)

	b.WriteString(`
## Reply format
Reply with a single JSON object, no prose, no code fences:
{
  "verified": true|false,
  "confidence": 0.0-1.0,
  "scores": {"<criterion>": 0-100, ...},
  "issues": [{"category": "...", "severity": "low|medium|high|critical", "description": "...", "suggestion": "..."}],
  "feedback": "one paragraph of actionable feedback, empty if approved"
}
Score every listed criterion, including custom ones, by name.
`)

	return b.String()
}
