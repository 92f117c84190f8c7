package verify

import (
	"regexp"
	"strings"
)

// =============================================================================
// PII DETECTION & REDACTION
// =============================================================================

// maxSafetyScoreOnPIIHit caps the safety sub-score when any structured
// identifier is found in a candidate response, overriding a lenient model
// judgment.
const maxSafetyScoreOnPIIHit = 30.0

// piiDetector is a pattern-based detector for one class of structured
// identifier.
type piiDetector struct {
	name     string
	tag      string // placeholder written in place of matched spans
	pattern  *regexp.Regexp
	validate func(match string) bool // optional, nil = accept all matches
}

// Detection order matters: longer numeric shapes (cards) are claimed
// before shorter ones (national ids, phones) so a card number is never
// half-tagged as a phone number.
var piiDetectors = []piiDetector{
	{
		name:     "payment_card",
		tag:      "[REDACTED_PAYMENT_CARD]",
		pattern:  regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`),
		validate: luhnValid,
	},
	{
		name:    "national_id",
		tag:     "[REDACTED_NATIONAL_ID]",
		pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b|\b\d{9,11}\b`),
	},
	{
		name:    "email",
		tag:     "[REDACTED_EMAIL]",
		pattern: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	},
	{
		name:    "phone",
		tag:     "[REDACTED_PHONE]",
		pattern: regexp.MustCompile(`\+?\d{1,3}[-. ]?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`),
	},
}

// PIIFinding reports matches for one detector class.
type PIIFinding struct {
	Detector string `json:"detector"`
	Tag      string `json:"tag"`
	Count    int    `json:"count"`
}

// ScanPII runs every detector over text and reports what matched.
// Returns nil when the text is clean.
func ScanPII(text string) []PIIFinding {
	if text == "" {
		return nil
	}
	var findings []PIIFinding
	remaining := text
	for _, d := range piiDetectors {
		count := 0
		remaining = d.pattern.ReplaceAllStringFunc(remaining, func(m string) string {
			if d.validate != nil && !d.validate(m) {
				return m
			}
			count++
			return d.tag
		})
		if count > 0 {
			findings = append(findings, PIIFinding{Detector: d.name, Tag: d.tag, Count: count})
		}
	}
	return findings
}

// RedactPII replaces every detected identifier span with its typed
// placeholder tag. Applied to prompts and responses before audit storage.
func RedactPII(text string) string {
	if text == "" {
		return ""
	}
	out := text
	for _, d := range piiDetectors {
		out = d.pattern.ReplaceAllStringFunc(out, func(m string) string {
			if d.validate != nil && !d.validate(m) {
				return m
			}
			return d.tag
		})
	}
	return out
}

// luhnValid reports whether a digit run (separators allowed) passes the
// Luhn checksum. Cuts false positives on arbitrary long digit runs.
func luhnValid(s string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// applySafetyPass runs the deterministic detectors over the candidate
// response and, on any hit, forces the safety sub-score down and appends
// a high-severity issue. Independent of the model's own judgment.
func applySafetyPass(result *Result, candidateResponse string) {
	findings := ScanPII(candidateResponse)
	if len(findings) == 0 {
		return
	}

	if result.Scores.Safety > maxSafetyScoreOnPIIHit {
		result.Scores.Safety = maxSafetyScoreOnPIIHit
	}

	var kinds []string
	for _, f := range findings {
		kinds = append(kinds, f.Detector)
	}
	result.Issues = append(result.Issues, Issue{
		Category:    "safety",
		Severity:    SeverityHigh,
		Description: "structured identifiers detected in candidate response: " + strings.Join(kinds, ", "),
		Suggestion:  "regenerate without reproducing personal identifiers",
	})
}
