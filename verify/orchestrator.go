package verify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/resumeforge/modelgate/modelclient"
)

var tracer = otel.Tracer("modelgate/verify")

// Logger is the interface for logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// =============================================================================
// Orchestrator Configuration
// =============================================================================

// Config holds the orchestrator's decision thresholds.
type Config struct {
	// ScoreThreshold is the minimum overall score for approval.
	ScoreThreshold float64 `json:"score_threshold"`
	// ConfidenceThreshold is the minimum verifier confidence for approval.
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ScoreThreshold:      70,
		ConfidenceThreshold: 0.7,
	}
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator sends (prompt, response, criteria) to the verifier model,
// parses the structured judgment, applies the deterministic safety pass,
// computes the weighted score, and classifies the outcome.
//
// Failure policy:
//   - Unparseable judgments degrade to a manual_review result; Verify
//     returns a nil error for them.
//   - Transport failures also degrade to a manual_review result, but the
//     typed error is returned alongside so the retry coordinator can
//     branch on its kind.
type Orchestrator struct {
	verifier modelclient.VerifierClient
	config   Config
	logger   Logger
}

// NewOrchestrator creates a verification orchestrator.
func NewOrchestrator(verifier modelclient.VerifierClient, config Config, logger Logger) *Orchestrator {
	if config.ScoreThreshold == 0 && config.ConfidenceThreshold == 0 {
		config = DefaultConfig()
	}
	return &Orchestrator{
		verifier: verifier,
		config:   config,
		logger:   logger,
	}
}

// Config returns the orchestrator's thresholds.
func (o *Orchestrator) Config() Config {
	return o.config
}

// Verify scores one candidate response.
//
// The returned Result is always usable, even on error: infrastructure
// failures produce the deterministic degraded result (manual_review,
// score 0, critical safety issue).
func (o *Orchestrator) Verify(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "verify.Verify")
	defer span.End()
	span.SetAttributes(
		attribute.String("service", req.Service),
		attribute.Int("response_length", len(req.CandidateResponse)),
	)

	if req.Criteria.IsEmpty() {
		req.Criteria = DefaultCriteria()
	}
	if err := req.Criteria.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid criteria")
		return degradedResult("invalid verification criteria: "+err.Error(), start), err
	}

	prompt := buildEvaluationPrompt(req)

	raw, err := o.verifier.Judge(ctx, prompt)
	if err != nil {
		if o.logger != nil {
			o.logger.Warn("verifier_call_failed",
				"service", req.Service,
				"error", err.Error(),
			)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "verifier call failed")
		return degradedResult("verifier unavailable: "+err.Error(), start), err
	}

	payload, perr := parseJudgment(raw)
	if perr != nil {
		if o.logger != nil {
			o.logger.Warn("judgment_parse_failed",
				"service", req.Service,
				"error", perr.Error(),
			)
		}
		span.SetStatus(codes.Error, "judgment parse failed")
		// ParseError never crosses the Verify boundary.
		return degradedResult("verifier reply was not strict structured data", start), nil
	}

	result, perr := buildResult(payload, req.Criteria)
	if perr != nil {
		if o.logger != nil {
			o.logger.Warn("judgment_shape_invalid",
				"service", req.Service,
				"error", perr.Error(),
			)
		}
		span.SetStatus(codes.Error, "judgment shape invalid")
		return degradedResult("verifier judgment did not cover the requested criteria", start), nil
	}

	applySafetyPass(result, req.CandidateResponse)

	result.OverallScore = computeOverallScore(result.Scores, req.Criteria)
	result.Recommendation = o.classify(result)
	result.ProcessingTimeMS = time.Since(start).Milliseconds()

	if o.logger != nil {
		o.logger.Debug("verification_completed",
			"service", req.Service,
			"overall_score", result.OverallScore,
			"recommendation", string(result.Recommendation),
			"issues", len(result.Issues),
		)
	}
	span.SetAttributes(
		attribute.Float64("overall_score", result.OverallScore),
		attribute.String("recommendation", string(result.Recommendation)),
	)

	return result, nil
}

// classify derives the recommendation from the scored result.
func (o *Orchestrator) classify(r *Result) Recommendation {
	if r.Verified &&
		r.OverallScore >= o.config.ScoreThreshold &&
		r.Confidence >= o.config.ConfidenceThreshold {
		return RecommendationApprove
	}
	if r.HasCriticalIssue() {
		return RecommendationManualReview
	}
	return RecommendationRetry
}

// =============================================================================
// Judgment Parsing
// =============================================================================

// judgmentPayload is the strict reply contract for the verifier model.
type judgmentPayload struct {
	Verified   bool               `json:"verified"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"scores"`
	Issues     []judgmentIssue    `json:"issues"`
	Feedback   string             `json:"feedback"`
}

type judgmentIssue struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

// parseJudgment decodes the raw verifier reply. Code fences around the
// object are tolerated; anything beyond that is a ParseError.
func parseJudgment(raw string) (*judgmentPayload, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return nil, modelclient.NewParseError("no JSON object in reply", nil)
	}

	var payload judgmentPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, modelclient.NewParseError("malformed JSON", err)
	}
	if payload.Scores == nil {
		return nil, modelclient.NewParseError("missing scores object", nil)
	}
	return &payload, nil
}

// extractJSONObject returns the outermost {...} span of s, or "" if none.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// buildResult converts a parsed payload into a Result, enforcing the
// criteria coverage and value bounds.
func buildResult(p *judgmentPayload, criteria Criteria) (*Result, error) {
	result := &Result{
		Verified:   p.Verified,
		Confidence: clampConfidence(p.Confidence),
		Feedback:   p.Feedback,
	}

	for _, name := range criteria.EnabledDefaults() {
		score, ok := p.Scores[name]
		if !ok {
			return nil, modelclient.NewParseError("missing score for criterion "+name, nil)
		}
		result.Scores.set(name, clampScore(score))
	}
	if len(criteria.Custom) > 0 {
		result.Scores.Custom = make(map[string]float64, len(criteria.Custom))
		for _, cc := range criteria.Custom {
			score, ok := p.Scores[cc.Name]
			if !ok {
				return nil, modelclient.NewParseError("missing score for custom criterion "+cc.Name, nil)
			}
			result.Scores.Custom[cc.Name] = clampScore(score)
		}
	}

	for _, ji := range p.Issues {
		severity, err := SeverityFromString(ji.Severity)
		if err != nil {
			return nil, modelclient.NewParseError("issue severity", err)
		}
		result.Issues = append(result.Issues, Issue{
			Category:    ji.Category,
			Severity:    severity,
			Description: ji.Description,
			Suggestion:  ji.Suggestion,
		})
	}

	return result, nil
}

// computeOverallScore returns the weight-normalized average across all
// enabled default criteria (weight 1 each) plus custom criteria.
func computeOverallScore(scores CriterionScores, criteria Criteria) float64 {
	totalWeight := 0.0
	weighted := 0.0

	for _, name := range criteria.EnabledDefaults() {
		weighted += defaultCriterionWeight * scores.Get(name)
		totalWeight += defaultCriterionWeight
	}
	for _, cc := range criteria.Custom {
		weighted += cc.Weight * scores.Custom[cc.Name]
		totalWeight += cc.Weight
	}

	if totalWeight == 0 {
		return 0
	}
	return clampScore(weighted / totalWeight)
}
