package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/resumeforge/modelgate/modelclient"
)

// =============================================================================
// Mock Verifier Client
// =============================================================================

// scriptedVerifier returns canned replies (or errors) in order.
type scriptedVerifier struct {
	replies []string
	errs    []error
	calls   int
	prompts []string
}

func (s *scriptedVerifier) Judge(ctx context.Context, prompt string) (string, error) {
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, prompt)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return "", fmt.Errorf("scriptedVerifier: no reply for call %d", i)
}

// judgmentJSON renders a well-formed judgment with one score for every
// default criterion.
func judgmentJSON(verified bool, confidence float64, score float64) string {
	return fmt.Sprintf(`{
		"verified": %t,
		"confidence": %g,
		"scores": {"accuracy": %g, "completeness": %g, "relevance": %g, "consistency": %g, "safety": %g, "format": %g},
		"issues": [],
		"feedback": ""
	}`, verified, confidence, score, score, score, score, score, score)
}

func testRequest(response string) Request {
	return Request{
		Service:           "cv_enhance",
		OriginalPrompt:    "Rewrite the experience section.",
		CandidateResponse: response,
		Criteria:          DefaultCriteria(),
	}
}

// =============================================================================
// Verify Tests
// =============================================================================

func TestVerify_ApprovePath(t *testing.T) {
	v := &scriptedVerifier{replies: []string{judgmentJSON(true, 0.9, 85)}}
	o := NewOrchestrator(v, DefaultConfig(), nil)

	result, err := o.Verify(context.Background(), testRequest("Led a team of five engineers."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Recommendation != RecommendationApprove {
		t.Errorf("expected approve, got %s", result.Recommendation)
	}
	if result.OverallScore != 85 {
		t.Errorf("expected overall score 85, got %g", result.OverallScore)
	}
	if !result.Verified {
		t.Error("expected verified result")
	}
}

func TestVerify_LowScoreRecommendsRetry(t *testing.T) {
	v := &scriptedVerifier{replies: []string{judgmentJSON(false, 0.8, 40)}}
	o := NewOrchestrator(v, DefaultConfig(), nil)

	result, err := o.Verify(context.Background(), testRequest("Vague text."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Recommendation != RecommendationRetry {
		t.Errorf("expected retry, got %s", result.Recommendation)
	}
}

func TestVerify_LowConfidenceBlocksApproval(t *testing.T) {
	v := &scriptedVerifier{replies: []string{judgmentJSON(true, 0.3, 90)}}
	o := NewOrchestrator(v, DefaultConfig(), nil)

	result, err := o.Verify(context.Background(), testRequest("Fine text."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Recommendation == RecommendationApprove {
		t.Error("approval requires confidence above threshold")
	}
}

func TestVerify_CriticalIssueForcesManualReview(t *testing.T) {
	reply := `{
		"verified": false,
		"confidence": 0.9,
		"scores": {"accuracy": 80, "completeness": 80, "relevance": 80, "consistency": 80, "safety": 10, "format": 80},
		"issues": [{"category": "safety", "severity": "critical", "description": "fabricated employer", "suggestion": "remove"}],
		"feedback": "fabrication detected"
	}`
	v := &scriptedVerifier{replies: []string{reply}}
	o := NewOrchestrator(v, DefaultConfig(), nil)

	result, err := o.Verify(context.Background(), testRequest("Worked at a company that does not exist."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Recommendation != RecommendationManualReview {
		t.Errorf("expected manual_review, got %s", result.Recommendation)
	}
}

func TestVerify_ParseFailureDegradesWithoutError(t *testing.T) {
	v := &scriptedVerifier{replies: []string{"I think this looks great overall!"}}
	o := NewOrchestrator(v, DefaultConfig(), nil)

	result, err := o.Verify(context.Background(), testRequest("Anything."))
	if err != nil {
		t.Fatalf("parse failures must not cross the Verify boundary, got: %v", err)
	}
	if result.Verified {
		t.Error("degraded result must not be verified")
	}
	if result.OverallScore != 0 {
		t.Errorf("degraded result must score 0, got %g", result.OverallScore)
	}
	if result.Recommendation != RecommendationManualReview {
		t.Errorf("expected manual_review, got %s", result.Recommendation)
	}
	if !result.HasCriticalIssue() {
		t.Error("degraded result must carry a critical safety issue")
	}
}

func TestVerify_MissingCriterionScoreDegrades(t *testing.T) {
	reply := `{"verified": true, "confidence": 0.9, "scores": {"accuracy": 90}, "issues": [], "feedback": ""}`
	v := &scriptedVerifier{replies: []string{reply}}
	o := NewOrchestrator(v, DefaultConfig(), nil)

	result, err := o.Verify(context.Background(), testRequest("Anything."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Recommendation != RecommendationManualReview {
		t.Errorf("incomplete judgments must degrade to manual_review, got %s", result.Recommendation)
	}
}

func TestVerify_TransportFailureDegradesAndReturnsError(t *testing.T) {
	transportErr := modelclient.NewTransportError("judge", errors.New("conn refused"))
	v := &scriptedVerifier{errs: []error{transportErr}}
	o := NewOrchestrator(v, DefaultConfig(), nil)

	result, err := o.Verify(context.Background(), testRequest("Anything."))
	if err == nil {
		t.Fatal("transport errors must be returned for kind-based retry decisions")
	}
	if modelclient.KindOf(err) != modelclient.KindRetryable {
		t.Errorf("verifier transport errors should be retryable, got %s", modelclient.KindOf(err))
	}
	if result == nil || result.Recommendation != RecommendationManualReview {
		t.Error("degraded manual_review result must accompany the error")
	}
}

func TestVerify_CodeFencedJSONTolerated(t *testing.T) {
	fenced := "```json\n" + judgmentJSON(true, 0.9, 80) + "\n```"
	v := &scriptedVerifier{replies: []string{fenced}}
	o := NewOrchestrator(v, DefaultConfig(), nil)

	result, err := o.Verify(context.Background(), testRequest("Anything."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Recommendation != RecommendationApprove {
		t.Errorf("fenced JSON should still parse, got %s", result.Recommendation)
	}
}

func TestVerify_PromptEnumeratesCriteriaAndHistory(t *testing.T) {
	v := &scriptedVerifier{replies: []string{judgmentJSON(true, 0.9, 80)}}
	o := NewOrchestrator(v, DefaultConfig(), nil)

	req := testRequest("Current attempt.")
	req.History = []string{"First attempt."}
	req.Criteria.Custom = []CustomCriterion{{Name: "tone", Description: "professional register", Weight: 2}}

	// Custom criterion missing from the scripted reply, so this degrades;
	// the point here is only the rendered prompt.
	_, _ = o.Verify(context.Background(), req)

	if len(v.prompts) != 1 {
		t.Fatalf("expected 1 judge call, got %d", len(v.prompts))
	}
	prompt := v.prompts[0]
	for _, want := range []string{"accuracy", "safety", "tone", "First attempt.", "Current attempt.", "personal data"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

// =============================================================================
// Scoring Tests
// =============================================================================

func TestComputeOverallScore_EqualWeightsIsSimpleAverage(t *testing.T) {
	scores := CriterionScores{
		Accuracy:     90,
		Completeness: 80,
		Relevance:    70,
		Consistency:  60,
		Safety:       100,
		Format:       50,
	}
	got := computeOverallScore(scores, DefaultCriteria())
	want := (90.0 + 80 + 70 + 60 + 100 + 50) / 6
	if got != want {
		t.Errorf("expected simple average %g, got %g", want, got)
	}
	if got < 0 || got > 100 {
		t.Errorf("overall score out of bounds: %g", got)
	}
}

func TestComputeOverallScore_CustomWeights(t *testing.T) {
	criteria := Criteria{
		Accuracy: true,
		Custom:   []CustomCriterion{{Name: "tone", Weight: 3}},
	}
	scores := CriterionScores{
		Accuracy: 100,
		Custom:   map[string]float64{"tone": 60},
	}
	got := computeOverallScore(scores, criteria)
	want := (1*100.0 + 3*60.0) / 4.0
	if got != want {
		t.Errorf("expected %g, got %g", want, got)
	}
}

func TestComputeOverallScore_AlwaysInBounds(t *testing.T) {
	scores := CriterionScores{Accuracy: 100, Completeness: 100, Relevance: 100, Consistency: 100, Safety: 100, Format: 100}
	if got := computeOverallScore(scores, DefaultCriteria()); got > 100 {
		t.Errorf("score exceeded 100: %g", got)
	}
	if got := computeOverallScore(CriterionScores{}, DefaultCriteria()); got < 0 {
		t.Errorf("score below 0: %g", got)
	}
}

func TestBuildResult_ClampsOutOfRangeValues(t *testing.T) {
	payload := &judgmentPayload{
		Verified:   true,
		Confidence: 1.7,
		Scores: map[string]float64{
			"accuracy": 140, "completeness": -10, "relevance": 50,
			"consistency": 50, "safety": 50, "format": 50,
		},
	}
	result, err := buildResult(payload, DefaultCriteria())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Confidence != 1 {
		t.Errorf("confidence should clamp to 1, got %g", result.Confidence)
	}
	if result.Scores.Accuracy != 100 {
		t.Errorf("accuracy should clamp to 100, got %g", result.Scores.Accuracy)
	}
	if result.Scores.Completeness != 0 {
		t.Errorf("completeness should clamp to 0, got %g", result.Scores.Completeness)
	}
}

func TestCriteria_Validate(t *testing.T) {
	bad := Criteria{Accuracy: true, Custom: []CustomCriterion{{Name: "", Weight: 1}}}
	if err := bad.Validate(); err == nil {
		t.Error("empty custom name should fail validation")
	}

	dup := Criteria{Accuracy: true, Custom: []CustomCriterion{
		{Name: "tone", Weight: 1},
		{Name: "tone", Weight: 2},
	}}
	if err := dup.Validate(); err == nil {
		t.Error("duplicate custom name should fail validation")
	}

	if err := DefaultCriteria().Validate(); err != nil {
		t.Errorf("default criteria should validate, got: %v", err)
	}
}
