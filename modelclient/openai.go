package modelclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/resumeforge/modelgate/observability"
)

// =============================================================================
// OpenAI-backed clients
// =============================================================================

// judgeTemperature keeps the verifier near-deterministic.
const judgeTemperature = 0.1

// Metric label values for model call accounting.
const (
	rolePrimary  = "primary"
	roleVerifier = "verifier"

	callStatusSuccess = "success"
	callStatusError   = "error"
)

// OpenAIPrimary implements PrimaryClient on top of the OpenAI chat API.
type OpenAIPrimary struct {
	client  *openai.Client
	model   string
	service string
	logger  Logger
}

// Logger is the interface for logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// NewOpenAIPrimary creates a primary-model client.
// The service name is used only for error attribution.
func NewOpenAIPrimary(apiKey, model, service string, logger Logger) *OpenAIPrimary {
	return NewOpenAIPrimaryWithClient(openai.NewClient(apiKey), model, service, logger)
}

// NewOpenAIPrimaryWithClient wires an already-configured client, for
// alternate endpoints and proxies.
func NewOpenAIPrimaryWithClient(client *openai.Client, model, service string, logger Logger) *OpenAIPrimary {
	return &OpenAIPrimary{
		client:  client,
		model:   model,
		service: service,
		logger:  logger,
	}
}

// Generate implements PrimaryClient.
func (c *OpenAIPrimary) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	durationMS := time.Since(start).Milliseconds()
	if err != nil {
		observability.RecordModelCall(rolePrimary, callStatusError, durationMS)
		return "", mapOpenAIError("generate", c.service, err)
	}
	if len(resp.Choices) == 0 {
		observability.RecordModelCall(rolePrimary, callStatusError, durationMS)
		return "", NewTransportError("generate", fmt.Errorf("provider returned no choices"))
	}
	observability.RecordModelCall(rolePrimary, callStatusSuccess, durationMS)

	if c.logger != nil {
		c.logger.Debug("primary_generation_completed",
			"model", c.model,
			"finish_reason", resp.Choices[0].FinishReason,
		)
	}
	return resp.Choices[0].Message.Content, nil
}

// OpenAIVerifier implements VerifierClient on top of the OpenAI chat API.
// Replies are requested in JSON mode so the orchestrator can parse them
// as strict structured data.
type OpenAIVerifier struct {
	client  *openai.Client
	model   string
	service string
	logger  Logger
}

// NewOpenAIVerifier creates a verifier-model client.
func NewOpenAIVerifier(apiKey, model, service string, logger Logger) *OpenAIVerifier {
	return NewOpenAIVerifierWithClient(openai.NewClient(apiKey), model, service, logger)
}

// NewOpenAIVerifierWithClient wires an already-configured client, for
// alternate endpoints and proxies.
func NewOpenAIVerifierWithClient(client *openai.Client, model, service string, logger Logger) *OpenAIVerifier {
	return &OpenAIVerifier{
		client:  client,
		model:   model,
		service: service,
		logger:  logger,
	}
}

// Judge implements VerifierClient.
func (c *OpenAIVerifier) Judge(ctx context.Context, structuredPrompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: judgeTemperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a strict quality reviewer. Reply with a single JSON object and nothing else.",
			},
			{Role: openai.ChatMessageRoleUser, Content: structuredPrompt},
		},
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	durationMS := time.Since(start).Milliseconds()
	if err != nil {
		observability.RecordModelCall(roleVerifier, callStatusError, durationMS)
		return "", mapOpenAIError("judge", c.service, err)
	}
	if len(resp.Choices) == 0 {
		observability.RecordModelCall(roleVerifier, callStatusError, durationMS)
		return "", NewTransportError("judge", fmt.Errorf("provider returned no choices"))
	}
	observability.RecordModelCall(roleVerifier, callStatusSuccess, durationMS)

	if c.logger != nil {
		c.logger.Debug("judge_reply_received",
			"model", c.model,
			"finish_reason", resp.Choices[0].FinishReason,
		)
	}
	return resp.Choices[0].Message.Content, nil
}

// mapOpenAIError translates provider errors into the package taxonomy.
// Vendor 429s must stay distinguishable from transport failures so the
// retry coordinator never treats a quota hit as a content-quality retry.
func mapOpenAIError(op, service string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 {
			return NewVendorRateLimitError(service, 0, err)
		}
		return NewTransportError(op, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 429 {
			return NewVendorRateLimitError(service, 0, err)
		}
		return NewTransportError(op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTransportError(op, fmt.Errorf("timeout after network wait: %w", err))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransportError(op, err)
	}

	return NewTransportError(op, err)
}

// RetryAfterHint extracts the vendor-suggested wait from an error, if any.
// Returns zero when the error carries no hint.
func RetryAfterHint(err error) time.Duration {
	var v *VendorRateLimitError
	if errors.As(err, &v) {
		return v.RetryAfter
	}
	return 0
}
