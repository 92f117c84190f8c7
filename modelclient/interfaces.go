// Package modelclient defines the call contracts for the two generative
// models the pipeline talks to, plus the error taxonomy shared across the
// module.
//
// Two roles, two interfaces:
//   - PrimaryClient: the generative model whose output is being validated.
//   - VerifierClient: the independent model that judges the primary's output.
//
// Transport internals live behind these interfaces; the pipeline only
// depends on the contracts and on the typed errors they return.
package modelclient

import (
	"context"
)

// GenerationParams tunes a primary-model generation call.
// Nil pointer fields mean "use the provider default".
type GenerationParams struct {
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// PrimaryClient is the generative model under validation.
//
// Errors follow the package taxonomy: vendor quota hits surface as
// *VendorRateLimitError, network/timeout failures as *TransportError.
type PrimaryClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// VerifierClient is the independent secondary model used for judging.
// The reply is treated by consumers as strict structured data; shape
// enforcement happens on the consumer side, not here.
type VerifierClient interface {
	Judge(ctx context.Context, structuredPrompt string) (string, error)
}
