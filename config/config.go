// Package config provides pipeline governance configuration - NO
// infrastructure URLs.
//
// This module contains only configuration relevant to verification
// governance: thresholds, budgets, and capacities. Model endpoints and
// API credentials belong to whatever bootstraps the clients.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/resumeforge/modelgate/ratelimit"
	"github.com/resumeforge/modelgate/retry"
	"github.com/resumeforge/modelgate/typeutil"
	"github.com/resumeforge/modelgate/verify"
)

// GovernorConfig holds verification pipeline configuration.
//
// The configuration is backend-agnostic: the same values apply whichever
// primary and verifier models are plugged in.
type GovernorConfig struct {
	// Verification Thresholds
	ScoreThreshold      float64 `json:"score_threshold"`      // Minimum weighted score for approval
	ConfidenceThreshold float64 `json:"confidence_threshold"` // Minimum verifier confidence for approval

	// Retry Budget
	MaxRetries  int `json:"max_retries"`   // Verification attempts per request
	BaseDelayMS int `json:"base_delay_ms"` // Linear backoff unit between attempts

	// Admission
	RequestsPerWindow int `json:"requests_per_window"` // Per-service calls per trailing minute; 0 = unlimited

	// Deduplication
	DedupTTLMS        int `json:"dedup_ttl_ms"`        // How long completed results serve duplicates
	PipelineTimeoutMS int `json:"pipeline_timeout_ms"` // Caller wait bound; 0 = wait indefinitely

	// Audit
	AuditCapacity int `json:"audit_capacity"` // Ring-buffer size for audit records

	// Logging
	LogLevel string `json:"log_level"`
}

// DefaultGovernorConfig returns a GovernorConfig with default values.
func DefaultGovernorConfig() *GovernorConfig {
	return &GovernorConfig{
		ScoreThreshold:      70,
		ConfidenceThreshold: 0.7,
		MaxRetries:          3,
		BaseDelayMS:         500,
		RequestsPerWindow:   60,
		DedupTTLMS:          30000,
		PipelineTimeoutMS:   120000,
		AuditCapacity:       1000,
		LogLevel:            "INFO",
	}
}

// GovernorConfigFromMap creates GovernorConfig from a map.
// Unknown keys are ignored; missing keys keep their defaults.
func GovernorConfigFromMap(values map[string]any) *GovernorConfig {
	c := DefaultGovernorConfig()

	c.ScoreThreshold = typeutil.SafeFloat64Default(values["score_threshold"], c.ScoreThreshold)
	c.ConfidenceThreshold = typeutil.SafeFloat64Default(values["confidence_threshold"], c.ConfidenceThreshold)
	c.MaxRetries = typeutil.SafeIntDefault(values["max_retries"], c.MaxRetries)
	c.BaseDelayMS = typeutil.SafeIntDefault(values["base_delay_ms"], c.BaseDelayMS)
	c.RequestsPerWindow = typeutil.SafeIntDefault(values["requests_per_window"], c.RequestsPerWindow)
	c.DedupTTLMS = typeutil.SafeIntDefault(values["dedup_ttl_ms"], c.DedupTTLMS)
	c.PipelineTimeoutMS = typeutil.SafeIntDefault(values["pipeline_timeout_ms"], c.PipelineTimeoutMS)
	c.AuditCapacity = typeutil.SafeIntDefault(values["audit_capacity"], c.AuditCapacity)
	c.LogLevel = typeutil.SafeStringDefault(values["log_level"], c.LogLevel)

	return c
}

// ToMap converts config to a map.
func (c *GovernorConfig) ToMap() map[string]any {
	return map[string]any{
		"score_threshold":      c.ScoreThreshold,
		"confidence_threshold": c.ConfidenceThreshold,
		"max_retries":          c.MaxRetries,
		"base_delay_ms":        c.BaseDelayMS,
		"requests_per_window":  c.RequestsPerWindow,
		"dedup_ttl_ms":         c.DedupTTLMS,
		"pipeline_timeout_ms":  c.PipelineTimeoutMS,
		"audit_capacity":       c.AuditCapacity,
		"log_level":            c.LogLevel,
	}
}

// Validate checks value ranges.
func (c *GovernorConfig) Validate() error {
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 100 {
		return fmt.Errorf("score_threshold must be in [0,100], got %v", c.ScoreThreshold)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive, got %d", c.MaxRetries)
	}
	if c.BaseDelayMS < 0 {
		return fmt.Errorf("base_delay_ms must be non-negative, got %d", c.BaseDelayMS)
	}
	if c.RequestsPerWindow < 0 {
		return fmt.Errorf("requests_per_window must be non-negative, got %d", c.RequestsPerWindow)
	}
	if c.DedupTTLMS <= 0 {
		return fmt.Errorf("dedup_ttl_ms must be positive, got %d", c.DedupTTLMS)
	}
	if c.PipelineTimeoutMS < 0 {
		return fmt.Errorf("pipeline_timeout_ms must be non-negative, got %d", c.PipelineTimeoutMS)
	}
	if c.AuditCapacity <= 0 {
		return fmt.Errorf("audit_capacity must be positive, got %d", c.AuditCapacity)
	}
	return nil
}

// =============================================================================
// SUB-CONFIG PROJECTION
// =============================================================================

// VerifyConfig projects the verification slice of this config.
func (c *GovernorConfig) VerifyConfig() verify.Config {
	return verify.Config{
		ScoreThreshold:      c.ScoreThreshold,
		ConfidenceThreshold: c.ConfidenceThreshold,
	}
}

// RetryConfig projects the retry slice of this config.
func (c *GovernorConfig) RetryConfig() retry.Config {
	return retry.Config{
		MaxRetries: c.MaxRetries,
		BaseDelay:  time.Duration(c.BaseDelayMS) * time.Millisecond,
	}
}

// RateLimitConfig projects the admission slice of this config.
func (c *GovernorConfig) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		RequestsPerWindow: c.RequestsPerWindow,
	}
}

// DedupTTL returns the deduplication cache TTL.
func (c *GovernorConfig) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLMS) * time.Millisecond
}

// PipelineTimeout returns the caller wait bound. Zero means wait
// indefinitely.
func (c *GovernorConfig) PipelineTimeout() time.Duration {
	return time.Duration(c.PipelineTimeoutMS) * time.Millisecond
}

// =============================================================================
// GLOBAL CONFIG (set by application bootstrap)
// =============================================================================

var (
	globalConfig *GovernorConfig
	configMu     sync.RWMutex
)

// GetGovernorConfig gets the configuration instance.
// Returns the injected config or defaults.
func GetGovernorConfig() *GovernorConfig {
	configMu.RLock()
	defer configMu.RUnlock()

	if globalConfig == nil {
		return DefaultGovernorConfig()
	}
	return globalConfig
}

// SetGovernorConfig sets the configuration instance.
// Called by application bootstrap after parsing its environment.
func SetGovernorConfig(config *GovernorConfig) {
	configMu.Lock()
	defer configMu.Unlock()

	globalConfig = config
}

// ResetGovernorConfig resets config to nil (useful for testing).
// After reset, GetGovernorConfig() returns defaults.
func ResetGovernorConfig() {
	configMu.Lock()
	defer configMu.Unlock()

	globalConfig = nil
}
