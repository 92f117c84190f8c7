package config

import (
	"testing"
	"time"
)

func TestDefaultGovernorConfig(t *testing.T) {
	c := DefaultGovernorConfig()

	if c.ScoreThreshold != 70 {
		t.Errorf("expected score threshold 70, got %v", c.ScoreThreshold)
	}
	if c.MaxRetries != 3 {
		t.Errorf("expected max retries 3, got %d", c.MaxRetries)
	}
	if c.RequestsPerWindow != 60 {
		t.Errorf("expected 60 requests per window, got %d", c.RequestsPerWindow)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestGovernorConfigFromMap(t *testing.T) {
	c := GovernorConfigFromMap(map[string]any{
		"score_threshold": 80.0,
		"max_retries":     float64(5), // JSON numbers arrive as float64
		"log_level":       "DEBUG",
		"unknown_key":     "ignored",
	})

	if c.ScoreThreshold != 80 {
		t.Errorf("expected score threshold 80, got %v", c.ScoreThreshold)
	}
	if c.MaxRetries != 5 {
		t.Errorf("expected max retries 5, got %d", c.MaxRetries)
	}
	if c.LogLevel != "DEBUG" {
		t.Errorf("expected log level DEBUG, got %q", c.LogLevel)
	}
	// Missing keys keep defaults.
	if c.ConfidenceThreshold != 0.7 {
		t.Errorf("expected default confidence threshold, got %v", c.ConfidenceThreshold)
	}
}

func TestGovernorConfig_RoundTrip(t *testing.T) {
	original := DefaultGovernorConfig()
	original.ScoreThreshold = 85
	original.DedupTTLMS = 45000

	restored := GovernorConfigFromMap(original.ToMap())
	if restored.ScoreThreshold != 85 || restored.DedupTTLMS != 45000 {
		t.Errorf("round trip lost values: %+v", restored)
	}
}

func TestGovernorConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GovernorConfig)
	}{
		{"score threshold too high", func(c *GovernorConfig) { c.ScoreThreshold = 101 }},
		{"negative score threshold", func(c *GovernorConfig) { c.ScoreThreshold = -1 }},
		{"confidence above 1", func(c *GovernorConfig) { c.ConfidenceThreshold = 1.5 }},
		{"zero max retries", func(c *GovernorConfig) { c.MaxRetries = 0 }},
		{"negative base delay", func(c *GovernorConfig) { c.BaseDelayMS = -1 }},
		{"zero dedup ttl", func(c *GovernorConfig) { c.DedupTTLMS = 0 }},
		{"zero audit capacity", func(c *GovernorConfig) { c.AuditCapacity = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultGovernorConfig()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestGovernorConfig_Projections(t *testing.T) {
	c := DefaultGovernorConfig()

	if rc := c.RetryConfig(); rc.MaxRetries != 3 || rc.BaseDelay != 500*time.Millisecond {
		t.Errorf("unexpected retry config: %+v", rc)
	}
	if vc := c.VerifyConfig(); vc.ScoreThreshold != 70 || vc.ConfidenceThreshold != 0.7 {
		t.Errorf("unexpected verify config: %+v", vc)
	}
	if lc := c.RateLimitConfig(); lc.RequestsPerWindow != 60 {
		t.Errorf("unexpected ratelimit config: %+v", lc)
	}
	if c.DedupTTL() != 30*time.Second {
		t.Errorf("unexpected dedup ttl: %v", c.DedupTTL())
	}
	if c.PipelineTimeout() != 2*time.Minute {
		t.Errorf("unexpected pipeline timeout: %v", c.PipelineTimeout())
	}
}

func TestGlobalGovernorConfig(t *testing.T) {
	defer ResetGovernorConfig()

	if GetGovernorConfig().ScoreThreshold != 70 {
		t.Error("unset global should return defaults")
	}

	custom := DefaultGovernorConfig()
	custom.ScoreThreshold = 90
	SetGovernorConfig(custom)
	if GetGovernorConfig().ScoreThreshold != 90 {
		t.Error("global config should return the injected instance")
	}

	ResetGovernorConfig()
	if GetGovernorConfig().ScoreThreshold != 70 {
		t.Error("reset should restore defaults")
	}
}
