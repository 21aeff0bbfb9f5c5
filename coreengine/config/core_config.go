// Package config provides pipeline configuration.
//
// CoreConfig carries the tuned thresholds, timeouts and limits of the
// request pipeline. None of them are constants in code: every component
// receives its values from here. AppConfig (app_config.go) adds the
// infrastructure settings and is loaded with viper.
package config

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// CoreConfig holds pipeline thresholds, timeouts and limits.
type CoreConfig struct {
	// Classifier thresholds (confidence floor per tier)
	Tier0Threshold float64 `json:"tier0_threshold" mapstructure:"tier0_threshold"`
	Tier1Threshold float64 `json:"tier1_threshold" mapstructure:"tier1_threshold"`
	Tier2Threshold float64 `json:"tier2_threshold" mapstructure:"tier2_threshold"`
	FallbackIntent string  `json:"fallback_intent" mapstructure:"fallback_intent"`

	// Timeouts (milliseconds)
	Tier2TimeoutMS    int `json:"tier2_timeout_ms" mapstructure:"tier2_timeout_ms"`
	MemoryTimeoutMS   int `json:"memory_timeout_ms" mapstructure:"memory_timeout_ms"`
	StepTimeoutMS     int `json:"step_timeout_ms" mapstructure:"step_timeout_ms"`
	GenerateTimeoutMS int `json:"generate_timeout_ms" mapstructure:"generate_timeout_ms"`
	OuterTimeoutMS    int `json:"outer_timeout_ms" mapstructure:"outer_timeout_ms"`
	TrackerTimeoutMS  int `json:"tracker_timeout_ms" mapstructure:"tracker_timeout_ms"`

	// Context Validator
	ContextWordThreshold   int `json:"context_word_threshold" mapstructure:"context_word_threshold"`
	ContextClauseThreshold int `json:"context_clause_threshold" mapstructure:"context_clause_threshold"`
	MemorySearchLimit      int `json:"memory_search_limit" mapstructure:"memory_search_limit"`

	// Planner / Executor limits
	MaxParallel  int `json:"max_parallel" mapstructure:"max_parallel"`
	MaxPlanSteps int `json:"max_plan_steps" mapstructure:"max_plan_steps"`

	// Feature flags
	RequireApprovalForSideEffects bool `json:"require_approval_for_side_effects" mapstructure:"require_approval_for_side_effects"`
	ValidateSideEffects           bool `json:"validate_side_effects" mapstructure:"validate_side_effects"`
	RollbackOnFailure             bool `json:"rollback_on_failure" mapstructure:"rollback_on_failure"`
	CaptureEpisodes               bool `json:"capture_episodes" mapstructure:"capture_episodes"`

	// Retention
	SessionTTLSeconds int `json:"session_ttl_seconds" mapstructure:"session_ttl_seconds"`
	TrackerQueueSize  int `json:"tracker_queue_size" mapstructure:"tracker_queue_size"`

	// Logging
	LogLevel string `json:"log_level" mapstructure:"log_level"`
}

// DefaultCoreConfig returns a CoreConfig with default values.
func DefaultCoreConfig() *CoreConfig {
	return &CoreConfig{
		Tier0Threshold: 0.9,
		Tier1Threshold: 0.6,
		Tier2Threshold: 0.5,
		FallbackIntent: "conversational",

		Tier2TimeoutMS:    1500,
		MemoryTimeoutMS:   5000,
		StepTimeoutMS:     8000,
		GenerateTimeoutMS: 6000,
		OuterTimeoutMS:    25000,
		TrackerTimeoutMS:  2000,

		ContextWordThreshold:   16,
		ContextClauseThreshold: 2,
		MemorySearchLimit:      5,

		MaxParallel:  4,
		MaxPlanSteps: 8,

		RequireApprovalForSideEffects: false,
		ValidateSideEffects:           false,
		RollbackOnFailure:             true,
		CaptureEpisodes:               true,

		SessionTTLSeconds: 600,
		TrackerQueueSize:  256,

		LogLevel: "INFO",
	}
}

// Tier2Timeout returns the inner deadline of model classification.
func (c *CoreConfig) Tier2Timeout() time.Duration { return ms(c.Tier2TimeoutMS) }

// MemoryTimeout returns the inner deadline of memory search.
func (c *CoreConfig) MemoryTimeout() time.Duration { return ms(c.MemoryTimeoutMS) }

// StepTimeout returns the inner deadline of one step execution.
func (c *CoreConfig) StepTimeout() time.Duration { return ms(c.StepTimeoutMS) }

// GenerateTimeout returns the inner deadline of reply generation.
func (c *CoreConfig) GenerateTimeout() time.Duration { return ms(c.GenerateTimeoutMS) }

// OuterTimeout returns the authoritative pipeline deadline.
func (c *CoreConfig) OuterTimeout() time.Duration { return ms(c.OuterTimeoutMS) }

// TrackerTimeout returns the deadline of one satisfaction upsert.
func (c *CoreConfig) TrackerTimeout() time.Duration { return ms(c.TrackerTimeoutMS) }

// SessionTTL returns how long a delivered interaction stays retained.
func (c *CoreConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// CoreConfigFromMap creates CoreConfig from a map. Unknown keys are ignored.
// Values may be ints, floats, bools or their string forms (environment
// overrides arrive as strings).
func CoreConfigFromMap(m map[string]any) *CoreConfig {
	c := DefaultCoreConfig()

	floatField(m, "tier0_threshold", &c.Tier0Threshold)
	floatField(m, "tier1_threshold", &c.Tier1Threshold)
	floatField(m, "tier2_threshold", &c.Tier2Threshold)
	stringField(m, "fallback_intent", &c.FallbackIntent)

	intField(m, "tier2_timeout_ms", &c.Tier2TimeoutMS)
	intField(m, "memory_timeout_ms", &c.MemoryTimeoutMS)
	intField(m, "step_timeout_ms", &c.StepTimeoutMS)
	intField(m, "generate_timeout_ms", &c.GenerateTimeoutMS)
	intField(m, "outer_timeout_ms", &c.OuterTimeoutMS)
	intField(m, "tracker_timeout_ms", &c.TrackerTimeoutMS)

	intField(m, "context_word_threshold", &c.ContextWordThreshold)
	intField(m, "context_clause_threshold", &c.ContextClauseThreshold)
	intField(m, "memory_search_limit", &c.MemorySearchLimit)

	intField(m, "max_parallel", &c.MaxParallel)
	intField(m, "max_plan_steps", &c.MaxPlanSteps)

	boolField(m, "require_approval_for_side_effects", &c.RequireApprovalForSideEffects)
	boolField(m, "validate_side_effects", &c.ValidateSideEffects)
	boolField(m, "rollback_on_failure", &c.RollbackOnFailure)
	boolField(m, "capture_episodes", &c.CaptureEpisodes)

	intField(m, "session_ttl_seconds", &c.SessionTTLSeconds)
	intField(m, "tracker_queue_size", &c.TrackerQueueSize)

	stringField(m, "log_level", &c.LogLevel)

	return c
}

// ToMap converts config to a map.
func (c *CoreConfig) ToMap() map[string]any {
	return map[string]any{
		"tier0_threshold":                   c.Tier0Threshold,
		"tier1_threshold":                   c.Tier1Threshold,
		"tier2_threshold":                   c.Tier2Threshold,
		"fallback_intent":                   c.FallbackIntent,
		"tier2_timeout_ms":                  c.Tier2TimeoutMS,
		"memory_timeout_ms":                 c.MemoryTimeoutMS,
		"step_timeout_ms":                   c.StepTimeoutMS,
		"generate_timeout_ms":               c.GenerateTimeoutMS,
		"outer_timeout_ms":                  c.OuterTimeoutMS,
		"tracker_timeout_ms":                c.TrackerTimeoutMS,
		"context_word_threshold":            c.ContextWordThreshold,
		"context_clause_threshold":          c.ContextClauseThreshold,
		"memory_search_limit":               c.MemorySearchLimit,
		"max_parallel":                      c.MaxParallel,
		"max_plan_steps":                    c.MaxPlanSteps,
		"require_approval_for_side_effects": c.RequireApprovalForSideEffects,
		"validate_side_effects":             c.ValidateSideEffects,
		"rollback_on_failure":               c.RollbackOnFailure,
		"capture_episodes":                  c.CaptureEpisodes,
		"session_ttl_seconds":               c.SessionTTLSeconds,
		"tracker_queue_size":                c.TrackerQueueSize,
		"log_level":                         c.LogLevel,
	}
}

func intField(m map[string]any, key string, dst *int) {
	switch v := m[key].(type) {
	case int:
		*dst = v
	case int64:
		*dst = int(v)
	case float64:
		*dst = int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func floatField(m map[string]any, key string, dst *float64) {
	switch v := m[key].(type) {
	case float64:
		*dst = v
	case int:
		*dst = float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func boolField(m map[string]any, key string, dst *bool) {
	switch v := m[key].(type) {
	case bool:
		*dst = v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func stringField(m map[string]any, key string, dst *string) {
	if v, ok := m[key].(string); ok && v != "" {
		*dst = v
	}
}

// =============================================================================
// GLOBAL CONFIG (set by the serve command after loading)
// =============================================================================

var (
	globalCoreConfig *CoreConfig
	configMu         sync.RWMutex
)

// GetCoreConfig returns the injected config or defaults.
func GetCoreConfig() *CoreConfig {
	configMu.RLock()
	defer configMu.RUnlock()

	if globalCoreConfig == nil {
		return DefaultCoreConfig()
	}
	return globalCoreConfig
}

// SetCoreConfig sets the core configuration instance.
func SetCoreConfig(config *CoreConfig) {
	configMu.Lock()
	defer configMu.Unlock()

	globalCoreConfig = config
}

// ResetCoreConfig resets core config to nil (useful for testing).
func ResetCoreConfig() {
	configMu.Lock()
	defer configMu.Unlock()

	globalCoreConfig = nil
}
