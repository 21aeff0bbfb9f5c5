package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// DEFAULT CONFIG TESTS
// =============================================================================

func TestDefaultCoreConfig(t *testing.T) {
	config := DefaultCoreConfig()

	// Classifier
	assert.Equal(t, 0.9, config.Tier0Threshold)
	assert.Equal(t, 0.6, config.Tier1Threshold)
	assert.Equal(t, 0.5, config.Tier2Threshold)
	assert.Equal(t, "conversational", config.FallbackIntent)

	// Timeouts
	assert.Equal(t, 1500*time.Millisecond, config.Tier2Timeout())
	assert.Equal(t, 5*time.Second, config.MemoryTimeout())
	assert.Equal(t, 8*time.Second, config.StepTimeout())
	assert.Equal(t, 6*time.Second, config.GenerateTimeout())
	assert.Equal(t, 25*time.Second, config.OuterTimeout())
	assert.Equal(t, 2*time.Second, config.TrackerTimeout())

	// Limits
	assert.Equal(t, 4, config.MaxParallel)
	assert.Equal(t, 8, config.MaxPlanSteps)
	assert.Equal(t, 5, config.MemorySearchLimit)

	// Flags
	assert.False(t, config.RequireApprovalForSideEffects)
	assert.True(t, config.RollbackOnFailure)
	assert.True(t, config.CaptureEpisodes)

	assert.Equal(t, 10*time.Minute, config.SessionTTL())
	assert.Equal(t, "INFO", config.LogLevel)
}

// =============================================================================
// FROM MAP TESTS
// =============================================================================

func TestCoreConfigFromMapPartial(t *testing.T) {
	config := CoreConfigFromMap(map[string]any{
		"max_parallel":     2,
		"outer_timeout_ms": 1000,
	})

	assert.Equal(t, 2, config.MaxParallel)
	assert.Equal(t, time.Second, config.OuterTimeout())

	// Defaults preserved
	assert.Equal(t, 5000, config.MemoryTimeoutMS)
	assert.Equal(t, 0.9, config.Tier0Threshold)
}

func TestCoreConfigFromMapUnknownKeysIgnored(t *testing.T) {
	config := CoreConfigFromMap(map[string]any{
		"max_plan_steps": 12,
		"unknown_key":    "should be ignored",
	})

	assert.Equal(t, 12, config.MaxPlanSteps)
}

func TestCoreConfigFromMapWithFloats(t *testing.T) {
	// JSON numbers decode as float64.
	config := CoreConfigFromMap(map[string]any{
		"max_parallel":      float64(3),
		"tier2_timeout_ms":  float64(900),
		"tier1_threshold":   0.55,
		"tier0_threshold":   1,
	})

	assert.Equal(t, 3, config.MaxParallel)
	assert.Equal(t, 900, config.Tier2TimeoutMS)
	assert.Equal(t, 0.55, config.Tier1Threshold)
	assert.Equal(t, 1.0, config.Tier0Threshold)
}

func TestCoreConfigFromMapStrings(t *testing.T) {
	// Environment overrides arrive as strings.
	config := CoreConfigFromMap(map[string]any{
		"max_parallel":                      "6",
		"tier2_threshold":                   "0.4",
		"require_approval_for_side_effects": "true",
		"memory_timeout_ms":                 "not-a-number",
	})

	assert.Equal(t, 6, config.MaxParallel)
	assert.Equal(t, 0.4, config.Tier2Threshold)
	assert.True(t, config.RequireApprovalForSideEffects)
	assert.Equal(t, 5000, config.MemoryTimeoutMS)
}

func TestCoreConfigFromMapBools(t *testing.T) {
	config := CoreConfigFromMap(map[string]any{
		"rollback_on_failure": false,
		"capture_episodes":    false,
	})

	assert.False(t, config.RollbackOnFailure)
	assert.False(t, config.CaptureEpisodes)
}

// =============================================================================
// TO MAP TESTS
// =============================================================================

func TestCoreConfigToMap(t *testing.T) {
	configMap := DefaultCoreConfig().ToMap()

	assert.Equal(t, 4, configMap["max_parallel"])
	assert.Equal(t, 25000, configMap["outer_timeout_ms"])
	assert.Equal(t, true, configMap["rollback_on_failure"])
	assert.Equal(t, "INFO", configMap["log_level"])
}

func TestCoreConfigRoundTrip(t *testing.T) {
	original := DefaultCoreConfig()
	original.MaxParallel = 7
	original.Tier1Threshold = 0.42

	assert.Equal(t, original, CoreConfigFromMap(original.ToMap()))
}

// =============================================================================
// GLOBAL CONFIG TESTS
// =============================================================================

func TestGetCoreConfigDefault(t *testing.T) {
	ResetCoreConfig()

	assert.Equal(t, 4, GetCoreConfig().MaxParallel)
}

func TestSetAndGetCoreConfig(t *testing.T) {
	defer ResetCoreConfig()

	customConfig := DefaultCoreConfig()
	customConfig.MaxParallel = 1
	SetCoreConfig(customConfig)

	assert.Equal(t, 1, GetCoreConfig().MaxParallel)
}

func TestResetCoreConfig(t *testing.T) {
	customConfig := DefaultCoreConfig()
	customConfig.MaxParallel = 9
	SetCoreConfig(customConfig)

	ResetCoreConfig()

	assert.Equal(t, 4, GetCoreConfig().MaxParallel)
}
