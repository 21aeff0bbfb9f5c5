package contextgate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/config"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
)

type fakeSubsystems map[string][]string

func (f fakeSubsystems) Subsystems(text string) []string { return f[text] }

func utt(text string) envelope.Utterance {
	return envelope.NewUtterance(text, "u1", "s1")
}

func TestShouldFetchContextRules(t *testing.T) {
	cfg := config.DefaultCoreConfig()
	subs := fakeSubsystems{"dim the lights and play jazz": {"smart_home", "music"}}
	v := NewValidator(cfg, subs)

	tier0NoData := envelope.ClassificationResult{Tier: envelope.Tier0, Intent: "lights.control"}
	tier1NoData := envelope.ClassificationResult{Tier: envelope.Tier1, Intent: "lights.control"}
	tier2Data := envelope.ClassificationResult{Tier: envelope.Tier2, Intent: "conversational", NeedsContext: true}

	tests := []struct {
		name   string
		res    envelope.ClassificationResult
		text   string
		fetch  bool
		reason string
	}{
		{"memory trigger beats tier 0", tier0NoData, "What did I just tell you?", true, ReasonMemoryTrigger},
		{"remember", tier2Data, "do you remember my sister's name", true, ReasonMemoryTrigger},
		{"connector", tier1NoData, "turn on the lights and then lock up", true, ReasonMultiSubsystem},
		{"also", tier1NoData, "also turn on the lights", true, ReasonMultiSubsystem},
		{"two subsystems", tier1NoData, "dim the lights and play jazz", true, ReasonMultiSubsystem},
		{"long", tier1NoData, "please could you kindly make it so that every single light in this whole big house is on right now", true, ReasonLongUtterance},
		{"many clauses", tier1NoData, "lights on, heat up; fan off", true, ReasonMultiClause},
		{"tier 0 no data", tier0NoData, "Turn on the kitchen lights", false, ReasonDeterministicNoData},
		{"no data dependency", tier1NoData, "could you dim the lamp", false, ReasonNoDataDependency},
		{"needs data", tier2Data, "tell me something nice", true, ReasonDefaultFetch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetch, reason := v.ShouldFetchContext(tt.res, utt(tt.text))
			assert.Equal(t, tt.fetch, fetch)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestThresholdsComeFromConfig(t *testing.T) {
	cfg := config.DefaultCoreConfig()
	cfg.ContextWordThreshold = 3
	v := NewValidator(cfg, nil)

	d := v.Decide(envelope.ClassificationResult{Tier: envelope.Tier1}, utt("dim the lamp now please"))
	assert.True(t, d.Fetch)
	assert.Equal(t, ReasonLongUtterance, d.Reason)
}

func TestWordAndClauseCount(t *testing.T) {
	assert.Equal(t, 0, WordCount(""))
	assert.Equal(t, 4, WordCount("  turn   on the lights "))

	assert.Equal(t, 1, ClauseCount("turn on the lights"))
	assert.Equal(t, 2, ClauseCount("turn on the lights and play jazz"))
	assert.Equal(t, 3, ClauseCount("lights on, heat up; fan off"))
	assert.Equal(t, 2, ClauseCount("set a timer then play music"))
	assert.Equal(t, 0, ClauseCount(""))
}
