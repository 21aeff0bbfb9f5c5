package intent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCatalog(t *testing.T, yaml string) *Catalog {
	t.Helper()
	c, err := ParseCatalog(strings.NewReader(yaml))
	require.NoError(t, err)
	return c
}

func TestPatternStrategySlots(t *testing.T) {
	s := NewPatternStrategy(DefaultCatalog())

	tests := []struct {
		text   string
		intent string
		slots  map[string]string
	}{
		{"turn off the living room lights", "lights.control", map[string]string{"state": "off", "room": "living room"}},
		{"set a timer for 5 minutes", "timer.set", map[string]string{"duration": "5 minutes"}},
		{"add eggs to my shopping list", "list.add", map[string]string{"item": "eggs", "list": "shopping"}},
		{"what did i just tell you", "memory.recall", nil},
		{"what time is it", "time.query", nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cand, ok, err := s.Match(tt.text)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.intent, cand.Intent)
			assert.Equal(t, tt.slots, cand.Slots)
			assert.Equal(t, 1.0, cand.Confidence)
		})
	}

	_, ok, _ := s.Match("turn on the lights and play jazz")
	assert.False(t, ok)
}

func TestKeywordStrategySingleIntentBoost(t *testing.T) {
	c := mustCatalog(t, "intents:\n  - name: a\n    keywords: {x: 1}\n  - name: b\n    keywords: {y: 1}\n")
	cand, ok, err := NewKeywordStrategy(c).Score("x only")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", cand.Intent)
	assert.Equal(t, 1.0, cand.Confidence)
}

func TestKeywordStrategyCloseCompetitionPenalty(t *testing.T) {
	c := mustCatalog(t, "intents:\n  - name: a\n    keywords: {x: 1}\n  - name: b\n    keywords: {y: 0.8}\n")
	cand, ok, _ := NewKeywordStrategy(c).Score("x y")
	require.True(t, ok)
	assert.Equal(t, "a", cand.Intent)
	assert.InDelta(t, (1.0/1.8)*0.8, cand.Confidence, 1e-9)
}

func TestKeywordStrategyMultiHitBoost(t *testing.T) {
	c := mustCatalog(t, "intents:\n  - name: a\n    keywords: {x: 1, z: 1}\n  - name: b\n    keywords: {y: 1}\n")
	cand, ok, _ := NewKeywordStrategy(c).Score("x z y")
	require.True(t, ok)
	assert.Equal(t, "a", cand.Intent)
	assert.InDelta(t, 2.0/3.0+0.1, cand.Confidence, 1e-9)
}

func TestKeywordStrategyWordBoundaries(t *testing.T) {
	c := mustCatalog(t, "intents:\n  - name: a\n    keywords: {list: 1}\n")
	_, ok, _ := NewKeywordStrategy(c).Score("blacklisted")
	assert.False(t, ok)
}

func TestKeywordStrategyTieKeepsCatalogOrder(t *testing.T) {
	c := mustCatalog(t, "intents:\n  - name: first\n    keywords: {x: 1}\n  - name: second\n    keywords: {x: 1}\n")
	cand, ok, _ := NewKeywordStrategy(c).Score("x")
	require.True(t, ok)
	assert.Equal(t, "first", cand.Intent)
}
