package intent

import (
	"context"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
)

// PatternStrategy is tier 0: anchored regex commands with named groups as
// slots. A match is certain.
type PatternStrategy struct {
	catalog *Catalog
}

// NewPatternStrategy creates the tier-0 strategy.
func NewPatternStrategy(c *Catalog) *PatternStrategy {
	return &PatternStrategy{catalog: c}
}

func (s *PatternStrategy) Name() string        { return "pattern" }
func (s *PatternStrategy) Tier() envelope.Tier { return envelope.Tier0 }

// Propose returns the first catalog pattern matching the normalized text.
func (s *PatternStrategy) Propose(_ context.Context, utt envelope.Utterance, _ []envelope.Episode) (Candidate, bool, error) {
	return s.Match(utt.Normalized())
}

// Match runs the patterns against already normalized text.
func (s *PatternStrategy) Match(text string) (Candidate, bool, error) {
	for _, spec := range s.catalog.specs {
		for _, re := range spec.compiled {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			var slots map[string]string
			for i, name := range re.SubexpNames() {
				if name == "" || i >= len(m) || m[i] == "" {
					continue
				}
				if slots == nil {
					slots = make(map[string]string)
				}
				slots[name] = m[i]
			}
			return Candidate{Intent: spec.Name, Confidence: 1.0, Slots: slots}, true, nil
		}
	}
	return Candidate{}, false, nil
}
