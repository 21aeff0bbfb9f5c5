package intent

import (
	"context"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
)

// KeywordStrategy is tier 1: weighted keyword hits per intent.
//
// Confidence is the winner's share of the total score, boosted when only
// one intent matched or the winner had several hits, and penalized when the
// runner-up is within 30% of the winner.
type KeywordStrategy struct {
	catalog *Catalog
}

// NewKeywordStrategy creates the tier-1 strategy.
func NewKeywordStrategy(c *Catalog) *KeywordStrategy {
	return &KeywordStrategy{catalog: c}
}

func (s *KeywordStrategy) Name() string        { return "keyword" }
func (s *KeywordStrategy) Tier() envelope.Tier { return envelope.Tier1 }

func (s *KeywordStrategy) Propose(_ context.Context, utt envelope.Utterance, _ []envelope.Episode) (Candidate, bool, error) {
	return s.Score(utt.Normalized())
}

// Score ranks intents for already normalized text.
func (s *KeywordStrategy) Score(text string) (Candidate, bool, error) {
	var (
		total      float64
		best       *Spec
		bestScore  float64
		bestHits   int
		second     float64
		matchedAny int
	)

	for _, spec := range s.catalog.specs {
		var score float64
		var hits int
		for _, kw := range spec.keywords {
			if kw.regex.MatchString(text) {
				score += kw.weight
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		matchedAny++
		total += score
		// Strictly greater keeps catalog order on ties.
		if score > bestScore {
			second = bestScore
			best, bestScore, bestHits = spec, score, hits
		} else if score > second {
			second = score
		}
	}

	if best == nil || total == 0 {
		return Candidate{}, false, nil
	}

	confidence := bestScore / total
	if matchedAny == 1 {
		confidence = min(confidence+0.25, 1.0)
	}
	if bestHits >= 2 {
		confidence = min(confidence+0.1, 1.0)
	}
	if second > 0 && (bestScore-second)/bestScore < 0.3 {
		confidence *= 0.8
	}

	return Candidate{Intent: best.Name, Confidence: confidence}, true, nil
}
