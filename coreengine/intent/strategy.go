// Package intent classifies utterances with an ordered cascade of
// strategies: deterministic patterns, weighted keywords, then a model.
package intent

import (
	"context"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
)

// Candidate is one strategy's proposal.
type Candidate struct {
	Intent     string
	Confidence float64
	Slots      map[string]string
}

// Strategy proposes an intent for an utterance. ok is false when the
// strategy has nothing to say; err reports a failed attempt.
type Strategy interface {
	Name() string
	Tier() envelope.Tier
	Propose(ctx context.Context, utt envelope.Utterance, recent []envelope.Episode) (c Candidate, ok bool, err error)
}
