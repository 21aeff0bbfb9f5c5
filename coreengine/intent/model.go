package intent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/llm"
)

// ModelStrategy is tier 2: the model picks one catalog label. The call runs
// under its own deadline; exceeding it yields a ClassificationTimeout.
type ModelStrategy struct {
	client  llm.ModelClient
	labels  []string
	timeout time.Duration
}

// NewModelStrategy creates the tier-2 strategy. A nil client never proposes.
func NewModelStrategy(client llm.ModelClient, c *Catalog, timeout time.Duration) *ModelStrategy {
	return &ModelStrategy{client: client, labels: c.Labels(), timeout: timeout}
}

func (s *ModelStrategy) Name() string        { return "model" }
func (s *ModelStrategy) Tier() envelope.Tier { return envelope.Tier2 }

func (s *ModelStrategy) Propose(ctx context.Context, utt envelope.Utterance, recent []envelope.Episode) (Candidate, bool, error) {
	if s.client == nil {
		return Candidate{}, false, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.client.Classify(callCtx, modelInput(utt, recent), s.labels)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Candidate{}, false, &envelope.ClassificationTimeout{Budget: s.timeout, Cause: err}
		}
		return Candidate{}, false, fmt.Errorf("model classification: %w", err)
	}
	return Candidate{Intent: res.Label, Confidence: res.Confidence}, true, nil
}

// modelInput prefixes the utterance with the most recent turns so the model
// can resolve references like "do that again". recent may arrive ranked by
// relevance, so turns are ordered by timestamp before the last three are kept.
func modelInput(utt envelope.Utterance, recent []envelope.Episode) string {
	if len(recent) == 0 {
		return utt.Text
	}
	turns := append([]envelope.Episode(nil), recent...)
	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].Timestamp.Before(turns[j].Timestamp)
	})
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	start := max(0, len(turns)-3)
	for _, ep := range turns[start:] {
		b.WriteString("- ")
		b.WriteString(ep.Text)
		b.WriteByte('\n')
	}
	b.WriteString("Message: ")
	b.WriteString(utt.Text)
	return b.String()
}
