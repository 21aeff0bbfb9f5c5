package intent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/commbus"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/config"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/llm"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/testutil"
)

func newTestClassifier(model *testutil.MockModelClient, mutate func(*config.CoreConfig), opts ...Option) *Classifier {
	cfg := config.DefaultCoreConfig()
	if mutate != nil {
		mutate(cfg)
	}
	if model == nil {
		return NewClassifier(DefaultCatalog(), nil, cfg, opts...)
	}
	return NewClassifier(DefaultCatalog(), model, cfg, opts...)
}

func TestClassifyTier0PatternWithSlots(t *testing.T) {
	model := testutil.NewMockModelClient()
	c := newTestClassifier(model, nil)

	res := c.Classify(context.Background(), testutil.Utterance("Turn on the kitchen lights."), nil)

	assert.Equal(t, envelope.Tier0, res.Tier)
	assert.Equal(t, "lights.control", res.Intent)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, map[string]string{"state": "on", "room": "kitchen"}, res.Slots)
	assert.Equal(t, "smart_home", res.Subsystem)
	assert.False(t, res.NeedsContext)
	assert.Equal(t, "pattern", res.Strategy)
	assert.Zero(t, model.ClassifyCalls(), "tier 0 must exit before the model")
}

func TestClassifyTier1Keywords(t *testing.T) {
	model := testutil.NewMockModelClient()
	c := newTestClassifier(model, nil)

	res := c.Classify(context.Background(), testutil.Utterance("could you dim the lamp a bit"), nil)

	assert.Equal(t, envelope.Tier1, res.Tier)
	assert.Equal(t, "lights.control", res.Intent)
	assert.GreaterOrEqual(t, res.Confidence, 0.6)
	assert.Zero(t, model.ClassifyCalls())
}

func TestClassifyTier2Model(t *testing.T) {
	model := testutil.NewMockModelClient().WithLabel("journal.write", 0.8)
	c := newTestClassifier(model, nil)

	res := c.Classify(context.Background(), testutil.Utterance("tell me a story about dragons"), nil)

	assert.Equal(t, envelope.Tier2, res.Tier)
	assert.Equal(t, "journal.write", res.Intent)
	assert.Equal(t, 0.8, res.Confidence)
	assert.True(t, res.NeedsContext)
	assert.False(t, res.Degraded)
	assert.Equal(t, 1, model.ClassifyCalls())
}

func TestClassifyTier2TimeoutFallsBack(t *testing.T) {
	model := testutil.NewMockModelClient().WithLabel("journal.write", 0.9).WithDelay(time.Second)
	c := newTestClassifier(model, func(cfg *config.CoreConfig) { cfg.Tier2TimeoutMS = 20 })

	start := time.Now()
	res := c.Classify(context.Background(), testutil.Utterance("tell me a story about dragons"), nil)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, envelope.Tier2, res.Tier)
	assert.Equal(t, envelope.IntentConversational, res.Intent)
	assert.True(t, res.Degraded)
	assert.Equal(t, envelope.KindClassificationTimeout, res.ErrorKind)
	assert.Equal(t, 0.5, res.Confidence)
}

func TestClassifyTier2ErrorFallsBack(t *testing.T) {
	model := testutil.NewMockModelClient().WithError(errors.New("connection refused"))
	c := newTestClassifier(model, nil)

	res := c.Classify(context.Background(), testutil.Utterance("tell me a story about dragons"), nil)

	assert.Equal(t, envelope.IntentConversational, res.Intent)
	assert.True(t, res.Degraded)
	assert.NotEmpty(t, res.ErrorKind)
}

func TestClassifyTier2BelowThresholdFallsBack(t *testing.T) {
	model := testutil.NewMockModelClient().WithLabel("journal.write", 0.2)
	c := newTestClassifier(model, nil)

	res := c.Classify(context.Background(), testutil.Utterance("tell me a story about dragons"), nil)

	assert.Equal(t, envelope.IntentConversational, res.Intent)
	assert.Equal(t, 0.5, res.Confidence)
	assert.False(t, res.Degraded)
}

func TestClassifyUnknownModelLabelFallsBack(t *testing.T) {
	model := testutil.NewMockModelClient().WithLabel("weather.forecast", 0.95)
	c := newTestClassifier(model, nil)

	res := c.Classify(context.Background(), testutil.Utterance("tell me a story about dragons"), nil)

	assert.Equal(t, envelope.IntentConversational, res.Intent)
}

func TestClassifyWithoutModel(t *testing.T) {
	c := newTestClassifier(nil, nil)

	res := c.Classify(context.Background(), testutil.Utterance("tell me a story about dragons"), nil)

	assert.Equal(t, envelope.Tier2, res.Tier)
	assert.Equal(t, envelope.IntentConversational, res.Intent)
	assert.False(t, res.Degraded)
}

func TestClassifyPassesRecentEpisodesToModel(t *testing.T) {
	var seen string
	model := testutil.NewMockModelClient()
	model.ClassifyFunc = func(ctx context.Context, text string, labels []string) (llm.Classification, error) {
		seen = text
		return llm.Classification{Label: "conversational", Confidence: 0.9}, nil
	}
	c := newTestClassifier(model, nil)
	recent := []envelope.Episode{testutil.Episode("e1", "u1", "I like jazz", time.Minute)}

	c.Classify(context.Background(), testutil.Utterance("do that again"), recent)

	assert.True(t, strings.Contains(seen, "I like jazz"))
	assert.True(t, strings.HasSuffix(seen, "Message: do that again"))
}

func TestModelInputKeepsLatestTurnsInTimeOrder(t *testing.T) {
	// Ranked by relevance, not time.
	recent := []envelope.Episode{
		testutil.Episode("e1", "u1", "newest turn", time.Minute),
		testutil.Episode("e2", "u1", "oldest turn", 5*time.Hour),
		testutil.Episode("e3", "u1", "third turn", 3*time.Hour),
		testutil.Episode("e4", "u1", "second turn", 4*time.Hour),
		testutil.Episode("e5", "u1", "fourth turn", 2*time.Hour),
	}

	got := modelInput(testutil.Utterance("do that again"), recent)

	assert.Equal(t, "Recent conversation:\n- third turn\n- fourth turn\n- newest turn\nMessage: do that again", got)
	assert.Equal(t, "newest turn", recent[0].Text)
}

// Every result meets the threshold of the tier that produced it.
func TestClassifyConfidenceMeetsTierThreshold(t *testing.T) {
	cfg := config.DefaultCoreConfig()
	thresholds := map[envelope.Tier]float64{
		envelope.Tier0: cfg.Tier0Threshold,
		envelope.Tier1: cfg.Tier1Threshold,
		envelope.Tier2: cfg.Tier2Threshold,
	}
	inputs := []string{
		"turn off the bedroom lights",
		"play some jazz",
		"set a timer for 10 minutes",
		"what time is it",
		"hello",
		"add milk to my shopping list",
		"what's on my shopping list",
		"what did i just tell you",
		"I need the calendar for the meeting",
		"turn on the lights and play jazz",
		"music lights timer calendar",
		"",
		"blorp",
	}
	models := []*testutil.MockModelClient{
		nil,
		testutil.NewMockModelClient().WithLabel("music.play", 0.55),
		testutil.NewMockModelClient().WithLabel("music.play", 0.1),
		testutil.NewMockModelClient().WithError(errors.New("x")),
	}
	for _, m := range models {
		c := newTestClassifier(m, nil)
		for _, in := range inputs {
			res := c.Classify(context.Background(), testutil.Utterance(in), nil)
			assert.GreaterOrEqual(t, res.Confidence, thresholds[res.Tier], "input %q tier %s", in, res.Tier)
			assert.NotEmpty(t, res.Intent)
		}
	}
}

func TestClassifyPublishesTelemetry(t *testing.T) {
	bus := commbus.NewInMemoryCommBus(time.Second, nil)
	got := make(chan *commbus.ClassificationCompleted, 1)
	bus.Subscribe("ClassificationCompleted", func(ctx context.Context, msg commbus.Message) (any, error) {
		got <- msg.(*commbus.ClassificationCompleted)
		return nil, nil
	})
	c := newTestClassifier(nil, nil, WithBus(bus))

	c.Classify(context.Background(), testutil.Utterance("play some jazz"), nil)

	select {
	case ev := <-got:
		assert.Equal(t, "music.play", ev.Intent)
		assert.Equal(t, "tier0", ev.Tier)
		assert.Equal(t, "u1", ev.UserID)
	case <-time.After(time.Second):
		t.Fatal("no telemetry event published")
	}
}

func TestClassifyTelemetryDoesNotBlock(t *testing.T) {
	bus := commbus.NewInMemoryCommBus(time.Second, nil)
	release := make(chan struct{})
	defer close(release)
	bus.Subscribe("ClassificationCompleted", func(ctx context.Context, msg commbus.Message) (any, error) {
		<-release
		return nil, nil
	})
	c := newTestClassifier(nil, nil, WithBus(bus))

	done := make(chan struct{})
	go func() {
		c.Classify(context.Background(), testutil.Utterance("hello"), nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("classify waited on a telemetry subscriber")
	}
}

func TestClassifyClauseUsesDeterministicTiersOnly(t *testing.T) {
	model := testutil.NewMockModelClient().WithLabel("music.play", 0.99)
	c := newTestClassifier(model, nil)

	res, ok := c.ClassifyClause("play jazz")
	require.True(t, ok)
	assert.Equal(t, "music.play", res.Intent)
	assert.Equal(t, "jazz", res.Slots["query"])

	_, ok = c.ClassifyClause("do the thing with the stuff")
	assert.False(t, ok)
	assert.Zero(t, model.ClassifyCalls())
}
