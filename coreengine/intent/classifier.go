package intent

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/commbus"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/config"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/kernel"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/llm"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/observability"
)

var tracer = otel.Tracer("zoe/intent")

type stage struct {
	strategy  Strategy
	threshold float64
}

// Classifier runs strategies in order and stops at the first candidate that
// meets its stage threshold. When none does, the result is the fallback
// intent with the last stage's threshold as confidence.
type Classifier struct {
	catalog  *Catalog
	stages   []stage
	fallback string
	bus      commbus.CommBus
	logger   logging.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithBus publishes a ClassificationCompleted event for every result.
func WithBus(bus commbus.CommBus) Option {
	return func(c *Classifier) { c.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// WithStrategy appends a custom stage after the default ones.
func WithStrategy(s Strategy, threshold float64) Option {
	return func(c *Classifier) { c.stages = append(c.stages, stage{strategy: s, threshold: threshold}) }
}

// NewClassifier builds the three-tier cascade from cfg. model may be nil, in
// which case anything tiers 0 and 1 cannot resolve becomes the fallback.
func NewClassifier(catalog *Catalog, model llm.ModelClient, cfg *config.CoreConfig, opts ...Option) *Classifier {
	if cfg == nil {
		cfg = config.GetCoreConfig()
	}
	c := &Classifier{
		catalog:  catalog,
		fallback: cfg.FallbackIntent,
		logger:   logging.Nop(),
		stages: []stage{
			{strategy: NewPatternStrategy(catalog), threshold: cfg.Tier0Threshold},
			{strategy: NewKeywordStrategy(catalog), threshold: cfg.Tier1Threshold},
			{strategy: NewModelStrategy(model, catalog, cfg.Tier2Timeout()), threshold: cfg.Tier2Threshold},
		},
	}
	if c.fallback == "" {
		c.fallback = envelope.IntentConversational
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Bind("component", "classifier")
	return c
}

// Catalog returns the intent catalog.
func (c *Classifier) Catalog() *Catalog { return c.catalog }

// Classify returns exactly one result for utt. It never fails: strategy
// errors degrade to the fallback intent.
func (c *Classifier) Classify(ctx context.Context, utt envelope.Utterance, recent []envelope.Episode) envelope.ClassificationResult {
	ctx, span := tracer.Start(ctx, "intent.classify")
	defer span.End()

	start := time.Now()
	res, _ := c.cascade(ctx, utt, recent, len(c.stages))
	res.Latency = time.Since(start)

	span.SetAttributes(
		attribute.String("intent.tier", res.Tier.String()),
		attribute.String("intent.name", res.Intent),
		attribute.Float64("intent.confidence", res.Confidence),
		attribute.Bool("intent.degraded", res.Degraded),
	)
	c.report(utt, res)
	return res
}

// ClassifyClause classifies text with the deterministic tiers only. ok is
// false when neither tier is confident; the planner then hands the clause
// to a planner step.
func (c *Classifier) ClassifyClause(text string) (envelope.ClassificationResult, bool) {
	utt := envelope.Utterance{Text: text}
	deterministic := 0
	for _, st := range c.stages {
		if st.strategy.Tier() < envelope.Tier2 {
			deterministic++
		}
	}
	return c.cascade(context.Background(), utt, nil, deterministic)
}

func (c *Classifier) cascade(ctx context.Context, utt envelope.Utterance, recent []envelope.Episode, limit int) (envelope.ClassificationResult, bool) {
	var lastErr error
	for _, st := range c.stages[:min(limit, len(c.stages))] {
		cand, ok, err := st.strategy.Propose(ctx, utt, recent)
		if err != nil {
			lastErr = err
			c.logger.Warn("classification_strategy_failed",
				"strategy", st.strategy.Name(),
				"error", err.Error(),
			)
			continue
		}
		if !ok || cand.Confidence < st.threshold {
			continue
		}
		spec, known := c.catalog.Lookup(cand.Intent)
		if !known {
			continue
		}
		return envelope.ClassificationResult{
			Tier:         st.strategy.Tier(),
			Intent:       spec.Name,
			Confidence:   cand.Confidence,
			Strategy:     st.strategy.Name(),
			Slots:        cand.Slots,
			Subsystem:    spec.Subsystem,
			NeedsContext: spec.NeedsContext,
		}, true
	}
	return c.fallbackResult(limit, lastErr), false
}

func (c *Classifier) fallbackResult(limit int, cause error) envelope.ClassificationResult {
	res := envelope.ClassificationResult{
		Tier:         envelope.Tier2,
		Intent:       c.fallback,
		Strategy:     "fallback",
		NeedsContext: true,
	}
	if n := min(limit, len(c.stages)); n > 0 {
		last := c.stages[n-1]
		res.Tier = last.strategy.Tier()
		res.Confidence = last.threshold
	}
	if spec, ok := c.catalog.Lookup(c.fallback); ok {
		res.Subsystem = spec.Subsystem
		res.NeedsContext = spec.NeedsContext
	}
	if cause != nil {
		res.Degraded = true
		res.ErrorKind = envelope.KindOf(cause)
		if res.ErrorKind == "" {
			res.ErrorKind = envelope.KindClassificationTimeout
		}
	}
	return res
}

// report records metrics and publishes telemetry without blocking the caller.
func (c *Classifier) report(utt envelope.Utterance, res envelope.ClassificationResult) {
	observability.RecordClassification(res.Tier.String(), res.Intent, res.Degraded, float64(res.Latency.Microseconds())/1000)
	if c.bus == nil {
		return
	}
	msg := &commbus.ClassificationCompleted{
		UserID:     utt.UserID,
		SessionID:  utt.SessionID,
		Tier:       res.Tier.String(),
		Intent:     res.Intent,
		Confidence: res.Confidence,
		Strategy:   res.Strategy,
		LatencyMS:  res.Latency.Milliseconds(),
		Degraded:   res.Degraded,
		ErrorKind:  string(res.ErrorKind),
		At:         time.Now().UTC(),
	}
	kernel.SafeGo(c.logger, "publish_classification", func() {
		_ = c.bus.Publish(context.Background(), msg)
	}, nil)
}
