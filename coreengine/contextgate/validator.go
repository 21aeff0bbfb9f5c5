// Package contextgate decides whether a request needs episodic memory
// before planning.
package contextgate

import (
	"regexp"
	"strings"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/config"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/observability"
)

// Decision reasons.
const (
	ReasonMemoryTrigger       = "memory_trigger"
	ReasonMultiSubsystem      = "multi_subsystem"
	ReasonLongUtterance       = "long_utterance"
	ReasonMultiClause         = "multi_clause"
	ReasonDeterministicNoData = "deterministic_no_data_dependency"
	ReasonNoDataDependency    = "no_data_dependency"
	ReasonDefaultFetch        = "default_fetch"
)

var (
	memoryTriggers = []*regexp.Regexp{
		regexp.MustCompile(`\bwhat did i\b`),
		regexp.MustCompile(`\b(?:do you )?remember\b`),
		regexp.MustCompile(`\b(?:i|we) (?:told|said|mentioned)\b`),
		regexp.MustCompile(`\b(?:last time|earlier|yesterday)\b`),
		regexp.MustCompile(`\bagain\b`),
		regexp.MustCompile(`\bmy (?:usual|favou?rite)\b`),
	}
	multiStepConnectors = regexp.MustCompile(`\b(?:and then|after that|also)\b`)
	clauseSplitter      = regexp.MustCompile(`\s*(?:,|;|\band then\b|\bafter that\b|\bthen\b|\band\b|\balso\b)\s*`)
)

// SubsystemDetector names the subsystems an utterance mentions.
type SubsystemDetector interface {
	Subsystems(text string) []string
}

// Validator applies the fetch/skip rules in a fixed order.
type Validator struct {
	cfg        *config.CoreConfig
	subsystems SubsystemDetector
}

// NewValidator creates a Validator. subsystems may be nil.
func NewValidator(cfg *config.CoreConfig, subsystems SubsystemDetector) *Validator {
	if cfg == nil {
		cfg = config.GetCoreConfig()
	}
	return &Validator{cfg: cfg, subsystems: subsystems}
}

// ShouldFetchContext reports whether memory should be searched and why.
func (v *Validator) ShouldFetchContext(res envelope.ClassificationResult, utt envelope.Utterance) (bool, string) {
	fetch, reason := v.decide(res, utt)
	observability.RecordContextDecision(fetch, reason)
	return fetch, reason
}

// Decide is ShouldFetchContext returning an envelope.ContextDecision.
func (v *Validator) Decide(res envelope.ClassificationResult, utt envelope.Utterance) envelope.ContextDecision {
	fetch, reason := v.ShouldFetchContext(res, utt)
	return envelope.ContextDecision{Fetch: fetch, Reason: reason}
}

func (v *Validator) decide(res envelope.ClassificationResult, utt envelope.Utterance) (bool, string) {
	text := utt.Normalized()

	for _, re := range memoryTriggers {
		if re.MatchString(text) {
			return true, ReasonMemoryTrigger
		}
	}

	if multiStepConnectors.MatchString(text) {
		return true, ReasonMultiSubsystem
	}
	if v.subsystems != nil && len(v.subsystems.Subsystems(text)) >= 2 {
		return true, ReasonMultiSubsystem
	}

	if WordCount(text) > v.cfg.ContextWordThreshold {
		return true, ReasonLongUtterance
	}
	if ClauseCount(text) > v.cfg.ContextClauseThreshold {
		return true, ReasonMultiClause
	}

	if res.Tier == envelope.Tier0 && !res.NeedsContext {
		return false, ReasonDeterministicNoData
	}
	if !res.NeedsContext {
		return false, ReasonNoDataDependency
	}
	return true, ReasonDefaultFetch
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// ClauseCount counts non-empty clauses separated by commas, semicolons and
// coordinating connectors.
func ClauseCount(text string) int {
	n := 0
	for _, part := range clauseSplitter.Split(text, -1) {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return n
}
