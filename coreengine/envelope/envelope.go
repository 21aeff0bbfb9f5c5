package envelope

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Utterance is one raw user message. It is a value type and never mutated
// after NewUtterance.
type Utterance struct {
	Text       string    `json:"text"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewUtterance trims text and stamps the arrival time.
func NewUtterance(text, userID, sessionID string) Utterance {
	if userID == "" {
		userID = "anonymous"
	}
	if sessionID == "" {
		sessionID = "sess_" + uuid.New().String()[:16]
	}
	return Utterance{
		Text:       strings.TrimSpace(text),
		UserID:     userID,
		SessionID:  sessionID,
		ReceivedAt: time.Now().UTC(),
	}
}

// Normalized returns the lower-cased text with collapsed whitespace and
// trailing punctuation removed.
func (u Utterance) Normalized() string {
	return Normalize(u.Text)
}

// Normalize lower-cases s, collapses whitespace and strips trailing punctuation.
func Normalize(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRight(s, ".!?, ")
}

// Episode is a summarized prior conversation turn.
type Episode struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Relevance float64   `json:"relevance"`
}

// NewEpisode creates an episode with a fresh id.
func NewEpisode(userID, text string, at time.Time) Episode {
	return Episode{
		ID:        "ep_" + uuid.New().String(),
		UserID:    userID,
		Text:      text,
		Timestamp: at.UTC(),
	}
}

// ClassificationResult is the single classification produced per utterance.
type ClassificationResult struct {
	Tier         Tier              `json:"tier"`
	Intent       string            `json:"intent"`
	Confidence   float64           `json:"confidence"`
	Latency      time.Duration     `json:"latency"`
	Strategy     string            `json:"strategy"`
	Slots        map[string]string `json:"slots,omitempty"`
	Subsystem    string            `json:"subsystem,omitempty"`
	NeedsContext bool              `json:"needs_context"`
	Degraded     bool              `json:"degraded,omitempty"`
	ErrorKind    ErrorKind         `json:"error_kind,omitempty"`
}

// ContextDecision records the Context Validator verdict.
type ContextDecision struct {
	Fetch  bool   `json:"fetch"`
	Reason string `json:"reason"`
}

// Goal is the normalized objective handed to the planner.
type Goal struct {
	Utterance      Utterance            `json:"utterance"`
	Classification ClassificationResult `json:"classification"`
	Episodes       []Episode            `json:"episodes,omitempty"`
	Clauses        []string             `json:"clauses,omitempty"`
}

// Text returns the utterance text of the goal.
func (g Goal) Text() string { return g.Utterance.Text }

// Envelope is the per-request context object. Recent episodes travel here
// explicitly instead of living in shared state.
type Envelope struct {
	InteractionID  string                `json:"interaction_id"`
	Utterance      Utterance             `json:"utterance"`
	RecentEpisodes []Episode             `json:"recent_episodes,omitempty"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	Context        *ContextDecision      `json:"context,omitempty"`
	Episodes       []Episode             `json:"episodes,omitempty"`
	MemoryDegraded bool                  `json:"memory_degraded,omitempty"`
	Errors         []ErrorKind           `json:"errors,omitempty"`
	Metadata       map[string]any        `json:"metadata,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// New creates an Envelope for an utterance with a fresh interaction id.
func New(utt Utterance, recent []Episode) *Envelope {
	return &Envelope{
		InteractionID:  "int_" + uuid.New().String(),
		Utterance:      utt,
		RecentEpisodes: copyEpisodes(recent),
		Metadata:       make(map[string]any),
		CreatedAt:      time.Now().UTC(),
	}
}

// RecordError appends a degraded-component error kind once.
func (e *Envelope) RecordError(kind ErrorKind) {
	for _, k := range e.Errors {
		if k == kind {
			return
		}
	}
	e.Errors = append(e.Errors, kind)
}

// Goal derives the planner input from the envelope.
func (e *Envelope) Goal() Goal {
	g := Goal{Utterance: e.Utterance, Episodes: copyEpisodes(e.Episodes)}
	if e.Classification != nil {
		g.Classification = *e.Classification
	}
	return g
}

// Clone returns a deep copy safe to hand to another goroutine.
func (e *Envelope) Clone() *Envelope {
	clone := *e
	clone.RecentEpisodes = copyEpisodes(e.RecentEpisodes)
	clone.Episodes = copyEpisodes(e.Episodes)
	if e.Classification != nil {
		c := *e.Classification
		c.Slots = copyStringMap(e.Classification.Slots)
		clone.Classification = &c
	}
	if e.Context != nil {
		d := *e.Context
		clone.Context = &d
	}
	if e.Errors != nil {
		clone.Errors = append([]ErrorKind(nil), e.Errors...)
	}
	clone.Metadata = DeepCopyMap(e.Metadata)
	return &clone
}

func copyEpisodes(in []Episode) []Episode {
	if in == nil {
		return nil
	}
	out := make([]Episode, len(in))
	copy(out, in)
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// DeepCopyMap copies nested maps and slices of a JSON-like map.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return DeepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
