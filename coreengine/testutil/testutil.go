// Package testutil provides shared mocks for package tests.
//
// It only depends on leaf packages so any package can use it from its own
// tests without an import cycle.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/llm"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
)

// =============================================================================
// MOCK MODEL CLIENT
// =============================================================================

// MockModelClient implements llm.ModelClient.
type MockModelClient struct {
	// Label and Confidence are returned by Classify.
	Label      string
	Confidence float64

	// Reply is returned by Generate.
	Reply string

	// Delay simulates model latency. The ctx deadline is honored.
	Delay time.Duration

	// Error causes both calls to fail.
	Error error

	// ClassifyFunc / GenerateFunc override the canned answers.
	ClassifyFunc func(ctx context.Context, text string, labels []string) (llm.Classification, error)
	GenerateFunc func(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error)

	classifyCalls int
	generateCalls int
	prompts       []string
	mu            sync.Mutex
}

// NewMockModelClient creates a client answering "conversational".
func NewMockModelClient() *MockModelClient {
	return &MockModelClient{
		Label:      envelope.IntentConversational,
		Confidence: 0.8,
		Reply:      "Okay.",
	}
}

// WithLabel sets the classification answer.
func (m *MockModelClient) WithLabel(label string, confidence float64) *MockModelClient {
	m.Label, m.Confidence = label, confidence
	return m
}

// WithReply sets the generation answer.
func (m *MockModelClient) WithReply(reply string) *MockModelClient {
	m.Reply = reply
	return m
}

// WithDelay adds latency simulation.
func (m *MockModelClient) WithDelay(d time.Duration) *MockModelClient {
	m.Delay = d
	return m
}

// WithError configures both calls to fail.
func (m *MockModelClient) WithError(err error) *MockModelClient {
	m.Error = err
	return m
}

func (m *MockModelClient) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(m.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Classify implements llm.ModelClient.
func (m *MockModelClient) Classify(ctx context.Context, text string, labels []string) (llm.Classification, error) {
	m.mu.Lock()
	m.classifyCalls++
	fn := m.ClassifyFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, labels)
	}
	if err := m.wait(ctx); err != nil {
		return llm.Classification{}, err
	}
	if m.Error != nil {
		return llm.Classification{}, m.Error
	}
	return llm.Classification{Label: m.Label, Confidence: m.Confidence}, nil
}

// Generate implements llm.ModelClient.
func (m *MockModelClient) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	m.mu.Lock()
	m.generateCalls++
	m.prompts = append(m.prompts, prompt)
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt, opts)
	}
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	if m.Error != nil {
		return "", m.Error
	}
	return m.Reply, nil
}

// ClassifyCalls returns the number of Classify calls (thread-safe).
func (m *MockModelClient) ClassifyCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classifyCalls
}

// GenerateCalls returns the number of Generate calls (thread-safe).
func (m *MockModelClient) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateCalls
}

// Prompts returns every Generate prompt.
func (m *MockModelClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

var _ llm.ModelClient = (*MockModelClient)(nil)

// =============================================================================
// MOCK EPISODE STORE
// =============================================================================

// MockEpisodeStore satisfies memory.Store. Search returns the stored
// episodes of the user whose text shares a word with the query.
type MockEpisodeStore struct {
	Episodes []envelope.Episode

	// Delay blocks Search; IgnoreContext makes it ignore cancellation.
	Delay         time.Duration
	IgnoreContext bool

	SearchError error
	InsertError error

	searches int
	mu       sync.Mutex
}

// NewMockEpisodeStore creates a store seeded with episodes.
func NewMockEpisodeStore(episodes ...envelope.Episode) *MockEpisodeStore {
	return &MockEpisodeStore{Episodes: episodes}
}

// Search implements memory.Store.
func (m *MockEpisodeStore) Search(ctx context.Context, query, userID string, limit int) ([]envelope.Episode, error) {
	m.mu.Lock()
	m.searches++
	m.mu.Unlock()

	if m.Delay > 0 {
		if m.IgnoreContext {
			time.Sleep(m.Delay)
		} else {
			select {
			case <-time.After(m.Delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if m.SearchError != nil {
		return nil, m.SearchError
	}

	words := strings.Fields(strings.ToLower(query))
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []envelope.Episode
	for _, ep := range m.Episodes {
		if ep.UserID != userID {
			continue
		}
		text := strings.ToLower(ep.Text)
		hits := 0
		for _, w := range words {
			if strings.Contains(text, w) {
				hits++
			}
		}
		if hits > 0 || len(words) == 0 {
			ep.Relevance = float64(hits) / float64(max(len(words), 1))
			out = append(out, ep)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Insert implements memory.Store.
func (m *MockEpisodeStore) Insert(ctx context.Context, ep envelope.Episode) error {
	if m.InsertError != nil {
		return m.InsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Episodes = append(m.Episodes, ep)
	return nil
}

// SearchCount returns the number of Search calls (thread-safe).
func (m *MockEpisodeStore) SearchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searches
}

// Stored returns a copy of the stored episodes (thread-safe).
func (m *MockEpisodeStore) Stored() []envelope.Episode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]envelope.Episode(nil), m.Episodes...)
}

// =============================================================================
// MOCK TOOL EXECUTOR
// =============================================================================

// MockToolExecutor records tool calls and returns canned results.
type MockToolExecutor struct {
	// Results maps tool names to their results.
	Results map[string]map[string]any

	// Errors maps tool names to errors they should return.
	Errors map[string]error

	// Delays maps tool names to simulated latency.
	Delays map[string]time.Duration

	// Panics lists tools that panic.
	Panics map[string]bool

	calls []ToolCall
	mu    sync.Mutex
}

// ToolCall records a single tool execution for assertion.
type ToolCall struct {
	ToolName string
	Params   map[string]any
	At       time.Time
}

// NewMockToolExecutor creates a MockToolExecutor.
func NewMockToolExecutor() *MockToolExecutor {
	return &MockToolExecutor{
		Results: make(map[string]map[string]any),
		Errors:  make(map[string]error),
		Delays:  make(map[string]time.Duration),
		Panics:  make(map[string]bool),
	}
}

// Execute runs a tool.
func (m *MockToolExecutor) Execute(ctx context.Context, toolName string, params map[string]any) (map[string]any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ToolCall{ToolName: toolName, Params: params, At: time.Now()})
	delay := m.Delays[toolName]
	err := m.Errors[toolName]
	result, hasResult := m.Results[toolName]
	panics := m.Panics[toolName]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if panics {
		panic(fmt.Sprintf("tool %s exploded", toolName))
	}
	if err != nil {
		return nil, err
	}
	if hasResult {
		return result, nil
	}
	return map[string]any{"status": "success", "tool": toolName}, nil
}

// Has reports whether the executor knows a tool. The mock knows all tools.
func (m *MockToolExecutor) Has(toolName string) bool { return true }

// WithResult adds a tool result.
func (m *MockToolExecutor) WithResult(toolName string, result map[string]any) *MockToolExecutor {
	m.Results[toolName] = result
	return m
}

// WithError configures a tool to return an error.
func (m *MockToolExecutor) WithError(toolName string, err error) *MockToolExecutor {
	m.Errors[toolName] = err
	return m
}

// WithDelay configures tool latency.
func (m *MockToolExecutor) WithDelay(toolName string, d time.Duration) *MockToolExecutor {
	m.Delays[toolName] = d
	return m
}

// WithPanic makes a tool panic.
func (m *MockToolExecutor) WithPanic(toolName string) *MockToolExecutor {
	m.Panics[toolName] = true
	return m
}

// Calls returns recorded calls (thread-safe).
func (m *MockToolExecutor) Calls() []ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ToolCall(nil), m.calls...)
}

// CalledTools returns tool names in call order.
func (m *MockToolExecutor) CalledTools() []string {
	var out []string
	for _, c := range m.Calls() {
		out = append(out, c.ToolName)
	}
	return out
}

// =============================================================================
// EVENT RECORDER
// =============================================================================

// EventRecorder is an envelope.EventSink that keeps every event.
type EventRecorder struct {
	events []envelope.Event
	mu     sync.Mutex
}

// NewEventRecorder creates an EventRecorder.
func NewEventRecorder() *EventRecorder { return &EventRecorder{} }

// Emit implements envelope.EventSink.
func (r *EventRecorder) Emit(ev envelope.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []envelope.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]envelope.Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *EventRecorder) Types() []envelope.EventType {
	var out []envelope.EventType
	for _, ev := range r.Events() {
		out = append(out, ev.Type)
	}
	return out
}

// OfType returns events of type t.
func (r *EventRecorder) OfType(t envelope.EventType) []envelope.Event {
	var out []envelope.Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

var _ envelope.EventSink = (*EventRecorder)(nil)

// =============================================================================
// RECORDING LOGGER
// =============================================================================

// LogEntry is one captured log line.
type LogEntry struct {
	Level  string
	Msg    string
	Fields []any
}

// RecordingLogger implements logging.Logger and keeps every entry.
type RecordingLogger struct {
	entries *[]LogEntry
	bound   []any
	mu      *sync.Mutex
}

// NewRecordingLogger creates a RecordingLogger.
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{entries: &[]LogEntry{}, mu: &sync.Mutex{}}
}

func (l *RecordingLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fields := append(append([]any(nil), l.bound...), kv...)
	*l.entries = append(*l.entries, LogEntry{Level: level, Msg: msg, Fields: fields})
}

func (l *RecordingLogger) Debug(msg string, kv ...any) { l.add("debug", msg, kv) }
func (l *RecordingLogger) Info(msg string, kv ...any)  { l.add("info", msg, kv) }
func (l *RecordingLogger) Warn(msg string, kv ...any)  { l.add("warn", msg, kv) }
func (l *RecordingLogger) Error(msg string, kv ...any) { l.add("error", msg, kv) }

// Bind returns a logger sharing the same entry list with extra fields.
func (l *RecordingLogger) Bind(fields ...any) logging.Logger {
	return &RecordingLogger{
		entries: l.entries,
		bound:   append(append([]any(nil), l.bound...), fields...),
		mu:      l.mu,
	}
}

// Entries returns a copy of all entries.
func (l *RecordingLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), *l.entries...)
}

// Has reports whether an entry with msg was logged.
func (l *RecordingLogger) Has(msg string) bool {
	for _, e := range l.Entries() {
		if e.Msg == msg {
			return true
		}
	}
	return false
}

var _ logging.Logger = (*RecordingLogger)(nil)

// =============================================================================
// FIXTURES
// =============================================================================

// Episode builds an episode at a fixed offset before now.
func Episode(id, userID, text string, ago time.Duration) envelope.Episode {
	return envelope.Episode{ID: id, UserID: userID, Text: text, Timestamp: time.Now().UTC().Add(-ago)}
}

// Utterance builds an utterance for user "u1" in session "s1".
func Utterance(text string) envelope.Utterance {
	return envelope.NewUtterance(text, "u1", "s1")
}
