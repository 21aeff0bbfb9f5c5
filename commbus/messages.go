package commbus

import "time"

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	MessageCategoryEvent   MessageCategory = "event"
	MessageCategoryQuery   MessageCategory = "query"
	MessageCategoryCommand MessageCategory = "command"
)

// HealthStatus represents canonical health status values.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// =============================================================================
// PIPELINE EVENTS
// =============================================================================

// ClassificationCompleted is published once per classified utterance.
type ClassificationCompleted struct {
	InteractionID string    `json:"interaction_id,omitempty"`
	UserID        string    `json:"user_id"`
	SessionID     string    `json:"session_id"`
	Tier          string    `json:"tier"`
	Intent        string    `json:"intent"`
	Confidence    float64   `json:"confidence"`
	Strategy      string    `json:"strategy"`
	LatencyMS     int64     `json:"latency_ms"`
	Degraded      bool      `json:"degraded"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	At            time.Time `json:"at"`
}

func (m *ClassificationCompleted) Category() string { return string(MessageCategoryEvent) }

// ContextDecided records the context validator verdict.
type ContextDecided struct {
	InteractionID string `json:"interaction_id"`
	Fetch         bool   `json:"fetch"`
	Reason        string `json:"reason"`
	Episodes      int    `json:"episodes"`
	Degraded      bool   `json:"degraded"`
}

func (m *ContextDecided) Category() string { return string(MessageCategoryEvent) }

// WorkflowPlanned is published after a workflow compiled successfully.
type WorkflowPlanned struct {
	InteractionID  string   `json:"interaction_id"`
	WorkflowID     string   `json:"workflow_id"`
	Orchestrated   bool     `json:"orchestrated"`
	Steps          int      `json:"steps"`
	CriticalPath   []string `json:"critical_path"`
	RequiresReview bool     `json:"requires_review"`
}

func (m *WorkflowPlanned) Category() string { return string(MessageCategoryEvent) }

// WorkflowFinished is published when a workflow reaches a terminal state.
type WorkflowFinished struct {
	InteractionID string         `json:"interaction_id"`
	WorkflowID    string         `json:"workflow_id"`
	State         string         `json:"state"`
	DurationMS    int64          `json:"duration_ms"`
	StepStatus    map[string]int `json:"step_status"`
	RolledBack    []string       `json:"rolled_back,omitempty"`
}

func (m *WorkflowFinished) Category() string { return string(MessageCategoryEvent) }

// InteractionCompleted is published after the response was delivered.
type InteractionCompleted struct {
	InteractionID string   `json:"interaction_id"`
	UserID        string   `json:"user_id"`
	SessionID     string   `json:"session_id"`
	Outcome       string   `json:"outcome"`
	LatencyMS     int64    `json:"latency_ms"`
	Errors        []string `json:"errors,omitempty"`
}

func (m *InteractionCompleted) Category() string { return string(MessageCategoryEvent) }

// FeedbackReceived is published for every accepted feedback submission.
type FeedbackReceived struct {
	InteractionID string `json:"interaction_id"`
	SessionID     string `json:"session_id"`
	FeedbackType  string `json:"feedback_type"`
	StepID        string `json:"step_id,omitempty"`
}

func (m *FeedbackReceived) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// COMMANDS
// =============================================================================

// ExpireSessions asks the session registry to drop retained state older
// than its TTL.
type ExpireSessions struct{}

func (m *ExpireSessions) Category() string { return string(MessageCategoryCommand) }

// =============================================================================
// QUERIES
// =============================================================================

// HealthCheckRequest requests health check from a component.
type HealthCheckRequest struct {
	Component string `json:"component"` // "pipeline", "memory", "tracker"
}

func (m *HealthCheckRequest) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *HealthCheckRequest) IsQuery() {}

// HealthCheckResponse is the response for HealthCheckRequest.
type HealthCheckResponse struct {
	Component string         `json:"component"`
	Status    HealthStatus   `json:"status"`
	Details   map[string]any `json:"details,omitempty"`
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// TypedMessage is implemented by messages that name their own routing type.
type TypedMessage interface {
	Message
	MessageType() string
}

// GetMessageType returns the type name of a message for routing.
func GetMessageType(msg Message) string {
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}

	switch msg.(type) {
	case *ClassificationCompleted:
		return "ClassificationCompleted"
	case *ContextDecided:
		return "ContextDecided"
	case *WorkflowPlanned:
		return "WorkflowPlanned"
	case *WorkflowFinished:
		return "WorkflowFinished"
	case *InteractionCompleted:
		return "InteractionCompleted"
	case *FeedbackReceived:
		return "FeedbackReceived"
	case *ExpireSessions:
		return "ExpireSessions"
	case *HealthCheckRequest:
		return "HealthCheckRequest"
	default:
		return "Unknown"
	}
}

// PipelineEventTypes lists every event type the pipeline publishes.
var PipelineEventTypes = []string{
	"ClassificationCompleted",
	"ContextDecided",
	"WorkflowPlanned",
	"WorkflowFinished",
	"InteractionCompleted",
	"FeedbackReceived",
}
