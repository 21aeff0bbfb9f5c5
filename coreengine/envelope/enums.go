// Package envelope defines the per-request data model of the pipeline:
// utterances, classification results, episodes, goals, stream events and
// the error taxonomy shared by every stage.
package envelope

// Tier identifies the classifier strategy that resolved an utterance.
type Tier int

const (
	// Tier0 is deterministic pattern/slot matching.
	Tier0 Tier = 0
	// Tier1 is heuristic keyword scoring.
	Tier1 Tier = 1
	// Tier2 is model-based classification.
	Tier2 Tier = 2
)

// String returns the metric label for the tier.
func (t Tier) String() string {
	switch t {
	case Tier0:
		return "tier0"
	case Tier1:
		return "tier1"
	case Tier2:
		return "tier2"
	default:
		return "unknown"
	}
}

// IntentConversational is the safe default intent.
const IntentConversational = "conversational"

// EventType names a stream event delivered to the chat client.
type EventType string

const (
	EventClassificationResult EventType = "classification_result"
	EventContextDecision      EventType = "context_decision"
	EventWorkflowPlan         EventType = "workflow_plan"
	EventStepStart            EventType = "step_start"
	EventToolCall             EventType = "tool_call"
	EventToolResult           EventType = "tool_result"
	EventStepComplete         EventType = "step_complete"
	EventThinking             EventType = "thinking"
	EventContentDelta         EventType = "content_delta"
	EventFinalResponse        EventType = "final_response"
	EventSessionEnd           EventType = "session_end"
	// EventConfirmationRequired is sent instead of execution when a workflow
	// is gated on user approval.
	EventConfirmationRequired EventType = "confirmation_required"
)

// FeedbackType is the kind of human feedback on a delivered response.
type FeedbackType string

const (
	FeedbackApprove FeedbackType = "approve"
	FeedbackReject  FeedbackType = "reject"
	FeedbackModify  FeedbackType = "modify"
)

// IsValid reports whether f is one of the accepted feedback types.
func (f FeedbackType) IsValid() bool {
	switch f {
	case FeedbackApprove, FeedbackReject, FeedbackModify:
		return true
	}
	return false
}

// Outcome is the satisfaction outcome flag of an interaction.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeDegraded  Outcome = "degraded"
	OutcomePending   Outcome = "pending_confirmation"
	OutcomeApproved  Outcome = "approved"
	OutcomeRejected  Outcome = "rejected"
	OutcomeCorrected Outcome = "corrected"
)

// InterruptKind represents the type of flow interrupt.
type InterruptKind string

const (
	// InterruptKindConfirmation gates a side-effecting workflow on approval.
	InterruptKindConfirmation InterruptKind = "confirmation"
	// InterruptKindClarification asks the user for missing information.
	InterruptKindClarification InterruptKind = "clarification"
)
