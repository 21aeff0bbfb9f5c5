package grpc

import (
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/kernel"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/runtime"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/workflow"
)

// validateRequired rejects an empty field with InvalidArgument.
func validateRequired(field, fieldName string) error {
	if field == "" {
		return status.Errorf(codes.InvalidArgument, "%s is required", fieldName)
	}
	return nil
}

// InvalidArgument reports a malformed or missing field.
func InvalidArgument(fieldName string) error {
	return status.Errorf(codes.InvalidArgument, "%s is required", fieldName)
}

// NotFound reports a missing resource.
func NotFound(resourceType, id string) error {
	return status.Errorf(codes.NotFound, "%s not found: %s", resourceType, id)
}

// Internal reports an unexpected failure. The cause is not exposed.
func Internal(operation string) error {
	return status.Errorf(codes.Internal, "%s failed", operation)
}

// FailedPrecondition reports an action the resource's state forbids.
func FailedPrecondition(resource, currentState, attemptedAction string) error {
	return status.Errorf(codes.FailedPrecondition,
		"%s in state %s cannot %s", resource, currentState, attemptedAction)
}

// ResourceExhausted reports a rate limit violation.
func ResourceExhausted(window string, retryAfter time.Duration) error {
	return status.Errorf(codes.ResourceExhausted,
		"rate limit exceeded for %s window, retry after %s", window, retryAfter.Round(time.Second))
}

// feedbackError maps pipeline feedback errors onto status codes.
func feedbackError(err error, id string) error {
	switch {
	case errors.Is(err, runtime.ErrInvalidFeedback):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, runtime.ErrMissingSession):
		return InvalidArgument("session_id")
	case errors.Is(err, runtime.ErrCorrectionRequired):
		return InvalidArgument("correction")
	case errors.Is(err, workflow.ErrUnknownStep):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, kernel.ErrSessionNotFound):
		return NotFound("session", id)
	case errors.Is(err, workflow.ErrWorkflowTerminal):
		return FailedPrecondition("workflow", "terminal", "accept corrections")
	case errors.Is(err, kernel.ErrInterruptNotPending):
		return FailedPrecondition("confirmation", "resolved", "be answered again")
	default:
		return Internal("feedback")
	}
}
