// Package agents runs workflow steps according to their role.
package agents

import (
	"context"
	"errors"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/tools"
)

// ToolStatus is the status of one tool invocation.
type ToolStatus string

const (
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusError   ToolStatus = "error"
	ToolStatusTimeout ToolStatus = "timeout"
)

// ToolErrorDetails is the client-safe description of a tool failure.
// Internal messages stay in logs.
type ToolErrorDetails struct {
	Type        string `json:"type"`
	Recoverable bool   `json:"recoverable"`
}

// ToolResult is the standardized payload of a tool_result event.
type ToolResult struct {
	Tool   string            `json:"tool"`
	Status ToolStatus        `json:"status"`
	Data   map[string]any    `json:"data,omitempty"`
	Error  *ToolErrorDetails `json:"error,omitempty"`
}

// NewToolResult classifies a tool outcome.
func NewToolResult(tool string, data map[string]any, err error) ToolResult {
	if err == nil {
		return ToolResult{Tool: tool, Status: ToolStatusSuccess, Data: data}
	}
	res := ToolResult{Tool: tool, Status: ToolStatusError, Error: &ToolErrorDetails{Type: "execution_error", Recoverable: true}}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		res.Status = ToolStatusTimeout
		res.Error.Type = "timeout"
	case errors.Is(err, context.Canceled):
		res.Error.Type = "cancelled"
		res.Error.Recoverable = false
	case errors.Is(err, tools.ErrToolNotFound):
		res.Error.Type = "not_found"
		res.Error.Recoverable = false
	}
	return res
}

// ToMap renders the result as event data.
func (r ToolResult) ToMap() map[string]any {
	m := map[string]any{"tool": r.Tool, "status": string(r.Status)}
	if r.Data != nil {
		m["result"] = r.Data
	}
	if r.Error != nil {
		m["error_type"] = r.Error.Type
		m["recoverable"] = r.Error.Recoverable
	}
	return m
}

// StepError wraps a step failure in the shared taxonomy.
func StepError(stepID, tool string, cause error) error {
	return &envelope.StepExecutionError{StepID: stepID, Tool: tool, Cause: cause}
}
