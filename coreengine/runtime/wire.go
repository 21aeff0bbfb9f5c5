package runtime

import (
	"encoding/json"
	"fmt"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
)

// ChatPayload is the transport form of a chat request.
type ChatPayload struct {
	Message        string `json:"message"`
	UserID         string `json:"user_id"`
	SessionID      string `json:"session_id"`
	SessionContext struct {
		RecentEpisodes []envelope.Episode `json:"recent_episodes"`
	} `json:"session_context"`
}

// DecodeChatPayload decodes a JSON chat payload.
func DecodeChatPayload(data []byte) (ChatPayload, error) {
	var p ChatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ChatPayload{}, fmt.Errorf("invalid chat payload: %w", err)
	}
	return p, nil
}

// Request converts the payload. Recent episodes without an id or user get
// positional ids and the requesting user.
func (p ChatPayload) Request() ChatRequest {
	recent := make([]envelope.Episode, 0, len(p.SessionContext.RecentEpisodes))
	for i, ep := range p.SessionContext.RecentEpisodes {
		if ep.ID == "" {
			ep.ID = fmt.Sprintf("recent_%d", i)
		}
		if ep.UserID == "" {
			ep.UserID = p.UserID
		}
		recent = append(recent, ep)
	}
	return ChatRequest{
		Message:        p.Message,
		UserID:         p.UserID,
		SessionID:      p.SessionID,
		RecentEpisodes: recent,
	}
}

// DecodeFeedback decodes a JSON feedback payload.
func DecodeFeedback(data []byte) (FeedbackRequest, error) {
	var req FeedbackRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return FeedbackRequest{}, fmt.Errorf("invalid feedback payload: %w", err)
	}
	return req, nil
}

// Data is the wire form of a response.
func (r Response) Data() map[string]any {
	data := map[string]any{
		"interaction_id": r.InteractionID,
		"text":           r.Text,
		"outcome":        string(r.Outcome),
		"latency_ms":     r.Latency.Milliseconds(),
	}
	if r.WorkflowID != "" {
		data["workflow_id"] = r.WorkflowID
	}
	if r.Intent != "" {
		data["intent"] = r.Intent
	}
	if r.ErrorKind != "" {
		data["error_kind"] = string(r.ErrorKind)
	}
	if r.InterruptID != "" {
		data["interrupt_id"] = r.InterruptID
	}
	if r.TimedOut {
		data["timed_out"] = true
	}
	return data
}
