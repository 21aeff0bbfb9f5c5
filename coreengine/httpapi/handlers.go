package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/kernel"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/runtime"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/workflow"
)

const (
	maxBodyBytes = 64 << 10
	wsWriteWait  = 10 * time.Second
)

// collector keeps events for non-streaming responses.
type collector struct {
	mu     sync.Mutex
	events []envelope.Event
}

func (c *collector) Emit(ev envelope.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) all() []envelope.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]envelope.Event(nil), c.events...)
}

// batchResponse is the body of ?stream=false chat and of feedback.
type batchResponse struct {
	Response map[string]any   `json:"response"`
	Events   []envelope.Event `json:"events"`
}

func readBody(c echo.Context) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes+1))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	if len(data) > maxBodyBytes {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "body too large")
	}
	return data, nil
}

// decodeChat parses and validates a chat payload.
func decodeChat(data []byte) (runtime.ChatPayload, error) {
	payload, err := runtime.DecodeChatPayload(data)
	if err != nil {
		return payload, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if envelope.Normalize(payload.Message) == "" {
		return payload, echo.NewHTTPError(http.StatusBadRequest, runtime.ErrEmptyMessage.Error())
	}
	if payload.UserID == "" {
		payload.UserID = "anonymous"
	}
	return payload, nil
}

// chat runs one utterance. Events stream as Server-Sent Events unless
// ?stream=false, which returns every event and the response as one JSON
// document.
func (s *Server) chat(c echo.Context) error {
	data, err := readBody(c)
	if err != nil {
		return err
	}
	payload, err := decodeChat(data)
	if err != nil {
		return err
	}
	if limited, err := s.rateLimited(c, payload.UserID); limited {
		return err
	}

	ctx := c.Request().Context()
	if c.QueryParam("stream") == "false" {
		events := &collector{}
		resp, err := s.pipeline.Handle(ctx, payload.Request(), events)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusOK, batchResponse{Response: resp.Data(), Events: events.all()})
	}

	w := c.Response()
	h := w.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	var writeErr error
	sink, release := envelope.Guard(envelope.SinkFunc(func(ev envelope.Event) {
		if writeErr != nil {
			return
		}
		writeErr = writeSSE(w, ev)
	}))
	resp, err := s.pipeline.Handle(ctx, payload.Request(), sink)
	// The response writer is invalid once the handler returns.
	release()
	if err != nil {
		s.logger.Warn("sse_chat_rejected", "error", err.Error())
		return nil
	}
	if writeErr != nil {
		s.logger.Debug("sse_client_gone",
			"interaction_id", resp.InteractionID,
			"error", writeErr.Error(),
		)
	}
	return nil
}

func writeSSE(w *echo.Response, ev envelope.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// wsError is written to a WebSocket client for a rejected frame.
type wsError struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// chatWS upgrades to a WebSocket. Each text frame is a chat payload; the
// events of each utterance are written back as JSON frames, ending with
// session_end. Utterances on one connection are handled in order.
func (s *Server) chatWS(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("ws_upgrade_failed", "error", err.Error())
		return nil
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	ctx := c.Request().Context()
	log := s.logger.Bind("remote", c.RealIP())
	log.Debug("ws_connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("ws_read_failed", "error", err.Error())
			}
			return nil
		}

		payload, err := decodeChat(data)
		if err == nil {
			rl := s.pipeline.Kernel.CheckRateLimit(payload.UserID, "chat")
			if !rl.Allowed {
				err = fmt.Errorf("rate limit exceeded for %s window", rl.Window)
			}
		}
		if err != nil {
			msg := err.Error()
			var he *echo.HTTPError
			if errors.As(err, &he) {
				msg = fmt.Sprint(he.Message)
			}
			if werr := writeWS(conn, wsError{Type: "error", Data: map[string]any{"error": msg}}); werr != nil {
				return nil
			}
			continue
		}

		var writeErr error
		sink, release := envelope.Guard(envelope.SinkFunc(func(ev envelope.Event) {
			if writeErr == nil {
				writeErr = writeWS(conn, ev)
			}
		}))
		_, err = s.pipeline.Handle(ctx, payload.Request(), sink)
		release()
		if err != nil {
			log.Warn("ws_chat_rejected", "error", err.Error())
		}
		if writeErr != nil {
			log.Debug("ws_client_gone", "error", writeErr.Error())
			return nil
		}
	}
}

func writeWS(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

// feedback applies approve, reject or modify feedback. Events produced by
// a resumed workflow are returned with the response.
func (s *Server) feedback(c echo.Context) error {
	data, err := readBody(c)
	if err != nil {
		return err
	}
	req, err := runtime.DecodeFeedback(data)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	events := &collector{}
	resp, err := s.pipeline.Feedback(c.Request().Context(), req, events)
	if err != nil {
		return feedbackError(err)
	}
	return c.JSON(http.StatusOK, batchResponse{Response: resp.Data(), Events: events.all()})
}

// feedbackError maps pipeline feedback errors onto HTTP statuses.
func feedbackError(err error) error {
	switch {
	case errors.Is(err, runtime.ErrInvalidFeedback),
		errors.Is(err, runtime.ErrMissingSession),
		errors.Is(err, runtime.ErrCorrectionRequired),
		errors.Is(err, workflow.ErrUnknownStep):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, kernel.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, workflow.ErrWorkflowTerminal),
		errors.Is(err, kernel.ErrInterruptNotPending):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return err
	}
}
