// Package grpc serves the chat pipeline as zoe.v1.ChatService.
package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/runtime"
)

// ChatServer implements ChatServiceServer on top of a pipeline.
type ChatServer struct {
	logger   logging.Logger
	pipeline *runtime.Pipeline
}

// NewChatServer creates a server for p.
func NewChatServer(p *runtime.Pipeline, logger logging.Logger) *ChatServer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ChatServer{logger: logger.Bind("component", "grpc"), pipeline: p}
}

// Chat runs one utterance and streams every pipeline event. The stream ends
// after session_end.
func (s *ChatServer) Chat(req *structpb.Struct, stream ChatStream) error {
	payload, err := structTo[runtime.ChatPayload](req)
	if err != nil {
		return InvalidArgument("message")
	}
	if err := validateRequired(envelope.Normalize(payload.Message), "message"); err != nil {
		return err
	}
	if payload.UserID == "" {
		payload.UserID = "anonymous"
	}
	if rl := s.pipeline.Kernel.CheckRateLimit(payload.UserID, "chat"); !rl.Allowed {
		return ResourceExhausted(rl.Window, rl.RetryAfter)
	}

	var sendErr error
	sink, release := envelope.Guard(envelope.SinkFunc(func(ev envelope.Event) {
		if sendErr != nil {
			return
		}
		msg, err := eventToStruct(ev)
		if err != nil {
			s.logger.Warn("grpc_event_encode_failed", "event", string(ev.Type), "error", err.Error())
			return
		}
		sendErr = stream.Send(msg)
	}))

	resp, err := s.pipeline.Handle(stream.Context(), payload.Request(), sink)
	// Send must not be called after Chat returns.
	release()
	if err != nil {
		return InvalidArgument("message")
	}
	if sendErr != nil {
		s.logger.Warn("grpc_chat_stream_broken",
			"interaction_id", resp.InteractionID,
			"error", sendErr.Error(),
		)
		return sendErr
	}
	return nil
}

// Feedback applies feedback and returns the resulting response.
func (s *ChatServer) Feedback(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fb, err := structTo[runtime.FeedbackRequest](req)
	if err != nil {
		return nil, InvalidArgument("feedback_type")
	}
	resp, err := s.pipeline.Feedback(ctx, fb, nil)
	if err != nil {
		id := fb.InteractionID
		if id == "" {
			id = fb.SessionID
		}
		return nil, feedbackError(err, id)
	}
	return toStruct(resp.Data())
}

// structTo decodes a Struct through its JSON form.
func structTo[T any](s *structpb.Struct) (T, error) {
	var out T
	if s == nil {
		return out, fmt.Errorf("empty request")
	}
	data, err := s.MarshalJSON()
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}

// toStruct converts arbitrary JSON-encodable data. Going through JSON keeps
// typed slices and maps in tool results representable.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := out.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return out, nil
}

func eventToStruct(ev envelope.Event) (*structpb.Struct, error) {
	return toStruct(ev)
}

// =============================================================================
// Graceful Server
// =============================================================================

// GracefulServer wraps a gRPC server with graceful shutdown support.
type GracefulServer struct {
	grpcServer *grpc.Server
	logger     logging.Logger
	address    string
	shutdownMu sync.Mutex
	isShutdown bool
}

// NewGracefulServer registers chat on a new server. Without opts the
// standard ServerOptions are used.
func NewGracefulServer(chat *ChatServer, address string, opts ...grpc.ServerOption) *GracefulServer {
	if len(opts) == 0 {
		opts = ServerOptions(chat.logger)
	}
	grpcServer := grpc.NewServer(opts...)
	RegisterChatServiceServer(grpcServer, chat)
	return &GracefulServer{grpcServer: grpcServer, logger: chat.logger, address: address}
}

// Serve serves on lis until ctx is cancelled, then stops gracefully.
func (s *GracefulServer) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("grpc_server_started", "address", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("grpc_graceful_shutdown_initiated", "reason", ctx.Err().Error())
		s.GracefulStop()
		return nil
	case err := <-errCh:
		if err != nil && err != grpc.ErrServerStopped {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// Start listens on the configured address and serves until ctx ends.
func (s *GracefulServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// GracefulStop stops accepting calls and waits for running ones.
func (s *GracefulServer) GracefulStop() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.isShutdown {
		return
	}
	s.isShutdown = true
	s.grpcServer.GracefulStop()
	s.logger.Info("grpc_graceful_stop_completed")
}

// ShutdownWithTimeout stops gracefully, forcing a stop after timeout.
func (s *GracefulServer) ShutdownWithTimeout(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("grpc_graceful_shutdown_timeout", "timeout_ms", timeout.Milliseconds())
		s.grpcServer.Stop()
	}
}

// GRPCServer returns the underlying server.
func (s *GracefulServer) GRPCServer() *grpc.Server { return s.grpcServer }
