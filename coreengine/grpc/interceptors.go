package grpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/observability"
)

// callLog writes the completion line shared by unary and streaming calls.
// kind is "request" or "stream".
func callLog(ctx context.Context, logger logging.Logger, kind, method string, start time.Time, err error) {
	kv := []any{"method", method, "duration_ms", time.Since(start).Milliseconds()}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		kv = append(kv, "trace_id", sc.TraceID().String())
	}
	if err == nil {
		logger.Debug("grpc_"+kind+"_completed", kv...)
		return
	}
	kv = append(kv, "code", status.Code(err).String(), "error", err.Error())
	logger.Error("grpc_"+kind+"_failed", kv...)
}

// LoggingInterceptor logs each unary call on entry and on return.
func LoggingInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		logger.Debug("grpc_request_started", "method", info.FullMethod)
		resp, err := handler(ctx, req)
		callLog(ctx, logger, "request", info.FullMethod, start, err)
		return resp, err
	}
}

// StreamLoggingInterceptor is LoggingInterceptor for Chat and other
// streaming methods.
func StreamLoggingInterceptor(logger logging.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		logger.Debug("grpc_stream_started", "method", info.FullMethod, "server_stream", info.IsServerStream)
		err := handler(srv, ss)
		callLog(ss.Context(), logger, "stream", info.FullMethod, start, err)
		return err
	}
}

// RecoveryHandler converts a recovered panic value into the status
// returned to the client.
type RecoveryHandler func(p any) error

// DefaultRecoveryHandler answers Internal and keeps the panic value out of
// the response.
func DefaultRecoveryHandler(any) error {
	return status.Error(codes.Internal, "internal error")
}

func recovered(logger logging.Logger, event, method string, p any, handler RecoveryHandler) error {
	logger.Error(event, "method", method, "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
	return handler(p)
}

// RecoveryInterceptor keeps a panicking unary handler from taking the
// process down.
func RecoveryInterceptor(logger logging.Logger, handler RecoveryHandler) grpc.UnaryServerInterceptor {
	if handler == nil {
		handler = DefaultRecoveryHandler
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				resp, err = nil, recovered(logger, "grpc_panic_recovered", info.FullMethod, p, handler)
			}
		}()
		return next(ctx, req)
	}
}

// StreamRecoveryInterceptor is RecoveryInterceptor for streams.
func StreamRecoveryInterceptor(logger logging.Logger, handler RecoveryHandler) grpc.StreamServerInterceptor {
	if handler == nil {
		handler = DefaultRecoveryHandler
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = recovered(logger, "grpc_stream_panic_recovered", info.FullMethod, p, handler)
			}
		}()
		return next(srv, ss)
	}
}

func observe(method string, start time.Time, err error) {
	observability.RecordGRPCRequest(method, status.Code(err).String(), int(time.Since(start).Milliseconds()))
}

// MetricsInterceptor counts unary calls by method and status code.
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observe(info.FullMethod, start, err)
		return resp, err
	}
}

// StreamMetricsInterceptor counts streaming calls.
func StreamMetricsInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observe(info.FullMethod, start, err)
		return err
	}
}

// ChainUnaryInterceptors composes interceptors so the first one listed is
// outermost.
func ChainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		next := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			ic, inner := interceptors[i], next
			next = func(ctx context.Context, req any) (any, error) { return ic(ctx, req, info, inner) }
		}
		return next(ctx, req)
	}
}

// ChainStreamInterceptors is ChainUnaryInterceptors for streams.
func ChainStreamInterceptors(interceptors ...grpc.StreamServerInterceptor) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		next := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			ic, inner := interceptors[i], next
			next = func(srv any, ss grpc.ServerStream) error { return ic(srv, ss, info, inner) }
		}
		return next(srv, ss)
	}
}

// ServerOptions is the option set ChatService is served with: otelgrpc
// spans, then recovery, metrics and logging.
func ServerOptions(logger logging.Logger) []grpc.ServerOption {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.Bind("component", "grpc")
	return []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(ChainUnaryInterceptors(
			RecoveryInterceptor(logger, nil),
			MetricsInterceptor(),
			LoggingInterceptor(logger),
		)),
		grpc.StreamInterceptor(ChainStreamInterceptors(
			StreamRecoveryInterceptor(logger, nil),
			StreamMetricsInterceptor(),
			StreamLoggingInterceptor(logger),
		)),
	}
}
