package grpc

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/config"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/kernel"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/runtime"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/testutil"
)

type testServer struct {
	client   *ChatClient
	assembly *runtime.Assembly
	log      *testutil.RecordingLogger
}

func startTestServer(t *testing.T, limits kernel.RateLimitConfig) *testServer {
	t.Helper()
	cfg := config.DefaultCoreConfig()
	log := testutil.NewRecordingLogger()
	a, err := runtime.Assemble(cfg, runtime.Deps{
		Kernel: kernel.NewKernel(log, cfg, limits),
	}, log)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv := NewGracefulServer(NewChatServer(a.Pipeline, log), "bufnet")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		<-done
		ctx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		_ = a.Close(ctx)
	})
	return &testServer{client: NewChatClient(conn), assembly: a, log: log}
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

// collect drains a chat stream.
func collect(t *testing.T, events *ChatEvents) ([]*structpb.Struct, error) {
	t.Helper()
	var out []*structpb.Struct
	for {
		ev, err := events.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

func eventType(ev *structpb.Struct) string {
	return ev.GetFields()["type"].GetStringValue()
}

func TestChatStreamsEventsUntilSessionEnd(t *testing.T) {
	ts := startTestServer(t, kernel.RateLimitConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := ts.client.Chat(ctx, mustStruct(t, map[string]any{
		"message":    "turn on the bedroom lights",
		"user_id":    "u1",
		"session_id": "s1",
	}))
	require.NoError(t, err)
	events, err := collect(t, stream)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "classification_result", eventType(events[0]))
	assert.Equal(t, "final_response", eventType(events[len(events)-2]))
	assert.Equal(t, "session_end", eventType(events[len(events)-1]))

	final := events[len(events)-2].GetFields()["data"].GetStructValue().GetFields()
	assert.Equal(t, "success", final["outcome"].GetStringValue())
	assert.Equal(t, "on", ts.assembly.Home.Lights("bedroom"))

	interactionID := events[0].GetFields()["interaction_id"].GetStringValue()
	assert.NotEmpty(t, interactionID)
	for _, ev := range events {
		assert.Equal(t, interactionID, ev.GetFields()["interaction_id"].GetStringValue())
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	ts := startTestServer(t, kernel.RateLimitConfig{})

	stream, err := ts.client.Chat(context.Background(), mustStruct(t, map[string]any{"message": "  "}))
	require.NoError(t, err)
	_, err = collect(t, stream)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestChatRateLimited(t *testing.T) {
	ts := startTestServer(t, kernel.RateLimitConfig{RequestsPerMinute: 1})
	req := mustStruct(t, map[string]any{"message": "what time is it", "user_id": "u1"})

	stream, err := ts.client.Chat(context.Background(), req)
	require.NoError(t, err)
	_, err = collect(t, stream)
	require.NoError(t, err)

	stream, err = ts.client.Chat(context.Background(), req)
	require.NoError(t, err)
	_, err = collect(t, stream)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.True(t, ts.log.Has("rate_limit_exceeded"))
}

func TestFeedbackUnknownSession(t *testing.T) {
	ts := startTestServer(t, kernel.RateLimitConfig{})

	_, err := ts.client.Feedback(context.Background(), mustStruct(t, map[string]any{
		"session_id":    "nope",
		"feedback_type": "approve",
	}))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestFeedbackInvalidType(t *testing.T) {
	ts := startTestServer(t, kernel.RateLimitConfig{})

	_, err := ts.client.Feedback(context.Background(), mustStruct(t, map[string]any{
		"session_id":    "s1",
		"feedback_type": "meh",
	}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestFeedbackAfterChat(t *testing.T) {
	ts := startTestServer(t, kernel.RateLimitConfig{})
	ctx := context.Background()

	stream, err := ts.client.Chat(ctx, mustStruct(t, map[string]any{
		"message": "add eggs to the shopping list", "user_id": "u1", "session_id": "s9",
	}))
	require.NoError(t, err)
	_, err = collect(t, stream)
	require.NoError(t, err)

	resp, err := ts.client.Feedback(ctx, mustStruct(t, map[string]any{
		"session_id":    "s9",
		"feedback_type": "reject",
	}))
	require.NoError(t, err)
	fields := resp.GetFields()
	assert.NotEmpty(t, fields["interaction_id"].GetStringValue())
	assert.Equal(t, "Thanks, noted.", fields["text"].GetStringValue())
}
