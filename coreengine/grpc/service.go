package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Full method names of zoe.v1.ChatService. Messages are google.protobuf.Struct
// so clients need no generated stubs.
const (
	ChatServiceName = "zoe.v1.ChatService"
	ChatMethod      = "/zoe.v1.ChatService/Chat"
	FeedbackMethod  = "/zoe.v1.ChatService/Feedback"
)

// ChatServiceServer is the server API of zoe.v1.ChatService.
type ChatServiceServer interface {
	Chat(req *structpb.Struct, stream ChatStream) error
	Feedback(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ChatStream is the server side of a Chat call.
type ChatStream interface {
	Send(*structpb.Struct) error
	Context() context.Context
}

type chatServerStream struct {
	grpc.ServerStream
}

func (s *chatServerStream) Send(m *structpb.Struct) error { return s.ServerStream.SendMsg(m) }

func chatHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ChatServiceServer).Chat(in, &chatServerStream{stream})
}

func feedbackHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatServiceServer).Feedback(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FeedbackMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChatServiceServer).Feedback(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ChatServiceDesc describes zoe.v1.ChatService for grpc.Server.RegisterService.
var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ChatServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Feedback", Handler: feedbackHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Chat", Handler: chatHandler, ServerStreams: true},
	},
	Metadata: "zoe/v1/chat.proto",
}

// RegisterChatServiceServer registers srv on s.
func RegisterChatServiceServer(s grpc.ServiceRegistrar, srv ChatServiceServer) {
	s.RegisterService(&ChatServiceDesc, srv)
}

// =============================================================================
// CLIENT
// =============================================================================

// ChatClient calls zoe.v1.ChatService.
type ChatClient struct {
	cc grpc.ClientConnInterface
}

// NewChatClient wraps a connection.
func NewChatClient(cc grpc.ClientConnInterface) *ChatClient {
	return &ChatClient{cc: cc}
}

// ChatEvents receives the events of one Chat call.
type ChatEvents struct {
	stream grpc.ClientStream
}

// Recv returns the next event, or io.EOF after session_end.
func (c *ChatEvents) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := c.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Chat starts a chat stream.
func (c *ChatClient) Chat(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*ChatEvents, error) {
	stream, err := c.cc.NewStream(ctx, &ChatServiceDesc.Streams[0], ChatMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &ChatEvents{stream: stream}, nil
}

// Feedback sends feedback for an interaction.
func (c *ChatClient) Feedback(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FeedbackMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
