package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const chatService = "forumdm.v1.ChatService"

// ChatServer exposes open conversations and outbound operations.
type ChatServer interface {
	OpenConversation(context.Context, *PeerRequest) (*ConversationResponse, error)
	LoadOlder(context.Context, *PeerRequest) (*ConversationResponse, error)
	GetConversation(context.Context, *PeerRequest) (*ConversationResponse, error)
	SendMessage(context.Context, *SendRequest) (*SendResponse, error)
	RecallMessage(context.Context, *RecallRequest) (*Empty, error)
	MarkRead(context.Context, *PeerRequest) (*MarkReadResponse, error)
	WatchConversation(*PeerRequest, EventSender) error
}

var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: chatService,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OpenConversation", Handler: unary("/"+chatService+"/OpenConversation", ChatServer.OpenConversation)},
		{MethodName: "LoadOlder", Handler: unary("/"+chatService+"/LoadOlder", ChatServer.LoadOlder)},
		{MethodName: "GetConversation", Handler: unary("/"+chatService+"/GetConversation", ChatServer.GetConversation)},
		{MethodName: "SendMessage", Handler: unary("/"+chatService+"/SendMessage", ChatServer.SendMessage)},
		{MethodName: "RecallMessage", Handler: unary("/"+chatService+"/RecallMessage", ChatServer.RecallMessage)},
		{MethodName: "MarkRead", Handler: unary("/"+chatService+"/MarkRead", ChatServer.MarkRead)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchConversation", Handler: watch(ChatServer.WatchConversation), ServerStreams: true},
	},
}

func RegisterChatServer(s grpc.ServiceRegistrar, srv ChatServer) {
	s.RegisterService(&ChatServiceDesc, srv)
}

// ChatClient is the client of ChatService.
type ChatClient struct {
	cc grpc.ClientConnInterface
}

func NewChatClient(cc grpc.ClientConnInterface) *ChatClient {
	return &ChatClient{cc: cc}
}

func (c *ChatClient) OpenConversation(ctx context.Context, in *PeerRequest, opts ...grpc.CallOption) (*ConversationResponse, error) {
	return invoke[ConversationResponse](ctx, c.cc, "/"+chatService+"/OpenConversation", in, opts)
}

func (c *ChatClient) LoadOlder(ctx context.Context, in *PeerRequest, opts ...grpc.CallOption) (*ConversationResponse, error) {
	return invoke[ConversationResponse](ctx, c.cc, "/"+chatService+"/LoadOlder", in, opts)
}

func (c *ChatClient) GetConversation(ctx context.Context, in *PeerRequest, opts ...grpc.CallOption) (*ConversationResponse, error) {
	return invoke[ConversationResponse](ctx, c.cc, "/"+chatService+"/GetConversation", in, opts)
}

func (c *ChatClient) SendMessage(ctx context.Context, in *SendRequest, opts ...grpc.CallOption) (*SendResponse, error) {
	return invoke[SendResponse](ctx, c.cc, "/"+chatService+"/SendMessage", in, opts)
}

func (c *ChatClient) RecallMessage(ctx context.Context, in *RecallRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "/"+chatService+"/RecallMessage", in, opts)
}

func (c *ChatClient) MarkRead(ctx context.Context, in *PeerRequest, opts ...grpc.CallOption) (*MarkReadResponse, error) {
	return invoke[MarkReadResponse](ctx, c.cc, "/"+chatService+"/MarkRead", in, opts)
}

func (c *ChatClient) WatchConversation(ctx context.Context, in *PeerRequest, opts ...grpc.CallOption) (EventReceiver, error) {
	return openWatch(ctx, c.cc, &ChatServiceDesc.Streams[0], "/"+chatService+"/WatchConversation", in, opts)
}
