package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const inboxService = "forumdm.v1.InboxService"

// InboxServer exposes the thread list.
type InboxServer interface {
	ListThreads(context.Context, *Empty) (*ThreadsResponse, error)
	RefreshThreads(context.Context, *Empty) (*ThreadsResponse, error)
	LoadMoreThreads(context.Context, *Empty) (*ThreadsResponse, error)
	WatchThreads(*Empty, EventSender) error
}

var InboxServiceDesc = grpc.ServiceDesc{
	ServiceName: inboxService,
	HandlerType: (*InboxServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListThreads", Handler: unary("/"+inboxService+"/ListThreads", InboxServer.ListThreads)},
		{MethodName: "RefreshThreads", Handler: unary("/"+inboxService+"/RefreshThreads", InboxServer.RefreshThreads)},
		{MethodName: "LoadMoreThreads", Handler: unary("/"+inboxService+"/LoadMoreThreads", InboxServer.LoadMoreThreads)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchThreads", Handler: watch(InboxServer.WatchThreads), ServerStreams: true},
	},
}

func RegisterInboxServer(s grpc.ServiceRegistrar, srv InboxServer) {
	s.RegisterService(&InboxServiceDesc, srv)
}

// InboxClient is the client of InboxService.
type InboxClient struct {
	cc grpc.ClientConnInterface
}

func NewInboxClient(cc grpc.ClientConnInterface) *InboxClient {
	return &InboxClient{cc: cc}
}

func (c *InboxClient) ListThreads(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ThreadsResponse, error) {
	return invoke[ThreadsResponse](ctx, c.cc, "/"+inboxService+"/ListThreads", in, opts)
}

func (c *InboxClient) RefreshThreads(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ThreadsResponse, error) {
	return invoke[ThreadsResponse](ctx, c.cc, "/"+inboxService+"/RefreshThreads", in, opts)
}

func (c *InboxClient) LoadMoreThreads(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ThreadsResponse, error) {
	return invoke[ThreadsResponse](ctx, c.cc, "/"+inboxService+"/LoadMoreThreads", in, opts)
}

func (c *InboxClient) WatchThreads(ctx context.Context, in *Empty, opts ...grpc.CallOption) (EventReceiver, error) {
	return openWatch(ctx, c.cc, &InboxServiceDesc.Streams[0], "/"+inboxService+"/WatchThreads", in, opts)
}
