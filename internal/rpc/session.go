package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const sessionService = "forumdm.v1.SessionService"

// SessionServer controls the realtime connection.
type SessionServer interface {
	GetStatus(context.Context, *Empty) (*StatusResponse, error)
	Connect(context.Context, *Empty) (*StatusResponse, error)
	Disconnect(context.Context, *Empty) (*StatusResponse, error)
	WatchStatus(*Empty, EventSender) error
}

var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: sessionService,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: unary("/"+sessionService+"/GetStatus", SessionServer.GetStatus)},
		{MethodName: "Connect", Handler: unary("/"+sessionService+"/Connect", SessionServer.Connect)},
		{MethodName: "Disconnect", Handler: unary("/"+sessionService+"/Disconnect", SessionServer.Disconnect)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchStatus", Handler: watch(SessionServer.WatchStatus), ServerStreams: true},
	},
}

func RegisterSessionServer(s grpc.ServiceRegistrar, srv SessionServer) {
	s.RegisterService(&SessionServiceDesc, srv)
}

// SessionClient is the client of SessionService.
type SessionClient struct {
	cc grpc.ClientConnInterface
}

func NewSessionClient(cc grpc.ClientConnInterface) *SessionClient {
	return &SessionClient{cc: cc}
}

func (c *SessionClient) GetStatus(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, "/"+sessionService+"/GetStatus", in, opts)
}

func (c *SessionClient) Connect(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, "/"+sessionService+"/Connect", in, opts)
}

func (c *SessionClient) Disconnect(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, "/"+sessionService+"/Disconnect", in, opts)
}

func (c *SessionClient) WatchStatus(ctx context.Context, in *Empty, opts ...grpc.CallOption) (EventReceiver, error) {
	return openWatch(ctx, c.cc, &SessionServiceDesc.Streams[0], "/"+sessionService+"/WatchStatus", in, opts)
}
