package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// EventSender is the server side of an event stream.
type EventSender interface {
	Send(*Event) error
	Context() context.Context
}

// EventReceiver is the client side of an event stream.
type EventReceiver interface {
	Recv() (*Event, error)
}

type eventServerStream struct{ grpc.ServerStream }

func (s eventServerStream) Send(e *Event) error { return s.SendMsg(e) }

type eventClientStream struct{ grpc.ClientStream }

func (s eventClientStream) Recv() (*Event, error) {
	e := new(Event)
	if err := s.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

func unary[S any, Req any, Resp any](fullMethod string, call func(S, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(S), ctx, req.(*Req))
		})
	}
}

func watch[S any, Req any](call func(S, *Req, EventSender) error) func(any, grpc.ServerStream) error {
	return func(srv any, stream grpc.ServerStream) error {
		in := new(Req)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return call(srv.(S), in, eventServerStream{stream})
	}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func openWatch(ctx context.Context, cc grpc.ClientConnInterface, desc *grpc.StreamDesc, method string, in any, opts []grpc.CallOption) (EventReceiver, error) {
	stream, err := cc.NewStream(ctx, desc, method, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return eventClientStream{stream}, nil
}
