package api

import (
	"context"

	"github.com/matheus3301/forumdm/internal/bus"
	"github.com/matheus3301/forumdm/internal/rpc"
	"github.com/matheus3301/forumdm/internal/thread"
)

// Inbox is the thread aggregator as seen by the control API.
type Inbox interface {
	Rows() []thread.Row
	HasMore() bool
	Refresh(ctx context.Context) error
	LoadMore(ctx context.Context) error
}

// InboxService implements the InboxService gRPC service.
type InboxService struct {
	inbox   Inbox
	bus     *bus.Bus
	profile string
}

func NewInboxService(profile string, inbox Inbox, b *bus.Bus) *InboxService {
	return &InboxService{inbox: inbox, bus: b, profile: profile}
}

func (s *InboxService) ListThreads(_ context.Context, _ *rpc.Empty) (*rpc.ThreadsResponse, error) {
	return s.list(), nil
}

func (s *InboxService) RefreshThreads(ctx context.Context, _ *rpc.Empty) (*rpc.ThreadsResponse, error) {
	if err := s.inbox.Refresh(ctx); err != nil {
		return nil, statusError(err)
	}
	return s.list(), nil
}

func (s *InboxService) LoadMoreThreads(ctx context.Context, _ *rpc.Empty) (*rpc.ThreadsResponse, error) {
	if err := s.inbox.LoadMore(ctx); err != nil {
		return nil, statusError(err)
	}
	return s.list(), nil
}

func (s *InboxService) WatchThreads(_ *rpc.Empty, stream rpc.EventSender) error {
	ch, unsub := s.bus.Subscribe(64, "threads.")
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if err := stream.Send(toEvent(s.profile, evt)); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *InboxService) list() *rpc.ThreadsResponse {
	rows := s.inbox.Rows()
	resp := &rpc.ThreadsResponse{Threads: make([]rpc.ThreadRow, len(rows)), HasMore: s.inbox.HasMore()}
	for i, r := range rows {
		resp.Threads[i] = rpc.ThreadRow{ThreadSummary: r.ThreadSummary, Presence: r.Presence, Profile: r.Profile}
	}
	return resp
}
