package api

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/forumdm/internal/bus"
	"github.com/matheus3301/forumdm/internal/chat"
	"github.com/matheus3301/forumdm/internal/conversation"
	"github.com/matheus3301/forumdm/internal/outbound"
	"github.com/matheus3301/forumdm/internal/rpc"
)

// Outbound sends and recalls messages.
type Outbound interface {
	Send(ctx context.Context, d outbound.Draft) (chat.Message, error)
	Recall(ctx context.Context, peer, id int64) error
}

// ReadMarker zeroes a thread's unread count.
type ReadMarker interface {
	MarkRead(peer int64) bool
}

// ChatService implements the ChatService gRPC service.
type ChatService struct {
	registry *conversation.Registry
	outbound Outbound
	reads    ReadMarker
	bus      *bus.Bus
	profile  string
	me       int64
	logger   *zap.Logger

	loc *time.Location
	now func() time.Time
}

// NewChatService creates a chat service over the open conversations.
func NewChatService(profile string, me int64, registry *conversation.Registry, out Outbound, reads ReadMarker, b *bus.Bus, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		registry: registry,
		outbound: out,
		reads:    reads,
		bus:      b,
		profile:  profile,
		me:       me,
		logger:   logger,
		loc:      time.Local,
		now:      time.Now,
	}
}

// OpenConversation opens the store for a peer and loads its newest page
// unless it already holds one.
func (s *ChatService) OpenConversation(ctx context.Context, req *rpc.PeerRequest) (*rpc.ConversationResponse, error) {
	if err := s.checkPeer(req.PeerID); err != nil {
		return nil, err
	}
	store := s.registry.Open(req.PeerID)
	if st := store.State(); st == conversation.Empty || st == conversation.Failed {
		if err := store.LoadInitial(ctx); err != nil {
			s.logger.Warn("initial load failed", zap.Int64("peer", req.PeerID), zap.Error(err))
		}
	}
	return s.view(store), nil
}

func (s *ChatService) LoadOlder(ctx context.Context, req *rpc.PeerRequest) (*rpc.ConversationResponse, error) {
	store, err := s.store(req.PeerID)
	if err != nil {
		return nil, err
	}
	if err := store.LoadOlder(ctx); err != nil {
		if store.State() != conversation.Failed {
			return nil, statusError(err)
		}
		s.logger.Warn("load older failed", zap.Int64("peer", req.PeerID), zap.Error(err))
	}
	return s.view(store), nil
}

func (s *ChatService) GetConversation(_ context.Context, req *rpc.PeerRequest) (*rpc.ConversationResponse, error) {
	store, err := s.store(req.PeerID)
	if err != nil {
		return nil, err
	}
	return s.view(store), nil
}

func (s *ChatService) SendMessage(ctx context.Context, req *rpc.SendRequest) (*rpc.SendResponse, error) {
	msg, err := s.outbound.Send(ctx, outbound.Draft{To: req.PeerID, Body: req.Body, Token: req.ClientToken})
	if err != nil {
		return nil, statusError(err)
	}
	return &rpc.SendResponse{Message: msg}, nil
}

func (s *ChatService) RecallMessage(ctx context.Context, req *rpc.RecallRequest) (*rpc.Empty, error) {
	if err := s.outbound.Recall(ctx, req.PeerID, req.MessageID); err != nil {
		return nil, statusError(err)
	}
	return &rpc.Empty{}, nil
}

func (s *ChatService) MarkRead(_ context.Context, req *rpc.PeerRequest) (*rpc.MarkReadResponse, error) {
	if err := s.checkPeer(req.PeerID); err != nil {
		return nil, err
	}
	return &rpc.MarkReadResponse{Sent: s.reads.MarkRead(req.PeerID)}, nil
}

// WatchConversation streams conversation and outbound events. PeerID zero
// watches every conversation.
func (s *ChatService) WatchConversation(req *rpc.PeerRequest, stream rpc.EventSender) error {
	// One subscription keeps a send outcome ordered against the update that
	// inserted the message.
	events, unsub := s.bus.Subscribe(256, "conversation.", "message.")
	defer unsub()

	for {
		var evt bus.Event
		select {
		case evt = <-events:
		case <-stream.Context().Done():
			return nil
		}
		if req.PeerID != 0 && peerOf(evt) != req.PeerID {
			continue
		}
		if err := stream.Send(toEvent(s.profile, evt)); err != nil {
			return err
		}
	}
}

func peerOf(evt bus.Event) int64 {
	switch p := evt.Payload.(type) {
	case bus.ConversationUpdate:
		return p.PeerID
	case outbound.SendResult:
		return p.To
	}
	return 0
}

func (s *ChatService) checkPeer(peer int64) error {
	if peer <= 0 || peer == s.me {
		return grpcstatus.Errorf(codes.InvalidArgument, "invalid peer %d", peer)
	}
	return nil
}

func (s *ChatService) store(peer int64) (*conversation.Store, error) {
	store, ok := s.registry.Get(peer)
	if !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "conversation with %d is not open", peer)
	}
	return store, nil
}

func (s *ChatService) view(store *conversation.Store) *rpc.ConversationResponse {
	snap := store.Snapshot()
	now := s.now()
	resp := &rpc.ConversationResponse{
		PeerID:  snap.Peer,
		State:   string(snap.State),
		HasMore: snap.HasMore,
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	for _, it := range conversation.Segment(snap.Messages, now, s.loc) {
		if it.Separator {
			resp.Items = append(resp.Items, rpc.Item{Separator: true, Label: it.Label})
			continue
		}
		m := it.Message
		resp.Items = append(resp.Items, rpc.Item{
			Message:    &m,
			Outgoing:   m.From == s.me,
			Recallable: chat.CanRecall(m, s.me, now),
		})
	}
	return resp
}
