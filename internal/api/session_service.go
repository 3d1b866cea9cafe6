package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/forumdm/internal/bus"
	"github.com/matheus3301/forumdm/internal/rpc"
	"github.com/matheus3301/forumdm/internal/status"
	"github.com/matheus3301/forumdm/internal/transport"
)

// Connection is the realtime transport as seen by the control API.
type Connection interface {
	State() status.State
	WatchState(buf int) (<-chan status.StatusChange, func())
	EnsureConnected()
	Disconnect()
	Stats() transport.Stats
	RetryPending() bool
}

// SessionService implements the SessionService gRPC service.
type SessionService struct {
	profile   string
	userID    int64
	startedAt time.Time
	conn      Connection
	logger    *zap.Logger
}

// NewSessionService creates a new session service.
func NewSessionService(profile string, userID int64, conn Connection, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		profile:   profile,
		userID:    userID,
		startedAt: time.Now(),
		conn:      conn,
		logger:    logger,
	}
}

func (s *SessionService) GetStatus(_ context.Context, _ *rpc.Empty) (*rpc.StatusResponse, error) {
	st := s.conn.Stats()
	return &rpc.StatusResponse{
		Profile:      s.profile,
		UserID:       s.userID,
		State:        string(s.conn.State()),
		RetryPending: s.conn.RetryPending(),
		UptimeMs:     time.Since(s.startedAt).Milliseconds(),
		Stats: rpc.TransportStats{
			Sent:       st.Sent,
			Dropped:    st.Dropped,
			Reconnects: st.Reconnects,
			Frames:     st.Frames,
		},
	}, nil
}

func (s *SessionService) Connect(ctx context.Context, in *rpc.Empty) (*rpc.StatusResponse, error) {
	s.logger.Info("connect requested")
	s.conn.EnsureConnected()
	return s.GetStatus(ctx, in)
}

func (s *SessionService) Disconnect(ctx context.Context, in *rpc.Empty) (*rpc.StatusResponse, error) {
	s.logger.Info("disconnect requested")
	s.conn.Disconnect()
	return s.GetStatus(ctx, in)
}

// WatchStatus streams the current state first, then every transition.
func (s *SessionService) WatchStatus(_ *rpc.Empty, stream rpc.EventSender) error {
	ch, cancel := s.conn.WatchState(32)
	defer cancel()

	for {
		select {
		case change, ok := <-ch:
			if !ok {
				return nil
			}
			evt := bus.NewEvent(bus.KindStatusChanged, rpc.StatusChange{From: string(change.From), To: string(change.To)})
			if err := stream.Send(toEvent(s.profile, evt)); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}
