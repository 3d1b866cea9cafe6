package presence

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/forumdm/internal/chat"
)

// ErrNoPeers is returned for an empty lookup.
var ErrNoPeers = errors.New("presence lookup needs at least one peer")

// Source answers batch presence requests.
type Source interface {
	Presence(ctx context.Context, ids []int64) ([]chat.PresenceState, error)
}

// Query resolves presence for many peers in one round trip.
type Query struct {
	src    Source
	logger *zap.Logger
}

// New creates a Query backed by src.
func New(src Source, logger *zap.Logger) *Query {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Query{src: src, logger: logger}
}

// Lookup returns the known presence of ids. Peers the source knows nothing
// about are absent from the result; callers treat them as unknown.
func (q *Query) Lookup(ctx context.Context, ids []int64) (map[int64]chat.PresenceState, error) {
	wanted := make(map[int64]bool, len(ids))
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !wanted[id] {
			wanted[id] = true
			unique = append(unique, id)
		}
	}
	if len(unique) == 0 {
		return nil, ErrNoPeers
	}

	states, err := q.src.Presence(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("presence lookup: %w", err)
	}
	out := make(map[int64]chat.PresenceState, len(states))
	for _, st := range states {
		if !wanted[st.PeerID] {
			continue
		}
		// Last observed wins when the source repeats a peer.
		out[st.PeerID] = st
	}
	q.logger.Debug("presence lookup", zap.Int("requested", len(unique)), zap.Int("known", len(out)))
	return out, nil
}
