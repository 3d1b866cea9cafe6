package conversation

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/forumdm/internal/chat"
)

// Registry holds the open conversations of the current user, one Store per
// peer.
type Registry struct {
	fetcher  Fetcher
	pageSize int
	logger   *zap.Logger

	mu     sync.RWMutex
	stores map[int64]*Store
}

// NewRegistry creates an empty registry.
func NewRegistry(fetcher Fetcher, pageSize int, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		fetcher:  fetcher,
		pageSize: pageSize,
		logger:   logger,
		stores:   make(map[int64]*Store),
	}
}

// Open returns the store for peer, creating an empty one if needed.
func (r *Registry) Open(peer int64) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[peer]; ok {
		return s
	}
	s := NewStore(peer, r.fetcher, r.pageSize, r.logger)
	r.stores[peer] = s
	return s
}

// Get returns the store for peer if it is open.
func (r *Registry) Get(peer int64) (*Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[peer]
	return s, ok
}

// Close drops the store for peer.
func (r *Registry) Close(peer int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stores, peer)
}

// Peers lists the open conversations in ascending order.
func (r *Registry) Peers() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]int64, 0, len(r.stores))
	for p := range r.stores {
		peers = append(peers, p)
	}
	slices.Sort(peers)
	return peers
}

// Route applies a pushed message to the open conversation it belongs to from
// me's point of view. Messages for conversations that are not open are
// ignored; their history is fetched when they are opened.
func (r *Registry) Route(m chat.Message, me int64) (peer int64, changed bool) {
	if !m.Involves(me) {
		return 0, false
	}
	peer = chat.Peer(m, me)
	s, ok := r.Get(peer)
	if !ok {
		return peer, false
	}
	return peer, s.ApplyIncoming(m)
}

// Recall applies a pushed recall to the open conversation it belongs to.
func (r *Registry) Recall(m chat.Message, me int64) (peer int64, changed bool) {
	if !m.Involves(me) {
		return 0, false
	}
	peer = chat.Peer(m, me)
	s, ok := r.Get(peer)
	if !ok {
		return peer, false
	}
	return peer, s.ApplyRecall(m.ID, m.From)
}
