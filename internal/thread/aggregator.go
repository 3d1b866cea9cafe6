package thread

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/forumdm/internal/bus"
	"github.com/matheus3301/forumdm/internal/chat"
	"github.com/matheus3301/forumdm/internal/protocol"
)

// DefaultPageSize is the number of threads requested per page.
const DefaultPageSize = 20

// Source serves pages of thread summaries.
type Source interface {
	FetchThreads(ctx context.Context, cursor string, limit int) (chat.ThreadPage, error)
}

// Profiles resolves display data for a user.
type Profiles interface {
	User(ctx context.Context, id int64) (chat.Profile, error)
}

// PresenceLookup resolves presence for many peers at once.
type PresenceLookup interface {
	Lookup(ctx context.Context, ids []int64) (map[int64]chat.PresenceState, error)
}

// Sender writes best-effort frames on the live connection.
type Sender interface {
	Send(kind string, payload any) bool
}

// Row is one inbox entry. Presence and Profile stay nil until known.
type Row struct {
	chat.ThreadSummary
	Presence *chat.PresenceState
	Profile  *chat.Profile
}

// Aggregator maintains the inbox: one row per peer, in server order.
type Aggregator struct {
	src      Source
	profiles Profiles
	presence PresenceLookup
	sender   Sender
	bus      *bus.Bus
	logger   *zap.Logger
	pageSize int

	mu         sync.Mutex
	rows       []Row
	nextCursor string
	hasMore    bool
	listGen    uint64
	epoch      uint64
	readAt     map[int64]uint64
	profileOf  map[int64]chat.Profile
	presenceOf map[int64]chat.PresenceState

	trigger chan struct{}
	baseCtx context.Context
	cancel  context.CancelFunc
	loop    sync.WaitGroup
	enrich  sync.WaitGroup
}

// Config holds the collaborators of an Aggregator.
type Config struct {
	Source   Source
	Profiles Profiles
	Presence PresenceLookup
	Sender   Sender
	Bus      *bus.Bus
	PageSize int
}

// New creates an empty aggregator.
func New(cfg Config, logger *zap.Logger) *Aggregator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Aggregator{
		src:        cfg.Source,
		profiles:   cfg.Profiles,
		presence:   cfg.Presence,
		sender:     cfg.Sender,
		bus:        cfg.Bus,
		logger:     logger,
		pageSize:   cfg.PageSize,
		readAt:     make(map[int64]uint64),
		profileOf:  make(map[int64]chat.Profile),
		presenceOf: make(map[int64]chat.PresenceState),
		trigger:    make(chan struct{}, 1),
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

// Refresh replaces the list with the first page. Unread counts never go
// down across a refresh unless the peer was marked read after it started.
func (a *Aggregator) Refresh(ctx context.Context) error {
	a.mu.Lock()
	started := a.epoch
	a.mu.Unlock()

	page, err := a.src.FetchThreads(ctx, "", a.pageSize)
	if err != nil {
		return fmt.Errorf("refresh threads: %w", err)
	}

	a.mu.Lock()
	held := make(map[int64]int, len(a.rows))
	for _, r := range a.rows {
		held[r.PeerID] = r.UnreadCount
	}
	rows := make([]Row, 0, len(page.Threads))
	seen := make(map[int64]bool, len(page.Threads))
	for _, sum := range page.Threads {
		if seen[sum.PeerID] {
			continue
		}
		seen[sum.PeerID] = true
		switch {
		case a.readAt[sum.PeerID] > started:
			sum.UnreadCount = 0
		case held[sum.PeerID] > sum.UnreadCount:
			sum.UnreadCount = held[sum.PeerID]
		}
		rows = append(rows, a.rowLocked(sum))
	}
	a.rows = rows
	a.nextCursor = page.NextCursor
	a.hasMore = page.HasMore
	a.listGen++
	peers := peersOf(rows)
	a.mu.Unlock()

	a.logger.Debug("threads refreshed", zap.Int("count", len(rows)), zap.Bool("has_more", page.HasMore))
	a.publish()
	a.enrichAsync(peers)
	return nil
}

// LoadMore appends the next page. It is a no-op when nothing is left.
func (a *Aggregator) LoadMore(ctx context.Context) error {
	a.mu.Lock()
	if !a.hasMore {
		a.mu.Unlock()
		return nil
	}
	cursor := a.nextCursor
	gen := a.listGen
	a.mu.Unlock()

	page, err := a.src.FetchThreads(ctx, cursor, a.pageSize)
	if err != nil {
		return fmt.Errorf("load more threads: %w", err)
	}

	a.mu.Lock()
	if gen != a.listGen {
		// A refresh replaced the list meanwhile; this page continues the old one.
		a.mu.Unlock()
		return nil
	}
	have := make(map[int64]bool, len(a.rows))
	for _, r := range a.rows {
		have[r.PeerID] = true
	}
	var added []Row
	for _, sum := range page.Threads {
		if have[sum.PeerID] {
			continue
		}
		have[sum.PeerID] = true
		added = append(added, a.rowLocked(sum))
	}
	a.rows = append(a.rows, added...)
	a.nextCursor = page.NextCursor
	a.hasMore = page.HasMore
	peers := peersOf(added)
	a.mu.Unlock()

	a.publish()
	if len(peers) > 0 {
		a.enrichAsync(peers)
	}
	return nil
}

// MarkRead zeroes the unread count of peer and tells the server over the
// live connection. It reports whether the frame was sent.
func (a *Aggregator) MarkRead(peer int64) bool {
	a.mu.Lock()
	a.epoch++
	a.readAt[peer] = a.epoch
	for i := range a.rows {
		if a.rows[i].PeerID == peer {
			a.rows[i].UnreadCount = 0
		}
	}
	a.mu.Unlock()

	sent := false
	if a.sender != nil {
		sent = a.sender.Send(protocol.KindChatRead, protocol.ReadPayload{PeerID: peer})
	}
	a.publish()
	return sent
}

// RequestRefresh asks the refresh loop for a refresh. Requests made while one
// is already pending collapse into it.
func (a *Aggregator) RequestRefresh() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

// Start runs the refresh loop until ctx is done or Stop is called.
func (a *Aggregator) Start(ctx context.Context) {
	a.loop.Add(1)
	go func() {
		defer a.loop.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.baseCtx.Done():
				return
			case <-a.trigger:
				if err := a.Refresh(a.baseCtx); err != nil {
					a.logger.Warn("thread refresh failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop ends the refresh loop and waits for in-flight enrichment.
func (a *Aggregator) Stop() {
	a.cancel()
	a.loop.Wait()
	a.enrich.Wait()
}

// Rows returns a copy of the inbox.
func (a *Aggregator) Rows() []Row {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Row, len(a.rows))
	for i, r := range a.rows {
		out[i] = r
		if r.Presence != nil {
			p := *r.Presence
			out[i].Presence = &p
		}
		if r.Profile != nil {
			p := *r.Profile
			out[i].Profile = &p
		}
	}
	return out
}

// HasMore reports whether another page of threads exists.
func (a *Aggregator) HasMore() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasMore
}

// rowLocked builds a row from a summary and whatever enrichment is cached.
func (a *Aggregator) rowLocked(sum chat.ThreadSummary) Row {
	r := Row{ThreadSummary: sum}
	if p, ok := a.presenceOf[sum.PeerID]; ok {
		r.Presence = &p
	}
	if p, ok := a.profileOf[sum.PeerID]; ok {
		r.Profile = &p
	}
	return r
}

// enrichAsync fetches presence for peers in one batch and profiles for the
// peers not cached yet, then merges them into the rows.
func (a *Aggregator) enrichAsync(peers []int64) {
	if len(peers) == 0 {
		return
	}
	a.enrich.Add(1)
	go func() {
		defer a.enrich.Done()
		a.enrichPresence(peers)
		a.enrichProfiles(peers)
		a.publish()
	}()
}

func (a *Aggregator) enrichPresence(peers []int64) {
	if a.presence == nil {
		return
	}
	states, err := a.presence.Lookup(a.baseCtx, peers)
	if err != nil {
		a.logger.Warn("presence enrichment failed", zap.Error(err))
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, peer := range peers {
		if st, ok := states[peer]; ok {
			a.presenceOf[peer] = st
		} else {
			delete(a.presenceOf, peer)
		}
	}
	a.applyCachesLocked()
}

func (a *Aggregator) enrichProfiles(peers []int64) {
	if a.profiles == nil {
		return
	}
	a.mu.Lock()
	var missing []int64
	for _, peer := range peers {
		if _, ok := a.profileOf[peer]; !ok {
			missing = append(missing, peer)
		}
	}
	a.mu.Unlock()

	var wg sync.WaitGroup
	for _, peer := range missing {
		wg.Add(1)
		go func(peer int64) {
			defer wg.Done()
			p, err := a.profiles.User(a.baseCtx, peer)
			if err != nil {
				a.logger.Warn("profile lookup failed", zap.Int64("peer", peer), zap.Error(err))
				return
			}
			a.mu.Lock()
			a.profileOf[peer] = p
			a.mu.Unlock()
		}(peer)
	}
	wg.Wait()

	a.mu.Lock()
	a.applyCachesLocked()
	a.mu.Unlock()
}

func (a *Aggregator) applyCachesLocked() {
	for i := range a.rows {
		sum := a.rows[i].ThreadSummary
		a.rows[i] = a.rowLocked(sum)
	}
}

func (a *Aggregator) publish() {
	if a.bus != nil {
		a.bus.Publish(bus.NewEvent(bus.KindThreadsUpdated, nil))
	}
}

func peersOf(rows []Row) []int64 {
	peers := make([]int64, len(rows))
	for i, r := range rows {
		peers[i] = r.PeerID
	}
	return peers
}
