package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/forumdm/internal/chat"
)

// DefaultPageSize is the number of messages requested per page.
const DefaultPageSize = 30

// maxCatchUpPages bounds the pages fetched by one reload of a held
// conversation.
const maxCatchUpPages = 5

// ErrNotLoaded is returned by LoadOlder before any history was loaded.
var ErrNotLoaded = errors.New("conversation not loaded")

// State is the load state of a conversation.
type State string

const (
	Empty          State = "empty"
	LoadingInitial State = "loading-initial"
	Ready          State = "ready"
	LoadingOlder   State = "loading-older"
	Failed         State = "error"
)

// Fetcher retrieves history pages, newest first.
type Fetcher interface {
	FetchMessages(ctx context.Context, peer int64, cursor chat.Cursor, limit int) (chat.MessagePage, error)
}

// Store holds the history of one conversation, sorted ascending by
// (SentAtMs, ID) with unique ids. Pages, pushes and confirmed sends all merge
// through the same sorted insert, so arrival order never matters.
type Store struct {
	peer     int64
	fetcher  Fetcher
	pageSize int
	logger   *zap.Logger

	mu      sync.Mutex
	state   State
	msgs    []chat.Message
	loaded  bool
	hasMore bool
	cursor  chat.Cursor
	synced  chat.Cursor // newest message of the last newest-page load
	err     error
}

// NewStore creates an empty store for the conversation with peer.
func NewStore(peer int64, fetcher Fetcher, pageSize int, logger *zap.Logger) *Store {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		peer:     peer,
		fetcher:  fetcher,
		pageSize: pageSize,
		logger:   logger.With(zap.Int64("peer", peer)),
		state:    Empty,
	}
}

// Peer returns the other participant.
func (s *Store) Peer() int64 { return s.peer }

// LoadInitial fetches the newest page. On a store that already holds history
// it walks back from the newest page until it reaches the tail seen at the
// previous load, so anything missed while offline is merged without a gap.
// When the gap is deeper than maxCatchUpPages the held window restarts at the
// fetched pages and LoadOlder continues from there.
// It is a no-op while another load is in flight.
func (s *Store) LoadInitial(ctx context.Context) error {
	s.mu.Lock()
	if s.loadingLocked() {
		s.mu.Unlock()
		return nil
	}
	s.state = LoadingInitial
	loaded, synced := s.loaded, s.synced
	s.mu.Unlock()

	page, err := s.fetcher.FetchMessages(ctx, s.peer, chat.Cursor{}, s.pageSize)
	fetched := page.Messages
	oldest := oldestCursor(fetched, chat.Cursor{})
	for n := 1; err == nil && loaded && page.HasMore && !reaches(oldest, synced); n++ {
		if n >= maxCatchUpPages || oldest.IsZero() {
			break
		}
		page, err = s.fetcher.FetchMessages(ctx, s.peer, oldest, s.pageSize)
		fetched = append(fetched, page.Messages...)
		oldest = oldestCursor(page.Messages, oldest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failLocked(err)
		return fmt.Errorf("load conversation %d: %w", s.peer, err)
	}
	switch {
	case !s.loaded:
		s.hasMore = page.HasMore
		s.cursor = oldest
		s.loaded = true
	case page.HasMore && !reaches(oldest, synced):
		// Gap too deep: drop everything before the fetched window.
		s.msgs = slices.DeleteFunc(s.msgs, func(m chat.Message) bool { return oldest.Before(m) })
		s.hasMore = true
		s.cursor = oldest
		s.logger.Info("catch-up gap too deep, history window restarted", zap.String("cursor", oldest.String()))
	case !page.HasMore:
		s.hasMore = false
		if !oldest.IsZero() && (s.cursor.IsZero() || oldest.Less(s.cursor)) {
			s.cursor = oldest
		}
	}
	s.mergeLocked(fetched)
	if newest := newestCursor(fetched); synced.Less(newest) {
		s.synced = newest
	}
	s.state = Ready
	s.err = nil
	s.logger.Debug("loaded newest page", zap.Int("count", len(fetched)), zap.Bool("has_more", s.hasMore))
	return nil
}

// reaches reports whether a walk that got back to oldest has covered the
// tail synced at the previous load. A zero tail is never reached.
func reaches(oldest, synced chat.Cursor) bool {
	return !synced.IsZero() && !synced.Less(oldest)
}

// LoadOlder fetches the page before the oldest held message and prepends it.
// It is a no-op when no older page exists or a load is in flight.
func (s *Store) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	if !s.loaded && !s.loadingLocked() {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	if s.loadingLocked() || !s.hasMore || s.cursor.IsZero() {
		s.mu.Unlock()
		return nil
	}
	cursor := s.cursor
	s.state = LoadingOlder
	s.mu.Unlock()

	page, err := s.fetcher.FetchMessages(ctx, s.peer, cursor, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failLocked(err)
		return fmt.Errorf("load older messages with %d: %w", s.peer, err)
	}
	s.mergeLocked(page.Messages)
	s.hasMore = page.HasMore
	s.cursor = oldestCursor(page.Messages, s.cursor)
	s.state = Ready
	s.err = nil
	s.logger.Debug("loaded older page", zap.Int("count", len(page.Messages)), zap.String("cursor", s.cursor.String()))
	return nil
}

func (s *Store) loadingLocked() bool {
	return s.state == LoadingInitial || s.state == LoadingOlder
}

func (s *Store) failLocked(err error) {
	s.state = Failed
	s.err = err
	s.logger.Warn("conversation fetch failed", zap.Error(err))
}

// ApplyIncoming merges one message belonging to this conversation. It
// reports whether the held history changed.
func (s *Store) ApplyIncoming(m chat.Message) bool {
	if !m.Involves(s.peer) || m.From == m.To {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(m)
}

// ApplyRecall marks message id recalled when requester is its sender. It is a
// no-op for unknown or already recalled messages.
func (s *Store) ApplyRecall(id, requester int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	m := &s.msgs[i]
	if m.Recalled() || m.From != requester {
		return false
	}
	m.Kind = chat.KindRecalled
	m.Body = ""
	return true
}

func (s *Store) mergeLocked(page []chat.Message) {
	for _, m := range page {
		if m.Involves(s.peer) {
			s.insertLocked(m)
		}
	}
}

// insertLocked places m at its sorted position or merges it into the copy
// already held. A recalled copy always wins.
func (s *Store) insertLocked(m chat.Message) bool {
	if m.Recalled() {
		m.Body = ""
	}
	if i := s.indexLocked(m.ID); i >= 0 {
		cur := &s.msgs[i]
		if m.Recalled() && !cur.Recalled() {
			cur.Kind = chat.KindRecalled
			cur.Body = ""
			return true
		}
		return false
	}
	pos, _ := slices.BinarySearchFunc(s.msgs, m, chat.CompareMessages)
	s.msgs = slices.Insert(s.msgs, pos, m)
	return true
}

func (s *Store) indexLocked(id int64) int {
	// Scan from the tail; recent messages are the common target.
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// oldestCursor returns the position of the oldest message of page, or cur
// when the page holds nothing older.
func oldestCursor(page []chat.Message, cur chat.Cursor) chat.Cursor {
	for _, m := range page {
		if c := chat.CursorOf(m); cur.IsZero() || c.Less(cur) {
			cur = c
		}
	}
	return cur
}

func newestCursor(page []chat.Message) chat.Cursor {
	var cur chat.Cursor
	for _, m := range page {
		if c := chat.CursorOf(m); cur.Less(c) {
			cur = c
		}
	}
	return cur
}

// Messages returns a copy of the held history, oldest first.
func (s *Store) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.msgs)
}

// Find returns the held message with the given id.
func (s *Store) Find(id int64) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.msgs[i], true
	}
	return chat.Message{}, false
}

// State returns the load state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HasMore reports whether an older page is known to exist.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Cursor returns the pagination position: the oldest message of the oldest
// page loaded. Pushed messages never move it.
func (s *Store) Cursor() chat.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Err returns the last fetch error while the store is in the error state.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Snapshot is a consistent view of a store.
type Snapshot struct {
	Peer     int64
	State    State
	Messages []chat.Message
	HasMore  bool
	Err      error
}

// Snapshot returns the store's state and history under one lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Peer:     s.peer,
		State:    s.state,
		Messages: slices.Clone(s.msgs),
		HasMore:  s.hasMore,
		Err:      s.err,
	}
}
