package thread

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/forumdm/internal/bus"
	"github.com/matheus3301/forumdm/internal/chat"
	"github.com/matheus3301/forumdm/internal/protocol"
)

type fakeSource struct {
	mu      sync.Mutex
	pages   map[string]chat.ThreadPage
	calls   int
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeSource) FetchThreads(_ context.Context, cursor string, _ int) (chat.ThreadPage, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	page, ok := f.pages[cursor]
	if !ok {
		return chat.ThreadPage{}, errors.New("no such page")
	}
	return page, nil
}

func (f *fakeSource) set(cursor string, page chat.ThreadPage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[cursor] = page
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePresence struct {
	mu     sync.Mutex
	known  map[int64]chat.PresenceState
	block  chan struct{}
	lookup [][]int64
}

func (f *fakePresence) Lookup(_ context.Context, ids []int64) (map[int64]chat.PresenceState, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookup = append(f.lookup, ids)
	out := make(map[int64]chat.PresenceState)
	for _, id := range ids {
		if st, ok := f.known[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

type fakeProfiles struct {
	mu    sync.Mutex
	asked map[int64]int
}

func (f *fakeProfiles) User(_ context.Context, id int64) (chat.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked[id]++
	if id == 404 {
		return chat.Profile{}, errors.New("not found")
	}
	return chat.Profile{ID: id, Username: "user"}, nil
}

type fakeSender struct {
	mu     sync.Mutex
	frames []protocol.ReadPayload
}

func (f *fakeSender) Send(kind string, payload any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == protocol.KindChatRead {
		f.frames = append(f.frames, payload.(protocol.ReadPayload))
	}
	return true
}

func summary(peer int64, unread int) chat.ThreadSummary {
	return chat.ThreadSummary{PeerID: peer, UnreadCount: unread, LastMessageAtMs: peer * 100}
}

func page(sums ...chat.ThreadSummary) chat.ThreadPage {
	return chat.ThreadPage{Threads: sums}
}

func newTestAggregator(src *fakeSource, pres *fakePresence) (*Aggregator, *fakeProfiles, *fakeSender) {
	profiles := &fakeProfiles{asked: make(map[int64]int)}
	sender := &fakeSender{}
	a := New(Config{Source: src, Profiles: profiles, Presence: pres, Sender: sender}, nil)
	return a, profiles, sender
}

func unreadOf(a *Aggregator, peer int64) int {
	for _, r := range a.Rows() {
		if r.PeerID == peer {
			return r.UnreadCount
		}
	}
	return -1
}

func TestRowsRenderBeforeEnrichment(t *testing.T) {
	src := &fakeSource{pages: map[string]chat.ThreadPage{"": page(summary(7, 1), summary(8, 0))}}
	pres := &fakePresence{
		known: map[int64]chat.PresenceState{7: {PeerID: 7, Status: chat.Online}},
		block: make(chan struct{}),
	}
	a, profiles, _ := newTestAggregator(src, pres)
	defer a.Stop()

	if err := a.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	rows := a.Rows()
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Presence != nil || rows[1].Presence != nil {
		t.Error("presence populated before the lookup finished")
	}

	close(pres.block)
	a.enrich.Wait()

	rows = a.Rows()
	if rows[0].Presence == nil || rows[0].Presence.Status != chat.Online {
		t.Errorf("row 7 presence = %+v, want ONLINE", rows[0].Presence)
	}
	if rows[1].Presence != nil {
		t.Errorf("row 8 presence = %+v, want none (unknown)", rows[1].Presence)
	}
	if rows[0].Profile == nil || rows[1].Profile == nil {
		t.Error("profiles not merged")
	}
	if len(pres.lookup) != 1 || len(pres.lookup[0]) != 2 {
		t.Errorf("presence lookups = %v, want one batch of 2", pres.lookup)
	}
	if profiles.asked[7] != 1 || profiles.asked[8] != 1 {
		t.Errorf("profile lookups = %v, want one per peer", profiles.asked)
	}
}

func TestProfilesCachedAcrossRefresh(t *testing.T) {
	src := &fakeSource{pages: map[string]chat.ThreadPage{"": page(summary(7, 0), summary(404, 0))}}
	a, profiles, _ := newTestAggregator(src, &fakePresence{})
	defer a.Stop()

	for i := 0; i < 3; i++ {
		if err := a.Refresh(context.Background()); err != nil {
			t.Fatal(err)
		}
		a.enrich.Wait()
	}
	if profiles.asked[7] != 1 {
		t.Errorf("profile 7 looked up %d times, want 1", profiles.asked[7])
	}
	// Failed lookups are retried on the next refresh.
	if profiles.asked[404] != 3 {
		t.Errorf("profile 404 looked up %d times, want 3", profiles.asked[404])
	}
	for _, r := range a.Rows() {
		if r.PeerID == 404 && r.Profile != nil {
			t.Error("row with failed profile lookup has a profile")
		}
	}
}

func TestUnreadNeverDecreasesAcrossRefresh(t *testing.T) {
	src := &fakeSource{pages: map[string]chat.ThreadPage{"": page(summary(7, 3))}}
	a, _, _ := newTestAggregator(src, &fakePresence{})
	defer a.Stop()

	if err := a.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.set("", page(summary(7, 1)))
	if err := a.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := unreadOf(a, 7); got != 3 {
		t.Errorf("unread = %d, want 3 (stale lower count ignored)", got)
	}

	src.set("", page(summary(7, 5)))
	if err := a.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := unreadOf(a, 7); got != 5 {
		t.Errorf("unread = %d, want 5", got)
	}
}

func TestMarkReadResetsAndNotifies(t *testing.T) {
	src := &fakeSource{pages: map[string]chat.ThreadPage{"": page(summary(7, 3), summary(8, 2))}}
	a, _, sender := newTestAggregator(src, &fakePresence{})
	defer a.Stop()

	if err := a.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !a.MarkRead(7) {
		t.Error("MarkRead() reported frame not sent")
	}
	if got := unreadOf(a, 7); got != 0 {
		t.Errorf("unread(7) = %d, want 0", got)
	}
	if got := unreadOf(a, 8); got != 2 {
		t.Errorf("unread(8) = %d, want 2", got)
	}
	if len(sender.frames) != 1 || sender.frames[0].PeerID != 7 {
		t.Errorf("chat.read frames = %+v", sender.frames)
	}

	// New messages after the read: the server count applies again.
	src.set("", page(summary(7, 1), summary(8, 2)))
	if err := a.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := unreadOf(a, 7); got != 1 {
		t.Errorf("unread(7) = %d, want 1", got)
	}
}

// TestMarkReadDuringRefresh marks a peer read while a refresh is in flight;
// the refresh answer predates the read and must not resurrect the count.
func TestMarkReadDuringRefresh(t *testing.T) {
	src := &fakeSource{
		pages:   map[string]chat.ThreadPage{"": page(summary(7, 4))},
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	a, _, _ := newTestAggregator(src, &fakePresence{})
	defer a.Stop()

	done := make(chan error, 1)
	go func() { done <- a.Refresh(context.Background()) }()
	<-src.entered
	a.MarkRead(7)
	close(src.block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if got := unreadOf(a, 7); got != 0 {
		t.Errorf("unread(7) = %d, want 0", got)
	}
}

func TestLoadMoreAppendsAndDeduplicates(t *testing.T) {
	first := page(summary(7, 0), summary(8, 0))
	first.NextCursor, first.HasMore = "p2", true
	src := &fakeSource{pages: map[string]chat.ThreadPage{
		"":   first,
		"p2": page(summary(8, 0), summary(9, 1)),
	}}
	a, _, _ := newTestAggregator(src, &fakePresence{})
	defer a.Stop()

	if err := a.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := a.LoadMore(context.Background()); err != nil {
		t.Fatal(err)
	}
	rows := a.Rows()
	if len(rows) != 3 || rows[2].PeerID != 9 {
		t.Errorf("rows = %+v, want peers 7 8 9", rows)
	}
	if a.HasMore() {
		t.Error("HasMore() = true after the last page")
	}
	calls := src.callCount()
	if err := a.LoadMore(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.callCount() != calls {
		t.Error("LoadMore() fetched with nothing left")
	}
}

func TestRequestRefreshCoalesces(t *testing.T) {
	src := &fakeSource{
		pages:   map[string]chat.ThreadPage{"": page(summary(7, 1))},
		block:   make(chan struct{}),
		entered: make(chan struct{}, 8),
	}
	b := bus.New()
	events, unsub := b.Subscribe(16, "threads.")
	defer unsub()
	a := New(Config{Source: src, Presence: &fakePresence{}, Bus: b}, nil)
	a.Start(context.Background())
	defer a.Stop()

	a.RequestRefresh()
	<-src.entered // first refresh is now blocked inside the fetch
	for i := 0; i < 10; i++ {
		a.RequestRefresh()
	}
	close(src.block)

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for threads.updated")
	}
	deadline := time.Now().Add(time.Second)
	for src.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if n := src.callCount(); n != 2 {
		t.Errorf("fetches = %d, want 2 (one running plus one coalesced)", n)
	}
}

func TestRefreshErrorKeepsRows(t *testing.T) {
	src := &fakeSource{pages: map[string]chat.ThreadPage{"": page(summary(7, 2))}}
	a, _, _ := newTestAggregator(src, &fakePresence{})
	defer a.Stop()

	if err := a.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.mu.Lock()
	delete(src.pages, "")
	src.mu.Unlock()
	if err := a.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() expected error")
	}
	if got := unreadOf(a, 7); got != 2 {
		t.Errorf("rows changed after failed refresh: unread = %d", got)
	}
}
