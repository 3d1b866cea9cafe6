package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/matheus3301/forumdm/internal/chat"
	"github.com/matheus3301/forumdm/internal/devserver/store"
	"github.com/matheus3301/forumdm/internal/forumapi"
	"github.com/matheus3301/forumdm/internal/protocol"
	"github.com/matheus3301/forumdm/internal/transport"
)

type fixture struct {
	srv    *Server
	http   *httptest.Server
	auth   *Auth
	ids    map[string]int64
	tokens map[string]string
	clock  atomic.Int64 // unix ms; zero means wall clock
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "forum.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	auth, err := NewAuth([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		srv:    NewServer(db, auth, nil),
		auth:   auth,
		ids:    make(map[string]int64),
		tokens: make(map[string]string),
	}
	f.srv.now = func() time.Time {
		if ms := f.clock.Load(); ms != 0 {
			return time.UnixMilli(ms)
		}
		return time.Now()
	}
	for _, n := range names {
		p, err := db.EnsureUser(n)
		if err != nil {
			t.Fatal(err)
		}
		tok, err := auth.Mint(p.ID, n, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		f.ids[n], f.tokens[n] = p.ID, tok
	}
	f.http = httptest.NewServer(f.srv)
	t.Cleanup(f.http.Close)
	return f
}

func (f *fixture) client(t *testing.T, name string) *forumapi.Client {
	t.Helper()
	c, err := forumapi.New(forumapi.Config{BaseURL: f.http.URL, Token: f.tokens[name]}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func (f *fixture) dial(t *testing.T, name string) *websocket.Conn {
	t.Helper()
	endpoint, err := transport.ResolveEndpoint(f.http.URL, "")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+f.tokens[name])
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	return env
}

func writeFrame(t *testing.T, conn *websocket.Conn, kind string, payload any) {
	t.Helper()
	data, err := protocol.Encode(kind, payload)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAuth(t *testing.T) {
	auth, err := NewAuth([]byte("s1"))
	if err != nil {
		t.Fatal(err)
	}
	tok, err := auth.Mint(7, "ana", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if id, err := auth.Verify(tok); err != nil || id != 7 {
		t.Errorf("Verify() = %d, %v", id, err)
	}

	other, _ := NewAuth([]byte("s2"))
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign secret error = %v, want ErrInvalidToken", err)
	}

	auth.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := auth.Mint(7, "ana", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := auth.Verify(old); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired token error = %v, want ErrTokenExpired", err)
	}

	if _, err := NewAuth(nil); err == nil {
		t.Error("NewAuth(nil) expected error")
	}
}

func TestRequiresBearerToken(t *testing.T) {
	f := newFixture(t, "ana")
	c, err := forumapi.New(forumapi.Config{BaseURL: f.http.URL, Token: "garbage"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Me(context.Background()); !forumapi.IsStatus(err, http.StatusUnauthorized) {
		t.Errorf("Me() error = %v, want 401", err)
	}
}

func TestSendFetchAndIdempotency(t *testing.T) {
	f := newFixture(t, "ana", "bo")
	ana := f.client(t, "ana")
	ctx := context.Background()

	req := chat.SendRequest{To: f.ids["bo"], Kind: chat.KindText, Body: "hello", ClientToken: "t-1"}
	first, err := ana.SendMessage(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	again, err := ana.SendMessage(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Errorf("retried send = %+v, want %+v", again, first)
	}

	page, err := f.client(t, "bo").FetchMessages(ctx, f.ids["ana"], chat.Cursor{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 1 || page.Messages[0] != first || page.HasMore {
		t.Errorf("bo's page = %+v", page)
	}

	me, err := ana.Me(ctx)
	if err != nil || me.ID != f.ids["ana"] || me.Username != "ana" {
		t.Errorf("Me() = %+v, %v", me, err)
	}
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t, "ana", "bo")
	ana := f.client(t, "ana")
	tests := []struct {
		name string
		req  chat.SendRequest
		code int
	}{
		{"empty body", chat.SendRequest{To: f.ids["bo"], Body: "  "}, http.StatusBadRequest},
		{"to self", chat.SendRequest{To: f.ids["ana"], Body: "x"}, http.StatusBadRequest},
		{"unknown recipient", chat.SendRequest{To: 999, Body: "x"}, http.StatusNotFound},
		{"wrong kind", chat.SendRequest{To: f.ids["bo"], Kind: chat.KindRecalled, Body: "x"}, http.StatusBadRequest},
		{"too long", chat.SendRequest{To: f.ids["bo"], Body: strings.Repeat("a", maxBodyLen+1)}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ana.SendMessage(context.Background(), tt.req); !forumapi.IsStatus(err, tt.code) {
				t.Errorf("error = %v, want %d", err, tt.code)
			}
		})
	}
}

func TestRecallEnforcedServerSide(t *testing.T) {
	f := newFixture(t, "ana", "bo")
	ctx := context.Background()
	now := time.UnixMilli(10_000_000)
	f.clock.Store(now.UnixMilli())

	m, err := f.client(t, "ana").SendMessage(ctx, chat.SendRequest{To: f.ids["bo"], Body: "oops"})
	if err != nil {
		t.Fatal(err)
	}

	err = f.client(t, "bo").RecallMessage(ctx, m.ID)
	if !forumapi.IsStatus(err, http.StatusForbidden) {
		t.Errorf("recall by recipient error = %v, want 403", err)
	}

	f.clock.Store(now.Add(chat.RecallWindow + time.Second).UnixMilli())
	err = f.client(t, "ana").RecallMessage(ctx, m.ID)
	var se *forumapi.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusForbidden || se.Message != "recall window elapsed" {
		t.Errorf("late recall error = %v, want 403 recall window elapsed", err)
	}

	f.clock.Store(now.Add(time.Minute).UnixMilli())
	if err := f.client(t, "ana").RecallMessage(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	page, err := f.client(t, "ana").FetchMessages(ctx, f.ids["bo"], chat.Cursor{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if got := page.Messages[0]; !got.Recalled() || got.Body != "" {
		t.Errorf("message after recall = %+v", got)
	}

	if err := f.client(t, "ana").RecallMessage(ctx, 999); !forumapi.IsStatus(err, http.StatusNotFound) {
		t.Errorf("unknown recall error = %v, want 404", err)
	}
}

func TestSocketFanOutPongAndRead(t *testing.T) {
	f := newFixture(t, "ana", "bo")
	ctx := context.Background()
	bo := f.dial(t, "bo")
	anaSock := f.dial(t, "ana")
	waitFor(t, "both sockets registered", func() bool {
		return f.srv.Hub().Online(f.ids["bo"]) && f.srv.Hub().Online(f.ids["ana"])
	})

	writeFrame(t, bo, protocol.KindPing, nil)
	if env := readFrame(t, bo); env.Type != protocol.KindPong {
		t.Fatalf("reply to ping = %s, want pong", env.Type)
	}

	m, err := f.client(t, "ana").SendMessage(ctx, chat.SendRequest{To: f.ids["bo"], Body: "hi", ClientToken: "x"})
	if err != nil {
		t.Fatal(err)
	}
	for name, conn := range map[string]*websocket.Conn{"bo": bo, "ana": anaSock} {
		env := readFrame(t, conn)
		if env.Type != protocol.KindMessageNew {
			t.Fatalf("%s got %s, want message.new", name, env.Type)
		}
		got, err := protocol.DecodeMessage(env)
		if err != nil || got != m {
			t.Errorf("%s frame = %+v, %v, want %+v", name, got, err, m)
		}
	}

	// A retried send is not fanned out again.
	if _, err := f.client(t, "ana").SendMessage(ctx, chat.SendRequest{To: f.ids["bo"], Body: "hi", ClientToken: "x"}); err != nil {
		t.Fatal(err)
	}

	boClient := f.client(t, "bo")
	threads, err := boClient.FetchThreads(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(threads.Threads) != 1 || threads.Threads[0].UnreadCount != 1 {
		t.Fatalf("bo's threads = %+v, want one unread", threads.Threads)
	}

	writeFrame(t, bo, protocol.KindChatRead, protocol.ReadPayload{PeerID: f.ids["ana"]})
	waitFor(t, "unread reset", func() bool {
		page, err := boClient.FetchThreads(ctx, "", 10)
		return err == nil && len(page.Threads) == 1 && page.Threads[0].UnreadCount == 0
	})

	if err := f.client(t, "ana").RecallMessage(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	if env := readFrame(t, bo); env.Type != protocol.KindMessageRecall {
		t.Errorf("bo got %s, want message.recall (duplicate message.new?)", env.Type)
	}
}

func TestPresenceFollowsSockets(t *testing.T) {
	f := newFixture(t, "ana", "bo")
	ctx := context.Background()
	ana := f.client(t, "ana")

	states, err := ana.Presence(ctx, []int64{f.ids["bo"], 999})
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 1 || states[0].Status != chat.Offline || states[0].LastActiveAtMs != nil {
		t.Fatalf("presence before connect = %+v, want one OFFLINE without last-active", states)
	}

	bo := f.dial(t, "bo")
	waitFor(t, "bo online", func() bool { return f.srv.Hub().Online(f.ids["bo"]) })
	states, err = ana.Presence(ctx, []int64{f.ids["bo"]})
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 1 || states[0].Status != chat.Online {
		t.Fatalf("presence while connected = %+v", states)
	}

	_ = bo.Close(websocket.StatusNormalClosure, "")
	waitFor(t, "bo offline", func() bool { return !f.srv.Hub().Online(f.ids["bo"]) })
	waitFor(t, "last active recorded", func() bool {
		states, err := ana.Presence(ctx, []int64{f.ids["bo"]})
		return err == nil && len(states) == 1 && states[0].Status == chat.Offline && states[0].LastActiveAtMs != nil
	})
}

func TestBadCursorsAreRejected(t *testing.T) {
	f := newFixture(t, "ana", "bo")
	ctx := context.Background()
	if _, err := f.client(t, "ana").FetchThreads(ctx, "nope", 10); !forumapi.IsStatus(err, http.StatusBadRequest) {
		t.Errorf("thread cursor error = %v, want 400", err)
	}
	req, _ := http.NewRequest(http.MethodGet, f.http.URL+"/api/chat/messages?peer_id=2&cursor=x", nil)
	req.Header.Set("Authorization", "Bearer "+f.tokens["ana"])
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("message cursor status = %d, want 400", resp.StatusCode)
	}
}
