package outbound

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/matheus3301/forumdm/internal/bus"
	"github.com/matheus3301/forumdm/internal/chat"
	"github.com/matheus3301/forumdm/internal/conversation"
	"github.com/matheus3301/forumdm/internal/forumapi"
)

const (
	me   = int64(1)
	peer = int64(2)
)

// mockAPI records calls and returns configurable results.
type mockAPI struct {
	sends   []chat.SendRequest
	recalls []int64
	reply   chat.Message
	err     error
}

func (m *mockAPI) SendMessage(_ context.Context, req chat.SendRequest) (chat.Message, error) {
	m.sends = append(m.sends, req)
	if m.err != nil {
		return chat.Message{}, m.err
	}
	return m.reply, nil
}

func (m *mockAPI) RecallMessage(_ context.Context, id int64) error {
	m.recalls = append(m.recalls, id)
	return m.err
}

type noFetch struct{}

func (noFetch) FetchMessages(context.Context, int64, chat.Cursor, int) (chat.MessagePage, error) {
	return chat.MessagePage{}, nil
}

func setup(api *mockAPI) (*Reconciler, *conversation.Registry, *bus.Bus) {
	reg := conversation.NewRegistry(noFetch{}, 10, nil)
	b := bus.New()
	return New(api, reg, b, me, nil), reg, b
}

func TestSendInsertsCanonicalMessageOnly(t *testing.T) {
	api := &mockAPI{reply: chat.Message{ID: 50, From: me, To: peer, Kind: chat.KindText, Body: "hi", SentAtMs: 500}}
	r, reg, b := setup(api)
	store := reg.Open(peer)
	acks, unsub := b.Subscribe(4, bus.KindSendAck)
	defer unsub()

	msg, err := r.Send(context.Background(), Draft{To: peer, Body: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != 50 {
		t.Errorf("Send() = %+v, want server message 50", msg)
	}
	if len(api.sends) != 1 || api.sends[0].ClientToken == "" || api.sends[0].Kind != chat.KindText {
		t.Errorf("requests = %+v, want one TEXT send with a token", api.sends)
	}
	got := store.Messages()
	if len(got) != 1 || got[0] != api.reply {
		t.Errorf("store = %+v, want only the canonical message", got)
	}

	// The push echo of the same message must not duplicate it.
	reg.Route(api.reply, me)
	if n := len(store.Messages()); n != 1 {
		t.Errorf("store holds %d messages after echo, want 1", n)
	}

	select {
	case evt := <-acks:
		res := evt.Payload.(SendResult)
		if res.Token != api.sends[0].ClientToken || res.Message.ID != 50 {
			t.Errorf("ack = %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for send ack")
	}
}

func TestSendKeepsCallerToken(t *testing.T) {
	api := &mockAPI{reply: chat.Message{ID: 1, From: me, To: peer}}
	r, _, _ := setup(api)
	if _, err := r.Send(context.Background(), Draft{To: peer, Body: "x", Token: "retry-1"}); err != nil {
		t.Fatal(err)
	}
	if api.sends[0].ClientToken != "retry-1" {
		t.Errorf("token = %q, want retry-1", api.sends[0].ClientToken)
	}
}

func TestSendFailureLeavesStoreUntouched(t *testing.T) {
	api := &mockAPI{err: &forumapi.StatusError{Code: http.StatusTooManyRequests, Message: "slow down"}}
	r, reg, b := setup(api)
	store := reg.Open(peer)
	fails, unsub := b.Subscribe(4, bus.KindSendFailed)
	defer unsub()

	_, err := r.Send(context.Background(), Draft{To: peer, Body: "hi"})
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("error = %v, want *OperationError", err)
	}
	if opErr.Message != "slow down" {
		t.Errorf("Message = %q, want server text", opErr.Message)
	}
	if !forumapi.IsStatus(err, http.StatusTooManyRequests) {
		t.Error("OperationError does not unwrap to the StatusError")
	}
	if n := len(store.Messages()); n != 0 {
		t.Errorf("store holds %d messages after failure", n)
	}
	select {
	case evt := <-fails:
		if evt.Payload.(SendResult).Error != "slow down" {
			t.Errorf("failure payload = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for send failure event")
	}
}

func TestSendValidation(t *testing.T) {
	api := &mockAPI{}
	r, _, _ := setup(api)
	tests := []struct {
		name  string
		draft Draft
		want  error
	}{
		{"empty body", Draft{To: peer, Body: "  "}, ErrEmptyBody},
		{"no peer", Draft{Body: "x"}, ErrInvalidPeer},
		{"self", Draft{To: me, Body: "x"}, ErrInvalidPeer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Send(context.Background(), tt.draft); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if len(api.sends) != 0 {
		t.Error("invalid drafts reached the API")
	}
}

func TestRecall(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	own := chat.Message{ID: 10, From: me, To: peer, Kind: chat.KindText, Body: "oops", SentAtMs: now.UnixMilli() - 60_000}
	old := chat.Message{ID: 11, From: me, To: peer, Kind: chat.KindText, Body: "old", SentAtMs: now.UnixMilli() - 6*60_000}
	theirs := chat.Message{ID: 12, From: peer, To: me, Kind: chat.KindText, Body: "hey", SentAtMs: now.UnixMilli() - 1000}

	tests := []struct {
		name    string
		id      int64
		want    error
		reaches bool
	}{
		{"own fresh message", own.ID, nil, true},
		{"outside window", old.ID, ErrRecallWindow, false},
		{"not sender", theirs.ID, ErrNotSender, false},
		{"unknown", 99, ErrNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{}
			r, reg, _ := setup(api)
			r.now = func() time.Time { return now }
			s := reg.Open(peer)
			for _, m := range []chat.Message{own, old, theirs} {
				s.ApplyIncoming(m)
			}

			err := r.Recall(context.Background(), peer, tt.id)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Recall() error = %v, want %v", err, tt.want)
			}
			if reached := len(api.recalls) > 0; reached != tt.reaches {
				t.Errorf("API reached = %v, want %v", reached, tt.reaches)
			}
			if tt.want == nil {
				m, _ := s.Find(tt.id)
				if !m.Recalled() {
					t.Errorf("message %d not recalled locally", tt.id)
				}
			}
		})
	}
}

func TestRecallServerRejection(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	api := &mockAPI{err: &forumapi.StatusError{Code: http.StatusForbidden, Message: "recall window elapsed"}}
	r, reg, _ := setup(api)
	r.now = func() time.Time { return now }
	s := reg.Open(peer)
	s.ApplyIncoming(chat.Message{ID: 10, From: me, To: peer, Kind: chat.KindText, Body: "x", SentAtMs: now.UnixMilli()})

	err := r.Recall(context.Background(), peer, 10)
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Message != "recall window elapsed" {
		t.Fatalf("error = %v, want server message", err)
	}
	if m, _ := s.Find(10); m.Recalled() {
		t.Error("message recalled locally despite server rejection")
	}
}

func TestRecallAlreadyRecalledIsNoop(t *testing.T) {
	api := &mockAPI{}
	r, reg, _ := setup(api)
	s := reg.Open(peer)
	s.ApplyIncoming(chat.Message{ID: 10, From: me, To: peer, Kind: chat.KindRecalled, SentAtMs: time.Now().UnixMilli()})

	if err := r.Recall(context.Background(), peer, 10); err != nil {
		t.Fatal(err)
	}
	if len(api.recalls) != 0 {
		t.Error("recall of recalled message reached the API")
	}
}
