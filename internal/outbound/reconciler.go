package outbound

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/forumdm/internal/bus"
	"github.com/matheus3301/forumdm/internal/chat"
	"github.com/matheus3301/forumdm/internal/conversation"
	"github.com/matheus3301/forumdm/internal/forumapi"
)

var (
	ErrEmptyBody    = errors.New("message body is empty")
	ErrInvalidPeer  = errors.New("invalid recipient")
	ErrNotFound     = errors.New("message not found in this conversation")
	ErrNotSender    = errors.New("only the sender can recall a message")
	ErrRecallWindow = errors.New("recall window has passed")
)

// OperationError is a failed send or recall. Message is fit to show the user;
// no local state was changed.
type OperationError struct {
	Op      string
	Message string
	Err     error
}

func (e *OperationError) Error() string {
	return e.Op + ": " + e.Message
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// API is the request/response side of the forum used for writes.
type API interface {
	SendMessage(ctx context.Context, req chat.SendRequest) (chat.Message, error)
	RecallMessage(ctx context.Context, id int64) error
}

// Stores gives access to open conversations.
type Stores interface {
	Get(peer int64) (*conversation.Store, bool)
}

// Draft is a message the user wants to send. Token is the idempotency key;
// reuse it when retrying the same draft.
type Draft struct {
	To    int64
	Body  string
	Token string
}

// SendResult is the payload of message.send_ack and message.send_failed events.
type SendResult struct {
	Token   string       `json:"clientToken"`
	To      int64        `json:"to"`
	Message chat.Message `json:"message"`
	Error   string       `json:"error,omitempty"`
}

// Reconciler performs sends and recalls against the forum and applies the
// confirmed result to the open conversation. Nothing is inserted before the
// server confirms it.
type Reconciler struct {
	api    API
	stores Stores
	bus    *bus.Bus
	logger *zap.Logger
	me     int64
	now    func() time.Time
}

// New creates a Reconciler acting as user me.
func New(api API, stores Stores, b *bus.Bus, me int64, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		api:    api,
		stores: stores,
		bus:    b,
		logger: logger,
		me:     me,
		now:    time.Now,
	}
}

// Send posts d and, once the server confirms, merges the canonical message
// into the open conversation with d.To.
func (r *Reconciler) Send(ctx context.Context, d Draft) (chat.Message, error) {
	if d.To <= 0 || d.To == r.me {
		return chat.Message{}, &OperationError{Op: "send", Message: ErrInvalidPeer.Error(), Err: ErrInvalidPeer}
	}
	if strings.TrimSpace(d.Body) == "" {
		return chat.Message{}, &OperationError{Op: "send", Message: ErrEmptyBody.Error(), Err: ErrEmptyBody}
	}
	if d.Token == "" {
		d.Token = uuid.NewString()
	}

	msg, err := r.api.SendMessage(ctx, chat.SendRequest{
		To:          d.To,
		Kind:        chat.KindText,
		Body:        d.Body,
		ClientToken: d.Token,
	})
	if err != nil {
		opErr := &OperationError{Op: "send", Message: userMessage(err), Err: err}
		r.logger.Warn("send failed", zap.Int64("to", d.To), zap.String("client_token", d.Token), zap.Error(err))
		r.publish(bus.KindSendFailed, SendResult{Token: d.Token, To: d.To, Error: opErr.Message})
		return chat.Message{}, opErr
	}

	if s, ok := r.stores.Get(d.To); ok && s.ApplyIncoming(msg) {
		r.publish(bus.KindConversationUpdated, bus.ConversationUpdate{PeerID: d.To, MessageID: msg.ID, Reason: "sent"})
	}
	r.logger.Info("message sent", zap.Int64("to", d.To), zap.Int64("message_id", msg.ID), zap.String("client_token", d.Token))
	r.publish(bus.KindSendAck, SendResult{Token: d.Token, To: d.To, Message: msg})
	return msg, nil
}

// Recall retracts message id in the conversation with peer. The recall
// window is checked locally before anything is sent.
func (r *Reconciler) Recall(ctx context.Context, peer, id int64) error {
	s, ok := r.stores.Get(peer)
	if !ok {
		return recallError(ErrNotFound)
	}
	m, ok := s.Find(id)
	if !ok {
		return recallError(ErrNotFound)
	}
	if m.Recalled() {
		return nil
	}
	if m.From != r.me {
		return recallError(ErrNotSender)
	}
	if !chat.CanRecall(m, r.me, r.now()) {
		return recallError(ErrRecallWindow)
	}

	if err := r.api.RecallMessage(ctx, id); err != nil {
		r.logger.Warn("recall failed", zap.Int64("message_id", id), zap.Error(err))
		return &OperationError{Op: "recall", Message: userMessage(err), Err: err}
	}
	if s.ApplyRecall(id, r.me) {
		r.publish(bus.KindConversationUpdated, bus.ConversationUpdate{PeerID: peer, MessageID: id, Reason: "recall"})
	}
	r.publish(bus.KindRecalled, bus.ConversationUpdate{PeerID: peer, MessageID: id, Reason: "recall"})
	return nil
}

func recallError(err error) error {
	return &OperationError{Op: "recall", Message: err.Error(), Err: err}
}

// userMessage prefers the server's own explanation.
func userMessage(err error) string {
	var se *forumapi.StatusError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return err.Error()
}

func (r *Reconciler) publish(kind string, payload any) {
	if r.bus != nil {
		r.bus.Publish(bus.NewEvent(kind, payload))
	}
}
