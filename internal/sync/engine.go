package sync

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/forumdm/internal/bus"
	"github.com/matheus3301/forumdm/internal/chat"
	"github.com/matheus3301/forumdm/internal/conversation"
	"github.com/matheus3301/forumdm/internal/protocol"
	"github.com/matheus3301/forumdm/internal/status"
)

// Refresher is told when the inbox may be stale.
type Refresher interface {
	RequestRefresh()
}

// Engine ingests pushed frames into the open conversations and keeps the
// inbox fresh. It also catches up after every reconnect, since pushes sent
// while offline are lost.
type Engine struct {
	dispatcher *bus.Dispatcher
	registry   *conversation.Registry
	inbox      Refresher
	machine    *status.Machine
	bus        *bus.Bus
	logger     *zap.Logger
	me         int64

	mu       sync.Mutex
	disposes []func()
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Config holds the collaborators of an Engine.
type Config struct {
	Dispatcher *bus.Dispatcher
	Registry   *conversation.Registry
	Inbox      Refresher
	Machine    *status.Machine
	Bus        *bus.Bus
	Me         int64
}

// NewEngine creates a new sync engine.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		dispatcher: cfg.Dispatcher,
		registry:   cfg.Registry,
		inbox:      cfg.Inbox,
		machine:    cfg.Machine,
		bus:        cfg.Bus,
		logger:     logger,
		me:         cfg.Me,
	}
}

// Start subscribes to pushed frames and, when a state machine is set, to
// reconnects.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.disposes = append(e.disposes,
		e.dispatcher.Subscribe(protocol.KindMessageNew, e.onMessageNew),
		e.dispatcher.Subscribe(protocol.KindMessageRecall, e.onMessageRecall),
	)
	e.mu.Unlock()

	if e.machine == nil {
		return
	}
	changes, stop := e.machine.Watch(8)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-changes:
				if !ok {
					return
				}
				if c.To == status.Connected && !c.Replay() {
					e.Resync(ctx)
				}
			}
		}
	}()
}

// Stop removes the subscriptions and waits for the reconnect watcher.
func (e *Engine) Stop() {
	e.mu.Lock()
	disposes := e.disposes
	e.disposes = nil
	cancel := e.cancel
	e.mu.Unlock()

	for _, d := range disposes {
		d()
	}
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

func (e *Engine) onMessageNew(env protocol.Envelope) {
	msg, err := protocol.DecodeMessage(env)
	if err != nil {
		e.logger.Debug("bad message.new payload", zap.Error(err))
		return
	}
	e.IngestMessage(msg)
}

func (e *Engine) onMessageRecall(env protocol.Envelope) {
	msg, err := protocol.DecodeMessage(env)
	if err != nil {
		e.logger.Debug("bad message.recall payload", zap.Error(err))
		return
	}
	e.IngestRecall(msg)
}

// IngestMessage applies a pushed message. Messages not involving the
// current user are ignored.
func (e *Engine) IngestMessage(msg chat.Message) {
	if !msg.Involves(e.me) {
		return
	}
	peer, changed := e.registry.Route(msg, e.me)
	if changed {
		e.publish(bus.KindConversationUpdated, bus.ConversationUpdate{PeerID: peer, MessageID: msg.ID, Reason: "incoming"})
	}
	if e.inbox != nil {
		e.inbox.RequestRefresh()
	}
}

// IngestRecall applies a pushed recall.
func (e *Engine) IngestRecall(msg chat.Message) {
	if !msg.Involves(e.me) {
		return
	}
	peer, changed := e.registry.Recall(msg, e.me)
	if changed {
		upd := bus.ConversationUpdate{PeerID: peer, MessageID: msg.ID, Reason: "recall"}
		e.publish(bus.KindConversationUpdated, upd)
		e.publish(bus.KindRecalled, upd)
	}
	if e.inbox != nil {
		// The recalled message may be a thread's preview.
		e.inbox.RequestRefresh()
	}
}

// Resync reloads the newest page of every open conversation and refreshes
// the inbox.
func (e *Engine) Resync(ctx context.Context) {
	peers := e.registry.Peers()
	for _, peer := range peers {
		s, ok := e.registry.Get(peer)
		if !ok {
			continue
		}
		if err := s.LoadInitial(ctx); err != nil {
			e.logger.Warn("resync conversation failed", zap.Int64("peer", peer), zap.Error(err))
			continue
		}
		e.publish(bus.KindConversationUpdated, bus.ConversationUpdate{PeerID: peer, Reason: "page"})
	}
	if e.inbox != nil {
		e.inbox.RequestRefresh()
	}
	e.logger.Info("resynced after reconnect", zap.Int("conversations", len(peers)))
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus != nil {
		e.bus.Publish(bus.NewEvent(kind, payload))
	}
}
