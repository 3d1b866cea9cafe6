package devserver

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/forumdm/internal/protocol"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	readLimit    = 64 << 10
)

// HubEvents receives what clients report over their sockets.
type HubEvents interface {
	MarkRead(user, peer int64) error
	Offline(user int64, atMs int64) error
}

type wsClient struct {
	user int64
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks live chat sockets per user and fans frames out to them.
type Hub struct {
	events HubEvents
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	conns map[int64]map[*wsClient]struct{}
}

// NewHub creates an empty hub.
func NewHub(events HubEvents, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		events: events,
		logger: logger,
		now:    time.Now,
		conns:  make(map[int64]map[*wsClient]struct{}),
	}
}

// Online reports whether user has at least one live socket.
func (h *Hub) Online(user int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[user]) > 0
}

// Publish sends one frame to every socket of the given users. Slow sockets
// that cannot take the frame lose it.
func (h *Hub) Publish(kind string, payload any, users ...int64) {
	frame, err := protocol.Encode(kind, payload)
	if err != nil {
		h.logger.Error("encode frame", zap.String("kind", kind), zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[int64]bool, len(users))
	for _, u := range users {
		if seen[u] {
			continue
		}
		seen[u] = true
		for c := range h.conns[u] {
			select {
			case c.send <- frame:
			default:
				h.logger.Warn("socket send buffer full, frame dropped", zap.Int64("user", u), zap.String("kind", kind))
			}
		}
	}
}

// Serve runs one accepted socket for user until it closes.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, user int64) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn.SetReadLimit(readLimit)
	c := &wsClient{user: user, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)
	defer h.unregister(c)

	go h.writeLoop(ctx, cancel, c)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				h.logger.Debug("socket read ended", zap.Int64("user", user), zap.Error(err))
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		h.handleFrame(c, data)
	}
}

func (h *Hub) handleFrame(c *wsClient, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		h.logger.Debug("malformed frame", zap.Int64("user", c.user))
		return
	}
	switch env.Type {
	case protocol.KindPing:
		if frame, err := protocol.Encode(protocol.KindPong, nil); err == nil {
			select {
			case c.send <- frame:
			default:
			}
		}
	case protocol.KindChatRead:
		var p protocol.ReadPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.PeerID <= 0 {
			h.logger.Debug("bad chat.read", zap.Int64("user", c.user))
			return
		}
		if err := h.events.MarkRead(c.user, p.PeerID); err != nil {
			h.logger.Warn("mark read failed", zap.Int64("user", c.user), zap.Int64("peer", p.PeerID), zap.Error(err))
		}
	default:
		h.logger.Debug("ignored frame", zap.String("type", env.Type))
	}
}

func (h *Hub) writeLoop(ctx context.Context, cancel context.CancelFunc, c *wsClient) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, frame)
			wcancel()
			if err != nil {
				h.logger.Debug("socket write failed", zap.Int64("user", c.user), zap.Error(err))
				return
			}
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[c.user]
	if set == nil {
		set = make(map[*wsClient]struct{})
		h.conns[c.user] = set
	}
	set[c] = struct{}{}
	h.logger.Info("socket connected", zap.Int64("user", c.user), zap.Int("sockets", len(set)))
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	set := h.conns[c.user]
	delete(set, c)
	last := len(set) == 0
	if last {
		delete(h.conns, c.user)
	}
	h.mu.Unlock()

	h.logger.Info("socket disconnected", zap.Int64("user", c.user))
	if last {
		if err := h.events.Offline(c.user, h.now().UnixMilli()); err != nil {
			h.logger.Warn("record last active failed", zap.Int64("user", c.user), zap.Error(err))
		}
	}
}
