package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/forumdm/internal/bus"
	"github.com/matheus3301/forumdm/internal/protocol"
	"github.com/matheus3301/forumdm/internal/status"
)

// Default timings.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultReconnectDelay    = 3 * time.Second
	DefaultDialTimeout       = 10 * time.Second
	writeTimeout             = 5 * time.Second
)

var errLiveness = errors.New("no inbound frame within liveness timeout")

// Config configures a Session.
type Config struct {
	Endpoint          string
	Token             string
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration
	// LivenessTimeout force-closes a connection that received nothing for
	// this long. Zero disables the check.
	LivenessTimeout time.Duration
	// BackOff paces reconnect attempts. Nil means a fixed ReconnectDelay.
	BackOff backoff.BackOff
}

func (c *Config) defaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.BackOff == nil {
		c.BackOff = backoff.NewConstantBackOff(c.ReconnectDelay)
	}
}

// Stats is a snapshot of session counters.
type Stats struct {
	Sent       int64          `json:"sent"`
	Dropped    int64          `json:"dropped"`
	Reconnects int64          `json:"reconnects"`
	Frames     protocol.Stats `json:"frames"`
}

// Session owns at most one live connection to the chat endpoint. It
// reconnects after unexpected closures until Disconnect is called, pings
// on a fixed interval while connected, and hands decoded frames to the
// dispatcher on the read goroutine.
type Session struct {
	cfg        Config
	dialer     Dialer
	dispatcher *bus.Dispatcher
	machine    *status.Machine
	logger     *zap.Logger
	decoder    *protocol.Decoder

	mu           sync.Mutex
	gen          uint64
	conn         Conn
	cancelConn   context.CancelFunc
	closedByUser bool
	shutdown     bool
	retry        *time.Timer
	retrySeq     uint64

	lastInbound atomic.Int64
	sent        atomic.Int64
	dropped     atomic.Int64
	reconnects  atomic.Int64
}

// New creates a disconnected session. Nothing is dialed until EnsureConnected.
func New(cfg Config, dialer Dialer, dispatcher *bus.Dispatcher, machine *status.Machine, logger *zap.Logger) *Session {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	if machine == nil {
		machine = status.NewMachine(nil)
	}
	s := &Session{
		cfg:        cfg,
		dialer:     dialer,
		dispatcher: dispatcher,
		machine:    machine,
		logger:     logger,
	}
	s.decoder = &protocol.Decoder{
		OnDiscard: func(reason protocol.DiscardReason, raw []byte) {
			s.logger.Debug("discarded frame",
				zap.String("reason", string(reason)),
				zap.Int("bytes", len(raw)),
			)
		},
	}
	return s
}

// State returns the current connection state.
func (s *Session) State() status.State {
	return s.machine.Current()
}

// WatchState replays the current state, then every transition. Changes a
// watcher has not drained within its buffer are dropped rather than blocking
// the session; see status.Machine.Watch.
func (s *Session) WatchState(buf int) (<-chan status.StatusChange, func()) {
	return s.machine.Watch(buf)
}

// EnsureConnected opens a connection unless one is open or being opened.
// It clears a previous Disconnect so automatic reconnection resumes.
func (s *Session) EnsureConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return
	}
	s.closedByUser = false
	if s.machine.Current() != status.Disconnected {
		return
	}
	s.stopRetryLocked()
	s.startLocked()
}

// Disconnect closes the live connection and suppresses reconnection until
// the next EnsureConnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedByUser = true
	s.dropLocked("closed by user")
}

// Close disconnects for good. Later EnsureConnected calls are ignored.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	s.closedByUser = true
	s.dropLocked("shutdown")
	return nil
}

// Send encodes and writes one frame. It is best-effort: when the session is
// not connected the frame is dropped and false is returned.
func (s *Session) Send(kind string, payload any) bool {
	s.mu.Lock()
	conn := s.conn
	connected := conn != nil && s.machine.Current() == status.Connected
	s.mu.Unlock()
	if !connected {
		s.dropped.Add(1)
		s.logger.Debug("dropping frame, not connected", zap.String("kind", kind))
		return false
	}

	data, err := protocol.Encode(kind, payload)
	if err != nil {
		s.dropped.Add(1)
		s.logger.Warn("encode frame", zap.String("kind", kind), zap.Error(err))
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.dropped.Add(1)
		s.logger.Warn("write frame", zap.String("kind", kind), zap.Error(err))
		return false
	}
	s.sent.Add(1)
	return true
}

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Sent:       s.sent.Load(),
		Dropped:    s.dropped.Load(),
		Reconnects: s.reconnects.Load(),
		Frames:     s.decoder.Stats(),
	}
}

// startLocked begins a new connection attempt, superseding any prior one.
func (s *Session) startLocked() {
	s.gen++
	gen := s.gen
	s.transitionLocked(status.Connecting)
	go s.dial(gen)
}

func (s *Session) dial(gen uint64) {
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	conn, err := s.dialer.Dial(ctx, s.cfg.Endpoint, header)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		// Superseded while dialing; the result belongs to nobody.
		if conn != nil {
			go func() { _ = conn.Close(websocket.StatusNormalClosure, "superseded") }()
		}
		return
	}
	if err != nil {
		s.logger.Warn("chat connection failed", zap.String("endpoint", s.cfg.Endpoint), zap.Error(err))
		s.transitionLocked(status.Disconnected)
		s.scheduleRetryLocked()
		return
	}

	connCtx, cancelConn := context.WithCancel(context.Background())
	s.conn = conn
	s.cancelConn = cancelConn
	s.lastInbound.Store(time.Now().UnixNano())
	s.cfg.BackOff.Reset()
	s.transitionLocked(status.Connected)
	s.logger.Info("chat connected", zap.String("endpoint", s.cfg.Endpoint), zap.Uint64("generation", gen))

	go s.readLoop(connCtx, gen, conn)
	go s.heartbeat(connCtx, gen, conn)
}

func (s *Session) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.connectionLost(gen, err)
			return
		}
		s.lastInbound.Store(time.Now().UnixNano())

		env, ok := s.decoder.Decode(data)
		if !ok || env.Type == protocol.KindPong {
			continue
		}
		if s.dispatcher != nil {
			s.dispatcher.Dispatch(env)
		}
	}
}

func (s *Session) heartbeat(ctx context.Context, gen uint64, conn Conn) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	ping, _ := protocol.Encode(protocol.KindPing, nil)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.cfg.LivenessTimeout > 0 {
			idle := time.Since(time.Unix(0, s.lastInbound.Load()))
			if idle > s.cfg.LivenessTimeout {
				s.connectionLost(gen, errLiveness)
				return
			}
		}

		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := conn.Write(wctx, websocket.MessageText, ping)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				s.connectionLost(gen, err)
			}
			return
		}
		s.sent.Add(1)
	}
}

// connectionLost handles the end of connection gen. Only the current
// connection can move the session to disconnected or schedule a retry.
func (s *Session) connectionLost(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.conn == nil {
		return
	}
	s.logger.Warn("chat connection lost", zap.Uint64("generation", gen), zap.Error(err))
	s.releaseConnLocked(websocket.StatusGoingAway, "connection lost")
	s.transitionLocked(status.Disconnected)
	if !s.closedByUser && !s.shutdown {
		s.scheduleRetryLocked()
	}
}

// dropLocked tears down whatever is live or in flight without retrying.
func (s *Session) dropLocked(reason string) {
	s.stopRetryLocked()
	s.gen++
	if s.conn != nil {
		s.releaseConnLocked(websocket.StatusNormalClosure, reason)
	}
	if s.machine.Current() != status.Disconnected {
		s.transitionLocked(status.Disconnected)
	}
}

func (s *Session) releaseConnLocked(code websocket.StatusCode, reason string) {
	if s.cancelConn != nil {
		s.cancelConn()
		s.cancelConn = nil
	}
	if s.conn != nil {
		// Close waits for the peer's close frame; never hold the lock for it.
		go func(c Conn) { _ = c.Close(code, reason) }(s.conn)
		s.conn = nil
	}
}

// scheduleRetryLocked arms the single pending reconnect timer.
func (s *Session) scheduleRetryLocked() {
	if s.retry != nil {
		return
	}
	delay := s.cfg.BackOff.NextBackOff()
	if delay == backoff.Stop {
		delay = s.cfg.ReconnectDelay
	}
	s.retrySeq++
	seq := s.retrySeq
	s.reconnects.Add(1)
	s.logger.Info("scheduling reconnect", zap.Duration("delay", delay))
	s.retry = time.AfterFunc(delay, func() { s.fireRetry(seq) })
}

func (s *Session) fireRetry(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.retrySeq || s.retry == nil {
		return
	}
	s.retry = nil
	if s.closedByUser || s.shutdown || s.machine.Current() != status.Disconnected {
		return
	}
	s.startLocked()
}

func (s *Session) stopRetryLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.retrySeq++
}

// RetryPending reports whether a reconnect timer is armed.
func (s *Session) RetryPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retry != nil
}

func (s *Session) transitionLocked(to status.State) {
	if err := s.machine.Transition(to); err != nil {
		s.logger.Error("transport state", zap.Error(err))
	}
}
