package daemon

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/matheus3301/forumdm/internal/api"
	"github.com/matheus3301/forumdm/internal/bus"
	"github.com/matheus3301/forumdm/internal/config"
	"github.com/matheus3301/forumdm/internal/conversation"
	"github.com/matheus3301/forumdm/internal/forumapi"
	"github.com/matheus3301/forumdm/internal/lock"
	"github.com/matheus3301/forumdm/internal/logging"
	"github.com/matheus3301/forumdm/internal/outbound"
	"github.com/matheus3301/forumdm/internal/presence"
	"github.com/matheus3301/forumdm/internal/profile"
	"github.com/matheus3301/forumdm/internal/status"
	intsync "github.com/matheus3301/forumdm/internal/sync"
	"github.com/matheus3301/forumdm/internal/thread"
	"github.com/matheus3301/forumdm/internal/transport"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideProfile,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideDispatcher,
			provideLock,
			provideForumClient,
			provideSession,
			provideRegistry,
			providePresence,
			provideAggregator,
			provideReconciler,
			provideSyncEngine,
			provideSessionService,
			provideChatService,
			provideInboxService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideProfile(p Params) (*config.Profile, error) {
	cfg, err := config.LoadProfile(profile.ConfigPath(p.ProfileName))
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", p.ProfileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("profile %q: %w", p.ProfileName, err)
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Profile) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, logging.ParseLevel(cfg.LogLevel))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideDispatcher(logger *zap.Logger) *bus.Dispatcher {
	return bus.NewDispatcher(logger.Named("dispatch"))
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideForumClient(cfg *config.Profile, logger *zap.Logger) (*forumapi.Client, error) {
	return forumapi.New(forumapi.Config{
		BaseURL:        cfg.Origin(),
		Token:          cfg.Token,
		RequestTimeout: cfg.RequestTimeout.Duration,
	}, logger.Named("forumapi"))
}

func provideSession(cfg *config.Profile, d *bus.Dispatcher, m *status.Machine, logger *zap.Logger) (*transport.Session, error) {
	endpoint, err := transport.ResolveEndpoint(cfg.BaseURL, cfg.FallbackOrigin)
	if err != nil {
		return nil, err
	}
	bo, err := transport.NewBackOff(cfg.ReconnectPolicy, cfg.ReconnectDelay.Duration, cfg.ReconnectMaxDelay.Duration)
	if err != nil {
		return nil, err
	}
	return transport.New(transport.Config{
		Endpoint:          endpoint,
		Token:             cfg.Token,
		HeartbeatInterval: cfg.HeartbeatInterval.Duration,
		ReconnectDelay:    cfg.ReconnectDelay.Duration,
		LivenessTimeout:   cfg.LivenessTimeout.Duration,
		BackOff:           bo,
	}, transport.WebsocketDialer{}, d, m, logger.Named("transport")), nil
}

func provideRegistry(c *forumapi.Client, cfg *config.Profile, logger *zap.Logger) *conversation.Registry {
	return conversation.NewRegistry(c, cfg.PageSize, logger.Named("conversation"))
}

func providePresence(c *forumapi.Client, logger *zap.Logger) *presence.Query {
	return presence.New(c, logger.Named("presence"))
}

func provideAggregator(c *forumapi.Client, q *presence.Query, s *transport.Session, b *bus.Bus, logger *zap.Logger) *thread.Aggregator {
	return thread.New(thread.Config{
		Source:   c,
		Profiles: c,
		Presence: q,
		Sender:   s,
		Bus:      b,
	}, logger.Named("thread"))
}

func provideReconciler(c *forumapi.Client, r *conversation.Registry, b *bus.Bus, cfg *config.Profile, logger *zap.Logger) *outbound.Reconciler {
	return outbound.New(c, r, b, cfg.UserID, logger.Named("outbound"))
}

func provideSyncEngine(d *bus.Dispatcher, r *conversation.Registry, a *thread.Aggregator, m *status.Machine, b *bus.Bus, cfg *config.Profile, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(intsync.Config{
		Dispatcher: d,
		Registry:   r,
		Inbox:      a,
		Machine:    m,
		Bus:        b,
		Me:         cfg.UserID,
	}, logger.Named("sync"))
}

func provideSessionService(p Params, cfg *config.Profile, s *transport.Session, logger *zap.Logger) *api.SessionService {
	return api.NewSessionService(p.ProfileName, cfg.UserID, s, logger.Named("api"))
}

func provideChatService(p Params, cfg *config.Profile, r *conversation.Registry, rec *outbound.Reconciler, a *thread.Aggregator, b *bus.Bus, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(p.ProfileName, cfg.UserID, r, rec, a, b, logger.Named("api"))
}

func provideInboxService(p Params, a *thread.Aggregator, b *bus.Bus) *api.InboxService {
	return api.NewInboxService(p.ProfileName, a, b)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, sess *transport.Session, engine *intsync.Engine, agg *thread.Aggregator, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Handlers must be registered before the first frame arrives.
			engine.Start(ctx)
			agg.Start(ctx)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			go srv.TrackHealth(ctx, sess)

			sess.EnsureConnected()
			agg.RequestRefresh()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			err := sess.Close()
			engine.Stop()
			agg.Stop()
			srv.Stop(stopCtx)
			err = multierr.Append(err, lk.Release())
			if err != nil {
				logger.Warn("shutdown finished with errors", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return err
		},
	})
}
