package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/dhkim312/unichat/internal/api"
	"github.com/dhkim312/unichat/internal/bus"
	"github.com/dhkim312/unichat/internal/config"
	"github.com/dhkim312/unichat/internal/lock"
	"github.com/dhkim312/unichat/internal/logging"
	"github.com/dhkim312/unichat/internal/metrics"
	"github.com/dhkim312/unichat/internal/outbox"
	"github.com/dhkim312/unichat/internal/readsync"
	"github.com/dhkim312/unichat/internal/room"
	"github.com/dhkim312/unichat/internal/session"
	"github.com/dhkim312/unichat/internal/status"
	"github.com/dhkim312/unichat/internal/store"
	intsync "github.com/dhkim312/unichat/internal/sync"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Config      *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideAPIClient,
			provideRoomManager,
			provideSyncEngine,
			provideStream,
			provideSender,
			provideReadSync,
			provideHistoryFetcher,
			provideMetrics,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAPIClient(p Params) *api.Client {
	return api.NewClient(p.Config.API.BaseURL, p.Config.API.Token)
}

func provideRoomManager(p Params, client *api.Client, db *store.DB, logger *zap.Logger) *room.Manager {
	directory := room.NewAPIDirectory(client, p.Config.Identity.UserID)
	resolver := room.NewResolver(directory, db, logger)
	return room.NewManager(resolver, client, db, logger)
}

func provideSyncEngine(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, p.Config.Identity.UserID, p.Config.Identity.Email, logger)
}

func provideStream(p Params, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *intsync.Stream {
	return intsync.NewStream(p.Config.StreamEndpoint(), p.Config.API.Token, b, machine, logger)
}

func provideSender(p Params, db *store.DB, client *api.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, db, b, p.Config.Identity.UserID, logger)
}

func provideReadSync(client *api.Client, db *store.DB, logger *zap.Logger) *readsync.Debouncer {
	return readsync.NewDebouncer(client, db, logger)
}

func provideHistoryFetcher(client *api.Client) HistoryFetcher {
	return client
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, stream *intsync.Stream, engine *intsync.Engine, sender *outbox.Sender, m *metrics.Metrics, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Sync engine subscribes to server.* bus events.
			engine.Start(context.Background())

			// Mirror bus traffic into the counters.
			startMetricsCollector(context.Background(), b, m)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("api server error", zap.Error(err))
				}
			}()

			sender.Start(context.Background())
			stream.Start(context.Background())

			return nil
		},
		OnStop: func(ctx context.Context) error {
			stream.Stop()
			sender.Stop()
			engine.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

func startMetricsCollector(ctx context.Context, b *bus.Bus, m *metrics.Metrics) {
	ch, unsub := b.Subscribe("", 256)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				switch evt.Kind {
				case bus.KindMessageMerged:
					if payload, ok := evt.Payload.(map[string]any); ok {
						if n, ok := payload["incoming"].(int); ok {
							m.AddMerged(n)
						}
					}
				case bus.KindMessageSendAck:
					m.IncSent()
				case bus.KindMessageSendFailed:
					m.IncSendFailure()
				case bus.KindSyncDisconnected:
					m.IncStreamDrop()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
