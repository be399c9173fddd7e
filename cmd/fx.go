package cmd

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/relaychat/chat-bridge-service/config"
	httpsrv "github.com/relaychat/chat-bridge-service/infra/server/http"
	"github.com/relaychat/chat-bridge-service/infra/sweep"
	"github.com/relaychat/chat-bridge-service/internal/adapter/directory"
	"github.com/relaychat/chat-bridge-service/internal/adapter/pubsub"
	"github.com/relaychat/chat-bridge-service/internal/adapter/store"
	"github.com/relaychat/chat-bridge-service/internal/dedup"
	"github.com/relaychat/chat-bridge-service/internal/domain/bridge"
	"github.com/relaychat/chat-bridge-service/internal/domain/registry"
	"github.com/relaychat/chat-bridge-service/internal/handler/relay"
	"github.com/relaychat/chat-bridge-service/internal/handler/tcp"
	"github.com/relaychat/chat-bridge-service/internal/handler/ws"
	"github.com/relaychat/chat-bridge-service/internal/metric"
	"github.com/relaychat/chat-bridge-service/internal/ratelimit"
	"github.com/relaychat/chat-bridge-service/internal/service"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,

			prometheus.NewRegistry,
			func(reg *prometheus.Registry) *metric.Set { return metric.NewSet(reg) },

			func(cfg *config.Config) *ratelimit.Limiter {
				return ratelimit.New(
					ratelimit.WithRule(ratelimit.KindMessage, ratelimit.Rule(cfg.Limits.Message)),
					ratelimit.WithRule(ratelimit.KindConnection, ratelimit.Rule(cfg.Limits.Connection)),
					ratelimit.WithRule(ratelimit.KindLogin, ratelimit.Rule(cfg.Limits.Login)),
					ratelimit.WithBlockDuration(cfg.Limits.BlockDuration),
					ratelimit.WithSweepGrace(cfg.Limits.SweepGrace),
				)
			},
			func(cfg *config.Config) *dedup.Deduplicator {
				return dedup.New(cfg.Engine.DedupHorizon, cfg.Engine.DedupCapacity)
			},
			func(cfg *config.Config) *bridge.Bridge {
				return bridge.New(cfg.Engine.HopCeiling)
			},

			func(cfg *config.Config, logger *slog.Logger) *directory.Directory {
				return directory.New(directory.Config{
					JWTSecret: cfg.Auth.JWTSecret,
					BaseURL:   cfg.Auth.DirectoryURL,
					Timeout:   cfg.Auth.Timeout,
				}, logger)
			},
			func(d *directory.Directory) registry.IdentityChecker { return d },
			func(d *directory.Directory) ws.Verifier { return d },

			func(cfg *config.Config, checker registry.IdentityChecker, logger *slog.Logger) *registry.Registry {
				return registry.New(registry.Config{
					MaxPerIdentity: cfg.Pools.MaxPerIdentity,
					MaxLegacy:      cfg.Pools.MaxLegacy,
				}, checker, logger)
			},

			func(
				cfg *config.Config,
				reg *registry.Registry,
				br *bridge.Bridge,
				dd *dedup.Deduplicator,
				rl *ratelimit.Limiter,
				metrics *metric.Set,
				logger *slog.Logger,
			) *service.Engine {
				return service.NewEngine(reg, br, dd, rl, metrics, logger, cfg.Engine.MaxContentBytes)
			},

			func(cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
				return store.Open(cfg.Storage.Path, logger)
			},
			func(cfg *config.Config, logger *slog.Logger) (*pubsub.Bus, error) {
				return pubsub.NewBus(pubsub.Config{
					AMQPEnabled: cfg.AMQP.Enabled,
					AMQPURL:     cfg.AMQP.URL,
					Topic:       cfg.AMQP.Topic,
				}, logger)
			},
			func(cfg *config.Config, bus *pubsub.Bus, logger *slog.Logger) *pubsub.Dispatcher {
				return pubsub.NewDispatcher(bus, cfg.AMQP.Topic, logger)
			},

			func(
				cfg *config.Config,
				logger *slog.Logger,
				engine *service.Engine,
				reg *registry.Registry,
				rl *ratelimit.Limiter,
				verifier ws.Verifier,
				st *store.Store,
				dispatcher *pubsub.Dispatcher,
			) *ws.Handler {
				return ws.NewHandler(logger, engine, reg, rl, verifier, st, dispatcher, ws.Options{
					MaxFrameBytes: cfg.Engine.MaxFrameBytes,
					SendBuffer:    cfg.Pools.SendBuffer,
				})
			},
			func(
				cfg *config.Config,
				logger *slog.Logger,
				engine *service.Engine,
				reg *registry.Registry,
				rl *ratelimit.Limiter,
				st *store.Store,
				dispatcher *pubsub.Dispatcher,
			) *tcp.Listener {
				return tcp.NewListener(logger, engine, reg, rl, st, dispatcher, tcp.Options{
					Addr:         cfg.Legacy.Addr,
					PingInterval: cfg.Legacy.PingInterval,
					MaxLineBytes: cfg.Legacy.MaxLineBytes,
					SendBuffer:   cfg.Legacy.SendBuffer,
				})
			},
			func(cfg *config.Config, logger *slog.Logger, engine *service.Engine, bus *pubsub.Bus) (*relay.Relay, error) {
				return relay.New(logger, engine, bus, cfg.AMQP.Topic)
			},
			func(
				cfg *config.Config,
				logger *slog.Logger,
				wsHandler *ws.Handler,
				reg *registry.Registry,
				rl *ratelimit.Limiter,
				dd *dedup.Deduplicator,
				promReg *prometheus.Registry,
			) *httpsrv.Server {
				return httpsrv.NewServer(cfg.HTTP.Addr, logger, wsHandler, reg, rl, dd, promReg)
			},
			func(
				cfg *config.Config,
				logger *slog.Logger,
				rl *ratelimit.Limiter,
				reg *registry.Registry,
				metrics *metric.Set,
			) *sweep.Scheduler {
				return sweep.NewScheduler(cfg.Limits.SweepInterval, logger,
					rl.Sweep,
					func() {
						counts := reg.Counts()
						metrics.SetConnections("enterprise", counts.Enterprise)
						metrics.SetConnections("legacy", counts.Legacy)
					},
				)
			},
		),

		// Evictions announce departures through the engine; the registry
		// cannot depend on it at construction time.
		fx.Invoke(func(reg *registry.Registry, engine *service.Engine) {
			reg.SetNotifier(engine)
		}),

		fx.Invoke(registerLifecycle),
	)
}

type starter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *httpsrv.Server,
	listener *tcp.Listener,
	rly *relay.Relay,
	scheduler *sweep.Scheduler,
	st *store.Store,
	bus *pubsub.Bus,
) {
	for _, component := range []starter{scheduler, rly, srv, listener} {
		c := component
		lc.Append(fx.Hook{OnStart: c.Start, OnStop: c.Stop})
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			if err := bus.Close(); err != nil {
				return err
			}
			return st.Close()
		},
	})
}
