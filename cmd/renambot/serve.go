package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/DINO060/RENAMBOT/internal/channel"
	"github.com/DINO060/RENAMBOT/internal/channel/adapters/telegram"
	"github.com/DINO060/RENAMBOT/internal/channel/inbound"
	"github.com/DINO060/RENAMBOT/internal/config"
	"github.com/DINO060/RENAMBOT/internal/db"
	"github.com/DINO060/RENAMBOT/internal/handlers"
	"github.com/DINO060/RENAMBOT/internal/healthcheck"
	channelchecker "github.com/DINO060/RENAMBOT/internal/healthcheck/checkers/channel"
	postgreschecker "github.com/DINO060/RENAMBOT/internal/healthcheck/checkers/postgres"
	"github.com/DINO060/RENAMBOT/internal/logger"
	"github.com/DINO060/RENAMBOT/internal/media"
	"github.com/DINO060/RENAMBOT/internal/media/providers/localfs"
	"github.com/DINO060/RENAMBOT/internal/membership"
	"github.com/DINO060/RENAMBOT/internal/prompt"
	"github.com/DINO060/RENAMBOT/internal/queue"
	"github.com/DINO060/RENAMBOT/internal/quota"
	"github.com/DINO060/RENAMBOT/internal/refcache"
	"github.com/DINO060/RENAMBOT/internal/server"
	"github.com/DINO060/RENAMBOT/internal/settings"
	"github.com/DINO060/RENAMBOT/internal/sweep"
	"github.com/DINO060/RENAMBOT/internal/transfer"
)

func runServe(cfgPath string) error {
	app := fx.New(
		fx.Provide(
			provideConfig(cfgPath),
			provideLogger,
			provideStorage,
			provideTelegramAdapter,
			provideReferenceCache,
			providePromptStore,
			provideQuotaGate,
			provideSettingsService,
			provideThumbnailStore,
			providePipeline,
			provideQueue,
			provideMembershipGate,
			provideChannelRouter,
			provideSweepService,
			provideHealthAggregator,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideHealthHandler),
			provideServerHandler(provideStatusHandler),
			provideServer,
		),
		fx.Invoke(
			startSweepService,
			startTelegram,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(path string) func() (config.Config, error) {
	return func() (config.Config, error) {
		cfg, err := config.Load(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

// storage holds the durable stores. Pool is nil for the memory driver.
type storage struct {
	Pool     *pgxpool.Pool
	Quota    quota.Store
	Settings settings.Store
	Channels settings.ChannelStore
}

func provideStorage(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (storage, error) {
	if cfg.Storage.Driver != config.StorePostgres {
		log.Info("using in-memory storage, usage and settings reset on restart")
		return storage{
			Quota:    quota.NewMemoryStore(),
			Settings: settings.NewMemoryStore(),
			Channels: settings.NewMemoryChannelStore(),
		}, nil
	}
	dsn := cfg.Postgres.DSN()
	if err := db.MigrateUp(log, dsn); err != nil {
		return storage{}, fmt.Errorf("db migrate: %w", err)
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return storage{}, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return storage{
		Pool:     conn,
		Quota:    quota.NewPostgresStore(conn),
		Settings: settings.NewPostgresStore(conn),
		Channels: settings.NewPostgresChannelStore(conn),
	}, nil
}

func provideTelegramAdapter(log *slog.Logger, cfg config.Config) *telegram.TelegramAdapter {
	return telegram.NewTelegramAdapter(log, telegram.Config{
		BotToken:      cfg.Telegram.BotToken,
		APIEndpoint:   cfg.Telegram.APIEndpoint,
		PollTimeout:   cfg.Telegram.PollTimeout,
		SendPerSecond: cfg.Telegram.SendPerSecond,
	})
}

func provideReferenceCache(log *slog.Logger, cfg config.Config) *refcache.Cache {
	return refcache.New(log, cfg.Pipeline.CacheTTLDuration())
}

func providePromptStore(cfg config.Config) *prompt.Store {
	return prompt.NewStore(cfg.Pipeline.PromptTTLDuration(), nil)
}

func provideQuotaGate(log *slog.Logger, cfg config.Config, st storage) (*quota.Gate, error) {
	loc, err := time.LoadLocation(cfg.Quota.Timezone)
	if err != nil {
		return nil, fmt.Errorf("quota timezone %q: %w", cfg.Quota.Timezone, err)
	}
	return quota.NewGate(log, st.Quota, quota.Options{
		DailyLimitBytes: cfg.Quota.DailyLimitBytes,
		Cooldown:        cfg.Quota.Cooldown(),
		AdminIDs:        cfg.Telegram.AdminIDs,
		Location:        loc,
	}), nil
}

func provideSettingsService(log *slog.Logger, st storage) *settings.Service {
	return settings.NewService(log, st.Settings)
}

func provideThumbnailStore(log *slog.Logger, cfg config.Config) (*media.ThumbnailStore, error) {
	provider, err := localfs.New(cfg.Storage.ThumbnailDir)
	if err != nil {
		return nil, fmt.Errorf("thumbnail dir: %w", err)
	}
	return media.NewThumbnailStore(log, provider, cfg.Storage.MaxThumbBytes), nil
}

func providePipeline(log *slog.Logger, cfg config.Config, adapter *telegram.TelegramAdapter, gate *quota.Gate, cache *refcache.Cache, prompts *prompt.Store, thumbnails *media.ThumbnailStore) (*transfer.Pipeline, error) {
	if err := os.MkdirAll(cfg.Storage.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	return transfer.NewPipeline(log, transfer.Deps{
		Transport:  adapter,
		Gate:       gate,
		Cache:      cache,
		Prompts:    prompts,
		Thumbnails: thumbnails,
		Prober:     media.NewFFprobe(log, "", nil),
		Transcoder: media.NewFFmpeg(log, "", nil),
	}, transfer.Options{
		TempDir:           cfg.Storage.TempDir,
		ProgressInterval:  cfg.Pipeline.ProgressIntervalDuration(),
		NormalizeMaxBytes: cfg.Pipeline.NormalizeMaxSize,
		RateLimitRetries:  cfg.Pipeline.RateLimitRetries,
	}), nil
}

func provideQueue(lc fx.Lifecycle, log *slog.Logger, pipeline *transfer.Pipeline) *queue.Manager {
	mgr := queue.NewManager(log, pipeline.RunJob, queue.WithErrorHandler(func(job queue.Job, err error) {
		log.Debug("thumbnail job ended with error",
			slog.String("job_id", job.ID),
			slog.Int64("user_id", job.UserID),
			slog.Any("error", err),
		)
	}))
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return mgr.Shutdown(ctx) }})
	return mgr
}

func provideMembershipGate(log *slog.Logger, cfg config.Config, st storage, adapter *telegram.TelegramAdapter) *membership.Gate {
	return membership.NewGate(log, adapter, st.Channels, membership.Options{
		AdminIDs: cfg.Telegram.AdminIDs,
		Fallback: cfg.Join.Channels,
		CacheTTL: cfg.Join.CacheTTLDuration(),
	})
}

type routerParams struct {
	fx.In

	Logger     *slog.Logger
	Config     config.Config
	Adapter    *telegram.TelegramAdapter
	Cache      *refcache.Cache
	Prompts    *prompt.Store
	Pipeline   *transfer.Pipeline
	Jobs       *queue.Manager
	Quota      *quota.Gate
	Settings   *settings.Service
	Thumbnails *media.ThumbnailStore
	Membership *membership.Gate
	Sweeper    *sweep.Service
}

func provideChannelRouter(params routerParams) *inbound.ChannelInboundProcessor {
	log, cfg := params.Logger, params.Config
	if limit := cfg.MaxFileBytesLimit(); limit < cfg.Pipeline.MaxFileBytes {
		log.Warn("public bot api in use, capping file size",
			slog.Int64("configured", cfg.Pipeline.MaxFileBytes),
			slog.Int64("limit", limit),
		)
	}
	processor := inbound.NewChannelInboundProcessor(log, params.Adapter, params.Cache, params.Prompts, params.Pipeline, params.Jobs, inbound.Options{
		MaxFileBytes:  cfg.MaxFileBytesLimit(),
		MaxThumbBytes: cfg.Storage.MaxThumbBytes,
		TempDir:       cfg.Storage.TempDir,
		Cooldown:      cfg.Quota.Cooldown(),
		AdminIDs:      cfg.Telegram.AdminIDs,
	})
	processor.SetUsageReporter(params.Quota)
	processor.SetPreferenceService(params.Settings)
	processor.SetThumbnailService(params.Thumbnails)
	processor.SetMembershipGate(params.Membership)
	processor.SetCleaner(params.Sweeper)
	return processor
}

func provideSweepService(log *slog.Logger, cfg config.Config, cache *refcache.Cache, prompts *prompt.Store) *sweep.Service {
	return sweep.NewService(log, cache, prompts, cfg.Storage.TempDir, cfg.Pipeline.CacheTTLDuration())
}

func provideHealthAggregator(log *slog.Logger, st storage, adapter *telegram.TelegramAdapter) *healthcheck.Aggregator {
	checkers := []healthcheck.Checker{channelchecker.NewChecker(log, adapter)}
	if st.Pool != nil {
		checkers = append(checkers, postgreschecker.NewChecker(log, st.Pool))
	}
	return healthcheck.NewAggregator(checkers...)
}

func provideHealthHandler(log *slog.Logger, aggregator *healthcheck.Aggregator) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log, aggregator)
}

func provideStatusHandler(log *slog.Logger, cache *refcache.Cache, prompts *prompt.Store, jobs *queue.Manager, sweeper *sweep.Service, gate *quota.Gate) *handlers.StatusHandler {
	return handlers.NewStatusHandler(log, handlers.StatusSources{
		References: cache,
		Prompts:    prompts,
		Queue:      jobs,
		Sweep:      sweeper,
		Totals:     gate,
	})
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func startSweepService(lc fx.Lifecycle, cfg config.Config, sweeper *sweep.Service) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { return sweeper.Start(cfg.Sweep.Schedule) },
		OnStop:  func(ctx context.Context) error { return sweeper.Stop(ctx) },
	})
}

func startTelegram(lc fx.Lifecycle, logger *slog.Logger, adapter *telegram.TelegramAdapter, processor *inbound.ChannelInboundProcessor) {
	ctx, cancel := context.WithCancel(context.Background())
	var conn channel.Connection
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			c, err := adapter.Connect(ctx, processor)
			if err != nil {
				cancel()
				return fmt.Errorf("telegram connect: %w", err)
			}
			conn = c
			logger.Info("telegram bot started")
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			defer cancel()
			if conn == nil {
				return nil
			}
			return conn.Stop(stopCtx)
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	if cfg.Server.Addr == "" {
		logger.Info("status server disabled")
		return
	}
	fmt.Printf("Starting renambot %s\n", version)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			logger.Info("status server listening", slog.String("addr", srv.Addr()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
