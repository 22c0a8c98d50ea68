package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/LinkVault/config"
	appmodel "github.com/sifan077/LinkVault/internal/app/model"
	"github.com/sifan077/LinkVault/internal/app/provider"
	apprepository "github.com/sifan077/LinkVault/internal/app/repository"
	appserver "github.com/sifan077/LinkVault/internal/app/server"
	"github.com/sifan077/LinkVault/internal/app/service"
	inthttp "github.com/sifan077/LinkVault/internal/http/handler"
	"github.com/sifan077/LinkVault/internal/infra/logger"
	infraNATS "github.com/sifan077/LinkVault/internal/infra/nats"
	infraPostgres "github.com/sifan077/LinkVault/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/LinkVault/internal/infra/prometheus"
	infraRedis "github.com/sifan077/LinkVault/internal/infra/redis"
	"go.uber.org/zap"
)

type stores struct {
	resources apprepository.ResourceRepository
	links     apprepository.LinkRepository
	users     apprepository.UserRepository
	stats     apprepository.StatsRepository
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.MustInit(logger.ConfigFromEnv())
	defer func() { _ = logger.Sync() }()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	log.Info("Configuration loaded successfully",
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("provider", cfg.Provider.Kind),
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.String("redis_host", cfg.Redis.Host),
		zap.String("nats_host", cfg.NATS.Host),
		zap.Duration("link_validity", cfg.Links.Validity),
		zap.Int("usage_budget", cfg.Links.UsageBudget),
		zap.Duration("reaper_interval", cfg.Reaper.Interval),
	)

	healthChecks := make(map[string]inthttp.Pinger)

	registry := infraPrometheus.NewRegistry()

	var st stores
	switch cfg.Storage.Driver {
	case "memory":
		mem := apprepository.NewMemoryStore()
		st = stores{resources: mem.Resources(), links: mem.Links(), users: mem.Users(), stats: mem.Stats()}
		log.Warn("Using in-memory storage, data is lost on restart")
	default:
		gormDB, err := infraPostgres.NewGorm(cfg.Postgres)
		if err != nil {
			log.Fatal("Failed to open GORM connection", zap.Error(err))
		}
		sqlDB, err := gormDB.DB()
		if err != nil {
			log.Fatal("Failed to access underlying SQL DB", zap.Error(err))
		}
		defer sqlDB.Close()

		if err := infraPostgres.AutoMigrate(ctx, gormDB, &appmodel.Resource{}, &appmodel.Link{}, &appmodel.User{}, &appmodel.Redemption{}); err != nil {
			log.Fatal("Failed to run database migrations", zap.Error(err))
		}

		pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		defer pool.Close()
		healthChecks["postgres"] = pool
		infraPrometheus.RegisterPoolStats(registry, pool)
		log.Info("Connected to Postgres successfully")

		st = stores{
			resources: apprepository.NewResourceRepository(gormDB),
			links:     apprepository.NewLinkRepository(gormDB),
			users:     apprepository.NewUserRepository(gormDB),
			stats:     apprepository.NewStatsRepository(pool),
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = infraRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		healthChecks["redis"] = inthttp.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
		log.Info("Connected to Redis successfully")
	}

	var (
		natsConn *nats.Conn
		js       nats.JetStreamContext
		events   service.EventPublisher
	)
	if cfg.NATS.Enabled {
		natsConn, js, err = infraNATS.Connect(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer natsConn.Drain()
		healthChecks["nats"] = inthttp.PingFunc(func(context.Context) error {
			if !natsConn.IsConnected() {
				return errors.New("nats not connected")
			}
			return nil
		})

		publisher := service.NewJetStreamPublisher(js)
		if err := publisher.EnsureStream(); err != nil {
			log.Fatal("Failed to prepare link event stream", zap.Error(err))
		}
		events = publisher
		log.Info("Connected to NATS successfully", zap.Bool("jetstream_ready", js != nil))
	}

	metrics := infraPrometheus.NewMetrics(registry)
	if cfg.Prometheus.Enabled {
		promServer := infraPrometheus.NewServer(cfg.Prometheus, registry, log)
		go func() {
			log.Info("Starting Prometheus metrics server", zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	}

	gateway, err := newGateway(cfg.Provider)
	if err != nil {
		log.Fatal("Failed to build provider gateway", zap.Error(err))
	}

	var filter *service.TokenFilter
	if cfg.Redemption.TokenFilter {
		filter = service.NewTokenFilter(0, 0)
		n, err := filter.Warm(ctx, st.links)
		if err != nil {
			log.Fatal("Failed to warm token filter", zap.Error(err))
		}
		log.Info("Token filter warmed", zap.Int("tokens", n))
	}

	issuer := service.NewLinkIssuer(service.IssuerDeps{
		Logger:    logger.Component("issuer"),
		Resources: st.resources,
		Links:     st.links,
		Gateway:   gateway,
		Events:    events,
		Metrics:   metrics,
		Filter:    filter,
	}, service.RetryPolicy{
		MaxAttempts:    cfg.Provider.MaxAttempts,
		BaseDelay:      cfg.Provider.BaseDelay,
		MaxDelay:       cfg.Provider.MaxDelay,
		AttemptTimeout: cfg.Provider.AttemptTimeout,
	})

	var sweepLock service.SweepLock
	if cfg.Reaper.Lock && redisClient != nil {
		sweepLock = service.NewRedisSweepLock(redisClient, "", cfg.Reaper.LockTTL, log)
	}
	reaper := service.NewExpiryReaper(service.ReaperDeps{
		Logger:  logger.Component("reaper"),
		Links:   st.links,
		Gateway: gateway,
		Events:  events,
		Metrics: metrics,
		Lock:    sweepLock,
	}, service.ReaperConfig{
		Interval:       cfg.Reaper.Interval,
		Concurrency:    cfg.Reaper.Concurrency,
		BatchSize:      cfg.Reaper.BatchSize,
		RetryMaxDelay:  cfg.Reaper.RetryMaxDelay,
		AttemptTimeout: cfg.Provider.AttemptTimeout,
		Retention:      cfg.Reaper.Retention,
	})

	recorderDeps := service.RecorderDeps{
		Logger:    logger.Component("recorder"),
		Links:     st.links,
		Resources: st.resources,
		Users:     st.users,
		Events:    events,
		Metrics:   metrics,
		Filter:    filter,
	}
	if cfg.Redemption.RevokeOnExhaust {
		recorderDeps.Revoker = reaper
	}
	recorder := service.NewRedemptionRecorder(recorderDeps)

	reaper.Start(ctx)
	defer reaper.Stop()
	defer recorder.Wait()

	if cfg.Redemption.Consumer && js != nil {
		consumer := service.NewRedemptionConsumer(js, logger.Component("consumer"), recorder, metrics)
		if err := consumer.Start(); err != nil {
			log.Fatal("Failed to start redemption consumer", zap.Error(err))
		}
		defer consumer.Stop()
		log.Info("Redemption consumer started")
	}

	server := appserver.New(appserver.Dependencies{
		Logger:         log,
		Redis:          redisClient,
		HealthChecks:   healthChecks,
		Resources:      service.NewResourceService(st.resources, log, service.LinkDefaults{Validity: cfg.Links.Validity, UsageBudget: cfg.Links.UsageBudget}),
		Users:          service.NewUserService(st.users, st.stats, cfg.Stats.ActiveDays),
		Links:          st.links,
		Issuer:         issuer,
		Redeemer:       recorder,
		IssueRateLimit: cfg.Server.IssueRateLimit,
	})

	listenErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("addr", cfg.Server.Addr))
		listenErr <- server.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			log.Error("Fiber server exited", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to shut down HTTP server cleanly", zap.Error(err))
	}
	// Deferred calls stop the consumer, wait for pending revocations, then stop the
	// reaper before closing the backends.
}

func newGateway(cfg config.ProviderConfig) (provider.Gateway, error) {
	if cfg.Kind == "memory" {
		return provider.NewMemory(""), nil
	}
	return provider.NewTelegram(provider.TelegramConfig{
		BotToken: cfg.Telegram.BotToken,
		APIBase:  cfg.Telegram.APIBase,
		Timeout:  cfg.AttemptTimeout,
	})
}
