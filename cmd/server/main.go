package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pricesync/backend/internal/cache"
	"pricesync/backend/internal/channel"
	"pricesync/backend/internal/competitor"
	"pricesync/backend/internal/config"
	"pricesync/backend/internal/decision"
	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/events"
	"pricesync/backend/internal/executor"
	"pricesync/backend/internal/history"
	"pricesync/backend/internal/httpapi"
	"pricesync/backend/internal/logging"
	"pricesync/backend/internal/pendingaction"
	"pricesync/backend/internal/scheduler"
	"pricesync/backend/internal/service"
	"pricesync/backend/internal/store"
	"pricesync/backend/internal/store/memory"
	pgstore "pricesync/backend/internal/store/postgres"
	"pricesync/backend/internal/validation"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("postgres schema migration failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	offerCache := cache.OfferCache(cache.NoopOfferCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisOfferCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop offer cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			offerCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: noop")
	}

	publisher := events.Publisher(events.NoopPublisher{})
	if len(cfg.KafkaBrokers) > 0 {
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaPriceTopic)
		publisher = kafka
		closers = append(closers, kafka.Close)
		logger.Info("events: kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaPriceTopic))
	} else {
		logger.Info("events: noop")
	}

	// No marketplace client ships with this service; the simulated one keeps
	// the pipeline runnable end to end.
	marketplace := channel.NewRetrying(channel.NewSimulated(), channel.RetryOptions{
		Timeout:     cfg.ChannelTimeout,
		MaxAttempts: cfg.ChannelMaxAttempts,
	}, logger.Named("channel"))
	throttle := channel.NewThrottle(cfg.Throttle)

	configs := service.NewConfigService(repo, logger.Named("config"))
	defaults := domain.DefaultPricingConfig()
	defaults.OperatingHours = domain.OperatingHours{Start: cfg.OperatingHoursStart, End: cfg.OperatingHoursEnd}
	defaults.Competitor.PollFrequencyMinutes = int(cfg.PollInterval / time.Minute)
	configs.SetDefaults(defaults)
	if _, err := configs.Bootstrap(ctx); err != nil {
		logger.Fatal("pricing config bootstrap failed", zap.Error(err))
	}

	detector := pendingaction.NewDetector(repo, repo, publisher, throttle, cfg.PVPMWarningTolerance, logger.Named("pending_actions"))
	detector.SetBatchSize(cfg.BulkBatchSize)
	pipeline := service.NewPipeline(service.Deps{
		Products:  repo,
		Config:    configs,
		Engine:    decision.NewEngine(),
		Validator: validation.New(cfg.Location(), logger.Named("validation")),
		Executor:  executor.New(repo, marketplace, publisher, logger.Named("executor")),
		History:   history.NewRecorder(repo, repo, logger.Named("history")),
		Detector:  detector,
		Throttle:  throttle,
	}, logger.Named("pipeline"))
	pipeline.SetBatchSize(cfg.BulkBatchSize)
	configs.OnChange(pipeline.RecomputeAfterConfigChange)

	monitor := competitor.NewMonitor(repo, marketplace, offerCache, configs, throttle, competitor.Options{
		BatchSize:   cfg.PollBatchSize,
		StaleWindow: cfg.PollStaleWindow,
		CacheTTL:    cfg.CompetitorCacheTTL,
		SellerID:    cfg.SellerID,
	}, logger.Named("competitor"))
	monitor.SetObserver(pipeline)

	pollFrequency := func() time.Duration {
		return time.Duration(configs.Current().Competitor.PollFrequencyMinutes) * time.Minute
	}
	sched := scheduler.New(logger.Named("scheduler"), scheduler.PricingTasks(monitor, detector, pipeline, scheduler.Intervals{
		CompetitorSweep: cfg.PollInterval,
		PollFrequency:   pollFrequency,
		CorrectionSweep: cfg.CorrectionInterval,
		PVPMRefresh:     cfg.PVPMRefreshInterval,
		ActionReaper:    cfg.ReaperInterval,
	})...)
	configs.OnChange(func(context.Context) { sched.Refresh() })

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	if cfg.AdminPassword != "" {
		if err := auth.EnsureUser(ctx, "admin", cfg.AdminPassword, httpapi.RoleAdmin); err != nil {
			logger.Fatal("admin account bootstrap failed", zap.Error(err))
		}
	}

	api := httpapi.New(httpapi.Deps{
		Pipeline:  pipeline,
		Config:    configs,
		Monitor:   monitor,
		Detector:  detector,
		Scheduler: sched,
		Auth:      auth,
	}, cfg.AllowedOrigin, logger.Named("http"))

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	if cfg.SchedulerEnabled {
		sched.Start(runCtx)
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("pricing backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	sched.Stop()
	stopRun()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.OperatingHoursStart == cfg.OperatingHoursEnd {
		return fmt.Errorf("OPERATING_HOURS_START and OPERATING_HOURS_END must differ")
	}
	if cfg.AdminPassword != "" && len(cfg.AdminPassword) < 12 {
		return fmt.Errorf("ADMIN_PASSWORD must be at least 12 characters when set")
	}
	if !cfg.IsDevelopment() && cfg.DatabaseURL == "" && os.Getenv("SEED_ADMIN_PASSWORD") == "" {
		return fmt.Errorf("in-memory mode outside development needs SEED_ADMIN_PASSWORD")
	}
	return nil
}
