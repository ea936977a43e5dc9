package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cena261/traveloka-clone-sub001/internal/core/port"
	"github.com/cena261/traveloka-clone-sub001/internal/infra/config"
	"github.com/cena261/traveloka-clone-sub001/internal/infra/database"
	"github.com/cena261/traveloka-clone-sub001/internal/infra/directory"
	kafkainfra "github.com/cena261/traveloka-clone-sub001/internal/infra/kafka"
	"github.com/cena261/traveloka-clone-sub001/internal/infra/logger"
	redisinfra "github.com/cena261/traveloka-clone-sub001/internal/infra/redis"
	"github.com/cena261/traveloka-clone-sub001/internal/infra/scheduler"
	"github.com/cena261/traveloka-clone-sub001/internal/infra/telemetry"
	postgresrepo "github.com/cena261/traveloka-clone-sub001/internal/repository/postgres"
	redisrepo "github.com/cena261/traveloka-clone-sub001/internal/repository/redis"
	"github.com/cena261/traveloka-clone-sub001/internal/usecase"
)

// Application owns the wired account-core process: repositories, services,
// the background scheduler, the directory consumer, and the metrics listener.
type Application struct {
	cfg    *config.AppConfig
	logger *zap.Logger

	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	group    sarama.ConsumerGroup

	scheduler *scheduler.Scheduler
	handler   *kafkainfra.GroupHandler
	tracer    *telemetry.TracerProvider

	sessions     *usecase.SessionService
	sync         *usecase.SyncService
	lockout      *usecase.LockoutService
	twoFactor    *usecase.TwoFactorService
	registration *usecase.RegistrationService
}

// New wires the full application from configuration.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	var tracer *telemetry.TracerProvider
	if cfg.Telemetry.OTLPEndpoint != "" {
		tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}
	metrics := telemetry.NewMetrics()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	var producer *kafkainfra.Producer
	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	directoryClient := directory.NewClient(cfg.Directory, log)
	if cfg.Directory.Token != "" {
		log.Debug("directory client authenticated",
			zap.String("token", logger.MaskToken(cfg.Directory.Token)))
	}

	repos := postgresrepo.NewRepositories(pool)
	sessionCache := redisrepo.NewSessionCache(redisClient.Client(), cfg.Redis.SessionPrefix)

	sessionTTL := cfg.Redis.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = 10 * time.Minute
	}

	sessions := usecase.NewSessionService(repos.Sessions, repos.Principals, eventPublisher, log).
		WithSessionCache(sessionCache, sessionTTL).
		WithSessionLimit(cfg.Session.MaxActive).
		WithLifetimes(cfg.Session.TTL, cfg.Session.RefreshTTL).
		WithMetrics(metrics)

	syncService := usecase.NewSyncService(repos.SyncEvents, repos.Principals, directoryClient, eventPublisher, log).
		WithLimits(cfg.Sync.MaxRetries, cfg.Sync.StuckThreshold, cfg.Sync.Workers).
		WithBatchLimit(cfg.Sync.BatchLimit).
		WithMetrics(metrics)

	lockout := usecase.NewLockoutService(repos.Principals, eventPublisher, log).
		WithPolicy(cfg.Lockout.FailedLoginThreshold, cfg.Lockout.LockDuration).
		WithMetrics(metrics)

	twoFactor := usecase.NewTwoFactorService(repos.TwoFactor, repos.Principals, eventPublisher, cfg.TwoFactor.Issuer, log)

	registration := usecase.NewRegistrationService(repos.Principals, syncService, eventPublisher, log)

	sched := scheduler.New(log, metrics)
	sched.Register("sync_pending", cfg.Sync.PendingInterval, func(ctx context.Context) error {
		_, err := syncService.ProcessPending(ctx)
		return err
	})
	sched.Register("sync_retry", cfg.Sync.RetryInterval, func(ctx context.Context) error {
		_, err := syncService.RetryFailed(ctx)
		return err
	})
	sched.Register("sync_reclaim", cfg.Sync.ReclaimInterval, func(ctx context.Context) error {
		_, err := syncService.ReclaimStuck(ctx)
		return err
	})
	sched.Register("lockout_sweep", cfg.Lockout.SweepInterval, func(ctx context.Context) error {
		_, err := lockout.SweepExpiredLocks(ctx)
		return err
	})
	sched.Register("session_cleanup", cfg.Session.CleanupInterval, func(ctx context.Context) error {
		_, err := sessions.CleanupExpiredSessions(ctx)
		return err
	})

	var group sarama.ConsumerGroup
	var handler *kafkainfra.GroupHandler
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.DirectoryTopic != "" {
		group, err = kafkainfra.NewConsumerGroup(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init directory consumer, provider changes will not be ingested", zap.Error(err))
		} else {
			consumer := kafkainfra.NewDirectoryChangeConsumer(syncService, log)
			handler = kafkainfra.NewGroupHandler(consumer, log)
		}
	}

	return &Application{
		cfg:          cfg,
		logger:       log,
		pool:         pool,
		redis:        redisClient,
		producer:     producer,
		group:        group,
		scheduler:    sched,
		handler:      handler,
		tracer:       tracer,
		sessions:     sessions,
		sync:         syncService,
		lockout:      lockout,
		twoFactor:    twoFactor,
		registration: registration,
	}, nil
}

// Sessions exposes the session lifecycle service.
func (a *Application) Sessions() *usecase.SessionService { return a.sessions }

// Sync exposes the directory synchronization service.
func (a *Application) Sync() *usecase.SyncService { return a.sync }

// Lockout exposes the lockout policy service.
func (a *Application) Lockout() *usecase.LockoutService { return a.lockout }

// TwoFactor exposes the second-factor service.
func (a *Application) TwoFactor() *usecase.TwoFactorService { return a.twoFactor }

// Registration exposes the registration service.
func (a *Application) Registration() *usecase.RegistrationService { return a.registration }

// Run starts the background jobs, the directory consumer, and the metrics
// listener, then blocks until ctx is cancelled or a fatal error occurs.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.scheduler.Start(runCtx)

	consumerErrCh := make(chan error, 1)
	if a.group != nil && a.handler != nil {
		go func() {
			err := kafkainfra.ConsumeDirectoryChanges(runCtx, a.group, a.cfg.Kafka.DirectoryTopic, a.handler, a.logger)
			if err != nil && runCtx.Err() == nil {
				consumerErrCh <- fmt.Errorf("directory consumer: %w", err)
			}
		}()
	}

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Telemetry.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsErrCh := make(chan error, 1)
	go func() {
		a.logger.Info("metrics listener started", zap.String("address", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			metricsErrCh <- fmt.Errorf("metrics listener: %w", err)
		}
	}()

	a.logger.Info("account core started",
		zap.String("env", a.cfg.App.Env),
		zap.String("name", a.cfg.App.Name))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-consumerErrCh:
	case runErr = <-metricsErrCh:
	}

	cancel()
	a.scheduler.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown metrics listener: %w", err)
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}

	return runErr
}

func (a *Application) close() {
	if a.group != nil {
		_ = a.group.Close()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
