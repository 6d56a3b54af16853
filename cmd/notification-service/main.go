// Package main is the entrypoint of the notification service.
//
// One process runs every long-lived component:
//
//   - the event consumer, which turns domain events from the broker into
//     notifications and channel jobs
//   - one worker pool per channel queue (email, SMS)
//   - the retention scheduler
//   - the ops HTTP server (health, metrics, read API, SES feedback)
//
// Shutdown is ordered: the consumer stops taking events and settles the ones
// in flight, then the worker pools finish their current jobs, then the
// database, Redis and broker connections close.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"medinotify/internal/api"
	"medinotify/internal/config"
	"medinotify/internal/db"
	"medinotify/internal/events"
	"medinotify/internal/external"
	"medinotify/internal/logging"
	"medinotify/internal/notifications/core"
	"medinotify/internal/notifications/email"
	"medinotify/internal/notifications/sms"
	"medinotify/internal/queue"
	"medinotify/internal/scheduler"
	"medinotify/internal/templates"
	"medinotify/internal/types"
)

const (
	startupTimeout       = 30 * time.Second
	opsShutdownTimeout   = 10 * time.Second
	consumerDrainTimeout = 30 * time.Second
	retentionTaskName    = "retention-cleanup"
	rateLimitWindow      = time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New(cfg.Service, cfg.LogLevel)
	logger.Info("notification service starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(sigCtx, startupTimeout)
	defer cancelStart()

	// Connections.
	pool, err := db.NewPool(startCtx, db.PoolConfig{
		URL:               cfg.Database.URL.Unmask(),
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if cfg.Database.ApplySchema {
		if err := db.ApplySchema(startCtx, pool); err != nil {
			return err
		}
		logger.Info("database schema applied")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password.Unmask(),
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(startCtx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}

	awsCfg, err := loadAWSConfig(startCtx, cfg.AWS)
	if err != nil {
		return err
	}

	// Observability.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := newMetrics(cfg.Observability, awsCfg, registry, logger)

	var alerts core.AlertPublisher
	if cfg.AWS.AlertQueueURL != "" {
		alerts = core.NewSQSAlertPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.AlertQueueURL, logger.With("component", "alerts"))
	}

	// Persistence and templates.
	notificationRepo := db.NewNotificationRepository(pool)
	deliveryRepo := db.NewDeliveryLogRepository(pool)
	templateStore := templates.NewStore(
		db.NewTemplateRepository(pool),
		templates.PostgresTx(pool),
		cfg.Delivery.DefaultLanguage,
		logger.With("component", "templates"),
	)

	retryPolicy := core.RetryPolicy{
		MaxRetries:    cfg.Delivery.MaxRetries,
		BaseDelay:     cfg.Queue.Backoff,
		MaxDelay:      cfg.Queue.BackoffMax,
		BackoffFactor: 2.0,
	}
	deliveries := core.NewDeliveryManager(deliveryRepo, retryPolicy, logger.With("component", "delivery-manager"))

	// Providers and channels.
	providers, err := external.NewRegistry(cfg, awsCfg, logger)
	if err != nil {
		return fmt.Errorf("initializing providers: %w", err)
	}
	var resolver core.AddressResolver
	if providers.Identity != nil {
		resolver = providers.Identity
	}

	emailChannel := email.NewChannel(email.ChannelConfig{
		Sender:      providers.Email,
		Templates:   templateStore,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
		Logger:      logger,
	})
	smsChannel := sms.NewChannel(sms.ChannelConfig{
		Sender:    providers.SMS,
		Templates: templateStore,
		SenderID:  cfg.SMS.SenderID,
		MaxLength: cfg.Delivery.SMSMaxLength,
		Logger:    logger,
	})

	// Queues and worker pools.
	queueOpts := queue.Options{
		Prefix:        cfg.Redis.Prefix,
		Attempts:      cfg.Queue.Attempts,
		Backoff:       retryPolicy.Backoff(),
		KeepCompleted: cfg.Queue.KeepCompleted,
		CompletedTTL:  cfg.Queue.CompletedTTL,
		KeepFailed:    cfg.Queue.KeepFailed,
		FailedTTL:     cfg.Queue.FailedTTL,
		LockDuration:  cfg.Queue.LockDuration,
	}
	emailQueue := queue.New(rdb, cfg.Queue.EmailQueue, queueOpts, logger)
	smsQueue := queue.New(rdb, cfg.Queue.SMSQueue, queueOpts, logger)

	newPool := func(q *queue.Queue, ch core.Channel, concurrency, perMinute int) *queue.Pool {
		processor := core.NewProcessor(core.ProcessorConfig{
			Channel:       ch,
			Deliveries:    deliveries,
			Notifications: notificationRepo,
			Resolver:      resolver,
			Metrics:       metrics,
			Alerts:        alerts,
			Logger:        logger,
		})
		limiter := queue.NewRateLimiter(rdb, cfg.Redis.Prefix+":ratelimit:"+q.Name(), perMinute, rateLimitWindow)
		p := queue.NewPool(q, processor.Handle, limiter, queue.PoolConfig{
			Concurrency:        concurrency,
			PromoteInterval:    cfg.Queue.PromoteInterval,
			StalledCheckPeriod: cfg.Queue.StalledCheckPeriod,
		}, logger)
		p.OnFailure(processor.HandleFailure)
		return p
	}
	emailPool := newPool(emailQueue, emailChannel, cfg.Queue.EmailConcurrency, cfg.Queue.EmailRatePerMinute)
	smsPool := newPool(smsQueue, smsChannel, cfg.Queue.SMSConcurrency, cfg.Queue.SMSRatePerMinute)

	// Orchestration and event intake.
	orchestrator := core.NewOrchestrator(core.OrchestratorConfig{
		Store:                   db.NewNotificationStore(pool),
		Templates:               templateStore,
		Email:                   core.ChannelRoute{Queue: emailQueue, Provider: providers.Email.Provider()},
		SMS:                     core.ChannelRoute{Queue: smsQueue, Provider: providers.SMS.Provider()},
		Metrics:                 metrics,
		Logger:                  logger.With("component", "orchestrator"),
		ResolveMissingAddresses: providers.Identity != nil,
	})

	router := events.NewRouter(orchestrator, logger)
	events.RegisterDefaults(router)
	consumer := events.NewConsumer(events.ConsumerConfig{
		URL:            cfg.Broker.URL.Unmask(),
		Exchange:       cfg.Broker.Exchange,
		Queue:          cfg.Broker.Queue,
		Bindings:       cfg.Broker.NormalizedBindings(),
		Prefetch:       cfg.Broker.Prefetch,
		ReconnectDelay: cfg.Broker.ReconnectDelay,
		ConsumerTag:    cfg.Broker.ConsumerTag,
	}, events.DialAMQP, router, logger)

	// Scheduled maintenance.
	sched := scheduler.New(logger)
	retention := scheduler.NewRetentionService(notificationRepo, deliveryRepo, cfg.Retention.Notifications, logger)
	if err := sched.Register(retentionTaskName, cfg.Retention.Schedule, retention.Task()); err != nil {
		return err
	}

	// Ops surface.
	opsServer := api.NewServer(api.Deps{
		Notifications:  notificationRepo,
		Deliveries:     deliveryRepo,
		Receipts:       email.NewReceiptProcessor(deliveryRepo, deliveries, logger.With("component", "receipts")),
		Probes:         healthProbes(pool, rdb, consumer),
		Queues:         []api.QueueInspector{emailQueue, smsQueue},
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		HTTPMetrics:    api.NewPrometheusHTTPMetrics(registry),
		Logger:         logger,
	})

	cancelStart()
	logger.Info("notification service started",
		"event_types", len(router.EventTypes()),
		"email_provider", string(providers.Email.Provider()),
		"sms_provider", string(providers.SMS.Provider()),
	)

	// The consumer follows the signal context directly. Everything else runs
	// until the consumer has drained.
	consumerDone := make(chan error, 1)
	go func() { consumerDone <- consumer.Run(sigCtx) }()

	g, gctx := errgroup.WithContext(context.Background())
	workCtx, cancelWork := context.WithCancel(gctx)
	defer cancelWork()

	g.Go(func() error { return emailPool.Run(workCtx) })
	g.Go(func() error { return smsPool.Run(workCtx) })
	g.Go(func() error { return sched.Run(workCtx) })
	g.Go(func() error {
		return opsServer.ListenAndServe(workCtx, ":"+cfg.Observability.OpsPort, opsShutdownTimeout)
	})

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	case <-gctx.Done():
		logger.Error("a component stopped unexpectedly, shutting down")
	}

	stop()
	select {
	case err := <-consumerDone:
		if err != nil {
			logger.Error("event consumer stopped with error", "error", err.Error())
		}
	case <-time.After(consumerDrainTimeout):
		logger.Error("event consumer did not drain in time")
	}

	cancelWork()
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("notification service stopped")
	return nil
}

func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

func newMetrics(cfg config.ObservabilityConfig, awsCfg aws.Config, reg prometheus.Registerer, logger types.Logger) core.NotificationMetrics {
	switch cfg.MetricsBackend {
	case "cloudwatch":
		return core.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.MetricNamespace, logger.With("component", "metrics"))
	case "prometheus":
		return core.NewPrometheusMetrics(reg)
	default:
		return core.NopMetrics{}
	}
}

func healthProbes(pool *pgxpool.Pool, rdb *redis.Client, consumer *events.Consumer) []api.HealthProbe {
	return []api.HealthProbe{
		api.ProbeFunc{ProbeName: "database", Fn: pool.Ping},
		api.ProbeFunc{ProbeName: "redis", Fn: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		api.ProbeFunc{ProbeName: "broker", Fn: func(context.Context) error {
			if !consumer.Connected() {
				return errors.New("event consumer is not connected")
			}
			return nil
		}},
	}
}
