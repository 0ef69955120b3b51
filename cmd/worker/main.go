package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/avelarlabs/brokerage-backend/internal/orders"
	"github.com/avelarlabs/brokerage-backend/internal/portfolio"
	"github.com/avelarlabs/brokerage-backend/internal/realtime"
	"github.com/avelarlabs/brokerage-backend/internal/saga"
	"github.com/avelarlabs/brokerage-backend/pkg/config"
	"github.com/avelarlabs/brokerage-backend/pkg/db"
	"github.com/avelarlabs/brokerage-backend/pkg/logger"
	"github.com/avelarlabs/brokerage-backend/pkg/metrics"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox/idempotency"
	"github.com/avelarlabs/brokerage-backend/pkg/pubsub"
	"github.com/avelarlabs/brokerage-backend/pkg/redis"
)

const (
	ordersConsumerName = "orders-worker"
	ledgerConsumerName = "portfolio-worker"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx := context.Background()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "error closing pubsub client", err)
		}
	}()

	eventingMetrics := metrics.NewEventingMetrics(prometheus.DefaultRegisterer)

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outboxRepo, logg)
	outboxDLQ := outbox.NewDLQRepository(dbClient.DB())
	inboundRepo := saga.NewInboundRepository(dbClient.DB())
	inboundDLQ := saga.NewInboundDLQRepository(dbClient.DB())

	idempotencyMgr, err := idempotency.NewManager(redisClient, cfg.Eventing.IdempotencyTTL)
	if err != nil {
		logg.Error(ctx, "failed to build idempotency manager", err)
		os.Exit(1)
	}

	portfolioRepo := portfolio.NewRepository(dbClient.DB())
	portfolioSvc, err := portfolio.NewService(portfolioRepo, logg)
	if err != nil {
		logg.Error(ctx, "failed to build portfolio service", err)
		os.Exit(1)
	}
	portfolioHandlers, err := portfolio.NewSagaHandlers(portfolioSvc, logg)
	if err != nil {
		logg.Error(ctx, "failed to build portfolio handlers", err)
		os.Exit(1)
	}

	realtimePub, err := realtime.NewPublisher(pubsubClient.RealtimePublisher(), logg)
	if err != nil {
		logg.Error(ctx, "failed to build realtime publisher", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	orderHandlers, err := orders.NewSagaHandlers(ordersRepo, realtimePub, logg)
	if err != nil {
		logg.Error(ctx, "failed to build order handlers", err)
		os.Exit(1)
	}

	// The ledger consumer reads order lifecycle events; the orders consumer
	// reads ledger outcomes. Together they form the reservation saga.
	ledgerRegistry := saga.NewRegistry()
	if err := portfolioHandlers.Register(ledgerRegistry); err != nil {
		logg.Error(ctx, "failed to register portfolio handlers", err)
		os.Exit(1)
	}
	ordersRegistry := saga.NewRegistry()
	if err := orderHandlers.Register(ordersRegistry); err != nil {
		logg.Error(ctx, "failed to register order handlers", err)
		os.Exit(1)
	}

	ledgerConsumer, err := saga.NewSubscriber(saga.SubscriberParams{
		Name:                ledgerConsumerName,
		Subscription:        pubsubClient.OrdersSubscription(),
		DB:                  dbClient,
		Registry:            ledgerRegistry,
		Inbound:             inboundRepo,
		DLQ:                 inboundDLQ,
		Outbox:              outboxSvc,
		Idempotency:         idempotencyMgr,
		Metrics:             eventingMetrics,
		MaxDeliveryAttempts: cfg.Eventing.MaxDeliveryAttempts,
		HandlerTimeout:      cfg.Eventing.HandlerTimeout,
		Logger:              logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to build ledger consumer", err)
		os.Exit(1)
	}

	ordersConsumer, err := saga.NewSubscriber(saga.SubscriberParams{
		Name:                ordersConsumerName,
		Subscription:        pubsubClient.PortfolioSubscription(),
		DB:                  dbClient,
		Registry:            ordersRegistry,
		Inbound:             inboundRepo,
		DLQ:                 inboundDLQ,
		Outbox:              outboxSvc,
		Idempotency:         idempotencyMgr,
		Metrics:             eventingMetrics,
		MaxDeliveryAttempts: cfg.Eventing.MaxDeliveryAttempts,
		HandlerTimeout:      cfg.Eventing.HandlerTimeout,
		Logger:              logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to build orders consumer", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logg,
		DB:               dbClient,
		Redis:            redisClient,
		PubSub:           pubsubClient,
		OrdersConsumer:   ordersConsumer,
		LedgerConsumer:   ledgerConsumer,
		OutboxDLQ:        outboxDLQ,
		InboundDLQ:       inboundDLQ,
		OutboxRepository: outboxRepo,
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "worker",
	})
	logg.Info(runCtx, "starting worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "worker shutting down gracefully")
}
