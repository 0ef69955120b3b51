package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/avelarlabs/brokerage-backend/internal/saga"
	"github.com/avelarlabs/brokerage-backend/pkg/config"
	"github.com/avelarlabs/brokerage-backend/pkg/db"
	"github.com/avelarlabs/brokerage-backend/pkg/logger"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox"
	"github.com/avelarlabs/brokerage-backend/pkg/pubsub"
	"github.com/avelarlabs/brokerage-backend/pkg/redis"
)

const shutdownTimeout = 30 * time.Second

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               *db.Client
	Redis            *redis.Client
	PubSub           *pubsub.Client
	OrdersConsumer   *saga.Subscriber
	LedgerConsumer   *saga.Subscriber
	OutboxDLQ        *outbox.DLQRepository
	InboundDLQ       *saga.InboundDLQRepository
	OutboxRepository *outbox.Repository
}

// Service runs both saga consumers plus the ops HTTP endpoint.
type Service struct {
	cfg            *config.Config
	logg           *logger.Logger
	db             *db.Client
	redis          *redis.Client
	pubsub         *pubsub.Client
	ordersConsumer *saga.Subscriber
	ledgerConsumer *saga.Subscriber
	outboxDLQ      *outbox.DLQRepository
	inboundDLQ     *saga.InboundDLQRepository
	outboxRepo     *outbox.Repository
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.OrdersConsumer == nil {
		return nil, errors.New("orders consumer is required")
	}
	if params.LedgerConsumer == nil {
		return nil, errors.New("ledger consumer is required")
	}
	if params.OutboxDLQ == nil {
		return nil, errors.New("outbox dlq repository is required")
	}
	if params.InboundDLQ == nil {
		return nil, errors.New("inbound dlq repository is required")
	}
	if params.OutboxRepository == nil {
		return nil, errors.New("outbox repository is required")
	}

	return &Service{
		cfg:            params.Config,
		logg:           params.Logger,
		db:             params.DB,
		redis:          params.Redis,
		pubsub:         params.PubSub,
		ordersConsumer: params.OrdersConsumer,
		ledgerConsumer: params.LedgerConsumer,
		outboxDLQ:      params.OutboxDLQ,
		inboundDLQ:     params.InboundDLQ,
		outboxRepo:     params.OutboxRepository,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run starts both consumers and the ops server and blocks until the context
// is canceled, then shuts everything down, collecting every error.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	if err := s.ordersConsumer.Start(ctx); err != nil {
		return err
	}
	if err := s.ledgerConsumer.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return multierr.Append(err, s.ordersConsumer.Stop(stopCtx))
	}

	opsServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", s.cfg.Ops.Port),
		Handler: s.opsRouter(),
	}
	opsErr := make(chan error, 1)
	go func() {
		s.logg.Info(ctx, fmt.Sprintf("ops server listening on %s", opsServer.Addr))
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opsErr <- err
			return
		}
		opsErr <- nil
	}()

	select {
	case <-ctx.Done():
		s.logg.Info(ctx, "worker context canceled")
	case err := <-opsErr:
		if err != nil {
			s.logg.Error(ctx, "ops server stopped unexpectedly", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var shutdownErrs error
	shutdownErrs = multierr.Append(shutdownErrs, s.ordersConsumer.Stop(stopCtx))
	shutdownErrs = multierr.Append(shutdownErrs, s.ledgerConsumer.Stop(stopCtx))
	shutdownErrs = multierr.Append(shutdownErrs, opsServer.Shutdown(stopCtx))
	if shutdownErrs != nil {
		return shutdownErrs
	}
	return ctx.Err()
}

func (s *Service) opsRouter() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{
			"orders_consumer": s.ordersConsumer.Running(),
			"ledger_consumer": s.ledgerConsumer.Running(),
		}
		if pending, err := s.outboxRepo.CountPending(); err == nil {
			status["outbox_pending"] = pending
		}
		writeJSON(w, http.StatusOK, status)
	})

	router.Handle("/metrics", promhttp.Handler())

	router.Get("/dlq/outbox", func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.outboxDLQ.List(r.Context(), queryLimit(r))
		if err != nil {
			s.logg.Error(r.Context(), "failed to list outbox dlq", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list outbox dlq"})
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	router.Get("/dlq/inbound", func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.inboundDLQ.List(r.Context(), r.URL.Query().Get("consumer"), queryLimit(r))
		if err != nil {
			s.logg.Error(r.Context(), "failed to list inbound dlq", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list inbound dlq"})
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	return router
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
