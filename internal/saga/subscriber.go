package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/avelarlabs/brokerage-backend/pkg/db"
	"github.com/avelarlabs/brokerage-backend/pkg/db/models"
	"github.com/avelarlabs/brokerage-backend/pkg/enums"
	apperrors "github.com/avelarlabs/brokerage-backend/pkg/errors"
	"github.com/avelarlabs/brokerage-backend/pkg/logger"
	"github.com/avelarlabs/brokerage-backend/pkg/metrics"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox/idempotency"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox/registry"
)

// Subscriber lifecycle states.
const (
	stateStopped int32 = iota
	stateStarting
	stateRunning
	stateStopping
)

// receiver is the slice of the Pub/Sub subscriber the Subscriber drives.
type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Subscriber drives one consumer: it receives deliveries, dedups them,
// runs the registered saga step in a transaction and emits follow-up events
// through the outbox.
type Subscriber struct {
	name          string
	subscription  receiver
	db            *dbpkg.Client
	registry      *Registry
	inbound       *InboundRepository
	dlq           *InboundDLQRepository
	outboxSvc     *outbox.Service
	idempotency   *idempotency.Manager
	metrics       *metrics.EventingMetrics
	maxDeliveries int
	handlerTO     time.Duration
	logg          *logger.Logger

	state  atomic.Int32
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SubscriberParams collects the dependencies for NewSubscriber.
type SubscriberParams struct {
	Name                string
	Subscription        receiver
	DB                  *dbpkg.Client
	Registry            *Registry
	Inbound             *InboundRepository
	DLQ                 *InboundDLQRepository
	Outbox              *outbox.Service
	Idempotency         *idempotency.Manager
	Metrics             *metrics.EventingMetrics
	MaxDeliveryAttempts int
	HandlerTimeout      time.Duration
	Logger              *logger.Logger
}

// NewSubscriber validates the dependencies and builds a stopped Subscriber.
func NewSubscriber(params SubscriberParams) (*Subscriber, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("consumer name required")
	}
	if params.Subscription == nil {
		return nil, fmt.Errorf("subscription required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("saga registry required")
	}
	if params.Inbound == nil {
		return nil, fmt.Errorf("inbound repository required")
	}
	if params.DLQ == nil {
		return nil, fmt.Errorf("inbound dlq repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.MaxDeliveryAttempts <= 0 {
		params.MaxDeliveryAttempts = 5
	}
	if params.HandlerTimeout <= 0 {
		params.HandlerTimeout = 30 * time.Second
	}
	return &Subscriber{
		name:          params.Name,
		subscription:  params.Subscription,
		db:            params.DB,
		registry:      params.Registry,
		inbound:       params.Inbound,
		dlq:           params.DLQ,
		outboxSvc:     params.Outbox,
		idempotency:   params.Idempotency,
		metrics:       params.Metrics,
		maxDeliveries: params.MaxDeliveryAttempts,
		handlerTO:     params.HandlerTimeout,
		logg:          params.Logger,
	}, nil
}

// Start launches the receive loop. Calling Start on a running subscriber is
// a no-op; calling it while stopping returns an error.
func (s *Subscriber) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateStopped, stateStarting) {
		switch s.state.Load() {
		case stateStarting, stateRunning:
			return nil
		default:
			return fmt.Errorf("consumer %s is stopping", s.name)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// The goroutine stores stateStopped when Receive returns; running must be
	// set before the spawn or a fast exit would be overwritten.
	s.state.Store(stateRunning)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.subscription.Receive(runCtx, func(msgCtx context.Context, msg *pubsub.Message) {
			result := s.process(msgCtx, msg)
			if result.nack {
				msg.Nack()
				return
			}
			msg.Ack()
		})
		if err != nil && runCtx.Err() == nil {
			s.logg.Error(s.logg.WithConsumer(runCtx, s.name), "receive loop terminated", err)
		}
		s.state.Store(stateStopped)
	}()

	s.logg.Info(s.logg.WithConsumer(ctx, s.name), "consumer started")
	return nil
}

// Stop cancels the receive loop and waits for in-flight handlers to finish
// or the context to expire. In-flight deliveries that miss the deadline are
// redelivered by the bus, which the dedup guard absorbs.
func (s *Subscriber) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateRunning, stateStopping) {
		if s.state.Load() == stateStopped {
			return nil
		}
		return fmt.Errorf("consumer %s is not running", s.name)
	}
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.state.Store(stateStopped)
		s.logg.Info(s.logg.WithConsumer(ctx, s.name), "consumer stopped")
		return nil
	case <-ctx.Done():
		s.state.Store(stateStopped)
		return fmt.Errorf("consumer %s shutdown timed out: %w", s.name, ctx.Err())
	}
}

// Running reports whether the receive loop is active.
func (s *Subscriber) Running() bool {
	return s.state.Load() == stateRunning
}

type processResult struct {
	ack  bool
	nack bool
}

func (s *Subscriber) process(ctx context.Context, msg *pubsub.Message) processResult {
	started := time.Now()
	rawType := msg.Attributes["event_type"]
	fields := map[string]any{
		"message_id": msg.ID,
		"event_type": rawType,
	}
	logCtx := s.logg.WithConsumer(s.logg.WithFields(ctx, fields), s.name)

	eventType, err := enums.ParseOutboxEventType(rawType)
	if err != nil || !s.registry.Handles(eventType) {
		s.deadLetter(ctx, logCtx, msg, uuid.Nil, enums.InboundDLQReasonUnknownEvent, fmt.Errorf("unhandled event type %q", rawType))
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		s.deadLetter(ctx, logCtx, msg, uuid.Nil, enums.InboundDLQReasonBadPayload, fmt.Errorf("decode envelope: %w", err))
		return processResult{ack: true}
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		s.deadLetter(ctx, logCtx, msg, uuid.Nil, enums.InboundDLQReasonBadPayload, fmt.Errorf("invalid event id: %w", err))
		return processResult{ack: true}
	}
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"event_id":       envelope.EventID,
		"correlation_id": envelope.CorrelationID,
	})

	already, err := s.idempotency.CheckAndMarkProcessed(ctx, s.name, eventID)
	if err != nil {
		// Redis being down must not stall the saga; the inbound_events
		// unique index still blocks duplicates.
		s.logg.Warn(logCtx, "idempotency fast-path unavailable")
	} else if already {
		// The marker is written before the handler transaction commits, so a
		// crash in between leaves a marker with no inbound row. Only the
		// durable record may decide the skip.
		consumed, existsErr := s.inbound.Exists(ctx, s.name, eventID)
		if existsErr != nil {
			s.logg.Warn(logCtx, "inbound dedup lookup failed, replaying through transaction")
		} else if consumed {
			s.logg.Info(logCtx, "event already processed")
			return processResult{ack: true}
		}
	}

	handler, payload, err := s.registry.Resolve(eventType, envelope)
	if err != nil {
		_ = s.idempotency.Delete(ctx, s.name, eventID)
		s.deadLetter(ctx, logCtx, msg, eventID, enums.InboundDLQReasonBadPayload, err)
		return processResult{ack: true}
	}

	handlerCtx, cancel := context.WithTimeout(ctx, s.handlerTO)
	defer cancel()

	duplicate := false
	err = s.db.WithTx(handlerCtx, func(tx *gorm.DB) error {
		record := models.InboundEvent{
			Consumer:  s.name,
			EventID:   eventID,
			EventType: eventType,
		}
		if err := s.inbound.InsertTx(tx, record); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_inbound_events_consumer_event") {
				duplicate = true
				return nil
			}
			return err
		}
		followUps, err := handler(handlerCtx, tx, envelope, payload)
		if err != nil {
			return err
		}
		for _, event := range followUps {
			if err := s.outboxSvc.Emit(handlerCtx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.metrics.IncHandleFailure(s.name, string(eventType))
		_ = s.idempotency.Delete(ctx, s.name, eventID)

		var nonRetry registry.NonRetryableError
		if errors.As(err, &nonRetry) {
			s.deadLetter(ctx, logCtx, msg, eventID, enums.InboundDLQReasonBadPayload, err)
			return processResult{ack: true}
		}
		if attempts := deliveryAttempt(msg); attempts >= s.maxDeliveries {
			s.deadLetter(ctx, logCtx, msg, eventID, enums.InboundDLQReasonMaxDeliveries, err)
			return processResult{ack: true}
		}
		s.logg.Error(logCtx, "saga step failed, will retry", err)
		return processResult{nack: true}
	}

	if duplicate {
		s.logg.Info(logCtx, "duplicate delivery absorbed")
		return processResult{ack: true}
	}

	s.metrics.IncHandled(s.name, string(eventType))
	s.metrics.ObserveHandleDuration(s.name, string(eventType), time.Since(started))
	s.logg.Info(logCtx, "saga step processed")
	return processResult{ack: true}
}

func (s *Subscriber) deadLetter(ctx context.Context, logCtx context.Context, msg *pubsub.Message, eventID uuid.UUID, reason enums.InboundDLQErrorReason, cause error) {
	if cause != nil {
		// Surfaces Postgres code/constraint/table detail next to the entry.
		logCtx = s.logg.WithField(logCtx, "error_detail", apperrors.Dump(cause))
	}
	s.logg.Error(logCtx, "dead-lettering delivery", cause)

	var message *string
	if cause != nil {
		text := cause.Error()
		message = &text
	}
	entry := models.InboundDLQ{
		Consumer:         s.name,
		EventID:          eventID,
		EventType:        msg.Attributes["event_type"],
		Payload:          json.RawMessage(msg.Data),
		ErrorReason:      reason,
		ErrorMessage:     message,
		DeliveryAttempts: deliveryAttempt(msg),
	}
	if err := s.dlq.Insert(ctx, entry); err != nil {
		s.logg.Error(logCtx, "failed to persist inbound dlq entry", err)
	}
	s.metrics.IncDeadLettered(s.name)
}

func deliveryAttempt(msg *pubsub.Message) int {
	if msg.DeliveryAttempt == nil {
		return 1
	}
	return *msg.DeliveryAttempt
}

