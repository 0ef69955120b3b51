package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avelarlabs/brokerage-backend/internal/saga"
	"github.com/avelarlabs/brokerage-backend/pkg/db/models"
	"github.com/avelarlabs/brokerage-backend/pkg/enums"
	"github.com/avelarlabs/brokerage-backend/pkg/logger"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox/payloads"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox/registry"
)

// statusNotifier pushes order status changes to connected clients. Pushes are
// best effort; a failed push never fails the saga step.
type statusNotifier interface {
	OrderStatusChanged(ctx context.Context, order *models.Order)
}

// SagaHandlers reacts to ledger outcome events by advancing order status.
type SagaHandlers struct {
	repo     *Repository
	notifier statusNotifier
	logg     *logger.Logger
}

func NewSagaHandlers(repo *Repository, notifier statusNotifier, logg *logger.Logger) (*SagaHandlers, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &SagaHandlers{repo: repo, notifier: notifier, logg: logg}, nil
}

// Register binds the order-side saga steps.
func (h *SagaHandlers) Register(reg *saga.Registry) error {
	if err := reg.Register(enums.EventFundsReserved, 1, saga.DecodeAs[payloads.FundsReservedEvent](), h.handleFundsReserved); err != nil {
		return err
	}
	if err := reg.Register(enums.EventFundsReservationFailed, 1, saga.DecodeAs[payloads.FundsReservationFailedEvent](), h.handleReservationFailed); err != nil {
		return err
	}
	if err := reg.Register(enums.EventFundsReleased, 1, saga.DecodeAs[payloads.FundsReleasedEvent](), h.handleFundsReleased); err != nil {
		return err
	}
	return reg.Register(enums.EventOrderSettled, 1, saga.DecodeAs[payloads.OrderSettledEvent](), h.handleOrderSettled)
}

// handleFundsReserved moves the order to working. When the order was canceled
// while the reservation was in flight, the step re-emits order_canceled so
// the orphaned reservation gets released.
func (h *SagaHandlers) handleFundsReserved(ctx context.Context, tx *gorm.DB, envelope outbox.PayloadEnvelope, payload interface{}) ([]outbox.DomainEvent, error) {
	event, ok := payload.(*payloads.FundsReservedEvent)
	if !ok {
		return nil, registry.NewNonRetryableError(fmt.Errorf("unexpected payload type %T", payload))
	}

	err := h.repo.UpdateStatusTx(tx, event.OrderID,
		[]enums.OrderStatus{enums.OrderStatusPendingNew},
		enums.OrderStatusWorking, nil)
	if err == nil {
		h.notify(ctx, tx, event.OrderID)
		return nil, nil
	}
	if !errors.Is(err, ErrStaleTransition) {
		return nil, err
	}

	order, loadErr := h.repo.GetByIDTx(tx, event.OrderID)
	if loadErr != nil {
		if errors.Is(loadErr, gorm.ErrRecordNotFound) {
			return nil, registry.NewNonRetryableError(fmt.Errorf("order %s not found", event.OrderID))
		}
		return nil, loadErr
	}
	if order.Status == enums.OrderStatusCanceled {
		canceledAt := time.Now().UTC()
		if order.CanceledAt != nil {
			canceledAt = *order.CanceledAt
		}
		h.logg.Info(h.logg.WithOrderID(ctx, order.ID.String()), "reservation landed after cancel, releasing")
		return []outbox.DomainEvent{{
			EventType:     enums.EventOrderCanceled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			CorrelationID: order.ID,
			Data: payloads.OrderCanceledEvent{
				OrderID:     order.ID,
				AccountID:   order.AccountID,
				AmountCents: order.AmountCents,
				CanceledAt:  canceledAt,
				Reason:      "canceled before reservation confirmed",
			},
		}}, nil
	}

	h.logg.Warn(h.logg.WithOrderID(ctx, order.ID.String()),
		fmt.Sprintf("funds_reserved ignored for order in status %s", order.Status))
	return nil, nil
}

// handleReservationFailed rejects the order with the ledger's reason.
func (h *SagaHandlers) handleReservationFailed(ctx context.Context, tx *gorm.DB, envelope outbox.PayloadEnvelope, payload interface{}) ([]outbox.DomainEvent, error) {
	event, ok := payload.(*payloads.FundsReservationFailedEvent)
	if !ok {
		return nil, registry.NewNonRetryableError(fmt.Errorf("unexpected payload type %T", payload))
	}

	err := h.repo.UpdateStatusTx(tx, event.OrderID,
		[]enums.OrderStatus{enums.OrderStatusPendingNew},
		enums.OrderStatusRejected, map[string]any{"reason": event.Reason})
	if err != nil {
		if errors.Is(err, ErrStaleTransition) {
			h.logg.Warn(h.logg.WithOrderID(ctx, event.OrderID.String()), "reservation failure for order no longer pending")
			return nil, nil
		}
		return nil, err
	}
	h.notify(ctx, tx, event.OrderID)
	return nil, nil
}

// handleFundsReleased closes the loop on a cancel. The order status already
// changed when the cancel was accepted, so this is bookkeeping only.
func (h *SagaHandlers) handleFundsReleased(ctx context.Context, tx *gorm.DB, envelope outbox.PayloadEnvelope, payload interface{}) ([]outbox.DomainEvent, error) {
	event, ok := payload.(*payloads.FundsReleasedEvent)
	if !ok {
		return nil, registry.NewNonRetryableError(fmt.Errorf("unexpected payload type %T", payload))
	}
	logCtx := h.logg.WithOrderID(h.logg.WithAccountID(ctx, event.AccountID.String()), event.OrderID.String())
	h.logg.Info(logCtx, "funds released for order")
	h.notify(ctx, tx, event.OrderID)
	return nil, nil
}

// handleOrderSettled finishes the saga for a filled order.
func (h *SagaHandlers) handleOrderSettled(ctx context.Context, tx *gorm.DB, envelope outbox.PayloadEnvelope, payload interface{}) ([]outbox.DomainEvent, error) {
	event, ok := payload.(*payloads.OrderSettledEvent)
	if !ok {
		return nil, registry.NewNonRetryableError(fmt.Errorf("unexpected payload type %T", payload))
	}

	err := h.repo.UpdateStatusTx(tx, event.OrderID,
		[]enums.OrderStatus{enums.OrderStatusFilled},
		enums.OrderStatusSettled, map[string]any{"settled_at": event.SettledAt})
	if err != nil {
		if errors.Is(err, ErrStaleTransition) {
			h.logg.Warn(h.logg.WithOrderID(ctx, event.OrderID.String()), "settlement for order not in filled status")
			return nil, nil
		}
		return nil, err
	}
	h.notify(ctx, tx, event.OrderID)
	return nil, nil
}

func (h *SagaHandlers) notify(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) {
	if h.notifier == nil {
		return
	}
	order, err := h.repo.GetByIDTx(tx, orderID)
	if err != nil {
		h.logg.Warn(h.logg.WithOrderID(ctx, orderID.String()), "skipping status push, order not loadable")
		return
	}
	h.notifier.OrderStatusChanged(ctx, order)
}
