package portfolio

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/avelarlabs/brokerage-backend/internal/saga"
	"github.com/avelarlabs/brokerage-backend/pkg/enums"
	apperrors "github.com/avelarlabs/brokerage-backend/pkg/errors"
	"github.com/avelarlabs/brokerage-backend/pkg/logger"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox/payloads"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox/registry"
)

// SagaHandlers reacts to order lifecycle events by moving funds and emitting
// the matching ledger outcome events.
type SagaHandlers struct {
	svc  *Service
	logg *logger.Logger
}

func NewSagaHandlers(svc *Service, logg *logger.Logger) (*SagaHandlers, error) {
	if svc == nil {
		return nil, fmt.Errorf("portfolio service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &SagaHandlers{svc: svc, logg: logg}, nil
}

// Register binds the portfolio-side saga steps.
func (h *SagaHandlers) Register(reg *saga.Registry) error {
	if err := reg.Register(enums.EventOrderPlaced, 1, saga.DecodeAs[payloads.OrderPlacedEvent](), h.handleOrderPlaced); err != nil {
		return err
	}
	if err := reg.Register(enums.EventOrderCanceled, 1, saga.DecodeAs[payloads.OrderCanceledEvent](), h.handleOrderCanceled); err != nil {
		return err
	}
	return reg.Register(enums.EventOrderFilled, 1, saga.DecodeAs[payloads.OrderFilledEvent](), h.handleOrderFilled)
}

// handleOrderPlaced reserves the order amount. A failed reservation is not an
// error: it produces the compensating funds_reservation_failed event so the
// orders side can reject the order.
func (h *SagaHandlers) handleOrderPlaced(ctx context.Context, tx *gorm.DB, envelope outbox.PayloadEnvelope, payload interface{}) ([]outbox.DomainEvent, error) {
	event, ok := payload.(*payloads.OrderPlacedEvent)
	if !ok {
		return nil, registry.NewNonRetryableError(fmt.Errorf("unexpected payload type %T", payload))
	}
	if event.AmountCents <= 0 {
		return nil, registry.NewNonRetryableError(fmt.Errorf("non-positive order amount %d", event.AmountCents))
	}

	portfolio, err := h.svc.Reserve(ctx, tx, MovementInput{
		AccountID:   event.AccountID,
		OrderID:     &event.OrderID,
		AmountCents: event.AmountCents,
	})
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeInsufficientFunds) {
			current, lookupErr := h.svc.GetByAccountID(ctx, event.AccountID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return []outbox.DomainEvent{{
				EventType:     enums.EventFundsReservationFailed,
				AggregateType: enums.AggregatePortfolio,
				AggregateID:   current.ID,
				CorrelationID: event.OrderID,
				Data: payloads.FundsReservationFailedEvent{
					OrderID:        event.OrderID,
					AccountID:      event.AccountID,
					AmountCents:    event.AmountCents,
					AvailableCents: current.AvailableCents,
					Reason:         "insufficient available funds",
					FailedAt:       time.Now().UTC(),
				},
			}}, nil
		}
		if apperrors.HasCode(err, apperrors.CodeNotFound) || apperrors.HasCode(err, apperrors.CodeValidation) {
			return nil, registry.NewNonRetryableError(err)
		}
		return nil, err
	}

	return []outbox.DomainEvent{{
		EventType:     enums.EventFundsReserved,
		AggregateType: enums.AggregatePortfolio,
		AggregateID:   portfolio.ID,
		CorrelationID: event.OrderID,
		Data: payloads.FundsReservedEvent{
			OrderID:     event.OrderID,
			AccountID:   event.AccountID,
			PortfolioID: portfolio.ID,
			AmountCents: event.AmountCents,
			ReservedAt:  time.Now().UTC(),
		},
	}}, nil
}

// handleOrderCanceled releases the reservation. Releasing more than is
// reserved means the reservation never happened or was already settled, so
// the step logs and completes without a follow-up.
func (h *SagaHandlers) handleOrderCanceled(ctx context.Context, tx *gorm.DB, envelope outbox.PayloadEnvelope, payload interface{}) ([]outbox.DomainEvent, error) {
	event, ok := payload.(*payloads.OrderCanceledEvent)
	if !ok {
		return nil, registry.NewNonRetryableError(fmt.Errorf("unexpected payload type %T", payload))
	}

	portfolio, err := h.svc.Release(ctx, tx, MovementInput{
		AccountID:   event.AccountID,
		OrderID:     &event.OrderID,
		AmountCents: event.AmountCents,
	})
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeOverRelease) {
			logCtx := h.logg.WithOrderID(h.logg.WithAccountID(ctx, event.AccountID.String()), event.OrderID.String())
			h.logg.Warn(logCtx, "release skipped, nothing reserved for order")
			return nil, nil
		}
		if apperrors.HasCode(err, apperrors.CodeNotFound) || apperrors.HasCode(err, apperrors.CodeValidation) {
			return nil, registry.NewNonRetryableError(err)
		}
		return nil, err
	}

	return []outbox.DomainEvent{{
		EventType:     enums.EventFundsReleased,
		AggregateType: enums.AggregatePortfolio,
		AggregateID:   portfolio.ID,
		CorrelationID: event.OrderID,
		Data: payloads.FundsReleasedEvent{
			OrderID:     event.OrderID,
			AccountID:   event.AccountID,
			AmountCents: event.AmountCents,
			ReleasedAt:  time.Now().UTC(),
		},
	}}, nil
}

// handleOrderFilled debits the reserved funds and closes the saga.
func (h *SagaHandlers) handleOrderFilled(ctx context.Context, tx *gorm.DB, envelope outbox.PayloadEnvelope, payload interface{}) ([]outbox.DomainEvent, error) {
	event, ok := payload.(*payloads.OrderFilledEvent)
	if !ok {
		return nil, registry.NewNonRetryableError(fmt.Errorf("unexpected payload type %T", payload))
	}

	portfolio, err := h.svc.Settle(ctx, tx, MovementInput{
		AccountID:   event.AccountID,
		OrderID:     &event.OrderID,
		AmountCents: event.AmountCents,
	})
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeOverRelease) ||
			apperrors.HasCode(err, apperrors.CodeNotFound) ||
			apperrors.HasCode(err, apperrors.CodeValidation) {
			return nil, registry.NewNonRetryableError(err)
		}
		return nil, err
	}

	return []outbox.DomainEvent{{
		EventType:     enums.EventOrderSettled,
		AggregateType: enums.AggregatePortfolio,
		AggregateID:   portfolio.ID,
		CorrelationID: event.OrderID,
		Data: payloads.OrderSettledEvent{
			OrderID:     event.OrderID,
			AccountID:   event.AccountID,
			AmountCents: event.AmountCents,
			SettledAt:   time.Now().UTC(),
		},
	}}, nil
}
