package orders

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/avelarlabs/brokerage-backend/pkg/db"
	"github.com/avelarlabs/brokerage-backend/pkg/db/models"
	"github.com/avelarlabs/brokerage-backend/pkg/enums"
	apperrors "github.com/avelarlabs/brokerage-backend/pkg/errors"
	"github.com/avelarlabs/brokerage-backend/pkg/logger"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox/payloads"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// portfolioLookup is the slice of the portfolio service the orders side needs.
type portfolioLookup interface {
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Portfolio, error)
}

// PlaceOrderInput captures a client's order request.
type PlaceOrderInput struct {
	AccountID  uuid.UUID        `json:"account_id" validate:"required"`
	Symbol     string           `json:"symbol" validate:"required,min=1,max=16"`
	Side       enums.OrderSide  `json:"side" validate:"required"`
	Quantity   decimal.Decimal  `json:"quantity"`
	PriceCents int64            `json:"price_cents" validate:"required,gt=0"`
	Actor      *outbox.ActorRef `json:"-"`
}

// FillInput reports an execution from the venue.
type FillInput struct {
	OrderID        uuid.UUID       `json:"order_id" validate:"required"`
	Quantity       decimal.Decimal `json:"quantity"`
	FillPriceCents int64           `json:"fill_price_cents" validate:"required,gt=0"`
}

// Service owns the order lifecycle. Each operation mutates the order and
// emits its lifecycle event in one transaction.
type Service struct {
	db         *dbpkg.Client
	repo       *Repository
	portfolios portfolioLookup
	outboxSvc  *outbox.Service
	logg       *logger.Logger
}

func NewService(db *dbpkg.Client, repo *Repository, portfolios portfolioLookup, outboxSvc *outbox.Service, logg *logger.Logger) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if portfolios == nil {
		return nil, fmt.Errorf("portfolio lookup required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	return &Service{
		db:         db,
		repo:       repo,
		portfolios: portfolios,
		outboxSvc:  outboxSvc,
		logg:       logg,
	}, nil
}

// PlaceOrder accepts the order and emits order_placed atomically. The order
// starts pending_new; it only starts working once funds_reserved comes back.
func (s *Service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error) {
	if err := validate.Struct(input); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, err, "invalid order request")
	}
	if !input.Side.IsValid() {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid order side %q", input.Side))
	}
	if input.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.New(apperrors.CodeValidation, "quantity must be positive")
	}

	portfolio, err := s.portfolios.GetByAccountID(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}

	// The reservation rounds up so it always covers the notional cost.
	amountCents := input.Quantity.
		Mul(decimal.NewFromInt(input.PriceCents)).
		Ceil().
		IntPart()

	order := &models.Order{
		AccountID:   input.AccountID,
		PortfolioID: portfolio.ID,
		Symbol:      strings.ToUpper(input.Symbol),
		Side:        input.Side,
		Quantity:    input.Quantity,
		PriceCents:  input.PriceCents,
		AmountCents: amountCents,
		Currency:    portfolio.Currency,
		Status:      enums.OrderStatusPendingNew,
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.CreateTx(tx, order); err != nil {
			return err
		}
		return s.outboxSvc.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			CorrelationID: order.ID,
			Actor:         input.Actor,
			Data: payloads.OrderPlacedEvent{
				OrderID:     order.ID,
				AccountID:   order.AccountID,
				Symbol:      order.Symbol,
				Side:        order.Side,
				Quantity:    order.Quantity,
				PriceCents:  order.PriceCents,
				AmountCents: order.AmountCents,
				Currency:    order.Currency,
				PlacedAt:    order.CreatedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(s.logg.WithAccountID(ctx, order.AccountID.String()), order.ID.String())
		s.logg.Info(logCtx, "order placed")
	}
	return order, nil
}

// CancelOrder cancels a pending or working order and emits order_canceled.
// The portfolio side decides whether a release is actually due.
func (s *Service) CancelOrder(ctx context.Context, orderID uuid.UUID, reason string, actor *outbox.ActorRef) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "order id is required")
	}

	var order *models.Order
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		loaded, err := s.repo.GetByIDTx(tx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.Wrap(apperrors.CodeNotFound, err, "order not found")
			}
			return err
		}
		order = loaded

		now := time.Now().UTC()
		extra := map[string]any{"canceled_at": now}
		if reason != "" {
			extra["reason"] = reason
		}
		err = s.repo.UpdateStatusTx(tx, orderID,
			[]enums.OrderStatus{enums.OrderStatusPendingNew, enums.OrderStatusWorking},
			enums.OrderStatusCanceled, extra)
		if err != nil {
			if errors.Is(err, ErrStaleTransition) {
				return apperrors.New(apperrors.CodeStateConflict,
					fmt.Sprintf("order cannot be canceled from status %s", order.Status))
			}
			return err
		}
		order.Status = enums.OrderStatusCanceled
		order.CanceledAt = &now

		return s.outboxSvc.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCanceled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			CorrelationID: order.ID,
			Actor:         actor,
			Data: payloads.OrderCanceledEvent{
				OrderID:     order.ID,
				AccountID:   order.AccountID,
				AmountCents: order.AmountCents,
				CanceledAt:  now,
				Reason:      reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// RecordFill marks a working order filled and emits order_filled so the
// ledger settles the reserved funds.
func (s *Service) RecordFill(ctx context.Context, input FillInput) (*models.Order, error) {
	if err := validate.Struct(input); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, err, "invalid fill")
	}
	if input.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.New(apperrors.CodeValidation, "quantity must be positive")
	}

	var order *models.Order
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		loaded, err := s.repo.GetByIDTx(tx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.Wrap(apperrors.CodeNotFound, err, "order not found")
			}
			return err
		}
		order = loaded

		now := time.Now().UTC()
		err = s.repo.UpdateStatusTx(tx, input.OrderID,
			[]enums.OrderStatus{enums.OrderStatusWorking},
			enums.OrderStatusFilled, map[string]any{"filled_at": now})
		if err != nil {
			if errors.Is(err, ErrStaleTransition) {
				return apperrors.New(apperrors.CodeStateConflict,
					fmt.Sprintf("order cannot fill from status %s", order.Status))
			}
			return err
		}
		order.Status = enums.OrderStatusFilled
		order.FilledAt = &now

		return s.outboxSvc.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderFilled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			CorrelationID: order.ID,
			Data: payloads.OrderFilledEvent{
				OrderID:        order.ID,
				AccountID:      order.AccountID,
				Quantity:       input.Quantity,
				FillPriceCents: input.FillPriceCents,
				AmountCents:    order.AmountCents,
				FilledAt:       now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrder returns the order by id.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Wrap(apperrors.CodeNotFound, err, "order not found")
		}
		return nil, err
	}
	return order, nil
}
