package orders

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbpkg "github.com/avelarlabs/brokerage-backend/pkg/db"
	"github.com/avelarlabs/brokerage-backend/pkg/db/models"
	"github.com/avelarlabs/brokerage-backend/pkg/enums"
	"github.com/avelarlabs/brokerage-backend/pkg/logger"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox/payloads"
)

type capturedPush struct {
	orderID uuid.UUID
	status  enums.OrderStatus
}

type captureNotifier struct {
	pushes []capturedPush
}

func (c *captureNotifier) OrderStatusChanged(_ context.Context, order *models.Order) {
	c.pushes = append(c.pushes, capturedPush{orderID: order.ID, status: order.Status})
}

type handlersFixture struct {
	handlers *SagaHandlers
	notifier *captureNotifier
	client   *dbpkg.Client
	conn     *gorm.DB
}

func newHandlersFixture(t *testing.T) handlersFixture {
	t.Helper()

	conn := setupOrdersTestDB(t)
	notifier := &captureNotifier{}
	logg := logger.New(logger.Options{ServiceName: "orders-handlers-test", Output: io.Discard})

	handlers, err := NewSagaHandlers(NewRepository(conn), notifier, logg)
	require.NoError(t, err)

	return handlersFixture{
		handlers: handlers,
		notifier: notifier,
		client:   dbpkg.NewWithConn(conn),
		conn:     conn,
	}
}

func (f handlersFixture) seedOrder(t *testing.T, status enums.OrderStatus) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:          uuid.New(),
		AccountID:   uuid.New(),
		PortfolioID: uuid.New(),
		Symbol:      "AAPL",
		Side:        enums.OrderSideBuy,
		Quantity:    decimal.NewFromInt(1),
		PriceCents:  10000,
		AmountCents: 10000,
		Currency:    enums.CurrencyUSD,
		Status:      status,
	}
	require.NoError(t, f.conn.Create(order).Error)
	return order
}

func (f handlersFixture) orderStatus(t *testing.T, orderID uuid.UUID) enums.OrderStatus {
	t.Helper()
	var order models.Order
	require.NoError(t, f.conn.First(&order, "id = ?", orderID).Error)
	return order.Status
}

func runStep(t *testing.T, f handlersFixture, step func(context.Context, *gorm.DB, outbox.PayloadEnvelope, interface{}) ([]outbox.DomainEvent, error), payload interface{}) ([]outbox.DomainEvent, error) {
	t.Helper()
	var followUps []outbox.DomainEvent
	err := f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var stepErr error
		followUps, stepErr = step(context.Background(), tx, outbox.PayloadEnvelope{Version: 1}, payload)
		return stepErr
	})
	return followUps, err
}

func TestHandleFundsReservedMovesOrderToWorking(t *testing.T) {
	fixture := newHandlersFixture(t)
	order := fixture.seedOrder(t, enums.OrderStatusPendingNew)

	followUps, err := runStep(t, fixture, fixture.handlers.handleFundsReserved, &payloads.FundsReservedEvent{
		OrderID:     order.ID,
		AccountID:   order.AccountID,
		AmountCents: order.AmountCents,
	})
	require.NoError(t, err)
	assert.Empty(t, followUps)
	assert.Equal(t, enums.OrderStatusWorking, fixture.orderStatus(t, order.ID))

	require.Len(t, fixture.notifier.pushes, 1)
	assert.Equal(t, order.ID, fixture.notifier.pushes[0].orderID)
	assert.Equal(t, enums.OrderStatusWorking, fixture.notifier.pushes[0].status)
}

func TestHandleFundsReservedAfterCancelReEmitsCancel(t *testing.T) {
	fixture := newHandlersFixture(t)
	order := fixture.seedOrder(t, enums.OrderStatusCanceled)
	canceledAt := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, fixture.conn.Model(&models.Order{}).
		Where("id = ?", order.ID).
		Update("canceled_at", canceledAt).Error)

	followUps, err := runStep(t, fixture, fixture.handlers.handleFundsReserved, &payloads.FundsReservedEvent{
		OrderID:     order.ID,
		AccountID:   order.AccountID,
		AmountCents: order.AmountCents,
	})
	require.NoError(t, err)

	// The reservation raced the cancel; a compensating cancel event releases it.
	require.Len(t, followUps, 1)
	assert.Equal(t, enums.EventOrderCanceled, followUps[0].EventType)
	assert.Equal(t, order.ID, followUps[0].CorrelationID)
	payload, ok := followUps[0].Data.(payloads.OrderCanceledEvent)
	require.True(t, ok)
	assert.Equal(t, order.AmountCents, payload.AmountCents)

	assert.Equal(t, enums.OrderStatusCanceled, fixture.orderStatus(t, order.ID))
	assert.Empty(t, fixture.notifier.pushes)
}

func TestHandleFundsReservedIgnoredForSettledOrder(t *testing.T) {
	fixture := newHandlersFixture(t)
	order := fixture.seedOrder(t, enums.OrderStatusSettled)

	followUps, err := runStep(t, fixture, fixture.handlers.handleFundsReserved, &payloads.FundsReservedEvent{
		OrderID: order.ID,
	})
	require.NoError(t, err)
	assert.Empty(t, followUps)
	assert.Equal(t, enums.OrderStatusSettled, fixture.orderStatus(t, order.ID))
}

func TestHandleReservationFailedRejectsOrder(t *testing.T) {
	fixture := newHandlersFixture(t)
	order := fixture.seedOrder(t, enums.OrderStatusPendingNew)

	followUps, err := runStep(t, fixture, fixture.handlers.handleReservationFailed, &payloads.FundsReservationFailedEvent{
		OrderID:   order.ID,
		AccountID: order.AccountID,
		Reason:    "insufficient funds",
	})
	require.NoError(t, err)
	assert.Empty(t, followUps)
	assert.Equal(t, enums.OrderStatusRejected, fixture.orderStatus(t, order.ID))

	var stored models.Order
	require.NoError(t, fixture.conn.First(&stored, "id = ?", order.ID).Error)
	require.NotNil(t, stored.Reason)
	assert.Equal(t, "insufficient funds", *stored.Reason)
}

func TestHandleOrderSettledFinishesFilledOrder(t *testing.T) {
	fixture := newHandlersFixture(t)
	order := fixture.seedOrder(t, enums.OrderStatusFilled)
	settledAt := time.Now().UTC().Truncate(time.Second)

	followUps, err := runStep(t, fixture, fixture.handlers.handleOrderSettled, &payloads.OrderSettledEvent{
		OrderID:     order.ID,
		AccountID:   order.AccountID,
		AmountCents: order.AmountCents,
		SettledAt:   settledAt,
	})
	require.NoError(t, err)
	assert.Empty(t, followUps)
	assert.Equal(t, enums.OrderStatusSettled, fixture.orderStatus(t, order.ID))

	// Settlement for an order not in filled is a warn-level no-op.
	pending := fixture.seedOrder(t, enums.OrderStatusPendingNew)
	followUps, err = runStep(t, fixture, fixture.handlers.handleOrderSettled, &payloads.OrderSettledEvent{
		OrderID: pending.ID,
	})
	require.NoError(t, err)
	assert.Empty(t, followUps)
	assert.Equal(t, enums.OrderStatusPendingNew, fixture.orderStatus(t, pending.ID))
}

func TestHandleFundsReleasedNotifiesOnly(t *testing.T) {
	fixture := newHandlersFixture(t)
	order := fixture.seedOrder(t, enums.OrderStatusCanceled)

	followUps, err := runStep(t, fixture, fixture.handlers.handleFundsReleased, &payloads.FundsReleasedEvent{
		OrderID:   order.ID,
		AccountID: order.AccountID,
	})
	require.NoError(t, err)
	assert.Empty(t, followUps)
	assert.Equal(t, enums.OrderStatusCanceled, fixture.orderStatus(t, order.ID))
	require.Len(t, fixture.notifier.pushes, 1)
	assert.Equal(t, enums.OrderStatusCanceled, fixture.notifier.pushes[0].status)
}
