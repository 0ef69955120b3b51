package orders

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/avelarlabs/brokerage-backend/pkg/db"
	"github.com/avelarlabs/brokerage-backend/pkg/db/models"
	"github.com/avelarlabs/brokerage-backend/pkg/enums"
	apperrors "github.com/avelarlabs/brokerage-backend/pkg/errors"
	"github.com/avelarlabs/brokerage-backend/pkg/logger"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox"
	"github.com/avelarlabs/brokerage-backend/pkg/outbox/payloads"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  portfolio_id TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  quantity NUMERIC NOT NULL,
  price_cents INTEGER NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending_new',
  reason TEXT,
  canceled_at DATETIME,
  filled_at DATETIME,
  settled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

type stubPortfolios struct {
	portfolio *models.Portfolio
	err       error
}

func (s stubPortfolios) GetByAccountID(context.Context, uuid.UUID) (*models.Portfolio, error) {
	return s.portfolio, s.err
}

type ordersFixture struct {
	svc  *Service
	repo *Repository
	conn *gorm.DB
}

func newOrdersFixture(t *testing.T, portfolio *models.Portfolio) ordersFixture {
	t.Helper()

	conn := setupOrdersTestDB(t)
	client := dbpkg.NewWithConn(conn)
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	repo := NewRepository(conn)

	svc, err := NewService(client, repo, stubPortfolios{portfolio: portfolio}, outbox.NewService(outbox.NewRepository(conn), logg), logg)
	require.NoError(t, err)

	return ordersFixture{svc: svc, repo: repo, conn: conn}
}

func defaultPortfolio() *models.Portfolio {
	return &models.Portfolio{
		ID:             uuid.New(),
		AccountID:      uuid.New(),
		Currency:       enums.CurrencyUSD,
		AvailableCents: 100_000,
	}
}

func outboxEvents(t *testing.T, conn *gorm.DB) []models.OutboxEvent {
	t.Helper()
	var events []models.OutboxEvent
	require.NoError(t, conn.Order("created_at ASC, id ASC").Find(&events).Error)
	return events
}

func TestPlaceOrderEmitsOrderPlaced(t *testing.T) {
	portfolio := defaultPortfolio()
	fixture := newOrdersFixture(t, portfolio)

	order, err := fixture.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		AccountID:  portfolio.AccountID,
		Symbol:     "aapl",
		Side:       enums.OrderSideBuy,
		Quantity:   decimal.RequireFromString("2.5"),
		PriceCents: 19001,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusPendingNew, order.Status)
	assert.Equal(t, "AAPL", order.Symbol)
	assert.Equal(t, portfolio.ID, order.PortfolioID)
	assert.Equal(t, enums.CurrencyUSD, order.Currency)
	// 2.5 * 19001 = 47502.5, rounded up to cover the notional cost.
	assert.Equal(t, int64(47503), order.AmountCents)

	events := outboxEvents(t, fixture.conn)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderPlaced, events[0].EventType)
	assert.Equal(t, enums.OutboxStatusPending, events[0].Status)
	assert.Equal(t, order.ID, events[0].AggregateID)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(events[0].Payload, &envelope))
	assert.Equal(t, order.ID.String(), envelope.CorrelationID)

	var payload payloads.OrderPlacedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	assert.Equal(t, order.ID, payload.OrderID)
	assert.Equal(t, int64(47503), payload.AmountCents)
}

func TestPlaceOrderValidation(t *testing.T) {
	fixture := newOrdersFixture(t, defaultPortfolio())

	cases := []struct {
		name  string
		input PlaceOrderInput
	}{
		{"MissingAccount", PlaceOrderInput{Symbol: "AAPL", Side: enums.OrderSideBuy, Quantity: decimal.NewFromInt(1), PriceCents: 100}},
		{"MissingSymbol", PlaceOrderInput{AccountID: uuid.New(), Side: enums.OrderSideBuy, Quantity: decimal.NewFromInt(1), PriceCents: 100}},
		{"BadSide", PlaceOrderInput{AccountID: uuid.New(), Symbol: "AAPL", Side: enums.OrderSide("short"), Quantity: decimal.NewFromInt(1), PriceCents: 100}},
		{"ZeroQuantity", PlaceOrderInput{AccountID: uuid.New(), Symbol: "AAPL", Side: enums.OrderSideBuy, PriceCents: 100}},
		{"ZeroPrice", PlaceOrderInput{AccountID: uuid.New(), Symbol: "AAPL", Side: enums.OrderSideBuy, Quantity: decimal.NewFromInt(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fixture.svc.PlaceOrder(context.Background(), tc.input)
			assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation), "got %v", err)
		})
	}

	events := outboxEvents(t, fixture.conn)
	assert.Empty(t, events)
}

func TestCancelOrderFromPending(t *testing.T) {
	portfolio := defaultPortfolio()
	fixture := newOrdersFixture(t, portfolio)

	order, err := fixture.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		AccountID:  portfolio.AccountID,
		Symbol:     "MSFT",
		Side:       enums.OrderSideBuy,
		Quantity:   decimal.NewFromInt(1),
		PriceCents: 5000,
	})
	require.NoError(t, err)

	canceled, err := fixture.svc.CancelOrder(context.Background(), order.ID, "client request", nil)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCanceled, canceled.Status)
	require.NotNil(t, canceled.CanceledAt)

	stored, err := fixture.svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCanceled, stored.Status)
	require.NotNil(t, stored.Reason)
	assert.Equal(t, "client request", *stored.Reason)

	events := outboxEvents(t, fixture.conn)
	require.Len(t, events, 2)
	assert.Equal(t, enums.EventOrderCanceled, events[1].EventType)
}

func TestCancelOrderStateConflict(t *testing.T) {
	portfolio := defaultPortfolio()
	fixture := newOrdersFixture(t, portfolio)

	order, err := fixture.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		AccountID:  portfolio.AccountID,
		Symbol:     "MSFT",
		Side:       enums.OrderSideSell,
		Quantity:   decimal.NewFromInt(3),
		PriceCents: 2000,
	})
	require.NoError(t, err)

	_, err = fixture.svc.CancelOrder(context.Background(), order.ID, "", nil)
	require.NoError(t, err)

	// A second cancel finds the order already terminal.
	_, err = fixture.svc.CancelOrder(context.Background(), order.ID, "", nil)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict), "got %v", err)

	_, err = fixture.svc.CancelOrder(context.Background(), uuid.New(), "", nil)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound), "got %v", err)
}

func TestRecordFillRequiresWorkingOrder(t *testing.T) {
	portfolio := defaultPortfolio()
	fixture := newOrdersFixture(t, portfolio)

	order, err := fixture.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		AccountID:  portfolio.AccountID,
		Symbol:     "NVDA",
		Side:       enums.OrderSideBuy,
		Quantity:   decimal.NewFromInt(2),
		PriceCents: 10000,
	})
	require.NoError(t, err)

	fill := FillInput{OrderID: order.ID, Quantity: decimal.NewFromInt(2), FillPriceCents: 9950}

	// Still pending_new; the reservation has not been confirmed.
	_, err = fixture.svc.RecordFill(context.Background(), fill)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict), "got %v", err)

	require.NoError(t, fixture.conn.Model(&models.Order{}).
		Where("id = ?", order.ID).
		Update("status", enums.OrderStatusWorking).Error)

	filled, err := fixture.svc.RecordFill(context.Background(), fill)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusFilled, filled.Status)
	require.NotNil(t, filled.FilledAt)

	events := outboxEvents(t, fixture.conn)
	require.Len(t, events, 2)
	assert.Equal(t, enums.EventOrderFilled, events[1].EventType)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(events[1].Payload, &envelope))
	var payload payloads.OrderFilledEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	assert.Equal(t, int64(9950), payload.FillPriceCents)
}
