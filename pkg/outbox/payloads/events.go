package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avelarlabs/brokerage-backend/pkg/enums"
)

// OrderPlacedEvent starts the reservation saga for a newly accepted order.
type OrderPlacedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	AccountID   uuid.UUID       `json:"account_id"`
	Symbol      string          `json:"symbol"`
	Side        enums.OrderSide `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	PriceCents  int64           `json:"price_cents"`
	AmountCents int64           `json:"amount_cents"`
	Currency    enums.Currency  `json:"currency"`
	PlacedAt    time.Time       `json:"placed_at"`
}

// OrderCanceledEvent is emitted when a client cancels a working order.
type OrderCanceledEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	AccountID   uuid.UUID `json:"account_id"`
	AmountCents int64     `json:"amount_cents"`
	CanceledAt  time.Time `json:"canceled_at"`
	Reason      string    `json:"reason,omitempty"`
}

// OrderFilledEvent reports an execution against a working order.
type OrderFilledEvent struct {
	OrderID        uuid.UUID       `json:"order_id"`
	AccountID      uuid.UUID       `json:"account_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	FillPriceCents int64           `json:"fill_price_cents"`
	AmountCents    int64           `json:"amount_cents"`
	FilledAt       time.Time       `json:"filled_at"`
}

// FundsReservedEvent confirms the ledger moved funds into the reserved bucket.
type FundsReservedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	AccountID   uuid.UUID `json:"account_id"`
	PortfolioID uuid.UUID `json:"portfolio_id"`
	AmountCents int64     `json:"amount_cents"`
	ReservedAt  time.Time `json:"reserved_at"`
}

// FundsReservationFailedEvent is the compensating signal when a reservation
// cannot be honored.
type FundsReservationFailedEvent struct {
	OrderID        uuid.UUID `json:"order_id"`
	AccountID      uuid.UUID `json:"account_id"`
	AmountCents    int64     `json:"amount_cents"`
	AvailableCents int64     `json:"available_cents"`
	Reason         string    `json:"reason"`
	FailedAt       time.Time `json:"failed_at"`
}

// FundsReleasedEvent confirms a reservation was returned to available funds.
type FundsReleasedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	AccountID   uuid.UUID `json:"account_id"`
	AmountCents int64     `json:"amount_cents"`
	ReleasedAt  time.Time `json:"released_at"`
}

// OrderSettledEvent closes the saga after reserved funds were debited.
type OrderSettledEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	AccountID   uuid.UUID `json:"account_id"`
	AmountCents int64     `json:"amount_cents"`
	SettledAt   time.Time `json:"settled_at"`
}
