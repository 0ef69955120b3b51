package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/avelarlabs/brokerage-backend/pkg/enums"
)

// Order represents a client order moving through the funds-reservation saga.
// Status transitions are driven by local operations (place, cancel, fill) and
// by funds events consumed from the portfolio service.
type Order struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID   uuid.UUID         `gorm:"column:account_id;type:uuid;not null;index"`
	PortfolioID uuid.UUID         `gorm:"column:portfolio_id;type:uuid;not null;index"`
	Symbol      string            `gorm:"column:symbol;size:16;not null"`
	Side        enums.OrderSide   `gorm:"column:side;type:order_side_enum;not null"`
	Quantity    decimal.Decimal   `gorm:"column:quantity;type:numeric(20,8);not null"`
	PriceCents  int64             `gorm:"column:price_cents;not null"`
	AmountCents int64             `gorm:"column:amount_cents;not null"`
	Currency    enums.Currency    `gorm:"column:currency;size:8;not null"`
	Status      enums.OrderStatus `gorm:"column:status;type:order_status_enum;not null;default:'pending_new';index"`
	Reason      *string           `gorm:"column:reason"`
	CanceledAt  *time.Time        `gorm:"column:canceled_at"`
	FilledAt    *time.Time        `gorm:"column:filled_at"`
	SettledAt   *time.Time        `gorm:"column:settled_at"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

// BeforeCreate assigns the id when the database default is unavailable.
func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
