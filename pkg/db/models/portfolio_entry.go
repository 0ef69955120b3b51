package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avelarlabs/brokerage-backend/pkg/enums"
)

// PortfolioEntry records an immutable balance movement against a portfolio.
type PortfolioEntry struct {
	ID                  uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PortfolioID         uuid.UUID                `gorm:"column:portfolio_id;type:uuid;not null;index"`
	OrderID             *uuid.UUID               `gorm:"column:order_id;type:uuid"`
	Type                enums.PortfolioEntryType `gorm:"column:type;type:portfolio_entry_type_enum;not null"`
	AmountCents         int64                    `gorm:"column:amount_cents;not null"`
	AvailableAfterCents int64                    `gorm:"column:available_after_cents;not null"`
	ReservedAfterCents  int64                    `gorm:"column:reserved_after_cents;not null"`
	CreatedAt           time.Time                `gorm:"column:created_at;autoCreateTime"`
}

func (PortfolioEntry) TableName() string { return "portfolio_entries" }

// BeforeCreate assigns the id when the database default is unavailable.
func (e *PortfolioEntry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
