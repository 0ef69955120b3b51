package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avelarlabs/brokerage-backend/pkg/enums"
)

// Portfolio holds an account's cash position split between funds free to trade
// and funds held against working orders. Both columns stay non-negative;
// mutations go through the portfolio service under a row lock, never by direct
// field assignment.
type Portfolio struct {
	ID             uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID      uuid.UUID      `gorm:"column:account_id;type:uuid;not null;uniqueIndex:ux_portfolios_account"`
	Currency       enums.Currency `gorm:"column:currency;size:8;not null"`
	AvailableCents int64          `gorm:"column:available_cents;not null;default:0"`
	ReservedCents  int64          `gorm:"column:reserved_cents;not null;default:0"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (Portfolio) TableName() string { return "portfolios" }

// TotalCents returns the conserved sum of available and reserved funds.
func (p Portfolio) TotalCents() int64 {
	return p.AvailableCents + p.ReservedCents
}

// BeforeCreate assigns the id when the database default is unavailable.
func (p *Portfolio) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
