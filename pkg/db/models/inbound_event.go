package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avelarlabs/brokerage-backend/pkg/enums"
)

// InboundEvent records an event id a consumer has fully processed. The unique
// index is the dedup guard: the insert shares a transaction with the handler's
// state mutation, so a replayed delivery can never commit a second mutation.
type InboundEvent struct {
	ID         uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Consumer   string                `gorm:"column:consumer;size:64;not null;uniqueIndex:ux_inbound_events_consumer_event"`
	EventID    uuid.UUID             `gorm:"column:event_id;type:uuid;not null;uniqueIndex:ux_inbound_events_consumer_event"`
	EventType  enums.OutboxEventType `gorm:"column:event_type;type:event_type_enum;not null"`
	ConsumedAt time.Time             `gorm:"column:consumed_at;autoCreateTime"`
}

func (InboundEvent) TableName() string { return "inbound_events" }

// BeforeCreate assigns the id when the database default is unavailable.
func (e *InboundEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
