package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avelarlabs/brokerage-backend/pkg/enums"
)

// OutboxEvent represents an append-only event emitted via the outbox pattern.
// Rows are written in the same transaction as the business mutation they
// announce and are only ever updated by the publisher.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:event_type_enum;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:aggregate_type_enum;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null;index"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	Status        enums.OutboxStatus        `gorm:"column:status;type:outbox_status_enum;not null;default:'pending';index"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// BeforeCreate assigns the id when the database default is unavailable.
func (e *OutboxEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
