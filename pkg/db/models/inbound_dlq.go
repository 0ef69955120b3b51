package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avelarlabs/brokerage-backend/pkg/enums"
)

// InboundDLQ captures deliveries a consumer gave up on after the redelivery
// ceiling, removed from the retry flow for operator attention.
type InboundDLQ struct {
	ID               uuid.UUID                   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Consumer         string                      `gorm:"column:consumer;size:64;not null"`
	EventID          uuid.UUID                   `gorm:"column:event_id;type:uuid;not null"`
	EventType        string                      `gorm:"column:event_type;size:64;not null"`
	Payload          json.RawMessage             `gorm:"column:payload_json;type:jsonb;not null"`
	ErrorReason      enums.InboundDLQErrorReason `gorm:"column:error_reason;type:inbound_dlq_error_reason_enum;not null"`
	ErrorMessage     *string                     `gorm:"column:error_message"`
	DeliveryAttempts int                         `gorm:"column:delivery_attempts;not null;default:0"`
	FailedAt         time.Time                   `gorm:"column:failed_at;autoCreateTime"`
	CreatedAt        time.Time                   `gorm:"column:created_at;autoCreateTime"`
}

func (InboundDLQ) TableName() string { return "inbound_dlq" }

// BeforeCreate assigns the id when the database default is unavailable.
func (e *InboundDLQ) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
