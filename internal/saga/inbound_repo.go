package saga

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avelarlabs/brokerage-backend/pkg/db/models"
)

const maxInboundErrorLen = 1024

// InboundRepository records processed event ids per consumer. The unique
// index on (consumer, event_id) is the durable dedup guard.
type InboundRepository struct {
	db *gorm.DB
}

func NewInboundRepository(db *gorm.DB) *InboundRepository {
	return &InboundRepository{db: db}
}

// InsertTx records the event as processed inside the handler's transaction.
// A unique violation here means another delivery already committed.
func (r *InboundRepository) InsertTx(tx *gorm.DB, record models.InboundEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&record).Error
}

func (r *InboundRepository) Exists(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.InboundEvent{}).
		Where("consumer = ? AND event_id = ?", consumer, eventID).
		Count(&count).Error
	return count > 0, err
}

// InboundDLQRepository persists deliveries a consumer permanently gave up on.
type InboundDLQRepository struct {
	db *gorm.DB
}

func NewInboundDLQRepository(db *gorm.DB) *InboundDLQRepository {
	return &InboundDLQRepository{db: db}
}

// Insert writes the DLQ row in its own transaction. DLQ writes happen after
// the handler transaction rolled back, so they must not share it.
func (r *InboundDLQRepository) Insert(ctx context.Context, entry models.InboundDLQ) error {
	if entry.ErrorMessage != nil {
		msg := truncateInboundError(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return r.db.WithContext(ctx).Create(&entry).Error
}

func (r *InboundDLQRepository) List(ctx context.Context, consumer string, limit int) ([]models.InboundDLQ, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Order("failed_at DESC").Limit(limit)
	if consumer != "" {
		query = query.Where("consumer = ?", consumer)
	}
	var rows []models.InboundDLQ
	err := query.Find(&rows).Error
	return rows, err
}

func truncateInboundError(message string) string {
	if len(message) <= maxInboundErrorLen {
		return message
	}
	return message[:maxInboundErrorLen]
}
