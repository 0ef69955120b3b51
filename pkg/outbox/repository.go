package outbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/avelarlabs/brokerage-backend/pkg/db/models"
	"github.com/avelarlabs/brokerage-backend/pkg/enums"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&event).Error
}

// FetchPendingForPublish claims up to limit pending rows inside tx. On
// Postgres the rows are locked with SKIP LOCKED so concurrent publisher
// replicas never pick the same batch.
func (r *Repository) FetchPendingForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	query := tx.
		Where("status = ?", enums.OutboxStatusPending).
		Where("attempt_count < ?", maxAttempts).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit)
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var rows []models.OutboxEvent
	err := query.Find(&rows).Error
	return rows, err
}

// MarkPublishedTx flips a row to published. The status guard means a row can
// only move out of pending once, so a replayed batch never rewrites history.
func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", id, enums.OutboxStatusPending).
		Updates(map[string]any{
			"status":       enums.OutboxStatusPublished,
			"published_at": time.Now(),
		}).Error
}

// MarkFailedTx records a failed publish attempt, leaving the row pending for
// the next cycle.
func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    cause.Error(),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// MarkTerminalTx flips a row to failed so it is never fetched again.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, cause error) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	updates := map[string]any{
		"status": enums.OutboxStatusFailed,
	}
	if cause != nil {
		updates["last_error"] = cause.Error()
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// CountPending reports how many rows still await publishing, for readiness
// and operator endpoints.
func (r *Repository) CountPending() (int64, error) {
	var count int64
	err := r.db.Model(&models.OutboxEvent{}).
		Where("status = ?", enums.OutboxStatusPending).
		Count(&count).Error
	return count, err
}
