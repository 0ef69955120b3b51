package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avelarlabs/brokerage-backend/pkg/db/models"
	"github.com/avelarlabs/brokerage-backend/pkg/enums"
)

// ErrStaleTransition reports that a status update matched no rows, meaning
// the order moved to another status first.
var ErrStaleTransition = errors.New("order status transition matched no rows")

type Repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateTx(tx *gorm.DB, order *models.Order) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(order).Error
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByIDTx reads the order inside the caller's transaction.
func (r *Repository) GetByIDTx(tx *gorm.DB, id uuid.UUID) (*models.Order, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var order models.Order
	if err := tx.Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *Repository) ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// UpdateStatusTx moves the order to a new status, guarded by the set of
// statuses the transition is allowed from. Zero affected rows means a
// concurrent transition won and the caller gets ErrStaleTransition.
func (r *Repository) UpdateStatusTx(tx *gorm.DB, id uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, extra map[string]any) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if len(from) == 0 {
		return errors.New("allowed source statuses required")
	}
	updates := map[string]any{"status": to}
	for key, value := range extra {
		updates[key] = value
	}
	result := tx.Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}
