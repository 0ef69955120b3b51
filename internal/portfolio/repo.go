package portfolio

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/avelarlabs/brokerage-backend/pkg/db/models"
)

type Repository struct {
	db *gorm.DB
}

// NewRepository builds a portfolio repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, portfolio *models.Portfolio) error {
	return r.db.WithContext(ctx).Create(portfolio).Error
}

func (r *Repository) GetByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Portfolio, error) {
	var portfolio models.Portfolio
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&portfolio).Error
	if err != nil {
		return nil, err
	}
	return &portfolio, nil
}

// GetByAccountIDForUpdateTx loads the portfolio row under FOR UPDATE so
// concurrent balance movements serialize on the row. SQLite has no row locks
// and serializes writers itself, so the clause is Postgres-only.
func (r *Repository) GetByAccountIDForUpdateTx(tx *gorm.DB, accountID uuid.UUID) (*models.Portfolio, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	query := tx.Where("account_id = ?", accountID)
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var portfolio models.Portfolio
	if err := query.First(&portfolio).Error; err != nil {
		return nil, err
	}
	return &portfolio, nil
}

// UpdateBalancesTx writes both balance columns for the locked row.
func (r *Repository) UpdateBalancesTx(tx *gorm.DB, id uuid.UUID, availableCents, reservedCents int64) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.Portfolio{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"available_cents": availableCents,
			"reserved_cents":  reservedCents,
		}).Error
}

// AddEntryTx appends a journal row in the same transaction as the balance write.
func (r *Repository) AddEntryTx(tx *gorm.DB, entry *models.PortfolioEntry) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(entry).Error
}

func (r *Repository) ListEntries(ctx context.Context, portfolioID uuid.UUID, limit int) ([]models.PortfolioEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.PortfolioEntry
	err := r.db.WithContext(ctx).
		Where("portfolio_id = ?", portfolioID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
