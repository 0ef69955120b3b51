package portfolio

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avelarlabs/brokerage-backend/pkg/db/models"
	"github.com/avelarlabs/brokerage-backend/pkg/enums"
	apperrors "github.com/avelarlabs/brokerage-backend/pkg/errors"
	"github.com/avelarlabs/brokerage-backend/pkg/logger"
)

// MovementInput identifies the account and amount for a balance movement.
// OrderID ties saga movements back to the order that caused them; plain
// credits and debits leave it nil.
type MovementInput struct {
	AccountID   uuid.UUID
	OrderID     *uuid.UUID
	AmountCents int64
}

// Service is the fund reservation ledger. Every movement runs inside the
// caller's transaction, locks the portfolio row, re-validates both balances
// and appends a journal entry. The sum available+reserved is only changed by
// Credit, Debit and Settle.
type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("portfolio repository required")
	}
	return &Service{repo: repo, logg: logg}, nil
}

// CreatePortfolio provisions an empty portfolio for an account.
func (s *Service) CreatePortfolio(ctx context.Context, accountID uuid.UUID, currency enums.Currency) (*models.Portfolio, error) {
	if accountID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "account id is required")
	}
	if !currency.IsValid() {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid currency %q", currency))
	}
	portfolio := &models.Portfolio{
		AccountID: accountID,
		Currency:  currency,
	}
	if err := s.repo.Create(ctx, portfolio); err != nil {
		return nil, err
	}
	return portfolio, nil
}

// GetByAccountID returns the account's portfolio.
func (s *Service) GetByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Portfolio, error) {
	portfolio, err := s.repo.GetByAccountID(ctx, accountID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.Wrap(apperrors.CodeNotFound, err, "portfolio not found")
		}
		return nil, err
	}
	return portfolio, nil
}

// Reserve moves funds from available to reserved for a pending order. The
// whole amount moves or nothing does.
func (s *Service) Reserve(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.Portfolio, error) {
	return s.move(ctx, tx, enums.EntryReserve, input)
}

// Release returns reserved funds to available after a cancel or rejection.
func (s *Service) Release(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.Portfolio, error) {
	return s.move(ctx, tx, enums.EntryRelease, input)
}

// Settle debits reserved funds permanently after a fill.
func (s *Service) Settle(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.Portfolio, error) {
	return s.move(ctx, tx, enums.EntrySettle, input)
}

// Credit adds external funds to the available balance.
func (s *Service) Credit(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.Portfolio, error) {
	return s.move(ctx, tx, enums.EntryCredit, input)
}

// Debit withdraws available funds.
func (s *Service) Debit(ctx context.Context, tx *gorm.DB, input MovementInput) (*models.Portfolio, error) {
	return s.move(ctx, tx, enums.EntryDebit, input)
}

func (s *Service) move(ctx context.Context, tx *gorm.DB, entryType enums.PortfolioEntryType, input MovementInput) (*models.Portfolio, error) {
	if tx == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "transaction required")
	}
	if input.AccountID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "account id is required")
	}
	if input.AmountCents <= 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "amount must be positive")
	}

	portfolio, err := s.repo.GetByAccountIDForUpdateTx(tx, input.AccountID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.Wrap(apperrors.CodeNotFound, err, "portfolio not found")
		}
		return nil, err
	}

	available := portfolio.AvailableCents
	reserved := portfolio.ReservedCents
	amount := input.AmountCents

	switch entryType {
	case enums.EntryReserve:
		if available < amount {
			return nil, apperrors.New(apperrors.CodeInsufficientFunds, "insufficient available funds").
				WithDetails(map[string]int64{
					"requested_cents": amount,
					"available_cents": available,
				})
		}
		available -= amount
		reserved += amount
	case enums.EntryRelease:
		if reserved < amount {
			return nil, apperrors.New(apperrors.CodeOverRelease, "release exceeds reserved funds").
				WithDetails(map[string]int64{
					"requested_cents": amount,
					"reserved_cents":  reserved,
				})
		}
		reserved -= amount
		available += amount
	case enums.EntrySettle:
		if reserved < amount {
			return nil, apperrors.New(apperrors.CodeOverRelease, "settlement exceeds reserved funds").
				WithDetails(map[string]int64{
					"requested_cents": amount,
					"reserved_cents":  reserved,
				})
		}
		reserved -= amount
	case enums.EntryCredit:
		available += amount
	case enums.EntryDebit:
		if available < amount {
			return nil, apperrors.New(apperrors.CodeInsufficientFunds, "insufficient available funds").
				WithDetails(map[string]int64{
					"requested_cents": amount,
					"available_cents": available,
				})
		}
		available -= amount
	default:
		return nil, apperrors.New(apperrors.CodeInternal, fmt.Sprintf("unknown entry type %q", entryType))
	}

	if available < 0 || reserved < 0 {
		return nil, apperrors.New(apperrors.CodeInternal, "balance would go negative")
	}

	if err := s.repo.UpdateBalancesTx(tx, portfolio.ID, available, reserved); err != nil {
		return nil, err
	}
	entry := &models.PortfolioEntry{
		PortfolioID:         portfolio.ID,
		OrderID:             input.OrderID,
		Type:                entryType,
		AmountCents:         amount,
		AvailableAfterCents: available,
		ReservedAfterCents:  reserved,
	}
	if err := s.repo.AddEntryTx(tx, entry); err != nil {
		return nil, err
	}

	portfolio.AvailableCents = available
	portfolio.ReservedCents = reserved

	if s.logg != nil {
		fields := map[string]any{
			"portfolio_id":    portfolio.ID.String(),
			"entry_type":      entryType,
			"amount_cents":    amount,
			"available_cents": available,
			"reserved_cents":  reserved,
		}
		if input.OrderID != nil {
			fields["order_id"] = input.OrderID.String()
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "portfolio balance moved")
	}
	return portfolio, nil
}
