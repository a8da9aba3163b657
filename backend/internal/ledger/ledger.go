// Package ledger keeps per-user positions consistent inside a store
// transaction. A position row exists only while its amount is positive.
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/user/vitrader/backend/internal/apperr"
	"github.com/user/vitrader/backend/internal/models"
)

// Tx is the row-level surface of an open transaction. Mutations return the
// number of affected rows.
type Tx interface {
	// PositionForUpdate reads and locks a position. ok is false when the row is absent.
	PositionForUpdate(ctx context.Context, userID, assetID int64) (amount decimal.Decimal, ok bool, err error)
	// InsertPosition creates a position. It affects no rows when a concurrent
	// transaction created the same position first.
	InsertPosition(ctx context.Context, userID, assetID int64, amount decimal.Decimal) (int64, error)
	UpdatePosition(ctx context.Context, userID, assetID int64, amount decimal.Decimal) (int64, error)
	DeletePosition(ctx context.Context, userID, assetID int64) (int64, error)
	// InsertTrade appends a trade and fills in its ID and ExecutedAt.
	InsertTrade(ctx context.Context, trade *models.Trade) error
}

// Ledger applies credits and debits. The logger only receives overshoot warnings.
type Ledger struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{logger: logger.Named("ledger")}
}

// Balance returns the locked amount held, zero when there is no row.
func (l *Ledger) Balance(ctx context.Context, tx Tx, userID, assetID int64) (decimal.Decimal, error) {
	amount, ok, err := tx.PositionForUpdate(ctx, userID, assetID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read position user %d asset %d: %w", userID, assetID, err)
	}
	if !ok {
		return decimal.Zero, nil
	}
	return amount, nil
}

// CreditOrCreate adds amount to the position, creating it when absent.
func (l *Ledger) CreditOrCreate(ctx context.Context, tx Tx, userID, assetID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: credit amount must be positive, got %s", apperr.ErrValidation, amount)
	}

	current, ok, err := tx.PositionForUpdate(ctx, userID, assetID)
	if err != nil {
		return fmt.Errorf("read position user %d asset %d: %w", userID, assetID, err)
	}

	var affected int64
	if !ok {
		affected, err = tx.InsertPosition(ctx, userID, assetID, amount)
		if err != nil {
			return fmt.Errorf("%w: credit user %d asset %d: %v", apperr.ErrPersistence, userID, assetID, err)
		}
		if affected == 0 {
			// lost the insert race; the row is committed now, so lock and add to it
			current, ok, err = tx.PositionForUpdate(ctx, userID, assetID)
			if err != nil {
				return fmt.Errorf("read position user %d asset %d: %w", userID, assetID, err)
			}
			if !ok {
				return fmt.Errorf("%w: credit user %d asset %d: position vanished after conflict", apperr.ErrPersistence, userID, assetID)
			}
		}
	}
	if ok {
		affected, err = tx.UpdatePosition(ctx, userID, assetID, current.Add(amount))
		if err != nil {
			return fmt.Errorf("%w: credit user %d asset %d: %v", apperr.ErrPersistence, userID, assetID, err)
		}
	}
	if affected != 1 {
		return fmt.Errorf("%w: credit user %d asset %d affected %d rows", apperr.ErrPersistence, userID, assetID, affected)
	}
	return nil
}

// DebitOrRemove subtracts amount from an existing position. When nothing
// would remain the row is deleted instead; a debit larger than the holding
// is absorbed that way and only logged.
func (l *Ledger) DebitOrRemove(ctx context.Context, tx Tx, userID, assetID int64, amount decimal.Decimal) error {
	current, ok, err := tx.PositionForUpdate(ctx, userID, assetID)
	if err != nil {
		return fmt.Errorf("read position user %d asset %d: %w", userID, assetID, err)
	}
	if !ok {
		return fmt.Errorf("%w: no position for user %d asset %d", apperr.ErrNotFound, userID, assetID)
	}

	var affected int64
	remaining := current.Sub(amount)
	if remaining.Sign() <= 0 {
		if remaining.IsNegative() {
			l.logger.Warn("debit exceeds position, removing it",
				zap.Int64("user_id", userID),
				zap.Int64("asset_id", assetID),
				zap.String("held", current.String()),
				zap.String("debit", amount.String()))
		}
		affected, err = tx.DeletePosition(ctx, userID, assetID)
	} else {
		affected, err = tx.UpdatePosition(ctx, userID, assetID, remaining)
	}
	if err != nil {
		return fmt.Errorf("%w: debit user %d asset %d: %v", apperr.ErrPersistence, userID, assetID, err)
	}
	if affected != 1 {
		return fmt.Errorf("%w: debit user %d asset %d affected %d rows", apperr.ErrPersistence, userID, assetID, affected)
	}
	return nil
}
