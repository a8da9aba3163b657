package database

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/user/vitrader/backend/internal/models"
)

// ledgerTx implements ledger.Tx on top of an open transaction.
type ledgerTx struct {
	q         Querier
	forUpdate string
}

func (t *ledgerTx) PositionForUpdate(ctx context.Context, userID, assetID int64) (decimal.Decimal, bool, error) {
	var amount decimal.Decimal
	query := `SELECT amount FROM positions WHERE user_id = $1 AND asset_id = $2` + t.forUpdate

	err := t.q.QueryRow(ctx, query, userID, assetID).Scan(&amount)
	if err != nil {
		if isNoRows(err) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("tx error getting position for user %d asset %d: %w", userID, assetID, err)
	}
	return amount, true, nil
}

func (t *ledgerTx) InsertPosition(ctx context.Context, userID, assetID int64, amount decimal.Decimal) (int64, error) {
	query := `INSERT INTO positions (user_id, asset_id, amount) VALUES ($1, $2, $3)
			  ON CONFLICT (user_id, asset_id) DO NOTHING`
	return t.q.Exec(ctx, query, userID, assetID, amount)
}

func (t *ledgerTx) UpdatePosition(ctx context.Context, userID, assetID int64, amount decimal.Decimal) (int64, error) {
	query := `UPDATE positions SET amount = $1 WHERE user_id = $2 AND asset_id = $3`
	return t.q.Exec(ctx, query, amount, userID, assetID)
}

func (t *ledgerTx) DeletePosition(ctx context.Context, userID, assetID int64) (int64, error) {
	query := `DELETE FROM positions WHERE user_id = $1 AND asset_id = $2`
	return t.q.Exec(ctx, query, userID, assetID)
}

func (t *ledgerTx) InsertTrade(ctx context.Context, trade *models.Trade) error {
	if trade.ExecutedAt.IsZero() {
		trade.ExecutedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	query := `INSERT INTO trades (user_id, asset_bought_id, asset_sold_id, amount_bought, amount_sold, executed_at)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  RETURNING id`

	err := t.q.QueryRow(ctx, query,
		trade.UserID, trade.AssetBoughtID, trade.AssetSoldID,
		trade.AmountBought, trade.AmountSold, trade.ExecutedAt,
	).Scan(&trade.ID)
	if err != nil {
		return fmt.Errorf("error creating trade for user %d: %w", trade.UserID, err)
	}
	return nil
}

// GetHoldings lists a user's positions with asset names, ordered by asset name.
func (s *Store) GetHoldings(ctx context.Context, userID int64) ([]*models.Holding, error) {
	holdings := make([]*models.Holding, 0)
	query := `SELECT a.name, p.amount
			  FROM positions p JOIN assets a ON a.id = p.asset_id
			  WHERE p.user_id = $1
			  ORDER BY a.name`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying positions for user %d: %w", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		h := &models.Holding{}
		if err := rows.Scan(&h.AssetName, &h.Amount); err != nil {
			return nil, fmt.Errorf("error scanning position row for user %d: %w", userID, err)
		}
		holdings = append(holdings, h)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error iterating position rows for user %d: %w", userID, rows.Err())
	}
	return holdings, nil
}

// GetPosition returns the unlocked amount held, zero when absent.
func (s *Store) GetPosition(ctx context.Context, userID, assetID int64) (decimal.Decimal, error) {
	var amount decimal.Decimal
	query := `SELECT amount FROM positions WHERE user_id = $1 AND asset_id = $2`

	err := s.db.QueryRow(ctx, query, userID, assetID).Scan(&amount)
	if err != nil {
		if isNoRows(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("error getting position for user %d asset %d: %w", userID, assetID, err)
	}
	return amount, nil
}
