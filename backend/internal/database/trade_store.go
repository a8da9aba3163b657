package database

import (
	"context"
	"fmt"

	"github.com/user/vitrader/backend/internal/models"
)

// GetUserTrades returns a user's trade history, newest first.
func (s *Store) GetUserTrades(ctx context.Context, userID int64) ([]*models.TradeView, error) {
	trades := make([]*models.TradeView, 0)
	query := `SELECT ab.ticker, asold.ticker, t.amount_bought, t.amount_sold, t.executed_at
			  FROM trades t
			  JOIN assets ab ON ab.id = t.asset_bought_id
			  JOIN assets asold ON asold.id = t.asset_sold_id
			  WHERE t.user_id = $1
			  ORDER BY t.executed_at DESC, t.id DESC`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying trades for user %d: %w", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		tv := &models.TradeView{}
		err := rows.Scan(&tv.TickerBought, &tv.TickerSold, &tv.AmountBought, &tv.AmountSold, &tv.ExecutedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning trade row for user %d: %w", userID, err)
		}
		trades = append(trades, tv)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error iterating trade rows for user %d: %w", userID, rows.Err())
	}
	return trades, nil
}

// CountUserTrades is used to check the trade log only ever grows.
func (s *Store) CountUserTrades(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM trades WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("error counting trades for user %d: %w", userID, err)
	}
	return n, nil
}
