package database

import (
	"context"
	"fmt"

	"github.com/user/vitrader/backend/internal/apperr"
	"github.com/user/vitrader/backend/internal/models"
)

func (s *Store) GetAssets(ctx context.Context) ([]*models.Asset, error) {
	assets := make([]*models.Asset, 0)
	rows, err := s.db.Query(ctx, `SELECT id, ticker, name FROM assets ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("error querying assets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a := &models.Asset{}
		if err := rows.Scan(&a.ID, &a.Ticker, &a.Name); err != nil {
			return nil, fmt.Errorf("error scanning asset row: %w", err)
		}
		assets = append(assets, a)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error iterating asset rows: %w", rows.Err())
	}
	return assets, nil
}

// GetAssetByName looks an asset up by its oracle name. Returns nil, nil if absent.
func (s *Store) GetAssetByName(ctx context.Context, name string) (*models.Asset, error) {
	a := &models.Asset{}
	err := s.db.QueryRow(ctx, `SELECT id, ticker, name FROM assets WHERE name = $1`, name).
		Scan(&a.ID, &a.Ticker, &a.Name)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error getting asset %s: %w", name, err)
	}
	return a, nil
}

// CreateAsset stores the ticker upper-cased. Tickers are unique regardless of case.
func (s *Store) CreateAsset(ctx context.Context, ticker, name string) (*models.Asset, error) {
	a := &models.Asset{Name: name}
	query := `INSERT INTO assets (ticker, name) VALUES (UPPER($1), $2) RETURNING id, ticker`

	err := s.db.QueryRow(ctx, query, ticker, name).Scan(&a.ID, &a.Ticker)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create asset %s: %w", ticker, ErrDuplicate)
		}
		return nil, fmt.Errorf("create asset %s: %w", ticker, err)
	}
	return a, nil
}

// DeleteAsset removes the asset matching both ticker (any case) and name,
// along with every position and trade that references it.
func (s *Store) DeleteAsset(ctx context.Context, ticker, name string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `SELECT id FROM assets WHERE lower(ticker) = lower($1) AND name = $2`, ticker, name).Scan(&id)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("%w: asset %s (%s)", apperr.ErrNotFound, ticker, name)
		}
		return fmt.Errorf("find asset %s: %w", ticker, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM trades WHERE asset_bought_id = $1 OR asset_sold_id = $1`, id); err != nil {
		return fmt.Errorf("delete trades of asset %d: %w", id, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE asset_id = $1`, id); err != nil {
		return fmt.Errorf("delete positions of asset %d: %w", id, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete asset %d: %w", id, err)
	}
	return tx.Commit(ctx)
}
