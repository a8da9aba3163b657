// Package engine executes market trades against the oracle price and keeps
// positions and the trade log consistent.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/user/vitrader/backend/internal/apperr"
	"github.com/user/vitrader/backend/internal/events"
	"github.com/user/vitrader/backend/internal/ledger"
	"github.com/user/vitrader/backend/internal/models"
	"github.com/user/vitrader/backend/internal/oracle"
)

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// ParseAction accepts "buy" or "sell" in any case.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", apperr.ErrValidation, s)
	}
}

// ParseQuantity parses a decimal amount. It does not check the sign.
func ParseQuantity(s string) (decimal.Decimal, error) {
	q, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: malformed amount %q", apperr.ErrValidation, s)
	}
	return q, nil
}

type Store interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, userID int64) (*models.User, error)
	GetAssetByName(ctx context.Context, name string) (*models.Asset, error)
	InTx(ctx context.Context, fn func(ledger.Tx) error) error
}

type Options struct {
	// QuoteAsset is the oracle name of the asset every trade is priced in.
	QuoteAsset string
	DepositMin decimal.Decimal
	DepositMax decimal.Decimal
}

type Engine struct {
	store  Store
	prices oracle.PriceSource
	ledger *ledger.Ledger
	events events.Publisher
	opts   Options
	logger *zap.Logger
}

func New(store Store, prices oracle.PriceSource, pub events.Publisher, opts Options, logger *zap.Logger) *Engine {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Engine{
		store:  store,
		prices: prices,
		ledger: ledger.New(logger),
		events: pub,
		opts:   opts,
		logger: logger.Named("engine"),
	}
}

func (e *Engine) QuoteAsset() string { return e.opts.QuoteAsset }

func (e *Engine) resolveUser(ctx context.Context, username string) (*models.User, error) {
	user, err := e.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup user %s: %v", apperr.ErrCollaborator, username, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", apperr.ErrNotFound, username)
	}
	return user, nil
}

func (e *Engine) resolveUserID(ctx context.Context, userID int64) (*models.User, error) {
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup user %d: %v", apperr.ErrCollaborator, userID, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %d", apperr.ErrNotFound, userID)
	}
	return user, nil
}

func (e *Engine) resolveAsset(ctx context.Context, name string) (*models.Asset, error) {
	asset, err := e.store.GetAssetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup asset %s: %v", apperr.ErrCollaborator, name, err)
	}
	if asset == nil {
		return nil, fmt.Errorf("%w: asset %s", apperr.ErrNotFound, name)
	}
	return asset, nil
}

// ExecuteTrade buys or sells quantity of assetName against the quote asset at
// the current oracle price. Either the trade row and both position changes
// are committed together, or nothing is.
func (e *Engine) ExecuteTrade(ctx context.Context, username string, action Action, assetName string, quantity decimal.Decimal) (*models.Trade, error) {
	if err := e.checkTrade(action, assetName, quantity); err != nil {
		return nil, err
	}
	user, err := e.resolveUser(ctx, username)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, user, action, assetName, quantity)
}

// ExecuteTradeFor is ExecuteTrade keyed by user id. Callers holding a
// long-lived credential use it so a later rename cannot redirect the trade.
func (e *Engine) ExecuteTradeFor(ctx context.Context, userID int64, action Action, assetName string, quantity decimal.Decimal) (*models.Trade, error) {
	if err := e.checkTrade(action, assetName, quantity); err != nil {
		return nil, err
	}
	user, err := e.resolveUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, user, action, assetName, quantity)
}

func (e *Engine) checkTrade(action Action, assetName string, quantity decimal.Decimal) error {
	if action != ActionBuy && action != ActionSell {
		return fmt.Errorf("%w: unknown action %q", apperr.ErrValidation, action)
	}
	if !quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", apperr.ErrValidation, quantity)
	}
	if assetName == e.opts.QuoteAsset {
		return fmt.Errorf("%w: cannot trade %s against itself", apperr.ErrValidation, assetName)
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, user *models.User, action Action, assetName string, quantity decimal.Decimal) (*models.Trade, error) {
	price, err := e.prices.Price(ctx, assetName)
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", assetName, err)
	}

	asset, err := e.resolveAsset(ctx, assetName)
	if err != nil {
		return nil, err
	}
	quote, err := e.resolveAsset(ctx, e.opts.QuoteAsset)
	if err != nil {
		return nil, err
	}

	quoteAmount := quantity.Mul(price)

	trade := &models.Trade{UserID: user.ID}
	var (
		spendAsset, gainAsset   int64
		spendAmount, gainAmount decimal.Decimal
	)
	if action == ActionBuy {
		trade.AssetBoughtID, trade.AssetSoldID = asset.ID, quote.ID
		trade.AmountBought, trade.AmountSold = quantity, quoteAmount
		spendAsset, spendAmount = quote.ID, quoteAmount
		gainAsset, gainAmount = asset.ID, quantity
	} else {
		trade.AssetBoughtID, trade.AssetSoldID = quote.ID, asset.ID
		trade.AmountBought, trade.AmountSold = quoteAmount, quantity
		spendAsset, spendAmount = asset.ID, quantity
		gainAsset, gainAmount = quote.ID, quoteAmount
	}

	// Both rows are locked up front in asset id order so a concurrent buy and
	// sell of the same pair cannot wait on each other.
	lockOrder := []int64{asset.ID, quote.ID}
	if lockOrder[0] > lockOrder[1] {
		lockOrder[0], lockOrder[1] = lockOrder[1], lockOrder[0]
	}

	err = e.store.InTx(ctx, func(tx ledger.Tx) error {
		var held decimal.Decimal
		for _, assetID := range lockOrder {
			amount, err := e.ledger.Balance(ctx, tx, user.ID, assetID)
			if err != nil {
				return err
			}
			if assetID == spendAsset {
				held = amount
			}
		}
		if held.LessThan(spendAmount) {
			return fmt.Errorf("%w: need %s, hold %s", apperr.ErrInsufficientBalance, spendAmount, held)
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
		}
		if action == ActionSell {
			if err := e.ledger.DebitOrRemove(ctx, tx, user.ID, spendAsset, spendAmount); err != nil {
				return err
			}
			return e.ledger.CreditOrCreate(ctx, tx, user.ID, gainAsset, gainAmount)
		}
		if err := e.ledger.CreditOrCreate(ctx, tx, user.ID, gainAsset, gainAmount); err != nil {
			return err
		}
		return e.ledger.DebitOrRemove(ctx, tx, user.ID, spendAsset, spendAmount)
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s %s for %s: %w", action, quantity, assetName, user.Username, err)
	}

	e.logger.Info("trade executed",
		zap.Int64("trade_id", trade.ID),
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username),
		zap.String("action", string(action)),
		zap.String("asset", assetName),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()))

	if err := e.events.PublishTrade(ctx, trade); err != nil {
		e.logger.Warn("trade event not published", zap.Int64("trade_id", trade.ID), zap.Error(err))
	}
	return trade, nil
}

// Deposit credits amount of the quote asset. No trade is recorded.
func (e *Engine) Deposit(ctx context.Context, username string, amount decimal.Decimal) error {
	if err := e.checkDeposit(amount); err != nil {
		return err
	}
	user, err := e.resolveUser(ctx, username)
	if err != nil {
		return err
	}
	return e.deposit(ctx, user, amount)
}

// DepositFor is Deposit keyed by user id.
func (e *Engine) DepositFor(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if err := e.checkDeposit(amount); err != nil {
		return err
	}
	user, err := e.resolveUserID(ctx, userID)
	if err != nil {
		return err
	}
	return e.deposit(ctx, user, amount)
}

func (e *Engine) checkDeposit(amount decimal.Decimal) error {
	if amount.LessThan(e.opts.DepositMin) || amount.GreaterThan(e.opts.DepositMax) {
		return fmt.Errorf("%w: deposit must be between %s and %s", apperr.ErrValidation, e.opts.DepositMin, e.opts.DepositMax)
	}
	return nil
}

func (e *Engine) deposit(ctx context.Context, user *models.User, amount decimal.Decimal) error {
	quote, err := e.resolveAsset(ctx, e.opts.QuoteAsset)
	if err != nil {
		return err
	}

	err = e.store.InTx(ctx, func(tx ledger.Tx) error {
		return e.ledger.CreditOrCreate(ctx, tx, user.ID, quote.ID, amount)
	})
	if err != nil {
		return fmt.Errorf("deposit %s for %s: %w", amount, user.Username, err)
	}
	e.logger.Info("deposit credited",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username),
		zap.String("amount", amount.String()))
	return nil
}

// CheckQuoteAsset fails when the configured quote asset is not listed, since
// every trade and deposit would then be rejected.
func (e *Engine) CheckQuoteAsset(ctx context.Context) error {
	if _, err := e.resolveAsset(ctx, e.opts.QuoteAsset); err != nil {
		return fmt.Errorf("quote asset: %w", err)
	}
	return nil
}
