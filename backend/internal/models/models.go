package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a user account
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"` // Store hash, exclude from JSON responses
	Email     string    `json:"email"`
	Activated bool      `json:"activated"`
	Admin     bool      `json:"admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Asset is a tradable coin. Name doubles as the price oracle id (e.g. "bitcoin").
type Asset struct {
	ID     int64  `json:"id"`
	Ticker string `json:"ticker"` // e.g., "BTC"
	Name   string `json:"name"`   // e.g., "bitcoin"
}

// Position is a user's holding of one asset. A row only exists while Amount > 0.
type Position struct {
	UserID  int64           `json:"user_id"`
	AssetID int64           `json:"asset_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// Trade is an append-only swap of one asset against the quote asset.
type Trade struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	AssetBoughtID int64           `json:"asset_bought_id"`
	AssetSoldID   int64           `json:"asset_sold_id"`
	AmountBought  decimal.Decimal `json:"amount_bought"`
	AmountSold    decimal.Decimal `json:"amount_sold"`
	ExecutedAt    time.Time       `json:"executed_at"`
}

// Holding is a position joined with its asset name, as returned to clients.
type Holding struct {
	AssetName string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
}

// TradeView is a trade joined with the tickers of both legs.
type TradeView struct {
	TickerBought string          `json:"ticker_bought"`
	TickerSold   string          `json:"ticker_sold"`
	AmountBought decimal.Decimal `json:"amount_bought"`
	AmountSold   decimal.Decimal `json:"amount_sold"`
	ExecutedAt   time.Time       `json:"executed_at"`
}
