// Package oracle fetches spot prices in USD for assets identified by their
// oracle name (e.g. "bitcoin").
package oracle

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/user/vitrader/backend/internal/apperr"
	"github.com/user/vitrader/backend/internal/conf"
)

// PriceSource returns the current price of one unit of asset.
type PriceSource interface {
	Price(ctx context.Context, asset string) (decimal.Decimal, error)
}

// Client queries a CoinGecko-compatible /simple/price endpoint.
type Client struct {
	client *resty.Client
	logger *zap.Logger
}

func NewClient(cfg conf.Oracle, logger *zap.Logger) *Client {
	host := strings.TrimSuffix(cfg.BaseURL, "/")
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		})

	return &Client{client: client, logger: logger.Named("oracle")}
}

// simplePrice is {"bitcoin": {"usd": 64000.12}}.
type simplePrice map[string]map[string]decimal.Decimal

func (c *Client) Price(ctx context.Context, asset string) (decimal.Decimal, error) {
	var out simplePrice
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("ids", asset).
		SetQueryParam("vs_currencies", "usd").
		SetResult(&out).
		Get("/simple/price")
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: price request for %s: %v", apperr.ErrCollaborator, asset, err)
	}
	if !resp.IsSuccess() {
		return decimal.Zero, fmt.Errorf("%w: price request for %s: http %d", apperr.ErrCollaborator, asset, resp.StatusCode())
	}

	quotes, ok := out[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", apperr.ErrCollaborator, asset)
	}
	price, ok := quotes["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no usd price for %s", apperr.ErrCollaborator, asset)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price %s for %s", apperr.ErrCollaborator, price, asset)
	}

	c.logger.Debug("price fetched", zap.String("asset", asset), zap.String("usd", price.String()))
	return price, nil
}
