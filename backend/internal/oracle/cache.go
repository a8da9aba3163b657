package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/user/vitrader/backend/internal/conf"
)

// NewRedisClient connects and pings. The caller owns Close.
func NewRedisClient(ctx context.Context, cfg conf.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Address, err)
	}
	return client, nil
}

// Cache keeps recent prices in redis under price:<asset>. Any redis failure
// falls through to the wrapped source.
type Cache struct {
	next   PriceSource
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewCache(next PriceSource, rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{next: next, rdb: rdb, ttl: ttl, logger: logger.Named("oracle_cache")}
}

func cacheKey(asset string) string { return "price:" + asset }

func (c *Cache) Price(ctx context.Context, asset string) (decimal.Decimal, error) {
	key := cacheKey(asset)

	cached, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if price, perr := decimal.NewFromString(cached); perr == nil && price.IsPositive() {
			return price, nil
		}
		c.logger.Warn("discarding malformed cached price", zap.String("key", key), zap.String("value", cached))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("price cache read failed", zap.String("key", key), zap.Error(err))
	}

	price, err := c.next.Price(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.rdb.Set(ctx, key, price.String(), c.ttl).Err(); err != nil {
		c.logger.Warn("price cache write failed", zap.String("key", key), zap.Error(err))
	}
	return price, nil
}
