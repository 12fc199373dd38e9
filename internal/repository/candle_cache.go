package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"services/backtest-service/internal/client"
	"services/backtest-service/internal/model"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CandleCache is a CandleSource that keeps fetched series in Redis.
// Redis failures are logged and the request falls through to the source.
type CandleCache struct {
	source client.CandleSource
	redis  *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewCandleCache wraps source with a Redis cache
func NewCandleCache(source client.CandleSource, redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *CandleCache {
	return &CandleCache{
		source: source,
		redis:  redisClient,
		ttl:    ttl,
		prefix: "candles",
		logger: logger,
	}
}

// FetchCandles serves from the cache or fetches and stores the series
func (c *CandleCache) FetchCandles(
	ctx context.Context,
	market string,
	unit model.CandleUnit,
	count int,
	to *time.Time,
) ([]model.Candle, error) {
	key := c.key(market, unit, count, to)

	cached, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var candles []model.Candle
		if err := json.Unmarshal(cached, &candles); err == nil {
			c.logger.Debug("Cache hit", zap.String("cache_key", key), zap.Int("candles", len(candles)))
			return candles, nil
		}
		c.logger.Warn("Discarding unreadable cache entry", zap.String("cache_key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("Failed to read candle cache", zap.String("cache_key", key), zap.Error(err))
	}

	candles, err := c.source.FetchCandles(ctx, market, unit, count, to)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(candles)
	if err != nil {
		return candles, nil
	}
	if err := c.redis.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Error("Failed to set cache", zap.Error(err), zap.String("cache_key", key))
	} else {
		c.logger.Debug("Cache set",
			zap.String("cache_key", key),
			zap.Duration("duration", c.ttl))
	}
	return candles, nil
}

func (c *CandleCache) key(market string, unit model.CandleUnit, count int, to *time.Time) string {
	bound := "latest"
	if to != nil {
		bound = fmt.Sprint(to.UnixMilli())
	}
	return fmt.Sprintf("%s:%s:%s:%d:%s", c.prefix, market, unit, count, bound)
}
