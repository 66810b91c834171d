package blacklist

import (
	"context"
	"time"

	"github.com/campuskit/authcore/services/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "authcore:blacklist:"

// Cache is a Redis-backed accelerator for the hot IsBlacklisted read path.
// It is purely advisory: the database ledger remains authoritative, and a
// cache failure degrades to a ledger lookup.
type Cache struct {
	client  redis.UniversalClient
	ttl     time.Duration
	timeout time.Duration
	logger  *logging.Service
}

func NewCache(client redis.UniversalClient, ttl time.Duration, logger *logging.Service) *Cache {
	return &Cache{
		client:  client,
		ttl:     ttl,
		timeout: 250 * time.Millisecond,
		logger:  logger,
	}
}

func (c *Cache) MarkRevoked(jti string, tokenTTL time.Duration) {
	ttl := c.ttl
	if tokenTTL > 0 && tokenTTL < ttl {
		ttl = tokenTTL
	}
	if ttl <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.client.Set(ctx, cacheKeyPrefix+jti, "1", ttl).Err(); err != nil && c.logger != nil {
		c.logger.Warn("failed to cache revoked jti",
			zap.String("jti", jti),
			zap.Error(err))
	}
}

func (c *Cache) IsRevoked(jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	_, err := c.client.Get(ctx, cacheKeyPrefix+jti).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		if c.logger != nil {
			c.logger.Warn("blacklist cache lookup failed", zap.Error(err))
		}
		return false, err
	}
	return true, nil
}
