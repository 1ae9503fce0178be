package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"pushsync/internal/init/cache"
)

// LedgerCache keeps the ledger as a redis list, oldest id at the head.
type LedgerCache struct {
	rdb *redis.Client
	key string
	log *slog.Logger
}

func NewLedgerCache(appCache *cache.Cache, key string, log *slog.Logger) *LedgerCache {
	return &LedgerCache{
		rdb: appCache.Client,
		key: key,
		log: log.With(slog.String("component", "ledger_redis")),
	}
}

func (c *LedgerCache) Load(ctx context.Context) ([]string, error) {
	op := "LedgerCache.Load"
	log := c.log.With(slog.String("op", op), slog.String("key", c.key))

	ids, err := c.rdb.LRange(ctx, c.key, 0, -1).Result()
	if err != nil {
		log.Error("failed to read ledger list", "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log.Debug("ledger loaded from redis", "entries", len(ids))
	return ids, nil
}

func (c *LedgerCache) Append(ctx context.Context, id string, capacity int) error {
	op := "LedgerCache.Append"

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, c.key, id)
		if capacity > 0 {
			pipe.LTrim(ctx, c.key, int64(-capacity), -1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close is a no-op: the redis client is owned by the application cache.
func (c *LedgerCache) Close() error {
	return nil
}
