package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"stockledger/internal/core/entity"
	"stockledger/internal/domain/ledger"
	"stockledger/pkg/logger"
)

const balanceKeyPrefix = "balance:"

// BalanceCache shadows the latest balance of hot keys in Redis.
// Financial postings never read it; it serves AllowCached balance queries.
type BalanceCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewBalanceCache instantiates the cache.
func NewBalanceCache(client redis.UniversalClient, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(key entity.LedgerKey) string {
	return balanceKeyPrefix + key.String()
}

// Get returns a cached balance. Misses and Redis errors both report false.
func (c *BalanceCache) Get(ctx context.Context, key entity.LedgerKey) (*ledger.Balance, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, balanceKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn(ctx, "balance cache read failed", "key", key.String(), "error", err)
		}
		return nil, false
	}
	var b ledger.Balance
	if err := json.Unmarshal(raw, &b); err != nil {
		logger.Warn(ctx, "balance cache entry corrupt", "key", key.String(), "error", err)
		return nil, false
	}
	return &b, true
}

// Set stores a balance with the configured TTL.
func (c *BalanceCache) Set(ctx context.Context, key entity.LedgerKey, b *ledger.Balance) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, balanceKey(key), raw, c.ttl).Err(); err != nil {
		logger.Warn(ctx, "balance cache write failed", "key", key.String(), "error", err)
	}
}

// Invalidate drops the cached balances of keys.
func (c *BalanceCache) Invalidate(ctx context.Context, keys []entity.LedgerKey) {
	if c == nil || c.client == nil || len(keys) == 0 {
		return
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = balanceKey(k)
	}
	if err := c.client.Del(ctx, names...).Err(); err != nil {
		logger.Warn(ctx, "balance cache invalidation failed", "keys", len(keys), "error", err)
	}
}

var _ ledger.BalanceCache = (*BalanceCache)(nil)
