package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"stockledger/internal/core/lock"
	"stockledger/pkg/logger"
)

// Redis is a distributed lock table backed by redislock.
type Redis struct {
	client  *redislock.Client
	ttl     time.Duration
	timeout time.Duration
	backoff time.Duration
}

// NewRedis creates a Redis locker. ttl bounds how long a crashed holder can
// block a key; timeout bounds how long Acquire waits.
func NewRedis(rdb redis.UniversalClient, ttl, timeout time.Duration) *Redis {
	return &Redis{
		client:  redislock.New(rdb),
		ttl:     ttl,
		timeout: timeout,
		backoff: 50 * time.Millisecond,
	}
}

// Acquire obtains every name in order, retrying until the timeout.
func (r *Redis) Acquire(ctx context.Context, names []string) (func(), error) {
	waitCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	held := make([]*redislock.Lock, 0, len(names))
	release := func() {
		// release with a fresh context; the caller's may be done
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(relCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				logger.Warn(ctx, "release ledger lock", "key", held[i].Key(), "error", err)
			}
		}
	}

	for _, name := range names {
		l, err := r.client.Obtain(waitCtx, "lock:"+name, r.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(r.backoff),
		})
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
				return nil, lock.ErrNotObtained
			}
			return nil, fmt.Errorf("obtain %s: %w", name, err)
		}
		held = append(held, l)
	}
	return release, nil
}
