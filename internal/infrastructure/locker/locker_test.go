package locker

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/lock"
)

func TestLocal_ExcludesConcurrentHolders(t *testing.T) {
	l := NewLocal(time.Second)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, []string{"sle:A/W1", "sle:B/W1"})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLocal_TimesOut(t *testing.T) {
	l := NewLocal(20 * time.Millisecond)
	ctx := context.Background()

	release, err := l.Acquire(ctx, []string{"sle:A/W1"})
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(ctx, []string{"sle:A/W1"})
	assert.ErrorIs(t, err, lock.ErrNotObtained)
}

func TestLocal_PartialAcquireIsRolledBack(t *testing.T) {
	l := NewLocal(20 * time.Millisecond)
	ctx := context.Background()

	holdB, err := l.Acquire(ctx, []string{"sle:B/W1"})
	require.NoError(t, err)

	_, err = l.Acquire(ctx, []string{"sle:A/W1", "sle:B/W1"})
	require.ErrorIs(t, err, lock.ErrNotObtained)
	holdB()

	// A must be free again
	release, err := l.Acquire(ctx, []string{"sle:A/W1"})
	require.NoError(t, err)
	release()
}

func newRedis(t *testing.T, timeout time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, 10*time.Second, timeout), mr
}

func TestRedis_AcquireAndRelease(t *testing.T) {
	r, mr := newRedis(t, 100*time.Millisecond)
	ctx := context.Background()

	release, err := r.Acquire(ctx, []string{"sle:A/W1", "sle:A/W2"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:sle:A/W1"))
	assert.True(t, mr.Exists("lock:sle:A/W2"))

	_, err = r.Acquire(ctx, []string{"sle:A/W2"})
	assert.ErrorIs(t, err, lock.ErrNotObtained)

	release()
	assert.False(t, mr.Exists("lock:sle:A/W1"))

	release2, err := r.Acquire(ctx, []string{"sle:A/W2"})
	require.NoError(t, err)
	release2()
}
