package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StorageDriver)
	assert.Equal(t, LockLocal, cfg.LockDriver)
	assert.Equal(t, 1000, cfg.InlineRepostLimit)
	assert.Equal(t, "0 2 1 * *", cfg.ClosingCron)
	assert.False(t, cfg.QueueEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("LOCK_DRIVER", "redis")
	t.Setenv("STOCK_FROZEN_UPTO", "2024-03-31")
	t.Setenv("CLOSING_COMPANIES", "Acme,Globex")
	t.Setenv("BALANCE_CACHE_TTL", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.QueueEnabled())
	assert.Equal(t, []string{"Acme", "Globex"}, cfg.ClosingCompanies)
	assert.Equal(t, 30*time.Second, cfg.BalanceCacheTTL)

	frozen, err := cfg.FrozenUpTo()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), frozen)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown storage", map[string]string{"STORAGE_DRIVER": "sqlite"}},
		{"redis lock without addr", map[string]string{"STORAGE_DRIVER": "memory", "LOCK_DRIVER": "redis"}},
		{"unknown lock", map[string]string{"STORAGE_DRIVER": "memory", "LOCK_DRIVER": "etcd"}},
		{"bad freeze date", map[string]string{"STORAGE_DRIVER": "memory", "STOCK_FROZEN_UPTO": "31/03/2024"}},
		{"zero inline limit", map[string]string{"STORAGE_DRIVER": "memory", "INLINE_REPOST_LIMIT": "0"}},
		{"negative frozen days", map[string]string{"STORAGE_DRIVER": "memory", "STOCK_FROZEN_DAYS": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
