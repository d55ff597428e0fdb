// Package cache holds the read caches of the ledger: master data memoized
// until PostgreSQL announces a change, and posted balances kept in Redis.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"stockledger/internal/core/entity"
	"stockledger/internal/domain/catalog"
	"stockledger/pkg/logger"
)

// CatalogChannel is notified by the triggers on the settings tables. The
// payload is "item:<code>", "warehouse:<name>", "company:<name>", or empty
// when everything may have changed.
const CatalogChannel = "catalog_changed"

const (
	listenRetry = time.Second
	listenPoll  = 30 * time.Second
)

// memo is a copy-on-read map of settings records.
type memo[T any] struct {
	mu sync.RWMutex
	m  map[string]*T
}

func (m *memo[T]) get(ctx context.Context, key string, load func(context.Context, string) (*T, error)) (*T, error) {
	m.mu.RLock()
	v, ok := m.m[key]
	m.mu.RUnlock()
	if !ok {
		var err error
		if v, err = load(ctx, key); err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.m == nil {
			m.m = make(map[string]*T)
		}
		m.m[key] = v
		m.mu.Unlock()
	}
	cp := *v
	return &cp, nil
}

func (m *memo[T]) drop(key string) {
	m.mu.Lock()
	delete(m.m, key)
	m.mu.Unlock()
}

func (m *memo[T]) reset() {
	m.mu.Lock()
	m.m = nil
	m.mu.Unlock()
}

// CatalogCache is a catalog.Reader that memoizes item, warehouse and company
// settings. Posting reads them for every line.
type CatalogCache struct {
	source catalog.Reader
	pool   *pgxpool.Pool

	items      memo[entity.ItemSettings]
	warehouses memo[entity.WarehouseSettings]
	companies  memo[entity.CompanySettings]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCatalogCache wraps source. Without a pool entries live until Invalidate.
func NewCatalogCache(source catalog.Reader, pool *pgxpool.Pool) *CatalogCache {
	return &CatalogCache{source: source, pool: pool}
}

func (c *CatalogCache) Item(ctx context.Context, code string) (*entity.ItemSettings, error) {
	return c.items.get(ctx, code, c.source.Item)
}

func (c *CatalogCache) Warehouse(ctx context.Context, name string) (*entity.WarehouseSettings, error) {
	return c.warehouses.get(ctx, name, c.source.Warehouse)
}

func (c *CatalogCache) Company(ctx context.Context, name string) (*entity.CompanySettings, error) {
	return c.companies.get(ctx, name, c.source.Company)
}

// Invalidate applies one notification payload. Unknown kinds clear everything.
func (c *CatalogCache) Invalidate(payload string) {
	kind, name, _ := strings.Cut(strings.TrimSpace(payload), ":")
	switch kind {
	case "item":
		c.items.drop(name)
	case "warehouse":
		c.warehouses.drop(name)
	case "company":
		c.companies.drop(name)
	default:
		c.items.reset()
		c.warehouses.reset()
		c.companies.reset()
	}
}

// Start listens on CatalogChannel until Stop. It is a no-op without a pool.
func (c *CatalogCache) Start(ctx context.Context) error {
	if c.pool == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.listen(ctx, c.done)
	logger.Info(ctx, "catalog cache listening", "channel", CatalogChannel)
	return nil
}

func (c *CatalogCache) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *CatalogCache) listen(ctx context.Context, done chan struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		if err := c.session(ctx); err != nil && ctx.Err() == nil {
			logger.Warn(ctx, "catalog listener dropped", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(listenRetry):
			}
		}
	}
}

// session holds one LISTEN connection until it fails or ctx ends.
func (c *CatalogCache) session(ctx context.Context) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, "LISTEN "+CatalogChannel); err != nil {
		return err
	}
	// changes made while nobody listened are unknown
	c.Invalidate("")

	for {
		wctx, cancel := context.WithTimeout(ctx, listenPoll)
		n, err := conn.Conn().WaitForNotification(wctx)
		cancel()
		switch {
		case ctx.Err() != nil:
			return nil
		case err == nil:
			logger.Debug(ctx, "catalog changed", "payload", n.Payload)
			c.Invalidate(n.Payload)
		case conn.Conn().IsClosed():
			return err
		}
	}
}

var _ catalog.Reader = (*CatalogCache)(nil)
