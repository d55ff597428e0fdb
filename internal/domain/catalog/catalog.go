// Package catalog exposes the read-only master data the ledger depends on.
// Maintaining items, warehouses and companies is outside this service.
package catalog

import (
	"context"

	"stockledger/internal/core/entity"
)

// Reader loads settings by natural key. Missing records return apperror NotFound.
type Reader interface {
	Item(ctx context.Context, code string) (*entity.ItemSettings, error)
	Warehouse(ctx context.Context, name string) (*entity.WarehouseSettings, error)
	Company(ctx context.Context, name string) (*entity.CompanySettings, error)
}

// ValuationMethod resolves the costing method of an item: item setting,
// then company default, then FIFO.
func ValuationMethod(item *entity.ItemSettings, company *entity.CompanySettings) entity.ValuationMethod {
	if item != nil && item.ValuationMethod != "" {
		return item.ValuationMethod
	}
	if company != nil && company.DefaultValuationMethod != "" {
		return company.DefaultValuationMethod
	}
	return entity.ValuationFIFO
}

// StockAccount resolves the account hint for value-change facts.
func StockAccount(wh *entity.WarehouseSettings, company *entity.CompanySettings) string {
	if wh != nil && wh.StockAccount != "" {
		return wh.StockAccount
	}
	if company != nil {
		return company.DefaultStockAccount
	}
	return ""
}

// Scope bundles the settings of one ledger key.
type Scope struct {
	Item      *entity.ItemSettings
	Warehouse *entity.WarehouseSettings
	Company   *entity.CompanySettings
}

// Cached memoizes lookups for the lifetime of one operation.
type Cached struct {
	reader     Reader
	items      map[string]*entity.ItemSettings
	warehouses map[string]*entity.WarehouseSettings
	companies  map[string]*entity.CompanySettings
}

// NewCached wraps reader with a per-operation memo.
func NewCached(reader Reader) *Cached {
	return &Cached{
		reader:     reader,
		items:      make(map[string]*entity.ItemSettings),
		warehouses: make(map[string]*entity.WarehouseSettings),
		companies:  make(map[string]*entity.CompanySettings),
	}
}

func (c *Cached) Item(ctx context.Context, code string) (*entity.ItemSettings, error) {
	if v, ok := c.items[code]; ok {
		return v, nil
	}
	v, err := c.reader.Item(ctx, code)
	if err != nil {
		return nil, err
	}
	c.items[code] = v
	return v, nil
}

func (c *Cached) Warehouse(ctx context.Context, name string) (*entity.WarehouseSettings, error) {
	if v, ok := c.warehouses[name]; ok {
		return v, nil
	}
	v, err := c.reader.Warehouse(ctx, name)
	if err != nil {
		return nil, err
	}
	c.warehouses[name] = v
	return v, nil
}

func (c *Cached) Company(ctx context.Context, name string) (*entity.CompanySettings, error) {
	if v, ok := c.companies[name]; ok {
		return v, nil
	}
	v, err := c.reader.Company(ctx, name)
	if err != nil {
		return nil, err
	}
	c.companies[name] = v
	return v, nil
}

// Scope loads the settings of one key.
func (c *Cached) Scope(ctx context.Context, company, item, warehouse string) (Scope, error) {
	var (
		s   Scope
		err error
	)
	if s.Item, err = c.Item(ctx, item); err != nil {
		return s, err
	}
	if s.Warehouse, err = c.Warehouse(ctx, warehouse); err != nil {
		return s, err
	}
	if s.Company, err = c.Company(ctx, company); err != nil {
		return s, err
	}
	return s, nil
}
