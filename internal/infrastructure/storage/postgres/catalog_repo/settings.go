// Package catalog_repo provides read access to item, warehouse and company
// master data, plus upserts used by seeding and imports.
package catalog_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/infrastructure/storage/postgres"
)

const (
	itemTable      = "item"
	warehouseTable = "warehouse"
	companyTable   = "company"
)

var (
	itemColumns      = postgres.Columns[entity.ItemSettings]()
	warehouseColumns = postgres.Columns[entity.WarehouseSettings]()
	companyColumns   = postgres.Columns[entity.CompanySettings]()
)

// SettingsRepo implements catalog.Reader over the master data tables.
type SettingsRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewSettingsRepo creates a new settings repository.
func NewSettingsRepo(txm *postgres.TxManager) *SettingsRepo {
	return &SettingsRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// getOne loads a single row into dst by its natural key.
func (r *SettingsRepo) getOne(ctx context.Context, dst any, table string, cols []string, keyCol, key string) error {
	sql, args, err := r.builder.Select(cols...).
		From(table).
		Where(squirrel.Eq{keyCol: key}).
		Limit(1).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), dst, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return apperror.NewNotFound(table, key)
		}
		return fmt.Errorf("get %s: %w", table, err)
	}
	return nil
}

func (r *SettingsRepo) Item(ctx context.Context, code string) (*entity.ItemSettings, error) {
	var item entity.ItemSettings
	if err := r.getOne(ctx, &item, itemTable, itemColumns, "code", code); err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *SettingsRepo) Warehouse(ctx context.Context, name string) (*entity.WarehouseSettings, error) {
	var wh entity.WarehouseSettings
	if err := r.getOne(ctx, &wh, warehouseTable, warehouseColumns, "name", name); err != nil {
		return nil, err
	}
	return &wh, nil
}

func (r *SettingsRepo) Company(ctx context.Context, name string) (*entity.CompanySettings, error) {
	var c entity.CompanySettings
	if err := r.getOne(ctx, &c, companyTable, companyColumns, "name", name); err != nil {
		return nil, err
	}
	if c.OpeningAccounts == nil {
		c.OpeningAccounts = []string{}
	}
	return &c, nil
}

// upsert inserts v or overwrites every column but the key.
func (r *SettingsRepo) upsert(ctx context.Context, table, keyCol string, cols []string, v any) error {
	values := postgres.RowMap(v)

	set := ""
	for _, col := range cols {
		if col == keyCol {
			continue
		}
		if set != "" {
			set += ", "
		}
		set += col + " = EXCLUDED." + col
	}

	sql, args, err := r.builder.Insert(table).
		SetMap(values).
		Suffix("ON CONFLICT (" + keyCol + ") DO UPDATE SET " + set).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

// UpsertCompany creates or replaces a company.
func (r *SettingsRepo) UpsertCompany(ctx context.Context, c *entity.CompanySettings) error {
	if c.OpeningAccounts == nil {
		c.OpeningAccounts = []string{}
	}
	return r.upsert(ctx, companyTable, "name", companyColumns, c)
}

// UpsertWarehouse creates or replaces a warehouse.
func (r *SettingsRepo) UpsertWarehouse(ctx context.Context, wh *entity.WarehouseSettings) error {
	return r.upsert(ctx, warehouseTable, "name", warehouseColumns, wh)
}

// UpsertItem creates or replaces an item.
func (r *SettingsRepo) UpsertItem(ctx context.Context, item *entity.ItemSettings) error {
	return r.upsert(ctx, itemTable, "code", itemColumns, item)
}

var _ catalog.Reader = (*SettingsRepo)(nil)
