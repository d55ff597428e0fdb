package app

import (
	"context"
	"fmt"

	"stockledger/internal/core/entity"
)

// CatalogWriter stores master data. Both storage drivers implement it.
type CatalogWriter interface {
	UpsertCompany(ctx context.Context, c *entity.CompanySettings) error
	UpsertWarehouse(ctx context.Context, wh *entity.WarehouseSettings) error
	UpsertItem(ctx context.Context, item *entity.ItemSettings) error
}

// DemoCatalog is a small company with one FIFO item, one moving average item
// and one batch-wise valued item.
type DemoCatalog struct {
	Companies  []entity.CompanySettings
	Warehouses []entity.WarehouseSettings
	Items      []entity.ItemSettings
}

// NewDemoCatalog returns the fixtures loaded by SEED_DEMO and cmd/seed.
func NewDemoCatalog() DemoCatalog {
	return DemoCatalog{
		Companies: []entity.CompanySettings{{
			Name:                   "Demo Trading",
			DefaultValuationMethod: entity.ValuationFIFO,
			DefaultStockAccount:    "Stock In Hand - DT",
			OpeningAccounts:        []string{"Temporary Opening - DT"},
		}},
		Warehouses: []entity.WarehouseSettings{
			{Name: "Stores - DT", Company: "Demo Trading", WarehouseType: "Stores"},
			{Name: "Finished Goods - DT", Company: "Demo Trading", WarehouseType: "Transit", StockAccount: "Finished Goods - DT"},
		},
		Items: []entity.ItemSettings{
			{Code: "BOLT-M8", ItemGroup: "Hardware", StockUOM: "Nos", ValuationMethod: entity.ValuationFIFO},
			{Code: "OIL-5L", ItemGroup: "Consumables", StockUOM: "Ltr", ValuationMethod: entity.ValuationMovingAverage},
			{Code: "RESIN-A", ItemGroup: "Raw Material", StockUOM: "Kg", HasBatchNo: true, BatchWiseValuation: true},
		},
	}
}

// Load writes the fixtures through w, companies first.
func (d DemoCatalog) Load(ctx context.Context, w CatalogWriter) error {
	for i := range d.Companies {
		if err := w.UpsertCompany(ctx, &d.Companies[i]); err != nil {
			return fmt.Errorf("company %s: %w", d.Companies[i].Name, err)
		}
	}
	for i := range d.Warehouses {
		if err := w.UpsertWarehouse(ctx, &d.Warehouses[i]); err != nil {
			return fmt.Errorf("warehouse %s: %w", d.Warehouses[i].Name, err)
		}
	}
	for i := range d.Items {
		if err := w.UpsertItem(ctx, &d.Items[i]); err != nil {
			return fmt.Errorf("item %s: %w", d.Items[i].Code, err)
		}
	}
	return nil
}
