package entity

import "time"

// ValuationMethod names a registered valuation strategy.
type ValuationMethod string

const (
	ValuationFIFO          ValuationMethod = "FIFO"
	ValuationMovingAverage ValuationMethod = "Moving Average"
)

// ItemSettings is the read-only item master data the ledger depends on.
type ItemSettings struct {
	Code               string          `db:"code" json:"code"`
	ItemGroup          string          `db:"item_group" json:"itemGroup"`
	StockUOM           string          `db:"stock_uom" json:"stockUom"`
	ValuationMethod    ValuationMethod `db:"valuation_method" json:"valuationMethod,omitempty"`
	HasBatchNo         bool            `db:"has_batch_no" json:"hasBatchNo"`
	BatchWiseValuation bool            `db:"batch_wise_valuation" json:"batchWiseValuation"`
	AllowNegativeStock *bool           `db:"allow_negative_stock" json:"allowNegativeStock,omitempty"`
}

// WarehouseSettings is the read-only warehouse master data.
type WarehouseSettings struct {
	Name               string `db:"name" json:"name"`
	Company            string `db:"company" json:"company"`
	WarehouseType      string `db:"warehouse_type" json:"warehouseType,omitempty"`
	StockAccount       string `db:"stock_account" json:"stockAccount,omitempty"`
	AllowNegativeStock *bool  `db:"allow_negative_stock" json:"allowNegativeStock,omitempty"`
}

// CompanySettings holds per-company stock policy.
type CompanySettings struct {
	Name                   string          `db:"name" json:"name"`
	DefaultValuationMethod ValuationMethod `db:"default_valuation_method" json:"defaultValuationMethod"`
	DefaultStockAccount    string          `db:"default_stock_account" json:"defaultStockAccount"`
	AllowNegativeStock     *bool           `db:"allow_negative_stock" json:"allowNegativeStock,omitempty"`
	StockFrozenUpTo        *time.Time      `db:"stock_frozen_upto" json:"stockFrozenUpTo,omitempty"`
	StockFrozenDays        int             `db:"stock_frozen_days" json:"stockFrozenDays"`
	OpeningAccounts        []string        `db:"opening_accounts" json:"openingAccounts,omitempty"`
}

// IsOpeningAccount reports whether account may carry opening balances.
func (c *CompanySettings) IsOpeningAccount(account string) bool {
	for _, a := range c.OpeningAccounts {
		if a == account {
			return true
		}
	}
	return false
}
