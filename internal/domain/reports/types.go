// Package reports provides read-only stock rollups built on the ledger and
// closing snapshots.
package reports

import (
	"time"

	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

// --- Batch Balance Report ---

// BatchBalanceFilter selects the batch balance report. Dates are whole days:
// the window is [FromDate, ToDate].
type BatchBalanceFilter struct {
	Company  string    `json:"company" validate:"required"`
	FromDate time.Time `json:"fromDate" validate:"required"`
	ToDate   time.Time `json:"toDate" validate:"required,gtefield=FromDate"`

	// Filters
	ItemCode  string `json:"itemCode,omitempty"`
	Warehouse string `json:"warehouse,omitempty"`
	BatchNo   string `json:"batchNo,omitempty"`
	SerialNo  string `json:"serialNo,omitempty"`

	// Exclude rows with nothing in any column
	IncludeZero bool `json:"includeZero,omitempty"`
}

// BatchBalanceRow is one item/warehouse/batch line. Out quantities and values
// are reported as positive magnitudes.
type BatchBalanceRow struct {
	ItemCode     string         `json:"itemCode"`
	Warehouse    string         `json:"warehouse"`
	BatchNo      string         `json:"batchNo"`
	StockUOM     string         `json:"stockUom,omitempty"`
	OpeningQty   types.Quantity `json:"openingQty"`
	OpeningValue types.Money    `json:"openingValue"`
	InQty        types.Quantity `json:"inQty"`
	InValue      types.Money    `json:"inValue"`
	OutQty       types.Quantity `json:"outQty"`
	OutValue     types.Money    `json:"outValue"`
	ClosingQty   types.Quantity `json:"closingQty"`
	ClosingValue types.Money    `json:"closingValue"`
}

// BatchBalanceReport is the aggregator output.
type BatchBalanceReport struct {
	FromDate time.Time         `json:"fromDate"`
	ToDate   time.Time         `json:"toDate"`
	Rows     []BatchBalanceRow `json:"rows"`
	// SeedClosingID names the closing snapshot used for opening figures, if any.
	SeedClosingID *id.ID `json:"seedClosingId,omitempty"`
}

// --- Stock Turnover Report ---

// StockTurnoverFilter selects the turnover report of valuation keys.
type StockTurnoverFilter struct {
	Company  string    `json:"company" validate:"required"`
	FromDate time.Time `json:"fromDate" validate:"required"`
	ToDate   time.Time `json:"toDate" validate:"required,gtefield=FromDate"`

	ItemCode  string `json:"itemCode,omitempty"`
	Warehouse string `json:"warehouse,omitempty"`

	IncludeZero bool `json:"includeZero,omitempty"`
}

// StockTurnoverRow represents a single row in turnover report.
type StockTurnoverRow struct {
	ItemCode     string         `json:"itemCode"`
	Warehouse    string         `json:"warehouse"`
	BatchNo      string         `json:"batchNo,omitempty"`
	OpeningQty   types.Quantity `json:"openingQty"`
	OpeningValue types.Money    `json:"openingValue"`
	ReceiptQty   types.Quantity `json:"receiptQty"`
	ReceiptValue types.Money    `json:"receiptValue"`
	IssueQty     types.Quantity `json:"issueQty"`
	IssueValue   types.Money    `json:"issueValue"`
	ClosingQty   types.Quantity `json:"closingQty"`
	ClosingValue types.Money    `json:"closingValue"`
}

// StockTurnoverReport represents the full turnover report.
type StockTurnoverReport struct {
	FromDate time.Time          `json:"fromDate"`
	ToDate   time.Time          `json:"toDate"`
	Rows     []StockTurnoverRow `json:"rows"`

	// Summary totals
	TotalOpeningValue types.Money `json:"totalOpeningValue"`
	TotalReceiptValue types.Money `json:"totalReceiptValue"`
	TotalIssueValue   types.Money `json:"totalIssueValue"`
	TotalClosingValue types.Money `json:"totalClosingValue"`
}
