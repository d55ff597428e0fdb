package entity

import (
	"strings"
	"time"

	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

// ClosingStatus tracks the lifecycle of a stock closing entry.
type ClosingStatus string

const (
	ClosingDraft      ClosingStatus = "Draft"
	ClosingQueued     ClosingStatus = "Queued"
	ClosingInProgress ClosingStatus = "In Progress"
	ClosingCompleted  ClosingStatus = "Completed"
	ClosingFailed     ClosingStatus = "Failed"
	ClosingCancelled  ClosingStatus = "Cancelled"
)

// ClosingFilters narrows the scope of a closing below the company.
type ClosingFilters struct {
	Warehouse     string `db:"warehouse" json:"warehouse,omitempty"`
	ItemCode      string `db:"item_code" json:"itemCode,omitempty"`
	ItemGroup     string `db:"item_group" json:"itemGroup,omitempty"`
	WarehouseType string `db:"warehouse_type" json:"warehouseType,omitempty"`
}

// Matches reports whether an item/warehouse pair falls into the scope.
func (f ClosingFilters) Matches(item ItemSettings, wh WarehouseSettings) bool {
	if f.Warehouse != "" && f.Warehouse != wh.Name {
		return false
	}
	if f.ItemCode != "" && f.ItemCode != item.Code {
		return false
	}
	if f.ItemGroup != "" && f.ItemGroup != item.ItemGroup {
		return false
	}
	if f.WarehouseType != "" && f.WarehouseType != wh.WarehouseType {
		return false
	}
	return true
}

// StockClosingEntry requests a balance snapshot over [FromDate, ToDate].
type StockClosingEntry struct {
	ID       id.ID     `db:"id" json:"id"`
	Company  string    `db:"company" json:"company"`
	FromDate time.Time `db:"from_date" json:"fromDate"`
	ToDate   time.Time `db:"to_date" json:"toDate"`
	ClosingFilters
	Status ClosingStatus `db:"status" json:"status"`
	// Stale is set when the ledger changed inside or before the covered range
	// after the snapshot was built. Stale snapshots are not used as baselines.
	Stale     bool      `db:"stale" json:"stale"`
	Error     string    `db:"error" json:"error,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Boundary is the first instant after the covered range.
func (c *StockClosingEntry) Boundary() time.Time {
	return c.ToDate.AddDate(0, 0, 1)
}

// Overlaps reports whether [from, to] intersects the entry's range.
func (c *StockClosingEntry) Overlaps(from, to time.Time) bool {
	return !from.After(c.ToDate) && !to.Before(c.FromDate)
}

// UsableBaseline reports whether the snapshot may seed a replay.
func (c *StockClosingEntry) UsableBaseline() bool {
	return c.Status == ClosingCompleted && !c.Stale
}

// DimensionBatchPrefix prefixes the dimension key of per-batch closing rows.
const DimensionBatchPrefix = "batch:"

// BatchDimension returns the dimension key for a batch row.
func BatchDimension(batchNo string) string {
	return DimensionBatchPrefix + batchNo
}

// StockClosingBalance is one snapshot row as of the parent entry's to_date.
// DimensionKey is empty for valuation-key rows and "batch:<no>" for batch rows.
type StockClosingBalance struct {
	ClosingEntryID       id.ID          `db:"closing_entry_id" json:"closingEntryId"`
	Company              string         `db:"company" json:"company"`
	ItemCode             string         `db:"item_code" json:"itemCode"`
	Warehouse            string         `db:"warehouse" json:"warehouse"`
	BatchNo              string         `db:"batch_no" json:"batchNo,omitempty"`
	DimensionKey         string         `db:"dimension_key" json:"dimensionKey,omitempty"`
	ActualQty            types.Quantity `db:"actual_qty" json:"actualQty"`
	StockValueDifference types.Money    `db:"stock_value_difference" json:"stockValueDifference"`
	ValuationRate        types.Money    `db:"valuation_rate" json:"valuationRate"`
	StockUOM             string         `db:"stock_uom" json:"stockUom"`
	FIFOQueue            Queue          `db:"fifo_queue" json:"fifoQueue,omitempty"`
	PostingDate          time.Time      `db:"posting_date" json:"postingDate"`
}

// IsBatchRow reports whether the row is a per-batch dimension row.
func (b *StockClosingBalance) IsBatchRow() bool {
	return strings.HasPrefix(b.DimensionKey, DimensionBatchPrefix)
}

// Key returns the valuation key of a valuation row.
func (b *StockClosingBalance) Key() LedgerKey {
	return LedgerKey{ItemCode: b.ItemCode, Warehouse: b.Warehouse, BatchNo: b.BatchNo}
}
