// Package ledger provides the stock ledger: the append-mostly store of stock
// ledger entries and the service that posts and cancels vouchers against it.
package ledger

import (
	"context"
	"math"
	"time"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
)

// Repository persists stock ledger entries. All reads exclude cancelled entries
// unless stated otherwise, and return entries in ledger order
// (posting time, creation time, sequence).
type Repository interface {
	// Ordered access per key

	// GetPrevious returns the last entry strictly before pos, or nil.
	GetPrevious(ctx context.Context, key entity.LedgerKey, pos entity.Position) (*entity.StockLedgerEntry, error)

	// GetFollowing returns every entry strictly after pos.
	GetFollowing(ctx context.Context, key entity.LedgerKey, pos entity.Position) ([]entity.StockLedgerEntry, error)

	// LatestPerKey returns the last entry at or before asOf for every batch key of item+warehouse.
	LatestPerKey(ctx context.Context, itemCode, warehouse string, asOf time.Time) ([]entity.StockLedgerEntry, error)

	// Voucher access

	// ListByVoucher returns the entries a voucher produced.
	ListByVoucher(ctx context.Context, voucherType, voucherNo string, includeCancelled bool) ([]entity.StockLedgerEntry, error)

	// Range scans for closing and reports

	// List returns entries matching filter ordered by key, then ledger order. Lots are loaded.
	List(ctx context.Context, filter EntryFilter) ([]entity.StockLedgerEntry, error)

	// Writes

	// Insert stores a new entry with its lots and assigns Seq.
	Insert(ctx context.Context, e *entity.StockLedgerEntry) error

	// UpdateRunningValues rewrites derived fields of existing entries in place.
	UpdateRunningValues(ctx context.Context, entries []entity.StockLedgerEntry) error

	// MarkCancelled flags a voucher's entries cancelled and returns them.
	MarkCancelled(ctx context.Context, voucherType, voucherNo string) ([]entity.StockLedgerEntry, error)
}

// EntryFilter selects entries for range scans. From is inclusive, To is exclusive.
type EntryFilter struct {
	Company   string
	ItemCode  string
	Warehouse string
	From      time.Time
	To        time.Time
}

// Matches applies the filter in memory.
func (f EntryFilter) Matches(e *entity.StockLedgerEntry) bool {
	if e.IsCancelled {
		return false
	}
	if f.Company != "" && e.Company != f.Company {
		return false
	}
	if f.ItemCode != "" && e.ItemCode != f.ItemCode {
		return false
	}
	if f.Warehouse != "" && e.Warehouse != f.Warehouse {
		return false
	}
	if !f.From.IsZero() && e.PostingAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.PostingAt.Before(f.To) {
		return false
	}
	return true
}

var endOfTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// EndOf returns the position after every entry posted at or before t.
// A zero t means "now and forever".
func EndOf(t time.Time) entity.Position {
	if t.IsZero() {
		t = endOfTime
	}
	return entity.Position{PostingAt: t, CreatedAt: endOfTime, Seq: math.MaxInt64}
}

// StartOf returns the position before every entry posted at or after t.
func StartOf(t time.Time) entity.Position {
	return entity.Position{PostingAt: t}
}

// Balance is a point-in-time position of an item in a warehouse (optionally a batch).
type Balance struct {
	ItemCode      string         `json:"itemCode"`
	Warehouse     string         `json:"warehouse"`
	BatchNo       string         `json:"batchNo,omitempty"`
	AsOf          time.Time      `json:"asOf"`
	Qty           types.Quantity `json:"qty"`
	Value         types.Money    `json:"value"`
	ValuationRate types.Money    `json:"valuationRate"`
}

// BalanceCache shadows current balances for non-financial reads.
type BalanceCache interface {
	Get(ctx context.Context, key entity.LedgerKey) (*Balance, bool)
	Set(ctx context.Context, key entity.LedgerKey, b *Balance)
	Invalidate(ctx context.Context, keys []entity.LedgerKey)
}

// ClosingMarker flags completed closings whose range a mutation reached.
type ClosingMarker interface {
	MarkStale(ctx context.Context, company string, from time.Time, scope ClosingScope) (int, error)
}

// ClosingScope identifies the key whose history changed.
type ClosingScope struct {
	ItemCode      string
	ItemGroup     string
	Warehouse     string
	WarehouseType string
}
