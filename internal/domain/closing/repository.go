// Package closing materializes stock balance snapshots over a date range so
// that replays and reports can start from the snapshot instead of the first entry.
package closing

import (
	"context"
	"time"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/ledger"
)

// Repository persists closing entries and their balance rows.
type Repository interface {
	Create(ctx context.Context, c *entity.StockClosingEntry) error
	Get(ctx context.Context, closingID id.ID) (*entity.StockClosingEntry, error)
	// Update saves status, stale flag and error.
	Update(ctx context.Context, c *entity.StockClosingEntry) error

	// FindOverlapping returns non-cancelled closings of company with the same
	// filters whose range intersects [from, to].
	FindOverlapping(ctx context.Context, company string, from, to time.Time, filters entity.ClosingFilters) ([]entity.StockClosingEntry, error)
	// FindPrevious returns the usable closing with the same filters ending on toDate, or nil.
	FindPrevious(ctx context.Context, company string, filters entity.ClosingFilters, toDate time.Time) (*entity.StockClosingEntry, error)
	// ListUsable returns completed, non-stale closings whose boundary is at or
	// before the given instant, newest first.
	ListUsable(ctx context.Context, company string, before time.Time) ([]entity.StockClosingEntry, error)
	// MarkStale flags queued, running and completed closings of company that
	// cover the scope and end on or after the day of from.
	MarkStale(ctx context.Context, company string, from time.Time, scope ledger.ClosingScope) (int, error)
	// ListByCompany returns closings ordered by from_date descending.
	ListByCompany(ctx context.Context, company string, limit int) ([]entity.StockClosingEntry, error)

	ReplaceBalances(ctx context.Context, closingID id.ID, rows []entity.StockClosingBalance) error
	DeleteBalances(ctx context.Context, closingID id.ID) (int, error)
	ListBalances(ctx context.Context, closingID id.ID) ([]entity.StockClosingBalance, error)
	// ValuationRow returns the valuation-key row of a closing, or nil.
	ValuationRow(ctx context.Context, closingID id.ID, key entity.LedgerKey) (*entity.StockClosingBalance, error)
}

// Scheduler hands closing ids to the background worker.
type Scheduler interface {
	EnqueueClosing(ctx context.Context, closingID id.ID) error
}

// ScopeMatches reports whether a change to scope can affect a closing with filters f.
func ScopeMatches(f entity.ClosingFilters, scope ledger.ClosingScope) bool {
	return f.Matches(
		entity.ItemSettings{Code: scope.ItemCode, ItemGroup: scope.ItemGroup},
		entity.WarehouseSettings{Name: scope.Warehouse, WarehouseType: scope.WarehouseType},
	)
}
