package reports

import (
	"context"
	"time"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/ledger"
)

// EntrySource reads ledger entries for range scans.
type EntrySource interface {
	List(ctx context.Context, filter ledger.EntryFilter) ([]entity.StockLedgerEntry, error)
}

// ClosingSource reads closing snapshots used as opening figures.
type ClosingSource interface {
	ListUsable(ctx context.Context, company string, before time.Time) ([]entity.StockClosingEntry, error)
	ListBalances(ctx context.Context, closingID id.ID) ([]entity.StockClosingBalance, error)
}
