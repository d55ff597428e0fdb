package memory

import (
	"context"
	"sort"
	"time"

	"stockledger/internal/core/entity"
	"stockledger/internal/domain/ledger"
)

// LedgerRepo implements ledger.Repository.
type LedgerRepo struct {
	store *Store
}

// NewLedgerRepo creates a ledger repository over store.
func NewLedgerRepo(store *Store) *LedgerRepo {
	return &LedgerRepo{store: store}
}

// keyEntries returns live entries of key in ledger order. Callers hold the lock.
func (r *LedgerRepo) keyEntries(key entity.LedgerKey) []*entity.StockLedgerEntry {
	var out []*entity.StockLedgerEntry
	for _, e := range r.store.data.entries {
		if !e.IsCancelled && e.Key() == key {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []*entity.StockLedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Position().Before(entries[j].Position())
	})
}

func (r *LedgerRepo) GetPrevious(ctx context.Context, key entity.LedgerKey, pos entity.Position) (*entity.StockLedgerEntry, error) {
	defer r.store.rlock(ctx)()

	var prev *entity.StockLedgerEntry
	for _, e := range r.keyEntries(key) {
		if !e.Position().Before(pos) {
			break
		}
		prev = e
	}
	if prev == nil {
		return nil, nil
	}
	return cloneEntry(prev), nil
}

func (r *LedgerRepo) GetFollowing(ctx context.Context, key entity.LedgerKey, pos entity.Position) ([]entity.StockLedgerEntry, error) {
	defer r.store.rlock(ctx)()

	var out []entity.StockLedgerEntry
	for _, e := range r.keyEntries(key) {
		if pos.Before(e.Position()) {
			out = append(out, *cloneEntry(e))
		}
	}
	return out, nil
}

func (r *LedgerRepo) LatestPerKey(ctx context.Context, itemCode, warehouse string, asOf time.Time) ([]entity.StockLedgerEntry, error) {
	defer r.store.rlock(ctx)()

	end := ledger.EndOf(asOf)
	latest := make(map[entity.LedgerKey]*entity.StockLedgerEntry)
	for _, e := range r.store.data.entries {
		if e.IsCancelled || e.ItemCode != itemCode || e.Warehouse != warehouse || !e.Position().Before(end) {
			continue
		}
		k := e.Key()
		if cur, ok := latest[k]; !ok || cur.Position().Before(e.Position()) {
			latest[k] = e
		}
	}

	out := make([]entity.StockLedgerEntry, 0, len(latest))
	for _, e := range latest {
		out = append(out, *cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out, nil
}

func (r *LedgerRepo) ListByVoucher(ctx context.Context, voucherType, voucherNo string, includeCancelled bool) ([]entity.StockLedgerEntry, error) {
	defer r.store.rlock(ctx)()

	var out []entity.StockLedgerEntry
	for _, e := range r.store.data.entries {
		if e.VoucherType != voucherType || e.VoucherNo != voucherNo {
			continue
		}
		if e.IsCancelled && !includeCancelled {
			continue
		}
		out = append(out, *cloneEntry(e))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *LedgerRepo) List(ctx context.Context, filter ledger.EntryFilter) ([]entity.StockLedgerEntry, error) {
	defer r.store.rlock(ctx)()

	var matched []*entity.StockLedgerEntry
	for _, e := range r.store.data.entries {
		if filter.Matches(e) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Key() != b.Key() {
			return a.Key().Less(b.Key())
		}
		return a.Position().Before(b.Position())
	})

	out := make([]entity.StockLedgerEntry, len(matched))
	for i, e := range matched {
		out[i] = *cloneEntry(e)
	}
	return out, nil
}

func (r *LedgerRepo) Insert(ctx context.Context, e *entity.StockLedgerEntry) error {
	defer r.store.lock(ctx)()

	r.store.data.seq++
	e.Seq = r.store.data.seq
	for i := range e.Lots {
		e.Lots[i].EntryID = e.ID
	}
	r.store.data.entries = append(r.store.data.entries, cloneEntry(e))
	return nil
}

func (r *LedgerRepo) UpdateRunningValues(ctx context.Context, entries []entity.StockLedgerEntry) error {
	defer r.store.lock(ctx)()

	byID := make(map[string]*entity.StockLedgerEntry, len(entries))
	for i := range entries {
		byID[entries[i].ID.String()] = &entries[i]
	}
	for _, e := range r.store.data.entries {
		u, ok := byID[e.ID.String()]
		if !ok {
			continue
		}
		e.QtyAfterTransaction = u.QtyAfterTransaction
		e.ValuationRate = u.ValuationRate
		e.StockValue = u.StockValue
		e.StockValueDifference = u.StockValueDifference
		e.StockQueue = u.StockQueue.Clone()
	}
	return nil
}

func (r *LedgerRepo) MarkCancelled(ctx context.Context, voucherType, voucherNo string) ([]entity.StockLedgerEntry, error) {
	defer r.store.lock(ctx)()

	var out []entity.StockLedgerEntry
	for _, e := range r.store.data.entries {
		if e.VoucherType != voucherType || e.VoucherNo != voucherNo || e.IsCancelled {
			continue
		}
		e.IsCancelled = true
		out = append(out, *cloneEntry(e))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

var _ ledger.Repository = (*LedgerRepo)(nil)
