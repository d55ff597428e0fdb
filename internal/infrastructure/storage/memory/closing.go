package memory

import (
	"context"
	"sort"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/closing"
	"stockledger/internal/domain/ledger"
)

// ClosingRepo implements closing.Repository.
type ClosingRepo struct {
	store *Store
}

// NewClosingRepo creates a closing repository over store.
func NewClosingRepo(store *Store) *ClosingRepo {
	return &ClosingRepo{store: store}
}

func (r *ClosingRepo) Create(ctx context.Context, c *entity.StockClosingEntry) error {
	defer r.store.lock(ctx)()

	cp := *c
	r.store.data.closings[c.ID] = &cp
	return nil
}

func (r *ClosingRepo) Get(ctx context.Context, closingID id.ID) (*entity.StockClosingEntry, error) {
	defer r.store.rlock(ctx)()

	c, ok := r.store.data.closings[closingID]
	if !ok {
		return nil, apperror.NewNotFound("stock closing entry", closingID.String())
	}
	cp := *c
	return &cp, nil
}

func (r *ClosingRepo) Update(ctx context.Context, c *entity.StockClosingEntry) error {
	defer r.store.lock(ctx)()

	cur, ok := r.store.data.closings[c.ID]
	if !ok {
		return apperror.NewNotFound("stock closing entry", c.ID.String())
	}
	cur.Status = c.Status
	cur.Stale = c.Stale
	cur.Error = c.Error
	cur.UpdatedAt = c.UpdatedAt
	return nil
}

func (r *ClosingRepo) FindOverlapping(ctx context.Context, company string, from, to time.Time, filters entity.ClosingFilters) ([]entity.StockClosingEntry, error) {
	defer r.store.rlock(ctx)()

	var out []entity.StockClosingEntry
	for _, c := range r.store.data.closings {
		if c.Company != company || c.Status == entity.ClosingCancelled || c.ClosingFilters != filters {
			continue
		}
		if c.Overlaps(from, to) {
			out = append(out, *c)
		}
	}
	sortClosingsDesc(out)
	return out, nil
}

func (r *ClosingRepo) FindPrevious(ctx context.Context, company string, filters entity.ClosingFilters, toDate time.Time) (*entity.StockClosingEntry, error) {
	defer r.store.rlock(ctx)()

	for _, c := range r.store.data.closings {
		if c.Company == company && c.ClosingFilters == filters && c.ToDate.Equal(toDate) && c.UsableBaseline() {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *ClosingRepo) ListUsable(ctx context.Context, company string, before time.Time) ([]entity.StockClosingEntry, error) {
	defer r.store.rlock(ctx)()

	var out []entity.StockClosingEntry
	for _, c := range r.store.data.closings {
		if c.Company == company && c.UsableBaseline() && !c.Boundary().After(before) {
			out = append(out, *c)
		}
	}
	sortClosingsDesc(out)
	return out, nil
}

func (r *ClosingRepo) MarkStale(ctx context.Context, company string, from time.Time, scope ledger.ClosingScope) (int, error) {
	defer r.store.lock(ctx)()

	day := truncateDay(from)
	n := 0
	for _, c := range r.store.data.closings {
		if c.Company != company || c.Stale || c.ToDate.Before(day) {
			continue
		}
		switch c.Status {
		case entity.ClosingQueued, entity.ClosingInProgress, entity.ClosingCompleted:
		default:
			continue
		}
		if !closing.ScopeMatches(c.ClosingFilters, scope) {
			continue
		}
		c.Stale = true
		n++
	}
	return n, nil
}

func (r *ClosingRepo) ListByCompany(ctx context.Context, company string, limit int) ([]entity.StockClosingEntry, error) {
	defer r.store.rlock(ctx)()

	var out []entity.StockClosingEntry
	for _, c := range r.store.data.closings {
		if c.Company == company {
			out = append(out, *c)
		}
	}
	sortClosingsDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ClosingRepo) ReplaceBalances(ctx context.Context, closingID id.ID, rows []entity.StockClosingBalance) error {
	defer r.store.lock(ctx)()

	cp := make([]entity.StockClosingBalance, len(rows))
	for i := range rows {
		cp[i] = rows[i]
		cp[i].ClosingEntryID = closingID
		cp[i].FIFOQueue = rows[i].FIFOQueue.Clone()
	}
	r.store.data.balances[closingID] = cp
	return nil
}

func (r *ClosingRepo) DeleteBalances(ctx context.Context, closingID id.ID) (int, error) {
	defer r.store.lock(ctx)()

	n := len(r.store.data.balances[closingID])
	delete(r.store.data.balances, closingID)
	return n, nil
}

func (r *ClosingRepo) ListBalances(ctx context.Context, closingID id.ID) ([]entity.StockClosingBalance, error) {
	defer r.store.rlock(ctx)()

	rows := r.store.data.balances[closingID]
	out := make([]entity.StockClosingBalance, len(rows))
	for i := range rows {
		out[i] = rows[i]
		out[i].FIFOQueue = rows[i].FIFOQueue.Clone()
	}
	return out, nil
}

func (r *ClosingRepo) ValuationRow(ctx context.Context, closingID id.ID, key entity.LedgerKey) (*entity.StockClosingBalance, error) {
	defer r.store.rlock(ctx)()

	for _, row := range r.store.data.balances[closingID] {
		if row.DimensionKey == "" && row.Key() == key {
			cp := row
			cp.FIFOQueue = row.FIFOQueue.Clone()
			return &cp, nil
		}
	}
	return nil, nil
}

func sortClosingsDesc(cs []entity.StockClosingEntry) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].ToDate.Equal(cs[j].ToDate) {
			return cs[i].ToDate.After(cs[j].ToDate)
		}
		return cs[i].CreatedAt.After(cs[j].CreatedAt)
	})
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

var (
	_ closing.Repository   = (*ClosingRepo)(nil)
	_ ledger.ClosingMarker = (*ClosingRepo)(nil)
)
