package ledger

import (
	"context"
	"fmt"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/tx"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/valuation"
)

// GetBalance returns the balance of an item in a warehouse as of q.AsOf.
// For items valued per batch the balance aggregates every batch key unless
// q.BatchNo narrows it; for other items a batch query sums the batch's share
// of each entry.
func (s *Service) GetBalance(ctx context.Context, q BalanceQuery) (*Balance, error) {
	if q.ItemCode == "" || q.Warehouse == "" {
		return nil, apperror.NewValidation("item code and warehouse are required")
	}
	item, err := s.catalog.Item(ctx, q.ItemCode)
	if err != nil {
		return nil, err
	}
	if q.BatchNo != "" && !item.HasBatchNo {
		return nil, apperror.NewValidation(fmt.Sprintf("item %s is not batch tracked", q.ItemCode))
	}

	key := entity.LedgerKey{ItemCode: q.ItemCode, Warehouse: q.Warehouse}
	if item.BatchWiseValuation {
		key.BatchNo = q.BatchNo
	}
	cacheable := s.cache != nil && q.AllowCached && q.AsOf.IsZero() && q.BatchNo == ""
	if cacheable {
		if b, ok := s.cache.Get(ctx, key); ok {
			return b, nil
		}
	}

	var b *Balance
	switch {
	case item.BatchWiseValuation && q.BatchNo != "":
		b, err = s.keyBalance(ctx, key, q.AsOf)
	case item.BatchWiseValuation:
		b, err = s.aggregateBalance(ctx, q)
	case q.BatchNo != "":
		b, err = s.batchShareBalance(ctx, q)
	default:
		b, err = s.keyBalance(ctx, key, q.AsOf)
	}
	if err != nil {
		return nil, err
	}
	b.BatchNo = q.BatchNo
	b.AsOf = q.AsOf

	if cacheable {
		s.cache.Set(ctx, key, b)
	}
	return b, nil
}

// keyBalance reads the running balance stamped on the last entry of a key.
func (s *Service) keyBalance(ctx context.Context, key entity.LedgerKey, asOf time.Time) (*Balance, error) {
	last, err := s.repo.GetPrevious(ctx, key, EndOf(asOf))
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", key, err)
	}
	b := &Balance{ItemCode: key.ItemCode, Warehouse: key.Warehouse, Value: types.Zero(), ValuationRate: types.Zero()}
	if last != nil {
		b.Qty = last.QtyAfterTransaction
		b.Value = last.StockValue
		b.ValuationRate = last.ValuationRate
	}
	return b, nil
}

func (s *Service) aggregateBalance(ctx context.Context, q BalanceQuery) (*Balance, error) {
	latest, err := s.repo.LatestPerKey(ctx, q.ItemCode, q.Warehouse, q.AsOf)
	if err != nil {
		return nil, fmt.Errorf("latest entries of %s/%s: %w", q.ItemCode, q.Warehouse, err)
	}
	b := &Balance{ItemCode: q.ItemCode, Warehouse: q.Warehouse, Value: types.Zero(), ValuationRate: types.Zero()}
	for i := range latest {
		b.Qty += latest[i].QtyAfterTransaction
		b.Value = b.Value.Add(latest[i].StockValue)
	}
	b.ValuationRate = averageRate(b.Qty, b.Value)
	return b, nil
}

func (s *Service) batchShareBalance(ctx context.Context, q BalanceQuery) (*Balance, error) {
	filter := EntryFilter{ItemCode: q.ItemCode, Warehouse: q.Warehouse}
	if !q.AsOf.IsZero() {
		filter.To = q.AsOf.Add(time.Nanosecond)
	}
	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("entries of %s/%s: %w", q.ItemCode, q.Warehouse, err)
	}
	b := &Balance{ItemCode: q.ItemCode, Warehouse: q.Warehouse, Value: types.Zero(), ValuationRate: types.Zero()}
	for i := range entries {
		for _, share := range BatchShares(&entries[i]) {
			if share.BatchNo != q.BatchNo {
				continue
			}
			b.Qty += share.Qty
			b.Value = b.Value.Add(share.Value)
		}
	}
	b.ValuationRate = averageRate(b.Qty, b.Value)
	return b, nil
}

// VerifyBalance compares the stored running balance of a key with a replay from
// zero and a replay from the nearest closing snapshot.
func (s *Service) VerifyBalance(ctx context.Context, key entity.LedgerKey, asOf time.Time) (*BalanceCheck, error) {
	if key.ItemCode == "" || key.Warehouse == "" {
		return nil, apperror.NewValidation("item code and warehouse are required")
	}
	wh, err := s.catalog.Warehouse(ctx, key.Warehouse)
	if err != nil {
		return nil, err
	}
	scope, err := catalog.NewCached(s.catalog).Scope(ctx, wh.Company, key.ItemCode, key.Warehouse)
	if err != nil {
		return nil, err
	}
	if !scope.Item.BatchWiseValuation {
		key.BatchNo = ""
	}

	var (
		stored            *Balance
		full, fromClosing valuation.State
	)
	err = tx.ReadOnly(ctx, s.txm, func(ctx context.Context) error {
		var err error
		if stored, err = s.keyBalance(ctx, key, asOf); err != nil {
			return err
		}
		engine := s.reposts.Engine()
		if full, err = engine.BalanceAt(ctx, wh.Company, key, scope, asOf, false); err != nil {
			return err
		}
		fromClosing, err = engine.BalanceAt(ctx, wh.Company, key, scope, asOf, true)
		return err
	})
	if err != nil {
		return nil, err
	}

	check := &BalanceCheck{
		Stored:        *stored,
		FullReplay:    stateBalance(key, asOf, full),
		ClosingReplay: stateBalance(key, asOf, fromClosing),
	}
	check.Stored.BatchNo = key.BatchNo
	check.Stored.AsOf = asOf
	check.Consistent = sameBalance(check.Stored, check.FullReplay) && sameBalance(check.FullReplay, check.ClosingReplay)
	return check, nil
}

func stateBalance(key entity.LedgerKey, asOf time.Time, st valuation.State) Balance {
	return Balance{
		ItemCode:      key.ItemCode,
		Warehouse:     key.Warehouse,
		BatchNo:       key.BatchNo,
		AsOf:          asOf,
		Qty:           st.Qty,
		Value:         st.Value,
		ValuationRate: st.Rate,
	}
}

func sameBalance(a, b Balance) bool {
	return a.Qty == b.Qty && a.Value.Equal(b.Value)
}

func averageRate(qty types.Quantity, value types.Money) types.Money {
	if qty.IsZero() {
		return types.Zero()
	}
	return value.Div(qty.Decimal()).Round(9)
}
