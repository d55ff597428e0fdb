package reports

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/ledger"
)

// Service provides report generation operations.
type Service struct {
	entries  EntrySource
	closings ClosingSource
	catalog  catalog.Reader
	validate *validator.Validate
}

// NewService creates a new reports service.
func NewService(entries EntrySource, closings ClosingSource, cat catalog.Reader) *Service {
	return &Service{entries: entries, closings: closings, catalog: cat, validate: validator.New()}
}

type rowKey struct {
	item, warehouse, batch string
}

// movement is the part of an entry attributed to one report row.
type movement struct {
	key   rowKey
	at    time.Time
	qty   types.Quantity
	value types.Money
}

// totals accumulates one report row.
type totals struct {
	openingQty, inQty, outQty       types.Quantity
	openingValue, inValue, outValue types.Money
}

func newTotals() *totals {
	return &totals{openingValue: types.Zero(), inValue: types.Zero(), outValue: types.Zero()}
}

func (t *totals) add(m movement, from time.Time) {
	switch {
	case m.at.Before(from):
		t.openingQty += m.qty
		t.openingValue = t.openingValue.Add(m.value)
	case m.qty.IsNegative() || (m.qty.IsZero() && m.value.IsNegative()):
		t.outQty += m.qty.Neg()
		t.outValue = t.outValue.Sub(m.value)
	default:
		t.inQty += m.qty
		t.inValue = t.inValue.Add(m.value)
	}
}

func (t *totals) closing() (types.Quantity, types.Money) {
	return t.openingQty + t.inQty - t.outQty, t.openingValue.Add(t.inValue).Sub(t.outValue)
}

func (t *totals) empty() bool {
	return t.openingQty.IsZero() && t.inQty.IsZero() && t.outQty.IsZero() &&
		t.openingValue.IsZero() && t.inValue.IsZero() && t.outValue.IsZero()
}

// window holds the folded rows of a report.
type window struct {
	rows map[rowKey]*totals
}

func (w *window) row(k rowKey) *totals {
	t := w.rows[k]
	if t == nil {
		t = newTotals()
		w.rows[k] = t
	}
	return t
}

func (w *window) sortedKeys() []rowKey {
	keys := make([]rowKey, 0, len(w.rows))
	for k := range w.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.item != b.item {
			return a.item < b.item
		}
		if a.warehouse != b.warehouse {
			return a.warehouse < b.warehouse
		}
		return a.batch < b.batch
	})
	return keys
}

// BatchBalance returns opening/in/out/closing per batch for [FromDate, ToDate].
// Entries dated on FromDate fall inside the window. Batches recorded directly
// on an entry and batches recorded in its lot table are attributed through the
// same share split, so each movement counts once.
func (s *Service) BatchBalance(ctx context.Context, f BatchBalanceFilter) (*BatchBalanceReport, error) {
	if err := s.validate.Struct(f); err != nil {
		return nil, apperror.NewValidation(err.Error()).WithCause(err)
	}
	from, end := dayOf(f.FromDate), dayOf(f.ToDate).AddDate(0, 0, 1)

	report := &BatchBalanceReport{FromDate: from, ToDate: dayOf(f.ToDate)}
	w := &window{rows: make(map[rowKey]*totals)}

	scanFrom := time.Time{}
	if f.SerialNo == "" {
		seed, err := s.seedClosing(ctx, f.Company, from, f.ItemCode, f.Warehouse)
		if err != nil {
			return nil, err
		}
		if seed != nil {
			rows, err := s.closings.ListBalances(ctx, seed.ID)
			if err != nil {
				return nil, fmt.Errorf("load closing balances: %w", err)
			}
			for i := range rows {
				r := &rows[i]
				if !r.IsBatchRow() || !matches(f.ItemCode, r.ItemCode) || !matches(f.Warehouse, r.Warehouse) || !matches(f.BatchNo, r.BatchNo) {
					continue
				}
				t := w.row(rowKey{r.ItemCode, r.Warehouse, r.BatchNo})
				t.openingQty += r.ActualQty
				t.openingValue = t.openingValue.Add(r.StockValueDifference)
			}
			scanFrom = seed.Boundary()
			report.SeedClosingID = &seed.ID
		}
	}

	entries, err := s.entries.List(ctx, ledger.EntryFilter{
		Company:   f.Company,
		ItemCode:  f.ItemCode,
		Warehouse: f.Warehouse,
		From:      scanFrom,
		To:        end,
	})
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	for i := range entries {
		e := &entries[i]
		for _, share := range ledger.BatchShares(e) {
			if share.BatchNo == "" || !matches(f.BatchNo, share.BatchNo) || !matches(f.SerialNo, share.SerialNo) {
				continue
			}
			m := movement{key: rowKey{e.ItemCode, e.Warehouse, share.BatchNo}, at: e.PostingAt, qty: share.Qty, value: share.Value}
			w.row(m.key).add(m, from)
		}
	}

	uoms := catalog.NewCached(s.catalog)
	for _, k := range w.sortedKeys() {
		t := w.rows[k]
		if !f.IncludeZero && t.empty() {
			continue
		}
		closingQty, closingValue := t.closing()
		row := BatchBalanceRow{
			ItemCode:     k.item,
			Warehouse:    k.warehouse,
			BatchNo:      k.batch,
			OpeningQty:   t.openingQty,
			OpeningValue: t.openingValue,
			InQty:        t.inQty,
			InValue:      t.inValue,
			OutQty:       t.outQty,
			OutValue:     t.outValue,
			ClosingQty:   closingQty,
			ClosingValue: closingValue,
		}
		if item, err := uoms.Item(ctx, k.item); err == nil {
			row.StockUOM = item.StockUOM
		}
		report.Rows = append(report.Rows, row)
	}
	return report, nil
}

// StockTurnover returns opening/receipt/issue/closing per valuation key.
func (s *Service) StockTurnover(ctx context.Context, f StockTurnoverFilter) (*StockTurnoverReport, error) {
	if err := s.validate.Struct(f); err != nil {
		return nil, apperror.NewValidation(err.Error()).WithCause(err)
	}
	from, end := dayOf(f.FromDate), dayOf(f.ToDate).AddDate(0, 0, 1)
	w := &window{rows: make(map[rowKey]*totals)}

	scanFrom := time.Time{}
	seed, err := s.seedClosing(ctx, f.Company, from, f.ItemCode, f.Warehouse)
	if err != nil {
		return nil, err
	}
	if seed != nil {
		rows, err := s.closings.ListBalances(ctx, seed.ID)
		if err != nil {
			return nil, fmt.Errorf("load closing balances: %w", err)
		}
		for i := range rows {
			r := &rows[i]
			if r.IsBatchRow() || !matches(f.ItemCode, r.ItemCode) || !matches(f.Warehouse, r.Warehouse) {
				continue
			}
			t := w.row(rowKey{r.ItemCode, r.Warehouse, r.BatchNo})
			t.openingQty += r.ActualQty
			t.openingValue = t.openingValue.Add(r.StockValueDifference)
		}
		scanFrom = seed.Boundary()
	}

	entries, err := s.entries.List(ctx, ledger.EntryFilter{
		Company:   f.Company,
		ItemCode:  f.ItemCode,
		Warehouse: f.Warehouse,
		From:      scanFrom,
		To:        end,
	})
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	for i := range entries {
		e := &entries[i]
		m := movement{key: rowKey{e.ItemCode, e.Warehouse, e.BatchNo}, at: e.PostingAt, qty: e.ActualQty, value: e.StockValueDifference}
		w.row(m.key).add(m, from)
	}

	report := &StockTurnoverReport{
		FromDate:          from,
		ToDate:            dayOf(f.ToDate),
		TotalOpeningValue: types.Zero(),
		TotalReceiptValue: types.Zero(),
		TotalIssueValue:   types.Zero(),
		TotalClosingValue: types.Zero(),
	}
	for _, k := range w.sortedKeys() {
		t := w.rows[k]
		if !f.IncludeZero && t.empty() {
			continue
		}
		closingQty, closingValue := t.closing()
		report.Rows = append(report.Rows, StockTurnoverRow{
			ItemCode:     k.item,
			Warehouse:    k.warehouse,
			BatchNo:      k.batch,
			OpeningQty:   t.openingQty,
			OpeningValue: t.openingValue,
			ReceiptQty:   t.inQty,
			ReceiptValue: t.inValue,
			IssueQty:     t.outQty,
			IssueValue:   t.outValue,
			ClosingQty:   closingQty,
			ClosingValue: closingValue,
		})
		report.TotalOpeningValue = report.TotalOpeningValue.Add(t.openingValue)
		report.TotalReceiptValue = report.TotalReceiptValue.Add(t.inValue)
		report.TotalIssueValue = report.TotalIssueValue.Add(t.outValue)
		report.TotalClosingValue = report.TotalClosingValue.Add(closingValue)
	}
	return report, nil
}

// seedClosing picks the newest usable closing that ends before from and
// covers every item and warehouse the report can include.
func (s *Service) seedClosing(ctx context.Context, company string, from time.Time, itemCode, warehouse string) (*entity.StockClosingEntry, error) {
	if s.closings == nil {
		return nil, nil
	}
	closings, err := s.closings.ListUsable(ctx, company, from)
	if err != nil {
		return nil, fmt.Errorf("list closings: %w", err)
	}
	for i := range closings {
		c := &closings[i]
		if c.ItemGroup != "" || c.WarehouseType != "" {
			continue
		}
		if c.ItemCode != "" && c.ItemCode != itemCode {
			continue
		}
		if c.ClosingFilters.Warehouse != "" && c.ClosingFilters.Warehouse != warehouse {
			continue
		}
		return c, nil
	}
	return nil, nil
}

func matches(filter, value string) bool {
	return filter == "" || filter == value
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
