package closing

import (
	"context"
	"fmt"
	"sort"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/ledger"
)

// EntrySource is the part of the ledger store the generator reads.
type EntrySource interface {
	List(ctx context.Context, filter ledger.EntryFilter) ([]entity.StockLedgerEntry, error)
}

// Generator folds ledger entries into closing rows.
type Generator struct {
	entries  EntrySource
	closings Repository
	catalog  catalog.Reader
}

// NewGenerator creates a generator.
func NewGenerator(entries EntrySource, closings Repository, cat catalog.Reader) *Generator {
	return &Generator{entries: entries, closings: closings, catalog: cat}
}

type rowKey struct {
	item, warehouse, batch, dimension string
}

// Generate computes the rows of c. The previous closing with the same filters
// ending the day before c.FromDate seeds the opening figures; without one every
// entry up to c.ToDate is folded. Rows that end with zero quantity and zero
// value are dropped. Rows are ordered by item, warehouse, batch and dimension.
func (g *Generator) Generate(ctx context.Context, c *entity.StockClosingEntry) ([]entity.StockClosingBalance, error) {
	rows := make(map[rowKey]*entity.StockClosingBalance)

	filter := ledger.EntryFilter{
		Company:   c.Company,
		ItemCode:  c.ItemCode,
		Warehouse: c.ClosingFilters.Warehouse,
		To:        c.Boundary(),
	}

	prev, err := g.closings.FindPrevious(ctx, c.Company, c.ClosingFilters, c.FromDate.AddDate(0, 0, -1))
	if err != nil {
		return nil, fmt.Errorf("find previous closing: %w", err)
	}
	if prev != nil {
		seed, err := g.closings.ListBalances(ctx, prev.ID)
		if err != nil {
			return nil, fmt.Errorf("load previous closing balances: %w", err)
		}
		for i := range seed {
			row := seed[i]
			row.ClosingEntryID = c.ID
			row.PostingDate = c.ToDate
			row.FIFOQueue = row.FIFOQueue.Clone()
			rows[rowKey{row.ItemCode, row.Warehouse, row.BatchNo, row.DimensionKey}] = &row
		}
		filter.From = c.FromDate
	}

	entries, err := g.entries.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	cat := catalog.NewCached(g.catalog)
	for i := range entries {
		e := &entries[i]
		scope, err := cat.Scope(ctx, c.Company, e.ItemCode, e.Warehouse)
		if err != nil {
			return nil, err
		}
		if !c.ClosingFilters.Matches(*scope.Item, *scope.Warehouse) {
			continue
		}

		vk := rowKey{e.ItemCode, e.Warehouse, e.BatchNo, ""}
		row := rows[vk]
		if row == nil {
			row = newRow(c, e.ItemCode, e.Warehouse, e.BatchNo, "", scope.Item.StockUOM)
			rows[vk] = row
		}
		row.ActualQty += e.ActualQty
		row.StockValueDifference = row.StockValueDifference.Add(e.StockValueDifference)
		row.ValuationRate = e.ValuationRate
		row.FIFOQueue = e.StockQueue.Clone()
		row.StockUOM = scope.Item.StockUOM

		for _, share := range ledger.BatchShares(e) {
			if share.BatchNo == "" {
				continue
			}
			dim := entity.BatchDimension(share.BatchNo)
			bk := rowKey{e.ItemCode, e.Warehouse, share.BatchNo, dim}
			br := rows[bk]
			if br == nil {
				br = newRow(c, e.ItemCode, e.Warehouse, share.BatchNo, dim, scope.Item.StockUOM)
				rows[bk] = br
			}
			br.ActualQty += share.Qty
			br.StockValueDifference = br.StockValueDifference.Add(share.Value)
		}
	}

	out := make([]entity.StockClosingBalance, 0, len(rows))
	for _, row := range rows {
		if row.ActualQty.IsZero() && row.StockValueDifference.IsZero() {
			continue
		}
		if row.IsBatchRow() {
			row.FIFOQueue = nil
			if !row.ActualQty.IsZero() {
				row.ValuationRate = row.StockValueDifference.Div(row.ActualQty.Decimal()).Round(9)
			}
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ItemCode != b.ItemCode {
			return a.ItemCode < b.ItemCode
		}
		if a.Warehouse != b.Warehouse {
			return a.Warehouse < b.Warehouse
		}
		if a.BatchNo != b.BatchNo {
			return a.BatchNo < b.BatchNo
		}
		return a.DimensionKey < b.DimensionKey
	})
	return out, nil
}

func newRow(c *entity.StockClosingEntry, item, warehouse, batch, dimension, uom string) *entity.StockClosingBalance {
	return &entity.StockClosingBalance{
		ClosingEntryID:       c.ID,
		Company:              c.Company,
		ItemCode:             item,
		Warehouse:            warehouse,
		BatchNo:              batch,
		DimensionKey:         dimension,
		StockValueDifference: types.Zero(),
		ValuationRate:        types.Zero(),
		StockUOM:             uom,
		PostingDate:          c.ToDate,
	}
}
