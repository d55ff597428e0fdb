// Package closing_repo provides the PostgreSQL store for stock closing entries
// and their balance snapshots.
package closing_repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/closing"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/infrastructure/storage/postgres"
)

const (
	entryTable   = "stock_closing_entry"
	balanceTable = "stock_closing_balance"
)

var (
	entryColumns   = postgres.Columns[entity.StockClosingEntry]()
	balanceColumns = postgres.Columns[entity.StockClosingBalance]()
)

// ClosingRepo implements closing.Repository.
type ClosingRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewClosingRepo creates a new closing repository.
func NewClosingRepo(txm *postgres.TxManager) *ClosingRepo {
	return &ClosingRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *ClosingRepo) baseSelect() squirrel.SelectBuilder {
	return r.builder.Select(entryColumns...).From(entryTable)
}

func filtersWhere(f entity.ClosingFilters) squirrel.Eq {
	return squirrel.Eq{
		"warehouse":      f.Warehouse,
		"item_code":      f.ItemCode,
		"item_group":     f.ItemGroup,
		"warehouse_type": f.WarehouseType,
	}
}

// scopeWhere selects closings whose filters are empty or equal to the scope.
func scopeWhere(scope ledger.ClosingScope) squirrel.And {
	field := func(col, v string) squirrel.Or {
		return squirrel.Or{squirrel.Eq{col: ""}, squirrel.Eq{col: v}}
	}
	return squirrel.And{
		field("warehouse", scope.Warehouse),
		field("item_code", scope.ItemCode),
		field("item_group", scope.ItemGroup),
		field("warehouse_type", scope.WarehouseType),
	}
}

func (r *ClosingRepo) selectEntries(ctx context.Context, q squirrel.SelectBuilder) ([]entity.StockClosingEntry, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var out []entity.StockClosingEntry
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("select closing entries: %w", err)
	}
	return out, nil
}

func (r *ClosingRepo) Create(ctx context.Context, c *entity.StockClosingEntry) error {
	sql, args, err := r.builder.Insert(entryTable).
		SetMap(postgres.RowMap(c)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert closing entry: %w", err)
	}
	return nil
}

func (r *ClosingRepo) Get(ctx context.Context, closingID id.ID) (*entity.StockClosingEntry, error) {
	sql, args, err := r.baseSelect().
		Where(squirrel.Eq{"id": closingID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var c entity.StockClosingEntry
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &c, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("stock closing entry", closingID.String())
		}
		return nil, fmt.Errorf("get closing entry: %w", err)
	}
	return &c, nil
}

func (r *ClosingRepo) Update(ctx context.Context, c *entity.StockClosingEntry) error {
	sql, args, err := r.builder.Update(entryTable).
		Set("status", c.Status).
		Set("stale", c.Stale).
		Set("error", c.Error).
		Set("updated_at", c.UpdatedAt).
		Where(squirrel.Eq{"id": c.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update closing entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("stock closing entry", c.ID.String())
	}
	return nil
}

// FindOverlapping serializes on company+filters so two concurrent creates
// cannot both pass the overlap check.
func (r *ClosingRepo) FindOverlapping(ctx context.Context, company string, from, to time.Time, filters entity.ClosingFilters) ([]entity.StockClosingEntry, error) {
	if r.txm.GetTx(ctx) != nil {
		lockKey := fmt.Sprintf("closing:%s:%s:%s:%s:%s",
			company, filters.Warehouse, filters.ItemCode, filters.ItemGroup, filters.WarehouseType)
		if err := r.txm.AdvisoryXactLock(ctx, lockKey); err != nil {
			return nil, err
		}
	}

	return r.selectEntries(ctx, r.baseSelect().
		Where(squirrel.Eq{"company": company}).
		Where(squirrel.NotEq{"status": entity.ClosingCancelled}).
		Where(filtersWhere(filters)).
		Where(squirrel.LtOrEq{"from_date": to}).
		Where(squirrel.GtOrEq{"to_date": from}).
		OrderBy("to_date DESC", "created_at DESC"))
}

func (r *ClosingRepo) FindPrevious(ctx context.Context, company string, filters entity.ClosingFilters, toDate time.Time) (*entity.StockClosingEntry, error) {
	out, err := r.selectEntries(ctx, r.baseSelect().
		Where(squirrel.Eq{
			"company": company,
			"to_date": toDate,
			"status":  entity.ClosingCompleted,
			"stale":   false,
		}).
		Where(filtersWhere(filters)).
		OrderBy("created_at DESC").
		Limit(1))
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

func (r *ClosingRepo) ListUsable(ctx context.Context, company string, before time.Time) ([]entity.StockClosingEntry, error) {
	// the boundary is midnight after to_date, so it fits iff to_date+1 <= day(before)
	return r.selectEntries(ctx, r.baseSelect().
		Where(squirrel.Eq{
			"company": company,
			"status":  entity.ClosingCompleted,
			"stale":   false,
		}).
		Where(squirrel.Expr("to_date + 1 <= ?::date", dayOf(before))).
		OrderBy("to_date DESC", "created_at DESC"))
}

func (r *ClosingRepo) MarkStale(ctx context.Context, company string, from time.Time, scope ledger.ClosingScope) (int, error) {
	sql, args, err := r.builder.Update(entryTable).
		Set("stale", true).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{
			"company": company,
			"stale":   false,
			"status": []entity.ClosingStatus{
				entity.ClosingQueued, entity.ClosingInProgress, entity.ClosingCompleted,
			},
		}).
		Where(squirrel.GtOrEq{"to_date": dayOf(from)}).
		Where(scopeWhere(scope)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("mark closings stale: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *ClosingRepo) ListByCompany(ctx context.Context, company string, limit int) ([]entity.StockClosingEntry, error) {
	q := r.baseSelect().
		Where(squirrel.Eq{"company": company}).
		OrderBy("to_date DESC", "created_at DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return r.selectEntries(ctx, q)
}

// ReplaceBalances swaps the snapshot rows of a closing. Must run inside a transaction.
func (r *ClosingRepo) ReplaceBalances(ctx context.Context, closingID id.ID, rows []entity.StockClosingBalance) error {
	if _, err := r.DeleteBalances(ctx, closingID); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	values := make([][]any, len(rows))
	for i := range rows {
		b := rows[i]
		b.ClosingEntryID = closingID
		var queue any
		if b.FIFOQueue != nil {
			raw, err := json.Marshal(b.FIFOQueue)
			if err != nil {
				return fmt.Errorf("marshal fifo queue: %w", err)
			}
			queue = raw
		}
		values[i] = []any{
			b.ClosingEntryID, b.Company, b.ItemCode, b.Warehouse, b.BatchNo, b.DimensionKey,
			int64(b.ActualQty), b.StockValueDifference, b.ValuationRate, b.StockUOM,
			queue, b.PostingDate,
		}
	}

	if _, err := r.txm.CopyRows(ctx, balanceTable, balanceColumns, values); err != nil {
		return fmt.Errorf("copy closing balances: %w", err)
	}
	return nil
}

func (r *ClosingRepo) DeleteBalances(ctx context.Context, closingID id.ID) (int, error) {
	sql, args, err := r.builder.Delete(balanceTable).
		Where(squirrel.Eq{"closing_entry_id": closingID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete closing balances: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *ClosingRepo) ListBalances(ctx context.Context, closingID id.ID) ([]entity.StockClosingBalance, error) {
	sql, args, err := r.builder.Select(balanceColumns...).
		From(balanceTable).
		Where(squirrel.Eq{"closing_entry_id": closingID}).
		OrderBy(`item_code COLLATE "C"`, `warehouse COLLATE "C"`, `batch_no COLLATE "C"`, `dimension_key COLLATE "C"`).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var out []entity.StockClosingBalance
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("select closing balances: %w", err)
	}
	return out, nil
}

func (r *ClosingRepo) ValuationRow(ctx context.Context, closingID id.ID, key entity.LedgerKey) (*entity.StockClosingBalance, error) {
	sql, args, err := r.builder.Select(balanceColumns...).
		From(balanceTable).
		Where(squirrel.Eq{
			"closing_entry_id": closingID,
			"item_code":        key.ItemCode,
			"warehouse":        key.Warehouse,
			"batch_no":         key.BatchNo,
			"dimension_key":    "",
		}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var b entity.StockClosingBalance
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &b, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get valuation row: %w", err)
	}
	return &b, nil
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var (
	_ closing.Repository   = (*ClosingRepo)(nil)
	_ ledger.ClosingMarker = (*ClosingRepo)(nil)
)
