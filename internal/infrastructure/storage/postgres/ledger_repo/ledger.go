// Package ledger_repo provides the PostgreSQL stock ledger store.
package ledger_repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/infrastructure/storage/postgres"
)

const (
	entryTable = "stock_ledger_entry"
	lotTable   = "stock_ledger_lot"
)

// Ledger order. Keys sort bytewise to match entity.LedgerKey.Less.
const (
	orderAsc  = "posting_at ASC, created_at ASC, seq ASC"
	orderDesc = "posting_at DESC, created_at DESC, seq DESC"
	keyOrder  = `item_code COLLATE "C", warehouse COLLATE "C", batch_no COLLATE "C"`
)

var (
	entryColumns = postgres.Columns[entity.StockLedgerEntry]()
	lotColumns   = []string{"entry_id", "line_no", "batch_no", "serial_no", "qty"}
)

// LedgerRepo implements ledger.Repository.
type LedgerRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewLedgerRepo creates a new ledger repository.
func NewLedgerRepo(txm *postgres.TxManager) *LedgerRepo {
	return &LedgerRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *LedgerRepo) baseSelect() squirrel.SelectBuilder {
	return r.builder.Select(entryColumns...).From(entryTable)
}

func keyWhere(key entity.LedgerKey) squirrel.Eq {
	return squirrel.Eq{
		"item_code":    key.ItemCode,
		"warehouse":    key.Warehouse,
		"batch_no":     key.BatchNo,
		"is_cancelled": false,
	}
}

func before(pos entity.Position) squirrel.Sqlizer {
	return squirrel.Expr("(posting_at, created_at, seq) < (?, ?, ?)", pos.PostingAt, pos.CreatedAt, pos.Seq)
}

func after(pos entity.Position) squirrel.Sqlizer {
	return squirrel.Expr("(posting_at, created_at, seq) > (?, ?, ?)", pos.PostingAt, pos.CreatedAt, pos.Seq)
}

func (r *LedgerRepo) selectEntries(ctx context.Context, q squirrel.SelectBuilder) ([]entity.StockLedgerEntry, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var out []entity.StockLedgerEntry
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	return out, nil
}

func (r *LedgerRepo) GetPrevious(ctx context.Context, key entity.LedgerKey, pos entity.Position) (*entity.StockLedgerEntry, error) {
	q := r.baseSelect().
		Where(keyWhere(key)).
		Where(before(pos)).
		OrderBy(orderDesc).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var e entity.StockLedgerEntry
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &e, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get previous entry: %w", err)
	}
	return &e, nil
}

func (r *LedgerRepo) GetFollowing(ctx context.Context, key entity.LedgerKey, pos entity.Position) ([]entity.StockLedgerEntry, error) {
	return r.selectEntries(ctx, r.baseSelect().
		Where(keyWhere(key)).
		Where(after(pos)).
		OrderBy(orderAsc))
}

func (r *LedgerRepo) LatestPerKey(ctx context.Context, itemCode, warehouse string, asOf time.Time) ([]entity.StockLedgerEntry, error) {
	q := r.builder.Select(entryColumns...).
		Options(`DISTINCT ON (batch_no COLLATE "C")`).
		From(entryTable).
		Where(squirrel.Eq{
			"item_code":    itemCode,
			"warehouse":    warehouse,
			"is_cancelled": false,
		}).
		Where(before(ledger.EndOf(asOf))).
		OrderBy(`batch_no COLLATE "C"`, orderDesc)
	return r.selectEntries(ctx, q)
}

func (r *LedgerRepo) ListByVoucher(ctx context.Context, voucherType, voucherNo string, includeCancelled bool) ([]entity.StockLedgerEntry, error) {
	q := r.baseSelect().
		Where(squirrel.Eq{"voucher_type": voucherType, "voucher_no": voucherNo}).
		OrderBy("seq ASC")
	if !includeCancelled {
		q = q.Where(squirrel.Eq{"is_cancelled": false})
	}

	entries, err := r.selectEntries(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := r.loadLots(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *LedgerRepo) List(ctx context.Context, filter ledger.EntryFilter) ([]entity.StockLedgerEntry, error) {
	q := r.baseSelect().
		Where(squirrel.Eq{"is_cancelled": false}).
		OrderBy(keyOrder, orderAsc)

	if filter.Company != "" {
		q = q.Where(squirrel.Eq{"company": filter.Company})
	}
	if filter.ItemCode != "" {
		q = q.Where(squirrel.Eq{"item_code": filter.ItemCode})
	}
	if filter.Warehouse != "" {
		q = q.Where(squirrel.Eq{"warehouse": filter.Warehouse})
	}
	if !filter.From.IsZero() {
		q = q.Where(squirrel.GtOrEq{"posting_at": filter.From})
	}
	if !filter.To.IsZero() {
		q = q.Where(squirrel.Lt{"posting_at": filter.To})
	}

	entries, err := r.selectEntries(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := r.loadLots(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

type lotRow struct {
	entity.LotEntry
	LineNo int `db:"line_no"`
}

// loadLots attaches lot rows to the entries that have them.
func (r *LedgerRepo) loadLots(ctx context.Context, entries []entity.StockLedgerEntry) error {
	idx := make(map[id.ID]int)
	ids := make([]id.ID, 0)
	for i := range entries {
		if entries[i].HasLots {
			idx[entries[i].ID] = i
			ids = append(ids, entries[i].ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	sql, args, err := r.builder.Select(lotColumns...).
		From(lotTable).
		Where(squirrel.Eq{"entry_id": ids}).
		OrderBy("entry_id", "line_no").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	var rows []lotRow
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return fmt.Errorf("select lots: %w", err)
	}
	for _, row := range rows {
		i := idx[row.EntryID]
		entries[i].Lots = append(entries[i].Lots, row.LotEntry)
	}
	return nil
}

func (r *LedgerRepo) Insert(ctx context.Context, e *entity.StockLedgerEntry) error {
	values := postgres.RowMap(e)
	delete(values, "seq")

	sql, args, err := r.builder.Insert(entryTable).
		SetMap(values).
		Suffix("RETURNING seq").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&e.Seq); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	if len(e.Lots) == 0 {
		return nil
	}
	rows := make([][]any, len(e.Lots))
	for i := range e.Lots {
		e.Lots[i].EntryID = e.ID
		l := e.Lots[i]
		rows[i] = []any{l.EntryID, int16(i + 1), l.BatchNo, l.SerialNo, int64(l.Qty)}
	}
	if _, err := r.txm.CopyRows(ctx, lotTable, lotColumns, rows); err != nil {
		return fmt.Errorf("copy lots: %w", err)
	}
	return nil
}

const updateRunningSQL = `
	UPDATE stock_ledger_entry
	SET qty_after_transaction = $1,
	    valuation_rate = $2,
	    stock_value = $3,
	    stock_value_difference = $4,
	    stock_queue = $5
	WHERE id = $6
`

func (r *LedgerRepo) UpdateRunningValues(ctx context.Context, entries []entity.StockLedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	stmts := make([]postgres.Statement, len(entries))
	for i := range entries {
		e := &entries[i]
		stmts[i] = postgres.Statement{
			SQL: updateRunningSQL,
			Args: []any{
				e.QtyAfterTransaction, e.ValuationRate, e.StockValue,
				e.StockValueDifference, e.StockQueue, e.ID,
			},
		}
	}
	if err := r.txm.ExecBatch(ctx, stmts); err != nil {
		return fmt.Errorf("update running values: %w", err)
	}
	return nil
}

func (r *LedgerRepo) MarkCancelled(ctx context.Context, voucherType, voucherNo string) ([]entity.StockLedgerEntry, error) {
	sql, args, err := r.builder.Update(entryTable).
		Set("is_cancelled", true).
		Where(squirrel.Eq{
			"voucher_type": voucherType,
			"voucher_no":   voucherNo,
			"is_cancelled": false,
		}).
		Suffix("RETURNING " + strings.Join(entryColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}

	var out []entity.StockLedgerEntry
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("cancel entries: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if err := r.loadLots(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

var _ ledger.Repository = (*LedgerRepo)(nil)
