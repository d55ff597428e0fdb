package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/lock"
	"stockledger/internal/core/tx"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/gl"
	"stockledger/internal/domain/guard"
	"stockledger/internal/domain/repost"
	"stockledger/internal/domain/valuation"
	"stockledger/pkg/logger"
)

// DefaultInlineRepostLimit is the number of later entries a mutation may replay
// inside its own transaction before the replay is deferred to a background job.
const DefaultInlineRepostLimit = 1000

// Deps wires a Service.
type Deps struct {
	Repo      Repository
	TxManager tx.Manager
	Locker    lock.Locker
	Catalog   catalog.Reader
	Registry  *valuation.Registry
	Negatives guard.NegativeStockPolicy
	Freeze    *guard.FreezePolicy
	Reposts   *repost.Service
	Closings  ClosingMarker
	Facts     gl.Publisher
	Audit     audit.Logger
	// Cache is optional.
	Cache BalanceCache
	// InlineRepostLimit defaults to DefaultInlineRepostLimit.
	InlineRepostLimit int
	// Now stamps CreatedAt on new entries. Defaults to the UTC wall clock.
	Now func() time.Time
}

// Service posts and cancels vouchers against the stock ledger.
// Every mutation holds the per-key locks of the keys it touches for the
// whole insert-and-repost, and runs in one transaction: a guard violation
// anywhere rolls back everything.
type Service struct {
	repo              Repository
	txm               tx.Manager
	locker            lock.Locker
	catalog           catalog.Reader
	registry          *valuation.Registry
	negatives         guard.NegativeStockPolicy
	freeze            *guard.FreezePolicy
	reposts           *repost.Service
	closings          ClosingMarker
	facts             gl.Publisher
	audit             audit.Logger
	cache             BalanceCache
	inlineRepostLimit int
	validate          *validator.Validate
	now               func() time.Time
}

// NewService creates a ledger service.
func NewService(d Deps) *Service {
	if d.InlineRepostLimit <= 0 {
		d.InlineRepostLimit = DefaultInlineRepostLimit
	}
	if d.Freeze == nil {
		d.Freeze = guard.NewFreezePolicy(time.Time{}, 0)
	}
	if d.Facts == nil {
		d.Facts = gl.Nop{}
	}
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:              d.Repo,
		txm:               d.TxManager,
		locker:            d.Locker,
		catalog:           d.Catalog,
		registry:          d.Registry,
		negatives:         d.Negatives,
		freeze:            d.Freeze,
		reposts:           d.Reposts,
		closings:          d.Closings,
		facts:             d.Facts,
		audit:             d.Audit,
		cache:             d.Cache,
		inlineRepostLimit: d.InlineRepostLimit,
		validate:          validator.New(),
		now:               d.Now,
	}
}

// keyGroup is the set of new entries of one voucher for one key, in line order.
type keyGroup struct {
	key      entity.LedgerKey
	scope    catalog.Scope
	strategy valuation.Strategy
	entries  []*entity.StockLedgerEntry
}

// SubmitMovement records a submitted voucher: one entry per
// item x warehouse x batch touched, valued by the item's strategy.
func (s *Service) SubmitMovement(ctx context.Context, v Voucher) (*SubmitResult, error) {
	if err := s.validateStruct(v); err != nil {
		return nil, err
	}

	// stored timestamps carry microseconds
	v.PostingAt = v.PostingAt.UTC().Truncate(time.Microsecond)

	cat := catalog.NewCached(s.catalog)
	company, err := cat.Company(ctx, v.Company)
	if err != nil {
		return nil, err
	}
	if err := s.freeze.CanPost(company, v.PostingAt); err != nil {
		return nil, err
	}
	if v.IsOpening && !company.IsOpeningAccount(v.DifferenceAccount) {
		return nil, apperror.NewOpeningEntryAccount(v.Company, v.DifferenceAccount)
	}

	groups, err := s.expand(ctx, cat, v)
	if err != nil {
		return nil, err
	}

	release, err := s.lockKeys(ctx, groupKeys(groups))
	if err != nil {
		return nil, err
	}
	defer release()

	result := &SubmitResult{VoucherType: v.VoucherType, VoucherNo: v.VoucherNo}
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.repo.ListByVoucher(ctx, v.VoucherType, v.VoucherNo, false)
		if err != nil {
			return fmt.Errorf("check voucher: %w", err)
		}
		if len(existing) > 0 {
			return apperror.NewDuplicate("voucher", "voucher_no", v.VoucherType+"/"+v.VoucherNo)
		}

		facts := &gl.Collector{}
		createdAt := s.now().Truncate(time.Microsecond)
		for _, g := range groups {
			jobID, reposted, err := s.postGroup(ctx, v, g, createdAt, facts)
			if err != nil {
				return err
			}
			if reposted {
				result.Reposted++
			}
			if jobID != nil {
				result.RepostJobs = append(result.RepostJobs, *jobID)
			}
		}
		return facts.Flush(ctx, s.facts)
	})
	if err != nil {
		return nil, err
	}

	for _, g := range groups {
		for _, e := range g.entries {
			result.Lines = append(result.Lines, lineResult(e))
		}
	}
	release()
	s.afterCommit(ctx, groupKeys(groups), result.RepostJobs)

	logger.Info(ctx, "voucher posted to stock ledger",
		"voucher_type", v.VoucherType,
		"voucher_no", v.VoucherNo,
		"entries", len(result.Lines),
		"reposted", result.Reposted,
		"deferred", len(result.RepostJobs),
	)
	return result, nil
}

// postGroup inserts the new entries of one key and settles the key behind them.
func (s *Service) postGroup(ctx context.Context, v Voucher, g *keyGroup, createdAt time.Time, facts *gl.Collector) (*id.ID, bool, error) {
	prev, err := s.repo.GetPrevious(ctx, g.key, EndOf(v.PostingAt))
	if err != nil {
		return nil, false, fmt.Errorf("previous entry of %s: %w", g.key, err)
	}
	state := valuation.State{}
	if prev != nil {
		state = valuation.StateOf(prev)
	}

	account := catalog.StockAccount(g.scope.Warehouse, g.scope.Company)
	for _, e := range g.entries {
		e.ID = id.New()
		e.CreatedAt = createdAt
		if state, err = valuation.Post(g.strategy, state, e); err != nil {
			return nil, false, valuation.AsValidation(g.key, e.PostingAt, err)
		}
		if err := s.repo.Insert(ctx, e); err != nil {
			return nil, false, fmt.Errorf("insert entry: %w", err)
		}
		facts.Add(e, account, v.DifferenceAccount, e.StockValueDifference, entity.FactReasonPost)
	}

	if err := s.markStale(ctx, v.Company, v.PostingAt, g.scope); err != nil {
		return nil, false, err
	}
	return s.settle(ctx, mutation{
		company:     v.Company,
		voucherType: v.VoucherType,
		voucherNo:   v.VoucherNo,
		key:         g.key,
		scope:       g.scope,
		at:          g.entries[0].Position(),
		fresh:       len(g.entries),
	})
}

// mutation is an insert or cancel of one key, starting at position at. The
// first fresh entries from there were valued by the caller against a settled
// predecessor.
type mutation struct {
	company     string
	voucherType string
	voucherNo   string
	key         entity.LedgerKey
	scope       catalog.Scope
	at          entity.Position
	fresh       int
}

// settle guards the quantity of every entry from the mutation on and brings
// their values back in line. The stored running balances of a key are only
// provisional from the trigger of its earliest open repost job, so both the
// projection and the replay start there when it comes first. Short tails are
// replayed inline, which also settles the open jobs; longer ones are left to
// an open job that already covers them, or to a new one.
func (s *Service) settle(ctx context.Context, m mutation) (*id.ID, bool, error) {
	open, err := s.reposts.Open(ctx, m.key)
	if err != nil {
		return nil, false, err
	}
	start, fresh := m.at, m.fresh
	if len(open) > 0 {
		if t := StartOf(open[0].TriggerAt); t.Before(start) {
			start, fresh = t, 0
		}
	}

	prev, err := s.repo.GetPrevious(ctx, m.key, start)
	if err != nil {
		return nil, false, fmt.Errorf("previous entry of %s: %w", m.key, err)
	}
	var (
		opening types.Quantity
		from    entity.Position
	)
	if prev != nil {
		opening, from = prev.QtyAfterTransaction, prev.Position()
	}
	region, err := s.repo.GetFollowing(ctx, m.key, from)
	if err != nil {
		return nil, false, fmt.Errorf("following entries of %s: %w", m.key, err)
	}

	if !s.negatives.Allowed(m.scope.Item, m.scope.Warehouse, m.scope.Company) {
		if err := guard.Project(m.key, opening, guard.PointsOf(region)); err != nil {
			return nil, false, err
		}
	}

	tail := len(region) - fresh
	if tail <= 0 {
		return nil, false, nil
	}
	if tail <= s.inlineRepostLimit {
		req := repost.Request{Company: m.company, Key: m.key, Trigger: start, Scope: m.scope}
		if _, err := s.reposts.Apply(ctx, req); err != nil {
			return nil, false, err
		}
		if err := s.reposts.Settle(ctx, open); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	for i := range open {
		if open[i].Status != entity.RepostFailed && !open[i].TriggerAt.After(start.PostingAt) {
			return &open[i].ID, false, nil
		}
	}
	job := &entity.RepostJob{
		Company:     m.company,
		ItemCode:    m.key.ItemCode,
		Warehouse:   m.key.Warehouse,
		BatchNo:     m.key.BatchNo,
		TriggerAt:   start.PostingAt,
		VoucherType: m.voucherType,
		VoucherNo:   m.voucherNo,
	}
	if err := s.reposts.Plan(ctx, job); err != nil {
		return nil, false, err
	}
	return &job.ID, false, nil
}

// CancelMovement retires every entry of a voucher and replays the affected keys.
func (s *Service) CancelMovement(ctx context.Context, voucherType, voucherNo string) (*CancelResult, error) {
	if voucherType == "" || voucherNo == "" {
		return nil, apperror.NewValidation("voucher type and number are required")
	}

	live, err := s.repo.ListByVoucher(ctx, voucherType, voucherNo, false)
	if err != nil {
		return nil, fmt.Errorf("load voucher: %w", err)
	}
	if len(live) == 0 {
		all, err := s.repo.ListByVoucher(ctx, voucherType, voucherNo, true)
		if err != nil {
			return nil, fmt.Errorf("load voucher: %w", err)
		}
		if len(all) > 0 {
			return nil, apperror.NewConflict("voucher is already cancelled").
				WithDetail("voucher_no", voucherNo)
		}
		return nil, apperror.NewNotFound("voucher", voucherType+"/"+voucherNo)
	}

	cat := catalog.NewCached(s.catalog)
	company, err := cat.Company(ctx, live[0].Company)
	if err != nil {
		return nil, err
	}
	for i := range live {
		if err := s.freeze.CanPost(company, live[i].PostingAt); err != nil {
			return nil, err
		}
	}

	keys := make([]entity.LedgerKey, 0, len(live))
	for i := range live {
		keys = append(keys, live[i].Key())
	}
	release, err := s.lockKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &CancelResult{VoucherType: voucherType, VoucherNo: voucherNo}
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		cancelled, err := s.repo.MarkCancelled(ctx, voucherType, voucherNo)
		if err != nil {
			return fmt.Errorf("mark cancelled: %w", err)
		}
		if len(cancelled) == 0 {
			return apperror.NewConflict("voucher is already cancelled").WithDetail("voucher_no", voucherNo)
		}
		result.Cancelled = len(cancelled)

		facts := &gl.Collector{}
		earliest := make(map[entity.LedgerKey]*entity.StockLedgerEntry)
		var order []entity.LedgerKey
		for i := range cancelled {
			e := &cancelled[i]
			scope, err := cat.Scope(ctx, e.Company, e.ItemCode, e.Warehouse)
			if err != nil {
				return err
			}
			facts.Add(e, catalog.StockAccount(scope.Warehouse, scope.Company), "", e.StockValueDifference.Neg(), entity.FactReasonCancel)

			k := e.Key()
			if cur, ok := earliest[k]; !ok {
				earliest[k] = e
				order = append(order, k)
			} else if e.Position().Before(cur.Position()) {
				earliest[k] = e
			}
		}

		for _, k := range order {
			first := earliest[k]
			scope, err := cat.Scope(ctx, first.Company, first.ItemCode, first.Warehouse)
			if err != nil {
				return err
			}
			if err := s.markStale(ctx, first.Company, first.PostingAt, scope); err != nil {
				return err
			}

			jobID, reposted, err := s.settle(ctx, mutation{
				company:     first.Company,
				voucherType: voucherType,
				voucherNo:   voucherNo,
				key:         k,
				scope:       scope,
				at:          first.Position(),
			})
			if err != nil {
				return err
			}
			if reposted {
				result.Reposted++
			}
			if jobID != nil {
				result.RepostJobs = append(result.RepostJobs, *jobID)
			}
		}

		if err := facts.Flush(ctx, s.facts); err != nil {
			return fmt.Errorf("publish cancel facts: %w", err)
		}

		ids := make([]string, len(cancelled))
		for i := range cancelled {
			ids[i] = cancelled[i].ID.String()
		}
		return s.audit.Record(ctx, audit.Record{
			EntityType: audit.EntityVoucher,
			EntityID:   voucherType + "/" + voucherNo,
			Action:     audit.ActionCancelVoucher,
			Changes:    map[string]any{"entries": ids, "keys": len(order)},
		})
	})
	if err != nil {
		return nil, err
	}

	release()
	s.afterCommit(ctx, keys, result.RepostJobs)
	logger.Info(ctx, "voucher cancelled in stock ledger",
		"voucher_type", voucherType,
		"voucher_no", voucherNo,
		"entries", result.Cancelled,
		"reposted", result.Reposted,
		"deferred", len(result.RepostJobs),
	)
	return result, nil
}

// ListVoucherEntries returns every entry a voucher produced, cancelled included.
func (s *Service) ListVoucherEntries(ctx context.Context, voucherType, voucherNo string) ([]entity.StockLedgerEntry, error) {
	entries, err := s.repo.ListByVoucher(ctx, voucherType, voucherNo, true)
	if err != nil {
		return nil, fmt.Errorf("list voucher entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, apperror.NewNotFound("voucher", voucherType+"/"+voucherNo)
	}
	return entries, nil
}

// expand validates lines against master data and turns them into entries grouped by key.
func (s *Service) expand(ctx context.Context, cat *catalog.Cached, v Voucher) ([]*keyGroup, error) {
	var (
		groups     []*keyGroup
		byKey      = make(map[entity.LedgerKey]*keyGroup)
		strategies = make(map[string]valuation.Strategy)
	)

	for i, line := range v.Lines {
		scope, err := cat.Scope(ctx, v.Company, line.ItemCode, line.Warehouse)
		if err != nil {
			return nil, err
		}
		if scope.Warehouse.Company != "" && scope.Warehouse.Company != v.Company {
			return nil, apperror.NewValidation(fmt.Sprintf("line %d: warehouse %s belongs to company %s", i+1, line.Warehouse, scope.Warehouse.Company))
		}

		st, ok := strategies[line.ItemCode]
		if !ok {
			if st, err = s.registry.Lookup(catalog.ValuationMethod(scope.Item, scope.Company)); err != nil {
				return nil, apperror.NewValidation(fmt.Sprintf("line %d: %v", i+1, err))
			}
			strategies[line.ItemCode] = st
		}

		entries, err := lineEntries(i, v, line, scope.Item)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			k := e.Key()
			g, ok := byKey[k]
			if !ok {
				g = &keyGroup{key: k, scope: scope, strategy: st}
				byKey[k] = g
				groups = append(groups, g)
			}
			g.entries = append(g.entries, e)
		}
	}
	return groups, nil
}

// lineEntries builds the entries of one line. Items valued per batch get one
// entry per batch; other items keep their batches in the lot table.
func lineEntries(idx int, v Voucher, line MovementLine, item *entity.ItemSettings) ([]*entity.StockLedgerEntry, error) {
	pos := idx + 1
	if line.ActualQty.IsPositive() && !line.IncomingRate.IsPositive() && !line.AllowZeroValuationRate {
		return nil, apperror.NewValidation(fmt.Sprintf("line %d: inward movement needs a positive incoming rate or allowZeroValuationRate", pos)).
			WithDetail("line", pos)
	}
	if line.BatchNo != "" && len(line.Lots) > 0 {
		return nil, apperror.NewValidation(fmt.Sprintf("line %d: use either batch_no or lots", pos))
	}
	hasBatch := line.BatchNo != "" || len(line.Lots) > 0
	if item.HasBatchNo && !hasBatch {
		return nil, apperror.NewValidation(fmt.Sprintf("line %d: item %s requires a batch", pos, line.ItemCode))
	}
	if !item.HasBatchNo && line.BatchNo != "" {
		return nil, apperror.NewValidation(fmt.Sprintf("line %d: item %s is not batch tracked", pos, line.ItemCode))
	}
	if len(line.Lots) > 0 {
		var total types.Quantity
		for _, lot := range line.Lots {
			if lot.BatchNo != "" && !item.HasBatchNo {
				return nil, apperror.NewValidation(fmt.Sprintf("line %d: item %s is not batch tracked", pos, line.ItemCode))
			}
			total += lot.Qty
		}
		if total != line.ActualQty.Abs() {
			return nil, apperror.NewValidation(fmt.Sprintf("line %d: lot quantities %s do not match line quantity %s", pos, total, line.ActualQty.Abs())).
				WithDetail("line", pos)
		}
	}

	detailNo := line.VoucherDetailNo
	if detailNo == "" {
		detailNo = strconv.Itoa(pos)
	}
	base := entity.StockLedgerEntry{
		Company:         v.Company,
		ItemCode:        line.ItemCode,
		Warehouse:       line.Warehouse,
		PostingAt:       v.PostingAt,
		VoucherType:     v.VoucherType,
		VoucherNo:       v.VoucherNo,
		VoucherDetailNo: detailNo,
		ActualQty:       line.ActualQty,
		IncomingRate:    line.IncomingRate,
		AllowZeroRate:   line.AllowZeroValuationRate,
		IsOpening:       v.IsOpening,
	}
	signed := func(lot LotAllocation) entity.LotEntry {
		q := lot.Qty
		if line.ActualQty.IsNegative() {
			q = q.Neg()
		}
		return entity.LotEntry{BatchNo: lot.BatchNo, SerialNo: lot.SerialNo, Qty: q}
	}

	switch {
	case item.BatchWiseValuation && line.BatchNo != "":
		e := base
		e.BatchNo = line.BatchNo
		return []*entity.StockLedgerEntry{&e}, nil

	case item.BatchWiseValuation && len(line.Lots) > 0:
		var (
			out     []*entity.StockLedgerEntry
			byBatch = make(map[string]*entity.StockLedgerEntry)
		)
		for _, lot := range line.Lots {
			if lot.BatchNo == "" {
				return nil, apperror.NewValidation(fmt.Sprintf("line %d: item %s is valued per batch; every lot needs a batch", pos, line.ItemCode))
			}
			le := signed(lot)
			e, ok := byBatch[lot.BatchNo]
			if !ok {
				cp := base
				cp.BatchNo = lot.BatchNo
				cp.ActualQty = 0
				cp.HasLots = true
				e = &cp
				byBatch[lot.BatchNo] = e
				out = append(out, e)
			}
			e.ActualQty += le.Qty
			e.Lots = append(e.Lots, le)
		}
		return out, nil

	case line.BatchNo != "":
		e := base
		e.HasLots = true
		e.Lots = []entity.LotEntry{{BatchNo: line.BatchNo, Qty: line.ActualQty}}
		return []*entity.StockLedgerEntry{&e}, nil

	case len(line.Lots) > 0:
		e := base
		e.HasLots = true
		for _, lot := range line.Lots {
			e.Lots = append(e.Lots, signed(lot))
		}
		return []*entity.StockLedgerEntry{&e}, nil
	}

	e := base
	return []*entity.StockLedgerEntry{&e}, nil
}

func (s *Service) markStale(ctx context.Context, company string, from time.Time, scope catalog.Scope) error {
	if s.closings == nil {
		return nil
	}
	n, err := s.closings.MarkStale(ctx, company, from, ClosingScope{
		ItemCode:      scope.Item.Code,
		ItemGroup:     scope.Item.ItemGroup,
		Warehouse:     scope.Warehouse.Name,
		WarehouseType: scope.Warehouse.WarehouseType,
	})
	if err != nil {
		return fmt.Errorf("mark closings stale: %w", err)
	}
	if n > 0 {
		logger.Warn(ctx, "stock closings need regeneration",
			"company", company, "from", from.Format("2006-01-02"), "count", n)
	}
	return nil
}

// lockKeys returns a release func that is safe to call more than once, so a
// mutation can unlock before dispatching deferred jobs that take the same locks.
func (s *Service) lockKeys(ctx context.Context, keys []entity.LedgerKey) (func(), error) {
	names := lock.LedgerNames(keys)
	release, err := s.locker.Acquire(ctx, names)
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			return nil, apperror.NewLockTimeout(strings.Join(names, ","))
		}
		return nil, fmt.Errorf("acquire ledger locks: %w", err)
	}
	return sync.OnceFunc(release), nil
}

func (s *Service) afterCommit(ctx context.Context, keys []entity.LedgerKey, jobs []id.ID) {
	if s.cache != nil {
		// aggregate balances of batch-valued items are cached under the batchless key
		all := make([]entity.LedgerKey, 0, 2*len(keys))
		for _, k := range keys {
			all = append(all, k)
			if k.BatchNo != "" {
				all = append(all, entity.LedgerKey{ItemCode: k.ItemCode, Warehouse: k.Warehouse})
			}
		}
		s.cache.Invalidate(ctx, all)
	}
	if len(jobs) > 0 {
		s.reposts.Dispatch(ctx, jobs)
	}
}

func (s *Service) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperror.NewValidation(err.Error())
	}
	appErr := apperror.NewValidation("invalid voucher")
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fe.Tag()
	}
	return appErr.WithDetail("fields", fields)
}

func groupKeys(groups []*keyGroup) []entity.LedgerKey {
	keys := make([]entity.LedgerKey, len(groups))
	for i, g := range groups {
		keys[i] = g.key
	}
	return keys
}
