// Package ledgertest wires the ledger, repost, closing and reports services
// over the in-memory store for tests.
package ledgertest

import (
	"context"
	"sync"
	"time"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/closing"
	"stockledger/internal/domain/guard"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/reports"
	"stockledger/internal/domain/repost"
	"stockledger/internal/domain/valuation"
	"stockledger/internal/infrastructure/locker"
	"stockledger/internal/infrastructure/storage/memory"
)

// Fixture names.
const (
	Company        = "Acme"
	StockAccount   = "Stock In Hand - A"
	OpeningAccount = "Temporary Opening - A"
	Main           = "Main - A"
	Spare          = "Spare - A"

	ItemFIFO      = "FIFO-1"
	ItemMA        = "MA-1"
	ItemBatch     = "BATCH-1" // batch tracked, valued per item
	ItemBatchWise = "BW-1"    // batch tracked, valued per batch
	ItemNegative  = "NEG-1"   // FIFO, negative stock allowed
)

// Options tune the environment.
type Options struct {
	InlineRepostLimit int
	AllowNegative     bool
	FrozenUpTo        time.Time
	FrozenDays        int
	// ManualJobs keeps scheduled work queued until Scheduler.Drain.
	ManualJobs bool
	// Now freezes the creation stamp of new entries.
	Now func() time.Time
}

// Env is a fully wired in-memory ledger.
type Env struct {
	Store     *memory.Store
	Catalog   *memory.Catalog
	Entries   *memory.LedgerRepo
	Closings  *memory.ClosingRepo
	Jobs      *memory.JobRepo
	Outbox    *memory.Outbox
	Audit     *memory.AuditLog
	Scheduler *Scheduler

	Ledger       *ledger.Service
	Reposts      *repost.Service
	ClosingSvc   *closing.Service
	ReportsSvc   *reports.Service
	NegativeRule guard.NegativeStockPolicy
}

// New builds an environment with the default fixtures loaded.
func New(opts Options) *Env {
	store := memory.New()
	env := &Env{
		Store:        store,
		Catalog:      memory.NewCatalog(store),
		Entries:      memory.NewLedgerRepo(store),
		Closings:     memory.NewClosingRepo(store),
		Jobs:         memory.NewJobRepo(store),
		Outbox:       memory.NewOutbox(store),
		Audit:        memory.NewAuditLog(store),
		NegativeRule: guard.NewNegativeStockPolicy(opts.AllowNegative),
	}
	env.loadFixtures()

	txm := memory.NewTxManager(store)
	locks := locker.NewLocal(time.Second)
	registry := valuation.NewRegistry(valuation.FIFO{}, valuation.MovingAverage{})

	engine := repost.NewEngine(env.Entries, env.Closings, registry, env.NegativeRule)
	env.Reposts = repost.NewService(engine, env.Jobs, txm, locks, env.Catalog, env.Outbox, env.Audit, nil)
	env.ClosingSvc = closing.NewService(env.Closings, closing.NewGenerator(env.Entries, env.Closings, env.Catalog), txm, env.Catalog, env.Audit, nil)
	env.ReportsSvc = reports.NewService(env.Entries, env.Closings, env.Catalog)
	env.Ledger = ledger.NewService(ledger.Deps{
		Repo:              env.Entries,
		TxManager:         txm,
		Locker:            locks,
		Catalog:           env.Catalog,
		Registry:          registry,
		Negatives:         env.NegativeRule,
		Freeze:            guard.NewFreezePolicy(opts.FrozenUpTo, opts.FrozenDays),
		Reposts:           env.Reposts,
		Closings:          env.Closings,
		Facts:             env.Outbox,
		Audit:             env.Audit,
		InlineRepostLimit: opts.InlineRepostLimit,
		Now:               opts.Now,
	})

	env.Scheduler = &Scheduler{reposts: env.Reposts, closings: env.ClosingSvc, manual: opts.ManualJobs}
	env.Reposts.SetScheduler(env.Scheduler)
	env.ClosingSvc.SetScheduler(env.Scheduler)
	return env
}

func (e *Env) loadFixtures() {
	yes := true
	e.Catalog.PutCompany(entity.CompanySettings{
		Name:                   Company,
		DefaultValuationMethod: entity.ValuationFIFO,
		DefaultStockAccount:    StockAccount,
		OpeningAccounts:        []string{OpeningAccount},
	})
	e.Catalog.PutWarehouse(entity.WarehouseSettings{Name: Main, Company: Company, WarehouseType: "Stores"})
	e.Catalog.PutWarehouse(entity.WarehouseSettings{Name: Spare, Company: Company, WarehouseType: "Transit"})
	e.Catalog.PutItem(entity.ItemSettings{Code: ItemFIFO, ItemGroup: "Hardware", StockUOM: "Nos", ValuationMethod: entity.ValuationFIFO})
	e.Catalog.PutItem(entity.ItemSettings{Code: ItemMA, ItemGroup: "Consumables", StockUOM: "Nos", ValuationMethod: entity.ValuationMovingAverage})
	e.Catalog.PutItem(entity.ItemSettings{Code: ItemBatch, ItemGroup: "Hardware", StockUOM: "Nos", HasBatchNo: true})
	e.Catalog.PutItem(entity.ItemSettings{Code: ItemBatchWise, ItemGroup: "Raw Material", StockUOM: "Kg", HasBatchNo: true, BatchWiseValuation: true})
	e.Catalog.PutItem(entity.ItemSettings{Code: ItemNegative, ItemGroup: "Hardware", StockUOM: "Nos", AllowNegativeStock: &yes})
}

// Balance reads the balance of item in warehouse as of asOf. Zero asOf means latest.
func (e *Env) Balance(ctx context.Context, item, warehouse string, asOf time.Time) (*ledger.Balance, error) {
	return e.Ledger.GetBalance(ctx, ledger.BalanceQuery{ItemCode: item, Warehouse: warehouse, AsOf: asOf})
}

// Day returns midnight UTC of the given date.
func Day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// At returns the given date at hour:00 UTC.
func At(y int, m time.Month, d, hour int) time.Time {
	return time.Date(y, m, d, hour, 0, 0, 0, time.UTC)
}

// Voucher builds a voucher of the fixture company.
func Voucher(voucherType, no string, at time.Time, lines ...ledger.MovementLine) ledger.Voucher {
	return ledger.Voucher{VoucherType: voucherType, VoucherNo: no, Company: Company, PostingAt: at, Lines: lines}
}

// In is an inward line of whole units at rate.
func In(item, warehouse string, qty int64, rate string) ledger.MovementLine {
	return ledger.MovementLine{ItemCode: item, Warehouse: warehouse, ActualQty: types.NewQuantity(qty), IncomingRate: types.MustMoney(rate)}
}

// Out is an outward line of whole units.
func Out(item, warehouse string, qty int64) ledger.MovementLine {
	return ledger.MovementLine{ItemCode: item, Warehouse: warehouse, ActualQty: types.NewQuantity(-qty)}
}

// Scheduler runs scheduled work synchronously, or queues it when manual.
type Scheduler struct {
	reposts  *repost.Service
	closings *closing.Service
	manual   bool

	mu       sync.Mutex
	Reposted []id.ID
	Closed   []id.ID
	pending  []func(ctx context.Context) error
}

func (s *Scheduler) EnqueueRepost(ctx context.Context, jobID id.ID) error {
	s.mu.Lock()
	s.Reposted = append(s.Reposted, jobID)
	s.mu.Unlock()
	return s.run(ctx, func(ctx context.Context) error { return s.reposts.Run(ctx, jobID) })
}

func (s *Scheduler) EnqueueClosing(ctx context.Context, closingID id.ID) error {
	s.mu.Lock()
	s.Closed = append(s.Closed, closingID)
	s.mu.Unlock()
	return s.run(ctx, func(ctx context.Context) error { return s.closings.Process(ctx, closingID) })
}

func (s *Scheduler) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.manual {
		s.mu.Lock()
		s.pending = append(s.pending, fn)
		s.mu.Unlock()
		return nil
	}
	// like a queue, task failures are not the enqueuer's concern
	_ = fn(ctx)
	return nil
}

// Drain runs queued work in enqueue order and returns the first error.
func (s *Scheduler) Drain(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	var first error
	for _, fn := range pending {
		if err := fn(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ repost.Scheduler  = (*Scheduler)(nil)
	_ closing.Scheduler = (*Scheduler)(nil)
)
