// Package memory is an in-process implementation of every store the ledger
// needs. It backs tests and the single-node "memory" driver. Transactions are
// serialized and roll back by restoring a snapshot; calls made outside a
// transaction wait for it, so a rollback never loses their writes and they
// never read uncommitted rows.
package memory

import (
	"context"
	"sync"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/audit"
)

type state struct {
	seq        int64
	entries    []*entity.StockLedgerEntry
	closings   map[id.ID]*entity.StockClosingEntry
	balances   map[id.ID][]entity.StockClosingBalance
	jobs       map[id.ID]*entity.RepostJob
	items      map[string]*entity.ItemSettings
	warehouses map[string]*entity.WarehouseSettings
	companies  map[string]*entity.CompanySettings
	facts      []entity.ValueChangeFact
	audit      []audit.Entry
}

func newState() *state {
	return &state{
		closings:   make(map[id.ID]*entity.StockClosingEntry),
		balances:   make(map[id.ID][]entity.StockClosingBalance),
		jobs:       make(map[id.ID]*entity.RepostJob),
		items:      make(map[string]*entity.ItemSettings),
		warehouses: make(map[string]*entity.WarehouseSettings),
		companies:  make(map[string]*entity.CompanySettings),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	c.entries = make([]*entity.StockLedgerEntry, len(s.entries))
	for i, e := range s.entries {
		c.entries[i] = cloneEntry(e)
	}
	for k, v := range s.closings {
		cp := *v
		c.closings[k] = &cp
	}
	for k, v := range s.balances {
		rows := make([]entity.StockClosingBalance, len(v))
		for i := range v {
			rows[i] = v[i]
			rows[i].FIFOQueue = v[i].FIFOQueue.Clone()
		}
		c.balances[k] = rows
	}
	for k, v := range s.jobs {
		cp := *v
		c.jobs[k] = &cp
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.warehouses {
		c.warehouses[k] = v
	}
	for k, v := range s.companies {
		c.companies[k] = v
	}
	c.facts = append([]entity.ValueChangeFact(nil), s.facts...)
	c.audit = append([]audit.Entry(nil), s.audit...)
	return c
}

func cloneEntry(e *entity.StockLedgerEntry) *entity.StockLedgerEntry {
	cp := *e
	cp.StockQueue = e.StockQueue.Clone()
	if e.Lots != nil {
		cp.Lots = append([]entity.LotEntry(nil), e.Lots...)
	}
	return &cp
}

// Store holds all in-memory tables.
type Store struct {
	mu   sync.RWMutex
	data *state

	// txMu serializes transactions.
	txMu sync.Mutex
}

// New creates an empty store.
func New() *Store {
	return &Store{data: newState()}
}

type txKey struct{}

func inTx(ctx context.Context) bool { return ctx.Value(txKey{}) != nil }

// lock takes the store for writing. Outside a transaction the call runs as its
// own single-statement transaction.
func (s *Store) lock(ctx context.Context) (unlock func()) {
	if inTx(ctx) {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

func (s *Store) rlock(ctx context.Context) (unlock func()) {
	if inTx(ctx) {
		s.mu.RLock()
		return s.mu.RUnlock
	}
	s.txMu.Lock()
	s.mu.RLock()
	return func() {
		s.mu.RUnlock()
		s.txMu.Unlock()
	}
}

// TxManager implements tx.Manager over a Store.
type TxManager struct {
	store *Store
}

// NewTxManager creates a transaction manager for store.
func NewTxManager(store *Store) *TxManager {
	return &TxManager{store: store}
}

// RunInTransaction runs fn with exclusive write access. Nested calls join the
// outer transaction; an error restores the state from before the outermost call.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	m.store.txMu.Lock()
	defer m.store.txMu.Unlock()

	m.store.mu.RLock()
	snapshot := m.store.data.clone()
	m.store.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		m.store.mu.Lock()
		m.store.data = snapshot
		m.store.mu.Unlock()
		return err
	}
	return nil
}

// ReadOnly holds writers off while fn reads, so fn sees one state.
func (m *TxManager) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	m.store.txMu.Lock()
	defer m.store.txMu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, true))
}
