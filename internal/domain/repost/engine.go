// Package repost recomputes running balances of a ledger key after an
// out-of-order change. A replay starts from the nearest usable closing snapshot
// (or from zero), walks every live entry forward and rewrites the derived
// fields in place. Replays are pure functions of the baseline and the entry
// sequence, so running one twice changes nothing the second time.
package repost

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/guard"
	"stockledger/internal/domain/valuation"
)

var tracer = otel.Tracer("stockledger/repost")

var farFuture = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// EntryStore is the part of the ledger store a replay needs.
type EntryStore interface {
	GetPrevious(ctx context.Context, key entity.LedgerKey, pos entity.Position) (*entity.StockLedgerEntry, error)
	GetFollowing(ctx context.Context, key entity.LedgerKey, pos entity.Position) ([]entity.StockLedgerEntry, error)
	UpdateRunningValues(ctx context.Context, entries []entity.StockLedgerEntry) error
}

// ClosingSource exposes closing snapshots as replay baselines.
type ClosingSource interface {
	// ListUsable returns completed, non-stale closings of company whose to_date
	// is strictly before the given day, newest first.
	ListUsable(ctx context.Context, company string, before time.Time) ([]entity.StockClosingEntry, error)
	// ValuationRow returns the valuation-key row of a closing, or nil.
	ValuationRow(ctx context.Context, closingID id.ID, key entity.LedgerKey) (*entity.StockClosingBalance, error)
}

// Engine replays ledger keys.
type Engine struct {
	entries   EntryStore
	closings  ClosingSource
	registry  *valuation.Registry
	negatives guard.NegativeStockPolicy
}

// NewEngine creates a repost engine.
func NewEngine(entries EntryStore, closings ClosingSource, registry *valuation.Registry, negatives guard.NegativeStockPolicy) *Engine {
	return &Engine{
		entries:   entries,
		closings:  closings,
		registry:  registry,
		negatives: negatives,
	}
}

// Request describes one replay.
type Request struct {
	Company string
	Key     entity.LedgerKey
	// Trigger is the position of the earliest change. Entries at or after it
	// are checked against the negative stock guard.
	Trigger entity.Position
	Scope   catalog.Scope
	// DryRun computes without writing back.
	DryRun bool
}

// Baseline is the state a replay starts from.
type Baseline struct {
	ClosingID id.ID
	Boundary  time.Time
	State     valuation.State
}

// FromClosing reports whether the baseline came from a closing snapshot.
func (b Baseline) FromClosing() bool { return !id.IsNil(b.ClosingID) }

// Change is an entry whose derived fields moved.
type Change struct {
	Before entity.StockLedgerEntry
	After  entity.StockLedgerEntry
}

// ValueDelta is the correction to the value already reported for the entry.
func (c Change) ValueDelta() types.Money {
	return c.After.StockValueDifference.Sub(c.Before.StockValueDifference)
}

// Result summarizes a replay.
type Result struct {
	Key      entity.LedgerKey
	Baseline Baseline
	Replayed int
	Changes  []Change
	Final    valuation.State
}

// Repost replays req.Key from its baseline to the latest entry.
// A negative running quantity at or after the trigger fails the replay with a
// NegativeStockError unless the scope allows negative stock; nothing is written then.
func (e *Engine) Repost(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "repost",
		trace.WithAttributes(
			attribute.String("ledger.key", req.Key.String()),
			attribute.String("ledger.trigger", req.Trigger.PostingAt.Format(time.RFC3339)),
		))
	defer span.End()

	res, err := e.replay(ctx, req, time.Time{}, true, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("repost.replayed", res.Replayed),
		attribute.Int("repost.changed", len(res.Changes)),
	)

	if req.DryRun || len(res.Changes) == 0 {
		return res, nil
	}

	updated := make([]entity.StockLedgerEntry, len(res.Changes))
	for i := range res.Changes {
		updated[i] = res.Changes[i].After
	}
	if err := e.entries.UpdateRunningValues(ctx, updated); err != nil {
		return nil, fmt.Errorf("update running values of %s: %w", req.Key, err)
	}
	return res, nil
}

// BalanceAt replays the key up to asOf without writing. With useClosing the
// replay starts from the nearest snapshot, otherwise from zero.
func (e *Engine) BalanceAt(ctx context.Context, company string, key entity.LedgerKey, scope catalog.Scope, asOf time.Time, useClosing bool) (valuation.State, error) {
	trigger := asOf
	if trigger.IsZero() {
		trigger = farFuture
	}
	req := Request{Company: company, Key: key, Scope: scope, Trigger: entity.Position{PostingAt: trigger}, DryRun: true}
	res, err := e.replay(ctx, req, asOf, useClosing, false)
	if err != nil {
		return valuation.State{}, err
	}
	return res.Final, nil
}

func (e *Engine) replay(ctx context.Context, req Request, until time.Time, useClosing, guarded bool) (*Result, error) {
	method := catalog.ValuationMethod(req.Scope.Item, req.Scope.Company)
	st, err := e.registry.Lookup(method)
	if err != nil {
		return nil, err
	}

	base := Baseline{}
	if useClosing {
		if base, err = e.baseline(ctx, req); err != nil {
			return nil, err
		}
	}

	entries, err := e.entries.GetFollowing(ctx, req.Key, entity.Position{PostingAt: base.Boundary})
	if err != nil {
		return nil, fmt.Errorf("load entries of %s: %w", req.Key, err)
	}

	checkNegative := guarded && !e.negatives.Allowed(req.Scope.Item, req.Scope.Warehouse, req.Scope.Company)
	res := &Result{Key: req.Key, Baseline: base}
	state := base.State

	for i := range entries {
		if !until.IsZero() && entries[i].PostingAt.After(until) {
			break
		}
		before := entries[i]
		after := entries[i]

		state, err = valuation.Post(st, state, &after)
		if err != nil {
			return nil, valuation.AsValidation(req.Key, after.PostingAt, err)
		}
		if checkNegative && !after.Position().Before(req.Trigger) {
			if err := guard.CheckRunning(req.Key, after.PostingAt, after.QtyAfterTransaction); err != nil {
				return nil, err
			}
		}

		res.Replayed++
		if !before.SameRunningValues(&after) {
			res.Changes = append(res.Changes, Change{Before: before, After: after})
		}
	}

	res.Final = state
	return res, nil
}

// baseline picks the newest usable closing that ends before the trigger day
// and covers the key's scope.
func (e *Engine) baseline(ctx context.Context, req Request) (Baseline, error) {
	if e.closings == nil || req.Scope.Item == nil || req.Scope.Warehouse == nil {
		return Baseline{}, nil
	}

	closings, err := e.closings.ListUsable(ctx, req.Company, req.Trigger.PostingAt)
	if err != nil {
		return Baseline{}, fmt.Errorf("list closings: %w", err)
	}

	for i := range closings {
		c := &closings[i]
		if !c.ClosingFilters.Matches(*req.Scope.Item, *req.Scope.Warehouse) {
			continue
		}
		base := Baseline{ClosingID: c.ID, Boundary: c.Boundary()}

		row, err := e.closings.ValuationRow(ctx, c.ID, req.Key)
		if err != nil {
			return Baseline{}, fmt.Errorf("load closing row: %w", err)
		}
		if row != nil {
			base.State = valuation.StateOfClosing(row)
			return base, nil
		}

		// no row: the key was empty at the boundary; keep its last known rate
		prev, err := e.entries.GetPrevious(ctx, req.Key, entity.Position{PostingAt: base.Boundary})
		if err != nil {
			return Baseline{}, fmt.Errorf("load rate before closing: %w", err)
		}
		if prev != nil {
			base.State.Rate = prev.ValuationRate
		}
		return base, nil
	}
	return Baseline{}, nil
}
