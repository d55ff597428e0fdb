// Package valuation implements the costing strategies applied to every stock movement.
//
// A strategy is a pure function over the running state of one ledger key:
// Apply(state, movement) -> (new state, value difference). Given the same baseline
// and the same ordered movements, the result is always identical, which is what
// makes repost idempotent.
package valuation

import (
	"errors"
	"fmt"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
)

// ratePrecision is the number of fractional digits kept on valuation rates.
const ratePrecision int32 = 9

var (
	// ErrMissingRate is returned for an inward movement without a rate and
	// without the zero-valuation flag.
	ErrMissingRate = errors.New("valuation: inward movement requires a positive incoming rate")
	// ErrNegativeRate is returned for a negative incoming rate.
	ErrNegativeRate = errors.New("valuation: incoming rate must not be negative")
	// ErrUnknownMethod is returned by Registry.Lookup.
	ErrUnknownMethod = errors.New("valuation: unknown valuation method")
)

// State is the running position of a key after some entry.
type State struct {
	Qty   types.Quantity
	Rate  types.Money
	Value types.Money
	// Queue is populated by FIFO only.
	Queue entity.Queue
}

// StateOf reads the running state stamped on an entry.
func StateOf(e *entity.StockLedgerEntry) State {
	return State{
		Qty:   e.QtyAfterTransaction,
		Rate:  e.ValuationRate,
		Value: e.StockValue,
		Queue: e.StockQueue.Clone(),
	}
}

// StateOfClosing reads the running state stored on a closing valuation row.
func StateOfClosing(b *entity.StockClosingBalance) State {
	return State{
		Qty:   b.ActualQty,
		Rate:  b.ValuationRate,
		Value: b.StockValueDifference,
		Queue: b.FIFOQueue.Clone(),
	}
}

// Movement is the input a strategy consumes.
type Movement struct {
	Qty           types.Quantity
	IncomingRate  types.Money
	AllowZeroRate bool
}

// MovementOf extracts the movement carried by an entry.
func MovementOf(e *entity.StockLedgerEntry) Movement {
	return Movement{Qty: e.ActualQty, IncomingRate: e.IncomingRate, AllowZeroRate: e.AllowZeroRate}
}

// Strategy is a costing method.
type Strategy interface {
	Method() entity.ValuationMethod
	Apply(state State, mv Movement) (State, types.Money, error)
}

// Post applies the entry's movement on top of state and stamps the running
// fields (qty after transaction, rate, value, value difference, queue) on e.
func Post(st Strategy, state State, e *entity.StockLedgerEntry) (State, error) {
	next, diff, err := st.Apply(state, MovementOf(e))
	if err != nil {
		return state, fmt.Errorf("%s %s: %w", st.Method(), e.Key(), err)
	}
	e.QtyAfterTransaction = next.Qty
	e.ValuationRate = next.Rate
	e.StockValue = next.Value
	e.StockValueDifference = diff
	e.StockQueue = next.Queue.Clone()
	return next, nil
}

// inwardRate resolves the unit cost of an inward movement. A zero rate is
// only accepted with the zero-valuation flag.
func inwardRate(mv Movement) (types.Money, error) {
	switch {
	case mv.IncomingRate.IsNegative():
		return types.Zero(), ErrNegativeRate
	case mv.IncomingRate.IsPositive():
		return mv.IncomingRate, nil
	case mv.AllowZeroRate:
		return types.Zero(), nil
	default:
		return types.Zero(), ErrMissingRate
	}
}

func roundRate(r types.Money) types.Money {
	return r.Round(ratePrecision)
}
