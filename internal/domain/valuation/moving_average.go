package valuation

import (
	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
)

// MovingAverage blends every receipt into a single running average rate.
type MovingAverage struct{}

func (MovingAverage) Method() entity.ValuationMethod { return entity.ValuationMovingAverage }

func (MovingAverage) Apply(s State, mv Movement) (State, types.Money, error) {
	next := State{Qty: s.Qty + mv.Qty, Rate: s.Rate}

	if mv.Qty.IsPositive() {
		rate, err := inwardRate(mv)
		if err != nil {
			return s, types.Zero(), err
		}
		if !s.Qty.IsPositive() || !next.Qty.IsPositive() {
			// no positive balance to blend with
			next.Rate = rate
		} else {
			total := s.Qty.Mul(s.Rate).Add(mv.Qty.Mul(rate))
			next.Rate = roundRate(total.Div(next.Qty.Decimal()))
		}
	}

	next.Value = types.RoundMoney(next.Qty.Mul(next.Rate))
	return next, next.Value.Sub(s.Value), nil
}
