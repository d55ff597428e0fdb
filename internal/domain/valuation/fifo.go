package valuation

import (
	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
)

// FIFO values stock as a queue of received lots consumed oldest first.
type FIFO struct{}

func (FIFO) Method() entity.ValuationMethod { return entity.ValuationFIFO }

func (FIFO) Apply(s State, mv Movement) (State, types.Money, error) {
	queue := s.Queue.Clone()

	switch {
	case mv.Qty.IsPositive():
		rate, err := inwardRate(mv)
		if err != nil {
			return s, types.Zero(), err
		}
		queue = addLot(queue, mv.Qty, rate)
	case mv.Qty.IsNegative():
		queue = consume(queue, mv.Qty.Neg(), s.Rate)
	}
	queue = compact(queue)

	next := State{Qty: s.Qty + mv.Qty, Queue: queue, Rate: s.Rate}
	next.Value = types.RoundMoney(queueValue(queue))
	switch {
	case !next.Qty.IsZero():
		next.Rate = roundRate(next.Value.Div(next.Qty.Decimal()))
	case len(queue) > 0:
		next.Rate = queue[len(queue)-1].Rate
	}

	return next, next.Value.Sub(s.Value), nil
}

// addLot pushes a received lot. A trailing deficit lot absorbs the receipt first:
// when the receipt covers the deficit, the remainder becomes a lot at the new rate.
func addLot(q entity.Queue, qty types.Quantity, rate types.Money) entity.Queue {
	if len(q) == 0 {
		return append(q, entity.Lot{Qty: qty, Rate: rate})
	}

	last := &q[len(q)-1]
	switch {
	case last.Rate.Equal(rate):
		last.Qty += qty
	case last.Qty.IsPositive():
		q = append(q, entity.Lot{Qty: qty, Rate: rate})
	default:
		merged := last.Qty + qty
		if merged.IsPositive() {
			*last = entity.Lot{Qty: merged, Rate: rate}
		} else {
			last.Qty = merged
		}
	}
	return q
}

// consume removes qty from the front of the queue. If the queue runs out,
// the remainder is kept as a deficit lot at the last consumed rate
// (or lastRate when nothing was queued).
func consume(q entity.Queue, qty types.Quantity, lastRate types.Money) entity.Queue {
	remaining := qty
	for remaining.IsPositive() {
		if len(q) == 0 {
			return append(q, entity.Lot{Qty: remaining.Neg(), Rate: lastRate})
		}

		front := &q[0]
		if !front.Qty.IsPositive() {
			front.Qty -= remaining
			return q
		}
		if remaining < front.Qty {
			front.Qty -= remaining
			return q
		}

		remaining -= front.Qty
		lastRate = front.Rate
		q = q[1:]
	}
	return q
}

func compact(q entity.Queue) entity.Queue {
	out := q[:0]
	for _, lot := range q {
		if !lot.Qty.IsZero() {
			out = append(out, lot)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func queueValue(q entity.Queue) types.Money {
	total := types.Zero()
	for _, lot := range q {
		total = total.Add(lot.Qty.Mul(lot.Rate))
	}
	return total
}
