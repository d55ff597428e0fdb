package valuation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
)

func qty(n int64) types.Quantity { return types.NewQuantity(n) }

func money(s string) types.Money { return decimal.RequireFromString(s) }

func assertMoney(t *testing.T, want string, got types.Money) {
	t.Helper()
	assert.True(t, money(want).Equal(got), "want %s, got %s", want, got)
}

func applyAll(t *testing.T, st Strategy, moves ...Movement) (State, []types.Money) {
	t.Helper()
	var (
		s     State
		diffs []types.Money
	)
	for _, mv := range moves {
		next, diff, err := st.Apply(s, mv)
		require.NoError(t, err)
		s = next
		diffs = append(diffs, diff)
	}
	return s, diffs
}

func TestFIFO_ConsumesLotsOldestFirst(t *testing.T) {
	s, diffs := applyAll(t, FIFO{},
		Movement{Qty: qty(10), IncomingRate: money("10")},
		Movement{Qty: qty(1), IncomingRate: money("20")},
		Movement{Qty: qty(-11)},
	)

	assertMoney(t, "-120", diffs[2])
	assert.True(t, s.Qty.IsZero())
	assertMoney(t, "0", s.Value)
	assert.Empty(t, s.Queue)
}

func TestFIFO_PartialLotConsumption(t *testing.T) {
	s, diffs := applyAll(t, FIFO{},
		Movement{Qty: qty(10), IncomingRate: money("10")},
		Movement{Qty: qty(5), IncomingRate: money("20")},
		Movement{Qty: qty(-12)},
	)

	assertMoney(t, "-140", diffs[2])
	require.Len(t, s.Queue, 1)
	assert.Equal(t, qty(3), s.Queue[0].Qty)
	assertMoney(t, "20", s.Queue[0].Rate)
	assertMoney(t, "60", s.Value)
	assertMoney(t, "20", s.Rate)
}

func TestFIFO_NegativeCrossingCarriesLastRate(t *testing.T) {
	s, diffs := applyAll(t, FIFO{},
		Movement{Qty: qty(1), IncomingRate: money("10")},
		Movement{Qty: qty(-2)},
	)
	assert.Equal(t, qty(-1), s.Qty)
	assertMoney(t, "-10", s.Value)
	assertMoney(t, "-20", diffs[1])
	assertMoney(t, "10", s.Rate)

	next, diff, err := FIFO{}.Apply(s, Movement{Qty: qty(3), IncomingRate: money("20")})
	require.NoError(t, err)
	assert.Equal(t, qty(2), next.Qty)
	assertMoney(t, "40", next.Value)
	assertMoney(t, "50", diff)
	assert.Equal(t, entity.Queue{{Qty: qty(2), Rate: money("20")}}, next.Queue)
}

func TestFIFO_DeficitDeepens(t *testing.T) {
	s, _ := applyAll(t, FIFO{},
		Movement{Qty: qty(1), IncomingRate: money("10")},
		Movement{Qty: qty(-2)},
		Movement{Qty: qty(-1)},
	)
	assert.Equal(t, qty(-2), s.Qty)
	assertMoney(t, "-20", s.Value)

	// receipt smaller than the deficit keeps the deficit rate
	next, diff, err := FIFO{}.Apply(s, Movement{Qty: qty(1), IncomingRate: money("30")})
	require.NoError(t, err)
	assert.Equal(t, qty(-1), next.Qty)
	assertMoney(t, "-10", next.Value)
	assertMoney(t, "10", diff)
}

func TestFIFO_ZeroRate(t *testing.T) {
	_, _, err := FIFO{}.Apply(State{}, Movement{Qty: qty(1)})
	assert.ErrorIs(t, err, ErrMissingRate)

	s, diff, err := FIFO{}.Apply(State{}, Movement{Qty: qty(1), AllowZeroRate: true})
	require.NoError(t, err)
	assertMoney(t, "0", diff)
	assert.Equal(t, qty(1), s.Qty)

	// a current valuation rate is not a substitute
	base, _ := applyAll(t, FIFO{}, Movement{Qty: qty(2), IncomingRate: money("7")})
	_, _, err = FIFO{}.Apply(base, Movement{Qty: qty(1)})
	assert.ErrorIs(t, err, ErrMissingRate)

	_, _, err = FIFO{}.Apply(State{}, Movement{Qty: qty(1), IncomingRate: money("-1")})
	assert.ErrorIs(t, err, ErrNegativeRate)
}

func TestFIFO_DoesNotMutateInputState(t *testing.T) {
	s, _ := applyAll(t, FIFO{}, Movement{Qty: qty(5), IncomingRate: money("3")})
	before := s.Queue.Clone()

	_, _, err := FIFO{}.Apply(s, Movement{Qty: qty(-2)})
	require.NoError(t, err)
	assert.Equal(t, before, s.Queue)
}
