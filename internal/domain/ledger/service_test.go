package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/ledger"
	lt "stockledger/internal/domain/ledger/ledgertest"
)

func money(s string) types.Money { return types.MustMoney(s) }

func qty(n int64) types.Quantity { return types.NewQuantity(n) }

func assertMoney(t *testing.T, want string, got types.Money, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, money(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func submit(t *testing.T, env *lt.Env, v ledger.Voucher) *ledger.SubmitResult {
	t.Helper()
	res, err := env.Ledger.SubmitMovement(context.Background(), v)
	require.NoError(t, err)
	return res
}

func balance(t *testing.T, env *lt.Env, item string) *ledger.Balance {
	t.Helper()
	b, err := env.Balance(context.Background(), item, lt.Main, time.Time{})
	require.NoError(t, err)
	return b
}

func TestSubmitMovement_FastPath(t *testing.T) {
	env := lt.New(lt.Options{})

	res := submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 10, 9), lt.In(lt.ItemFIFO, lt.Main, 10, "5")))

	require.Len(t, res.Lines, 1)
	assert.Equal(t, qty(10), res.Lines[0].QtyAfterTransaction)
	assertMoney(t, "50", res.Lines[0].StockValueDifference)
	assert.Zero(t, res.Reposted)
	assert.Empty(t, res.RepostJobs)

	facts := env.Outbox.Facts()
	require.Len(t, facts, 1)
	assert.Equal(t, lt.StockAccount, facts[0].AccountHint)
	assert.Equal(t, entity.FactReasonPost, facts[0].Reason)
	assertMoney(t, "50", facts[0].Amount)
}

func TestSubmitMovement_FIFOConsumesOldestLotsFirst(t *testing.T) {
	env := lt.New(lt.Options{})

	submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), lt.In(lt.ItemFIFO, lt.Main, 10, "10")))
	submit(t, env, lt.Voucher("Purchase Receipt", "PR-2", lt.At(2024, 1, 2, 9), lt.In(lt.ItemFIFO, lt.Main, 1, "20")))
	res := submit(t, env, lt.Voucher("Delivery Note", "DN-1", lt.At(2024, 1, 3, 9), lt.Out(lt.ItemFIFO, lt.Main, 11)))

	assertMoney(t, "-120", res.Lines[0].StockValueDifference)
	b := balance(t, env, lt.ItemFIFO)
	assert.True(t, b.Qty.IsZero())
	assertMoney(t, "0", b.Value)
}

func TestSubmitMovement_NegativeCrossingLotMerge(t *testing.T) {
	env := lt.New(lt.Options{})

	submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), lt.In(lt.ItemNegative, lt.Main, 1, "10")))
	b := balance(t, env, lt.ItemNegative)
	assert.Equal(t, qty(1), b.Qty)
	assertMoney(t, "10", b.Value)

	submit(t, env, lt.Voucher("Delivery Note", "DN-1", lt.At(2024, 1, 2, 9), lt.Out(lt.ItemNegative, lt.Main, 2)))
	b = balance(t, env, lt.ItemNegative)
	assert.Equal(t, qty(-1), b.Qty)
	assertMoney(t, "-10", b.Value)

	submit(t, env, lt.Voucher("Purchase Receipt", "PR-2", lt.At(2024, 1, 3, 9), lt.In(lt.ItemNegative, lt.Main, 3, "20")))
	b = balance(t, env, lt.ItemNegative)
	assert.Equal(t, qty(2), b.Qty)
	assertMoney(t, "40", b.Value)
}

func TestSubmitMovement_MovingAverageZeroRateDilutes(t *testing.T) {
	env := lt.New(lt.Options{})

	submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), lt.In(lt.ItemMA, lt.Main, 10, "100")))

	free := lt.In(lt.ItemMA, lt.Main, 10, "0")
	free.AllowZeroValuationRate = true
	submit(t, env, lt.Voucher("Purchase Receipt", "PR-2", lt.At(2024, 1, 2, 9), free))

	b := balance(t, env, lt.ItemMA)
	assert.Equal(t, qty(20), b.Qty)
	assertMoney(t, "1000", b.Value)
	assertMoney(t, "50", b.ValuationRate)
}

func TestSubmitMovement_InwardWithoutRateIsRejected(t *testing.T) {
	env := lt.New(lt.Options{})
	ctx := context.Background()

	_, err := env.Ledger.SubmitMovement(ctx, lt.Voucher("Stock Entry", "SE-1", lt.At(2024, 1, 1, 9), lt.In(lt.ItemMA, lt.Main, 5, "0")))
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation), err)

	// an existing valuation rate does not stand in for a missing one
	submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 2, 9), lt.In(lt.ItemMA, lt.Main, 10, "8")))
	_, err = env.Ledger.SubmitMovement(ctx, lt.Voucher("Stock Entry", "SE-2", lt.At(2024, 1, 3, 9), lt.In(lt.ItemMA, lt.Main, 5, "0")))
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation), err)

	_, err = env.Ledger.ListVoucherEntries(ctx, "Stock Entry", "SE-2")
	assert.True(t, apperror.IsNotFound(err), err)

	b := balance(t, env, lt.ItemMA)
	assert.Equal(t, qty(10), b.Qty)
	assertMoney(t, "80", b.Value)
}

func TestSubmitMovement_BackdatedInsertReposts(t *testing.T) {
	env := lt.New(lt.Options{})

	submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), lt.In(lt.ItemMA, lt.Main, 10, "10")))
	out := submit(t, env, lt.Voucher("Delivery Note", "DN-1", lt.At(2024, 1, 3, 9), lt.Out(lt.ItemMA, lt.Main, 5)))
	assertMoney(t, "-50", out.Lines[0].StockValueDifference)

	res := submit(t, env, lt.Voucher("Purchase Receipt", "PR-2", lt.At(2024, 1, 2, 9), lt.In(lt.ItemMA, lt.Main, 10, "40")))
	assert.Equal(t, 1, res.Reposted)

	b := balance(t, env, lt.ItemMA)
	assert.Equal(t, qty(15), b.Qty)
	assertMoney(t, "375", b.Value)

	entries, err := env.Ledger.ListVoucherEntries(context.Background(), "Delivery Note", "DN-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assertMoney(t, "-125", entries[0].StockValueDifference)
	assertMoney(t, "25", entries[0].ValuationRate)

	var repostFacts []entity.ValueChangeFact
	for _, f := range env.Outbox.Facts() {
		if f.Reason == entity.FactReasonRepost {
			repostFacts = append(repostFacts, f)
		}
	}
	require.Len(t, repostFacts, 1)
	assert.Equal(t, "DN-1", repostFacts[0].VoucherNo)
	assertMoney(t, "-75", repostFacts[0].Amount)

	history, err := env.Audit.History(context.Background(), audit.EntityLedgerKey, "MA-1/Main - A", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, audit.ActionRepost, history[0].Action)
}

func TestSubmitMovement_NegativeStockRollsBack(t *testing.T) {
	env := lt.New(lt.Options{})
	ctx := context.Background()

	submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), lt.In(lt.ItemFIFO, lt.Main, 10, "5")))
	submit(t, env, lt.Voucher("Delivery Note", "DN-1", lt.At(2024, 1, 3, 9), lt.Out(lt.ItemFIFO, lt.Main, 8)))
	factsBefore := len(env.Outbox.Facts())

	// fits at its own date, but leaves DN-1 short
	_, err := env.Ledger.SubmitMovement(ctx, lt.Voucher("Delivery Note", "DN-2", lt.At(2024, 1, 2, 9), lt.Out(lt.ItemFIFO, lt.Main, 5)))
	require.Error(t, err)
	assert.True(t, apperror.IsNegativeStock(err), err)

	_, err = env.Ledger.ListVoucherEntries(ctx, "Delivery Note", "DN-2")
	assert.True(t, apperror.IsNotFound(err))
	assert.Len(t, env.Outbox.Facts(), factsBefore)

	b := balance(t, env, lt.ItemFIFO)
	assert.Equal(t, qty(2), b.Qty)
	assertMoney(t, "10", b.Value)

	// a direct shortfall is caught on the new entry itself
	_, err = env.Ledger.SubmitMovement(ctx, lt.Voucher("Delivery Note", "DN-3", lt.At(2024, 1, 4, 9), lt.Out(lt.ItemFIFO, lt.Main, 3)))
	assert.True(t, apperror.IsNegativeStock(err), err)
}

func TestSubmitMovement_GlobalAllowNegative(t *testing.T) {
	env := lt.New(lt.Options{AllowNegative: true})

	submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), lt.In(lt.ItemFIFO, lt.Main, 1, "10")))
	submit(t, env, lt.Voucher("Delivery Note", "DN-1", lt.At(2024, 1, 2, 9), lt.Out(lt.ItemFIFO, lt.Main, 3)))

	b := balance(t, env, lt.ItemFIFO)
	assert.Equal(t, qty(-2), b.Qty)
}

func TestCancelMovement_RestoresPriorBalance(t *testing.T) {
	env := lt.New(lt.Options{})
	ctx := context.Background()

	submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), lt.In(lt.ItemMA, lt.Main, 10, "10")))
	submit(t, env, lt.Voucher("Delivery Note", "DN-1", lt.At(2024, 1, 3, 9), lt.Out(lt.ItemMA, lt.Main, 5)))
	before := balance(t, env, lt.ItemMA)

	submit(t, env, lt.Voucher("Purchase Receipt", "PR-2", lt.At(2024, 1, 2, 9), lt.In(lt.ItemMA, lt.Main, 10, "40")))
	assert.Equal(t, qty(15), balance(t, env, lt.ItemMA).Qty)

	res, err := env.Ledger.CancelMovement(ctx, "Purchase Receipt", "PR-2")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cancelled)
	assert.Equal(t, 1, res.Reposted)

	after := balance(t, env, lt.ItemMA)
	assert.Equal(t, before.Qty, after.Qty)
	assertMoney(t, before.Value.String(), after.Value)

	entries, err := env.Ledger.ListVoucherEntries(ctx, "Purchase Receipt", "PR-2")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsCancelled)

	var cancelFacts []entity.ValueChangeFact
	for _, f := range env.Outbox.Facts() {
		if f.Reason == entity.FactReasonCancel {
			cancelFacts = append(cancelFacts, f)
		}
	}
	require.Len(t, cancelFacts, 1)
	assertMoney(t, "-400", cancelFacts[0].Amount)

	history, err := env.Audit.History(ctx, audit.EntityVoucher, "Purchase Receipt/PR-2", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, audit.ActionCancelVoucher, history[0].Action)
}

func TestCancelMovement_Errors(t *testing.T) {
	env := lt.New(lt.Options{})
	ctx := context.Background()

	_, err := env.Ledger.CancelMovement(ctx, "Purchase Receipt", "missing")
	assert.True(t, apperror.IsNotFound(err))

	_, err = env.Ledger.CancelMovement(ctx, "", "PR-1")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), lt.In(lt.ItemFIFO, lt.Main, 10, "5")))
	submit(t, env, lt.Voucher("Delivery Note", "DN-1", lt.At(2024, 1, 2, 9), lt.Out(lt.ItemFIFO, lt.Main, 8)))

	// removing the receipt would leave DN-1 short
	_, err = env.Ledger.CancelMovement(ctx, "Purchase Receipt", "PR-1")
	assert.True(t, apperror.IsNegativeStock(err), err)
	assert.Equal(t, qty(2), balance(t, env, lt.ItemFIFO).Qty)

	_, err = env.Ledger.CancelMovement(ctx, "Delivery Note", "DN-1")
	require.NoError(t, err)
	_, err = env.Ledger.CancelMovement(ctx, "Delivery Note", "DN-1")
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))
}

func TestSubmitMovement_Rejections(t *testing.T) {
	frozen := lt.Day(2024, 1, 31)
	env := lt.New(lt.Options{FrozenUpTo: frozen})
	ctx := context.Background()

	opening := lt.Voucher("Stock Reconciliation", "SR-1", lt.At(2024, 2, 1, 9), lt.In(lt.ItemFIFO, lt.Main, 1, "1"))
	opening.IsOpening = true
	opening.DifferenceAccount = "Cash - A"

	tests := []struct {
		name string
		v    ledger.Voucher
		code string
	}{
		{
			name: "no lines",
			v:    lt.Voucher("Purchase Receipt", "PR-X", lt.At(2024, 2, 1, 9)),
			code: apperror.CodeValidation,
		},
		{
			name: "frozen period",
			v:    lt.Voucher("Purchase Receipt", "PR-F", lt.At(2024, 1, 31, 18), lt.In(lt.ItemFIFO, lt.Main, 1, "1")),
			code: apperror.CodeStockFrozen,
		},
		{
			name: "opening against a regular account",
			v:    opening,
			code: apperror.CodeOpeningEntryAccount,
		},
		{
			name: "unknown item",
			v:    lt.Voucher("Purchase Receipt", "PR-U", lt.At(2024, 2, 1, 9), lt.In("NOPE", lt.Main, 1, "1")),
			code: apperror.CodeNotFound,
		},
		{
			name: "batch item without batch",
			v:    lt.Voucher("Purchase Receipt", "PR-B", lt.At(2024, 2, 1, 9), lt.In(lt.ItemBatch, lt.Main, 1, "1")),
			code: apperror.CodeValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Ledger.SubmitMovement(ctx, tt.v)
			require.Error(t, err)
			assert.True(t, apperror.HasCode(err, tt.code), "want %s, got %v", tt.code, err)
		})
	}

	assert.Empty(t, env.Outbox.Facts())
}

func TestSubmitMovement_OpeningAccount(t *testing.T) {
	env := lt.New(lt.Options{})

	v := lt.Voucher("Stock Reconciliation", "SR-1", lt.At(2024, 1, 1, 0), lt.In(lt.ItemFIFO, lt.Main, 4, "2.5"))
	v.IsOpening = true
	v.DifferenceAccount = lt.OpeningAccount
	submit(t, env, v)

	facts := env.Outbox.Facts()
	require.Len(t, facts, 1)
	assert.Equal(t, lt.OpeningAccount, facts[0].AgainstAccount)
	assertMoney(t, "10", facts[0].Amount)
}

func TestSubmitMovement_DuplicateVoucher(t *testing.T) {
	env := lt.New(lt.Options{})
	v := lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), lt.In(lt.ItemFIFO, lt.Main, 1, "1"))

	submit(t, env, v)
	_, err := env.Ledger.SubmitMovement(context.Background(), v)
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicate), err)
}

func TestSubmitMovement_LotsShareEntryValue(t *testing.T) {
	env := lt.New(lt.Options{})
	ctx := context.Background()

	line := lt.In(lt.ItemBatch, lt.Main, 10, "3")
	line.Lots = []ledger.LotAllocation{{BatchNo: "B1", Qty: qty(6)}, {BatchNo: "B2", Qty: qty(4)}}
	res := submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), line))
	require.Len(t, res.Lines, 1)

	b1, err := env.Ledger.GetBalance(ctx, ledger.BalanceQuery{ItemCode: lt.ItemBatch, Warehouse: lt.Main, BatchNo: "B1"})
	require.NoError(t, err)
	assert.Equal(t, qty(6), b1.Qty)
	assertMoney(t, "18", b1.Value)

	b2, err := env.Ledger.GetBalance(ctx, ledger.BalanceQuery{ItemCode: lt.ItemBatch, Warehouse: lt.Main, BatchNo: "B2"})
	require.NoError(t, err)
	assertMoney(t, "12", b2.Value)

	bad := lt.In(lt.ItemBatch, lt.Main, 10, "3")
	bad.Lots = []ledger.LotAllocation{{BatchNo: "B1", Qty: qty(6)}}
	_, err = env.Ledger.SubmitMovement(ctx, lt.Voucher("Purchase Receipt", "PR-2", lt.At(2024, 1, 2, 9), bad))
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation), err)
}

func TestSubmitMovement_BatchWiseValuationSplitsKeys(t *testing.T) {
	env := lt.New(lt.Options{})
	ctx := context.Background()

	line := lt.In(lt.ItemBatchWise, lt.Main, 10, "2")
	line.Lots = []ledger.LotAllocation{{BatchNo: "B1", Qty: qty(5)}, {BatchNo: "B2", Qty: qty(5)}}
	res := submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), line))
	require.Len(t, res.Lines, 2)
	assert.Equal(t, "B1", res.Lines[0].BatchNo)
	assert.Equal(t, "B2", res.Lines[1].BatchNo)

	total := balance(t, env, lt.ItemBatchWise)
	assert.Equal(t, qty(10), total.Qty)
	assertMoney(t, "20", total.Value)

	// each batch is its own valuation key, so B2 cannot cover B1
	_, err := env.Ledger.SubmitMovement(ctx, lt.Voucher("Delivery Note", "DN-1", lt.At(2024, 1, 2, 9),
		ledger.MovementLine{ItemCode: lt.ItemBatchWise, Warehouse: lt.Main, BatchNo: "B1", ActualQty: qty(-6)}))
	assert.True(t, apperror.IsNegativeStock(err), err)
}

func TestSubmitMovement_DefersLongReposts(t *testing.T) {
	env := lt.New(lt.Options{InlineRepostLimit: 1, ManualJobs: true})
	ctx := context.Background()

	submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), lt.In(lt.ItemMA, lt.Main, 10, "10")))
	submit(t, env, lt.Voucher("Delivery Note", "DN-1", lt.At(2024, 1, 3, 9), lt.Out(lt.ItemMA, lt.Main, 2)))
	submit(t, env, lt.Voucher("Delivery Note", "DN-2", lt.At(2024, 1, 4, 9), lt.Out(lt.ItemMA, lt.Main, 2)))

	res := submit(t, env, lt.Voucher("Purchase Receipt", "PR-2", lt.At(2024, 1, 2, 9), lt.In(lt.ItemMA, lt.Main, 10, "40")))
	assert.Zero(t, res.Reposted)
	require.Len(t, res.RepostJobs, 1)
	assert.Equal(t, res.RepostJobs, env.Scheduler.Reposted)

	job, err := env.Reposts.Get(ctx, res.RepostJobs[0])
	require.NoError(t, err)
	assert.Equal(t, entity.RepostPending, job.Status)

	// later entries keep their old running values until the job runs
	stale := balance(t, env, lt.ItemMA)
	assert.Equal(t, qty(6), stale.Qty)
	assertMoney(t, "60", stale.Value)

	require.NoError(t, env.Scheduler.Drain(ctx))

	job, err = env.Reposts.Get(ctx, res.RepostJobs[0])
	require.NoError(t, err)
	assert.Equal(t, entity.RepostDone, job.Status)
	assert.Equal(t, 4, job.Replayed)
	assert.Equal(t, 2, job.Changed)

	b := balance(t, env, lt.ItemMA)
	assert.Equal(t, qty(16), b.Qty)
	assertMoney(t, "400", b.Value)
}

func TestSubmitMovement_DeferredRepostStillGuardsQuantity(t *testing.T) {
	env := lt.New(lt.Options{InlineRepostLimit: 1, ManualJobs: true})
	ctx := context.Background()

	submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), lt.In(lt.ItemFIFO, lt.Main, 5, "1")))
	submit(t, env, lt.Voucher("Delivery Note", "DN-1", lt.At(2024, 1, 3, 9), lt.Out(lt.ItemFIFO, lt.Main, 2)))
	submit(t, env, lt.Voucher("Delivery Note", "DN-2", lt.At(2024, 1, 4, 9), lt.Out(lt.ItemFIFO, lt.Main, 2)))

	_, err := env.Ledger.SubmitMovement(ctx, lt.Voucher("Delivery Note", "DN-3", lt.At(2024, 1, 2, 9), lt.Out(lt.ItemFIFO, lt.Main, 2)))
	assert.True(t, apperror.IsNegativeStock(err), err)
	assert.Empty(t, env.Scheduler.Reposted)
}

func TestSubmitMovement_PendingRepostGuardsLaterPostings(t *testing.T) {
	env := lt.New(lt.Options{InlineRepostLimit: 1, ManualJobs: true})
	ctx := context.Background()

	submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), lt.In(lt.ItemFIFO, lt.Main, 20, "1")))
	submit(t, env, lt.Voucher("Delivery Note", "DN-1", lt.At(2024, 1, 3, 9), lt.Out(lt.ItemFIFO, lt.Main, 5)))
	submit(t, env, lt.Voucher("Delivery Note", "DN-2", lt.At(2024, 1, 4, 9), lt.Out(lt.ItemFIFO, lt.Main, 5)))
	deferred := submit(t, env, lt.Voucher("Delivery Note", "DN-3", lt.At(2024, 1, 2, 9), lt.Out(lt.ItemFIFO, lt.Main, 8)))
	require.Len(t, deferred.RepostJobs, 1)

	// stored running qty of DN-2 still reads 10 while only 2 are on hand
	_, err := env.Ledger.SubmitMovement(ctx, lt.Voucher("Delivery Note", "DN-4", lt.At(2024, 1, 5, 9), lt.Out(lt.ItemFIFO, lt.Main, 10)))
	assert.True(t, apperror.HasCode(err, apperror.CodeNegativeStock), err)

	res := submit(t, env, lt.Voucher("Purchase Receipt", "PR-2", lt.At(2024, 1, 5, 9), lt.In(lt.ItemFIFO, lt.Main, 5, "2")))
	assert.Zero(t, res.Reposted)
	assert.Equal(t, deferred.RepostJobs, res.RepostJobs)

	require.NoError(t, env.Scheduler.Drain(ctx))

	job, err := env.Reposts.Get(ctx, deferred.RepostJobs[0])
	require.NoError(t, err)
	assert.Equal(t, entity.RepostDone, job.Status)

	b := balance(t, env, lt.ItemFIFO)
	assert.Equal(t, qty(7), b.Qty)
	assertMoney(t, "12", b.Value)

	check, err := env.Ledger.VerifyBalance(ctx, entity.LedgerKey{ItemCode: lt.ItemFIFO, Warehouse: lt.Main}, time.Time{})
	require.NoError(t, err)
	assert.True(t, check.Consistent)
}

func TestCancelMovement_PendingRepostGuardsQuantity(t *testing.T) {
	env := lt.New(lt.Options{InlineRepostLimit: 1, ManualJobs: true})
	ctx := context.Background()

	submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), lt.In(lt.ItemFIFO, lt.Main, 20, "1")))
	submit(t, env, lt.Voucher("Delivery Note", "DN-1", lt.At(2024, 1, 3, 9), lt.Out(lt.ItemFIFO, lt.Main, 5)))
	submit(t, env, lt.Voucher("Delivery Note", "DN-2", lt.At(2024, 1, 4, 9), lt.Out(lt.ItemFIFO, lt.Main, 5)))
	submit(t, env, lt.Voucher("Delivery Note", "DN-3", lt.At(2024, 1, 2, 9), lt.Out(lt.ItemFIFO, lt.Main, 8)))
	submit(t, env, lt.Voucher("Purchase Receipt", "PR-2", lt.At(2024, 1, 5, 9), lt.In(lt.ItemFIFO, lt.Main, 6, "1")))
	submit(t, env, lt.Voucher("Delivery Note", "DN-4", lt.At(2024, 1, 6, 9), lt.Out(lt.ItemFIFO, lt.Main, 7)))

	_, err := env.Ledger.CancelMovement(ctx, "Purchase Receipt", "PR-2")
	assert.True(t, apperror.IsNegativeStock(err), err)

	entries, err := env.Ledger.ListVoucherEntries(ctx, "Purchase Receipt", "PR-2")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].IsCancelled)
}

func TestSubmitMovement_InlineReplaySettlesOpenJobs(t *testing.T) {
	env := lt.New(lt.Options{InlineRepostLimit: 2, ManualJobs: true})
	ctx := context.Background()

	submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), lt.In(lt.ItemMA, lt.Main, 10, "10")))
	submit(t, env, lt.Voucher("Delivery Note", "DN-1", lt.At(2024, 1, 3, 9), lt.Out(lt.ItemMA, lt.Main, 2)))
	submit(t, env, lt.Voucher("Delivery Note", "DN-2", lt.At(2024, 1, 4, 9), lt.Out(lt.ItemMA, lt.Main, 2)))
	submit(t, env, lt.Voucher("Delivery Note", "DN-3", lt.At(2024, 1, 5, 9), lt.Out(lt.ItemMA, lt.Main, 2)))
	deferred := submit(t, env, lt.Voucher("Purchase Receipt", "PR-2", lt.At(2024, 1, 2, 9), lt.In(lt.ItemMA, lt.Main, 10, "40")))
	require.Len(t, deferred.RepostJobs, 1)

	_, err := env.Ledger.CancelMovement(ctx, "Delivery Note", "DN-1")
	require.NoError(t, err)
	_, err = env.Ledger.CancelMovement(ctx, "Delivery Note", "DN-2")
	require.NoError(t, err)

	job, err := env.Reposts.Get(ctx, deferred.RepostJobs[0])
	require.NoError(t, err)
	assert.Equal(t, entity.RepostDone, job.Status)

	b := balance(t, env, lt.ItemMA)
	assert.Equal(t, qty(18), b.Qty)
	assertMoney(t, "450", b.Value)
}

func TestSubmitMovement_SharedPostingTimeKeepsInsertionOrder(t *testing.T) {
	stamp := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	env := lt.New(lt.Options{Now: func() time.Time { return stamp }})
	ctx := context.Background()
	at := lt.At(2024, 1, 2, 9)

	submit(t, env, lt.Voucher("Purchase Receipt", "PR-Z", lt.At(2024, 1, 10, 9), lt.In(lt.ItemFIFO, lt.Main, 1, "100")))
	submit(t, env, lt.Voucher("Purchase Receipt", "PR-A", at, lt.In(lt.ItemFIFO, lt.Main, 1, "10")))
	submit(t, env, lt.Voucher("Purchase Receipt", "PR-B", at, lt.In(lt.ItemFIFO, lt.Main, 2, "15")))

	a, err := env.Ledger.ListVoucherEntries(ctx, "Purchase Receipt", "PR-A")
	require.NoError(t, err)
	b, err := env.Ledger.ListVoucherEntries(ctx, "Purchase Receipt", "PR-B")
	require.NoError(t, err)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	require.True(t, a[0].PostingAt.Equal(b[0].PostingAt))
	require.True(t, a[0].CreatedAt.Equal(b[0].CreatedAt))
	assert.True(t, a[0].Position().Before(b[0].Position()))

	out := submit(t, env, lt.Voucher("Delivery Note", "DN-9", lt.At(2024, 1, 3, 9), lt.Out(lt.ItemFIFO, lt.Main, 1)))
	assertMoney(t, "-10", out.Lines[0].StockValueDifference)

	bal := balance(t, env, lt.ItemFIFO)
	assert.Equal(t, qty(3), bal.Qty)
	assertMoney(t, "130", bal.Value)

	check, err := env.Ledger.VerifyBalance(ctx, entity.LedgerKey{ItemCode: lt.ItemFIFO, Warehouse: lt.Main}, time.Time{})
	require.NoError(t, err)
	assert.True(t, check.Consistent)
}

func TestVerifyBalance_StoredMatchesReplay(t *testing.T) {
	env := lt.New(lt.Options{})
	ctx := context.Background()

	submit(t, env, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), lt.In(lt.ItemFIFO, lt.Main, 10, "10")))
	submit(t, env, lt.Voucher("Delivery Note", "DN-1", lt.At(2024, 1, 5, 9), lt.Out(lt.ItemFIFO, lt.Main, 4)))
	submit(t, env, lt.Voucher("Purchase Receipt", "PR-2", lt.At(2024, 1, 3, 9), lt.In(lt.ItemFIFO, lt.Main, 2, "7")))

	check, err := env.Ledger.VerifyBalance(ctx, entity.LedgerKey{ItemCode: lt.ItemFIFO, Warehouse: lt.Main}, time.Time{})
	require.NoError(t, err)
	assert.True(t, check.Consistent)
	assert.Equal(t, qty(8), check.Stored.Qty)
	assertMoney(t, "74", check.FullReplay.Value)

	mid, err := env.Ledger.VerifyBalance(ctx, entity.LedgerKey{ItemCode: lt.ItemFIFO, Warehouse: lt.Main}, lt.At(2024, 1, 4, 0))
	require.NoError(t, err)
	assert.True(t, mid.Consistent)
	assert.Equal(t, qty(12), mid.Stored.Qty)
}
