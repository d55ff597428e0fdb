package repost_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/catalog"
	lt "stockledger/internal/domain/ledger/ledgertest"
	"stockledger/internal/domain/repost"
)

// deferredJob leaves one pending job behind a backdated receipt of MA-1.
func deferredJob(t *testing.T, env *lt.Env) id.ID {
	t.Helper()
	ctx := context.Background()
	_, err := env.Ledger.SubmitMovement(ctx, lt.Voucher("Purchase Receipt", "PR-1", lt.At(2024, 1, 1, 9), lt.In(lt.ItemMA, lt.Main, 10, "10")))
	require.NoError(t, err)
	_, err = env.Ledger.SubmitMovement(ctx, lt.Voucher("Delivery Note", "DN-1", lt.At(2024, 1, 3, 9), lt.Out(lt.ItemMA, lt.Main, 2)))
	require.NoError(t, err)
	_, err = env.Ledger.SubmitMovement(ctx, lt.Voucher("Delivery Note", "DN-2", lt.At(2024, 1, 4, 9), lt.Out(lt.ItemMA, lt.Main, 2)))
	require.NoError(t, err)
	res, err := env.Ledger.SubmitMovement(ctx, lt.Voucher("Purchase Receipt", "PR-2", lt.At(2024, 1, 2, 9), lt.In(lt.ItemMA, lt.Main, 10, "40")))
	require.NoError(t, err)
	require.Len(t, res.RepostJobs, 1)
	return res.RepostJobs[0]
}

func manual() *lt.Env {
	return lt.New(lt.Options{InlineRepostLimit: 1, ManualJobs: true})
}

func TestRun_IsIdempotent(t *testing.T) {
	env := manual()
	ctx := context.Background()
	jobID := deferredJob(t, env)

	require.NoError(t, env.Reposts.Run(ctx, jobID))
	factsAfterFirst := len(env.Outbox.Facts())
	historyAfterFirst := len(env.Audit.Records())

	require.NoError(t, env.Reposts.Run(ctx, jobID))
	assert.Len(t, env.Outbox.Facts(), factsAfterFirst)
	assert.Len(t, env.Audit.Records(), historyAfterFirst)

	job, err := env.Reposts.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, entity.RepostDone, job.Status)

	// the queued copy is skipped as well
	require.NoError(t, env.Scheduler.Drain(ctx))
	b, err := env.Balance(ctx, lt.ItemMA, lt.Main, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantity(16), b.Qty)
	assert.True(t, types.MustMoney("400").Equal(b.Value))
}

func TestRun_RecordsFailure(t *testing.T) {
	env := manual()
	ctx := context.Background()

	job := &entity.RepostJob{
		ID:        id.New(),
		Company:   lt.Company,
		ItemCode:  "GHOST",
		Warehouse: lt.Main,
		TriggerAt: lt.At(2024, 1, 1, 0),
		Status:    entity.RepostPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, env.Jobs.Create(ctx, job))

	err := env.Reposts.Run(ctx, job.ID)
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeRepostFailed), err)

	got, err := env.Reposts.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RepostFailed, got.Status)
	assert.NotEmpty(t, got.Error)

	retried, err := env.Reposts.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RepostPending, retried.Status)
	assert.Empty(t, retried.Error)
	assert.Equal(t, []id.ID{job.ID}, env.Scheduler.Reposted)
}

func TestRun_SettlesLaterJobsOfKey(t *testing.T) {
	env := manual()
	ctx := context.Background()
	jobID := deferredJob(t, env)

	later := &entity.RepostJob{
		ID:        id.New(),
		Company:   lt.Company,
		ItemCode:  lt.ItemMA,
		Warehouse: lt.Main,
		TriggerAt: lt.At(2024, 1, 3, 9),
		Status:    entity.RepostFailed,
		Error:     "lock timeout",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, env.Jobs.Create(ctx, later))

	open, err := env.Reposts.Open(ctx, later.Key())
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, jobID, open[0].ID)

	require.NoError(t, env.Reposts.Run(ctx, jobID))

	got, err := env.Jobs.Get(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RepostDone, got.Status)
	assert.Empty(t, got.Error)

	open, err = env.Reposts.Open(ctx, later.Key())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRetry_Conflicts(t *testing.T) {
	env := manual()
	ctx := context.Background()
	jobID := deferredJob(t, env)
	require.NoError(t, env.Scheduler.Drain(ctx))

	_, err := env.Reposts.Retry(ctx, jobID)
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict), err)

	_, err = env.Reposts.Retry(ctx, id.New())
	assert.True(t, apperror.IsNotFound(err))
}

func TestResumePending(t *testing.T) {
	env := manual()
	ctx := context.Background()
	jobID := deferredJob(t, env)

	n, err := env.Reposts.ResumePending(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh jobs are left to the queue")

	job, err := env.Jobs.Get(ctx, jobID)
	require.NoError(t, err)
	job.UpdatedAt = job.UpdatedAt.Add(-2 * time.Hour)
	require.NoError(t, env.Jobs.Update(ctx, job))

	n, err = env.Reposts.ResumePending(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []id.ID{jobID, jobID}, env.Scheduler.Reposted)

	require.NoError(t, env.Scheduler.Drain(ctx))
	job, err = env.Jobs.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, entity.RepostDone, job.Status)
}

func TestEngine_DryRunLeavesLedgerAlone(t *testing.T) {
	env := manual()
	ctx := context.Background()
	deferredJob(t, env)

	scope, err := catalog.NewCached(env.Catalog).Scope(ctx, lt.Company, lt.ItemMA, lt.Main)
	require.NoError(t, err)

	key := entity.LedgerKey{ItemCode: lt.ItemMA, Warehouse: lt.Main}
	res, err := env.Reposts.Engine().Repost(ctx, repost.Request{
		Company: lt.Company,
		Key:     key,
		Trigger: entity.Position{PostingAt: lt.At(2024, 1, 2, 9)},
		Scope:   scope,
		DryRun:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Replayed)
	require.Len(t, res.Changes, 2)
	assert.Equal(t, "DN-1", res.Changes[0].After.VoucherNo)
	assert.True(t, types.MustMoney("-50").Equal(res.Changes[0].After.StockValueDifference))
	assert.True(t, types.MustMoney("-30").Equal(res.Changes[0].ValueDelta()))

	stored, err := env.Balance(ctx, lt.ItemMA, lt.Main, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantity(6), stored.Qty)
	assert.True(t, types.MustMoney("400").Equal(res.Final.Value))
}
