package repost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/lock"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/gl"
	"stockledger/pkg/logger"
)

// JobRepository persists background repost jobs.
type JobRepository interface {
	Create(ctx context.Context, job *entity.RepostJob) error
	Get(ctx context.Context, jobID id.ID) (*entity.RepostJob, error)
	Update(ctx context.Context, job *entity.RepostJob) error
	ListByStatus(ctx context.Context, status entity.RepostStatus, limit int) ([]entity.RepostJob, error)
	// ListOpen returns the jobs of key that are not Done, earliest trigger first.
	ListOpen(ctx context.Context, key entity.LedgerKey) ([]entity.RepostJob, error)
}

// Scheduler hands job ids to the background worker.
type Scheduler interface {
	EnqueueRepost(ctx context.Context, jobID id.ID) error
}

// Service owns repost jobs and applies replays together with their side effects
// (value-change facts and audit records).
type Service struct {
	engine    *Engine
	jobs      JobRepository
	txm       tx.Manager
	locker    lock.Locker
	catalog   catalog.Reader
	facts     gl.Publisher
	audit     audit.Logger
	scheduler Scheduler
	now       func() time.Time
}

// NewService creates a repost service.
func NewService(
	engine *Engine,
	jobs JobRepository,
	txm tx.Manager,
	locker lock.Locker,
	cat catalog.Reader,
	facts gl.Publisher,
	auditLog audit.Logger,
	scheduler Scheduler,
) *Service {
	return &Service{
		engine:    engine,
		jobs:      jobs,
		txm:       txm,
		locker:    locker,
		catalog:   cat,
		facts:     facts,
		audit:     auditLog,
		scheduler: scheduler,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetScheduler wires the background queue after construction.
func (s *Service) SetScheduler(scheduler Scheduler) { s.scheduler = scheduler }

// Engine exposes the replay engine for read-only checks.
func (s *Service) Engine() *Engine { return s.engine }

// Apply replays a key inside the caller's transaction, publishes a repost fact
// for every corrected value and writes an audit record.
// The caller must hold the key lock.
func (s *Service) Apply(ctx context.Context, req Request) (*Result, error) {
	res, err := s.engine.Repost(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(res.Changes) == 0 {
		return res, nil
	}

	account := catalog.StockAccount(req.Scope.Warehouse, req.Scope.Company)
	facts := &gl.Collector{}
	changes := make([]map[string]any, 0, len(res.Changes))
	for i := range res.Changes {
		c := &res.Changes[i]
		facts.Add(&c.After, account, "", c.ValueDelta(), entity.FactReasonRepost)
		changes = append(changes, map[string]any{
			"entry_id":           c.After.ID.String(),
			"voucher_no":         c.After.VoucherNo,
			"old_qty_after":      c.Before.QtyAfterTransaction.String(),
			"new_qty_after":      c.After.QtyAfterTransaction.String(),
			"old_value_diff":     c.Before.StockValueDifference.String(),
			"new_value_diff":     c.After.StockValueDifference.String(),
			"old_valuation_rate": c.Before.ValuationRate.String(),
			"new_valuation_rate": c.After.ValuationRate.String(),
		})
	}
	if err := facts.Flush(ctx, s.facts); err != nil {
		return nil, fmt.Errorf("publish repost facts: %w", err)
	}

	rec := audit.Record{
		EntityType: audit.EntityLedgerKey,
		EntityID:   req.Key.String(),
		Action:     audit.ActionRepost,
		Changes: map[string]any{
			"trigger":  req.Trigger.PostingAt.Format(time.RFC3339),
			"replayed": res.Replayed,
			"entries":  changes,
		},
	}
	if res.Baseline.FromClosing() {
		rec.Changes["baseline_closing"] = res.Baseline.ClosingID.String()
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		return nil, fmt.Errorf("audit repost: %w", err)
	}
	return res, nil
}

// Plan stores a pending job inside the caller's transaction.
// Dispatch must be called after commit.
func (s *Service) Plan(ctx context.Context, job *entity.RepostJob) error {
	now := s.now()
	job.ID = id.New()
	job.Status = entity.RepostPending
	job.CreatedAt = now
	job.UpdatedAt = now
	if err := s.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("create repost job: %w", err)
	}
	return nil
}

// Open returns the jobs of key that have not finished, earliest trigger first.
// Running balances at and after the first trigger are not yet trustworthy.
func (s *Service) Open(ctx context.Context, key entity.LedgerKey) ([]entity.RepostJob, error) {
	jobs, err := s.jobs.ListOpen(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list open repost jobs: %w", err)
	}
	return jobs, nil
}

// Settle marks jobs Done after a replay covering their triggers has been
// applied in the same transaction.
func (s *Service) Settle(ctx context.Context, jobs []entity.RepostJob) error {
	now := s.now()
	for i := range jobs {
		job := jobs[i]
		job.Status = entity.RepostDone
		job.Error = ""
		job.UpdatedAt = now
		if err := s.jobs.Update(ctx, &job); err != nil {
			return fmt.Errorf("settle repost job %s: %w", job.ID, err)
		}
	}
	return nil
}

// Dispatch enqueues committed jobs. Enqueue failures leave the job Pending;
// it can be re-triggered through Retry.
func (s *Service) Dispatch(ctx context.Context, jobIDs []id.ID) {
	if s.scheduler == nil {
		return
	}
	for _, jobID := range jobIDs {
		if err := s.scheduler.EnqueueRepost(ctx, jobID); err != nil {
			logger.Error(ctx, "enqueue repost job failed", "job_id", jobID, "error", err)
		}
	}
}

// ResumePending re-enqueues jobs left Pending for longer than grace, such as
// those whose enqueue failed after commit. It returns the number dispatched.
func (s *Service) ResumePending(ctx context.Context, grace time.Duration, limit int) (int, error) {
	if s.scheduler == nil {
		return 0, nil
	}
	jobs, err := s.jobs.ListByStatus(ctx, entity.RepostPending, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending repost jobs: %w", err)
	}
	cutoff := s.now().Add(-grace)
	ids := make([]id.ID, 0, len(jobs))
	for i := range jobs {
		if jobs[i].UpdatedAt.Before(cutoff) {
			ids = append(ids, jobs[i].ID)
		}
	}
	s.Dispatch(ctx, ids)
	return len(ids), nil
}

// Get returns a job.
func (s *Service) Get(ctx context.Context, jobID id.ID) (*entity.RepostJob, error) {
	return s.jobs.Get(ctx, jobID)
}

// Retry puts a failed or stuck pending job back on the queue.
func (s *Service) Retry(ctx context.Context, jobID id.ID) (*entity.RepostJob, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != entity.RepostFailed && job.Status != entity.RepostPending {
		return nil, apperror.NewConflict(fmt.Sprintf("repost job is %s", job.Status)).
			WithDetail("job_id", jobID.String())
	}

	job.Status = entity.RepostPending
	job.Error = ""
	job.UpdatedAt = s.now()
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("reset repost job: %w", err)
	}
	if s.scheduler != nil {
		if err := s.scheduler.EnqueueRepost(ctx, jobID); err != nil {
			return nil, fmt.Errorf("enqueue repost job: %w", err)
		}
	}
	logger.Info(ctx, "repost job re-triggered", "job_id", jobID, "key", job.Key().String())
	return job, nil
}

// Run executes a job under the key lock. A failure is recorded on the job and
// returned as RepostFailure; jobs are never retried without an explicit Retry.
func (s *Service) Run(ctx context.Context, jobID id.ID) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == entity.RepostDone {
		return nil
	}

	key := job.Key()
	job.Status = entity.RepostRunning
	job.UpdatedAt = s.now()
	if err := s.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("mark repost running: %w", err)
	}
	logger.Info(ctx, "repost started", "job_id", jobID, "key", key.String(), "trigger", job.TriggerAt)

	res, runErr := s.run(ctx, job)
	if runErr != nil {
		job.UpdatedAt = s.now()
		job.Status = entity.RepostFailed
		job.Error = runErr.Error()
		if err := s.jobs.Update(ctx, job); err != nil {
			logger.Error(ctx, "record repost failure", "job_id", jobID, "error", err)
		}
		logger.Error(ctx, "repost failed", "job_id", jobID, "key", key.String(), "error", runErr)
		return apperror.NewRepostFailure(key.String(), runErr).WithDetail("job_id", jobID.String())
	}

	logger.Info(ctx, "repost finished", "job_id", jobID, "key", key.String(),
		"replayed", res.Replayed, "changed", len(res.Changes))
	return nil
}

func (s *Service) run(ctx context.Context, job *entity.RepostJob) (*Result, error) {
	cat := catalog.NewCached(s.catalog)
	scope, err := cat.Scope(ctx, job.Company, job.ItemCode, job.Warehouse)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, lock.LedgerNames([]entity.LedgerKey{job.Key()}))
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			return nil, apperror.NewLockTimeout(job.Key().String())
		}
		return nil, fmt.Errorf("lock %s: %w", job.Key(), err)
	}
	defer release()

	var res *Result
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.Apply(ctx, Request{
			Company: job.Company,
			Key:     job.Key(),
			Trigger: entity.Position{PostingAt: job.TriggerAt},
			Scope:   scope,
		})
		if err != nil {
			return err
		}

		done := *job
		done.Status = entity.RepostDone
		done.Replayed = res.Replayed
		done.Changed = len(res.Changes)
		done.Error = ""
		done.UpdatedAt = s.now()
		if err := s.jobs.Update(ctx, &done); err != nil {
			return fmt.Errorf("mark repost done: %w", err)
		}

		open, err := s.jobs.ListOpen(ctx, job.Key())
		if err != nil {
			return fmt.Errorf("list open repost jobs: %w", err)
		}
		covered := open[:0]
		for i := range open {
			if !open[i].TriggerAt.Before(job.TriggerAt) {
				covered = append(covered, open[i])
			}
		}
		return s.Settle(ctx, covered)
	})
	return res, err
}
