// Package repost_repo provides the PostgreSQL store for background repost jobs.
package repost_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/repost"
	"stockledger/internal/infrastructure/storage/postgres"
)

const jobTable = "repost_job"

var jobColumns = postgres.Columns[entity.RepostJob]()

// JobRepo implements repost.JobRepository.
type JobRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewJobRepo creates a new repost job repository.
func NewJobRepo(txm *postgres.TxManager) *JobRepo {
	return &JobRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *JobRepo) Create(ctx context.Context, job *entity.RepostJob) error {
	sql, args, err := r.builder.Insert(jobTable).
		SetMap(postgres.RowMap(job)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert repost job: %w", err)
	}
	return nil
}

func (r *JobRepo) Get(ctx context.Context, jobID id.ID) (*entity.RepostJob, error) {
	sql, args, err := r.builder.Select(jobColumns...).
		From(jobTable).
		Where(squirrel.Eq{"id": jobID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var job entity.RepostJob
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &job, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("repost job", jobID.String())
		}
		return nil, fmt.Errorf("get repost job: %w", err)
	}
	return &job, nil
}

// Update writes the mutable progress fields of a job.
func (r *JobRepo) Update(ctx context.Context, job *entity.RepostJob) error {
	sql, args, err := r.builder.Update(jobTable).
		Set("status", job.Status).
		Set("replayed", job.Replayed).
		Set("changed", job.Changed).
		Set("error", job.Error).
		Set("updated_at", job.UpdatedAt).
		Where(squirrel.Eq{"id": job.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update repost job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("repost job", job.ID.String())
	}
	return nil
}

func (r *JobRepo) ListByStatus(ctx context.Context, status entity.RepostStatus, limit int) ([]entity.RepostJob, error) {
	q := r.builder.Select(jobColumns...).
		From(jobTable).
		Where(squirrel.Eq{"status": status}).
		OrderBy("created_at ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var out []entity.RepostJob
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("list repost jobs: %w", err)
	}
	return out, nil
}

func (r *JobRepo) ListOpen(ctx context.Context, key entity.LedgerKey) ([]entity.RepostJob, error) {
	sql, args, err := r.openQuery(key).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var out []entity.RepostJob
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("list open repost jobs: %w", err)
	}
	return out, nil
}

func (r *JobRepo) openQuery(key entity.LedgerKey) squirrel.SelectBuilder {
	return r.builder.Select(jobColumns...).
		From(jobTable).
		Where(squirrel.Eq{"item_code": key.ItemCode, "warehouse": key.Warehouse, "batch_no": key.BatchNo}).
		Where(squirrel.NotEq{"status": entity.RepostDone}).
		OrderBy("trigger_at ASC", "created_at ASC")
}

var _ repost.JobRepository = (*JobRepo)(nil)
