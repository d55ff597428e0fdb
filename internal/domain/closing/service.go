package closing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/pkg/logger"
)

// CreateRequest asks for a snapshot of company over [FromDate, ToDate].
type CreateRequest struct {
	Company  string    `json:"company" validate:"required"`
	FromDate time.Time `json:"fromDate" validate:"required"`
	ToDate   time.Time `json:"toDate" validate:"required,gtefield=FromDate"`
	entity.ClosingFilters
}

// Service manages the closing lifecycle:
// Queued -> In Progress -> Completed | Failed, and Cancelled from any settled state.
type Service struct {
	repo      Repository
	generator *Generator
	txm       tx.Manager
	catalog   catalog.Reader
	audit     audit.Logger
	scheduler Scheduler
	validate  *validator.Validate
	now       func() time.Time
}

// NewService creates a closing service.
func NewService(repo Repository, generator *Generator, txm tx.Manager, cat catalog.Reader, auditLog audit.Logger, scheduler Scheduler) *Service {
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	return &Service{
		repo:      repo,
		generator: generator,
		txm:       txm,
		catalog:   cat,
		audit:     auditLog,
		scheduler: scheduler,
		validate:  validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetScheduler wires the background queue after construction.
func (s *Service) SetScheduler(scheduler Scheduler) { s.scheduler = scheduler }

// Create validates the range, rejects overlaps and queues generation.
// If the queue is unreachable the entry is stored as Failed and can be regenerated.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*entity.StockClosingEntry, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperror.NewValidation(err.Error()).WithCause(err)
	}
	if _, err := s.catalog.Company(ctx, req.Company); err != nil {
		return nil, err
	}

	now := s.now()
	c := &entity.StockClosingEntry{
		ID:             id.New(),
		Company:        req.Company,
		FromDate:       dayOf(req.FromDate),
		ToDate:         dayOf(req.ToDate),
		ClosingFilters: req.ClosingFilters,
		Status:         entity.ClosingQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.repo.FindOverlapping(ctx, c.Company, c.FromDate, c.ToDate, c.ClosingFilters)
		if err != nil {
			return fmt.Errorf("check overlapping closings: %w", err)
		}
		if len(existing) > 0 {
			return apperror.NewDuplicateClosingRange(existing[0].ID, existing[0].FromDate, existing[0].ToDate)
		}
		return s.repo.Create(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "stock closing queued",
		"closing_id", c.ID,
		"company", c.Company,
		"from", c.FromDate.Format(time.DateOnly),
		"to", c.ToDate.Format(time.DateOnly),
	)
	s.enqueue(ctx, c)
	return c, nil
}

// Process generates the rows of a queued closing. Rows and the Completed status
// are written in one transaction; a failure leaves the entry Failed without rows.
func (s *Service) Process(ctx context.Context, closingID id.ID) error {
	c, err := s.repo.Get(ctx, closingID)
	if err != nil {
		return err
	}
	if c.Status != entity.ClosingQueued {
		logger.Warn(ctx, "skipping closing not in queue", "closing_id", closingID, "status", c.Status)
		return nil
	}

	c.Status = entity.ClosingInProgress
	c.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, c); err != nil {
		return fmt.Errorf("mark closing in progress: %w", err)
	}

	start := s.now()
	rows, err := s.generator.Generate(ctx, c)
	if err == nil {
		err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			if err := s.repo.ReplaceBalances(ctx, c.ID, rows); err != nil {
				return fmt.Errorf("store closing balances: %w", err)
			}
			// Stale may have been set by a concurrent backdated mutation; keep it.
			cur, err := s.repo.Get(ctx, c.ID)
			if err != nil {
				return err
			}
			cur.Status = entity.ClosingCompleted
			cur.Error = ""
			cur.UpdatedAt = s.now()
			if err := s.repo.Update(ctx, cur); err != nil {
				return err
			}
			*c = *cur
			return nil
		})
	}
	if err != nil {
		c.Status = entity.ClosingFailed
		c.Error = err.Error()
		c.UpdatedAt = s.now()
		if uerr := s.repo.Update(ctx, c); uerr != nil {
			logger.Error(ctx, "record closing failure", "closing_id", closingID, "error", uerr)
		}
		logger.Error(ctx, "stock closing failed", "closing_id", closingID, "error", err)
		return err
	}

	logger.Info(ctx, "stock closing completed",
		"closing_id", closingID,
		"rows", len(rows),
		"stale", c.Stale,
		"duration", s.now().Sub(start),
	)
	return nil
}

// Regenerate deletes any output of a failed, stale or completed closing and queues it again.
func (s *Service) Regenerate(ctx context.Context, closingID id.ID) (*entity.StockClosingEntry, error) {
	var c *entity.StockClosingEntry
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.repo.Get(ctx, closingID); err != nil {
			return err
		}
		switch c.Status {
		case entity.ClosingFailed, entity.ClosingCompleted:
		default:
			return apperror.NewConflict(fmt.Sprintf("closing is %s", c.Status)).
				WithDetail("closing_id", closingID.String())
		}

		deleted, err := s.repo.DeleteBalances(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("delete closing balances: %w", err)
		}
		prev := c.Status
		c.Status = entity.ClosingQueued
		c.Stale = false
		c.Error = ""
		c.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, c); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.Record{
			EntityType: audit.EntityClosing,
			EntityID:   c.ID.String(),
			Action:     audit.ActionRegenerateClosing,
			Changes:    map[string]any{"previous_status": string(prev), "deleted_rows": deleted},
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "stock closing re-queued", "closing_id", closingID)
	s.enqueue(ctx, c)
	return c, nil
}

// Cancel deletes every balance row of a closing, then cancels the entry.
// The ledger itself is not touched.
func (s *Service) Cancel(ctx context.Context, closingID id.ID) (*entity.StockClosingEntry, error) {
	var c *entity.StockClosingEntry
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		if c, err = s.repo.Get(ctx, closingID); err != nil {
			return err
		}
		switch c.Status {
		case entity.ClosingCancelled:
			return apperror.NewConflict("closing is already cancelled").WithDetail("closing_id", closingID.String())
		case entity.ClosingInProgress:
			return apperror.NewConflict("closing is being generated").WithDetail("closing_id", closingID.String())
		}

		deleted, err := s.repo.DeleteBalances(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("delete closing balances: %w", err)
		}
		prev := c.Status
		c.Status = entity.ClosingCancelled
		c.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, c); err != nil {
			return err
		}
		return s.audit.Record(ctx, audit.Record{
			EntityType: audit.EntityClosing,
			EntityID:   c.ID.String(),
			Action:     audit.ActionCancelClosing,
			Changes:    map[string]any{"previous_status": string(prev), "deleted_rows": deleted},
		})
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "stock closing cancelled", "closing_id", closingID)
	return c, nil
}

// Get returns a closing entry.
func (s *Service) Get(ctx context.Context, closingID id.ID) (*entity.StockClosingEntry, error) {
	return s.repo.Get(ctx, closingID)
}

// List returns the latest closings of a company.
func (s *Service) List(ctx context.Context, company string, limit int) ([]entity.StockClosingEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListByCompany(ctx, company, limit)
}

// Balances returns the rows of a closing.
func (s *Service) Balances(ctx context.Context, closingID id.ID) ([]entity.StockClosingBalance, error) {
	if _, err := s.repo.Get(ctx, closingID); err != nil {
		return nil, err
	}
	return s.repo.ListBalances(ctx, closingID)
}

// CreateMonthEnd creates the company-wide closing of the month before asOf.
// It is a no-op when that month is already covered.
func (s *Service) CreateMonthEnd(ctx context.Context, company string, asOf time.Time) (*entity.StockClosingEntry, error) {
	firstOfMonth := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)
	from := firstOfMonth.AddDate(0, -1, 0)
	to := firstOfMonth.AddDate(0, 0, -1)

	c, err := s.Create(ctx, CreateRequest{Company: company, FromDate: from, ToDate: to})
	if apperror.HasCode(err, apperror.CodeDuplicateClosingRange) {
		logger.Debug(ctx, "month-end closing already exists", "company", company, "to", to.Format(time.DateOnly))
		return nil, nil
	}
	return c, err
}

func (s *Service) enqueue(ctx context.Context, c *entity.StockClosingEntry) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.EnqueueClosing(ctx, c.ID); err != nil {
		logger.Error(ctx, "enqueue stock closing failed", "closing_id", c.ID, "error", err)
		c.Status = entity.ClosingFailed
		c.Error = fmt.Sprintf("enqueue: %v", err)
		c.UpdatedAt = s.now()
		if uerr := s.repo.Update(ctx, c); uerr != nil {
			logger.Error(ctx, "record closing enqueue failure", "closing_id", c.ID, "error", uerr)
		}
	}
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
