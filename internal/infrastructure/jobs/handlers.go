package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/pkg/logger"
)

// RepostRunner executes repost jobs.
type RepostRunner interface {
	Run(ctx context.Context, jobID id.ID) error
	ResumePending(ctx context.Context, grace time.Duration, limit int) (int, error)
}

// ClosingProcessor generates closings.
type ClosingProcessor interface {
	Process(ctx context.Context, closingID id.ID) error
	CreateMonthEnd(ctx context.Context, company string, asOf time.Time) (*entity.StockClosingEntry, error)
}

// OutboxRelay delivers outbox messages.
type OutboxRelay interface {
	ProcessBatch(ctx context.Context) (int, error)
	MoveToDLQ(ctx context.Context) (int64, error)
}

// Handlers binds task types to the domain services.
type Handlers struct {
	Reposts  RepostRunner
	Closings ClosingProcessor
	Relay    OutboxRelay // optional

	// ResumeGrace is how long a job may sit Pending before the sweep re-enqueues it.
	ResumeGrace time.Duration
	now         func() time.Time
}

// NewHandlers creates task handlers.
func NewHandlers(reposts RepostRunner, closings ClosingProcessor, relay OutboxRelay) *Handlers {
	return &Handlers{
		Reposts:     reposts,
		Closings:    closings,
		Relay:       relay,
		ResumeGrace: 5 * time.Minute,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// TaskHandlers lists the handlers for worker registration.
func (h *Handlers) TaskHandlers() []TaskHandler {
	out := []TaskHandler{
		{Type: TaskRepostRun, Handler: h.HandleRepost},
		{Type: TaskRepostResume, Handler: h.HandleRepostResume},
		{Type: TaskClosingProcess, Handler: h.HandleClosing},
		{Type: TaskClosingMonthEnd, Handler: h.HandleMonthEnd},
	}
	if h.Relay != nil {
		out = append(out, TaskHandler{Type: TaskOutboxRelay, Handler: h.HandleOutboxRelay})
	}
	return out
}

func decodeEntity(t *asynq.Task) (EntityPayload, error) {
	var payload EntityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || id.IsNil(payload.ID) {
		return EntityPayload{}, fmt.Errorf("bad %s payload: %w", t.Type(), asynq.SkipRetry)
	}
	return payload, nil
}

// HandleRepost processes TaskRepostRun tasks. Failures are recorded on the
// job and never retried by the queue.
func (h *Handlers) HandleRepost(ctx context.Context, t *asynq.Task) error {
	payload, err := decodeEntity(t)
	if err != nil {
		return err
	}
	ctx = logger.WithFields(payload.Context(ctx), "task", t.Type(), "job_id", payload.ID.String())
	if err := h.Reposts.Run(ctx, payload.ID); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}

// HandleRepostResume processes TaskRepostResume tasks.
func (h *Handlers) HandleRepostResume(ctx context.Context, t *asynq.Task) error {
	n, err := h.Reposts.ResumePending(ctx, h.ResumeGrace, 500)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Info(ctx, "re-enqueued pending repost jobs", "count", n)
	}
	return nil
}

// HandleClosing processes TaskClosingProcess tasks.
func (h *Handlers) HandleClosing(ctx context.Context, t *asynq.Task) error {
	payload, err := decodeEntity(t)
	if err != nil {
		return err
	}
	ctx = logger.WithFields(payload.Context(ctx), "task", t.Type(), "closing_id", payload.ID.String())
	if err := h.Closings.Process(ctx, payload.ID); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}

// HandleMonthEnd processes TaskClosingMonthEnd tasks. One failing company
// does not stop the others.
func (h *Handlers) HandleMonthEnd(ctx context.Context, t *asynq.Task) error {
	var payload MonthEndPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("bad %s payload: %w", t.Type(), asynq.SkipRetry)
	}

	now := h.now()
	var failed int
	for _, company := range payload.Companies {
		c, err := h.Closings.CreateMonthEnd(ctx, company, now)
		if err != nil {
			failed++
			logger.Error(ctx, "month-end closing failed", "company", company, "error", err)
			continue
		}
		if c != nil {
			logger.Info(ctx, "month-end closing queued", "company", company, "closing_id", c.ID.String())
		}
	}
	if failed > 0 {
		return fmt.Errorf("month-end closing failed for %d of %d companies", failed, len(payload.Companies))
	}
	return nil
}

// HandleOutboxRelay processes TaskOutboxRelay tasks.
func (h *Handlers) HandleOutboxRelay(ctx context.Context, t *asynq.Task) error {
	n, err := h.Relay.ProcessBatch(ctx)
	if err != nil {
		return err
	}
	moved, err := h.Relay.MoveToDLQ(ctx)
	if err != nil {
		return err
	}
	if n > 0 || moved > 0 {
		logger.Info(ctx, "outbox relayed", "delivered", n, "dead_lettered", moved)
	}
	return nil
}
