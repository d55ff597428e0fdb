// Package jobs runs deferred ledger work on asynq: repost jobs, closing
// generation, month-end closings and outbox delivery.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/id"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries repost jobs; balances stay stale until they finish.
	QueueCritical = "critical"

	// TaskRepostRun replays one ledger key from a trigger position.
	TaskRepostRun = "repost:run"
	// TaskRepostResume re-enqueues repost jobs stuck in Pending.
	TaskRepostResume = "repost:resume"
	// TaskClosingProcess generates the rows of a queued closing.
	TaskClosingProcess = "closing:process"
	// TaskClosingMonthEnd creates last month's closing for every configured company.
	TaskClosingMonthEnd = "closing:month_end"
	// TaskOutboxRelay delivers pending value-change facts.
	TaskOutboxRelay = "outbox:relay"
)

// EntityPayload names the record a task works on and the request that
// caused it, so background audit records keep the original actor.
type EntityPayload struct {
	ID        id.ID  `json:"id"`
	RequestID string `json:"requestId,omitempty"`
	Actor     string `json:"actor,omitempty"`
}

func newEntityPayload(ctx context.Context, entityID id.ID) EntityPayload {
	p := EntityPayload{ID: entityID}
	if req := appctx.FromContext(ctx); req != nil {
		p.RequestID = req.ID
		p.Actor = req.Actor
	}
	return p
}

// Context restores the originating request on a worker context.
func (p EntityPayload) Context(ctx context.Context) context.Context {
	if p.RequestID == "" && p.Actor == "" {
		return ctx
	}
	return appctx.WithRequest(ctx, &appctx.Request{ID: p.RequestID, Actor: p.Actor})
}

// MonthEndPayload lists companies to close.
type MonthEndPayload struct {
	Companies []string `json:"companies"`
}

// NewRepostTask constructs a repost task. Failed repost jobs are retried
// explicitly through the API, never by the queue.
func NewRepostTask(ctx context.Context, jobID id.ID) (*asynq.Task, error) {
	body, err := json.Marshal(newEntityPayload(ctx, jobID))
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRepostRun, body,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Minute),
	), nil
}

// NewClosingTask constructs a closing generation task.
func NewClosingTask(ctx context.Context, closingID id.ID) (*asynq.Task, error) {
	body, err := json.Marshal(newEntityPayload(ctx, closingID))
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskClosingProcess, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Timeout(time.Hour),
	), nil
}

// NewMonthEndTask constructs the month-end closing task.
func NewMonthEndTask(companies []string) (*asynq.Task, error) {
	body, err := json.Marshal(MonthEndPayload{Companies: companies})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskClosingMonthEnd, body, asynq.Queue(QueueDefault)), nil
}

// NewRepostResumeTask constructs the pending-job sweep task.
func NewRepostResumeTask() *asynq.Task {
	return asynq.NewTask(TaskRepostResume, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(0))
}

// NewOutboxRelayTask constructs the outbox delivery task.
func NewOutboxRelayTask() *asynq.Task {
	return asynq.NewTask(TaskOutboxRelay, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(0))
}
