package jobs

import (
	"context"

	"github.com/hibiken/asynq"

	"stockledger/internal/core/id"
	"stockledger/internal/domain/closing"
	"stockledger/internal/domain/repost"
	"stockledger/pkg/logger"
)

// Client submits ledger work to the queue. It implements the repost and
// closing schedulers.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an asynq client.
func NewClient(redisOpts asynq.RedisConnOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueRepost queues a repost job. Running a job twice is harmless: a Done
// job is skipped.
func (c *Client) EnqueueRepost(ctx context.Context, jobID id.ID) error {
	task, err := NewRepostTask(ctx, jobID)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

// EnqueueClosing queues generation of a closing.
func (c *Client) EnqueueClosing(ctx context.Context, closingID id.ID) error {
	task, err := NewClosingTask(ctx, closingID)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task) error {
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return err
	}
	logger.Debug(ctx, "task enqueued", "type", task.Type(), "task_id", info.ID, "queue", info.Queue)
	return nil
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

var (
	_ repost.Scheduler  = (*Client)(nil)
	_ closing.Scheduler = (*Client)(nil)
)
