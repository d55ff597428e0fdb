package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/gl"
	"stockledger/pkg/logger"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	// OutboxStatusFailed facts wait in sys_outbox until MoveToDLQ takes them.
	OutboxStatusFailed OutboxStatus = "failed"
)

// OutboxMessage is one queued value-change fact.
type OutboxMessage struct {
	ID            id.ID        `db:"id"`
	AggregateType string       `db:"aggregate_type"`
	AggregateID   id.ID        `db:"aggregate_id"`
	EventType     string       `db:"event_type"`
	Payload       []byte       `db:"payload"`
	Status        OutboxStatus `db:"status"`
	RetryCount    int          `db:"retry_count"`
	LastError     *string      `db:"last_error"`
	NextRetryAt   *time.Time   `db:"next_retry_at"`
	CreatedAt     time.Time    `db:"created_at"`
	PublishedAt   *time.Time   `db:"published_at"`
}

// Outbox aggregate and event names for value-change facts.
const (
	FactAggregateType = "stock_ledger_entry"
	FactEventType     = "ValueChangeFact"
)

const insertOutboxSQL = `
	INSERT INTO sys_outbox (id, aggregate_type, aggregate_id, event_type, payload, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// FactPublisher writes value-change facts to the outbox inside the
// current transaction. The relay delivers them to the ledger-posting side.
type FactPublisher struct {
	txManager *TxManager
}

func NewFactPublisher(txManager *TxManager) *FactPublisher {
	return &FactPublisher{txManager: txManager}
}

// Publish queues facts with the entries that produced them. It must run in
// the posting transaction.
func (p *FactPublisher) Publish(ctx context.Context, facts []entity.ValueChangeFact) error {
	if len(facts) == 0 {
		return nil
	}
	now := time.Now().UTC()
	stmts := make([]Statement, len(facts))
	for i := range facts {
		payload, err := json.Marshal(facts[i])
		if err != nil {
			return fmt.Errorf("marshal fact payload: %w", err)
		}
		stmts[i] = Statement{SQL: insertOutboxSQL, Args: []any{
			facts[i].ID, FactAggregateType, facts[i].EntryID, FactEventType, payload, OutboxStatusPending, now,
		}}
	}
	if err := p.txManager.ExecBatch(ctx, stmts); err != nil {
		return fmt.Errorf("queue value-change facts: %w", err)
	}
	return nil
}

var _ gl.Publisher = (*FactPublisher)(nil)

// OutboxHandler delivers one fact.
type OutboxHandler interface {
	Handle(ctx context.Context, msg *OutboxMessage) error
}

// MaxDeliveries is the number of attempts before a fact is dead-lettered.
const MaxDeliveries = 5

// retryDelay doubles from one minute per failed attempt, up to about an hour.
func retryDelay(attempts int) time.Duration {
	return time.Minute << min(attempts-1, 6)
}

// FactRelay hands queued facts to the accounting side.
type FactRelay struct {
	txm       *TxManager
	batchSize int
	handler   OutboxHandler
	now       func() time.Time
}

func NewFactRelay(txm *TxManager, batchSize int, handler OutboxHandler) *FactRelay {
	return &FactRelay{txm: txm, batchSize: batchSize, handler: handler, now: time.Now}
}

const claimDueFactsSQL = `
	SELECT id, aggregate_type, aggregate_id, event_type, payload, status,
	       retry_count, last_error, next_retry_at, created_at, published_at
	FROM sys_outbox
	WHERE status = $1 AND (next_retry_at IS NULL OR next_retry_at <= $2)
	ORDER BY created_at, id
	LIMIT $3
	FOR UPDATE SKIP LOCKED
`

// ProcessBatch delivers up to batchSize due facts in the order they were
// queued. Rows stay locked until their outcome is written, so concurrent
// relays never deliver the same fact twice.
func (r *FactRelay) ProcessBatch(ctx context.Context) (int, error) {
	delivered := 0
	err := r.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		q := r.txm.GetQuerier(ctx)
		now := r.now().UTC()

		var msgs []OutboxMessage
		if err := pgxscan.Select(ctx, q, &msgs, claimDueFactsSQL, OutboxStatusPending, now, r.batchSize); err != nil {
			return fmt.Errorf("claim outbox facts: %w", err)
		}

		for i := range msgs {
			msg := &msgs[i]
			if err := r.handler.Handle(ctx, msg); err != nil {
				attempts := msg.RetryCount + 1
				status := OutboxStatusPending
				if attempts >= MaxDeliveries {
					status = OutboxStatusFailed
				}
				logger.Warn(ctx, "value change fact not delivered",
					"id", msg.ID.String(), "entry_id", msg.AggregateID.String(), "attempt", attempts, "error", err)
				if _, err := q.Exec(ctx, `
					UPDATE sys_outbox
					SET retry_count = $1, last_error = $2, next_retry_at = $3, status = $4
					WHERE id = $5
				`, attempts, err.Error(), now.Add(retryDelay(attempts)), status, msg.ID); err != nil {
					return fmt.Errorf("record failed delivery: %w", err)
				}
				continue
			}
			if _, err := q.Exec(ctx,
				`UPDATE sys_outbox SET status = $1, published_at = $2 WHERE id = $3`,
				OutboxStatusPublished, now, msg.ID); err != nil {
				return fmt.Errorf("mark fact published: %w", err)
			}
			delivered++
		}
		return nil
	})
	return delivered, err
}

// MoveToDLQ moves facts that used up their deliveries to sys_outbox_dlq.
func (r *FactRelay) MoveToDLQ(ctx context.Context) (int64, error) {
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		WITH moved AS (
			DELETE FROM sys_outbox WHERE status = $1
			RETURNING id, aggregate_type, aggregate_id, event_type, payload, status,
			          retry_count, last_error, next_retry_at, created_at, published_at
		)
		INSERT INTO sys_outbox_dlq (id, aggregate_type, aggregate_id, event_type, payload, status,
			retry_count, last_error, next_retry_at, created_at, published_at, failed_at, failure_reason)
		SELECT id, aggregate_type, aggregate_id, event_type, payload, status,
		       retry_count, last_error, next_retry_at, created_at, published_at, $2, last_error
		FROM moved
	`, OutboxStatusFailed, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("move facts to dead letter queue: %w", err)
	}
	return tag.RowsAffected(), nil
}
