package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"stockledger/internal/core/entity"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/pkg/logger"
)

// FactSink receives value-change facts relayed from the outbox.
type FactSink interface {
	Post(ctx context.Context, fact entity.ValueChangeFact) error
}

// FactDeliverer decodes outbox messages and hands the facts to a sink.
// Without a sink the facts are only logged.
type FactDeliverer struct {
	sink FactSink
}

// NewFactDeliverer creates an outbox handler for value-change facts.
func NewFactDeliverer(sink FactSink) *FactDeliverer {
	return &FactDeliverer{sink: sink}
}

// Handle implements postgres.OutboxHandler.
func (d *FactDeliverer) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	if msg.EventType != postgres.FactEventType {
		return fmt.Errorf("unexpected event type %q", msg.EventType)
	}
	var fact entity.ValueChangeFact
	if err := json.Unmarshal(msg.Payload, &fact); err != nil {
		return fmt.Errorf("decode fact %s: %w", msg.ID, err)
	}

	if d.sink == nil {
		logger.Info(ctx, "value change fact",
			"entry_id", fact.EntryID.String(),
			"voucher", fact.VoucherType+"/"+fact.VoucherNo,
			"account", fact.AccountHint,
			"amount", fact.Amount.String(),
			"reason", fact.Reason,
		)
		return nil
	}
	return d.sink.Post(ctx, fact)
}

var _ postgres.OutboxHandler = (*FactDeliverer)(nil)
