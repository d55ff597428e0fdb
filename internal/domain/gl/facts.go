// Package gl builds the value-change facts handed to the ledger-posting collaborator.
// This service never balances accounts itself; it only reports signed amounts
// against a stock account hint.
package gl

import (
	"context"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

// Publisher delivers facts. Implementations write inside the caller's transaction.
type Publisher interface {
	Publish(ctx context.Context, facts []entity.ValueChangeFact) error
}

// Nop discards facts.
type Nop struct{}

func (Nop) Publish(context.Context, []entity.ValueChangeFact) error { return nil }

// Fact builds one fact for an entry. Zero amounts yield ok=false.
func Fact(e *entity.StockLedgerEntry, accountHint, againstAccount string, amount types.Money, reason entity.FactReason) (entity.ValueChangeFact, bool) {
	if amount.IsZero() {
		return entity.ValueChangeFact{}, false
	}
	return entity.ValueChangeFact{
		ID:             id.New(),
		Company:        e.Company,
		VoucherType:    e.VoucherType,
		VoucherNo:      e.VoucherNo,
		EntryID:        e.ID,
		AccountHint:    accountHint,
		AgainstAccount: againstAccount,
		Amount:         amount,
		PostingAt:      e.PostingAt,
		Reason:         reason,
	}, true
}

// Collector accumulates facts during one operation.
type Collector struct {
	facts []entity.ValueChangeFact
}

// Add appends a fact for amount unless it is zero.
func (c *Collector) Add(e *entity.StockLedgerEntry, accountHint, againstAccount string, amount types.Money, reason entity.FactReason) {
	if f, ok := Fact(e, accountHint, againstAccount, amount, reason); ok {
		c.facts = append(c.facts, f)
	}
}

// Facts returns the accumulated facts.
func (c *Collector) Facts() []entity.ValueChangeFact { return c.facts }

// Flush publishes and resets the collector.
func (c *Collector) Flush(ctx context.Context, p Publisher) error {
	if len(c.facts) == 0 {
		return nil
	}
	if err := p.Publish(ctx, c.facts); err != nil {
		return err
	}
	c.facts = nil
	return nil
}
