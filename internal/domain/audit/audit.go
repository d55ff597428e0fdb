// Package audit records who-changed-what for ledger operations that rewrite
// or retire existing data: reposts, voucher cancellations and closing changes.
package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Action is an audited operation.
type Action string

const (
	ActionRepost            Action = "repost"
	ActionCancelVoucher     Action = "cancel_voucher"
	ActionCancelClosing     Action = "cancel_closing"
	ActionRegenerateClosing Action = "regenerate_closing"
)

// Entity types used in records.
const (
	EntityLedgerKey = "stock_ledger_key"
	EntityVoucher   = "voucher"
	EntityClosing   = "stock_closing_entry"
)

// Record is one audit line. Changes is serialized as JSON by the sink.
type Record struct {
	EntityType string
	EntityID   string
	Action     Action
	Changes    map[string]any
}

// Logger persists records inside the caller's transaction.
type Logger interface {
	Record(ctx context.Context, rec Record) error
}

// Nop drops records.
type Nop struct{}

func (Nop) Record(context.Context, Record) error { return nil }

// Entry is a stored record as read back.
type Entry struct {
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Action     Action          `json:"action"`
	Changes    json.RawMessage `json:"changes,omitempty"`
	RequestID  string          `json:"requestId,omitempty"`
	Actor      string          `json:"actor,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Reader lists the history of an entity, newest first.
type Reader interface {
	History(ctx context.Context, entityType, entityID string, limit int) ([]Entry, error)
}
