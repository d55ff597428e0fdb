// Package entity provides core domain entities of the stock ledger.
package entity

import (
	"fmt"
	"strings"
	"time"

	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

// LedgerKey scopes a running balance. BatchNo is set only for items valued per batch.
type LedgerKey struct {
	ItemCode  string `db:"item_code" json:"itemCode"`
	Warehouse string `db:"warehouse" json:"warehouse"`
	BatchNo   string `db:"batch_no" json:"batchNo,omitempty"`
}

// String renders the key as item/warehouse[/batch]. Used for lock names and error details.
func (k LedgerKey) String() string {
	if k.BatchNo == "" {
		return k.ItemCode + "/" + k.Warehouse
	}
	return k.ItemCode + "/" + k.Warehouse + "/" + k.BatchNo
}

// Less orders keys lexicographically; locks are always taken in this order.
func (k LedgerKey) Less(o LedgerKey) bool {
	if c := strings.Compare(k.ItemCode, o.ItemCode); c != 0 {
		return c < 0
	}
	if c := strings.Compare(k.Warehouse, o.Warehouse); c != 0 {
		return c < 0
	}
	return k.BatchNo < o.BatchNo
}

// Position is the total order of entries within a key:
// posting time, then creation time, then the persisted insertion sequence.
type Position struct {
	PostingAt time.Time
	CreatedAt time.Time
	Seq       int64
}

// Before reports whether p sorts strictly before o.
func (p Position) Before(o Position) bool {
	if !p.PostingAt.Equal(o.PostingAt) {
		return p.PostingAt.Before(o.PostingAt)
	}
	if !p.CreatedAt.Equal(o.CreatedAt) {
		return p.CreatedAt.Before(o.CreatedAt)
	}
	return p.Seq < o.Seq
}

// Lot is one FIFO layer: quantity received at a unit rate.
// A single negative lot represents a deficit carried at the last known rate.
type Lot struct {
	Qty  types.Quantity `json:"qty"`
	Rate types.Money    `json:"rate"`
}

// Queue is an ordered FIFO lot queue, oldest first.
type Queue []Lot

// Clone returns an independent copy.
func (q Queue) Clone() Queue {
	if q == nil {
		return nil
	}
	out := make(Queue, len(q))
	copy(out, q)
	return out
}

// Equal compares quantities and rates lot by lot.
func (q Queue) Equal(o Queue) bool {
	if len(q) != len(o) {
		return false
	}
	for i := range q {
		if q[i].Qty != o[i].Qty || !q[i].Rate.Equal(o[i].Rate) {
			return false
		}
	}
	return true
}

// StockLedgerEntry (SLE) is the immutable record of one movement for a key.
// Running fields (QtyAfterTransaction, ValuationRate, StockValue, StockValueDifference,
// StockQueue) are derived and rewritten by repost.
type StockLedgerEntry struct {
	ID              id.ID     `db:"id" json:"id"`
	Seq             int64     `db:"seq" json:"seq"`
	Company         string    `db:"company" json:"company"`
	ItemCode        string    `db:"item_code" json:"itemCode"`
	Warehouse       string    `db:"warehouse" json:"warehouse"`
	BatchNo         string    `db:"batch_no" json:"batchNo,omitempty"`
	PostingAt       time.Time `db:"posting_at" json:"postingAt"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	VoucherType     string    `db:"voucher_type" json:"voucherType"`
	VoucherNo       string    `db:"voucher_no" json:"voucherNo"`
	VoucherDetailNo string    `db:"voucher_detail_no" json:"voucherDetailNo,omitempty"`

	ActualQty     types.Quantity `db:"actual_qty" json:"actualQty"`
	IncomingRate  types.Money    `db:"incoming_rate" json:"incomingRate"`
	AllowZeroRate bool           `db:"allow_zero_rate" json:"allowZeroRate,omitempty"`
	IsOpening     bool           `db:"is_opening" json:"isOpening,omitempty"`

	QtyAfterTransaction  types.Quantity `db:"qty_after_transaction" json:"qtyAfterTransaction"`
	ValuationRate        types.Money    `db:"valuation_rate" json:"valuationRate"`
	StockValue           types.Money    `db:"stock_value" json:"stockValue"`
	StockValueDifference types.Money    `db:"stock_value_difference" json:"stockValueDifference"`
	StockQueue           Queue          `db:"stock_queue" json:"stockQueue,omitempty"`

	IsCancelled bool `db:"is_cancelled" json:"isCancelled"`

	// HasLots marks entries whose batches are listed in the lot table instead of BatchNo.
	HasLots bool       `db:"has_lots" json:"hasLots,omitempty"`
	Lots    []LotEntry `db:"-" json:"lots,omitempty"`
}

// Key returns the valuation key of the entry.
func (e *StockLedgerEntry) Key() LedgerKey {
	return LedgerKey{ItemCode: e.ItemCode, Warehouse: e.Warehouse, BatchNo: e.BatchNo}
}

// Position returns the ordering position of the entry.
func (e *StockLedgerEntry) Position() Position {
	return Position{PostingAt: e.PostingAt, CreatedAt: e.CreatedAt, Seq: e.Seq}
}

// SameRunningValues reports whether derived fields of e and o match.
func (e *StockLedgerEntry) SameRunningValues(o *StockLedgerEntry) bool {
	return e.QtyAfterTransaction == o.QtyAfterTransaction &&
		e.ValuationRate.Equal(o.ValuationRate) &&
		e.StockValue.Equal(o.StockValue) &&
		e.StockValueDifference.Equal(o.StockValueDifference) &&
		e.StockQueue.Equal(o.StockQueue)
}

func (e *StockLedgerEntry) String() string {
	return fmt.Sprintf("%s %s#%d %s@%s", e.Key(), e.VoucherNo, e.Seq, e.ActualQty, e.PostingAt.Format(time.RFC3339))
}

// LotEntry is one row of the lot table: a share of an entry's quantity
// attributed to a batch (and optionally a serial number).
type LotEntry struct {
	EntryID  id.ID          `db:"entry_id" json:"-"`
	BatchNo  string         `db:"batch_no" json:"batchNo"`
	SerialNo string         `db:"serial_no" json:"serialNo,omitempty"`
	Qty      types.Quantity `db:"qty" json:"qty"`
}

// ValueChangeFact is the outbound signal for the ledger-posting collaborator:
// a signed amount against the stock account hint. Positive is a debit.
type ValueChangeFact struct {
	ID             id.ID       `json:"id"`
	Company        string      `json:"company"`
	VoucherType    string      `json:"voucherType"`
	VoucherNo      string      `json:"voucherNo"`
	EntryID        id.ID       `json:"entryId"`
	AccountHint    string      `json:"accountHint"`
	AgainstAccount string      `json:"againstAccount,omitempty"`
	Amount         types.Money `json:"amount"`
	PostingAt      time.Time   `json:"postingAt"`
	Reason         FactReason  `json:"reason"`
}

// FactReason tells the collaborator why a fact was emitted.
type FactReason string

const (
	FactReasonPost   FactReason = "post"
	FactReasonRepost FactReason = "repost"
	FactReasonCancel FactReason = "cancel"
)
