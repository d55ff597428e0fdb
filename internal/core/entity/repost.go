package entity

import (
	"time"

	"stockledger/internal/core/id"
)

// RepostStatus is the state of a background repost job.
type RepostStatus string

const (
	RepostPending RepostStatus = "Pending"
	RepostRunning RepostStatus = "Running"
	RepostDone    RepostStatus = "Done"
	RepostFailed  RepostStatus = "Failed"
)

// RepostJob records a deferred replay of one key from a trigger position.
type RepostJob struct {
	ID          id.ID        `db:"id" json:"id"`
	Company     string       `db:"company" json:"company"`
	ItemCode    string       `db:"item_code" json:"itemCode"`
	Warehouse   string       `db:"warehouse" json:"warehouse"`
	BatchNo     string       `db:"batch_no" json:"batchNo,omitempty"`
	TriggerAt   time.Time    `db:"trigger_at" json:"triggerAt"`
	VoucherType string       `db:"voucher_type" json:"voucherType"`
	VoucherNo   string       `db:"voucher_no" json:"voucherNo"`
	Status      RepostStatus `db:"status" json:"status"`
	Replayed    int          `db:"replayed" json:"replayed"`
	Changed     int          `db:"changed" json:"changed"`
	Error       string       `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updatedAt"`
}

// Key returns the ledger key the job replays.
func (j *RepostJob) Key() LedgerKey {
	return LedgerKey{ItemCode: j.ItemCode, Warehouse: j.Warehouse, BatchNo: j.BatchNo}
}
