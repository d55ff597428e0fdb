package ledger

import (
	"time"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

// Voucher is the "voucher submitted" payload: one business transaction
// and the item movements it produced.
type Voucher struct {
	VoucherType string    `json:"voucherType" validate:"required,max=64"`
	VoucherNo   string    `json:"voucherNo" validate:"required,max=128"`
	Company     string    `json:"company" validate:"required"`
	PostingAt   time.Time `json:"postingAt" validate:"required"`
	// IsOpening marks opening-balance vouchers; they must name an opening account.
	IsOpening         bool           `json:"isOpening"`
	DifferenceAccount string         `json:"differenceAccount" validate:"required_if=IsOpening true"`
	Lines             []MovementLine `json:"lines" validate:"required,min=1,dive"`
}

// MovementLine is one item movement of a voucher.
type MovementLine struct {
	VoucherDetailNo string          `json:"voucherDetailNo"`
	ItemCode        string          `json:"itemCode" validate:"required"`
	Warehouse       string          `json:"warehouse" validate:"required"`
	BatchNo         string          `json:"batchNo"`
	Lots            []LotAllocation `json:"lots" validate:"omitempty,dive"`
	ActualQty       types.Quantity  `json:"actualQty" validate:"ne=0"`
	IncomingRate    types.Money     `json:"incomingRate"`
	// AllowZeroValuationRate accepts an inward movement at zero cost.
	AllowZeroValuationRate bool `json:"allowZeroValuationRate"`
}

// LotAllocation assigns part of a line to a batch or serial number.
// Qty is an unsigned magnitude; it takes the sign of the line.
type LotAllocation struct {
	BatchNo  string         `json:"batchNo" validate:"required_without=SerialNo"`
	SerialNo string         `json:"serialNo"`
	Qty      types.Quantity `json:"qty" validate:"gt=0"`
}

// LineResult is returned per produced entry for the caller to post into accounting.
type LineResult struct {
	EntryID              id.ID          `json:"entryId"`
	VoucherDetailNo      string         `json:"voucherDetailNo,omitempty"`
	ItemCode             string         `json:"itemCode"`
	Warehouse            string         `json:"warehouse"`
	BatchNo              string         `json:"batchNo,omitempty"`
	ActualQty            types.Quantity `json:"actualQty"`
	QtyAfterTransaction  types.Quantity `json:"qtyAfterTransaction"`
	ValuationRate        types.Money    `json:"valuationRate"`
	StockValueDifference types.Money    `json:"stockValueDifference"`
}

func lineResult(e *entity.StockLedgerEntry) LineResult {
	return LineResult{
		EntryID:              e.ID,
		VoucherDetailNo:      e.VoucherDetailNo,
		ItemCode:             e.ItemCode,
		Warehouse:            e.Warehouse,
		BatchNo:              e.BatchNo,
		ActualQty:            e.ActualQty,
		QtyAfterTransaction:  e.QtyAfterTransaction,
		ValuationRate:        e.ValuationRate,
		StockValueDifference: e.StockValueDifference,
	}
}

// SubmitResult reports what a submit did.
type SubmitResult struct {
	VoucherType string       `json:"voucherType"`
	VoucherNo   string       `json:"voucherNo"`
	Lines       []LineResult `json:"lines"`
	// Reposted counts keys replayed inline; RepostJobs lists deferred replays.
	Reposted   int     `json:"reposted"`
	RepostJobs []id.ID `json:"repostJobs,omitempty"`
}

// CancelResult reports what a cancel did.
type CancelResult struct {
	VoucherType string  `json:"voucherType"`
	VoucherNo   string  `json:"voucherNo"`
	Cancelled   int     `json:"cancelled"`
	Reposted    int     `json:"reposted"`
	RepostJobs  []id.ID `json:"repostJobs,omitempty"`
}

// BalanceQuery selects a balance. Zero AsOf means the latest balance.
type BalanceQuery struct {
	ItemCode    string
	Warehouse   string
	BatchNo     string
	AsOf        time.Time
	AllowCached bool
}

// BalanceCheck compares the stored running balance with replays.
type BalanceCheck struct {
	Stored        Balance `json:"stored"`
	FullReplay    Balance `json:"fullReplay"`
	ClosingReplay Balance `json:"closingReplay"`
	Consistent    bool    `json:"consistent"`
}
