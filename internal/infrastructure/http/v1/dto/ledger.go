package dto

import (
	"time"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
)

// BalanceRequest is the query of GET /balances and /balances/verify.
type BalanceRequest struct {
	ItemCode  string `form:"itemCode" binding:"required"`
	Warehouse string `form:"warehouse" binding:"required"`
	BatchNo   string `form:"batchNo"`
	AsOf      string `form:"asOf"`
	Cached    bool   `form:"cached"`
}

// LotResponse is one batch/serial allocation of an entry.
type LotResponse struct {
	BatchNo  string         `json:"batchNo,omitempty"`
	SerialNo string         `json:"serialNo,omitempty"`
	Qty      types.Quantity `json:"qty"`
}

// EntryResponse is a stock ledger entry as exposed over the API.
type EntryResponse struct {
	ID                   string         `json:"id"`
	Seq                  int64          `json:"seq"`
	ItemCode             string         `json:"itemCode"`
	Warehouse            string         `json:"warehouse"`
	BatchNo              string         `json:"batchNo,omitempty"`
	Company              string         `json:"company"`
	VoucherType          string         `json:"voucherType"`
	VoucherNo            string         `json:"voucherNo"`
	VoucherDetailNo      string         `json:"voucherDetailNo,omitempty"`
	PostingAt            time.Time      `json:"postingAt"`
	CreatedAt            time.Time      `json:"createdAt"`
	ActualQty            types.Quantity `json:"actualQty"`
	IncomingRate         types.Money    `json:"incomingRate"`
	QtyAfterTransaction  types.Quantity `json:"qtyAfterTransaction"`
	ValuationRate        types.Money    `json:"valuationRate"`
	StockValue           types.Money    `json:"stockValue"`
	StockValueDifference types.Money    `json:"stockValueDifference"`
	StockQueue           entity.Queue   `json:"stockQueue,omitempty"`
	IsCancelled          bool           `json:"isCancelled"`
	Lots                 []LotResponse  `json:"lots,omitempty"`
}

// FromEntry converts a ledger entry to its response.
func FromEntry(e *entity.StockLedgerEntry) EntryResponse {
	resp := EntryResponse{
		ID:                   e.ID.String(),
		Seq:                  e.Seq,
		ItemCode:             e.ItemCode,
		Warehouse:            e.Warehouse,
		BatchNo:              e.BatchNo,
		Company:              e.Company,
		VoucherType:          e.VoucherType,
		VoucherNo:            e.VoucherNo,
		VoucherDetailNo:      e.VoucherDetailNo,
		PostingAt:            e.PostingAt,
		CreatedAt:            e.CreatedAt,
		ActualQty:            e.ActualQty,
		IncomingRate:         e.IncomingRate,
		QtyAfterTransaction:  e.QtyAfterTransaction,
		ValuationRate:        e.ValuationRate,
		StockValue:           e.StockValue,
		StockValueDifference: e.StockValueDifference,
		StockQueue:           e.StockQueue,
		IsCancelled:          e.IsCancelled,
	}
	for _, l := range e.Lots {
		resp.Lots = append(resp.Lots, LotResponse{BatchNo: l.BatchNo, SerialNo: l.SerialNo, Qty: l.Qty})
	}
	return resp
}

// FromEntries converts a list of entries.
func FromEntries(entries []entity.StockLedgerEntry) []EntryResponse {
	out := make([]EntryResponse, len(entries))
	for i := range entries {
		out[i] = FromEntry(&entries[i])
	}
	return out
}
