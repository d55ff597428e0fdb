package ledger

import (
	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
)

// BatchShare is the part of an entry attributed to one batch (and serial).
type BatchShare struct {
	BatchNo  string
	SerialNo string
	Qty      types.Quantity
	Value    types.Money
}

// BatchShares attributes an entry to batches. An entry records its batches
// either in the lot table or directly in BatchNo, never both; lot shares take
// the entry's value difference in proportion to quantity, with the rounding
// remainder on the last share so the shares always sum to the entry.
func BatchShares(e *entity.StockLedgerEntry) []BatchShare {
	if e.HasLots && len(e.Lots) > 0 {
		shares := make([]BatchShare, 0, len(e.Lots))
		remaining := e.StockValueDifference
		for i, lot := range e.Lots {
			batch := lot.BatchNo
			if batch == "" {
				batch = e.BatchNo
			}
			value := remaining
			if i < len(e.Lots)-1 && !e.ActualQty.IsZero() {
				value = types.RoundMoney(e.StockValueDifference.Mul(lot.Qty.Decimal()).Div(e.ActualQty.Decimal()))
				remaining = remaining.Sub(value)
			}
			shares = append(shares, BatchShare{BatchNo: batch, SerialNo: lot.SerialNo, Qty: lot.Qty, Value: value})
		}
		return shares
	}
	if e.BatchNo != "" {
		return []BatchShare{{BatchNo: e.BatchNo, Qty: e.ActualQty, Value: e.StockValueDifference}}
	}
	return nil
}
