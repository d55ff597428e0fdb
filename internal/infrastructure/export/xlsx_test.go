package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"stockledger/internal/core/types"
	"stockledger/internal/domain/reports"
)

func TestWriteBatchBalance(t *testing.T) {
	report := &reports.BatchBalanceReport{
		FromDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ToDate:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Rows: []reports.BatchBalanceRow{{
			ItemCode:     "WIDGET",
			Warehouse:    "Main",
			BatchNo:      "B-1",
			StockUOM:     "Nos",
			InQty:        types.NewQuantity(10),
			InValue:      types.MustMoney("100"),
			OutQty:       types.NewQuantity(4),
			OutValue:     types.MustMoney("40"),
			ClosingQty:   types.NewQuantity(6),
			ClosingValue: types.MustMoney("60"),
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteBatchBalance(&buf, report))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Batch balance 2024-01-01 - 2024-01-31", rows[0][0])
	assert.Equal(t, "Item", rows[1][0])
	assert.Equal(t, "Balance Value", rows[1][11])
	assert.Equal(t, []string{"WIDGET", "Main", "B-1", "Nos"}, rows[2][:4])
	assert.Equal(t, "6", rows[2][10])
	assert.Equal(t, "60", rows[2][11])
}

func TestWriteTurnover_Totals(t *testing.T) {
	report := &reports.StockTurnoverReport{
		FromDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ToDate:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Rows: []reports.StockTurnoverRow{
			{ItemCode: "A", Warehouse: "Main", ClosingValue: types.MustMoney("10")},
			{ItemCode: "B", Warehouse: "Main", ClosingValue: types.MustMoney("15.5")},
		},
		TotalClosingValue: types.MustMoney("25.5"),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTurnover(&buf, report))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "Total", rows[4][0])
	assert.Equal(t, "25.5", rows[4][9])
}
