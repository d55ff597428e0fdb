// Package export renders reports as spreadsheets.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"stockledger/internal/domain/reports"
)

// ContentTypeXLSX is the MIME type of the generated workbooks.
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const sheet = "Sheet1"

var batchBalanceHeadings = []any{
	"Item", "Warehouse", "Batch", "UOM",
	"Opening Qty", "Opening Value",
	"In Qty", "In Value",
	"Out Qty", "Out Value",
	"Balance Qty", "Balance Value",
}

var turnoverHeadings = []any{
	"Item", "Warehouse",
	"Opening Qty", "Opening Value",
	"Receipt Qty", "Receipt Value",
	"Issue Qty", "Issue Value",
	"Closing Qty", "Closing Value",
}

// WriteBatchBalance writes the batch balance report as an xlsx workbook.
func WriteBatchBalance(w io.Writer, r *reports.BatchBalanceReport) error {
	rows := make([][]any, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = []any{
			row.ItemCode, row.Warehouse, row.BatchNo, row.StockUOM,
			row.OpeningQty.Float64(), row.OpeningValue.InexactFloat64(),
			row.InQty.Float64(), row.InValue.InexactFloat64(),
			row.OutQty.Float64(), row.OutValue.InexactFloat64(),
			row.ClosingQty.Float64(), row.ClosingValue.InexactFloat64(),
		}
	}
	return write(w, title("Batch balance", r.FromDate, r.ToDate), batchBalanceHeadings, rows, nil)
}

// WriteTurnover writes the stock turnover report with a totals line.
func WriteTurnover(w io.Writer, r *reports.StockTurnoverReport) error {
	rows := make([][]any, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = []any{
			row.ItemCode, row.Warehouse,
			row.OpeningQty.Float64(), row.OpeningValue.InexactFloat64(),
			row.ReceiptQty.Float64(), row.ReceiptValue.InexactFloat64(),
			row.IssueQty.Float64(), row.IssueValue.InexactFloat64(),
			row.ClosingQty.Float64(), row.ClosingValue.InexactFloat64(),
		}
	}
	totals := []any{
		"Total", "",
		nil, r.TotalOpeningValue.InexactFloat64(),
		nil, r.TotalReceiptValue.InexactFloat64(),
		nil, r.TotalIssueValue.InexactFloat64(),
		nil, r.TotalClosingValue.InexactFloat64(),
	}
	return write(w, title("Stock turnover", r.FromDate, r.ToDate), turnoverHeadings, rows, totals)
}

func title(name string, from, to time.Time) string {
	return fmt.Sprintf("%s %s - %s", name, from.Format(time.DateOnly), to.Format(time.DateOnly))
}

// write lays out a title line, a heading row, the data rows and an optional footer.
func write(w io.Writer, caption string, headings []any, rows [][]any, footer []any) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetCellValue(sheet, "A1", caption); err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, "A2", &headings); err != nil {
		return fmt.Errorf("write headings: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	lastCol, err := excelize.ColumnNumberToName(len(headings))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", lastCol+"2", bold); err != nil {
		return err
	}

	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+3)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if footer != nil {
		cell, err := excelize.CoordinatesToCellName(1, len(rows)+3)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &footer); err != nil {
			return fmt.Errorf("write totals: %w", err)
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      2,
		TopLeftCell: "A3",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
