package dto

import (
	"stockledger/internal/domain/reports"
)

// Report output formats.
const (
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// BatchBalanceRequest is the query of GET /reports/batch-balance.
type BatchBalanceRequest struct {
	Company     string `form:"company" binding:"required"`
	FromDate    string `form:"fromDate" binding:"required"`
	ToDate      string `form:"toDate" binding:"required"`
	ItemCode    string `form:"itemCode"`
	Warehouse   string `form:"warehouse"`
	BatchNo     string `form:"batchNo"`
	SerialNo    string `form:"serialNo"`
	IncludeZero bool   `form:"includeZero"`
	Format      string `form:"format" binding:"omitempty,oneof=json xlsx"`
}

// ToFilter parses the request dates.
func (r BatchBalanceRequest) ToFilter() (reports.BatchBalanceFilter, error) {
	from, err := ParseDate("fromDate", r.FromDate)
	if err != nil {
		return reports.BatchBalanceFilter{}, err
	}
	to, err := ParseDate("toDate", r.ToDate)
	if err != nil {
		return reports.BatchBalanceFilter{}, err
	}
	return reports.BatchBalanceFilter{
		Company:     r.Company,
		FromDate:    from,
		ToDate:      to,
		ItemCode:    r.ItemCode,
		Warehouse:   r.Warehouse,
		BatchNo:     r.BatchNo,
		SerialNo:    r.SerialNo,
		IncludeZero: r.IncludeZero,
	}, nil
}

// StockTurnoverRequest is the query of GET /reports/stock-turnover.
type StockTurnoverRequest struct {
	Company     string `form:"company" binding:"required"`
	FromDate    string `form:"fromDate" binding:"required"`
	ToDate      string `form:"toDate" binding:"required"`
	ItemCode    string `form:"itemCode"`
	Warehouse   string `form:"warehouse"`
	IncludeZero bool   `form:"includeZero"`
	Format      string `form:"format" binding:"omitempty,oneof=json xlsx"`
}

// ToFilter parses the request dates.
func (r StockTurnoverRequest) ToFilter() (reports.StockTurnoverFilter, error) {
	from, err := ParseDate("fromDate", r.FromDate)
	if err != nil {
		return reports.StockTurnoverFilter{}, err
	}
	to, err := ParseDate("toDate", r.ToDate)
	if err != nil {
		return reports.StockTurnoverFilter{}, err
	}
	return reports.StockTurnoverFilter{
		Company:     r.Company,
		FromDate:    from,
		ToDate:      to,
		ItemCode:    r.ItemCode,
		Warehouse:   r.Warehouse,
		IncludeZero: r.IncludeZero,
	}, nil
}
