package dto

import (
	"stockledger/internal/core/entity"
	"stockledger/internal/domain/closing"
)

// CreateClosingRequest is the body of POST /closings. Dates are calendar days.
type CreateClosingRequest struct {
	Company       string `json:"company" binding:"required"`
	FromDate      string `json:"fromDate" binding:"required"`
	ToDate        string `json:"toDate" binding:"required"`
	Warehouse     string `json:"warehouse"`
	ItemCode      string `json:"itemCode"`
	ItemGroup     string `json:"itemGroup"`
	WarehouseType string `json:"warehouseType"`
}

// ToDomain parses the request dates.
func (r CreateClosingRequest) ToDomain() (closing.CreateRequest, error) {
	from, err := ParseDate("fromDate", r.FromDate)
	if err != nil {
		return closing.CreateRequest{}, err
	}
	to, err := ParseDate("toDate", r.ToDate)
	if err != nil {
		return closing.CreateRequest{}, err
	}
	return closing.CreateRequest{
		Company:  r.Company,
		FromDate: from,
		ToDate:   to,
		ClosingFilters: entity.ClosingFilters{
			Warehouse:     r.Warehouse,
			ItemCode:      r.ItemCode,
			ItemGroup:     r.ItemGroup,
			WarehouseType: r.WarehouseType,
		},
	}, nil
}

// ListClosingsRequest is the query of GET /closings.
type ListClosingsRequest struct {
	Company string `form:"company" binding:"required"`
	Limit   int    `form:"limit"`
}
