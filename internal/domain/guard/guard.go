// Package guard rejects ledger mutations that would drive a key's running
// quantity below zero or that fall into a frozen stock period.
package guard

import (
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
)

// NegativeStockPolicy resolves whether a scope may go negative.
// Precedence: item, then warehouse, then company, then the global default.
type NegativeStockPolicy struct {
	allowByDefault bool
}

// NewNegativeStockPolicy creates a policy with the global default.
func NewNegativeStockPolicy(allowByDefault bool) NegativeStockPolicy {
	return NegativeStockPolicy{allowByDefault: allowByDefault}
}

// Allowed reports whether negative stock is permitted for the scope.
// Nil settings are skipped.
func (p NegativeStockPolicy) Allowed(item *entity.ItemSettings, wh *entity.WarehouseSettings, company *entity.CompanySettings) bool {
	if item != nil && item.AllowNegativeStock != nil {
		return *item.AllowNegativeStock
	}
	if wh != nil && wh.AllowNegativeStock != nil {
		return *wh.AllowNegativeStock
	}
	if company != nil && company.AllowNegativeStock != nil {
		return *company.AllowNegativeStock
	}
	return p.allowByDefault
}

// Point is one fact in a projection: its effective time and signed quantity.
type Point struct {
	At    time.Time
	Delta types.Quantity
}

// PointsOf converts entries into projection points, in their given order.
func PointsOf(entries []entity.StockLedgerEntry) []Point {
	points := make([]Point, len(entries))
	for i := range entries {
		points[i] = Point{At: entries[i].PostingAt, Delta: entries[i].ActualQty}
	}
	return points
}

// Project walks the running quantity from opening through points and returns a
// NegativeStockError for the first point where it drops below zero.
func Project(key entity.LedgerKey, opening types.Quantity, points []Point) error {
	running := opening
	for _, p := range points {
		running += p.Delta
		if running.IsNegative() {
			return apperror.NewNegativeStock(key.String(), p.At, running.Neg().String())
		}
	}
	return nil
}

// CheckRunning validates an already computed running quantity at one point.
func CheckRunning(key entity.LedgerKey, at time.Time, qtyAfter types.Quantity) error {
	if qtyAfter.IsNegative() {
		return apperror.NewNegativeStock(key.String(), at, qtyAfter.Neg().String())
	}
	return nil
}
