package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/types"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func boolPtr(b bool) *bool { return &b }

func TestProject_DetectsLaterNegative(t *testing.T) {
	key := entity.LedgerKey{ItemCode: "A", Warehouse: "W"}
	points := []Point{
		{At: day(2025, 1, 10), Delta: types.NewQuantity(-3)}, // backdated outward
		{At: day(2025, 1, 20), Delta: types.NewQuantity(2)},
		{At: day(2025, 1, 25), Delta: types.NewQuantity(-5)},
	}

	err := Project(key, types.NewQuantity(5), points)
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeNegativeStock, appErr.Code)
	assert.Equal(t, "A/W", appErr.Details["key"])
	assert.Equal(t, "2025-01-25T00:00:00Z", appErr.Details["date"])
	assert.Equal(t, "1.0000", appErr.Details["deficit"])
}

func TestProject_Deficit(t *testing.T) {
	key := entity.LedgerKey{ItemCode: "A", Warehouse: "W", BatchNo: "B1"}
	err := Project(key, types.NewQuantity(1), []Point{{At: day(2025, 2, 1), Delta: types.NewQuantity(-3)}})

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "A/W/B1", appErr.Details["key"])
	assert.Equal(t, "2.0000", appErr.Details["deficit"])
}

func TestProject_NoViolation(t *testing.T) {
	err := Project(entity.LedgerKey{ItemCode: "A", Warehouse: "W"}, 0, []Point{
		{At: day(2025, 1, 1), Delta: types.NewQuantity(2)},
		{At: day(2025, 1, 2), Delta: types.NewQuantity(-2)},
	})
	assert.NoError(t, err)
}

func TestNegativeStockPolicy_Precedence(t *testing.T) {
	p := NewNegativeStockPolicy(false)

	tests := []struct {
		name    string
		item    *entity.ItemSettings
		wh      *entity.WarehouseSettings
		company *entity.CompanySettings
		want    bool
	}{
		{"global default", nil, nil, nil, false},
		{"company allows", nil, &entity.WarehouseSettings{}, &entity.CompanySettings{AllowNegativeStock: boolPtr(true)}, true},
		{"warehouse overrides company",
			nil,
			&entity.WarehouseSettings{AllowNegativeStock: boolPtr(false)},
			&entity.CompanySettings{AllowNegativeStock: boolPtr(true)},
			false},
		{"item overrides all",
			&entity.ItemSettings{AllowNegativeStock: boolPtr(true)},
			&entity.WarehouseSettings{AllowNegativeStock: boolPtr(false)},
			&entity.CompanySettings{AllowNegativeStock: boolPtr(false)},
			true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Allowed(tt.item, tt.wh, tt.company))
		})
	}

	assert.True(t, NewNegativeStockPolicy(true).Allowed(&entity.ItemSettings{}, nil, nil))
}

func TestFreezePolicy_AbsoluteDate(t *testing.T) {
	p := NewFreezePolicy(day(2025, 1, 31), 0)

	err := p.CanPost(nil, time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeStockFrozen))

	assert.NoError(t, p.CanPost(nil, day(2025, 2, 1)))
}

func TestFreezePolicy_RollingDaysAndCompany(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	p := NewFreezePolicy(time.Time{}, 5).WithClock(func() time.Time { return now })

	assert.Equal(t, day(2025, 3, 5), p.Boundary(nil))
	assert.Error(t, p.CanPost(nil, day(2025, 3, 5)))
	assert.NoError(t, p.CanPost(nil, day(2025, 3, 6)))

	frozen := day(2025, 3, 8)
	company := &entity.CompanySettings{StockFrozenUpTo: &frozen}
	assert.Equal(t, frozen, p.Boundary(company))
	assert.Error(t, p.CanPost(company, day(2025, 3, 7)))

	assert.NoError(t, NewFreezePolicy(time.Time{}, 0).CanPost(nil, day(2000, 1, 1)))
}
