package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
)

func TestColumns_ClosingEntryFlattensFilters(t *testing.T) {
	assert.Equal(t, []string{
		"id", "company", "from_date", "to_date",
		"warehouse", "item_code", "item_group", "warehouse_type",
		"status", "stale", "error", "created_at", "updated_at",
	}, Columns[entity.StockClosingEntry]())
}

func TestColumns_LedgerEntrySkipsLots(t *testing.T) {
	cols := Columns[entity.StockLedgerEntry]()
	assert.Contains(t, cols, "stock_queue")
	assert.Contains(t, cols, "has_lots")
	assert.NotContains(t, cols, "lots")
	assert.NotContains(t, cols, "-")

	cols[0] = "mutated"
	assert.NotEqual(t, "mutated", Columns[entity.StockLedgerEntry]()[0])
}

func TestRowMap_ClosingEntry(t *testing.T) {
	day := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	c := &entity.StockClosingEntry{
		ID:             id.New(),
		Company:        "Acme",
		FromDate:       day,
		ToDate:         day,
		ClosingFilters: entity.ClosingFilters{Warehouse: "Stores", ItemGroup: "Raw"},
		Status:         entity.ClosingQueued,
		Stale:          true,
	}

	m := RowMap(c)
	require.NotNil(t, m)
	assert.Len(t, m, len(Columns[entity.StockClosingEntry]()))
	assert.Equal(t, c.ID, m["id"])
	assert.Equal(t, "Stores", m["warehouse"])
	assert.Equal(t, "Raw", m["item_group"])
	assert.Equal(t, "", m["item_code"])
	assert.Equal(t, entity.ClosingQueued, m["status"])
	assert.Equal(t, true, m["stale"])
}

func TestRowMap_NotAStruct(t *testing.T) {
	assert.Nil(t, RowMap(42))
	assert.Nil(t, RowMap((*entity.StockClosingEntry)(nil)))
}
