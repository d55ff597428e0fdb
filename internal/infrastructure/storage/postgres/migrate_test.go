package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_OrderedAndParsed(t *testing.T) {
	ms, err := LoadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)

	for i := 1; i < len(ms); i++ {
		assert.Less(t, ms[i-1].Version, ms[i].Version)
	}
	for _, m := range ms {
		assert.NotEmpty(t, m.Up, m.Name)
		assert.NotContains(t, m.Up, "+goose", m.Name)
		assert.NotContains(t, m.Up, "DROP TABLE", m.Name)
	}
}

func TestParseMigration(t *testing.T) {
	body := `-- +goose Up
CREATE TABLE t (id INT);
-- +goose StatementBegin
CREATE FUNCTION f() RETURNS void AS $$ BEGIN END; $$ LANGUAGE plpgsql;
-- +goose StatementEnd

-- +goose Down
DROP TABLE t;
`
	m, err := parseMigration("00042_things.sql", body)
	require.NoError(t, err)
	assert.Equal(t, int64(42), m.Version)
	assert.Contains(t, m.Up, "CREATE TABLE t")
	assert.Contains(t, m.Up, "CREATE FUNCTION f()")
	assert.NotContains(t, m.Up, "DROP TABLE")
}

func TestParseMigration_Rejects(t *testing.T) {
	_, err := parseMigration("nover.sql", "-- +goose Up\nSELECT 1;")
	assert.Error(t, err)

	_, err = parseMigration("00001_x.sql", "SELECT 1;")
	assert.Error(t, err)
}
