package sqlgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertBindsKeyAndValue(t *testing.T) {
	stmt, err := Upsert("nodes", "O'Reilly", `{"name": "O'Reilly; DROP TABLE users;"}`)
	require.NoError(t, err)

	assert.NotContains(t, stmt.SQL, "O'Reilly")
	assert.Contains(t, stmt.SQL, "ON CONFLICT (key) DO UPDATE")
	assert.Equal(t, []interface{}{"O'Reilly", `{"name": "O'Reilly; DROP TABLE users;"}`}, stmt.Params)
}

func TestCreateTableRejectsBadIdentifier(t *testing.T) {
	_, err := CreateTable("drop table;--")
	assert.Error(t, err)
}

func TestBatchUpsertBindsEveryEntry(t *testing.T) {
	stmt, err := BatchUpsert("nodes", map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Len(t, stmt.Params, 4)
	assert.Contains(t, stmt.SQL, "VALUES (?, ?, now()), (?, ?, now())")
}

func TestBatchUpsertRejectsEmpty(t *testing.T) {
	_, err := BatchUpsert("nodes", nil)
	assert.Error(t, err)
}

func TestBatchDeleteBuildsInClause(t *testing.T) {
	stmt, err := BatchDelete("nodes", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM nodes WHERE key IN (?, ?, ?)", stmt.SQL)
	assert.Equal(t, []interface{}{"a", "b", "c"}, stmt.Params)
}

func TestExportToColumnarEscapesQuotes(t *testing.T) {
	stmt := ExportToColumnar("SELECT * FROM nodes", "/tmp/o'brien.parquet")
	assert.Contains(t, stmt.SQL, "/tmp/o''brien.parquet")
}

func TestLimitOffsetRendersIntegersLiterally(t *testing.T) {
	limit, offset := 10, 5
	clause, err := LimitOffset(&limit, &offset)
	require.NoError(t, err)
	assert.Equal(t, " LIMIT 10 OFFSET 5", clause)
}

func TestLimitOffsetRejectsNegative(t *testing.T) {
	limit := -1
	_, err := LimitOffset(&limit, nil)
	assert.Error(t, err)
}
