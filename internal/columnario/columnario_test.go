package columnario

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportFailsWhenDisabled(t *testing.T) {
	io := New(false, nil, nil)
	err := io.Export(context.Background(), "SELECT * FROM nodes", "/tmp/out.parquet")
	assert.Error(t, err)
}

func TestExportRunsCopyWhenEnabled(t *testing.T) {
	var ran string
	exec := func(ctx context.Context, sql string, params ...interface{}) error {
		ran = sql
		return nil
	}
	io := New(true, exec, nil)
	err := io.Export(context.Background(), "SELECT * FROM nodes", "/tmp/out.parquet")
	require.NoError(t, err)
	assert.Contains(t, ran, "COPY (SELECT * FROM nodes) TO '/tmp/out.parquet'")
}

func TestImportReportsRowDelta(t *testing.T) {
	counts := []int64{10, 25}
	call := 0
	count := func(ctx context.Context, table string) (int64, error) {
		v := counts[call]
		call++
		return v, nil
	}
	exec := func(ctx context.Context, sql string, params ...interface{}) error { return nil }

	io := New(true, exec, count)
	result, err := io.Import(context.Background(), "nodes", "/tmp/in.parquet")
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.RowsBefore)
	assert.Equal(t, int64(25), result.RowsAfter)
	assert.Equal(t, int64(15), result.RowsImported)
}

func TestImportFailsWhenDisabled(t *testing.T) {
	io := New(false, nil, nil)
	_, err := io.Import(context.Background(), "nodes", "/tmp/in.parquet")
	assert.Error(t, err)
}
