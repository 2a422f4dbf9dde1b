package schema

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSchemaRunsStatementsInOrder(t *testing.T) {
	var ran []string
	exec := func(ctx context.Context, sql string) error {
		ran = append(ran, sql)
		return nil
	}
	m := New("db", "nodes", exec, nil, nil, nil)

	err := m.CreateSchema(context.Background(), []string{"CREATE TABLE nodes (...)", "CREATE INDEX idx_type"})
	require.NoError(t, err)
	assert.Equal(t, []string{"CREATE TABLE nodes (...)", "CREATE INDEX idx_type"}, ran)
}

func TestCreateSchemaTreatsAlreadyExistsAsSuccess(t *testing.T) {
	exec := func(ctx context.Context, sql string) error { return errors.New("relation already exists") }
	alreadyOK := func(err error) bool { return err != nil && err.Error() == "relation already exists" }

	m := New("db", "nodes", exec, nil, alreadyOK, nil)
	err := m.CreateSchema(context.Background(), []string{"CREATE TABLE nodes (...)"})
	assert.NoError(t, err)
}

func TestCreateSchemaPropagatesRealFailure(t *testing.T) {
	exec := func(ctx context.Context, sql string) error { return errors.New("disk full") }
	m := New("db", "nodes", exec, nil, nil, nil)

	err := m.CreateSchema(context.Background(), []string{"CREATE TABLE nodes (...)"})
	assert.Error(t, err)
}

func TestCreateSchemaIdempotentUnderConcurrency(t *testing.T) {
	var calls int32
	exec := func(ctx context.Context, sql string) error {
		atomic.AddInt32(&calls, 1)
		// stay in flight long enough for the other callers to attach
		time.Sleep(10 * time.Millisecond)
		return nil
	}
	m := New("db", "concurrent_table", exec, nil, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.CreateSchema(context.Background(), []string{"CREATE TABLE concurrent_table (...)"})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLoadExistingEmptyIsNotError(t *testing.T) {
	m := New("db", "nodes", nil, func(ctx context.Context) (map[string]interface{}, error) {
		return nil, nil
	}, nil, nil)

	rows, err := m.LoadExisting(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLoadExistingNilLoaderReturnsEmpty(t *testing.T) {
	m := New("db", "nodes", nil, nil, nil, nil)
	rows, err := m.LoadExisting(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}
