package connection

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDatabaseCachesAcrossManagers(t *testing.T) {
	defer ClearCache()

	var opens int32
	opener := func(ctx context.Context, address string) (interface{}, error) {
		atomic.AddInt32(&opens, 1)
		return "handle-" + address, nil
	}

	m1 := NewManager("db-a", opener, nil)
	m2 := NewManager("db-a", opener, nil)

	h1, err := m1.GetDatabase(context.Background())
	require.NoError(t, err)
	h2, err := m2.GetDatabase(context.Background())
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&opens))
}

func TestCloseDatabaseEvictsOnlyWhenLastHolderReleases(t *testing.T) {
	defer ClearCache()

	var closes int32
	opener := func(ctx context.Context, address string) (interface{}, error) { return address, nil }
	closer := func(handle interface{}) error { atomic.AddInt32(&closes, 1); return nil }

	m1 := NewManager("db-b", opener, closer)
	m2 := NewManager("db-b", opener, closer)

	_, err := m1.GetDatabase(context.Background())
	require.NoError(t, err)
	_, err = m2.GetDatabase(context.Background())
	require.NoError(t, err)

	require.NoError(t, m1.CloseDatabase())
	assert.Equal(t, int32(0), atomic.LoadInt32(&closes))

	require.NoError(t, m2.CloseDatabase())
	assert.Equal(t, int32(1), atomic.LoadInt32(&closes))
}

func TestGetConnectionReconnectsAfterClose(t *testing.T) {
	defer ClearCache()

	opener := func(ctx context.Context, address string) (interface{}, error) { return address, nil }
	m := NewManager("db-c", opener, nil)

	_, err := m.GetConnection(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Close())

	h, err := m.GetConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "db-c", h)
}

func TestWithTableCreationMutexRunsExactlyOnce(t *testing.T) {
	var runs int32
	var wg sync.WaitGroup
	errs := make([]error, 20)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = WithTableCreationMutex(context.Background(), "db-d", "nodes", func(ctx context.Context) error {
				atomic.AddInt32(&runs, 1)
				// stay in flight long enough for the other callers to attach
				time.Sleep(10 * time.Millisecond)
				return nil
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestWithTableCreationMutexPropagatesErrorToWaiters(t *testing.T) {
	sentinel := assert.AnError
	var wg sync.WaitGroup
	errs := make([]error, 5)

	started := make(chan struct{})
	release := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = WithTableCreationMutex(context.Background(), "db-e", "edges", func(ctx context.Context) error {
			close(started)
			<-release
			return sentinel
		})
	}()

	<-started
	for i := 1; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = WithTableCreationMutex(context.Background(), "db-e", "edges", func(ctx context.Context) error {
				t.Error("waiter should not re-run the operation")
				return nil
			})
		}(i)
	}
	// give the waiters time to attach to the in-flight operation
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.Equal(t, sentinel, err)
	}
}
