// Package connection owns connection lifecycle, the process-wide backend
// handle cache, and the cross-instance table-creation mutex described in
// spec.md §4.7 and §5. It generalizes the teacher's DynamoDB-specific
// connection cache (infrastructure/di/cache.go) and conditional-write lock
// (infrastructure/persistence/dynamodb/distributed_lock.go) into a
// backend-agnostic shape: any backend handle is an opaque interface{} opened
// and closed by caller-supplied functions.
package connection

import (
	"context"
	"fmt"
	"sync"

	storeerrors "github.com/polystore-io/polystore/pkg/errors"
)

// Opener creates a new backend handle for address.
type Opener func(ctx context.Context, address string) (interface{}, error)

// Closer releases a backend handle previously returned by an Opener.
type Closer func(handle interface{}) error

type cacheEntry struct {
	handle   interface{}
	refCount int
	closer   Closer
}

// cache is the only process-wide state besides tableMutexes (spec.md §9:
// "no shared mutable globals beyond caches").
var (
	cacheMu sync.Mutex
	cache   = map[string]*cacheEntry{}
)

// Manager owns one adapter instance's view of a connection: a shared,
// refcounted backend handle plus a per-instance "connection" built on top of
// it. State machine: new -> loading -> ready -> closed -> loading (spec.md
// §4.8), enforced by the caller (Base Adapter) via ensureLoaded; Manager
// itself only tracks whether its handle has been released.
type Manager struct {
	address string
	opener  Opener
	closer  Closer

	mu       sync.Mutex
	released bool
}

// NewManager builds a Manager for address; opener/closer are backend-specific
// (e.g. open a *pgxpool.Pool, open a *mongo.Client, open a neo4j.DriverWithContext).
func NewManager(address string, opener Opener, closer Closer) *Manager {
	return &Manager{address: address, opener: opener, closer: closer}
}

// GetDatabase returns the cached backend handle for m's address, opening it
// if absent. The handle's lifetime extends to the longest holder: it is only
// actually closed once every Manager sharing the address has released it via
// CloseDatabase.
func (m *Manager) GetDatabase(ctx context.Context) (interface{}, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if entry, ok := cache[m.address]; ok {
		entry.refCount++
		m.mu.Lock()
		m.released = false
		m.mu.Unlock()
		return entry.handle, nil
	}

	handle, err := m.opener(ctx, m.address)
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindConnectionFailed,
			fmt.Sprintf("failed to open database %q", m.address), err)
	}
	cache[m.address] = &cacheEntry{handle: handle, refCount: 1, closer: m.closer}

	m.mu.Lock()
	m.released = false
	m.mu.Unlock()
	return handle, nil
}

// GetConnection returns a per-instance connection, reconnecting (re-opening
// the cached handle) if this Manager previously released it.
func (m *Manager) GetConnection(ctx context.Context) (interface{}, error) {
	m.mu.Lock()
	released := m.released
	m.mu.Unlock()

	if released {
		return m.GetDatabase(ctx)
	}

	cacheMu.Lock()
	entry, ok := cache[m.address]
	cacheMu.Unlock()
	if !ok {
		return m.GetDatabase(ctx)
	}
	return entry.handle, nil
}

// Close releases this Manager's per-instance hold on the cached handle
// without evicting it from the cache (other holders may still be using it).
func (m *Manager) Close() error {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	entry, ok := cache[m.address]
	if !ok {
		return nil
	}
	entry.refCount--

	m.mu.Lock()
	m.released = true
	m.mu.Unlock()
	return nil
}

// CloseDatabase releases this Manager's hold and, once it was the last
// holder, evicts the entry from the cache and closes the underlying handle.
func (m *Manager) CloseDatabase() error {
	cacheMu.Lock()
	entry, ok := cache[m.address]
	if !ok {
		cacheMu.Unlock()
		m.mu.Lock()
		m.released = true
		m.mu.Unlock()
		return nil
	}
	entry.refCount--
	evict := entry.refCount <= 0
	if evict {
		delete(cache, m.address)
	}
	cacheMu.Unlock()

	m.mu.Lock()
	m.released = true
	m.mu.Unlock()

	if evict && entry.closer != nil {
		if err := entry.closer(entry.handle); err != nil {
			return storeerrors.Wrap(storeerrors.KindConnectionFailed, "failed to close database handle", err)
		}
	}
	return nil
}

// ClearCache force-closes and evicts every cached handle. Intended for test
// teardown and process shutdown; not part of the per-instance lifecycle.
func ClearCache() {
	cacheMu.Lock()
	entries := cache
	cache = map[string]*cacheEntry{}
	cacheMu.Unlock()

	for _, entry := range entries {
		if entry.closer != nil {
			_ = entry.closer(entry.handle)
		}
	}
}

// Stats reports the process-wide cache size, for the performance_monitoring
// config option.
func Stats() (cachedHandles int) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	return len(cache)
}

// --- table-creation mutex -------------------------------------------------

type tableKey struct {
	database string
	table    string
}

type inflight struct {
	done    chan struct{}
	err     error
	waiters int
	settled bool
}

var (
	tableMu    sync.Mutex
	tableLocks = map[tableKey]*inflight{}
)

// WithTableCreationMutex serializes concurrent schema-creation operations
// for (database, table) across every Manager in the process. Waiters attach
// to the same in-flight future rather than polling; the entry is removed
// once the last attached caller observes completion, satisfying spec.md's
// "Schema idempotence" property (§8, property 11).
func WithTableCreationMutex(ctx context.Context, database, table string, op func(ctx context.Context) error) error {
	key := tableKey{database: database, table: table}

	tableMu.Lock()
	if existing, ok := tableLocks[key]; ok {
		existing.waiters++
		tableMu.Unlock()
		var err error
		select {
		case <-existing.done:
			err = existing.err
		case <-ctx.Done():
			err = ctx.Err()
		}
		tableMu.Lock()
		existing.waiters--
		if existing.settled && existing.waiters == 0 && tableLocks[key] == existing {
			delete(tableLocks, key)
		}
		tableMu.Unlock()
		return err
	}

	f := &inflight{done: make(chan struct{})}
	tableLocks[key] = f
	tableMu.Unlock()

	err := op(ctx)

	tableMu.Lock()
	f.err = err
	f.settled = true
	if f.waiters == 0 {
		delete(tableLocks, key)
	}
	tableMu.Unlock()
	close(f.done)

	return err
}
