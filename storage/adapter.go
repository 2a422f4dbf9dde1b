package storage

import (
	"context"
	"sort"
	"sync"

	storeerrors "github.com/polystore-io/polystore/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// defaultBatchConcurrency bounds the fan-out width of GetMany/SetMany/
// DeleteMany on adapters that don't override them (spec.md §4.9: "parallelized
// with a bounded promise set").
const defaultBatchConcurrency = 8

// CacheAdapter is the Base Adapter Template of spec.md §4.9: it owns an
// in-memory key->value cache, defers initialization and flush to subclass
// hooks via the embedded Lifecycle, and supplies default Keys/Values/Entries
// iterators and GetMany/SetMany/DeleteMany fan-outs so a concrete backend
// only has to implement ensure_loaded/persist plus whatever capability
// interfaces it adds on top (GraphStorage, SemanticStorage, VectorStorage).
//
// Grounded on backend/infrastructure/persistence/dynamodb/generic_repository.go's
// GenericRepository[T Entity] (the Go-generics cache-backed repository
// pattern), generalized from a single DynamoDB table to any backend.
type CacheAdapter[T any] struct {
	*Lifecycle

	cacheMu sync.RWMutex
	cache   map[string]T

	concurrency int
}

// NewCacheAdapter constructs a CacheAdapter. ensureLoaded/persist/begin/commit/
// rollback follow Lifecycle's contract; any may be nil.
func NewCacheAdapter[T any](logger *zap.Logger, ensureLoaded EnsureLoadedFunc, persist PersistFunc, begin BeginTxFunc, commit CommitTxFunc, rollback RollbackTxFunc) *CacheAdapter[T] {
	return &CacheAdapter[T]{
		Lifecycle:   NewLifecycle(logger, ensureLoaded, persist, begin, commit, rollback),
		cache:       make(map[string]T),
		concurrency: defaultBatchConcurrency,
	}
}

// SetConcurrency overrides the batch fan-out width; n<=0 is ignored.
func (a *CacheAdapter[T]) SetConcurrency(n int) {
	if n > 0 {
		a.concurrency = n
	}
}

func (a *CacheAdapter[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := a.EnsureLoaded(ctx); err != nil {
		return zero, false, err
	}
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	v, ok := a.cache[key]
	return v, ok, nil
}

func (a *CacheAdapter[T]) Set(ctx context.Context, key string, value T) error {
	if err := a.EnsureLoaded(ctx); err != nil {
		return err
	}
	a.cacheMu.Lock()
	a.cache[key] = value
	a.cacheMu.Unlock()
	return nil
}

func (a *CacheAdapter[T]) Delete(ctx context.Context, key string) (bool, error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return false, err
	}
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	_, ok := a.cache[key]
	if ok {
		delete(a.cache, key)
	}
	return ok, nil
}

func (a *CacheAdapter[T]) Has(ctx context.Context, key string) (bool, error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return false, err
	}
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	_, ok := a.cache[key]
	return ok, nil
}

func (a *CacheAdapter[T]) Clear(ctx context.Context) error {
	if err := a.EnsureLoaded(ctx); err != nil {
		return err
	}
	a.cacheMu.Lock()
	a.cache = make(map[string]T)
	a.cacheMu.Unlock()
	return nil
}

func (a *CacheAdapter[T]) Size(ctx context.Context) (int, error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return 0, err
	}
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	return len(a.cache), nil
}

// sortedKeys returns a stable snapshot of cache keys so the default
// iterators below produce a deterministic order across calls.
func (a *CacheAdapter[T]) sortedKeys() []string {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	keys := make([]string, 0, len(a.cache))
	for k := range a.cache {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type sliceIterator[T any] struct {
	items []T
	pos   int
}

func (it *sliceIterator[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if it.pos >= len(it.items) {
		return zero, false, nil
	}
	item := it.items[it.pos]
	it.pos++
	return item, true, nil
}

func (a *CacheAdapter[T]) Keys(ctx context.Context) (Iterator[string], error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	return &sliceIterator[string]{items: a.sortedKeys()}, nil
}

func (a *CacheAdapter[T]) Values(ctx context.Context) (Iterator[T], error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	keys := a.sortedKeys()
	a.cacheMu.RLock()
	values := make([]T, 0, len(keys))
	for _, k := range keys {
		values = append(values, a.cache[k])
	}
	a.cacheMu.RUnlock()
	return &sliceIterator[T]{items: values}, nil
}

func (a *CacheAdapter[T]) Entries(ctx context.Context) (Iterator[Entry[T]], error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	keys := a.sortedKeys()
	a.cacheMu.RLock()
	entries := make([]Entry[T], 0, len(keys))
	for _, k := range keys {
		entries = append(entries, Entry[T]{Key: k, Value: a.cache[k]})
	}
	a.cacheMu.RUnlock()
	return &sliceIterator[Entry[T]]{items: entries}, nil
}

// GetMany fans out Get across a bounded worker pool; a per-key miss is not
// an error, it is simply absent from the result map.
func (a *CacheAdapter[T]) GetMany(ctx context.Context, keys []string) (map[string]T, error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	results := make(map[string]T)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			v, ok, err := a.Get(gctx, key)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				results[key] = v
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *CacheAdapter[T]) SetMany(ctx context.Context, entries map[string]T) error {
	if err := a.EnsureLoaded(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for key, value := range entries {
		key, value := key, value
		g.Go(func() error {
			return a.Set(gctx, key, value)
		})
	}
	return g.Wait()
}

func (a *CacheAdapter[T]) DeleteMany(ctx context.Context, keys []string) (int, error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return 0, err
	}
	var count int64
	var countMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			ok, err := a.Delete(gctx, key)
			if err != nil {
				return err
			}
			if ok {
				countMu.Lock()
				count++
				countMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return int(count), nil
}

// Batch applies ops sequentially inside one Transaction, so a failure midway
// rolls every prior op in the batch back (spec.md §5: batch atomicity is
// adapter-defined; CacheAdapter chooses all-or-nothing).
func (a *CacheAdapter[T]) Batch(ctx context.Context, ops []Operation[T]) (BatchResult, error) {
	result := BatchResult{Operations: len(ops)}
	err := a.InTransaction(ctx, func(ctx context.Context) error {
		for _, op := range ops {
			var opErr error
			switch op.Kind {
			case OpSet:
				opErr = a.Set(ctx, op.Key, op.Value)
			case OpDelete:
				_, opErr = a.Delete(ctx, op.Key)
			case OpClear:
				opErr = a.Clear(ctx)
			default:
				opErr = storeerrors.InvalidValue("unknown batch operation kind").WithContext("kind", op.Kind)
			}
			if opErr != nil {
				result.Errors = append(result.Errors, opErr)
				return opErr
			}
		}
		return nil
	})
	result.Success = err == nil
	return result, err
}

// InTransaction snapshots the cache, runs fn, and restores the snapshot on
// failure at any nesting depth (spec.md §3 invariant 5, §8 property 10).
func (a *CacheAdapter[T]) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return a.Lifecycle.Transaction(ctx,
		func() map[string]any {
			a.cacheMu.RLock()
			defer a.cacheMu.RUnlock()
			snap := make(map[string]any, len(a.cache))
			for k, v := range a.cache {
				snap[k] = v
			}
			return snap
		},
		func(snap map[string]any) {
			a.cacheMu.Lock()
			defer a.cacheMu.Unlock()
			restored := make(map[string]T, len(snap))
			for k, v := range snap {
				restored[k] = v.(T)
			}
			a.cache = restored
		},
		fn,
	)
}

// Save flushes the cache via the subclass persist hook (spec.md §4.9,
// SaveableStorage).
func (a *CacheAdapter[T]) Save(ctx context.Context) error {
	return a.Persist(ctx)
}
