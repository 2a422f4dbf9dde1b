// Package document implements the NoSQL document-store backend of spec.md
// §4.10 and §6 on top of MongoDB, adding partition-keyed collection routing
// via internal/partition. Grounded on backend's
// infrastructure/persistence/dynamodb/generic_repository.go (the
// GenericRepository[T Entity] cache-backed CRUD pattern) generalized from a
// single DynamoDB table to a sharded set of Mongo collections, and on
// infrastructure/di/cache.go for the shared-handle wiring now expressed via
// internal/connection.
package document

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/polystore-io/polystore/internal/connection"
	"github.com/polystore-io/polystore/internal/partition"
	"github.com/polystore-io/polystore/internal/typemapper"
	storeerrors "github.com/polystore-io/polystore/pkg/errors"
	"github.com/polystore-io/polystore/storage"
)

// Config configures an Adapter.
type Config struct {
	URI            string `validate:"required"`
	Database       string `validate:"required"`
	CollectionBase string `validate:"required"`
	PartitionCount int    `validate:"gte=0"` // 0 disables partitioning: every document lives in CollectionBase
}

var configValidator = validator.New()

// Validate checks cfg against its validate tags.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return storeerrors.Wrap(storeerrors.KindInvalidValue, "invalid document config", err)
	}
	return nil
}

type documentRow struct {
	Key   string      `bson:"_id"`
	Value interface{} `bson:"value"`
}

// Adapter is the document-store backend, implementing Storage[interface{}]
// and BatchStorage[interface{}] with methods that act on Mongo directly
// (shadowing the embedded CacheAdapter's in-memory versions), plus
// partition-aware collection routing on top.
type Adapter struct {
	*storage.CacheAdapter[interface{}]

	cfg     Config
	conn    *connection.Manager
	logger  *zap.Logger
	client  *mongo.Client
	hasher  *partition.Hasher
}

// New builds a document Adapter.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, logger: logger}
	a.conn = connection.NewManager(cfg.URI, a.open, a.close)
	if cfg.PartitionCount > 0 {
		a.hasher = partition.New(cfg.PartitionCount, logger)
	}
	a.CacheAdapter = storage.NewCacheAdapter[interface{}](logger, a.ensureLoaded, a.persist, nil, nil, nil)
	return a, nil
}

func (a *Adapter) open(ctx context.Context, uri string) (interface{}, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return client, nil
}

func (a *Adapter) close(handle interface{}) error {
	client := handle.(*mongo.Client)
	return client.Disconnect(context.Background())
}

func (a *Adapter) ensureLoaded(ctx context.Context) error {
	handle, err := a.conn.GetDatabase(ctx)
	if err != nil {
		return err
	}
	a.client = handle.(*mongo.Client)
	return nil
}

// persist is a no-op: Mongo writes land directly, there is nothing buffered
// to flush. It exists so SaveableStorage.Save remains a valid call on every
// adapter regardless of whether the backend needs it.
func (a *Adapter) persist(ctx context.Context) error {
	return nil
}

// collectionFor returns the partitioned or single collection name for key,
// per spec.md §4.10's "partition-keyed collection routing".
func (a *Adapter) collectionFor(key string) string {
	if a.hasher == nil {
		return a.cfg.CollectionBase
	}
	return a.cfg.CollectionBase + "_" + a.hasher.Partition(key)
}

func (a *Adapter) collection(ctx context.Context, key string) (*mongo.Collection, error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	return a.client.Database(a.cfg.Database).Collection(a.collectionFor(key)), nil
}

// Get overrides CacheAdapter's in-memory lookup with a read-through fetch:
// the document store is the system of record, and the embedded cache is not
// used by this adapter's Get/Set, iterators or batch methods, all of which
// are overridden to act on Mongo directly. A stored string is decoded with
// typemapper.FromStorage; any other stored value is returned as decoded.
func (a *Adapter) Get(ctx context.Context, key string) (interface{}, bool, error) {
	coll, err := a.collection(ctx, key)
	if err != nil {
		return nil, false, err
	}
	var row documentRow
	err = coll.FindOne(ctx, bson.M{"_id": key}).Decode(&row)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeerrors.Wrap(storeerrors.KindQueryFailed, "document fetch failed", err).WithContext("key", key)
	}
	if s, ok := row.Value.(string); ok {
		return typemapper.FromStorage(s), true, nil
	}
	return row.Value, true, nil
}

func (a *Adapter) Set(ctx context.Context, key string, value interface{}) error {
	coll, err := a.collection(ctx, key)
	if err != nil {
		return err
	}
	stored, err := typemapper.ToStorage(value)
	if err != nil {
		return err
	}
	_, err = coll.UpdateOne(ctx, bson.M{"_id": key},
		bson.M{"$set": bson.M{"value": stored}}, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return storeerrors.Wrap(storeerrors.KindWriteFailed, "document upsert failed", err).WithContext("key", key)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, key string) (bool, error) {
	coll, err := a.collection(ctx, key)
	if err != nil {
		return false, err
	}
	result, err := coll.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return false, storeerrors.Wrap(storeerrors.KindDeleteFailed, "document delete failed", err).WithContext("key", key)
	}
	return result.DeletedCount > 0, nil
}

func (a *Adapter) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := a.Get(ctx, key)
	return ok, err
}

// Clear truncates every partition collection.
func (a *Adapter) Clear(ctx context.Context) error {
	if err := a.EnsureLoaded(ctx); err != nil {
		return err
	}
	for _, name := range a.allCollectionNames() {
		coll := a.client.Database(a.cfg.Database).Collection(name)
		if _, err := coll.DeleteMany(ctx, bson.M{}); err != nil {
			return storeerrors.Wrap(storeerrors.KindDeleteFailed, "clear failed", err).WithContext("collection", name)
		}
	}
	return nil
}

func (a *Adapter) Size(ctx context.Context) (int, error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return 0, err
	}
	var total int64
	for _, name := range a.allCollectionNames() {
		coll := a.client.Database(a.cfg.Database).Collection(name)
		n, err := coll.CountDocuments(ctx, bson.M{})
		if err != nil {
			return 0, storeerrors.Wrap(storeerrors.KindQueryFailed, "count failed", err).WithContext("collection", name)
		}
		total += n
	}
	return int(total), nil
}

func (a *Adapter) allCollectionNames() []string {
	if a.hasher == nil {
		return []string{a.cfg.CollectionBase}
	}
	names := make([]string, a.hasher.Count())
	for i := 0; i < a.hasher.Count(); i++ {
		names[i] = a.cfg.CollectionBase + "_partition_" + itoa(i)
	}
	return names
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// Close releases this adapter's hold on the shared client.
func (a *Adapter) Close() error {
	return a.conn.Close()
}

// --- passthrough overrides of the cache-backed defaults ---------------
//
// The document store is itself the system of record: Get/Set/Delete above
// talk to Mongo directly rather than through CacheAdapter's in-memory map.
// Go's embedding does not give virtual dispatch, so CacheAdapter's
// GetMany/SetMany/DeleteMany/Keys/Values/Entries (which call the embedded
// type's own Get/Set/Delete) would silently operate on the unused empty
// cache instead of Mongo. The methods below shadow them with the same
// bounded-fan-out shape, wired to this adapter's own Get/Set/Delete.

func (a *Adapter) GetMany(ctx context.Context, keys []string) (map[string]interface{}, error) {
	results := make(map[string]interface{})
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.batchConcurrency())
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

func (a *Adapter) SetMany(ctx context.Context, entries map[string]interface{}) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.batchConcurrency())
	for key, value := range entries {
		key, value := key, value
		g.Go(func() error { return a.Set(gctx, key, value) })
	}
	return g.Wait()
}

func (a *Adapter) DeleteMany(ctx context.Context, keys []string) (int, error) {
	var count int64
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.batchConcurrency())
	for _, key := range keys {
		key := key
		g.Go(func() error {
			ok, err := a.Delete(gctx, key)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				count++
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return int(count), nil
}

func (a *Adapter) batchConcurrency() int { return 8 }

func (a *Adapter) Batch(ctx context.Context, ops []storage.Operation[interface{}]) (storage.BatchResult, error) {
	result := storage.BatchResult{Operations: len(ops)}
	for _, op := range ops {
		var err error
		switch op.Kind {
		case storage.OpSet:
			err = a.Set(ctx, op.Key, op.Value)
		case storage.OpDelete:
			_, err = a.Delete(ctx, op.Key)
		case storage.OpClear:
			err = a.Clear(ctx)
		default:
			err = storeerrors.InvalidValue("unknown batch operation kind")
		}
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
	}
	result.Success = len(result.Errors) == 0
	return result, nil
}

type documentIterator struct {
	cursor *mongo.Cursor
}

func (it *documentIterator) Next(ctx context.Context) (storage.Entry[interface{}], bool, error) {
	if !it.cursor.Next(ctx) {
		return storage.Entry[interface{}]{}, false, it.cursor.Err()
	}
	var row documentRow
	if err := it.cursor.Decode(&row); err != nil {
		return storage.Entry[interface{}]{}, false, err
	}
	value := row.Value
	if s, ok := row.Value.(string); ok {
		value = typemapper.FromStorage(s)
	}
	return storage.Entry[interface{}]{Key: row.Key, Value: value}, true, nil
}

// Entries reads every document across every partition collection through a
// Mongo cursor, collecting them all before it returns, and hands back an
// iterator over the collected entries.
func (a *Adapter) Entries(ctx context.Context) (storage.Iterator[storage.Entry[interface{}]], error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	names := a.allCollectionNames()
	var merged []storage.Entry[interface{}]
	for _, name := range names {
		coll := a.client.Database(a.cfg.Database).Collection(name)
		cursor, err := coll.Find(ctx, bson.M{})
		if err != nil {
			return nil, storeerrors.Wrap(storeerrors.KindQueryFailed, "entries scan failed", err).WithContext("collection", name)
		}
		it := &documentIterator{cursor: cursor}
		for {
			e, ok, err := it.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			merged = append(merged, e)
		}
		_ = cursor.Close(ctx)
	}
	return &sliceEntryIterator{items: merged}, nil
}

type sliceEntryIterator struct {
	items []storage.Entry[interface{}]
	pos   int
}

func (it *sliceEntryIterator) Next(ctx context.Context) (storage.Entry[interface{}], bool, error) {
	if it.pos >= len(it.items) {
		return storage.Entry[interface{}]{}, false, nil
	}
	item := it.items[it.pos]
	it.pos++
	return item, true, nil
}

func (a *Adapter) Keys(ctx context.Context) (storage.Iterator[string], error) {
	entries, err := a.Entries(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	for {
		e, ok, err := entries.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		keys = append(keys, e.Key)
	}
	return &sliceKeyIterator{items: keys}, nil
}

type sliceKeyIterator struct {
	items []string
	pos   int
}

func (it *sliceKeyIterator) Next(ctx context.Context) (string, bool, error) {
	if it.pos >= len(it.items) {
		return "", false, nil
	}
	item := it.items[it.pos]
	it.pos++
	return item, true, nil
}

func (a *Adapter) Values(ctx context.Context) (storage.Iterator[interface{}], error) {
	entries, err := a.Entries(ctx)
	if err != nil {
		return nil, err
	}
	var values []interface{}
	for {
		e, ok, err := entries.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		values = append(values, e.Value)
	}
	return &sliceValueIterator{items: values}, nil
}

type sliceValueIterator struct {
	items []interface{}
	pos   int
}

func (it *sliceValueIterator) Next(ctx context.Context) (interface{}, bool, error) {
	if it.pos >= len(it.items) {
		return nil, false, nil
	}
	item := it.items[it.pos]
	it.pos++
	return item, true, nil
}
