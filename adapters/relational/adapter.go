// Package relational implements the relational-plus-vector backend of
// spec.md §4.1-§4.9 and §6 on top of Postgres (pgx) with pgvector for the
// vector-extension capability, plus the graph traversal engine in
// internal/traversal run as recursive SQL over an edges table. Grounded on
// backend's infrastructure/persistence/dynamodb/generic_repository.go for
// the CRUD/cache shape and backend2's RepositoryAbstraction for the
// capability surface, both generalized from DynamoDB to SQL.
package relational

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/polystore-io/polystore/internal/columnario"
	"github.com/polystore-io/polystore/internal/connection"
	"github.com/polystore-io/polystore/internal/identifier"
	"github.com/polystore-io/polystore/internal/schema"
	"github.com/polystore-io/polystore/internal/semanticquery"
	"github.com/polystore-io/polystore/internal/sqlgen"
	"github.com/polystore-io/polystore/internal/traversal"
	"github.com/polystore-io/polystore/internal/typemapper"
	storeerrors "github.com/polystore-io/polystore/pkg/errors"
	"github.com/polystore-io/polystore/storage"
)

// Config configures an Adapter.
type Config struct {
	DSN                  string `validate:"required"`
	Table                string `validate:"required"`
	NodesTable           string `validate:"omitempty"`
	EdgesTable           string `validate:"omitempty"`
	EnableColumnarExport bool
}

var configValidator = validator.New()

// Validate checks cfg against its validate tags.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return storeerrors.Wrap(storeerrors.KindInvalidValue, "invalid relational config", err)
	}
	return nil
}

// Adapter is the relational+vector backend, implementing Storage[interface{}],
// BatchStorage[interface{}], SaveableStorage, SemanticStorage, VectorStorage and
// GraphStorage (the last via internal/traversal's recursive-CTE engine).
type Adapter struct {
	*storage.CacheAdapter[interface{}]

	cfg     Config
	conn    *connection.Manager
	logger  *zap.Logger
	pool     *pgxpool.Pool
	schema   *schema.Manager
	columns  *columnario.IO
	engine   *traversal.Engine
	activeTx pgx.Tx
}

// New builds a relational Adapter.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := identifier.Validate(cfg.Table); err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, logger: logger}
	a.conn = connection.NewManager(cfg.DSN, a.open, a.close)
	a.CacheAdapter = storage.NewCacheAdapter[interface{}](logger, a.ensureLoaded, nil,
		a.beginTx, a.commitTx, a.rollbackTx)
	a.columns = columnario.New(cfg.EnableColumnarExport, a.exec, a.countRows)
	a.engine = traversal.NewEngine(a.runRecursive, a.fetchNodes, a.fetchEdges)
	return a, nil
}

func (a *Adapter) open(ctx context.Context, dsn string) (interface{}, error) {
	return pgxpool.New(ctx, dsn)
}

func (a *Adapter) close(handle interface{}) error {
	handle.(*pgxpool.Pool).Close()
	return nil
}

func (a *Adapter) ensureLoaded(ctx context.Context) error {
	handle, err := a.conn.GetDatabase(ctx)
	if err != nil {
		return err
	}
	a.pool = handle.(*pgxpool.Pool)

	a.schema = schema.New(a.cfg.DSN, a.cfg.Table, a.execDDL, a.loadAll, alreadyExists, a.logger)
	stmt, err := sqlgen.CreateTable(a.cfg.Table)
	if err != nil {
		return err
	}
	return a.schema.CreateSchema(ctx, []string{stmt.SQL})
}

func alreadyExists(err error) bool {
	var pgErr interface{ SQLState() string }
	if ok := asPgError(err, &pgErr); ok {
		return pgErr.SQLState() == "42P07" || pgErr.SQLState() == "42710"
	}
	return false
}

func asPgError(err error, target *interface{ SQLState() string }) bool {
	type sqlStater interface{ SQLState() string }
	for err != nil {
		if s, ok := err.(sqlStater); ok {
			*target = s
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// execDDL matches schema.Executor's fixed (ctx, sql) shape; schema.Manager
// never needs bound parameters since DDL text is already fully rendered.
func (a *Adapter) execDDL(ctx context.Context, sql string) error {
	return a.exec(ctx, sql)
}

func (a *Adapter) exec(ctx context.Context, sql string, params ...interface{}) error {
	bound, err := typemapper.Bind(params)
	if err != nil {
		return err
	}
	_, err = a.pool.Exec(ctx, typemapper.ConvertPlaceholders(sql), bound...)
	return err
}

func (a *Adapter) countRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := a.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n)
	return n, err
}

func (a *Adapter) loadAll(ctx context.Context) (map[string]interface{}, error) {
	stmt, err := sqlgen.LoadAll(a.cfg.Table)
	if err != nil {
		return nil, err
	}
	rows, err := a.pool.Query(ctx, stmt.SQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]interface{}{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = typemapper.FromStorage(value)
	}
	return out, rows.Err()
}

func (a *Adapter) beginTx(ctx context.Context) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	a.activeTx = tx
	return nil
}

func (a *Adapter) commitTx(ctx context.Context) error {
	if a.activeTx == nil {
		return nil
	}
	err := a.activeTx.Commit(ctx)
	a.activeTx = nil
	return err
}

func (a *Adapter) rollbackTx(ctx context.Context) error {
	if a.activeTx == nil {
		return nil
	}
	err := a.activeTx.Rollback(ctx)
	a.activeTx = nil
	return err
}

// --- Storage[interface{}] / BatchStorage[interface{}] ------------------

func (a *Adapter) Get(ctx context.Context, key string) (interface{}, bool, error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return nil, false, err
	}
	stmt, err := sqlgen.Get(a.cfg.Table)
	if err != nil {
		return nil, false, err
	}
	var value string
	err = a.pool.QueryRow(ctx, typemapper.ConvertPlaceholders(stmt.SQL), key).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeerrors.Wrap(storeerrors.KindQueryFailed, "get failed", err).WithContext("key", key)
	}
	return typemapper.FromStorage(value), true, nil
}

func (a *Adapter) Set(ctx context.Context, key string, value interface{}) error {
	if err := a.EnsureLoaded(ctx); err != nil {
		return err
	}
	stored, err := typemapper.ToStorage(value)
	if err != nil {
		return err
	}
	stmt, err := sqlgen.Upsert(a.cfg.Table, key, stored)
	if err != nil {
		return err
	}
	if _, err := a.pool.Exec(ctx, typemapper.ConvertPlaceholders(stmt.SQL), stmt.Params...); err != nil {
		return storeerrors.Wrap(storeerrors.KindWriteFailed, "upsert failed", err).WithContext("key", key)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, key string) (bool, error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return false, err
	}
	stmt, err := sqlgen.Delete(a.cfg.Table, key)
	if err != nil {
		return false, err
	}
	tag, err := a.pool.Exec(ctx, typemapper.ConvertPlaceholders(stmt.SQL), stmt.Params...)
	if err != nil {
		return false, storeerrors.Wrap(storeerrors.KindDeleteFailed, "delete failed", err).WithContext("key", key)
	}
	return tag.RowsAffected() > 0, nil
}

func (a *Adapter) Has(ctx context.Context, key string) (bool, error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return false, err
	}
	stmt, err := sqlgen.Exists(a.cfg.Table, key)
	if err != nil {
		return false, err
	}
	var exists bool
	err = a.pool.QueryRow(ctx, typemapper.ConvertPlaceholders(stmt.SQL), stmt.Params...).Scan(&exists)
	return exists, err
}

func (a *Adapter) Clear(ctx context.Context) error {
	if err := a.EnsureLoaded(ctx); err != nil {
		return err
	}
	stmt, err := sqlgen.Clear(a.cfg.Table)
	if err != nil {
		return err
	}
	_, err = a.pool.Exec(ctx, stmt.SQL)
	return err
}

func (a *Adapter) Size(ctx context.Context) (int, error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return 0, err
	}
	n, err := a.countRows(ctx, a.cfg.Table)
	return int(n), err
}

// --- SemanticStorage -----------------------------------------------------

func (a *Adapter) Query(ctx context.Context, q storage.SemanticQuery) storage.Envelope {
	if err := a.EnsureLoaded(ctx); err != nil {
		return semanticquery.Failure(err)
	}
	stmt, err := semanticquery.Build(q)
	if err != nil {
		return semanticquery.Failure(err)
	}
	return a.execEnvelope(ctx, stmt.SQL, stmt.Params)
}

func (a *Adapter) ExecuteSQL(ctx context.Context, sql string, params []interface{}) storage.Envelope {
	if err := a.EnsureLoaded(ctx); err != nil {
		return semanticquery.Failure(err)
	}
	return a.execEnvelope(ctx, sql, params)
}

func (a *Adapter) execEnvelope(ctx context.Context, sql string, params []interface{}) storage.Envelope {
	bound, err := typemapper.Bind(params)
	if err != nil {
		return semanticquery.Failure(err)
	}
	rows, err := a.pool.Query(ctx, typemapper.ConvertPlaceholders(sql), bound...)
	if err != nil {
		return semanticquery.Failure(storeerrors.Wrap(storeerrors.KindQueryFailed, "query failed", err))
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var data []map[string]interface{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return semanticquery.Failure(err)
		}
		row := make(map[string]interface{}, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return semanticquery.Failure(err)
	}
	return storage.Envelope{Data: data, Metadata: semanticquery.Metadata{RowsScanned: int64(len(data))}}
}

func (a *Adapter) Aggregate(ctx context.Context, table string, op semanticquery.AggOperator, field string, filters []semanticquery.Filter) storage.Envelope {
	return a.Query(ctx, storage.SemanticQuery{From: table, Aggregations: []semanticquery.Aggregation{{Operator: op, Field: field}}, Where: filters})
}

func (a *Adapter) GroupBy(ctx context.Context, table string, keys []string, aggs []semanticquery.Aggregation, filters []semanticquery.Filter) storage.Envelope {
	return a.Query(ctx, storage.SemanticQuery{From: table, Select: keys, GroupBy: keys, Aggregations: aggs, Where: filters})
}

func (a *Adapter) CreateMaterializedView(ctx context.Context, name string, q storage.SemanticQuery) error {
	if err := identifier.Validate(name); err != nil {
		return err
	}
	stmt, err := semanticquery.Build(q)
	if err != nil {
		return err
	}
	return a.exec(ctx, fmt.Sprintf("CREATE MATERIALIZED VIEW IF NOT EXISTS %s AS %s", name, stmt.SQL), stmt.Params...)
}

func (a *Adapter) RefreshMaterializedView(ctx context.Context, name string) error {
	if err := identifier.Validate(name); err != nil {
		return err
	}
	return a.exec(ctx, fmt.Sprintf("REFRESH MATERIALIZED VIEW %s", name))
}

func (a *Adapter) QueryMaterializedView(ctx context.Context, name string) storage.Envelope {
	if err := identifier.Validate(name); err != nil {
		return semanticquery.Failure(err)
	}
	return a.execEnvelope(ctx, fmt.Sprintf("SELECT * FROM %s", name), nil)
}

func (a *Adapter) DropMaterializedView(ctx context.Context, name string) error {
	if err := identifier.Validate(name); err != nil {
		return err
	}
	return a.exec(ctx, fmt.Sprintf("DROP MATERIALIZED VIEW IF EXISTS %s", name))
}

func (a *Adapter) ListMaterializedViews(ctx context.Context) ([]string, error) {
	rows, err := a.pool.Query(ctx, "SELECT matviewname FROM pg_matviews")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (a *Adapter) CreateSearchIndex(ctx context.Context, table, column string) error {
	if err := identifier.Validate(table); err != nil {
		return err
	}
	if err := identifier.Validate(column); err != nil {
		return err
	}
	indexName := fmt.Sprintf("%s_%s_fts_idx", table, column)
	return a.exec(ctx, fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (to_tsvector('english', %s))", indexName, table, column))
}

func (a *Adapter) Search(ctx context.Context, table, query string, limit int) storage.Envelope {
	if err := identifier.Validate(table); err != nil {
		return semanticquery.Failure(err)
	}
	sql := fmt.Sprintf("SELECT * FROM %s WHERE to_tsvector('english', value) @@ plainto_tsquery(?) LIMIT ?", table)
	return a.execEnvelope(ctx, sql, []interface{}{query, limit})
}

func (a *Adapter) DropSearchIndex(ctx context.Context, table, column string) error {
	indexName := fmt.Sprintf("%s_%s_fts_idx", table, column)
	stmt, err := sqlgen.DropIndex(indexName)
	if err != nil {
		return err
	}
	return a.exec(ctx, stmt.SQL)
}

func (a *Adapter) DefineSchema(ctx context.Context, table string, columns map[string]string) error {
	if err := identifier.Validate(table); err != nil {
		return err
	}
	defs := ""
	i := 0
	for col, typ := range columns {
		if err := identifier.Validate(col); err != nil {
			return err
		}
		if i > 0 {
			defs += ", "
		}
		defs += fmt.Sprintf("%s %s", col, typ)
		i++
	}
	return a.exec(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, defs))
}

func (a *Adapter) GetSchema(ctx context.Context, table string) (map[string]string, error) {
	if err := identifier.Validate(table); err != nil {
		return nil, err
	}
	rows, err := a.pool.Query(ctx,
		"SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var col, typ string
		if err := rows.Scan(&col, &typ); err != nil {
			return nil, err
		}
		out[col] = typ
	}
	return out, rows.Err()
}

func (a *Adapter) ExportToColumnar(ctx context.Context, query, path string) error {
	return a.columns.Export(ctx, query, path)
}

func (a *Adapter) ImportFromColumnar(ctx context.Context, table, path string) (storage.ImportResult, error) {
	r, err := a.columns.Import(ctx, table, path)
	return storage.ImportResult(r), err
}

func (a *Adapter) QueryColumnar(ctx context.Context, path, query string) storage.Envelope {
	return semanticquery.Failure(storeerrors.NotImplemented("columnar file querying is not supported by the relational backend; use the columnar-SQL backend"))
}

func (a *Adapter) ExplainQuery(ctx context.Context, q storage.SemanticQuery) (string, error) {
	stmt, err := semanticquery.Build(q)
	if err != nil {
		return "", err
	}
	var plan string
	row := a.pool.QueryRow(ctx, "EXPLAIN "+stmt.SQL, stmt.Params...)
	if err := row.Scan(&plan); err != nil {
		return "", err
	}
	return plan, nil
}

// --- VectorStorage ---------------------------------------------------------

func (a *Adapter) CreateVectorIndex(ctx context.Context, table, column string, kind storage.VectorIndexKind, params storage.VectorIndexParams) (storage.VectorIndexKind, bool, error) {
	if err := identifier.Validate(table); err != nil {
		return "", false, err
	}
	if err := identifier.Validate(column); err != nil {
		return "", false, err
	}
	indexName := fmt.Sprintf("%s_%s_vec_idx", table, column)
	tryCreate := func(method string, opts string) error {
		return a.exec(ctx, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s USING %s (%s vector_cosine_ops) %s",
			indexName, table, method, column, opts))
	}

	switch kind {
	case storage.VectorIndexHNSW:
		if err := tryCreate("hnsw", fmt.Sprintf("WITH (m = %d, ef_construction = %d)", params.HNSWM, params.HNSWEfConstruction)); err != nil {
			if err := tryCreate("ivfflat", fmt.Sprintf("WITH (lists = %d)", params.IVFLists)); err != nil {
				return "", false, storeerrors.Wrap(storeerrors.KindWriteFailed, "vector index creation failed", err)
			}
			return storage.VectorIndexIVFFlat, true, nil
		}
		return storage.VectorIndexHNSW, false, nil
	default:
		if err := tryCreate("ivfflat", fmt.Sprintf("WITH (lists = %d)", params.IVFLists)); err != nil {
			if err := tryCreate("hnsw", fmt.Sprintf("WITH (m = %d, ef_construction = %d)", params.HNSWM, params.HNSWEfConstruction)); err != nil {
				return "", false, storeerrors.Wrap(storeerrors.KindWriteFailed, "vector index creation failed", err)
			}
			return storage.VectorIndexHNSW, true, nil
		}
		return storage.VectorIndexIVFFlat, false, nil
	}
}

func (a *Adapter) DropVectorIndex(ctx context.Context, table, column string) error {
	indexName := fmt.Sprintf("%s_%s_vec_idx", table, column)
	stmt, err := sqlgen.DropIndex(indexName)
	if err != nil {
		return err
	}
	return a.exec(ctx, stmt.SQL)
}

func (a *Adapter) ListVectorIndexes(ctx context.Context, table string) ([]string, error) {
	if err := identifier.Validate(table); err != nil {
		return nil, err
	}
	rows, err := a.pool.Query(ctx, "SELECT indexname FROM pg_indexes WHERE tablename = $1", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func distanceOperator(metric storage.DistanceMetric) string {
	switch metric {
	case storage.MetricEuclidean:
		return "<->"
	case storage.MetricInnerProduct:
		return "<#>"
	default:
		return "<=>"
	}
}

// buildVectorSearchSQL renders VectorSearch's `?`-placeholder SQL and
// positional parameters. opts.Filters and opts.Threshold are parameterized
// (spec.md §4.11); only the distance operator (a fixed enum) and the table
// name (already identifier-validated by the caller) enter the statement
// body as literal text.
func buildVectorSearchSQL(table string, vector pgvector.Vector, opts storage.VectorSearchOptions) (string, []interface{}, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	op := distanceOperator(opts.Metric)

	sql := fmt.Sprintf("SELECT *, embedding %s ? AS distance FROM %s", op, table)
	params := []interface{}{vector}

	var conditions []string
	if len(opts.Filters) > 0 {
		clause, filterParams, err := semanticquery.BuildWhere(opts.Filters)
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, clause)
		params = append(params, filterParams...)
	}
	if opts.Threshold != nil {
		// WHERE cannot reference the "distance" SELECT alias in Postgres, so
		// the distance expression is parameterized again here rather than
		// referenced by name.
		conditions = append(conditions, fmt.Sprintf("(embedding %s ?) <= ?", op))
		params = append(params, vector, *opts.Threshold)
	}
	if len(conditions) > 0 {
		sql += " WHERE " + strings.Join(conditions, " AND ")
	}
	sql += " ORDER BY distance LIMIT ?"
	params = append(params, limit)

	return sql, params, nil
}

// VectorSearch ranks table by distance to queryVector under opts.Metric.
// opts.Filters narrow the candidate rows and opts.Threshold bounds the
// distance itself; both are parameterized (spec.md §4.11) rather than
// spliced into the statement text, and the query vector is bound as a
// parameter too — only the distance operator (chosen from a fixed enum) and
// the validated table name enter the statement body directly.
func (a *Adapter) VectorSearch(ctx context.Context, table string, queryVector []float32, opts storage.VectorSearchOptions) ([]map[string]interface{}, error) {
	if err := identifier.Validate(table); err != nil {
		return nil, err
	}
	sql, params, err := buildVectorSearchSQL(table, pgvector.NewVector(queryVector), opts)
	if err != nil {
		return nil, err
	}

	rows, err := a.pool.Query(ctx, typemapper.ConvertPlaceholders(sql), params...)
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindQueryFailed, "vector search failed", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]interface{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (a *Adapter) InsertWithEmbedding(ctx context.Context, table string, row map[string]interface{}, embedding []float32) error {
	if err := identifier.Validate(table); err != nil {
		return err
	}
	cols := make([]string, 0, len(row)+1)
	placeholders := make([]string, 0, len(row)+1)
	params := make([]interface{}, 0, len(row)+1)
	i := 1
	for col, val := range row {
		if err := identifier.Validate(col); err != nil {
			return err
		}
		cols = append(cols, col)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
		params = append(params, val)
		i++
	}
	cols = append(cols, "embedding")
	placeholders = append(placeholders, fmt.Sprintf("$%d", i))
	params = append(params, pgvector.NewVector(embedding))

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table,
		joinIdentifiers(cols), joinIdentifiers(placeholders))
	_, err := a.pool.Exec(ctx, sql, params...)
	return err
}

func joinIdentifiers(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// --- GraphStorage (graph-shaped tables on the same relational backend) ----
//
// spec.md §4.8 describes the traversal engine as "recursive set operations
// over a relational backend": here that backend is this adapter's own pool,
// with nodes/edges kept in two plain tables rather than a native graph
// engine. Grounded on internal/traversal.Engine, which this adapter supplies
// with the three backend-specific callbacks it needs.

func (a *Adapter) ensureGraphSchema(ctx context.Context) error {
	if err := identifier.Validate(a.cfg.NodesTable); err != nil {
		return err
	}
	if err := identifier.Validate(a.cfg.EdgesTable); err != nil {
		return err
	}
	nodesDDL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY, type TEXT NOT NULL, properties TEXT NOT NULL
	)`, a.cfg.NodesTable)
	edgesDDL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		from_id TEXT NOT NULL, to_id TEXT NOT NULL, type TEXT NOT NULL, properties TEXT NOT NULL,
		PRIMARY KEY (from_id, to_id, type)
	)`, a.cfg.EdgesTable)
	return a.schema.CreateSchema(ctx, []string{nodesDDL, edgesDDL})
}

func (a *Adapter) AddNode(ctx context.Context, node storage.Node) error {
	if err := a.EnsureLoaded(ctx); err != nil {
		return err
	}
	if err := a.ensureGraphSchema(ctx); err != nil {
		return err
	}
	props, err := typemapper.ToStorage(node.Properties)
	if err != nil {
		return err
	}
	sql := fmt.Sprintf(`INSERT INTO %s (id, type, properties) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET type = EXCLUDED.type, properties = EXCLUDED.properties`, a.cfg.NodesTable)
	_, err = a.pool.Exec(ctx, sql, node.ID, node.Type, props)
	return err
}

func (a *Adapter) GetNode(ctx context.Context, id string) (*storage.Node, error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	var typ, props string
	err := a.pool.QueryRow(ctx, fmt.Sprintf("SELECT type, properties FROM %s WHERE id = $1", a.cfg.NodesTable), id).
		Scan(&typ, &props)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	decoded, _ := typemapper.FromStorage(props).(map[string]interface{})
	return &storage.Node{ID: id, Type: typ, Properties: decoded}, nil
}

func (a *Adapter) UpdateNode(ctx context.Context, node storage.Node) error {
	return a.AddNode(ctx, node)
}

func (a *Adapter) DeleteNode(ctx context.Context, id string) (bool, error) {
	tag, err := a.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", a.cfg.NodesTable), id)
	if err != nil {
		return false, err
	}
	_, _ = a.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE from_id = $1 OR to_id = $1", a.cfg.EdgesTable), id)
	return tag.RowsAffected() > 0, nil
}

func (a *Adapter) QueryNodes(ctx context.Context, nodeType string) ([]storage.Node, error) {
	rows, err := a.pool.Query(ctx, fmt.Sprintf("SELECT id, properties FROM %s WHERE type = $1", a.cfg.NodesTable), nodeType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var nodes []storage.Node
	for rows.Next() {
		var id, props string
		if err := rows.Scan(&id, &props); err != nil {
			return nil, err
		}
		decoded, _ := typemapper.FromStorage(props).(map[string]interface{})
		nodes = append(nodes, storage.Node{ID: id, Type: nodeType, Properties: decoded})
	}
	return nodes, rows.Err()
}

func (a *Adapter) AddEdge(ctx context.Context, edge storage.Edge) error {
	if err := a.ensureGraphSchema(ctx); err != nil {
		return err
	}
	props, err := typemapper.ToStorage(edge.Properties)
	if err != nil {
		return err
	}
	sql := fmt.Sprintf(`INSERT INTO %s (from_id, to_id, type, properties) VALUES ($1, $2, $3, $4)
		ON CONFLICT (from_id, to_id, type) DO UPDATE SET properties = EXCLUDED.properties`, a.cfg.EdgesTable)
	_, err = a.pool.Exec(ctx, sql, edge.From, edge.To, edge.Type, props)
	return err
}

func (a *Adapter) GetEdge(ctx context.Context, from, to, edgeType string) (*storage.Edge, error) {
	var props string
	sql := fmt.Sprintf("SELECT properties FROM %s WHERE from_id = $1 AND to_id = $2 AND type = $3", a.cfg.EdgesTable)
	err := a.pool.QueryRow(ctx, sql, from, to, edgeType).Scan(&props)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	decoded, _ := typemapper.FromStorage(props).(map[string]interface{})
	return &storage.Edge{From: from, To: to, Type: edgeType, Properties: decoded}, nil
}

func (a *Adapter) GetEdges(ctx context.Context, nodeID string, edgeTypes []string) ([]storage.Edge, error) {
	sql := fmt.Sprintf("SELECT from_id, to_id, type, properties FROM %s WHERE (from_id = $1 OR to_id = $1)", a.cfg.EdgesTable)
	args := []interface{}{nodeID}
	if len(edgeTypes) > 0 {
		sql += " AND type = ANY($2)"
		args = append(args, edgeTypes)
	}
	rows, err := a.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var edges []storage.Edge
	for rows.Next() {
		var from, to, typ, props string
		if err := rows.Scan(&from, &to, &typ, &props); err != nil {
			return nil, err
		}
		decoded, _ := typemapper.FromStorage(props).(map[string]interface{})
		edges = append(edges, storage.Edge{From: from, To: to, Type: typ, Properties: decoded})
	}
	return edges, rows.Err()
}

func (a *Adapter) UpdateEdge(ctx context.Context, edge storage.Edge) error {
	return a.AddEdge(ctx, edge)
}

func (a *Adapter) DeleteEdge(ctx context.Context, from, to, edgeType string) (bool, error) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE from_id = $1 AND to_id = $2 AND type = $3", a.cfg.EdgesTable)
	tag, err := a.pool.Exec(ctx, sql, from, to, edgeType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// runRecursive issues the one recursive CTE that enumerates every path up to
// maxDepth, with cycle avoidance via the accumulated id array and an
// in-query LIMIT (spec.md §4.8's "exactly one recursive query").
func (a *Adapter) runRecursive(ctx context.Context, start string, direction storage.Direction, edgeTypes []string, maxDepth, limit int) (paths []traversal.RawPath, err error) {
	directionClause := "e.from_id = p.last_id"
	switch direction {
	case storage.DirectionIncoming:
		directionClause = "e.to_id = p.last_id"
	case storage.DirectionBoth:
		directionClause = "(e.from_id = p.last_id OR e.to_id = p.last_id)"
	}
	typeClause := ""
	args := []interface{}{start, maxDepth, limit}
	if len(edgeTypes) > 0 {
		typeClause = " AND e.type = ANY($4)"
		args = append(args, edgeTypes)
	}

	sql := fmt.Sprintf(`
		WITH RECURSIVE walk(path_ids, last_id, depth) AS (
			SELECT ARRAY[$1::text], $1::text, 0
			UNION ALL
			SELECT p.path_ids || next_id, next_id, p.depth + 1
			FROM walk p
			JOIN LATERAL (
				SELECT CASE WHEN e.from_id = p.last_id THEN e.to_id ELSE e.from_id END AS next_id, e.from_id, e.to_id
				FROM %s e
				WHERE %s%s
			) e ON NOT (e.from_id = ANY(p.path_ids) AND e.to_id = ANY(p.path_ids))
			WHERE p.depth < $2 AND NOT e.next_id = ANY(p.path_ids)
		)
		SELECT path_ids, depth FROM walk WHERE depth > 0 ORDER BY depth LIMIT $3`,
		a.cfg.EdgesTable, directionClause, typeClause)

	rows, err := a.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ids []string
		var depth int
		if err := rows.Scan(&ids, &depth); err != nil {
			return nil, err
		}
		pairs := make([][2]string, 0, len(ids)-1)
		for i := 0; i+1 < len(ids); i++ {
			pairs = append(pairs, [2]string{ids[i], ids[i+1]})
		}
		paths = append(paths, traversal.RawPath{NodeIDs: ids, EdgePairs: pairs, Length: depth})
	}
	return paths, rows.Err()
}

func (a *Adapter) fetchNodes(ctx context.Context, ids []string) (map[string]storage.Node, error) {
	if len(ids) == 0 {
		return map[string]storage.Node{}, nil
	}
	rows, err := a.pool.Query(ctx, fmt.Sprintf("SELECT id, type, properties FROM %s WHERE id = ANY($1)", a.cfg.NodesTable), ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]storage.Node{}
	for rows.Next() {
		var id, typ, props string
		if err := rows.Scan(&id, &typ, &props); err != nil {
			return nil, err
		}
		decoded, _ := typemapper.FromStorage(props).(map[string]interface{})
		out[id] = storage.Node{ID: id, Type: typ, Properties: decoded}
	}
	return out, rows.Err()
}

// fetchEdges looks up the edge for each (from, to) pair in either
// orientation. It issues one query per pair, not a single OR-list query
// covering every pair.
func (a *Adapter) fetchEdges(ctx context.Context, pairs [][2]string) (map[[2]string]storage.Edge, error) {
	out := map[[2]string]storage.Edge{}
	for _, pair := range pairs {
		var typ, props string
		sql := fmt.Sprintf(`SELECT type, properties FROM %s
			WHERE (from_id = $1 AND to_id = $2) OR (from_id = $2 AND to_id = $1) LIMIT 1`, a.cfg.EdgesTable)
		err := a.pool.QueryRow(ctx, sql, pair[0], pair[1]).Scan(&typ, &props)
		if err == pgx.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		decoded, _ := typemapper.FromStorage(props).(map[string]interface{})
		out[pair] = storage.Edge{From: pair[0], To: pair[1], Type: typ, Properties: decoded}
	}
	return out, nil
}

func (a *Adapter) Traverse(ctx context.Context, pattern storage.TraversalPattern, resultLimit int) ([]storage.Path, error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	return a.engine.Traverse(ctx, pattern, resultLimit)
}

func (a *Adapter) FindConnected(ctx context.Context, start string, depth, resultLimit int) ([]storage.Node, error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	return a.engine.FindConnected(ctx, start, depth, resultLimit)
}

func (a *Adapter) ShortestPath(ctx context.Context, from, to string, maxDepth, resultLimit int) (*storage.Path, error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	return a.engine.ShortestPath(ctx, from, to, maxDepth, resultLimit)
}

func (a *Adapter) PatternMatch(ctx context.Context, nodeType string, edgeTypes []string, maxDepth int) ([]storage.Path, error) {
	return nil, storeerrors.NotImplemented("pattern_match is not implemented on the relational backend")
}

func (a *Adapter) BatchGraphOperations(ctx context.Context, nodes []storage.Node, edges []storage.Edge) (storage.BatchResult, error) {
	result := storage.BatchResult{Operations: len(nodes) + len(edges)}
	err := a.InTransaction(ctx, func(ctx context.Context) error {
		for _, n := range nodes {
			if err := a.AddNode(ctx, n); err != nil {
				return err
			}
		}
		for _, e := range edges {
			if err := a.AddEdge(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	result.Success = err == nil
	if err != nil {
		result.Errors = append(result.Errors, err)
	}
	return result, err
}

func (a *Adapter) StoreEntity(ctx context.Context, node storage.Node, edges []storage.Edge) error {
	_, err := a.BatchGraphOperations(ctx, []storage.Node{node}, edges)
	return err
}

type nodeIterator struct {
	nodes []storage.Node
	pos   int
}

func (it *nodeIterator) Next(ctx context.Context) (storage.Node, bool, error) {
	if it.pos >= len(it.nodes) {
		return storage.Node{}, false, nil
	}
	n := it.nodes[it.pos]
	it.pos++
	return n, true, nil
}

func (a *Adapter) StreamEpisodes(ctx context.Context, nodeType string) (storage.Iterator[storage.Node], error) {
	nodes, err := a.QueryNodes(ctx, nodeType)
	if err != nil {
		return nil, err
	}
	return &nodeIterator{nodes: nodes}, nil
}

func (a *Adapter) FindByPattern(ctx context.Context, propertyFilters map[string]interface{}) ([]storage.Node, error) {
	sql := fmt.Sprintf("SELECT id, type, properties FROM %s WHERE properties::jsonb @> $1", a.cfg.NodesTable)
	encoded, err := typemapper.ToStorage(propertyFilters)
	if err != nil {
		return nil, err
	}
	rows, err := a.pool.Query(ctx, sql, encoded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var nodes []storage.Node
	for rows.Next() {
		var id, typ, props string
		if err := rows.Scan(&id, &typ, &props); err != nil {
			return nil, err
		}
		decoded, _ := typemapper.FromStorage(props).(map[string]interface{})
		nodes = append(nodes, storage.Node{ID: id, Type: typ, Properties: decoded})
	}
	return nodes, rows.Err()
}

func (a *Adapter) CreateIndex(ctx context.Context, onProperty string) error {
	if err := identifier.Validate(onProperty); err != nil {
		return err
	}
	return a.exec(ctx, fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s_%s_idx ON %s ((properties::jsonb ->> '%s'))",
		a.cfg.NodesTable, onProperty, a.cfg.NodesTable, onProperty))
}

func (a *Adapter) ListIndexes(ctx context.Context) ([]string, error) {
	return a.ListVectorIndexes(ctx, a.cfg.NodesTable)
}

func (a *Adapter) GetGraphStats(ctx context.Context) (storage.GraphStats, error) {
	var nodeCount, edgeCount int64
	if err := a.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", a.cfg.NodesTable)).Scan(&nodeCount); err != nil {
		return storage.GraphStats{}, err
	}
	if err := a.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", a.cfg.EdgesTable)).Scan(&edgeCount); err != nil {
		return storage.GraphStats{}, err
	}
	return storage.GraphStats{NodeCount: nodeCount, EdgeCount: edgeCount}, nil
}

// ExecuteQuery satisfies GraphStorage's raw-query escape hatch by running
// params-bound SQL rather than Cypher; callers that need this on the
// relational backend should write SQL.
func (a *Adapter) ExecuteQuery(ctx context.Context, text string, params map[string]interface{}) ([]map[string]interface{}, error) {
	positional := make([]interface{}, 0, len(params))
	for _, v := range params {
		positional = append(positional, v)
	}
	env := a.execEnvelope(ctx, text, positional)
	if len(env.Errors) > 0 {
		return nil, storeerrors.QueryFailed(env.Errors[0])
	}
	return env.Data, nil
}

// Transaction satisfies GraphStorage.Transaction by delegating to the same
// cache-backed transaction machinery used by Storage/BatchStorage.
func (a *Adapter) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return a.InTransaction(ctx, fn)
}

// Close releases this adapter's hold on the shared pool.
func (a *Adapter) Close() error {
	return a.conn.Close()
}
