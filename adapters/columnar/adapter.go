// Package columnar implements the columnar-SQL (OLAP) backend of spec.md
// §4.3 and §6 on top of DuckDB: a single-file analytical engine with native
// COPY/read_parquet support, used here for the key-value surface plus the
// full SemanticStorage capability, including the columnar export/import path
// that the relational backend deliberately declines (see its QueryColumnar).
// Grounded on adapters/relational's shape, generalized from pgx's pool/tx
// model to database/sql's *sql.DB/*sql.Tx.
package columnar

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	_ "github.com/marcboeker/go-duckdb/v2"
	"go.uber.org/zap"

	"github.com/polystore-io/polystore/internal/columnario"
	"github.com/polystore-io/polystore/internal/connection"
	"github.com/polystore-io/polystore/internal/identifier"
	"github.com/polystore-io/polystore/internal/schema"
	"github.com/polystore-io/polystore/internal/semanticquery"
	"github.com/polystore-io/polystore/internal/sqlgen"
	"github.com/polystore-io/polystore/internal/typemapper"
	storeerrors "github.com/polystore-io/polystore/pkg/errors"
	"github.com/polystore-io/polystore/storage"
)

// Config configures an Adapter. DSN is a DuckDB file path, or ":memory:" for
// an in-process database.
type Config struct {
	DSN                  string `validate:"required"`
	Table                string `validate:"required"`
	EnableColumnarExport bool
}

var configValidator = validator.New()

// Validate checks cfg against its validate tags.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return storeerrors.Wrap(storeerrors.KindInvalidValue, "invalid columnar config", err)
	}
	return nil
}

// Adapter is the columnar-SQL backend, implementing Storage[interface{}],
// BatchStorage[interface{}], SaveableStorage and SemanticStorage. It does not
// implement VectorStorage (relational-backend-only, storage/vector.go) or
// GraphStorage (implemented by the relational and graph backends).
type Adapter struct {
	*storage.CacheAdapter[interface{}]

	cfg      Config
	conn     *connection.Manager
	logger   *zap.Logger
	db       *sql.DB
	schema   *schema.Manager
	columns  *columnario.IO
	activeTx *sql.Tx

	viewsMu sync.Mutex
	views   map[string]semanticquery.Statement
}

// New builds a columnar Adapter.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := identifier.Validate(cfg.Table); err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, logger: logger, views: map[string]semanticquery.Statement{}}
	a.conn = connection.NewManager(cfg.DSN, a.open, a.close)
	a.CacheAdapter = storage.NewCacheAdapter[interface{}](logger, a.ensureLoaded, nil,
		a.beginTx, a.commitTx, a.rollbackTx)
	a.columns = columnario.New(cfg.EnableColumnarExport, a.exec, a.countRows)
	return a, nil
}

func (a *Adapter) open(ctx context.Context, dsn string) (interface{}, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (a *Adapter) close(handle interface{}) error {
	return handle.(*sql.DB).Close()
}

func (a *Adapter) ensureLoaded(ctx context.Context) error {
	handle, err := a.conn.GetDatabase(ctx)
	if err != nil {
		return err
	}
	a.db = handle.(*sql.DB)

	a.schema = schema.New(a.cfg.DSN, a.cfg.Table, a.execDDL, a.loadAll, alreadyExists, a.logger)
	stmt, err := sqlgen.CreateTable(a.cfg.Table)
	if err != nil {
		return err
	}
	return a.schema.CreateSchema(ctx, []string{stmt.SQL})
}

// alreadyExists detects DuckDB's "already exists" condition. DuckDB's Go
// driver surfaces this as a plain *errors.errorString rather than a typed
// SQLSTATE, so the check is textual rather than code-based (unlike the
// relational backend's asPgError).
func alreadyExists(err error) bool {
	return strings.Contains(err.Error(), "already exists")
}

// execDDL matches schema.Executor's fixed (ctx, sql) shape.
func (a *Adapter) execDDL(ctx context.Context, sql string) error {
	return a.exec(ctx, sql)
}

func (a *Adapter) exec(ctx context.Context, sql string, params ...interface{}) error {
	bound, err := typemapper.Bind(params)
	if err != nil {
		return err
	}
	if a.activeTx != nil {
		_, err = a.activeTx.ExecContext(ctx, sql, bound...)
		return err
	}
	_, err = a.db.ExecContext(ctx, sql, bound...)
	return err
}

func (a *Adapter) countRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n)
	return n, err
}

func (a *Adapter) loadAll(ctx context.Context) (map[string]interface{}, error) {
	stmt, err := sqlgen.LoadAll(a.cfg.Table)
	if err != nil {
		return nil, err
	}
	rows, err := a.db.QueryContext(ctx, stmt.SQL)
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
	tx, err := a.db.BeginTx(ctx, nil)
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
	err := a.activeTx.Commit()
	a.activeTx = nil
	return err
}

func (a *Adapter) rollbackTx(ctx context.Context) error {
	if a.activeTx == nil {
		return nil
	}
	err := a.activeTx.Rollback()
	a.activeTx = nil
	return err
}

func (a *Adapter) queryRow(ctx context.Context, sql string, args ...interface{}) *sql.Row {
	if a.activeTx != nil {
		return a.activeTx.QueryRowContext(ctx, sql, args...)
	}
	return a.db.QueryRowContext(ctx, sql, args...)
}

func (a *Adapter) query(ctx context.Context, sql string, args ...interface{}) (*sql.Rows, error) {
	if a.activeTx != nil {
		return a.activeTx.QueryContext(ctx, sql, args...)
	}
	return a.db.QueryContext(ctx, sql, args...)
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
	err = a.queryRow(ctx, stmt.SQL, key).Scan(&value)
	if err == sql.ErrNoRows {
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
	if err := a.exec(ctx, stmt.SQL, stmt.Params...); err != nil {
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
	had, err := a.Has(ctx, key)
	if err != nil {
		return false, err
	}
	if !had {
		return false, nil
	}
	if err := a.exec(ctx, stmt.SQL, stmt.Params...); err != nil {
		return false, storeerrors.Wrap(storeerrors.KindDeleteFailed, "delete failed", err).WithContext("key", key)
	}
	return true, nil
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
	err = a.queryRow(ctx, stmt.SQL, stmt.Params...).Scan(&exists)
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
	return a.exec(ctx, stmt.SQL)
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

func (a *Adapter) ExecuteSQL(ctx context.Context, sqlText string, params []interface{}) storage.Envelope {
	if err := a.EnsureLoaded(ctx); err != nil {
		return semanticquery.Failure(err)
	}
	return a.execEnvelope(ctx, sqlText, params)
}

// execEnvelope runs sqlText and scans every row into a map keyed by column
// name. database/sql has no analogue of pgx's FieldDescriptions+Values, so
// columns are read generically via sql.ColumnTypes and **interface{} scan
// targets.
func (a *Adapter) execEnvelope(ctx context.Context, sqlText string, params []interface{}) storage.Envelope {
	bound, err := typemapper.Bind(params)
	if err != nil {
		return semanticquery.Failure(err)
	}
	rows, err := a.query(ctx, sqlText, bound...)
	if err != nil {
		return semanticquery.Failure(storeerrors.Wrap(storeerrors.KindQueryFailed, "query failed", err))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return semanticquery.Failure(err)
	}

	var data []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return semanticquery.Failure(err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c] = values[i]
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

// CreateMaterializedView materializes q as a concrete table, since DuckDB
// has no native incrementally-refreshed materialized view; "refresh" below
// is a full drop-and-rebuild rather than an incremental update.
func (a *Adapter) CreateMaterializedView(ctx context.Context, name string, q storage.SemanticQuery) error {
	if err := identifier.Validate(name); err != nil {
		return err
	}
	stmt, err := semanticquery.Build(q)
	if err != nil {
		return err
	}
	a.viewsMu.Lock()
	a.views[name] = stmt
	a.viewsMu.Unlock()
	return a.exec(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s AS %s", name, stmt.SQL), stmt.Params...)
}

func (a *Adapter) RefreshMaterializedView(ctx context.Context, name string) error {
	if err := identifier.Validate(name); err != nil {
		return err
	}
	a.viewsMu.Lock()
	stmt, ok := a.views[name]
	a.viewsMu.Unlock()
	if !ok {
		return storeerrors.InvalidValue("unknown materialized view").WithContext("name", name)
	}
	if err := a.exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", name)); err != nil {
		return err
	}
	return a.exec(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", name, stmt.SQL), stmt.Params...)
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
	a.viewsMu.Lock()
	delete(a.views, name)
	a.viewsMu.Unlock()
	return a.exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", name))
}

func (a *Adapter) ListMaterializedViews(ctx context.Context) ([]string, error) {
	a.viewsMu.Lock()
	defer a.viewsMu.Unlock()
	names := make([]string, 0, len(a.views))
	for name := range a.views {
		names = append(names, name)
	}
	return names, nil
}

// CreateSearchIndex builds a DuckDB full-text-search index via the fts
// extension (PRAGMA create_fts_index), mirroring the relational backend's
// Postgres GIN/tsvector index at the same capability boundary.
func (a *Adapter) CreateSearchIndex(ctx context.Context, table, column string) error {
	if err := identifier.Validate(table); err != nil {
		return err
	}
	if err := identifier.Validate(column); err != nil {
		return err
	}
	if err := a.exec(ctx, "INSTALL fts"); err != nil {
		return err
	}
	if err := a.exec(ctx, "LOAD fts"); err != nil {
		return err
	}
	return a.exec(ctx, fmt.Sprintf("PRAGMA create_fts_index('%s', 'key', '%s', overwrite=1)", table, column))
}

func (a *Adapter) Search(ctx context.Context, table, query string, limit int) storage.Envelope {
	if err := identifier.Validate(table); err != nil {
		return semanticquery.Failure(err)
	}
	sqlText := fmt.Sprintf(
		`SELECT *, fts_main_%s.match_bm25(key, ?) AS score FROM %s
		 WHERE score IS NOT NULL ORDER BY score DESC LIMIT ?`, table, table)
	return a.execEnvelope(ctx, sqlText, []interface{}{query, limit})
}

func (a *Adapter) DropSearchIndex(ctx context.Context, table, column string) error {
	if err := identifier.Validate(table); err != nil {
		return err
	}
	return a.exec(ctx, fmt.Sprintf("PRAGMA drop_fts_index('%s')", table))
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
	rows, err := a.query(ctx,
		"SELECT column_name, data_type FROM information_schema.columns WHERE table_name = ?", table)
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

// QueryColumnar reads a columnar file directly with DuckDB's read_parquet,
// without requiring the data to first be loaded into a table. query is an
// optional SQL suffix (e.g. a WHERE clause); an empty query selects every
// row. This is the operation the relational backend explicitly declines
// (see its QueryColumnar), since only DuckDB can scan a columnar file
// in place.
func (a *Adapter) QueryColumnar(ctx context.Context, path, query string) storage.Envelope {
	escaped := strings.ReplaceAll(path, "'", "''")
	sqlText := fmt.Sprintf("SELECT * FROM read_parquet('%s')", escaped)
	if strings.TrimSpace(query) != "" {
		sqlText += " " + query
	}
	return a.execEnvelope(ctx, sqlText, nil)
}

func (a *Adapter) ExplainQuery(ctx context.Context, q storage.SemanticQuery) (string, error) {
	stmt, err := semanticquery.Build(q)
	if err != nil {
		return "", err
	}
	rows, err := a.query(ctx, "EXPLAIN "+stmt.SQL, stmt.Params...)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var colName, line string
		if err := rows.Scan(&colName, &line); err != nil {
			return "", err
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String(), rows.Err()
}

// Close releases this Adapter's hold on the shared DuckDB handle.
func (a *Adapter) Close() error {
	return a.conn.Close()
}
