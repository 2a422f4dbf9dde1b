// Package columnario implements the OLAP export/import path of spec.md §4.3
// and §6 ("Parquet/Columnar I/O" in the component table): export a query or
// table to a columnar file, import a columnar file into a table, and report
// imported row counts via a before/after count.
package columnario

import (
	"context"

	"github.com/polystore-io/polystore/internal/sqlgen"
	storeerrors "github.com/polystore-io/polystore/pkg/errors"
)

// Executor runs a statement with no expected result rows (DDL/COPY).
type Executor func(ctx context.Context, sql string, params ...interface{}) error

// Counter returns the current row count of table.
type Counter func(ctx context.Context, table string) (int64, error)

// IO performs columnar export/import against a backend that supports the
// `COPY ... TO/FROM` columnar extension (spec.md §4.3).
type IO struct {
	enabled bool
	exec    Executor
	count   Counter
}

// New builds an IO gated by the enable_columnar_export config option
// (spec.md §6): every method fails with InvalidValue when enabled is false.
func New(enabled bool, exec Executor, count Counter) *IO {
	return &IO{enabled: enabled, exec: exec, count: count}
}

func (io *IO) requireEnabled() error {
	if !io.enabled {
		return storeerrors.InvalidValue("columnar export/import is disabled (enable_columnar_export=false)")
	}
	return nil
}

// Export runs `COPY (query) TO path (FORMAT columnar)`.
func (io *IO) Export(ctx context.Context, query, path string) error {
	if err := io.requireEnabled(); err != nil {
		return err
	}
	stmt := sqlgen.ExportToColumnar(query, path)
	if err := io.exec(ctx, stmt.SQL); err != nil {
		return storeerrors.Wrap(storeerrors.KindIOError, "columnar export failed", err).WithContext("path", path)
	}
	return nil
}

// ImportResult reports the row count before and after an import, so callers
// can derive exactly how many rows were imported.
type ImportResult struct {
	RowsBefore   int64
	RowsAfter    int64
	RowsImported int64
}

// Import loads path into table and reports the before/after row counts.
func (io *IO) Import(ctx context.Context, table, path string) (ImportResult, error) {
	if err := io.requireEnabled(); err != nil {
		return ImportResult{}, err
	}

	before, err := io.count(ctx, table)
	if err != nil {
		return ImportResult{}, storeerrors.Wrap(storeerrors.KindQueryFailed, "failed to count rows before import", err)
	}

	stmt, err := sqlgen.ImportFromColumnar(table, path)
	if err != nil {
		return ImportResult{}, err
	}
	if err := io.exec(ctx, stmt.SQL); err != nil {
		return ImportResult{}, storeerrors.Wrap(storeerrors.KindIOError, "columnar import failed", err).
			WithContext("table", table).WithContext("path", path)
	}

	after, err := io.count(ctx, table)
	if err != nil {
		return ImportResult{}, storeerrors.Wrap(storeerrors.KindQueryFailed, "failed to count rows after import", err)
	}

	return ImportResult{RowsBefore: before, RowsAfter: after, RowsImported: after - before}, nil
}
