// Package sqlgen produces canonical, parameterized SQL text for the
// key-value, batch, and columnar-I/O layers described in spec.md §4.3. Every
// function here takes an already-validated table name (see
// internal/identifier) and binds caller values through `?` placeholders,
// with three exceptions: ExportToColumnar embeds its query text as given and
// the file path as an escaped single-quoted literal, ImportFromColumnar embeds
// the escaped path the same way, and LimitOffset embeds its integer bounds.
package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/polystore-io/polystore/internal/identifier"
	storeerrors "github.com/polystore-io/polystore/pkg/errors"
)

// Statement pairs generated SQL text with its positional parameters.
type Statement struct {
	SQL    string
	Params []interface{}
}

func validate(table string) error {
	if err := identifier.Validate(table); err != nil {
		return err
	}
	return nil
}

// CreateTable returns the DDL for a key-value table: key (primary key),
// value (opaque payload), and bookkeeping columns.
func CreateTable(table string) (Statement, error) {
	if err := validate(table); err != nil {
		return Statement{}, err
	}
	sql := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table)
	return Statement{SQL: sql}, nil
}

// CreateIndex returns DDL for a simple b-tree index on column.
func CreateIndex(table, indexName, column string) (Statement, error) {
	if err := validate(table); err != nil {
		return Statement{}, err
	}
	if err := identifier.Validate(indexName); err != nil {
		return Statement{}, err
	}
	if err := identifier.Validate(column); err != nil {
		return Statement{}, err
	}
	sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", indexName, table, column)
	return Statement{SQL: sql}, nil
}

// DropIndex returns DDL dropping indexName if it exists.
func DropIndex(indexName string) (Statement, error) {
	if err := identifier.Validate(indexName); err != nil {
		return Statement{}, err
	}
	return Statement{SQL: fmt.Sprintf("DROP INDEX IF EXISTS %s", indexName)}, nil
}

// Get returns the single-row fetch by key.
func Get(table string) (Statement, error) {
	if err := validate(table); err != nil {
		return Statement{}, err
	}
	return Statement{SQL: fmt.Sprintf("SELECT value FROM %s WHERE key = ?", table)}, nil
}

// LoadAll returns every row, used by Schema Manager's warm-start.
func LoadAll(table string) (Statement, error) {
	if err := validate(table); err != nil {
		return Statement{}, err
	}
	return Statement{SQL: fmt.Sprintf("SELECT key, value FROM %s", table)}, nil
}

// Upsert returns an insert-or-update by key.
func Upsert(table, key string, value interface{}) (Statement, error) {
	if err := validate(table); err != nil {
		return Statement{}, err
	}
	sql := fmt.Sprintf(
		`INSERT INTO %s (key, value, updated_at) VALUES (?, ?, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, table)
	return Statement{SQL: sql, Params: []interface{}{key, value}}, nil
}

// Delete returns a delete-by-key statement.
func Delete(table, key string) (Statement, error) {
	if err := validate(table); err != nil {
		return Statement{}, err
	}
	return Statement{SQL: fmt.Sprintf("DELETE FROM %s WHERE key = ?", table), Params: []interface{}{key}}, nil
}

// Clear truncates every row in table.
func Clear(table string) (Statement, error) {
	if err := validate(table); err != nil {
		return Statement{}, err
	}
	return Statement{SQL: fmt.Sprintf("DELETE FROM %s", table)}, nil
}

// Count returns a row-count statement.
func Count(table string) (Statement, error) {
	if err := validate(table); err != nil {
		return Statement{}, err
	}
	return Statement{SQL: fmt.Sprintf("SELECT COUNT(*) FROM %s", table)}, nil
}

// Exists returns a key-existence check.
func Exists(table, key string) (Statement, error) {
	if err := validate(table); err != nil {
		return Statement{}, err
	}
	sql := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE key = ?)", table)
	return Statement{SQL: sql, Params: []interface{}{key}}, nil
}

// BatchUpsert builds one multi-row INSERT ... ON CONFLICT statement for the
// given key/value entries, binding every value positionally.
func BatchUpsert(table string, entries map[string]interface{}) (Statement, error) {
	if err := validate(table); err != nil {
		return Statement{}, err
	}
	if len(entries) == 0 {
		return Statement{}, storeerrors.InvalidValue("batch upsert requires at least one entry")
	}

	placeholders := make([]string, 0, len(entries))
	params := make([]interface{}, 0, len(entries)*2)
	for k, v := range entries {
		placeholders = append(placeholders, "(?, ?, now())")
		params = append(params, k, v)
	}

	sql := fmt.Sprintf(
		`INSERT INTO %s (key, value, updated_at) VALUES %s
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		table, strings.Join(placeholders, ", "))
	return Statement{SQL: sql, Params: params}, nil
}

// BatchDelete builds a single DELETE ... WHERE key IN (...) statement.
func BatchDelete(table string, keys []string) (Statement, error) {
	if err := validate(table); err != nil {
		return Statement{}, err
	}
	if len(keys) == 0 {
		return Statement{}, storeerrors.InvalidValue("batch delete requires at least one key")
	}
	placeholders := make([]string, len(keys))
	params := make([]interface{}, len(keys))
	for i, k := range keys {
		placeholders[i] = "?"
		params[i] = k
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE key IN (%s)", table, strings.Join(placeholders, ", "))
	return Statement{SQL: sql, Params: params}, nil
}

// ExportToColumnar builds a `COPY (query) TO path` statement for the
// columnar-file OLAP export path. The file path is embedded as a
// single-quoted literal (drivers do not accept a bound parameter there);
// any embedded single quote in path is escaped by doubling.
func ExportToColumnar(query, path string) Statement {
	escaped := strings.ReplaceAll(path, "'", "''")
	sql := fmt.Sprintf("COPY (%s) TO '%s' (FORMAT columnar)", query, escaped)
	return Statement{SQL: sql}
}

// ImportFromColumnar builds an `INSERT INTO table SELECT * FROM
// read_columnar(path)` statement.
func ImportFromColumnar(table, path string) (Statement, error) {
	if err := validate(table); err != nil {
		return Statement{}, err
	}
	escaped := strings.ReplaceAll(path, "'", "''")
	sql := fmt.Sprintf("INSERT INTO %s SELECT * FROM read_columnar('%s')", table, escaped)
	return Statement{SQL: sql}, nil
}

// LimitOffset renders an integer-validated LIMIT/OFFSET clause. Both values
// are embedded literally since they have already passed an integer check;
// this is the one sanctioned exception to "never concatenate" (spec.md §3
// invariant 3).
func LimitOffset(limit, offset *int) (string, error) {
	var b strings.Builder
	if limit != nil {
		if *limit < 0 {
			return "", storeerrors.InvalidValue("limit must be non-negative")
		}
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(*limit))
	}
	if offset != nil {
		if *offset < 0 {
			return "", storeerrors.InvalidValue("offset must be non-negative")
		}
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(*offset))
	}
	return b.String(), nil
}
