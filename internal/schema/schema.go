// Package schema implements the idempotent "already-exists is success"
// schema-creation policy described in spec.md §4.6, layered on top of
// internal/connection's table-creation mutex.
package schema

import (
	"context"
	"strings"

	"github.com/polystore-io/polystore/internal/connection"
	storeerrors "github.com/polystore-io/polystore/pkg/errors"
	"go.uber.org/zap"
)

// Executor runs one DDL statement against a backend connection. Adapters
// supply this; schema.Manager never touches a driver directly.
type Executor func(ctx context.Context, sql string) error

// Loader warm-starts an in-memory cache from existing rows. Returning zero
// rows is not an error.
type Loader func(ctx context.Context) (map[string]interface{}, error)

// AlreadyExistsChecker reports whether err represents a harmless
// "relation/index/trigger already exists" condition, which Manager treats as
// success. Backend-specific because each driver surfaces this differently
// (a SQLSTATE code, an error string, a typed exception).
type AlreadyExistsChecker func(err error) bool

// Manager creates and verifies backend-specific schema under the
// process-wide (database, table) mutex.
type Manager struct {
	database  string
	table     string
	exec      Executor
	load      Loader
	alreadyOK AlreadyExistsChecker
	logger    *zap.Logger
}

// New builds a Manager. load and alreadyOK may be nil (no warm-start /
// no already-exists tolerance respectively, though every concrete adapter in
// this module supplies one).
func New(database, table string, exec Executor, load Loader, alreadyOK AlreadyExistsChecker, logger *zap.Logger) *Manager {
	return &Manager{database: database, table: table, exec: exec, load: load, alreadyOK: alreadyOK, logger: logger}
}

// CreateSchema issues the given DDL statements under the cross-instance
// table-creation mutex, ignoring already-exists failures. Running this
// concurrently from multiple adapter instances against the same
// (database, table) is safe and creates the schema exactly once
// (spec.md §8, property 11).
func (m *Manager) CreateSchema(ctx context.Context, statements []string) error {
	return connection.WithTableCreationMutex(ctx, m.database, m.table, func(ctx context.Context) error {
		for _, stmt := range statements {
			if err := m.exec(ctx, stmt); err != nil {
				if m.alreadyOK != nil && m.alreadyOK(err) {
					if m.logger != nil {
						m.logger.Debug("schema statement already applied",
							zap.String("table", m.table), zap.String("statement", summarize(stmt)))
					}
					continue
				}
				return storeerrors.Wrap(storeerrors.KindIOError, "schema creation failed", err).
					WithContext("table", m.table)
			}
		}
		return nil
	})
}

// LoadExisting warm-starts the in-memory cache. An empty result set is not
// an error.
func (m *Manager) LoadExisting(ctx context.Context) (map[string]interface{}, error) {
	if m.load == nil {
		return map[string]interface{}{}, nil
	}
	rows, err := m.load(ctx)
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindQueryFailed, "failed to load existing rows", err).
			WithContext("table", m.table)
	}
	if rows == nil {
		rows = map[string]interface{}{}
	}
	return rows, nil
}

func summarize(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if len(stmt) > 80 {
		return stmt[:80] + "..."
	}
	return stmt
}
