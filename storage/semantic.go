package storage

import (
	"context"

	"github.com/polystore-io/polystore/internal/semanticquery"
)

// SemanticQuery is the declarative query object of spec.md §3; it is a thin
// public alias over internal/semanticquery's builder type so callers never
// import an internal package.
type SemanticQuery = semanticquery.Query

// Envelope is the {data, metadata, errors?} result shape of spec.md §4.5.
type Envelope = semanticquery.Envelope

// SemanticStorage is the OLAP/semantic capability interface of spec.md §6.
type SemanticStorage interface {
	Query(ctx context.Context, q SemanticQuery) Envelope
	ExecuteSQL(ctx context.Context, sql string, params []interface{}) Envelope
	Aggregate(ctx context.Context, table string, op semanticquery.AggOperator, field string, filters []semanticquery.Filter) Envelope
	GroupBy(ctx context.Context, table string, keys []string, aggs []semanticquery.Aggregation, filters []semanticquery.Filter) Envelope

	CreateMaterializedView(ctx context.Context, name string, q SemanticQuery) error
	RefreshMaterializedView(ctx context.Context, name string) error
	QueryMaterializedView(ctx context.Context, name string) Envelope
	DropMaterializedView(ctx context.Context, name string) error
	ListMaterializedViews(ctx context.Context) ([]string, error)

	CreateSearchIndex(ctx context.Context, table, column string) error
	Search(ctx context.Context, table, query string, limit int) Envelope
	DropSearchIndex(ctx context.Context, table, column string) error

	DefineSchema(ctx context.Context, table string, columns map[string]string) error
	GetSchema(ctx context.Context, table string) (map[string]string, error)

	ExportToColumnar(ctx context.Context, query, path string) error
	ImportFromColumnar(ctx context.Context, table, path string) (ImportResult, error)
	QueryColumnar(ctx context.Context, path, query string) Envelope

	ExplainQuery(ctx context.Context, q SemanticQuery) (string, error)
}

// ImportResult mirrors internal/columnario.ImportResult at the capability
// boundary.
type ImportResult struct {
	RowsBefore   int64
	RowsAfter    int64
	RowsImported int64
}
