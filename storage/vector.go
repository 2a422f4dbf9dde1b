package storage

import (
	"context"

	"github.com/polystore-io/polystore/internal/semanticquery"
)

// VectorIndexKind is the vector index algorithm requested by a caller
// (spec.md §4.11); the adapter attempts it and falls back to the other kind
// on unavailability.
type VectorIndexKind string

const (
	VectorIndexIVFFlat VectorIndexKind = "ivfflat"
	VectorIndexHNSW    VectorIndexKind = "hnsw"
)

// DistanceMetric selects the operator used to order vector_search results.
type DistanceMetric string

const (
	MetricCosine       DistanceMetric = "cosine"
	MetricEuclidean    DistanceMetric = "euclidean"
	MetricInnerProduct DistanceMetric = "inner_product"
)

// VectorIndexParams tunes ivfflat/hnsw index construction (spec.md §6).
type VectorIndexParams struct {
	IVFLists          int
	IVFProbes         int
	HNSWM             int
	HNSWEfConstruction int
}

// VectorSearchOptions configures VectorStorage.VectorSearch. Threshold, when
// set, bounds the distance itself (rows farther than Threshold are
// excluded); Filters apply the same parameterized WHERE-term shape as
// SemanticStorage's Aggregate/GroupBy so a caller can narrow the candidate
// rows before they're ranked by distance.
type VectorSearchOptions struct {
	Limit     int
	Metric    DistanceMetric
	Threshold *float64
	Filters   []semanticquery.Filter
}

// VectorStorage is the vector-extension capability interface of spec.md §6,
// implemented only by the relational+vector backend in this module.
type VectorStorage interface {
	CreateVectorIndex(ctx context.Context, table, column string, kind VectorIndexKind, params VectorIndexParams) (usedKind VectorIndexKind, fellBack bool, err error)
	DropVectorIndex(ctx context.Context, table, column string) error
	ListVectorIndexes(ctx context.Context, table string) ([]string, error)
	VectorSearch(ctx context.Context, table string, queryVector []float32, opts VectorSearchOptions) ([]map[string]interface{}, error)
	InsertWithEmbedding(ctx context.Context, table string, row map[string]interface{}, embedding []float32) error
}
