package storage

import "context"

// GraphStorage is the graph capability interface of spec.md §6. Backends
// that don't support a given operation (e.g. PatternMatch on the Neo4j
// graph backend) return a NotImplemented StorageError rather than failing
// to compile — capabilities compose, they don't form an inheritance tree
// (spec.md §9 design notes).
type GraphStorage interface {
	AddNode(ctx context.Context, node Node) error
	GetNode(ctx context.Context, id string) (*Node, error)
	UpdateNode(ctx context.Context, node Node) error
	DeleteNode(ctx context.Context, id string) (bool, error)
	QueryNodes(ctx context.Context, nodeType string) ([]Node, error)

	AddEdge(ctx context.Context, edge Edge) error
	GetEdge(ctx context.Context, from, to, edgeType string) (*Edge, error)
	GetEdges(ctx context.Context, nodeID string, edgeTypes []string) ([]Edge, error)
	UpdateEdge(ctx context.Context, edge Edge) error
	DeleteEdge(ctx context.Context, from, to, edgeType string) (bool, error)

	Traverse(ctx context.Context, pattern TraversalPattern, resultLimit int) ([]Path, error)
	FindConnected(ctx context.Context, start string, depth, resultLimit int) ([]Node, error)
	ShortestPath(ctx context.Context, from, to string, maxDepth, resultLimit int) (*Path, error)
	PatternMatch(ctx context.Context, nodeType string, edgeTypes []string, maxDepth int) ([]Path, error)

	BatchGraphOperations(ctx context.Context, nodes []Node, edges []Edge) (BatchResult, error)
	StoreEntity(ctx context.Context, node Node, edges []Edge) error
	StreamEpisodes(ctx context.Context, nodeType string) (Iterator[Node], error)
	FindByPattern(ctx context.Context, propertyFilters map[string]interface{}) ([]Node, error)

	CreateIndex(ctx context.Context, onProperty string) error
	ListIndexes(ctx context.Context) ([]string, error)

	GetGraphStats(ctx context.Context) (GraphStats, error)
	ExecuteQuery(ctx context.Context, text string, params map[string]interface{}) ([]map[string]interface{}, error)
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// GraphStats is returned by GetGraphStats for introspection.
type GraphStats struct {
	NodeCount int64
	EdgeCount int64
}
