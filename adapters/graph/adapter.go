// Package graph implements the native-graph backend adapter of spec.md §4.4
// and §6 on top of Neo4j, using parameterized Cypher built by
// internal/graphquery. Grounded on backend2's GraphRepositoryAbstraction
// (infrastructure/persistence/abstractions/graph_repository.go) for the
// capability surface and on backend/infrastructure/di/cache.go for the
// connection-cache wiring pattern, generalized from DynamoDB to Neo4j via
// internal/connection.
package graph

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/polystore-io/polystore/internal/connection"
	"github.com/polystore-io/polystore/internal/graphquery"
	"github.com/polystore-io/polystore/internal/identifier"
	storeerrors "github.com/polystore-io/polystore/pkg/errors"
	"github.com/polystore-io/polystore/storage"
	"go.uber.org/zap"
)

// Config configures an Adapter.
type Config struct {
	URI      string `validate:"required"`
	Username string `validate:"required"`
	Password string `validate:"required"`
	Database string `validate:"omitempty"`
}

var configValidator = validator.New()

// Validate checks cfg against its validate tags.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return storeerrors.Wrap(storeerrors.KindInvalidValue, "invalid graph config", err)
	}
	return nil
}

// Adapter is the GraphStorage implementation backed by Neo4j.
type Adapter struct {
	*storage.Lifecycle

	cfg     Config
	conn    *connection.Manager
	logger  *zap.Logger
	driver  neo4j.DriverWithContext
}

// New builds a graph Adapter. Connection opening is deferred to the first
// call that runs EnsureLoaded, per the Base Adapter Template state machine.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, logger: logger}
	a.conn = connection.NewManager(cfg.URI, a.open, a.close)
	a.Lifecycle = storage.NewLifecycle(logger, a.ensureLoaded, nil, nil, nil, nil)
	return a, nil
}

func (a *Adapter) open(ctx context.Context, uri string) (interface{}, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(a.cfg.Username, a.cfg.Password, ""))
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return driver, nil
}

func (a *Adapter) close(handle interface{}) error {
	driver := handle.(neo4j.DriverWithContext)
	return driver.Close(context.Background())
}

func (a *Adapter) ensureLoaded(ctx context.Context) error {
	handle, err := a.conn.GetDatabase(ctx)
	if err != nil {
		return err
	}
	a.driver = handle.(neo4j.DriverWithContext)
	return nil
}

func (a *Adapter) run(ctx context.Context, stmt graphquery.Statement) (*neo4j.EagerResult, error) {
	if err := a.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	result, err := neo4j.ExecuteQuery(ctx, a.driver, stmt.Cypher, stmt.Params,
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(a.cfg.Database))
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindQueryFailed, "cypher query failed", err).
			WithContext("cypher", stmt.Cypher)
	}
	return result, nil
}

func recordProps(rec *neo4j.Record, key string) map[string]interface{} {
	raw, ok := rec.Get(key)
	if !ok {
		return nil
	}
	node, ok := raw.(neo4j.Node)
	if !ok {
		return nil
	}
	return node.Props
}

// AddNode upserts a node by id via MERGE.
func (a *Adapter) AddNode(ctx context.Context, node storage.Node) error {
	stmt := graphquery.StoreNode(node.ID, node.ID, node.Type, node.Properties)
	_, err := a.run(ctx, stmt)
	return err
}

// GetNode fetches a single node by id.
func (a *Adapter) GetNode(ctx context.Context, id string) (*storage.Node, error) {
	result, err := a.run(ctx, graphquery.Statement{
		Cypher: `MATCH (n {id: $id}) RETURN n`,
		Params: map[string]interface{}{"id": id},
	})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, nil
	}
	props := recordProps(result.Records[0], "n")
	return &storage.Node{ID: id, Type: fmt.Sprintf("%v", props["type"]), Properties: props}, nil
}

func (a *Adapter) UpdateNode(ctx context.Context, node storage.Node) error {
	return a.AddNode(ctx, node)
}

func (a *Adapter) DeleteNode(ctx context.Context, id string) (bool, error) {
	existing, err := a.GetNode(ctx, id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	if _, err := a.run(ctx, graphquery.DeleteNode(id)); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Adapter) QueryNodes(ctx context.Context, nodeType string) ([]storage.Node, error) {
	result, err := a.run(ctx, graphquery.Statement{
		Cypher: `MATCH (n {type: $type}) RETURN n`,
		Params: map[string]interface{}{"type": nodeType},
	})
	if err != nil {
		return nil, err
	}
	nodes := make([]storage.Node, 0, len(result.Records))
	for _, rec := range result.Records {
		props := recordProps(rec, "n")
		id, _ := props["id"].(string)
		nodes = append(nodes, storage.Node{ID: id, Type: nodeType, Properties: props})
	}
	return nodes, nil
}

func (a *Adapter) AddEdge(ctx context.Context, edge storage.Edge) error {
	_, err := a.run(ctx, graphquery.CreateEdge(edge.From, edge.To, edge.Type, edge.Properties))
	return err
}

func (a *Adapter) GetEdge(ctx context.Context, from, to, edgeType string) (*storage.Edge, error) {
	result, err := a.run(ctx, graphquery.Statement{
		Cypher: `MATCH (a {id: $from})-[r:RELATES {type: $type}]->(b {id: $to}) RETURN r`,
		Params: map[string]interface{}{"from": from, "to": to, "type": edgeType},
	})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, nil
	}
	raw, _ := result.Records[0].Get("r")
	rel, _ := raw.(neo4j.Relationship)
	return &storage.Edge{From: from, To: to, Type: edgeType, Properties: rel.Props}, nil
}

func (a *Adapter) GetEdges(ctx context.Context, nodeID string, edgeTypes []string) ([]storage.Edge, error) {
	result, err := a.run(ctx, graphquery.GetEdges(nodeID, edgeTypes))
	if err != nil {
		return nil, err
	}
	edges := make([]storage.Edge, 0, len(result.Records))
	for _, rec := range result.Records {
		relRaw, _ := rec.Get("r")
		rel, ok := relRaw.(neo4j.Relationship)
		if !ok {
			continue
		}
		other := recordProps(rec, "m")
		edgeType, _ := rel.Props["type"].(string)
		edges = append(edges, storage.Edge{From: nodeID, To: fmt.Sprintf("%v", other["id"]), Type: edgeType, Properties: rel.Props})
	}
	return edges, nil
}

func (a *Adapter) UpdateEdge(ctx context.Context, edge storage.Edge) error {
	return a.AddEdge(ctx, edge)
}

func (a *Adapter) DeleteEdge(ctx context.Context, from, to, edgeType string) (bool, error) {
	existing, err := a.GetEdge(ctx, from, to, edgeType)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	_, err = a.run(ctx, graphquery.Statement{
		Cypher: `MATCH (a {id: $from})-[r:RELATES {type: $type}]->(b {id: $to}) DELETE r`,
		Params: map[string]interface{}{"from": from, "to": to, "type": edgeType},
	})
	return err == nil, err
}

func toDirection(d storage.Direction) graphquery.Direction {
	switch d {
	case storage.DirectionOutgoing:
		return graphquery.Outgoing
	case storage.DirectionIncoming:
		return graphquery.Incoming
	default:
		return graphquery.Both
	}
}

func pathFromRecord(rec *neo4j.Record) (storage.Path, bool) {
	raw, ok := rec.Get("p")
	if !ok {
		return storage.Path{}, false
	}
	path, ok := raw.(neo4j.Path)
	if !ok {
		return storage.Path{}, false
	}
	nodes := make([]storage.Node, 0, len(path.Nodes))
	for _, n := range path.Nodes {
		id, _ := n.Props["id"].(string)
		typ, _ := n.Props["type"].(string)
		nodes = append(nodes, storage.Node{ID: id, Type: typ, Properties: n.Props})
	}
	edges := make([]storage.Edge, 0, len(path.Relationships))
	for i, r := range path.Relationships {
		edgeType, _ := r.Props["type"].(string)
		edges = append(edges, storage.Edge{From: nodes[i].ID, To: nodes[i+1].ID, Type: edgeType, Properties: r.Props})
	}
	length, _ := rec.Get("path_length")
	lengthInt, _ := length.(int64)
	return storage.Path{Nodes: nodes, Edges: edges, Length: int(lengthInt)}, true
}

// Traverse runs the variable-length traversal directly in Cypher (the native
// graph backend has no N+1 problem to eliminate: the engine returns whole
// paths in one round trip).
func (a *Adapter) Traverse(ctx context.Context, pattern storage.TraversalPattern, resultLimit int) ([]storage.Path, error) {
	stmt, err := graphquery.Traversal(pattern.StartNode, toDirection(pattern.Direction), pattern.MaxDepth, pattern.EdgeTypes,
		graphquery.TraversalOptions{ResultLimit: resultLimit})
	if err != nil {
		return nil, err
	}
	result, err := a.run(ctx, stmt)
	if err != nil {
		return nil, err
	}
	paths := make([]storage.Path, 0, len(result.Records))
	for _, rec := range result.Records {
		if p, ok := pathFromRecord(rec); ok {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func (a *Adapter) FindConnected(ctx context.Context, start string, depth, resultLimit int) ([]storage.Node, error) {
	stmt, err := graphquery.Connected(start, depth, graphquery.TraversalOptions{ResultLimit: resultLimit})
	if err != nil {
		return nil, err
	}
	result, err := a.run(ctx, stmt)
	if err != nil {
		return nil, err
	}
	nodes := make([]storage.Node, 0, len(result.Records))
	for _, rec := range result.Records {
		props := recordProps(rec, "other")
		id, _ := props["id"].(string)
		typ, _ := props["type"].(string)
		nodes = append(nodes, storage.Node{ID: id, Type: typ, Properties: props})
	}
	return nodes, nil
}

func (a *Adapter) ShortestPath(ctx context.Context, from, to string, maxDepth, resultLimit int) (*storage.Path, error) {
	stmt, err := graphquery.ShortestPath(from, to, maxDepth, graphquery.TraversalOptions{ResultLimit: resultLimit})
	if err != nil {
		return nil, err
	}
	result, err := a.run(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, nil
	}
	p, ok := pathFromRecord(result.Records[0])
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// PatternMatch reports NotImplemented on this backend: the native graph
// backend has no generic label/edge-type pattern catalog to match against
// beyond Traverse.
func (a *Adapter) PatternMatch(ctx context.Context, nodeType string, edgeTypes []string, maxDepth int) ([]storage.Path, error) {
	return nil, storeerrors.NotImplemented("pattern_match is not supported by the graph backend")
}

func (a *Adapter) BatchGraphOperations(ctx context.Context, nodes []storage.Node, edges []storage.Edge) (storage.BatchResult, error) {
	result := storage.BatchResult{Operations: len(nodes) + len(edges)}
	for _, n := range nodes {
		if err := a.AddNode(ctx, n); err != nil {
			result.Errors = append(result.Errors, err)
		}
	}
	for _, e := range edges {
		if err := a.AddEdge(ctx, e); err != nil {
			result.Errors = append(result.Errors, err)
		}
	}
	result.Success = len(result.Errors) == 0
	return result, nil
}

func (a *Adapter) StoreEntity(ctx context.Context, node storage.Node, edges []storage.Edge) error {
	if err := a.AddNode(ctx, node); err != nil {
		return err
	}
	for _, e := range edges {
		if err := a.AddEdge(ctx, e); err != nil {
			return err
		}
	}
	return nil
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
	params := map[string]interface{}{}
	clauses := ""
	i := 0
	for k, v := range propertyFilters {
		if err := identifier.Validate(k); err != nil {
			return nil, err
		}
		if i > 0 {
			clauses += " AND "
		}
		paramName := fmt.Sprintf("p%d", i)
		clauses += fmt.Sprintf("n.%s = $%s", k, paramName)
		params[paramName] = v
		i++
	}
	cypher := "MATCH (n) RETURN n"
	if clauses != "" {
		cypher = fmt.Sprintf("MATCH (n) WHERE %s RETURN n", clauses)
	}
	result, err := a.run(ctx, graphquery.Statement{Cypher: cypher, Params: params})
	if err != nil {
		return nil, err
	}
	nodes := make([]storage.Node, 0, len(result.Records))
	for _, rec := range result.Records {
		props := recordProps(rec, "n")
		id, _ := props["id"].(string)
		typ, _ := props["type"].(string)
		nodes = append(nodes, storage.Node{ID: id, Type: typ, Properties: props})
	}
	return nodes, nil
}

func (a *Adapter) CreateIndex(ctx context.Context, onProperty string) error {
	if err := identifier.Validate(onProperty); err != nil {
		return err
	}
	_, err := a.run(ctx, graphquery.Statement{
		Cypher: fmt.Sprintf("CREATE INDEX IF NOT EXISTS FOR (n) ON (n.%s)", onProperty),
	})
	return err
}

func (a *Adapter) ListIndexes(ctx context.Context) ([]string, error) {
	result, err := a.run(ctx, graphquery.Statement{Cypher: "SHOW INDEXES YIELD name RETURN name"})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(result.Records))
	for _, rec := range result.Records {
		if v, ok := rec.Get("name"); ok {
			names = append(names, fmt.Sprintf("%v", v))
		}
	}
	return names, nil
}

func (a *Adapter) GetGraphStats(ctx context.Context) (storage.GraphStats, error) {
	result, err := a.run(ctx, graphquery.Statement{
		Cypher: "MATCH (n) OPTIONAL MATCH ()-[r]->() RETURN count(DISTINCT n) AS nodes, count(r) AS edges",
	})
	if err != nil {
		return storage.GraphStats{}, err
	}
	if len(result.Records) == 0 {
		return storage.GraphStats{}, nil
	}
	nodes, _ := result.Records[0].Get("nodes")
	edges, _ := result.Records[0].Get("edges")
	nodeCount, _ := nodes.(int64)
	edgeCount, _ := edges.(int64)
	return storage.GraphStats{NodeCount: nodeCount, EdgeCount: edgeCount}, nil
}

func (a *Adapter) ExecuteQuery(ctx context.Context, text string, params map[string]interface{}) ([]map[string]interface{}, error) {
	result, err := a.run(ctx, graphquery.Statement{Cypher: text, Params: params})
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]interface{}, 0, len(result.Records))
	for _, rec := range result.Records {
		row := make(map[string]interface{}, len(rec.Keys))
		for _, k := range rec.Keys {
			row[k], _ = rec.Get(k)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Transaction opens a Neo4j managed write transaction and calls fn inside
// it. fn receives only ctx, not the transaction: adapter methods called from
// fn run through a.run as separate auto-commit queries, so they are not
// atomic with each other and are not rolled back when fn fails. An error from
// fn is returned wrapped as WriteFailed.
func (a *Adapter) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := a.EnsureLoaded(ctx); err != nil {
		return err
	}
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.cfg.Database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		return storeerrors.Wrap(storeerrors.KindWriteFailed, "graph transaction failed", err)
	}
	return nil
}

// Close releases this adapter's hold on the shared driver.
func (a *Adapter) Close() error {
	return a.conn.Close()
}
