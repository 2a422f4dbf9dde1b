// Package traversal implements the graph traversal engine of spec.md §4.8:
// variable-length traversal, connected-within-depth, and shortest path
// expressed as recursive set operations over a relational backend, with
// cycle avoidance, depth/result bounds, and N+1-query elimination via
// batched fan-out (spec.md design note: "arena + index for graph traversal
// results").
package traversal

import (
	"context"
	"fmt"

	"github.com/polystore-io/polystore/storage"
	storeerrors "github.com/polystore-io/polystore/pkg/errors"
)

const (
	MaxDepth         = 50
	MinResultLimit   = 1
	MaxResultLimit   = 10000
	DefaultTraversal = 100
	DefaultConnected = 1000
	DefaultShortest  = 1
)

// RawPath is one row produced by the recursive CTE: the ordered node ids and
// edge keys making up a path, plus its length.
type RawPath struct {
	NodeIDs []string
	// EdgePairs holds the consecutive (from, to) id pairs making up the path,
	// in order; len(EdgePairs) == len(NodeIDs)-1.
	EdgePairs [][2]string
	Length    int
}

// RecursiveRunner executes the backend-specific recursive SQL and returns
// the raw paths it discovered. The step relation inside it is responsible
// for cycle avoidance (excluding ids already in the accumulator) and for
// enforcing maxDepth/limit, per spec.md §4.8.
type RecursiveRunner func(ctx context.Context, start string, direction storage.Direction, edgeTypes []string, maxDepth, limit int) ([]RawPath, error)

// NodeFetcher issues exactly one query fetching every node in ids
// (`WHERE id = ANY($1)`), eliminating the N+1 pattern.
type NodeFetcher func(ctx context.Context, ids []string) (map[string]storage.Node, error)

// EdgeFetcher returns the edges for all consecutive pairs appearing across
// every path. The engine calls it once per batch of paths; how many backend
// queries one call issues is up to the implementation (the relational
// adapter's issues one query per pair).
type EdgeFetcher func(ctx context.Context, pairs [][2]string) (map[[2]string]storage.Edge, error)

// Engine runs traversal operations against a relational backend's recursive
// query support.
type Engine struct {
	runRecursive RecursiveRunner
	fetchNodes   NodeFetcher
	fetchEdges   EdgeFetcher
}

// NewEngine builds an Engine. All three callbacks are backend-specific SQL;
// the assembly logic below is shared by every relational-shaped adapter.
func NewEngine(run RecursiveRunner, nodes NodeFetcher, edges EdgeFetcher) *Engine {
	return &Engine{runRecursive: run, fetchNodes: nodes, fetchEdges: edges}
}

func validateDepth(maxDepth int) error {
	if maxDepth <= 0 || maxDepth > MaxDepth {
		return storeerrors.InvalidValue("max_depth must be in (0, 50]").WithContext("max_depth", maxDepth)
	}
	return nil
}

func validateLimit(limit int) error {
	if limit < MinResultLimit || limit > MaxResultLimit {
		return storeerrors.InvalidValue("result_limit must be in [1, 10000]").WithContext("result_limit", limit)
	}
	return nil
}

// Traverse runs the variable-length traversal of spec.md §4.4/§4.8 and
// assembles Path values with one NodeFetcher call and one EdgeFetcher call
// beyond the recursive query, regardless of how many paths were found.
func (e *Engine) Traverse(ctx context.Context, pattern storage.TraversalPattern, resultLimit int) ([]storage.Path, error) {
	if err := validateDepth(pattern.MaxDepth); err != nil {
		return nil, err
	}
	limit := resultLimit
	if limit == 0 {
		limit = DefaultTraversal
	}
	if err := validateLimit(limit); err != nil {
		return nil, err
	}

	raw, err := e.runRecursive(ctx, pattern.StartNode, pattern.Direction, pattern.EdgeTypes, pattern.MaxDepth, limit)
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindQueryFailed, "traversal query failed", err)
	}
	return e.assemble(ctx, raw)
}

// FindConnected runs the bidirectional connected-within-depth query,
// excluding the start node and collapsing duplicates into distinct nodes
// (spec.md §4.8's "connected-within-depth"). Depth validation matches
// scenario S5 exactly: 0 and values above 50 both fail with InvalidValue.
func (e *Engine) FindConnected(ctx context.Context, start string, depth, resultLimit int) ([]storage.Node, error) {
	if err := validateDepth(depth); err != nil {
		return nil, err
	}
	limit := resultLimit
	if limit == 0 {
		limit = DefaultConnected
	}
	if err := validateLimit(limit); err != nil {
		return nil, err
	}

	raw, err := e.runRecursive(ctx, start, storage.DirectionBoth, nil, depth, limit)
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindQueryFailed, "connected query failed", err)
	}

	ids := unionNodeIDs(raw)
	delete(ids, start)
	nodesByID, err := e.fetchNodes(ctx, setToSlice(ids))
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindQueryFailed, "node fetch failed", err)
	}

	out := make([]storage.Node, 0, len(nodesByID))
	for _, n := range nodesByID {
		out = append(out, n)
	}
	return out, nil
}

// ShortestPath runs the same recursive construction from `from` (paths
// ordered by depth, at most MaxResultLimit rows), keeps only the paths that
// end at `to`, and returns the one with the fewest edges. resultLimit is
// validated (default 1); one path at most is returned. Returns (nil, nil)
// when no path reaches `to` rather than an error (spec.md §7's propagation
// policy: "shortest-path failures return absent").
func (e *Engine) ShortestPath(ctx context.Context, from, to string, maxDepth, resultLimit int) (*storage.Path, error) {
	if err := validateDepth(maxDepth); err != nil {
		return nil, err
	}
	limit := resultLimit
	if limit == 0 {
		limit = DefaultShortest
	}
	if err := validateLimit(limit); err != nil {
		return nil, err
	}

	raw, err := e.runRecursive(ctx, from, storage.DirectionBoth, nil, maxDepth, MaxResultLimit)
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindQueryFailed, "shortest path query failed", err)
	}

	var best *RawPath
	for i := range raw {
		if raw[i].NodeIDs[len(raw[i].NodeIDs)-1] != to {
			continue
		}
		if best == nil || raw[i].Length < best.Length {
			best = &raw[i]
		}
	}
	if best == nil {
		return nil, nil
	}

	paths, err := e.assemble(ctx, []RawPath{*best})
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, nil
	}
	return &paths[0], nil
}

// assemble turns raw paths into storage.Path values using one fetchNodes
// call and one fetchEdges call for the entire batch rather than one per
// path (spec.md §4.8's N+1 elimination).
func (e *Engine) assemble(ctx context.Context, raw []RawPath) ([]storage.Path, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	nodeIDs := unionNodeIDs(raw)
	nodesByID, err := e.fetchNodes(ctx, setToSlice(nodeIDs))
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindQueryFailed, "node fetch failed", err)
	}

	pairs := unionEdgePairs(raw)
	edgesByPair, err := e.fetchEdges(ctx, pairs)
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindQueryFailed, "edge fetch failed", err)
	}

	paths := make([]storage.Path, 0, len(raw))
	for _, r := range raw {
		nodes := make([]storage.Node, 0, len(r.NodeIDs))
		for _, id := range r.NodeIDs {
			n, ok := nodesByID[id]
			if !ok {
				return nil, storeerrors.QueryFailed(fmt.Sprintf("node %q referenced by path not found in fetch", id))
			}
			nodes = append(nodes, n)
		}
		edges := make([]storage.Edge, 0, len(r.EdgePairs))
		for _, pair := range r.EdgePairs {
			if edge, ok := edgesByPair[pair]; ok {
				edges = append(edges, edge)
			}
		}
		paths = append(paths, storage.Path{Nodes: nodes, Edges: edges, Length: r.Length})
	}
	return paths, nil
}

func unionNodeIDs(raw []RawPath) map[string]struct{} {
	ids := map[string]struct{}{}
	for _, r := range raw {
		for _, id := range r.NodeIDs {
			ids[id] = struct{}{}
		}
	}
	return ids
}

func unionEdgePairs(raw []RawPath) [][2]string {
	seen := map[[2]string]struct{}{}
	var pairs [][2]string
	for _, r := range raw {
		for _, p := range r.EdgePairs {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				pairs = append(pairs, p)
			}
		}
	}
	return pairs
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
