package traversal

import (
	"context"
	"testing"

	"github.com/polystore-io/polystore/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGraph is a tiny in-memory adjacency list used to ground the recursive
// runner's cycle-avoidance and depth/limit bounds in a test double, without
// pulling in a real SQL engine.
type fakeGraph struct {
	edges map[string][]string // undirected-style outgoing adjacency for the fake
	nodes map[string]storage.Node
}

func (g *fakeGraph) runner(ctx context.Context, start string, direction storage.Direction, edgeTypes []string, maxDepth, limit int) ([]RawPath, error) {
	var out []RawPath
	var walk func(path []string, depth int)
	walk = func(path []string, depth int) {
		if len(out) >= limit {
			return
		}
		if depth > 0 {
			pairs := make([][2]string, 0, len(path)-1)
			for i := 1; i < len(path); i++ {
				pairs = append(pairs, [2]string{path[i-1], path[i]})
			}
			out = append(out, RawPath{NodeIDs: append([]string{}, path...), EdgePairs: pairs, Length: depth})
		}
		if depth == maxDepth {
			return
		}
		cur := path[len(path)-1]
		for _, next := range g.edges[cur] {
			visited := false
			for _, p := range path {
				if p == next {
					visited = true
					break
				}
			}
			if visited {
				continue
			}
			if len(out) >= limit {
				return
			}
			walk(append(append([]string{}, path...), next), depth+1)
		}
	}
	walk([]string{start}, 0)
	return out, nil
}

func (g *fakeGraph) fetchNodes(ctx context.Context, ids []string) (map[string]storage.Node, error) {
	out := make(map[string]storage.Node, len(ids))
	for _, id := range ids {
		out[id] = g.nodes[id]
	}
	return out, nil
}

func (g *fakeGraph) fetchEdges(ctx context.Context, pairs [][2]string) (map[[2]string]storage.Edge, error) {
	out := make(map[[2]string]storage.Edge, len(pairs))
	for _, p := range pairs {
		out[p] = storage.Edge{From: p[0], To: p[1], Type: "CONNECTS"}
	}
	return out, nil
}

func lineGraph() *fakeGraph {
	return &fakeGraph{
		edges: map[string][]string{"A": {"B"}, "B": {"C"}},
		nodes: map[string]storage.Node{
			"A": {ID: "A", Type: "N"}, "B": {ID: "B", Type: "N"}, "C": {ID: "C", Type: "N"},
		},
	}
}

func newEngine(g *fakeGraph) *Engine {
	return NewEngine(g.runner, g.fetchNodes, g.fetchEdges)
}

func TestTraverseFindsAllPaths(t *testing.T) {
	g := lineGraph()
	e := newEngine(g)

	paths, err := e.Traverse(context.Background(), storage.TraversalPattern{
		StartNode: "A", Direction: storage.DirectionOutgoing, MaxDepth: 2, EdgeTypes: []string{"CONNECTS"},
	}, 0)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	var ids [][]string
	for _, p := range paths {
		var row []string
		for _, n := range p.Nodes {
			row = append(row, n.ID)
		}
		ids = append(ids, row)
	}
	assert.Contains(t, ids, []string{"A", "B"})
	assert.Contains(t, ids, []string{"A", "B", "C"})
}

func TestTraverseRejectsInvalidDepth(t *testing.T) {
	g := lineGraph()
	e := newEngine(g)

	_, err := e.Traverse(context.Background(), storage.TraversalPattern{StartNode: "A", MaxDepth: 0}, 0)
	assert.Error(t, err)

	_, err = e.Traverse(context.Background(), storage.TraversalPattern{StartNode: "A", MaxDepth: 51}, 0)
	assert.Error(t, err)
}

func TestFindConnectedExcludesStartAndDedupes(t *testing.T) {
	g := &fakeGraph{
		edges: map[string][]string{"A": {"B", "C"}, "B": {"A"}, "C": {"A"}},
		nodes: map[string]storage.Node{
			"A": {ID: "A"}, "B": {ID: "B"}, "C": {ID: "C"},
		},
	}
	e := newEngine(g)

	nodes, err := e.FindConnected(context.Background(), "A", 2, 0)
	require.NoError(t, err)

	var ids []string
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	assert.NotContains(t, ids, "A")
	assert.ElementsMatch(t, []string{"B", "C"}, ids)
}

func TestFindConnectedRejectsInvalidDepth(t *testing.T) {
	g := lineGraph()
	e := newEngine(g)

	_, err := e.FindConnected(context.Background(), "x", 0, 0)
	assert.Error(t, err)

	_, err = e.FindConnected(context.Background(), "x", 51, 0)
	assert.Error(t, err)
}

func TestShortestPathOverDiamond(t *testing.T) {
	g := &fakeGraph{
		edges: map[string][]string{
			"A": {"B", "D"}, "B": {"C"}, "D": {"C"},
		},
		nodes: map[string]storage.Node{
			"A": {ID: "A"}, "B": {ID: "B"}, "C": {ID: "C"}, "D": {ID: "D"},
		},
	}
	e := newEngine(g)

	path, err := e.ShortestPath(context.Background(), "A", "C", 5, 0)
	require.NoError(t, err)
	require.NotNil(t, path)
	assert.Equal(t, 2, path.Length)
	assert.Equal(t, "A", path.Nodes[0].ID)
	assert.Equal(t, "C", path.Nodes[len(path.Nodes)-1].ID)
	assert.Contains(t, []string{"B", "D"}, path.Nodes[1].ID)
}

func TestShortestPathReturnsNilWhenDisconnected(t *testing.T) {
	g := &fakeGraph{
		edges: map[string][]string{"A": {}},
		nodes: map[string]storage.Node{"A": {ID: "A"}, "Z": {ID: "Z"}},
	}
	e := newEngine(g)

	path, err := e.ShortestPath(context.Background(), "A", "Z", 5, 0)
	require.NoError(t, err)
	assert.Nil(t, path)
}

func TestCycleSafetyNeverRevisitsNode(t *testing.T) {
	g := &fakeGraph{
		edges: map[string][]string{"A": {"B"}, "B": {"C"}, "C": {"A"}},
		nodes: map[string]storage.Node{"A": {ID: "A"}, "B": {ID: "B"}, "C": {ID: "C"}},
	}
	e := newEngine(g)

	paths, err := e.Traverse(context.Background(), storage.TraversalPattern{
		StartNode: "A", Direction: storage.DirectionOutgoing, MaxDepth: 10,
	}, 0)
	require.NoError(t, err)

	for _, p := range paths {
		seen := map[string]bool{}
		for _, n := range p.Nodes {
			assert.False(t, seen[n.ID], "path revisited node %s", n.ID)
			seen[n.ID] = true
		}
	}
}
