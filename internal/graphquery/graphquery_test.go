package graphquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraversalEmbedsOnlyValidatedDepth(t *testing.T) {
	stmt, err := Traversal("A", Outgoing, 2, []string{"CONNECTS"}, TraversalOptions{})
	require.NoError(t, err)
	assert.Contains(t, stmt.Cypher, "*1..2")
	assert.Equal(t, "A", stmt.Params["start"])
	assert.NotContains(t, stmt.Cypher, "'A'")
}

func TestTraversalRejectsExcessiveDepth(t *testing.T) {
	_, err := Traversal("A", Outgoing, 51, nil, TraversalOptions{})
	assert.Error(t, err)
}

func TestTraversalRejectsZeroDepth(t *testing.T) {
	_, err := Traversal("A", Outgoing, 0, nil, TraversalOptions{})
	assert.Error(t, err)
}

func TestTraversalDefaultLimit(t *testing.T) {
	stmt, err := Traversal("A", Both, 1, nil, TraversalOptions{})
	require.NoError(t, err)
	assert.Contains(t, stmt.Cypher, "LIMIT 100")
}

func TestTraversalRejectsOutOfRangeLimit(t *testing.T) {
	_, err := Traversal("A", Both, 1, nil, TraversalOptions{ResultLimit: 20000})
	assert.Error(t, err)
}

func TestConnectedExcludesStartNode(t *testing.T) {
	stmt, err := Connected("x", 2, TraversalOptions{})
	require.NoError(t, err)
	assert.Contains(t, stmt.Cypher, "other.id <> $node")
	assert.Contains(t, stmt.Cypher, "LIMIT 1000")
}

func TestShortestPathDefaultsToOne(t *testing.T) {
	stmt, err := ShortestPath("A", "C", 5, TraversalOptions{})
	require.NoError(t, err)
	assert.Contains(t, stmt.Cypher, "SHORTEST 1")
	assert.Contains(t, stmt.Cypher, "LIMIT 1")
}

func TestDirectionPatterns(t *testing.T) {
	out, err := Outgoing.pattern("X")
	require.NoError(t, err)
	assert.Equal(t, "-[rX]->", out)

	in, err := Incoming.pattern("X")
	require.NoError(t, err)
	assert.Equal(t, "<-[rX]-", in)

	both, err := Both.pattern("X")
	require.NoError(t, err)
	assert.Equal(t, "-[rX]-", both)
}

func TestGetEdgesFiltersByType(t *testing.T) {
	stmt := GetEdges("n1", []string{"LIKES"})
	assert.Contains(t, stmt.Cypher, "WHERE r.type IN $edgeTypes")
	assert.Equal(t, []string{"LIKES"}, stmt.Params["edgeTypes"])
}

func TestTraversalRejectsMalformedEdgeType(t *testing.T) {
	_, err := Traversal("A", Outgoing, 2, []string{"CONNECTS]->() MATCH (n"}, TraversalOptions{})
	assert.Error(t, err)
}

func TestTraversalRejectsReservedEdgeType(t *testing.T) {
	_, err := Traversal("A", Outgoing, 2, []string{"DROP"}, TraversalOptions{})
	assert.Error(t, err)
}

func TestTraversalAcceptsValidEdgeTypes(t *testing.T) {
	stmt, err := Traversal("A", Outgoing, 2, []string{"CONNECTS", "LINKS"}, TraversalOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"CONNECTS", "LINKS"}, stmt.Params["edgeTypes"])
}
