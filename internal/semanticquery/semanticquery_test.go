package semanticquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPreservesClauseOrder(t *testing.T) {
	limit := 10
	offset := 5
	q := Query{
		From:   "events",
		Select: []string{"id", "kind"},
		Where: []Filter{
			{Field: "kind", Operator: OpEqual, Value: "click"},
		},
		GroupBy:      []string{"kind"},
		Aggregations: []Aggregation{{Operator: AggCount, Field: "id"}},
		OrderBy:      []OrderTerm{{Field: "kind", Desc: true}},
		Limit:        &limit,
		Offset:       &offset,
	}

	stmt, err := Build(q)
	require.NoError(t, err)

	selectIdx := 0
	fromIdx := indexOf(stmt.SQL, "FROM")
	whereIdx := indexOf(stmt.SQL, "WHERE")
	groupIdx := indexOf(stmt.SQL, "GROUP BY")
	orderIdx := indexOf(stmt.SQL, "ORDER BY")
	limitIdx := indexOf(stmt.SQL, "LIMIT")
	offsetIdx := indexOf(stmt.SQL, "OFFSET")

	assert.True(t, selectIdx < fromIdx)
	assert.True(t, fromIdx < whereIdx)
	assert.True(t, whereIdx < groupIdx)
	assert.True(t, groupIdx < orderIdx)
	assert.True(t, orderIdx < limitIdx)
	assert.True(t, limitIdx < offsetIdx)
	assert.Equal(t, []interface{}{"click"}, stmt.Params)
}

func TestBuildAggregationDefaultAlias(t *testing.T) {
	q := Query{From: "events", Aggregations: []Aggregation{{Operator: AggSum, Field: "amount"}}}
	stmt, err := Build(q)
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "SUM(amount) AS sum_amount")
}

func TestBuildRejectsBadFromIdentifier(t *testing.T) {
	_, err := Build(Query{From: "events; DROP TABLE users"})
	assert.Error(t, err)
}

func TestBuildRejectsUnknownOperator(t *testing.T) {
	_, err := Build(Query{From: "events", Where: []Filter{{Field: "a", Operator: "DROP", Value: 1}}})
	assert.Error(t, err)
}

func TestFailureEnvelope(t *testing.T) {
	env := Failure(assert.AnError)
	assert.Empty(t, env.Data)
	assert.False(t, env.Metadata.FromCache)
	assert.Len(t, env.Errors, 1)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
