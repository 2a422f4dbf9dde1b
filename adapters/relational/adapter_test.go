package relational

import (
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polystore-io/polystore/internal/semanticquery"
	"github.com/polystore-io/polystore/storage"
)

func TestDistanceOperator(t *testing.T) {
	cases := []struct {
		metric storage.DistanceMetric
		want   string
	}{
		{storage.MetricCosine, "<=>"},
		{storage.MetricEuclidean, "<->"},
		{storage.MetricInnerProduct, "<#>"},
		{storage.DistanceMetric("unknown"), "<=>"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, distanceOperator(c.metric))
	}
}

func TestJoinIdentifiers(t *testing.T) {
	assert.Equal(t, "", joinIdentifiers(nil))
	assert.Equal(t, "a", joinIdentifiers([]string{"a"}))
	assert.Equal(t, "a, b, c", joinIdentifiers([]string{"a", "b", "c"}))
}

type fakeSQLState struct{ code string }

func (f fakeSQLState) Error() string  { return "pg error" }
func (f fakeSQLState) SQLState() string { return f.code }

type wrappedErr struct{ cause error }

func (w wrappedErr) Error() string  { return "wrapped: " + w.cause.Error() }
func (w wrappedErr) Unwrap() error { return w.cause }

func TestAlreadyExists(t *testing.T) {
	assert.True(t, alreadyExists(fakeSQLState{code: "42P07"}))
	assert.True(t, alreadyExists(fakeSQLState{code: "42710"}))
	assert.False(t, alreadyExists(fakeSQLState{code: "42601"}))
	assert.True(t, alreadyExists(wrappedErr{cause: fakeSQLState{code: "42P07"}}))
}

func TestConfigValidateRejectsMissingFields(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.NoError(t, Config{DSN: "postgres://localhost", Table: "kv"}.Validate())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestBuildVectorSearchSQLPlainLimit(t *testing.T) {
	vec := pgvector.NewVector([]float32{1, 2, 3})
	sql, params, err := buildVectorSearchSQL("items", vec, storage.VectorSearchOptions{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, "SELECT *, embedding <=> ? AS distance FROM items ORDER BY distance LIMIT ?", sql)
	assert.Equal(t, []interface{}{vec, 5}, params)
}

func TestBuildVectorSearchSQLWithFilters(t *testing.T) {
	vec := pgvector.NewVector([]float32{1, 2, 3})
	opts := storage.VectorSearchOptions{
		Limit:   5,
		Filters: []semanticquery.Filter{{Field: "category", Operator: semanticquery.OpEqual, Value: "books"}},
	}
	sql, params, err := buildVectorSearchSQL("items", vec, opts)
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE category = ?")
	assert.Equal(t, []interface{}{vec, "books", 5}, params)
}

func TestBuildVectorSearchSQLWithThreshold(t *testing.T) {
	vec := pgvector.NewVector([]float32{1, 2, 3})
	threshold := 0.25
	opts := storage.VectorSearchOptions{Limit: 5, Threshold: &threshold}
	sql, params, err := buildVectorSearchSQL("items", vec, opts)
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE (embedding <=> ?) <= ?")
	assert.Equal(t, []interface{}{vec, vec, threshold, 5}, params)
}

func TestBuildVectorSearchSQLWithFiltersAndThreshold(t *testing.T) {
	vec := pgvector.NewVector([]float32{1, 2, 3})
	threshold := 0.5
	opts := storage.VectorSearchOptions{
		Limit:     5,
		Threshold: &threshold,
		Filters:   []semanticquery.Filter{{Field: "category", Operator: semanticquery.OpEqual, Value: "books"}},
	}
	sql, params, err := buildVectorSearchSQL("items", vec, opts)
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE category = ? AND (embedding <=> ?) <= ?")
	assert.Equal(t, []interface{}{vec, "books", vec, threshold, 5}, params)
}

func TestBuildVectorSearchSQLRejectsInvalidFilterField(t *testing.T) {
	vec := pgvector.NewVector([]float32{1, 2, 3})
	opts := storage.VectorSearchOptions{
		Filters: []semanticquery.Filter{{Field: "bad field", Operator: semanticquery.OpEqual, Value: 1}},
	}
	_, _, err := buildVectorSearchSQL("items", vec, opts)
	assert.Error(t, err)
}
