// Package semanticquery translates a declarative SemanticQuery into
// parameterized SQL in the fixed clause order SELECT -> FROM -> WHERE ->
// GROUP BY -> ORDER BY -> LIMIT -> OFFSET (spec.md §4.5).
package semanticquery

import (
	"fmt"
	"strings"

	"github.com/polystore-io/polystore/internal/identifier"
	"github.com/polystore-io/polystore/internal/sqlgen"
	storeerrors "github.com/polystore-io/polystore/pkg/errors"
)

// Operator is a filter comparison operator.
type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "<>"
	OpLessThan     Operator = "<"
	OpLessOrEqual  Operator = "<="
	OpGreaterThan  Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpIn           Operator = "IN"
	OpLike         Operator = "LIKE"
)

// Filter is one WHERE clause term.
type Filter struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// AggOperator is a supported aggregation function.
type AggOperator string

const (
	AggCount AggOperator = "count"
	AggSum   AggOperator = "sum"
	AggAvg   AggOperator = "avg"
	AggMin   AggOperator = "min"
	AggMax   AggOperator = "max"
)

// Aggregation is one SELECT-list aggregation term.
type Aggregation struct {
	Operator AggOperator
	Field    string
	As       string // optional alias; defaults to "{op}_{field}"
}

// OrderTerm is one ORDER BY term.
type OrderTerm struct {
	Field string
	Desc  bool
}

// Query is the declarative object callers build; From is required,
// everything else is optional.
type Query struct {
	From         string
	Select       []string
	Where        []Filter
	GroupBy      []string
	Aggregations []Aggregation
	OrderBy      []OrderTerm
	Limit        *int
	Offset       *int
}

// Statement is the built SQL text plus positional parameters.
type Statement struct {
	SQL    string
	Params []interface{}
}

// Build translates q into a Statement, preserving clause order.
func Build(q Query) (Statement, error) {
	if err := identifier.Validate(q.From); err != nil {
		return Statement{}, err
	}

	selectClause, err := buildSelect(q)
	if err != nil {
		return Statement{}, err
	}

	var b strings.Builder
	var params []interface{}

	b.WriteString("SELECT ")
	b.WriteString(selectClause)
	b.WriteString(" FROM ")
	b.WriteString(q.From)

	if len(q.Where) > 0 {
		clause, whereParams, err := buildWhere(q.Where)
		if err != nil {
			return Statement{}, err
		}
		b.WriteString(" WHERE ")
		b.WriteString(clause)
		params = append(params, whereParams...)
	}

	if len(q.GroupBy) > 0 {
		cols, err := validatedColumns(q.GroupBy)
		if err != nil {
			return Statement{}, err
		}
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(cols, ", "))
	}

	if len(q.OrderBy) > 0 {
		terms := make([]string, len(q.OrderBy))
		for i, t := range q.OrderBy {
			if err := identifier.Validate(t.Field); err != nil {
				return Statement{}, err
			}
			dir := "ASC"
			if t.Desc {
				dir = "DESC"
			}
			terms[i] = fmt.Sprintf("%s %s", t.Field, dir)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}

	clause, err := sqlgen.LimitOffset(q.Limit, q.Offset)
	if err != nil {
		return Statement{}, err
	}
	b.WriteString(clause)

	return Statement{SQL: b.String(), Params: params}, nil
}

func buildSelect(q Query) (string, error) {
	var parts []string
	if len(q.Select) > 0 {
		cols, err := validatedColumns(q.Select)
		if err != nil {
			return "", err
		}
		parts = append(parts, cols...)
	}
	for _, agg := range q.Aggregations {
		if err := identifier.Validate(agg.Field); err != nil {
			return "", err
		}
		alias := agg.As
		if alias == "" {
			alias = fmt.Sprintf("%s_%s", agg.Operator, agg.Field)
		}
		if err := identifier.Validate(alias); err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%s(%s) AS %s", strings.ToUpper(string(agg.Operator)), agg.Field, alias))
	}
	if len(parts) == 0 {
		return "*", nil
	}
	return strings.Join(parts, ", "), nil
}

// BuildWhere builds a parameterized WHERE clause body (the text that would
// follow the `WHERE` keyword, with `?` placeholders) from a filter list, for
// callers that need the same parameterization Query.Where gets without
// building a full Query (e.g. VectorStorage.VectorSearch).
func BuildWhere(filters []Filter) (string, []interface{}, error) {
	return buildWhere(filters)
}

func buildWhere(filters []Filter) (string, []interface{}, error) {
	clauses := make([]string, len(filters))
	params := make([]interface{}, 0, len(filters))
	for i, f := range filters {
		if err := identifier.Validate(f.Field); err != nil {
			return "", nil, err
		}
		if !validOperator(f.Operator) {
			return "", nil, storeerrors.InvalidValue("unsupported filter operator").WithContext("operator", f.Operator)
		}
		clauses[i] = fmt.Sprintf("%s %s ?", f.Field, f.Operator)
		params = append(params, f.Value)
	}
	return strings.Join(clauses, " AND "), params, nil
}

func validOperator(op Operator) bool {
	switch op {
	case OpEqual, OpNotEqual, OpLessThan, OpLessOrEqual, OpGreaterThan, OpGreaterOrEqual, OpIn, OpLike:
		return true
	default:
		return false
	}
}

func validatedColumns(cols []string) ([]string, error) {
	out := make([]string, len(cols))
	for i, c := range cols {
		if err := identifier.Validate(c); err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// Metadata accompanies every envelope returned by a semantic query.
type Metadata struct {
	ExecutionTimeMS float64
	RowsScanned     int64
	FromCache       bool
}

// Envelope is the {data, metadata, errors?} result shape of spec.md §4.5 and
// §6. It never panics or propagates a recoverable backend error; on failure
// Data is empty and Errors carries the message.
type Envelope struct {
	Data     []map[string]interface{}
	Metadata Metadata
	Errors   []string
}

// Failure builds an error envelope from a backend failure, per spec.md
// scenario S6.
func Failure(err error) Envelope {
	return Envelope{
		Data:     []map[string]interface{}{},
		Metadata: Metadata{FromCache: false},
		Errors:   []string{err.Error()},
	}
}
