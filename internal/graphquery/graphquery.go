// Package graphquery builds parameterized Cypher-like statements for the
// native-graph backend (spec.md §4.4). Every identifier-shaped value (node
// ids, edge ids, type lists) is bound as a named parameter; only the
// direction clause (chosen from a fixed enum) and integer-validated depth /
// result-limit bounds are ever embedded as literal text.
package graphquery

import (
	"fmt"

	"github.com/polystore-io/polystore/internal/identifier"
	storeerrors "github.com/polystore-io/polystore/pkg/errors"
)

const (
	MaxDepth          = 50
	MinResultLimit    = 1
	MaxResultLimit    = 10000
	DefaultTraversal  = 100
	DefaultConnected  = 1000
	DefaultShortest   = 1
)

// Direction is a fixed enum; no direction value is ever interpolated from
// user input.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
	Both     Direction = "both"
)

// pattern renders a relationship pattern for the given direction, with
// `%s` as the placeholder for the relationship length body
// (e.g. "*1..3").
func (d Direction) pattern(body string) (string, error) {
	switch d {
	case Outgoing:
		return fmt.Sprintf("-[r%s]->", body), nil
	case Incoming:
		return fmt.Sprintf("<-[r%s]-", body), nil
	case Both:
		return fmt.Sprintf("-[r%s]-", body), nil
	default:
		return "", storeerrors.InvalidValue("unknown traversal direction").WithContext("direction", string(d))
	}
}

// Statement pairs Cypher text with named parameters.
type Statement struct {
	Cypher string
	Params map[string]interface{}
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

// validateEdgeTypes runs every edge type through the Identifier Validator.
// Traversal binds the type list as the $edgeTypes parameter; this check
// keeps edge-type names identifier-shaped as well.
func validateEdgeTypes(edgeTypes []string) error {
	for _, t := range edgeTypes {
		if err := identifier.Validate(t); err != nil {
			return err
		}
	}
	return nil
}

// StoreNode upserts a node by id, plus an auxiliary mapping from the
// caller's storage key to the node id.
func StoreNode(storageKey, id, nodeType string, data map[string]interface{}) Statement {
	return Statement{
		Cypher: `MERGE (n {id: $id})
		          SET n.type = $type, n += $props, n.storage_key = $storageKey`,
		Params: map[string]interface{}{
			"id": id, "type": nodeType, "props": data, "storageKey": storageKey,
		},
	}
}

// DeleteNode detach-deletes a node and every edge touching it.
func DeleteNode(id string) Statement {
	return Statement{
		Cypher: `MATCH (n {id: $id}) DETACH DELETE n`,
		Params: map[string]interface{}{"id": id},
	}
}

// CreateEdge inserts a relationship between two existing endpoints.
func CreateEdge(from, to, edgeType string, data map[string]interface{}) Statement {
	return Statement{
		Cypher: `MATCH (a {id: $from}), (b {id: $to})
		          MERGE (a)-[r:RELATES {type: $edgeType}]->(b)
		          SET r += $props`,
		Params: map[string]interface{}{
			"from": from, "to": to, "edgeType": edgeType, "props": data,
		},
	}
}

// GetEdges returns bidirectional adjacency for a node, optionally filtered
// by edge type.
func GetEdges(nodeID string, edgeTypes []string) Statement {
	params := map[string]interface{}{"nodeID": nodeID}
	filter := ""
	if len(edgeTypes) > 0 {
		filter = " WHERE r.type IN $edgeTypes"
		params["edgeTypes"] = edgeTypes
	}
	cypher := fmt.Sprintf(`MATCH (n {id: $nodeID})-[r]-(m)%s RETURN r, m`, filter)
	return Statement{Cypher: cypher, Params: params}
}

// TraversalOptions configures Traversal and Connected.
type TraversalOptions struct {
	ResultLimit int // 0 means "use the operation's default"
}

// Traversal builds the variable-length relationship traversal of spec.md
// §4.4: `[*1..max_depth]` rendered with an integer-validated literal bound.
func Traversal(start string, direction Direction, maxDepth int, edgeTypes []string, opts TraversalOptions) (Statement, error) {
	if err := validateDepth(maxDepth); err != nil {
		return Statement{}, err
	}
	limit := opts.ResultLimit
	if limit == 0 {
		limit = DefaultTraversal
	}
	if err := validateLimit(limit); err != nil {
		return Statement{}, err
	}

	if err := validateEdgeTypes(edgeTypes); err != nil {
		return Statement{}, err
	}

	typeFilter := ""
	params := map[string]interface{}{"start": start}
	if len(edgeTypes) > 0 {
		typeFilter = " WHERE all(rel IN relationships(p) WHERE rel.type IN $edgeTypes)"
		params["edgeTypes"] = edgeTypes
	}
	rel, err := direction.pattern(fmt.Sprintf("*1..%d", maxDepth))
	if err != nil {
		return Statement{}, err
	}

	cypher := fmt.Sprintf(
		`MATCH p = (start {id: $start})%s(end)%s
		 RETURN p, length(p) AS path_length
		 ORDER BY path_length
		 LIMIT %d`, rel, typeFilter, limit)
	return Statement{Cypher: cypher, Params: params}, nil
}

// Connected builds the bidirectional connected-within-depth query, excluding
// the start node and collapsing duplicates.
func Connected(node string, depth int, opts TraversalOptions) (Statement, error) {
	if err := validateDepth(depth); err != nil {
		return Statement{}, err
	}
	limit := opts.ResultLimit
	if limit == 0 {
		limit = DefaultConnected
	}
	if err := validateLimit(limit); err != nil {
		return Statement{}, err
	}

	cypher := fmt.Sprintf(
		`MATCH (start {id: $node})-[*1..%d]-(other)
		 WHERE other.id <> $node
		 RETURN DISTINCT other
		 LIMIT %d`, depth, limit)
	return Statement{Cypher: cypher, Params: map[string]interface{}{"node": node}}, nil
}

// ShortestPath builds a bounded-length SHORTEST path expression between two
// nodes.
func ShortestPath(from, to string, maxDepth int, opts TraversalOptions) (Statement, error) {
	if err := validateDepth(maxDepth); err != nil {
		return Statement{}, err
	}
	limit := opts.ResultLimit
	if limit == 0 {
		limit = DefaultShortest
	}
	if err := validateLimit(limit); err != nil {
		return Statement{}, err
	}

	cypher := fmt.Sprintf(
		`MATCH p = SHORTEST 1 (a {id: $from})-[*1..%d]-(b {id: $to})
		 RETURN p, length(p) AS path_length
		 LIMIT %d`, maxDepth, limit)
	return Statement{
		Cypher: cypher,
		Params: map[string]interface{}{"from": from, "to": to},
	}, nil
}
