// Package typemapper converts between host values and backend-native
// parameter/result types (spec.md §4.2). It is consulted on the read and
// write paths of the relational, columnar and document adapters so that they
// share one notion of "what does a value look like on the wire".
package typemapper

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	storeerrors "github.com/polystore-io/polystore/pkg/errors"
	"github.com/polystore-io/polystore/storage"
)

// preprocessedTag marks a JSON-encoded storage.PreprocessedValue so
// FromStorage can tell it apart from an ordinary JSON document on the way
// back in.
const preprocessedTag = "__polystore_preprocessed__"

type preprocessedEnvelope struct {
	Tag  string `json:"__polystore_preprocessed__"`
	Kind string `json:"kind"`
	Repr string `json:"repr"`
}

// maxStorageBytes bounds the size of a single serialized value (spec.md §4.2).
const maxStorageBytes = 1 << 20 // 1,048,576 bytes

// Bind maps a slice of runtime parameter values onto the driver-native
// representation described in spec.md §4.2:
//   - nil            -> nil (NULL)
//   - string         -> string (varchar)
//   - int/int64      -> int64
//   - float64        -> float64
//   - bool           -> bool
//   - everything else -> JSON-encoded string
func Bind(params []interface{}) ([]interface{}, error) {
	bound := make([]interface{}, len(params))
	for i, p := range params {
		v, err := bindOne(p)
		if err != nil {
			return nil, storeerrors.Wrap(storeerrors.KindSerializationFailed,
				fmt.Sprintf("failed to bind parameter %d", i), err)
		}
		bound[i] = v
	}
	return bound, nil
}

func bindOne(p interface{}) (interface{}, error) {
	switch v := p.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case bool:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	}
}

// BindNamed applies the same host->wire value mapping as Bind but over a
// named-parameter map, for drivers (Mongo BSON, Neo4j Cypher parameters)
// that take named rather than positional parameters and so never go
// through ConvertPlaceholders.
func BindNamed(params map[string]interface{}) (map[string]interface{}, error) {
	bound := make(map[string]interface{}, len(params))
	for k, v := range params {
		bv, err := bindOne(v)
		if err != nil {
			return nil, storeerrors.Wrap(storeerrors.KindSerializationFailed,
				fmt.Sprintf("failed to bind parameter %q", k), err)
		}
		bound[k] = bv
	}
	return bound, nil
}

var placeholderPattern = regexp.MustCompile(`\?`)

// ConvertPlaceholders rewrites `?` positional markers into `$1, $2, ...`
// numbered markers, for drivers (pgx) that require numbered parameters.
func ConvertPlaceholders(sql string) string {
	n := 0
	return placeholderPattern.ReplaceAllStringFunc(sql, func(string) string {
		n++
		return "$" + strconv.Itoa(n)
	})
}

// safeIntegerCutoff mirrors the host language's safe-integer boundary
// (2^53 - 1) used to decide whether an arbitrary-precision integer can be
// represented as a plain number or must be downgraded to a string.
var safeIntegerCutoff = big.NewInt(1<<53 - 1)

// ProcessLargeIntegers walks each row (a map of column name to value) and
// replaces *big.Int values that exceed the safe-integer cutoff with their
// decimal string form; values within range are converted to int64.
func ProcessLargeIntegers(rows []map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		converted := make(map[string]interface{}, len(row))
		for k, v := range row {
			converted[k] = normalizeLargeInteger(v)
		}
		out[i] = converted
	}
	return out
}

func normalizeLargeInteger(v interface{}) interface{} {
	bi, ok := v.(*big.Int)
	if !ok {
		return v
	}
	neg := new(big.Int).Neg(bi)
	if bi.CmpAbs(safeIntegerCutoff) <= 0 || neg.CmpAbs(safeIntegerCutoff) <= 0 {
		if bi.IsInt64() {
			return bi.Int64()
		}
	}
	return bi.String()
}

// ToStorage returns scalars unchanged and JSON-encodes everything else, for
// backends (like the document store) that store a single opaque value
// column. Non-serializable shapes (functions, channels, circular structures,
// *big.Int) are first run through storage.Preprocess so they round-trip via
// FromStorage instead of failing json.Marshal or silently losing precision.
func ToStorage(v interface{}) (interface{}, error) {
	switch v.(type) {
	case nil, string, bool, int, int64, float64:
		return v, nil
	}

	pv := storage.Preprocess(v)
	if pv.Kind != storage.KindScalar {
		encoded, err := json.Marshal(preprocessedEnvelope{Tag: preprocessedTag, Kind: string(pv.Kind), Repr: pv.Repr})
		if err != nil {
			return nil, storeerrors.Wrap(storeerrors.KindSerializationFailed, "failed to encode preprocessed value", err)
		}
		return string(encoded), nil
	}

	encoded, err := json.Marshal(pv.Scalar)
	if err != nil {
		return nil, storeerrors.Wrap(storeerrors.KindSerializationFailed, "failed to encode value", err)
	}
	return string(encoded), nil
}

// FromStorage parses s as JSON when it looks like a JSON document or array,
// otherwise passes it through unchanged. A decoded object carrying the
// preprocessed tag is restored via storage.PreprocessedValue.Restore rather
// than returned as a plain map.
func FromStorage(s string) interface{} {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return s
	}

	var env preprocessedEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err == nil && env.Tag == preprocessedTag {
		pv := storage.PreprocessedValue{Kind: storage.PreprocessedKind(env.Kind), Repr: env.Repr}
		return pv.Restore()
	}

	var v interface{}
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return s
	}
	return v
}

// IsValidStorage rejects strings longer than maxStorageBytes; every other
// value is considered storable (serialization errors surface at ToStorage
// time instead).
func IsValidStorage(v interface{}) bool {
	s, ok := v.(string)
	if !ok {
		return true
	}
	return len(s) <= maxStorageBytes
}
