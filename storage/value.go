package storage

import (
	"fmt"
	"math/big"
	"reflect"
)

// PreprocessedValue is the tagged-sum-type replacement for dynamic-type
// tricks (spec.md §3, §9 design notes): any value that cannot round-trip
// through a backend's native serialization is rewritten into one of these
// tagged records before storage, and restored on read.
type PreprocessedValue struct {
	Kind PreprocessedKind
	Repr string
	// Scalar holds the original value when Kind == KindScalar; every other
	// kind only needs Repr.
	Scalar interface{}
}

// PreprocessedKind tags a PreprocessedValue.
type PreprocessedKind string

const (
	KindScalar   PreprocessedKind = "scalar"
	KindFunction PreprocessedKind = "function"
	KindSymbol   PreprocessedKind = "symbol"
	KindBigInt   PreprocessedKind = "bigint"
	KindCircular PreprocessedKind = "circular"
)

// Preprocess converts v into a PreprocessedValue, detecting the
// non-serializable shapes spec.md §3 calls out: functions, channels (this
// host language's nearest analogue to the source spec's "symbol"),
// arbitrary-precision integers (*big.Int), and circular structures. Everything else passes through as KindScalar.
func Preprocess(v interface{}) PreprocessedValue {
	if v == nil {
		return PreprocessedValue{Kind: KindScalar, Scalar: nil}
	}

	if bi, ok := v.(*big.Int); ok {
		return PreprocessedValue{Kind: KindBigInt, Repr: bi.String()}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func:
		return PreprocessedValue{Kind: KindFunction, Repr: fmt.Sprintf("func@%v", rv.Pointer())}
	case reflect.Chan:
		return PreprocessedValue{Kind: KindSymbol, Repr: fmt.Sprintf("chan@%v", rv.Pointer())}
	}

	if hasCycle(v, map[uintptr]bool{}) {
		return PreprocessedValue{Kind: KindCircular, Repr: "circular reference"}
	}

	return PreprocessedValue{Kind: KindScalar, Scalar: v}
}

// hasCycle walks maps/slices/pointers looking for a structure that refers
// back to itself. Depth is bounded by the visited set rather than a fixed
// recursion limit, so it terminates on any finite-but-cyclic graph.
func hasCycle(v interface{}, visited map[uintptr]bool) bool {
	rv := reflect.ValueOf(v)
	return hasCycleValue(rv, visited)
}

func hasCycleValue(rv reflect.Value, visited map[uintptr]bool) bool {
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return false
		}
		ptr := rv.Pointer()
		if visited[ptr] {
			return true
		}
		visited[ptr] = true
		defer delete(visited, ptr)
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return hasCycleValue(rv.Elem(), visited)
	case reflect.Map:
		for _, key := range rv.MapKeys() {
			if hasCycleValue(rv.MapIndex(key), visited) {
				return true
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if hasCycleValue(rv.Index(i), visited) {
				return true
			}
		}
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			if rv.Field(i).CanInterface() && hasCycleValue(rv.Field(i), visited) {
				return true
			}
		}
	}
	return false
}

// Restore reverses Preprocess. KindScalar returns the stored value as-is;
// KindBigInt parses Repr back into a *big.Int; every other tagged kind
// (function, symbol, circular) has no usable runtime representation to
// restore to, so the tagged record itself is returned.
func (p PreprocessedValue) Restore() interface{} {
	switch p.Kind {
	case KindScalar:
		return p.Scalar
	case KindBigInt:
		if bi, ok := new(big.Int).SetString(p.Repr, 10); ok {
			return bi
		}
		return p
	default:
		return p
	}
}
