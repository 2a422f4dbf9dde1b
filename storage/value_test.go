package storage

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreprocessScalarsPassThrough(t *testing.T) {
	pv := Preprocess(42)
	assert.Equal(t, KindScalar, pv.Kind)
	assert.Equal(t, 42, pv.Restore())
}

func TestPreprocessNil(t *testing.T) {
	pv := Preprocess(nil)
	assert.Equal(t, KindScalar, pv.Kind)
	assert.Nil(t, pv.Restore())
}

func TestPreprocessFunction(t *testing.T) {
	pv := Preprocess(func() {})
	assert.Equal(t, KindFunction, pv.Kind)
	assert.Contains(t, pv.Repr, "func@")
}

func TestPreprocessChannel(t *testing.T) {
	pv := Preprocess(make(chan int))
	assert.Equal(t, KindSymbol, pv.Kind)
	assert.Contains(t, pv.Repr, "chan@")
}

func TestPreprocessBigIntRoundTrip(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	pv := Preprocess(huge)
	assert.Equal(t, KindBigInt, pv.Kind)
	assert.Equal(t, huge.String(), pv.Repr)

	restored, ok := pv.Restore().(*big.Int)
	assert.True(t, ok)
	assert.Equal(t, 0, huge.Cmp(restored))
}

func TestPreprocessCircularSlice(t *testing.T) {
	s := make([]interface{}, 1)
	s[0] = s
	pv := Preprocess(s)
	assert.Equal(t, KindCircular, pv.Kind)
}

func TestPreprocessCircularMap(t *testing.T) {
	m := map[string]interface{}{}
	m["self"] = m
	pv := Preprocess(m)
	assert.Equal(t, KindCircular, pv.Kind)
}
