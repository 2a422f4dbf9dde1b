package typemapper

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polystore-io/polystore/storage"
)

func TestBindScalarTypes(t *testing.T) {
	bound, err := Bind([]interface{}{nil, "hi", 3, 3.5, true})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{nil, "hi", int64(3), 3.5, true}, bound)
}

func TestBindEncodesComposites(t *testing.T) {
	bound, err := Bind([]interface{}{map[string]interface{}{"a": 1}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, bound[0])
}

func TestConvertPlaceholders(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", ConvertPlaceholders("SELECT * FROM t WHERE a = ? AND b = ?"))
}

func TestProcessLargeIntegersWithinRange(t *testing.T) {
	rows := []map[string]interface{}{{"n": big.NewInt(42)}}
	out := ProcessLargeIntegers(rows)
	assert.Equal(t, int64(42), out[0]["n"])
}

func TestProcessLargeIntegersOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 100)
	rows := []map[string]interface{}{{"n": huge}}
	out := ProcessLargeIntegers(rows)
	assert.Equal(t, huge.String(), out[0]["n"])
}

func TestToStorageAndFromStorageRoundTrip(t *testing.T) {
	v, err := ToStorage(map[string]interface{}{"name": "O'Reilly"})
	require.NoError(t, err)

	decoded := FromStorage(v.(string))
	assert.Equal(t, map[string]interface{}{"name": "O'Reilly"}, decoded)
}

func TestFromStoragePassesThroughPlainStrings(t *testing.T) {
	assert.Equal(t, "not json", FromStorage("not json"))
}

func TestToStorageAndFromStorageRoundTripBigInt(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 100)
	v, err := ToStorage(huge)
	require.NoError(t, err)

	decoded := FromStorage(v.(string))
	restored, ok := decoded.(*big.Int)
	require.True(t, ok)
	assert.Equal(t, 0, huge.Cmp(restored))
}

func TestToStorageAndFromStorageRoundTripFunction(t *testing.T) {
	v, err := ToStorage(func() {})
	require.NoError(t, err)

	decoded := FromStorage(v.(string))
	pv, ok := decoded.(storage.PreprocessedValue)
	require.True(t, ok, "a function has no restorable scalar; the tagged record itself comes back")
	assert.Equal(t, storage.KindFunction, pv.Kind)
}

func TestIsValidStorageRejectsOversizeStrings(t *testing.T) {
	oversize := make([]byte, maxStorageBytes+1)
	assert.False(t, IsValidStorage(string(oversize)))
	assert.True(t, IsValidStorage("small"))
	assert.True(t, IsValidStorage(42))
}
