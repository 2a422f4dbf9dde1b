package partition

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestIndexIsDeterministic(t *testing.T) {
	h := New(100, nil)
	a := h.Index("user-42")
	b := h.Index("user-42")
	assert.Equal(t, a, b)
}

func TestIndexWithinRange(t *testing.T) {
	h := New(100, nil)
	for _, key := range []string{"a", "b", "c", "long-key-value-here"} {
		idx := h.Index(key)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, h.Count())
	}
}

func TestClampsLowAndLogsWarning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	h := New(5, zap.New(core))
	assert.Equal(t, minCount, h.Count())
	assert.Equal(t, 1, logs.Len())
}

func TestClampsHigh(t *testing.T) {
	h := New(5000, nil)
	assert.Equal(t, maxCount, h.Count())
}

func TestPartitionFormat(t *testing.T) {
	h := New(10, nil)
	p := h.Partition("x")
	assert.True(t, strings.HasPrefix(p, "partition_"))
}

func TestLegacySumDeterministic(t *testing.T) {
	assert.Equal(t, LegacySum("hello"), LegacySum("hello"))
}
