// Package partition maps storage keys to partition identifiers for sharded
// document backends (spec.md §4.10).
package partition

import (
	"fmt"
	"go.uber.org/zap"
)

const (
	minCount = 10
	maxCount = 1000
)

// Hasher deterministically assigns keys to one of Count partitions.
type Hasher struct {
	count  int
	logger *zap.Logger
}

// New clamps count into [minCount, maxCount], logging a warning when the
// caller's value was out of range, per spec.md scenario S2.
func New(count int, logger *zap.Logger) *Hasher {
	clamped := count
	if clamped < minCount || clamped > maxCount {
		if logger != nil {
			logger.Warn("partition_count out of range, clamping",
				zap.Int("requested", count),
				zap.Int("min", minCount),
				zap.Int("max", maxCount),
			)
		}
		if clamped < minCount {
			clamped = minCount
		} else {
			clamped = maxCount
		}
	}
	return &Hasher{count: clamped, logger: logger}
}

// Count returns the effective (post-clamp) partition count.
func (h *Hasher) Count() int {
	return h.count
}

// djb2 computes Bernstein's hash: h <- 5381; h <- ((h<<5) + h) + c, wrapped
// to 32 bits.
func djb2(key string) uint32 {
	var h uint32 = 5381
	for i := 0; i < len(key); i++ {
		h = ((h << 5) + h) + uint32(key[i])
	}
	return h
}

// Index returns the partition index in [0, Count()) for key.
func (h *Hasher) Index(key string) int {
	return int(djb2(key) % uint32(h.count))
}

// Partition returns the index rendered as the canonical "partition_<n>" id.
func (h *Hasher) Partition(key string) string {
	return fmt.Sprintf("partition_%d", h.Index(key))
}

// LegacySum is the compatibility alternative noted in spec.md Open Question 1:
// a plain summation of byte values modulo a fixed 10-way split. It exists
// only for bit-exact parity with an older deployment; new callers should use
// Hasher.
func LegacySum(key string) int {
	sum := 0
	for i := 0; i < len(key); i++ {
		sum += int(key[i])
	}
	return sum % 10
}
