package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionForWithoutPartitioning(t *testing.T) {
	a, err := New(Config{URI: "mongodb://localhost", Database: "db", CollectionBase: "docs"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "docs", a.collectionFor("any-key"))
	assert.Equal(t, "docs", a.collectionFor("another-key"))
}

func TestCollectionForWithPartitioning(t *testing.T) {
	a, err := New(Config{URI: "mongodb://localhost", Database: "db", CollectionBase: "docs", PartitionCount: 4}, nil)
	require.NoError(t, err)
	name := a.collectionFor("some-key")
	assert.Contains(t, name, "docs_")
	assert.Equal(t, name, a.collectionFor("some-key"), "hashing must be deterministic")
}

func TestAllCollectionNamesCoversEveryPartition(t *testing.T) {
	a, err := New(Config{URI: "mongodb://localhost", Database: "db", CollectionBase: "docs", PartitionCount: 3}, nil)
	require.NoError(t, err)
	// a PartitionCount of 3 is clamped up to the minimum of 10 partitions
	names := a.allCollectionNames()
	assert.Len(t, names, 10)
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	assert.Len(t, seen, 10, "partition collection names must be distinct")
}

func TestAllCollectionNamesWithoutPartitioning(t *testing.T) {
	a, err := New(Config{URI: "mongodb://localhost", Database: "db", CollectionBase: "docs"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, a.allCollectionNames())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)
}
