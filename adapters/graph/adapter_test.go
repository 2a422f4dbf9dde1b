package graph

import (
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"

	"github.com/polystore-io/polystore/internal/graphquery"
	"github.com/polystore-io/polystore/storage"
)

func TestToDirection(t *testing.T) {
	assert.Equal(t, graphquery.Outgoing, toDirection(storage.DirectionOutgoing))
	assert.Equal(t, graphquery.Incoming, toDirection(storage.DirectionIncoming))
	assert.Equal(t, graphquery.Both, toDirection(storage.DirectionBoth))
	assert.Equal(t, graphquery.Both, toDirection(storage.Direction("bogus")))
}

func TestPathFromRecordMissingColumn(t *testing.T) {
	rec := neo4j.Record{Keys: []string{"other"}, Values: []interface{}{"irrelevant"}}
	_, ok := pathFromRecord(&rec)
	assert.False(t, ok)
}

func TestPathFromRecordWrongType(t *testing.T) {
	rec := neo4j.Record{Keys: []string{"p"}, Values: []interface{}{"not-a-path"}}
	_, ok := pathFromRecord(&rec)
	assert.False(t, ok)
}

func TestConfigValidateRejectsMissingFields(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.NoError(t, Config{URI: "bolt://localhost", Username: "neo4j", Password: "secret"}.Validate())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}
