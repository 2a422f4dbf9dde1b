package columnar

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlreadyExists(t *testing.T) {
	assert.True(t, alreadyExists(errors.New(`Catalog Error: Table "widgets" already exists`)))
	assert.True(t, alreadyExists(errors.New(`Catalog Error: Index "idx" already exists!`)))
	assert.False(t, alreadyExists(errors.New("syntax error near SELECT")))
}

func TestConfigValidateRejectsMissingFields(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.NoError(t, Config{DSN: ":memory:", Table: "kv"}.Validate())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}
