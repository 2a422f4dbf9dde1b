package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageErrorFormatting(t *testing.T) {
	err := InvalidValue("bad depth").WithContext("depth", 51)
	assert.Equal(t, "INVALID_VALUE: bad depth", err.Error())
	assert.Equal(t, 51, err.Context["depth"])
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindConnectionFailed, "dial failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "caused by: connection refused")
}

func TestIsAndAs(t *testing.T) {
	var err error = QueryFailed("no such table")

	assert.True(t, Is(err, KindQueryFailed))
	assert.False(t, Is(err, KindWriteFailed))

	se, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KindQueryFailed, se.Kind)
}
