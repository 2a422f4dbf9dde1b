package identifier

import (
	"strings"
	"testing"

	storeerrors "github.com/polystore-io/polystore/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAccepts(t *testing.T) {
	assert.NoError(t, Validate("nodes"))
	assert.NoError(t, Validate("_private"))
	assert.NoError(t, Validate("edge_types_2"))
}

func TestValidateRejectsEmpty(t *testing.T) {
	err := Validate("   ")
	require.Error(t, err)
	se, ok := storeerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, storeerrors.KindInvalidValue, se.Kind)
}

func TestValidateRejectsPattern(t *testing.T) {
	assert.Error(t, Validate("1table"))
	assert.Error(t, Validate("drop table users;--"))
	assert.Error(t, Validate("weird name"))
}

func TestValidateRejectsReservedCaseInsensitive(t *testing.T) {
	assert.Error(t, Validate("SELECT"))
	assert.Error(t, Validate("Table"))
}

func TestValidateRejectsTooLong(t *testing.T) {
	assert.Error(t, Validate(strings.Repeat("a", 129)))
}

func TestSanitizeFixesLeadingDigit(t *testing.T) {
	assert.Equal(t, "table_1table", Sanitize("1table"))
}

func TestSanitizeReplacesInvalidChars(t *testing.T) {
	assert.Equal(t, "drop_table_users___", Sanitize("drop table users;--"))
}

func TestSanitizeHandlesReserved(t *testing.T) {
	assert.Equal(t, "table_select", Sanitize("select"))
}

func TestSanitizeTruncates(t *testing.T) {
	assert.Len(t, Sanitize(strings.Repeat("a", 200)), maxLength)
}
