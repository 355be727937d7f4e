package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedTokenGenerator_ReturnsSameToken(t *testing.T) {
	gen := NewFixedTokenGenerator("test-token-123")

	assert.Equal(t, "test-token-123", gen.Generate())
	assert.Equal(t, "test-token-123", gen.Generate())
}

func TestFixedTokenGenerator_EmptyTokenDefault(t *testing.T) {
	gen := NewFixedTokenGenerator("")
	assert.Equal(t, "test-token-default", gen.Generate())
}

func TestKey(t *testing.T) {
	k := Key(7)
	for _, b := range k {
		assert.Equal(t, byte(7), b)
	}
	assert.NotEqual(t, Key(7), Key(8))
}

func TestNamedKey(t *testing.T) {
	assert.Equal(t, NamedKey("alice"), NamedKey("alice"))
	assert.NotEqual(t, NamedKey("alice"), NamedKey("bob"))
	assert.False(t, NamedKey("").IsZero())
}
