package label

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b, err := Encode("payroll")
	require.NoError(t, err)
	assert.Equal(t, byte(' '), b[Size-1])
	assert.Equal(t, "payroll", Decode(b))
}

func TestEncodeRejectsLongNames(t *testing.T) {
	_, err := Encode(strings.Repeat("x", Size+1))
	assert.ErrorIs(t, err, ErrTooLong)

	_, err = Encode(strings.Repeat("x", Size))
	assert.NoError(t, err)
}

func TestEncodeNormalizesToNFC(t *testing.T) {
	// "e" + combining acute accent composes to a single code point
	b, err := Encode("cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9", Decode(b))
}
