package checked

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd(t *testing.T) {
	v, err := Add(2, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)

	_, err = Add(math.MaxUint64, 1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestSub(t *testing.T) {
	v, err := Sub(10, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), v)

	_, err = Sub(4, 10)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMul(t *testing.T) {
	v, err := Mul(1<<32, 1<<31)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<63), v)

	_, err = Mul(1<<32, 1<<32)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestDiv(t *testing.T) {
	v, err := Div(7, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	_, err = Div(7, 0)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMulDiv(t *testing.T) {
	tests := []struct {
		name    string
		a, b, c uint64
		want    uint64
		wantErr bool
	}{
		{name: "simple", a: 5, b: 3, c: 2, want: 7},
		{name: "wide intermediate", a: math.MaxUint64, b: 2, c: 4, want: math.MaxInt64},
		{name: "exact max", a: math.MaxUint64, b: 1, c: 1, want: math.MaxUint64},
		{name: "quotient overflow", a: math.MaxUint64, b: 2, c: 1, wantErr: true},
		{name: "zero divisor", a: 1, b: 1, c: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulDiv(tt.a, tt.b, tt.c)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrOverflow)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSum(t *testing.T) {
	v, err := Sum(1, 2, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), v)

	_, err = Sum(math.MaxUint64, 0, 1)
	assert.ErrorIs(t, err, ErrOverflow)
}
