package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/paystream/internal/checked"
	"github.com/roach88/paystream/internal/label"
	"github.com/roach88/paystream/internal/ledger"
	"github.com/roach88/paystream/internal/stream"
)

func TestOpError_Message(t *testing.T) {
	err := newError("withdraw", CodeZeroWithdrawalAmount, "withdrawable amount is %d", 0)
	assert.Equal(t, "withdraw: ZERO_WITHDRAWAL_AMOUNT: withdrawable amount is 0", err.Error())

	wrapped := wrap("allocate", checked.ErrOverflow)
	assert.Equal(t, "allocate: OVERFLOW: overflow", wrapped.Error())
}

func TestIsCode_Wrapped(t *testing.T) {
	base := newError("pause_stream", CodeStreamAlreadyPaused, "stream is paused")
	err := fmt.Errorf("host: %w", base)

	assert.True(t, IsCode(err, CodeStreamAlreadyPaused))
	assert.False(t, IsCode(err, CodeStreamAlreadyRunning))
	assert.False(t, IsCode(errors.New("plain"), CodeStreamAlreadyPaused))
}

func TestWrap_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code Code
		kind Kind
	}{
		{"overflow", fmt.Errorf("sum: %w", checked.ErrOverflow), CodeOverflow, KindArithmetic},
		{"invariant", fmt.Errorf("%w: paused", stream.ErrInvariantViolation), CodeInvariantViolation, KindInvariant},
		{"zero rate", stream.ErrInvalidArgument, CodeInvalidArgument, KindValidation},
		{"name", label.ErrTooLong, CodeStringTooLong, KindValidation},
		{"ledger", ledger.ErrInsufficientFunds, CodeInsufficientFunds, KindInsufficientResource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrap("op", tt.err)
			assert.True(t, IsCode(err, tt.code))
			kind, ok := KindOf(err)
			assert.True(t, ok)
			assert.Equal(t, tt.kind, kind)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestWrap_PassesThroughOpErrorAndUnknown(t *testing.T) {
	assert.Nil(t, wrap("op", nil))

	oe := newError("op", CodeInvalidCliff, "cliff")
	assert.Same(t, oe, wrap("other", oe))

	plain := errors.New("disk on fire")
	err := wrap("op", plain)
	assert.ErrorIs(t, err, plain)
	_, ok := KindOf(err)
	assert.False(t, ok)
}

func TestIsInvariantViolation(t *testing.T) {
	assert.True(t, IsInvariantViolation(invariant("close_stream", "totals differ")))
	assert.True(t, IsInvariantViolation(fmt.Errorf("x: %w", ErrInvariantViolation)))
	assert.False(t, IsInvariantViolation(newError("op", CodeInvalidCliff, "cliff")))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "invariant", KindInvariant.String())
	assert.Equal(t, "Kind(9)", Kind(9).String())
}
