package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/paystream/internal/checked"
	"github.com/roach88/paystream/internal/label"
	"github.com/roach88/paystream/internal/ledger"
	"github.com/roach88/paystream/internal/stream"
)

// ErrInvariantViolation is wrapped by every post-condition failure. It is the
// same sentinel the stream package uses for corrupted pause bookkeeping.
var ErrInvariantViolation = stream.ErrInvariantViolation

// OpError is the typed error returned by every operation.
//
// An OpError always means the operation was aborted before any record was
// changed. Ledger movements made before a post-condition failed are rolled
// back by the host's transaction.
type OpError struct {
	// Op is the operation that failed, e.g. "withdraw".
	Op string

	// Code identifies the failure.
	Code Code

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Code identifies an operation failure.
type Code string

const (
	CodeNotAuthorized                           Code = "NOT_AUTHORIZED"
	CodeOverflow                                Code = "OVERFLOW"
	CodeInvalidArgument                         Code = "INVALID_ARGUMENT"
	CodeTreasuryNotInitialized                  Code = "TREASURY_NOT_INITIALIZED"
	CodeInvalidTreasuryVersion                  Code = "INVALID_TREASURY_VERSION"
	CodeInvalidTreasury                         Code = "INVALID_TREASURY"
	CodeInvalidTreasurer                        Code = "INVALID_TREASURER"
	CodeInvalidBeneficiary                      Code = "INVALID_BENEFICIARY"
	CodeStreamNotInitialized                    Code = "STREAM_NOT_INITIALIZED"
	CodeInvalidStreamVersion                    Code = "INVALID_STREAM_VERSION"
	CodeInvalidRequestedStreamAllocation        Code = "INVALID_REQUESTED_STREAM_ALLOCATION"
	CodeInvalidWithdrawalAmount                 Code = "INVALID_WITHDRAWAL_AMOUNT"
	CodeStringTooLong                           Code = "STRING_TOO_LONG"
	CodeStreamAlreadyRunning                    Code = "STREAM_ALREADY_RUNNING"
	CodeStreamAlreadyPaused                     Code = "STREAM_ALREADY_PAUSED"
	CodeZeroContributionAmount                  Code = "ZERO_CONTRIBUTION_AMOUNT"
	CodeZeroWithdrawalAmount                    Code = "ZERO_WITHDRAWAL_AMOUNT"
	CodeStreamIsScheduled                       Code = "STREAM_IS_SCHEDULED"
	CodeCloseLockedStreamNotAllowedWhileRunning Code = "CLOSE_LOCKED_STREAM_NOT_ALLOWED_WHILE_RUNNING"
	CodePauseOrResumeLockedStreamNotAllowed     Code = "PAUSE_OR_RESUME_LOCKED_STREAM_NOT_ALLOWED"
	CodeAllocateNotAllowedOnLockedStreams       Code = "ALLOCATE_NOT_ALLOWED_ON_LOCKED_STREAMS"
	CodeInvalidStreamRate                       Code = "INVALID_STREAM_RATE"
	CodeInvalidCliff                            Code = "INVALID_CLIFF"
	CodeInsufficientLamports                    Code = "INSUFFICIENT_LAMPORTS"
	CodeTreasuryContainsStreams                 Code = "TREASURY_CONTAINS_STREAMS"
	CodeInsufficientFunds                       Code = "INSUFFICIENT_FUNDS"
	CodeInsufficientTreasuryBalance             Code = "INSUFFICIENT_TREASURY_BALANCE"
	CodeCannotResumeAutoPausedStream            Code = "CANNOT_RESUME_AUTO_PAUSED_STREAM"
	CodeStreamZeroRemainingAllocation           Code = "STREAM_ZERO_REMAINING_ALLOCATION"
	CodeCannotPauseAndUnpauseOnSameBlockTime    Code = "CANNOT_PAUSE_AND_UNPAUSE_ON_SAME_BLOCK_TIME"
	CodeInvariantViolation                      Code = "INVARIANT_VIOLATION"
)

// Kind groups codes by how a caller should react.
type Kind int

const (
	// KindValidation means a precondition did not hold.
	KindValidation Kind = iota
	// KindArithmetic means a checked operation overflowed.
	KindArithmetic
	// KindInsufficientResource means the request exceeds what is available.
	KindInsufficientResource
	// KindInvariant means a post-condition failed. It is a bug, never a
	// user error.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindArithmetic:
		return "arithmetic"
	case KindInsufficientResource:
		return "insufficient_resource"
	case KindInvariant:
		return "invariant"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Kind classifies the code.
func (c Code) Kind() Kind {
	switch c {
	case CodeOverflow:
		return KindArithmetic
	case CodeInsufficientLamports, CodeInsufficientFunds, CodeInsufficientTreasuryBalance,
		CodeStreamZeroRemainingAllocation, CodeZeroWithdrawalAmount:
		return KindInsufficientResource
	case CodeInvariantViolation:
		return KindInvariant
	default:
		return KindValidation
	}
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *OpError) Unwrap() error {
	return e.Err
}

// Kind returns the code's classification.
func (e *OpError) Kind() Kind {
	return e.Code.Kind()
}

// IsCode reports whether err is an OpError with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code Code) bool {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Code == code
	}
	return false
}

// IsInvariantViolation reports whether err is a failed post-condition.
func IsInvariantViolation(err error) bool {
	return IsCode(err, CodeInvariantViolation) || errors.Is(err, ErrInvariantViolation)
}

// KindOf returns the classification of err, or false if err is not an
// OpError.
func KindOf(err error) (Kind, bool) {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind(), true
	}
	return 0, false
}

func newError(op string, code Code, format string, args ...any) *OpError {
	return &OpError{Op: op, Code: code, Message: fmt.Sprintf(format, args...)}
}

func invariant(op string, format string, args ...any) *OpError {
	return &OpError{
		Op:      op,
		Code:    CodeInvariantViolation,
		Message: fmt.Sprintf(format, args...),
		Err:     ErrInvariantViolation,
	}
}

// wrap classifies an error coming out of a computation or the ledger.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	var code Code
	switch {
	case errors.Is(err, ErrInvariantViolation):
		code = CodeInvariantViolation
	case errors.Is(err, checked.ErrOverflow):
		code = CodeOverflow
	case errors.Is(err, stream.ErrInvalidArgument):
		code = CodeInvalidArgument
	case errors.Is(err, label.ErrTooLong):
		code = CodeStringTooLong
	case errors.Is(err, ledger.ErrInsufficientFunds):
		code = CodeInsufficientFunds
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
	return &OpError{Op: op, Code: code, Err: err}
}
