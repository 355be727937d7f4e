// Package stream models a single beneficiary's vesting schedule and derives
// its status and withdrawable balance from explicit time.
//
// All computations are pure: they read the record and the supplied unix
// timestamp and never mutate anything. The only mutators are ResolveCliff and
// NormalizeStartUTC, which the engine calls on a working copy.
//
// Arithmetic goes through package checked; any overflow surfaces as
// checked.ErrOverflow. Corrupted pause bookkeeping (more paused seconds than
// elapsed seconds) surfaces as ErrInvariantViolation.
package stream

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/paystream/internal/checked"
	"github.com/roach88/paystream/internal/fees"
	"github.com/roach88/paystream/internal/label"
)

// Version is the only record version the engine accepts.
const Version uint8 = 2

// CliffPercentDenominator scales the deprecated cliff percent field.
const CliffPercentDenominator = fees.DefaultPercentDenominator

var (
	// ErrInvariantViolation marks bookkeeping that can only be reached
	// through a bug or a corrupted record.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrInvalidArgument is returned when a running stream has a zero rate.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Status is the derived state of a stream at a given time.
type Status uint8

const (
	Scheduled Status = iota
	Running
	Paused
)

func (s Status) String() string {
	switch s {
	case Scheduled:
		return "Scheduled"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Stream is the persisted vesting schedule of one beneficiary.
type Stream struct {
	Version     uint8
	Initialized bool
	Name        [label.Size]byte

	Treasurer          solana.PublicKey
	Beneficiary        solana.PublicKey
	BeneficiaryHolding solana.PublicKey
	Treasury           solana.PublicKey

	// Units released per interval. Both zero means a one-time cliff payout.
	RateAmountUnits       uint64
	RateIntervalInSeconds uint64

	// StartUTC is seconds once StartUTCInSeconds is non-zero; legacy records
	// carry milliseconds until the first mutation normalizes them.
	StartUTC          uint64
	StartUTCInSeconds uint64

	CliffVestAmountUnits uint64
	// Deprecated: resolved into CliffVestAmountUnits on first touch.
	CliffVestPercent uint64

	AllocationAssignedUnits uint64
	TotalWithdrawalsUnits   uint64

	LastWithdrawalUnits     uint64
	LastWithdrawalSlot      uint64
	LastWithdrawalBlockTime uint64

	LastManualStopWithdrawableUnitsSnap uint64
	LastManualStopSlot                  uint64
	LastManualStopBlockTime             uint64

	LastManualResumeRemainingAllocationUnitsSnap uint64
	LastManualResumeSlot                         uint64
	LastManualResumeBlockTime                    uint64

	LastKnownTotalSecondsInPausedStatus uint64
	// Estimated moment funds ran out; set when Allocate revives the stream.
	LastAutoStopBlockTime uint64

	FeePayedByTreasurer bool
	CreatedOnUTC        uint64
}

// DisplayName returns the decoded stream name.
func (s *Stream) DisplayName() string {
	return label.Decode(s.Name)
}

// StartSeconds returns the start time in seconds, converting a legacy
// millisecond value without storing it.
func (s *Stream) StartSeconds() uint64 {
	if s.StartUTCInSeconds > 0 {
		return s.StartUTC
	}
	return s.StartUTC / 1000
}

// NormalizeStartUTC stores the start time in seconds. It is a no-op once the
// record has been normalized.
func (s *Stream) NormalizeStartUTC() {
	if s.StartUTCInSeconds != 0 {
		return
	}
	seconds := s.StartSeconds()
	s.StartUTC = seconds
	s.StartUTCInSeconds = seconds
}

// CliffUnits returns the absolute cliff amount. The percent form is evaluated
// against the current allocation.
func (s *Stream) CliffUnits() (uint64, error) {
	if s.CliffVestPercent > 0 {
		return checked.MulDiv(s.CliffVestPercent, s.AllocationAssignedUnits, CliffPercentDenominator)
	}
	return s.CliffVestAmountUnits, nil
}

// ResolveCliff replaces the percent cliff with its absolute amount.
func (s *Stream) ResolveCliff() error {
	cliff, err := s.CliffUnits()
	if err != nil {
		return err
	}
	s.CliffVestAmountUnits = cliff
	s.CliffVestPercent = 0
	return nil
}

// IsManuallyPaused reports whether the last manual stop is newer than the
// last resume.
func (s *Stream) IsManuallyPaused() bool {
	if s.LastManualStopBlockTime == 0 {
		return false
	}
	return s.LastManualStopBlockTime > s.LastManualResumeBlockTime
}

// LastKnownStopBlockTime is the latest stop, automatic or manual.
func (s *Stream) LastKnownStopBlockTime() uint64 {
	return max(s.LastAutoStopBlockTime, s.LastManualStopBlockTime)
}

// RemainingAllocation is allocation minus withdrawals.
func (s *Stream) RemainingAllocation() (uint64, error) {
	return checked.Sub(s.AllocationAssignedUnits, s.TotalWithdrawalsUnits)
}

// streamable is the allocation that vests over time (allocation minus cliff).
func (s *Stream) streamable() (uint64, error) {
	cliff, err := s.CliffUnits()
	if err != nil {
		return 0, err
	}
	return checked.Sub(s.AllocationAssignedUnits, cliff)
}

// StreamedUnits returns the units vested by the rate alone after the given
// number of running seconds, capped at the streamable allocation. The cliff
// is not included.
func (s *Stream) StreamedUnits(seconds uint64) (uint64, error) {
	if s.RateIntervalInSeconds == 0 {
		return 0, nil
	}
	streamable, err := s.streamable()
	if err != nil {
		return 0, err
	}
	fullStreamingSeconds, err := checked.MulDiv(streamable, s.RateIntervalInSeconds, s.RateAmountUnits)
	if err != nil {
		return 0, err
	}
	if seconds >= fullStreamingSeconds {
		return streamable, nil
	}
	return checked.MulDiv(s.RateAmountUnits, seconds, s.RateIntervalInSeconds)
}

// earned returns cliff plus units streamed during the running seconds
// elapsed until now, that is seconds since start minus seconds paused.
func (s *Stream) earned(now uint64) (uint64, error) {
	cliff, err := s.CliffUnits()
	if err != nil {
		return 0, err
	}
	sinceStart, err := checked.Sub(now, s.StartSeconds())
	if err != nil {
		return 0, err
	}
	running, err := checked.Sub(sinceStart, s.LastKnownTotalSecondsInPausedStatus)
	if err != nil {
		return 0, fmt.Errorf("%w: %d seconds paused exceed %d seconds since start",
			ErrInvariantViolation, s.LastKnownTotalSecondsInPausedStatus, sinceStart)
	}
	streamed, err := s.StreamedUnits(running)
	if err != nil {
		return 0, err
	}
	return checked.Add(cliff, streamed)
}

// nonStopEarned is what the stream would have earned had it never paused.
func (s *Stream) nonStopEarned(now uint64) (uint64, error) {
	cliff, err := s.CliffUnits()
	if err != nil {
		return 0, err
	}
	var sinceStart uint64
	if start := s.StartSeconds(); now > start {
		sinceStart = now - start
	}
	streamed, err := s.StreamedUnits(sinceStart)
	if err != nil {
		return 0, err
	}
	return checked.Add(cliff, streamed)
}

// Status derives the stream state at now.
func (s *Stream) Status(now uint64) (Status, error) {
	if s.StartSeconds() > now {
		return Scheduled, nil
	}
	if s.IsManuallyPaused() {
		return Paused, nil
	}

	actual, err := s.earned(now)
	if err != nil {
		return 0, err
	}
	nonStop, err := s.nonStopEarned(now)
	if err != nil {
		return 0, err
	}
	if nonStop < actual {
		return 0, fmt.Errorf("%w: non-stop earned %d below actual earned %d", ErrInvariantViolation, nonStop, actual)
	}

	if s.AllocationAssignedUnits > actual {
		return Running, nil
	}
	// ran out of funds
	return Paused, nil
}

// Withdrawable returns the units the beneficiary can claim at now.
func (s *Stream) Withdrawable(now uint64) (uint64, error) {
	remaining, err := s.RemainingAllocation()
	if err != nil {
		return 0, err
	}
	if remaining == 0 {
		return 0, nil
	}

	status, err := s.Status(now)
	if err != nil {
		return 0, err
	}

	switch status {
	case Scheduled:
		return 0, nil
	case Paused:
		if s.IsManuallyPaused() {
			return s.LastManualStopWithdrawableUnitsSnap, nil
		}
		return remaining, nil
	}

	if s.RateIntervalInSeconds == 0 || s.RateAmountUnits == 0 {
		return 0, ErrInvalidArgument
	}

	earned, err := s.earned(now)
	if err != nil {
		return 0, err
	}
	// Earned units can trail total withdrawals after an auto-pause was
	// reconciled by Allocate; never report a negative balance.
	earned = max(earned, s.TotalWithdrawalsUnits)

	whileRunning, err := checked.Sub(earned, s.TotalWithdrawalsUnits)
	if err != nil {
		return 0, err
	}
	return min(remaining, whileRunning), nil
}

// EstDepletionTime estimates when the current allocation is fully vested,
// shifted by the seconds spent paused. A cliff-only stream depletes at now.
func (s *Stream) EstDepletionTime(now uint64) (uint64, error) {
	if s.RateIntervalInSeconds == 0 {
		return now, nil
	}
	streamable, err := s.streamable()
	if err != nil {
		return 0, err
	}
	streamingSeconds, err := checked.MulDiv(streamable, s.RateIntervalInSeconds, s.RateAmountUnits)
	if err != nil {
		return 0, err
	}
	duration, err := checked.Add(streamingSeconds, s.LastKnownTotalSecondsInPausedStatus)
	if err != nil {
		return 0, err
	}
	return checked.Add(s.StartSeconds(), duration)
}

// FundsSentToBeneficiary is total withdrawals plus the current withdrawable.
func (s *Stream) FundsSentToBeneficiary(now uint64) (uint64, error) {
	withdrawable, err := s.Withdrawable(now)
	if err != nil {
		return 0, err
	}
	return checked.Add(s.TotalWithdrawalsUnits, withdrawable)
}

// FundsLeftInStream is the allocation that is neither withdrawn nor
// withdrawable.
func (s *Stream) FundsLeftInStream(now uint64) (uint64, error) {
	withdrawable, err := s.Withdrawable(now)
	if err != nil {
		return 0, err
	}
	remaining, err := s.RemainingAllocation()
	if err != nil {
		return 0, err
	}
	return checked.Sub(remaining, withdrawable)
}
