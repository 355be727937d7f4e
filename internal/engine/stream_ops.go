package engine

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/paystream/internal/checked"
	"github.com/roach88/paystream/internal/event"
	"github.com/roach88/paystream/internal/label"
	"github.com/roach88/paystream/internal/ledger"
	"github.com/roach88/paystream/internal/stream"
	"github.com/roach88/paystream/internal/treasury"
)

// CreateStreamRequest describes a new stream funded by a treasury.
//
// StartUTC is in seconds; anything earlier than the tick is clamped to it.
// Both rate fields zero means a one-time payment of the cliff, which must
// then equal the allocation.
type CreateStreamRequest struct {
	Key         solana.PublicKey
	Payer       solana.PublicKey
	Treasurer   solana.PublicKey
	Beneficiary solana.PublicKey
	Name        string
	StartUTC    uint64

	RateAmountUnits       uint64
	RateIntervalInSeconds uint64

	AllocationAssignedUnits uint64
	CliffVestAmountUnits    uint64
	CliffVestPercent        uint64

	FeePayedByTreasurer bool
}

// CreateStream reserves part of the treasury's unallocated balance for a new
// stream. When the treasurer pays the withdraw fee it is taken from the
// treasury up front so that later withdrawals are fee-free.
func (e *Engine) CreateStream(ctx context.Context, tick Tick, t TreasuryRef, req CreateStreamRequest) (*stream.Stream, error) {
	const op = "create_stream"

	if err := checkTreasury(op, t); err != nil {
		return nil, err
	}
	tr := *t.Record
	if req.Key.IsZero() {
		return nil, newError(op, CodeInvalidArgument, "stream address is required")
	}
	if req.Treasurer != tr.Treasurer {
		return nil, newError(op, CodeInvalidTreasurer, "%s is not the treasurer", req.Treasurer)
	}
	if req.Beneficiary.IsZero() || req.Beneficiary == tr.Treasurer {
		return nil, newError(op, CodeInvalidBeneficiary, "beneficiary %s not allowed", req.Beneficiary)
	}
	name, err := label.Encode(req.Name)
	if err != nil {
		return nil, wrap(op, err)
	}
	if err := validateSchedule(op, req); err != nil {
		return nil, err
	}

	var fee uint64
	if req.FeePayedByTreasurer {
		if fee, err = e.fees.Withdraw(req.AllocationAssignedUnits); err != nil {
			return nil, wrap(op, err)
		}
	}
	funding, err := checked.Add(req.AllocationAssignedUnits, fee)
	if err != nil {
		return nil, wrap(op, err)
	}
	unallocated, err := tr.Unallocated()
	if err != nil {
		return nil, wrap(op, err)
	}
	if funding > unallocated {
		return nil, newError(op, CodeInsufficientTreasuryBalance, "stream needs %d, unallocated %d", funding, unallocated)
	}

	holding, err := ledger.HoldingAddress(req.Beneficiary, tr.Mint)
	if err != nil {
		return nil, wrap(op, err)
	}
	start := max(req.StartUTC, tick.Time)
	s := &stream.Stream{
		Version:                 stream.Version,
		Initialized:             true,
		Name:                    name,
		Treasurer:               req.Treasurer,
		Beneficiary:             req.Beneficiary,
		BeneficiaryHolding:      holding,
		Treasury:                t.Key,
		RateAmountUnits:         req.RateAmountUnits,
		RateIntervalInSeconds:   req.RateIntervalInSeconds,
		StartUTC:                start,
		StartUTCInSeconds:       start,
		CliffVestAmountUnits:    req.CliffVestAmountUnits,
		CliffVestPercent:        req.CliffVestPercent,
		AllocationAssignedUnits: req.AllocationAssignedUnits,
		FeePayedByTreasurer:     req.FeePayedByTreasurer,
		CreatedOnUTC:            tick.Time,
	}
	if err := s.ResolveCliff(); err != nil {
		return nil, wrap(op, err)
	}

	if tr.AllocationAssignedUnits, err = checked.Add(tr.AllocationAssignedUnits, req.AllocationAssignedUnits); err != nil {
		return nil, wrap(op, err)
	}
	balance, err := checked.Sub(tr.LastKnownBalanceUnits, fee)
	if err != nil {
		return nil, wrap(op, err)
	}
	tr.SetBalance(balance, tick.Slot, tick.Time)
	if tr.TotalStreams, err = checked.Add(tr.TotalStreams, 1); err != nil {
		return nil, wrap(op, err)
	}

	if err := e.chargeFlat(ctx, op, t.Key, req.Payer, e.fees.CreateStreamFlat, tr.SolFeePayedByTreasury); err != nil {
		return nil, err
	}
	if err := e.payFee(ctx, op, &tr, fee); err != nil {
		return nil, err
	}
	if err := e.assertBalance(ctx, op, &tr); err != nil {
		return nil, err
	}

	ev, err := e.seal(tick, event.KindCreateStream, t.Key, &req.Key, event.Fields{
		"name":                                           req.Name,
		"beneficiary":                                    req.Beneficiary.String(),
		"sol_fee_charged":                                e.fees.CreateStreamFlat,
		"token_fee_charged":                              fee,
		"stream_start_ts":                                start,
		"stream_rate_amount":                             s.RateAmountUnits,
		"stream_rate_interval":                           s.RateIntervalInSeconds,
		"stream_allocation":                              s.AllocationAssignedUnits,
		"stream_cliff":                                   s.CliffVestAmountUnits,
		"stream_is_token_withdraw_fee_payed_by_treasury": s.FeePayedByTreasurer,
		"treasury_is_sol_fee_payed_by_treasury":          tr.SolFeePayedByTreasury,
		"treasury_allocation_after":                      tr.AllocationAssignedUnits,
		"treasury_balance_after":                         tr.LastKnownBalanceUnits,
	})
	if err != nil {
		return nil, err
	}
	*t.Record = tr
	e.notify(ctx, ev)
	return s, nil
}

func validateSchedule(op string, req CreateStreamRequest) error {
	alloc := req.AllocationAssignedUnits
	if alloc == 0 {
		return newError(op, CodeInvalidRequestedStreamAllocation, "allocation must be positive")
	}
	if req.CliffVestAmountUnits > 0 && req.CliffVestPercent > 0 {
		return newError(op, CodeInvalidCliff, "cliff amount and cliff percent are exclusive")
	}
	if req.CliffVestAmountUnits > alloc {
		return newError(op, CodeInvalidCliff, "cliff %d exceeds allocation %d", req.CliffVestAmountUnits, alloc)
	}
	if req.CliffVestPercent > stream.CliffPercentDenominator {
		return newError(op, CodeInvalidCliff, "cliff percent %d exceeds %d", req.CliffVestPercent, stream.CliffPercentDenominator)
	}

	rate, interval := req.RateAmountUnits, req.RateIntervalInSeconds
	switch {
	case rate == 0 && interval == 0:
		// one-time payment
		full := req.CliffVestAmountUnits == alloc || req.CliffVestPercent == stream.CliffPercentDenominator
		if !full {
			return newError(op, CodeInvalidStreamRate, "a stream without rate must vest its whole allocation at the cliff")
		}
	case rate == 0 || interval == 0:
		return newError(op, CodeInvalidStreamRate, "rate %d per %d seconds", rate, interval)
	}
	return nil
}

// WithdrawRequest claims up to Amount for the beneficiary. Larger requests
// are clamped to the withdrawable balance.
type WithdrawRequest struct {
	Beneficiary solana.PublicKey
	Amount      uint64
}

// Withdraw pays the beneficiary from the treasury holding. Unless the
// treasurer prepaid the fee, the withdraw fee is deducted from the payout.
func (e *Engine) Withdraw(ctx context.Context, tick Tick, t TreasuryRef, st StreamRef, req WithdrawRequest) error {
	const op = "withdraw"

	if err := checkTreasury(op, t); err != nil {
		return err
	}
	if err := checkStream(op, st, t.Key); err != nil {
		return err
	}
	tr, s := *t.Record, *st.Record
	now := tick.Time

	if req.Amount == 0 {
		return newError(op, CodeZeroWithdrawalAmount, "requested amount is zero")
	}
	if req.Beneficiary != s.Beneficiary {
		return newError(op, CodeInvalidBeneficiary, "%s is not the beneficiary", req.Beneficiary)
	}
	if err := s.ResolveCliff(); err != nil {
		return wrap(op, err)
	}
	if s.StartSeconds() > now {
		return newError(op, CodeStreamIsScheduled, "stream starts at %d", s.StartSeconds())
	}

	withdrawable, err := s.Withdrawable(now)
	if err != nil {
		return wrap(op, err)
	}
	if withdrawable == 0 {
		return newError(op, CodeZeroWithdrawalAmount, "nothing to withdraw")
	}
	amount := min(req.Amount, withdrawable)

	var fee uint64
	if !s.FeePayedByTreasurer {
		if fee, err = e.fees.Withdraw(amount); err != nil {
			return wrap(op, err)
		}
	}
	sent, err := checked.Sub(amount, fee)
	if err != nil {
		return wrap(op, err)
	}

	manual := s.IsManuallyPaused()
	s.LastWithdrawalUnits = amount
	s.LastWithdrawalSlot = tick.Slot
	s.LastWithdrawalBlockTime = now
	if s.TotalWithdrawalsUnits, err = checked.Add(s.TotalWithdrawalsUnits, amount); err != nil {
		return wrap(op, err)
	}
	if manual {
		if s.LastManualStopWithdrawableUnitsSnap, err = checked.Sub(s.LastManualStopWithdrawableUnitsSnap, amount); err != nil {
			return wrap(op, err)
		}
	}
	s.NormalizeStartUTC()

	if tr.AllocationAssignedUnits < amount {
		return invariant(op, "treasury allocation %d below withdrawal %d", tr.AllocationAssignedUnits, amount)
	}
	tr.AllocationAssignedUnits -= amount
	balance, err := checked.Sub(tr.LastKnownBalanceUnits, amount)
	if err != nil {
		return wrap(op, err)
	}
	tr.SetBalance(balance, tick.Slot, now)
	if tr.TotalWithdrawalsUnits, err = checked.Add(tr.TotalWithdrawalsUnits, amount); err != nil {
		return wrap(op, err)
	}

	if err := e.payOut(ctx, op, &tr, s.BeneficiaryHolding, sent); err != nil {
		return err
	}
	if err := e.payFee(ctx, op, &tr, fee); err != nil {
		return err
	}
	if err := e.assertBalance(ctx, op, &tr); err != nil {
		return err
	}

	ev, err := e.seal(tick, event.KindWithdraw, t.Key, &st.Key, event.Fields{
		"sol_fee_charged":                                uint64(0),
		"token_fee_charged":                              fee,
		"amount":                                         amount,
		"token_amount_sent_to_beneficiary":               sent,
		"stream_withdrawable_before":                     withdrawable,
		"stream_is_manually_paused":                      manual,
		"stream_allocation_after":                        s.AllocationAssignedUnits,
		"stream_total_withdrawals_after":                 s.TotalWithdrawalsUnits,
		"stream_is_token_withdraw_fee_payed_by_treasury": s.FeePayedByTreasurer,
		"treasury_is_sol_fee_payed_by_treasury":          tr.SolFeePayedByTreasury,
		"treasury_allocation_after":                      tr.AllocationAssignedUnits,
		"treasury_balance_after":                         tr.LastKnownBalanceUnits,
		"treasury_total_withdrawals_after":               tr.TotalWithdrawalsUnits,
	})
	if err != nil {
		return err
	}
	*t.Record, *st.Record = tr, s
	e.notify(ctx, ev)
	return nil
}

// AllocateRequest tops up a stream from the treasury's unallocated balance.
type AllocateRequest struct {
	Treasurer solana.PublicKey
	Amount    uint64
}

// Allocate adds to a stream's allocation. A stream that had run out of funds
// resumes as if it had been paused since its estimated depletion time.
func (e *Engine) Allocate(ctx context.Context, tick Tick, t TreasuryRef, st StreamRef, req AllocateRequest) error {
	const op = "allocate"

	if err := checkTreasury(op, t); err != nil {
		return err
	}
	if err := checkStream(op, st, t.Key); err != nil {
		return err
	}
	tr, s := *t.Record, *st.Record
	now := tick.Time

	switch {
	case req.Amount == 0:
		return newError(op, CodeZeroContributionAmount, "allocation amount is zero")
	case tr.Type == treasury.Locked:
		return newError(op, CodeAllocateNotAllowedOnLockedStreams, "treasury is locked")
	case req.Treasurer != tr.Treasurer || req.Treasurer != s.Treasurer:
		return newError(op, CodeInvalidTreasurer, "%s is not the treasurer", req.Treasurer)
	case s.RateAmountUnits == 0 || s.RateIntervalInSeconds == 0:
		return newError(op, CodeInvalidStreamRate, "stream has no rate")
	}
	if err := s.ResolveCliff(); err != nil {
		return wrap(op, err)
	}

	var fee uint64
	var err error
	if s.FeePayedByTreasurer {
		if fee, err = e.fees.Withdraw(req.Amount); err != nil {
			return wrap(op, err)
		}
	}
	funding, err := checked.Add(req.Amount, fee)
	if err != nil {
		return wrap(op, err)
	}
	unallocated, err := tr.Unallocated()
	if err != nil {
		return wrap(op, err)
	}
	if funding > unallocated {
		return newError(op, CodeInsufficientTreasuryBalance, "allocation needs %d, unallocated %d", funding, unallocated)
	}

	status, err := s.Status(now)
	if err != nil {
		return wrap(op, err)
	}
	manual := s.IsManuallyPaused()
	fields := event.Fields{
		"sol_fee_charged":                                uint64(0),
		"token_fee_charged":                              fee,
		"amount":                                         req.Amount,
		"stream_status_before":                           status.String(),
		"stream_was_manually_paused_before":              manual,
		"stream_last_auto_stop_block_time":               uint64(0),
		"stream_total_seconds_in_paused_status_after":    uint64(0),
		"stream_is_token_withdraw_fee_payed_by_treasury": s.FeePayedByTreasurer,
		"treasury_is_sol_fee_payed_by_treasury":          tr.SolFeePayedByTreasury,
	}

	if status == stream.Paused && !manual {
		depleted, err := s.EstDepletionTime(now)
		if err != nil {
			return wrap(op, err)
		}
		remaining, err := s.RemainingAllocation()
		if err != nil {
			return wrap(op, err)
		}
		s.LastAutoStopBlockTime = depleted
		idle, err := checked.Sub(now, depleted)
		if err != nil {
			return wrap(op, err)
		}
		if s.LastKnownTotalSecondsInPausedStatus, err = checked.Add(s.LastKnownTotalSecondsInPausedStatus, idle); err != nil {
			return wrap(op, err)
		}
		s.LastManualResumeRemainingAllocationUnitsSnap = remaining
		s.LastManualResumeSlot = tick.Slot
		s.LastManualResumeBlockTime = now

		fields["stream_last_auto_stop_block_time"] = s.LastAutoStopBlockTime
		fields["stream_total_seconds_in_paused_status_after"] = s.LastKnownTotalSecondsInPausedStatus
	}

	if s.AllocationAssignedUnits, err = checked.Add(s.AllocationAssignedUnits, req.Amount); err != nil {
		return wrap(op, err)
	}
	s.NormalizeStartUTC()

	if tr.AllocationAssignedUnits, err = checked.Add(tr.AllocationAssignedUnits, req.Amount); err != nil {
		return wrap(op, err)
	}
	balance, err := checked.Sub(tr.LastKnownBalanceUnits, fee)
	if err != nil {
		return wrap(op, err)
	}
	tr.SetBalance(balance, tick.Slot, now)

	if err := e.payFee(ctx, op, &tr, fee); err != nil {
		return err
	}
	if err := e.assertBalance(ctx, op, &tr); err != nil {
		return err
	}

	fields["stream_allocation_after"] = s.AllocationAssignedUnits
	fields["treasury_allocation_after"] = tr.AllocationAssignedUnits
	fields["treasury_balance_after"] = tr.LastKnownBalanceUnits
	ev, err := e.seal(tick, event.KindAllocate, t.Key, &st.Key, fields)
	if err != nil {
		return err
	}
	*t.Record, *st.Record = tr, s
	e.notify(ctx, ev)
	return nil
}

// PauseStream freezes a running stream at its current withdrawable amount.
// Only the treasurer may pause, and never on a locked treasury.
func (e *Engine) PauseStream(ctx context.Context, tick Tick, t TreasuryRef, st StreamRef, caller solana.PublicKey) error {
	const op = "pause_stream"

	s, err := e.pauseOrResumeCheck(op, t, st, caller)
	if err != nil {
		return err
	}
	now := tick.Time

	status, err := s.Status(now)
	if err != nil {
		return wrap(op, err)
	}
	if status != stream.Running {
		return newError(op, CodeStreamAlreadyPaused, "stream is %s", status)
	}
	if s.LastManualResumeBlockTime == now {
		return newError(op, CodeCannotPauseAndUnpauseOnSameBlockTime, "stream was resumed at %d", now)
	}

	withdrawable, err := s.Withdrawable(now)
	if err != nil {
		return wrap(op, err)
	}
	s.LastManualStopWithdrawableUnitsSnap = withdrawable
	s.LastManualStopSlot = tick.Slot
	s.LastManualStopBlockTime = now
	s.NormalizeStartUTC()

	ev, err := e.seal(tick, event.KindPauseStream, t.Key, &st.Key, event.Fields{
		"sol_fee_charged":                            uint64(0),
		"token_fee_charged":                          uint64(0),
		"stream_last_manual_stop_withdrawable_after": withdrawable,
	})
	if err != nil {
		return err
	}
	*st.Record = s
	e.notify(ctx, ev)
	return nil
}

// ResumeStream restarts a manually paused stream. The paused interval is
// added to the stream's paused seconds so that nothing vests for it.
func (e *Engine) ResumeStream(ctx context.Context, tick Tick, t TreasuryRef, st StreamRef, caller solana.PublicKey) error {
	const op = "resume_stream"

	s, err := e.pauseOrResumeCheck(op, t, st, caller)
	if err != nil {
		return err
	}
	now := tick.Time

	status, err := s.Status(now)
	if err != nil {
		return wrap(op, err)
	}
	if status != stream.Paused {
		return newError(op, CodeStreamAlreadyRunning, "stream is %s", status)
	}
	if s.LastManualStopBlockTime == now {
		return newError(op, CodeCannotPauseAndUnpauseOnSameBlockTime, "stream was paused at %d", now)
	}
	remaining, err := s.RemainingAllocation()
	if err != nil {
		return wrap(op, err)
	}
	if remaining == 0 {
		return newError(op, CodeStreamZeroRemainingAllocation, "stream has no remaining allocation")
	}
	stopped := s.LastKnownStopBlockTime()
	if stopped <= s.LastManualResumeBlockTime {
		return newError(op, CodeCannotResumeAutoPausedStream, "stream ran out of funds; allocate to resume it")
	}

	idle, err := checked.Sub(now, stopped)
	if err != nil {
		return wrap(op, err)
	}
	if s.LastKnownTotalSecondsInPausedStatus, err = checked.Add(s.LastKnownTotalSecondsInPausedStatus, idle); err != nil {
		return wrap(op, err)
	}
	s.LastManualResumeRemainingAllocationUnitsSnap = remaining
	s.LastManualResumeSlot = tick.Slot
	s.LastManualResumeBlockTime = now
	s.NormalizeStartUTC()

	ev, err := e.seal(tick, event.KindResumeStream, t.Key, &st.Key, event.Fields{
		"sol_fee_charged":                             uint64(0),
		"token_fee_charged":                           uint64(0),
		"stream_total_seconds_in_paused_status_after": s.LastKnownTotalSecondsInPausedStatus,
	})
	if err != nil {
		return err
	}
	*st.Record = s
	e.notify(ctx, ev)
	return nil
}

// pauseOrResumeCheck validates the records and the caller and returns a
// working copy of the stream with its cliff resolved.
func (e *Engine) pauseOrResumeCheck(op string, t TreasuryRef, st StreamRef, caller solana.PublicKey) (stream.Stream, error) {
	if err := checkTreasury(op, t); err != nil {
		return stream.Stream{}, err
	}
	if err := checkStream(op, st, t.Key); err != nil {
		return stream.Stream{}, err
	}
	s := *st.Record
	if caller != s.Treasurer {
		return stream.Stream{}, newError(op, CodeNotAuthorized, "%s may not pause or resume this stream", caller)
	}
	if t.Record.Type == treasury.Locked {
		return stream.Stream{}, newError(op, CodePauseOrResumeLockedStreamNotAllowed, "treasury is locked")
	}
	if err := s.ResolveCliff(); err != nil {
		return stream.Stream{}, wrap(op, err)
	}
	return s, nil
}

// CloseStreamRequest closes a stream on behalf of its treasurer.
type CloseStreamRequest struct {
	Treasurer solana.PublicKey
	Payer     solana.PublicKey
}

// CloseStream pays the beneficiary what is withdrawable, returns the rest of
// the allocation to the treasury's unallocated balance and marks the stream
// uninitialized. On a locked treasury a running stream cannot be closed.
func (e *Engine) CloseStream(ctx context.Context, tick Tick, t TreasuryRef, st StreamRef, req CloseStreamRequest) error {
	const op = "close_stream"

	if err := checkTreasury(op, t); err != nil {
		return err
	}
	if err := checkStream(op, st, t.Key); err != nil {
		return err
	}
	tr, s := *t.Record, *st.Record
	now := tick.Time

	if req.Treasurer != tr.Treasurer || req.Treasurer != s.Treasurer {
		return newError(op, CodeInvalidTreasurer, "%s is not the treasurer", req.Treasurer)
	}
	if err := s.ResolveCliff(); err != nil {
		return wrap(op, err)
	}
	status, err := s.Status(now)
	if err != nil {
		return wrap(op, err)
	}
	if tr.Type == treasury.Locked && status == stream.Running {
		return newError(op, CodeCloseLockedStreamNotAllowedWhileRunning, "stream on a locked treasury is still running")
	}

	actual, err := e.ledger.Balance(ctx, tr.Holding)
	if err != nil {
		return wrap(op, err)
	}
	tr.LastKnownBalanceUnits = actual

	closing, err := s.Withdrawable(now)
	if err != nil {
		return wrap(op, err)
	}
	remaining, err := s.RemainingAllocation()
	if err != nil {
		return wrap(op, err)
	}
	kept, err := checked.Sub(remaining, closing)
	if err != nil {
		return wrap(op, err)
	}

	var fee uint64
	if !s.FeePayedByTreasurer && closing > 0 {
		if fee, err = e.fees.CloseStream(closing); err != nil {
			return wrap(op, err)
		}
	}
	paid, err := checked.Sub(closing, fee)
	if err != nil {
		return wrap(op, err)
	}

	total, err := checked.Sum(s.TotalWithdrawalsUnits, paid, kept, fee)
	if err != nil {
		return wrap(op, err)
	}
	if total != s.AllocationAssignedUnits {
		return invariant(op, "withdrawn %d + paid %d + kept %d + fee %d != allocation %d",
			s.TotalWithdrawalsUnits, paid, kept, fee, s.AllocationAssignedUnits)
	}

	// Figures that drifted below the stream's share are clamped at zero.
	released := closing + kept
	if tr.AllocationAssignedUnits > released {
		tr.AllocationAssignedUnits -= released
	} else {
		tr.AllocationAssignedUnits = 0
	}
	balance := uint64(0)
	if tr.LastKnownBalanceUnits > closing {
		balance = tr.LastKnownBalanceUnits - closing
	}
	tr.SetBalance(balance, tick.Slot, now)
	if tr.TotalStreams > 0 {
		tr.TotalStreams--
	}

	if err := e.chargeFlat(ctx, op, t.Key, req.Payer, e.fees.CloseStreamFlat, tr.SolFeePayedByTreasury); err != nil {
		return err
	}
	if err := e.payOut(ctx, op, &tr, s.BeneficiaryHolding, paid); err != nil {
		return err
	}
	if err := e.payFee(ctx, op, &tr, fee); err != nil {
		return err
	}
	if err := e.assertBalance(ctx, op, &tr); err != nil {
		return err
	}

	ev, err := e.seal(tick, event.KindCloseStream, t.Key, &st.Key, event.Fields{
		"sol_fee_charged":                                e.fees.CloseStreamFlat,
		"token_fee_charged":                              fee,
		"token_amount_sent_to_beneficiary":               paid,
		"stream_is_token_withdraw_fee_payed_by_treasury": s.FeePayedByTreasurer,
		"stream_allocation_before":                       s.AllocationAssignedUnits,
		"stream_total_withdrawals_before":                s.TotalWithdrawalsUnits,
		"treasury_is_sol_fee_payed_by_treasury":          tr.SolFeePayedByTreasury,
		"treasury_allocation_after":                      tr.AllocationAssignedUnits,
		"treasury_balance_after":                         tr.LastKnownBalanceUnits,
		"treasury_total_streams_after":                   tr.TotalStreams,
	})
	if err != nil {
		return err
	}
	s.NormalizeStartUTC()
	s.Initialized = false
	*t.Record, *st.Record = tr, s
	e.notify(ctx, ev)
	return nil
}

// TransferStreamRequest hands a stream to a new beneficiary.
type TransferStreamRequest struct {
	Beneficiary    solana.PublicKey
	NewBeneficiary solana.PublicKey
}

// TransferStream changes the beneficiary. The current beneficiary pays the
// flat transfer fee; future payouts go to the new beneficiary's holding.
func (e *Engine) TransferStream(ctx context.Context, tick Tick, t TreasuryRef, st StreamRef, req TransferStreamRequest) error {
	const op = "transfer_stream"

	if err := checkTreasury(op, t); err != nil {
		return err
	}
	if err := checkStream(op, st, t.Key); err != nil {
		return err
	}
	s := *st.Record
	if req.Beneficiary != s.Beneficiary {
		return newError(op, CodeInvalidBeneficiary, "%s is not the beneficiary", req.Beneficiary)
	}
	if req.NewBeneficiary.IsZero() || req.NewBeneficiary == s.Treasurer {
		return newError(op, CodeInvalidBeneficiary, "beneficiary %s not allowed", req.NewBeneficiary)
	}
	holding, err := ledger.HoldingAddress(req.NewBeneficiary, t.Record.Mint)
	if err != nil {
		return wrap(op, err)
	}
	if err := s.ResolveCliff(); err != nil {
		return wrap(op, err)
	}
	s.Beneficiary = req.NewBeneficiary
	s.BeneficiaryHolding = holding
	s.NormalizeStartUTC()

	if err := e.chargeFlat(ctx, op, t.Key, req.Beneficiary, e.fees.TransferStreamFlat, false); err != nil {
		return err
	}

	ev, err := e.seal(tick, event.KindTransferStream, t.Key, &st.Key, event.Fields{
		"sol_fee_charged":      e.fees.TransferStreamFlat,
		"token_fee_charged":    uint64(0),
		"previous_beneficiary": req.Beneficiary.String(),
		"new_beneficiary":      req.NewBeneficiary.String(),
	})
	if err != nil {
		return err
	}
	*st.Record = s
	e.notify(ctx, ev)
	return nil
}

// GetStream returns the derived view of a stream at the tick. It never
// mutates the record and emits no event.
func (e *Engine) GetStream(tick Tick, st StreamRef) (stream.View, error) {
	const op = "get_stream"

	if st.Record == nil || !st.Record.Initialized {
		return stream.View{}, newError(op, CodeStreamNotInitialized, "stream %s is not initialized", st.Key)
	}
	if st.Record.Version != stream.Version {
		return stream.View{}, newError(op, CodeInvalidStreamVersion, "stream version %d, want %d", st.Record.Version, stream.Version)
	}
	v, err := st.Record.Snapshot(tick.Time)
	if err != nil {
		return stream.View{}, wrap(op, err)
	}
	return v, nil
}
