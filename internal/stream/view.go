package stream

import "github.com/roach88/paystream/internal/checked"

// View is a read-only snapshot of a stream's record plus every derived
// figure at a given time.
type View struct {
	Name                    string `json:"name"`
	Status                  string `json:"status"`
	IsManualPause           bool   `json:"is_manual_pause"`
	RateAmountUnits         uint64 `json:"rate_amount_units"`
	RateIntervalInSeconds   uint64 `json:"rate_interval_in_seconds"`
	StartUTC                uint64 `json:"start_utc"`
	CliffUnits              uint64 `json:"cliff_units"`
	AllocationAssignedUnits uint64 `json:"allocation_assigned_units"`
	TotalWithdrawalsUnits   uint64 `json:"total_withdrawals_units"`
	FeePayedByTreasurer     bool   `json:"fee_payed_by_treasurer"`

	CurrentBlockTime       uint64 `json:"current_block_time"`
	SecondsSinceStart      uint64 `json:"seconds_since_start"`
	EstDepletionTime       uint64 `json:"est_depletion_time"`
	FundsLeftInStream      uint64 `json:"funds_left_in_stream"`
	FundsSentToBeneficiary uint64 `json:"funds_sent_to_beneficiary"`

	WithdrawableUnitsWhilePaused  uint64 `json:"withdrawable_units_while_paused"`
	NonStopEarningUnits           uint64 `json:"non_stop_earning_units"`
	MissedUnitsWhilePaused        uint64 `json:"missed_units_while_paused"`
	EntitledEarningsUnits         uint64 `json:"entitled_earnings_units"`
	WithdrawableUnitsWhileRunning uint64 `json:"withdrawable_units_while_running"`
	RemainingAllocation           uint64 `json:"beneficiary_remaining_allocation"`
	WithdrawableAmount            uint64 `json:"beneficiary_withdrawable_amount"`
	LastKnownStopBlockTime        uint64 `json:"last_known_stop_block_time"`
	LastKnownTotalSecondsPaused   uint64 `json:"last_known_total_seconds_in_paused_status"`
	CreatedOnUTC                  uint64 `json:"created_on_utc"`
}

// Snapshot computes the View at now. The intermediate earnings figures are
// informational and clamp at zero instead of failing.
func (s *Stream) Snapshot(now uint64) (View, error) {
	status, err := s.Status(now)
	if err != nil {
		return View{}, err
	}
	cliff, err := s.CliffUnits()
	if err != nil {
		return View{}, err
	}

	v := View{
		Name:                        s.DisplayName(),
		Status:                      status.String(),
		IsManualPause:               s.IsManuallyPaused(),
		RateAmountUnits:             s.RateAmountUnits,
		RateIntervalInSeconds:       s.RateIntervalInSeconds,
		StartUTC:                    s.StartSeconds(),
		CliffUnits:                  cliff,
		AllocationAssignedUnits:     s.AllocationAssignedUnits,
		TotalWithdrawalsUnits:       s.TotalWithdrawalsUnits,
		FeePayedByTreasurer:         s.FeePayedByTreasurer,
		CurrentBlockTime:            now,
		LastKnownStopBlockTime:      s.LastKnownStopBlockTime(),
		LastKnownTotalSecondsPaused: s.LastKnownTotalSecondsInPausedStatus,
		CreatedOnUTC:                s.CreatedOnUTC,
	}

	if start := s.StartSeconds(); now > start {
		v.SecondsSinceStart = now - start
	}

	if status == Paused {
		if v.IsManualPause {
			v.WithdrawableUnitsWhilePaused = s.LastManualStopWithdrawableUnitsSnap
		} else if s.AllocationAssignedUnits >= s.TotalWithdrawalsUnits {
			v.WithdrawableUnitsWhilePaused = s.AllocationAssignedUnits - s.TotalWithdrawalsUnits
		}
	}

	if v.NonStopEarningUnits, err = s.nonStopEarned(now); err != nil {
		return View{}, err
	}
	if v.MissedUnitsWhilePaused, err = s.StreamedUnits(s.LastKnownTotalSecondsInPausedStatus); err != nil {
		return View{}, err
	}
	if v.NonStopEarningUnits >= v.MissedUnitsWhilePaused {
		v.EntitledEarningsUnits = v.NonStopEarningUnits - v.MissedUnitsWhilePaused
	}
	if v.EntitledEarningsUnits >= s.TotalWithdrawalsUnits {
		v.WithdrawableUnitsWhileRunning = v.EntitledEarningsUnits - s.TotalWithdrawalsUnits
	}

	if v.RemainingAllocation, err = s.RemainingAllocation(); err != nil {
		return View{}, err
	}
	if v.WithdrawableAmount, err = s.Withdrawable(now); err != nil {
		return View{}, err
	}
	if v.EstDepletionTime, err = s.EstDepletionTime(now); err != nil {
		return View{}, err
	}
	if v.FundsSentToBeneficiary, err = checked.Add(s.TotalWithdrawalsUnits, v.WithdrawableAmount); err != nil {
		return View{}, err
	}
	if v.FundsLeftInStream, err = checked.Sub(v.RemainingAllocation, v.WithdrawableAmount); err != nil {
		return View{}, err
	}
	return v, nil
}
