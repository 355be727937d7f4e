// Package fees holds the protocol fee schedule.
//
// Flat fees are denominated in the fee currency (lamport-like units paid by
// the caller or the treasury reserve). Proportional fees are parts per
// PercentDenominator of the amount they apply to.
package fees

import (
	"fmt"

	"github.com/roach88/paystream/internal/checked"
)

// DefaultPercentDenominator is one million: 2_500 means 0.25%.
const DefaultPercentDenominator uint64 = 1_000_000

// Schedule is the injected fee configuration. The zero value charges nothing
// but is invalid because PercentDenominator must be positive.
type Schedule struct {
	CreateTreasuryFlat      uint64 `yaml:"create_treasury_flat" json:"create_treasury_flat"`
	CreateStreamFlat        uint64 `yaml:"create_stream_flat" json:"create_stream_flat"`
	AddFundsFlat            uint64 `yaml:"add_funds_flat" json:"add_funds_flat"`
	WithdrawPercent         uint64 `yaml:"withdraw_percent" json:"withdraw_percent"`
	CloseStreamFlat         uint64 `yaml:"close_stream_flat" json:"close_stream_flat"`
	CloseStreamPercent      uint64 `yaml:"close_stream_percent" json:"close_stream_percent"`
	CloseTreasuryFlat       uint64 `yaml:"close_treasury_flat" json:"close_treasury_flat"`
	TransferStreamFlat      uint64 `yaml:"transfer_stream_flat" json:"transfer_stream_flat"`
	TreasuryWithdrawPercent uint64 `yaml:"treasury_withdraw_percent" json:"treasury_withdraw_percent"`
	PercentDenominator      uint64 `yaml:"percent_denominator" json:"percent_denominator"`
}

// Default returns the production schedule.
func Default() Schedule {
	return Schedule{
		CreateTreasuryFlat:      10_000,
		CreateStreamFlat:        10_000,
		AddFundsFlat:            25_000,
		WithdrawPercent:         2_500,
		CloseStreamFlat:         10_000,
		CloseStreamPercent:      2_500,
		CloseTreasuryFlat:       10_000,
		TransferStreamFlat:      10_000,
		TreasuryWithdrawPercent: 2_500,
		PercentDenominator:      DefaultPercentDenominator,
	}
}

// Free returns a schedule with every fee set to zero. Useful in tests that
// only care about stream accounting.
func Free() Schedule {
	return Schedule{PercentDenominator: DefaultPercentDenominator}
}

// Validate checks that the proportional fees are expressible as a fraction
// of the denominator.
func (s Schedule) Validate() error {
	if s.PercentDenominator == 0 {
		return fmt.Errorf("percent_denominator must be positive")
	}
	percents := map[string]uint64{
		"withdraw_percent":          s.WithdrawPercent,
		"close_stream_percent":      s.CloseStreamPercent,
		"treasury_withdraw_percent": s.TreasuryWithdrawPercent,
	}
	for name, v := range percents {
		if v > s.PercentDenominator {
			return fmt.Errorf("%s (%d) exceeds percent_denominator (%d)", name, v, s.PercentDenominator)
		}
	}
	return nil
}

// Proportional returns percent*amount/PercentDenominator, truncated.
func (s Schedule) Proportional(percent, amount uint64) (uint64, error) {
	return checked.MulDiv(percent, amount, s.PercentDenominator)
}

// Withdraw is the fee on a beneficiary withdrawal (and on allocations paid
// up front by the treasurer).
func (s Schedule) Withdraw(amount uint64) (uint64, error) {
	return s.Proportional(s.WithdrawPercent, amount)
}

// CloseStream is the proportional fee on the beneficiary's closing payout.
func (s Schedule) CloseStream(amount uint64) (uint64, error) {
	return s.Proportional(s.CloseStreamPercent, amount)
}

// TreasuryWithdraw is the fee on unallocated funds leaving the treasury.
func (s Schedule) TreasuryWithdraw(amount uint64) (uint64, error) {
	return s.Proportional(s.TreasuryWithdrawPercent, amount)
}
