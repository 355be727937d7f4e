package harness

import (
	"fmt"
	"strconv"

	"github.com/roach88/paystream/internal/engine"
	"github.com/roach88/paystream/internal/treasury"
)

type stepFunc func(r *runner, a args) error

// operations maps step op names to their runners.
var operations = map[string]stepFunc{
	"fund":                  (*runner).fund,
	"fund_fee":              (*runner).fundFee,
	"create_treasury":       (*runner).createTreasury,
	"add_funds":             (*runner).addFunds,
	"treasury_withdraw":     (*runner).treasuryWithdraw,
	"close_treasury":        (*runner).closeTreasury,
	"refresh_treasury_data": (*runner).refreshTreasury,
	"refresh_all":           (*runner).refreshAll,
	"create_stream":         (*runner).createStream,
	"withdraw":              (*runner).withdraw,
	"allocate":              (*runner).allocate,
	"pause_stream":          (*runner).pauseStream,
	"resume_stream":         (*runner).resumeStream,
	"close_stream":          (*runner).closeStream,
	"transfer_stream":       (*runner).transferStream,
}

func (r *runner) fund(a args) error {
	owner, err := r.key(a, "owner", roleAccount)
	if err != nil {
		return err
	}
	amount, err := a.uint("amount")
	if err != nil {
		return err
	}
	_, err = r.host.Fund(r.ctx, owner, r.mint, amount)
	return err
}

func (r *runner) fundFee(a args) error {
	account, err := r.key(a, "account", roleAccount)
	if err != nil {
		return err
	}
	amount, err := a.uint("amount")
	if err != nil {
		return err
	}
	return r.host.FundFeeCurrency(r.ctx, account, amount)
}

func (r *runner) createTreasury(a args) error {
	var req engine.CreateTreasuryRequest
	var err error
	if req.Key, err = r.key(a, "treasury", roleTreasury); err != nil {
		return err
	}
	if req.Payer, err = r.key(a, "payer", roleAccount); err != nil {
		return err
	}
	if req.Treasurer, err = r.key(a, "treasurer", roleAccount); err != nil {
		return err
	}
	req.Mint = r.mint
	if req.Name, err = a.str("name"); err != nil {
		return err
	}
	kind, err := a.str("type")
	if err != nil {
		return err
	}
	if req.Type, err = treasury.ParseType(kind); err != nil {
		return err
	}
	category, err := a.str("category")
	if err != nil {
		return err
	}
	if req.Category, err = treasury.ParseCategory(category); err != nil {
		return err
	}
	if req.AutoClose, err = a.flag("auto_close"); err != nil {
		return err
	}
	if req.SolFeePayedByTreasury, err = a.flag("treasury_pays_fees"); err != nil {
		return err
	}
	_, err = r.host.CreateTreasury(r.ctx, req)
	return err
}

func (r *runner) addFunds(a args) error {
	key, err := r.key(a, "treasury", roleTreasury)
	if err != nil {
		return err
	}
	var req engine.AddFundsRequest
	if req.Contributor, err = r.key(a, "contributor", roleAccount); err != nil {
		return err
	}
	if req.Payer, err = r.key(a, "payer", roleAccount); err != nil {
		return err
	}
	if req.Amount, err = a.uint("amount"); err != nil {
		return err
	}
	return r.host.AddFunds(r.ctx, key, req)
}

func (r *runner) treasuryWithdraw(a args) error {
	key, err := r.key(a, "treasury", roleTreasury)
	if err != nil {
		return err
	}
	var req engine.TreasuryWithdrawRequest
	if req.Treasurer, err = r.key(a, "treasurer", roleAccount); err != nil {
		return err
	}
	if req.Destination, err = r.key(a, "destination", roleAccount); err != nil {
		return err
	}
	if req.Amount, err = a.uint("amount"); err != nil {
		return err
	}
	return r.host.TreasuryWithdraw(r.ctx, key, req)
}

func (r *runner) closeTreasury(a args) error {
	key, err := r.key(a, "treasury", roleTreasury)
	if err != nil {
		return err
	}
	var req engine.CloseTreasuryRequest
	if req.Treasurer, err = r.key(a, "treasurer", roleAccount); err != nil {
		return err
	}
	if req.Destination, err = r.key(a, "destination", roleAccount); err != nil {
		return err
	}
	if req.Payer, err = r.key(a, "payer", roleAccount); err != nil {
		return err
	}
	return r.host.CloseTreasury(r.ctx, key, req)
}

func (r *runner) refreshTreasury(a args) error {
	key, err := r.key(a, "treasury", roleTreasury)
	if err != nil {
		return err
	}
	return r.host.RefreshTreasuryData(r.ctx, key)
}

func (r *runner) refreshAll(args) error {
	_, err := r.host.RefreshAll(r.ctx)
	return err
}

func (r *runner) createStream(a args) error {
	key, err := r.key(a, "treasury", roleTreasury)
	if err != nil {
		return err
	}
	var req engine.CreateStreamRequest
	if req.Key, err = r.key(a, "stream", roleStream); err != nil {
		return err
	}
	if req.Payer, err = r.key(a, "payer", roleAccount); err != nil {
		return err
	}
	if req.Treasurer, err = r.key(a, "treasurer", roleAccount); err != nil {
		return err
	}
	if req.Beneficiary, err = r.key(a, "beneficiary", roleAccount); err != nil {
		return err
	}
	if req.Name, err = a.str("name"); err != nil {
		return err
	}
	if _, ok := a["start"]; ok {
		offset, err := a.uint("start")
		if err != nil {
			return err
		}
		req.StartUTC = r.scenario.Start + offset
	}
	if req.RateAmountUnits, err = a.uint("rate"); err != nil {
		return err
	}
	if req.RateIntervalInSeconds, err = a.uint("interval"); err != nil {
		return err
	}
	if req.AllocationAssignedUnits, err = a.uint("allocation"); err != nil {
		return err
	}
	if req.CliffVestAmountUnits, err = a.uint("cliff"); err != nil {
		return err
	}
	if req.CliffVestPercent, err = a.uint("cliff_percent"); err != nil {
		return err
	}
	if req.FeePayedByTreasurer, err = a.flag("treasurer_pays_fee"); err != nil {
		return err
	}
	_, err = r.host.CreateStream(r.ctx, key, req)
	return err
}

func (r *runner) withdraw(a args) error {
	key, err := r.key(a, "stream", roleStream)
	if err != nil {
		return err
	}
	var req engine.WithdrawRequest
	if req.Beneficiary, err = r.key(a, "beneficiary", roleAccount); err != nil {
		return err
	}
	if req.Amount, err = a.uint("amount"); err != nil {
		return err
	}
	return r.host.Withdraw(r.ctx, key, req)
}

func (r *runner) allocate(a args) error {
	key, err := r.key(a, "stream", roleStream)
	if err != nil {
		return err
	}
	var req engine.AllocateRequest
	if req.Treasurer, err = r.key(a, "treasurer", roleAccount); err != nil {
		return err
	}
	if req.Amount, err = a.uint("amount"); err != nil {
		return err
	}
	return r.host.Allocate(r.ctx, key, req)
}

func (r *runner) pauseStream(a args) error {
	key, err := r.key(a, "stream", roleStream)
	if err != nil {
		return err
	}
	caller, err := r.key(a, "caller", roleAccount)
	if err != nil {
		return err
	}
	return r.host.PauseStream(r.ctx, key, caller)
}

func (r *runner) resumeStream(a args) error {
	key, err := r.key(a, "stream", roleStream)
	if err != nil {
		return err
	}
	caller, err := r.key(a, "caller", roleAccount)
	if err != nil {
		return err
	}
	return r.host.ResumeStream(r.ctx, key, caller)
}

func (r *runner) closeStream(a args) error {
	key, err := r.key(a, "stream", roleStream)
	if err != nil {
		return err
	}
	var req engine.CloseStreamRequest
	if req.Treasurer, err = r.key(a, "treasurer", roleAccount); err != nil {
		return err
	}
	if req.Payer, err = r.key(a, "payer", roleAccount); err != nil {
		return err
	}
	return r.host.CloseStream(r.ctx, key, req)
}

func (r *runner) transferStream(a args) error {
	key, err := r.key(a, "stream", roleStream)
	if err != nil {
		return err
	}
	var req engine.TransferStreamRequest
	if req.Beneficiary, err = r.key(a, "beneficiary", roleAccount); err != nil {
		return err
	}
	if req.NewBeneficiary, err = r.key(a, "new_beneficiary", roleAccount); err != nil {
		return err
	}
	return r.host.TransferStream(r.ctx, key, req)
}

// args are the YAML-decoded arguments of a step. Missing values read as
// their zero value.
type args map[string]any

func (a args) uint(name string) (uint64, error) {
	switch v := a[name].(type) {
	case nil:
		return 0, nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("%s: negative amount %d", name, v)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("%s: negative amount %d", name, v)
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return n, nil
	default:
		// YAML floats are rejected; amounts are integral units
		return 0, fmt.Errorf("%s: expected an unsigned integer, got %T", name, v)
	}
}

func (a args) str(name string) (string, error) {
	switch v := a[name].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("%s: expected a string, got %T", name, v)
	}
}

func (a args) flag(name string) (bool, error) {
	switch v := a[name].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	default:
		return false, fmt.Errorf("%s: expected a bool, got %T", name, v)
	}
}
