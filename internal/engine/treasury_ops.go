package engine

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/paystream/internal/checked"
	"github.com/roach88/paystream/internal/event"
	"github.com/roach88/paystream/internal/label"
	"github.com/roach88/paystream/internal/ledger"
	"github.com/roach88/paystream/internal/treasury"
)

// CreateTreasuryRequest describes a new treasury.
type CreateTreasuryRequest struct {
	Key                   solana.PublicKey
	Payer                 solana.PublicKey
	Treasurer             solana.PublicKey
	Mint                  solana.PublicKey
	Name                  string
	Type                  treasury.Type
	AutoClose             bool
	SolFeePayedByTreasury bool
	Category              treasury.Category
}

// CreateTreasury initializes an empty treasury and charges the flat creation
// fee to the payer.
func (e *Engine) CreateTreasury(ctx context.Context, tick Tick, req CreateTreasuryRequest) (*treasury.Treasury, error) {
	const op = "create_treasury"

	if req.Key.IsZero() {
		return nil, newError(op, CodeInvalidTreasury, "treasury address is required")
	}
	if req.Treasurer.IsZero() {
		return nil, newError(op, CodeInvalidTreasurer, "treasurer is required")
	}
	if req.Type != treasury.Open && req.Type != treasury.Locked {
		return nil, newError(op, CodeInvalidArgument, "unknown treasury type %d", req.Type)
	}
	name, err := label.Encode(req.Name)
	if err != nil {
		return nil, wrap(op, err)
	}
	holding, err := ledger.HoldingAddress(req.Key, req.Mint)
	if err != nil {
		return nil, wrap(op, err)
	}

	tr := &treasury.Treasury{
		Version:               treasury.Version,
		Initialized:           true,
		Name:                  name,
		Treasurer:             req.Treasurer,
		Holding:               holding,
		Mint:                  req.Mint,
		CreatedOnUTC:          tick.Time,
		Type:                  req.Type,
		AutoClose:             req.AutoClose,
		SolFeePayedByTreasury: req.SolFeePayedByTreasury,
		Category:              req.Category,
	}
	tr.SetBalance(0, tick.Slot, tick.Time)

	if err := e.chargeFlat(ctx, op, req.Key, req.Payer, e.fees.CreateTreasuryFlat, false); err != nil {
		return nil, err
	}
	ev, err := e.seal(tick, event.KindCreateTreasury, req.Key, nil, event.Fields{
		"name":                                  req.Name,
		"treasurer":                             req.Treasurer.String(),
		"mint":                                  req.Mint.String(),
		"treasury_type":                         req.Type.String(),
		"category":                              req.Category.String(),
		"auto_close":                            req.AutoClose,
		"treasury_is_sol_fee_payed_by_treasury": req.SolFeePayedByTreasury,
		"sol_fee_charged":                       e.fees.CreateTreasuryFlat,
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, ev)
	return tr, nil
}

// AddFundsRequest moves Amount from the contributor's holding into the
// treasury.
type AddFundsRequest struct {
	Contributor solana.PublicKey
	Payer       solana.PublicKey
	Amount      uint64
}

// AddFunds deposits into the treasury balance and charges the flat add-funds
// fee. The fee comes from the treasury reserve only when the treasurer
// contributes to a treasury that pays its own fees.
func (e *Engine) AddFunds(ctx context.Context, tick Tick, t TreasuryRef, req AddFundsRequest) error {
	const op = "add_funds"

	if err := checkTreasury(op, t); err != nil {
		return err
	}
	if req.Amount == 0 {
		return newError(op, CodeZeroContributionAmount, "contribution amount is zero")
	}
	tr := *t.Record

	from, err := ledger.HoldingAddress(req.Contributor, tr.Mint)
	if err != nil {
		return wrap(op, err)
	}
	have, err := e.ledger.Balance(ctx, from)
	if err != nil {
		return wrap(op, err)
	}
	if have < req.Amount {
		return newError(op, CodeInsufficientFunds, "contributor holds %d, wants to add %d", have, req.Amount)
	}

	balance, err := checked.Add(tr.LastKnownBalanceUnits, req.Amount)
	if err != nil {
		return wrap(op, err)
	}
	tr.SetBalance(balance, tick.Slot, tick.Time)

	fromTreasury := req.Contributor == tr.Treasurer && tr.SolFeePayedByTreasury
	if err := e.chargeFlat(ctx, op, t.Key, req.Payer, e.fees.AddFundsFlat, fromTreasury); err != nil {
		return err
	}
	if err := e.ledger.Transfer(ctx, from, tr.Holding, req.Amount); err != nil {
		return wrap(op, err)
	}
	if err := e.assertBalance(ctx, op, &tr); err != nil {
		return err
	}

	ev, err := e.seal(tick, event.KindAddFunds, t.Key, nil, event.Fields{
		"amount":                                req.Amount,
		"contributor":                           req.Contributor.String(),
		"sol_fee_charged":                       e.fees.AddFundsFlat,
		"token_fee_charged":                     uint64(0),
		"treasury_is_sol_fee_payed_by_treasury": tr.SolFeePayedByTreasury,
		"treasury_balance_after":                tr.LastKnownBalanceUnits,
	})
	if err != nil {
		return err
	}
	*t.Record = tr
	e.notify(ctx, ev)
	return nil
}

// TreasuryWithdrawRequest takes unallocated funds out of a treasury.
type TreasuryWithdrawRequest struct {
	Treasurer   solana.PublicKey
	Destination solana.PublicKey
	Amount      uint64
}

// TreasuryWithdraw sends Amount of unallocated funds, minus the proportional
// fee, to the destination's holding.
func (e *Engine) TreasuryWithdraw(ctx context.Context, tick Tick, t TreasuryRef, req TreasuryWithdrawRequest) error {
	const op = "treasury_withdraw"

	if err := checkTreasury(op, t); err != nil {
		return err
	}
	tr := *t.Record
	if req.Treasurer != tr.Treasurer {
		return newError(op, CodeInvalidTreasurer, "%s is not the treasurer", req.Treasurer)
	}
	if req.Amount == 0 {
		return newError(op, CodeInvalidWithdrawalAmount, "withdrawal amount is zero")
	}
	unallocated, err := tr.Unallocated()
	if err != nil {
		return wrap(op, err)
	}
	if req.Amount > unallocated {
		return newError(op, CodeInsufficientTreasuryBalance, "requested %d, unallocated %d", req.Amount, unallocated)
	}

	fee, err := e.fees.TreasuryWithdraw(req.Amount)
	if err != nil {
		return wrap(op, err)
	}
	sent, err := checked.Sub(req.Amount, fee)
	if err != nil {
		return wrap(op, err)
	}
	balance, err := checked.Sub(tr.LastKnownBalanceUnits, req.Amount)
	if err != nil {
		return wrap(op, err)
	}
	tr.SetBalance(balance, tick.Slot, tick.Time)

	dest, err := ledger.HoldingAddress(req.Destination, tr.Mint)
	if err != nil {
		return wrap(op, err)
	}
	if err := e.payFee(ctx, op, &tr, fee); err != nil {
		return err
	}
	if err := e.payOut(ctx, op, &tr, dest, sent); err != nil {
		return err
	}
	if err := e.assertBalance(ctx, op, &tr); err != nil {
		return err
	}

	ev, err := e.seal(tick, event.KindTreasuryWithdraw, t.Key, nil, event.Fields{
		"amount":                                req.Amount,
		"destination":                           req.Destination.String(),
		"sol_fee_charged":                       uint64(0),
		"token_fee_charged":                     fee,
		"token_amount_sent_to_destination":      sent,
		"treasury_is_sol_fee_payed_by_treasury": tr.SolFeePayedByTreasury,
		"treasury_balance_after":                tr.LastKnownBalanceUnits,
	})
	if err != nil {
		return err
	}
	*t.Record = tr
	e.notify(ctx, ev)
	return nil
}

// CloseTreasuryRequest closes an empty treasury.
type CloseTreasuryRequest struct {
	Treasurer   solana.PublicKey
	Destination solana.PublicKey
	Payer       solana.PublicKey
}

// CloseTreasury sends the whole holding balance to the destination, charges
// the flat close fee and returns whatever is left of the treasury's fee
// reserve to the treasurer. On success the record is marked uninitialized
// and the caller deletes it.
func (e *Engine) CloseTreasury(ctx context.Context, tick Tick, t TreasuryRef, req CloseTreasuryRequest) error {
	const op = "close_treasury"

	if err := checkTreasury(op, t); err != nil {
		return err
	}
	tr := *t.Record
	if req.Treasurer != tr.Treasurer {
		return newError(op, CodeInvalidTreasurer, "%s is not the treasurer", req.Treasurer)
	}
	if tr.TotalStreams > 0 {
		return newError(op, CodeTreasuryContainsStreams, "treasury still backs %d streams", tr.TotalStreams)
	}

	held, err := e.ledger.Balance(ctx, tr.Holding)
	if err != nil {
		return wrap(op, err)
	}
	dest, err := ledger.HoldingAddress(req.Destination, tr.Mint)
	if err != nil {
		return wrap(op, err)
	}

	if err := e.chargeFlat(ctx, op, t.Key, req.Payer, e.fees.CloseTreasuryFlat, tr.SolFeePayedByTreasury); err != nil {
		return err
	}
	if err := e.payOut(ctx, op, &tr, dest, held); err != nil {
		return err
	}
	reserve, err := e.ledger.FeeCurrencyBalance(ctx, t.Key)
	if err != nil {
		return wrap(op, err)
	}
	if reserve > 0 {
		if err := e.ledger.TransferFeeCurrency(ctx, t.Key, tr.Treasurer, reserve); err != nil {
			return wrap(op, err)
		}
	}

	tr.SetBalance(0, tick.Slot, tick.Time)
	tr.AllocationAssignedUnits = 0
	tr.Initialized = false

	ev, err := e.seal(tick, event.KindCloseTreasury, t.Key, nil, event.Fields{
		"destination":                           req.Destination.String(),
		"sol_fee_charged":                       e.fees.CloseTreasuryFlat,
		"token_fee_charged":                     uint64(0),
		"token_amount_sent_to_destination":      held,
		"reserve_returned":                      reserve,
		"treasury_is_sol_fee_payed_by_treasury": tr.SolFeePayedByTreasury,
	})
	if err != nil {
		return err
	}
	*t.Record = tr
	e.notify(ctx, ev)
	return nil
}

// RefreshTreasuryData replaces the cached balance with the ledger's.
func (e *Engine) RefreshTreasuryData(ctx context.Context, tick Tick, t TreasuryRef) error {
	const op = "refresh_treasury_data"

	if err := checkTreasury(op, t); err != nil {
		return err
	}
	tr := *t.Record
	actual, err := e.ledger.Balance(ctx, tr.Holding)
	if err != nil {
		return wrap(op, err)
	}
	before := tr.LastKnownBalanceUnits
	tr.SetBalance(actual, tick.Slot, tick.Time)
	if !tr.Covers() {
		e.logger.WarnContext(ctx, "treasury balance below allocation",
			"treasury", t.Key.String(),
			"balance", actual,
			"allocation", tr.AllocationAssignedUnits,
		)
	}

	ev, err := e.seal(tick, event.KindRefreshTreasury, t.Key, nil, event.Fields{
		"sol_fee_charged":         uint64(0),
		"token_fee_charged":       uint64(0),
		"treasury_balance_before": before,
		"treasury_balance_after":  actual,
	})
	if err != nil {
		return err
	}
	*t.Record = tr
	e.notify(ctx, ev)
	return nil
}
