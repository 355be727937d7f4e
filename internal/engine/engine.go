package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/paystream/internal/event"
	"github.com/roach88/paystream/internal/fees"
	"github.com/roach88/paystream/internal/ledger"
	"github.com/roach88/paystream/internal/stream"
	"github.com/roach88/paystream/internal/treasury"
)

// DefaultFeeCollector receives every protocol fee. Proportional fees land in
// its holding account for the treasury's mint.
var DefaultFeeCollector = solana.MustPublicKeyFromBase58("3TD6SWY9M1mLY2kZWJNavPLhwXvcRsWdnZLRaMzERJBw")

// TreasuryRef couples a treasury record with its address.
type TreasuryRef struct {
	Key    solana.PublicKey
	Record *treasury.Treasury
}

// StreamRef couples a stream record with its address.
type StreamRef struct {
	Key    solana.PublicKey
	Record *stream.Stream
}

// Engine applies operations against a ledger.
type Engine struct {
	fees      fees.Schedule
	ledger    ledger.Ledger
	sink      event.Sink
	tokens    TokenGenerator
	logger    *slog.Logger
	collector solana.PublicKey
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink sets the notification sink. Default: event.Discard.
func WithSink(s event.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithTokens sets the correlation token generator. Default: UUIDv7Generator.
func WithTokens(g TokenGenerator) Option {
	return func(e *Engine) { e.tokens = g }
}

// WithLogger sets the logger. Default: a logger that discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithFeeCollector overrides DefaultFeeCollector.
func WithFeeCollector(k solana.PublicKey) Option {
	return func(e *Engine) { e.collector = k }
}

// New creates an Engine. The schedule is validated here so that every fee
// computation can rely on a positive denominator.
func New(schedule fees.Schedule, l ledger.Ledger, opts ...Option) (*Engine, error) {
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("fee schedule: %w", err)
	}
	if l == nil {
		return nil, errors.New("ledger is required")
	}
	e := &Engine{
		fees:      schedule,
		ledger:    l,
		sink:      event.Discard{},
		tokens:    UUIDv7Generator{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		collector: DefaultFeeCollector,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Fees returns the schedule the engine charges.
func (e *Engine) Fees() fees.Schedule {
	return e.fees
}

// FeeCollector returns the account that receives protocol fees.
func (e *Engine) FeeCollector() solana.PublicKey {
	return e.collector
}

func checkTreasury(op string, ref TreasuryRef) error {
	switch {
	case ref.Record == nil:
		return newError(op, CodeInvalidTreasury, "treasury %s not loaded", ref.Key)
	case ref.Record.Version != treasury.Version:
		return newError(op, CodeInvalidTreasuryVersion, "treasury version %d, want %d", ref.Record.Version, treasury.Version)
	case !ref.Record.Initialized:
		return newError(op, CodeTreasuryNotInitialized, "treasury %s is not initialized", ref.Key)
	}
	return nil
}

func checkStream(op string, ref StreamRef, treasuryKey solana.PublicKey) error {
	switch {
	case ref.Record == nil:
		return newError(op, CodeStreamNotInitialized, "stream %s not loaded", ref.Key)
	case ref.Record.Version != stream.Version:
		return newError(op, CodeInvalidStreamVersion, "stream version %d, want %d", ref.Record.Version, stream.Version)
	case !ref.Record.Initialized:
		return newError(op, CodeStreamNotInitialized, "stream %s is not initialized", ref.Key)
	case ref.Record.Treasury != treasuryKey:
		return newError(op, CodeInvalidTreasury, "stream %s belongs to treasury %s", ref.Key, ref.Record.Treasury)
	}
	return nil
}

// feeHolding is the collector's holding account for mint.
func (e *Engine) feeHolding(mint solana.PublicKey) (solana.PublicKey, error) {
	return ledger.HoldingAddress(e.collector, mint)
}

// chargeFlat moves a flat fee in fee currency to the collector, drawn from
// the treasury's own reserve when fromTreasury is set and from payer
// otherwise. The balance is checked before anything moves.
func (e *Engine) chargeFlat(ctx context.Context, op string, treasuryKey, payer solana.PublicKey, amount uint64, fromTreasury bool) error {
	if amount == 0 {
		return nil
	}
	source := payer
	if fromTreasury {
		source = treasuryKey
	}
	have, err := e.ledger.FeeCurrencyBalance(ctx, source)
	if err != nil {
		return wrap(op, err)
	}
	if have < amount {
		return newError(op, CodeInsufficientLamports, "%s holds %d, fee is %d", source, have, amount)
	}
	if err := e.ledger.TransferFeeCurrency(ctx, source, e.collector, amount); err != nil {
		return wrap(op, err)
	}
	return nil
}

// payOut moves funding units out of the treasury holding.
func (e *Engine) payOut(ctx context.Context, op string, tr *treasury.Treasury, to solana.PublicKey, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := e.ledger.Transfer(ctx, tr.Holding, to, amount); err != nil {
		return wrap(op, err)
	}
	return nil
}

// payFee moves a proportional fee from the treasury holding to the
// collector's holding.
func (e *Engine) payFee(ctx context.Context, op string, tr *treasury.Treasury, amount uint64) error {
	if amount == 0 {
		return nil
	}
	to, err := e.feeHolding(tr.Mint)
	if err != nil {
		return wrap(op, err)
	}
	return e.payOut(ctx, op, tr, to, amount)
}

// assertBalance re-reads the treasury's true balance and checks that the
// cached figures are still backed by it.
func (e *Engine) assertBalance(ctx context.Context, op string, tr *treasury.Treasury) error {
	actual, err := e.ledger.Balance(ctx, tr.Holding)
	if err != nil {
		return wrap(op, err)
	}
	if actual < tr.LastKnownBalanceUnits {
		return invariant(op, "treasury balance %d below last known balance %d", actual, tr.LastKnownBalanceUnits)
	}
	if !tr.Covers() {
		return invariant(op, "treasury allocation %d exceeds balance %d", tr.AllocationAssignedUnits, tr.LastKnownBalanceUnits)
	}
	return nil
}

// seal builds the event for an operation. It is called before the working
// records are committed so that a sealing failure leaves no trace.
func (e *Engine) seal(tick Tick, kind event.Kind, treasuryKey solana.PublicKey, streamKey *solana.PublicKey, fields event.Fields) (event.Event, error) {
	ev := event.Event{
		Seq:      tick.Seq,
		Kind:     kind,
		Token:    e.tokens.Generate(),
		Time:     tick.Time,
		Slot:     tick.Slot,
		Treasury: treasuryKey.String(),
		Fields:   fields,
	}
	if streamKey != nil {
		ev.Stream = streamKey.String()
	}
	if err := ev.Seal(); err != nil {
		return event.Event{}, invariant(string(kind), "%v", err)
	}
	return ev, nil
}

func (e *Engine) notify(ctx context.Context, ev event.Event) {
	e.logger.DebugContext(ctx, "operation applied",
		"kind", ev.Kind,
		"token", ev.Token,
		"treasury", ev.Treasury,
		"stream", ev.Stream,
		"time", ev.Time,
	)
	e.sink.Notify(ctx, ev)
}
