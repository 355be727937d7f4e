package engine

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/paystream/internal/event"
	"github.com/roach88/paystream/internal/fees"
	"github.com/roach88/paystream/internal/ledger"
	"github.com/roach88/paystream/internal/stream"
	"github.com/roach88/paystream/internal/treasury"
)

const t0 uint64 = 1_700_000_000

var (
	mint        = key(1)
	treasurer   = key(2)
	beneficiary = key(3)
	payer       = key(4)
	stranger    = key(5)
	treasuryKey = key(10)
	streamKey   = key(11)
)

func key(n byte) solana.PublicKey {
	var k solana.PublicKey
	for i := range k {
		k[i] = n
	}
	return k
}

func holding(t *testing.T, owner solana.PublicKey) solana.PublicKey {
	t.Helper()
	h, err := ledger.HoldingAddress(owner, mint)
	require.NoError(t, err)
	return h
}

// fixture is a funded treasury on an in-memory ledger.
type fixture struct {
	t      *testing.T
	ctx    context.Context
	ledger *ledger.Memory
	engine *Engine
	events *event.Recorder
	tr     TreasuryRef
	slot   uint64
}

type fixtureOption func(*CreateTreasuryRequest)

func locked() fixtureOption {
	return func(r *CreateTreasuryRequest) { r.Type = treasury.Locked }
}

func treasuryPaysFees() fixtureOption {
	return func(r *CreateTreasuryRequest) { r.SolFeePayedByTreasury = true }
}

func newFixture(t *testing.T, schedule fees.Schedule, funds uint64, opts ...fixtureOption) *fixture {
	t.Helper()

	l := ledger.NewMemory()
	rec := &event.Recorder{}
	e, err := New(schedule, l, WithSink(rec))
	require.NoError(t, err)

	for _, k := range []solana.PublicKey{payer, treasurer, beneficiary} {
		require.NoError(t, l.CreditFeeCurrency(k, 1_000_000_000))
	}
	if funds > 0 {
		require.NoError(t, l.Credit(holding(t, treasurer), funds))
	}

	f := &fixture{t: t, ctx: context.Background(), ledger: l, engine: e, events: rec}

	req := CreateTreasuryRequest{
		Key:       treasuryKey,
		Payer:     payer,
		Treasurer: treasurer,
		Mint:      mint,
		Name:      "payroll",
		Type:      treasury.Open,
	}
	for _, opt := range opts {
		opt(&req)
	}
	tr, err := e.CreateTreasury(f.ctx, f.tick(t0-100), req)
	require.NoError(t, err)
	f.tr = TreasuryRef{Key: treasuryKey, Record: tr}

	if funds > 0 {
		if req.SolFeePayedByTreasury {
			require.NoError(t, l.CreditFeeCurrency(treasuryKey, schedule.AddFundsFlat))
		}
		require.NoError(t, e.AddFunds(f.ctx, f.tick(t0-100), f.tr, AddFundsRequest{
			Contributor: treasurer,
			Payer:       payer,
			Amount:      funds,
		}))
	}
	rec.Reset()
	return f
}

func (f *fixture) tick(at uint64) Tick {
	f.slot++
	return Tick{Time: at, Slot: f.slot, Seq: int64(f.slot)}
}

func (f *fixture) createStream(req CreateStreamRequest) StreamRef {
	f.t.Helper()
	if req.Key.IsZero() {
		req.Key = streamKey
	}
	req.Payer = payer
	req.Treasurer = treasurer
	if req.Beneficiary.IsZero() {
		req.Beneficiary = beneficiary
	}
	if req.StartUTC == 0 {
		req.StartUTC = t0
	}
	s, err := f.engine.CreateStream(f.ctx, f.tick(t0), f.tr, req)
	require.NoError(f.t, err)
	return StreamRef{Key: req.Key, Record: s}
}

func (f *fixture) withdrawable(st StreamRef, at uint64) uint64 {
	f.t.Helper()
	w, err := st.Record.Withdrawable(at)
	require.NoError(f.t, err)
	return w
}

func (f *fixture) status(st StreamRef, at uint64) stream.Status {
	f.t.Helper()
	s, err := st.Record.Status(at)
	require.NoError(f.t, err)
	return s
}

func (f *fixture) balance(owner solana.PublicKey) uint64 {
	f.t.Helper()
	b, err := f.ledger.Balance(f.ctx, holding(f.t, owner))
	require.NoError(f.t, err)
	return b
}

func (f *fixture) feeCurrency(account solana.PublicKey) uint64 {
	f.t.Helper()
	b, err := f.ledger.FeeCurrencyBalance(f.ctx, account)
	require.NoError(f.t, err)
	return b
}

func assertCode(t *testing.T, err error, code Code) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, IsCode(err, code), "want %s, got %v", code, err)
}

func TestNew_RejectsInvalidSchedule(t *testing.T) {
	_, err := New(fees.Schedule{}, ledger.NewMemory())
	assert.Error(t, err)

	_, err = New(fees.Default(), nil)
	assert.Error(t, err)

	e, err := New(fees.Default(), ledger.NewMemory())
	require.NoError(t, err)
	assert.Equal(t, DefaultFeeCollector, e.FeeCollector())
	assert.Equal(t, fees.Default(), e.Fees())
}

func TestEngine_EventsCarryTickAndKeys(t *testing.T) {
	f := newFixture(t, fees.Free(), 100)
	st := f.createStream(CreateStreamRequest{
		Name:                    "alice",
		RateAmountUnits:         5,
		RateIntervalInSeconds:   2,
		AllocationAssignedUnits: 6,
	})

	evs := f.events.Events()
	require.Len(t, evs, 1)
	ev := evs[0]
	assert.Equal(t, event.KindCreateStream, ev.Kind)
	assert.Equal(t, treasuryKey.String(), ev.Treasury)
	assert.Equal(t, st.Key.String(), ev.Stream)
	assert.Equal(t, t0, ev.Time)
	assert.NotEmpty(t, ev.ID)
	assert.NotEmpty(t, ev.Token)

	alloc, ok := ev.Fields.Uint("stream_allocation")
	require.True(t, ok)
	assert.Equal(t, uint64(6), alloc)
}

func TestEngine_FixedTokens(t *testing.T) {
	l := ledger.NewMemory()
	require.NoError(t, l.CreditFeeCurrency(payer, 1_000_000))
	rec := &event.Recorder{}
	e, err := New(fees.Default(), l, WithSink(rec), WithTokens(NewFixedGenerator("op-1")))
	require.NoError(t, err)

	_, err = e.CreateTreasury(context.Background(), Tick{Time: t0, Slot: 1, Seq: 1}, CreateTreasuryRequest{
		Key:       treasuryKey,
		Payer:     payer,
		Treasurer: treasurer,
		Mint:      mint,
	})
	require.NoError(t, err)
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, "op-1", rec.Events()[0].Token)
}
