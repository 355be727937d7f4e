package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/paystream/internal/event"
	"github.com/roach88/paystream/internal/fees"
	"github.com/roach88/paystream/internal/stream"
)

func fiveEveryTwo() CreateStreamRequest {
	return CreateStreamRequest{
		Name:                    "five every two",
		RateAmountUnits:         5,
		RateIntervalInSeconds:   2,
		AllocationAssignedUnits: 6,
	}
}

func millionPerSecond() CreateStreamRequest {
	return CreateStreamRequest{
		Name:                    "salary",
		RateAmountUnits:         1_000_000,
		RateIntervalInSeconds:   1,
		AllocationAssignedUnits: 10_000_000,
	}
}

func TestCreateStream_UpdatesTreasury(t *testing.T) {
	f := newFixture(t, fees.Default(), 50_000_000)
	before := f.feeCurrency(payer)

	st := f.createStream(millionPerSecond())

	assert.True(t, st.Record.Initialized)
	assert.Equal(t, stream.Version, st.Record.Version)
	assert.Equal(t, "salary", st.Record.DisplayName())
	assert.Equal(t, holding(t, beneficiary), st.Record.BeneficiaryHolding)
	assert.Equal(t, treasuryKey, st.Record.Treasury)
	assert.Equal(t, t0, st.Record.StartUTC)
	assert.Equal(t, t0, st.Record.StartUTCInSeconds)

	assert.Equal(t, uint64(10_000_000), f.tr.Record.AllocationAssignedUnits)
	assert.Equal(t, uint64(50_000_000), f.tr.Record.LastKnownBalanceUnits)
	assert.Equal(t, uint64(1), f.tr.Record.TotalStreams)
	assert.Equal(t, before-fees.Default().CreateStreamFlat, f.feeCurrency(payer))
}

func TestCreateStream_StartClampedToNow(t *testing.T) {
	f := newFixture(t, fees.Free(), 100)
	req := fiveEveryTwo()
	req.Key = streamKey
	req.Payer, req.Treasurer, req.Beneficiary = payer, treasurer, beneficiary
	req.StartUTC = 5

	s, err := f.engine.CreateStream(f.ctx, f.tick(t0+7), f.tr, req)
	require.NoError(t, err)
	assert.Equal(t, t0+7, s.StartSeconds())
	assert.Equal(t, t0+7, s.CreatedOnUTC)
}

func TestCreateStream_TreasurerPaysWithdrawFee(t *testing.T) {
	f := newFixture(t, fees.Default(), 20_000_000)
	req := millionPerSecond()
	req.FeePayedByTreasurer = true

	st := f.createStream(req)

	// 0.25% of the allocation leaves the treasury up front
	assert.Equal(t, uint64(25_000), f.balance(DefaultFeeCollector))
	assert.Equal(t, uint64(20_000_000-25_000), f.tr.Record.LastKnownBalanceUnits)
	assert.Equal(t, uint64(20_000_000-25_000), f.balance(treasuryKey))

	require.NoError(t, f.engine.Withdraw(f.ctx, f.tick(t0+4), f.tr, st, WithdrawRequest{
		Beneficiary: beneficiary,
		Amount:      4_000_000,
	}))
	assert.Equal(t, uint64(4_000_000), f.balance(beneficiary))
	assert.Equal(t, uint64(25_000), f.balance(DefaultFeeCollector))
}

func TestCreateStream_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateStreamRequest)
		code   Code
	}{
		{"wrong treasurer", func(r *CreateStreamRequest) { r.Treasurer = stranger }, CodeInvalidTreasurer},
		{"beneficiary is treasurer", func(r *CreateStreamRequest) { r.Beneficiary = treasurer }, CodeInvalidBeneficiary},
		{"zero allocation", func(r *CreateStreamRequest) { r.AllocationAssignedUnits = 0 }, CodeInvalidRequestedStreamAllocation},
		{"only rate amount", func(r *CreateStreamRequest) { r.RateIntervalInSeconds = 0 }, CodeInvalidStreamRate},
		{"only rate interval", func(r *CreateStreamRequest) { r.RateAmountUnits = 0 }, CodeInvalidStreamRate},
		{"no rate without full cliff", func(r *CreateStreamRequest) {
			r.RateAmountUnits, r.RateIntervalInSeconds, r.CliffVestAmountUnits = 0, 0, 5
		}, CodeInvalidStreamRate},
		{"cliff above allocation", func(r *CreateStreamRequest) { r.CliffVestAmountUnits = 7 }, CodeInvalidCliff},
		{"cliff percent above one", func(r *CreateStreamRequest) { r.CliffVestPercent = 1_000_001 }, CodeInvalidCliff},
		{"both cliff forms", func(r *CreateStreamRequest) { r.CliffVestAmountUnits, r.CliffVestPercent = 1, 1 }, CodeInvalidCliff},
		{"long name", func(r *CreateStreamRequest) { r.Name = "a name that is far longer than thirty-two bytes" }, CodeStringTooLong},
		{"above unallocated", func(r *CreateStreamRequest) { r.AllocationAssignedUnits = 101 }, CodeInsufficientTreasuryBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fees.Free(), 100)
			req := fiveEveryTwo()
			req.Key, req.Payer, req.Treasurer, req.Beneficiary, req.StartUTC = streamKey, payer, treasurer, beneficiary, t0
			tt.mutate(&req)
			before := *f.tr.Record

			_, err := f.engine.CreateStream(f.ctx, f.tick(t0), f.tr, req)
			assertCode(t, err, tt.code)
			assert.Equal(t, before, *f.tr.Record)
			assert.Empty(t, f.events.Events())
		})
	}
}

func TestCreateStream_FeeMustFitUnallocated(t *testing.T) {
	f := newFixture(t, fees.Default(), 10_000_000)
	req := millionPerSecond()
	req.Key, req.Payer, req.Treasurer, req.Beneficiary, req.StartUTC = streamKey, payer, treasurer, beneficiary, t0
	req.FeePayedByTreasurer = true

	_, err := f.engine.CreateStream(f.ctx, f.tick(t0), f.tr, req)
	assertCode(t, err, CodeInsufficientTreasuryBalance)
}

func TestCreateStream_OneTimePayment(t *testing.T) {
	f := newFixture(t, fees.Free(), 100)
	st := f.createStream(CreateStreamRequest{
		Name:                    "bonus",
		AllocationAssignedUnits: 40,
		CliffVestPercent:        1_000_000,
	})

	assert.Equal(t, uint64(40), st.Record.CliffVestAmountUnits)
	assert.Zero(t, st.Record.CliffVestPercent)
	assert.Equal(t, stream.Paused, f.status(st, t0))
	assert.Equal(t, uint64(40), f.withdrawable(st, t0))

	require.NoError(t, f.engine.Withdraw(f.ctx, f.tick(t0), f.tr, st, WithdrawRequest{Beneficiary: beneficiary, Amount: 40}))
	assert.Equal(t, uint64(40), f.balance(beneficiary))

	// a rate-less stream cannot be topped up
	err := f.engine.Allocate(f.ctx, f.tick(t0+1), f.tr, st, AllocateRequest{Treasurer: treasurer, Amount: 10})
	assertCode(t, err, CodeInvalidStreamRate)
}

func TestStream_FiveEveryTwoWithReallocation(t *testing.T) {
	f := newFixture(t, fees.Free(), 100)
	st := f.createStream(fiveEveryTwo())

	assert.Equal(t, uint64(0), f.withdrawable(st, t0))
	assert.Equal(t, uint64(2), f.withdrawable(st, t0+1))
	assert.Equal(t, uint64(6), f.withdrawable(st, t0+2))
	assert.Equal(t, stream.Paused, f.status(st, t0+2))

	require.NoError(t, f.engine.Allocate(f.ctx, f.tick(t0+2), f.tr, st, AllocateRequest{Treasurer: treasurer, Amount: 4}))

	assert.Equal(t, t0+2, st.Record.LastAutoStopBlockTime)
	assert.Equal(t, uint64(0), st.Record.LastKnownTotalSecondsInPausedStatus)
	assert.Equal(t, uint64(10), st.Record.AllocationAssignedUnits)
	assert.Equal(t, uint64(10), f.tr.Record.AllocationAssignedUnits)

	assert.Equal(t, stream.Running, f.status(st, t0+2))
	assert.Equal(t, uint64(5), f.withdrawable(st, t0+2))
	assert.Equal(t, uint64(7), f.withdrawable(st, t0+3))
	assert.Equal(t, uint64(10), f.withdrawable(st, t0+4))
	assert.Equal(t, stream.Paused, f.status(st, t0+4))
}

func TestStream_FourEveryTwoWithReallocation(t *testing.T) {
	f := newFixture(t, fees.Free(), 100)
	st := f.createStream(CreateStreamRequest{
		Name:                    "four every two",
		RateAmountUnits:         4,
		RateIntervalInSeconds:   2,
		AllocationAssignedUnits: 8,
	})

	assert.Equal(t, uint64(2), f.withdrawable(st, t0+1))
	assert.Equal(t, uint64(4), f.withdrawable(st, t0+2))
	assert.Equal(t, uint64(8), f.withdrawable(st, t0+4))
	assert.Equal(t, stream.Paused, f.status(st, t0+4))

	require.NoError(t, f.engine.Allocate(f.ctx, f.tick(t0+4), f.tr, st, AllocateRequest{Treasurer: treasurer, Amount: 4}))

	assert.Equal(t, stream.Running, f.status(st, t0+4))
	assert.Equal(t, uint64(8), f.withdrawable(st, t0+4))
	assert.Equal(t, uint64(10), f.withdrawable(st, t0+5))
	assert.Equal(t, uint64(12), f.withdrawable(st, t0+6))
	assert.Equal(t, stream.Paused, f.status(st, t0+6))
}

func TestResume_AutoPausedStreamNeedsAllocation(t *testing.T) {
	f := newFixture(t, fees.Free(), 100)
	st := f.createStream(fiveEveryTwo())

	err := f.engine.ResumeStream(f.ctx, f.tick(t0+3), f.tr, st, treasurer)
	assertCode(t, err, CodeCannotResumeAutoPausedStream)

	require.NoError(t, f.engine.Allocate(f.ctx, f.tick(t0+3), f.tr, st, AllocateRequest{Treasurer: treasurer, Amount: 4}))
	assert.Equal(t, stream.Running, f.status(st, t0+3))
	assert.Equal(t, uint64(1), st.Record.LastKnownTotalSecondsInPausedStatus)

	err = f.engine.ResumeStream(f.ctx, f.tick(t0+3), f.tr, st, treasurer)
	assertCode(t, err, CodeStreamAlreadyRunning)
}

func TestPauseResume_Accounting(t *testing.T) {
	f := newFixture(t, fees.Free(), 100)
	st := f.createStream(fiveEveryTwo())

	require.NoError(t, f.engine.PauseStream(f.ctx, f.tick(t0+1), f.tr, st, treasurer))
	assert.Equal(t, uint64(2), st.Record.LastManualStopWithdrawableUnitsSnap)
	assert.Equal(t, t0+1, st.Record.LastManualStopBlockTime)
	assert.True(t, st.Record.IsManuallyPaused())

	// frozen while paused
	assert.Equal(t, uint64(2), f.withdrawable(st, t0+2))
	assert.Equal(t, uint64(2), f.withdrawable(st, t0+100))

	err := f.engine.PauseStream(f.ctx, f.tick(t0+2), f.tr, st, treasurer)
	assertCode(t, err, CodeStreamAlreadyPaused)

	err = f.engine.ResumeStream(f.ctx, f.tick(t0+1), f.tr, st, treasurer)
	assertCode(t, err, CodeCannotPauseAndUnpauseOnSameBlockTime)

	require.NoError(t, f.engine.ResumeStream(f.ctx, f.tick(t0+3), f.tr, st, treasurer))
	assert.Equal(t, uint64(2), st.Record.LastKnownTotalSecondsInPausedStatus)
	assert.Equal(t, uint64(6), st.Record.LastManualResumeRemainingAllocationUnitsSnap)
	assert.Equal(t, stream.Running, f.status(st, t0+3))
	assert.Equal(t, uint64(2), f.withdrawable(st, t0+3))
	assert.Equal(t, uint64(6), f.withdrawable(st, t0+4))

	err = f.engine.PauseStream(f.ctx, f.tick(t0+3), f.tr, st, treasurer)
	assertCode(t, err, CodeCannotPauseAndUnpauseOnSameBlockTime)

	kinds := []event.Kind{}
	for _, ev := range f.events.Events() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []event.Kind{event.KindCreateStream, event.KindPauseStream, event.KindResumeStream}, kinds)
}

func TestPauseResume_Authorization(t *testing.T) {
	f := newFixture(t, fees.Free(), 100)
	st := f.createStream(fiveEveryTwo())

	err := f.engine.PauseStream(f.ctx, f.tick(t0+1), f.tr, st, beneficiary)
	assertCode(t, err, CodeNotAuthorized)
	err = f.engine.ResumeStream(f.ctx, f.tick(t0+1), f.tr, st, stranger)
	assertCode(t, err, CodeNotAuthorized)
}

func TestPause_ScheduledStream(t *testing.T) {
	f := newFixture(t, fees.Free(), 100)
	req := fiveEveryTwo()
	req.StartUTC = t0 + 10
	st := f.createStream(req)

	err := f.engine.PauseStream(f.ctx, f.tick(t0+1), f.tr, st, treasurer)
	assertCode(t, err, CodeStreamAlreadyPaused)
	err = f.engine.ResumeStream(f.ctx, f.tick(t0+1), f.tr, st, treasurer)
	assertCode(t, err, CodeStreamAlreadyRunning)
	err = f.engine.Withdraw(f.ctx, f.tick(t0+1), f.tr, st, WithdrawRequest{Beneficiary: beneficiary, Amount: 1})
	assertCode(t, err, CodeStreamIsScheduled)
}

func TestWithdraw_ClampsAndChargesFee(t *testing.T) {
	f := newFixture(t, fees.Default(), 50_000_000)
	st := f.createStream(millionPerSecond())

	require.NoError(t, f.engine.Withdraw(f.ctx, f.tick(t0+4), f.tr, st, WithdrawRequest{
		Beneficiary: beneficiary,
		Amount:      9_000_000,
	}))

	assert.Equal(t, uint64(3_990_000), f.balance(beneficiary))
	assert.Equal(t, uint64(10_000), f.balance(DefaultFeeCollector))

	s, tr := st.Record, f.tr.Record
	assert.Equal(t, uint64(4_000_000), s.TotalWithdrawalsUnits)
	assert.Equal(t, uint64(4_000_000), s.LastWithdrawalUnits)
	assert.Equal(t, t0+4, s.LastWithdrawalBlockTime)
	assert.Equal(t, uint64(6_000_000), tr.AllocationAssignedUnits)
	assert.Equal(t, uint64(46_000_000), tr.LastKnownBalanceUnits)
	assert.Equal(t, uint64(4_000_000), tr.TotalWithdrawalsUnits)
	assert.Equal(t, f.balance(treasuryKey), tr.LastKnownBalanceUnits)

	evs := f.events.Events()
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, event.KindWithdraw, last.Kind)
	sent, _ := last.Fields.Uint("token_amount_sent_to_beneficiary")
	assert.Equal(t, uint64(3_990_000), sent)
}

func TestWithdraw_Errors(t *testing.T) {
	f := newFixture(t, fees.Free(), 100)
	st := f.createStream(fiveEveryTwo())
	before := *st.Record

	err := f.engine.Withdraw(f.ctx, f.tick(t0+1), f.tr, st, WithdrawRequest{Beneficiary: beneficiary})
	assertCode(t, err, CodeZeroWithdrawalAmount)

	err = f.engine.Withdraw(f.ctx, f.tick(t0+1), f.tr, st, WithdrawRequest{Beneficiary: stranger, Amount: 1})
	assertCode(t, err, CodeInvalidBeneficiary)

	err = f.engine.Withdraw(f.ctx, f.tick(t0), f.tr, st, WithdrawRequest{Beneficiary: beneficiary, Amount: 1})
	assertCode(t, err, CodeZeroWithdrawalAmount)

	other := StreamRef{Key: streamKey, Record: &stream.Stream{}}
	err = f.engine.Withdraw(f.ctx, f.tick(t0+1), f.tr, other, WithdrawRequest{Beneficiary: beneficiary, Amount: 1})
	assertCode(t, err, CodeInvalidStreamVersion)

	assert.Equal(t, before, *st.Record)
	assert.Zero(t, f.balance(beneficiary))
}

func TestWithdraw_WhilePausedDrainsSnapshot(t *testing.T) {
	f := newFixture(t, fees.Free(), 100)
	st := f.createStream(fiveEveryTwo())

	require.NoError(t, f.engine.PauseStream(f.ctx, f.tick(t0+1), f.tr, st, treasurer))
	require.NoError(t, f.engine.Withdraw(f.ctx, f.tick(t0+2), f.tr, st, WithdrawRequest{Beneficiary: beneficiary, Amount: 5}))

	assert.Equal(t, uint64(2), f.balance(beneficiary))
	assert.Zero(t, st.Record.LastManualStopWithdrawableUnitsSnap)
	assert.Equal(t, stream.Paused, f.status(st, t0+2))

	err := f.engine.Withdraw(f.ctx, f.tick(t0+2), f.tr, st, WithdrawRequest{Beneficiary: beneficiary, Amount: 1})
	assertCode(t, err, CodeZeroWithdrawalAmount)

	require.NoError(t, f.engine.ResumeStream(f.ctx, f.tick(t0+3), f.tr, st, treasurer))
	assert.Zero(t, f.withdrawable(st, t0+3))
	assert.Equal(t, uint64(4), f.withdrawable(st, t0+4))
}

func TestAllocate_Errors(t *testing.T) {
	f := newFixture(t, fees.Free(), 10)
	st := f.createStream(fiveEveryTwo())

	err := f.engine.Allocate(f.ctx, f.tick(t0+1), f.tr, st, AllocateRequest{Treasurer: treasurer})
	assertCode(t, err, CodeZeroContributionAmount)

	err = f.engine.Allocate(f.ctx, f.tick(t0+1), f.tr, st, AllocateRequest{Treasurer: stranger, Amount: 1})
	assertCode(t, err, CodeInvalidTreasurer)

	err = f.engine.Allocate(f.ctx, f.tick(t0+1), f.tr, st, AllocateRequest{Treasurer: treasurer, Amount: 5})
	assertCode(t, err, CodeInsufficientTreasuryBalance)

	foreign := *st.Record
	foreign.Treasury = stranger
	err = f.engine.Allocate(f.ctx, f.tick(t0+1), f.tr, StreamRef{Key: streamKey, Record: &foreign}, AllocateRequest{Treasurer: treasurer, Amount: 1})
	assertCode(t, err, CodeInvalidTreasury)
}

func TestAllocate_RunningStreamKeepsSchedule(t *testing.T) {
	f := newFixture(t, fees.Free(), 100)
	st := f.createStream(fiveEveryTwo())

	require.NoError(t, f.engine.Allocate(f.ctx, f.tick(t0+1), f.tr, st, AllocateRequest{Treasurer: treasurer, Amount: 4}))
	assert.Zero(t, st.Record.LastAutoStopBlockTime)
	assert.Equal(t, uint64(2), f.withdrawable(st, t0+1))
	assert.Equal(t, uint64(10), f.withdrawable(st, t0+4))
}

// After a stream runs dry, topping it up resumes vesting from the moment of
// the top-up. The depletion estimate truncates to whole seconds, so the
// withdrawable amount may step back by at most one second of vesting.
func TestAllocate_AfterAutoPauseProperties(t *testing.T) {
	rates := []struct{ amount, interval, alloc uint64 }{
		{5, 2, 6},
		{4, 2, 8},
		{7, 3, 20},
		{1, 1, 3},
		{1_000, 60, 2_500},
		{3, 7, 10},
	}
	for _, r := range rates {
		for delay := uint64(0); delay <= 5; delay++ {
			name := fmt.Sprintf("%d_per_%d_alloc_%d_delay_%d", r.amount, r.interval, r.alloc, delay)
			t.Run(name, func(t *testing.T) {
				f := newFixture(t, fees.Free(), 1_000_000)
				st := f.createStream(CreateStreamRequest{
					Name:                    "prop",
					RateAmountUnits:         r.amount,
					RateIntervalInSeconds:   r.interval,
					AllocationAssignedUnits: r.alloc,
				})

				depleted := t0
				for f.status(st, depleted) == stream.Running {
					depleted++
				}
				at := depleted + delay
				before := f.withdrawable(st, at)
				require.Equal(t, r.alloc, before)

				require.NoError(t, f.engine.Allocate(f.ctx, f.tick(at), f.tr, st, AllocateRequest{
					Treasurer: treasurer,
					Amount:    r.alloc,
				}))

				after := f.withdrawable(st, at)
				step := r.amount/r.interval + 1
				assert.LessOrEqual(t, before, after+step)
				assert.Equal(t, stream.Running, f.status(st, at))

				prev := after
				for now := at; now <= at+3*r.alloc*r.interval/r.amount+2; now++ {
					w := f.withdrawable(st, now)
					remaining, err := st.Record.RemainingAllocation()
					require.NoError(t, err)
					assert.LessOrEqual(t, w, remaining)
					assert.GreaterOrEqual(t, w, prev, "withdrawable decreased at +%d", now-at)
					prev = w
				}
				assert.Equal(t, 2*r.alloc, prev)
			})
		}
	}
}

func TestCloseStream_PaysBeneficiaryAndReleasesAllocation(t *testing.T) {
	f := newFixture(t, fees.Default(), 50_000_000)
	st := f.createStream(millionPerSecond())
	payerBefore := f.feeCurrency(payer)

	require.NoError(t, f.engine.CloseStream(f.ctx, f.tick(t0+4), f.tr, st, CloseStreamRequest{
		Treasurer: treasurer,
		Payer:     payer,
	}))

	assert.False(t, st.Record.Initialized)
	assert.Equal(t, uint64(3_990_000), f.balance(beneficiary))
	assert.Equal(t, uint64(10_000), f.balance(DefaultFeeCollector))
	assert.Zero(t, f.tr.Record.AllocationAssignedUnits)
	assert.Zero(t, f.tr.Record.TotalStreams)
	assert.Equal(t, uint64(46_000_000), f.tr.Record.LastKnownBalanceUnits)
	assert.Equal(t, f.balance(treasuryKey), f.tr.Record.LastKnownBalanceUnits)
	assert.Equal(t, payerBefore-fees.Default().CloseStreamFlat, f.feeCurrency(payer))

	err := f.engine.Withdraw(f.ctx, f.tick(t0+5), f.tr, st, WithdrawRequest{Beneficiary: beneficiary, Amount: 1})
	assertCode(t, err, CodeStreamNotInitialized)
}

func TestCloseStream_Errors(t *testing.T) {
	f := newFixture(t, fees.Default(), 50_000_000)
	st := f.createStream(millionPerSecond())
	before, trBefore := *st.Record, *f.tr.Record

	err := f.engine.CloseStream(f.ctx, f.tick(t0+4), f.tr, st, CloseStreamRequest{Treasurer: beneficiary, Payer: payer})
	assertCode(t, err, CodeInvalidTreasurer)

	err = f.engine.CloseStream(f.ctx, f.tick(t0+4), f.tr, st, CloseStreamRequest{Treasurer: treasurer, Payer: stranger})
	assertCode(t, err, CodeInsufficientLamports)

	assert.Equal(t, before, *st.Record)
	assert.Equal(t, trBefore, *f.tr.Record)
	assert.Zero(t, f.balance(beneficiary))
}

// The closing payout, the fee and the released remainder always add up to
// the stream's allocation, whatever happened before the close.
func TestCloseStream_ConservesFunds(t *testing.T) {
	type step func(f *fixture, st StreamRef)
	withdraw := func(at, amount uint64) step {
		return func(f *fixture, st StreamRef) {
			require.NoError(f.t, f.engine.Withdraw(f.ctx, f.tick(at), f.tr, st, WithdrawRequest{Beneficiary: beneficiary, Amount: amount}))
		}
	}
	pause := func(at uint64) step {
		return func(f *fixture, st StreamRef) {
			require.NoError(f.t, f.engine.PauseStream(f.ctx, f.tick(at), f.tr, st, treasurer))
		}
	}
	resume := func(at uint64) step {
		return func(f *fixture, st StreamRef) {
			require.NoError(f.t, f.engine.ResumeStream(f.ctx, f.tick(at), f.tr, st, treasurer))
		}
	}
	allocate := func(at, amount uint64) step {
		return func(f *fixture, st StreamRef) {
			require.NoError(f.t, f.engine.Allocate(f.ctx, f.tick(at), f.tr, st, AllocateRequest{Treasurer: treasurer, Amount: amount}))
		}
	}

	histories := []struct {
		name    string
		steps   []step
		closeAt uint64
	}{
		{"untouched", nil, t0 + 3},
		{"before start", nil, t0},
		{"withdrawn", []step{withdraw(t0+2, 1_500_000)}, t0 + 5},
		{"paused", []step{pause(t0 + 2), withdraw(t0+3, 1_000_000)}, t0 + 8},
		{"resumed", []step{pause(t0 + 2), resume(t0 + 6), withdraw(t0+7, 2_999_999)}, t0 + 9},
		{"depleted", nil, t0 + 50},
		{"reallocated", []step{allocate(t0+12, 5_000_000), withdraw(t0+13, 7)}, t0 + 14},
		{"drained", []step{withdraw(t0+20, 10_000_000)}, t0 + 21},
	}

	for _, h := range histories {
		t.Run(h.name, func(t *testing.T) {
			f := newFixture(t, fees.Default(), 50_000_000)
			st := f.createStream(millionPerSecond())
			for _, s := range h.steps {
				s(f, st)
			}

			alloc := st.Record.AllocationAssignedUnits
			withdrawn := st.Record.TotalWithdrawalsUnits
			total := f.balance(treasuryKey) + f.balance(beneficiary) + f.balance(DefaultFeeCollector)

			require.NoError(t, f.engine.CloseStream(f.ctx, f.tick(h.closeAt), f.tr, st, CloseStreamRequest{Treasurer: treasurer, Payer: payer}))

			evs := f.events.Events()
			last := evs[len(evs)-1]
			paid, _ := last.Fields.Uint("token_amount_sent_to_beneficiary")
			fee, _ := last.Fields.Uint("token_fee_charged")

			// whatever was neither withdrawn nor paid out stays in the treasury
			assert.LessOrEqual(t, withdrawn+paid+fee, alloc)
			assert.Equal(t, uint64(50_000_000)-withdrawn-paid-fee, f.tr.Record.LastKnownBalanceUnits)
			assert.Equal(t, total, f.balance(treasuryKey)+f.balance(beneficiary)+f.balance(DefaultFeeCollector))
			assert.Zero(t, f.tr.Record.AllocationAssignedUnits)
			assert.Equal(t, f.balance(treasuryKey), f.tr.Record.LastKnownBalanceUnits)
		})
	}
}

func TestLockedTreasury_Rules(t *testing.T) {
	f := newFixture(t, fees.Free(), 100, locked())
	st := f.createStream(fiveEveryTwo())

	err := f.engine.Allocate(f.ctx, f.tick(t0+1), f.tr, st, AllocateRequest{Treasurer: treasurer, Amount: 1})
	assertCode(t, err, CodeAllocateNotAllowedOnLockedStreams)

	err = f.engine.PauseStream(f.ctx, f.tick(t0+1), f.tr, st, treasurer)
	assertCode(t, err, CodePauseOrResumeLockedStreamNotAllowed)

	err = f.engine.ResumeStream(f.ctx, f.tick(t0+1), f.tr, st, treasurer)
	assertCode(t, err, CodePauseOrResumeLockedStreamNotAllowed)

	err = f.engine.CloseStream(f.ctx, f.tick(t0+1), f.tr, st, CloseStreamRequest{Treasurer: treasurer, Payer: payer})
	assertCode(t, err, CodeCloseLockedStreamNotAllowedWhileRunning)

	// once vested in full the stream may close
	require.NoError(t, f.engine.CloseStream(f.ctx, f.tick(t0+2), f.tr, st, CloseStreamRequest{Treasurer: treasurer, Payer: payer}))
	assert.Equal(t, uint64(6), f.balance(beneficiary))
}

func TestFlatFees_DrawnFromTreasuryReserve(t *testing.T) {
	f := newFixture(t, fees.Default(), 50_000_000, treasuryPaysFees())
	require.NoError(t, f.ledger.CreditFeeCurrency(treasuryKey, 15_000))
	payerBefore := f.feeCurrency(payer)

	st := f.createStream(millionPerSecond())
	assert.Equal(t, uint64(5_000), f.feeCurrency(treasuryKey))
	assert.Equal(t, payerBefore, f.feeCurrency(payer))

	err := f.engine.CloseStream(f.ctx, f.tick(t0+1), f.tr, st, CloseStreamRequest{Treasurer: treasurer, Payer: payer})
	assertCode(t, err, CodeInsufficientLamports)
	assert.True(t, st.Record.Initialized)
}

func TestTransferStream(t *testing.T) {
	f := newFixture(t, fees.Default(), 50_000_000)
	st := f.createStream(millionPerSecond())
	heir := key(42)
	feeBefore := f.feeCurrency(beneficiary)

	err := f.engine.TransferStream(f.ctx, f.tick(t0+1), f.tr, st, TransferStreamRequest{Beneficiary: stranger, NewBeneficiary: heir})
	assertCode(t, err, CodeInvalidBeneficiary)

	require.NoError(t, f.engine.TransferStream(f.ctx, f.tick(t0+1), f.tr, st, TransferStreamRequest{
		Beneficiary:    beneficiary,
		NewBeneficiary: heir,
	}))
	assert.Equal(t, heir, st.Record.Beneficiary)
	assert.Equal(t, holding(t, heir), st.Record.BeneficiaryHolding)
	assert.Equal(t, feeBefore-fees.Default().TransferStreamFlat, f.feeCurrency(beneficiary))

	err = f.engine.Withdraw(f.ctx, f.tick(t0+2), f.tr, st, WithdrawRequest{Beneficiary: beneficiary, Amount: 1})
	assertCode(t, err, CodeInvalidBeneficiary)

	require.NoError(t, f.engine.Withdraw(f.ctx, f.tick(t0+2), f.tr, st, WithdrawRequest{Beneficiary: heir, Amount: 1_000_000}))
	assert.Equal(t, uint64(997_500), f.balance(heir))
}

func TestGetStream(t *testing.T) {
	f := newFixture(t, fees.Free(), 100)
	st := f.createStream(fiveEveryTwo())

	v, err := f.engine.GetStream(f.tick(t0+1), st)
	require.NoError(t, err)
	assert.Equal(t, "Running", v.Status)
	assert.Equal(t, uint64(2), v.WithdrawableAmount)
	assert.Equal(t, uint64(1), v.SecondsSinceStart)
	assert.Equal(t, t0+2, v.EstDepletionTime)
	assert.Equal(t, uint64(4), v.FundsLeftInStream)

	_, err = f.engine.GetStream(f.tick(t0+1), StreamRef{Key: streamKey})
	assertCode(t, err, CodeStreamNotInitialized)
}
