package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/paystream/internal/engine"
	"github.com/roach88/paystream/internal/event"
	"github.com/roach88/paystream/internal/fees"
	"github.com/roach88/paystream/internal/host"
	"github.com/roach88/paystream/internal/ledger"
	"github.com/roach88/paystream/internal/store"
	"github.com/roach88/paystream/internal/testutil"
)

// FeeCollectorName is the reserved name of the host's fee collector.
const FeeCollectorName = "fee_collector"

type role int

const (
	roleAccount role = iota
	roleTreasury
	roleStream
)

// runner executes one scenario against a private host.
type runner struct {
	ctx      context.Context
	scenario *Scenario
	store    *store.Store
	host     *host.Host
	clock    *testutil.ManualClock
	events   *event.Recorder
	mint     solana.PublicKey

	keys  map[string]solana.PublicKey
	roles map[string]role
	names map[string]string // base58 address -> name
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with a manual clock and
// a fixed correlation token, so repeated runs produce identical results.
// A step whose outcome differs from its expectation, or a failed assertion,
// is reported in the result. Malformed arguments and storage failures abort
// the run with an error.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	schedule := fees.Default()
	if scenario.Fees != nil {
		schedule = *scenario.Fees
	}
	clock := testutil.NewManualClock(scenario.Start)
	rec := &event.Recorder{}
	h, err := host.New(ctx, st, schedule,
		host.WithClock(clock),
		host.WithSink(rec),
		host.WithTokens(testutil.NewFixedTokenGenerator(scenario.Token)),
		host.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), // Suppress logs in tests
	)
	if err != nil {
		return nil, err
	}

	r := &runner{
		ctx:      ctx,
		scenario: scenario,
		store:    st,
		host:     h,
		clock:    clock,
		events:   rec,
		mint:     testutil.NamedKey(scenario.Mint),
		keys:     make(map[string]solana.PublicKey),
		roles:    make(map[string]role),
		names:    make(map[string]string),
	}
	r.register(FeeCollectorName, h.FeeCollector(), roleAccount)

	for i, step := range scenario.Setup {
		clock.Set(scenario.Start + step.At)
		if err := r.apply(step); err != nil {
			return nil, fmt.Errorf("setup[%d] %s: %w", i, step.Op, err)
		}
	}
	rec.Reset()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := r.execute(i, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, step.Op, err)
		}
	}

	if result.Balances, err = r.balances(); err != nil {
		return nil, err
	}

	actx := &AssertionContext{Ctx: ctx, runner: r}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// execute runs one traced step and checks its outcome.
func (r *runner) execute(i int, step Step, result *Result) error {
	r.clock.Set(r.scenario.Start + step.At)

	outcome := OutcomeOK
	err := r.apply(step)
	if err != nil {
		var oe *engine.OpError
		if !errors.As(err, &oe) {
			return err
		}
		outcome = string(oe.Code)
	}

	result.Trace = append(result.Trace, TraceEvent{
		Step:    i,
		At:      step.At,
		Op:      step.Op,
		Outcome: outcome,
		Events:  r.drain(),
	})

	want := OutcomeOK
	if step.Expect != nil {
		want = step.Expect.Error
	}
	if outcome != want {
		msg := fmt.Sprintf("steps[%d] %s: expected %s, got %s", i, step.Op, want, outcome)
		if err != nil {
			msg += fmt.Sprintf(" (%v)", err)
		}
		result.AddError(msg)
	}
	return nil
}

func (r *runner) apply(step Step) error {
	return operations[step.Op](r, args(step.Args))
}

// drain returns the events committed since the last call.
func (r *runner) drain() []EventLine {
	evs := r.events.Events()
	r.events.Reset()
	if len(evs) == 0 {
		return nil
	}
	out := make([]EventLine, len(evs))
	for i, ev := range evs {
		out[i] = EventLine{
			Seq:      ev.Seq,
			Kind:     ev.Kind,
			Treasury: r.nameOf(ev.Treasury),
			Stream:   r.nameOf(ev.Stream),
		}
	}
	return out
}

func (r *runner) register(name string, key solana.PublicKey, ro role) {
	if _, ok := r.keys[name]; ok {
		return
	}
	r.keys[name] = key
	r.roles[name] = ro
	r.names[key.String()] = name
}

// resolve returns the address for name, registering it on first use.
func (r *runner) resolve(name string, ro role) solana.PublicKey {
	if key, ok := r.keys[name]; ok {
		return key
	}
	key := testutil.NamedKey(name)
	r.register(name, key, ro)
	return key
}

func (r *runner) nameOf(address string) string {
	if name, ok := r.names[address]; ok {
		return name
	}
	return address
}

func (r *runner) key(a args, field string, ro role) (solana.PublicKey, error) {
	name, err := a.str(field)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if name == "" {
		return solana.PublicKey{}, fmt.Errorf("missing %q", field)
	}
	return r.resolve(name, ro), nil
}

// balances reports every named account and treasury, sorted by name.
func (r *runner) balances() ([]BalanceLine, error) {
	names := make([]string, 0, len(r.keys))
	for name, ro := range r.roles {
		if ro != roleStream {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]BalanceLine, 0, len(names))
	for _, name := range names {
		units, fee, err := r.balance(r.keys[name])
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", name, err)
		}
		out = append(out, BalanceLine{Account: name, Units: units, Fee: fee})
	}
	return out, nil
}

func (r *runner) balance(key solana.PublicKey) (units, fee uint64, err error) {
	holding, err := ledger.HoldingAddress(key, r.mint)
	if err != nil {
		return 0, 0, err
	}
	if units, err = r.store.Balance(r.ctx, holding); err != nil {
		return 0, 0, err
	}
	if fee, err = r.store.FeeCurrencyBalance(r.ctx, key); err != nil {
		return 0, 0, err
	}
	return units, fee, nil
}
