package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/paystream/internal/store"
	"github.com/roach88/paystream/internal/treasury"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, step := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] +%ds %s -> %s\n", step.Step, step.At, step.Op, step.Outcome)
		}
	}
	return buf.String()
}

// AssertionContext provides the state that record and balance assertions
// read from.
type AssertionContext struct {
	Ctx    context.Context
	runner *runner
}

// assertEventCount checks that an event kind appears exactly Count times.
func assertEventCount(result *Result, assertion Assertion) error {
	count := 0
	for _, ev := range result.Events() {
		if string(ev.Kind) == assertion.Kind {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Kind),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertEventOrder checks that event kinds first appear in the given order.
// Kinds don't need to be consecutive.
func assertEventOrder(result *Result, assertion Assertion) error {
	positions := make(map[string]int)
	for i, ev := range result.Events() {
		if _, seen := positions[string(ev.Kind)]; !seen {
			positions[string(ev.Kind)] = i
		}
	}

	for _, kind := range assertion.Kinds {
		if _, ok := positions[kind]; !ok {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("all kinds present: %v", assertion.Kinds),
				Actual:   fmt.Sprintf("missing kind: %s", kind),
				Trace:    result.Trace,
			}
		}
	}

	for i := 1; i < len(assertion.Kinds); i++ {
		prev, curr := assertion.Kinds[i-1], assertion.Kinds[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("kinds in order: %v", assertion.Kinds),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: result.Trace,
			}
		}
	}
	return nil
}

// assertBalance checks an account's final balances.
func assertBalance(actx *AssertionContext, assertion Assertion) error {
	r := actx.runner
	units, fee, err := r.balance(r.resolve(assertion.Account, roleAccount))
	if err != nil {
		return err
	}
	if assertion.Units != nil && *assertion.Units != units {
		return &AssertionError{
			Type:     AssertBalance,
			Expected: fmt.Sprintf("%s holds %d units", assertion.Account, *assertion.Units),
			Actual:   fmt.Sprintf("%d units", units),
		}
	}
	if assertion.Fee != nil && *assertion.Fee != fee {
		return &AssertionError{
			Type:     AssertBalance,
			Expected: fmt.Sprintf("%s holds %d fee currency", assertion.Account, *assertion.Fee),
			Actual:   fmt.Sprintf("%d fee currency", fee),
		}
	}
	return nil
}

// assertStream checks a stream's derived view at the current or given time.
func assertStream(actx *AssertionContext, assertion Assertion) error {
	r := actx.runner
	key := r.resolve(assertion.Stream, roleStream)

	if assertion.Closed {
		_, err := r.store.Stream(actx.Ctx, key)
		return assertClosed(AssertStream, assertion.Stream, err)
	}

	if assertion.At != nil {
		r.clock.Set(r.scenario.Start + *assertion.At)
	}
	view, err := r.host.GetStream(actx.Ctx, key)
	if err != nil {
		return &AssertionError{
			Type:     AssertStream,
			Expected: fmt.Sprintf("stream %s to exist", assertion.Stream),
			Actual:   err.Error(),
		}
	}
	fields, err := jsonFields(view)
	if err != nil {
		return err
	}
	return matchFields(AssertStream, assertion.Stream, fields, assertion.Expect)
}

// assertTreasury checks a treasury record.
func assertTreasury(actx *AssertionContext, assertion Assertion) error {
	r := actx.runner
	key := r.resolve(assertion.Treasury, roleTreasury)

	t, err := r.store.Treasury(actx.Ctx, key)
	if assertion.Closed {
		return assertClosed(AssertTreasury, assertion.Treasury, err)
	}
	if err != nil {
		return &AssertionError{
			Type:     AssertTreasury,
			Expected: fmt.Sprintf("treasury %s to exist", assertion.Treasury),
			Actual:   err.Error(),
		}
	}
	return matchFields(AssertTreasury, assertion.Treasury, treasuryFields(t), assertion.Expect)
}

func assertClosed(kind, name string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	actual := "record exists"
	if err != nil {
		actual = err.Error()
	}
	return &AssertionError{
		Type:     kind,
		Expected: fmt.Sprintf("%s %s to be closed", kind, name),
		Actual:   actual,
	}
}

// treasuryFields exposes a treasury record to assertions.
func treasuryFields(t *treasury.Treasury) map[string]any {
	unallocated, err := t.Unallocated()
	if err != nil {
		unallocated = 0
	}
	return map[string]any{
		"name":               t.DisplayName(),
		"type":               t.Type.String(),
		"category":           t.Category.String(),
		"auto_close":         t.AutoClose,
		"treasury_pays_fees": t.SolFeePayedByTreasury,
		"balance":            t.LastKnownBalanceUnits,
		"balance_time":       t.LastKnownBalanceBlockTime,
		"allocation":         t.AllocationAssignedUnits,
		"unallocated":        unallocated,
		"total_withdrawals":  t.TotalWithdrawalsUnits,
		"total_streams":      t.TotalStreams,
		"created_on_utc":     t.CreatedOnUTC,
	}
}

// jsonFields flattens v through its JSON form. Numbers stay exact.
func jsonFields(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// matchFields checks that actual contains every expected field (subset
// match). Values are compared by their printed form so that YAML integers
// match uint64 and json.Number alike.
func matchFields(kind, name string, actual, expected map[string]any) error {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s field %q to exist", name, k),
				Actual:   "field not present",
			}
		}
		if fmt.Sprint(expected[k]) != fmt.Sprint(got) {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s field %q = %v", name, k, expected[k]),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEventCount:
			err = assertEventCount(result, assertion)
		case AssertEventOrder:
			err = assertEventOrder(result, assertion)
		case AssertBalance, AssertStream, AssertTreasury:
			if actx == nil || actx.runner == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a scenario run", i, assertion.Type)
				break
			}
			switch assertion.Type {
			case AssertBalance:
				err = assertBalance(actx, assertion)
			case AssertStream:
				err = assertStream(actx, assertion)
			default:
				err = assertTreasury(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
