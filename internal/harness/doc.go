// Package harness runs paystream scenarios as executable contract tests.
//
// A scenario drives the real host, engine and sqlite store through a list of
// timed operations, checks each outcome, and evaluates assertions over the
// resulting event trace and final balances.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: withdraw_basic
//	description: "Beneficiary withdraws what has vested"
//	start: 1700000000
//	token: scenario-token
//	setup:
//	  - op: fund_fee
//	    args: { account: alice, amount: 1000000 }
//	steps:
//	  - op: create_treasury
//	    args: { treasury: payroll, payer: alice, treasurer: alice }
//	  - at: 3
//	    op: withdraw
//	    args: { stream: salary, beneficiary: bob, amount: 3000000 }
//	  - at: 3
//	    op: withdraw
//	    args: { stream: salary, beneficiary: bob, amount: 1 }
//	    expect: { error: ZERO_WITHDRAWAL_AMOUNT }
//	assertions:
//	  - type: event_count
//	    kind: withdraw
//	    count: 1
//	  - type: balance
//	    account: bob
//	    units: 2992500
//
// Every account, treasury and stream is named. A name resolves to a stable
// address derived from it, so the same scenario always touches the same
// keys. The reserved name fee_collector is the host's fee collector.
//
// Step times are offsets in seconds from start. Setup steps must succeed and
// are left out of the trace.
//
// # Assertion Types
//
//   - event_count: an event kind appears exactly N times
//   - event_order: event kinds first appear in the given order
//   - balance: an account's funding units and/or fee currency
//   - stream: fields of a stream's derived view, or that it was closed
//   - treasury: fields of a treasury record, or that it was closed
//
// # Deterministic Testing
//
// Each run uses a fresh in-memory store, a manual clock and a fixed
// correlation token, so identical scenarios produce identical traces. The
// trace and final balances are compared against golden files with goldie.
package harness
