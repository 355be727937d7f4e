// Package engine applies stream and treasury operations.
//
// Every operation is a pure function of (records, tick, request) plus the
// ledger movements it makes:
//
//  1. validate the request against working copies of the records
//  2. resolve the cliff and compute derived amounts from the tick's time
//  3. move value through the ledger
//  4. re-read the treasury's true balance and assert the post-conditions
//  5. copy the working records back to the caller and emit one event
//
// A failure at any step returns an *OpError and leaves the caller's records
// untouched. The engine takes no locks and never reads a clock; the host
// serializes operations and supplies the tick.
package engine
