// Package host runs engine operations against the sqlite store.
//
// Every operation is one sqlite transaction: the host reads one clock tick,
// loads the records the operation needs, runs it on a per-transaction engine
// whose ledger is the transaction itself, then saves or deletes the records,
// appends the events to the log and commits. Any failure rolls back all of
// it, including ledger movements the engine made before the failure.
//
// Operations are serialized by a mutex. SQLite allows one writer at a time
// anyway, and serializing in process keeps tick order equal to commit order.
//
// Events reach the host's sink only after the commit succeeds.
package host
