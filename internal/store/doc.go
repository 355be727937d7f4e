// Package store provides SQLite-backed durable storage for paystream.
//
// The database holds:
//   - Treasuries and streams as fixed-size, versioned binary records
//   - Ledger balances for holding accounts and the fee currency
//   - An append-only event log of every applied operation
//
// All writes go through a Tx so that the records an operation changes, the
// ledger movements it made and the events it produced commit together.
// Tx implements ledger.Ledger.
//
// # Record encoding
//
// A stream record is 500 bytes and a treasury record 300 bytes, both
// little-endian with an 8-byte account discriminator in front. Decoding
// rejects a wrong size, a wrong discriminator and any version other than 2.
//
// # Ordering
//
// Event queries are ordered by seq ASC, id ASC COLLATE BINARY so that
// listings are identical across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
