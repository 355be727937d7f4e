// Package event defines the notifications emitted after every successful
// operation and the sinks that receive them.
//
// Events carry a content-addressed ID computed over their canonical JSON
// form, so the same operation replayed against the same state produces the
// same ID.
package event

import (
	"fmt"
	"strconv"
)

// Kind names the operation that produced an event.
type Kind string

const (
	KindCreateTreasury   Kind = "create_treasury"
	KindCreateStream     Kind = "create_stream"
	KindWithdraw         Kind = "withdraw"
	KindAllocate         Kind = "allocate"
	KindPauseStream      Kind = "pause_stream"
	KindResumeStream     Kind = "resume_stream"
	KindCloseStream      Kind = "close_stream"
	KindTransferStream   Kind = "transfer_stream"
	KindAddFunds         Kind = "add_funds"
	KindTreasuryWithdraw Kind = "treasury_withdraw"
	KindCloseTreasury    Kind = "close_treasury"
	KindRefreshTreasury  Kind = "refresh_treasury_data"
)

// Fields holds the operation-specific payload. Values are uint64, string or
// bool; anything else is rejected by the canonical encoder.
type Fields map[string]any

// Uint returns the named field as a uint64, or false if it is missing or not
// numeric.
func (f Fields) Uint(key string) (uint64, bool) {
	switch v := f[key].(type) {
	case uint64:
		return v, true
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Event is one notification. Seq orders events within a store; ID is
// derived from every other field.
type Event struct {
	ID       string `json:"id"`
	Seq      int64  `json:"seq"`
	Kind     Kind   `json:"kind"`
	Token    string `json:"token"`
	Time     uint64 `json:"time"`
	Slot     uint64 `json:"slot"`
	Treasury string `json:"treasury"`
	Stream   string `json:"stream,omitempty"`
	Fields   Fields `json:"fields"`
}

// Seal computes and stores the event ID.
func (e *Event) Seal() error {
	id, err := ComputeID(*e)
	if err != nil {
		return fmt.Errorf("seal %s event: %w", e.Kind, err)
	}
	e.ID = id
	return nil
}
