package engine

import (
	"sync/atomic"
	"time"
)

// Tick is one reading of the clock. An operation reads exactly one tick and
// uses it for every time-dependent computation and stamp.
type Tick struct {
	// Time is unix seconds.
	Time uint64
	// Slot is a monotonically increasing position, stored in the
	// *_slot fields of the records.
	Slot uint64
	// Seq orders ticks within a process.
	Seq int64
}

// Clock supplies ticks. Implemented by SystemClock and testutil.ManualClock.
type Clock interface {
	Now() Tick
}

// SystemClock reads wall-clock seconds and stamps each tick with the next
// sequence number. The sequence doubles as the slot.
//
// Thread-safety: SystemClock is safe for concurrent use (atomic operations).
type SystemClock struct {
	seq atomic.Int64
	now func() time.Time
}

// NewSystemClock creates a clock whose sequence starts at 0.
func NewSystemClock() *SystemClock {
	return &SystemClock{now: time.Now}
}

// NewSystemClockAt resumes the sequence from a known position, typically the
// last event sequence in the store.
func NewSystemClockAt(start int64) *SystemClock {
	c := NewSystemClock()
	c.seq.Store(start)
	return c
}

// Now returns the next tick.
func (c *SystemClock) Now() Tick {
	seq := c.seq.Add(1)
	return Tick{
		Time: uint64(c.now().Unix()),
		Slot: uint64(seq),
		Seq:  seq,
	}
}

// Current returns the last issued sequence number.
func (c *SystemClock) Current() int64 {
	return c.seq.Load()
}
