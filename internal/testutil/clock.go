package testutil

import (
	"sync"

	"github.com/roach88/paystream/internal/engine"
)

// ManualClock is an engine.Clock whose time only moves when told to.
//
// Every Now() call still advances the slot and sequence by one, so two
// operations at the same second remain ordered.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu   sync.Mutex
	time uint64
	seq  int64
}

var _ engine.Clock = (*ManualClock)(nil)

// NewManualClock creates a clock at the given unix second.
//
// The first call to Now() returns sequence 1.
func NewManualClock(start uint64) *ManualClock {
	return &ManualClock{time: start}
}

// Now returns a tick at the current time with the next sequence number.
func (c *ManualClock) Now() engine.Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return engine.Tick{Time: c.time, Slot: uint64(c.seq), Seq: c.seq}
}

// Set moves the clock to an absolute unix second. Moving backwards is
// allowed; the engine never assumes time is monotonic across ticks.
func (c *ManualClock) Set(t uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = t
}

// Advance moves the clock forward by seconds.
func (c *ManualClock) Advance(seconds uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time += seconds
}

// Time returns the current unix second without issuing a tick.
func (c *ManualClock) Time() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}

// Current returns the last issued sequence number.
func (c *ManualClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the sequence to 0 and the time to start.
//
// Used for test reuse. After Reset(), the next call to Now() returns sequence 1.
func (c *ManualClock) Reset(start uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = start
	c.seq = 0
}
