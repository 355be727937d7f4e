package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemClock_StartsAtZero(t *testing.T) {
	c := NewSystemClock()
	assert.Equal(t, int64(0), c.Current())
}

func TestSystemClock_NewSystemClockAt(t *testing.T) {
	c := NewSystemClockAt(100)
	tick := c.Now()
	assert.Equal(t, int64(101), tick.Seq)
	assert.Equal(t, uint64(101), tick.Slot)
}

func TestSystemClock_UsesWallTime(t *testing.T) {
	c := NewSystemClock()
	c.now = func() time.Time { return time.Unix(1_700_000_123, 999) }

	tick := c.Now()
	assert.Equal(t, uint64(1_700_000_123), tick.Time)
	assert.Equal(t, int64(1), tick.Seq)
}

func TestSystemClock_ThreadSafe(t *testing.T) {
	c := NewSystemClock()
	const goroutines = 50
	const callsPerGoroutine = 100

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				seq := c.Now().Seq
				mu.Lock()
				seen[seq] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*callsPerGoroutine, "all seqs should be unique")
	assert.Equal(t, int64(goroutines*callsPerGoroutine), c.Current())
}
