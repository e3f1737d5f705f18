// Injected time source (spec §9 "Global/process-wide clock" design
// note: re-architect as an injected time source so tests can drive
// time deterministically).
package confluo

import (
	"sync/atomic"
	"time"
)

// Clock supplies the current time as Unix milliseconds, the unit
// record timestamps and filter windows are expressed in.
type Clock interface {
	NowMillis() int64
}

// SystemClock is the default Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// FixedClock is a Clock that always returns the same instant, advanced
// explicitly by test code. Safe for concurrent use.
type FixedClock struct {
	millis atomic.Int64
}

// NewFixedClock returns a FixedClock starting at the given instant.
func NewFixedClock(startMillis int64) *FixedClock {
	c := &FixedClock{}
	c.millis.Store(startMillis)
	return c
}

func (c *FixedClock) NowMillis() int64 {
	return c.millis.Load()
}

// Set moves the clock to an explicit instant. Instants need not be
// monotonic; tests may rewind to exercise window-bucket edge cases.
func (c *FixedClock) Set(millis int64) {
	c.millis.Store(millis)
}

// Advance moves the clock forward by the given number of milliseconds.
func (c *FixedClock) Advance(deltaMillis int64) {
	c.millis.Add(deltaMillis)
}
