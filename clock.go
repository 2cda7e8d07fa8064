package tsload

import (
	"time"

	"github.com/zoobzio/clockz"
)

// Clock is the engine's time source (spec.md §4.1). It wraps a
// github.com/zoobzio/clockz.Clock so tests can substitute clockz.NewFakeClock()
// in place of wall time, and adds the monotonic-nanosecond and
// minimum-sleep-floor semantics the spec requires on top of it.
type Clock struct {
	backing  clockz.Clock
	epoch    time.Time
	minSleep time.Duration
}

// NewClock builds a Clock around backing, capturing backing.Now() as the epoch
// that NowClock() measures from. minSleep is the floor below which SleepNanos
// returns immediately instead of sleeping; pass 0 to use DefaultMinSleep.
func NewClock(backing clockz.Clock, minSleep time.Duration) *Clock {
	if backing == nil {
		backing = clockz.RealClock
	}
	if minSleep <= 0 {
		minSleep = DefaultMinSleep
	}
	return &Clock{backing: backing, epoch: backing.Now(), minSleep: minSleep}
}

// NewRealClock is a convenience constructor around clockz.RealClock.
func NewRealClock() *Clock {
	return NewClock(clockz.RealClock, DefaultMinSleep)
}

// NowClock returns monotonic nanoseconds elapsed since the Clock was created.
// All arrival-time arithmetic in the engine (Request.SchedTime, StartTime,
// EndTime) is expressed in this timebase; only NowWall crosses into human wall
// time (spec.md §4.1).
func (c *Clock) NowClock() int64 {
	return int64(c.backing.Now().Sub(c.epoch))
}

// NowWall returns the current wall-clock time.
func (c *Clock) NowWall() time.Time {
	return c.backing.Now()
}

// Resolution reports the clock's granularity. clockz clocks are nanosecond
// resolution in practice (real or fake), so this is fixed at 1ns; it exists so
// callers don't hardcode the assumption.
func (c *Clock) Resolution() time.Duration {
	return time.Nanosecond
}

// SleepNanos sleeps for d nanoseconds, honoring the minimum-sleep floor: a
// requested duration below minSleep returns immediately and the caller is
// expected to spin instead (spec.md §4.1). Durations <= 0 also return
// immediately.
func (c *Clock) SleepNanos(d time.Duration) {
	if d < c.minSleep {
		return
	}
	<-c.backing.After(d)
}

// Backing exposes the underlying clockz.Clock, e.g. so a caller can pass it to
// clockz-aware code elsewhere (WithTimeout, After) using the same timebase.
func (c *Clock) Backing() clockz.Clock {
	return c.backing
}
