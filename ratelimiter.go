package tsload

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Throttle modes.
const (
	throttleModeWait = "wait"
	throttleModeDrop = "drop"
)

// ModuleThrottle is a token-bucket admission control wrapping a workload
// type's RunRequest callback, capping the rate at which the generator
// actually calls into the system-under-test independently of how fast the
// scheduler assigns arrivals (supplemented concern, alongside ModuleBreaker:
// a deliberately aggressive scheduler.iat rate can still outrun a safety
// ceiling the operator wants enforced at the SUT boundary).
//
// CRITICAL: a ModuleThrottle is stateful per workload type. Attach one per
// WorkloadType, not per Request, or the bucket never depletes.
type ModuleThrottle struct {
	name Name

	mu         sync.Mutex
	clock      clockz.Clock
	mode       string
	rate       float64
	burst      int
	tokens     float64
	lastRefill time.Time
}

// NewModuleThrottle constructs a ModuleThrottle admitting at most
// ratePerSecond calls/sec with bursts up to burst. Mode defaults to "wait".
func NewModuleThrottle(name Name, ratePerSecond float64, burst int) *ModuleThrottle {
	return &ModuleThrottle{
		name:       name,
		clock:      clockz.RealClock,
		mode:       throttleModeWait,
		rate:       ratePerSecond,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: clockz.RealClock.Now(),
	}
}

// WithClock substitutes the throttle's clock, for tests.
func (t *ModuleThrottle) WithClock(clock clockz.Clock) *ModuleThrottle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock = clock
	t.lastRefill = clock.Now()
	return t
}

// WithMode sets "wait" (block for the next token) or "drop" (reject
// immediately when no token is available).
func (t *ModuleThrottle) WithMode(mode string) *ModuleThrottle {
	if mode != throttleModeWait && mode != throttleModeDrop {
		return t
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = mode
	return t
}

func (t *ModuleThrottle) refill() {
	now := t.clock.Now()
	elapsed := now.Sub(t.lastRefill).Seconds()
	t.lastRefill = now
	if math.IsInf(t.rate, 1) {
		t.tokens = float64(t.burst)
		return
	}
	t.tokens = math.Min(float64(t.burst), t.tokens+elapsed*t.rate)
}

func (t *ModuleThrottle) waitTime() time.Duration {
	if t.rate <= 0 {
		return time.Duration(math.MaxInt64)
	}
	needed := 1.0 - t.tokens
	if needed <= 0 {
		return 0
	}
	return time.Duration(needed / t.rate * float64(time.Second))
}

// Guard runs fn once a token is available (mode "wait") or rejects
// immediately with ErrQueueFull if none is (mode "drop"), mirroring the
// threadpool's own backpressure error kind for an admission rejection
// (spec.md §7 — queue-full is "not fatal, caller retries").
func (t *ModuleThrottle) Guard(ctx context.Context, rq *Request, fn func(context.Context, *Request) (bool, error)) (bool, error) {
	for {
		t.mu.Lock()
		t.refill()
		if t.tokens >= 1.0 {
			t.tokens--
			capitan.Info(ctx, SignalRateLimiterAllowed,
				FieldName.Field(t.name), FieldTokens.Field(t.tokens), FieldRate.Field(t.rate))
			t.mu.Unlock()
			return fn(ctx, rq)
		}

		mode := t.mode
		wait := t.waitTime()
		t.mu.Unlock()

		switch mode {
		case throttleModeDrop:
			capitan.Warn(ctx, SignalRateLimiterDropped,
				FieldName.Field(t.name), FieldRate.Field(t.rate), FieldMode.Field(mode))
			return false, newErr(ErrQueueFull, "ModuleThrottle.Guard", t.name, "module call rate exceeded")
		default:
			capitan.Warn(ctx, SignalRateLimiterThrottled,
				FieldName.Field(t.name), FieldWaitTime.Field(wait.Seconds()), FieldRate.Field(t.rate))
			if wait == time.Duration(math.MaxInt64) {
				<-ctx.Done()
				return false, ctx.Err()
			}
			select {
			case <-t.clock.After(wait):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
	}
}

// SetRate updates the sustained admission rate, refilling first so the
// change takes effect against an up-to-date bucket.
func (t *ModuleThrottle) SetRate(ratePerSecond float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refill()
	t.rate = ratePerSecond
}

// AvailableTokens reports the current bucket level, for tests/introspection.
func (t *ModuleThrottle) AvailableTokens() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refill()
	return t.tokens
}
