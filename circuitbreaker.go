package tsload

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Circuit breaker state constants.
const (
	stateClosed   = "closed"
	stateOpen     = "open"
	stateHalfOpen = "half-open"
)

// ModuleBreaker wraps a workload type's RunRequest callback and stops calling
// into it after consecutive failures reach a threshold, giving a
// persistently broken system-under-test module time to recover instead of
// burning every worker's quantum on calls that are going to fail anyway
// (supplemented concern; spec.md §4.7 doesn't name this but a long-running
// generator needs it in practice the way the teacher's circuit breaker
// protects a downstream dependency).
//
// CRITICAL: a ModuleBreaker is stateful per workload type. Attach one per
// WorkloadType, not per Request, or the failure count never accumulates.
type ModuleBreaker struct {
	name  Name
	clock clockz.Clock

	mu               sync.Mutex
	state            string
	generation       int
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	resetTimeout     time.Duration
	lastFailTime     time.Time
}

// NewModuleBreaker constructs a ModuleBreaker that opens after
// failureThreshold consecutive RunRequest failures and probes recovery after
// resetTimeout.
func NewModuleBreaker(name Name, failureThreshold int, resetTimeout time.Duration) *ModuleBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &ModuleBreaker{
		name:             name,
		clock:            clockz.RealClock,
		state:            stateClosed,
		failureThreshold: failureThreshold,
		successThreshold: 1,
		resetTimeout:     resetTimeout,
	}
}

// WithClock substitutes the breaker's clock, for tests.
func (cb *ModuleBreaker) WithClock(clock clockz.Clock) *ModuleBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.clock = clock
	return cb
}

// Guard runs fn if the circuit is closed (or half-open and probing),
// returning ErrInvalidState without calling fn if the circuit is open
// (spec.md §7's ErrInvalidState covers "operation disallowed in the
// object's current state").
func (cb *ModuleBreaker) Guard(ctx context.Context, rq *Request, fn func(context.Context, *Request) (bool, error)) (bool, error) {
	cb.mu.Lock()
	if cb.state == stateOpen && cb.clock.Since(cb.lastFailTime) > cb.resetTimeout {
		cb.state = stateHalfOpen
		cb.failures = 0
		cb.successes = 0
		cb.generation++
		capitan.Warn(ctx, SignalCircuitBreakerHalfOpen,
			FieldName.Field(cb.name), FieldState.Field(cb.state), FieldGeneration.Field(cb.generation))
	}

	state := cb.state
	generation := cb.generation
	if state == stateOpen {
		capitan.Error(ctx, SignalCircuitBreakerRejected, FieldName.Field(cb.name), FieldState.Field(state))
		cb.mu.Unlock()
		return false, newErr(ErrInvalidState, "ModuleBreaker.Guard", cb.name, "circuit is open")
	}
	cb.mu.Unlock()

	ok, err := fn(ctx, rq)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.generation != generation {
		// A concurrent half-open transition already moved past this attempt.
		return ok, err
	}
	if err != nil || !ok {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
	return ok, err
}

func (cb *ModuleBreaker) onSuccess() {
	switch cb.state {
	case stateClosed:
		cb.failures = 0
	case stateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = stateClosed
			cb.failures = 0
			cb.successes = 0
			capitan.Info(context.Background(), SignalCircuitBreakerClosed,
				FieldName.Field(cb.name), FieldState.Field(cb.state))
		}
	}
}

func (cb *ModuleBreaker) onFailure() {
	cb.lastFailTime = cb.clock.Now()
	switch cb.state {
	case stateClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.state = stateOpen
			capitan.Error(context.Background(), SignalCircuitBreakerOpened,
				FieldName.Field(cb.name), FieldState.Field(cb.state), FieldFailures.Field(cb.failures))
		}
	case stateHalfOpen:
		cb.state = stateOpen
		cb.failures = 0
		cb.successes = 0
		capitan.Emit(context.Background(), SignalCircuitBreakerOpened,
			FieldName.Field(cb.name), FieldState.Field(cb.state))
	}
}

// State returns the breaker's current state, resolving an overdue
// open->half-open transition first.
func (cb *ModuleBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == stateOpen && cb.clock.Since(cb.lastFailTime) > cb.resetTimeout {
		return stateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to closed.
func (cb *ModuleBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = stateClosed
	cb.failures = 0
	cb.successes = 0
	cb.generation++
}
