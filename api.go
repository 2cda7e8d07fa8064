package tsload

import "time"

// Name is a type alias for workload, threadpool, and class registry keys.
// Using this type encourages storing names as constants rather than inline
// strings throughout calling code.
type Name = string

// WLSTEPQSIZE is the number of slots in a workload's step ring buffer. Must be
// a power of two so the ring index can be computed with a mask instead of a
// modulo. One slot is implicitly reserved for the step currently being
// consumed by advance_step, so at most WLSTEPQSIZE-1 steps may be queued ahead
// of it (spec.md §3, §8 property 3).
const WLSTEPQSIZE = 16

// Tunables; see SPEC_FULL.md §6 "Runtime knobs". EngineConfig overrides
// MinSleep, NotificationsPerSec, and CollectorInterval; the quantum bounds,
// MaxThreads, and WorkerOverhead are fixed at these values.
const (
	// DefaultMinQuantum is the smallest quantum a threadpool may be created with.
	DefaultMinQuantum = time.Millisecond
	// DefaultMaxQuantum is the largest quantum a threadpool may be created with.
	DefaultMaxQuantum = 10 * time.Minute
	// DefaultMaxThreads bounds the number of workers in a single threadpool.
	DefaultMaxThreads = 4096
	// DefaultCollectorInterval is how often the threadpool collector polls for
	// threadpools whose refcount has reached zero.
	DefaultCollectorInterval = 500 * time.Millisecond
	// DefaultMinSleep is the floor below which sleep_nanos returns immediately
	// instead of sleeping (the caller spins), per spec.md §4.1.
	DefaultMinSleep = 50 * time.Microsecond
	// DefaultWorkerOverhead is the estimated cost between a worker waking up
	// and actually invoking the module's run_request callback; subtracted from
	// wait_for_arrival's sleep duration, per spec.md §4.6.
	DefaultWorkerOverhead = 20 * time.Microsecond
	// DefaultNotificationsPerSec caps the rate of non-terminal status
	// notifications emitted by the reporter, per spec.md §4.9.
	DefaultNotificationsPerSec = 10
)
