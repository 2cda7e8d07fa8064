package tsload

import "github.com/zoobzio/capitan"

// Signal constants for engine lifecycle and scheduling events.
// Signals follow the pattern: <component>.<event>.
const (
	// Workload lifecycle signals.
	SignalWorkloadConfigured   capitan.Signal = "workload.configured"
	SignalWorkloadConfigFailed capitan.Signal = "workload.config_failed"
	SignalWorkloadStarted      capitan.Signal = "workload.started"
	SignalWorkloadFinished     capitan.Signal = "workload.finished"
	SignalWorkloadStopped      capitan.Signal = "workload.stopped"
	SignalWorkloadDestroyed    capitan.Signal = "workload.destroyed"

	// Step queue signals.
	SignalStepQueueFull capitan.Signal = "workload.step_queue_full"
	SignalStepInvalid   capitan.Signal = "workload.step_invalid"
	SignalStepAdvanced  capitan.Signal = "workload.step_advanced"

	// Threadpool signals.
	SignalThreadPoolCreated    capitan.Signal = "threadpool.created"
	SignalThreadPoolDestroying capitan.Signal = "threadpool.destroying"
	SignalWorkerSchedFailed    capitan.Signal = "threadpool.worker_sched_failed"

	// Dispatcher signals.
	SignalRequestDiscarded      capitan.Signal = "dispatcher.request_discarded"
	SignalRequestDeadlineMissed capitan.Signal = "dispatcher.deadline_missed"
	SignalFirstFreeParked       capitan.Signal = "dispatcher.first_free_parked"

	// Reporter / notifier signals.
	SignalAppendFailed           capitan.Signal = "reporter.append_failed"
	SignalNotificationSuppressed capitan.Signal = "reporter.notification_suppressed"

	// Module circuit breaker signals.
	SignalCircuitBreakerHalfOpen capitan.Signal = "breaker.half_open"
	SignalCircuitBreakerRejected capitan.Signal = "breaker.rejected"
	SignalCircuitBreakerClosed   capitan.Signal = "breaker.closed"
	SignalCircuitBreakerOpened   capitan.Signal = "breaker.opened"

	// Module throttle signals.
	SignalRateLimiterAllowed   capitan.Signal = "ratelimiter.allowed"
	SignalRateLimiterThrottled capitan.Signal = "ratelimiter.throttled"
	SignalRateLimiterDropped   capitan.Signal = "ratelimiter.dropped"
)

// Common field keys using capitan primitive types.
var (
	FieldName      = capitan.NewStringKey("name")
	FieldError     = capitan.NewStringKey("error")
	FieldTimestamp = capitan.NewFloat64Key("timestamp")

	// Workload fields.
	FieldWorkloadStatus = capitan.NewStringKey("status")
	FieldStepID         = capitan.NewIntKey("step_id")
	FieldRequestCount   = capitan.NewIntKey("request_count")

	// Threadpool fields.
	FieldThreadPoolName = capitan.NewStringKey("threadpool")
	FieldWorkerID       = capitan.NewIntKey("worker_id")
	FieldNumWorkers     = capitan.NewIntKey("num_workers")

	// Dispatcher fields.
	FieldRequestID  = capitan.NewIntKey("request_id")
	FieldSchedTime  = capitan.NewFloat64Key("sched_time_ns")
	FieldStartTime  = capitan.NewFloat64Key("start_time_ns")
	FieldDeadlineNs = capitan.NewFloat64Key("deadline_ns")

	// Reporter fields.
	FieldQueueLength = capitan.NewIntKey("queue_length")

	// Circuit breaker / throttle fields.
	FieldState            = capitan.NewStringKey("state")
	FieldGeneration       = capitan.NewIntKey("generation")
	FieldFailures         = capitan.NewIntKey("failures")
	FieldFailureThreshold = capitan.NewIntKey("failure_threshold")
	FieldSuccesses        = capitan.NewIntKey("successes")
	FieldSuccessThreshold = capitan.NewIntKey("success_threshold")

	FieldTokens   = capitan.NewFloat64Key("tokens")
	FieldRate     = capitan.NewFloat64Key("rate")
	FieldBurst    = capitan.NewIntKey("burst")
	FieldWaitTime = capitan.NewFloat64Key("wait_time_s")
	FieldMode     = capitan.NewStringKey("mode")
)
