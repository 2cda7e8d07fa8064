// Package tsload is a synthetic workload generator core: it drives user-supplied
// workload modules against a system under test at precisely controlled request
// arrival times, records per-request timings, and produces a reproducible
// experiment artifact.
//
// # Overview
//
// The package implements the load-generation engine only — the workload
// lifecycle, the step queue, the request scheduler, the threadpool with its
// pluggable dispatcher, the per-workload parameter generator, and (in the
// sibling tsfile package) the binary time-series file used to persist request
// records. Everything outside that boundary — experiment directory layout, host
// topology discovery, the CLI driver, and the workload modules themselves — is
// an external collaborator the engine only talks to through narrow interfaces.
//
// # Core Concepts
//
//   - Engine: the façade that owns the name registries for workloads,
//     threadpools, workload types, and record files, and the single reporter.
//     Generator and variate classes are registered in package tsrand;
//     dispatchers and schedulers are passed in as values and are not
//     registered by name.
//   - Workload: a configured instance of a workload type, bound to a
//     threadpool (or chained to another workload's completions). Owns a step
//     queue, a request scheduler, and a parameter generator list.
//   - ThreadPool: one controller goroutine plus N worker goroutines, driven by
//     a quantum loop. Workers block until a request's scheduled arrival time,
//     invoke the workload module's run_request callback, and report the
//     finished request.
//   - Dispatcher: the policy that assigns arriving requests to workers
//     (round-robin, random, fill-up, per-user, trace-replay, or first-free).
//   - Scheduler: the policy that assigns each request's scheduled arrival time
//     (simple, inter-arrival-time, or closed-population think-time).
//
// # Usage Example
//
//	eng := tsload.NewEngine()
//	eng.RegisterWorkloadType(busyWaitType)
//
//	tp, err := eng.CreateThreadPool(tsload.ThreadPoolConfig{
//	    Name:       "tp1",
//	    NumWorkers: 2,
//	    Quantum:    100 * time.Millisecond,
//	    Dispatcher: tsload.NewRoundRobinDispatcher(),
//	})
//
//	wl, err := eng.CreateWorkload(tsload.WorkloadConfig{
//	    Name:       "w1",
//	    Type:       "busy_wait",
//	    ThreadPool: "tp1",
//	    Scheduler:  &tsload.SimpleScheduler{Quantum: tp.Quantum},
//	    Params:     map[string]any{"delay": time.Millisecond},
//	})
//
//	_, err = eng.ProvideStep("w1", 0, tsload.StepConfig{Count: 10})
//	err = eng.StartWorkload("w1", time.Now().Add(200*time.Millisecond))
//
// # Observability
//
// The engine emits structured signals through github.com/zoobzio/capitan for
// workload lifecycle transitions, step-queue events, deadline misses,
// threadpool creation and teardown, record append failures, and breaker and
// throttle events (dispatch decisions and discards emit none); exposes a
// github.com/zoobzio/metricz queue-depth gauge per threadpool and the
// reporter's counters; traces each
// request's in-worker execution with github.com/zoobzio/tracez; and lets callers
// subscribe to workload status transitions through github.com/zoobzio/hookz.
// Time is sourced through github.com/zoobzio/clockz so tests can drive the
// engine with a fake clock instead of real sleeps.
//
// # Non-goals
//
// No distributed coordination, no correctness guarantees across host crashes
// (tsfile is append-only, not transactional), and no scheduling fairness across
// workloads beyond what the configured dispatcher explicitly provides.
package tsload
