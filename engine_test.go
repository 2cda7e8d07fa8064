package tsload

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/myaut/tsload/tsfile"
)

// newBusyWaitType returns a minimal workload type whose run_request callback
// just counts invocations and always succeeds, standing in for a real
// system-under-test module in end-to-end engine tests.
func newBusyWaitType(name Name, counter *atomic.Int64) *WorkloadType {
	return &WorkloadType{
		Name: name,
		Config: func(ctx context.Context, wl *Workload, params map[string]any) error {
			return nil
		},
		RunRequest: func(ctx context.Context, rq *Request) (bool, error) {
			counter.Add(1)
			return true, nil
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestEngineEndToEndRunsStepsToCompletion(t *testing.T) {
	eng := NewEngine()
	defer eng.Shutdown()

	var runCount atomic.Int64
	if err := eng.RegisterWorkloadType(newBusyWaitType("busy_wait", &runCount)); err != nil {
		t.Fatal(err)
	}

	tp, err := eng.CreateThreadPool(ThreadPoolConfig{
		Name:       "tp1",
		NumWorkers: 2,
		Quantum:    5 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	wl, err := eng.CreateWorkload(WorkloadConfig{
		Name:       "w1",
		Type:       "busy_wait",
		ThreadPool: "tp1",
		Deadline:   time.Second,
		Scheduler:  &SimpleScheduler{Quantum: tp.Quantum},
	})
	if err != nil {
		t.Fatal(err)
	}

	for step := int64(0); step < 3; step++ {
		if _, err := eng.ProvideStep("w1", step, StepConfig{Count: 4}); err != nil {
			t.Fatal(err)
		}
	}
	if err := eng.StartWorkload("w1", time.Now()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return wl.Status() == StatusFinished })
	if err := eng.StopWorkload("w1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return runCount.Load() == 12 })

	if err := eng.DestroyWorkload("w1"); err != nil {
		t.Fatal(err)
	}
	if err := eng.DestroyWorkload("w1"); err == nil {
		t.Fatal("expected error destroying an already-destroyed workload")
	}
}

func TestEngineProvideStepRejectsOutOfOrder(t *testing.T) {
	eng := NewEngine()
	defer eng.Shutdown()

	var runCount atomic.Int64
	eng.RegisterWorkloadType(newBusyWaitType("busy_wait", &runCount))
	tp, err := eng.CreateThreadPool(ThreadPoolConfig{Name: "tp1", NumWorkers: 1, Quantum: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.CreateWorkload(WorkloadConfig{
		Name: "w1", Type: "busy_wait", ThreadPool: "tp1",
		Deadline: time.Second, Scheduler: &SimpleScheduler{Quantum: tp.Quantum},
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.ProvideStep("w1", 1, StepConfig{Count: 1}); err == nil {
		t.Fatal("expected ErrStepInvalid providing step 1 before step 0")
	}
}

func TestEngineProvideStepQueueFull(t *testing.T) {
	eng := NewEngine()
	defer eng.Shutdown()

	var runCount atomic.Int64
	eng.RegisterWorkloadType(newBusyWaitType("busy_wait", &runCount))
	tp, err := eng.CreateThreadPool(ThreadPoolConfig{Name: "tp1", NumWorkers: 1, Quantum: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	// No ThreadPool attached, so nothing drains the step queue: provide_step
	// backpressure (spec.md §4.5) must fire once WLSTEPQSIZE-1 is reached.
	if _, err := eng.CreateWorkload(WorkloadConfig{
		Name: "w1", Type: "busy_wait",
		Deadline: time.Second, Scheduler: &SimpleScheduler{Quantum: tp.Quantum},
	}); err != nil {
		t.Fatal(err)
	}

	var lastErr error
	for step := int64(0); step < WLSTEPQSIZE; step++ {
		_, lastErr = eng.ProvideStep("w1", step, StepConfig{Count: 1})
	}
	if lastErr == nil {
		t.Fatal("expected ErrQueueFull once the step ring buffer fills")
	}
}

func TestEngineRejectsDuplicateNames(t *testing.T) {
	eng := NewEngine()
	defer eng.Shutdown()

	if _, err := eng.CreateThreadPool(ThreadPoolConfig{Name: "tp1", NumWorkers: 1, Quantum: time.Second}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.CreateThreadPool(ThreadPoolConfig{Name: "tp1", NumWorkers: 1, Quantum: time.Second}); err == nil {
		t.Fatal("expected ErrAlreadyExists for duplicate threadpool name")
	}
}

func TestEngineUnknownThreadPoolOrTypeIsRejected(t *testing.T) {
	eng := NewEngine()
	defer eng.Shutdown()

	if _, err := eng.CreateWorkload(WorkloadConfig{Name: "w1", Type: "nope"}); err == nil {
		t.Fatal("expected ErrNotFound for unregistered workload type")
	}

	var runCount atomic.Int64
	eng.RegisterWorkloadType(newBusyWaitType("busy_wait", &runCount))
	if _, err := eng.CreateWorkload(WorkloadConfig{Name: "w1", Type: "busy_wait", ThreadPool: "nope"}); err == nil {
		t.Fatal("expected ErrNotFound for unregistered threadpool")
	}
}

func TestEngineRecordsRequestsToTSFile(t *testing.T) {
	eng := NewEngine()
	defer eng.Shutdown()

	var runCount atomic.Int64
	eng.RegisterWorkloadType(newBusyWaitType("busy_wait", &runCount))
	tp, err := eng.CreateThreadPool(ThreadPoolConfig{Name: "tp1", NumWorkers: 1, Quantum: 5 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	path := t.TempDir() + "/w1.tsf"
	wl, err := eng.CreateWorkload(WorkloadConfig{
		Name: "w1", Type: "busy_wait", ThreadPool: "tp1",
		Deadline: time.Second, Scheduler: &SimpleScheduler{Quantum: tp.Quantum},
		RecordPath:   path,
		RecordSchema: tsfile.Schema{EntrySize: tsfile.RecordHeaderSize},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := eng.ProvideStep("w1", 0, StepConfig{Count: 5}); err != nil {
		t.Fatal(err)
	}
	if err := eng.StartWorkload("w1", time.Now()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return wl.Status() == StatusFinished })
	if err := eng.StopWorkload("w1"); err != nil {
		t.Fatal(err)
	}

	f, err := eng.recordFiles.get("test", "w1")
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return f.Count() == 5 })
}
