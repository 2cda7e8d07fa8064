package tsload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestModuleThrottleAllowsWithinBurst(t *testing.T) {
	th := NewModuleThrottle("test", 10, 3)

	calls := 0
	fn := func(_ context.Context, _ *Request) (bool, error) {
		calls++
		return true, nil
	}
	for i := 0; i < 3; i++ {
		ok, err := th.Guard(context.Background(), &Request{ID: int64(i)}, fn)
		if err != nil || !ok {
			t.Fatalf("request %d: got ok=%v err=%v within burst", i, ok, err)
		}
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls admitted by the initial burst, got %d", calls)
	}
}

func TestModuleThrottleWaitModeBlocksForRefill(t *testing.T) {
	clock := clockz.NewFakeClock()
	th := NewModuleThrottle("test", 1, 1).WithClock(clock)

	fn := func(_ context.Context, _ *Request) (bool, error) { return true, nil }
	if _, err := th.Guard(context.Background(), &Request{}, fn); err != nil {
		t.Fatalf("first call should consume the single burst token: %v", err)
	}

	done := make(chan struct{})
	go func() {
		th.Guard(context.Background(), &Request{}, fn)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second call should have blocked waiting for a refill")
	case <-time.After(20 * time.Millisecond):
	}

	clock.BlockUntilReady()
	clock.Advance(2 * time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second call never unblocked after the clock advanced past the refill interval")
	}
}

func TestModuleThrottleDropModeRejectsImmediately(t *testing.T) {
	th := NewModuleThrottle("test", 1, 1).WithMode("drop")

	fn := func(_ context.Context, _ *Request) (bool, error) { return true, nil }
	if _, err := th.Guard(context.Background(), &Request{}, fn); err != nil {
		t.Fatalf("first call should consume the burst token: %v", err)
	}

	calls := 0
	if _, err := th.Guard(context.Background(), &Request{}, func(_ context.Context, _ *Request) (bool, error) {
		calls++
		return true, nil
	}); err == nil {
		t.Fatal("expected ErrQueueFull when the bucket is empty in drop mode")
	}
	if calls != 0 {
		t.Fatalf("module must not be called when the throttle drops the request, got %d calls", calls)
	}
}

func TestModuleThrottleContextCancellationWhileWaiting(t *testing.T) {
	th := NewModuleThrottle("test", 1, 1)
	fn := func(_ context.Context, _ *Request) (bool, error) { return true, nil }
	th.Guard(context.Background(), &Request{}, fn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := th.Guard(ctx, &Request{}, fn)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// TestThreadPoolRunRequestUsesThrottle exercises ModuleThrottle wired through
// a WorkloadType alongside ModuleBreaker, confirming the throttle's drop mode
// surfaces as a failed-but-reported request rather than blocking the worker
// forever (spec.md §8 property 4 — no lost reports, regardless of discard
// policy, completion, or start-time miss — extended here to an admission
// rejection).
func TestThreadPoolRunRequestUsesThrottle(t *testing.T) {
	clock := NewClock(clockz.NewFakeClock(), time.Microsecond)
	tp, err := NewThreadPool(ThreadPoolConfig{Name: "tp", NumWorkers: 1, Quantum: time.Second}, clock, nil)
	if err != nil {
		t.Fatal(err)
	}

	var calls int
	wt := &WorkloadType{
		Name: "capped",
		RunRequest: func(_ context.Context, _ *Request) (bool, error) {
			calls++
			return true, nil
		},
		Throttle: NewModuleThrottle("capped", 1, 1).WithMode("drop"),
	}
	wl := NewWorkload("w1", wt, tp, time.Second, &SimpleScheduler{Quantum: tp.Quantum}, clock)
	wl.refs.Store(1)

	for i := 0; i < 3; i++ {
		rq := &Request{ID: int64(i), Step: &Step{Workload: wl}}
		tp.runRequest(tp.workers[0], rq)
		if i == 0 {
			if rq.Flags&RequestSuccess == 0 {
				t.Fatal("first request within the burst should succeed")
			}
		} else if rq.Flags&RequestSuccess != 0 {
			t.Fatalf("request %d should have been dropped by the throttle", i)
		}
		if rq.Flags&RequestFinished == 0 {
			t.Fatalf("request %d must still be reported as finished even when dropped", i)
		}
	}
	if calls != 1 {
		t.Fatalf("expected only the first request to reach the module, got %d calls", calls)
	}
}
