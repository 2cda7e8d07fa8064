package tsload

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/myaut/tsload/tsfile"
	"github.com/zoobzio/clockz"
)

func newTestReporter(t *testing.T, notifPerSec int) (*Reporter, *Clock) {
	t.Helper()
	clk := NewClock(clockz.NewFakeClock(), time.Microsecond)
	r := NewReporter(clk, notifPerSec)
	t.Cleanup(r.Close)
	return r, clk
}

func TestReportRequestsAppendsToRegisteredFile(t *testing.T) {
	r, _ := newTestReporter(t, 10)

	path := filepath.Join(t.TempDir(), "wl.tsf")
	schema := tsfile.Schema{EntrySize: tsfile.RecordHeaderSize}
	f, err := tsfile.Create(path, schema)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	wl := &Workload{Name: "wl1"}
	r.RegisterFile(wl.Name, f)

	step := &Step{Workload: wl, ID: 1}
	reqs := []*Request{
		{ID: 0, Step: step, SchedTime: 0, StartTime: 10, EndTime: 20, Flags: RequestFinished | RequestSuccess},
		{ID: 1, Step: step, SchedTime: 5, StartTime: 15, EndTime: 25, Flags: RequestFinished | RequestSuccess},
	}
	r.ReportRequests(reqs)

	deadline := time.After(time.Second)
	for f.Count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for append, count = %d", f.Count())
		default:
			time.Sleep(time.Millisecond)
		}
	}

	got, err := f.ReadRange(0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Request != 0 || got[1].Request != 1 {
		t.Errorf("unexpected records: %+v", got)
	}
}

func TestReportRequestsWithNoFileIsJustCounted(t *testing.T) {
	r, _ := newTestReporter(t, 10)
	wl := &Workload{Name: "unregistered"}
	step := &Step{Workload: wl, ID: 1}
	// Should not block or panic even with no registered tsfile.
	r.ReportRequests([]*Request{{ID: 0, Step: step}})
	time.Sleep(10 * time.Millisecond)
}

func TestNotifyNeverSuppressesTerminal(t *testing.T) {
	r, clk := newTestReporter(t, 1)
	now := clk.NowWall()

	for i := 0; i < 5; i++ {
		r.Notify(Notification{WorkloadName: "wl1", Status: StatusFinished, Terminal: true, Timestamp: now})
	}
	time.Sleep(10 * time.Millisecond)

	if got := r.metrics.Counter(MetricSuppressedTotal).Value(); got != 0 {
		t.Errorf("terminal notifications should never be suppressed, suppressed = %v", got)
	}
}

func TestNotifyRateLimitsIntermediate(t *testing.T) {
	r, clk := newTestReporter(t, 1)
	now := clk.NowWall()

	r.Notify(Notification{WorkloadName: "wl1", Status: StatusRunning, Terminal: false, Timestamp: now})
	r.Notify(Notification{WorkloadName: "wl1", Status: StatusRunning, Terminal: false, Timestamp: now})
	time.Sleep(10 * time.Millisecond)

	if got := r.metrics.Counter(MetricSuppressedTotal).Value(); got < 1 {
		t.Errorf("expected at least one suppressed notification, got %v", got)
	}
}
