package tsload

import (
	"container/list"
	"testing"
)

func TestInsertSortedMaintainsOrder(t *testing.T) {
	l := list.New()
	times := []int64{30, 10, 20, 10, 5}
	for i, st := range times {
		insertSorted(l, &Request{ID: int64(i), SchedTime: st})
	}

	var prev *Request
	for e := l.Front(); e != nil; e = e.Next() {
		rq := e.Value.(*Request)
		if prev != nil {
			if rq.SchedTime < prev.SchedTime || (rq.SchedTime == prev.SchedTime && rq.ID < prev.ID) {
				t.Fatalf("order violated: %+v before %+v", prev, rq)
			}
		}
		prev = rq
	}
	if l.Len() != len(times) {
		t.Fatalf("len = %d, want %d", l.Len(), len(times))
	}
}

func TestRoundRobinNextCycles(t *testing.T) {
	cursor := 0
	rq := &Request{}
	seen := make([]int, 5)
	for i := range seen {
		seen[i] = roundRobinNext(&cursor, 3, rq)
	}
	want := []int{0, 1, 2, 0, 1}
	for i, w := range want {
		if seen[i] != w {
			t.Errorf("draw %d = %d, want %d", i, seen[i], w)
		}
	}
}

func TestUserNextIsStableForSameUser(t *testing.T) {
	rq := &Request{UserID: 7}
	if userNext(4, rq) != userNext(4, rq) {
		t.Fatal("userNext should be deterministic for a fixed user/worker count")
	}
	if got := userNext(4, rq); got != 7%4 {
		t.Errorf("userNext = %d, want %d", got, 7%4)
	}
}

func TestTraceNextUsesWorkerIDWhenSet(t *testing.T) {
	rq := &Request{WorkerID: 5, Flags: RequestTrace}
	if got := traceNext(3, rq); got != 5%3 {
		t.Errorf("traceNext = %d, want %d", got, 5%3)
	}
}

func TestFillUpStateFillsBeforeAdvancing(t *testing.T) {
	f := &fillUpState{n: 2}
	rq := &Request{}
	seen := []int{
		f.next(3, rq),
		f.next(3, rq),
		f.next(3, rq),
		f.next(3, rq),
	}
	want := []int{0, 0, 1, 1}
	for i, w := range want {
		if seen[i] != w {
			t.Errorf("draw %d = %d, want %d", i, seen[i], w)
		}
	}
}
