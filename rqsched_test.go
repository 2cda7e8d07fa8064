package tsload

import (
	"testing"
	"time"

	"github.com/myaut/tsload/tsrand"
)

func TestSimpleSchedulerAssignsStepQuantum(t *testing.T) {
	s := &SimpleScheduler{Quantum: 100 * time.Millisecond}
	reqs := []*Request{{ID: 0}, {ID: 1}, {ID: 2}}
	step := &Step{ID: 2, Requests: reqs}
	s.Step(step)

	want := int64(2 * 100 * time.Millisecond)
	for _, rq := range reqs {
		if rq.SchedTime != want {
			t.Errorf("SchedTime = %d, want %d", rq.SchedTime, want)
		}
	}
}

func TestIATSchedulerMonotonicity(t *testing.T) {
	gen, _ := tsrand.NewGenerator("lcg", 1)
	variate, _ := tsrand.NewVariate("exponential", map[string]float64{"rate": 10})
	s := &IATScheduler{Gen: gen, Variate: variate, Mean: 100 * time.Millisecond}

	reqs := make([]*Request, 100)
	for i := range reqs {
		reqs[i] = &Request{ID: int64(i)}
	}
	step := &Step{ID: 0, Requests: reqs}
	s.Step(step)

	for i := 1; i < len(reqs); i++ {
		if reqs[i].SchedTime < reqs[i-1].SchedTime {
			t.Fatalf("sched_time not monotone at %d: %d < %d", i, reqs[i].SchedTime, reqs[i-1].SchedTime)
		}
	}
	if reqs[0].SchedTime != 0 {
		t.Errorf("first sched_time should be 0, got %d", reqs[0].SchedTime)
	}
}

func TestIATSchedulerInitRejectsBadScope(t *testing.T) {
	gen, _ := tsrand.NewGenerator("lcg", 1)
	variate, _ := tsrand.NewVariate("exponential", map[string]float64{"rate": 10})
	s := &IATScheduler{Gen: gen, Variate: variate, Scope: 2}
	if err := s.Init(nil); err == nil {
		t.Fatal("expected error for scope > 1")
	}
}

func TestThinkSchedulerRoundRobinsUsers(t *testing.T) {
	gen, _ := tsrand.NewGenerator("lcg", 1)
	variate, _ := tsrand.NewVariate("exponential", map[string]float64{"rate": 1})
	s := &ThinkScheduler{Gen: gen, Variate: variate, NumUsers: 3, Quantum: 100 * time.Millisecond}
	if err := s.Init(nil); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 6; i++ {
		rq := &Request{ID: int64(i)}
		s.PreRequest(rq)
		if rq.UserID != i%3 {
			t.Errorf("request %d assigned user %d, want %d", i, rq.UserID, i%3)
		}
	}
}

func TestThinkSchedulerPostRequestAdvancesNextThink(t *testing.T) {
	gen, _ := tsrand.NewGenerator("lcg", 1)
	variate, _ := tsrand.NewVariate("exponential", map[string]float64{"rate": 1000})
	s := &ThinkScheduler{Gen: gen, Variate: variate, NumUsers: 1, Quantum: time.Second}
	if err := s.Init(nil); err != nil {
		t.Fatal(err)
	}

	rq := &Request{ID: 0, UserID: 0, EndTime: 500}
	s.PostRequest(rq)
	if s.users[0].nextThinkStart <= rq.EndTime {
		t.Errorf("nextThinkStart = %d, want > EndTime (%d)", s.users[0].nextThinkStart, rq.EndTime)
	}
}
