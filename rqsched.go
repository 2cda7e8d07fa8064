package tsload

import (
	"time"

	"github.com/myaut/tsload/tsrand"
)

// Scheduler assigns sched_time to every request produced for a step
// (spec.md §4.4). Step is called under the workload's step mutex; PostRequest
// runs on the worker after a request executes. The threadpool does not call
// PreRequest.
type Scheduler interface {
	// Init validates scheduler-specific configuration, failing with
	// ErrInvalidValue (spec.md's RQSCHED_BAD) on malformed input.
	Init(params map[string]any) error
	// Destroy releases resources the scheduler owns (its generator, in
	// particular), called once the workload is destroyed.
	Destroy()
	// Step assigns SchedTime to every request in step.Requests.
	Step(step *Step)
	// PreRequest prepares a request before execution; the threadpool's
	// worker loop does not invoke it.
	PreRequest(rq *Request)
	// PostRequest is called after a request finishes executing.
	PostRequest(rq *Request)
}

// SimpleScheduler assigns every request in step k the same arrival time,
// k*quantum (spec.md §4.4).
type SimpleScheduler struct {
	Quantum time.Duration
}

func (s *SimpleScheduler) Init(params map[string]any) error { return nil }
func (s *SimpleScheduler) Destroy()                          {}

func (s *SimpleScheduler) Step(step *Step) {
	t := int64(step.ID) * int64(s.Quantum)
	for _, rq := range step.Requests {
		rq.SchedTime = t
	}
}

func (s *SimpleScheduler) PreRequest(rq *Request)  {}
func (s *SimpleScheduler) PostRequest(rq *Request) {}

// IATScheduler draws interarrival times from a random variate: sched_time_i =
// sched_time_{i-1} + iat_i. Scope, when in (0,1], clamps each draw to
// [(1-scope)*mean, (1+scope)*mean] around the variate's configured mean
// (spec.md §4.4).
type IATScheduler struct {
	Gen     tsrand.Generator
	Variate tsrand.Variate
	Mean    time.Duration
	Scope   float64

	last int64
}

func (s *IATScheduler) Init(params map[string]any) error {
	if s.Gen == nil || s.Variate == nil {
		return newErr(ErrInvalidValue, "IATScheduler.Init", "", "generator and variate are required")
	}
	if s.Scope < 0 || s.Scope > 1 {
		return newErr(ErrInvalidValue, "IATScheduler.Init", "", "scope must be in [0,1]")
	}
	return nil
}

func (s *IATScheduler) Destroy() {}

func (s *IATScheduler) Step(step *Step) {
	for _, rq := range step.Requests {
		iat := time.Duration(s.Variate.Generate(s.Gen) * float64(time.Second))
		if s.Scope > 0 && s.Mean > 0 {
			lo := time.Duration((1 - s.Scope) * float64(s.Mean))
			hi := time.Duration((1 + s.Scope) * float64(s.Mean))
			if iat < lo {
				iat = lo
			}
			if iat > hi {
				iat = hi
			}
		}
		rq.SchedTime = s.last
		s.last += int64(iat)
	}
}

func (s *IATScheduler) PreRequest(rq *Request)  {}
func (s *IATScheduler) PostRequest(rq *Request) {}

// thinkUser tracks one simulated user's next think-time boundary in a
// ThinkScheduler's closed population (spec.md §4.4).
type thinkUser struct {
	nextThinkStart int64
}

// ThinkScheduler models a closed population of N users, each cycling through
// request → think-time → request. PreRequest assigns requests to users
// round-robin; PostRequest draws the next think interval from Variate.
// Step assigns the step's requests to users round-robin and sets each one's
// SchedTime to its user's next_think_start, capped at the end of the step's
// quantum; it neither drops nor adds requests based on whether a user's
// think time falls inside the quantum.
type ThinkScheduler struct {
	Gen     tsrand.Generator
	Variate tsrand.Variate
	NumUsers int
	Quantum time.Duration

	users  []thinkUser
	cursor int
}

func (s *ThinkScheduler) Init(params map[string]any) error {
	if s.NumUsers < 1 {
		return newErr(ErrInvalidValue, "ThinkScheduler.Init", "", "num_users must be >= 1")
	}
	if s.Gen == nil || s.Variate == nil {
		return newErr(ErrInvalidValue, "ThinkScheduler.Init", "", "generator and variate are required")
	}
	s.users = make([]thinkUser, s.NumUsers)
	return nil
}

func (s *ThinkScheduler) Destroy() {}

func (s *ThinkScheduler) Step(step *Step) {
	windowEnd := int64(step.ID+1) * int64(s.Quantum)
	for i, rq := range step.Requests {
		u := i % len(s.users)
		rq.UserID = u
		rq.SchedTime = s.users[u].nextThinkStart
		if rq.SchedTime > windowEnd {
			rq.SchedTime = windowEnd
		}
	}
}

func (s *ThinkScheduler) PreRequest(rq *Request) {
	if len(s.users) == 0 {
		return
	}
	rq.UserID = s.cursor
	s.cursor = (s.cursor + 1) % len(s.users)
}

func (s *ThinkScheduler) PostRequest(rq *Request) {
	if rq.UserID < 0 || rq.UserID >= len(s.users) {
		return
	}
	think := s.Variate.Generate(s.Gen) * float64(time.Second)
	s.users[rq.UserID].nextThinkStart = rq.EndTime + int64(think)
}
