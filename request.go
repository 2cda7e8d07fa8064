package tsload

import "container/list"

// RequestFlags is an additive bitmask tracking a request's progress through
// the dispatch/execution lifecycle (spec.md §3).
type RequestFlags uint32

const (
	// RequestStarted is set once a worker starts running the request. It
	// stays clear when the request missed its deadline and the module was
	// not invoked.
	RequestStarted RequestFlags = 1 << iota
	// RequestFinished is set once the workload module's run_request callback
	// has returned, successfully or not.
	RequestFinished
	// RequestOnTime is set if the request started at or before its scheduled
	// time (StartTime <= SchedTime). Cleared means it started late.
	RequestOnTime
	// RequestSuccess is set if the module reported success.
	RequestSuccess
	// RequestTrace marks a request that was spliced in from a recorded trace
	// (StepConfig.Trace) rather than synthesized by a scheduler.
	RequestTrace
)

// RequestSite records which of the three intrusive lists (threadpool queue,
// worker queue, workload step) a Request currently belongs to. A request is a
// member of at most one list at a time per list kind; Site is the load-bearing
// half of that invariant (spec.md §8 property 3) — the list.Element pointers
// alone don't say which list they're linked into.
type RequestSite uint8

const (
	// SiteNone means the request is not currently queued anywhere (e.g.
	// already dispatched to a worker and mid-execution, or not yet produced).
	SiteNone RequestSite = iota
	// SiteThreadPoolQueue means the request is linked into the threadpool's
	// pending dispatch queue (tp.rqList).
	SiteThreadPoolQueue
	// SiteWorkerQueue means a queue-based dispatcher has handed the request
	// to a specific worker's private queue.
	SiteWorkerQueue
	// SiteWorkloadStep means the request is linked into its originating
	// Step's trace list, awaiting production.
	SiteWorkloadStep
)

// Request is a single unit of work scheduled against a Workload. Requests are
// produced by a Scheduler, queued by a Dispatcher, and executed by a worker
// in a ThreadPool.
type Request struct {
	ID       int64
	Step     *Step
	UserID   int
	WorkerID int

	Params any

	// SchedTime, StartTime, and EndTime are nanoseconds relative to the
	// owning Workload's start clock (Workload.startClock), not wall time.
	SchedTime int64
	StartTime int64
	EndTime   int64

	Flags RequestFlags

	// ChainNext, if non-nil, is a synthesized request for a chained child
	// workload produced on this request's completion (Workload.ChainTo).
	ChainNext *Request

	// Site records which intrusive list this request is currently linked
	// into; elem is the list.Element for that list, or nil when Site is
	// SiteNone.
	Site RequestSite
	elem *list.Element
}

// linkInto links r into l at Site site, asserting the single-membership
// invariant: a request already linked somewhere must be unlinked first.
func (r *Request) linkInto(l *list.List, site RequestSite) {
	if r.Site != SiteNone {
		panic("tsload: request relinked while still a member of another list")
	}
	r.elem = l.PushBack(r)
	r.Site = site
}

// unlink removes r from whichever list it is currently linked into, if any.
func (r *Request) unlink(l *list.List) {
	if r.Site == SiteNone {
		return
	}
	l.Remove(r.elem)
	r.elem = nil
	r.Site = SiteNone
}

// Latency returns EndTime - StartTime, the request's service time. Valid only
// once RequestFinished is set.
func (r *Request) Latency() int64 {
	return r.EndTime - r.StartTime
}

// WaitTime returns StartTime - SchedTime, the time spent queued before a
// worker picked the request up. Valid only once RequestStarted is set.
func (r *Request) WaitTime() int64 {
	return r.StartTime - r.SchedTime
}
