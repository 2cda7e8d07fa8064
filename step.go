package tsload

// TraceRequest is a pre-recorded request supplied in a StepConfig instead of
// letting a Scheduler synthesize one, for replaying a captured trace
// (supplemented from original_source's tsexperiment/steps.c; spec.md §3).
type TraceRequest struct {
	UserID    int
	WorkerID  int
	SchedTime int64
	Params    any
}

// StepConfig describes the workload of a single step as handed to
// Workload.ProvideStep. Exactly one of Count or Trace should be set: Count
// asks the Scheduler to synthesize that many requests; Trace supplies them
// verbatim.
type StepConfig struct {
	Count int
	Trace []TraceRequest
}

// Step is one iteration of a Workload's ring buffer (spec.md §3). It owns the
// Requests produced for that iteration until the engine reports them back to
// the reporter and drops them.
type Step struct {
	Workload *Workload
	ID       int64
	Count    int
	Requests []*Request
}

func newStep(wl *Workload, id int64, reqs []*Request) *Step {
	return &Step{Workload: wl, ID: id, Count: len(reqs), Requests: reqs}
}
