package tsload

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/myaut/tsload/tsrand"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/hookz"
)

// Status is a workload's lifecycle state (spec.md §3).
type Status uint32

const (
	StatusNew Status = iota
	StatusConfiguring
	StatusConfigured
	StatusCfgFail
	StatusStarted
	StatusRunning
	StatusFinished
	StatusStopped
	StatusDestroyed
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusConfiguring:
		return "configuring"
	case StatusConfigured:
		return "configured"
	case StatusCfgFail:
		return "cfg-fail"
	case StatusStarted:
		return "started"
	case StatusRunning:
		return "running"
	case StatusFinished:
		return "finished"
	case StatusStopped:
		return "stopped"
	case StatusDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// StatusHistory is a bitset latching every status a workload has ever passed
// through, independent of its current status (spec.md §3).
type StatusHistory uint32

func (h StatusHistory) has(s Status) bool     { return h&(1<<s) != 0 }
func (h *StatusHistory) latch(s Status)       { *h |= 1 << s }

// WorkloadEvent is delivered to OnStatusChange handlers on every transition.
type WorkloadEvent struct {
	Name      Name
	From      Status
	To        Status
	Timestamp time.Time
}

// Workload status-change hook key.
const workloadEventStatusChange = hookz.Key("workload.status_change")

// WorkloadType is the fixed capability set a workload type exposes to the
// core (spec.md §1, §9): the core treats these as foreign code supplied by an
// out-of-scope module loader and never holds an internal lock across a call
// into them.
type WorkloadType struct {
	Name Name

	// Config validates and applies params, returning an error to fail
	// configuration (ErrModuleFail). Invoked on a dedicated goroutine so it
	// cannot block the engine even if it's slow.
	Config func(ctx context.Context, wl *Workload, params map[string]any) error
	// Unconfig releases any resources Config acquired.
	Unconfig func(wl *Workload)
	// Step is an optional per-step hook invoked just after the scheduler
	// assigns sched_time to a freshly produced step's requests; most module
	// types leave this nil.
	Step func(wl *Workload, step *Step)
	// RunRequest executes one request and reports whether it succeeded.
	RunRequest func(ctx context.Context, rq *Request) (success bool, err error)

	// Breaker, if set, wraps every RunRequest call: once the module's
	// callback has failed consecutively past its threshold, the worker stops
	// invoking a persistently broken module and reports the request as
	// failed without spending a quantum on a call that's going to fail
	// anyway (supplemented concern; see ModuleBreaker).
	Breaker *ModuleBreaker

	// Throttle, if set, caps the rate at which workers actually call into
	// RunRequest, independent of how fast the scheduler assigns arrivals
	// (supplemented concern; see ModuleThrottle).
	Throttle *ModuleThrottle
}

// Workload is a configured instance of a WorkloadType bound to a ThreadPool,
// or chained to another Workload (spec.md §3, §4.5).
type Workload struct {
	Name     Name
	Type     *WorkloadType
	Pool     *ThreadPool
	Deadline time.Duration

	clock     *Clock
	scheduler Scheduler
	paramGens []ParamGen
	params    any

	stepMu      sync.Mutex
	stepQueue   [WLSTEPQSIZE]*Step
	currentStep int64
	lastStep    int64

	reqCounter atomic.Int64

	statusMu sync.Mutex
	status   Status
	history  StatusHistory

	startWall   time.Time
	startClockV int64

	refs atomic.Int32

	chainTo   *Workload
	chainProb float64
	chainGen  tsrand.Generator

	hooks *hookz.Hooks[WorkloadEvent]
}

// NewWorkload constructs a workload in StatusNew. pool may be nil for a
// chained workload that receives requests only via ChainTo.
func NewWorkload(name Name, wt *WorkloadType, pool *ThreadPool, deadline time.Duration, sched Scheduler, clock *Clock) *Workload {
	wl := &Workload{
		Name:      name,
		Type:      wt,
		Pool:      pool,
		Deadline:  deadline,
		clock:     clock,
		scheduler: sched,
		hooks:     hookz.New[WorkloadEvent](),
		lastStep:  -1,
	}
	wl.currentStep = -1
	wl.refs.Store(1)
	wl.history.latch(StatusNew)
	return wl
}

// OnStatusChange registers a handler invoked asynchronously on every status
// transition.
func (wl *Workload) OnStatusChange(handler func(context.Context, WorkloadEvent) error) error {
	_, err := wl.hooks.Hook(workloadEventStatusChange, handler)
	return err
}

func (wl *Workload) setStatus(to Status) {
	wl.statusMu.Lock()
	from := wl.status
	wl.status = to
	wl.history.latch(to)
	wl.statusMu.Unlock()

	if sig, ok := statusSignal[to]; ok {
		capitan.Info(context.Background(), sig, FieldName.Field(wl.Name), FieldWorkloadStatus.Field(to.String()))
	}
	_ = wl.hooks.Emit(context.Background(), workloadEventStatusChange, WorkloadEvent{
		Name: wl.Name, From: from, To: to, Timestamp: wl.clock.NowWall(),
	})
}

var statusSignal = map[Status]capitan.Signal{
	StatusConfigured: SignalWorkloadConfigured,
	StatusCfgFail:    SignalWorkloadConfigFailed,
	StatusStarted:    SignalWorkloadStarted,
	StatusFinished:   SignalWorkloadFinished,
	StatusStopped:    SignalWorkloadStopped,
	StatusDestroyed:  SignalWorkloadDestroyed,
}

// Status returns the workload's current status.
func (wl *Workload) Status() Status {
	wl.statusMu.Lock()
	defer wl.statusMu.Unlock()
	return wl.status
}

// History reports whether the workload has ever passed through s.
func (wl *Workload) History(s Status) bool {
	wl.statusMu.Lock()
	defer wl.statusMu.Unlock()
	return wl.history.has(s)
}

// Configure runs the workload type's Config callback on a dedicated goroutine
// and blocks until it completes, returning its error synchronously to the
// caller (spec.md §4.5, §7): the goroutine hop exists so a slow module can
// never block the caller's own lock chain, while the caller still observes a
// synchronous result.
func (wl *Workload) Configure(ctx context.Context, params map[string]any) error {
	wl.statusMu.Lock()
	if wl.status != StatusNew {
		wl.statusMu.Unlock()
		return newErr(ErrInvalidState, "Configure", wl.Name, "workload is not new")
	}
	wl.status = StatusConfiguring
	wl.history.latch(StatusConfiguring)
	wl.statusMu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if wl.Type == nil || wl.Type.Config == nil {
			errCh <- nil
			return
		}
		errCh <- wl.Type.Config(ctx, wl, params)
	}()

	var cfgErr error
	select {
	case cfgErr = <-errCh:
	case <-ctx.Done():
		cfgErr = ctx.Err()
	}

	if cfgErr != nil {
		wl.setStatus(StatusCfgFail)
		return newErr(ErrModuleFail, "Configure", wl.Name, cfgErr.Error())
	}

	wl.params = params
	wl.setStatus(StatusConfigured)
	return nil
}

// SetParamGens installs the per-request parameter generators built by wlpgen
// from this workload's configuration.
func (wl *Workload) SetParamGens(gens []ParamGen) {
	wl.paramGens = gens
}

// ProvideStep enqueues arrival work for stepID (spec.md §4.5). Exactly one of
// cfg.Count or cfg.Trace should be populated.
func (wl *Workload) ProvideStep(ctx context.Context, stepID int64, cfg StepConfig) (*Step, error) {
	wl.stepMu.Lock()
	defer wl.stepMu.Unlock()

	if stepID != wl.lastStep+1 {
		capitan.Warn(ctx, SignalStepInvalid, FieldName.Field(wl.Name), FieldStepID.Field(int(stepID)))
		return nil, newErr(ErrStepInvalid, "ProvideStep", wl.Name, "step id out of sequence")
	}
	if wl.lastStep-wl.currentStep >= WLSTEPQSIZE-1 {
		capitan.Warn(ctx, SignalStepQueueFull, FieldName.Field(wl.Name), FieldStepID.Field(int(stepID)))
		return nil, newErr(ErrQueueFull, "ProvideStep", wl.Name, "step queue full")
	}

	var reqs []*Request
	if len(cfg.Trace) > 0 {
		reqs = make([]*Request, 0, len(cfg.Trace))
		for _, tr := range cfg.Trace {
			rq := &Request{
				ID:        wl.reqCounter.Add(1) - 1,
				UserID:    tr.UserID,
				WorkerID:  tr.WorkerID,
				SchedTime: tr.SchedTime,
				Params:    tr.Params,
				Flags:     RequestTrace,
			}
			reqs = append(reqs, rq)
		}
	} else {
		reqs = make([]*Request, 0, cfg.Count)
		for i := 0; i < cfg.Count; i++ {
			reqs = append(reqs, &Request{ID: wl.reqCounter.Add(1) - 1, Params: Generate(wl)})
		}
	}

	step := newStep(wl, stepID, reqs)
	for _, rq := range reqs {
		rq.Step = step
	}
	idx := stepID & (WLSTEPQSIZE - 1)
	wl.stepQueue[idx] = step
	wl.lastStep = stepID
	return step, nil
}

// IsStarted reports whether the workload has transitioned to STARTED,
// performing the lazy transition itself when now has reached StartWall
// (spec.md §4.5).
func (wl *Workload) IsStarted(now time.Time) bool {
	wl.statusMu.Lock()
	defer wl.statusMu.Unlock()

	if wl.history.has(StatusStarted) {
		return true
	}
	if wl.status != StatusConfigured {
		return false
	}
	if now.Before(wl.startWall) {
		return false
	}
	wl.status = StatusStarted
	wl.history.latch(StatusStarted)
	wl.startClockV = wl.clock.NowClock()
	return true
}

// Start schedules the workload to begin at startAt.
func (wl *Workload) Start(startAt time.Time) error {
	wl.statusMu.Lock()
	defer wl.statusMu.Unlock()
	if wl.status != StatusConfigured {
		return newErr(ErrInvalidState, "Start", wl.Name, "workload is not configured")
	}
	wl.startWall = startAt
	return nil
}

// StartClock returns the monotonic clock reading captured when the workload
// started; arrival-time arithmetic for this workload's requests is relative
// to it.
func (wl *Workload) StartClock() int64 {
	wl.statusMu.Lock()
	defer wl.statusMu.Unlock()
	return wl.startClockV
}

// AdvanceStep consumes the next queued step, runs the scheduler's Step hook
// over its requests, and returns it. Returns (nil, nil) once the workload has
// drained past lastStep, at which point it transitions to FINISHED
// (spec.md §4.5).
func (wl *Workload) AdvanceStep() (*Step, error) {
	wl.stepMu.Lock()
	defer wl.stepMu.Unlock()

	next := wl.currentStep + 1
	if next > wl.lastStep {
		wl.setStatus(StatusFinished)
		return nil, nil
	}

	idx := next & (WLSTEPQSIZE - 1)
	step := wl.stepQueue[idx]
	wl.stepQueue[idx] = nil
	wl.currentStep = next

	if step != nil && wl.scheduler != nil {
		wl.scheduler.Step(step)
	}
	if step != nil && wl.Type != nil && wl.Type.Step != nil {
		wl.Type.Step(wl, step)
	}
	capitan.Info(context.Background(), SignalStepAdvanced, FieldName.Field(wl.Name), FieldStepID.Field(int(next)))
	return step, nil
}

// Stop sets last_step to the current step, so AdvanceStep advances none of
// the steps queued ahead of it and the workload drains (requests already
// handed to the threadpool still run), and sets the status to STOPPED
// (spec.md §4.5). A stopped workload can no longer be started, and
// ProvideStep still accepts the step after the current one.
func (wl *Workload) Stop() error {
	wl.stepMu.Lock()
	wl.lastStep = wl.currentStep
	wl.stepMu.Unlock()

	wl.setStatus(StatusStopped)
	return nil
}

// Unconfigure releases module resources acquired by Configure.
func (wl *Workload) Unconfigure() error {
	if wl.Type != nil && wl.Type.Unconfig != nil {
		wl.Type.Unconfig(wl)
	}
	return nil
}

// Ref increments the workload's refcount.
func (wl *Workload) Ref() { wl.refs.Add(1) }

// Destroy decrements the workload's refcount, tearing it down at zero.
// Calling Destroy again after the workload has already been destroyed
// returns ErrNotFound (spec.md §8 property 7).
func (wl *Workload) Destroy() error {
	wl.statusMu.Lock()
	if wl.status == StatusDestroyed {
		wl.statusMu.Unlock()
		return newErr(ErrNotFound, "Destroy", wl.Name, "workload already destroyed")
	}
	wl.statusMu.Unlock()

	if wl.refs.Add(-1) > 0 {
		return nil
	}

	_ = wl.Unconfigure()
	if wl.scheduler != nil {
		wl.scheduler.Destroy()
	}
	wl.setStatus(StatusDestroyed)
	wl.hooks.Close()
	return nil
}

// ChainTo links child as this workload's chained consumer: on completion of
// each request, a draw from gen gates whether a child request is synthesized
// with the parent's end_time as its sched_time (spec.md §4.5, supplemented
// from original_source's workload.c producer/consumer linkage).
func (wl *Workload) ChainTo(child *Workload, prob float64, gen tsrand.Generator) {
	wl.chainTo = child
	wl.chainProb = prob
	wl.chainGen = gen
}

// chainChild synthesizes the chained child request for a just-completed
// parent request, or returns nil if there is no chain or the gating draw
// failed.
func (wl *Workload) chainChild(parent *Request) *Request {
	if wl.chainTo == nil {
		return nil
	}
	if wl.chainGen != nil && wl.chainGen.GenerateDouble() >= wl.chainProb {
		return nil
	}
	return &Request{
		ID:        parent.ID,
		Step:      parent.Step,
		UserID:    parent.UserID,
		SchedTime: parent.EndTime,
		Params:    parent.Params,
	}
}
