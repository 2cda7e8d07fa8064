package tsload

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// poolWorker is one of a ThreadPool's N hot worker goroutines (spec.md §3,
// §4.7). Queue-based dispatchers keep queue sorted by (SchedTime, ID); the
// first-free dispatcher instead delivers one request at a time over pending.
type poolWorker struct {
	id int

	mu       sync.Mutex
	cond     *sync.Cond
	queue    *list.List
	finished []*Request

	state   atomic.Int32
	pending chan *Request
	dying   chan struct{}
}

func newPoolWorker(id int) *poolWorker {
	w := &poolWorker{id: id, queue: list.New(), pending: make(chan *Request, 1), dying: make(chan struct{})}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *poolWorker) drainFinished() []*Request {
	done := w.finished
	w.finished = nil
	return done
}

func (w *poolWorker) resetQueue() []*Request {
	var abandoned []*Request
	for e := w.queue.Front(); e != nil; e = e.Next() {
		rq := e.Value.(*Request)
		rq.Site = SiteNone
		rq.elem = nil
		abandoned = append(abandoned, rq)
	}
	w.queue.Init()
	return abandoned
}

// WorkerSchedConfig is an advisory per-worker scheduling/affinity spec
// (supplemented from original_source's threadpool.c; spec.md §4.7). Failures
// applying it are logged and never abort threadpool creation.
type WorkerSchedConfig struct {
	Policy string
	Params map[string]int64
	CPUs   []int
}

// ThreadPool runs one controller goroutine and NumWorkers worker goroutines
// driving workloads attached to it through a quantum loop (spec.md §3, §4.7).
type ThreadPool struct {
	Name    Name
	Quantum time.Duration
	Discard bool

	dispatcher     Dispatcher
	clock          *Clock
	workerOverhead time.Duration
	reporter       *Reporter

	mu      sync.Mutex
	workers []*poolWorker
	wlList  []*Workload
	rqList  *list.List

	time int64

	dead atomic.Bool
	refs atomic.Int32

	collected atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	metrics *metricz.Registry
	tracer  *tracez.Tracer
}

// Metric keys for ThreadPool observability.
const (
	MetricQueueDepth     = metricz.Key("threadpool.queue_depth")
	MetricDiscardedTotal = metricz.Key("threadpool.discarded.total")
	MetricDispatched     = metricz.Key("threadpool.dispatched.total")
)

// Span names for ThreadPool observability.
const (
	SpanRunRequest = tracez.Key("threadpool.run_request")
)

// Span tags for ThreadPool observability.
const (
	TagWorkerID = tracez.Tag("threadpool.worker_id")
	TagSuccess  = tracez.Tag("threadpool.success")
)

// ThreadPoolConfig describes a threadpool at creation time (spec.md §6).
type ThreadPoolConfig struct {
	Name       Name
	NumWorkers int
	Quantum    time.Duration
	Discard    bool
	Dispatcher Dispatcher
	Sched      []WorkerSchedConfig
}

// NewThreadPool validates cfg against the quantum/worker-count contract
// (spec.md §4.7) and constructs a ThreadPool ready for Run.
func NewThreadPool(cfg ThreadPoolConfig, clock *Clock, reporter *Reporter) (*ThreadPool, error) {
	if cfg.Quantum < DefaultMinQuantum || cfg.Quantum > DefaultMaxQuantum {
		return nil, newErr(ErrInvalidValue, "NewThreadPool", cfg.Name, "quantum out of range")
	}
	if cfg.NumWorkers < 1 || cfg.NumWorkers > DefaultMaxThreads {
		return nil, newErr(ErrInvalidValue, "NewThreadPool", cfg.Name, "num_workers out of range")
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = NewRoundRobinDispatcher()
	}

	tp := &ThreadPool{
		Name:           cfg.Name,
		Quantum:        cfg.Quantum,
		Discard:        cfg.Discard,
		dispatcher:     cfg.Dispatcher,
		clock:          clock,
		workerOverhead: DefaultWorkerOverhead,
		reporter:       reporter,
		rqList:         list.New(),
		stopCh:         make(chan struct{}),
		metrics:        metricz.New(),
		tracer:         tracez.New(),
	}
	tp.refs.Store(1)

	for i := 0; i < cfg.NumWorkers; i++ {
		tp.workers = append(tp.workers, newPoolWorker(i))
	}
	for i, sc := range cfg.Sched {
		if err := tp.applyWorkerSched(i, sc); err != nil {
			capitan.Warn(context.Background(), SignalWorkerSchedFailed,
				FieldThreadPoolName.Field(tp.Name), FieldWorkerID.Field(i), FieldError.Field(err.Error()))
		}
	}

	if err := tp.dispatcher.Init(tp); err != nil {
		return nil, newErr(ErrInvalidValue, "NewThreadPool", cfg.Name, "dispatcher init: "+err.Error())
	}

	capitan.Info(context.Background(), SignalThreadPoolCreated,
		FieldThreadPoolName.Field(tp.Name), FieldNumWorkers.Field(cfg.NumWorkers))
	return tp, nil
}

// applyWorkerSched is advisory-only: the Go runtime does not expose portable
// thread affinity without cgo/syscall plumbing the core has no business
// doing, so this only checks the worker index; the policy, params, and CPU
// list are neither applied nor stored.
func (tp *ThreadPool) applyWorkerSched(workerIdx int, sc WorkerSchedConfig) error {
	if workerIdx < 0 || workerIdx >= len(tp.workers) {
		return newErr(ErrInvalidValue, "applyWorkerSched", tp.Name, "worker index out of range")
	}
	return nil
}

func (tp *ThreadPool) nextQuantumAt() int64 {
	return tp.time + int64(tp.Quantum)
}

func (tp *ThreadPool) startClockFor(rq *Request) int64 {
	if rq.Step != nil && rq.Step.Workload != nil {
		return rq.Step.Workload.StartClock()
	}
	return 0
}

// Attach binds wl to tp, taking a reference on wl for the duration of the
// attachment (spec.md §9's single-owner resolution of the
// workload/threadpool cyclic reference).
func (tp *ThreadPool) Attach(wl *Workload) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.wlList = append(tp.wlList, wl)
	wl.Ref()
}

// Run starts the controller and worker goroutines. It does not block.
func (tp *ThreadPool) Run() {
	for _, w := range tp.workers {
		tp.wg.Add(1)
		go tp.workerLoop(w)
	}
	tp.wg.Add(1)
	go tp.controllerLoop()
}

func (tp *ThreadPool) controllerLoop() {
	defer tp.wg.Done()
	for {
		tp.time = tp.clock.NowClock()
		tp.dispatcher.ControlSleep(tp)

		done := tp.dispatcher.ControlReport(tp)
		if len(done) > 0 && tp.reporter != nil {
			tp.reporter.ReportRequests(done)
		}

		tp.advanceWorkloads()
		tp.reapFinished()

		if tp.dead.Load() {
			tp.mu.Lock()
			remaining := len(tp.wlList)
			tp.mu.Unlock()
			if remaining == 0 {
				return
			}
		}
	}
}

func (tp *ThreadPool) advanceWorkloads() {
	tp.mu.Lock()
	workloads := make([]*Workload, len(tp.wlList))
	copy(workloads, tp.wlList)
	tp.mu.Unlock()

	now := tp.clock.NowWall()
	for _, wl := range workloads {
		if !wl.IsStarted(now) {
			continue
		}
		step, err := wl.AdvanceStep()
		if err != nil || step == nil {
			continue
		}
		for _, rq := range step.Requests {
			tp.enqueueRequest(rq)
		}
	}
}

func (tp *ThreadPool) enqueueRequest(rq *Request) {
	tp.mu.Lock()
	insertSorted(tp.rqList, rq)
	rq.Site = SiteThreadPoolQueue
	depth := tp.rqList.Len()
	tp.mu.Unlock()
	tp.metrics.Gauge(MetricQueueDepth).Set(float64(depth))
}

func (tp *ThreadPool) reapFinished() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	kept := tp.wlList[:0]
	for _, wl := range tp.wlList {
		if wl.Status() == StatusFinished {
			_ = wl.Destroy()
			continue
		}
		kept = append(kept, wl)
	}
	tp.wlList = kept
}

func (tp *ThreadPool) workerLoop(w *poolWorker) {
	defer tp.wg.Done()
	for {
		rq := tp.dispatcher.WorkerPick(tp, w)
		if rq == nil {
			return
		}
		tp.runRequest(w, rq)
		tp.dispatcher.WorkerDone(tp, w, rq)
	}
}

func (tp *ThreadPool) runRequest(w *poolWorker, rq *Request) {
	ctx, span := tp.tracer.StartSpan(context.Background(), SpanRunRequest)
	defer span.Finish()
	span.SetTag(TagWorkerID, strconv.Itoa(w.id))

	var wl *Workload
	if rq.Step != nil {
		wl = rq.Step.Workload
	}
	start := tp.clock.NowClock()
	var startClock int64
	if wl != nil {
		startClock = wl.StartClock()
	}
	rq.StartTime = start - startClock

	if wl != nil && rq.StartTime-rq.SchedTime > int64(wl.Deadline) {
		rq.Flags &^= RequestStarted
		rq.EndTime = rq.StartTime
		capitan.Warn(ctx, SignalRequestDeadlineMissed, FieldRequestID.Field(int(rq.ID)), FieldWorkerID.Field(w.id))
		return
	}

	rq.Flags |= RequestStarted
	if rq.StartTime <= rq.SchedTime {
		rq.Flags |= RequestOnTime
	}

	success := true
	if wl != nil && wl.Type != nil && wl.Type.RunRequest != nil {
		call := wl.Type.RunRequest
		if wl.Type.Breaker != nil {
			breaker := wl.Type.Breaker
			inner := call
			call = func(ctx context.Context, rq *Request) (bool, error) { return breaker.Guard(ctx, rq, inner) }
		}
		if wl.Type.Throttle != nil {
			throttle := wl.Type.Throttle
			inner := call
			call = func(ctx context.Context, rq *Request) (bool, error) { return throttle.Guard(ctx, rq, inner) }
		}
		ok, err := call(ctx, rq)
		success = ok && err == nil
	}

	rq.EndTime = tp.clock.NowClock() - startClock
	rq.Flags |= RequestFinished
	if success {
		rq.Flags |= RequestSuccess
	}
	span.SetTag(TagSuccess, strconv.FormatBool(success))

	if wl != nil && wl.scheduler != nil {
		wl.scheduler.PostRequest(rq)
	}
	if wl != nil {
		if child := wl.chainChild(rq); child != nil {
			rq.ChainNext = child
			tp.enqueueRequest(child)
		}
	}
}

// Destroy marks the pool dead and wakes every worker; the refcount is left
// unchanged. The engine's background collector (engine.go) removes the pool
// from its registry once ReadyForCollection reports it dead with an empty
// workload list (spec.md §4.7).
func (tp *ThreadPool) Destroy() error {
	if tp.dead.Swap(true) {
		return newErr(ErrNotFound, "Destroy", tp.Name, "threadpool already destroyed")
	}
	capitan.Info(context.Background(), SignalThreadPoolDestroying, FieldThreadPoolName.Field(tp.Name))
	for i := range tp.workers {
		tp.dispatcher.WorkerSignal(tp, i)
		close(tp.workers[i].dying)
	}
	tp.dispatcher.Destroy()
	return nil
}

// ReadyForCollection reports whether the pool is dead and fully drained,
// i.e. safe for the collector to release.
func (tp *ThreadPool) ReadyForCollection() bool {
	if !tp.dead.Load() {
		return false
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return len(tp.wlList) == 0
}

