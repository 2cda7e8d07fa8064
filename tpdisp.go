package tsload

import (
	"container/list"
	"math/rand/v2"
	"sync"
	"time"
)

// insertSorted inserts rq into l, which is kept sorted by (SchedTime, ID),
// walking backward from the tail. Arrivals from a single scheduler step are
// already close to sorted, so this two-cursor-style scan from the
// likely-correct end avoids the quadratic cost of re-scanning from the front
// every time (spec.md §4.6, §4.7).
func insertSorted(l *list.List, rq *Request) {
	for e := l.Back(); e != nil; e = e.Prev() {
		other := e.Value.(*Request)
		if other.SchedTime < rq.SchedTime || (other.SchedTime == rq.SchedTime && other.ID <= rq.ID) {
			rq.elem = l.InsertAfter(rq, e)
			return
		}
	}
	rq.elem = l.PushFront(rq)
}

// Dispatcher maps arrivals in a threadpool's pending queue onto worker
// queues (spec.md §3, §4.6).
type Dispatcher interface {
	Name() string
	Init(tp *ThreadPool) error
	Destroy()
	// ControlSleep walks tp's pending queue, assigns each request to a
	// worker, and blocks the controller until the quantum elapses.
	ControlSleep(tp *ThreadPool)
	// ControlReport collects completed (or, under discard, abandoned)
	// requests for the reporter.
	ControlReport(tp *ThreadPool) []*Request
	// WorkerPick blocks until w has a request ready to run, honoring its
	// scheduled arrival time, or returns nil if the pool is dying.
	WorkerPick(tp *ThreadPool, w *poolWorker) *Request
	// WorkerDone is called once w finishes executing rq.
	WorkerDone(tp *ThreadPool, w *poolWorker, rq *Request)
	// WorkerSignal wakes worker wid, used during destroy.
	WorkerSignal(tp *ThreadPool, wid int)
	// RelinkRequest re-sorts rq after its SchedTime mutates (chain completion).
	RelinkRequest(tp *ThreadPool, rq *Request)
}

// waitForArrival blocks until rq's scheduled arrival time, honoring a
// maxSleep bound: if the remaining wait exceeds maxSleep it returns
// immediately (the caller is expected to re-check), otherwise it sleeps for
// the remaining time less WorkerOverhead (spec.md §4.6).
func waitForArrival(clock *Clock, rq *Request, startClock int64, maxSleep, overhead time.Duration) {
	target := startClock + rq.SchedTime
	remaining := time.Duration(target - clock.NowClock())
	if remaining <= 0 {
		return
	}
	if remaining > maxSleep {
		return
	}
	sleepFor := remaining - overhead
	if sleepFor > 0 {
		clock.SleepNanos(sleepFor)
	}
}

// nextWorkerFunc picks the destination worker index for rq out of numWorkers
// workers, given the dispatcher's running cursor (spec.md §4.6).
type nextWorkerFunc func(cursor *int, numWorkers int, rq *Request) int

func roundRobinNext(cursor *int, numWorkers int, rq *Request) int {
	w := *cursor % numWorkers
	*cursor++
	return w
}

func randomNext(cursor *int, numWorkers int, rq *Request) int {
	return rand.IntN(numWorkers)
}

// fillUpNext sends fillPerWorker requests to a worker before moving to the
// next; cursor packs (worker, count-so-far) as worker*1<<32 is overkill in Go,
// so fillUpState tracks it directly instead of through the generic cursor.
type fillUpState struct {
	worker int
	count  int
	n      int
}

func (f *fillUpState) next(numWorkers int, rq *Request) int {
	w := f.worker % numWorkers
	f.count++
	if f.count >= f.n {
		f.count = 0
		f.worker++
	}
	return w
}

func userNext(numWorkers int, rq *Request) int {
	if numWorkers == 0 {
		return 0
	}
	return rq.UserID % numWorkers
}

func traceNext(numWorkers int, rq *Request) int {
	if rq.WorkerID != 0 || rq.Flags&RequestTrace != 0 {
		return rq.WorkerID % numWorkers
	}
	return rand.IntN(numWorkers)
}

// queueDispatcher implements the shared queue-based dispatch protocol
// (spec.md §4.6): round-robin, random, fill-up, user, and trace dispatchers
// differ only in how they pick the destination worker for each request.
type queueDispatcher struct {
	name   string
	cursor int
	fillUp *fillUpState
	pick   func(q *queueDispatcher, numWorkers int, rq *Request) int
}

// NewRoundRobinDispatcher distributes arrivals to workers in round-robin order.
func NewRoundRobinDispatcher() Dispatcher {
	return &queueDispatcher{name: "round-robin", pick: func(q *queueDispatcher, n int, rq *Request) int {
		return roundRobinNext(&q.cursor, n, rq)
	}}
}

// NewRandomDispatcher distributes arrivals to a uniformly random worker.
func NewRandomDispatcher() Dispatcher {
	return &queueDispatcher{name: "random", pick: func(q *queueDispatcher, n int, rq *Request) int {
		return randomNext(&q.cursor, n, rq)
	}}
}

// NewFillUpDispatcher sends n requests to a worker before moving to the next.
func NewFillUpDispatcher(n int) Dispatcher {
	return &queueDispatcher{name: "fill-up", fillUp: &fillUpState{n: n}, pick: func(q *queueDispatcher, numWorkers int, rq *Request) int {
		return q.fillUp.next(numWorkers, rq)
	}}
}

// NewUserDispatcher routes every request belonging to the same user to the
// same worker (user_id mod N).
func NewUserDispatcher() Dispatcher {
	return &queueDispatcher{name: "user", pick: func(q *queueDispatcher, n int, rq *Request) int {
		return userNext(n, rq)
	}}
}

// NewTraceDispatcher routes a request to WorkerID mod N when set, falling
// back to random otherwise (spec.md §9's documented reproducibility tradeoff).
func NewTraceDispatcher() Dispatcher {
	return &queueDispatcher{name: "trace", pick: func(q *queueDispatcher, n int, rq *Request) int {
		return traceNext(n, rq)
	}}
}

func (q *queueDispatcher) Name() string       { return q.name }
func (q *queueDispatcher) Init(tp *ThreadPool) error { return nil }
func (q *queueDispatcher) Destroy()           {}

func (q *queueDispatcher) ControlSleep(tp *ThreadPool) {
	tp.mu.Lock()
	pending := tp.rqList
	tp.rqList = list.New()
	tp.mu.Unlock()

	numWorkers := len(tp.workers)
	for e := pending.Front(); e != nil; {
		next := e.Next()
		rq := e.Value.(*Request)
		rq.Site = SiteNone
		rq.elem = nil
		widx := q.pick(q, numWorkers, rq)
		w := tp.workers[widx]
		rq.WorkerID = widx

		w.mu.Lock()
		insertSorted(w.queue, rq)
		rq.Site = SiteWorkerQueue
		w.mu.Unlock()
		w.cond.Signal()

		e = next
	}

	deadline := time.Duration(tp.nextQuantumAt() - tp.clock.NowClock())
	if deadline > 0 {
		tp.clock.SleepNanos(deadline)
	}
}

func (q *queueDispatcher) ControlReport(tp *ThreadPool) []*Request {
	var done []*Request

	for _, w := range tp.workers {
		w.mu.Lock()
		done = append(done, w.drainFinished()...)
		if tp.Discard {
			abandoned := w.resetQueue()
			done = append(done, abandoned...)
		}
		w.mu.Unlock()
	}
	return done
}

func (q *queueDispatcher) WorkerPick(tp *ThreadPool, w *poolWorker) *Request {
	w.mu.Lock()
	for w.queue.Len() == 0 && !tp.dead.Load() {
		w.cond.Wait()
	}
	if tp.dead.Load() && w.queue.Len() == 0 {
		w.mu.Unlock()
		return nil
	}
	e := w.queue.Front()
	rq := e.Value.(*Request)
	w.mu.Unlock()

	waitForArrival(tp.clock, rq, tp.startClockFor(rq), time.Hour, tp.workerOverhead)
	return rq
}

func (q *queueDispatcher) WorkerDone(tp *ThreadPool, w *poolWorker, rq *Request) {
	w.mu.Lock()
	if rq.elem != nil {
		w.queue.Remove(rq.elem)
		rq.elem = nil
		rq.Site = SiteNone
	}
	w.finished = append(w.finished, rq)
	w.mu.Unlock()
	w.cond.Signal()
}

func (q *queueDispatcher) WorkerSignal(tp *ThreadPool, wid int) {
	w := tp.workers[wid]
	w.cond.Broadcast()
}

func (q *queueDispatcher) RelinkRequest(tp *ThreadPool, rq *Request) {
	w := tp.workers[rq.WorkerID%len(tp.workers)]
	w.mu.Lock()
	if rq.elem != nil {
		w.queue.Remove(rq.elem)
	}
	insertSorted(w.queue, rq)
	w.mu.Unlock()
}

// workerState is used only by the first-free dispatcher (spec.md §4.6).
type workerState int32

const (
	workerSleeping workerState = iota
	workerWorking
)

// firstFreeDispatcher departs from the queue-based protocol: the controller
// does not pre-assign requests to workers. It hands each arrival to whichever
// worker is currently SLEEPING, parking on a central condition variable when
// none is free until a worker finishes or the pool dies; the wait has no
// timeout. This maximizes throughput when per-request
// cost is heterogeneous, at the cost of trace-reproducibility (spec.md §4.6).
type firstFreeDispatcher struct {
	mu       sync.Mutex
	cond     *sync.Cond
	finished []*Request
}

func (d *firstFreeDispatcher) Name() string       { return "first-free" }
func (d *firstFreeDispatcher) Init(tp *ThreadPool) error { return nil }
func (d *firstFreeDispatcher) Destroy()           {}

func (d *firstFreeDispatcher) ControlSleep(tp *ThreadPool) {
	tp.mu.Lock()
	pending := tp.rqList
	tp.rqList = list.New()
	tp.mu.Unlock()

	for e := pending.Front(); e != nil; e = e.Next() {
		rq := e.Value.(*Request)
		rq.Site = SiteNone
		d.assign(tp, rq)
	}

	deadline := time.Duration(tp.nextQuantumAt() - tp.clock.NowClock())
	if deadline > 0 {
		tp.clock.SleepNanos(deadline)
	}
}

func (d *firstFreeDispatcher) assign(tp *ThreadPool, rq *Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		for _, w := range tp.workers {
			if w.state.Load() == int32(workerSleeping) {
				w.state.Store(int32(workerWorking))
				w.pending <- rq
				return
			}
		}
		if tp.dead.Load() {
			return
		}
		d.cond.Wait()
	}
}

func (d *firstFreeDispatcher) ControlReport(tp *ThreadPool) []*Request {
	d.mu.Lock()
	done := d.finished
	d.finished = nil
	d.mu.Unlock()
	return done
}

func (d *firstFreeDispatcher) WorkerPick(tp *ThreadPool, w *poolWorker) *Request {
	w.state.Store(int32(workerSleeping))
	d.mu.Lock()
	d.cond.Broadcast()
	d.mu.Unlock()

	select {
	case rq, ok := <-w.pending:
		if !ok {
			return nil
		}
		waitForArrival(tp.clock, rq, tp.startClockFor(rq), time.Hour, tp.workerOverhead)
		return rq
	case <-w.dying:
		return nil
	}
}

func (d *firstFreeDispatcher) WorkerDone(tp *ThreadPool, w *poolWorker, rq *Request) {
	d.mu.Lock()
	d.finished = append(d.finished, rq)
	d.mu.Unlock()
	d.cond.Broadcast()
}

func (d *firstFreeDispatcher) WorkerSignal(tp *ThreadPool, wid int) {
	d.mu.Lock()
	d.cond.Broadcast()
	d.mu.Unlock()
}

func (d *firstFreeDispatcher) RelinkRequest(tp *ThreadPool, rq *Request) {
	// First-free never queues requests ahead of time, so there is nothing to
	// re-sort; a relinked chained request is simply assigned fresh.
	d.assign(tp, rq)
}

// NewFirstFreeDispatcher builds a first-free dispatcher.
func NewFirstFreeDispatcher() Dispatcher {
	d := &firstFreeDispatcher{}
	d.cond = sync.NewCond(&d.mu)
	return d
}
