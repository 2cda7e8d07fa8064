package tsload

import (
	"context"
	"sync"
	"time"

	"github.com/myaut/tsload/tsfile"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/metricz"
)

// Metric keys for reporter observability.
const (
	MetricReportedTotal      = metricz.Key("reporter.reported.total")
	MetricNotificationsTotal = metricz.Key("reporter.notifications.total")
	MetricSuppressedTotal    = metricz.Key("reporter.suppressed.total")
)

// reportBatch is one controller quantum's worth of finished requests destined
// for a single workload's tsfile.
type reportBatch struct {
	wl   *Workload
	reqs []*Request
}

// Notification is a workload status transition destined for the front-end
// (spec.md §4.9).
type Notification struct {
	WorkloadName Name
	Status       Status
	Terminal     bool
	Timestamp    time.Time
}

// Reporter is a process-wide MPSC fan-out: many threadpool controllers
// append batches of finished requests; a single consumer goroutine converts
// them into tsfile records. A second queue carries workload status
// notifications through an identical pattern with independent rate limiting
// (spec.md §4.9).
type Reporter struct {
	clock *Clock

	batches chan reportBatch
	notifs  chan Notification

	filesMu sync.Mutex
	files   map[Name]*tsfile.File

	notifPerSec int
	lastNotif   map[Name]time.Time
	notifMu     sync.Mutex

	metrics *metricz.Registry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewReporter constructs a Reporter. notifPerSec <= 0 uses
// DefaultNotificationsPerSec.
func NewReporter(clock *Clock, notifPerSec int) *Reporter {
	if notifPerSec <= 0 {
		notifPerSec = DefaultNotificationsPerSec
	}
	r := &Reporter{
		clock:       clock,
		batches:     make(chan reportBatch, 256),
		notifs:      make(chan Notification, 256),
		files:       map[Name]*tsfile.File{},
		notifPerSec: notifPerSec,
		lastNotif:   map[Name]time.Time{},
		metrics:     metricz.New(),
		stopCh:      make(chan struct{}),
	}
	r.wg.Add(2)
	go r.consumeBatches()
	go r.consumeNotifications()
	return r
}

// RegisterFile attaches the tsfile a workload's finished requests should be
// appended to. Workloads with no registered file are simply counted, not
// persisted (useful in tests).
func (r *Reporter) RegisterFile(wlName Name, f *tsfile.File) {
	r.filesMu.Lock()
	defer r.filesMu.Unlock()
	r.files[wlName] = f
}

// ReportRequests enqueues a quantum's worth of finished requests. Never
// blocks the caller indefinitely in practice: the channel is sized generously
// and the consumer is the only goroutine that can fall behind.
func (r *Reporter) ReportRequests(reqs []*Request) {
	byWorkload := map[*Workload][]*Request{}
	for _, rq := range reqs {
		var wl *Workload
		if rq.Step != nil {
			wl = rq.Step.Workload
		}
		byWorkload[wl] = append(byWorkload[wl], rq)
	}
	for wl, batch := range byWorkload {
		r.batches <- reportBatch{wl: wl, reqs: batch}
	}
}

// Notify enqueues a workload status-transition notification, subject to rate
// limiting: intermediate notifications are dropped if fewer than
// 1/notifPerSec seconds elapsed since the last one for this workload, but
// terminal and error transitions are never suppressed (spec.md §4.9).
func (r *Reporter) Notify(n Notification) {
	if !n.Terminal {
		r.notifMu.Lock()
		now := r.clock.NowWall()
		last, ok := r.lastNotif[n.WorkloadName]
		minGap := time.Second / time.Duration(r.notifPerSec)
		if ok && now.Sub(last) < minGap {
			r.notifMu.Unlock()
			r.metrics.Counter(MetricSuppressedTotal).Inc()
			capitan.Info(context.Background(), SignalNotificationSuppressed, FieldName.Field(n.WorkloadName))
			return
		}
		r.lastNotif[n.WorkloadName] = now
		r.notifMu.Unlock()
	}
	r.notifs <- n
}

func (r *Reporter) consumeBatches() {
	defer r.wg.Done()
	for {
		select {
		case b, ok := <-r.batches:
			if !ok {
				return
			}
			r.appendBatch(b)
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reporter) appendBatch(b reportBatch) {
	r.metrics.Counter(MetricReportedTotal).Add(float64(len(b.reqs)))
	if b.wl == nil {
		return
	}
	r.filesMu.Lock()
	f := r.files[b.wl.Name]
	r.filesMu.Unlock()
	if f == nil {
		return
	}
	records := make([]tsfile.Record, 0, len(b.reqs))
	for _, rq := range b.reqs {
		records = append(records, requestToRecord(rq))
	}
	if err := f.Append(records); err != nil {
		capitan.Error(context.Background(), SignalAppendFailed, FieldName.Field(b.wl.Name), FieldError.Field(err.Error()))
	}
}

func (r *Reporter) consumeNotifications() {
	defer r.wg.Done()
	for {
		select {
		case n, ok := <-r.notifs:
			if !ok {
				return
			}
			r.metrics.Counter(MetricNotificationsTotal).Inc()
			_ = n
		case <-r.stopCh:
			return
		}
	}
}

// Close stops the reporter's consumer goroutines.
func (r *Reporter) Close() {
	close(r.stopCh)
	r.wg.Wait()
}

func requestToRecord(rq *Request) tsfile.Record {
	var stepID uint32
	var queueLength int32
	if rq.Step != nil {
		stepID = uint32(rq.Step.ID)
		queueLength = int32(rq.Step.Count)
	}

	var params []byte
	if b, ok := rq.Params.([]byte); ok {
		params = b
	}

	return tsfile.Record{
		Step:         stepID,
		Request:      uint32(rq.ID),
		ChainRequest: -1,
		Thread:       uint32(rq.WorkerID),
		User:         uint32(rq.UserID),
		SchedTime:    rq.SchedTime,
		StartTime:    rq.StartTime,
		EndTime:      rq.EndTime,
		QueueLength:  queueLength,
		Flags:        uint16(rq.Flags),
		Params:       params,
	}
}
