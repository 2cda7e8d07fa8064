package tsload

import (
	"context"
	"os"
	"time"

	"github.com/myaut/tsload/tsfile"
	"github.com/zoobzio/clockz"
)

// WorkloadConfig describes a workload at creation time (spec.md §6). Pool may
// be empty for a workload that only ever receives requests via another
// workload's ChainTo.
type WorkloadConfig struct {
	Name       Name
	Type       Name
	ThreadPool Name
	Deadline   time.Duration
	Scheduler  Scheduler
	Params     map[string]any
	ParamGens  []ParamGen

	// RecordPath and RecordSchema, if set, open (or create) a tsfile at
	// RecordPath and register it with the engine's reporter so every
	// finished request for this workload is persisted.
	RecordPath   string
	RecordSchema tsfile.Schema
}

// EngineConfig configures process-wide engine behavior (spec.md §6).
type EngineConfig struct {
	Clock               clockz.Clock
	MinSleep            time.Duration
	NotificationsPerSec int
	CollectorInterval   time.Duration
	ConfigureTimeout    time.Duration
}

// Engine is the façade that owns every name registry the runtime needs:
// workloads, threadpools, and workload types, layered over the process-wide
// reporter and clock (spec.md §6). It is the only type a driver program needs
// to import from this package for ordinary use.
type Engine struct {
	clock    *Clock
	reporter *Reporter

	configureTimeout time.Duration

	threadpools   *registry[*ThreadPool]
	workloads     *registry[*Workload]
	workloadTypes *registry[*WorkloadType]

	recordFiles *registry[*tsfile.File]

	collectorStop chan struct{}
}

// NewEngine constructs an Engine with real time and default tunables. Use
// NewEngineWithConfig to substitute a fake clock in tests or override
// defaults.
func NewEngine() *Engine {
	return NewEngineWithConfig(EngineConfig{})
}

// NewEngineWithConfig constructs an Engine per cfg, defaulting zero-valued
// fields to the package's Default* tunables.
func NewEngineWithConfig(cfg EngineConfig) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clockz.RealClock
	}
	if cfg.MinSleep <= 0 {
		cfg.MinSleep = DefaultMinSleep
	}
	if cfg.CollectorInterval <= 0 {
		cfg.CollectorInterval = DefaultCollectorInterval
	}
	if cfg.ConfigureTimeout <= 0 {
		cfg.ConfigureTimeout = 30 * time.Second
	}

	clk := NewClock(cfg.Clock, cfg.MinSleep)
	e := &Engine{
		clock:            clk,
		reporter:         NewReporter(clk, cfg.NotificationsPerSec),
		configureTimeout: cfg.ConfigureTimeout,
		threadpools:      newRegistry[*ThreadPool](),
		workloads:        newRegistry[*Workload](),
		workloadTypes:    newRegistry[*WorkloadType](),
		recordFiles:      newRegistry[*tsfile.File](),
		collectorStop:    make(chan struct{}),
	}
	go e.collectorLoop(cfg.CollectorInterval)
	return e
}

// Clock returns the engine's shared time source.
func (e *Engine) Clock() *Clock { return e.clock }

// Reporter returns the engine's shared reporter.
func (e *Engine) Reporter() *Reporter { return e.reporter }

// RegisterWorkloadType makes wt creatable by name via CreateWorkload.
func (e *Engine) RegisterWorkloadType(wt *WorkloadType) error {
	if wt.Name == "" {
		return newErr(ErrInvalidValue, "RegisterWorkloadType", "", "workload type must have a name")
	}
	return e.workloadTypes.insert("RegisterWorkloadType", wt.Name, wt)
}

// CreateThreadPool registers and starts a new threadpool (spec.md §4.7, §6).
func (e *Engine) CreateThreadPool(cfg ThreadPoolConfig) (*ThreadPool, error) {
	tp, err := NewThreadPool(cfg, e.clock, e.reporter)
	if err != nil {
		return nil, err
	}
	if err := e.threadpools.insert("CreateThreadPool", cfg.Name, tp); err != nil {
		_ = tp.Destroy()
		return nil, err
	}
	tp.Run()
	return tp, nil
}

// CreateWorkload looks up cfg.Type and cfg.ThreadPool, constructs and
// configures a Workload, and registers it by cfg.Name (spec.md §4.5, §6).
// Configuration runs synchronously from the caller's point of view, bounded
// by the engine's ConfigureTimeout.
func (e *Engine) CreateWorkload(cfg WorkloadConfig) (*Workload, error) {
	wt, err := e.workloadTypes.get("CreateWorkload", cfg.Type)
	if err != nil {
		return nil, err
	}

	var tp *ThreadPool
	if cfg.ThreadPool != "" {
		tp, err = e.threadpools.get("CreateWorkload", cfg.ThreadPool)
		if err != nil {
			return nil, err
		}
	}

	sched := cfg.Scheduler
	if sched == nil {
		sched = &SimpleScheduler{Quantum: DefaultMinQuantum}
	}

	wl := NewWorkload(cfg.Name, wt, tp, cfg.Deadline, sched, e.clock)
	wl.SetParamGens(cfg.ParamGens)

	ctx, cancel := context.WithTimeout(context.Background(), e.configureTimeout)
	defer cancel()
	if err := wl.Configure(ctx, cfg.Params); err != nil {
		return nil, err
	}

	if err := e.workloads.insert("CreateWorkload", cfg.Name, wl); err != nil {
		_ = wl.Destroy()
		return nil, err
	}
	if tp != nil {
		tp.Attach(wl)
	}

	if cfg.RecordPath != "" {
		if err := e.openRecordFile(cfg.Name, cfg.RecordPath, cfg.RecordSchema); err != nil {
			return nil, err
		}
	}
	return wl, nil
}

func (e *Engine) openRecordFile(name Name, path string, schema tsfile.Schema) error {
	var f *tsfile.File
	var err error
	if _, statErr := os.Stat(path); statErr == nil {
		f, err = tsfile.Open(path, schema)
	} else {
		f, err = tsfile.Create(path, schema)
	}
	if err != nil {
		return newErr(ErrInvalidValue, "CreateWorkload", name, "opening record file: "+err.Error())
	}
	if err := e.recordFiles.insert("CreateWorkload", name, f); err != nil {
		f.Close()
		return err
	}
	e.reporter.RegisterFile(name, f)
	return nil
}

// ProvideStep enqueues arrival work for a registered workload (spec.md §4.5, §6).
func (e *Engine) ProvideStep(name Name, stepID int64, cfg StepConfig) (*Step, error) {
	wl, err := e.workloads.get("ProvideStep", name)
	if err != nil {
		return nil, err
	}
	return wl.ProvideStep(context.Background(), stepID, cfg)
}

// StartWorkload schedules a registered workload to begin at startAt
// (spec.md §4.5, §6).
func (e *Engine) StartWorkload(name Name, startAt time.Time) error {
	wl, err := e.workloads.get("StartWorkload", name)
	if err != nil {
		return err
	}
	return wl.Start(startAt)
}

// StopWorkload stops a registered workload (see Workload.Stop): steps queued
// ahead of the current one are not advanced and its status becomes STOPPED.
func (e *Engine) StopWorkload(name Name) error {
	wl, err := e.workloads.get("StopWorkload", name)
	if err != nil {
		return err
	}
	return wl.Stop()
}

// DestroyWorkload drops the engine's reference to a registered workload
// (Workload.Destroy tears it down once no threadpool still holds it) and
// removes it from the registry right away, closing its record file if any
// (spec.md §4.5, §6).
func (e *Engine) DestroyWorkload(name Name) error {
	wl, err := e.workloads.get("DestroyWorkload", name)
	if err != nil {
		return err
	}
	if err := wl.Destroy(); err != nil {
		return err
	}
	e.workloads.remove(name)
	if f, ferr := e.recordFiles.get("DestroyWorkload", name); ferr == nil {
		f.Close()
		e.recordFiles.remove(name)
	}
	return nil
}

// DestroyThreadPool marks a registered threadpool dead; the background
// collector removes it from the registry once fully drained (spec.md §4.7, §6).
func (e *Engine) DestroyThreadPool(name Name) error {
	tp, err := e.threadpools.get("DestroyThreadPool", name)
	if err != nil {
		return err
	}
	return tp.Destroy()
}

// collectorLoop periodically reclaims threadpools that have been destroyed
// and fully drained, per api.go's DefaultCollectorInterval (spec.md §4.7).
func (e *Engine) collectorLoop(interval time.Duration) {
	for {
		select {
		case <-e.collectorStop:
			return
		case <-e.clock.Backing().After(interval):
			for _, name := range e.threadpools.names() {
				tp, err := e.threadpools.get("collector", name)
				if err != nil {
					continue
				}
				if tp.ReadyForCollection() {
					e.threadpools.remove(name)
				}
			}
		}
	}
}

// Shutdown tears down every registry in reverse dependency order — workloads
// before threadpools, threadpools before the reporter — and stops the
// background collector (spec.md §6).
func (e *Engine) Shutdown() error {
	close(e.collectorStop)

	for _, name := range e.workloads.names() {
		_ = e.DestroyWorkload(name)
	}
	for _, name := range e.threadpools.names() {
		_ = e.DestroyThreadPool(name)
	}
	for _, f := range e.recordFiles.all() {
		f.Close()
	}
	e.reporter.Close()
	return nil
}
