// Command tsloadgen is a minimal, illustrative front-end for the tsload
// engine. The real experiment directory layout, run-id allocation, host
// topology discovery, and module loader are all explicitly out of scope for
// the core (spec.md §1) — this binary exists only to exercise the engine
// end to end with a trivial built-in workload module, the way a real driver
// would wire a loaded module's callbacks in.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/myaut/tsload"
	"github.com/myaut/tsload/tsfile"
	"github.com/myaut/tsload/tsrand"
)

// fileConfig is the already-validated configuration shape the front-end
// hands to the core (spec.md §6). A real front-end would parse this from
// the experiment directory's JSON; YAML is used here only because it's the
// format the retrieval pack's other CLI example decodes with.
type fileConfig struct {
	ThreadPool struct {
		Name       string        `yaml:"name"`
		NumWorkers int           `yaml:"num_workers"`
		Quantum    time.Duration `yaml:"quantum"`
		Discard    bool          `yaml:"discard"`
		Dispatcher string        `yaml:"dispatcher"`
	} `yaml:"threadpool"`

	Workload struct {
		Name      string          `yaml:"name"`
		Deadline  time.Duration   `yaml:"deadline"`
		Params    map[string]any  `yaml:"params"`
		Scheduler schedulerConfig `yaml:"scheduler"`
		Record    string          `yaml:"record"`
	} `yaml:"workload"`

	Steps []struct {
		ID    int64 `yaml:"id"`
		Count int   `yaml:"count"`
	} `yaml:"steps"`

	StartDelay time.Duration `yaml:"start_delay"`
}

type schedulerConfig struct {
	Type  string        `yaml:"type"`
	Rate  float64       `yaml:"rate"`
	Scope float64       `yaml:"scope"`
	Users int           `yaml:"users"`
	Mean  time.Duration `yaml:"mean"`
}

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:   "tsloadgen",
		Short: "Drive the tsload engine against a built-in busy-wait workload module",
		Long: `tsloadgen loads a YAML experiment description, wires a threadpool and a
single workload to the tsload engine, runs its steps to completion, and
prints the workload's final status and, when a record file is configured,
the path the requests were persisted to.

It is a demonstration consumer of the engine core, not part of it: the
experiment directory layout, run-id allocation, and module loader that a
production front-end provides are all out of scope here.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfgPath)
		},
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", "", "path to experiment YAML config (required)")
	root.MarkFlagRequired("config")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tsloadgen:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	eng := tsload.NewEngine()
	defer eng.Shutdown()

	tsload.SetErrorHook(func(code tsload.ErrorCode, msg string) {
		fmt.Fprintf(os.Stderr, "tsloadgen: [%s] %s\n", code, msg)
	})

	if err := eng.RegisterWorkloadType(busyWaitType()); err != nil {
		return fmt.Errorf("registering workload type: %w", err)
	}

	tp, err := eng.CreateThreadPool(tsload.ThreadPoolConfig{
		Name:       cfg.ThreadPool.Name,
		NumWorkers: cfg.ThreadPool.NumWorkers,
		Quantum:    cfg.ThreadPool.Quantum,
		Discard:    cfg.ThreadPool.Discard,
		Dispatcher: dispatcherFromName(cfg.ThreadPool.Dispatcher),
	})
	if err != nil {
		return fmt.Errorf("creating threadpool: %w", err)
	}

	sched, err := schedulerFromConfig(cfg.Workload.Scheduler, tp.Quantum)
	if err != nil {
		return fmt.Errorf("building scheduler: %w", err)
	}

	wlCfg := tsload.WorkloadConfig{
		Name:       cfg.Workload.Name,
		Type:       "busy_wait",
		ThreadPool: cfg.ThreadPool.Name,
		Deadline:   cfg.Workload.Deadline,
		Scheduler:  sched,
		Params:     cfg.Workload.Params,
	}
	if cfg.Workload.Record != "" {
		wlCfg.RecordPath = cfg.Workload.Record
		wlCfg.RecordSchema = tsfile.Schema{EntrySize: tsfile.RecordHeaderSize}
	}

	wl, err := eng.CreateWorkload(wlCfg)
	if err != nil {
		return fmt.Errorf("creating workload: %w", err)
	}

	for _, step := range cfg.Steps {
		if _, err := eng.ProvideStep(cfg.Workload.Name, step.ID, tsload.StepConfig{Count: step.Count}); err != nil {
			return fmt.Errorf("providing step %d: %w", step.ID, err)
		}
	}
	if err := eng.StartWorkload(cfg.Workload.Name, time.Now().Add(cfg.StartDelay)); err != nil {
		return fmt.Errorf("starting workload: %w", err)
	}

	deadline := time.Now().Add(2 * time.Minute)
	for wl.Status() != tsload.StatusFinished && wl.Status() != tsload.StatusStopped {
		if time.Now().After(deadline) {
			return fmt.Errorf("workload %s did not finish within 2m", cfg.Workload.Name)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	fmt.Printf("workload %q finished with status %s\n", cfg.Workload.Name, wl.Status())
	if cfg.Workload.Record != "" {
		fmt.Printf("recorded requests persisted to %s\n", cfg.Workload.Record)
	}
	return nil
}

func dispatcherFromName(name string) tsload.Dispatcher {
	switch name {
	case "random":
		return tsload.NewRandomDispatcher()
	case "user":
		return tsload.NewUserDispatcher()
	case "trace":
		return tsload.NewTraceDispatcher()
	case "first-free":
		return tsload.NewFirstFreeDispatcher()
	case "round-robin", "":
		return tsload.NewRoundRobinDispatcher()
	default:
		return tsload.NewRoundRobinDispatcher()
	}
}

func schedulerFromConfig(c schedulerConfig, quantum time.Duration) (tsload.Scheduler, error) {
	switch c.Type {
	case "", "simple":
		return &tsload.SimpleScheduler{Quantum: quantum}, nil
	case "iat":
		gen, err := tsrand.NewGenerator("libc", rand.Int63())
		if err != nil {
			return nil, err
		}
		rate := c.Rate
		if rate <= 0 {
			rate = 1
		}
		variate, err := tsrand.NewVariate("exponential", map[string]float64{"rate": rate})
		if err != nil {
			return nil, err
		}
		return &tsload.IATScheduler{
			Gen:     gen,
			Variate: variate,
			Mean:    time.Duration(float64(time.Second) / rate),
			Scope:   c.Scope,
		}, nil
	case "think":
		gen, err := tsrand.NewGenerator("libc", rand.Int63())
		if err != nil {
			return nil, err
		}
		mean := c.Mean
		if mean <= 0 {
			mean = time.Second
		}
		variate, err := tsrand.NewVariate("exponential", map[string]float64{"rate": float64(time.Second) / float64(mean)})
		if err != nil {
			return nil, err
		}
		return &tsload.ThinkScheduler{
			Gen:      gen,
			Variate:  variate,
			NumUsers: c.Users,
			Quantum:  quantum,
		}, nil
	default:
		return nil, fmt.Errorf("unknown scheduler type %q", c.Type)
	}
}

// busyWaitType is a minimal stand-in for an out-of-scope loaded workload
// module: its run_request callback just sleeps for a configured delay,
// analogous to the original tree's mod/load/simpleio test module. The
// engine only ever hands a module its own *Workload back on RunRequest, so
// the module keeps its own name-keyed config state exactly as a real loaded
// module would.
func busyWaitType() *tsload.WorkloadType {
	delays := make(map[string]time.Duration)
	return &tsload.WorkloadType{
		Name: "busy_wait",
		Config: func(ctx context.Context, wl *tsload.Workload, params map[string]any) error {
			var delay time.Duration
			switch v := params["delay"].(type) {
			case time.Duration:
				delay = v
			case string:
				parsed, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("invalid delay %q: %w", v, err)
				}
				delay = parsed
			}
			delays[wl.Name] = delay
			return nil
		},
		Unconfig: func(wl *tsload.Workload) {
			delete(delays, wl.Name)
		},
		RunRequest: func(ctx context.Context, rq *tsload.Request) (bool, error) {
			if delay := delays[rq.Step.Workload.Name]; delay > 0 {
				time.Sleep(delay)
			}
			return true, nil
		},
	}
}
