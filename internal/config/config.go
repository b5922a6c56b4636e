// Package config parses the YAML configuration surface spec.md §6
// enumerates: planner tunables, per-worker device/affinity/queue settings,
// the latency estimator's profiling knobs, and the resource monitor's
// sampling paths. Parsing is strict (unknown fields are a load error), the
// same discipline the teacher's cmd package applies to defaults.yaml.
package config

import (
	"bytes"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bandrt/bandrt/internal/banderr"
	"github.com/bandrt/bandrt/internal/ids"
	"github.com/bandrt/bandrt/internal/scheduler"
)

// FallbackPolicy names what the engine does when a unit subgraph has no
// materialized backend subgraph large enough to satisfy
// MinimumSubgraphSize (spec.md §6).
type FallbackPolicy string

const (
	FallbackNone      FallbackPolicy = "none"
	FallbackPerWorker FallbackPolicy = "per-worker"
	FallbackUnit      FallbackPolicy = "unit"
	FallbackMergeUnit FallbackPolicy = "merge-unit"
)

// WorkerConfig describes one worker's static binding.
type WorkerConfig struct {
	ID         ids.WorkerId   `yaml:"id"`
	Device     ids.DeviceFlag `yaml:"device"`
	CPUMask    []int          `yaml:"cpu_mask"`
	NumThreads int            `yaml:"num_threads"`
	GlobalQueue bool          `yaml:"global_queue"`
}

// PlannerConfig groups planner-thread tunables.
type PlannerConfig struct {
	ScheduleWindowSize int            `yaml:"schedule_window_size"`
	CPUMask            []int          `yaml:"cpu_mask"`
	SchedulerKinds     []scheduler.Kind `yaml:"scheduler_kinds"`
}

// LatencyConfig groups the latency estimator's tunables.
type LatencyConfig struct {
	ProfilePath               string        `yaml:"profile_path"`
	Online                    bool          `yaml:"online"`
	NumWarmups                int           `yaml:"num_warmups"`
	NumRuns                   int           `yaml:"num_runs"`
	SmoothingFactor           float64       `yaml:"smoothing_factor"`
	AvailabilityCheckInterval time.Duration `yaml:"availability_check_interval"`
}

// ResourceMonitorConfig groups resource-monitor sampling tunables.
type ResourceMonitorConfig struct {
	IntervalMs    int               `yaml:"interval_ms"`
	LogPath       string            `yaml:"log_path"`
	DevFreqPaths  map[string]string `yaml:"dev_freq_paths"`
}

// Config is the full, strictly-parsed configuration surface (spec.md §6).
type Config struct {
	Planner          PlannerConfig         `yaml:"planner"`
	Workers          []WorkerConfig        `yaml:"workers"`
	Latency          LatencyConfig         `yaml:"latency"`
	ResourceMonitor  ResourceMonitorConfig `yaml:"resource_monitor"`
	MinSubgraphSize  int                   `yaml:"min_subgraph_size"`
	Fallback         FallbackPolicy        `yaml:"fallback_policy"`
	TraceEnabled     bool                  `yaml:"trace_enabled"`
	TracePath        string                `yaml:"trace_path"`
}

// Load reads and strictly parses path, failing on unknown fields the way
// the teacher's defaults.yaml loader does (R10-style typo safety).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, banderr.New("config.Load", banderr.InvalidArgument, err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, banderr.New("config.Load", banderr.InvalidArgument, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the cross-field invariants spec.md §6/§4.D require before
// the config is used to wire up the scheduler core.
func (c *Config) Validate() error {
	if len(c.Planner.SchedulerKinds) == 0 {
		return banderr.New("config.Validate", banderr.InvalidArgument, errNoSchedulerKinds)
	}
	if len(c.Planner.SchedulerKinds) > 2 {
		return banderr.New("config.Validate", banderr.InvalidArgument, errTooManySchedulerKinds)
	}
	if len(c.Workers) == 0 {
		return banderr.New("config.Validate", banderr.InvalidArgument, errNoWorkers)
	}
	seen := make(map[ids.WorkerId]bool, len(c.Workers))
	for _, w := range c.Workers {
		if seen[w.ID] {
			return banderr.Newf("config.Validate", banderr.InvalidArgument, "duplicate worker id %d", w.ID)
		}
		seen[w.ID] = true
	}
	return nil
}

var (
	errNoSchedulerKinds      = simpleErr("planner.scheduler_kinds must list at least one scheduler kind")
	errTooManySchedulerKinds = simpleErr("planner.scheduler_kinds supports at most two coexisting policies")
	errNoWorkers             = simpleErr("workers must list at least one worker")
)

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
