package cmd

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bandrt/bandrt/internal/bjob"
	"github.com/bandrt/bandrt/internal/config"
	"github.com/bandrt/bandrt/internal/demobackend"
	"github.com/bandrt/bandrt/internal/engine"
	"github.com/bandrt/bandrt/internal/ids"
	"github.com/bandrt/bandrt/internal/latency"
	"github.com/bandrt/bandrt/internal/modelspec"
	"github.com/bandrt/bandrt/internal/planner"
	"github.com/bandrt/bandrt/internal/resource"
	"github.com/bandrt/bandrt/internal/scheduler"
	"github.com/bandrt/bandrt/internal/trace"
	"github.com/bandrt/bandrt/internal/worker"
)

var (
	benchConfigPath string
	benchNumJobs    int
	benchLogLevel   string
	benchRate       float64
	benchSeed       int64
	benchHorizonUs  int64
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Wire up the scheduler core against a synthetic backend and run a batch of jobs",
	RunE:  runBench,
}

func init() {
	benchCmd.Flags().StringVar(&benchConfigPath, "config", "", "path to the scheduler YAML configuration (required)")
	benchCmd.Flags().IntVar(&benchNumJobs, "requests", 20, "maximum number of synthetic jobs to submit")
	benchCmd.Flags().StringVar(&benchLogLevel, "log", "info", "log level (debug, info, warn, error)")
	benchCmd.Flags().Float64Var(&benchRate, "rate", 0.0001, "Poisson arrival rate (requests per microsecond)")
	benchCmd.Flags().Int64Var(&benchSeed, "seed", 1, "seed for the arrival-time RNG (reproducible runs)")
	benchCmd.Flags().Int64Var(&benchHorizonUs, "horizon", 2_000_000, "arrival horizon in microseconds")
	benchCmd.MarkFlagRequired("config")
}

const demoNumUnits = 3
const demoModelID ids.ModelId = 0

func runBench(_ *cobra.Command, _ []string) error {
	level, err := logrus.ParseLevel(benchLogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", benchLogLevel, err)
	}
	logrus.SetLevel(level)

	cfg, err := config.Load(benchConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	workerDevices := make(map[ids.WorkerId]ids.DeviceFlag, len(cfg.Workers))
	for _, wc := range cfg.Workers {
		workerDevices[wc.ID] = wc.Device
	}
	perDeviceUs := map[ids.DeviceFlag]float64{
		ids.CPU: 5000,
		ids.GPU: 1000,
		ids.DSP: 1500,
		ids.NPU: 800,
	}
	backend := demobackend.New(demoNumUnits, workerDevices, perDeviceUs)

	estimator := latency.New(latency.Config{
		Alpha:                     cfg.Latency.SmoothingFactor,
		NumWarmups:                cfg.Latency.NumWarmups,
		NumRuns:                   cfg.Latency.NumRuns,
		AvailabilityCheckInterval: cfg.Latency.AvailabilityCheckInterval,
	}, backend, map[ids.WorkerId]latency.PauseGate{})

	eng := engine.New(backend, backend, estimator)

	desc, err := backend.InvestigateModelSpec(demoModelID)
	if err != nil {
		return fmt.Errorf("investigate model spec: %w", err)
	}
	ms, err := modelspec.Build(desc)
	if err != nil {
		return fmt.Errorf("build model spec: %w", err)
	}
	eng.RegisterModel(demoModelID, ms)

	workers := make([]*worker.Worker, 0, len(cfg.Workers))
	for _, wc := range cfg.Workers {
		mode := worker.DeviceQueueMode
		if wc.GlobalQueue {
			mode = worker.GlobalQueueMode
		}
		w := worker.New(worker.Config{
			ID:         wc.ID,
			Device:     wc.Device,
			Mode:       mode,
			NumThreads: wc.NumThreads,
			CPUMask:    wc.CPUMask,
		}, eng)
		eng.RegisterWorker(w)
		estimator.RegisterWorker(w.ID(), w)
		workers = append(workers, w)
	}

	policies := make([]scheduler.Policy, 0, len(cfg.Planner.SchedulerKinds))
	topologies := make([]scheduler.QueueTopology, 0, len(cfg.Planner.SchedulerKinds))
	for _, kind := range cfg.Planner.SchedulerKinds {
		p, err := scheduler.New(kind, scheduler.Config{ScheduleWindowSize: cfg.Planner.ScheduleWindowSize})
		if err != nil {
			return fmt.Errorf("build scheduler policy %q: %w", kind, err)
		}
		policies = append(policies, p)
		topologies = append(topologies, kind.Topology())
	}

	pl, err := planner.New(planner.Config{
		Policies:   policies,
		Topologies: topologies,
		CPUMask:    cfg.Planner.CPUMask,
	})
	if err != nil {
		return fmt.Errorf("build planner: %w", err)
	}
	eng.SetPlanner(pl)
	pl.SetEngineView(eng)

	if cfg.TraceEnabled {
		eng.SetTracer(trace.NewRecorder(true))
	}

	if resource.Available() {
		mon := resource.New(resource.Config{IntervalMs: int64(cfg.ResourceMonitor.IntervalMs), LogPath: cfg.ResourceMonitor.LogPath})
		if err := mon.Start(); err != nil {
			logrus.WithError(err).Warn("resource monitor unavailable, continuing without it")
		} else {
			defer mon.Stop()
		}
	}

	for _, w := range workers {
		w.Start()
	}
	pl.Run()
	defer func() {
		for _, w := range workers {
			w.Stop()
		}
		pl.Stop()
	}()

	rng := newPartitionedRNG(simulationKey(benchSeed))
	iats := poissonArrivals(rng.forSubsystem(subsystemWorkload), benchRate, benchHorizonUs, benchNumJobs)
	logrus.Infof("bench: seed=%d rate=%.6f/us horizon=%dus -> %d arrivals", benchSeed, benchRate, benchHorizonUs, len(iats))

	start := time.Now()
	jobIDs := make([]ids.JobId, 0, len(iats))
	for _, iat := range iats {
		time.Sleep(time.Duration(iat) * time.Microsecond)
		job := bjob.New(demoModelID)
		jobIDs = append(jobIDs, pl.EnqueueRequest(job, false))
	}
	pl.WaitAll()
	elapsed := time.Since(start)

	logrus.Infof("bench: submitted %d jobs across %d workers in %s", len(jobIDs), len(workers), elapsed)
	for _, w := range workers {
		stats := w.StatsSnapshot()
		logrus.Infof("worker %d (%s): %d jobs, %dus busy", w.ID(), w.DeviceFlag(), stats.JobsProcessed, stats.BusyTimeUs)
	}
	return nil
}
