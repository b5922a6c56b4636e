// Package worker implements the per-worker execution engine (spec.md §4.C,
// Component D): one OS thread per device, a private job queue (FIFO for
// device-queue workers, single-slot for global-queue workers), and the
// pause/throttle gate the latency estimator and backend device errors both
// drive.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/bandrt/bandrt/internal/affinity"
	"github.com/bandrt/bandrt/internal/bjob"
	"github.com/bandrt/bandrt/internal/ids"
	"github.com/bandrt/bandrt/internal/modelspec"
)

// QueueMode selects the worker's queue discipline.
type QueueMode int

const (
	DeviceQueueMode QueueMode = iota
	GlobalQueueMode
)

// InvokeOutcome classifies a backend Invoke result per spec.md §7.
type InvokeOutcome int

const (
	InvokeOK InvokeOutcome = iota
	InvokeDeviceError
	InvokeFatal
)

// InvokeResult is what the Engine facade's Invoke returns to a Worker.
type InvokeResult struct {
	Outcome InvokeOutcome
	Err     error
}

// Engine is the narrow slice of the engine facade (spec.md §4.F) a Worker
// calls into. The concrete internal/engine.Engine implements it.
type Engine interface {
	CopyInputTensors(job *bjob.Job) error
	CopyOutputTensors(job *bjob.Job) error
	Invoke(ctx context.Context, key modelspec.SubgraphKey) InvokeResult
	ExpectedLatency(key modelspec.SubgraphKey) float64
	EnqueueFinishedJob(job *bjob.Job)
	// UpdateLatency pushes an observed (end - invoke) duration into the
	// latency estimator's moving average for key.
	UpdateLatency(key modelspec.SubgraphKey, observedUs float64)
	// Reenqueue pushes jobs to the front of the planner's request queue,
	// used for device-error retries and for residual continuations.
	Reenqueue(jobs []*bjob.Job)
	// Trigger wakes the planner thread to re-run scheduling.
	Trigger()
	// ProbeDevice reports whether the backend device has recovered after a
	// DeviceError; used by waitUntilDeviceAvailable.
	ProbeDevice(device ids.DeviceFlag) error
}

// Stats is a point-in-time snapshot of a worker's lifetime counters,
// surfaced by the benchmark harness summary table.
type Stats struct {
	JobsProcessed int64
	BusyTimeUs    int64
}

// Config groups a worker's static configuration (spec.md §6).
type Config struct {
	ID         ids.WorkerId
	Device     ids.DeviceFlag
	Mode       QueueMode
	NumThreads int
	CPUMask    []int

	AvailabilityCheckInterval time.Duration
}

// Worker owns one device. Shared state (paused, throttling, kill, the job
// container) is protected by mu; one condition variable signals "work
// available", a second signals "wait until idle" (spec.md §4.C).
type Worker struct {
	id     ids.WorkerId
	device ids.DeviceFlag
	mode   QueueMode
	engine Engine

	numThreads int
	cpuMask    []int

	availabilityCheckInterval time.Duration
	breaker                   *gobreaker.CircuitBreaker

	mu         sync.Mutex
	workCond   *sync.Cond
	idleCond   *sync.Cond
	queue      jobQueue
	paused     bool
	throttling bool
	kill       bool
	busy       bool

	invokeStartUs int64 // wall-clock start of the in-flight job, microseconds

	affinityDirty bool

	stats Stats

	now     func() int64 // microsecond clock; overridable for tests
	doneCh  chan struct{}
	started bool

	log *logrus.Entry
}

// New constructs a Worker bound to engine. It does not start its thread
// until Start is called.
func New(cfg Config, engine Engine) *Worker {
	var q jobQueue
	switch cfg.Mode {
	case GlobalQueueMode:
		q = &singleSlotQueue{}
	default:
		q = &fifoQueue{}
	}
	interval := cfg.AvailabilityCheckInterval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	w := &Worker{
		id:                        cfg.ID,
		device:                    cfg.Device,
		mode:                      cfg.Mode,
		engine:                    engine,
		numThreads:                cfg.NumThreads,
		cpuMask:                   append([]int(nil), cfg.CPUMask...),
		availabilityCheckInterval: interval,
		queue:                     q,
		now:                       func() int64 { return time.Now().UnixMicro() },
		doneCh:                    make(chan struct{}),
		log:                       logrus.WithFields(logrus.Fields{"component": "worker", "worker_id": cfg.ID, "device": cfg.Device}),
	}
	w.workCond = sync.NewCond(&w.mu)
	w.idleCond = sync.NewCond(&w.mu)
	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "worker-device",
		MaxRequests: 1,
		Timeout:     interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures > 0 },
	})
	return w
}

// ID returns the worker's id.
func (w *Worker) ID() ids.WorkerId { return w.id }

// DeviceFlag returns the worker's bound device.
func (w *Worker) DeviceFlag() ids.DeviceFlag { return w.device }

// CPUAffinity returns the worker's configured CPU mask, used by the latency
// estimator to pin isolated profiling threads.
func (w *Worker) CPUAffinity() []int { return append([]int(nil), w.cpuMask...) }

// Start spawns the worker's private thread.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.loop()
}

// Stop signals the worker thread to exit and waits for it to do so.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.kill = true
	w.workCond.Broadcast()
	w.mu.Unlock()
	<-w.doneCh
}

// Pause sets the paused flag; the worker thread will not dequeue new work
// until Resume is called. A job already in flight runs to completion.
func (w *Worker) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}

// Resume clears the paused flag and wakes the worker thread.
func (w *Worker) Resume() {
	w.mu.Lock()
	w.paused = false
	w.workCond.Broadcast()
	w.mu.Unlock()
}

// SetAffinity requests a thread-count/CPU-mask update, applied by the
// worker thread itself at the top of its next loop iteration.
func (w *Worker) SetAffinity(numThreads int, cpuMask []int) {
	w.mu.Lock()
	w.numThreads = numThreads
	w.cpuMask = append([]int(nil), cpuMask...)
	w.affinityDirty = true
	w.mu.Unlock()
}

// Enqueue adds job to the worker's local queue and wakes the thread.
// IsEnqueueReady should be checked by the caller (scheduler/planner) first;
// Enqueue itself does not reject jobs based on readiness.
func (w *Worker) Enqueue(job *bjob.Job, front bool) {
	w.mu.Lock()
	w.queue.push(job, front)
	w.workCond.Broadcast()
	w.mu.Unlock()
}

// IsAvailable reports whether the worker is neither paused nor throttling.
func (w *Worker) IsAvailable() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.paused && !w.throttling
}

// IsEnqueueReady reports whether the worker can accept a new job right now:
// for a device-queue worker this is IsAvailable; for a global-queue worker
// it additionally requires the single slot be empty (spec.md §4.C).
func (w *Worker) IsEnqueueReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.paused && !w.throttling && w.queue.readyToEnqueue()
}

// HasJob reports whether the worker's local queue is non-empty.
func (w *Worker) HasJob() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.queue.len() > 0
}

// GetCurrentJob returns the queue head (device-queue) or the single
// in-flight job (global-queue), or nil.
func (w *Worker) GetCurrentJob() *bjob.Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.queue.peek()
}

const unavailableWaitSentinel = 1 << 40 // microseconds; ~12.7 days, unmistakably "don't pick me"

// GetWaitingTime estimates microseconds until the worker can start new
// work, per spec.md §4.C's per-variant formula. Returns a large sentinel
// when the worker is unavailable.
func (w *Worker) GetWaitingTime() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paused || w.throttling {
		return unavailableWaitSentinel
	}

	switch w.mode {
	case GlobalQueueMode:
		job := w.queue.peek()
		if job == nil {
			return 0
		}
		elapsed := float64(w.now() - w.invokeStartUs)
		remaining := w.engine.ExpectedLatency(job.SubgraphKey) - elapsed
		if remaining < 0 {
			remaining = 0
		}
		return remaining
	default: // DeviceQueueMode
		jobs := w.queue.all()
		if len(jobs) == 0 {
			return 0
		}
		var total float64
		for _, j := range jobs {
			total += w.engine.ExpectedLatency(j.SubgraphKey)
		}
		elapsedOnHead := float64(w.now() - w.invokeStartUs)
		if elapsedOnHead < 0 {
			elapsedOnHead = 0
		}
		return total - elapsedOnHead
	}
}

// StatsSnapshot returns a copy of the worker's lifetime counters.
func (w *Worker) StatsSnapshot() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// loop is the worker's private thread body: it waits on workCond until
// (kill ∨ HasJob) ∧ ¬paused, then runs the five-step dispatch sequence from
// spec.md §4.C.
func (w *Worker) loop() {
	defer close(w.doneCh)
	for {
		w.mu.Lock()
		// Mirrors the original Band worker's wait predicate exactly,
		// including its known quirk: a kill signal does not wake a paused
		// worker (pause must be lifted before shutdown can proceed).
		for !((w.kill || w.queue.len() > 0) && !w.paused) {
			w.workCond.Wait()
		}
		if w.kill {
			w.mu.Unlock()
			return
		}
		if w.affinityDirty {
			w.affinityDirty = false
			numThreads, cpuMask := w.numThreads, append([]int(nil), w.cpuMask...)
			w.mu.Unlock()
			w.applyAffinity(numThreads, cpuMask)
			w.mu.Lock()
		}
		job := w.queue.peek()
		w.busy = true
		w.mu.Unlock()

		w.runOne(job)

		w.mu.Lock()
		w.busy = false
		w.idleCond.Broadcast()
		w.mu.Unlock()

		w.engine.Trigger()
	}
}

func (w *Worker) applyAffinity(numThreads int, cpuMask []int) {
	_ = numThreads // thread-count is a backend invocation parameter; affinity is what we can enforce here
	if err := affinity.Pin(cpuMask); err != nil {
		w.log.WithError(err).Warn("failed to apply CPU affinity, continuing unpinned")
	}
}

// runOne executes steps 2-5 of the worker dispatch sequence for job.
func (w *Worker) runOne(job *bjob.Job) {
	if err := w.engine.CopyInputTensors(job); err != nil {
		job.Status = bjob.InputCopyFailure
		w.popCurrent()
		w.engine.EnqueueFinishedJob(job)
		return
	}

	w.mu.Lock()
	job.InvokeTime = w.now()
	w.invokeStartUs = job.InvokeTime
	w.mu.Unlock()

	result := w.engine.Invoke(context.Background(), job.SubgraphKey)
	switch result.Outcome {
	case InvokeDeviceError:
		w.handleDeviceError(job)
		return
	case InvokeFatal:
		job.Status = bjob.InvokeFailure
		w.popCurrent()
		w.engine.EnqueueFinishedJob(job)
		return
	}

	job.EndTime = w.now()
	observed := float64(job.EndTime - job.InvokeTime)
	job.ProfiledExecutionTime = observed
	w.engine.UpdateLatency(job.SubgraphKey, observed)

	if err := w.engine.CopyOutputTensors(job); err != nil {
		job.Status = bjob.OutputCopyFailure
		w.popCurrent()
		w.engine.EnqueueFinishedJob(job)
		return
	}

	job.Status = bjob.Success
	w.mu.Lock()
	w.stats.JobsProcessed++
	w.stats.BusyTimeUs += job.EndTime - job.InvokeTime
	w.mu.Unlock()

	w.popCurrent()
	w.engine.EnqueueFinishedJob(job)
}

func (w *Worker) popCurrent() {
	w.mu.Lock()
	w.queue.pop()
	w.mu.Unlock()
}

// handleDeviceError implements spec.md §4.C step 3: mark throttling, rewind
// the job, push it back to the request-queue front, then probe the backend
// until it recovers.
func (w *Worker) handleDeviceError(job *bjob.Job) {
	w.mu.Lock()
	w.throttling = true
	w.mu.Unlock()

	job.InvokeTime = -1
	job.Status = bjob.Queued
	w.popCurrent()

	w.engine.Reenqueue([]*bjob.Job{job})

	w.waitUntilDeviceAvailable()

	w.mu.Lock()
	w.throttling = false
	w.mu.Unlock()
}

// waitUntilDeviceAvailable probes the backend via the circuit breaker every
// availabilityCheckInterval until a probe succeeds.
func (w *Worker) waitUntilDeviceAvailable() {
	for {
		_, err := w.breaker.Execute(func() (any, error) {
			return nil, w.engine.ProbeDevice(w.device)
		})
		if err == nil {
			return
		}
		time.Sleep(w.availabilityCheckInterval)
	}
}
