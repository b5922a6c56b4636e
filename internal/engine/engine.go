// Package engine implements the Engine facade (spec.md §4.F, Component G):
// the single point where workers and scheduling policies reach the backend
// adapter, the tensor broker, and the latency estimator. It implements both
// worker.Engine and scheduler.EngineView.
package engine

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/bandrt/bandrt/internal/banderr"
	"github.com/bandrt/bandrt/internal/bjob"
	"github.com/bandrt/bandrt/internal/ids"
	"github.com/bandrt/bandrt/internal/latency"
	"github.com/bandrt/bandrt/internal/modelspec"
	"github.com/bandrt/bandrt/internal/planner"
	"github.com/bandrt/bandrt/internal/trace"
	"github.com/bandrt/bandrt/internal/worker"
)

// Engine owns model specs, worker handles, and the latency estimator. The
// planner reference is wired after construction via SetPlanner to break the
// planner<->engine import cycle (internal/planner never imports
// internal/engine).
type Engine struct {
	mu          sync.RWMutex
	models      map[ids.ModelId]*modelspec.ModelSpec
	workers     map[ids.WorkerId]*worker.Worker
	workerOrder []ids.WorkerId

	backend   Backend
	broker    TensorBroker
	estimator *latency.Estimator
	tracer    *trace.Recorder

	planner *planner.Planner
}

// New constructs an Engine bound to backend, broker, and estimator. Models
// and workers are registered afterward via RegisterModel/RegisterWorker;
// the planner is wired afterward via SetPlanner.
func New(backend Backend, broker TensorBroker, estimator *latency.Estimator) *Engine {
	return &Engine{
		models:    make(map[ids.ModelId]*modelspec.ModelSpec),
		workers:   make(map[ids.WorkerId]*worker.Worker),
		backend:   backend,
		broker:    broker,
		estimator: estimator,
	}
}

// RegisterModel makes ms available to the scheduler under modelID.
func (e *Engine) RegisterModel(modelID ids.ModelId, ms *modelspec.ModelSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.models[modelID] = ms
}

// RegisterWorker adds w to the worker set the scheduler dispatches across.
func (e *Engine) RegisterWorker(w *worker.Worker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workers[w.ID()] = w
	e.workerOrder = append(e.workerOrder, w.ID())
	sort.Slice(e.workerOrder, func(i, j int) bool { return e.workerOrder[i] < e.workerOrder[j] })
}

// SetPlanner wires the planner this engine delegates finished-job and
// re-enqueue traffic to.
func (e *Engine) SetPlanner(p *planner.Planner) {
	e.mu.Lock()
	e.planner = p
	e.mu.Unlock()
}

// SetTracer attaches r; every subsequent Invoke is bracketed by a
// begin/end trace event on r. A nil or disabled Recorder costs nothing.
func (e *Engine) SetTracer(r *trace.Recorder) {
	e.mu.Lock()
	e.tracer = r
	e.mu.Unlock()
}

// candidateMask returns the maximal contiguous run of unresolved units,
// starting at the lowest unresolved index, that device can execute and
// whose dependencies resolved already satisfies (spec.md GLOSSARY, "Unit
// subgraph"; §4.F, subgraph search).
func candidateMask(ms *modelspec.ModelSpec, device ids.DeviceFlag, resolved modelspec.UnitMask) (modelspec.UnitMask, bool) {
	var mask modelspec.UnitMask
	for u := 0; u < ms.NumUnitSubgraphs(); u++ {
		if resolved.Set(u) {
			if mask != 0 {
				break
			}
			continue
		}
		next := mask.With(u)
		if !ms.SupportedByWorker(device, modelspec.UnitMask(0).With(u)) {
			break
		}
		if !ms.IsReady(next, resolved) {
			break
		}
		mask = next
	}
	if mask == 0 {
		return 0, false
	}
	return mask, true
}

// singleUnit returns just the next unresolved unit if device can run it and
// its dependencies are satisfied, used by "any subgraph" policies that do
// not care about batching multiple units together.
func singleUnit(ms *modelspec.ModelSpec, device ids.DeviceFlag, resolved modelspec.UnitMask) (modelspec.UnitMask, bool) {
	for u := 0; u < ms.NumUnitSubgraphs(); u++ {
		if resolved.Set(u) {
			continue
		}
		mask := modelspec.UnitMask(0).With(u)
		if !ms.SupportedByWorker(device, mask) || !ms.IsReady(mask, resolved) {
			return 0, false
		}
		return mask, true
	}
	return 0, false
}

// WorkerIDs implements scheduler.EngineView.
func (e *Engine) WorkerIDs() []ids.WorkerId {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]ids.WorkerId(nil), e.workerOrder...)
}

// IsValidWorker implements scheduler.EngineView.
func (e *Engine) IsValidWorker(workerID ids.WorkerId) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.workers[workerID]
	return ok
}

// WorkerWaitingTime implements scheduler.EngineView.
func (e *Engine) WorkerWaitingTime(workerID ids.WorkerId) float64 {
	e.mu.RLock()
	w, ok := e.workers[workerID]
	e.mu.RUnlock()
	if !ok {
		return math.MaxFloat64 / 2
	}
	return w.GetWaitingTime()
}

// LargestSubgraphKey implements scheduler.EngineView.
func (e *Engine) LargestSubgraphKey(job *bjob.Job, workerID ids.WorkerId) (modelspec.SubgraphKey, bool) {
	e.mu.RLock()
	ms, msOK := e.models[job.ModelID]
	w, wOK := e.workers[workerID]
	e.mu.RUnlock()
	if !msOK || !wOK {
		return modelspec.SubgraphKey{}, false
	}
	mask, ok := candidateMask(ms, w.DeviceFlag(), job.ResolvedUnitSubgraphs)
	if !ok {
		return modelspec.SubgraphKey{}, false
	}
	return modelspec.SubgraphKey{ModelID: job.ModelID, WorkerID: workerID, UnitIndices: mask}, true
}

// AnySubgraphKey implements scheduler.EngineView.
func (e *Engine) AnySubgraphKey(job *bjob.Job, workerID ids.WorkerId) (modelspec.SubgraphKey, bool) {
	e.mu.RLock()
	ms, msOK := e.models[job.ModelID]
	w, wOK := e.workers[workerID]
	e.mu.RUnlock()
	if !msOK || !wOK {
		return modelspec.SubgraphKey{}, false
	}
	mask, ok := singleUnit(ms, w.DeviceFlag(), job.ResolvedUnitSubgraphs)
	if !ok {
		return modelspec.SubgraphKey{}, false
	}
	return modelspec.SubgraphKey{ModelID: job.ModelID, WorkerID: workerID, UnitIndices: mask}, true
}

// GetShortestLatency implements scheduler.EngineView: it enumerates every
// ready, worker-supported continuation of job and returns the
// (waiting + expected execution) minimizer, breaking ties per
// modelspec.Less (spec.md §4.D, deterministic tie-break).
func (e *Engine) GetShortestLatency(job *bjob.Job, waiting map[ids.WorkerId]float64) (modelspec.SubgraphKey, float64, bool) {
	e.mu.RLock()
	ms, msOK := e.models[job.ModelID]
	workers := append([]ids.WorkerId(nil), e.workerOrder...)
	wmap := e.workers
	e.mu.RUnlock()
	if !msOK {
		return modelspec.SubgraphKey{}, 0, false
	}

	var best modelspec.SubgraphKey
	var bestTotal float64
	found := false
	for _, wID := range workers {
		if job.TargetWorkerID != ids.WorkerId(ids.Unassigned) && job.TargetWorkerID != wID {
			continue
		}
		w, ok := wmap[wID]
		if !ok || !w.IsEnqueueReady() {
			continue
		}
		mask, ok := candidateMask(ms, w.DeviceFlag(), job.ResolvedUnitSubgraphs)
		if !ok {
			continue
		}
		key := modelspec.SubgraphKey{ModelID: job.ModelID, WorkerID: wID, UnitIndices: mask}
		total := waiting[wID] + e.estimator.GetExpected(key)
		if !found || total < bestTotal || (total == bestTotal && modelspec.Less(key, best)) {
			best, bestTotal, found = key, total, true
		}
	}
	return best, bestTotal, found
}

// ExpectedExecutionTime implements scheduler.EngineView.
func (e *Engine) ExpectedExecutionTime(key modelspec.SubgraphKey) float64 {
	return e.estimator.GetExpected(key)
}

// EnqueueToWorker implements scheduler.EngineView: re-checks job's SLO
// against this specific dispatch before committing to it, prepares key on
// the backend, then hands job to the owning worker's queue. The SLO check
// runs here unconditionally, for every policy, rather than inside each
// scheduler.Policy.Schedule — spec.md §4.E requires every scheduled action
// to be re-validated against the deadline regardless of which policy chose
// it.
func (e *Engine) EnqueueToWorker(job *bjob.Job, key modelspec.SubgraphKey) error {
	e.mu.RLock()
	w, ok := e.workers[key.WorkerID]
	e.mu.RUnlock()
	if !ok {
		return banderr.Newf("Engine.EnqueueToWorker", banderr.NotFound, "no worker %d registered", key.WorkerID)
	}
	if !w.IsEnqueueReady() {
		return banderr.Newf("Engine.EnqueueToWorker", banderr.Unavailable, "worker %d not ready to accept work", key.WorkerID)
	}
	if job.SLOUs != 0 {
		expected := e.estimator.GetExpected(key)
		elapsed := float64(time.Now().UnixMicro() - job.EnqueueTime)
		remaining := float64(job.SLOUs) - elapsed
		if w.GetWaitingTime()+expected > remaining {
			e.MarkFailed(job, bjob.SLOViolation)
			return nil
		}
	}
	if err := e.backend.PrepareSubgraph(key); err != nil {
		return banderr.New("Engine.EnqueueToWorker", banderr.DeviceError, err)
	}
	job.SubgraphKey = key
	job.ExpectedExecutionTime = e.estimator.GetExpected(key)
	w.Enqueue(job, false)
	return nil
}

// MarkFailed implements scheduler.EngineView: stamps job terminal and routes
// it through the same finished-job path a worker completion would take.
func (e *Engine) MarkFailed(job *bjob.Job, status bjob.Status) {
	job.Status = status
	job.EndTime = time.Now().UnixMicro()
	e.EnqueueFinishedJob(job)
}

// CopyInputTensors implements worker.Engine. It also marks the trace-event
// begin boundary for job's current subgraph key, since input copy is the
// first step of the per-key dispatch sequence (spec.md §4.C).
func (e *Engine) CopyInputTensors(job *bjob.Job) error {
	e.mu.RLock()
	tracer := e.tracer
	e.mu.RUnlock()
	if tracer != nil {
		tracer.BeginSubgraph(job.SubgraphKey, job, time.Now().UnixMicro())
	}
	return e.broker.CopyInput(job)
}

// CopyOutputTensors implements worker.Engine.
func (e *Engine) CopyOutputTensors(job *bjob.Job) error { return e.broker.CopyOutput(job) }

// Invoke implements worker.Engine, classifying the backend's error (if any)
// into the InvokeOutcome taxonomy a Worker branches on (spec.md §7).
func (e *Engine) Invoke(ctx context.Context, key modelspec.SubgraphKey) worker.InvokeResult {
	err := e.backend.ExecuteSubgraph(ctx, key)
	switch {
	case err == nil:
		return worker.InvokeResult{Outcome: worker.InvokeOK}
	case banderr.Is(err, banderr.DeviceError):
		return worker.InvokeResult{Outcome: worker.InvokeDeviceError, Err: err}
	default:
		return worker.InvokeResult{Outcome: worker.InvokeFatal, Err: err}
	}
}

// ExpectedLatency implements worker.Engine.
func (e *Engine) ExpectedLatency(key modelspec.SubgraphKey) float64 {
	return e.estimator.GetExpected(key)
}

// UpdateLatency implements worker.Engine.
func (e *Engine) UpdateLatency(key modelspec.SubgraphKey, observedUs float64) {
	e.estimator.Update(key, observedUs)
}

// EnqueueFinishedJob implements worker.Engine. A successful-but-incomplete
// job (more unit subgraphs remain) is not surfaced to the planner as
// terminal: instead its residual continuation is built and looped back
// through scheduling under the same JobId (spec.md §4.E, "Residual work").
func (e *Engine) EnqueueFinishedJob(job *bjob.Job) {
	e.mu.RLock()
	ms := e.models[job.ModelID]
	p := e.planner
	tracer := e.tracer
	e.mu.RUnlock()

	if tracer != nil {
		tracer.EndSubgraph(job.SubgraphKey, job, time.Now().UnixMicro())
	}

	if job.Status == bjob.Success {
		job.ResolvedUnitSubgraphs |= job.SubgraphKey.UnitIndices
	}
	if job.Status == bjob.Success && ms != nil && !job.IsEnd(ms) {
		follow := job.Residual(job.SubgraphKey, job.SubgraphKey.UnitIndices)
		e.Reenqueue([]*bjob.Job{follow})
		return
	}
	if p != nil {
		p.EnqueueFinishedJob(job)
	}
}

// Reenqueue implements worker.Engine.
func (e *Engine) Reenqueue(jobs []*bjob.Job) {
	e.mu.RLock()
	p := e.planner
	e.mu.RUnlock()
	if p != nil {
		p.Reenqueue(jobs)
	}
}

// Trigger implements worker.Engine.
func (e *Engine) Trigger() {
	e.mu.RLock()
	p := e.planner
	e.mu.RUnlock()
	if p != nil {
		p.Trigger()
	}
}

// ProbeDevice implements worker.Engine.
func (e *Engine) ProbeDevice(device ids.DeviceFlag) error {
	return e.backend.ProbeDevice(device)
}
