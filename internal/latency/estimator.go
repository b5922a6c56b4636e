// Package latency maintains the exponentially-smoothed per-SubgraphKey
// latency table (spec.md §4.B, Component B) and profiles subgraphs on
// demand against paused workers.
package latency

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/bandrt/bandrt/internal/affinity"
	"github.com/bandrt/bandrt/internal/banderr"
	"github.com/bandrt/bandrt/internal/ids"
	"github.com/bandrt/bandrt/internal/modelspec"
)

var log = logrus.WithField("component", "latency_estimator")

// sentinel is returned by GetExpected for an unknown key, so schedulers
// naturally avoid unprofiled paths (spec.md §4.B).
const sentinel = math.MaxFloat64 / 2

// record is the per-key latency pair spec.md §3 names: profiled (the last
// single measurement) and moving-averaged (the EWMA across completions).
type record struct {
	profiled      float64
	movingAverage float64
}

// PauseGate is the subset of the Worker contract ProfileModel needs: pause
// a worker for the duration of profiling, and resume it afterward.
// Implemented by internal/worker.Worker.
type PauseGate interface {
	Pause()
	Resume()
	CPUAffinity() []int
}

// Backend is the narrow subset of the backend adapter contract (spec.md §6)
// ProfileModel invokes directly, bypassing the normal dispatch path.
type Backend interface {
	ExecuteSubgraph(ctx context.Context, key modelspec.SubgraphKey) error
	ForEachSubgraph(modelID ids.ModelId, visit func(modelspec.SubgraphKey))
}

// Estimator owns the latency table. All table access is guarded by mu; no
// lock is ever held across a Backend call, per spec.md §5's no-lock-across-
// invoke rule.
type Estimator struct {
	mu     sync.RWMutex
	table  map[modelspec.SubgraphKey]record
	alpha  float64 // EWMA smoothing factor, default 0.1
	backend Backend
	workers map[ids.WorkerId]PauseGate

	numWarmups int
	numRuns    int

	availabilityCheckInterval time.Duration
}

// Config groups the estimator's tunables, surfaced from internal/config.
type Config struct {
	Alpha                     float64
	NumWarmups                int
	NumRuns                   int
	AvailabilityCheckInterval time.Duration
}

// New creates an Estimator bound to backend and the given worker pause
// gates, keyed by WorkerId.
func New(cfg Config, backend Backend, workers map[ids.WorkerId]PauseGate) *Estimator {
	alpha := cfg.Alpha
	if alpha <= 0 {
		alpha = 0.1
	}
	return &Estimator{
		table:                     make(map[modelspec.SubgraphKey]record),
		alpha:                     alpha,
		backend:                   backend,
		workers:                   workers,
		numWarmups:                cfg.NumWarmups,
		numRuns:                   cfg.NumRuns,
		availabilityCheckInterval: cfg.AvailabilityCheckInterval,
	}
}

// RegisterWorker adds gate under id so ProfileModel can pause/resume and
// pin that worker. Used to complete wiring after workers are constructed
// from an Estimator built before they existed.
func (e *Estimator) RegisterWorker(id ids.WorkerId, gate PauseGate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workers == nil {
		e.workers = make(map[ids.WorkerId]PauseGate)
	}
	e.workers[id] = gate
}

// Update records a freshly observed latency (microseconds) for key,
// contracting the moving average toward it: new = alpha*observed +
// (1-alpha)*old. The first observation for a key seeds both fields.
func (e *Estimator) Update(key modelspec.SubgraphKey, observedUs float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.table[key]
	if !ok {
		e.table[key] = record{profiled: observedUs, movingAverage: observedUs}
		return
	}
	r.profiled = observedUs
	r.movingAverage = e.alpha*observedUs + (1-e.alpha)*r.movingAverage
	e.table[key] = r
}

// GetProfiled returns the last single profiled latency for key, or false if
// unknown.
func (e *Estimator) GetProfiled(key modelspec.SubgraphKey) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.table[key]
	return r.profiled, ok
}

// GetExpected returns the moving-averaged latency for key, falling back to
// a large sentinel when the key is unknown (spec.md §4.B).
func (e *Estimator) GetExpected(key modelspec.SubgraphKey) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if r, ok := e.table[key]; ok {
		return r.movingAverage
	}
	return sentinel
}

// IsSentinel reports whether v is the GetExpected fallback value, so callers
// can distinguish "no profile" from a genuinely large latency.
func IsSentinel(v float64) bool { return v >= sentinel }

// ProfileModel runs NumWarmups discard-invocations followed by NumRuns timed
// invocations of every materialized subgraph for modelID on every worker, in
// a paused-workers regime: it pauses the owning worker, runs the
// measurements on a goroutine pinned to the worker's CPU affinity, records
// the mean, and resumes the worker (spec.md §4.B).
//
// Per spec.md §9's open question, ProfileModel returns nil even when the
// backend has zero subgraphs for modelID, but logs a warning — the
// ambiguity in the original is preserved deliberately rather than resolved
// into an error.
func (e *Estimator) ProfileModel(ctx context.Context, modelID ids.ModelId) error {
	var keys []modelspec.SubgraphKey
	e.backend.ForEachSubgraph(modelID, func(k modelspec.SubgraphKey) {
		keys = append(keys, k)
	})
	if len(keys) == 0 {
		log.WithField("model_id", modelID).Warn("ProfileModel: backend has no materialized subgraphs for this model")
		return nil
	}

	for _, key := range keys {
		gate, ok := e.workers[key.WorkerID]
		if !ok {
			return banderr.Newf("Estimator.ProfileModel", banderr.NotFound, "no worker registered for id %d", key.WorkerID)
		}
		if err := e.profileOne(ctx, gate, key); err != nil {
			return err
		}
	}
	return nil
}

func (e *Estimator) profileOne(ctx context.Context, gate PauseGate, key modelspec.SubgraphKey) error {
	gate.Pause()
	defer gate.Resume()

	type result struct {
		mean float64
		err  error
	}
	done := make(chan result, 1)

	go func() {
		cpus := gate.CPUAffinity()
		if len(cpus) > 0 {
			if err := affinity.Pin(cpus); err != nil {
				log.WithError(err).WithField("key", key.String()).Warn("ProfileModel: failed to pin profiling thread, continuing unpinned")
			}
		}

		for i := 0; i < e.numWarmups; i++ {
			if err := e.backend.ExecuteSubgraph(ctx, key); err != nil {
				done <- result{err: banderr.New("Estimator.ProfileModel", banderr.DeviceError, err)}
				return
			}
		}

		samples := make([]float64, 0, e.numRuns)
		for i := 0; i < e.numRuns; i++ {
			start := time.Now()
			if err := e.backend.ExecuteSubgraph(ctx, key); err != nil {
				done <- result{err: banderr.New("Estimator.ProfileModel", banderr.DeviceError, err)}
				return
			}
			samples = append(samples, float64(time.Since(start).Microseconds()))
		}
		mean := stat.Mean(samples, nil)
		done <- result{mean: mean}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-done:
		if r.err != nil {
			return r.err
		}
		e.Update(key, r.mean)
		return nil
	}
}
