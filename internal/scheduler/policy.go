// Package scheduler implements the pluggable scheduling policies (spec.md
// §4.D, Component E): pure functions from (pending queue, engine state
// snapshot) to (job, subgraph-key) dispatch actions.
package scheduler

import (
	"fmt"

	"github.com/bandrt/bandrt/internal/bjob"
	"github.com/bandrt/bandrt/internal/ids"
	"github.com/bandrt/bandrt/internal/modelspec"
)

// EngineView is the slice of the engine facade every policy reads and
// writes through: a worker-waiting-time snapshot plus the subgraph-search
// and dispatch operations from spec.md §4.F.
type EngineView interface {
	// WorkerIDs returns every registered worker id, ascending.
	WorkerIDs() []ids.WorkerId
	IsValidWorker(w ids.WorkerId) bool
	WorkerWaitingTime(w ids.WorkerId) float64

	// LargestSubgraphKey returns the subgraph spanning the most unit
	// subgraphs a worker can run for a job's current resolved state.
	LargestSubgraphKey(job *bjob.Job, worker ids.WorkerId) (modelspec.SubgraphKey, bool)
	// AnySubgraphKey returns any valid subgraph for a job on a worker.
	AnySubgraphKey(job *bjob.Job, worker ids.WorkerId) (modelspec.SubgraphKey, bool)
	// GetShortestLatency enumerates unit-subgraph continuations whose
	// dependencies are satisfied and returns the one minimizing
	// waiting + expected execution, plus its finish time.
	GetShortestLatency(job *bjob.Job, waiting map[ids.WorkerId]float64) (modelspec.SubgraphKey, float64, bool)
	// ExpectedExecutionTime returns the latency estimator's current
	// expectation for key.
	ExpectedExecutionTime(key modelspec.SubgraphKey) float64

	EnqueueToWorker(job *bjob.Job, key modelspec.SubgraphKey) error
	MarkFailed(job *bjob.Job, status bjob.Status)
}

// Policy implements Schedule(localQueue) -> bool, per spec.md §4.D: true
// means every decision this tick is durable and no immediate reschedule is
// needed; false asks the planner to re-run without sleeping.
type Policy interface {
	Schedule(queue *LocalQueue, eng EngineView, nowUs int64) bool
}

// QueueTopology distinguishes per-device worker queues from a single global
// queue, used to validate that mixed-policy planners agree (spec.md §4.D).
type QueueTopology int

const (
	PerDeviceQueue QueueTopology = iota
	GlobalQueue
)

// Kind names the six coexisting policies (spec.md §4.D table).
type Kind string

const (
	FixedWorker             Kind = "fixed-worker"
	FixedWorkerGlobalQueue  Kind = "fixed-worker-global-queue"
	RoundRobin              Kind = "round-robin"
	ShortestExpectedLatency Kind = "shortest-expected-latency"
	LeastSlackTimeFirst     Kind = "least-slack-time-first"
	HEFT                    Kind = "heft"
	HEFTReserved            Kind = "heft-reserved"
)

// Config groups the tunables shared across policies.
type Config struct {
	ScheduleWindowSize int
}

// New constructs a Policy by Kind.
func New(kind Kind, cfg Config) (Policy, error) {
	switch kind {
	case FixedWorker, FixedWorkerGlobalQueue:
		return &fixedWorkerPolicy{}, nil
	case RoundRobin:
		return &roundRobinPolicy{}, nil
	case ShortestExpectedLatency:
		window := cfg.ScheduleWindowSize
		if window <= 0 {
			window = 1
		}
		return &shortestExpectedLatencyPolicy{window: window}, nil
	case LeastSlackTimeFirst:
		return &leastSlackTimeFirstPolicy{}, nil
	case HEFT:
		return &heftPolicy{reserved: false}, nil
	case HEFTReserved:
		return &heftPolicy{reserved: true}, nil
	default:
		return nil, fmt.Errorf("unknown scheduler kind %q", kind)
	}
}

// Topology reports the queue topology Kind requires.
func (k Kind) Topology() QueueTopology {
	if k == FixedWorkerGlobalQueue {
		return GlobalQueue
	}
	return PerDeviceQueue
}
