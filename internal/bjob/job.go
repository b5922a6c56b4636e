// Package bjob defines Job, the mutable record tracking one request's
// lifetime through the scheduler (spec.md §3, "Job (mutable; one lifetime =
// one request)").
package bjob

import (
	"sync/atomic"

	"github.com/bandrt/bandrt/internal/ids"
	"github.com/bandrt/bandrt/internal/modelspec"
)

// Status is the closed set of terminal/non-terminal job states.
type Status int

const (
	Queued Status = iota
	Success
	SLOViolation
	EnqueueFailed
	InputCopyFailure
	OutputCopyFailure
	InvokeFailure
)

func (s Status) String() string {
	switch s {
	case Queued:
		return "Queued"
	case Success:
		return "Success"
	case SLOViolation:
		return "SLOViolation"
	case EnqueueFailed:
		return "EnqueueFailed"
	case InputCopyFailure:
		return "InputCopyFailure"
	case OutputCopyFailure:
		return "OutputCopyFailure"
	case InvokeFailure:
		return "InvokeFailure"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s ends the job's lifecycle.
func (s Status) IsTerminal() bool { return s != Queued }

var nextJobID int64

// NextJobID returns a fresh, process-wide monotonically increasing JobId.
// Re-submitting an identical request always yields an independent JobId
// (spec.md §8, "Round-trip and idempotence").
func NextJobID() ids.JobId {
	return ids.JobId(atomic.AddInt64(&nextJobID, 1))
}

// Job is mutable for the duration of one request's lifetime. It is owned by
// exactly one goroutine at a time (request queue -> local queue -> worker
// queue -> running -> finished record), so it carries no internal lock.
type Job struct {
	ModelID ids.ModelId
	JobID   ids.JobId

	InputHandle  any
	OutputHandle any

	EnqueueTime int64 // microseconds, monotonic clock
	InvokeTime  int64 // -1 if never invoked
	EndTime     int64

	SLOUs          int64 // 0 = no SLO
	TargetWorkerID ids.WorkerId // ids.Unassigned = any worker

	SubgraphKey modelspec.SubgraphKey

	ProfiledExecutionTime float64
	ExpectedExecutionTime float64
	ExpectedLatency       float64

	ResolvedUnitSubgraphs modelspec.UnitMask
	PreviousSubgraphKeys  []modelspec.SubgraphKey

	Status Status
}

// New creates a Queued job with a fresh JobId. callers that want to preserve
// a caller-supplied JobId should set JobID directly instead.
func New(modelID ids.ModelId) *Job {
	return &Job{
		ModelID:        modelID,
		JobID:          NextJobID(),
		InvokeTime:     -1,
		TargetWorkerID: ids.WorkerId(ids.Unassigned),
		Status:         Queued,
	}
}

// IsEnd reports whether the model has no more unit subgraphs left to run
// given ms's total count and the job's resolved mask.
func (j *Job) IsEnd(ms *modelspec.ModelSpec) bool {
	full := modelspec.UnitMask(0)
	for u := 0; u < ms.NumUnitSubgraphs(); u++ {
		full = full.With(u)
	}
	return j.ResolvedUnitSubgraphs&full == full
}

// Residual clones j into a follow-up job representing the unresolved
// remainder of the model: same JobID and identity fields, advanced
// ResolvedUnitSubgraphs, and the just-run key appended to
// PreviousSubgraphKeys (spec.md §4.E, "Residual work").
func (j *Job) Residual(ranKey modelspec.SubgraphKey, newlyResolved modelspec.UnitMask) *Job {
	follow := &Job{
		ModelID:               j.ModelID,
		JobID:                 j.JobID,
		InputHandle:           j.InputHandle,
		OutputHandle:          j.OutputHandle,
		EnqueueTime:           j.EnqueueTime,
		InvokeTime:            -1,
		SLOUs:                 j.SLOUs,
		TargetWorkerID:        j.TargetWorkerID,
		ResolvedUnitSubgraphs: j.ResolvedUnitSubgraphs | newlyResolved,
		PreviousSubgraphKeys:  append(append([]modelspec.SubgraphKey(nil), j.PreviousSubgraphKeys...), ranKey),
		Status:                Queued,
	}
	return follow
}
