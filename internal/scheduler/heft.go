package scheduler

import (
	"sort"

	"github.com/bandrt/bandrt/internal/bjob"
	"github.com/bandrt/bandrt/internal/ids"
)

// heftPolicy implements Heterogeneous Earliest Finish Time (spec.md §4.D):
// rank jobs by a model-wide upward rank, then for each in rank order pick
// the (subgraph, worker) minimizing earliest finish time over all eligible
// workers given the current waiting snapshot. The reserved variant
// additionally records, for each worker a job claims in this pass, that
// job's expected finish time, and treats it as a floor on the worker's
// waiting time for the lower-rank jobs scheduled after it in the same pass.
type heftPolicy struct {
	reserved bool
}

func (p *heftPolicy) Schedule(queue *LocalQueue, eng EngineView, _ int64) bool {
	waiting := snapshotWaiting(eng)
	reservedUntil := make(map[ids.WorkerId]float64)

	jobs := append([]*bjob.Job(nil), queue.All()...)
	sort.SliceStable(jobs, func(i, j int) bool {
		return upwardRank(jobs[i], eng) > upwardRank(jobs[j], eng)
	})

	for _, job := range jobs {
		key, finish, ok := eng.GetShortestLatency(job, effectiveWaiting(waiting, reservedUntil, p.reserved))
		if !ok {
			continue
		}
		if err := eng.EnqueueToWorker(job, key); err != nil {
			continue
		}
		queue.RemoveJob(job)
		cost := eng.ExpectedExecutionTime(key)
		waiting[key.WorkerID] += cost
		if p.reserved {
			if finish > reservedUntil[key.WorkerID] {
				reservedUntil[key.WorkerID] = finish
			}
		}
	}
	return true
}

// upwardRank returns the largest expected execution time among the
// largest-remaining subgraphs the job could run next, one per worker, a
// coarse proxy for "how much work is left on the critical path from this
// job". Only that next subgraph is costed; the unit subgraphs that would
// remain after it are not added in.
func upwardRank(job *bjob.Job, eng EngineView) float64 {
	var maxCost float64
	for _, worker := range eng.WorkerIDs() {
		key, ok := eng.LargestSubgraphKey(job, worker)
		if !ok {
			continue
		}
		if c := eng.ExpectedExecutionTime(key); c > maxCost {
			maxCost = c
		}
	}
	return maxCost
}

// effectiveWaiting returns the waiting snapshot HEFT should reason over.
// The reserved variant adds each worker's pessimistic reservation on top of
// its measured waiting time so idle workers already claimed by a
// higher-rank job look busier to subsequent, lower-rank jobs.
func effectiveWaiting(waiting, reservedUntil map[ids.WorkerId]float64, reserved bool) map[ids.WorkerId]float64 {
	if !reserved {
		return waiting
	}
	out := make(map[ids.WorkerId]float64, len(waiting))
	for w, v := range waiting {
		out[w] = v
		if r, ok := reservedUntil[w]; ok && r > out[w] {
			out[w] = r
		}
	}
	return out
}
