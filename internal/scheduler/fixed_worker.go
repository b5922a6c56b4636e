package scheduler

import "github.com/bandrt/bandrt/internal/bjob"

// fixedWorkerPolicy pairs every job with its TargetWorkerID and the largest
// subgraph that worker can run. It backs both "fixed-worker" (per-device
// queues) and "fixed-worker-global-queue" (single global queue) — the
// dispatch rule is identical; only worker readiness plumbing differs, which
// lives in internal/worker (spec.md §4.D table).
type fixedWorkerPolicy struct{}

func (p *fixedWorkerPolicy) Schedule(queue *LocalQueue, eng EngineView, _ int64) bool {
	for _, job := range append([]*bjob.Job(nil), queue.All()...) {
		if !eng.IsValidWorker(job.TargetWorkerID) {
			eng.MarkFailed(job, bjob.EnqueueFailed)
			queue.RemoveJob(job)
			continue
		}
		key, ok := eng.LargestSubgraphKey(job, job.TargetWorkerID)
		if !ok {
			eng.MarkFailed(job, bjob.EnqueueFailed)
			queue.RemoveJob(job)
			continue
		}
		if err := eng.EnqueueToWorker(job, key); err == nil {
			queue.RemoveJob(job)
		}
	}
	return true
}
