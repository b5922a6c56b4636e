package scheduler

import (
	"sort"

	"github.com/bandrt/bandrt/internal/bjob"
)

// leastSlackTimeFirstPolicy sorts the queue by slack = slo - elapsed -
// expected_total, schedules the shortest-slack job first, and early-drops
// any job whose slack has already gone negative (spec.md §4.D).
type leastSlackTimeFirstPolicy struct{}

func (p *leastSlackTimeFirstPolicy) Schedule(queue *LocalQueue, eng EngineView, nowUs int64) bool {
	waiting := snapshotWaiting(eng)

	type candidate struct {
		job   *bjob.Job
		slack float64
	}
	jobs := append([]*bjob.Job(nil), queue.All()...)
	candidates := make([]candidate, 0, len(jobs))
	for _, job := range jobs {
		if job.SLOUs == 0 {
			candidates = append(candidates, candidate{job: job, slack: 1 << 50})
			continue
		}
		_, finish, ok := eng.GetShortestLatency(job, waiting)
		expectedTotal := 0.0
		if ok {
			expectedTotal = finish
		}
		elapsed := float64(nowUs - job.EnqueueTime)
		slack := float64(job.SLOUs) - elapsed - expectedTotal
		candidates = append(candidates, candidate{job: job, slack: slack})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].slack < candidates[j].slack })

	for _, c := range candidates {
		if c.job.SLOUs != 0 && c.slack < 0 {
			eng.MarkFailed(c.job, bjob.SLOViolation)
			queue.RemoveJob(c.job)
			continue
		}
		key, _, ok := eng.GetShortestLatency(c.job, waiting)
		if !ok {
			continue
		}
		if err := eng.EnqueueToWorker(c.job, key); err == nil {
			queue.RemoveJob(c.job)
			waiting[key.WorkerID] += eng.ExpectedExecutionTime(key)
		}
	}
	return true
}
