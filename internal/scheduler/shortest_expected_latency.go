package scheduler

import (
	"github.com/bandrt/bandrt/internal/ids"
)

// shortestExpectedLatencyPolicy considers a window of the queue's head and,
// for each job, asks the engine for the subgraph minimizing
// waiting + expected_execution (spec.md §4.D).
type shortestExpectedLatencyPolicy struct {
	window int
}

func (p *shortestExpectedLatencyPolicy) Schedule(queue *LocalQueue, eng EngineView, _ int64) bool {
	waiting := snapshotWaiting(eng)

	n := queue.Len()
	if n > p.window {
		n = p.window
	}
	for i := 0; i < n; i++ {
		jobs := queue.All()
		if i >= len(jobs) {
			break
		}
		job := jobs[i]
		key, _, ok := eng.GetShortestLatency(job, waiting)
		if !ok {
			continue
		}
		if err := eng.EnqueueToWorker(job, key); err == nil {
			queue.RemoveJob(job)
			waiting[key.WorkerID] += eng.ExpectedExecutionTime(key)
			i--
			n--
		}
	}
	return true
}

func snapshotWaiting(eng EngineView) map[ids.WorkerId]float64 {
	waiting := make(map[ids.WorkerId]float64)
	for _, w := range eng.WorkerIDs() {
		waiting[w] = eng.WorkerWaitingTime(w)
	}
	return waiting
}
