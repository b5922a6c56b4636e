package scheduler

import (
	"sort"

	"github.com/bandrt/bandrt/internal/bjob"
	"github.com/bandrt/bandrt/internal/ids"
)

// roundRobinPolicy cycles through workers, assigning any eligible subgraph
// for the model on the chosen worker (spec.md §4.D).
type roundRobinPolicy struct {
	next int
}

func (p *roundRobinPolicy) Schedule(queue *LocalQueue, eng EngineView, _ int64) bool {
	workers := append([]ids.WorkerId(nil), eng.WorkerIDs()...)
	sort.Slice(workers, func(i, j int) bool { return workers[i] < workers[j] })
	if len(workers) == 0 {
		return true
	}

	for _, job := range append([]*bjob.Job(nil), queue.All()...) {
		for attempt := 0; attempt < len(workers); attempt++ {
			worker := workers[p.next%len(workers)]
			p.next++
			key, ok := eng.AnySubgraphKey(job, worker)
			if !ok {
				continue
			}
			if err := eng.EnqueueToWorker(job, key); err == nil {
				queue.RemoveJob(job)
				break
			}
		}
	}
	return true
}
