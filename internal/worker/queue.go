package worker

import "github.com/bandrt/bandrt/internal/bjob"

// jobQueue abstracts the two queue models spec.md §4.C names: the
// device-queue worker's FIFO and the global-queue worker's single slot.
// Both variants share the Worker loop; only queue shape differs.
type jobQueue interface {
	push(j *bjob.Job, front bool)
	peek() *bjob.Job
	pop() *bjob.Job
	len() int
	// readyToEnqueue reports whether a new job may be accepted right now,
	// independent of pause/throttle state.
	readyToEnqueue() bool
	// all returns every queued job, head first.
	all() []*bjob.Job
}

// fifoQueue backs the device-queue worker: unbounded FIFO, always ready to
// accept more work (spec.md §4.C, "Device-queue worker").
type fifoQueue struct {
	jobs []*bjob.Job
}

func (q *fifoQueue) push(j *bjob.Job, front bool) {
	if front {
		q.jobs = append([]*bjob.Job{j}, q.jobs...)
		return
	}
	q.jobs = append(q.jobs, j)
}

func (q *fifoQueue) peek() *bjob.Job {
	if len(q.jobs) == 0 {
		return nil
	}
	return q.jobs[0]
}

func (q *fifoQueue) pop() *bjob.Job {
	if len(q.jobs) == 0 {
		return nil
	}
	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	return j
}

func (q *fifoQueue) len() int { return len(q.jobs) }

func (q *fifoQueue) readyToEnqueue() bool { return true }

func (q *fifoQueue) all() []*bjob.Job { return append([]*bjob.Job(nil), q.jobs...) }

// singleSlotQueue backs the global-queue worker: at most one job at a time
// (spec.md §4.C, "Global-queue worker").
type singleSlotQueue struct {
	job *bjob.Job
}

func (q *singleSlotQueue) push(j *bjob.Job, _ bool) {
	q.job = j
}

func (q *singleSlotQueue) peek() *bjob.Job { return q.job }

func (q *singleSlotQueue) pop() *bjob.Job {
	j := q.job
	q.job = nil
	return j
}

func (q *singleSlotQueue) len() int {
	if q.job == nil {
		return 0
	}
	return 1
}

func (q *singleSlotQueue) readyToEnqueue() bool { return q.job == nil }

func (q *singleSlotQueue) all() []*bjob.Job {
	if q.job == nil {
		return nil
	}
	return []*bjob.Job{q.job}
}
