package scheduler

import "github.com/bandrt/bandrt/internal/bjob"

// LocalQueue is the per-scheduler queue the Planner drains requests into
// before calling Schedule (spec.md §4.E). It is only ever touched by the
// planner thread, so it carries no lock of its own.
type LocalQueue struct {
	jobs []*bjob.Job
}

// PushBack appends j to the queue.
func (q *LocalQueue) PushBack(j *bjob.Job) { q.jobs = append(q.jobs, j) }

// Len returns the number of queued jobs.
func (q *LocalQueue) Len() int { return len(q.jobs) }

// All returns the queue contents, head first. The returned slice aliases
// the queue's backing array; callers must not retain it across a mutation.
func (q *LocalQueue) All() []*bjob.Job { return q.jobs }

// Remove deletes the job at index i, preserving order.
func (q *LocalQueue) Remove(i int) {
	q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
}

// RemoveJob deletes j by identity if present.
func (q *LocalQueue) RemoveJob(j *bjob.Job) {
	for i, job := range q.jobs {
		if job == j {
			q.Remove(i)
			return
		}
	}
}
