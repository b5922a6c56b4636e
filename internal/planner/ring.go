package planner

import (
	"github.com/bandrt/bandrt/internal/bjob"
	"github.com/bandrt/bandrt/internal/ids"
)

// ringSize is the fixed, power-of-two capacity of the finished-jobs ring
// buffer (spec.md §4.E).
const ringSize = 1024

type ringSlot struct {
	valid  bool
	jobID  ids.JobId
	status bjob.Status
}

type finishedRing struct {
	slots [ringSize]ringSlot
}

func ringIndex(jobID ids.JobId) int {
	return int(int64(jobID) & (ringSize - 1))
}

// put writes a finished-job record, overwriting any older record at the
// same index.
func (r *finishedRing) put(jobID ids.JobId, status bjob.Status) {
	r.slots[ringIndex(jobID)] = ringSlot{valid: true, jobID: jobID, status: status}
}

// lookup reports whether jobID has a valid record at its slot and, if so,
// its status.
func (r *finishedRing) lookup(jobID ids.JobId) (bjob.Status, bool) {
	s := r.slots[ringIndex(jobID)]
	if s.valid && s.jobID == jobID {
		return s.status, true
	}
	return 0, false
}
