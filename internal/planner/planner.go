// Package planner implements the Planner (spec.md §4.E, Component F): the
// request queue, the planner thread, the set of active scheduling policies,
// the callback registry, and the finished-jobs ring buffer.
package planner

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bandrt/bandrt/internal/affinity"
	"github.com/bandrt/bandrt/internal/banderr"
	"github.com/bandrt/bandrt/internal/bjob"
	"github.com/bandrt/bandrt/internal/ids"
	"github.com/bandrt/bandrt/internal/scheduler"
)

var log = logrus.WithField("component", "planner")

// Callback is invoked once per terminal job, outside any planner lock, with
// the job's final status. err is nil iff status == bjob.Success.
type Callback func(jobID ids.JobId, status bjob.Status, err error)

// Config groups planner construction parameters.
type Config struct {
	// Policies holds one or two scheduling policies. Two policies partition
	// the request queue by SLO presence: index 0 gets jobs with SLOUs != 0,
	// index 1 gets the rest (spec.md §4.D, "Mixed-policy planners").
	Policies   []scheduler.Policy
	Topologies []scheduler.QueueTopology

	CPUMask []int
}

// Planner owns the request queue, per-scheduler local queues, the
// registered policies, the callback map, and the finished-jobs ring.
type Planner struct {
	policies   []scheduler.Policy
	topologies []scheduler.QueueTopology
	queues     []scheduler.LocalQueue

	mu           sync.Mutex
	cond         *sync.Cond
	requestQueue []*bjob.Job
	numSubmitted int64
	kill         bool

	finishMu        sync.Mutex
	finishCond      *sync.Cond
	ring            finishedRing
	numFinishedJobs int64

	callbackMu     sync.Mutex
	callbacks      map[ids.CallbackId]Callback
	nextCallbackID uint64

	eng scheduler.EngineView

	cpuMask       []int
	affinityDirty bool

	doneCh  chan struct{}
	started bool

	now func() int64
}

// topologyMismatchError reports that a mixed-policy planner's two policies
// disagree on worker-queue topology.
type topologyMismatchError struct{}

func (*topologyMismatchError) Error() string {
	return "mixed-policy planner requires both policies to agree on worker-queue topology"
}

// New validates cfg and constructs a Planner. It does not start the planner
// thread until Run is called, and does not schedule anything until
// SetEngineView is called (engine and planner are constructed with a
// circular dependency broken by setter injection).
func New(cfg Config) (*Planner, error) {
	if len(cfg.Policies) == 0 || len(cfg.Policies) > 2 {
		return nil, banderr.Newf("planner.New", banderr.InvalidArgument, "planner supports one or two policies, got %d", len(cfg.Policies))
	}
	if len(cfg.Policies) == 2 && cfg.Topologies[0] != cfg.Topologies[1] {
		return nil, banderr.New("planner.New", banderr.InvalidArgument, &topologyMismatchError{})
	}
	p := &Planner{
		policies:   cfg.Policies,
		topologies: cfg.Topologies,
		queues:     make([]scheduler.LocalQueue, len(cfg.Policies)),
		callbacks:  make(map[ids.CallbackId]Callback),
		cpuMask:    append([]int(nil), cfg.CPUMask...),
		doneCh:     make(chan struct{}),
		now:        func() int64 { return time.Now().UnixMicro() },
	}
	p.cond = sync.NewCond(&p.mu)
	p.finishCond = sync.NewCond(&p.finishMu)
	return p, nil
}

// SetEngineView wires the engine facade the policies will call through.
func (p *Planner) SetEngineView(eng scheduler.EngineView) {
	p.mu.Lock()
	p.eng = eng
	p.cond.Broadcast()
	p.mu.Unlock()
}

// slotFor returns which policy's local queue job belongs in, per the
// SLO-presence partition rule. Single-policy planners always return 0.
func (p *Planner) slotFor(job *bjob.Job) int {
	if len(p.policies) == 1 {
		return 0
	}
	if job.SLOUs != 0 {
		return 0
	}
	return 1
}

// EnqueueRequest assigns job a fresh JobId if unset, stamps EnqueueTime if
// zero, inserts it at the requested end of the request queue, and signals
// the planner thread.
func (p *Planner) EnqueueRequest(job *bjob.Job, pushFront bool) ids.JobId {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enqueueLocked(job, pushFront)
	p.cond.Broadcast()
	return job.JobID
}

func (p *Planner) enqueueLocked(job *bjob.Job, pushFront bool) {
	if job.JobID == 0 {
		job.JobID = bjob.NextJobID()
	}
	if job.EnqueueTime == 0 {
		job.EnqueueTime = p.now()
	}
	if pushFront {
		p.requestQueue = append([]*bjob.Job{job}, p.requestQueue...)
	} else {
		p.requestQueue = append(p.requestQueue, job)
	}
	p.numSubmitted++
}

// EnqueueBatch inserts every job in jobs atomically with respect to other
// EnqueueRequest/EnqueueBatch callers.
func (p *Planner) EnqueueBatch(jobs []*bjob.Job) []ids.JobId {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ids.JobId, len(jobs))
	for i, j := range jobs {
		p.enqueueLocked(j, false)
		out[i] = j.JobID
	}
	p.cond.Broadcast()
	return out
}

// Reenqueue implements worker.Engine's re-queue path: push jobs to the
// front of the request queue, preserving relative order (spec.md §4.C,
// device-error retry and following-jobs re-enqueue).
func (p *Planner) Reenqueue(jobs []*bjob.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requestQueue = append(append([]*bjob.Job(nil), jobs...), p.requestQueue...)
	p.cond.Broadcast()
}

// Trigger wakes the planner thread to re-run scheduling without adding new
// requests (spec.md §4.C step 5, called by workers on every completion).
func (p *Planner) Trigger() {
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// SetCPUAffinity requests a CPU-set update for the planner thread itself,
// applied at the top of the next loop iteration (spec.md §6, "planner CPU
// mask").
func (p *Planner) SetCPUAffinity(cpuMask []int) {
	p.mu.Lock()
	p.cpuMask = append([]int(nil), cpuMask...)
	p.affinityDirty = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Run spawns the planner thread. It is a no-op on subsequent calls.
func (p *Planner) Run() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()
	go p.loop()
}

// Stop signals the planner thread to exit and waits for it to do so.
func (p *Planner) Stop() {
	p.mu.Lock()
	p.kill = true
	p.cond.Broadcast()
	p.mu.Unlock()
	<-p.doneCh
}

// RegisterCallback registers cb to run once per finished job and returns an
// id RemoveCallback can later use to unregister it (spec.md §5 supplemented
// callback-removal feature).
func (p *Planner) RegisterCallback(cb Callback) ids.CallbackId {
	p.callbackMu.Lock()
	defer p.callbackMu.Unlock()
	p.nextCallbackID++
	id := ids.CallbackId(p.nextCallbackID)
	p.callbacks[id] = cb
	return id
}

// RemoveCallback unregisters a callback previously returned by
// RegisterCallback. Removing an unknown or already-removed id is a no-op.
func (p *Planner) RemoveCallback(id ids.CallbackId) {
	p.callbackMu.Lock()
	delete(p.callbacks, id)
	p.callbackMu.Unlock()
}

func (p *Planner) fireCallbacks(job *bjob.Job) {
	p.callbackMu.Lock()
	cbs := make([]Callback, 0, len(p.callbacks))
	for _, cb := range p.callbacks {
		cbs = append(cbs, cb)
	}
	p.callbackMu.Unlock()
	if len(cbs) == 0 {
		return
	}

	var err error
	if job.Status != bjob.Success {
		err = banderr.Newf("planner", banderr.FatalInvoke, "job %d finished with status %s", job.JobID, job.Status)
	}
	for _, cb := range cbs {
		cb(job.JobID, job.Status, err)
	}
}

// EnqueueFinishedJob implements worker.Engine's terminal-job path: record
// job's status in the finished-jobs ring, wake any Wait/WaitAll callers,
// then fire every registered callback outside the planner's locks.
func (p *Planner) EnqueueFinishedJob(job *bjob.Job) {
	p.finishMu.Lock()
	p.ring.put(job.JobID, job.Status)
	p.numFinishedJobs++
	p.finishCond.Broadcast()
	p.finishMu.Unlock()

	p.fireCallbacks(job)
}

// Wait blocks until every job in jobIDs has a terminal record in the
// finished-jobs ring, returning each one's terminal status in the same
// order as jobIDs. The ring holds only the most recent ringSize finished
// jobs, so a caller with more than ringSize jobs simultaneously in flight
// risks an older record being overwritten before Wait observes it; keep
// outstanding Wait sets below that bound.
func (p *Planner) Wait(jobIDs []ids.JobId) []bjob.Status {
	out := make([]bjob.Status, len(jobIDs))
	done := make([]bool, len(jobIDs))
	remaining := len(jobIDs)

	p.finishMu.Lock()
	defer p.finishMu.Unlock()
	for remaining > 0 {
		for i, id := range jobIDs {
			if done[i] {
				continue
			}
			if status, ok := p.ring.lookup(id); ok {
				out[i] = status
				done[i] = true
				remaining--
			}
		}
		if remaining > 0 {
			p.finishCond.Wait()
		}
	}
	return out
}

// WaitAll blocks until every job submitted so far has finished.
func (p *Planner) WaitAll() {
	p.mu.Lock()
	target := p.numSubmitted
	p.mu.Unlock()

	p.finishMu.Lock()
	defer p.finishMu.Unlock()
	for p.numFinishedJobs < target {
		p.finishCond.Wait()
	}
}

func (p *Planner) allQueuesEmpty() bool {
	for i := range p.queues {
		if p.queues[i].Len() > 0 {
			return false
		}
	}
	return true
}

// loop is the planner thread body: it waits for new requests or a wakeup
// trigger, drains the request queue into the per-policy local queues by
// SLO partition, then runs every policy's Schedule once (spec.md §4.E).
func (p *Planner) loop() {
	defer close(p.doneCh)
	for {
		p.mu.Lock()
		if p.affinityDirty {
			p.affinityDirty = false
			cpuMask := append([]int(nil), p.cpuMask...)
			p.mu.Unlock()
			if err := affinity.Pin(cpuMask); err != nil {
				log.WithError(err).Warn("failed to pin planner thread")
			}
			p.mu.Lock()
		}

		for !p.kill && len(p.requestQueue) == 0 && p.allQueuesEmpty() {
			p.cond.Wait()
		}
		if p.kill && len(p.requestQueue) == 0 && p.allQueuesEmpty() {
			p.mu.Unlock()
			return
		}

		for _, job := range p.requestQueue {
			slot := p.slotFor(job)
			p.queues[slot].PushBack(job)
		}
		p.requestQueue = p.requestQueue[:0]
		eng := p.eng
		p.mu.Unlock()

		if eng == nil {
			// Engine not wired yet; nothing to schedule against. Block
			// until SetEngineView or Stop broadcasts.
			p.mu.Lock()
			for p.eng == nil && !p.kill {
				p.cond.Wait()
			}
			p.mu.Unlock()
			continue
		}

		rerun := false
		for i, policy := range p.policies {
			if !policy.Schedule(&p.queues[i], eng, p.now()) {
				rerun = true
			}
		}
		if rerun {
			p.Trigger()
		}
	}
}
