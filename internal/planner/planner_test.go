package planner

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandrt/bandrt/internal/bjob"
	"github.com/bandrt/bandrt/internal/ids"
	"github.com/bandrt/bandrt/internal/modelspec"
	"github.com/bandrt/bandrt/internal/scheduler"
)

// fakeEngineView satisfies scheduler.EngineView with scripted answers, so
// Planner's thread and queueing logic can be tested without internal/engine.
type fakeEngineView struct{}

func (fakeEngineView) WorkerIDs() []ids.WorkerId                        { return nil }
func (fakeEngineView) IsValidWorker(ids.WorkerId) bool                  { return true }
func (fakeEngineView) WorkerWaitingTime(ids.WorkerId) float64           { return 0 }
func (fakeEngineView) LargestSubgraphKey(*bjob.Job, ids.WorkerId) (modelspec.SubgraphKey, bool) {
	return modelspec.SubgraphKey{}, false
}
func (fakeEngineView) AnySubgraphKey(*bjob.Job, ids.WorkerId) (modelspec.SubgraphKey, bool) {
	return modelspec.SubgraphKey{}, false
}
func (fakeEngineView) GetShortestLatency(*bjob.Job, map[ids.WorkerId]float64) (modelspec.SubgraphKey, float64, bool) {
	return modelspec.SubgraphKey{}, 0, false
}
func (fakeEngineView) ExpectedExecutionTime(modelspec.SubgraphKey) float64 { return 0 }
func (fakeEngineView) EnqueueToWorker(*bjob.Job, modelspec.SubgraphKey) error {
	return nil
}
func (fakeEngineView) MarkFailed(*bjob.Job, bjob.Status) {}

// recordingPolicy records every job it sees and drains it from the queue
// without dispatching it; used to observe planner dispatch ordering.
type recordingPolicy struct {
	mu   sync.Mutex
	seen []*bjob.Job
}

func (p *recordingPolicy) Schedule(queue *scheduler.LocalQueue, _ scheduler.EngineView, _ int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, j := range append([]*bjob.Job(nil), queue.All()...) {
		p.seen = append(p.seen, j)
		queue.RemoveJob(j)
	}
	return true
}

func (p *recordingPolicy) snapshot() []*bjob.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*bjob.Job(nil), p.seen...)
}

func TestNewRejectsBadPolicyCount(t *testing.T) {
	_, err := New(Config{Policies: nil})
	assert.Error(t, err)

	_, err = New(Config{Policies: []scheduler.Policy{&recordingPolicy{}, &recordingPolicy{}, &recordingPolicy{}}})
	assert.Error(t, err)
}

func TestNewRejectsMismatchedTopologies(t *testing.T) {
	_, err := New(Config{
		Policies:   []scheduler.Policy{&recordingPolicy{}, &recordingPolicy{}},
		Topologies: []scheduler.QueueTopology{scheduler.PerDeviceQueue, scheduler.GlobalQueue},
	})
	assert.Error(t, err)
}

func TestEnqueueRequestAssignsJobIDAndEnqueueTime(t *testing.T) {
	p, err := New(Config{Policies: []scheduler.Policy{&recordingPolicy{}}})
	require.NoError(t, err)

	job := &bjob.Job{ModelID: 1}
	id := p.EnqueueRequest(job, false)
	assert.NotZero(t, id)
	assert.Equal(t, job.JobID, id)
	assert.NotZero(t, job.EnqueueTime)
}

func TestPlannerDispatchesQueuedRequestsToPolicy(t *testing.T) {
	policy := &recordingPolicy{}
	p, err := New(Config{Policies: []scheduler.Policy{policy}})
	require.NoError(t, err)
	p.SetEngineView(fakeEngineView{})
	p.Run()
	defer p.Stop()

	job := bjob.New(1)
	p.EnqueueRequest(job, false)

	require.Eventually(t, func() bool { return len(policy.snapshot()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, job, policy.snapshot()[0])
}

func TestPlannerBlocksSchedulingUntilEngineViewSet(t *testing.T) {
	policy := &recordingPolicy{}
	p, err := New(Config{Policies: []scheduler.Policy{policy}})
	require.NoError(t, err)
	p.Run()

	job := bjob.New(1)
	p.EnqueueRequest(job, false)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, policy.snapshot(), "scheduling must not run before SetEngineView")

	p.SetEngineView(fakeEngineView{})
	require.Eventually(t, func() bool { return len(policy.snapshot()) == 1 }, time.Second, time.Millisecond)
	p.Stop()
}

func TestStopBeforeEngineViewDoesNotDeadlock(t *testing.T) {
	p, err := New(Config{Policies: []scheduler.Policy{&recordingPolicy{}}})
	require.NoError(t, err)
	p.Run()

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() deadlocked while waiting for an engine view that never arrived")
	}
}

func TestEnqueueFinishedJobFiresCallbacksAndUpdatesRing(t *testing.T) {
	p, err := New(Config{Policies: []scheduler.Policy{&recordingPolicy{}}})
	require.NoError(t, err)

	var gotID ids.JobId
	var gotStatus bjob.Status
	var gotErr error
	done := make(chan struct{})
	p.RegisterCallback(func(jobID ids.JobId, status bjob.Status, err error) {
		gotID, gotStatus, gotErr = jobID, status, err
		close(done)
	})

	job := bjob.New(1)
	job.Status = bjob.Success
	p.EnqueueFinishedJob(job)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}
	assert.Equal(t, job.JobID, gotID)
	assert.Equal(t, bjob.Success, gotStatus)
	assert.NoError(t, gotErr)

	statuses := p.Wait([]ids.JobId{job.JobID})
	assert.Equal(t, []bjob.Status{bjob.Success}, statuses)
}

func TestEnqueueFinishedJobPassesErrorForNonSuccessStatus(t *testing.T) {
	p, err := New(Config{Policies: []scheduler.Policy{&recordingPolicy{}}})
	require.NoError(t, err)

	done := make(chan error)
	p.RegisterCallback(func(_ ids.JobId, _ bjob.Status, err error) { done <- err })

	job := bjob.New(1)
	job.Status = bjob.InvokeFailure
	p.EnqueueFinishedJob(job)

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}
}

func TestRemoveCallbackStopsFutureNotifications(t *testing.T) {
	p, err := New(Config{Policies: []scheduler.Policy{&recordingPolicy{}}})
	require.NoError(t, err)

	var calls int
	var mu sync.Mutex
	id := p.RegisterCallback(func(ids.JobId, bjob.Status, error) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	p.RemoveCallback(id)

	job := bjob.New(1)
	job.Status = bjob.Success
	p.EnqueueFinishedJob(job)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}

func TestWaitAllBlocksUntilEverySubmittedJobFinishes(t *testing.T) {
	p, err := New(Config{Policies: []scheduler.Policy{&recordingPolicy{}}})
	require.NoError(t, err)

	job1 := bjob.New(1)
	job2 := bjob.New(1)
	p.EnqueueRequest(job1, false)
	p.EnqueueRequest(job2, false)

	waitDone := make(chan struct{})
	go func() {
		p.WaitAll()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		t.Fatal("WaitAll returned before any job finished")
	case <-time.After(20 * time.Millisecond):
	}

	job1.Status = bjob.Success
	p.EnqueueFinishedJob(job1)
	job2.Status = bjob.Success
	p.EnqueueFinishedJob(job2)

	select {
	case <-waitDone:
	case <-time.After(time.Second):
		t.Fatal("WaitAll did not return after both jobs finished")
	}
}

func TestMixedPolicySLOPartition(t *testing.T) {
	p, err := New(Config{
		Policies:   []scheduler.Policy{&recordingPolicy{}, &recordingPolicy{}},
		Topologies: []scheduler.QueueTopology{scheduler.PerDeviceQueue, scheduler.PerDeviceQueue},
	})
	require.NoError(t, err)

	sloJob := bjob.New(1)
	sloJob.SLOUs = 500
	bestEffort := bjob.New(1)

	assert.Equal(t, 0, p.slotFor(sloJob))
	assert.Equal(t, 1, p.slotFor(bestEffort))
}
