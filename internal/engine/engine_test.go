package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandrt/bandrt/internal/banderr"
	"github.com/bandrt/bandrt/internal/bjob"
	"github.com/bandrt/bandrt/internal/demobackend"
	"github.com/bandrt/bandrt/internal/ids"
	"github.com/bandrt/bandrt/internal/latency"
	"github.com/bandrt/bandrt/internal/modelspec"
	"github.com/bandrt/bandrt/internal/planner"
	"github.com/bandrt/bandrt/internal/scheduler"
	"github.com/bandrt/bandrt/internal/worker"
)

const testModelID ids.ModelId = 0

// twoUnitModel builds a 4-op descriptor split into two unit subgraphs (ops
// 2-3 unsupported on GPU), independent of which worker devices are
// registered — partitioning is a property of the model, not the fleet.
func twoUnitModel(t *testing.T) *modelspec.ModelSpec {
	t.Helper()
	ops := [][]int{nil, {0}, {1}, {2}}
	outs := [][]int{{0}, {1}, {2}, {3}}
	ms, err := modelspec.Build(modelspec.ModelDescriptor{
		NumOps:          4,
		NumTensors:      4,
		TensorTypes:     make([]modelspec.TensorType, 4),
		InputTensors:    []int{0},
		OutputTensors:   []int{3},
		OpInputTensors:  ops,
		OpOutputTensors: outs,
		UnsupportedOps:  map[ids.DeviceFlag][]int{ids.GPU: {2, 3}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, ms.NumUnitSubgraphs())
	return ms
}

func TestCandidateMaskMergesReadyContiguousUnits(t *testing.T) {
	ms := twoUnitModel(t)
	mask, ok := candidateMask(ms, ids.CPU, 0)
	require.True(t, ok)
	assert.Equal(t, 2, mask.Count(), "a CPU worker supports both units and should get them merged")
}

func TestCandidateMaskStopsAtUnsupportedUnit(t *testing.T) {
	ms := twoUnitModel(t)
	mask, ok := candidateMask(ms, ids.GPU, 0)
	require.True(t, ok)
	assert.Equal(t, modelspec.UnitMask(0).With(0), mask, "GPU cannot run unit 1, so only unit 0 is offered")
}

func TestCandidateMaskNoneWhenFullyResolved(t *testing.T) {
	ms := twoUnitModel(t)
	full := modelspec.UnitMask(0).With(0).With(1)
	_, ok := candidateMask(ms, ids.CPU, full)
	assert.False(t, ok)
}

func TestSingleUnitAlwaysOffersOneUnitAtATime(t *testing.T) {
	ms := twoUnitModel(t)
	mask, ok := singleUnit(ms, ids.CPU, 0)
	require.True(t, ok)
	assert.Equal(t, 1, mask.Count())
	assert.True(t, mask.Set(0))

	mask, ok = singleUnit(ms, ids.CPU, modelspec.UnitMask(0).With(0))
	require.True(t, ok)
	assert.True(t, mask.Set(1))
}

func TestSingleUnitRefusesUnsupportedNextUnit(t *testing.T) {
	ms := twoUnitModel(t)
	_, ok := singleUnit(ms, ids.GPU, modelspec.UnitMask(0).With(0))
	assert.False(t, ok, "GPU cannot run unit 1")
}

// testHarness wires a real Engine against demobackend, one CPU worker, and a
// real Planner, mirroring cmd/bench.go's construction sequence.
type testHarness struct {
	eng       *Engine
	backend   *demobackend.Backend
	estimator *latency.Estimator
	worker    *worker.Worker
	planner   *planner.Planner
}

func newHarness(t *testing.T, ms *modelspec.ModelSpec, policyKind scheduler.Kind) *testHarness {
	t.Helper()
	workerDevices := map[ids.WorkerId]ids.DeviceFlag{0: ids.CPU}
	backend := demobackend.New(4, workerDevices, map[ids.DeviceFlag]float64{ids.CPU: 50})
	estimator := latency.New(latency.Config{Alpha: 0.5}, backend, map[ids.WorkerId]latency.PauseGate{})
	eng := New(backend, backend, estimator)
	eng.RegisterModel(testModelID, ms)

	w := worker.New(worker.Config{ID: 0, Device: ids.CPU, Mode: worker.DeviceQueueMode}, eng)
	eng.RegisterWorker(w)
	estimator.RegisterWorker(w.ID(), w)

	policy, err := scheduler.New(policyKind, scheduler.Config{ScheduleWindowSize: 4})
	require.NoError(t, err)
	pl, err := planner.New(planner.Config{Policies: []scheduler.Policy{policy}})
	require.NoError(t, err)
	eng.SetPlanner(pl)
	pl.SetEngineView(eng)

	return &testHarness{eng: eng, backend: backend, estimator: estimator, worker: w, planner: pl}
}

func TestResidualJobLoopsBackUntilModelResolvedThenFiresOnce(t *testing.T) {
	h := newHarness(t, twoUnitModel(t), scheduler.RoundRobin)
	h.worker.Start()
	h.planner.Run()
	defer func() {
		h.worker.Stop()
		h.planner.Stop()
	}()

	var calls int
	var lastStatus bjob.Status
	done := make(chan struct{})
	h.planner.RegisterCallback(func(_ ids.JobId, status bjob.Status, _ error) {
		calls++
		lastStatus = status
		close(done)
	})

	job := bjob.New(testModelID)
	h.planner.EnqueueRequest(job, false)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never reached a terminal callback")
	}

	time.Sleep(20 * time.Millisecond) // guard against a spurious second callback
	assert.Equal(t, 1, calls, "exactly one terminal callback despite two unit-subgraph stages")
	assert.Equal(t, bjob.Success, lastStatus)
}

func TestEnqueueToWorkerRejectsUnknownWorker(t *testing.T) {
	h := newHarness(t, twoUnitModel(t), scheduler.FixedWorker)
	err := h.eng.EnqueueToWorker(bjob.New(testModelID), modelspec.SubgraphKey{WorkerID: 99})
	require.Error(t, err)
	assert.True(t, banderr.Is(err, banderr.NotFound))
}

func TestMarkFailedRoutesThroughPlannerCallback(t *testing.T) {
	h := newHarness(t, twoUnitModel(t), scheduler.FixedWorker)
	h.planner.Run()
	defer h.planner.Stop()

	var gotErr error
	done := make(chan struct{})
	h.planner.RegisterCallback(func(_ ids.JobId, _ bjob.Status, err error) {
		gotErr = err
		close(done)
	})

	job := bjob.New(testModelID)
	h.eng.MarkFailed(job, bjob.EnqueueFailed)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("MarkFailed did not reach the planner callback")
	}
	assert.Error(t, gotErr)
	assert.Equal(t, bjob.EnqueueFailed, job.Status)
}

func TestEnqueueToWorkerRejectsAlreadyBlownSLO(t *testing.T) {
	h := newHarness(t, twoUnitModel(t), scheduler.FixedWorker)
	h.planner.Run()
	defer h.planner.Stop()

	var gotStatus bjob.Status
	var gotErr error
	done := make(chan struct{})
	h.planner.RegisterCallback(func(_ ids.JobId, status bjob.Status, err error) {
		gotStatus = status
		gotErr = err
		close(done)
	})

	job := bjob.New(testModelID)
	job.SLOUs = 1 // blown the instant it's checked, since EnqueueTime defaults to 0
	key := modelspec.SubgraphKey{ModelID: testModelID, WorkerID: 0, UnitIndices: modelspec.UnitMask(0).With(0)}

	err := h.eng.EnqueueToWorker(job, key)
	require.NoError(t, err, "a resolved SLO violation is reported via MarkFailed, not a returned error")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SLO violation never reached the planner callback")
	}
	assert.Equal(t, bjob.SLOViolation, gotStatus)
	assert.Error(t, gotErr, "SLOViolation is a failed terminal status, so the callback carries an error")

	stats := h.worker.StatsSnapshot()
	assert.Equal(t, int64(0), stats.JobsProcessed, "the job must never reach the worker once its SLO is already blown")
}

func TestInvokeClassifiesDeviceErrorVsFatal(t *testing.T) {
	h := newHarness(t, twoUnitModel(t), scheduler.FixedWorker)
	key := modelspec.SubgraphKey{ModelID: testModelID, WorkerID: 0, UnitIndices: modelspec.UnitMask(0).With(0)}

	h.backend.FailNextInvoke(key)
	result := h.eng.Invoke(context.Background(), key)
	assert.Equal(t, worker.InvokeDeviceError, result.Outcome)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result = h.eng.Invoke(ctx, key)
	assert.Equal(t, worker.InvokeFatal, result.Outcome)
}
