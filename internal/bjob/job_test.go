package bjob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandrt/bandrt/internal/ids"
	"github.com/bandrt/bandrt/internal/modelspec"
)

func TestNextJobIDMonotonicAndUnique(t *testing.T) {
	a := NextJobID()
	b := NextJobID()
	assert.NotEqual(t, a, b)
	assert.Less(t, int64(a), int64(b))
}

func TestNewJobDefaults(t *testing.T) {
	j := New(ids.ModelId(7))
	assert.Equal(t, ids.ModelId(7), j.ModelID)
	assert.Equal(t, Queued, j.Status)
	assert.EqualValues(t, -1, j.InvokeTime)
	assert.EqualValues(t, ids.Unassigned, j.TargetWorkerID)
}

func TestResubmitYieldsIndependentJobID(t *testing.T) {
	j1 := New(ids.ModelId(1))
	j2 := New(ids.ModelId(1))
	assert.NotEqual(t, j1.JobID, j2.JobID)
}

func buildTwoUnitModel(t *testing.T) *modelspec.ModelSpec {
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
		UnsupportedOps:  map[ids.DeviceFlag][]int{ids.GPU: {0, 1}},
	})
	require.NoError(t, err)
	return ms
}

func TestIsEnd(t *testing.T) {
	ms := buildTwoUnitModel(t)
	require.Equal(t, 2, ms.NumUnitSubgraphs())

	j := New(0)
	assert.False(t, j.IsEnd(ms))

	j.ResolvedUnitSubgraphs = j.ResolvedUnitSubgraphs.With(0)
	assert.False(t, j.IsEnd(ms))

	j.ResolvedUnitSubgraphs = j.ResolvedUnitSubgraphs.With(1)
	assert.True(t, j.IsEnd(ms))
}

func TestResidualPreservesJobIDAndAdvancesMask(t *testing.T) {
	j := New(5)
	j.SLOUs = 1000
	key := modelspec.SubgraphKey{ModelID: 5, WorkerID: 1, UnitIndices: modelspec.UnitMask(0).With(0)}

	follow := j.Residual(key, modelspec.UnitMask(0).With(0))

	assert.Equal(t, j.JobID, follow.JobID)
	assert.Equal(t, j.ModelID, follow.ModelID)
	assert.Equal(t, j.SLOUs, follow.SLOUs)
	assert.Equal(t, Queued, follow.Status)
	assert.EqualValues(t, -1, follow.InvokeTime)
	assert.True(t, follow.ResolvedUnitSubgraphs.Set(0))
	assert.Equal(t, []modelspec.SubgraphKey{key}, follow.PreviousSubgraphKeys)

	// Residual must not mutate the parent's slice in place.
	assert.Empty(t, j.PreviousSubgraphKeys)
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, Queued.IsTerminal())
	for _, s := range []Status{Success, SLOViolation, EnqueueFailed, InputCopyFailure, OutputCopyFailure, InvokeFailure} {
		assert.True(t, s.IsTerminal(), "status %v should be terminal", s)
	}
}
