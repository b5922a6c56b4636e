// Package demobackend is a synthetic backend adapter and tensor broker
// (spec.md §6) used by the bench command and by package tests in lieu of a
// real model-executor collaborator: it sleeps a device-dependent duration
// per subgraph instead of running actual ops.
package demobackend

import (
	"context"
	"sync"
	"time"

	"github.com/bandrt/bandrt/internal/banderr"
	"github.com/bandrt/bandrt/internal/bjob"
	"github.com/bandrt/bandrt/internal/ids"
	"github.com/bandrt/bandrt/internal/modelspec"
)

// Backend is a synthetic Backend/TensorBroker pair. ExecuteSubgraph sleeps
// per-device latencies scaled by unit count instead of running real ops,
// so the scheduler core can be exercised end-to-end without a real model
// executor.
type Backend struct {
	mu            sync.Mutex
	workerDevices map[ids.WorkerId]ids.DeviceFlag
	perDeviceUs   map[ids.DeviceFlag]float64
	failOnce      map[modelspec.SubgraphKey]bool
	numUnits      int
}

// New constructs a Backend whose ExecuteSubgraph costs perDeviceUs[d] *
// unit-count microseconds for a key targeting a worker bound to device d,
// per workerDevices.
func New(numUnits int, workerDevices map[ids.WorkerId]ids.DeviceFlag, perDeviceUs map[ids.DeviceFlag]float64) *Backend {
	return &Backend{
		workerDevices: workerDevices,
		perDeviceUs:   perDeviceUs,
		failOnce:      make(map[modelspec.SubgraphKey]bool),
		numUnits:      numUnits,
	}
}

// FailNextInvoke makes the next ExecuteSubgraph call for key return a
// retriable DeviceError instead of succeeding, for device-error-path tests.
func (b *Backend) FailNextInvoke(key modelspec.SubgraphKey) {
	b.mu.Lock()
	b.failOnce[key] = true
	b.mu.Unlock()
}

// InvestigateModelSpec returns a synthetic chain of numUnits ops, each
// consuming the previous op's single output tensor, with every op
// supported on every device (spec.md §6).
func (b *Backend) InvestigateModelSpec(_ ids.ModelId) (modelspec.ModelDescriptor, error) {
	n := b.numUnits
	if n <= 0 {
		n = 1
	}
	ops := make([][]int, n)
	outs := make([][]int, n)
	for i := 0; i < n; i++ {
		if i == 0 {
			ops[i] = nil
		} else {
			ops[i] = []int{i - 1}
		}
		outs[i] = []int{i}
	}
	return modelspec.ModelDescriptor{
		NumOps:          n,
		NumTensors:      n,
		TensorTypes:     make([]modelspec.TensorType, n),
		InputTensors:    []int{0},
		OutputTensors:   []int{n - 1},
		OpInputTensors:  ops,
		OpOutputTensors: outs,
		UnsupportedOps:  map[ids.DeviceFlag][]int{},
	}, nil
}

// PrepareSubgraph is a no-op: the demo backend needs no materialization.
func (b *Backend) PrepareSubgraph(modelspec.SubgraphKey) error { return nil }

// ExecuteSubgraph sleeps proportionally to the number of units in key, then
// returns nil, or a one-shot DeviceError if FailNextInvoke armed key.
func (b *Backend) ExecuteSubgraph(ctx context.Context, key modelspec.SubgraphKey) error {
	b.mu.Lock()
	if b.failOnce[key] {
		b.failOnce[key] = false
		b.mu.Unlock()
		return banderr.New("demobackend.ExecuteSubgraph", banderr.DeviceError, nil)
	}
	perUnit := b.perDeviceUs[b.workerDevices[key.WorkerID]]
	b.mu.Unlock()

	if perUnit <= 0 {
		perUnit = 1000
	}
	d := time.Duration(perUnit*float64(key.UnitIndices.Count())) * time.Microsecond
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForEachSubgraph visits one full-model key per registered worker.
func (b *Backend) ForEachSubgraph(modelID ids.ModelId, visit func(modelspec.SubgraphKey)) {
	var full modelspec.UnitMask
	for u := 0; u < b.numUnits; u++ {
		full = full.With(u)
	}
	b.mu.Lock()
	workers := make([]ids.WorkerId, 0, len(b.workerDevices))
	for w := range b.workerDevices {
		workers = append(workers, w)
	}
	b.mu.Unlock()
	for _, w := range workers {
		visit(modelspec.SubgraphKey{ModelID: modelID, WorkerID: w, UnitIndices: full})
	}
}

// HasSubgraph always reports true: the demo backend materializes any key on
// demand in PrepareSubgraph.
func (b *Backend) HasSubgraph(modelspec.SubgraphKey) bool { return true }

// GetLargestSubgraphKey returns a key spanning every unit for (modelID, worker).
func (b *Backend) GetLargestSubgraphKey(modelID ids.ModelId, worker ids.WorkerId) (modelspec.SubgraphKey, bool) {
	var full modelspec.UnitMask
	for u := 0; u < b.numUnits; u++ {
		full = full.With(u)
	}
	return modelspec.SubgraphKey{ModelID: modelID, WorkerID: worker, UnitIndices: full}, true
}

// ProbeDevice always reports recovered; the demo backend never models a
// sustained outage.
func (b *Backend) ProbeDevice(ids.DeviceFlag) error { return nil }

// CopyInput and CopyOutput are no-ops: the demo backend never allocates
// real tensor buffers.
func (b *Backend) CopyInput(*bjob.Job) error  { return nil }
func (b *Backend) CopyOutput(*bjob.Job) error { return nil }
