package engine

import (
	"context"

	"github.com/bandrt/bandrt/internal/bjob"
	"github.com/bandrt/bandrt/internal/ids"
	"github.com/bandrt/bandrt/internal/modelspec"
)

// Backend is the adapter contract an inference runtime implements to plug
// into the scheduler core (spec.md §6, "Backend adapter contract"). The
// core never inspects tensor contents or op semantics; it only asks the
// backend to describe, materialize, and run subgraphs.
type Backend interface {
	// InvestigateModelSpec returns everything the core needs to derive a
	// model's unit-subgraph partition.
	InvestigateModelSpec(modelID ids.ModelId) (modelspec.ModelDescriptor, error)
	// PrepareSubgraph materializes (compiles/allocates) key so it can later
	// be executed. Idempotent: preparing an already-prepared key is a no-op.
	PrepareSubgraph(key modelspec.SubgraphKey) error
	// ExecuteSubgraph runs a previously prepared subgraph to completion.
	ExecuteSubgraph(ctx context.Context, key modelspec.SubgraphKey) error
	// ForEachSubgraph visits every key the backend has materialized for
	// modelID, in no particular order.
	ForEachSubgraph(modelID ids.ModelId, visit func(modelspec.SubgraphKey))
	// HasSubgraph reports whether key has been materialized.
	HasSubgraph(key modelspec.SubgraphKey) bool
	// GetLargestSubgraphKey returns the most unit subgraphs the backend has
	// ever bundled into one materialized key for (modelID, worker).
	GetLargestSubgraphKey(modelID ids.ModelId, worker ids.WorkerId) (modelspec.SubgraphKey, bool)
	// ProbeDevice reports whether a device previously in DeviceError state
	// has recovered. A nil error means recovered.
	ProbeDevice(device ids.DeviceFlag) error
}

// TensorBroker is the narrow contract that moves tensor data in and out of
// a job's backend-owned buffers (spec.md §6, "Tensor broker contract"). The
// core treats InputHandle/OutputHandle as opaque.
type TensorBroker interface {
	CopyInput(job *bjob.Job) error
	CopyOutput(job *bjob.Job) error
}
