// Package modelspec holds the immutable per-model description: op and
// tensor metadata, per-device support, and the derived unit-subgraph
// partition with its dependency bitmask (spec.md §3, Component C).
package modelspec

import (
	"sort"

	"github.com/bandrt/bandrt/internal/banderr"
	"github.com/bandrt/bandrt/internal/ids"
)

// TensorType mirrors the handful of tensor element types the core cares
// about for sizing, never for numerical semantics (those belong to the
// tensor-format buffer library, an external collaborator per spec.md §1).
type TensorType int

const (
	Float32 TensorType = iota
	Float16
	Int8
	Int32
	UInt8
)

// ModelDescriptor is the narrow contract the backend adapter's
// InvestigateModelSpec returns (spec.md §6): everything ModelSpec needs to
// derive the unit-subgraph partition, and nothing else.
type ModelDescriptor struct {
	NumOps    int
	NumTensors int
	TensorTypes []TensorType

	InputTensors  []int
	OutputTensors []int

	// OpInputTensors/OpOutputTensors hold, per op, the non-constant tensor
	// indices it consumes/produces.
	OpInputTensors  [][]int
	OpOutputTensors [][]int

	// UnsupportedOps[d] lists op indices device d cannot execute.
	UnsupportedOps map[ids.DeviceFlag][]int
	// UnavailableDevices lists devices absent on this platform entirely.
	UnavailableDevices []ids.DeviceFlag
}

// ModelSpec is immutable after Build.
type ModelSpec struct {
	numOps      int
	numTensors  int
	tensorTypes []TensorType

	inputTensors  map[int]struct{}
	outputTensors map[int]struct{}

	opInputTensors  [][]int
	opOutputTensors [][]int

	unsupportedOps     map[ids.DeviceFlag]map[int]struct{}
	unavailableDevices map[ids.DeviceFlag]struct{}

	// unitSubgraphOps[u] is the sorted list of op indices in unit u.
	unitSubgraphOps [][]int
	// unitSubgraphDeps[u] is the bitmask of units strictly before u that
	// produce a pure input of u.
	unitSubgraphDeps []UnitMask
}

// NumOps returns the op count.
func (m *ModelSpec) NumOps() int { return m.numOps }

// NumTensors returns the tensor count.
func (m *ModelSpec) NumTensors() int { return m.numTensors }

// TensorType returns the type of tensor t.
func (m *ModelSpec) TensorType(t int) TensorType { return m.tensorTypes[t] }

// IsOpSupported reports whether device d can execute op.
func (m *ModelSpec) IsOpSupported(d ids.DeviceFlag, op int) bool {
	if _, unavailable := m.unavailableDevices[d]; unavailable {
		return false
	}
	_, unsupported := m.unsupportedOps[d][op]
	return !unsupported
}

// NumUnitSubgraphs returns the number of unit subgraphs in the partition.
func (m *ModelSpec) NumUnitSubgraphs() int { return len(m.unitSubgraphOps) }

// UnitSubgraphOps returns the op indices belonging to unit u.
func (m *ModelSpec) UnitSubgraphOps(u int) []int { return m.unitSubgraphOps[u] }

// UnitSubgraphDependency returns the bitmask of units strictly before u whose
// outputs include a pure input of u.
func (m *ModelSpec) UnitSubgraphDependency(u int) UnitMask { return m.unitSubgraphDeps[u] }

// ExternalDependencies returns the bitmask of units outside `units` that a
// request resolving exactly `units` still needs, i.e. the union of each
// member's dependency mask with internal bits cleared.
func (m *ModelSpec) ExternalDependencies(units UnitMask) UnitMask {
	var deps UnitMask
	for u := 0; u < m.NumUnitSubgraphs(); u++ {
		if units.Set(u) {
			deps |= m.unitSubgraphDeps[u]
		}
	}
	return deps &^ units
}

// IsReady reports whether every dependency of units is already resolved.
func (m *ModelSpec) IsReady(units, resolved UnitMask) bool {
	return m.ExternalDependencies(units)&^resolved == 0
}

// SupportedByWorker reports whether every op in units is supported by
// device d.
func (m *ModelSpec) SupportedByWorker(d ids.DeviceFlag, units UnitMask) bool {
	for u := 0; u < m.NumUnitSubgraphs(); u++ {
		if !units.Set(u) {
			continue
		}
		for _, op := range m.unitSubgraphOps[u] {
			if !m.IsOpSupported(d, op) {
				return false
			}
		}
	}
	return true
}

// Build derives a ModelSpec from a backend ModelDescriptor: it validates the
// invariants of spec.md §3 and partitions the op sequence into unit
// subgraphs — maximal contiguous runs of ops sharing the same per-device
// support signature (spec.md GLOSSARY, "Unit subgraph").
func Build(d ModelDescriptor) (*ModelSpec, error) {
	if d.NumOps <= 0 {
		return nil, banderr.Newf("modelspec.Build", banderr.InvalidArgument, "num_ops must be positive, got %d", d.NumOps)
	}
	if len(d.OpInputTensors) != d.NumOps || len(d.OpOutputTensors) != d.NumOps {
		return nil, banderr.New("modelspec.Build", banderr.InvalidArgument, nil)
	}

	m := &ModelSpec{
		numOps:             d.NumOps,
		numTensors:         d.NumTensors,
		tensorTypes:        append([]TensorType(nil), d.TensorTypes...),
		inputTensors:       toSet(d.InputTensors),
		outputTensors:      toSet(d.OutputTensors),
		opInputTensors:     copySets(d.OpInputTensors),
		opOutputTensors:    copySets(d.OpOutputTensors),
		unsupportedOps:     make(map[ids.DeviceFlag]map[int]struct{}),
		unavailableDevices: make(map[ids.DeviceFlag]struct{}),
	}
	for _, dev := range d.UnavailableDevices {
		m.unavailableDevices[dev] = struct{}{}
	}
	for dev, ops := range d.UnsupportedOps {
		m.unsupportedOps[dev] = toSet(ops)
	}

	m.partition()
	if err := m.computeDependencies(); err != nil {
		return nil, err
	}
	return m, nil
}

// signature returns, for op, the set of devices able to execute it, encoded
// as a small bitmask over ids.AllDeviceFlags().
func (m *ModelSpec) signature(op int) uint8 {
	var sig uint8
	for i, dev := range ids.AllDeviceFlags() {
		if m.IsOpSupported(dev, op) {
			sig |= 1 << uint(i)
		}
	}
	return sig
}

// partition groups consecutive ops sharing the same device-support
// signature into unit subgraphs, preserving topological (op-index) order.
func (m *ModelSpec) partition() {
	var cur []int
	var curSig uint8
	flush := func() {
		if len(cur) > 0 {
			m.unitSubgraphOps = append(m.unitSubgraphOps, cur)
			cur = nil
		}
	}
	for op := 0; op < m.numOps; op++ {
		sig := m.signature(op)
		if len(cur) == 0 {
			curSig = sig
		} else if sig != curSig {
			flush()
			curSig = sig
		}
		cur = append(cur, op)
	}
	flush()
}

// computeDependencies mirrors the original Band algorithm
// (ModelSpec::SetUnitSubgraphs in band/model_spec.cc): child depends on
// parent iff parent's outputs intersect child's pure inputs (inputs not
// produced by any op inside child itself).
func (m *ModelSpec) computeDependencies() error {
	n := len(m.unitSubgraphOps)
	m.unitSubgraphDeps = make([]UnitMask, n)

	pureInputs := make([]map[int]struct{}, n)
	outputs := make([]map[int]struct{}, n)
	for u, ops := range m.unitSubgraphOps {
		in := make(map[int]struct{})
		out := make(map[int]struct{})
		for _, op := range ops {
			for _, t := range m.opInputTensors[op] {
				in[t] = struct{}{}
			}
			for _, t := range m.opOutputTensors[op] {
				out[t] = struct{}{}
			}
		}
		for t := range out {
			delete(in, t)
		}
		pureInputs[u] = in
		outputs[u] = out
	}

	for child := 0; child < n; child++ {
		var deps UnitMask
		for parent := 0; parent < child; parent++ {
			for t := range outputs[parent] {
				if _, ok := pureInputs[child][t]; ok {
					deps = deps.With(parent)
					break
				}
			}
		}
		m.unitSubgraphDeps[child] = deps
	}

	if n > 0 && len(m.unitSubgraphOps[n-1]) > 0 {
		last := m.unitSubgraphOps[n-1][len(m.unitSubgraphOps[n-1])-1]
		if last != m.numOps-1 {
			return banderr.New("modelspec.Build", banderr.Internal,
				errNotContiguous)
		}
	}
	return nil
}

var errNotContiguous = &contiguityError{}

type contiguityError struct{}

func (*contiguityError) Error() string {
	return "unit subgraph partition does not cover [0, num_ops) contiguously"
}

func toSet(xs []int) map[int]struct{} {
	s := make(map[int]struct{}, len(xs))
	for _, x := range xs {
		s[x] = struct{}{}
	}
	return s
}

func copySets(xs [][]int) [][]int {
	out := make([][]int, len(xs))
	for i, s := range xs {
		cp := append([]int(nil), s...)
		sort.Ints(cp)
		out[i] = cp
	}
	return out
}
