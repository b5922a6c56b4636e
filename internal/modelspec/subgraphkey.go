package modelspec

import (
	"fmt"
	"math/bits"

	"github.com/bandrt/bandrt/internal/ids"
)

// UnitMask is a bitmask over a model's unit subgraphs (at most 64, per
// spec.md's SubgraphKey definition).
type UnitMask uint64

// Set reports whether bit u is set.
func (m UnitMask) Set(u int) bool { return m&(1<<uint(u)) != 0 }

// With returns m with bit u set.
func (m UnitMask) With(u int) UnitMask { return m | (1 << uint(u)) }

// Count returns the number of set bits.
func (m UnitMask) Count() int { return bits.OnesCount64(uint64(m)) }

// SubgraphKey names a compiled, device-bound subgraph: (model, worker, units).
// Equality, ordering, and hashing are defined over all three fields, so it is
// usable directly as a map key.
type SubgraphKey struct {
	ModelID     ids.ModelId
	WorkerID    ids.WorkerId
	UnitIndices UnitMask
}

// Valid reports whether both ids are non-negative, per spec.md §3.
func (k SubgraphKey) Valid() bool {
	return k.ModelID >= 0 && k.WorkerID >= 0
}

func (k SubgraphKey) String() string {
	return fmt.Sprintf("SubgraphKey(model=%d, worker=%d, units=%064b)", k.ModelID, k.WorkerID, uint64(k.UnitIndices))
}

// Less gives the deterministic tie-break order every scheduling policy must
// use: worker id ascending, then unit indices ascending.
func Less(a, b SubgraphKey) bool {
	if a.WorkerID != b.WorkerID {
		return a.WorkerID < b.WorkerID
	}
	return a.UnitIndices < b.UnitIndices
}
