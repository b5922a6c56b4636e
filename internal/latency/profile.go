package latency

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bandrt/bandrt/internal/banderr"
	"github.com/bandrt/bandrt/internal/ids"
	"github.com/bandrt/bandrt/internal/modelspec"
)

// WorkerTopology describes the per-worker configuration the profile hash is
// computed over, so a persisted profile is refused on any device-mapping
// change (spec.md §4.B, "profile hash").
type WorkerTopology struct {
	WorkerID    ids.WorkerId
	Device      ids.DeviceFlag
	NumThreads  int
	CPUMask     ids.CPUMaskFlag
}

// ProfileHash computes a digest over worker topology per spec.md §4.B.
func ProfileHash(workers []WorkerTopology) uint64 {
	sorted := append([]WorkerTopology(nil), workers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].WorkerID < sorted[j].WorkerID })

	h := fnv.New64a()
	fmt.Fprintf(h, "n=%d;", len(sorted))
	for _, w := range sorted {
		fmt.Fprintf(h, "%d:%d:%d:%d;", w.WorkerID, w.Device, w.NumThreads, w.CPUMask)
	}
	return h.Sum64()
}

// latencyEntry is the persisted (profiled, moving_averaged) pair.
type latencyEntry struct {
	Profiled      float64 `json:"profiled"`
	MovingAverage float64 `json:"moving_averaged"`
}

// profileFile is the top-level JSON shape from spec.md §6:
// {hash, models: {model_path: {unit_indices_csv: {worker_id: entry}}}}.
type profileFile struct {
	Hash   uint64                                          `json:"hash"`
	Models map[string]map[string]map[string]latencyEntry `json:"models"`
}

// ModelPaths maps a ModelId to the path string used as the persisted key.
// Estimator doesn't know model paths (that's the registry's job), so
// Dump/LoadProfile take it as an argument.
type ModelPaths map[ids.ModelId]string

// DumpProfile serializes the latency table to path in the §6 JSON shape,
// keyed by the supplied worker topology hash.
func (e *Estimator) DumpProfile(path string, workers []WorkerTopology, paths ModelPaths) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := profileFile{
		Hash:   ProfileHash(workers),
		Models: make(map[string]map[string]map[string]latencyEntry),
	}
	for key, rec := range e.table {
		modelPath, ok := paths[key.ModelID]
		if !ok {
			modelPath = strconv.Itoa(int(key.ModelID))
		}
		byUnits, ok := out.Models[modelPath]
		if !ok {
			byUnits = make(map[string]map[string]latencyEntry)
			out.Models[modelPath] = byUnits
		}
		unitsCSV := unitMaskToCSV(key.UnitIndices)
		byWorker, ok := byUnits[unitsCSV]
		if !ok {
			byWorker = make(map[string]latencyEntry)
			byUnits[unitsCSV] = byWorker
		}
		byWorker[strconv.Itoa(int(key.WorkerID))] = latencyEntry{
			Profiled:      rec.profiled,
			MovingAverage: rec.movingAverage,
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return banderr.New("Estimator.DumpProfile", banderr.Internal, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return banderr.New("Estimator.DumpProfile", banderr.Internal, err)
	}
	return nil
}

// LoadProfile reads a profile previously written by DumpProfile. Load is
// refused on hash mismatch: per spec.md §7, the estimator warns and
// continues with an empty table rather than returning an error, since a
// stale profile is not itself a caller mistake.
func (e *Estimator) LoadProfile(path string, workers []WorkerTopology, modelIDs map[string]ids.ModelId) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return banderr.New("Estimator.LoadProfile", banderr.NotFound, err)
	}
	var pf profileFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return banderr.New("Estimator.LoadProfile", banderr.Internal, err)
	}

	want := ProfileHash(workers)
	if pf.Hash != want {
		log.WithFields(logrus.Fields{
			"path": path, "got_hash": pf.Hash, "want_hash": want,
		}).Warn("LoadProfile: worker topology hash mismatch, continuing with empty latency table")
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for modelPath, byUnits := range pf.Models {
		modelID, ok := modelIDs[modelPath]
		if !ok {
			continue
		}
		for unitsCSV, byWorker := range byUnits {
			mask, err := unitMaskFromCSV(unitsCSV)
			if err != nil {
				continue
			}
			for workerStr, entry := range byWorker {
				wid, err := strconv.Atoi(workerStr)
				if err != nil {
					continue
				}
				key := modelspec.SubgraphKey{ModelID: modelID, WorkerID: ids.WorkerId(wid), UnitIndices: mask}
				e.table[key] = record{profiled: entry.Profiled, movingAverage: entry.MovingAverage}
			}
		}
	}
	return nil
}

func unitMaskToCSV(m modelspec.UnitMask) string {
	var parts []string
	for u := 0; u < 64; u++ {
		if m.Set(u) {
			parts = append(parts, strconv.Itoa(u))
		}
	}
	return strings.Join(parts, ",")
}

func unitMaskFromCSV(csv string) (modelspec.UnitMask, error) {
	var m modelspec.UnitMask
	if csv == "" {
		return m, nil
	}
	for _, p := range strings.Split(csv, ",") {
		u, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, err
		}
		m = m.With(u)
	}
	return m, nil
}
