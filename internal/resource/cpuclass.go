package resource

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bandrt/bandrt/internal/ids"
)

// CPUClassification maps each CPUMaskFlag to the set of logical CPU ids it
// denotes, derived at startup by reading each enabled core's
// cpuinfo_max_freq and bucketing by frequency tier (spec.md §3).
type CPUClassification map[ids.CPUMaskFlag][]int

const cpuSysfsGlob = "/sys/devices/system/cpu/cpu[0-9]*/cpufreq/cpuinfo_max_freq"

// ClassifyCPUs reads per-core cpuinfo_max_freq and classifies logical CPUs
// into tiers: the lowest tier is Little, the highest single-core tier is
// Primary, the remainder is Big. If only one tier exists, all enabled cores
// are Big and Primary is empty. All is always every enabled core.
func ClassifyCPUs() (CPUClassification, error) {
	paths, err := filepath.Glob(cpuSysfsGlob)
	if err != nil {
		return nil, err
	}
	type cpuFreq struct {
		cpu  int
		freq int64
	}
	var freqs []cpuFreq
	for _, p := range paths {
		cpu, ok := parseCPUIndex(p)
		if !ok {
			continue
		}
		v, err := readSysfsFloat(p)
		if err != nil {
			continue
		}
		freqs = append(freqs, cpuFreq{cpu: cpu, freq: int64(v)})
	}
	sort.Slice(freqs, func(i, j int) bool { return freqs[i].cpu < freqs[j].cpu })

	result := CPUClassification{}
	for _, f := range freqs {
		result[ids.All] = append(result[ids.All], f.cpu)
	}
	if len(freqs) == 0 {
		return result, nil
	}

	tiers := map[int64][]int{}
	for _, f := range freqs {
		tiers[f.freq] = append(tiers[f.freq], f.cpu)
	}
	uniqueFreqs := make([]int64, 0, len(tiers))
	for freq := range tiers {
		uniqueFreqs = append(uniqueFreqs, freq)
	}
	sort.Slice(uniqueFreqs, func(i, j int) bool { return uniqueFreqs[i] < uniqueFreqs[j] })

	if len(uniqueFreqs) == 1 {
		result[ids.Big] = append([]int(nil), result[ids.All]...)
		return result, nil
	}

	lowest := uniqueFreqs[0]
	highest := uniqueFreqs[len(uniqueFreqs)-1]
	result[ids.Little] = tiers[lowest]

	// Primary is the highest tier only if it is a single core; otherwise
	// the highest tier folds into Big along with the middle tiers.
	if len(tiers[highest]) == 1 {
		result[ids.Primary] = tiers[highest]
		for _, freq := range uniqueFreqs[1 : len(uniqueFreqs)-1] {
			result[ids.Big] = append(result[ids.Big], tiers[freq]...)
		}
	} else {
		for _, freq := range uniqueFreqs[1:] {
			result[ids.Big] = append(result[ids.Big], tiers[freq]...)
		}
	}
	sort.Ints(result[ids.Big])
	return result, nil
}

func parseCPUIndex(path string) (int, bool) {
	// .../cpu<N>/cpufreq/cpuinfo_max_freq
	parts := strings.Split(path, string(os.PathSeparator))
	for _, p := range parts {
		if strings.HasPrefix(p, "cpu") {
			n, err := strconv.Atoi(strings.TrimPrefix(p, "cpu"))
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
