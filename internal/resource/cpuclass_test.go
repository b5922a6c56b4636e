package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPUIndex(t *testing.T) {
	n, ok := parseCPUIndex("/sys/devices/system/cpu/cpu7/cpufreq/cpuinfo_max_freq")
	require.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = parseCPUIndex("/sys/devices/system/cpu/cpufreq/cpuinfo_max_freq")
	assert.False(t, ok)
}

func TestClassifyCPUsNoMatchingSysfsIsEmptyNotError(t *testing.T) {
	// In sandboxes without the real cpufreq sysfs tree the glob matches
	// nothing; ClassifyCPUs must degrade to an empty classification rather
	// than error.
	classification, err := ClassifyCPUs()
	require.NoError(t, err)
	assert.NotNil(t, classification)
}
