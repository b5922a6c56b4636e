package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceFlagString(t *testing.T) {
	assert.Equal(t, "CPU", CPU.String())
	assert.Equal(t, "GPU", GPU.String())
	assert.Equal(t, "DSP", DSP.String())
	assert.Equal(t, "NPU", NPU.String())
	assert.Contains(t, DeviceFlag(99).String(), "DeviceFlag(99)")
}

func TestAllDeviceFlagsStableOrder(t *testing.T) {
	got := AllDeviceFlags()
	assert.Equal(t, []DeviceFlag{CPU, GPU, DSP, NPU}, got)
}

func TestCPUMaskFlagString(t *testing.T) {
	assert.Equal(t, "All", All.String())
	assert.Equal(t, "Little", Little.String())
	assert.Equal(t, "Big", Big.String())
	assert.Equal(t, "Primary", Primary.String())
	assert.Contains(t, CPUMaskFlag(42).String(), "CPUMaskFlag(42)")
}

func TestUnassignedSentinel(t *testing.T) {
	assert.Equal(t, -1, Unassigned)
	assert.EqualValues(t, Unassigned, int(WorkerId(Unassigned)))
}
