// Package ids holds the small identifier and enum types shared across the
// scheduler core: ModelId, WorkerId, JobId, CallbackId, DeviceFlag, and
// CPUMaskFlag.
package ids

import "fmt"

// ModelId identifies a registered model. -1 means unassigned.
type ModelId int32

// WorkerId identifies a worker. -1 means unassigned.
type WorkerId int32

// JobId identifies one request lifetime. -1 means unassigned.
type JobId int64

// CallbackId is an opaque monotonic token returned by callback registration.
type CallbackId uint64

// Unassigned is the sentinel value for ModelId/WorkerId/JobId fields that
// have not yet been set.
const Unassigned = -1

// DeviceFlag enumerates the device kinds a worker may be bound to.
type DeviceFlag int

const (
	CPU DeviceFlag = iota
	GPU
	DSP
	NPU
	numDeviceFlags
)

func (d DeviceFlag) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	case DSP:
		return "DSP"
	case NPU:
		return "NPU"
	default:
		return fmt.Sprintf("DeviceFlag(%d)", int(d))
	}
}

// AllDeviceFlags lists every DeviceFlag in a stable order.
func AllDeviceFlags() []DeviceFlag {
	out := make([]DeviceFlag, 0, int(numDeviceFlags))
	for d := DeviceFlag(0); d < numDeviceFlags; d++ {
		out = append(out, d)
	}
	return out
}

// CPUMaskFlag enumerates the logical-CPU groupings derived at startup from
// per-core max-frequency classification.
type CPUMaskFlag int

const (
	All CPUMaskFlag = iota
	Little
	Big
	Primary
)

func (c CPUMaskFlag) String() string {
	switch c {
	case All:
		return "All"
	case Little:
		return "Little"
	case Big:
		return "Big"
	case Primary:
		return "Primary"
	default:
		return fmt.Sprintf("CPUMaskFlag(%d)", int(c))
	}
}
