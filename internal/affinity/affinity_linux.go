//go:build linux

// Package affinity pins the calling OS thread to a set of logical CPUs, the
// way worker threads and isolated profiling threads bind to a device's CPU
// mask (spec.md §4.C/§4.B).
package affinity

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin locks the calling goroutine to its OS thread and restricts that
// thread's scheduling affinity to cpus. A nil/empty cpus leaves affinity
// untouched but still locks the OS thread.
func Pin(cpus []int) error {
	runtime.LockOSThread()
	if len(cpus) == 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	return unix.SchedSetaffinity(0, &set)
}

// Available reports whether affinity pinning is supported on this platform.
func Available() bool { return true }
