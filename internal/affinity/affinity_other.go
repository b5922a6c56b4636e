//go:build !linux

package affinity

// Pin is a no-op outside Linux: affinity pinning is a platform capability
// the core degrades gracefully without.
func Pin(cpus []int) error { return nil }

// Available reports whether affinity pinning is supported on this platform.
func Available() bool { return false }
