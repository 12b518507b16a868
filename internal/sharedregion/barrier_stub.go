//go:build !(linux && cgo)

package sharedregion

// sfence/mfence are no-ops outside linux+cgo builds. Go's memory model
// already gives sync/atomic operations acquire/release semantics, which is
// what every caller in this package actually depends on; the cgo fences
// are only a closer match to the real co-processor's non-coherent cache,
// simulated here as the teacher simulates SQE-tail visibility.
func sfence() {}
func mfence() {}
