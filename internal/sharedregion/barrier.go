//go:build linux && cgo

package sharedregion

/*
#include <stdint.h>

// x86-64 store fence: all prior stores are globally visible before any
// subsequent store.
static inline void sfence_impl(void) {
    __asm__ __volatile__("sfence" ::: "memory");
}

// x86-64 full memory fence: all prior memory operations complete before
// any subsequent memory operation.
static inline void mfence_impl(void) {
    __asm__ __volatile__("mfence" ::: "memory");
}
*/
import "C"

// sfence issues a store fence (x86 SFENCE). ListMP/HeapMemMP/HeapMultiBufMP
// call this after mutating a shared node's next/prev, per spec.md §4.E's
// write-back-invalidate discipline.
func sfence() {
	C.sfence_impl()
}

// mfence issues a full memory fence (x86 MFENCE), used before reading a
// shared node that another processor may have just mutated.
func mfence() {
	C.mfence_impl()
}
