//go:build linux && cgo

package ioring

/*
#include <stdint.h>

// x86-64 store fence to ensure all prior stores are globally visible
static inline void sfence_impl(void) {
    __asm__ __volatile__("sfence" ::: "memory");
}

// x86-64 full memory fence to ensure all prior memory operations are complete
static inline void mfence_impl(void) {
    __asm__ __volatile__("mfence" ::: "memory");
}
*/
import "C"

// sfence issues a store fence (x86 SFENCE instruction), ensuring the
// SQE write is globally visible before the tail update that exposes
// it to the kernel.
func sfence() {
	C.sfence_impl()
}

// mfence issues a full memory fence (x86 MFENCE instruction), used
// before reading the kernel-published CQ tail.
func mfence() {
	C.mfence_impl()
}
