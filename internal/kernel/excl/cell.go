// Package excl provides the single-writer "exclusive access cell" that
// spec §5/§9 requires every kernel-wide singleton to be wrapped in: frame
// allocator, pid allocator, ready queue, processor, kernel memory set, and
// each task's mutable inner state. On a single, non-preemptible hart this
// is not a concurrency primitive — it is a runtime check that a kernel
// entry point never recursively re-enters a structure it is already
// holding, which the spec calls a kernel bug.
//
// Grounded in the teacher's UPSafeCell-shaped usage of gVisor's mutex
// package (gvisor.dev/gvisor/pkg/sync is already a direct dependency of
// the teacher's go.mod); TryLock turns what would otherwise be a silent
// self-deadlock into an immediate panic.
package excl

import "gvisor.dev/gvisor/pkg/sync"

// Cell guards a value of type T behind a mutex that must never be
// re-entered.
type Cell[T any] struct {
	mu  sync.Mutex
	val T
}

// New wraps an initial value in a Cell.
func New[T any](v T) *Cell[T] {
	return &Cell[T]{val: v}
}

// Exclusive grants exclusive access to the cell's value. The caller must
// invoke the returned release func exactly once when done. A nested call
// on the same goroutine before release — the Go analogue of a recursive
// borrow — panics rather than deadlocking, surfacing the kernel bug
// immediately instead of hanging the hart.
func (c *Cell[T]) Exclusive() (val *T, release func()) {
	if !c.mu.TryLock() {
		panic("excl: nested exclusive access")
	}
	return &c.val, c.mu.Unlock
}
