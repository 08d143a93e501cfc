// Package task implements the process abstraction layered on top of
// internal/kernel/mm: task control blocks, pid/kernel-stack lifecycle,
// and the single-hart round-robin scheduler (spec §3, §4.7, §4.8).
package task

import (
	"fmt"

	"gvisor.dev/gvisor/pkg/atomicbitops"

	"github.com/tinyrange/rvos/internal/kernel/excl"
)

// pidAllocState is a bump pointer plus a LIFO of released pids — the pid
// allocator is structurally identical to the frame allocator (spec §3
// "Pid", grounded in original_source/kernel/src/task/pid.rs PidAllocator).
// current is an atomicbitops.Uint64 for the same one-idiom-per-bump-counter
// reason as mm.frameAllocState.current.
type pidAllocState struct {
	current  atomicbitops.Uint64
	recycled []uint64
}

func (s *pidAllocState) alloc() uint64 {
	if n := len(s.recycled); n > 0 {
		pid := s.recycled[n-1]
		s.recycled = s.recycled[:n-1]
		return pid
	}
	pid := s.current.Load()
	s.current.Store(pid + 1)
	return pid
}

func (s *pidAllocState) dealloc(pid uint64) {
	if pid >= s.current.Load() {
		panic(fmt.Sprintf("task: dealloc of pid %d never allocated", pid))
	}
	for _, r := range s.recycled {
		if r == pid {
			panic(fmt.Sprintf("task: double free of pid %d", pid))
		}
	}
	s.recycled = append(s.recycled, pid)
}

var pidAllocator = excl.New(pidAllocState{})

// PidHandle is the scoped owner of one pid. The pid returns to the
// allocator when Release is called — the Go stand-in for PidHandle's
// Drop impl (spec §9 "Scoped resource release").
type PidHandle struct {
	pid      uint64
	released bool
}

// Pid returns the held pid value.
func (h *PidHandle) Pid() uint64 { return h.pid }

// Release returns the pid to the allocator. Must be called exactly once.
func (h *PidHandle) Release() {
	if h.released {
		panic("task: double release of PidHandle")
	}
	h.released = true
	st, release := pidAllocator.Exclusive()
	defer release()
	st.dealloc(h.pid)
}

// AllocPid hands out a fresh pid, preferring previously-released pids in
// LIFO order (spec §8 "Pid allocation").
func AllocPid() *PidHandle {
	st, release := pidAllocator.Exclusive()
	defer release()
	return &PidHandle{pid: st.alloc()}
}

// ResetPidAllocatorForTest rewinds the package-level pid allocator; only
// meant for test isolation since AllocPid is otherwise a process-wide
// singleton (spec §5 "Global mutable singletons").
func ResetPidAllocatorForTest() {
	st, release := pidAllocator.Exclusive()
	defer release()
	*st = pidAllocState{}
}
