package mm

import (
	"fmt"

	"gvisor.dev/gvisor/pkg/atomicbitops"

	"github.com/tinyrange/rvos/internal/hw/riscv"
	"github.com/tinyrange/rvos/internal/kernel/excl"
)

// frameAllocState is the allocator's mutable core: a bump pointer over
// [current, end) plus a LIFO of recycled frames (spec §4.1). current is
// an atomicbitops.Uint64 rather than a bare uint64 so that every bump
// counter in the kernel (here and in task.pidAllocState) shares one
// correctly-aligned atomic-counter idiom, even though excl.Cell's mutex
// already serializes access to it.
type frameAllocState struct {
	current  atomicbitops.Uint64
	end      PhysPageNum
	recycled []PhysPageNum
}

func (s *frameAllocState) alloc() (PhysPageNum, bool) {
	if n := len(s.recycled); n > 0 {
		ppn := s.recycled[n-1]
		s.recycled = s.recycled[:n-1]
		return ppn, true
	}
	cur := PhysPageNum(s.current.Load())
	if cur >= s.end {
		return 0, false
	}
	s.current.Store(uint64(cur) + 1)
	return cur, true
}

// dealloc panics on a PPN that was never handed out or is already free —
// both indicate a kernel bug, not a recoverable condition (spec §4.1, §7).
func (s *frameAllocState) dealloc(ppn PhysPageNum) {
	if uint64(ppn) >= s.current.Load() {
		panic(fmt.Sprintf("mm: dealloc of frame %d never allocated", ppn))
	}
	for _, r := range s.recycled {
		if r == ppn {
			panic(fmt.Sprintf("mm: double free of frame %d", ppn))
		}
	}
	s.recycled = append(s.recycled, ppn)
}

// FrameAllocator hands out and reclaims single physical page frames from a
// fixed PPN range over a backing PhysMemory (spec §4.1).
type FrameAllocator struct {
	mem   *riscv.PhysMemory
	state *excl.Cell[frameAllocState]
}

// NewFrameAllocator creates an allocator over the half-open PPN range
// [start, end), initialized once the heap and backing memory are up (spec
// §6 boot protocol: "initializes the frame allocator with range
// [ceil(ekernel), floor(MEMORY_END))").
func NewFrameAllocator(mem *riscv.PhysMemory, start, end PhysPageNum) *FrameAllocator {
	st := frameAllocState{end: end}
	st.current.Store(uint64(start))
	return &FrameAllocator{
		mem:   mem,
		state: excl.New(st),
	}
}

// FrameTracker is the scoped owner of one physical page frame. It is
// zeroed at acquisition; the frame returns to the allocator when Free is
// called. Go has no destructors, so Free stands in for the source's Drop
// impl — every owner of a FrameTracker (a MapArea, a PageTable's interior
// frame list, a KernelStack) must call Free exactly once when it releases
// the frame (spec §3 "Frame tracker", §9 "Scoped resource release").
type FrameTracker struct {
	alloc *FrameAllocator
	ppn   PhysPageNum
	freed bool
}

// PPN returns the physical page number this tracker owns.
func (f *FrameTracker) PPN() PhysPageNum { return f.ppn }

// Bytes returns the live backing slice for this frame's physical page.
func (f *FrameTracker) Bytes() []byte {
	b, err := f.alloc.mem.Slice(f.ppn.Addr().Uint64(), PageSize)
	if err != nil {
		panic(err)
	}
	return b
}

// Free releases the frame back to its allocator. Calling Free more than
// once is a kernel bug and panics.
func (f *FrameTracker) Free() {
	if f.freed {
		panic("mm: double free of FrameTracker")
	}
	f.freed = true
	st, release := f.alloc.state.Exclusive()
	defer release()
	st.dealloc(f.ppn)
}

// Alloc hands out a fresh, zeroed frame, or nil if the range is
// exhausted — allocation exhaustion is a kernel-fatal condition per spec
// §7, so callers that cannot tolerate nil should panic themselves.
func (a *FrameAllocator) Alloc() *FrameTracker {
	st, release := a.state.Exclusive()
	ppn, ok := st.alloc()
	release()
	if !ok {
		return nil
	}
	if err := a.mem.Zero(PhysPageNum(ppn).Addr().Uint64(), PageSize); err != nil {
		panic(err)
	}
	return &FrameTracker{alloc: a, ppn: ppn}
}
