package mm

import (
	"github.com/tinyrange/rvos/internal/hw/riscv"
)

// PTE is a 64-bit SV39 page-table entry: low 8 bits are the flag set
// {V,R,W,X,U,G,A,D}, bits [53:10] hold a PPN (spec §3).
type PTE uint64

// NewPTE packs a PPN and flag bits into a page-table entry.
func NewPTE(ppn PhysPageNum, flags uint64) PTE {
	return PTE(uint64(ppn)<<10 | (flags & 0xff))
}

// PPN extracts the physical page number this entry points at.
func (p PTE) PPN() PhysPageNum { return PhysPageNum((uint64(p) >> 10) & ((1 << PpnWidthSv39) - 1)) }

// Flags returns the low 8 flag bits.
func (p PTE) Flags() uint64 { return uint64(p) & 0xff }

// IsValid reports the V bit.
func (p PTE) IsValid() bool { return uint64(p)&riscv.PteV != 0 }

// Readable reports the R bit.
func (p PTE) Readable() bool { return uint64(p)&riscv.PteR != 0 }

// Writable reports the W bit.
func (p PTE) Writable() bool { return uint64(p)&riscv.PteW != 0 }

// Executable reports the X bit.
func (p PTE) Executable() bool { return uint64(p)&riscv.PteX != 0 }

// pteRef addresses one page-table-entry slot in physical memory, letting
// the three-level walk read-modify-write a specific entry without copying
// it in and out by value at every call site.
type pteRef struct {
	mem    *riscv.PhysMemory
	offset uint64
}

func (r pteRef) get() PTE {
	raw, err := r.mem.Read64(r.offset)
	if err != nil {
		panic(err)
	}
	return PTE(raw)
}

func (r pteRef) set(p PTE) {
	if err := r.mem.Write64(r.offset, uint64(p)); err != nil {
		panic(err)
	}
}

// PageTable is a three-level SV39 page table: a root PPN plus the set of
// frame trackers backing every interior node the table itself owns. Leaf
// data frames belong to the MapArea that mapped them, not the table (spec
// §3 "Page table", §4.3).
type PageTable struct {
	mem     *riscv.PhysMemory
	alloc   *FrameAllocator
	rootPPN PhysPageNum
	frames  []*FrameTracker
}

// NewPageTable allocates a fresh root frame and an empty interior-frame
// set.
func NewPageTable(mem *riscv.PhysMemory, alloc *FrameAllocator) *PageTable {
	root := alloc.Alloc()
	if root == nil {
		panic("mm: out of physical frames allocating page table root")
	}
	return &PageTable{mem: mem, alloc: alloc, rootPPN: root.PPN(), frames: []*FrameTracker{root}}
}

// FromToken builds a read-only view of the page table described by a satp
// value, for translating a user pointer from kernel context. The
// returned table owns no frames and must never be used for Map/Unmap
// (spec §4.3).
func FromToken(mem *riscv.PhysMemory, satp uint64) *PageTable {
	return &PageTable{mem: mem, rootPPN: PhysPageNum(satp & ((1 << PpnWidthSv39) - 1))}
}

// Token returns the satp word selecting SV39 mode and this table's root.
func (pt *PageTable) Token() uint64 {
	return (uint64(riscv.SatpModeSv39) << 60) | uint64(pt.rootPPN)
}

// entryRef addresses entry slot idx of the page-table page at ppn.
func (pt *PageTable) entryRef(ppn PhysPageNum, idx uint64) pteRef {
	return pteRef{mem: pt.mem, offset: ppn.Addr().Uint64() + idx*8}
}

// findPTECreate walks the three levels, creating interior nodes as needed,
// and returns a reference to the terminal (leaf-level) entry.
func (pt *PageTable) findPTECreate(vpn VirtPageNum) pteRef {
	idx := vpn.Indices()
	ppn := pt.rootPPN
	for level := 0; level < 3; level++ {
		ref := pt.entryRef(ppn, idx[level])
		if level == 2 {
			return ref
		}
		pte := ref.get()
		if !pte.IsValid() {
			frame := pt.alloc.Alloc()
			if frame == nil {
				panic("mm: out of physical frames extending page table")
			}
			pt.frames = append(pt.frames, frame)
			ref.set(NewPTE(frame.PPN(), riscv.PteV))
			ppn = frame.PPN()
		} else {
			ppn = pte.PPN()
		}
	}
	panic("unreachable")
}

// findPTE is the non-mutating counterpart: it returns false on the first
// invalid entry at any level.
func (pt *PageTable) findPTE(vpn VirtPageNum) (pteRef, bool) {
	idx := vpn.Indices()
	ppn := pt.rootPPN
	for level := 0; level < 3; level++ {
		ref := pt.entryRef(ppn, idx[level])
		pte := ref.get()
		if level == 2 {
			if !pte.IsValid() {
				return pteRef{}, false
			}
			return ref, true
		}
		if !pte.IsValid() {
			return pteRef{}, false
		}
		ppn = pte.PPN()
	}
	panic("unreachable")
}

// Map installs vpn -> ppn with the given permission flags (V is added
// automatically). It panics if the terminal entry is already valid — a
// remap of a mapped VPN is a kernel bug (spec §4.3, §7).
func (pt *PageTable) Map(vpn VirtPageNum, ppn PhysPageNum, flags uint64) {
	ref := pt.findPTECreate(vpn)
	if ref.get().IsValid() {
		panic("mm: remap of already-mapped VPN")
	}
	ref.set(NewPTE(ppn, flags|riscv.PteV))
}

// Unmap clears vpn's mapping. It panics if vpn was not mapped.
func (pt *PageTable) Unmap(vpn VirtPageNum) {
	ref, ok := pt.findPTE(vpn)
	if !ok || !ref.get().IsValid() {
		panic("mm: unmap of unmapped VPN")
	}
	ref.set(PTE(0))
}

// Translate returns a copy of vpn's terminal PTE, and whether it is valid.
func (pt *PageTable) Translate(vpn VirtPageNum) (PTE, bool) {
	ref, ok := pt.findPTE(vpn)
	if !ok {
		return 0, false
	}
	pte := ref.get()
	if !pte.IsValid() {
		return 0, false
	}
	return pte, true
}
