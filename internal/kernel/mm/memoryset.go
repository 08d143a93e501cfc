package mm

import (
	"fmt"

	"github.com/tinyrange/rvos/internal/hw/riscv"
)

// MapType selects a MapArea's mapping discipline: Identical VPNs equal
// their PPNs (used for the kernel's own address space); Framed VPNs each
// own a freshly allocated frame (spec §3 "Logical map area").
type MapType int

const (
	MapTypeIdentical MapType = iota
	MapTypeFramed
)

// MapArea is a half-open VPN range with a mapping discipline and
// permission flags. For Framed areas it also owns one FrameTracker per
// mapped VPN.
type MapArea struct {
	vpnRange VPNRange
	mapType  MapType
	perm     uint64 // riscv.Pte{R,W,X,U}; V is added by PageTable.Map
	frames   map[VirtPageNum]*FrameTracker
}

// NewMapArea builds an area covering [startVA.Floor(), endVA.Ceil()).
func NewMapArea(startVA, endVA VirtAddr, mapType MapType, perm uint64) *MapArea {
	return &MapArea{
		vpnRange: NewVPNRange(startVA.Floor(), endVA.Ceil()),
		mapType:  mapType,
		perm:     perm,
		frames:   make(map[VirtPageNum]*FrameTracker),
	}
}

// VPNRange reports the area's virtual page range.
func (a *MapArea) VPNRange() VPNRange { return a.vpnRange }

func (a *MapArea) mapOne(pt *PageTable, alloc *FrameAllocator, vpn VirtPageNum) {
	var ppn PhysPageNum
	switch a.mapType {
	case MapTypeIdentical:
		ppn = PhysPageNum(uint64(vpn))
	case MapTypeFramed:
		frame := alloc.Alloc()
		if frame == nil {
			panic("mm: out of physical frames mapping area")
		}
		ppn = frame.PPN()
		a.frames[vpn] = frame
	}
	pt.Map(vpn, ppn, a.perm)
}

// Map installs every VPN in the area's range into pt.
func (a *MapArea) Map(pt *PageTable, alloc *FrameAllocator) {
	a.vpnRange.All(func(vpn VirtPageNum) { a.mapOne(pt, alloc, vpn) })
}

// Unmap removes every VPN in the area's range from pt and frees any
// frames the area owned.
func (a *MapArea) Unmap(pt *PageTable) {
	a.vpnRange.All(func(vpn VirtPageNum) {
		pt.Unmap(vpn)
	})
	for _, f := range a.frames {
		f.Free()
	}
	a.frames = make(map[VirtPageNum]*FrameTracker)
}

// CopyData page-wise copies data into the area's Framed frames, starting
// at the area's first VPN. The remainder of the area (memsz beyond
// filesz) is left zero, since FrameTracker frames are zeroed at
// allocation (spec §4.4 from_elf).
func (a *MapArea) CopyData(mem *riscv.PhysMemory, data []byte) {
	if a.mapType != MapTypeFramed {
		panic("mm: CopyData on a non-Framed area")
	}
	vpn := a.vpnRange.Start
	for offset := 0; offset < len(data); offset += PageSize {
		end := offset + PageSize
		if end > len(data) {
			end = len(data)
		}
		frame, ok := a.frames[vpn]
		if !ok {
			panic("mm: CopyData past end of area")
		}
		if err := mem.WriteBytes(frame.PPN().Addr().Uint64(), data[offset:end]); err != nil {
			panic(err)
		}
		vpn++
	}
}

// MemorySet is a page table plus the ordered list of logical map areas
// that describe it — a process's or the kernel's whole address space
// (spec §3 "Memory set", §4.4).
type MemorySet struct {
	mem       *riscv.PhysMemory
	alloc     *FrameAllocator
	pageTable *PageTable
	areas     []*MapArea
}

// NewBare builds an empty address space: a fresh page table, no areas.
func NewBare(mem *riscv.PhysMemory, alloc *FrameAllocator) *MemorySet {
	return &MemorySet{mem: mem, alloc: alloc, pageTable: NewPageTable(mem, alloc)}
}

// MapTrampoline installs the single shared trampoline PTE directly,
// bypassing the area list — MapArea.Unmap would otherwise unmap a page
// that must survive every area drop (spec §9 "Trampoline page sharing").
func (ms *MemorySet) MapTrampoline(trampolinePPN PhysPageNum) {
	ms.pageTable.Map(TrampolineVPN(), trampolinePPN, riscv.PteR|riscv.PteX)
}

func (ms *MemorySet) push(area *MapArea, data []byte) {
	area.Map(ms.pageTable, ms.alloc)
	if data != nil {
		area.CopyData(ms.mem, data)
	}
	ms.areas = append(ms.areas, area)
}

// KernelSegment is one Identical-mapped region of the kernel's own
// address space (the Go stand-in for the source's linker symbols
// stext/etext/srodata/... — spec §4.4 new_kernel).
type KernelSegment struct {
	Start, End VirtAddr
	Perm       uint64
}

// NewKernel assembles the kernel's own address space: trampoline plus
// Identical areas for each kernel segment and MMIO window (spec §4.4
// new_kernel). This is the address space activated at the end of boot.
func NewKernel(mem *riscv.PhysMemory, alloc *FrameAllocator, trampolinePPN PhysPageNum, segments []KernelSegment, mmio []MMIORange) *MemorySet {
	ms := NewBare(mem, alloc)
	ms.MapTrampoline(trampolinePPN)
	for _, seg := range segments {
		ms.push(NewMapArea(seg.Start, seg.End, MapTypeIdentical, seg.Perm), nil)
	}
	for _, m := range mmio {
		ms.push(NewMapArea(VirtAddr(m.Start), VirtAddr(m.End), MapTypeIdentical, riscv.PteR|riscv.PteW), nil)
	}
	return ms
}

// FromELF builds a fresh user address space from an ELF binary's bytes:
// trampoline, one Framed area per LOAD segment (U plus the header's RWX
// bits), a guarded user stack immediately above the highest loaded VA,
// and a Framed trap-context page at the fixed TrapContext VA (spec §4.4
// from_elf). Returns the memory set, the initial user stack pointer, and
// the ELF entry point.
func FromELF(mem *riscv.PhysMemory, alloc *FrameAllocator, trampolinePPN PhysPageNum, data []byte) (ms *MemorySet, userSP VirtAddr, entry VirtAddr, err error) {
	parsed, err := parseELF(data)
	if err != nil {
		return nil, 0, 0, err
	}

	ms = NewBare(mem, alloc)
	ms.MapTrampoline(trampolinePPN)

	var maxVA uint64
	for _, seg := range parsed.Segments {
		start := VirtAddr(seg.VAddr)
		end := VirtAddr(seg.VAddr + seg.MemSz)
		area := NewMapArea(start, end, MapTypeFramed, segmentPerm(seg))
		ms.push(area, seg.Data)
		if top := seg.VAddr + seg.MemSz; top > maxVA {
			maxVA = top
		}
	}

	userStackBottom := VirtAddr(maxVA).Ceil().Addr() + PageSize // guard page
	userStackTop := userStackBottom + VirtAddr(UserStackSize)
	ms.push(NewMapArea(userStackBottom, userStackTop, MapTypeFramed, riscv.PteR|riscv.PteW|riscv.PteU), nil)

	ms.push(NewMapArea(TrapContext, TrapContext+PageSize, MapTypeFramed, riscv.PteR|riscv.PteW), nil)

	return ms, userStackTop, VirtAddr(parsed.Entry), nil
}

// FromExistedUserSpace clones src's user areas page-for-page into a fresh
// address space: same VPN ranges, types, and permissions, with every
// Framed page's bytes copied from the source's frames (spec §4.4
// from_existed_user_space, used by fork; no copy-on-write per
// spec.md's Non-goals).
func FromExistedUserSpace(mem *riscv.PhysMemory, alloc *FrameAllocator, trampolinePPN PhysPageNum, src *MemorySet) *MemorySet {
	ms := NewBare(mem, alloc)
	ms.MapTrampoline(trampolinePPN)

	for _, srcArea := range src.areas {
		startVA := srcArea.vpnRange.Start.Addr()
		endVA := srcArea.vpnRange.End.Addr()
		area := NewMapArea(startVA, endVA, srcArea.mapType, srcArea.perm)
		area.Map(ms.pageTable, ms.alloc)
		ms.areas = append(ms.areas, area)

		if srcArea.mapType == MapTypeFramed {
			srcArea.vpnRange.All(func(vpn VirtPageNum) {
				srcFrame, ok := srcArea.frames[vpn]
				if !ok {
					panic("mm: Framed area missing frame during fork")
				}
				dstFrame, ok := area.frames[vpn]
				if !ok {
					panic("mm: Framed area missing frame during fork")
				}
				copy(dstFrame.Bytes(), srcFrame.Bytes())
			})
		}
	}
	return ms
}

// Token returns the satp word for this address space.
func (ms *MemorySet) Token() uint64 { return ms.pageTable.Token() }

// Translate forwards to the page table.
func (ms *MemorySet) Translate(vpn VirtPageNum) (PTE, bool) { return ms.pageTable.Translate(vpn) }

// Activate is the hosted-model stand-in for `csrw satp; sfence.vma`: it
// hands back the token the caller must install as the current address
// space (spec §4.4 activate).
func (ms *MemorySet) Activate() uint64 { return ms.Token() }

// InsertFramedArea installs a new Framed area — used to install a task's
// kernel stack into the kernel memory set.
func (ms *MemorySet) InsertFramedArea(startVA, endVA VirtAddr, perm uint64) {
	ms.push(NewMapArea(startVA, endVA, MapTypeFramed, perm), nil)
}

// RemoveAreaWithStartVPN locates the area starting at vpn, unmaps it, and
// drops it, freeing its frames — used to tear down a task's kernel stack.
func (ms *MemorySet) RemoveAreaWithStartVPN(vpn VirtPageNum) {
	for i, a := range ms.areas {
		if a.vpnRange.Start == vpn {
			a.Unmap(ms.pageTable)
			ms.areas = append(ms.areas[:i], ms.areas[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("mm: no area starting at VPN %d", vpn))
}

// RecycleDataPages drops every map area, freeing their frames, but keeps
// the page table root alive — called from task exit to release user
// memory early without invalidating a still-referenced trap-context PPN
// (spec §4.4 recycle_data_pages).
func (ms *MemorySet) RecycleDataPages() {
	for _, a := range ms.areas {
		a.Unmap(ms.pageTable)
	}
	ms.areas = nil
}
