package task

import (
	"github.com/tinyrange/rvos/internal/hw/riscv"
	"github.com/tinyrange/rvos/internal/kernel/mm"
)

// KernelStack is a pid's fixed-size virtual region in the kernel's own
// address space, laid out high-to-low with a one-page unmapped guard
// between consecutive stacks (spec §3 "Kernel stack", §6). It is backed
// by a Framed area installed into the kernel memory set on New and torn
// down on Release.
type KernelStack struct {
	pid       uint64
	kernelSet *mm.MemorySet
	bottom    mm.VirtAddr
	top       mm.VirtAddr
	released  bool
}

// NewKernelStack installs pid's kernel stack into the kernel's memory
// set.
func NewKernelStack(kernelSet *mm.MemorySet, pid uint64) *KernelStack {
	bottom, top := mm.KernelStackPosition(pid)
	kernelSet.InsertFramedArea(bottom, top, riscv.PteR|riscv.PteW)
	return &KernelStack{pid: pid, kernelSet: kernelSet, bottom: bottom, top: top}
}

// Top returns the initial stack pointer for this kernel stack.
func (k *KernelStack) Top() mm.VirtAddr { return k.top }

// Release unmaps the kernel stack's area and frees its frames — the Go
// stand-in for KernelStack's Drop impl.
func (k *KernelStack) Release() {
	if k.released {
		panic("task: double release of KernelStack")
	}
	k.released = true
	k.kernelSet.RemoveAreaWithStartVPN(k.bottom.Floor())
}
