package task

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/tinyrange/rvos/internal/hw/riscv"
	"github.com/tinyrange/rvos/internal/kernel/mm"
)

// buildTestELF64 mirrors internal/kernel/mm's test helper of the same
// shape: a minimal one-segment ELF64 RISC-V executable, built by hand since
// no RISC-V toolchain is available to produce a real one.
func buildTestELF64(vaddr, entry uint64, data []byte, memsz uint64) []byte {
	const ehdrSize = 64
	const phdrSize = 56

	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	buf.Write(make([]byte, 8))

	le := binary.LittleEndian
	put16 := func(v uint16) { var b [2]byte; le.PutUint16(b[:], v); buf.Write(b[:]) }
	put32 := func(v uint32) { var b [4]byte; le.PutUint32(b[:], v); buf.Write(b[:]) }
	put64 := func(v uint64) { var b [8]byte; le.PutUint64(b[:], v); buf.Write(b[:]) }

	put16(uint16(elf.ET_EXEC))
	put16(uint16(elf.EM_RISCV))
	put32(1)
	put64(entry)
	put64(ehdrSize)
	put64(0)
	put32(0)
	put16(ehdrSize)
	put16(phdrSize)
	put16(1)
	put16(0)
	put16(0)
	put16(0)

	dataOff := uint64(ehdrSize + phdrSize)
	put32(uint32(elf.PT_LOAD))
	put32(uint32(elf.PF_R | elf.PF_W | elf.PF_X))
	put64(dataOff)
	put64(vaddr)
	put64(vaddr)
	put64(uint64(len(data)))
	put64(memsz)
	put64(mm.PageSize)

	buf.Write(data)
	return buf.Bytes()
}

// testKernel builds the minimum singleton set NewTaskControlBlock and
// Fork/Exec need: physical memory, a frame allocator over it, a trampoline
// frame, and a bare kernel memory set — the same construction boot.Boot
// performs (internal/kernel/boot/boot.go), trimmed to what task's own tests
// exercise directly.
func testKernel(t *testing.T) (*riscv.PhysMemory, *mm.FrameAllocator, mm.PhysPageNum, *mm.MemorySet) {
	t.Helper()
	mem := riscv.NewPhysMemory(4 * 1024 * 1024)
	alloc := mm.NewFrameAllocator(mem, 0, mm.PhysPageNum(mem.Size()/mm.PageSize))
	trampoline := alloc.Alloc()
	if trampoline == nil {
		t.Fatal("out of memory allocating trampoline frame")
	}
	kernelSet := mm.NewKernel(mem, alloc, trampoline.PPN(), nil, nil)
	return mem, alloc, trampoline.PPN(), kernelSet
}

func testELF() []byte {
	data := bytes.Repeat([]byte{0xaa, 0xbb, 0xcc, 0xdd}, 4)
	return buildTestELF64(0x1000, 0x1000, data, 0x2000)
}

func TestNewTaskControlBlock(t *testing.T) {
	ResetPidAllocatorForTest()
	mem, alloc, trampolinePPN, kernelSet := testKernel(t)

	tcb, err := NewTaskControlBlock(mem, alloc, trampolinePPN, kernelSet, testELF())
	if err != nil {
		t.Fatalf("NewTaskControlBlock: %v", err)
	}
	if tcb.Status() != StatusReady {
		t.Fatalf("new task status = %v, want Ready", tcb.Status())
	}
	if tcb.BaseSize() == 0 {
		t.Fatal("expected nonzero base size")
	}
	if tcb.Token() == 0 {
		t.Fatal("expected nonzero satp token")
	}
}

func TestForkClonesAddressSpaceAndZeroesChildA0(t *testing.T) {
	ResetPidAllocatorForTest()
	mem, alloc, trampolinePPN, kernelSet := testKernel(t)

	parent, err := NewTaskControlBlock(mem, alloc, trampolinePPN, kernelSet, testELF())
	if err != nil {
		t.Fatalf("NewTaskControlBlock: %v", err)
	}
	parent.TrapContext().X[10] = 0xdead

	child := parent.Fork(mem, alloc, trampolinePPN, kernelSet)

	if child.PidValue() == parent.PidValue() {
		t.Fatal("child must have a distinct pid")
	}
	if child.Token() == parent.Token() {
		t.Fatal("child must have its own address space token")
	}
	if child.TrapContext().X[10] != 0 {
		t.Fatalf("child a0 = %#x, want 0", child.TrapContext().X[10])
	}
	if parent.TrapContext().X[10] != 0xdead {
		t.Fatal("fork must not disturb the parent's trap context")
	}
	if child.Parent() != parent {
		t.Fatal("child's weak parent pointer must resolve to parent")
	}
	children := parent.Children()
	if len(children) != 1 || children[0] != child {
		t.Fatalf("parent.Children() = %v, want [child]", children)
	}
}

func TestExecPreservesPidAndKernelStack(t *testing.T) {
	ResetPidAllocatorForTest()
	mem, alloc, trampolinePPN, kernelSet := testKernel(t)

	tcb, err := NewTaskControlBlock(mem, alloc, trampolinePPN, kernelSet, testELF())
	if err != nil {
		t.Fatalf("NewTaskControlBlock: %v", err)
	}
	pidBefore := tcb.PidValue()
	stackBefore := tcb.KernelStack

	newData := bytes.Repeat([]byte{0x11}, 8)
	if err := tcb.Exec(mem, alloc, trampolinePPN, kernelSet, buildTestELF64(0x2000, 0x2000, newData, 0x3000)); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if tcb.PidValue() != pidBefore {
		t.Fatal("exec must preserve pid")
	}
	if tcb.KernelStack != stackBefore {
		t.Fatal("exec must preserve kernel stack")
	}
}

func TestExitMarksZombieAndRehomesChildren(t *testing.T) {
	ResetPidAllocatorForTest()
	mem, alloc, trampolinePPN, kernelSet := testKernel(t)

	initproc, err := NewTaskControlBlock(mem, alloc, trampolinePPN, kernelSet, testELF())
	if err != nil {
		t.Fatalf("NewTaskControlBlock(init): %v", err)
	}
	parent, err := NewTaskControlBlock(mem, alloc, trampolinePPN, kernelSet, testELF())
	if err != nil {
		t.Fatalf("NewTaskControlBlock(parent): %v", err)
	}
	child := parent.Fork(mem, alloc, trampolinePPN, kernelSet)

	parent.Exit(7, initproc)

	if parent.Status() != StatusZombie {
		t.Fatalf("status = %v, want Zombie", parent.Status())
	}
	if parent.ExitCode() != 7 {
		t.Fatalf("exit code = %d, want 7", parent.ExitCode())
	}
	if len(parent.Children()) != 0 {
		t.Fatal("exit must clear the exiting task's children")
	}
	if child.Parent() != initproc {
		t.Fatal("exit must re-home children onto initproc")
	}
	initChildren := initproc.Children()
	if len(initChildren) != 1 || initChildren[0] != child {
		t.Fatal("initproc must adopt the orphaned child")
	}
}
