package task

import (
	"fmt"

	"github.com/tinyrange/rvos/internal/kernel/abi"
	"github.com/tinyrange/rvos/internal/kernel/mm"
)

// UserProgram is the hosted model's rendering of a compiled RISC-V user
// binary (SPEC_FULL.md §0): a Go closure that drives the syscall ABI
// through a Proc exactly as compiled code driving `ecall` would. It runs
// on its own goroutine, one per task, started by Processor.Spawn.
type UserProgram func(p *Proc)

// Proc is the user-mode handle a UserProgram closure is given: every
// syscall method except Fork crosses into the kernel through the task's
// trap.Gate, so the ABI's argument-translation and return-value contract
// is exercised for real (spec §4.9), not bypassed because the "user code"
// happens to be Go rather than RISC-V machine code. Fork calls
// TaskControlBlock.Fork directly (see its doc comment).
type Proc struct {
	processor *Processor
	task      *TaskControlBlock
}

// Task returns the TCB this Proc is bound to.
func (p *Proc) Task() *TaskControlBlock { return p.task }

func (p *Proc) syscall(id uint64, args [3]uint64) int64 {
	return p.processor.Gate.Ecall(p.task.TrapContext(), id, args)
}

// scratchVA is a fixed location within the task's own (already mapped,
// R|W|U) initial user-stack page, used to stage syscall buffer arguments
// so that sys_write/sys_read genuinely exercise page-table translation
// rather than reading Go-native memory directly.
func (p *Proc) scratchVA() mm.VirtAddr {
	return mm.VirtAddr(p.task.BaseSize() - mm.UserStackSize)
}

func (p *Proc) pokeUser(va mm.VirtAddr, data []byte) {
	bufs, err := mm.TranslatedByteBuffer(p.processor.Mem, p.task.Token(), va, uint64(len(data)))
	if err != nil {
		panic(fmt.Sprintf("task: scratch buffer translation failed: %v", err))
	}
	off := 0
	for _, b := range bufs {
		n := copy(b, data[off:])
		off += n
	}
}

func (p *Proc) peekUser(va mm.VirtAddr, n int) []byte {
	bufs, err := mm.TranslatedByteBuffer(p.processor.Mem, p.task.Token(), va, uint64(n))
	if err != nil {
		panic(fmt.Sprintf("task: scratch buffer translation failed: %v", err))
	}
	out := make([]byte, 0, n)
	for _, b := range bufs {
		out = append(out, b...)
	}
	return out
}

// Write implements the write(1, buf, len) contract (spec §4.9 sys_write):
// stage data at a translated user VA, then issue the syscall.
func (p *Proc) Write(data []byte) int64 {
	va := p.scratchVA()
	p.pokeUser(va, data)
	return p.syscall(abi.SysWrite, [3]uint64{abi.FdStdout, uint64(va), uint64(len(data))})
}

// ReadByte blocks (via the kernel's internal yield loop) until one byte
// of console input is available, then returns it (spec §4.9 sys_read).
func (p *Proc) ReadByte() byte {
	va := p.scratchVA()
	p.syscall(abi.SysRead, [3]uint64{abi.FdStdin, uint64(va), 1})
	return p.peekUser(va, 1)[0]
}

// Exit never returns: it tears the task down and ends its goroutine
// (spec §4.9 sys_exit, §4.8).
func (p *Proc) Exit(code int32) {
	p.syscall(abi.SysExit, [3]uint64{uint64(uint32(code)), 0, 0})
	panic("task: unreachable after sys_exit")
}

// Fault simulates one of the synchronous exception causes spec §4.6 kills
// a task for — the hosted model's rendering of a user program
// dereferencing a bad pointer or executing an illegal instruction, since
// nothing here actually decodes loads/stores against guest memory (spec
// §8 scenario 4 "page fault kill").
func (p *Proc) Fault(cause uint64) {
	p.processor.Gate.Fault(p.task.TrapContext(), cause)
	panic("task: unreachable after fault")
}

// Yield gives up the hart for other ready tasks (spec §4.9 sys_yield).
func (p *Proc) Yield() {
	p.syscall(abi.SysYield, [3]uint64{})
}

// GetTime returns milliseconds since boot (spec §4.9, §4.10).
func (p *Proc) GetTime() int64 {
	return p.syscall(abi.SysGetTime, [3]uint64{})
}

// GetPid returns the task's own pid.
func (p *Proc) GetPid() int64 {
	return p.syscall(abi.SysGetPid, [3]uint64{})
}

// Fork spawns a child task that begins by running childProgram, and
// returns the child's pid to the caller (spec §4.9 sys_fork, §4.7 fork).
//
// Go cannot duplicate a goroutine's call stack the way fork() duplicates
// a process's, so unlike the source the child's continuation is supplied
// explicitly rather than inferred by both branches observing Fork's
// return value (0 vs pid); a real compiled RISC-V child, after the
// kernel's Fork clones its address space and zeroes its trap context's
// a0, simply resumes the very next instruction, which this model cannot
// replay. TaskControlBlock.Fork, the memory-set clone, and the zeroed
// child return register are otherwise implemented exactly as spec'd —
// only this outer convenience wrapper's shape differs.
func (p *Proc) Fork(childProgram UserProgram) int64 {
	child := p.task.Fork(p.processor.Mem, p.processor.Alloc, p.processor.TrampolinePPN, p.processor.KernelSet)
	AddTask(child)
	p.processor.Spawn(child, childProgram)
	return int64(child.PidValue())
}

// Exec replaces the task's address space with the named embedded binary,
// looked up in the syscall dispatcher's binary registry (spec §4.9
// sys_exec). It returns -1 if name is not found or fails to load. On
// success it does not return: the calling goroutine ends and the named
// program starts on a fresh one (Processor.ReplaceCurrentAndRunNext).
func (p *Proc) Exec(name string) int64 {
	va := p.scratchVA()
	p.pokeUser(va, append([]byte(name), 0))
	return p.syscall(abi.SysExec, [3]uint64{uint64(va), 0, 0})
}

// WaitPid implements the non-blocking half of waitpid (spec §4.9): -1 if
// no matching child exists, -2 if one exists but hasn't exited yet,
// otherwise the reaped child's pid with code populated. Callers loop over
// Yield themselves on -2, matching "the user-space library loops over
// with yield" (spec §7).
func (p *Proc) WaitPid(pid int64) (result int64, code int32) {
	va := p.scratchVA()
	result = p.syscall(abi.SysWaitPid, [3]uint64{uint64(pid), uint64(va), 0})
	if result > 0 {
		buf := p.peekUser(va, 4)
		code = int32(uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24)
	}
	return result, code
}
