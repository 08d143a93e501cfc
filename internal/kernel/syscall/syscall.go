// Package syscall implements C9's thin dispatch table for eight of the
// nine syscall ids spec §4.9 lists (fork is not dispatched here:
// task.Proc.Fork calls TaskControlBlock.Fork directly), each translating
// user pointers through the
// calling task's page table before touching them (spec §4.9 "All user
// pointers crossing the syscall boundary are validated by page-table
// translation").
package syscall

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/tinyrange/rvos/internal/hw/riscv"
	"github.com/tinyrange/rvos/internal/kernel/abi"
	"github.com/tinyrange/rvos/internal/kernel/mm"
	"github.com/tinyrange/rvos/internal/kernel/task"
	"github.com/tinyrange/rvos/internal/kernel/timer"
)

// Dispatcher implements task.SyscallTable. It is the one place in the
// kernel that both touches guest physical memory on a task's behalf and
// calls back into the scheduler, so it is built with everything it needs
// already wired rather than reaching for package-level state.
type Dispatcher struct {
	Log      *slog.Logger
	Mem      *riscv.PhysMemory
	Firmware *riscv.Firmware

	Alloc         *mm.FrameAllocator
	TrampolinePPN mm.PhysPageNum
	KernelSet     *mm.MemorySet

	// Binaries is the embedded-ELF registry exec() looks names up in
	// (spec §4.9 exec, §6 "ELF intake").
	Binaries map[string][]byte

	// Programs pairs each Binaries entry with the Go closure that drives
	// its syscall ABI — see boot.Program's doc comment on the hosted
	// model's registered-program vs. interpreted-instructions split.
	Programs map[string]task.UserProgram

	// Suspend, Exit and Replace are the scheduler operations yield/read,
	// exit, and a successful exec need; expressed as callbacks rather
	// than an import of task.Processor so this package only ever needs
	// task.TaskControlBlock from the task package, never Processor
	// itself.
	Suspend func()
	Exit    func(code int32)
	Replace func(program task.UserProgram)
}

// Dispatch routes a syscall to its handler and returns the value to
// leave in a0, per the id table in spec §4.9. An id without a case below,
// abi.SysFork included, is treated as a kernel-internal invariant
// violation (spec §7) and panics.
func (d *Dispatcher) Dispatch(t *task.TaskControlBlock, id uint64, args [3]uint64) int64 {
	switch id {
	case abi.SysRead:
		return d.sysRead(t, args[0], mm.VirtAddr(args[1]), args[2])
	case abi.SysWrite:
		return d.sysWrite(t, args[0], mm.VirtAddr(args[1]), args[2])
	case abi.SysYield:
		d.Suspend()
		return 0
	case abi.SysGetTime:
		return int64(timer.GetTimeMs(d.Firmware.Clint))
	case abi.SysGetPid:
		return int64(t.PidValue())
	case abi.SysExec:
		return d.sysExec(t, mm.VirtAddr(args[0]))
	case abi.SysWaitPid:
		return d.sysWaitPid(t, int64(args[0]), mm.VirtAddr(args[1]))
	case abi.SysExit:
		d.Exit(int32(uint32(args[0])))
		panic("syscall: Exit callback returned")
	default:
		panic(fmt.Sprintf("syscall: unknown syscall id %d", id))
	}
}

// sysRead implements fd=0 blocking single-byte console read: it suspends
// the calling task and retries until the firmware console has a byte
// available, the hosted-model rendering of "yields while firmware
// returns 0" (spec §4.9, §7).
func (d *Dispatcher) sysRead(t *task.TaskControlBlock, fd uint64, buf mm.VirtAddr, length uint64) int64 {
	if fd != abi.FdStdin || length == 0 {
		panic("syscall: read on unsupported fd")
	}
	var ch byte
	for {
		b, ok := d.Firmware.ConsoleGetchar()
		if ok {
			ch = b
			break
		}
		d.Suspend()
	}
	bufs, err := mm.TranslatedByteBuffer(d.Mem, t.Token(), buf, 1)
	if err != nil {
		panic(err)
	}
	bufs[0][0] = ch
	return 1
}

// sysWrite implements fd=1: translate the user buffer (it may span
// several physical frames) and write each byte to the firmware console
// in order, returning the number of bytes written (spec §4.9).
func (d *Dispatcher) sysWrite(t *task.TaskControlBlock, fd uint64, buf mm.VirtAddr, length uint64) int64 {
	if fd != abi.FdStdout {
		panic("syscall: write on unsupported fd")
	}
	bufs, err := mm.TranslatedByteBuffer(d.Mem, t.Token(), buf, length)
	if err != nil {
		panic(err)
	}
	for _, b := range bufs {
		for _, ch := range b {
			d.Firmware.ConsolePutchar(ch)
		}
	}
	return int64(length)
}

// sysExec reads a NUL-terminated path from user space, looks it up in
// the embedded binary registry, and replaces the task's address space
// with it (spec §4.9 exec): -1 if the name is unknown or fails to load.
//
// On success this never returns to its caller: real exec() replaces the
// calling process's instruction stream outright, so here it hands the
// task's continuation to its freshly registered program via Replace and
// ends the syscalling goroutine, exactly mirroring that "success means
// the old code is gone" contract rather than returning 0 into it.
func (d *Dispatcher) sysExec(t *task.TaskControlBlock, pathPtr mm.VirtAddr) int64 {
	name, err := mm.TranslatedStr(d.Mem, t.Token(), pathPtr)
	if err != nil {
		panic(err)
	}
	elfData, ok := d.Binaries[name]
	if !ok {
		return -1
	}
	program, ok := d.Programs[name]
	if !ok {
		panic(fmt.Sprintf("syscall: exec target %q has no registered program", name))
	}
	if err := t.Exec(d.Mem, d.Alloc, d.TrampolinePPN, d.KernelSet, elfData); err != nil {
		return -1
	}
	d.Replace(program)
	panic("syscall: Replace callback returned")
}

// sysWaitPid implements the non-blocking half of waitpid (spec §4.9):
// -1 if no child matches pid (pid == -1 matches any child), -2 if a
// match exists but hasn't exited, otherwise the reaped child's pid with
// its exit code written to codePtr. Removing the child is the point at
// which its last strong reference in this kernel's own bookkeeping
// disappears, so this also releases its pid and kernel stack (spec §4.7,
// §9 "Scoped resource release").
func (d *Dispatcher) sysWaitPid(t *task.TaskControlBlock, pid int64, codePtr mm.VirtAddr) int64 {
	children := t.Children()
	var match *task.TaskControlBlock
	for _, c := range children {
		if pid == -1 || int64(c.PidValue()) == pid {
			match = c
			if c.Status() == task.StatusZombie {
				break
			}
		}
	}
	if match == nil {
		return -1
	}
	if match.Status() != task.StatusZombie {
		return -2
	}

	t.RemoveChild(match)
	code := match.ExitCode()
	match.Release()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(code))
	bufs, err := mm.TranslatedByteBuffer(d.Mem, t.Token(), codePtr, 4)
	if err != nil {
		panic(err)
	}
	off := 0
	for _, b := range bufs {
		n := copy(b, buf[off:])
		off += n
	}
	return int64(match.PidValue())
}
