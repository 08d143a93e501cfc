package task

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/tinyrange/rvos/internal/hw/riscv"
	"github.com/tinyrange/rvos/internal/kernel/abi"
	"github.com/tinyrange/rvos/internal/kernel/mm"
)

// fakeDispatcher implements SyscallTable with just enough of the ABI to
// exercise Processor's run loop without pulling in internal/kernel/syscall
// (which itself imports this package).
type fakeDispatcher struct {
	p        *Processor
	consoleW io.Writer
}

func (d *fakeDispatcher) Dispatch(t *TaskControlBlock, id uint64, args [3]uint64) int64 {
	switch id {
	case abi.SysWrite:
		buf, err := mm.TranslatedByteBuffer(d.p.Mem, t.Token(), mm.VirtAddr(args[1]), args[2])
		if err != nil {
			return -1
		}
		n := 0
		for _, b := range buf {
			m, _ := d.consoleW.Write(b)
			n += m
		}
		return int64(n)
	case abi.SysYield:
		d.p.SuspendCurrentAndRunNext()
		return 0
	case abi.SysExit:
		d.p.ExitCurrentAndRunNext(int32(args[0]))
		panic("unreachable")
	case abi.SysGetPid:
		return int64(t.PidValue())
	default:
		return -1
	}
}

func newTestProcessor(t *testing.T) (*Processor, *bytes.Buffer) {
	t.Helper()
	ResetPidAllocatorForTest()
	ResetReadyQueueForTest()

	var out bytes.Buffer
	mem, alloc, trampolinePPN, kernelSet := testKernel(t)
	console := riscv.NewConsole(&out)
	clint := riscv.NewClint()
	firmware := riscv.NewFirmware(console, clint)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	proc := NewProcessor(log, firmware, mem, alloc, trampolinePPN, kernelSet)
	proc.Syscalls = &fakeDispatcher{p: proc, consoleW: &out}
	return proc, &out
}

func TestProcessorRunSimpleExit(t *testing.T) {
	proc, out := newTestProcessor(t)

	tcb, err := NewTaskControlBlock(proc.Mem, proc.Alloc, proc.TrampolinePPN, proc.KernelSet, testELF())
	if err != nil {
		t.Fatalf("NewTaskControlBlock: %v", err)
	}
	proc.Initproc = tcb
	AddTask(tcb)
	proc.Spawn(tcb, func(p *Proc) {
		p.Write([]byte("hi"))
		p.Exit(0)
	})

	proc.Run()

	if out.String() != "hi" {
		t.Fatalf("console output = %q, want %q", out.String(), "hi")
	}
	if tcb.Status() != StatusZombie {
		t.Fatalf("status = %v, want Zombie", tcb.Status())
	}
	if tcb.ExitCode() != 0 {
		t.Fatalf("exit code = %d, want 0", tcb.ExitCode())
	}
}

func TestProcessorYieldInterleavesTasks(t *testing.T) {
	proc, out := newTestProcessor(t)

	mkTask := func() *TaskControlBlock {
		tcb, err := NewTaskControlBlock(proc.Mem, proc.Alloc, proc.TrampolinePPN, proc.KernelSet, testELF())
		if err != nil {
			t.Fatalf("NewTaskControlBlock: %v", err)
		}
		return tcb
	}
	a, b := mkTask(), mkTask()
	proc.Initproc = a
	AddTask(a)
	AddTask(b)

	proc.Spawn(a, func(p *Proc) {
		p.Write([]byte("A1"))
		p.Yield()
		p.Write([]byte("A2"))
		p.Exit(0)
	})
	proc.Spawn(b, func(p *Proc) {
		p.Write([]byte("B1"))
		p.Yield()
		p.Write([]byte("B2"))
		p.Exit(0)
	})

	proc.Run()

	if out.String() != "A1B1A2B2" {
		t.Fatalf("console output = %q, want round-robin interleave A1B1A2B2", out.String())
	}
}

func TestProcessorExitShutsDownFirmwareForInitproc(t *testing.T) {
	proc, _ := newTestProcessor(t)

	var failureSeen *bool
	proc.Firmware.ShutdownFunc = func(failure bool) {
		failureSeen = &failure
	}

	tcb, err := NewTaskControlBlock(proc.Mem, proc.Alloc, proc.TrampolinePPN, proc.KernelSet, testELF())
	if err != nil {
		t.Fatalf("NewTaskControlBlock: %v", err)
	}
	proc.Initproc = tcb
	AddTask(tcb)
	proc.Spawn(tcb, func(p *Proc) {
		p.Exit(3)
	})

	proc.Run()

	if failureSeen == nil {
		t.Fatal("expected firmware shutdown to be invoked for initproc exit")
	}
	if !*failureSeen {
		t.Fatal("nonzero exit code must report shutdown failure")
	}
}

func TestProcessorFaultKillsTaskWithFixedExitCode(t *testing.T) {
	proc, _ := newTestProcessor(t)

	initproc, err := NewTaskControlBlock(proc.Mem, proc.Alloc, proc.TrampolinePPN, proc.KernelSet, testELF())
	if err != nil {
		t.Fatalf("NewTaskControlBlock(init): %v", err)
	}
	proc.Initproc = initproc
	AddTask(initproc)
	proc.Spawn(initproc, func(p *Proc) { p.Exit(0) })

	child, err := NewTaskControlBlock(proc.Mem, proc.Alloc, proc.TrampolinePPN, proc.KernelSet, testELF())
	if err != nil {
		t.Fatalf("NewTaskControlBlock(child): %v", err)
	}
	AddTask(child)
	proc.Spawn(child, func(p *Proc) {
		p.Fault(riscv.CauseStorePageFault)
	})

	proc.Run()

	if child.Status() != StatusZombie {
		t.Fatalf("status = %v, want Zombie", child.Status())
	}
	if child.ExitCode() != -2 {
		t.Fatalf("exit code = %d, want -2", child.ExitCode())
	}
}
