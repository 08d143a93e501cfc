package boot

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/tinyrange/rvos/internal/hw/riscv"
	"github.com/tinyrange/rvos/internal/kernel/mm"
	"github.com/tinyrange/rvos/internal/kernel/syscall"
	"github.com/tinyrange/rvos/internal/kernel/task"
	"github.com/tinyrange/rvos/internal/kernel/timer"
)

// Program pairs an embedded ELF image (loaded into a fresh address space
// exactly as spec §4.4/§6 describe) with the Go closure that actually
// drives its syscall ABI — the hosted model's split between "bytes that
// satisfy every page-table invariant" and "code that really runs" (see
// SPEC_FULL.md §0).
type Program struct {
	ELF []byte
	Run task.UserProgram
}

// Kernel holds every singleton the boot sequence wires together, handed
// back to the caller so it can drive Processor.Run and feed console
// input.
type Kernel struct {
	Processor *Processor
	Console   *riscv.Console
}

// Processor re-exports task.Processor so callers of this package don't
// need a second import just to call Run.
type Processor = task.Processor

// Boot performs spec §6's boot protocol in hosted-model terms: build
// physical memory and the frame allocator over it, construct the
// trampoline frame and the kernel's own address space, arm the first
// timer tick, register every manifest program with the syscall
// dispatcher for exec(), and insert INITPROC into the ready queue. It returns before running
// anything; the caller drives the machine with Processor.Run.
func Boot(log *slog.Logger, manifest Manifest, programs map[string]Program, consoleOut io.Writer, shutdown func(failure bool)) (*Kernel, error) {
	memBytes := manifest.MemoryMB * 1024 * 1024
	mem := riscv.NewPhysMemory(memBytes)

	console := riscv.NewConsole(consoleOut)
	clint := riscv.NewClint()
	firmware := riscv.NewFirmware(console, clint)
	firmware.ShutdownFunc = shutdown

	frameCount := mem.Size() / mm.PageSize
	alloc := mm.NewFrameAllocator(mem, 0, mm.PhysPageNum(frameCount))

	trampolineFrame := alloc.Alloc()
	if trampolineFrame == nil {
		return nil, fmt.Errorf("boot: out of memory allocating the trampoline frame")
	}
	trampolinePPN := trampolineFrame.PPN()

	// The hosted model has no linked kernel text/data/bss to identity-map
	// (spec §4.4 new_kernel's stext/etext/... segments have no referent
	// here, since the kernel itself is this Go process, not guest code);
	// only the trampoline and the MMIO window are installed up front.
	kernelSet := mm.NewKernel(mem, alloc, trampolinePPN, nil, mm.DefaultMMIO)

	if manifest.TickHz > 0 {
		timer.SetNextTriggerHz(firmware, manifest.TickHz)
	} else {
		timer.SetNextTrigger(firmware)
	}

	// Only the manifest's declared Programs (plus Init, always included by
	// Manifest.normalize) become exec()-able — spec §4.9's "look up
	// embedded ELF by name" looks up a name in this restricted set, not
	// the kernel binary's entire built-in registry.
	binaries := make(map[string][]byte, len(manifest.Programs))
	runs := make(map[string]task.UserProgram, len(manifest.Programs))
	for _, name := range manifest.Programs {
		prog, ok := programs[name]
		if !ok {
			return nil, fmt.Errorf("boot: manifest program %q not registered", name)
		}
		binaries[name] = prog.ELF
		runs[name] = prog.Run
	}

	dispatcher := &syscall.Dispatcher{
		Log:           log,
		Mem:           mem,
		Firmware:      firmware,
		Alloc:         alloc,
		TrampolinePPN: trampolinePPN,
		KernelSet:     kernelSet,
		Binaries:      binaries,
		Programs:      runs,
	}

	processor := task.NewProcessor(log, firmware, mem, alloc, trampolinePPN, kernelSet)
	processor.TickHz = manifest.TickHz
	processor.Syscalls = dispatcher
	dispatcher.Suspend = processor.SuspendCurrentAndRunNext
	dispatcher.Exit = processor.ExitCurrentAndRunNext
	dispatcher.Replace = processor.ReplaceCurrentAndRunNext

	initProgram, ok := programs[manifest.Init]
	if !ok {
		return nil, fmt.Errorf("boot: init binary %q not registered", manifest.Init)
	}
	initproc, err := task.NewTaskControlBlock(mem, alloc, trampolinePPN, kernelSet, initProgram.ELF)
	if err != nil {
		return nil, fmt.Errorf("boot: load init binary %q: %w", manifest.Init, err)
	}
	processor.Initproc = initproc
	task.AddTask(initproc)
	processor.Spawn(initproc, initProgram.Run)

	log.Info("boot complete", "memory_mb", manifest.MemoryMB, "init", manifest.Init, "programs", len(programs))
	return &Kernel{Processor: processor, Console: console}, nil
}
