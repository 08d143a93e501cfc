package task

import (
	"log/slog"
	"runtime"
	"sync"

	"github.com/tinyrange/rvos/internal/hw/riscv"
	"github.com/tinyrange/rvos/internal/kernel/mm"
	"github.com/tinyrange/rvos/internal/kernel/timer"
	"github.com/tinyrange/rvos/internal/kernel/trap"
)

// SyscallTable is implemented by internal/kernel/syscall's Dispatcher. It
// is expressed as an interface here, rather than an import of that
// package, so that task (which the syscall layer must import to reach
// TaskControlBlock) never imports syscall back (spec §4.9 C9 sits above
// C7/C8 in the dependency order).
type SyscallTable interface {
	Dispatch(t *TaskControlBlock, id uint64, args [3]uint64) int64
}

// Processor is the single hart's scheduling state: the currently running
// task plus the per-task resume channels and the yielded channel that
// pass the hart back and forth (spec §3, §4.8); it keeps no idle-loop
// task context. Every user
// program runs on its own goroutine; Processor's run loop and
// SuspendCurrentAndRunNext/ExitCurrentAndRunNext form the Go channel
// handoff that stands in for __switch — see runtime.go.
type Processor struct {
	Log      *slog.Logger
	Firmware *riscv.Firmware
	Mem      *riscv.PhysMemory
	Syscalls SyscallTable
	Initproc *TaskControlBlock
	Gate     *trap.Gate

	// Alloc, TrampolinePPN and KernelSet are the address-space-building
	// dependencies a fork needs to clone a child's page table; Proc.Fork
	// (runtime.go) reaches them here rather than threading them through
	// the numeric syscall ABI, since building a new goroutine for the
	// child is itself outside that ABI's vocabulary (see runtime.go's
	// Fork doc comment).
	Alloc         *mm.FrameAllocator
	TrampolinePPN mm.PhysPageNum
	KernelSet     *mm.MemorySet

	// TickHz overrides the supervisor-timer preemption rate (spec §4.10);
	// zero means timer.TicksPerSecond (100 Hz).
	TickHz int

	mu      sync.Mutex
	current *TaskControlBlock
	resume  map[*TaskControlBlock]chan struct{}
	yielded chan struct{}
}

// NewProcessor builds an idle processor with no current task. Alloc,
// trampolinePPN and kernelSet are recorded for later use by forked
// children's address-space construction.
func NewProcessor(log *slog.Logger, fw *riscv.Firmware, mem *riscv.PhysMemory, alloc *mm.FrameAllocator, trampolinePPN mm.PhysPageNum, kernelSet *mm.MemorySet) *Processor {
	p := &Processor{
		Log:           log,
		Firmware:      fw,
		Mem:           mem,
		Alloc:         alloc,
		TrampolinePPN: trampolinePPN,
		KernelSet:     kernelSet,
		resume:        make(map[*TaskControlBlock]chan struct{}),
		yielded:       make(chan struct{}),
	}
	p.Gate = &trap.Gate{Handler: p}
	return p
}

func (p *Processor) resumeChan(t *TaskControlBlock) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.resume[t]
	if !ok {
		ch = make(chan struct{})
		p.resume[t] = ch
	}
	return ch
}

// Current returns the task presently assigned to this hart, or nil.
func (p *Processor) Current() *TaskControlBlock {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Spawn starts program running on a fresh goroutine bound to t, blocked
// until the run loop first schedules it.
func (p *Processor) Spawn(t *TaskControlBlock, program UserProgram) {
	resume := p.resumeChan(t)
	go func() {
		<-resume
		proc := &Proc{processor: p, task: t}
		program(proc)
		// A program that returns without calling Exit exits 0, matching
		// a C `main` falling off the end.
		p.ExitCurrentAndRunNext(0)
	}()
}

// Run is the idle loop (run_tasks, spec §4.8): repeatedly fetch the next
// ready task, hand it the hart via its resume channel, and block until it
// calls back through yielded. Returns once the ready queue is empty and
// no task is current — the hosted-model stand-in for a hart with no more
// work, which a real kernel would instead leave spinning for interrupts.
func (p *Processor) Run() {
	for {
		t := FetchTask()
		if t == nil {
			if p.Current() == nil {
				return
			}
			runtime.Gosched()
			continue
		}
		t.SetStatus(StatusRunning)
		p.mu.Lock()
		p.current = t
		p.mu.Unlock()

		p.resumeChan(t) <- struct{}{}
		<-p.yielded

		p.mu.Lock()
		p.current = nil
		p.mu.Unlock()
	}
}

// SuspendCurrentAndRunNext moves the running task Running -> Ready,
// re-enqueues it, and blocks the task's goroutine until its next turn
// (spec §4.8 suspend_current_and_run_next). Used by yield and by a
// blocking read with no input yet available.
func (p *Processor) SuspendCurrentAndRunNext() {
	t := p.Current()
	t.SetStatus(StatusReady)
	AddTask(t)
	p.yielded <- struct{}{}
	<-p.resumeChan(t)
}

// ReplaceCurrentAndRunNext ends the current task's goroutine and starts a
// fresh one bound to the same TaskControlBlock running program — the
// hosted model's rendering of a successful exec() replacing the
// instruction stream and never returning to the code that called it
// (spec §4.9 exec, §4.7). The task keeps its pid, kernel stack, and
// parent/child graph; only its address space (already swapped by
// TaskControlBlock.Exec) and its running code change.
func (p *Processor) ReplaceCurrentAndRunNext(program UserProgram) {
	t := p.Current()
	t.SetStatus(StatusReady)
	AddTask(t)
	p.Spawn(t, program)
	p.yielded <- struct{}{}
	runtime.Goexit()
}

// ExitCurrentAndRunNext applies exit semantics to the running task and
// ends its goroutine — "schedule with a throwaway outgoing context: no
// need to save" (spec §4.8). If the exiting task is INITPROC (pid 0) the
// firmware is shut down, success iff code == 0 (spec §4.8, §8).
func (p *Processor) ExitCurrentAndRunNext(code int32) {
	t := p.Current()
	t.Exit(code, p.Initproc)

	if t.PidValue() == 0 {
		p.Firmware.Shutdown(code != 0)
	}

	p.yielded <- struct{}{}
	runtime.Goexit()
}

// Syscall implements trap.Handler. Real hardware can deliver a timer
// interrupt at any instruction boundary while a task runs in user mode;
// a Go goroutine running a UserProgram closure has no such boundary for
// the scheduler to interrupt from outside, so this hosted model samples
// the timer at every syscall entry instead — the one point a task always
// calls back into the kernel. A tight loop that never syscalls will not
// be preempted; documented as a hosted-model fidelity gap, not a
// scheduling bug.
func (p *Processor) Syscall(id uint64, args [3]uint64) int64 {
	if p.Firmware.Clint.Pending() {
		p.TimerTick()
	}
	return p.Syscalls.Dispatch(p.Current(), id, args)
}

// Fault implements trap.Handler: logs and kills the current task with
// the exit code spec §7 assigns its cause class.
func (p *Processor) Fault(cause uint64) {
	t := p.Current()
	code := trap.FaultExitCode(cause)
	p.Log.Warn("task killed by fault", "pid", t.PidValue(), "cause", cause, "exit_code", code)
	p.ExitCurrentAndRunNext(code)
}

// TimerTick implements trap.Handler: arms the next tick and suspends the
// current task — it never kills one (spec §5 "Cancellation / timeouts:
// none. Timer ticks do not kill.").
func (p *Processor) TimerTick() {
	if p.TickHz > 0 {
		timer.SetNextTriggerHz(p.Firmware, p.TickHz)
	} else {
		timer.SetNextTrigger(p.Firmware)
	}
	p.SuspendCurrentAndRunNext()
}
