// Package trap implements the trap-entry/exit boundary between "user
// mode" and the kernel (spec §4.5, §4.6). In the hosted model (see
// SPEC_FULL.md §0) there is no hart to trap on: the trampoline's role —
// save user state, switch to the kernel's address space, dispatch,
// restore state, return — is played by Gate, an explicit Go function
// call that a registered user program invokes instead of executing
// `ecall`.
package trap

import "github.com/tinyrange/rvos/internal/hw/riscv"

// TrapContext is the per-task save area: 32 general-purpose registers,
// sstatus, sepc, and the three immutables needed to resume the kernel
// stack on return (spec §3 "Trap context").
type TrapContext struct {
	X       [32]uint64
	Sstatus uint64
	Sepc    uint64

	// KernelSatp, KernelSp, and TrapHandler mirror the three kernel
	// immutables __alltraps loads off the trap-context page. TrapHandler
	// has no referent in the hosted model (Gate dispatches via a direct
	// call, not a jump to a stored address) and is kept at 0; it is
	// retained as a field purely for structural fidelity with
	// app_init_context.
	KernelSatp  uint64
	KernelSp    uint64
	TrapHandler uint64
}

// AppInitContext builds the trap context a freshly-loaded or just-exec'd
// task sees on its first restore: sp = user stack top (x2), sepc = entry
// point, sstatus.SPP = User (spec §4.7).
func AppInitContext(entry, userSP, kernelSatp, kernelSp, trapHandler uint64) *TrapContext {
	tc := &TrapContext{
		Sepc:        entry,
		KernelSatp:  kernelSatp,
		KernelSp:    kernelSp,
		TrapHandler: trapHandler,
	}
	tc.X[2] = userSP
	tc.Sstatus = riscv.SstatusSPIE // SPP left clear: returns to U-mode
	return tc
}

// TaskContext is the callee-saved register frame used only by the
// task-switch routine to resume a suspended kernel stack at the same
// point it yielded (spec §3 "Task context", §4.5 __switch). In the
// hosted model the actual suspend/resume is a Go goroutine blocking on a
// channel (see internal/kernel/task), which already preserves the Go
// call stack; TaskContext is retained for structural fidelity, and
// NewTaskControlBlock and Fork record the kernel-stack top in Sp. Exec
// leaves it unchanged.
type TaskContext struct {
	Ra uint64
	Sp uint64
	S  [12]uint64
}

// GotoTrapReturn builds the task context a brand-new or freshly-forked
// task is given: Sp = kernel-stack top (spec §4.7). Ra is left 0: the
// hosted model has no trap_return code address, and nothing resumes a
// task through this frame.
func GotoTrapReturn(kstackTop uint64) TaskContext {
	return TaskContext{Sp: kstackTop}
}
