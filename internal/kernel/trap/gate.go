package trap

import "github.com/tinyrange/rvos/internal/hw/riscv"

// Handler is implemented by the scheduler. Gate classifies the trap
// cause and calls back into exactly one of these methods, the Go
// counterpart of C6's cause-dispatch table (spec §4.6).
type Handler interface {
	// Syscall dispatches id/args per spec §4.9 and returns the value to
	// write into a0.
	Syscall(id uint64, args [3]uint64) int64
	// Fault terminates the current task for one of the synchronous
	// exception causes spec §4.6 kills a task for.
	Fault(cause uint64)
	// TimerTick arms the next tick and suspends the current task.
	TimerTick()
}

// Gate is the hosted-model stand-in for the trampoline page: every
// crossing from "user mode" into the kernel — a syscall, a simulated
// fault, a timer tick — goes through Dispatch, which plays __alltraps' role
// of classifying scause and routing to the trap handler, and leaves the
// supplied TrapContext updated the way __restore would load it back into
// registers.
type Gate struct {
	Handler Handler
}

// Ecall raises a UserEnvCall trap: syscall id in a7 (X[17]), args in
// a0-a2 (X[10..12]). On return, X[10] holds the syscall's result.
func (g *Gate) Ecall(tc *TrapContext, id uint64, args [3]uint64) int64 {
	tc.X[17] = id
	tc.X[10], tc.X[11], tc.X[12] = args[0], args[1], args[2]
	Dispatch(g.Handler, tc, riscv.CauseEcallFromU)
	return int64(tc.X[10])
}

// Fault raises one of the synchronous exception causes (spec §4.6) —
// the hosted-model substitute for a user program dereferencing a bad
// pointer or executing an illegal instruction.
func (g *Gate) Fault(tc *TrapContext, cause uint64) {
	Dispatch(g.Handler, tc, cause)
}

// TimerInterrupt raises the periodic supervisor-timer trap.
func (g *Gate) TimerInterrupt(tc *TrapContext) {
	Dispatch(g.Handler, tc, riscv.CauseSTimerInt)
}
