package trap

import "github.com/tinyrange/rvos/internal/hw/riscv"

// Dispatch classifies scause and routes to the matching Handler method —
// C6's cause table (spec §4.6):
//
//	UserEnvCall                                   -> Syscall
//	Store/Load/Insn {Access,Page}Fault, IllegalInsn -> Fault
//	SupervisorTimer                                 -> TimerTick
//	anything else                                   -> kernel panic
//
// A real hart also advances sepc past the faulting ecall before
// dispatch; traps taken in supervisor mode are fatal per spec §1's
// Non-goals, which Dispatch enforces by panicking on an unrecognized
// cause rather than attempting recovery.
func Dispatch(h Handler, tc *TrapContext, cause uint64) {
	switch cause {
	case riscv.CauseEcallFromU:
		tc.Sepc += 4
		id := tc.X[17]
		args := [3]uint64{tc.X[10], tc.X[11], tc.X[12]}
		tc.X[10] = uint64(h.Syscall(id, args))
	case riscv.CauseStoreAccessFault, riscv.CauseStorePageFault,
		riscv.CauseLoadAccessFault, riscv.CauseLoadPageFault,
		riscv.CauseInsnAccessFault, riscv.CauseInsnPageFault,
		riscv.CauseIllegalInsn:
		h.Fault(cause)
	case riscv.CauseSTimerInt:
		h.TimerTick()
	default:
		panic("trap: fatal trap taken in supervisor mode")
	}
}

// FaultExitCode maps a fault cause to the fixed negative exit code spec
// §7 assigns it (Open Questions: "pick a fixed negative code per fault
// class and document it").
func FaultExitCode(cause uint64) int32 {
	switch cause {
	case riscv.CauseIllegalInsn:
		return -3
	default:
		return -2
	}
}
