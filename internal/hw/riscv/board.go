// Package riscv provides the RV64 SV39 board vocabulary the kernel is
// written against: privilege levels, SATP modes, page-table-entry flags,
// trap causes, and the handful of platform devices (QEMU virt, OpenSBI)
// the kernel treats as external collaborators.
package riscv

// Privilege levels, as encoded in sstatus.SPP.
const (
	PrivUser       uint8 = 0
	PrivSupervisor uint8 = 1
)

// SATP modes. SV39 is the only mode this kernel ever installs.
const (
	SatpModeBare = 0
	SatpModeSv39 = 8
)

// Page-table-entry flag bits, low byte of a 64-bit PTE.
const (
	PteV = 1 << 0 // Valid
	PteR = 1 << 1 // Readable
	PteW = 1 << 2 // Writable
	PteX = 1 << 3 // Executable
	PteU = 1 << 4 // User accessible
	PteG = 1 << 5 // Global
	PteA = 1 << 6 // Accessed
	PteD = 1 << 7 // Dirty
)

// Page geometry.
const (
	PageSize  = 4096
	PageShift = 12
	VpnBits   = 9 // bits per SV39 page-table level
)

// sstatus bits relevant to trap entry/exit.
const (
	SstatusSIE uint64 = 1 << 1
	SstatusSPIE uint64 = 1 << 5
	SstatusSPP uint64 = 1 << 8
)

// Trap causes (scause values). Interrupt causes have the top bit set;
// numeric values match the RISC-V privileged spec exactly as the kernel's
// trap handler switches on them.
const (
	CauseInsnAddrMisaligned  uint64 = 0
	CauseInsnAccessFault     uint64 = 1
	CauseIllegalInsn         uint64 = 2
	CauseBreakpoint          uint64 = 3
	CauseLoadAddrMisaligned  uint64 = 4
	CauseLoadAccessFault     uint64 = 5
	CauseStoreAddrMisaligned uint64 = 6
	CauseStoreAccessFault    uint64 = 7
	CauseEcallFromU          uint64 = 8
	CauseInsnPageFault       uint64 = 12
	CauseLoadPageFault       uint64 = 13
	CauseStorePageFault      uint64 = 15

	CauseSTimerInt uint64 = (1 << 63) | 5
)
