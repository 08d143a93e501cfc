// Package timer wraps the firmware CLINT with the three operations the
// kernel's syscall and scheduling paths actually need (spec §4.10 C10).
package timer

import "github.com/tinyrange/rvos/internal/hw/riscv"

// TicksPerSecond is the supervisor-timer preemption rate (spec §4.10).
const TicksPerSecond = 100

// GetTime returns the raw free-running mtime counter value.
func GetTime(c *riscv.Clint) uint64 {
	return c.Mtime()
}

// GetTimeMs converts mtime to milliseconds since boot (spec §4.9 get_time,
// §4.10: `mtime * 1000 / CLOCK_FREQ`).
func GetTimeMs(c *riscv.Clint) uint64 {
	return c.Mtime() * 1000 / riscv.ClockFreq
}

// SetNextTrigger arms the next supervisor-timer interrupt one tick
// (CLOCK_FREQ / 100, i.e. 100 Hz) ahead of the current mtime (spec §4.10).
func SetNextTrigger(f *riscv.Firmware) {
	SetNextTriggerHz(f, TicksPerSecond)
}

// SetNextTriggerHz is SetNextTrigger generalized to an arbitrary
// preemption rate, used by cmd/rvkernel's -tick-hz flag.
func SetNextTriggerHz(f *riscv.Firmware, hz int) {
	f.SetTimer(f.Clint.Mtime() + riscv.ClockFreq/uint64(hz))
}
