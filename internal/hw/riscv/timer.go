package riscv

import (
	"time"

	"gvisor.dev/gvisor/pkg/atomicbitops"
)

// ClockFreq is the platform timer frequency in Hz, matching QEMU virt's
// CLINT (spec §6).
const ClockFreq = 12_500_000

// Clint models the Core Local Interruptor's per-hart timer: a free-running
// mtime counter and a one-shot mtimecmp compare register armed by the
// supervisor-timer SBI call. Pending() reports whether the compare value
// has been reached; the caller (the kernel's Processor, which samples it
// at every syscall entry) is responsible for running its timer-tick
// handler, standing in for how a real hart's Mip.STIP bit surfaces into
// scause on the next trap check.
//
// Adapted from the teacher emulator's CLINT: that device mutated a CPU's
// Mip register directly so the instruction loop could see it; this one
// reports a plain boolean because nothing here decodes instructions.
type Clint struct {
	start     time.Time
	nsPerTick uint64
	mtimecmp  atomicbitops.Uint64
}

// NewClint creates a timer with no tick armed (mtimecmp = max).
func NewClint() *Clint {
	c := &Clint{
		start:     time.Now(),
		nsPerTick: uint64(time.Second) / ClockFreq,
	}
	c.mtimecmp.Store(^uint64(0))
	return c
}

// Mtime returns the current free-running counter value.
func (c *Clint) Mtime() uint64 {
	elapsed := uint64(time.Since(c.start))
	if c.nsPerTick == 0 {
		return 0
	}
	return elapsed / c.nsPerTick
}

// SetCompare arms the next timer interrupt at the given mtime value,
// implementing the SBI set_timer(u64) call (spec §6, §4.10).
func (c *Clint) SetCompare(mtime uint64) {
	c.mtimecmp.Store(mtime)
}

// Pending reports whether mtime has reached the armed compare value.
func (c *Clint) Pending() bool {
	return c.Mtime() >= c.mtimecmp.Load()
}
