package riscv

// Firmware is the OpenSBI legacy-extension surface the kernel calls into:
// console I/O, shutdown, and timer arming (spec §1, §6). It is the
// kernel's only door to the outside world; everything else (page tables,
// scheduling, syscalls) is self-contained.
//
// Adapted from the teacher emulator's HandleSBI dispatch, which decoded
// a7/a6 extension/function IDs off a live CPU. This kernel calls the four
// operations it actually needs directly, the way a Rust kernel calls
// `sbi_rt::console_putchar` rather than re-deriving the ecall ABI itself;
// the ecall encoding belongs to the firmware boundary, not the kernel.
type Firmware struct {
	Console *Console
	Clint   *Clint

	// ShutdownFunc is invoked by Shutdown; tests substitute a recorder.
	ShutdownFunc func(failure bool)
}

// NewFirmware wires a console and timer into a Firmware instance.
func NewFirmware(console *Console, clint *Clint) *Firmware {
	return &Firmware{Console: console, Clint: clint}
}

// ConsolePutchar writes one byte to the firmware console.
func (f *Firmware) ConsolePutchar(ch byte) {
	f.Console.PutChar(ch)
}

// ConsoleGetchar returns the next available input byte, if any.
func (f *Firmware) ConsoleGetchar() (byte, bool) {
	return f.Console.GetChar()
}

// SetTimer arms the next supervisor-timer interrupt at the given mtime.
func (f *Firmware) SetTimer(mtime uint64) {
	f.Clint.SetCompare(mtime)
}

// Shutdown halts the machine. failure indicates a non-zero INITPROC exit
// code (spec §4.8).
func (f *Firmware) Shutdown(failure bool) {
	if f.ShutdownFunc != nil {
		f.ShutdownFunc(failure)
	}
}
