package riscv

import (
	"io"
	"sync"
)

// Console is the firmware console device backing SBI's legacy
// console_putchar/console_getchar calls (§6 of the spec). Output is
// written through immediately; input is buffered so a getchar that races
// ahead of the host simply observes "no data yet" (ok == false), matching
// real OpenSBI's non-blocking legacy getchar.
//
// Adapted from the teacher emulator's UART: that device modeled 16550
// registers for an instruction-fetching CPU to poke at; this one exposes
// the two operations the kernel's firmware boundary actually uses.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	in  []byte
}

// NewConsole creates a console that writes to out. Input is supplied by
// the host calling PushInput (e.g. from a raw-mode terminal reader).
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// PutChar writes a single byte to the console's output stream.
func (c *Console) PutChar(ch byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out != nil {
		c.out.Write([]byte{ch})
	}
}

// GetChar returns the next buffered input byte, if any. ok is false when
// no input has arrived yet — callers must poll (matching the spec's
// read syscall, which yields and retries).
func (c *Console) GetChar() (ch byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.in) == 0 {
		return 0, false
	}
	ch = c.in[0]
	c.in = c.in[1:]
	return ch, true
}

// PushInput appends bytes to the console's input buffer.
func (c *Console) PushInput(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in = append(c.in, data...)
}
