package riscv

import (
	"bytes"
	"testing"
)

func TestPhysMemoryReadWrite(t *testing.T) {
	m := NewPhysMemory(64 * 1024)

	if err := m.Write64(0x1000, 0xdeadbeefcafef00d); err != nil {
		t.Fatalf("Write64: %v", err)
	}
	got, err := m.Read64(0x1000)
	if err != nil {
		t.Fatalf("Read64: %v", err)
	}
	if got != 0xdeadbeefcafef00d {
		t.Fatalf("Read64 = 0x%x, want 0xdeadbeefcafef00d", got)
	}

	if err := m.Write8(0x2000, 0xab); err != nil {
		t.Fatalf("Write8: %v", err)
	}
	b, err := m.Read8(0x2000)
	if err != nil {
		t.Fatalf("Read8: %v", err)
	}
	if b != 0xab {
		t.Fatalf("Read8 = 0x%x, want 0xab", b)
	}
}

func TestPhysMemoryOutOfBounds(t *testing.T) {
	m := NewPhysMemory(4096)
	if _, err := m.Read64(4090); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
	if err := m.Write64(4090, 1); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}

func TestPhysMemoryWriteBytesAndZero(t *testing.T) {
	m := NewPhysMemory(4096)
	if err := m.WriteBytes(0x100, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	got, err := m.ReadBytes(0x100, 4)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("ReadBytes = %v, want [1 2 3 4]", got)
	}
	if err := m.Zero(0x100, 4); err != nil {
		t.Fatalf("Zero: %v", err)
	}
	got, _ = m.ReadBytes(0x100, 4)
	if !bytes.Equal(got, []byte{0, 0, 0, 0}) {
		t.Fatalf("after Zero = %v, want zeros", got)
	}
}

func TestConsolePutCharAndGetChar(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.PutChar('H')
	c.PutChar('i')
	if buf.String() != "Hi" {
		t.Fatalf("console output = %q, want %q", buf.String(), "Hi")
	}

	if _, ok := c.GetChar(); ok {
		t.Fatal("GetChar should report no input yet")
	}

	c.PushInput([]byte("ab"))
	ch, ok := c.GetChar()
	if !ok || ch != 'a' {
		t.Fatalf("GetChar = (%q, %v), want ('a', true)", ch, ok)
	}
	ch, ok = c.GetChar()
	if !ok || ch != 'b' {
		t.Fatalf("GetChar = (%q, %v), want ('b', true)", ch, ok)
	}
	if _, ok := c.GetChar(); ok {
		t.Fatal("GetChar should be drained")
	}
}

func TestClintSetCompareAndPending(t *testing.T) {
	c := NewClint()
	if c.Pending() {
		t.Fatal("fresh Clint should not be pending")
	}
	c.SetCompare(0)
	if !c.Pending() {
		t.Fatal("compare of 0 should always be pending")
	}
}

func TestFirmwareShutdownInvokesCallback(t *testing.T) {
	var gotFailure bool
	var called bool
	fw := NewFirmware(NewConsole(nil), NewClint())
	fw.ShutdownFunc = func(failure bool) {
		called = true
		gotFailure = failure
	}
	fw.Shutdown(true)
	if !called || !gotFailure {
		t.Fatalf("Shutdown callback called=%v failure=%v, want true/true", called, gotFailure)
	}
}
