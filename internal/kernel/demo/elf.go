// Package demo provides the built-in registry of embedded user programs
// cmd/rvkernel boots: a handful of ELF images paired with the Go closures
// that drive their syscall ABI (SPEC_FULL.md §0's "registered program"
// rendering of compiled RISC-V code), exercising the end-to-end scenarios
// spec.md §8 describes — hello-world, fork/waitpid, exec of a missing
// binary, and a page-fault kill.
package demo

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// buildELF assembles a minimal little-endian ELF64 RISC-V executable with
// one PT_LOAD segment covering [0, memsz) at vaddr, entry at vaddr+entryOff.
// Grounded in the same construction mm's tests use to exercise FromELF
// without a RISC-V toolchain (internal/kernel/mm/memoryset_test.go); here
// it produces the actual embedded binaries the kernel loads, since no
// compiled RISC-V binary is available in this hosted model (spec §6 "ELF
// intake" only cares about vaddr/memsz/filesz/flags, never the bytes in
// between — see SPEC_FULL.md §0).
func buildELF(vaddr uint64, entryOff uint64, data []byte, memsz uint64) []byte {
	const ehdrSize = 64
	const phdrSize = 56

	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	buf.Write(make([]byte, 8)) // EI_PAD

	le := binary.LittleEndian
	put16 := func(v uint16) { var b [2]byte; le.PutUint16(b[:], v); buf.Write(b[:]) }
	put32 := func(v uint32) { var b [4]byte; le.PutUint32(b[:], v); buf.Write(b[:]) }
	put64 := func(v uint64) { var b [8]byte; le.PutUint64(b[:], v); buf.Write(b[:]) }

	entry := vaddr + entryOff
	put16(uint16(elf.ET_EXEC))
	put16(uint16(elf.EM_RISCV))
	put32(1) // version
	put64(entry)
	put64(ehdrSize) // phoff
	put64(0)        // shoff
	put32(0)        // flags
	put16(ehdrSize)
	put16(phdrSize)
	put16(1) // phnum
	put16(0) // shentsize
	put16(0) // shnum
	put16(0) // shstrndx

	dataOff := uint64(ehdrSize + phdrSize)
	put32(uint32(elf.PT_LOAD))
	put32(uint32(elf.PF_R | elf.PF_W | elf.PF_X))
	put64(dataOff)
	put64(vaddr)
	put64(vaddr)
	put64(uint64(len(data)))
	put64(memsz)
	put64(4096)

	buf.Write(data)
	return buf.Bytes()
}

// stubImage is the ELF every registry entry below embeds: none of its
// bytes are ever fetched or decoded as instructions (that loop is out of
// scope per spec §1), but the image must still satisfy every page-table
// invariant spec §8 states for a loaded LOAD segment, so it carries a
// small data region and a memsz larger than filesz to exercise the BSS
// zero-fill path the same way a real toolchain-built binary would.
func stubImage() []byte {
	const vaddr = 0x1000
	data := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 4)
	return buildELF(vaddr, 0, data, 0x2000)
}
