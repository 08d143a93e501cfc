package riscv

import (
	"encoding/binary"
	"fmt"
)

var byteOrder = binary.LittleEndian

// PhysMemory is a flat, byte-addressable region of guest physical RAM.
// It backs every physical page frame the kernel hands out: page tables,
// ELF-loaded segments, user stacks, and trap-context pages all live here.
//
// Adapted from the teacher emulator's MemoryRegion: that type served an
// instruction-fetch bus; this one drops the Device/Bus routing layer
// (there is no instruction stream to fetch here) and keeps only the
// bounds-checked little-endian accessors the kernel's page-table code
// needs to read and write PTEs and frame contents.
type PhysMemory struct {
	data []byte
}

// NewPhysMemory allocates size bytes of zeroed physical RAM.
func NewPhysMemory(size uint64) *PhysMemory {
	return &PhysMemory{data: make([]byte, size)}
}

// Size returns the size of the region in bytes.
func (m *PhysMemory) Size() uint64 {
	return uint64(len(m.data))
}

func (m *PhysMemory) bounds(offset uint64, n int) error {
	if offset+uint64(n) > uint64(len(m.data)) {
		return fmt.Errorf("riscv: physical access out of bounds: offset=0x%x len=%d size=%d", offset, n, len(m.data))
	}
	return nil
}

// Read8 reads a single byte at offset.
func (m *PhysMemory) Read8(offset uint64) (uint8, error) {
	if err := m.bounds(offset, 1); err != nil {
		return 0, err
	}
	return m.data[offset], nil
}

// Write8 writes a single byte at offset.
func (m *PhysMemory) Write8(offset uint64, v uint8) error {
	if err := m.bounds(offset, 1); err != nil {
		return err
	}
	m.data[offset] = v
	return nil
}

// Read64 reads a little-endian 64-bit word, used for page-table entries.
func (m *PhysMemory) Read64(offset uint64) (uint64, error) {
	if err := m.bounds(offset, 8); err != nil {
		return 0, err
	}
	return byteOrder.Uint64(m.data[offset:]), nil
}

// Write64 writes a little-endian 64-bit word, used for page-table entries.
func (m *PhysMemory) Write64(offset uint64, v uint64) error {
	if err := m.bounds(offset, 8); err != nil {
		return err
	}
	byteOrder.PutUint64(m.data[offset:], v)
	return nil
}

// ReadBytes copies n bytes starting at offset into a fresh slice.
func (m *PhysMemory) ReadBytes(offset uint64, n int) ([]byte, error) {
	if err := m.bounds(offset, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.data[offset:offset+uint64(n)])
	return out, nil
}

// WriteBytes copies src into the region starting at offset.
func (m *PhysMemory) WriteBytes(offset uint64, src []byte) error {
	if err := m.bounds(offset, len(src)); err != nil {
		return err
	}
	copy(m.data[offset:], src)
	return nil
}

// Zero clears n bytes starting at offset.
func (m *PhysMemory) Zero(offset uint64, n int) error {
	if err := m.bounds(offset, n); err != nil {
		return err
	}
	clear(m.data[offset : offset+uint64(n)])
	return nil
}

// Slice returns the live backing slice for [offset, offset+length). Callers
// that hold onto this slice observe future writes; used by the page-table
// walk to get a mutable view of a frame without an extra copy.
func (m *PhysMemory) Slice(offset, length uint64) ([]byte, error) {
	if err := m.bounds(offset, int(length)); err != nil {
		return nil, err
	}
	return m.data[offset : offset+length], nil
}
