package mm

import (
	"fmt"

	"github.com/tinyrange/rvos/internal/hw/riscv"
)

// TranslatedByteBuffer walks a user virtual range [ptr, ptr+length)
// through the page table described by satp and returns the physical
// byte slices backing it, one per page crossed. Every syscall argument
// that names a user buffer is validated this way before the kernel
// touches it (spec §4.9 "All user pointers crossing the syscall boundary
// are validated by page-table translation").
func TranslatedByteBuffer(mem *riscv.PhysMemory, satp uint64, ptr VirtAddr, length uint64) ([][]byte, error) {
	pt := FromToken(mem, satp)
	var out [][]byte
	start := ptr
	end := VirtAddr(uint64(ptr) + length)
	for start < end {
		vpn := start.Floor()
		pte, ok := pt.Translate(vpn)
		if !ok {
			return nil, fmt.Errorf("mm: page fault translating user pointer at VPN %d", vpn)
		}
		pageEnd := vpn.Addr() + PageSize
		sliceEnd := pageEnd
		if end < sliceEnd {
			sliceEnd = end
		}
		offset := pte.PPN().Addr().Uint64() + start.PageOffset()
		n := uint64(sliceEnd) - uint64(start)
		b, err := mem.Slice(offset, n)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		start = sliceEnd
	}
	return out, nil
}

// TranslatedStr reads a NUL-terminated string from user space one byte at
// a time through the page table — used by exec to read the target path
// (spec §4.9 exec).
func TranslatedStr(mem *riscv.PhysMemory, satp uint64, ptr VirtAddr) (string, error) {
	var out []byte
	for {
		bufs, err := TranslatedByteBuffer(mem, satp, ptr, 1)
		if err != nil {
			return "", err
		}
		ch := bufs[0][0]
		if ch == 0 {
			break
		}
		out = append(out, ch)
		ptr++
	}
	return string(out), nil
}
