package mm

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/tinyrange/rvos/internal/hw/riscv"
)

// LoadSegment is one PT_LOAD program header's consumed fields: vaddr,
// memsz, filesz, and the RWX flag triplet (spec §6 "ELF intake" — only
// these fields matter; interpreter, dynamic linking, and relocations are
// unsupported).
type LoadSegment struct {
	VAddr uint64
	Data  []byte // filesz bytes read from the file
	MemSz uint64
	Read  bool
	Write bool
	Exec  bool
}

// parsedELF is the handful of fields from_elf needs out of a RISC-V user
// binary, grounded in the teacher's loadELFKernel (internal/linux/boot/amd64/elf.go):
// open with debug/elf, reject anything that is not PT_LOAD, and copy out
// file bytes eagerly since the in-memory ELF reader does not outlive this
// call.
type parsedELF struct {
	Entry    uint64
	Segments []LoadSegment
}

func parseELF(data []byte) (*parsedELF, error) {
	if len(data) < 4 || !bytes.Equal(data[:4], []byte{0x7f, 'E', 'L', 'F'}) {
		return nil, fmt.Errorf("mm: not an ELF image (bad magic)")
	}
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mm: parse ELF: %w", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("mm: unsupported ELF machine %d (want RISC-V)", f.Machine)
	}

	out := &parsedELF{Entry: f.Entry}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Memsz == 0 {
			continue
		}
		buf := make([]byte, prog.Filesz)
		if prog.Filesz > 0 {
			if _, err := prog.ReadAt(buf, 0); err != nil {
				return nil, fmt.Errorf("mm: read ELF segment @%#x: %w", prog.Off, err)
			}
		}
		out.Segments = append(out.Segments, LoadSegment{
			VAddr: prog.Vaddr,
			Data:  buf,
			MemSz: prog.Memsz,
			Read:  prog.Flags&elf.PF_R != 0,
			Write: prog.Flags&elf.PF_W != 0,
			Exec:  prog.Flags&elf.PF_X != 0,
		})
	}
	return out, nil
}

func segmentPerm(seg LoadSegment) uint64 {
	var perm uint64 = riscv.PteU
	if seg.Read {
		perm |= riscv.PteR
	}
	if seg.Write {
		perm |= riscv.PteW
	}
	if seg.Exec {
		perm |= riscv.PteX
	}
	return perm
}
