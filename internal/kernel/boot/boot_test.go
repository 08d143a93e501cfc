package boot

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/tinyrange/rvos/internal/kernel/mm"
	"github.com/tinyrange/rvos/internal/kernel/syscall"
	"github.com/tinyrange/rvos/internal/kernel/task"
)

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadManifestDefaultsAndInitInclusion(t *testing.T) {
	path := writeManifest(t, "init: hello\nprograms:\n  - hello\n")
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Version != 1 {
		t.Fatalf("version = %d, want default 1", m.Version)
	}
	if m.MemoryMB != defaultMemoryMB {
		t.Fatalf("memoryMB = %d, want default %d", m.MemoryMB, defaultMemoryMB)
	}
	if len(m.Programs) != 1 || m.Programs[0] != "hello" {
		t.Fatalf("programs = %v, want [hello]", m.Programs)
	}
}

func TestLoadManifestAppendsInitIfMissingFromPrograms(t *testing.T) {
	path := writeManifest(t, "init: user_shell\nprograms:\n  - hello\n")
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	found := false
	for _, p := range m.Programs {
		if p == "user_shell" {
			found = true
		}
	}
	if !found {
		t.Fatalf("programs = %v, want init %q appended", m.Programs, "user_shell")
	}
}

func TestLoadManifestRequiresInit(t *testing.T) {
	path := writeManifest(t, "programs:\n  - hello\n")
	if _, err := LoadManifest(path); err == nil {
		t.Fatal("expected an error when init is missing")
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	if _, err := LoadManifest(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error reading a nonexistent manifest")
	}
}

func buildTestELF64(vaddr, entry uint64, data []byte, memsz uint64) []byte {
	const ehdrSize = 64
	const phdrSize = 56

	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	buf.Write(make([]byte, 8))

	le := binary.LittleEndian
	put16 := func(v uint16) { var b [2]byte; le.PutUint16(b[:], v); buf.Write(b[:]) }
	put32 := func(v uint32) { var b [4]byte; le.PutUint32(b[:], v); buf.Write(b[:]) }
	put64 := func(v uint64) { var b [8]byte; le.PutUint64(b[:], v); buf.Write(b[:]) }

	put16(uint16(elf.ET_EXEC))
	put16(uint16(elf.EM_RISCV))
	put32(1)
	put64(entry)
	put64(ehdrSize)
	put64(0)
	put32(0)
	put16(ehdrSize)
	put16(phdrSize)
	put16(1)
	put16(0)
	put16(0)
	put16(0)

	dataOff := uint64(ehdrSize + phdrSize)
	put32(uint32(elf.PT_LOAD))
	put32(uint32(elf.PF_R | elf.PF_W | elf.PF_X))
	put64(dataOff)
	put64(vaddr)
	put64(vaddr)
	put64(uint64(len(data)))
	put64(memsz)
	put64(mm.PageSize)

	buf.Write(data)
	return buf.Bytes()
}

func testELF() []byte {
	return buildTestELF64(0x1000, 0x1000, bytes.Repeat([]byte{0x01}, 8), 0x2000)
}

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBootOnlyRegistersManifestPrograms(t *testing.T) {
	task.ResetPidAllocatorForTest()
	task.ResetReadyQueueForTest()

	manifest := Manifest{Version: 1, MemoryMB: 4, Init: "init", Programs: []string{"init"}}
	registry := map[string]Program{
		"init":  {ELF: testELF(), Run: func(p *task.Proc) { p.Exit(0) }},
		"extra": {ELF: testELF(), Run: func(p *task.Proc) { p.Exit(0) }},
	}

	var out bytes.Buffer
	kernel, err := Boot(testLog(), manifest, registry, &out, func(bool) {})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if kernel.Processor.Syscalls == nil {
		t.Fatal("expected a wired syscall dispatcher")
	}
	d, ok := kernel.Processor.Syscalls.(*syscall.Dispatcher)
	if !ok {
		t.Fatalf("syscall table = %T, want *syscall.Dispatcher", kernel.Processor.Syscalls)
	}
	if _, ok := d.Binaries["init"]; !ok {
		t.Fatal("manifest program \"init\" must be exec()-able")
	}
	if _, ok := d.Binaries["extra"]; ok {
		t.Fatal("registry entry \"extra\" is not in the manifest and must not be exec()-able")
	}
}

func TestBootErrorsOnUnregisteredManifestProgram(t *testing.T) {
	task.ResetPidAllocatorForTest()
	task.ResetReadyQueueForTest()

	manifest := Manifest{Version: 1, MemoryMB: 4, Init: "init", Programs: []string{"init", "ghost"}}
	registry := map[string]Program{
		"init": {ELF: testELF(), Run: func(p *task.Proc) { p.Exit(0) }},
	}

	var out bytes.Buffer
	if _, err := Boot(testLog(), manifest, registry, &out, func(bool) {}); err == nil {
		t.Fatal("expected an error when a manifest program is not registered")
	}
}

func TestBootErrorsOnUnregisteredInit(t *testing.T) {
	task.ResetPidAllocatorForTest()
	task.ResetReadyQueueForTest()

	manifest := Manifest{Version: 1, MemoryMB: 4, Init: "missing", Programs: []string{"missing"}}
	registry := map[string]Program{}

	var out bytes.Buffer
	if _, err := Boot(testLog(), manifest, registry, &out, func(bool) {}); err == nil {
		t.Fatal("expected an error when init is not registered")
	}
}

func TestBootAndRunHelloShutsDownSuccessfully(t *testing.T) {
	task.ResetPidAllocatorForTest()
	task.ResetReadyQueueForTest()

	manifest := Manifest{Version: 1, MemoryMB: 4, Init: "hello", Programs: []string{"hello"}}
	registry := map[string]Program{
		"hello": {ELF: testELF(), Run: func(p *task.Proc) {
			p.Write([]byte("hi"))
			p.Exit(0)
		}},
	}

	var out bytes.Buffer
	var shutdownFailure *bool
	kernel, err := Boot(testLog(), manifest, registry, &out, func(failure bool) { shutdownFailure = &failure })
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}

	kernel.Processor.Run()

	if out.String() != "hi" {
		t.Fatalf("console output = %q, want %q", out.String(), "hi")
	}
	if shutdownFailure == nil || *shutdownFailure {
		t.Fatal("expected a successful shutdown after init exits 0")
	}
}
