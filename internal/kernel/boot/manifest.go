// Package boot assembles the kernel's singletons the way spec §6's boot
// protocol describes — constructing physical memory, the frame
// allocator, the kernel's own address space, and the timer, then
// inserting INITPROC and handing control to the scheduler — and loads
// the YAML manifest that names the embedded user programs driving it.
package boot

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the boot-time configuration consumed by cmd/rvkernel,
// styled after the teacher's ccbundle.yaml Metadata/BootConfig structs
// (internal/bundle/bundle.go). Since user programs here are registered Go
// closures rather than binaries produced by a RISC-V toolchain (spec.md's
// hosted-model rendering, SPEC_FULL.md §0), Programs names entries out of
// the built-in registry (internal/kernel/demo) rather than paths on disk.
type Manifest struct {
	Version int `yaml:"version"`

	// MemoryMB is the size of the simulated physical RAM arena handed to
	// the frame allocator, in megabytes.
	MemoryMB uint64 `yaml:"memoryMB"`

	// TickHz overrides the supervisor-timer preemption rate; 0 means the
	// spec default of 100 Hz (spec §4.10).
	TickHz int `yaml:"tickHz,omitempty"`

	// Init names the registry entry that becomes INITPROC (pid 0).
	Init string `yaml:"init"`

	// Programs lists the registry entries to make available to exec()
	// (spec §4.9); Init is always included even if omitted here.
	Programs []string `yaml:"programs"`
}

const defaultMemoryMB = 128

func (m *Manifest) normalize() {
	if m.Version == 0 {
		m.Version = 1
	}
	if m.MemoryMB == 0 {
		m.MemoryMB = defaultMemoryMB
	}
	for _, p := range m.Programs {
		if p == m.Init {
			return
		}
	}
	m.Programs = append(m.Programs, m.Init)
}

// LoadManifest reads and validates a boot manifest from path.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Init == "" {
		return Manifest{}, fmt.Errorf("manifest %s: init is required", path)
	}
	m.normalize()
	return m, nil
}
