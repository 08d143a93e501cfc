package demo

import (
	"fmt"
	"strings"

	"github.com/tinyrange/rvos/internal/hw/riscv"
	"github.com/tinyrange/rvos/internal/kernel/boot"
	"github.com/tinyrange/rvos/internal/kernel/task"
)

// readLine blocks one byte at a time (spec §4.9 sys_read) until a
// newline, returning the line with its terminator stripped — the hosted
// model's rendering of original_source/user/src/bin/user_shell.rs's
// getchar loop (SPEC_FULL.md's SUPPLEMENTED FEATURES).
func readLine(p *task.Proc) string {
	var line []byte
	for {
		ch := p.ReadByte()
		switch ch {
		case '\r', '\n':
			return string(line)
		default:
			line = append(line, ch)
		}
	}
}

// Hello writes a greeting and exits 0 — spec §8 scenario 1 "Boot and
// hello".
func Hello(p *task.Proc) {
	p.Write([]byte("Hello\n"))
	p.Exit(0)
}

// Spin yields a fixed number of times, giving the round-robin scheduler
// (spec §4.8) repeated opportunities to interleave it with siblings —
// spec §8 scenario 5 "Timer preemption".
func Spin(p *task.Proc) {
	for i := 0; i < 16; i++ {
		p.Yield()
	}
	p.Exit(0)
}

// PageFault deliberately raises a StorePageFault, the hosted-model stand-
// in for "user program writes to address 0x0" (spec §8 scenario 4): the
// kernel logs the fault and reaps the task with exit code -2.
func PageFault(p *task.Proc) {
	p.Fault(riscv.CauseStorePageFault)
}

// execChild builds the UserProgram a UserShell fork spawns to run one
// command: a successful Exec never returns to this closure (the task's
// address space and running code are replaced outright, spec §4.9 exec);
// a failed Exec (name not in the registry) prints the shell's standard
// error message and exits with -4, spec §7's fixed code for "exec path
// from user shell".
func execChild(name string) task.UserProgram {
	return func(p *task.Proc) {
		if p.Exec(name) == -1 {
			p.Write([]byte("The application name is incorrect!\n"))
			p.Exit(-4)
		}
	}
}

// UserShell reads one command per line, forks a child to run it, and
// waits for the child before prompting again — the hosted-model rendering
// of original_source/user/src/bin/user_shell.rs, generalized from a
// single fixed binary list to the kernel's full fork/exec/waitpid syscall
// surface (spec §8 scenarios 2, 3, 6). "exit" ends the shell with code 0;
// as INITPROC this shuts the machine down successfully (spec §4.8).
func UserShell(p *task.Proc) {
	for {
		line := strings.TrimSpace(readLine(p))
		if line == "" {
			continue
		}
		if line == "exit" {
			p.Exit(0)
		}

		pid := p.Fork(execChild(line))
		for {
			result, code := p.WaitPid(pid)
			if result == -2 {
				p.Yield()
				continue
			}
			if result > 0 && code != 0 {
				p.Write([]byte(fmt.Sprintf("Shell: Process %d exited with code %d\n", pid, code)))
			}
			break
		}
	}
}

// Registry returns the kernel's built-in set of embedded user programs,
// keyed by the name cmd/rvkernel's boot manifest and sys_exec's lookup
// both use (spec §4.9 exec, §6 "ELF intake": the embedded blob set).
func Registry() map[string]boot.Program {
	img := stubImage()
	return map[string]boot.Program{
		"user_shell": {ELF: img, Run: UserShell},
		"hello":      {ELF: img, Run: Hello},
		"spin":       {ELF: img, Run: Spin},
		"pagefault":  {ELF: img, Run: PageFault},
	}
}
