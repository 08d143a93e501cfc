// Command rvkernel boots the kernel against a YAML manifest naming the
// embedded user programs to run, wiring the firmware console to the
// host's real terminal (spec §6 boot protocol; SPEC_FULL.md's AMBIENT
// STACK "CLI"/"Console passthrough").
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/tinyrange/rvos/internal/kernel/boot"
	"github.com/tinyrange/rvos/internal/kernel/demo"
	"golang.org/x/term"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rvkernel: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	manifestPath := flag.String("manifest", "", "Path to the boot manifest (YAML)")
	memOverride := flag.Uint64("mem", 0, "Override the manifest's memory size in MB (0: use manifest)")
	tickHzOverride := flag.Int("tick-hz", 0, "Override the manifest's timer-preemption rate in Hz (0: use manifest)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -manifest <path> [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Boot the kernel against a YAML manifest naming its embedded user programs.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *manifestPath == "" {
		flag.Usage()
		return errors.New("-manifest is required")
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	manifest, err := boot.LoadManifest(*manifestPath)
	if err != nil {
		return err
	}
	if *memOverride != 0 {
		manifest.MemoryMB = *memOverride
	}
	if *tickHzOverride != 0 {
		manifest.TickHz = *tickHzOverride
	}

	shutdownCode := make(chan int, 1)
	shutdown := func(failure bool) {
		if failure {
			shutdownCode <- 1
		} else {
			shutdownCode <- 0
		}
	}

	kernel, err := boot.Boot(log, manifest, demo.Registry(), os.Stdout, shutdown)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	// Put stdin in raw mode so the firmware console's console_getchar
	// reads keystrokes directly rather than a line-buffered, echoed
	// stream, matching how the teacher's cmd/cc puts the VM console's
	// stdin into raw mode (cmd/cc/main.go).
	if term.IsTerminal(int(os.Stdin.Fd())) {
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err == nil {
			defer term.Restore(int(os.Stdin.Fd()), oldState)
		}
	}
	go pumpStdin(kernel.Console)

	kernel.Processor.Run()

	select {
	case code := <-shutdownCode:
		if code != 0 {
			os.Exit(code)
		}
	default:
		// The ready queue drained without INITPROC ever calling exit —
		// every task blocked or finished quietly.
	}
	return nil
}

// pumpStdin forwards raw bytes from the host terminal into the firmware
// console's input buffer, the hosted-model stand-in for real keystrokes
// reaching OpenSBI's console_getchar.
func pumpStdin(console interface{ PushInput([]byte) }) {
	buf := make([]byte, 256)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			console.PushInput(buf[:n])
		}
		if err != nil {
			return
		}
	}
}
