// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.

// Command rvemu boots a RISC-V kernel image (ELF or raw binary)
// against one of two memory maps ("virt" or "fe310") and runs it to
// completion, to a cycle limit, or to a .tohost exit value in test
// mode.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"rvemu/internal/bus"
	"rvemu/internal/device/uart"
	"rvemu/internal/hart"
	"rvemu/internal/loader"
	"rvemu/internal/memory"
	"rvemu/internal/trace"
)

var (
	machineFlag   = flag.String("machine", "virt", "Memory map to assemble: virt or fe310")
	diskFlag      = flag.String("disk", "", "Disk image backing a virtio-blk device (virt/fe310)")
	flashFlag     = flag.String("flash", "", "Boot flash image (fe310 only)")
	rawFlag       = flag.Bool("raw", false, "Load the kernel as a raw flat binary instead of ELF")
	loadAddrFlag  = flag.Uint64("load-addr", 0x8000_0000, "Physical load address for -raw kernels")
	xlenFlag      = flag.Int("xlen", 64, "XLEN for -raw kernels (32 or 64); ignored for ELF, which carries its own class")
	dramSizeFlag  = flag.Uint64("dram-size", 128*1024*1024, "DRAM size in bytes")
	testModeFlag  = flag.Bool("test-mode", false, "Exit with the riscv-tests-decoded .tohost exit code once the kernel writes one")
	traceFileFlag = flag.String("trace", "", "Write execution trace to file")
	maxCyclesFlag = flag.Uint64("max-cycles", 0, "Stop after N cycles (0 = unlimited)")
	showVersion   = flag.Bool("version", false, "Show version and exit")
)

const version = "1.0.0"
const dramBase = 0x8000_0000

var savedTermState *term.State

// setupTerminal puts the terminal in raw mode for the UART emulation.
func setupTerminal() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	state, err := term.GetState(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("failed to get terminal state: %v", err)
	}
	savedTermState = state
	if _, err := term.MakeRaw(int(os.Stdin.Fd())); err != nil {
		return fmt.Errorf("failed to set raw mode: %v", err)
	}
	return nil
}

// restoreTerminal restores the terminal to its original state.
func restoreTerminal() {
	if savedTermState != nil && term.IsTerminal(int(os.Stdin.Fd())) {
		term.Restore(int(os.Stdin.Fd()), savedTermState)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <kernel-image>\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "rvemu - a RISC-V hart emulator for small OS kernels\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nArguments:\n")
	fmt.Fprintf(os.Stderr, "  <kernel-image>    ELF or (-raw) flat binary to execute\n")
	fmt.Fprintf(os.Stderr, "\nConsole I/O is connected to stdin/stdout. Use -trace to generate\n")
	fmt.Fprintf(os.Stderr, "a detailed execution trace file.\n")
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("rvemu v%s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) != 1 {
		usage()
		os.Exit(1)
	}
	kernelFile := args[0]

	data, err := os.ReadFile(kernelFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading kernel image: %v\n", err)
		os.Exit(1)
	}

	var disk *os.File
	var diskSize int64
	if *diskFlag != "" {
		disk, err = os.OpenFile(*diskFlag, os.O_RDWR, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening disk image: %v\n", err)
			os.Exit(1)
		}
		defer disk.Close()
		info, err := disk.Stat()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error stat-ing disk image: %v\n", err)
			os.Exit(1)
		}
		diskSize = info.Size()
	}

	var flashImage []byte
	if *flashFlag != "" {
		flashImage, err = os.ReadFile(*flashFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading flash image: %v\n", err)
			os.Exit(1)
		}
	}

	dram := memory.NewAt(dramBase, *dramSizeFlag)

	// disk must stay a nil interface (not a non-nil interface wrapping
	// a nil *os.File) so the machine constructors' "disk != nil" check
	// behaves, hence the explicit branch instead of a bare conversion.
	var diskIface interface {
		ReadAt(p []byte, off int64) (int, error)
		WriteAt(p []byte, off int64) (int, error)
	}
	if disk != nil {
		diskIface = disk
	}

	var b *bus.Bus
	switch *machineFlag {
	case "virt":
		b, err = bus.NewVirtMachine(dram, diskIface, diskSize)
	case "fe310":
		b, err = bus.NewFE310Machine(dram, diskIface, diskSize, flashImage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown -machine %q (want virt or fe310)\n", *machineFlag)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error assembling machine: %v\n", err)
		os.Exit(1)
	}

	xlen := *xlenFlag
	resetPC := uint64(*loadAddrFlag)
	var img *loader.Image
	if *rawFlag {
		if err := loader.LoadRawBinary(data, dram, *loadAddrFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading kernel: %v\n", err)
			os.Exit(1)
		}
	} else {
		img, err = loader.LoadELF(data, dram)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading kernel: %v\n", err)
			os.Exit(1)
		}
		xlen = img.XLEN
		resetPC = img.Entry
	}

	h := hart.New(xlen, b, resetPC)

	if *traceFileFlag != "" {
		f, err := os.Create(*traceFileFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating trace file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		h.SetTracer(trace.New(f))
		fmt.Fprintf(f, "rvemu execution trace\n")
		fmt.Fprintf(f, "Kernel: %s\n", kernelFile)
		fmt.Fprintf(f, "Size: %d bytes\n", len(data))
		fmt.Fprintf(f, "========================================\n\n")
	}

	if err := setupTerminal(); err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up terminal: %v\n", err)
		os.Exit(1)
	}
	defer restoreTerminal()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		restoreTerminal()
		os.Exit(130)
	}()

	c := newConsole(os.Stdin, os.Stdout)
	b.SetConsole(uart.Terminal(c))

	startTime := time.Now()
	exitCode, runErr := run(h, b, *maxCyclesFlag, img)
	elapsed := time.Since(startTime)

	restoreTerminal()

	fmt.Fprintf(os.Stderr, "\n========================================\n")
	fmt.Fprintf(os.Stderr, "Execution completed\n")
	if elapsed.Seconds() > 0 {
		fmt.Fprintf(os.Stderr, "Time: %v\n", elapsed.Round(time.Millisecond))
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

// run drives the hart's Step loop until it halts, hits maxCycles, or
// (in test mode) the kernel writes to its ELF-declared .tohost cell.
// It returns the process exit code to use.
func run(h *hart.Hart, b *bus.Bus, maxCycles uint64, img *loader.Image) (int, error) {
	cycles := uint64(0)
	for {
		if maxCycles > 0 && cycles >= maxCycles {
			fmt.Fprintf(os.Stderr, "\nMax cycles reached (%d)\n", maxCycles)
			return 1, nil
		}
		if err := h.Step(); err != nil {
			return 1, err
		}
		cycles++

		if h.Halted() {
			return h.HaltCode(), nil
		}

		if *testModeFlag && img != nil && img.HasTohost {
			v, err := b.Read32(img.TohostAddr)
			if err == nil && v != 0 {
				return h.TestExitCode(v), nil
			}
		}
	}
}
