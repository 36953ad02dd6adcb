// Package loader places a kernel image into physical memory before
// the hart starts executing it. LoadELF is grounded on
// original_source/src/elf_loader.rs's header-field layout and its
// .tohost scan, re-expressed with the standard library's debug/elf
// instead of a hand-rolled field reader — the idiomatic Go choice, and
// the one every Go ELF consumer in the wild reaches for. LoadRawBinary
// is grounded on the teacher's own LoadBinary (memory.go), stripped of
// its WUT-4-specific magic/header since SPEC_FULL.md's raw-binary path
// has no header at all: the caller supplies the load address directly.
package loader

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
)

// Target is the subset of memory.Memory (or any flat physical region)
// the loader writes into.
type Target interface {
	Base() uint64
	Size() uint64
	LoadAt(offset uint64, data []byte) error
}

// Image describes what was found in a loaded ELF kernel.
type Image struct {
	Entry      uint64
	XLEN       int
	TohostAddr uint64
	HasTohost  bool
}

// LoadELF parses raw as an ELF file, copies every PT_LOAD segment's
// file bytes into target at its physical load address, and reports
// the entry point, the XLEN implied by the ELF class, and the
// .tohost symbol's address if present (used by test-mode kernels like
// riscv-tests to signal completion).
func LoadELF(raw []byte, target Target) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("loader: not a valid ELF file: %w", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("loader: e_machine = %s, want EM_RISCV", f.Machine)
	}

	xlen := 64
	if f.Class == elf.ELFCLASS32 {
		xlen = 32
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(prog.Open(), data); err != nil {
			return nil, fmt.Errorf("loader: reading PT_LOAD segment at 0x%x: %w", prog.Paddr, err)
		}
		if prog.Paddr < target.Base() || prog.Paddr-target.Base()+uint64(len(data)) > target.Size() {
			return nil, fmt.Errorf("loader: segment at 0x%x (size %d) does not fit target region [0x%x, 0x%x)",
				prog.Paddr, len(data), target.Base(), target.Base()+target.Size())
		}
		if err := target.LoadAt(prog.Paddr-target.Base(), data); err != nil {
			return nil, fmt.Errorf("loader: writing segment at 0x%x: %w", prog.Paddr, err)
		}
	}

	img := &Image{Entry: f.Entry, XLEN: xlen}

	if syms, err := f.Symbols(); err == nil {
		for _, sym := range syms {
			if sym.Name == "tohost" {
				img.TohostAddr = sym.Value
				img.HasTohost = true
				break
			}
		}
	}

	return img, nil
}

// LoadRawBinary copies data verbatim into target starting at physical
// address loadAddr, for flat kernel images with no container format
// (boot-flash blobs, quick smoke-test binaries).
func LoadRawBinary(data []byte, target Target, loadAddr uint64) error {
	if loadAddr < target.Base() || loadAddr-target.Base()+uint64(len(data)) > target.Size() {
		return fmt.Errorf("loader: raw image (size %d) at 0x%x does not fit target region [0x%x, 0x%x)",
			len(data), loadAddr, target.Base(), target.Base()+target.Size())
	}
	return target.LoadAt(loadAddr-target.Base(), data)
}
