package loader

import (
	"bytes"
	"encoding/binary"
	"testing"
)

type fakeTarget struct {
	base uint64
	buf  []byte
}

func (f *fakeTarget) Base() uint64 { return f.base }
func (f *fakeTarget) Size() uint64 { return uint64(len(f.buf)) }
func (f *fakeTarget) LoadAt(offset uint64, data []byte) error {
	copy(f.buf[offset:], data)
	return nil
}

// buildMinimalELF64 hand-assembles a single-PT_LOAD-segment RISC-V
// ELF64 executable: a 64-byte Ehdr, one 56-byte Phdr immediately
// after it, and the segment's raw bytes immediately after that.
func buildMinimalELF64(loadAddr uint64, code []byte) []byte {
	const ehdrSize = 64
	const phdrSize = 56
	const phoff = ehdrSize
	const dataOff = ehdrSize + phdrSize

	buf := make([]byte, dataOff+len(code))
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	le := binary.LittleEndian
	le.PutUint16(buf[16:18], 2)      // e_type = ET_EXEC
	le.PutUint16(buf[18:20], 0xF3)   // e_machine = EM_RISCV
	le.PutUint32(buf[20:24], 1)      // e_version
	le.PutUint64(buf[24:32], loadAddr) // e_entry
	le.PutUint64(buf[32:40], phoff)  // e_phoff
	le.PutUint64(buf[40:48], 0)      // e_shoff
	le.PutUint32(buf[48:52], 0)      // e_flags
	le.PutUint16(buf[52:54], ehdrSize)
	le.PutUint16(buf[54:56], phdrSize)
	le.PutUint16(buf[56:58], 1) // e_phnum
	le.PutUint16(buf[58:60], 0)
	le.PutUint16(buf[60:62], 0)
	le.PutUint16(buf[62:64], 0)

	ph := buf[phoff : phoff+phdrSize]
	le.PutUint32(ph[0:4], 1)                 // p_type = PT_LOAD
	le.PutUint32(ph[4:8], 7)                  // p_flags = RWX
	le.PutUint64(ph[8:16], uint64(dataOff))   // p_offset
	le.PutUint64(ph[16:24], loadAddr)         // p_vaddr
	le.PutUint64(ph[24:32], loadAddr)         // p_paddr
	le.PutUint64(ph[32:40], uint64(len(code))) // p_filesz
	le.PutUint64(ph[40:48], uint64(len(code))) // p_memsz
	le.PutUint64(ph[48:56], 4096)             // p_align

	copy(buf[dataOff:], code)
	return buf
}

func TestLoadELFCopiesSegmentAndReportsEntry(t *testing.T) {
	const base = 0x8000_0000
	code := []byte{0x13, 0x05, 0x00, 0x00, 0x73, 0x00, 0x00, 0x00}
	raw := buildMinimalELF64(base, code)

	target := &fakeTarget{base: base, buf: make([]byte, 64*1024)}
	img, err := LoadELF(raw, target)
	if err != nil {
		t.Fatalf("LoadELF: %v", err)
	}
	if img.Entry != base {
		t.Fatalf("entry = 0x%x, want 0x%x", img.Entry, base)
	}
	if img.XLEN != 64 {
		t.Fatalf("xlen = %d, want 64", img.XLEN)
	}
	if img.HasTohost {
		t.Fatalf("HasTohost = true, want false (no symbol table in this image)")
	}
	if !bytes.Equal(target.buf[0:len(code)], code) {
		t.Fatalf("segment bytes not copied to physical offset 0")
	}
}

func TestLoadELFRejectsNonRISCV(t *testing.T) {
	const base = 0x8000_0000
	raw := buildMinimalELF64(base, []byte{0, 0, 0, 0})
	raw[18] = 0x3E // rewrite e_machine to EM_X86_64

	target := &fakeTarget{base: base, buf: make([]byte, 4096)}
	if _, err := LoadELF(raw, target); err == nil {
		t.Fatalf("expected an error for non-RISC-V e_machine")
	}
}

func TestLoadRawBinaryPlacesBytesAtAddress(t *testing.T) {
	const base = 0x2000_0000
	target := &fakeTarget{base: base, buf: make([]byte, 4096)}
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	if err := LoadRawBinary(data, target, base+0x100); err != nil {
		t.Fatalf("LoadRawBinary: %v", err)
	}
	if !bytes.Equal(target.buf[0x100:0x104], data) {
		t.Fatalf("raw binary not placed at the requested offset")
	}
}

func TestLoadRawBinaryRejectsOutOfRange(t *testing.T) {
	const base = 0x2000_0000
	target := &fakeTarget{base: base, buf: make([]byte, 16)}
	if err := LoadRawBinary([]byte{1, 2, 3, 4}, target, base+100); err == nil {
		t.Fatalf("expected an out-of-range error")
	}
}
