// Package memory implements the byte-addressable little-endian backing
// store used for DRAM and for flat (non-MMIO) device blobs such as the
// boot flash.
package memory

import "fmt"

// Memory is a fixed-size little-endian byte store, optionally
// addressed starting at a non-zero physical base (DRAM on the bus;
// base 0 for a flat, address-independent blob like a block device's
// backing file).
type Memory struct {
	base  uint64
	bytes []byte
}

// New allocates a Memory region of the given size in bytes, based at
// physical address 0.
func New(size uint64) *Memory {
	return &Memory{bytes: make([]byte, size)}
}

// NewAt allocates a Memory region mapped starting at base, for use as
// the bus's DRAM.
func NewAt(base, size uint64) *Memory {
	return &Memory{base: base, bytes: make([]byte, size)}
}

// Base returns the region's physical base address.
func (m *Memory) Base() uint64 {
	return m.base
}

// Size returns the region's size in bytes.
func (m *Memory) Size() uint64 {
	return uint64(len(m.bytes))
}

func (m *Memory) bounds(offset uint64, width uint64) error {
	if offset+width > uint64(len(m.bytes)) || offset+width < offset {
		return fmt.Errorf("memory: access at offset 0x%x width %d out of bounds (size 0x%x)", offset, width, len(m.bytes))
	}
	return nil
}

// Read8 reads a single byte at offset.
func (m *Memory) Read8(offset uint64) (uint8, error) {
	if err := m.bounds(offset, 1); err != nil {
		return 0, err
	}
	return m.bytes[offset], nil
}

// Read16 reads a little-endian 16-bit word at offset.
func (m *Memory) Read16(offset uint64) (uint16, error) {
	if err := m.bounds(offset, 2); err != nil {
		return 0, err
	}
	b := m.bytes[offset : offset+2]
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

// Read32 reads a little-endian 32-bit word at offset.
func (m *Memory) Read32(offset uint64) (uint32, error) {
	if err := m.bounds(offset, 4); err != nil {
		return 0, err
	}
	b := m.bytes[offset : offset+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// Read64 reads a little-endian 64-bit word at offset.
func (m *Memory) Read64(offset uint64) (uint64, error) {
	if err := m.bounds(offset, 8); err != nil {
		return 0, err
	}
	b := m.bytes[offset : offset+8]
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// Write8 writes a single byte at offset.
func (m *Memory) Write8(offset uint64, v uint8) error {
	if err := m.bounds(offset, 1); err != nil {
		return err
	}
	m.bytes[offset] = v
	return nil
}

// Write16 writes a little-endian 16-bit word at offset.
func (m *Memory) Write16(offset uint64, v uint16) error {
	if err := m.bounds(offset, 2); err != nil {
		return err
	}
	m.bytes[offset] = byte(v)
	m.bytes[offset+1] = byte(v >> 8)
	return nil
}

// Write32 writes a little-endian 32-bit word at offset.
func (m *Memory) Write32(offset uint64, v uint32) error {
	if err := m.bounds(offset, 4); err != nil {
		return err
	}
	m.bytes[offset] = byte(v)
	m.bytes[offset+1] = byte(v >> 8)
	m.bytes[offset+2] = byte(v >> 16)
	m.bytes[offset+3] = byte(v >> 24)
	return nil
}

// Write64 writes a little-endian 64-bit word at offset.
func (m *Memory) Write64(offset uint64, v uint64) error {
	if err := m.bounds(offset, 8); err != nil {
		return err
	}
	for i := 0; i < 8; i++ {
		m.bytes[offset+uint64(i)] = byte(v)
		v >>= 8
	}
	return nil
}

// LoadAt copies data into the region starting at offset, for ELF/raw
// binary loading. Like Write*, it is bounds-checked: an image that does
// not fit inside the region returns an error and copies nothing.
func (m *Memory) LoadAt(offset uint64, data []byte) error {
	if err := m.bounds(offset, uint64(len(data))); err != nil {
		return err
	}
	copy(m.bytes[offset:], data)
	return nil
}

// Bytes exposes the backing slice directly, e.g. for DMA from a block
// device straight into DRAM.
func (m *Memory) Bytes() []byte {
	return m.bytes
}
