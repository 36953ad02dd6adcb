// Package bus implements the address decoder that routes loads and
// stores to DRAM or a memory-mapped peripheral, drives per-tick
// peripheral updates, and aggregates pending external interrupts for
// the hart loop. Grounded on the original Rust emulator's
// system_bus.rs (fixed address ranges, width-specific read/write that
// decompose into a peripheral's native access width).
package bus

import "fmt"

// Device is a memory-mapped peripheral. Base/Size describe the address
// range it claims on the bus; Tick advances its internal state by one
// bus cycle and reports whether it is now asserting its interrupt
// line.
type Device interface {
	Base() uint64
	Size() uint64
	Name() string

	Read8(offset uint64) (uint8, error)
	Read16(offset uint64) (uint16, error)
	Read32(offset uint64) (uint32, error)
	Read64(offset uint64) (uint64, error)

	Write8(offset uint64, v uint8) error
	Write16(offset uint64, v uint16) error
	Write32(offset uint64, v uint32) error
	Write64(offset uint64, v uint64) error

	// Tick advances the device by one bus cycle and reports whether the
	// device is asserting its interrupt line; the bus then latches
	// InterruptID into the interrupt controller. Devices that are not
	// PLIC sources always return false.
	Tick() (irqPending bool)

	// InterruptID identifies this device's source line on the
	// interrupt controller (0 means "does not raise through the PLIC",
	// e.g. CLINT which asserts directly into mip).
	InterruptID() uint32
}

// DRAM is the tail-of-map main memory region; it is not a Device (no
// interrupt line, no tick) but is addressed the same way.
type DRAM interface {
	Base() uint64
	Size() uint64
	Read8(offset uint64) (uint8, error)
	Read16(offset uint64) (uint16, error)
	Read32(offset uint64) (uint32, error)
	Read64(offset uint64) (uint64, error)
	Write8(offset uint64, v uint8) error
	Write16(offset uint64, v uint16) error
	Write32(offset uint64, v uint32) error
	Write64(offset uint64, v uint64) error
}

// Bus owns DRAM and a fixed list of peripherals and decodes every
// access to exactly one of them.
type Bus struct {
	dram    DRAM
	devices []Device
	// plic, if set, receives each tick's asserted device IDs and
	// computes the claim/complete logic; clint, if set, is ticked and
	// polled directly since its interrupt lines bypass the PLIC.
	plic  InterruptController
	clint TimerUnit
}

// InterruptController is the subset of plic.PLIC the bus needs without
// importing the device package (avoiding an import cycle, since plic
// itself implements Device and lives on the bus). PendingFor reports
// whether the given context (plic.ContextMachine/ContextSupervisor)
// currently has a claimable interrupt, so the hart can latch it into
// mip's MEIP/SEIP bits the same way it polls CLINT's timer/software
// lines.
type InterruptController interface {
	Latch(sourceID uint32)
	PendingFor(ctx int) bool
}

// TimerUnit is the subset of clint.CLINT the bus needs to read the
// per-hart interrupt lines directly (they assert straight into mip,
// not through the PLIC).
type TimerUnit interface {
	TimerPending() bool
	SoftwarePending() bool
}

// New creates a Bus over the given DRAM region. Peripherals are added
// with AddDevice; PLIC/CLINT are registered separately since the bus
// needs typed access to their non-Device methods.
func New(dram DRAM) *Bus {
	return &Bus{dram: dram}
}

// AddDevice registers a peripheral. Order given is the order Tick
// drives them in, matching spec.md's "block, timer, UART, extras"
// fixed order requirement.
func (b *Bus) AddDevice(d Device) {
	b.devices = append(b.devices, d)
}

// SetPLIC registers the interrupt controller so Tick can latch
// asserted device IDs into it.
func (b *Bus) SetPLIC(p InterruptController) {
	b.plic = p
}

// SetCLINT registers the timer unit so the hart can query its pending
// lines directly.
func (b *Bus) SetCLINT(c TimerUnit) {
	b.clint = c
}

// CLINT returns the registered timer unit, or nil.
func (b *Bus) CLINT() TimerUnit {
	return b.clint
}

// PLIC returns the registered interrupt controller, or nil.
func (b *Bus) PLIC() InterruptController {
	return b.plic
}

func (b *Bus) find(addr uint64) (Device, uint64, bool) {
	for _, d := range b.devices {
		base := d.Base()
		if addr >= base && addr < base+d.Size() {
			return d, addr - base, true
		}
	}
	return nil, 0, false
}

func (b *Bus) inDRAM(addr uint64) bool {
	return addr >= b.dram.Base() && addr < b.dram.Base()+b.dram.Size()
}

// Tick advances every peripheral by one cycle in registration order,
// latching any newly-asserted interrupt source into the PLIC.
func (b *Bus) Tick() {
	for _, d := range b.devices {
		if d.Tick() {
			if id := d.InterruptID(); id != 0 && b.plic != nil {
				b.plic.Latch(id)
			}
		}
	}
}

type accessError struct {
	addr  uint64
	width int
}

func (e *accessError) Error() string {
	return fmt.Sprintf("bus: no device at address 0x%x (width %d)", e.addr, e.width)
}

// Read8 reads a single byte at a physical address.
func (b *Bus) Read8(addr uint64) (uint8, error) {
	if b.inDRAM(addr) {
		return b.dram.Read8(addr - b.dram.Base())
	}
	if d, off, ok := b.find(addr); ok {
		return d.Read8(off)
	}
	return 0, &accessError{addr, 8}
}

// Read16 reads a little-endian 16-bit value at a physical address.
func (b *Bus) Read16(addr uint64) (uint16, error) {
	if b.inDRAM(addr) {
		return b.dram.Read16(addr - b.dram.Base())
	}
	if d, off, ok := b.find(addr); ok {
		return d.Read16(off)
	}
	return 0, &accessError{addr, 16}
}

// Read32 reads a little-endian 32-bit value at a physical address.
func (b *Bus) Read32(addr uint64) (uint32, error) {
	if b.inDRAM(addr) {
		return b.dram.Read32(addr - b.dram.Base())
	}
	if d, off, ok := b.find(addr); ok {
		return d.Read32(off)
	}
	return 0, &accessError{addr, 32}
}

// Read64 reads a little-endian 64-bit value at a physical address.
func (b *Bus) Read64(addr uint64) (uint64, error) {
	if b.inDRAM(addr) {
		return b.dram.Read64(addr - b.dram.Base())
	}
	if d, off, ok := b.find(addr); ok {
		return d.Read64(off)
	}
	return 0, &accessError{addr, 64}
}

// Write8 writes a single byte at a physical address.
func (b *Bus) Write8(addr uint64, v uint8) error {
	if b.inDRAM(addr) {
		return b.dram.Write8(addr-b.dram.Base(), v)
	}
	if d, off, ok := b.find(addr); ok {
		return d.Write8(off, v)
	}
	return &accessError{addr, 8}
}

// Write16 writes a little-endian 16-bit value at a physical address.
func (b *Bus) Write16(addr uint64, v uint16) error {
	if b.inDRAM(addr) {
		return b.dram.Write16(addr-b.dram.Base(), v)
	}
	if d, off, ok := b.find(addr); ok {
		return d.Write16(off, v)
	}
	return &accessError{addr, 16}
}

// Write32 writes a little-endian 32-bit value at a physical address.
func (b *Bus) Write32(addr uint64, v uint32) error {
	if b.inDRAM(addr) {
		return b.dram.Write32(addr-b.dram.Base(), v)
	}
	if d, off, ok := b.find(addr); ok {
		return d.Write32(off, v)
	}
	return &accessError{addr, 32}
}

// Write64 writes a little-endian 64-bit value at a physical address.
func (b *Bus) Write64(addr uint64, v uint64) error {
	if b.inDRAM(addr) {
		return b.dram.Write64(addr-b.dram.Base(), v)
	}
	if d, off, ok := b.find(addr); ok {
		return d.Write64(off, v)
	}
	return &accessError{addr, 64}
}

// DRAMBytes exposes the DRAM backing slice directly for DMA (e.g. the
// virtio-blk device walking its descriptor chain and copying straight
// into guest memory rather than one bus access per byte).
func (b *Bus) DRAMBytes() ([]byte, uint64, bool) {
	type byteser interface{ Bytes() []byte }
	if bs, ok := b.dram.(byteser); ok {
		return bs.Bytes(), b.dram.Base(), true
	}
	return nil, 0, false
}
