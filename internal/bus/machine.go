package bus

import (
	"io"

	"rvemu/internal/device/clint"
	"rvemu/internal/device/fe310"
	"rvemu/internal/device/plic"
	"rvemu/internal/device/uart"
	"rvemu/internal/device/virtioblk"
)

// Memory map base addresses shared by both machine variants.
const (
	ClintBase = 0x0200_0000
	PlicBase  = 0x0c00_0000
	Uart0Base = 0x1000_0000
	VirtioBase = 0x1000_1000

	PrciBase     = 0x1000_8000
	GPIOBase     = 0x1001_2000
	SPIFlashBase = 0x2000_0000
	SPIFlashSize = 0x2000_0000 // 0x2000_0000..0x3FFF_FFFF

	Uart0IRQ  = 10
	VirtioIRQ = 1
)

// diskBacking is the random-access file virtio-blk DMAs a disk image
// through; *os.File satisfies it.
type diskBacking interface {
	io.ReaderAt
	io.WriterAt
}

// NewVirtMachine assembles the default "virt" memory map: CLINT,
// PLIC, UART0, a virtio-blk device, and dram. disk/diskSize may be
// nil/0 when the kernel under test doesn't need a block device.
func NewVirtMachine(dram DRAM, disk diskBacking, diskSize int64) (*Bus, error) {
	b := New(dram)

	if disk != nil {
		blk, err := virtioblk.New(VirtioBase, b, disk, diskSize)
		if err != nil {
			return nil, err
		}
		b.AddDevice(blk)
	}

	c := clint.New(ClintBase)
	b.AddDevice(c)
	b.SetCLINT(c)

	p := plic.New(PlicBase)
	b.AddDevice(p)
	b.SetPLIC(p)

	u := uart.New(Uart0Base, uart.NullTerminal{}, Uart0IRQ)
	b.AddDevice(u)

	return b, nil
}

// SetConsole swaps UART0's terminal backend after construction, since
// the real console (stdin/stdout wiring) is normally built in
// cmd/rvemu after flags are parsed.
func (b *Bus) SetConsole(term uart.Terminal) {
	for _, d := range b.devices {
		if u, ok := d.(*uart.UART); ok {
			u.SetTerminal(term)
		}
	}
}

// NewFE310Machine assembles the alternate fe310-like memory map: the
// virt map's CLINT/PLIC/UART0/virtio-blk, plus PRCI, GPIO, and a
// memory-mapped SPI boot-flash preloaded with flashImage.
func NewFE310Machine(dram DRAM, disk diskBacking, diskSize int64, flashImage []byte) (*Bus, error) {
	b, err := NewVirtMachine(dram, disk, diskSize)
	if err != nil {
		return nil, err
	}

	b.AddDevice(fe310.NewPRCI(PrciBase))
	b.AddDevice(fe310.NewGPIO(GPIOBase))
	b.AddDevice(fe310.NewSPIFlash(SPIFlashBase, SPIFlashSize, flashImage))

	return b, nil
}
