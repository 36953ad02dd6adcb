// Package fe310 implements the three peripherals the alternate
// "fe310-like" machine map adds over the virt map: the Power Reset
// Clocking Interrupt block, a GPIO bank, and a memory-mapped
// (execute-in-place) SPI boot-flash. None of these raise interrupts
// through the PLIC in this emulator (clock configuration is instant
// and GPIO pin-change interrupts aren't wired to any simulated input
// source), so Tick always reports false and InterruptID returns 0,
// mirroring the CLINT's "asserts directly, not through the PLIC"
// shape from internal/device/clint for PRCI/flash and simply "no
// interrupt source modeled yet" for GPIO.
package fe310

const (
	regHFROSCCFG = 0x000
	regHFXOSCCFG = 0x00c
	regPLLCFG    = 0x008
	regPLLOUTDIV = 0x010

	hfroscReady = 1 << 31
	hfroscEn    = 1 << 30
	pllLock     = 1 << 31
)

// PRCI models the fe310's clock generator enough to satisfy boot code
// that writes a PLL configuration and then polls for PLLCFG's lock
// bit: the lock bit is asserted the instant the PLL is configured,
// since this emulator has no notion of clock settling time.
type PRCI struct {
	base    uint64
	hfrosc  uint32
	hfxosc  uint32
	pllcfg  uint32
	outdiv  uint32
}

// NewPRCI creates a PRCI block mapped at base.
func NewPRCI(base uint64) *PRCI {
	return &PRCI{base: base, hfrosc: hfroscReady | hfroscEn}
}

func (p *PRCI) Base() uint64        { return p.base }
func (p *PRCI) Size() uint64        { return 0x1000 }
func (p *PRCI) Name() string        { return "prci" }
func (p *PRCI) InterruptID() uint32 { return 0 }
func (p *PRCI) Tick() bool          { return false }

func (p *PRCI) Read32(offset uint64) (uint32, error) {
	switch offset {
	case regHFROSCCFG:
		return p.hfrosc, nil
	case regHFXOSCCFG:
		return p.hfxosc, nil
	case regPLLCFG:
		return p.pllcfg, nil
	case regPLLOUTDIV:
		return p.outdiv, nil
	}
	return 0, nil
}

func (p *PRCI) Write32(offset uint64, v uint32) error {
	switch offset {
	case regHFROSCCFG:
		p.hfrosc = v
		if v&hfroscEn != 0 {
			p.hfrosc |= hfroscReady
		}
	case regHFXOSCCFG:
		p.hfxosc = v
		p.hfxosc |= hfroscReady
	case regPLLCFG:
		p.pllcfg = v | pllLock
	case regPLLOUTDIV:
		p.outdiv = v
	}
	return nil
}

func (p *PRCI) Read8(offset uint64) (uint8, error) {
	v, err := p.Read32(offset &^ 3)
	return uint8(v >> ((offset & 3) * 8)), err
}
func (p *PRCI) Read16(offset uint64) (uint16, error) {
	v, err := p.Read32(offset &^ 3)
	return uint16(v >> ((offset & 2) * 8)), err
}
func (p *PRCI) Read64(offset uint64) (uint64, error) {
	lo, err := p.Read32(offset)
	if err != nil {
		return 0, err
	}
	hi, err := p.Read32(offset + 4)
	return uint64(lo) | uint64(hi)<<32, err
}
func (p *PRCI) Write8(offset uint64, v uint8) error  { return p.Write32(offset&^3, uint32(v)) }
func (p *PRCI) Write16(offset uint64, v uint16) error { return p.Write32(offset&^3, uint32(v)) }
func (p *PRCI) Write64(offset uint64, v uint64) error {
	if err := p.Write32(offset, uint32(v)); err != nil {
		return err
	}
	return p.Write32(offset+4, uint32(v>>32))
}
