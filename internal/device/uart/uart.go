// Package uart implements a 16550a-style UART: receive-holding,
// transmit-holding, interrupt-enable, interrupt-status, line-control,
// line-status, modem-control/status, and scratch registers, driving a
// terminal capability non-blockingly on every bus tick. Grounded on
// original_source/src/peripherals/uart.rs's register set, rewired to
// the bus.Device contract and to a pluggable terminal backend instead
// of println!.
package uart

// Terminal is the minimal capability the UART needs from whatever
// backs the guest's console — a real raw-mode terminal, a pipe, or a
// discard/never-ready stub in headless test runs.
type Terminal interface {
	PutByte(b byte)
	PollByte() (b byte, ok bool)
}

// Register offsets, relative to the device base. The UART only
// supports byte-wide accesses per spec.md's bus width table.
const (
	RegRHR = 0 // Receiver Holding Register (RO, read clears Data Ready)
	RegTHR = 0 // Transmitter Holding Register (WO)
	RegIER = 1 // Interrupt Enable Register (RW)
	RegISR = 2 // Interrupt Status Register (RO)
	RegFCR = 2 // FIFO Control Register (WO)
	RegLCR = 3 // Line Control Register (RW)
	RegMCR = 4 // Modem Control Register (RW)
	RegLSR = 5 // Line Status Register (RW: a write replaces it)
	RegMSR = 6 // Modem Status Register (RW: a write replaces it)
	RegSPR = 7 // Scratch Register (RW)
)

const (
	lsrDataReady  = 0x01
	lsrThrEmpty   = 0x20
	ierRxEnable   = 0x01
	ierTxEnable   = 0x02
	isrNoInt      = 0x01
	isrTxEmpty    = 0x02
	isrRxReady    = 0x04
)

// UART is a memory-mapped 16550a-ish serial port.
type UART struct {
	base uint64
	term Terminal
	irqID uint32

	rhr uint8
	thr uint8
	haveRHR bool // true once a byte has been received and not yet read
	haveTHR bool // true once software has written a byte not yet drained
	ier  uint8
	lcr  uint8
	mcr  uint8
	lsr  uint8
	msr  uint8
	spr  uint8
	isrLow uint8
}

// New creates a UART mapped at base, driving term on every Tick and
// raising irqID when the interrupt controller should see it asserted.
func New(base uint64, term Terminal, irqID uint32) *UART {
	return &UART{
		base:  base,
		term:  term,
		irqID: irqID,
		lsr:   lsrThrEmpty,
	}
}

func (u *UART) Base() uint64    { return u.base }
func (u *UART) Size() uint64    { return 0x1000 }
func (u *UART) Name() string    { return "uart" }
func (u *UART) InterruptID() uint32 { return u.irqID }

// SetTerminal swaps the backend driving this UART's console, e.g.
// when cmd/rvemu replaces the construction-time NullTerminal with the
// real stdin/stdout console once flags are parsed.
func (u *UART) SetTerminal(term Terminal) {
	u.term = term
}

// NullTerminal discards every transmitted byte and never has a
// received byte ready. Used as the placeholder backend when a bus is
// assembled before the real console is wired up, and in headless test
// runs with no console at all.
type NullTerminal struct{}

func (NullTerminal) PutByte(b byte)            {}
func (NullTerminal) PollByte() (byte, bool)    { return 0, false }

// Tick moves one byte of RX from the terminal into the RX register if
// empty, and one byte from TX to the terminal if present, raising the
// relevant interrupt per spec.md §4.8.
func (u *UART) Tick() bool {
	if !u.haveRHR {
		if b, ok := u.term.PollByte(); ok {
			u.rhr = b
			u.haveRHR = true
			u.lsr |= lsrDataReady
		}
	}
	if u.haveTHR {
		u.term.PutByte(u.thr)
		u.haveTHR = false
		u.lsr |= lsrThrEmpty
	}

	irq := false
	if u.ier&ierRxEnable != 0 && u.haveRHR {
		u.isrCode(isrRxReady)
		irq = true
	} else if u.ier&ierTxEnable != 0 && !u.haveTHR {
		u.isrCode(isrTxEmpty)
		irq = true
	} else {
		u.isrCode(isrNoInt)
	}
	return irq
}

func (u *UART) isrCode(code uint8) {
	u.isrLow = code
}

func (u *UART) readISR() uint8 {
	return u.isrLow
}

func (u *UART) Read8(offset uint64) (uint8, error) {
	switch offset & 0x7 {
	case RegRHR:
		v := u.rhr
		u.haveRHR = false
		u.lsr &^= lsrDataReady
		return v, nil
	case RegIER:
		return u.ier, nil
	case RegISR:
		return u.readISR(), nil
	case RegLCR:
		return u.lcr, nil
	case RegMCR:
		return u.mcr, nil
	case RegLSR:
		return u.lsr, nil
	case RegMSR:
		return u.msr, nil
	case RegSPR:
		return u.spr, nil
	}
	return 0, nil
}

func (u *UART) Write8(offset uint64, v uint8) error {
	switch offset & 0x7 {
	case RegTHR:
		u.thr = v
		u.haveTHR = true
		u.lsr &^= lsrThrEmpty
	case RegIER:
		u.ier = v
	case RegFCR:
		// FIFO control: this emulator has no FIFO depth to configure.
	case RegLCR:
		u.lcr = v
	case RegMCR:
		u.mcr = v
	case RegLSR:
		u.lsr = v
	case RegMSR:
		u.msr = v
	case RegSPR:
		u.spr = v
	}
	return nil
}

// Wider accesses decompose into byte-wise reads/writes per spec.md
// §4.7's per-peripheral access-width table (UART is byte-wide).

func (u *UART) Read16(offset uint64) (uint16, error) {
	lo, _ := u.Read8(offset)
	hi, _ := u.Read8(offset + 1)
	return uint16(lo) | uint16(hi)<<8, nil
}

func (u *UART) Read32(offset uint64) (uint32, error) {
	lo, _ := u.Read16(offset)
	hi, _ := u.Read16(offset + 2)
	return uint32(lo) | uint32(hi)<<16, nil
}

func (u *UART) Read64(offset uint64) (uint64, error) {
	lo, _ := u.Read32(offset)
	hi, _ := u.Read32(offset + 4)
	return uint64(lo) | uint64(hi)<<32, nil
}

func (u *UART) Write16(offset uint64, v uint16) error {
	u.Write8(offset, uint8(v))
	u.Write8(offset+1, uint8(v>>8))
	return nil
}

func (u *UART) Write32(offset uint64, v uint32) error {
	u.Write16(offset, uint16(v))
	u.Write16(offset+2, uint16(v>>16))
	return nil
}

func (u *UART) Write64(offset uint64, v uint64) error {
	u.Write32(offset, uint32(v))
	u.Write32(offset+4, uint32(v>>32))
	return nil
}
