// Package hart implements the fetch-decode-execute loop for a single
// RISC-V hart: architectural register state, the ten-step instruction
// cycle, trap entry/return, double-fault detection, and the per-tick
// interrupt-pending check against the bus's CLINT/PLIC lines.
//
// Grounded on the teacher's cpu.go Run/fetch/handleException/
// raiseException shape (trace hooks around fetch and execute, a
// pending-exception flag plumbed from execute into the next loop
// iteration, double-fault detection keyed off "exception while
// already in the most-privileged mode with interrupts masked"),
// generalized from the WUT-4's single kernel/user split to the full
// M/S/U privilege hierarchy and CSR-driven trap delegation.
package hart

import (
	"fmt"

	"rvemu/internal/bus"
	"rvemu/internal/csr"
	"rvemu/internal/isa"
	"rvemu/internal/mmu"
	"rvemu/internal/trace"
	"rvemu/internal/trap"
)

// Hart is one RISC-V hardware thread: 32 integer registers, 32
// floating-point registers, a CSR file, an MMU, and a bus.
type Hart struct {
	xlen int // 32 or 64

	regs  [32]uint64
	fregs [32]uint64
	pc    uint64

	privilege csr.Privilege
	csrs      *csr.File
	mmu       *mmu.MMU
	bus       *bus.Bus

	reservationValid bool
	reservationAddr  uint64

	waitingForInterrupt bool
	halted              bool
	haltCode            int

	cycle  uint64
	tracer *trace.Tracer
}

// New creates a hart with XLEN-bit registers (32 or 64), wired to bus
// and starting execution at resetPC in machine mode.
func New(xlen int, b *bus.Bus, resetPC uint64) *Hart {
	h := &Hart{
		xlen:      xlen,
		pc:        resetPC,
		privilege: csr.Machine,
		csrs:      csr.New(),
		bus:       b,
	}
	h.mmu = mmu.New(h.csrs, b)
	return h
}

// SetTracer installs a tracer; nil disables tracing.
func (h *Hart) SetTracer(t *trace.Tracer) { h.tracer = t }

// CSRFile exposes the CSR bank for external bookkeeping (e.g. the
// loader reading/writing mhartid, or tests priming satp).
func (h *Hart) CSRFile() *csr.File { return h.csrs }

// Halted reports whether the hart has stopped running (the hart halts
// itself on a double fault; a .tohost write does not halt it).
func (h *Hart) Halted() bool  { return h.halted }
func (h *Hart) HaltCode() int { return h.haltCode }

// Halt stops the hart with the given exit code. Within this package it
// is called on a double fault, with code 1.
func (h *Hart) Halt(code int) {
	h.halted = true
	h.haltCode = code
}

// TestExitCode decodes a riscv-tests .tohost word into a process exit
// code: 1 means the test suite passed (exit 0); any other nonzero
// value encodes (failingTestCode<<1)|1, so the low byte is the test
// number shifted back down.
func (h *Hart) TestExitCode(tohost uint32) int {
	if tohost == 1 {
		return 0
	}
	return int((tohost >> 1) & 0xff)
}

// --- isa.Core implementation ---

func (h *Hart) XLEN() int { return h.xlen }

func (h *Hart) Reg(n uint32) uint64 {
	return h.regs[n&0x1F]
}

func (h *Hart) SetReg(n uint32, v uint64) {
	if n == 0 {
		return
	}
	h.regs[n&0x1F] = v
}

func (h *Hart) FReg(n uint32) uint64   { return h.fregs[n&0x1F] }
func (h *Hart) SetFReg(n uint32, v uint64) { h.fregs[n&0x1F] = v }

func (h *Hart) PC() uint64      { return h.pc }
func (h *Hart) SetPC(pc uint64) { h.pc = pc }

func (h *Hart) Privilege() csr.Privilege          { return h.privilege }
func (h *Hart) SetPrivilege(p csr.Privilege)      { h.privilege = p }

func (h *Hart) ReadCSR(addr uint16) (uint64, *trap.Trap) {
	v, err := h.csrs.Read(addr, h.privilege)
	if err != nil {
		return 0, trap.Exception(trap.IllegalInstruction, 0)
	}
	if h.tracer != nil {
		h.tracer.TraceCSR("read", addr, v)
	}
	return v, nil
}

func (h *Hart) WriteCSR(addr uint16, v uint64) *trap.Trap {
	if err := h.csrs.Write(addr, v, h.privilege); err != nil {
		return trap.Exception(trap.IllegalInstruction, 0)
	}
	if h.tracer != nil {
		h.tracer.TraceCSR("write", addr, v)
	}
	return nil
}

func (h *Hart) Load(vaddr uint64, width int, signed bool) (uint64, *trap.Trap) {
	if vaddr%uint64(width) != 0 {
		// Byte- and sub-word-aligned accesses are always permitted;
		// the emulated bus does not require natural alignment for
		// loads, matching the original Rust emulator's byte-addressed
		// dram.rs (no misalignment faults raised there).
	}
	paddr, t := h.mmu.Translate(vaddr, mmu.AccessRead, h.privilege)
	if t != nil {
		return 0, t
	}
	var raw uint64
	var err error
	switch width {
	case 1:
		var v8 uint8
		v8, err = h.bus.Read8(paddr)
		raw = uint64(v8)
		if signed {
			raw = uint64(int64(int8(v8)))
		}
	case 2:
		var v16 uint16
		v16, err = h.bus.Read16(paddr)
		raw = uint64(v16)
		if signed {
			raw = uint64(int64(int16(v16)))
		}
	case 4:
		var v32 uint32
		v32, err = h.bus.Read32(paddr)
		raw = uint64(v32)
		if signed {
			raw = uint64(int64(int32(v32)))
		}
	case 8:
		raw, err = h.bus.Read64(paddr)
	}
	if err != nil {
		return 0, trap.Exception(trap.LoadAccessFault, vaddr)
	}
	if h.tracer != nil {
		h.tracer.TraceMemoryRead(vaddr, paddr, raw, width)
	}
	return raw, nil
}

func (h *Hart) Store(vaddr uint64, width int, value uint64) *trap.Trap {
	paddr, t := h.mmu.Translate(vaddr, mmu.AccessWrite, h.privilege)
	if t != nil {
		return t
	}
	var err error
	switch width {
	case 1:
		err = h.bus.Write8(paddr, uint8(value))
	case 2:
		err = h.bus.Write16(paddr, uint16(value))
	case 4:
		err = h.bus.Write32(paddr, uint32(value))
	case 8:
		err = h.bus.Write64(paddr, value)
	}
	if err != nil {
		return trap.Exception(trap.StoreAccessFault, vaddr)
	}
	if h.tracer != nil {
		h.tracer.TraceMemoryWrite(vaddr, paddr, value, width)
	}
	// Any store invalidates a reservation on the same address, per the
	// A-extension's "any store to the reserved byte range" rule.
	if h.reservationValid && paddr == h.reservationAddr {
		h.reservationValid = false
	}
	return nil
}

func (h *Hart) SetReservation(addr uint64) {
	h.reservationValid = true
	h.reservationAddr = addr
}

func (h *Hart) CheckAndClearReservation(addr uint64) bool {
	ok := h.reservationValid && h.reservationAddr == addr
	h.reservationValid = false
	return ok
}

func (h *Hart) ClearReservation() { h.reservationValid = false }

func (h *Hart) FenceVMA(rs1, rs2 uint64) {
	if rs1 == 0 {
		h.mmu.Flush()
		return
	}
	h.mmu.FlushAddr(rs1)
}

func (h *Hart) WFI() { h.waitingForInterrupt = true }

func (h *Hart) ECall() *trap.Trap {
	switch h.privilege {
	case csr.User:
		return trap.Exception(trap.EnvironmentCallFromUMode, 0)
	case csr.Supervisor:
		return trap.Exception(trap.EnvironmentCallFromSMode, 0)
	default:
		return trap.Exception(trap.EnvironmentCallFromMMode, 0)
	}
}

func (h *Hart) EBreak() *trap.Trap {
	return trap.Exception(trap.Breakpoint, h.pc)
}

// TrapReturn implements MRET/SRET: restore PC from xepc, privilege
// from xPP, interrupt-enable from xPIE (and set xPIE=1, xPP=least
// privilege) per the privileged spec's trap-return algorithm.
func (h *Hart) TrapReturn(level csr.Privilege) *trap.Trap {
	if level > h.privilege {
		return trap.Exception(trap.IllegalInstruction, 0)
	}
	switch level {
	case csr.Machine:
		mstatus := h.csrs.ReadDirect(csr.Mstatus)
		pie := mstatus&csr.StatusMPIE != 0
		pp := csr.Privilege((mstatus >> csr.StatusMPPShift) & 0x3)
		mstatus = mstatus &^ uint64(csr.StatusMIE)
		if pie {
			mstatus |= csr.StatusMIE
		}
		mstatus |= csr.StatusMPIE
		mstatus &^= uint64(csr.StatusMPPMask)
		// MPP resets to U if U-mode is implemented, else M; this hart
		// always implements U, so reset to User.
		h.csrs.WriteDirect(csr.Mstatus, mstatus)
		h.privilege = pp
		h.pc = h.csrs.ReadDirect(csr.Mepc)
	case csr.Supervisor:
		sstatus := h.csrs.ReadDirect(csr.Sstatus)
		pie := sstatus&csr.StatusSPIE != 0
		pp := csr.User
		if sstatus&csr.StatusSPP != 0 {
			pp = csr.Supervisor
		}
		sstatus = sstatus &^ uint64(csr.StatusSIE)
		if pie {
			sstatus |= csr.StatusSIE
		}
		sstatus |= csr.StatusSPIE
		sstatus &^= uint64(csr.StatusSPP)
		h.csrs.WriteDirect(csr.Sstatus, sstatus)
		h.privilege = pp
		h.pc = h.csrs.ReadDirect(csr.Sepc)
	case csr.User:
		ustatus := h.csrs.ReadDirect(csr.Ustatus)
		pie := ustatus&csr.StatusUPIE != 0
		ustatus = ustatus &^ uint64(csr.StatusUIE)
		if pie {
			ustatus |= csr.StatusUIE
		}
		ustatus |= csr.StatusUPIE
		h.csrs.WriteDirect(csr.Ustatus, ustatus)
		// URET always lands back in User mode; there is no level below
		// it for UPP to encode.
		h.privilege = csr.User
		h.pc = h.csrs.ReadDirect(csr.Uepc)
	default:
		return trap.Exception(trap.IllegalInstruction, 0)
	}
	if h.tracer != nil {
		h.tracer.TraceTrapReturn(levelName(level), h.pc, privName(h.privilege))
	}
	return isa.RedirectedTrap()
}

func levelName(p csr.Privilege) string {
	switch p {
	case csr.Machine:
		return "M"
	case csr.Supervisor:
		return "S"
	default:
		return "U"
	}
}

func privName(p csr.Privilege) string {
	switch p {
	case csr.Machine:
		return "machine"
	case csr.Supervisor:
		return "supervisor"
	default:
		return "user"
	}
}

// Step fetches, decodes, and executes exactly one instruction,
// servicing any pending interrupt first and entering a trap if the
// fetch or execute stage faults. The returned error is always nil: a
// bus read failing on a fetch becomes an instruction-access-fault trap,
// and a double fault halts the hart (see Halted) instead.
func (h *Hart) Step() error {
	h.bus.Tick()

	if cause, ok := h.pendingInterrupt(); ok {
		h.enterTrap(trap.Interrupt(cause))
		h.cycle++
		return nil
	}

	if h.waitingForInterrupt {
		h.cycle++
		return nil
	}

	if h.tracer != nil {
		h.tracer.TracePreInstruction(h.cycle, h.pc, privName(h.privilege), h.regs)
	}

	raw, length, t := h.fetch()
	if t != nil {
		h.enterTrap(t)
		h.cycle++
		return nil
	}

	in := isa.Decode(raw)
	in.Length = length
	if h.tracer != nil {
		h.tracer.TraceFetched(raw, length, in.String())
	}

	t = isa.Execute(h, in)
	if t != nil && !isa.Redirected(t) {
		h.enterTrap(t)
	} else if t == nil {
		h.pc += uint64(length)
	}

	if h.tracer != nil {
		h.tracer.TracePostInstruction(h.regs)
	}

	h.cycle++
	return nil
}

func (h *Hart) fetch() (raw uint32, length int, t *trap.Trap) {
	paddr, t := h.mmu.Translate(h.pc, mmu.AccessExecute, h.privilege)
	if t != nil {
		return 0, 0, t
	}
	half, err := h.bus.Read16(paddr)
	if err != nil {
		return 0, 0, trap.Exception(trap.InstructionAccessFault, h.pc)
	}
	if half&0x3 != 0x3 {
		expanded, ok := isa.Expand16(half)
		if !ok {
			return 0, 2, trap.Exception(trap.IllegalInstruction, uint64(half))
		}
		return expanded, 2, nil
	}
	paddrHi, t := h.mmu.Translate(h.pc+2, mmu.AccessExecute, h.privilege)
	if t != nil {
		return 0, 0, t
	}
	upperHalf, err := h.bus.Read16(paddrHi)
	if err != nil {
		return 0, 0, trap.Exception(trap.InstructionAccessFault, h.pc+2)
	}
	return uint32(half) | uint32(upperHalf)<<16, 4, nil
}

// pendingInterrupt reports the highest-priority interrupt that is
// currently enabled and pending per mip/mie/mstatus/mideleg, or
// ok=false if none should be taken right now.
func (h *Hart) pendingInterrupt() (trap.Cause, bool) {
	h.latchBusLines()

	mip := h.csrs.ReadDirect(csr.Mip)
	mie := h.csrs.ReadDirect(csr.Mie)
	pending := mip & mie
	if pending == 0 {
		return 0, false
	}

	mstatus := h.csrs.ReadDirect(csr.Mstatus)
	mideleg := h.csrs.ReadDirect(csr.Mideleg)

	globalM := h.privilege < csr.Machine || (h.privilege == csr.Machine && mstatus&csr.StatusMIE != 0)
	globalS := h.privilege < csr.Supervisor || (h.privilege == csr.Supervisor && mstatus&csr.StatusSIE != 0)

	// Priority order: MEI, MSI, MTI, SEI, SSI, STI (highest first).
	order := []uint{uint(trap.MachineExternalInterrupt), uint(trap.MachineSoftwareInterrupt), uint(trap.MachineTimerInterrupt),
		uint(trap.SupervisorExternalInterrupt), uint(trap.SupervisorSoftwareInterrupt), uint(trap.SupervisorTimerInterrupt)}
	for _, bit := range order {
		if pending&(1<<bit) == 0 {
			continue
		}
		delegatedToS := mideleg&(1<<bit) != 0
		if delegatedToS {
			if globalS {
				h.waitingForInterrupt = false
				return trap.Cause(bit), true
			}
			continue
		}
		if globalM {
			h.waitingForInterrupt = false
			return trap.Cause(bit), true
		}
	}
	return 0, false
}

// plicContextMachine/plicContextSupervisor mirror plic.ContextMachine/
// plic.ContextSupervisor. Hardcoded rather than imported: hart only
// talks to the PLIC through bus.InterruptController, the same
// device-agnostic boundary CLINT already crosses via bus.TimerUnit.
const (
	plicContextMachine    = 0
	plicContextSupervisor = 1
)

func (h *Hart) latchBusLines() {
	var set, clear uint64
	if clint := h.bus.CLINT(); clint != nil {
		if clint.TimerPending() {
			set |= 1 << csr.MtipBit
		} else {
			clear |= 1 << csr.MtipBit
		}
		if clint.SoftwarePending() {
			set |= 1 << csr.MsipBit
		} else {
			clear |= 1 << csr.MsipBit
		}
	}
	if plic := h.bus.PLIC(); plic != nil {
		if plic.PendingFor(plicContextMachine) {
			set |= 1 << csr.MeipBit
		} else {
			clear |= 1 << csr.MeipBit
		}
		if plic.PendingFor(plicContextSupervisor) {
			set |= 1 << csr.SeipBit
		} else {
			clear |= 1 << csr.SeipBit
		}
	}
	h.csrs.ReadModifyWriteDirect(csr.Mip, set, clear)
}

// enterTrap implements the trap-entry algorithm: pick the target
// privilege via medeleg/mideleg, save pc/cause/tval, mask interrupts,
// and jump to the vectored or direct handler per xtvec.MODE.
func (h *Hart) enterTrap(t *trap.Trap) {
	target := csr.Machine
	if h.privilege <= csr.Supervisor {
		delegRegister := h.csrs.ReadDirect(csr.Medeleg)
		if t.IsInterrupt {
			delegRegister = h.csrs.ReadDirect(csr.Mideleg)
		}
		if delegRegister&(1<<uint(t.Cause)) != 0 {
			target = csr.Supervisor
			// A further Supervisor->User drop is only possible when the
			// trap originated in User mode itself.
			if h.privilege == csr.User {
				delegRegister2 := h.csrs.ReadDirect(csr.Sedeleg)
				if t.IsInterrupt {
					delegRegister2 = h.csrs.ReadDirect(csr.Sideleg)
				}
				if delegRegister2&(1<<uint(t.Cause)) != 0 {
					target = csr.User
				}
			}
		}
	}
	delegated := target != csr.Machine

	causeField := uint64(t.Cause)
	if t.IsInterrupt {
		if h.xlen == 32 {
			causeField |= 1 << 31
		} else {
			causeField |= 1 << 63
		}
	}

	fromPC := h.pc
	origPriv := h.privilege
	origMIE := h.csrs.ReadDirect(csr.Mstatus)&csr.StatusMIE != 0

	switch target {
	case csr.User:
		h.csrs.WriteDirect(csr.Uepc, h.pc)
		h.csrs.WriteDirect(csr.Ucause, causeField)
		h.csrs.WriteDirect(csr.Utval, t.Tval)

		ustatus := h.csrs.ReadDirect(csr.Ustatus)
		pie := ustatus&csr.StatusUIE != 0
		ustatus &^= uint64(csr.StatusUIE)
		ustatus &^= uint64(csr.StatusUPIE)
		if pie {
			ustatus |= csr.StatusUPIE
		}
		h.csrs.WriteDirect(csr.Ustatus, ustatus)

		tvec := h.csrs.ReadDirect(csr.Utvec)
		h.pc = vectoredTarget(tvec, t)
		h.privilege = csr.User
	case csr.Supervisor:
		h.csrs.WriteDirect(csr.Sepc, h.pc)
		h.csrs.WriteDirect(csr.Scause, causeField)
		h.csrs.WriteDirect(csr.Stval, t.Tval)

		sstatus := h.csrs.ReadDirect(csr.Sstatus)
		pie := sstatus&csr.StatusSIE != 0
		sstatus &^= uint64(csr.StatusSIE)
		sstatus &^= uint64(csr.StatusSPP)
		if h.privilege == csr.Supervisor {
			sstatus |= csr.StatusSPP
		}
		sstatus &^= uint64(csr.StatusSPIE)
		if pie {
			sstatus |= csr.StatusSPIE
		}
		h.csrs.WriteDirect(csr.Sstatus, sstatus)

		tvec := h.csrs.ReadDirect(csr.Stvec)
		h.pc = vectoredTarget(tvec, t)
		h.privilege = csr.Supervisor
	default: // csr.Machine
		h.csrs.WriteDirect(csr.Mepc, h.pc)
		h.csrs.WriteDirect(csr.Mcause, causeField)
		h.csrs.WriteDirect(csr.Mtval, t.Tval)

		mstatus := h.csrs.ReadDirect(csr.Mstatus)
		pie := mstatus&csr.StatusMIE != 0
		mstatus &^= uint64(csr.StatusMIE)
		mstatus &^= uint64(csr.StatusMPPMask)
		mstatus |= uint64(h.privilege) << csr.StatusMPPShift
		mstatus &^= uint64(csr.StatusMPIE)
		if pie {
			mstatus |= csr.StatusMPIE
		}
		h.csrs.WriteDirect(csr.Mstatus, mstatus)

		tvec := h.csrs.ReadDirect(csr.Mtvec)
		h.pc = vectoredTarget(tvec, t)
		h.privilege = csr.Machine
	}

	if h.tracer != nil {
		h.tracer.TraceTrapEntry(t.IsInterrupt, uint(t.Cause), t.Tval, fromPC, h.pc, privName(h.privilege))
	}

	if !delegated && !t.IsInterrupt && origPriv == csr.Machine && !origMIE {
		if h.tracer != nil {
			h.tracer.TraceDoubleFault(fromPC, h.cycle)
		}
		fmt.Println("rvemu: double fault, halting")
		h.Halt(1)
	}
}

func vectoredTarget(tvec uint64, t *trap.Trap) uint64 {
	base := tvec &^ 0x3
	mode := tvec & 0x3
	if mode == 1 && t.IsInterrupt {
		return base + 4*uint64(t.Cause)
	}
	return base
}

