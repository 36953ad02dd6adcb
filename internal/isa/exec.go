package isa

import (
	"math"

	"rvemu/internal/csr"
	"rvemu/internal/trap"
)

// Core is everything Execute needs from the hart: register files,
// privilege state, CSR access, memory access through the MMU, and the
// load-reserved/store-conditional reservation set. Kept as an
// interface (rather than importing internal/hart directly) so isa has
// no dependency on hart, matching the teacher's decode/execute split
// but avoiding the import cycle a concrete *hart.Hart would create.
type Core interface {
	XLEN() int
	Reg(n uint32) uint64
	SetReg(n uint32, v uint64)
	FReg(n uint32) uint64
	SetFReg(n uint32, v uint64)
	PC() uint64
	SetPC(pc uint64)
	Privilege() csr.Privilege
	SetPrivilege(csr.Privilege)

	ReadCSR(addr uint16) (uint64, *trap.Trap)
	WriteCSR(addr uint16, v uint64) *trap.Trap

	Load(vaddr uint64, width int, signed bool) (uint64, *trap.Trap)
	Store(vaddr uint64, width int, value uint64) *trap.Trap

	SetReservation(addr uint64)
	CheckAndClearReservation(addr uint64) bool
	ClearReservation()

	FenceVMA(rs1, rs2 uint64)

	// TrapReturn pops the trap frame for the given privilege level
	// (MRET/SRET/URET), restoring PC, privilege, and the xPIE/xIE bits.
	TrapReturn(level csr.Privilege) *trap.Trap

	ECall() *trap.Trap
	EBreak() *trap.Trap
	WFI()
}

func regOrZero(c Core, n uint32) uint64 {
	if n == 0 {
		return 0
	}
	return c.Reg(n)
}

func setReg(c Core, n uint32, v uint64) {
	if n != 0 {
		c.SetReg(n, v)
	}
}

func xlenMask(c Core) uint64 {
	if c.XLEN() == 32 {
		return 0xFFFFFFFF
	}
	return math.MaxUint64
}

func signExtendWord(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

// Execute performs the semantics of a single decoded instruction. PC
// advancement for non-control-flow instructions is the caller's
// responsibility (the hart loop adds in.Length unless Execute itself
// redirects the PC).
func Execute(c Core, in *Instruction) *trap.Trap {
	switch in.Opcode {
	case OpcodeLoad:
		return execLoad(c, in)
	case OpcodeLoadFP:
		return execLoadFP(c, in)
	case OpcodeStore:
		return execStore(c, in)
	case OpcodeStoreFP:
		return execStoreFP(c, in)
	case OpcodeOpImm:
		return execOpImm(c, in)
	case OpcodeOpImm32:
		return execOpImm32(c, in)
	case OpcodeOp:
		return execOp(c, in)
	case OpcodeOp32:
		return execOp32(c, in)
	case OpcodeLUI:
		setReg(c, in.Rd, uint64(in.Imm)&xlenMask(c))
		return nil
	case OpcodeAUIPC:
		setReg(c, in.Rd, (c.PC()+uint64(in.Imm))&xlenMask(c))
		return nil
	case OpcodeJAL:
		link := c.PC() + uint64(in.Length)
		setReg(c, in.Rd, link)
		target := c.PC() + uint64(in.Imm)
		if target%2 != 0 {
			return trap.Exception(trap.InstructionAddressMisaligned, target)
		}
		c.SetPC(target)
		return errRedirected
	case OpcodeJALR:
		link := c.PC() + uint64(in.Length)
		target := (regOrZero(c, in.Rs1) + uint64(in.Imm)) &^ 1
		setReg(c, in.Rd, link)
		if target%2 != 0 {
			return trap.Exception(trap.InstructionAddressMisaligned, target)
		}
		c.SetPC(target)
		return errRedirected
	case OpcodeBranch:
		return execBranch(c, in)
	case OpcodeMiscMem:
		return nil // FENCE / FENCE.I: single-hart interpreter, no reordering to flush
	case OpcodeSystem:
		return execSystem(c, in)
	case OpcodeAMO:
		return execAMO(c, in)
	case OpcodeOpFP:
		return execOpFP(c, in)
	case OpcodeFMADD, OpcodeFMSUB, OpcodeFNMSUB, OpcodeFNMADD:
		return execFMA(c, in)
	}
	return trap.Exception(trap.IllegalInstruction, uint64(in.raw))
}

// errRedirected is a sentinel distinguishing "PC already set by this
// instruction" from "no trap, advance PC normally". It carries no
// architectural cause and the hart loop checks for it by identity
// before treating a non-nil return as a real trap.
var errRedirected = &trap.Trap{Cause: trap.Cause(0xFFFFFFFF)}

// Redirected reports whether t is the PC-already-set sentinel.
func Redirected(t *trap.Trap) bool { return t == errRedirected }

// RedirectedTrap returns the PC-already-set sentinel for use by Core
// implementations whose own control-flow-redirecting operations (e.g.
// MRET/SRET) must signal "no trap, but do not advance PC" the same way
// Execute's own jump/branch handling does.
func RedirectedTrap() *trap.Trap { return errRedirected }

func execLoad(c Core, in *Instruction) *trap.Trap {
	addr := regOrZero(c, in.Rs1) + uint64(in.Imm)
	var width int
	signed := true
	switch in.Funct3 {
	case 0:
		width = 1
	case 1:
		width = 2
	case 2:
		width = 4
	case 3:
		width = 8
	case 4:
		width, signed = 1, false
	case 5:
		width, signed = 2, false
	case 6:
		width, signed = 4, false
	default:
		return trap.Exception(trap.IllegalInstruction, uint64(in.raw))
	}
	v, t := c.Load(addr, width, signed)
	if t != nil {
		return t
	}
	setReg(c, in.Rd, v&xlenMask(c))
	return nil
}

func execStore(c Core, in *Instruction) *trap.Trap {
	addr := regOrZero(c, in.Rs1) + uint64(in.Imm)
	width := 1 << in.Funct3
	if in.Funct3 > 3 {
		return trap.Exception(trap.IllegalInstruction, uint64(in.raw))
	}
	return c.Store(addr, width, regOrZero(c, in.Rs2))
}

func execOpImm(c Core, in *Instruction) *trap.Trap {
	rs1 := regOrZero(c, in.Rs1)
	imm := uint64(in.Imm)
	var result uint64
	switch in.Funct3 {
	case 0: // ADDI
		result = rs1 + imm
	case 1: // SLLI
		result = rs1 << (imm & shiftMask(c))
	case 2: // SLTI
		result = boolToU64(int64(rs1) < in.Imm)
	case 3: // SLTIU
		result = boolToU64(rs1 < imm)
	case 4: // XORI
		result = rs1 ^ imm
	case 5: // SRLI/SRAI
		shamt := imm & shiftMask(c)
		if (in.Funct12>>10)&1 != 0 {
			result = uint64(arithShift(c, rs1, shamt))
		} else {
			result = logicalShift(c, rs1, shamt)
		}
	case 6: // ORI
		result = rs1 | imm
	case 7: // ANDI
		result = rs1 & imm
	}
	setReg(c, in.Rd, result&xlenMask(c))
	return nil
}

func shiftMask(c Core) uint64 {
	if c.XLEN() == 32 {
		return 0x1F
	}
	return 0x3F
}

func logicalShift(c Core, v, shamt uint64) uint64 {
	if c.XLEN() == 32 {
		return uint64(uint32(v) >> shamt)
	}
	return v >> shamt
}

func arithShift(c Core, v, shamt uint64) int64 {
	if c.XLEN() == 32 {
		return int64(int32(v) >> shamt)
	}
	return int64(v) >> shamt
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func execOpImm32(c Core, in *Instruction) *trap.Trap {
	rs1 := uint32(regOrZero(c, in.Rs1))
	shamt := uint32(in.Funct12) & 0x1F
	var result uint32
	switch in.Funct3 {
	case 0: // ADDIW
		result = rs1 + uint32(in.Imm)
	case 1: // SLLIW
		result = rs1 << shamt
	case 5:
		if (in.Funct12>>10)&1 != 0 {
			result = uint32(int32(rs1) >> shamt)
		} else {
			result = rs1 >> shamt
		}
	default:
		return trap.Exception(trap.IllegalInstruction, uint64(in.raw))
	}
	setReg(c, in.Rd, signExtendWord(result))
	return nil
}

func execOp(c Core, in *Instruction) *trap.Trap {
	rs1, rs2 := regOrZero(c, in.Rs1), regOrZero(c, in.Rs2)
	if in.Funct7 == 1 {
		setReg(c, in.Rd, mExtOp(c, in.Funct3, rs1, rs2)&xlenMask(c))
		return nil
	}
	var result uint64
	switch in.Funct3 {
	case 0:
		if in.Funct7 == 0x20 {
			result = rs1 - rs2
		} else {
			result = rs1 + rs2
		}
	case 1:
		result = rs1 << (rs2 & shiftMask(c))
	case 2:
		result = boolToU64(int64(rs1) < int64(rs2))
	case 3:
		result = boolToU64(rs1 < rs2)
	case 4:
		result = rs1 ^ rs2
	case 5:
		if in.Funct7 == 0x20 {
			result = uint64(arithShift(c, rs1, rs2&shiftMask(c)))
		} else {
			result = logicalShift(c, rs1, rs2&shiftMask(c))
		}
	case 6:
		result = rs1 | rs2
	case 7:
		result = rs1 & rs2
	}
	setReg(c, in.Rd, result&xlenMask(c))
	return nil
}

func mExtOp(c Core, funct3 uint32, rs1, rs2 uint64) uint64 {
	switch funct3 {
	case 0: // MUL
		return rs1 * rs2
	case 1: // MULH
		return uint64(mulHigh(int64(rs1), int64(rs2)))
	case 2: // MULHSU
		return uint64(mulHighSU(int64(rs1), rs2))
	case 3: // MULHU
		return mulHighU(rs1, rs2)
	case 4: // DIV
		if rs2 == 0 {
			return math.MaxUint64
		}
		if int64(rs1) == math.MinInt64 && int64(rs2) == -1 {
			return rs1
		}
		return uint64(int64(rs1) / int64(rs2))
	case 5: // DIVU
		if rs2 == 0 {
			return math.MaxUint64
		}
		return rs1 / rs2
	case 6: // REM
		if rs2 == 0 {
			return rs1
		}
		if int64(rs1) == math.MinInt64 && int64(rs2) == -1 {
			return 0
		}
		return uint64(int64(rs1) % int64(rs2))
	case 7: // REMU
		if rs2 == 0 {
			return rs1
		}
		return rs1 % rs2
	}
	return 0
}

func mulHigh(a, b int64) int64 {
	hi, _ := bitsMulS(a, b)
	return hi
}

func mulHighSU(a int64, b uint64) int64 {
	neg := a < 0
	ua := uint64(a)
	if neg {
		ua = -ua
	}
	hi, lo := bitsMulU(ua, b)
	if neg {
		hi = ^hi
		if lo == 0 {
			hi++
		}
	}
	return int64(hi)
}

func mulHighU(a, b uint64) uint64 {
	hi, _ := bitsMulU(a, b)
	return hi
}

func bitsMulU(a, b uint64) (hi, lo uint64) {
	aLo, aHi := a&0xFFFFFFFF, a>>32
	bLo, bHi := b&0xFFFFFFFF, b>>32
	t := aLo * bLo
	lo = t & 0xFFFFFFFF
	carry := t >> 32
	t = aHi*bLo + carry
	mid := t & 0xFFFFFFFF
	carry = t >> 32
	t = aLo*bHi + mid
	lo |= (t & 0xFFFFFFFF) << 32
	carry += t >> 32
	hi = aHi*bHi + carry
	return hi, lo
}

func bitsMulS(a, b int64) (hi, lo int64) {
	ua, ub := uint64(a), uint64(b)
	uHi, uLo := bitsMulU(ua, ub)
	h := int64(uHi)
	if a < 0 {
		h -= b
	}
	if b < 0 {
		h -= a
	}
	return h, int64(uLo)
}

func execOp32(c Core, in *Instruction) *trap.Trap {
	rs1, rs2 := uint32(regOrZero(c, in.Rs1)), uint32(regOrZero(c, in.Rs2))
	if in.Funct7 == 1 {
		return execOp32M(c, in, rs1, rs2)
	}
	var result uint32
	switch in.Funct3 {
	case 0:
		if in.Funct7 == 0x20 {
			result = rs1 - rs2
		} else {
			result = rs1 + rs2
		}
	case 1:
		result = rs1 << (rs2 & 0x1F)
	case 5:
		if in.Funct7 == 0x20 {
			result = uint32(int32(rs1) >> (rs2 & 0x1F))
		} else {
			result = rs1 >> (rs2 & 0x1F)
		}
	default:
		return trap.Exception(trap.IllegalInstruction, uint64(in.raw))
	}
	setReg(c, in.Rd, signExtendWord(result))
	return nil
}

func execOp32M(c Core, in *Instruction, rs1, rs2 uint32) *trap.Trap {
	var result uint32
	switch in.Funct3 {
	case 0: // MULW
		result = rs1 * rs2
	case 4: // DIVW
		if rs2 == 0 {
			return assignOp32(c, in.Rd, 0xFFFFFFFF)
		}
		if int32(rs1) == math.MinInt32 && int32(rs2) == -1 {
			result = rs1
		} else {
			result = uint32(int32(rs1) / int32(rs2))
		}
	case 5: // DIVUW
		if rs2 == 0 {
			return assignOp32(c, in.Rd, 0xFFFFFFFF)
		}
		result = rs1 / rs2
	case 6: // REMW
		if rs2 == 0 {
			result = rs1
		} else if int32(rs1) == math.MinInt32 && int32(rs2) == -1 {
			result = 0
		} else {
			result = uint32(int32(rs1) % int32(rs2))
		}
	case 7: // REMUW
		if rs2 == 0 {
			result = rs1
		} else {
			result = rs1 % rs2
		}
	default:
		return trap.Exception(trap.IllegalInstruction, uint64(in.raw))
	}
	setReg(c, in.Rd, signExtendWord(result))
	return nil
}

func assignOp32(c Core, rd uint32, v uint32) *trap.Trap {
	setReg(c, rd, signExtendWord(v))
	return nil
}

func execBranch(c Core, in *Instruction) *trap.Trap {
	rs1, rs2 := regOrZero(c, in.Rs1), regOrZero(c, in.Rs2)
	var taken bool
	switch in.Funct3 {
	case 0:
		taken = rs1 == rs2
	case 1:
		taken = rs1 != rs2
	case 4:
		taken = int64(rs1) < int64(rs2)
	case 5:
		taken = int64(rs1) >= int64(rs2)
	case 6:
		taken = rs1 < rs2
	case 7:
		taken = rs1 >= rs2
	default:
		return trap.Exception(trap.IllegalInstruction, uint64(in.raw))
	}
	if !taken {
		return nil
	}
	target := c.PC() + uint64(in.Imm)
	if target%2 != 0 {
		return trap.Exception(trap.InstructionAddressMisaligned, target)
	}
	c.SetPC(target)
	return errRedirected
}

func execSystem(c Core, in *Instruction) *trap.Trap {
	if in.Funct3 != 0 {
		return execCSR(c, in)
	}
	switch in.Funct12 {
	case 0x000:
		return c.ECall()
	case 0x001:
		return c.EBreak()
	case 0x002:
		return c.TrapReturn(csr.User)
	case 0x102:
		return c.TrapReturn(csr.Supervisor)
	case 0x302:
		return c.TrapReturn(csr.Machine)
	case 0x105:
		c.WFI()
		return nil
	}
	if in.Funct7 == 0x09 { // SFENCE.VMA
		c.FenceVMA(regOrZero(c, in.Rs1), regOrZero(c, in.Rs2))
		return nil
	}
	return trap.Exception(trap.IllegalInstruction, uint64(in.raw))
}

func execCSR(c Core, in *Instruction) *trap.Trap {
	addr := uint16(in.Funct12)
	var rs1val uint64
	immForm := in.Funct3 >= 5
	if immForm {
		rs1val = uint64(in.Rs1)
	} else {
		rs1val = regOrZero(c, in.Rs1)
	}

	old, t := c.ReadCSR(addr)
	if t != nil {
		return t
	}

	var newVal uint64
	writes := true
	switch in.Funct3 & 0x3 {
	case 1: // CSRRW / CSRRWI
		newVal = rs1val
	case 2: // CSRRS / CSRRSI
		newVal = old | rs1val
		writes = in.Rs1 != 0
	case 3: // CSRRC / CSRRCI
		newVal = old &^ rs1val
		writes = in.Rs1 != 0
	default:
		return trap.Exception(trap.IllegalInstruction, uint64(in.raw))
	}
	if writes {
		if t := c.WriteCSR(addr, newVal); t != nil {
			return t
		}
	}
	setReg(c, in.Rd, old)
	return nil
}

func execAMO(c Core, in *Instruction) *trap.Trap {
	addr := regOrZero(c, in.Rs1)
	width := 4
	if in.Funct3 == 3 {
		width = 8
	}
	funct5 := in.Funct7

	if funct5 == 0x02 { // LR
		v, t := c.Load(addr, width, true)
		if t != nil {
			return t
		}
		c.SetReservation(addr)
		setReg(c, in.Rd, v&xlenMask(c))
		return nil
	}
	if funct5 == 0x03 { // SC
		if c.CheckAndClearReservation(addr) {
			if t := c.Store(addr, width, regOrZero(c, in.Rs2)); t != nil {
				return t
			}
			setReg(c, in.Rd, 0)
		} else {
			setReg(c, in.Rd, 1)
		}
		return nil
	}

	old, t := c.Load(addr, width, true)
	if t != nil {
		return t
	}
	rs2 := regOrZero(c, in.Rs2)
	var result uint64
	switch funct5 {
	case 0x00: // AMOADD
		result = old + rs2
	case 0x01: // AMOSWAP
		result = rs2
	case 0x04: // AMOXOR
		result = old ^ rs2
	case 0x08: // AMOOR
		result = old | rs2
	case 0x0C: // AMOAND
		result = old & rs2
	case 0x10: // AMOMIN
		if int64(old) < int64(rs2) {
			result = old
		} else {
			result = rs2
		}
	case 0x14: // AMOMAX
		if int64(old) > int64(rs2) {
			result = old
		} else {
			result = rs2
		}
	case 0x18: // AMOMINU
		if old < rs2 {
			result = old
		} else {
			result = rs2
		}
	case 0x1C: // AMOMAXU
		if old > rs2 {
			result = old
		} else {
			result = rs2
		}
	default:
		return trap.Exception(trap.IllegalInstruction, uint64(in.raw))
	}
	if t := c.Store(addr, width, result); t != nil {
		return t
	}
	setReg(c, in.Rd, old&xlenMask(c))
	c.ClearReservation()
	return nil
}
