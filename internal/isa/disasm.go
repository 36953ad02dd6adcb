package isa

import "fmt"

// decodeMnemonic fills in in.Mnemonic from the opcode/funct3/funct7
// fields already extracted by Decode, the same eager-lookup style the
// teacher's disassembler tables use, just keyed by RISC-V's richer
// opcode/funct hierarchy instead of a single byte.
func decodeMnemonic(in *Instruction) {
	switch in.Opcode {
	case OpcodeLoad:
		in.Mnemonic = loadMnemonics[in.Funct3]
	case OpcodeStore:
		in.Mnemonic = storeMnemonics[in.Funct3]
	case OpcodeOpImm:
		in.Mnemonic = opImmMnemonic(in)
	case OpcodeOpImm32:
		in.Mnemonic = opImm32Mnemonic(in)
	case OpcodeOp:
		in.Mnemonic = opMnemonic(in)
	case OpcodeOp32:
		in.Mnemonic = op32Mnemonic(in)
	case OpcodeLUI:
		in.Mnemonic = "lui"
	case OpcodeAUIPC:
		in.Mnemonic = "auipc"
	case OpcodeJAL:
		in.Mnemonic = "jal"
	case OpcodeJALR:
		in.Mnemonic = "jalr"
	case OpcodeBranch:
		in.Mnemonic = branchMnemonics[in.Funct3]
	case OpcodeMiscMem:
		if in.Funct3 == 1 {
			in.Mnemonic = "fence.i"
		} else {
			in.Mnemonic = "fence"
		}
	case OpcodeSystem:
		in.Mnemonic = systemMnemonic(in)
	case OpcodeAMO:
		in.Mnemonic = amoMnemonic(in)
	case OpcodeLoadFP:
		if in.Funct3 == 2 {
			in.Mnemonic = "flw"
		} else {
			in.Mnemonic = "fld"
		}
	case OpcodeStoreFP:
		if in.Funct3 == 2 {
			in.Mnemonic = "fsw"
		} else {
			in.Mnemonic = "fsd"
		}
	case OpcodeOpFP:
		in.Mnemonic = fpMnemonic(in)
	case OpcodeFMADD:
		in.Mnemonic = "fmadd"
	case OpcodeFMSUB:
		in.Mnemonic = "fmsub"
	case OpcodeFNMSUB:
		in.Mnemonic = "fnmsub"
	case OpcodeFNMADD:
		in.Mnemonic = "fnmadd"
	default:
		in.Mnemonic = "???"
	}
}

var loadMnemonics = map[uint32]string{0: "lb", 1: "lh", 2: "lw", 3: "ld", 4: "lbu", 5: "lhu", 6: "lwu"}
var storeMnemonics = map[uint32]string{0: "sb", 1: "sh", 2: "sw", 3: "sd"}
var branchMnemonics = map[uint32]string{0: "beq", 1: "bne", 4: "blt", 5: "bge", 6: "bltu", 7: "bgeu"}

func opImmMnemonic(in *Instruction) string {
	switch in.Funct3 {
	case 0:
		return "addi"
	case 1:
		return "slli"
	case 2:
		return "slti"
	case 3:
		return "sltiu"
	case 4:
		return "xori"
	case 5:
		if (in.Funct12>>10)&1 != 0 {
			return "srai"
		}
		return "srli"
	case 6:
		return "ori"
	case 7:
		return "andi"
	}
	return "???"
}

func opImm32Mnemonic(in *Instruction) string {
	switch in.Funct3 {
	case 0:
		return "addiw"
	case 1:
		return "slliw"
	case 5:
		if (in.Funct12>>10)&1 != 0 {
			return "sraiw"
		}
		return "srliw"
	}
	return "???"
}

func opMnemonic(in *Instruction) string {
	if in.Funct7 == 1 {
		return mExtMnemonics[in.Funct3]
	}
	switch in.Funct3 {
	case 0:
		if in.Funct7 == 0x20 {
			return "sub"
		}
		return "add"
	case 1:
		return "sll"
	case 2:
		return "slt"
	case 3:
		return "sltu"
	case 4:
		return "xor"
	case 5:
		if in.Funct7 == 0x20 {
			return "sra"
		}
		return "srl"
	case 6:
		return "or"
	case 7:
		return "and"
	}
	return "???"
}

var mExtMnemonics = map[uint32]string{
	0: "mul", 1: "mulh", 2: "mulhsu", 3: "mulhu",
	4: "div", 5: "divu", 6: "rem", 7: "remu",
}

func op32Mnemonic(in *Instruction) string {
	if in.Funct7 == 1 {
		return map[uint32]string{0: "mulw", 4: "divw", 5: "divuw", 6: "remw", 7: "remuw"}[in.Funct3]
	}
	switch in.Funct3 {
	case 0:
		if in.Funct7 == 0x20 {
			return "subw"
		}
		return "addw"
	case 1:
		return "sllw"
	case 5:
		if in.Funct7 == 0x20 {
			return "sraw"
		}
		return "srlw"
	}
	return "???"
}

func systemMnemonic(in *Instruction) string {
	if in.Funct3 != 0 {
		return csrMnemonics[in.Funct3]
	}
	switch in.Funct12 {
	case 0x000:
		return "ecall"
	case 0x001:
		return "ebreak"
	case 0x002:
		return "uret"
	case 0x102:
		return "sret"
	case 0x302:
		return "mret"
	case 0x105:
		return "wfi"
	}
	if in.Funct7 == 0x09 {
		return "sfence.vma"
	}
	return "???"
}

var csrMnemonics = map[uint32]string{
	1: "csrrw", 2: "csrrs", 3: "csrrc", 5: "csrrwi", 6: "csrrsi", 7: "csrrci",
}

func amoMnemonic(in *Instruction) string {
	width := "w"
	if in.Funct3 == 3 {
		width = "d"
	}
	switch in.Funct7 {
	case 0x00:
		return "amoadd." + width
	case 0x01:
		return "amoswap." + width
	case 0x02:
		return "lr." + width
	case 0x03:
		return "sc." + width
	case 0x04:
		return "amoxor." + width
	case 0x08:
		return "amoor." + width
	case 0x0C:
		return "amoand." + width
	case 0x10:
		return "amomin." + width
	case 0x14:
		return "amomax." + width
	case 0x18:
		return "amominu." + width
	case 0x1C:
		return "amomaxu." + width
	}
	return "amo???"
}

func fpMnemonic(in *Instruction) string {
	double := in.Funct2 == 1
	suffix := "s"
	if double {
		suffix = "d"
	}
	switch in.Funct7 >> 2 {
	case 0x00:
		return "fadd." + suffix
	case 0x01:
		return "fsub." + suffix
	case 0x02:
		return "fmul." + suffix
	case 0x03:
		return "fdiv." + suffix
	case 0x0B:
		return "fsqrt." + suffix
	case 0x04:
		return map[uint32]string{0: "fsgnj." + suffix, 1: "fsgnjn." + suffix, 2: "fsgnjx." + suffix}[in.Funct3]
	case 0x05:
		return map[uint32]string{0: "fmin." + suffix, 1: "fmax." + suffix}[in.Funct3]
	case 0x14:
		return map[uint32]string{0: "fle." + suffix, 1: "flt." + suffix, 2: "feq." + suffix}[in.Funct3]
	case 0x18:
		return "fcvt.w." + suffix
	case 0x1A:
		return "fcvt." + suffix + ".w"
	case 0x1C:
		if in.Funct3 == 0 {
			return "fmv.x." + suffix
		}
		return "fclass." + suffix
	case 0x1E:
		return "fmv." + suffix + ".x"
	case 0x08:
		return "fcvt." + suffix + ".s_d"
	}
	return "fp???"
}

// String renders a disassembly line in the register-operand style of
// the teacher's disassembleBase/XOP/YOP/ZOP helpers: mnemonic followed
// by comma-separated operands.
func (in *Instruction) String() string {
	switch in.Opcode {
	case OpcodeLoad, OpcodeLoadFP:
		return fmt.Sprintf("%s x%d, %d(x%d)", in.Mnemonic, in.Rd, in.Imm, in.Rs1)
	case OpcodeStore, OpcodeStoreFP:
		return fmt.Sprintf("%s x%d, %d(x%d)", in.Mnemonic, in.Rs2, in.Imm, in.Rs1)
	case OpcodeOpImm, OpcodeOpImm32:
		return fmt.Sprintf("%s x%d, x%d, %d", in.Mnemonic, in.Rd, in.Rs1, in.Imm)
	case OpcodeOp, OpcodeOp32, OpcodeOpFP:
		return fmt.Sprintf("%s x%d, x%d, x%d", in.Mnemonic, in.Rd, in.Rs1, in.Rs2)
	case OpcodeLUI, OpcodeAUIPC:
		return fmt.Sprintf("%s x%d, 0x%x", in.Mnemonic, in.Rd, uint32(in.Imm)>>12)
	case OpcodeJAL:
		return fmt.Sprintf("%s x%d, %+d", in.Mnemonic, in.Rd, in.Imm)
	case OpcodeJALR:
		return fmt.Sprintf("%s x%d, %d(x%d)", in.Mnemonic, in.Rd, in.Imm, in.Rs1)
	case OpcodeBranch:
		return fmt.Sprintf("%s x%d, x%d, %+d", in.Mnemonic, in.Rs1, in.Rs2, in.Imm)
	case OpcodeSystem:
		return fmt.Sprintf("%s (csr 0x%x)", in.Mnemonic, in.Funct12)
	case OpcodeAMO:
		return fmt.Sprintf("%s x%d, x%d, (x%d)", in.Mnemonic, in.Rd, in.Rs2, in.Rs1)
	default:
		return fmt.Sprintf("%s (0x%08x)", in.Mnemonic, in.raw)
	}
}
