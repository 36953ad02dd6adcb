package isa

import (
	"math"

	"rvemu/internal/trap"
)

// Single-precision values are NaN-boxed into the 64-bit float
// registers per the F/D extension spec: the upper 32 bits of a
// single-precision value are all ones.
const nanBox = 0xFFFFFFFF00000000

func boxF32(f float32) uint64 {
	return nanBox | uint64(math.Float32bits(f))
}

func unboxF32(bits uint64) float32 {
	if bits&nanBox != nanBox {
		return float32(math.NaN())
	}
	return math.Float32frombits(uint32(bits))
}

func boxF64(f float64) uint64 { return math.Float64bits(f) }
func unboxF64(bits uint64) float64 { return math.Float64frombits(bits) }

func execLoadFP(c Core, in *Instruction) *trap.Trap {
	addr := regOrZero(c, in.Rs1) + uint64(in.Imm)
	width := 4
	if in.Funct3 == 3 {
		width = 8
	}
	v, t := c.Load(addr, width, false)
	if t != nil {
		return t
	}
	if width == 4 {
		c.SetFReg(in.Rd, nanBox|v)
	} else {
		c.SetFReg(in.Rd, v)
	}
	return nil
}

func execStoreFP(c Core, in *Instruction) *trap.Trap {
	addr := regOrZero(c, in.Rs1) + uint64(in.Imm)
	v := c.FReg(in.Rs2)
	if in.Funct3 == 2 {
		return c.Store(addr, 4, v&0xFFFFFFFF)
	}
	return c.Store(addr, 8, v)
}

func execOpFP(c Core, in *Instruction) *trap.Trap {
	double := in.Funct2 == 1
	switch in.Funct7 >> 2 {
	case 0x00, 0x01, 0x02, 0x03: // FADD/FSUB/FMUL/FDIV
		return execFPArith(c, in, double)
	case 0x0B: // FSQRT
		if double {
			c.SetFReg(in.Rd, boxF64(math.Sqrt(unboxF64(c.FReg(in.Rs1)))))
		} else {
			c.SetFReg(in.Rd, boxF32(float32(math.Sqrt(float64(unboxF32(c.FReg(in.Rs1)))))))
		}
		return nil
	case 0x04: // sign-injection
		return execFSGNJ(c, in, double)
	case 0x05: // min/max
		return execFMinMax(c, in, double)
	case 0x14: // compare
		return execFCompare(c, in, double)
	case 0x18: // FCVT.W.(S|D): float to int
		return execFCVTToInt(c, in, double)
	case 0x1A: // FCVT.(S|D).W: int to float
		return execFCVTFromInt(c, in, double)
	case 0x1C:
		if in.Funct3 == 0 {
			return execFMVToInt(c, in, double)
		}
		return execFClass(c, in, double)
	case 0x1E: // FMV.(S|D).X
		return execFMVFromInt(c, in, double)
	case 0x08: // FCVT.S.D / FCVT.D.S
		if double {
			c.SetFReg(in.Rd, boxF64(float64(unboxF32(c.FReg(in.Rs1)))))
		} else {
			c.SetFReg(in.Rd, boxF32(float32(unboxF64(c.FReg(in.Rs1)))))
		}
		return nil
	}
	return trap.Exception(trap.IllegalInstruction, uint64(in.raw))
}

func execFPArith(c Core, in *Instruction, double bool) *trap.Trap {
	op := in.Funct7 >> 2
	if double {
		a, b := unboxF64(c.FReg(in.Rs1)), unboxF64(c.FReg(in.Rs2))
		var r float64
		switch op {
		case 0x00:
			r = a + b
		case 0x01:
			r = a - b
		case 0x02:
			r = a * b
		case 0x03:
			r = a / b
		}
		c.SetFReg(in.Rd, boxF64(r))
		return nil
	}
	a, b := unboxF32(c.FReg(in.Rs1)), unboxF32(c.FReg(in.Rs2))
	var r float32
	switch op {
	case 0x00:
		r = a + b
	case 0x01:
		r = a - b
	case 0x02:
		r = a * b
	case 0x03:
		r = a / b
	}
	c.SetFReg(in.Rd, boxF32(r))
	return nil
}

func execFSGNJ(c Core, in *Instruction, double bool) *trap.Trap {
	if double {
		a, b := unboxF64(c.FReg(in.Rs1)), unboxF64(c.FReg(in.Rs2))
		aSign := math.Signbit(a)
		bSign := math.Signbit(b)
		var neg bool
		switch in.Funct3 {
		case 0:
			neg = bSign
		case 1:
			neg = !bSign
		case 2:
			neg = aSign != bSign
		}
		r := math.Abs(a)
		if neg {
			r = -r
		}
		c.SetFReg(in.Rd, boxF64(r))
		return nil
	}
	a, b := unboxF32(c.FReg(in.Rs1)), unboxF32(c.FReg(in.Rs2))
	aSign := math.Signbit(float64(a))
	bSign := math.Signbit(float64(b))
	var neg bool
	switch in.Funct3 {
	case 0:
		neg = bSign
	case 1:
		neg = !bSign
	case 2:
		neg = aSign != bSign
	}
	r := float32(math.Abs(float64(a)))
	if neg {
		r = -r
	}
	c.SetFReg(in.Rd, boxF32(r))
	return nil
}

func execFMinMax(c Core, in *Instruction, double bool) *trap.Trap {
	wantMax := in.Funct3 == 1
	if double {
		a, b := unboxF64(c.FReg(in.Rs1)), unboxF64(c.FReg(in.Rs2))
		r := a
		if (wantMax && b > a) || (!wantMax && b < a) || math.IsNaN(a) {
			r = b
		}
		if math.IsNaN(a) && math.IsNaN(b) {
			r = math.NaN()
		}
		c.SetFReg(in.Rd, boxF64(r))
		return nil
	}
	a, b := unboxF32(c.FReg(in.Rs1)), unboxF32(c.FReg(in.Rs2))
	r := a
	if (wantMax && b > a) || (!wantMax && b < a) || math.IsNaN(float64(a)) {
		r = b
	}
	if math.IsNaN(float64(a)) && math.IsNaN(float64(b)) {
		r = float32(math.NaN())
	}
	c.SetFReg(in.Rd, boxF32(r))
	return nil
}

func execFCompare(c Core, in *Instruction, double bool) *trap.Trap {
	var result bool
	if double {
		a, b := unboxF64(c.FReg(in.Rs1)), unboxF64(c.FReg(in.Rs2))
		switch in.Funct3 {
		case 2:
			result = a == b
		case 1:
			result = a < b
		case 0:
			result = a <= b
		}
	} else {
		a, b := unboxF32(c.FReg(in.Rs1)), unboxF32(c.FReg(in.Rs2))
		switch in.Funct3 {
		case 2:
			result = a == b
		case 1:
			result = a < b
		case 0:
			result = a <= b
		}
	}
	setReg(c, in.Rd, boolToU64(result))
	return nil
}

func execFCVTToInt(c Core, in *Instruction, double bool) *trap.Trap {
	var f float64
	if double {
		f = unboxF64(c.FReg(in.Rs1))
	} else {
		f = float64(unboxF32(c.FReg(in.Rs1)))
	}
	unsigned := in.Rs2&1 != 0
	wide := in.Rs2&2 != 0 // .L[U] variants vs .W[U]
	var v uint64
	switch {
	case unsigned && wide:
		v = uint64(f)
	case unsigned:
		v = uint64(uint32(f))
	case wide:
		v = uint64(int64(f))
	default:
		v = signExtendWord(uint32(int32(f)))
	}
	setReg(c, in.Rd, v)
	return nil
}

func execFCVTFromInt(c Core, in *Instruction, double bool) *trap.Trap {
	x := regOrZero(c, in.Rs1)
	unsigned := in.Rs2&1 != 0
	wide := in.Rs2&2 != 0
	var f float64
	switch {
	case unsigned && wide:
		f = float64(x)
	case unsigned:
		f = float64(uint32(x))
	case wide:
		f = float64(int64(x))
	default:
		f = float64(int32(x))
	}
	if double {
		c.SetFReg(in.Rd, boxF64(f))
	} else {
		c.SetFReg(in.Rd, boxF32(float32(f)))
	}
	return nil
}

func execFMVToInt(c Core, in *Instruction, double bool) *trap.Trap {
	if double {
		setReg(c, in.Rd, c.FReg(in.Rs1))
	} else {
		setReg(c, in.Rd, signExtendWord(uint32(c.FReg(in.Rs1))))
	}
	return nil
}

func execFMVFromInt(c Core, in *Instruction, double bool) *trap.Trap {
	if double {
		c.SetFReg(in.Rd, regOrZero(c, in.Rs1))
	} else {
		c.SetFReg(in.Rd, nanBox|(regOrZero(c, in.Rs1)&0xFFFFFFFF))
	}
	return nil
}

func execFClass(c Core, in *Instruction, double bool) *trap.Trap {
	var f float64
	if double {
		f = unboxF64(c.FReg(in.Rs1))
	} else {
		f = float64(unboxF32(c.FReg(in.Rs1)))
	}
	var mask uint64
	switch {
	case math.IsInf(f, -1):
		mask = 1 << 0
	case f < 0 && !math.IsInf(f, 0):
		mask = 1 << 1
	case f == 0 && math.Signbit(f):
		mask = 1 << 3
	case f == 0:
		mask = 1 << 4
	case f > 0 && !math.IsInf(f, 0):
		mask = 1 << 6
	case math.IsInf(f, 1):
		mask = 1 << 7
	case math.IsNaN(f):
		mask = 1 << 9 // treat all NaNs as quiet for this interpreter's purposes
	}
	setReg(c, in.Rd, mask)
	return nil
}

func execFMA(c Core, in *Instruction) *trap.Trap {
	double := in.Funct2 == 1
	negProd := in.Opcode == OpcodeFNMSUB || in.Opcode == OpcodeFNMADD
	negAdd := in.Opcode == OpcodeFMSUB || in.Opcode == OpcodeFNMSUB

	if double {
		a, b, d := unboxF64(c.FReg(in.Rs1)), unboxF64(c.FReg(in.Rs2)), unboxF64(c.FReg(in.Rs3))
		prod := a * b
		if negProd {
			prod = -prod
		}
		if negAdd {
			d = -d
		}
		c.SetFReg(in.Rd, boxF64(prod+d))
		return nil
	}
	a, b, d := unboxF32(c.FReg(in.Rs1)), unboxF32(c.FReg(in.Rs2)), unboxF32(c.FReg(in.Rs3))
	prod := a * b
	if negProd {
		prod = -prod
	}
	if negAdd {
		d = -d
	}
	c.SetFReg(in.Rd, boxF32(prod+d))
	return nil
}
