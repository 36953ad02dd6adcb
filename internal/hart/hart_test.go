package hart

import (
	"testing"

	"rvemu/internal/bus"
	"rvemu/internal/csr"
	"rvemu/internal/device/clint"
	"rvemu/internal/device/plic"
	"rvemu/internal/memory"
	"rvemu/internal/trap"
)

const dramBase = 0x8000_0000

func newTestHart(t *testing.T, program []uint32) (*Hart, *bus.Bus) {
	t.Helper()
	dram := memory.NewAt(dramBase, 64*1024)
	b := bus.New(dram)
	for i, word := range program {
		dram.Write32(uint64(i*4), word)
	}
	h := New(64, b, dramBase)
	return h, b
}

// encodeI builds an I-type instruction word for these hand-assembled
// smoke tests.
func encodeI(opcode, rd, funct3, rs1 uint32, imm int32) uint32 {
	return opcode | rd<<7 | funct3<<12 | rs1<<15 | (uint32(imm)&0xFFF)<<20
}

func TestAddiSmoke(t *testing.T) {
	// addi x1, x0, 5
	h, _ := newTestHart(t, []uint32{encodeI(0x13, 1, 0, 0, 5)})
	if err := h.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if h.Reg(1) != 5 {
		t.Fatalf("x1 = %d, want 5", h.Reg(1))
	}
	if h.PC() != dramBase+4 {
		t.Fatalf("pc = 0x%x, want 0x%x", h.PC(), dramBase+4)
	}
}

func TestEcallFromUserDelegatedToSupervisor(t *testing.T) {
	h, _ := newTestHart(t, []uint32{0x00000073}) // ecall
	h.SetPrivilege(csr.User)
	h.CSRFile().WriteDirect(csr.Medeleg, 1<<uint(trap.EnvironmentCallFromUMode))
	h.CSRFile().WriteDirect(csr.Stvec, 0x8000_1000)

	if err := h.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if h.Privilege() != csr.Supervisor {
		t.Fatalf("privilege = %v, want Supervisor", h.Privilege())
	}
	if h.PC() != 0x8000_1000 {
		t.Fatalf("pc = 0x%x, want trap vector", h.PC())
	}
	if h.CSRFile().ReadDirect(csr.Scause) != uint64(trap.EnvironmentCallFromUMode) {
		t.Fatalf("scause = %d, want %d", h.CSRFile().ReadDirect(csr.Scause), trap.EnvironmentCallFromUMode)
	}
}

func TestTimerInterruptTaken(t *testing.T) {
	h, b := newTestHart(t, []uint32{encodeI(0x13, 0, 0, 0, 0)}) // addi x0,x0,0 (nop)
	c := clint.New(0x0200_0000)
	b.AddDevice(c)
	b.SetCLINT(c)

	h.CSRFile().WriteDirect(csr.Mtvec, 0x8000_2000)
	h.CSRFile().WriteDirect(csr.Mie, 1<<csr.MtipBit)
	h.CSRFile().WriteDirect(csr.Mstatus, csr.StatusMIE)
	c.Write64(0x4000, 0) // mtimecmp = 0, already due

	if err := h.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if h.Privilege() != csr.Machine {
		t.Fatalf("privilege = %v, want Machine", h.Privilege())
	}
	if h.PC() != 0x8000_2000 {
		t.Fatalf("pc = 0x%x, want timer trap vector", h.PC())
	}
	cause := h.CSRFile().ReadDirect(csr.Mcause)
	if cause != (uint64(1)<<63 | uint64(trap.MachineTimerInterrupt)) {
		t.Fatalf("mcause = 0x%x, want timer interrupt with high bit set", cause)
	}
}

func TestCompressedJump(t *testing.T) {
	dram := memory.NewAt(dramBase, 64*1024)
	b := bus.New(dram)
	dram.Write16(0x10, 0xA081) // c.j +4
	h := New(64, b, dramBase+0x10)

	if err := h.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if h.PC() != dramBase+0x14 {
		t.Fatalf("pc = 0x%x, want 0x%x", h.PC(), dramBase+0x14)
	}
}

func encodeAMO(funct5, rs2, rs1, funct3, rd uint32) uint32 {
	return 0x2F | rd<<7 | funct3<<12 | rs1<<15 | rs2<<20 | funct5<<27
}

func TestLRSCSucceeds(t *testing.T) {
	lrw := encodeAMO(0x02, 0, 2, 2, 1)  // lr.w x1, (x2)
	scw := encodeAMO(0x03, 4, 2, 2, 3)  // sc.w x3, x4, (x2)
	h, _ := newTestHart(t, []uint32{lrw, scw})
	h.SetReg(2, dramBase+0x100)
	h.SetReg(4, 0xAA)

	if err := h.Step(); err != nil {
		t.Fatalf("lr.w Step: %v", err)
	}
	if err := h.Step(); err != nil {
		t.Fatalf("sc.w Step: %v", err)
	}
	if h.Reg(3) != 0 {
		t.Fatalf("sc.w result = %d, want 0 (success)", h.Reg(3))
	}
}

func TestExternalInterruptRoutedThroughPLIC(t *testing.T) {
	h, b := newTestHart(t, []uint32{encodeI(0x13, 0, 0, 0, 0)}) // nop
	p := plic.New(0x0C00_0000)
	b.AddDevice(p)
	b.SetPLIC(p)

	p.Write32(0x000000+4*3, 1)          // priority[3] = 1
	p.Write32(0x002000+0x80*plic.ContextMachine, 1<<3) // enable source 3 for M context
	p.Latch(3)

	h.CSRFile().WriteDirect(csr.Mtvec, 0x8000_3000)
	h.CSRFile().WriteDirect(csr.Mie, 1<<csr.MeipBit)
	h.CSRFile().WriteDirect(csr.Mstatus, csr.StatusMIE)

	if err := h.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if h.PC() != 0x8000_3000 {
		t.Fatalf("pc = 0x%x, want external-interrupt trap vector", h.PC())
	}
	cause := h.CSRFile().ReadDirect(csr.Mcause)
	if cause != (uint64(1)<<63 | uint64(trap.MachineExternalInterrupt)) {
		t.Fatalf("mcause = 0x%x, want external interrupt with high bit set", cause)
	}
}

func encodeSystem(funct12 uint32) uint32 {
	return 0x73 | funct12<<20
}

func TestURETReturnsToUserMode(t *testing.T) {
	h, _ := newTestHart(t, []uint32{encodeSystem(0x002)}) // uret
	h.CSRFile().WriteDirect(csr.Uepc, 0x8000_9000)
	h.CSRFile().WriteDirect(csr.Ustatus, csr.StatusUPIE)

	if err := h.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if h.Privilege() != csr.User {
		t.Fatalf("privilege = %v, want User", h.Privilege())
	}
	if h.PC() != 0x8000_9000 {
		t.Fatalf("pc = 0x%x, want 0x8000_9000", h.PC())
	}
	ustatus := h.CSRFile().ReadDirect(csr.Ustatus)
	if ustatus&csr.StatusUIE == 0 {
		t.Fatal("expected UIE restored from UPIE")
	}
	if ustatus&csr.StatusUPIE == 0 {
		t.Fatal("expected UPIE set to 1 after uret")
	}
}

func TestExitCodeDecoding(t *testing.T) {
	h, _ := newTestHart(t, nil)
	if got := h.TestExitCode(1); got != 0 {
		t.Fatalf("TestExitCode(1) = %d, want 0", got)
	}
	if got := h.TestExitCode((5 << 1) | 1); got != 5 {
		t.Fatalf("TestExitCode((5<<1)|1) = %d, want 5", got)
	}
}

func TestSCFailsAfterInterveningStore(t *testing.T) {
	lrw := encodeAMO(0x02, 0, 2, 2, 1)
	sw := uint32(0x23 | 4<<20 | 2<<15 | 2<<12 | 0<<7) // sw x4, 0(x2) -- plain store to the reserved address
	scw := encodeAMO(0x03, 4, 2, 2, 3)
	h, _ := newTestHart(t, []uint32{lrw, sw, scw})
	h.SetReg(2, dramBase+0x100)
	h.SetReg(4, 0xAA)

	for i := 0; i < 3; i++ {
		if err := h.Step(); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}
	if h.Reg(3) != 1 {
		t.Fatalf("sc.w result = %d, want 1 (fail, reservation lost)", h.Reg(3))
	}
}
