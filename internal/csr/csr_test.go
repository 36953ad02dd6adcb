package csr

import "testing"

func TestPrivilegeGating(t *testing.T) {
	f := New()

	// Mstatus (0x300) has privilege field 0b11 = Machine; a Supervisor
	// access must fail and leave no state change.
	if err := f.Write(Mstatus, 0xdead, Supervisor); err == nil {
		t.Fatal("expected illegal access writing mstatus from S-mode")
	}
	if v := f.ReadDirect(Mstatus); v != 0 {
		t.Fatalf("mstatus state changed despite illegal write: 0x%x", v)
	}

	if err := f.Write(Mstatus, StatusMIE, Machine); err != nil {
		t.Fatalf("unexpected error writing mstatus from M-mode: %v", err)
	}
	v, err := f.Read(Mstatus, Machine)
	if err != nil {
		t.Fatalf("unexpected error reading mstatus: %v", err)
	}
	if v != StatusMIE {
		t.Fatalf("mstatus = 0x%x, want 0x%x", v, StatusMIE)
	}
}

func TestMstatusWPRIBitsIgnored(t *testing.T) {
	f := New()
	// 0xdead has bits set outside mstatusWriteMask (e.g. bit 2, bit 9,
	// bit 10, bit 13...); only the masked bits should stick.
	if err := f.Write(Mstatus, 0xdead, Machine); err != nil {
		t.Fatalf("unexpected error writing mstatus: %v", err)
	}
	want := uint64(0xdead) & uint64(mstatusWriteMask)
	if v := f.ReadDirect(Mstatus); v != want {
		t.Fatalf("mstatus = 0x%x, want 0x%x (WPRI bits should be masked off)", v, want)
	}
}

func TestMisaAndMhartidAreReadOnly(t *testing.T) {
	f := New()
	if err := f.Write(Misa, 0xffffffff, Machine); err != nil {
		t.Fatalf("unexpected error writing misa: %v", err)
	}
	if v := f.ReadDirect(Misa); v != 0 {
		t.Fatalf("misa = 0x%x, want 0 (write should be a no-op)", v)
	}
	if err := f.Write(Mhartid, 7, Machine); err != nil {
		t.Fatalf("unexpected error writing mhartid: %v", err)
	}
	if v := f.ReadDirect(Mhartid); v != 0 {
		t.Fatalf("mhartid = 0x%x, want 0 (write should be a no-op)", v)
	}
}

func TestMipSoftwareCannotForgeHardwareLines(t *testing.T) {
	f := New()
	// MEIP/MTIP are hardware-driven; a software CSR write must not be
	// able to set them, only USIP/SSIP.
	if err := f.Write(Mip, 1<<MeipBit|1<<MtipBit|1<<SsipBit, Machine); err != nil {
		t.Fatalf("unexpected error writing mip: %v", err)
	}
	v := f.ReadDirect(Mip)
	if v&(1<<MeipBit) != 0 || v&(1<<MtipBit) != 0 {
		t.Fatalf("mip = 0x%x, hardware-owned bits should not be software-settable", v)
	}
	if v&(1<<SsipBit) == 0 {
		t.Fatalf("mip = 0x%x, SSIP should be software-settable", v)
	}

	// A hardware latch via ReadModifyWriteDirect still must work
	// alongside the software-set SSIP bit.
	f.ReadModifyWriteDirect(Mip, 1<<MeipBit, 0)
	if f.ReadDirect(Mip)&(1<<MeipBit) == 0 {
		t.Fatal("expected MEIP settable via ReadModifyWriteDirect")
	}
}

func TestSupervisorCSRAccessibleFromMachine(t *testing.T) {
	f := New()
	if err := f.Write(Sepc, 0x1000, Machine); err != nil {
		t.Fatalf("machine mode should be able to touch supervisor CSRs: %v", err)
	}
}

func TestReadModifyWriteDirectBypassesPrivilege(t *testing.T) {
	f := New()
	f.ReadModifyWriteDirect(Mip, 1<<MtipBit, 0)
	if f.ReadDirect(Mip)&(1<<MtipBit) == 0 {
		t.Fatal("expected MTIP bit set")
	}
}
