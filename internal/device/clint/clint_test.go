package clint

import "testing"

func TestMTimeAdvancesOnTick(t *testing.T) {
	c := New(0x02000000)
	for i := 0; i < 5; i++ {
		c.Tick()
	}
	if c.MTime() != 5 {
		t.Fatalf("MTime = %d, want 5", c.MTime())
	}
}

func TestTimerPendingAtCompare(t *testing.T) {
	c := New(0x02000000)
	c.Write64(mtimecmpOffset, 3)
	if c.TimerPending() {
		t.Fatal("should not be pending before MTIME reaches MTIMECMP")
	}
	for i := 0; i < 3; i++ {
		c.Tick()
	}
	if !c.TimerPending() {
		t.Fatal("expected timer pending once MTIME >= MTIMECMP")
	}
}

func TestSoftwareInterruptLatch(t *testing.T) {
	c := New(0x02000000)
	if c.SoftwarePending() {
		t.Fatal("MSIP should start clear")
	}
	c.Write32(msipOffset, 1)
	if !c.SoftwarePending() {
		t.Fatal("expected MSIP set after write")
	}
	c.Write32(msipOffset, 0)
	if c.SoftwarePending() {
		t.Fatal("expected MSIP clear after write")
	}
}

func TestMtimecmpHiLoSplit(t *testing.T) {
	c := New(0x02000000)
	c.Write32(mtimecmpOffset, 0xAABBCCDD)
	c.Write32(mtimecmpOffset+4, 0x11223344)
	v, _ := c.Read64(mtimecmpOffset)
	want := uint64(0x11223344)<<32 | 0xAABBCCDD
	if v != want {
		t.Fatalf("mtimecmp = 0x%x, want 0x%x", v, want)
	}
}
