package uart

import "testing"

type fakeTerm struct {
	in  []byte
	out []byte
}

func (f *fakeTerm) PutByte(b byte) { f.out = append(f.out, b) }
func (f *fakeTerm) PollByte() (byte, bool) {
	if len(f.in) == 0 {
		return 0, false
	}
	b := f.in[0]
	f.in = f.in[1:]
	return b, true
}

func TestTxDrainsToTerminal(t *testing.T) {
	term := &fakeTerm{}
	u := New(0x10000000, term, 10)
	u.Write8(RegTHR, 'h')
	u.Tick()
	if len(term.out) != 1 || term.out[0] != 'h' {
		t.Fatalf("expected 'h' drained to terminal, got %v", term.out)
	}
	lsr, _ := u.Read8(RegLSR)
	if lsr&lsrThrEmpty == 0 {
		t.Fatal("expected THR-empty bit set after drain")
	}
}

func TestRxInterruptWhenEnabled(t *testing.T) {
	term := &fakeTerm{in: []byte{'x'}}
	u := New(0x10000000, term, 10)
	u.Write8(RegIER, ierRxEnable)
	irq := u.Tick()
	if !irq {
		t.Fatal("expected RX interrupt asserted")
	}
	v, _ := u.Read8(RegRHR)
	if v != 'x' {
		t.Fatalf("RHR = %q, want 'x'", v)
	}
	lsr, _ := u.Read8(RegLSR)
	if lsr&lsrDataReady != 0 {
		t.Fatal("expected data-ready bit cleared after RHR read")
	}
}
