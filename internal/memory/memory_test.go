package memory

import "testing"

func TestRoundTripWidths(t *testing.T) {
	m := New(64)

	if err := m.Write64(0, 0x0102030405060708); err != nil {
		t.Fatalf("Write64: %v", err)
	}
	got, err := m.Read64(0)
	if err != nil {
		t.Fatalf("Read64: %v", err)
	}
	if got != 0x0102030405060708 {
		t.Fatalf("Read64 = 0x%x, want 0x0102030405060708", got)
	}

	// Little-endian: lowest byte at lowest address.
	b0, _ := m.Read8(0)
	if b0 != 0x08 {
		t.Fatalf("byte 0 = 0x%x, want 0x08", b0)
	}

	if err := m.Write32(8, 0xAABBCCDD); err != nil {
		t.Fatalf("Write32: %v", err)
	}
	w, err := m.Read16(8)
	if err != nil {
		t.Fatalf("Read16: %v", err)
	}
	if w != 0xCCDD {
		t.Fatalf("Read16 = 0x%x, want 0xCCDD", w)
	}
}

func TestOutOfBounds(t *testing.T) {
	m := New(16)
	if _, err := m.Read64(12); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
	if err := m.Write8(16, 1); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}

func TestLoadAt(t *testing.T) {
	m := New(8)
	if err := m.LoadAt(2, []byte{1, 2, 3}); err != nil {
		t.Fatalf("LoadAt: %v", err)
	}
	v, _ := m.Read8(3)
	if v != 2 {
		t.Fatalf("byte at 3 = %d, want 2", v)
	}
}
