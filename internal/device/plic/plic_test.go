package plic

import "testing"

func TestClaimRequiresEnableAndThreshold(t *testing.T) {
	p := New(0x0C000000)
	p.Latch(3)
	p.Write32(priorityBase+4*3, 1)
	if p.PendingFor(ContextSupervisor) {
		t.Fatal("should not be pending before enable")
	}
	p.Write32(enableBase+0x80*ContextSupervisor, 1<<3)
	if !p.PendingFor(ContextSupervisor) {
		t.Fatal("expected pending once enabled with priority > threshold")
	}
	p.Write32(contextBase+0x1000*ContextSupervisor, 1) // threshold = 1
	if p.PendingFor(ContextSupervisor) {
		t.Fatal("priority equal to threshold should not be claimable")
	}
}

func TestClaimCompleteCycle(t *testing.T) {
	p := New(0x0C000000)
	p.Latch(5)
	p.Write32(priorityBase+4*5, 2)
	p.Write32(enableBase+0x80*ContextMachine, 1<<5)

	claim, err := p.Read32(contextBase + 0x4) // claim register, context 0
	if err != nil || claim != 5 {
		t.Fatalf("claim = %d, err = %v, want 5", claim, err)
	}
	if p.PendingFor(ContextMachine) {
		t.Fatal("source should not be re-claimable until completed")
	}
	p.Write32(contextBase+0x4, 5) // complete
	p.Latch(5)
	if !p.PendingFor(ContextMachine) {
		t.Fatal("expected re-pending after re-latch post-complete")
	}
}

func TestHighestPriorityWins(t *testing.T) {
	p := New(0x0C000000)
	p.Latch(1)
	p.Latch(2)
	p.Write32(priorityBase+4*1, 1)
	p.Write32(priorityBase+4*2, 5)
	p.Write32(enableBase+0x80*ContextMachine, 1<<1|1<<2)

	src, ok := p.highestPending(ContextMachine)
	if !ok || src != 2 {
		t.Fatalf("highestPending = %d, %v, want 2, true", src, ok)
	}
}
