// Package trap defines the synchronous-exception and asynchronous-
// interrupt vocabulary shared by the MMU, the instruction semantics,
// and the hart loop. Kept as its own package (mirroring the original
// Rust emulator's standalone trap.rs) so that internal/csr,
// internal/mmu, and internal/isa can all depend on it without a cycle
// back to internal/hart.
package trap

import "fmt"

// Cause identifies a specific exception or interrupt. The numeric
// values are the RISC-V-defined exception/interrupt codes (low bits of
// xcause); whether a Cause is an interrupt is tracked separately by
// the Trap that carries it, since the architecture reuses the same
// small numbers for both.
type Cause uint

const (
	// Exceptions (synchronous).
	InstructionAddressMisaligned Cause = 0
	InstructionAccessFault       Cause = 1
	IllegalInstruction           Cause = 2
	Breakpoint                   Cause = 3
	LoadAddressMisaligned        Cause = 4
	LoadAccessFault              Cause = 5
	StoreAddressMisaligned       Cause = 6
	StoreAccessFault             Cause = 7
	EnvironmentCallFromUMode     Cause = 8
	EnvironmentCallFromSMode     Cause = 9
	EnvironmentCallFromMMode     Cause = 11
	InstructionPageFault         Cause = 12
	LoadPageFault                Cause = 13
	StorePageFault               Cause = 15

	// Interrupts (asynchronous). Numbered per the standard mip/mie bit
	// layout, used both as the CSR bit index and as the low bits of
	// xcause when the interrupt bit is set.
	UserSoftwareInterrupt       Cause = 0
	SupervisorSoftwareInterrupt Cause = 1
	MachineSoftwareInterrupt    Cause = 3
	UserTimerInterrupt          Cause = 4
	SupervisorTimerInterrupt    Cause = 5
	MachineTimerInterrupt       Cause = 7
	UserExternalInterrupt       Cause = 8
	SupervisorExternalInterrupt Cause = 9
	MachineExternalInterrupt    Cause = 11
)

// Trap is the value every instruction handler, MMU access, and CSR
// access returns instead of panicking when architectural behavior
// calls for a trap. The hart loop is the sole site that turns a Trap
// into the CSR/PC mutation sequence of the trap-entry algorithm.
type Trap struct {
	Cause       Cause
	Tval        uint64
	IsInterrupt bool
}

func (t *Trap) Error() string {
	kind := "exception"
	if t.IsInterrupt {
		kind = "interrupt"
	}
	return fmt.Sprintf("trap: %s cause=%d tval=0x%x", kind, t.Cause, t.Tval)
}

// Exception builds a synchronous exception trap.
func Exception(cause Cause, tval uint64) *Trap {
	return &Trap{Cause: cause, Tval: tval, IsInterrupt: false}
}

// Interrupt builds an asynchronous interrupt trap.
func Interrupt(cause Cause) *Trap {
	return &Trap{Cause: cause, IsInterrupt: true}
}
