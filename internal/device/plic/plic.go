// Package plic implements a platform-level interrupt controller: one
// priority register per interrupt source, a pending bitmap, a
// per-context enable bitmap, a per-context priority threshold, and the
// claim/complete register that arbitrates which pending source a
// context's claim read returns.
//
// Grounded on spec.md §4.8's PLIC description; the concrete register
// layout follows the SiFive PLIC addressing that
// original_source/src/peripherals/intc.rs delegates to (its concrete
// module was filtered from the retrieval pack, so offsets here follow
// spec.md §6's named layout rather than copied Rust).
package plic

const (
	maxSources  = 64
	maxContexts = 2 // machine and supervisor contexts for hart 0

	priorityBase = 0x000000 // priorityBase + 4*sourceID
	pendingBase  = 0x001000 // one bit per source, word-aligned
	enableBase   = 0x002000 // enableBase + 0x80*context + 4*(sourceID/32)
	contextBase  = 0x200000 // contextBase + 0x1000*context: threshold, claim/complete
)

// PLIC is a platform-level interrupt controller for a single hart with
// separate machine and supervisor contexts.
type PLIC struct {
	base uint64

	priority [maxSources]uint32
	pending  [maxSources]bool
	claimed  [maxSources]bool // currently claimed by some context, not yet completed

	enable    [maxContexts][maxSources]bool
	threshold [maxContexts]uint32
}

const (
	ContextMachine    = 0
	ContextSupervisor = 1
)

// New creates a PLIC mapped at base.
func New(base uint64) *PLIC {
	return &PLIC{base: base}
}

func (p *PLIC) Base() uint64        { return p.base }
func (p *PLIC) Size() uint64        { return 0x400000 }
func (p *PLIC) Name() string        { return "plic" }
func (p *PLIC) InterruptID() uint32 { return 0 } // the PLIC itself has no upstream source
func (p *PLIC) Tick() bool          { return false }

// Latch marks sourceID pending. Devices call this indirectly via
// Bus.Tick when they assert their interrupt line.
func (p *PLIC) Latch(sourceID uint32) {
	if sourceID == 0 || int(sourceID) >= maxSources {
		return
	}
	p.pending[sourceID] = true
}

// PendingFor reports whether context ctx has a claimable interrupt:
// some source is pending, not already claimed, enabled for ctx, and at
// a priority exceeding ctx's threshold.
func (p *PLIC) PendingFor(ctx int) bool {
	_, ok := p.highestPending(ctx)
	return ok
}

func (p *PLIC) highestPending(ctx int) (uint32, bool) {
	best := uint32(0)
	bestPriority := uint32(0)
	found := false
	for src := 1; src < maxSources; src++ {
		if !p.pending[src] || p.claimed[src] || !p.enable[ctx][src] {
			continue
		}
		if p.priority[src] <= p.threshold[ctx] {
			continue
		}
		if !found || p.priority[src] > bestPriority {
			best = uint32(src)
			bestPriority = p.priority[src]
			found = true
		}
	}
	return best, found
}

func (p *PLIC) Read32(offset uint64) (uint32, error) {
	switch {
	case offset >= priorityBase && offset < pendingBase:
		src := (offset - priorityBase) / 4
		if int(src) < maxSources {
			return p.priority[src], nil
		}
	case offset >= pendingBase && offset < enableBase:
		word := (offset - pendingBase) / 4
		return p.pendingWord(int(word)), nil
	case offset >= enableBase && offset < contextBase:
		rel := offset - enableBase
		ctx := int(rel / 0x80)
		word := int((rel % 0x80) / 4)
		if ctx < maxContexts {
			return p.enableWord(ctx, word), nil
		}
	case offset >= contextBase:
		rel := offset - contextBase
		ctx := int(rel / 0x1000)
		reg := rel % 0x1000
		if ctx >= maxContexts {
			return 0, nil
		}
		switch reg {
		case 0x0:
			return p.threshold[ctx], nil
		case 0x4:
			src, ok := p.highestPending(ctx)
			if !ok {
				return 0, nil
			}
			p.claimed[src] = true
			return src, nil
		}
	}
	return 0, nil
}

func (p *PLIC) Write32(offset uint64, v uint32) error {
	switch {
	case offset >= priorityBase && offset < pendingBase:
		src := (offset - priorityBase) / 4
		if int(src) < maxSources {
			p.priority[src] = v
		}
	case offset >= enableBase && offset < contextBase:
		rel := offset - enableBase
		ctx := int(rel / 0x80)
		word := int((rel % 0x80) / 4)
		if ctx < maxContexts {
			p.setEnableWord(ctx, word, v)
		}
	case offset >= contextBase:
		rel := offset - contextBase
		ctx := int(rel / 0x1000)
		reg := rel % 0x1000
		if ctx >= maxContexts {
			return nil
		}
		switch reg {
		case 0x0:
			p.threshold[ctx] = v
		case 0x4:
			src := v
			if int(src) < maxSources {
				p.claimed[src] = false
				p.pending[src] = false
			}
		}
	}
	return nil
}

func (p *PLIC) pendingWord(word int) uint32 {
	var w uint32
	for i := 0; i < 32; i++ {
		src := word*32 + i
		if src < maxSources && p.pending[src] {
			w |= 1 << uint(i)
		}
	}
	return w
}

func (p *PLIC) enableWord(ctx, word int) uint32 {
	var w uint32
	for i := 0; i < 32; i++ {
		src := word*32 + i
		if src < maxSources && p.enable[ctx][src] {
			w |= 1 << uint(i)
		}
	}
	return w
}

func (p *PLIC) setEnableWord(ctx, word int, v uint32) {
	for i := 0; i < 32; i++ {
		src := word*32 + i
		if src < maxSources {
			p.enable[ctx][src] = v&(1<<uint(i)) != 0
		}
	}
}

// Read8/16/64 and Write8/16/64 decompose into/synthesize from the
// word-wide register file; spec.md §4.7 declares PLIC registers
// word-wide only, but the bus dispatches by the instruction's access
// width so sub- and super-word accesses still need a defined mapping.

func (p *PLIC) Read8(offset uint64) (uint8, error) {
	w, err := p.Read32(offset &^ 0x3)
	return uint8(w >> ((offset & 0x3) * 8)), err
}

func (p *PLIC) Read16(offset uint64) (uint16, error) {
	w, err := p.Read32(offset &^ 0x3)
	return uint16(w >> ((offset & 0x3) * 8)), err
}

func (p *PLIC) Read64(offset uint64) (uint64, error) {
	lo, _ := p.Read32(offset)
	hi, _ := p.Read32(offset + 4)
	return uint64(lo) | uint64(hi)<<32, nil
}

func (p *PLIC) Write8(offset uint64, v uint8) error {
	aligned := offset &^ 0x3
	w, _ := p.Read32(aligned)
	shift := (offset & 0x3) * 8
	w = (w &^ (0xFF << shift)) | uint32(v)<<shift
	return p.Write32(aligned, w)
}

func (p *PLIC) Write16(offset uint64, v uint16) error {
	aligned := offset &^ 0x3
	w, _ := p.Read32(aligned)
	shift := (offset & 0x3) * 8
	w = (w &^ (0xFFFF << shift)) | uint32(v)<<shift
	return p.Write32(aligned, w)
}

func (p *PLIC) Write64(offset uint64, v uint64) error {
	p.Write32(offset, uint32(v))
	p.Write32(offset+4, uint32(v>>32))
	return nil
}
