// Package mmu implements Sv32, Sv39, and Sv48 virtual-to-physical
// address translation: satp-mode dispatch, a multi-level page-table
// walk that sets accessed/dirty bits as it goes, permission checking
// against the requesting privilege level and mstatus.SUM/MXR, and a
// small direct-mapped TLB keyed by virtual page number.
//
// Grounded on tinyrange-cc's internal/hv/riscv/rv64/mmu.go (Translate/
// walkPageTable/checkPermissions shape and TLB indexing), generalized
// from a single hardwired Sv39/Sv48 pair to all three RISC-V paging
// modes per spec.md §4.2.
package mmu

import (
	"rvemu/internal/csr"
	"rvemu/internal/trap"
)

// Access identifies the kind of memory access being translated, since
// permission checks and the resulting page-fault cause differ by kind.
type Access int

const (
	AccessRead Access = iota
	AccessWrite
	AccessExecute
)

// PhysBus is the subset of the system bus the MMU needs to walk page
// tables and touch accessed/dirty bits.
type PhysBus interface {
	Read64(addr uint64) (uint64, error)
	Write64(addr uint64, v uint64) error
}

const (
	pteV = 1 << 0
	pteR = 1 << 1
	pteW = 1 << 2
	pteX = 1 << 3
	pteU = 1 << 4
	pteG = 1 << 5
	pteA = 1 << 6
	pteD = 1 << 7

	pageShift = 12
	pageSize  = 1 << pageShift
)

const (
	satpModeBare = 0
	satpModeSv32 = 1
	satpModeSv39 = 8
	satpModeSv48 = 9
	satpModeSv57 = 10
)

type levelLayout struct {
	levels  int
	vpnBits int
	ppnBits int
	pteSize int // bytes per PTE: 4 for Sv32, 8 for Sv39/48
}

var layouts = map[uint64]levelLayout{
	satpModeSv32: {levels: 2, vpnBits: 10, ppnBits: 22, pteSize: 4},
	satpModeSv39: {levels: 3, vpnBits: 9, ppnBits: 44, pteSize: 8},
	satpModeSv48: {levels: 4, vpnBits: 9, ppnBits: 44, pteSize: 8},
}

const tlbSize = 512

type tlbEntry struct {
	valid    bool
	vpn      uint64
	ppn      uint64
	flags    uint64
	pageSize uint64
	asid     uint32
}

// MMU translates virtual addresses for a single hart, reading satp and
// privilege/mstatus state from the CSR file it is constructed with.
type MMU struct {
	csrs *csr.File
	bus  PhysBus
	tlb  [tlbSize]tlbEntry
}

// New creates an MMU that walks tables over bus and derives mode/
// privilege from csrs.
func New(csrs *csr.File, bus PhysBus) *MMU {
	return &MMU{csrs: csrs, bus: bus}
}

// Flush invalidates the entire TLB, e.g. on SFENCE.VMA with no operands.
func (m *MMU) Flush() {
	for i := range m.tlb {
		m.tlb[i].valid = false
	}
}

// FlushAddr invalidates TLB entries matching vaddr's page, e.g. on
// SFENCE.VMA rs1, x0.
func (m *MMU) FlushAddr(vaddr uint64) {
	vpn := vaddr >> pageShift
	idx := vpn % tlbSize
	e := &m.tlb[idx]
	if e.valid && e.vpn == vpn {
		e.valid = false
	}
}

func (m *MMU) satp() uint64 {
	return m.csrs.ReadDirect(csr.Satp)
}

func (m *MMU) satpMode() uint64 {
	// Sv32's satp has an 1-bit MODE field at bit 31; Sv39/48/57 use an
	// 4-bit MODE field at bits 63:60. Disambiguate by XLEN via the top
	// bits: if bits 63:60 hold a known 64-bit mode, use that, else fall
	// back to the 32-bit encoding.
	satp := m.satp()
	mode64 := (satp >> 60) & 0xf
	if _, ok := layouts[mode64]; ok {
		return mode64
	}
	if satp>>31 == 1 {
		return satpModeSv32
	}
	return satpModeBare
}

// Translate resolves vaddr to a physical address for the given access
// kind and requesting privilege, applying mstatus.MPRV/MPP/SUM/MXR.
func (m *MMU) Translate(vaddr uint64, access Access, priv csr.Privilege) (uint64, *trap.Trap) {
	mode := m.satpMode()
	if mode == satpModeBare {
		return vaddr, nil
	}

	effPriv := priv
	mstatus := m.csrs.ReadDirect(csr.Mstatus)
	if priv == csr.Machine && access != AccessExecute && mstatus&csr.StatusMPRV != 0 {
		effPriv = csr.Privilege((mstatus >> csr.StatusMPPShift) & 0x3)
	}
	if effPriv == csr.Machine {
		return vaddr, nil
	}

	layout, ok := layouts[mode]
	if !ok {
		return vaddr, nil
	}

	vpn := vaddr >> pageShift
	idx := vpn % tlbSize
	asid := uint32((m.satp() >> 44) & 0xffff)
	e := &m.tlb[idx]

	if e.valid && e.vpn == vpn && (e.asid == asid || e.flags&pteG != 0) {
		if t := m.checkPermissions(e.flags, access, effPriv, mstatus); t != nil {
			return 0, t
		}
		if e.flags&pteA != 0 && !(access == AccessWrite && e.flags&pteD == 0) {
			off := vaddr & (e.pageSize - 1)
			return (e.ppn << pageShift) | off, nil
		}
		e.valid = false // force a walk to set A/D
	}

	paddr, flags, psize, t := m.walk(vaddr, access, effPriv, mstatus, layout)
	if t != nil {
		return 0, t
	}

	e.valid = true
	e.vpn = vpn
	e.ppn = paddr >> pageShift
	e.flags = flags
	e.pageSize = psize
	e.asid = asid
	return paddr, nil
}

func (m *MMU) walk(vaddr uint64, access Access, priv csr.Privilege, mstatus uint64, layout levelLayout) (uint64, uint64, uint64, *trap.Trap) {
	vpnMask := uint64(1)<<uint(layout.vpnBits) - 1
	ppnMask := uint64(1)<<uint(layout.ppnBits) - 1

	root := m.satp() & ppnMask
	tableAddr := root << pageShift
	pteBytes := uint64(layout.pteSize)

	var pte uint64
	pSize := uint64(pageSize)

	for level := layout.levels - 1; level >= 0; level-- {
		shift := pageShift + level*layout.vpnBits
		vpn := (vaddr >> uint(shift)) & vpnMask

		pteAddr := tableAddr + vpn*pteBytes
		raw, err := m.bus.Read64(pteAddr)
		if err != nil {
			return 0, 0, 0, m.fault(access, vaddr)
		}
		pte = raw
		if pteBytes == 4 {
			pte &= 0xFFFFFFFF
		}

		if pte&pteV == 0 {
			return 0, 0, 0, m.fault(access, vaddr)
		}
		if pte&pteR == 0 && pte&pteW != 0 {
			return 0, 0, 0, m.fault(access, vaddr)
		}

		if pte&(pteR|pteX) != 0 {
			if level > 0 {
				mask := uint64(1)<<uint(level*layout.vpnBits) - 1
				if (pte>>10)&mask != 0 {
					return 0, 0, 0, m.fault(access, vaddr)
				}
				pSize = uint64(1) << uint(shift)
			}

			if t := m.checkPermissions(pte, access, priv, mstatus); t != nil {
				return 0, 0, 0, t
			}

			needA := pte&pteA == 0
			needD := access == AccessWrite && pte&pteD == 0
			if needA || needD {
				newPte := pte | pteA
				if access == AccessWrite {
					newPte |= pteD
				}
				stored := newPte
				if pteBytes == 4 {
					stored = raw&^0xFFFFFFFF | newPte
				}
				if err := m.bus.Write64(pteAddr, stored); err != nil {
					return 0, 0, 0, m.fault(access, vaddr)
				}
				pte = newPte
			}

			ppn := (pte >> 10) & ppnMask
			offset := vaddr & (pSize - 1)
			if level > 0 {
				mask := uint64(1)<<uint(level*layout.vpnBits) - 1
				ppn = (ppn &^ mask) | ((vaddr >> pageShift) & mask)
			}
			return (ppn << pageShift) | offset, pte, pSize, nil
		}

		tableAddr = ((pte >> 10) & ppnMask) << pageShift
	}
	return 0, 0, 0, m.fault(access, vaddr)
}

func (m *MMU) checkPermissions(pte uint64, access Access, priv csr.Privilege, mstatus uint64) *trap.Trap {
	if priv == csr.User {
		if pte&pteU == 0 {
			return m.fault(access, 0)
		}
	} else if pte&pteU != 0 {
		// mstatus.SUM only relaxes data access; S-mode may never execute
		// out of a U-accessible page regardless of SUM.
		if access == AccessExecute || mstatus&csr.StatusSUM == 0 {
			return m.fault(access, 0)
		}
	}

	switch access {
	case AccessRead:
		if pte&pteR == 0 {
			if mstatus&csr.StatusMXR != 0 && pte&pteX != 0 {
				return nil
			}
			return m.fault(access, 0)
		}
	case AccessWrite:
		if pte&pteW == 0 {
			return m.fault(access, 0)
		}
	case AccessExecute:
		if pte&pteX == 0 {
			return m.fault(access, 0)
		}
	}
	return nil
}

func (m *MMU) fault(access Access, vaddr uint64) *trap.Trap {
	switch access {
	case AccessRead:
		return trap.Exception(trap.LoadPageFault, vaddr)
	case AccessWrite:
		return trap.Exception(trap.StorePageFault, vaddr)
	default:
		return trap.Exception(trap.InstructionPageFault, vaddr)
	}
}
