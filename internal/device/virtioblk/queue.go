package virtioblk

import "encoding/binary"

// descriptor mirrors struct vring_desc: a 16-byte entry in the
// descriptor table (addr u64, len u32, flags u16, next u16).
type descriptor struct {
	addr  uint64
	len   uint32
	flags uint16
	next  uint16
}

func (d *Device) dramWindow() ([]byte, uint64, bool) {
	return d.dram.DRAMBytes()
}

func (d *Device) readDescriptor(idx uint16) (descriptor, bool) {
	mem, base, ok := d.dramWindow()
	if !ok {
		return descriptor{}, false
	}
	off := d.descAddr - base + uint64(idx)*16
	if off+16 > uint64(len(mem)) {
		return descriptor{}, false
	}
	b := mem[off : off+16]
	return descriptor{
		addr:  binary.LittleEndian.Uint64(b[0:8]),
		len:   binary.LittleEndian.Uint32(b[8:12]),
		flags: binary.LittleEndian.Uint16(b[12:14]),
		next:  binary.LittleEndian.Uint16(b[14:16]),
	}, true
}

// availRingEntry reads the idx'th slot of the avail ring: flags(2)
// idx(2) then num uint16 descriptor-head indices.
func (d *Device) availRingEntry(slot uint16) (uint16, bool) {
	mem, base, ok := d.dramWindow()
	if !ok {
		return 0, false
	}
	off := d.driverAddr - base + 4 + uint64(slot)*2
	if off+2 > uint64(len(mem)) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(mem[off : off+2]), true
}

func (d *Device) availIdx() (uint16, bool) {
	mem, base, ok := d.dramWindow()
	if !ok {
		return 0, false
	}
	off := d.driverAddr - base + 2
	if off+2 > uint64(len(mem)) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(mem[off : off+2]), true
}

// pushUsed appends (descIdx, len) to the used ring and bumps its idx.
func (d *Device) pushUsed(descIdx uint16, length uint32) bool {
	mem, base, ok := d.dramWindow()
	if !ok {
		return false
	}
	usedIdxOff := d.deviceAddr - base + 2
	if usedIdxOff+2 > uint64(len(mem)) {
		return false
	}
	idx := binary.LittleEndian.Uint16(mem[usedIdxOff : usedIdxOff+2])

	entryOff := d.deviceAddr - base + 4 + uint64(idx%uint16(maxUint16(d.queueNum, 1)))*8
	if entryOff+8 > uint64(len(mem)) {
		return false
	}
	binary.LittleEndian.PutUint32(mem[entryOff:entryOff+4], uint32(descIdx))
	binary.LittleEndian.PutUint32(mem[entryOff+4:entryOff+8], length)

	binary.LittleEndian.PutUint16(mem[usedIdxOff:usedIdxOff+2], idx+1)
	return true
}

func maxUint16(v uint32, floor uint32) uint32 {
	if v < floor {
		return floor
	}
	return v
}

// handleNotify drains every newly-available descriptor chain since
// the last notify, executing each as one block request.
func (d *Device) handleNotify() error {
	idx, ok := d.availIdx()
	if !ok {
		return nil
	}
	for d.lastAvail != idx {
		head, ok := d.availRingEntry(d.lastAvail % uint16(maxUint16(d.queueNum, 1)))
		if !ok {
			break
		}
		n := d.processRequest(head)
		d.pushUsed(head, n)
		d.lastAvail++
	}
	d.interruptStatus |= 1
	d.irqPending = true
	return nil
}

// processRequest walks one descriptor chain: a read-only 16-byte
// virtio_blk_req header, one or more data descriptors (read-only for
// a write request, write-only for a read request), and a final
// write-only 1-byte status descriptor. Returns the number of bytes
// written into the chain (for the used-ring length field).
func (d *Device) processRequest(head uint16) uint32 {
	hdrDesc, ok := d.readDescriptor(head)
	if !ok || hdrDesc.len < 16 {
		return 0
	}
	hdr, ok := d.readHeader(hdrDesc.addr)
	if !ok {
		return 0
	}

	cur := hdrDesc
	var dataDescs []descriptor
	var statusDesc descriptor
	haveStatus := false
	for cur.flags&descFlagsNext != 0 {
		next, ok := d.readDescriptor(cur.next)
		if !ok {
			return 0
		}
		cur = next
		if cur.flags&descFlagsNext == 0 && cur.len == 1 && cur.flags&descFlagsWrite != 0 {
			statusDesc = cur
			haveStatus = true
			break
		}
		dataDescs = append(dataDescs, cur)
	}
	if !haveStatus {
		return 0
	}

	status := d.execute(hdr, dataDescs)
	d.writeStatus(statusDesc.addr, status)
	written := uint32(1) // the status byte
	for _, desc := range dataDescs {
		if desc.flags&descFlagsWrite != 0 {
			written += desc.len
		}
	}
	return written
}

type blkHeader struct {
	typ    uint32
	sector uint64
}

func (d *Device) readHeader(addr uint64) (blkHeader, bool) {
	mem, base, ok := d.dramWindow()
	if !ok {
		return blkHeader{}, false
	}
	off := addr - base
	if off+16 > uint64(len(mem)) {
		return blkHeader{}, false
	}
	b := mem[off : off+16]
	return blkHeader{
		typ:    binary.LittleEndian.Uint32(b[0:4]),
		sector: binary.LittleEndian.Uint64(b[8:16]),
	}, true
}

func (d *Device) writeStatus(addr uint64, status byte) {
	mem, base, ok := d.dramWindow()
	if !ok {
		return
	}
	off := addr - base
	if off < uint64(len(mem)) {
		mem[off] = status
	}
}

func (d *Device) execute(hdr blkHeader, dataDescs []descriptor) byte {
	switch hdr.typ {
	case reqTypeIn:
		return d.readSectors(hdr.sector, dataDescs)
	case reqTypeOut:
		return d.writeSectors(hdr.sector, dataDescs)
	case reqTypeFlush:
		return statusOK
	case reqTypeGetID:
		return d.writeDeviceID(dataDescs)
	default:
		return statusUnsupp
	}
}

func (d *Device) readSectors(sector uint64, dataDescs []descriptor) byte {
	mem, base, ok := d.dramWindow()
	if !ok {
		return statusIOErr
	}
	fileOff := int64(sector) * sectorSize
	for _, desc := range dataDescs {
		off := desc.addr - base
		if off+uint64(desc.len) > uint64(len(mem)) {
			return statusIOErr
		}
		n, err := d.file.ReadAt(mem[off:off+uint64(desc.len)], fileOff)
		if err != nil && n == 0 {
			return statusIOErr
		}
		fileOff += int64(n)
	}
	return statusOK
}

func (d *Device) writeSectors(sector uint64, dataDescs []descriptor) byte {
	mem, base, ok := d.dramWindow()
	if !ok {
		return statusIOErr
	}
	fileOff := int64(sector) * sectorSize
	for _, desc := range dataDescs {
		off := desc.addr - base
		if off+uint64(desc.len) > uint64(len(mem)) {
			return statusIOErr
		}
		if _, err := d.writer.WriteAt(mem[off:off+uint64(desc.len)], fileOff); err != nil {
			return statusIOErr
		}
		fileOff += int64(desc.len)
	}
	return statusOK
}

func (d *Device) writeDeviceID(dataDescs []descriptor) byte {
	mem, base, ok := d.dramWindow()
	if !ok {
		return statusIOErr
	}
	const id = "rvemu-disk0\x00"
	for _, desc := range dataDescs {
		off := desc.addr - base
		n := copy(mem[off:off+uint64(desc.len)], id)
		_ = n
		return statusOK
	}
	return statusUnsupp
}
