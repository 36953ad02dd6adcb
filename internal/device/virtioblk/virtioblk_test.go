package virtioblk

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// fakeDRAM is a minimal dramAccessor backed by a plain byte slice
// based at a fixed physical address, standing in for the bus during
// these descriptor-ring tests.
type fakeDRAM struct {
	base uint64
	mem  []byte
}

func (f *fakeDRAM) DRAMBytes() ([]byte, uint64, bool) { return f.mem, f.base, true }

// fakeDisk is a 4-sector in-memory backing store implementing the
// ReaderAt/WriterAt pair New requires.
type fakeDisk struct {
	data []byte
}

func (f *fakeDisk) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, f.data[off:])
	return n, nil
}

func (f *fakeDisk) WriteAt(p []byte, off int64) (int, error) {
	n := copy(f.data[off:], p)
	return n, nil
}

const dramBase uint64 = 0x8000_0000

func newTestDevice(t *testing.T) (*Device, *fakeDRAM, *fakeDisk) {
	t.Helper()
	dram := &fakeDRAM{base: dramBase, mem: make([]byte, 64*1024)}
	disk := &fakeDisk{data: make([]byte, 4*sectorSize)}
	for i := range disk.data {
		disk.data[i] = byte(i)
	}
	dev, err := New(0x1000_1000, dram, disk, int64(len(disk.data)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return dev, dram, disk
}

func putDescriptor(mem []byte, base uint64, descTable uint64, idx uint16, addr uint64, length uint32, flags uint16, next uint16) {
	off := descTable - base + uint64(idx)*16
	binary.LittleEndian.PutUint64(mem[off:off+8], addr)
	binary.LittleEndian.PutUint32(mem[off+8:off+12], length)
	binary.LittleEndian.PutUint16(mem[off+12:off+14], flags)
	binary.LittleEndian.PutUint16(mem[off+14:off+16], next)
}

func setupQueue(t *testing.T, dev *Device, dram *fakeDRAM) (descTable, availRing, usedRing uint64) {
	t.Helper()
	descTable = dramBase + 0x1000
	availRing = dramBase + 0x2000
	usedRing = dramBase + 0x3000

	dev.Write32(regQueueSel, 0)
	dev.Write32(regQueueNum, 8)
	dev.Write32(regQueueDescLow, uint32(descTable))
	dev.Write32(regQueueDescHigh, uint32(descTable>>32))
	dev.Write32(regQueueDriverLow, uint32(availRing))
	dev.Write32(regQueueDriverHigh, uint32(availRing>>32))
	dev.Write32(regQueueDeviceLow, uint32(usedRing))
	dev.Write32(regQueueDeviceHigh, uint32(usedRing>>32))
	dev.Write32(regQueueReady, 1)
	return
}

func TestMagicAndVersionRegisters(t *testing.T) {
	dev, _, _ := newTestDevice(t)
	v, _ := dev.Read32(regMagicValue)
	if v != magicValue {
		t.Fatalf("magic = 0x%x, want 0x%x", v, magicValue)
	}
	v, _ = dev.Read32(regVersion)
	if v != mmioVersion {
		t.Fatalf("version = %d, want %d", v, mmioVersion)
	}
	v, _ = dev.Read32(regDeviceID)
	if v != deviceIDBlock {
		t.Fatalf("device id = %d, want %d", v, deviceIDBlock)
	}
}

func TestReadRequestCopiesSectorFromDisk(t *testing.T) {
	dev, dram, disk := newTestDevice(t)
	descTable, availRing, _ := setupQueue(t, dev, dram)

	hdrAddr := dramBase + 0x5000
	dataAddr := dramBase + 0x5100
	statusAddr := dramBase + 0x5400

	binary.LittleEndian.PutUint32(dram.mem[hdrAddr-dramBase:], reqTypeIn)
	binary.LittleEndian.PutUint64(dram.mem[hdrAddr-dramBase+8:], 1) // sector 1

	putDescriptor(dram.mem, dramBase, descTable, 0, hdrAddr, 16, descFlagsNext, 1)
	putDescriptor(dram.mem, dramBase, descTable, 1, dataAddr, sectorSize, descFlagsNext|descFlagsWrite, 2)
	putDescriptor(dram.mem, dramBase, descTable, 2, statusAddr, 1, descFlagsWrite, 0)

	// avail ring: idx=1, ring[0]=0 (head descriptor 0)
	binary.LittleEndian.PutUint16(dram.mem[availRing-dramBase+2:], 1)
	binary.LittleEndian.PutUint16(dram.mem[availRing-dramBase+4:], 0)

	if err := dev.Write32(regQueueNotify, 0); err != nil {
		t.Fatalf("notify: %v", err)
	}

	got := dram.mem[dataAddr-dramBase : dataAddr-dramBase+sectorSize]
	want := disk.data[sectorSize : 2*sectorSize]
	if !bytes.Equal(got, want) {
		t.Fatalf("sector 1 not copied into guest memory correctly")
	}
	if dram.mem[statusAddr-dramBase] != statusOK {
		t.Fatalf("status = %d, want statusOK", dram.mem[statusAddr-dramBase])
	}

	status, _ := dev.Read32(regInterruptStatus)
	if status&1 == 0 {
		t.Fatalf("interrupt status not latched after completing a request")
	}
	if !dev.Tick() {
		t.Fatalf("Tick() should report the pending interrupt")
	}
}

func TestWriteRequestPersistsToDisk(t *testing.T) {
	dev, dram, disk := newTestDevice(t)
	descTable, availRing, _ := setupQueue(t, dev, dram)

	hdrAddr := dramBase + 0x5000
	dataAddr := dramBase + 0x5100
	statusAddr := dramBase + 0x5400

	binary.LittleEndian.PutUint32(dram.mem[hdrAddr-dramBase:], reqTypeOut)
	binary.LittleEndian.PutUint64(dram.mem[hdrAddr-dramBase+8:], 2) // sector 2

	payload := bytes.Repeat([]byte{0xAB}, sectorSize)
	copy(dram.mem[dataAddr-dramBase:], payload)

	putDescriptor(dram.mem, dramBase, descTable, 0, hdrAddr, 16, descFlagsNext, 1)
	putDescriptor(dram.mem, dramBase, descTable, 1, dataAddr, sectorSize, descFlagsNext, 2)
	putDescriptor(dram.mem, dramBase, descTable, 2, statusAddr, 1, descFlagsWrite, 0)

	binary.LittleEndian.PutUint16(dram.mem[availRing-dramBase+2:], 1)
	binary.LittleEndian.PutUint16(dram.mem[availRing-dramBase+4:], 0)

	if err := dev.Write32(regQueueNotify, 0); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if !bytes.Equal(disk.data[2*sectorSize:3*sectorSize], payload) {
		t.Fatalf("write request did not persist payload to backing disk")
	}
	if dram.mem[statusAddr-dramBase] != statusOK {
		t.Fatalf("status = %d, want statusOK", dram.mem[statusAddr-dramBase])
	}
}
