// Package pcisim is a synthetic PCI register bank: emulated functions
// behind the config space transport, plus the platform interrupt and
// window mapping collaborators. It backs the package tests and the
// offline CLI; no real hardware is involved.
package pcisim

import (
	"encoding/binary"

	"github.com/mpleso/pcibus/pci"
)

type BarKind uint8

const (
	BarNone BarKind = iota
	BarIO
	BarMem32
	BarMem64
)

// simBar models the device side of a BAR slot: the written address
// value with the unimplemented low bits masked off on read-back, which
// is what makes the host's all-ones size probe work.
type simBar struct {
	kind BarKind
	size uint64
	pref bool
	val  uint64 // last written address value; both words for 64-bit
	hi   bool   // this slot is the high half of the previous one
}

// Function emulates the config space of one PCI function.
type Function struct {
	Addr pci.BusAddress

	// Broken makes every config access fail, for fault injection.
	Broken bool

	cfg  [256]byte
	bars [6]simBar

	capTail uint16 // offset of the previous capability's next pointer
	capFree uint16 // next free offset for a capability body
}

func NewFunction(addr pci.BusAddress, vendor, device uint16) *Function {
	f := &Function{Addr: addr, capFree: 0x40}
	binary.LittleEndian.PutUint16(f.cfg[0x00:], vendor)
	binary.LittleEndian.PutUint16(f.cfg[0x02:], device)
	return f
}

func (f *Function) SetClass(base, sub, progIF, revision uint8) {
	f.cfg[0x08] = revision
	f.cfg[0x09] = progIF
	f.cfg[0x0a] = sub
	f.cfg[0x0b] = base
}

func (f *Function) SetHeaderType(t uint8, multiFn bool) {
	if multiFn {
		t |= 1 << 7
	}
	f.cfg[0x0e] = t
}

func (f *Function) SetInterruptPin(pin uint8) {
	f.cfg[0x3d] = pin
}

// AddBar declares a BAR slot. size must be a power of two. A 64-bit
// BAR also claims the following slot for its high half.
func (f *Function) AddBar(i int, kind BarKind, size uint64, prefetchable bool, addr uint64) {
	f.bars[i] = simBar{kind: kind, size: size, pref: prefetchable, val: addr}
	if kind == BarMem64 && i < 5 {
		f.bars[i+1] = simBar{hi: true}
	}
}

// Peek and Poke access raw config bytes, bypassing device semantics.
// Tests use Poke to corrupt structures.
func (f *Function) Peek(off uint16) uint8    { return f.cfg[off] }
func (f *Function) Poke(off uint16, v uint8) { f.cfg[off] = v }

// addCapability reserves size bytes at the tail of the capability
// chain and returns the offset. size includes the two header bytes.
func (f *Function) addCapability(id uint8, size uint16) uint16 {
	off := f.capFree
	f.capFree = (off + size + 3) &^ 3
	f.cfg[off] = id
	f.cfg[off+1] = 0
	if f.capTail == 0 {
		f.cfg[0x34] = uint8(off)
		status := binary.LittleEndian.Uint16(f.cfg[0x06:])
		binary.LittleEndian.PutUint16(f.cfg[0x06:], status|uint16(pci.CapabilityList))
	} else {
		f.cfg[f.capTail] = uint8(off)
	}
	f.capTail = off + 1
	return off
}

// AddMSI appends an MSI capability and returns its offset.
func (f *Function) AddMSI(addr64 bool) uint16 {
	off := f.addCapability(uint8(pci.MSI), 0x18)
	if addr64 {
		f.cfg[off+2] |= 1 << 7
	}
	return off
}

// AddMSIX appends an MSI-X capability. The table and PBA words carry
// the BAR index in their low two bits; offsets must be 8-byte aligned.
func (f *Function) AddMSIX(vectors, tableBar int, tableOff uint32, pbaBar int, pbaOff uint32) uint16 {
	off := f.addCapability(uint8(pci.MSIX), 12)
	binary.LittleEndian.PutUint16(f.cfg[off+2:], uint16(vectors-1)&0x3f)
	binary.LittleEndian.PutUint32(f.cfg[off+4:], tableOff|uint32(tableBar))
	binary.LittleEndian.PutUint32(f.cfg[off+8:], pbaOff|uint32(pbaBar))
	return off
}

// AddVendorCap appends a vendor-specific capability whose declared
// length covers the header, the length byte and data.
func (f *Function) AddVendorCap(data []byte) uint16 {
	off := f.addCapability(uint8(pci.VendorSpecific), uint16(3+len(data)))
	f.cfg[off+2] = uint8(3 + len(data))
	copy(f.cfg[off+3:], data)
	return off
}

func (f *Function) read32(off uint16) uint32 {
	if off >= 0x10 && off < 0x28 {
		return f.barRead(int(off-0x10) / 4)
	}
	return binary.LittleEndian.Uint32(f.cfg[off:])
}

func (f *Function) write32(off uint16, v uint32) {
	if off >= 0x10 && off < 0x28 {
		f.barWrite(int(off-0x10)/4, v)
		return
	}
	binary.LittleEndian.PutUint32(f.cfg[off:], v)
}

func (f *Function) barRead(i int) uint32 {
	b := &f.bars[i]
	if b.hi {
		lo := &f.bars[i-1]
		return uint32(lo.val &^ (lo.size - 1) >> 32)
	}
	switch b.kind {
	case BarIO:
		return uint32(b.val)&0xffff&^uint32(b.size-1) | 0x1
	case BarMem32:
		v := uint32(b.val&^(b.size-1)) &^ 0xf
		if b.pref {
			v |= 1 << 3
		}
		return v
	case BarMem64:
		v := uint32(b.val&^(b.size-1))&^0xf | 0x4
		if b.pref {
			v |= 1 << 3
		}
		return v
	}
	return 0
}

func (f *Function) barWrite(i int, v uint32) {
	b := &f.bars[i]
	switch {
	case b.hi:
		lo := &f.bars[i-1]
		lo.val = lo.val&0xffffffff | uint64(v)<<32
	case b.kind == BarMem64:
		b.val = b.val&^uint64(0xffffffff) | uint64(v)
	case b.kind != BarNone:
		b.val = uint64(v)
	}
	// writes to unimplemented slots are dropped
}
