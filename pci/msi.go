package pci

import (
	"fmt"

	"github.com/mpleso/pcibus/hw"
)

// Platform is the interrupt side of the surrounding system: legacy pin
// routing, vector allocation, and MSI message encoding. The device
// core never invents vectors or message values of its own.
type Platform interface {
	// PinToVector maps a legacy interrupt pin (1-4) to a platform vector.
	PinToVector(pin uint8) (uint, error)
	// AllocateVectors reserves count contiguous vectors, returning the base.
	AllocateVectors(count int) (uint, error)
	// MSIValues computes the message address/data pair that raises vector.
	MSIValues(vector uint) (addr uint64, data uint16, err error)
}

// MSI capability layout, relative to the capability header.
const (
	msiControl   = 0x02 // 16-bit
	msiAddress   = 0x04 // low 32 bits of the message address
	msiAddressHi = 0x08 // upper 32 bits, only with msiControl64Bit
	msiData32    = 0x08 // message data without 64-bit addressing
	msiData64    = 0x0c // message data with 64-bit addressing

	msiControlEnable = 1 << 0
	msiControl64Bit  = 1 << 7
)

// MSI-X capability layout.
const (
	msixControl = 0x02 // 16-bit: table size, function mask, enable
	msixTable   = 0x04 // BAR index in bits 1:0, byte offset above
	msixPBA     = 0x08 // same encoding for the pending bit array

	msixControlTableMask = 0x3f
	msixControlEnable    = 1 << 15

	// Vector table entries: address low/high, data, vector control.
	msixEntryBytes   = 16
	msixVectorMasked = 1 << 0
)

// AllocateIRQ routes the function's legacy interrupt pin to a platform
// vector and returns it. Functions with no pin answer ErrNoResources.
func (d *Device) AllocateIRQ() (uint, error) {
	pin, err := d.bus.Config.ReadByte(d.Addr, cfgInterruptPin)
	if err != nil {
		return 0, err
	}
	if pin == 0 {
		return 0, ErrNoResources
	}

	vec, err := d.bus.Platform.PinToVector(pin)
	if err != nil {
		return 0, err
	}

	// write it back to the interrupt line register
	if err = d.bus.Config.WriteByte(d.Addr, cfgInterruptLine, uint8(vec)); err != nil {
		return 0, err
	}
	return vec, nil
}

// AllocateMSI programs the MSI capability with a platform-allocated
// vector and enables it. Only single-vector allocation is implemented;
// asking for more is a programming error. A late register failure
// leaves a partially written message behind; this is best effort, not
// transactional.
func (d *Device) AllocateMSI(count int) (uint, error) {
	if count != 1 {
		panic(fmt.Sprintf("pci: msi: %d vectors requested, only 1 implemented", count))
	}
	if !d.HasMSI() {
		return 0, ErrNotSupported
	}

	base, err := d.bus.Platform.AllocateVectors(count)
	if err != nil {
		return 0, err
	}
	addr, data, err := d.bus.Platform.MSIValues(base)
	if err != nil {
		return 0, err
	}

	cs := d.bus.Config
	capOff := d.caps[d.msiCap].Offset

	// Disable before touching the message registers; enable only
	// once every field is written.
	control, err := cs.ReadHalf(d.Addr, capOff+msiControl)
	if err != nil {
		return 0, err
	}
	if err = cs.WriteHalf(d.Addr, capOff+msiControl, control&^msiControlEnable); err != nil {
		return 0, err
	}
	if err = cs.WriteWord(d.Addr, capOff+msiAddress, uint32(addr)); err != nil {
		return 0, err
	}
	if control&msiControl64Bit != 0 {
		if err = cs.WriteWord(d.Addr, capOff+msiAddressHi, uint32(addr>>32)); err != nil {
			return 0, err
		}
		if err = cs.WriteHalf(d.Addr, capOff+msiData64, data); err != nil {
			return 0, err
		}
	} else {
		if err = cs.WriteHalf(d.Addr, capOff+msiData32, data); err != nil {
			return 0, err
		}
	}

	// enabled, single message, no per-vector masking
	if err = cs.WriteHalf(d.Addr, capOff+msiControl, msiControlEnable); err != nil {
		return 0, err
	}

	if err = cs.WriteByte(d.Addr, cfgInterruptLine, uint8(base)); err != nil {
		return 0, err
	}

	d.log.V(1).Info("msi allocated", "addr", d.Addr.String(), "vector", base)
	return base, nil
}

// AllocateMSIX maps the vector table and pending bit array, masks the
// whole table, programs the requested entries and enables MSI-X. Only
// single-vector allocation is implemented. The table and PBA windows
// are mapped once and owned by the device for its remaining lifetime.
func (d *Device) AllocateMSIX(count int) (uint, error) {
	if count != 1 {
		panic(fmt.Sprintf("pci: msi-x: %d vectors requested, only 1 implemented", count))
	}
	if !d.HasMSIX() {
		return 0, ErrNotSupported
	}

	cs := d.bus.Config
	capOff := d.caps[d.msixCap].Offset

	control, err := cs.ReadHalf(d.Addr, capOff+msixControl)
	if err != nil {
		return 0, err
	}
	tableCount := int(control&msixControlTableMask) + 1
	if count > tableCount {
		return 0, ErrNoResources
	}

	tableWord, err := cs.ReadWord(d.Addr, capOff+msixTable)
	if err != nil {
		return 0, err
	}
	pbaWord, err := cs.ReadWord(d.Addr, capOff+msixPBA)
	if err != nil {
		return 0, err
	}

	base, err := d.bus.Platform.AllocateVectors(count)
	if err != nil {
		return 0, err
	}

	table, err := d.mapBarWindow(tableWord, uintptr(tableCount)*msixEntryBytes, 0)
	if err != nil {
		return 0, err
	}
	// one pending bit per vector, qword granular
	pba, err := d.mapBarWindow(pbaWord, uintptr((tableCount+63)/64)*8, hw.MapReadOnly)
	if err != nil {
		return 0, err
	}

	addr, data, err := d.bus.Platform.MSIValues(base)
	if err != nil {
		return 0, err
	}

	// Mask every entry first, then program just the requested ones.
	for i := 0; i < tableCount; i++ {
		e := uintptr(i) * msixEntryBytes
		table.Reg32(e + 0).Set(0)
		table.Reg32(e + 4).Set(0)
		table.Reg32(e + 8).Set(0)
		table.Reg32(e + 12).Set(msixVectorMasked)
	}
	for i := 0; i < count; i++ {
		e := uintptr(i) * msixEntryBytes
		table.Reg32(e + 0).Set(uint32(addr))
		table.Reg32(e + 4).Set(uint32(addr >> 32))
		table.Reg32(e + 8).Set(uint32(data))
		table.Reg32(e + 12).Set(0)
	}

	d.msixTable = table
	d.msixPBA = pba

	// MSI-X enable, no function mask
	if err = cs.WriteHalf(d.Addr, capOff+msixControl, control|msixControlEnable); err != nil {
		return 0, err
	}

	if err = cs.WriteByte(d.Addr, cfgInterruptLine, uint8(base)); err != nil {
		return 0, err
	}

	d.log.V(1).Info("msi-x allocated",
		"addr", d.Addr.String(), "vector", base, "table", tableCount)
	return base, nil
}

// MSIXTable returns the mapped vector table window, nil before a
// successful MSI-X allocation.
func (d *Device) MSIXTable() *hw.Window { return d.msixTable }

// MSIXPBA returns the mapped pending bit array window, nil before a
// successful MSI-X allocation.
func (d *Device) MSIXPBA() *hw.Window { return d.msixPBA }

// mapBarWindow maps the structure named by an MSI-X offset word: BAR
// index in the low two bits, byte offset above them. The map itself is
// page granular; the returned view starts at the structure.
func (d *Device) mapBarWindow(word uint32, size uintptr, flags hw.MapFlags) (*hw.Window, error) {
	bar := d.bars[word&0x3]
	off := uintptr(word &^ 0x3)
	if !bar.Valid || bar.IO {
		return nil, ErrInvalidArgs
	}

	mapper := d.bus.Mapper
	if mapper == nil {
		w, err := hw.PhysMapper{}.MapPhysical("pci msix", bar.Addr+uint64(off), size,
			flags|hw.MapUncachedDevice)
		if err != nil {
			return nil, ErrNoMemory
		}
		return w, nil
	}

	pageOff := off &^ (pageBytes - 1)
	length := uintptr(roundUp(uint64(size+off-pageOff), pageBytes))
	w, err := mapper.MapPhysical("pci msix", bar.Addr+uint64(pageOff), length,
		flags|hw.MapUncachedDevice)
	if err != nil {
		return nil, err
	}
	return w.View(off-pageOff, size), nil
}
