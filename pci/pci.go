// Device model for a single function on a PCI bus.
package pci

import "fmt"

// Under PCI, each device has 256 bytes of configuration address space,
// of which the first 16 bytes are standardized as follows:
type ConfigHeader struct {
	DeviceID
	Command
	Status

	Revision uint8

	// Distinguishes programming interface for device.
	// For example, different standards for USB controllers.
	SoftwareInterface

	DeviceClass

	CacheSize    uint8
	LatencyTimer uint8

	// If bit 7 of this register is set, the device has multiple functions;
	// otherwise, it is a single function device.
	Tp uint8

	Bist uint8
}

type HeaderType uint8

func (c ConfigHeader) Type() HeaderType {
	return HeaderType(c.Tp &^ (1 << 7))
}

const (
	Normal HeaderType = iota
	Bridge
	CardBus
)

type SoftwareInterface uint8

func (x SoftwareInterface) String() string {
	return fmt.Sprintf("0x%02x", uint8(x))
}

type Command uint16

const (
	IOEnable Command = 1 << iota
	MemoryEnable
	BusMasterEnable
	SpecialCycles
	WriteInvalidate
	VgaPaletteSnoop
	Parity
	AddressDataStepping
	SERR
	BackToBackWrite
	INTxEmulationDisable
)

type Status uint16

const (
	// Set when the device implements the capability chain rooted at
	// the capabilities pointer.
	CapabilityList Status = 1 << 4
)

// Device/vendor ID from PCI config space.
type VendorID uint16
type VendorDeviceID uint16

func (d VendorDeviceID) String() string {
	return fmt.Sprintf("0x%04x", uint16(d))
}

// Vendor/Device pair
type DeviceID struct {
	Vendor VendorID
	Device VendorDeviceID
}

// Base and sub class, base in the high byte.
type DeviceClass uint16

func (c DeviceClass) Base() uint8 { return uint8(c >> 8) }
func (c DeviceClass) Sub() uint8  { return uint8(c) }

func (c DeviceClass) String() string {
	return fmt.Sprintf("%d:%d", c.Base(), c.Sub())
}

const (
	classBaseBridge   = 0x06
	classSubPCIBridge = 0x04
)

// BaseAddress is the raw 32-bit word of one BAR slot, flag bits
// included. Decoded address and size live in Bar.
type BaseAddress uint32

func (b BaseAddress) IsMem() bool {
	return b&(1<<0) == 0
}

func (b BaseAddress) Addr() uint32 {
	return uint32(b &^ 0xf)
}

func (b BaseAddress) String() string {
	if b == 0 {
		return "{}"
	}
	x := uint32(b)
	tp := "mem"
	loc := ""
	if !b.IsMem() {
		tp = "i/o"
	} else {
		switch (x >> 1) & 3 {
		case 0:
			loc = "32-bit "
		case 1:
			loc = "< 1M "
		case 2:
			loc = "64-bit "
		case 3:
			loc = "unknown "
		}
		if x&(1<<3) != 0 {
			loc += "prefetchable "
		}
	}
	return fmt.Sprintf("{%s: %s0x%08x}", tp, loc, b.Addr())
}

/* Header type 0 (normal devices) */
type DeviceConfig struct {
	Hdr ConfigHeader

	// Base addresses specify locations in memory or I/O space.
	// Decoded size can be determined by writing a value of all 1s to
	// the register, and reading it back. Only 1 bits are decoded.
	BaseAddress [6]BaseAddress

	CardBusCIS uint32

	SubID DeviceID

	RomAddress uint32

	// Config space offset of start of capability list.
	CapabilityOffset uint8
	_                [7]byte

	InterruptLine uint8
	InterruptPin  uint8
	MinGrant      uint8
	MaxLatency    uint8
}

type Capability uint8

const (
	PowerManagement Capability = iota + 1
	AGP
	VitalProductData
	SlotIdentification
	MSI
	CompactPCIHotSwap
	PCIX
	HyperTransport
	VendorSpecific
	DebugPort
	CompactPciCentralControl
	PCIHotPlugController
	SSVID
	AGP3
	SecureDevice
	PCIE
	MSIX
	SATA
	AdvancedFeatures
)

type BusAddress struct {
	Domain        uint16
	Bus, Slot, Fn uint8
}

func (a BusAddress) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%01x", a.Domain, a.Bus, a.Slot, a.Fn)
}

//go:generate stringer -type=Capability,HeaderType
