package pci

import (
	"github.com/go-logr/logr"

	"github.com/mpleso/pcibus/hw"
)

// Bus is a device's view of the bus it lives on: the config space
// transport plus the platform services shared by every function.
// Enumeration of the bus itself happens elsewhere; this package only
// materializes single functions on demand.
type Bus struct {
	Config   ConfigAccess
	Platform Platform
	// Mapper translates physical BAR windows. When nil, physical
	// addresses are used directly (memory-unmanaged targets).
	Mapper hw.Mapper
	Log    logr.Logger
}

// Device is one probed PCI function.
type Device struct {
	Addr   BusAddress
	Config DeviceConfig

	bus *Bus
	log logr.Logger

	bars [6]Bar

	// Capability chain in traversal order. The MSI/MSI-X references
	// are indices into it; the slice is append-only after probing.
	caps    []Cap
	msiCap  int
	msixCap int

	// Valid only after a successful MSI-X allocation.
	msixTable *hw.Window
	msixPBA   *hw.Window
}

func (d *Device) String() string { return d.Addr.String() }

func (d *Device) VendorID() VendorID       { return d.Config.Hdr.Vendor }
func (d *Device) DeviceID() VendorDeviceID { return d.Config.Hdr.Device }

// Probe decides whether a functioning PCI function exists at addr and
// builds a Device for it: config snapshot, decoded and sized BARs,
// capability chain. ErrNotFound means nothing usable is there, which
// is the common case while enumerating. A PCI-PCI bridge answers
// ErrNotSupported; bridges are probed and owned by a bridge-aware
// caller, never materialized here. No partially built Device is ever
// returned.
func (b *Bus) Probe(addr BusAddress) (*Device, error) {
	log := b.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	vendor, err := b.Config.ReadHalf(addr, cfgVendorID)
	if err != nil || vendor == 0xffff {
		return nil, ErrNotFound
	}

	baseClass, err := b.Config.ReadByte(addr, cfgClassBase)
	if err != nil {
		return nil, ErrNotFound
	}
	subClass, err := b.Config.ReadByte(addr, cfgClassSub)
	if err != nil {
		return nil, ErrNotFound
	}

	tp, err := b.Config.ReadByte(addr, cfgHeaderType)
	if err != nil {
		return nil, ErrNotFound
	}
	if HeaderType(tp&^(1<<7)) != Normal {
		log.V(2).Info("skipping unrecognized header type",
			"addr", addr.String(), "type", tp&^(1<<7))
		return nil, ErrNotFound
	}

	if baseClass == classBaseBridge && subClass == classSubPCIBridge {
		return nil, ErrNotSupported
	}

	d := &Device{Addr: addr, bus: b, log: log, msiCap: -1, msixCap: -1}

	if err = d.loadConfig(); err != nil {
		return nil, err
	}
	if err = d.loadBars(); err != nil {
		return nil, err
	}
	if err = d.probeCapabilities(); err != nil {
		return nil, err
	}

	log.V(1).Info("probed device",
		"addr", addr.String(),
		"vendor", uint16(d.Config.Hdr.Vendor),
		"device", uint16(d.Config.Hdr.Device),
		"class", d.Config.Hdr.DeviceClass.String(),
		"caps", len(d.caps))

	return d, nil
}

// Enable turns on I/O decode, memory decode and bus mastering.
// Read-modify-write; unrelated command bits are left alone.
func (d *Device) Enable() error {
	cmd, err := d.bus.Config.ReadHalf(d.Addr, cfgCommand)
	if err != nil {
		return err
	}
	cmd |= uint16(IOEnable | MemoryEnable | BusMasterEnable)
	return d.bus.Config.WriteHalf(d.Addr, cfgCommand, cmd)
}

// loadConfig replaces the snapshot wholesale; it is never partially
// merged.
func (d *Device) loadConfig() error {
	c, err := readConfig(d.bus.Config, d.Addr)
	if err != nil {
		return err
	}
	d.Config = c
	return nil
}
