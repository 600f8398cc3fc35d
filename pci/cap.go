package pci

// Cap is one node of the capability chain: the id and the config space
// offset it was found at. Capability payloads are not cached; they are
// re-read from config space when needed.
type Cap struct {
	Capability
	Offset uint16
}

// Capabilities returns a copy of the chain in traversal order.
func (d *Device) Capabilities() []Cap {
	return append([]Cap(nil), d.caps...)
}

func (d *Device) HasMSI() bool  { return d.msiCap >= 0 }
func (d *Device) HasMSIX() bool { return d.msixCap >= 0 }

// probeCapabilities walks the chain rooted at the capabilities
// pointer, recording every node and recognizing MSI and MSI-X. The
// visited set stops a corrupt chain whose next pointers form a loop.
func (d *Device) probeCapabilities() error {
	if d.Config.Hdr.Status&CapabilityList == 0 {
		// no capabilities, just move on
		return nil
	}

	cs := d.bus.Config
	seen := make(map[uint16]bool)
	ptr := uint16(d.Config.CapabilityOffset)
	for ptr != 0 {
		if seen[ptr] {
			d.log.V(1).Info("capability chain loops, stopping",
				"addr", d.Addr.String(), "offset", ptr)
			break
		}
		seen[ptr] = true

		id, err := cs.ReadByte(d.Addr, ptr)
		if err != nil {
			return err
		}
		d.caps = append(d.caps, Cap{Capability: Capability(id), Offset: ptr})

		switch Capability(id) {
		case MSI:
			if d.initMSICap(ptr) == nil {
				d.msiCap = len(d.caps) - 1
			}
		case MSIX:
			if d.initMSIXCap(ptr) == nil {
				d.msixCap = len(d.caps) - 1
			}
		}

		next, err := cs.ReadByte(d.Addr, ptr+1)
		if err != nil {
			return err
		}
		ptr = uint16(next)
	}
	return nil
}

// The recognizers only check that the capability's words are readable.
// Programming is deferred to allocation time, when the platform vector
// is known.

func (d *Device) initMSICap(off uint16) error {
	for i := uint16(0); i < 6; i++ {
		if _, err := d.bus.Config.ReadWord(d.Addr, off+i*4); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) initMSIXCap(off uint16) error {
	for i := uint16(0); i < 3; i++ {
		if _, err := d.bus.Config.ReadWord(d.Addr, off+i*4); err != nil {
			return err
		}
	}
	return nil
}

// ReadVendorCapability copies the index-th vendor-specific capability
// into buf, header included, and returns its declared length. The
// declared length may exceed len(buf); callers compare the two to
// detect truncation.
func (d *Device) ReadVendorCapability(index int, buf []byte) (int, error) {
	for _, c := range d.caps {
		if c.Capability != VendorSpecific {
			continue
		}
		if index > 0 {
			index--
			continue
		}

		length, err := d.bus.Config.ReadByte(d.Addr, c.Offset+2)
		if err != nil {
			return 0, err
		}
		n := int(length)
		if n > len(buf) {
			n = len(buf)
		}
		for i := 0; i < n; i++ {
			b, err := d.bus.Config.ReadByte(d.Addr, c.Offset+uint16(i))
			if err != nil {
				return 0, err
			}
			buf[i] = b
		}
		return int(length), nil
	}
	return 0, ErrNotFound
}
