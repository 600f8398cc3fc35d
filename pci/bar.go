package pci

import "fmt"

// Bar is one decoded Base Address Register slot. The next slot after a
// 64-bit BAR is consumed by it and stays invalid.
type Bar struct {
	Valid        bool
	IO           bool
	Size64       bool
	Prefetchable bool
	Addr         uint64
	Size         uint64
}

func (b Bar) String() string {
	if !b.Valid {
		return "{}"
	}
	tp := "mem"
	loc := ""
	if b.IO {
		tp = "i/o"
	} else {
		loc = "32-bit "
		if b.Size64 {
			loc = "64-bit "
		}
		if b.Prefetchable {
			loc += "prefetchable "
		}
	}
	return fmt.Sprintf("{%s: %s0x%x size 0x%x}", tp, loc, b.Addr, b.Size)
}

// ReadBars returns a copy of the decoded BAR array.
func (d *Device) ReadBars() [6]Bar { return d.bars }

// loadBars decodes and sizes every BAR slot from the current config
// snapshot. Size probing writes all 1s into each slot and reads back
// what the device decodes; bits the device does not implement read
// back as zero, so inverting and adding one recovers the span.
func (d *Device) loadBars() error {
	var nBars int
	switch d.Config.Hdr.Type() {
	case Normal:
		nBars = 6
	case Bridge:
		// type 1 only has 2 bars, in the same location as type 0
		nBars = 2
	default:
		return ErrNotSupported
	}

	cs := d.bus.Config

	// Decode must be off while the probe scribbles on the BAR
	// registers. Restore whatever was enabled once done, on every
	// exit path.
	cmd, err := cs.ReadHalf(d.Addr, cfgCommand)
	if err != nil {
		return err
	}
	if err = cs.WriteHalf(d.Addr, cfgCommand, cmd&^uint16(IOEnable|MemoryEnable)); err != nil {
		return err
	}

	probeErr := d.probeBarSlots(nBars)
	restoreErr := cs.WriteHalf(d.Addr, cfgCommand, cmd)
	if probeErr != nil {
		return probeErr
	}
	return restoreErr
}

func (d *Device) probeBarSlots(nBars int) error {
	cs := d.bus.Config
	for i := 0; i < nBars; i++ {
		d.bars[i] = Bar{}
		raw := uint32(d.Config.BaseAddress[i])
		off := uint16(cfgBaseAddresses + i*4)

		switch {
		case raw&1 != 0:
			// i/o space
			b := Bar{IO: true, Addr: uint64(raw &^ 0x3)}
			if err := cs.WriteWord(d.Addr, off, 0xffff); err != nil {
				return err
			}
			rb, err := cs.ReadWord(d.Addr, off)
			if err != nil {
				return err
			}
			// restore the raw word: the i/o flag bit is
			// hardwired and must survive verbatim
			if err = cs.WriteWord(d.Addr, off, raw); err != nil {
				return err
			}
			b.Size = uint64(((rb &^ 0b11) ^ 0xffff) + 1)
			b.Valid = b.Size != 0
			d.bars[i] = b

		case raw&0b110 == 0b000:
			// 32-bit memory
			b := Bar{
				Prefetchable: raw&(1<<3) != 0,
				Addr:         uint64(raw &^ 0xf),
			}
			if err := cs.WriteWord(d.Addr, off, 0xffffffff); err != nil {
				return err
			}
			rb, err := cs.ReadWord(d.Addr, off)
			if err != nil {
				return err
			}
			if err = cs.WriteWord(d.Addr, off, raw); err != nil {
				return err
			}
			b.Size = uint64(^(rb &^ 0b1111) + 1)
			b.Valid = b.Size != 0
			d.bars[i] = b

		case raw&0b110 == 0b100:
			// 64-bit memory, spans this slot and the next
			if i == nBars-1 {
				// a pair cannot start on the last slot
				continue
			}
			rawHi := uint32(d.Config.BaseAddress[i+1])
			b := Bar{
				Size64:       true,
				Prefetchable: raw&(1<<3) != 0,
				Addr:         uint64(raw&^0xf) | uint64(rawHi)<<32,
			}
			if err := cs.WriteWord(d.Addr, off, 0xffffffff); err != nil {
				return err
			}
			lo, err := cs.ReadWord(d.Addr, off)
			if err != nil {
				return err
			}
			if err = cs.WriteWord(d.Addr, off+4, 0xffffffff); err != nil {
				return err
			}
			hi, err := cs.ReadWord(d.Addr, off+4)
			if err != nil {
				return err
			}
			if err = cs.WriteWord(d.Addr, off, raw); err != nil {
				return err
			}
			if err = cs.WriteWord(d.Addr, off+4, rawHi); err != nil {
				return err
			}
			composite := uint64(lo) | uint64(hi)<<32
			b.Size = ^(composite &^ 0xf) + 1
			b.Valid = b.Size != 0
			d.bars[i] = b

			// the next slot is consumed by the pair
			i++
			d.bars[i] = Bar{}

		default:
			// reserved memory types stay invalid
		}
	}
	return nil
}
