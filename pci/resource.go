package pci

import (
	"fmt"
	"math/bits"
)

// ResourceKind classifies a BAR for the bus-wide allocator.
type ResourceKind uint8

const (
	ResourceIO ResourceKind = iota
	ResourceMMIO
	ResourceMMIO64
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceIO:
		return "io"
	case ResourceMMIO:
		return "mmio"
	case ResourceMMIO64:
		return "mmio64"
	}
	return fmt.Sprintf("ResourceKind(%d)", uint8(k))
}

const (
	log2PageBytes = 12
	pageBytes     = 1 << log2PageBytes

	// Minimum granularity and alignment for i/o windows.
	ioUnitBytes = 16
	log2IOUnit  = 4
)

func roundUp(x, unit uint64) uint64 { return (x + unit - 1) &^ (unit - 1) }

// log2 of a power-of-two size; sizes here are always rounded first.
func log2(x uint64) uint { return uint(bits.TrailingZeros64(x)) }

// BarSizes accumulates the size and maximum alignment of every
// resource class across one or more devices, for callers that carve
// one contiguous window per class out of the bus.
type BarSizes struct {
	IOSize             uint64
	MMIOSize           uint64
	MMIO64Size         uint64
	PrefetchableSize   uint64
	Prefetchable64Size uint64

	// log2 of the largest alignment any member BAR needs.
	IOAlign             uint
	MMIOAlign           uint
	MMIO64Align         uint
	PrefetchableAlign   uint
	Prefetchable64Align uint
}

// ComputeBarSizes folds this device's valid BARs into sizes. I/O BARs
// round to 16 bytes, memory BARs to a page; memory alignment is the
// log2 of the rounded size.
func (d *Device) ComputeBarSizes(sizes *BarSizes) {
	for _, bar := range d.bars {
		if !bar.Valid {
			continue
		}
		switch {
		case bar.IO:
			sizes.IOSize += roundUp(bar.Size, ioUnitBytes)
			if sizes.IOAlign < log2IOUnit {
				sizes.IOAlign = log2IOUnit
			}
		case bar.Size64 && bar.Prefetchable:
			size := roundUp(bar.Size, pageBytes)
			sizes.Prefetchable64Size += size
			if a := log2(size); sizes.Prefetchable64Align < a {
				sizes.Prefetchable64Align = a
			}
		case bar.Size64:
			size := roundUp(bar.Size, pageBytes)
			sizes.MMIO64Size += size
			if a := log2(size); sizes.MMIO64Align < a {
				sizes.MMIO64Align = a
			}
		case bar.Prefetchable:
			size := roundUp(bar.Size, pageBytes)
			sizes.PrefetchableSize += size
			if a := log2(size); sizes.PrefetchableAlign < a {
				sizes.PrefetchableAlign = a
			}
		default:
			size := roundUp(bar.Size, pageBytes)
			sizes.MMIOSize += size
			if a := log2(size); sizes.MMIOAlign < a {
				sizes.MMIOAlign = a
			}
		}
	}
}

// BarAllocRequest asks the bus-wide allocator for one BAR's address.
// The caller owns the request list; requests only live between
// BarAllocRequests and AssignResource.
type BarAllocRequest struct {
	Device       *Device
	Bar          int
	Kind         ResourceKind
	Size         uint64
	Align        uint // log2 of the required alignment
	Prefetchable bool
}

func (r *BarAllocRequest) String() string {
	return fmt.Sprintf("{%s bar %d %s pref %v size %#x align %d}",
		r.Device.Addr, r.Bar, r.Kind, r.Prefetchable, r.Size, r.Align)
}

// BarAllocRequests appends one request per valid BAR to reqs and
// returns the extended list. Requests are not pre-merged; the
// allocator sees every BAR individually.
func (d *Device) BarAllocRequests(reqs []*BarAllocRequest) []*BarAllocRequest {
	for i, bar := range d.bars {
		if !bar.Valid {
			continue
		}
		r := &BarAllocRequest{Device: d, Bar: i}
		switch {
		case bar.IO:
			r.Kind = ResourceIO
			r.Size = roundUp(bar.Size, ioUnitBytes)
			r.Align = log2IOUnit
		case bar.Size64:
			r.Kind = ResourceMMIO64
			r.Size = roundUp(bar.Size, pageBytes)
			r.Align = log2(r.Size)
			r.Prefetchable = bar.Prefetchable
		default:
			r.Kind = ResourceMMIO
			r.Size = roundUp(bar.Size, pageBytes)
			r.Align = log2(r.Size)
			r.Prefetchable = bar.Prefetchable
		}
		reqs = append(reqs, r)
	}
	return reqs
}

// AssignResource writes the allocator's final address into the BAR
// named by req, then reloads the config snapshot and re-probes every
// BAR so Addr and Size reflect the new location. The address must be
// aligned to 1<<req.Align; a misaligned address is a programming
// error, never silently truncated. The low flag bits of the slot are
// hardwired per the BAR's kind and are not set here.
func (d *Device) AssignResource(req *BarAllocRequest, address uint64) error {
	if address&(1<<req.Align-1) != 0 {
		panic(fmt.Sprintf("pci: address %#x not aligned to 1<<%d", address, req.Align))
	}

	cs := d.bus.Config
	off := uint16(cfgBaseAddresses + req.Bar*4)

	var err error
	switch req.Kind {
	case ResourceIO:
		err = cs.WriteWord(d.Addr, off, uint32(address&0xfffc))
	case ResourceMMIO:
		err = cs.WriteWord(d.Addr, off, uint32(address&0xfffffff0))
	case ResourceMMIO64:
		if err = cs.WriteWord(d.Addr, off, uint32(address&0xfffffff0)); err == nil {
			err = cs.WriteWord(d.Addr, off+4, uint32(address>>32))
		}
	default:
		panic(fmt.Sprintf("pci: invalid resource kind %d", req.Kind))
	}
	if err != nil {
		return err
	}

	d.log.V(1).Info("assigned resource",
		"addr", d.Addr.String(), "bar", req.Bar, "address", address)

	if err = d.loadConfig(); err != nil {
		return err
	}
	return d.loadBars()
}
