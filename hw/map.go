package hw

import (
	"errors"
	"math"
	"unsafe"
)

type MapFlags uint32

const (
	MapUncachedDevice MapFlags = 1 << iota
	MapReadOnly
)

// Mapper makes a physical window of device memory addressable. Kernels
// with virtual memory map it through their address space; targets
// without use PhysMapper and touch the physical address directly.
type Mapper interface {
	MapPhysical(name string, phys uint64, size uintptr, flags MapFlags) (*Window, error)
}

var ErrAddressWidth = errors.New("hw: physical address exceeds pointer width")

// PhysMapper addresses device memory at its physical address, for
// memory-unmanaged targets where no translation is in effect.
type PhysMapper struct{}

func (PhysMapper) MapPhysical(name string, phys uint64, size uintptr, flags MapFlags) (*Window, error) {
	if unsafe.Sizeof(uintptr(0)) < 8 && phys+uint64(size) > math.MaxUint32 {
		return nil, ErrAddressWidth
	}
	return &Window{p: unsafe.Pointer(uintptr(phys)), size: size}, nil
}
