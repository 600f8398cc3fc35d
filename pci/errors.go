package pci

import "errors"

// Probe and enumeration errors.
var (
	// Nothing functional at the location, or a header layout this
	// core does not understand. Expected during enumeration.
	ErrNotFound = errors.New("pci: device not found")
	// The function exists but must not be owned here (a bridge, a
	// CardBus header), or lacks the requested capability.
	ErrNotSupported = errors.New("pci: not supported")
)

// Interrupt and window allocation errors.
var (
	ErrNoResources = errors.New("pci: no resources")
	ErrInvalidArgs = errors.New("pci: invalid arguments")
	ErrNoMemory    = errors.New("pci: out of address space")
)
