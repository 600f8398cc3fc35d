package pcisim

import (
	"errors"
	"sort"
	"sync"

	"github.com/mpleso/pcibus/hw"
	"github.com/mpleso/pcibus/pci"
)

var ErrSimulatedFault = errors.New("pcisim: simulated config access failure")

// Access is one recorded config space write.
type Access struct {
	Addr pci.BusAddress
	Off  uint16
	Bits uint8
	Val  uint32
}

// Bus holds the emulated functions and their device memory. It
// implements pci.ConfigAccess and hw.Mapper. Every config write is
// recorded in Trace, in order, so tests can check ordering-sensitive
// programming sequences.
type Bus struct {
	fns   map[pci.BusAddress]*Function
	mem   []*segment
	Trace []Access
}

func New() *Bus {
	return &Bus{fns: make(map[pci.BusAddress]*Function)}
}

func (b *Bus) Add(f *Function)                     { b.fns[f.Addr] = f }
func (b *Bus) Function(a pci.BusAddress) *Function { return b.fns[a] }
func (b *Bus) ClearTrace()                         { b.Trace = nil }

// Functions returns every emulated function, ordered by address.
func (b *Bus) Functions() []*Function {
	fns := make([]*Function, 0, len(b.fns))
	for _, f := range b.fns {
		fns = append(fns, f)
	}
	sort.Slice(fns, func(i, j int) bool {
		a, b := fns[i].Addr, fns[j].Addr
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		if a.Bus != b.Bus {
			return a.Bus < b.Bus
		}
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		return a.Fn < b.Fn
	})
	return fns
}

type segment struct {
	base uint64
	data []byte
}

// Memory returns backing bytes for a physical range, creating the
// segment on first use. Overlapping ranges must be contained in one
// segment; pre-create the larger range first.
func (b *Bus) Memory(base uint64, size int) []byte {
	for _, s := range b.mem {
		if base >= s.base && base+uint64(size) <= s.base+uint64(len(s.data)) {
			o := base - s.base
			return s.data[o : o+uint64(size)]
		}
	}
	s := &segment{base: base, data: make([]byte, size)}
	b.mem = append(b.mem, s)
	return s.data
}

func (b *Bus) MapPhysical(name string, phys uint64, size uintptr, flags hw.MapFlags) (*hw.Window, error) {
	return hw.WindowForSlice(b.Memory(phys, int(size))), nil
}

// Absent functions read as all ones, like empty slots on a real bus.

func (b *Bus) ReadWord(a pci.BusAddress, off uint16) (uint32, error) {
	f := b.fns[a]
	if f == nil {
		return 0xffffffff, nil
	}
	if f.Broken {
		return 0, ErrSimulatedFault
	}
	return f.read32(off &^ 3), nil
}

func (b *Bus) ReadHalf(a pci.BusAddress, off uint16) (uint16, error) {
	w, err := b.ReadWord(a, off&^3)
	return uint16(w >> (8 * (off & 2))), err
}

func (b *Bus) ReadByte(a pci.BusAddress, off uint16) (uint8, error) {
	w, err := b.ReadWord(a, off&^3)
	return uint8(w >> (8 * (off & 3))), err
}

func (b *Bus) WriteWord(a pci.BusAddress, off uint16, v uint32) error {
	f := b.fns[a]
	if f == nil {
		return nil
	}
	if f.Broken {
		return ErrSimulatedFault
	}
	b.Trace = append(b.Trace, Access{Addr: a, Off: off, Bits: 32, Val: v})
	f.write32(off&^3, v)
	return nil
}

func (b *Bus) WriteHalf(a pci.BusAddress, off uint16, v uint16) error {
	f := b.fns[a]
	if f == nil {
		return nil
	}
	if f.Broken {
		return ErrSimulatedFault
	}
	b.Trace = append(b.Trace, Access{Addr: a, Off: off, Bits: 16, Val: uint32(v)})
	shift := 8 * (off & 2)
	w := f.read32(off &^ 3)
	w = w&^(0xffff<<shift) | uint32(v)<<shift
	f.write32(off&^3, w)
	return nil
}

func (b *Bus) WriteByte(a pci.BusAddress, off uint16, v uint8) error {
	f := b.fns[a]
	if f == nil {
		return nil
	}
	if f.Broken {
		return ErrSimulatedFault
	}
	b.Trace = append(b.Trace, Access{Addr: a, Off: off, Bits: 8, Val: uint32(v)})
	shift := 8 * (off & 3)
	w := f.read32(off &^ 3)
	w = w&^(0xff<<shift) | uint32(v)<<shift
	f.write32(off&^3, w)
	return nil
}

// Platform hands out interrupt vectors the way a small kernel's
// allocator would: a fixed pin routing and a bump allocator over a
// bounded vector pool.
type Platform struct {
	mu   sync.Mutex
	next uint
	left int
}

func NewPlatform(base uint, count int) *Platform {
	return &Platform{next: base, left: count}
}

func (p *Platform) PinToVector(pin uint8) (uint, error) {
	if pin == 0 || pin > 4 {
		return 0, pci.ErrInvalidArgs
	}
	return uint(32 + pin - 1), nil
}

func (p *Platform) AllocateVectors(count int) (uint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if count > p.left {
		return 0, pci.ErrNoResources
	}
	base := p.next
	p.next += uint(count)
	p.left -= count
	return base, nil
}

func (p *Platform) MSIValues(vector uint) (uint64, uint16, error) {
	// fixed doorbell address, vector number in the data
	return 0xfee00000, uint16(vector), nil
}
