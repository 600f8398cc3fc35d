package pcisim

import (
	"strings"
	"testing"

	"github.com/mpleso/pcibus/pci"
)

var addr = pci.BusAddress{Bus: 1, Slot: 2, Fn: 0}

func TestBarSizeMask(t *testing.T) {
	f := NewFunction(addr, 0x1234, 0x5678)
	f.AddBar(0, BarMem32, 0x1000, false, 0xfeb00000)

	b := New()
	b.Add(f)

	// the all-ones size probe reads back with unimplemented bits clear
	if err := b.WriteWord(addr, 0x10, 0xffffffff); err != nil {
		t.Fatal(err)
	}
	w, _ := b.ReadWord(addr, 0x10)
	if w != 0xfffff000 {
		t.Errorf("size probe read back %#x, want 0xfffff000", w)
	}

	// restoring the address brings the decoded value back
	if err := b.WriteWord(addr, 0x10, 0xfeb00000); err != nil {
		t.Fatal(err)
	}
	w, _ = b.ReadWord(addr, 0x10)
	if w != 0xfeb00000 {
		t.Errorf("restored read back %#x, want 0xfeb00000", w)
	}
}

func TestAbsentFunctionReadsAllOnes(t *testing.T) {
	b := New()
	w, err := b.ReadWord(addr, 0x00)
	if err != nil || w != 0xffffffff {
		t.Errorf("empty slot read = %#x, %v; want all ones, nil", w, err)
	}
}

func TestSubWordAccess(t *testing.T) {
	f := NewFunction(addr, 0xabcd, 0x1234)
	b := New()
	b.Add(f)

	half, _ := b.ReadHalf(addr, 0x02)
	if half != 0x1234 {
		t.Errorf("device id half %#x, want 0x1234", half)
	}
	if err := b.WriteByte(addr, 0x3c, 0x2a); err != nil {
		t.Fatal(err)
	}
	by, _ := b.ReadByte(addr, 0x3c)
	if by != 0x2a {
		t.Errorf("interrupt line byte %#x, want 0x2a", by)
	}
}

func TestMemorySegments(t *testing.T) {
	b := New()
	outer := b.Memory(0x1000, 0x2000)
	inner := b.Memory(0x1800, 0x10)

	outer[0x800] = 0x5a
	if inner[0] != 0x5a {
		t.Errorf("inner range not aliased onto the containing segment")
	}
}

const topology = `
functions:
  - addr: 0000:00:03.0
    vendor: 0x8086
    device: 0x100e
    base-class: 0x02
    interrupt-pin: 1
    bars:
      - {index: 0, kind: mem32, size: 0x20000, addr: 0xfeb80000}
      - {index: 1, kind: io, size: 0x40, addr: 0xd000}
    msi: {addr64: true}
    vendor-caps:
      - {data: "aa bb cc"}
`

func TestLoadTopology(t *testing.T) {
	b, err := LoadTopology(strings.NewReader(topology))
	if err != nil {
		t.Fatalf("load topology: %v", err)
	}

	want := pci.BusAddress{Domain: 0, Bus: 0, Slot: 3, Fn: 0}
	f := b.Function(want)
	if f == nil {
		t.Fatalf("function %v missing after load", want)
	}
	v, _ := b.ReadHalf(want, 0x00)
	if v != 0x8086 {
		t.Errorf("vendor id %#x, want 0x8086", v)
	}
	if f.Peek(0x3d) != 1 {
		t.Errorf("interrupt pin %d, want 1", f.Peek(0x3d))
	}
	w, _ := b.ReadWord(want, 0x10)
	if w != 0xfeb80000 {
		t.Errorf("BAR 0 %#x, want 0xfeb80000", w)
	}
}

func TestLoadTopologyBadBarSize(t *testing.T) {
	bad := `
functions:
  - addr: 0000:00:03.0
    vendor: 0x8086
    device: 0x100e
    bars:
      - {index: 0, kind: mem32, size: 0x1001}
`
	if _, err := LoadTopology(strings.NewReader(bad)); err == nil {
		t.Errorf("non power-of-two BAR size accepted")
	}
}

func TestParseBusAddress(t *testing.T) {
	a, err := ParseBusAddress("0001:02:1f.7")
	if err != nil {
		t.Fatal(err)
	}
	want := pci.BusAddress{Domain: 1, Bus: 2, Slot: 0x1f, Fn: 7}
	if a != want {
		t.Errorf("parsed %v, want %v", a, want)
	}
	if _, err := ParseBusAddress("junk"); err == nil {
		t.Errorf("junk address accepted")
	}
}
