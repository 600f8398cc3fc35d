package pcisim

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mpleso/pcibus/pci"
)

// Topology is the YAML description of a synthetic bus.
type Topology struct {
	Functions []FunctionSpec `yaml:"functions"`
}

type FunctionSpec struct {
	Addr       string          `yaml:"addr"` // dddd:bb:ss.f
	Vendor     uint16          `yaml:"vendor"`
	Device     uint16          `yaml:"device"`
	BaseClass  uint8           `yaml:"base-class"`
	SubClass   uint8           `yaml:"sub-class"`
	ProgIF     uint8           `yaml:"prog-if"`
	Revision   uint8           `yaml:"revision"`
	HeaderType uint8           `yaml:"header-type"`
	IntPin     uint8           `yaml:"interrupt-pin"`
	Bars       []BarSpec       `yaml:"bars"`
	MSI        *MSISpec        `yaml:"msi"`
	MSIX       *MSIXSpec       `yaml:"msix"`
	VendorCaps []VendorCapSpec `yaml:"vendor-caps"`
}

type BarSpec struct {
	Index        int    `yaml:"index"`
	Kind         string `yaml:"kind"` // io, mem32, mem64
	Size         uint64 `yaml:"size"`
	Prefetchable bool   `yaml:"prefetchable"`
	Addr         uint64 `yaml:"addr"`
}

type MSISpec struct {
	Addr64 bool `yaml:"addr64"`
}

type MSIXSpec struct {
	Vectors     int    `yaml:"vectors"`
	TableBar    int    `yaml:"table-bar"`
	TableOffset uint32 `yaml:"table-offset"`
	PBABar      int    `yaml:"pba-bar"`
	PBAOffset   uint32 `yaml:"pba-offset"`
}

type VendorCapSpec struct {
	Data string `yaml:"data"` // hex bytes, spaces allowed
}

// ParseBusAddress parses the usual dddd:bb:ss.f notation.
func ParseBusAddress(s string) (a pci.BusAddress, err error) {
	var domain, bus, slot, fn uint
	if _, err = fmt.Sscanf(s, "%04x:%02x:%02x.%x", &domain, &bus, &slot, &fn); err != nil {
		return a, fmt.Errorf("pcisim: bad bus address %q: %w", s, err)
	}
	a = pci.BusAddress{Domain: uint16(domain), Bus: uint8(bus), Slot: uint8(slot), Fn: uint8(fn)}
	return a, nil
}

// LoadTopology reads a YAML topology and builds the simulated bus.
func LoadTopology(r io.Reader) (*Bus, error) {
	var t Topology
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("pcisim: decoding topology: %w", err)
	}

	b := New()
	for i := range t.Functions {
		f, err := buildFunction(&t.Functions[i])
		if err != nil {
			return nil, err
		}
		b.Add(f)
	}
	return b, nil
}

// LoadTopologyFile is LoadTopology on a file path.
func LoadTopologyFile(path string) (*Bus, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return LoadTopology(r)
}

func buildFunction(spec *FunctionSpec) (*Function, error) {
	addr, err := ParseBusAddress(spec.Addr)
	if err != nil {
		return nil, err
	}

	f := NewFunction(addr, spec.Vendor, spec.Device)
	f.SetClass(spec.BaseClass, spec.SubClass, spec.ProgIF, spec.Revision)
	f.SetHeaderType(spec.HeaderType, false)
	if spec.IntPin != 0 {
		f.SetInterruptPin(spec.IntPin)
	}

	for _, bar := range spec.Bars {
		var kind BarKind
		switch bar.Kind {
		case "io":
			kind = BarIO
		case "mem32":
			kind = BarMem32
		case "mem64":
			kind = BarMem64
		default:
			return nil, fmt.Errorf("pcisim: %s: bad BAR kind %q", spec.Addr, bar.Kind)
		}
		if bar.Size == 0 || bar.Size&(bar.Size-1) != 0 {
			return nil, fmt.Errorf("pcisim: %s: BAR %d size %#x is not a power of two",
				spec.Addr, bar.Index, bar.Size)
		}
		f.AddBar(bar.Index, kind, bar.Size, bar.Prefetchable, bar.Addr)
	}

	if spec.MSI != nil {
		f.AddMSI(spec.MSI.Addr64)
	}
	if spec.MSIX != nil {
		f.AddMSIX(spec.MSIX.Vectors, spec.MSIX.TableBar, spec.MSIX.TableOffset,
			spec.MSIX.PBABar, spec.MSIX.PBAOffset)
	}
	for _, vc := range spec.VendorCaps {
		data, err := hex.DecodeString(strings.ReplaceAll(vc.Data, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("pcisim: %s: bad vendor capability data: %w", spec.Addr, err)
		}
		f.AddVendorCap(data)
	}

	return f, nil
}
