package pci_test

import (
	"errors"
	"testing"

	"github.com/mpleso/pcibus/pci"
)

func TestCapabilityWalk(t *testing.T) {
	f := newTestFunction(t)
	msiOff := f.AddMSI(false)
	msixOff := f.AddMSIX(4, 0, 0x1000, 0, 0x2000)
	_, bus := newTestBus(t, f)

	d, err := bus.Probe(testAddr)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}

	caps := d.Capabilities()
	if len(caps) != 2 {
		t.Fatalf("walked %d capabilities, want 2", len(caps))
	}
	if caps[0].Capability != pci.MSI || caps[0].Offset != msiOff {
		t.Errorf("cap 0 = %v at %#x, want MSI at %#x", caps[0].Capability, caps[0].Offset, msiOff)
	}
	if caps[1].Capability != pci.MSIX || caps[1].Offset != msixOff {
		t.Errorf("cap 1 = %v at %#x, want MSI-X at %#x", caps[1].Capability, caps[1].Offset, msixOff)
	}
	if !d.HasMSI() || !d.HasMSIX() {
		t.Errorf("HasMSI=%v HasMSIX=%v, want both true", d.HasMSI(), d.HasMSIX())
	}
}

func TestCapabilityWalkNoChain(t *testing.T) {
	f := newTestFunction(t)
	_, bus := newTestBus(t, f)

	d, err := bus.Probe(testAddr)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if n := len(d.Capabilities()); n != 0 {
		t.Errorf("walked %d capabilities without a chain, want 0", n)
	}
}

func TestCapabilityWalkUnknownIDRecorded(t *testing.T) {
	f := newTestFunction(t)
	off := f.AddVendorCap([]byte{0xaa, 0xbb})
	_, bus := newTestBus(t, f)

	d, err := bus.Probe(testAddr)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	caps := d.Capabilities()
	if len(caps) != 1 || caps[0].Capability != pci.VendorSpecific || caps[0].Offset != off {
		t.Fatalf("caps = %v, want one vendor-specific entry at %#x", caps, off)
	}
	if d.HasMSI() || d.HasMSIX() {
		t.Errorf("vendor capability must not be recognized as MSI/MSI-X")
	}
}

func TestCapabilityWalkLoopTerminates(t *testing.T) {
	f := newTestFunction(t)
	off := f.AddMSI(false)
	f.Poke(off+1, uint8(off)) // next pointer loops back onto itself
	_, bus := newTestBus(t, f)

	d, err := bus.Probe(testAddr)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if n := len(d.Capabilities()); n != 1 {
		t.Errorf("looping chain walked %d entries, want 1", n)
	}
}

func TestReadVendorCapability(t *testing.T) {
	f := newTestFunction(t)
	f.AddVendorCap([]byte{0x11, 0x22})
	off := f.AddVendorCap([]byte{0x33, 0x44, 0x55})
	_, bus := newTestBus(t, f)

	d, err := bus.Probe(testAddr)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}

	var buf [16]byte
	n, err := d.ReadVendorCapability(1, buf[:])
	if err != nil {
		t.Fatalf("read vendor cap 1: %v", err)
	}
	if n != 6 { // header, length byte, 3 data bytes... declared length
		t.Errorf("declared length %d, want 6", n)
	}
	if buf[0] != uint8(pci.VendorSpecific) || buf[2] != 6 || buf[3] != 0x33 {
		t.Errorf("vendor cap bytes % x, want cap at %#x copied from its header", buf[:n], off)
	}
}

func TestReadVendorCapabilityTruncated(t *testing.T) {
	f := newTestFunction(t)
	f.AddVendorCap([]byte{0x11, 0x22, 0x33, 0x44})
	_, bus := newTestBus(t, f)

	d, err := bus.Probe(testAddr)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}

	var buf [3]byte
	n, err := d.ReadVendorCapability(0, buf[:])
	if err != nil {
		t.Fatalf("read vendor cap: %v", err)
	}
	if n != 7 {
		t.Errorf("declared length %d, want 7 (caller detects truncation)", n)
	}
	if buf[0] != uint8(pci.VendorSpecific) || buf[2] != 7 {
		t.Errorf("truncated copy % x", buf)
	}
}

func TestReadVendorCapabilityNotFound(t *testing.T) {
	f := newTestFunction(t)
	f.AddVendorCap([]byte{0x11})
	_, bus := newTestBus(t, f)

	d, err := bus.Probe(testAddr)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	var buf [4]byte
	if _, err := d.ReadVendorCapability(1, buf[:]); !errors.Is(err, pci.ErrNotFound) {
		t.Errorf("vendor cap index past the end: got %v, want ErrNotFound", err)
	}
}
