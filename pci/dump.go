package pci

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a human-readable description of the device, its decoded
// BARs and its capability chain. Diagnostic output only; the format is
// not stable.
func (d *Device) Dump(w io.Writer, indent int) {
	pad := strings.Repeat(" ", indent)
	h := d.Config.Hdr

	flags := ""
	if d.HasMSI() {
		flags += " msi"
	}
	if d.HasMSIX() {
		flags += " msix"
	}
	fmt.Fprintf(w, "%sdev %s vid:pid %04x:%04x base:sub:intr %d:%d:%d%s\n",
		pad, d.Addr, uint16(h.Vendor), uint16(h.Device),
		h.DeviceClass.Base(), h.DeviceClass.Sub(), uint8(h.SoftwareInterface), flags)

	for i, bar := range d.bars {
		if bar.Valid {
			fmt.Fprintf(w, "%s BAR %d: %s\n", pad, i, bar)
		}
	}
	for _, c := range d.caps {
		fmt.Fprintf(w, "%s  capability: offset %#x id %#x\n",
			pad, c.Offset, uint8(c.Capability))
	}
}
