// Command pcibus probes a simulated PCI bus described by a YAML
// topology file, negotiates BAR addresses and dumps the result.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/siderolabs/go-pcidb/pkg/pcidb"
	"github.com/spf13/cobra"

	"github.com/mpleso/pcibus/pci"
	"github.com/mpleso/pcibus/pci/pcisim"
)

func main() {
	var verbosity int

	rootCmd := &cobra.Command{
		Use:          "pcibus",
		Short:        "Probe and inspect PCI functions on a simulated bus",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbose", "v", 0, "probe trace verbosity")

	simCmd := &cobra.Command{
		Use:   "sim <topology.yaml>",
		Short: "Load a YAML topology, probe every function and dump the bus",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSim(args[0], verbosity)
		},
	}
	rootCmd.AddCommand(simCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func probeLogger(verbosity int) logr.Logger {
	dim := color.New(color.Faint)
	return funcr.New(func(prefix, args string) {
		dim.Fprintln(os.Stderr, prefix, args)
	}, funcr.Options{Verbosity: verbosity})
}

func runSim(path string, verbosity int) error {
	sim, err := pcisim.LoadTopologyFile(path)
	if err != nil {
		return err
	}

	bus := &pci.Bus{
		Config:   sim,
		Platform: pcisim.NewPlatform(48, 64),
		Mapper:   sim,
		Log:      probeLogger(verbosity),
	}

	var devices []*pci.Device
	for _, f := range sim.Functions() {
		d, err := bus.Probe(f.Addr)
		switch {
		case errors.Is(err, pci.ErrNotFound):
			continue
		case errors.Is(err, pci.ErrNotSupported):
			fmt.Printf("%s: bridge or unsupported function, skipping\n", f.Addr)
			continue
		case err != nil:
			return fmt.Errorf("probing %s: %w", f.Addr, err)
		}
		devices = append(devices, d)
	}

	if err := negotiate(devices); err != nil {
		return err
	}

	heading := color.New(color.FgCyan, color.Bold)
	for _, d := range devices {
		if err := d.Enable(); err != nil {
			return fmt.Errorf("enabling %s: %w", d.Addr, err)
		}
		vendor, _ := pcidb.LookupVendor(uint16(d.VendorID()))
		product, _ := pcidb.LookupProduct(uint16(d.VendorID()), uint16(d.DeviceID()))
		heading.Printf("%s %s %s\n", d.Addr, vendor, product)
		d.Dump(os.Stdout, 2)
	}
	return nil
}

// negotiate plays the bus-wide allocator: gather every device's
// requests, then hand out addresses from one bump allocator per
// resource class.
func negotiate(devices []*pci.Device) error {
	var reqs []*pci.BarAllocRequest
	for _, d := range devices {
		reqs = d.BarAllocRequests(reqs)
	}

	base := map[pci.ResourceKind]uint64{
		pci.ResourceIO:     0x1000,
		pci.ResourceMMIO:   0xc000_0000,
		pci.ResourceMMIO64: 8 << 32,
	}
	for _, r := range reqs {
		align := uint64(1) << r.Align
		addr := (base[r.Kind] + align - 1) &^ (align - 1)
		base[r.Kind] = addr + r.Size
		if err := r.Device.AssignResource(r, addr); err != nil {
			return fmt.Errorf("assigning %v: %w", r, err)
		}
	}
	return nil
}
