package pci_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mpleso/pcibus/pci"
	"github.com/mpleso/pcibus/pci/pcisim"
)

var _ = Describe("resource negotiation", func() {
	var (
		sim *pcisim.Bus
		d   *pci.Device
	)

	BeforeEach(func() {
		f := pcisim.NewFunction(testAddr, 0x1af4, 0x1000)
		f.SetClass(0x02, 0x00, 0x00, 0x01)
		f.SetHeaderType(0, false)
		f.AddBar(0, pcisim.BarIO, 32, false, 0)
		f.AddBar(1, pcisim.BarMem32, 0x1000, false, 0)
		f.AddBar(2, pcisim.BarMem64, 0x100000, true, 0)

		sim = pcisim.New()
		sim.Add(f)
		bus := &pci.Bus{
			Config:   sim,
			Platform: pcisim.NewPlatform(48, 16),
			Mapper:   sim,
		}

		var err error
		d, err = bus.Probe(testAddr)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("ComputeBarSizes", func() {
		It("accumulates per-class sizes and alignments", func() {
			var sizes pci.BarSizes
			d.ComputeBarSizes(&sizes)

			Expect(sizes.IOSize).To(Equal(uint64(32)))
			Expect(sizes.IOAlign).To(Equal(uint(4)))
			Expect(sizes.MMIOSize).To(Equal(uint64(0x1000)))
			Expect(sizes.MMIOAlign).To(Equal(uint(12)))
			Expect(sizes.Prefetchable64Size).To(Equal(uint64(0x100000)))
			Expect(sizes.Prefetchable64Align).To(Equal(uint(20)))
			Expect(sizes.MMIO64Size).To(BeZero())
			Expect(sizes.PrefetchableSize).To(BeZero())
		})
	})

	Describe("BarAllocRequests", func() {
		It("emits one request per valid BAR, not pre-merged", func() {
			reqs := d.BarAllocRequests(nil)
			Expect(reqs).To(HaveLen(3))

			Expect(reqs[0].Bar).To(Equal(0))
			Expect(reqs[0].Kind).To(Equal(pci.ResourceIO))
			Expect(reqs[0].Size).To(Equal(uint64(32)))

			Expect(reqs[1].Bar).To(Equal(1))
			Expect(reqs[1].Kind).To(Equal(pci.ResourceMMIO))
			Expect(reqs[1].Align).To(Equal(uint(12)))

			Expect(reqs[2].Bar).To(Equal(2))
			Expect(reqs[2].Kind).To(Equal(pci.ResourceMMIO64))
			Expect(reqs[2].Prefetchable).To(BeTrue())
		})

		It("appends to the caller's collection", func() {
			reqs := make([]*pci.BarAllocRequest, 0, 8)
			reqs = append(reqs, nil) // caller already holds an entry
			reqs = d.BarAllocRequests(reqs)
			Expect(reqs).To(HaveLen(4))
		})
	})

	Describe("AssignResource", func() {
		It("writes back an i/o address and re-probes", func() {
			reqs := d.BarAllocRequests(nil)
			Expect(d.AssignResource(reqs[0], 0x2000)).To(Succeed())
			Expect(d.ReadBars()[0].Addr).To(Equal(uint64(0x2000)))
		})

		It("writes back a 32-bit MMIO address and re-probes", func() {
			reqs := d.BarAllocRequests(nil)
			Expect(d.AssignResource(reqs[1], 0xd000_0000)).To(Succeed())

			bar := d.ReadBars()[1]
			Expect(bar.Addr).To(Equal(uint64(0xd000_0000)))
			Expect(bar.Size).To(Equal(uint64(0x1000)))
		})

		It("writes both words of a 64-bit MMIO address", func() {
			reqs := d.BarAllocRequests(nil)
			Expect(d.AssignResource(reqs[2], 9<<32)).To(Succeed())

			bar := d.ReadBars()[2]
			Expect(bar.Addr).To(Equal(uint64(9) << 32))
			Expect(bar.Size64).To(BeTrue())
		})

		It("rejects a misaligned address as a contract violation", func() {
			reqs := d.BarAllocRequests(nil)
			Expect(func() {
				d.AssignResource(reqs[1], 0xd000_0000+4)
			}).To(Panic())
		})
	})
})
