package validation

import (
	"github.com/onkernel/vmconf/lib/vmconfig"
	"github.com/samber/lo"
)

// iommu checks that every device's iommu flag agrees with whether its PCI
// segment sits behind the virtual IOMMU.
func (c *checker) iommu() {
	segments := c.iommuSegments()
	onIommu := func(seg uint16) bool { return lo.Contains(segments, seg) }

	for _, ref := range vmconfig.Devices(c.cfg) {
		if ref.Family.Singleton() {
			// Singletons live on segment 0 and are only checked when they ask for the IOMMU.
			if ref.Iommu && !onIommu(0) {
				c.add(KindIommu, CodeIommuSegmentMismatch, ref.Path+".iommu",
					"iommu requires segment 0 to be an IOMMU segment")
			}
			continue
		}

		field := ref.Path + ".iommu"
		switch {
		case !ref.IommuCapable && onIommu(ref.PciSegment):
			c.addRelated(KindIommu, CodeIommuUnsupported, ref.Path+".pci_segment", []string{"platform.iommu_segments"},
				"%s devices do not support the IOMMU but segment %d is an IOMMU segment", ref.Family, ref.PciSegment)
		case ref.VhostUser && (ref.Iommu || onIommu(ref.PciSegment)):
			c.add(KindIommu, CodeIommuUnsupported, field, "vhost-user devices cannot be placed behind the IOMMU")
		case ref.Iommu && !onIommu(ref.PciSegment):
			c.addRelated(KindIommu, CodeIommuSegmentMismatch, field, []string{"platform.iommu_segments"},
				"iommu is set but segment %d is not an IOMMU segment", ref.PciSegment)
		case !ref.Iommu && onIommu(ref.PciSegment):
			c.addRelated(KindIommu, CodeIommuSegmentMismatch, field, []string{"platform.iommu_segments"},
				"segment %d is an IOMMU segment but iommu is not set", ref.PciSegment)
		}
	}
}
