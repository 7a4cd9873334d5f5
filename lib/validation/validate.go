package validation

import (
	"fmt"

	"github.com/onkernel/vmconf/lib/identity"
	"github.com/onkernel/vmconf/lib/vmconfig"
	"github.com/samber/lo"
)

// Validate checks a defaulted configuration against every cross-field
// invariant and returns all violations found. Checks run in a fixed order:
// segments, identity, references, ranges, mutual exclusivity, IOMMU.
//
// Fields guarded by a capability the target lacks (AMX, SGX, TDX, guest
// debug) are carried through unchecked. cfg is never modified.
func Validate(cfg *vmconfig.VmConfig, target vmconfig.Target) Violations {
	if cfg == nil {
		cfg = &vmconfig.VmConfig{}
	}
	c := &checker{cfg: cfg, target: target}
	c.segments()
	c.identities()
	c.references()
	c.ranges()
	c.exclusivity()
	c.iommu()
	return c.out
}

type checker struct {
	cfg    *vmconfig.VmConfig
	target vmconfig.Target
	out    Violations
}

func (c *checker) add(kind Kind, code Code, field string, format string, args ...any) {
	c.out = append(c.out, Violation{
		Kind:    kind,
		Code:    code,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

func (c *checker) addRelated(kind Kind, code Code, field string, related []string, format string, args ...any) {
	c.out = append(c.out, Violation{
		Kind:    kind,
		Code:    code,
		Field:   field,
		Related: related,
		Message: fmt.Sprintf(format, args...),
	})
}

func (c *checker) numPciSegments() uint16 {
	if c.cfg.Platform == nil {
		return vmconfig.DefaultNumPciSegments
	}
	return lo.FromPtr(c.cfg.Platform.NumPciSegments)
}

func (c *checker) iommuSegments() []uint16 {
	if c.cfg.Platform == nil {
		return nil
	}
	return c.cfg.Platform.IommuSegments
}

func (c *checker) maxVcpus() uint8 {
	if c.cfg.Cpus == nil {
		return vmconfig.DefaultVcpus
	}
	return c.cfg.Cpus.MaxVcpus
}

func (c *checker) segments() {
	n := c.numPciSegments()
	if n == 0 || n > c.target.MaxPCISegments {
		c.add(KindSegment, CodeSegmentCount, "platform.num_pci_segments",
			"num_pci_segments %d must be between 1 and %d", n, c.target.MaxPCISegments)
	}
	if n == 0 {
		return
	}
	for _, ref := range vmconfig.Devices(c.cfg) {
		if ref.PciSegment >= n {
			c.add(KindSegment, CodePciSegmentOutOfRange, ref.Path+".pci_segment",
				"pci_segment %d is out of range, platform has %d segment(s)", ref.PciSegment, n)
		}
	}
	for i, seg := range c.iommuSegments() {
		if seg >= n {
			c.add(KindSegment, CodeIommuSegmentOutOfRange, fmt.Sprintf("platform.iommu_segments[%d]", i),
				"iommu segment %d is out of range, platform has %d segment(s)", seg, n)
		}
	}
}

func (c *checker) identities() {
	_, dups := identity.Build(c.cfg)
	for _, d := range dups {
		c.addRelated(KindIdentity, CodeDuplicateIdentifier, d.Fields[0]+".id", d.Fields,
			"identifier %q is used by %d devices", d.ID, len(d.Fields))
	}
}
