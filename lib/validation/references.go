package validation

import (
	"fmt"

	"github.com/onkernel/vmconf/lib/vmconfig"
	"github.com/samber/lo"
)

type numaPair struct {
	from, to uint32
}

// references checks the NUMA graph: node ids, memory zone and SGX section
// references, vCPU placement and the distance relation.
func (c *checker) references() {
	numa := c.cfg.Numa
	if len(numa) == 0 {
		return
	}

	zones := make(map[string]bool)
	if c.cfg.Memory != nil {
		for _, z := range c.cfg.Memory.Zones {
			zones[z.ID] = true
		}
	}

	nodes := make(map[uint32]int, len(numa))
	for i, n := range numa {
		if prev, ok := nodes[n.GuestNumaID]; ok {
			c.addRelated(KindReference, CodeDuplicateNumaNode, fmt.Sprintf("numa[%d].guest_numa_id", i),
				[]string{fmt.Sprintf("numa[%d]", prev)},
				"guest NUMA node %d is declared more than once", n.GuestNumaID)
			continue
		}
		nodes[n.GuestNumaID] = i
	}

	zoneOwner := make(map[string]int)
	cpuOwner := make(map[uint32]int)
	distances := make(map[numaPair]uint8)
	declaredAt := make(map[numaPair]int)
	var pairs []numaPair
	maxVcpus := uint32(c.maxVcpus())

	for i, n := range numa {
		for j, zone := range n.MemoryZones {
			field := fmt.Sprintf("numa[%d].memory_zones[%d]", i, j)
			if !zones[zone] {
				c.add(KindReference, CodeUnknownMemoryZone, field, "memory zone %q is not declared", zone)
				continue
			}
			if owner, ok := zoneOwner[zone]; ok && owner != i {
				c.addRelated(KindReference, CodeZoneMultiplyReferenced, field, []string{fmt.Sprintf("numa[%d]", owner)},
					"memory zone %q already belongs to NUMA node %d", zone, numa[owner].GuestNumaID)
				continue
			}
			zoneOwner[zone] = i
		}

		for j, cpu := range n.Cpus {
			field := fmt.Sprintf("numa[%d].cpus[%d]", i, j)
			if cpu >= maxVcpus {
				c.add(KindReference, CodeNumaCpuOutOfRange, field, "vCPU %d is out of range, max_vcpus is %d", cpu, maxVcpus)
				continue
			}
			if owner, ok := cpuOwner[cpu]; ok && owner != i {
				c.addRelated(KindReference, CodeNumaCpuReused, field, []string{fmt.Sprintf("numa[%d]", owner)},
					"vCPU %d already belongs to NUMA node %d", cpu, numa[owner].GuestNumaID)
				continue
			}
			cpuOwner[cpu] = i
		}

		for j, d := range n.Distances {
			field := fmt.Sprintf("numa[%d].distances[%d]", i, j)
			if d.Destination == n.GuestNumaID {
				c.add(KindReference, CodeSelfDistance, field, "NUMA node %d declares a distance to itself", n.GuestNumaID)
				continue
			}
			if _, ok := nodes[d.Destination]; !ok {
				c.add(KindReference, CodeUnknownNumaNode, field, "destination NUMA node %d is not declared", d.Destination)
				continue
			}
			p := numaPair{from: n.GuestNumaID, to: d.Destination}
			if first, seen := declaredAt[p]; seen {
				c.addRelated(KindReference, CodeDuplicateDistance, field, []string{fmt.Sprintf("numa[%d].distances[%d]", i, first)},
					"NUMA node %d declares its distance to node %d more than once (%d and %d)",
					n.GuestNumaID, d.Destination, distances[p], d.Distance)
				continue
			}
			declaredAt[p] = j
			pairs = append(pairs, p)
			distances[p] = d.Distance
		}

		if c.target.SGX && len(n.SgxEpcSections) > 0 {
			sections := lo.Map(c.cfg.SgxEpc, func(s vmconfig.SgxEpcConfig, _ int) string { return s.ID })
			for j, s := range n.SgxEpcSections {
				if !lo.Contains(sections, s) {
					c.add(KindReference, CodeUnknownSgxSection, fmt.Sprintf("numa[%d].sgx_epc_sections[%d]", i, j),
						"SGX EPC section %q is not declared", s)
				}
			}
		}
	}

	for _, p := range pairs {
		if p.from > p.to {
			continue
		}
		back, ok := distances[numaPair{from: p.to, to: p.from}]
		if !ok || back == distances[p] {
			continue
		}
		c.addRelated(KindReference, CodeAsymmetricDistance,
			fmt.Sprintf("numa[%d].distances", nodes[p.from]),
			[]string{fmt.Sprintf("numa[%d].distances", nodes[p.to])},
			"distance %d->%d is %d but %d->%d is %d", p.from, p.to, distances[p], p.to, p.from, back)
	}
}
