package vmconfig

import (
	"encoding/json"
	"fmt"
)

type jsonObject = map[string]any

// absentRequired returns the path of every member without a default that is
// missing, or null, in an object present in the JSON document data.
func absentRequired(data []byte) []string {
	var doc jsonObject
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	var p presence
	p.need(doc["cpus"], "cpus", "boot_vcpus", "max_vcpus")
	mem := p.need(doc["memory"], "memory", "size")
	p.each(mem["zones"], "memory.zones", func(z any, path string) {
		p.need(z, path, "size")
	})
	for _, family := range []string{"disks", "net"} {
		p.each(doc[family], family, func(d any, path string) {
			p.rateLimiter(p.need(d, path)["rate_limiter_config"], path+".rate_limiter_config")
		})
	}
	p.need(doc["vsock"], "vsock", "cid")
	p.need(doc["balloon"], "balloon", "size")
	p.each(doc["sgx_epc"], "sgx_epc", func(s any, path string) {
		p.need(s, path, "size")
	})
	p.each(doc["numa"], "numa", func(n any, path string) {
		node := p.need(n, path, "guest_numa_id")
		p.each(node["distances"], path+".distances", func(d any, path string) {
			p.need(d, path, "destination", "distance")
		})
	})
	return p.absent
}

// absentRequiredDevice is absentRequired for a single hotplug device body.
func absentRequiredDevice(f Family, data []byte) []string {
	var doc jsonObject
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	var p presence
	switch f {
	case FamilyVsock:
		p.need(doc, "", "cid")
	case FamilyDisk, FamilyNet:
		p.rateLimiter(doc["rate_limiter_config"], "rate_limiter_config")
	}
	return p.absent
}

type presence struct {
	absent []string
}

// need records each of keys missing from v and returns v as an object, or
// nil when v is not one.
func (p *presence) need(v any, path string, keys ...string) jsonObject {
	obj, ok := v.(jsonObject)
	if !ok {
		return nil
	}
	for _, k := range keys {
		if obj[k] == nil {
			p.absent = append(p.absent, join(path, k))
		}
	}
	return obj
}

func (p *presence) each(v any, path string, fn func(elem any, path string)) {
	list, _ := v.([]any)
	for i, elem := range list {
		fn(elem, fmt.Sprintf("%s[%d]", path, i))
	}
}

func (p *presence) rateLimiter(v any, path string) {
	rl := p.need(v, path)
	for _, bucket := range []string{"bandwidth", "ops"} {
		p.need(rl[bucket], join(path, bucket), "size", "refill_time")
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
