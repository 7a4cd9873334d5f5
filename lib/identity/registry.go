// Package identity tracks device identifiers across every device family of a
// VM configuration. It holds back-references only (identifier to family and
// position), never the devices themselves.
package identity

import (
	"fmt"
	"sort"

	"github.com/onkernel/vmconf/lib/vmconfig"
	"github.com/samber/lo"
)

// Entry locates one registered device.
type Entry struct {
	Family vmconfig.Family
	Index  int
}

// Duplicate is an identifier claimed by more than one device.
type Duplicate struct {
	ID string
	// Fields lists the JSON path of every device carrying ID, in config order.
	Fields []string
}

// Registry maps identifiers to device positions. It is not safe for
// concurrent use; callers serialize access per VM.
type Registry struct {
	entries map[string]Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Build registers every device of cfg. Explicit identifiers are registered
// first across all families so generated ones never steal an explicit name.
// Every identifier claimed more than once is reported; the first claimant
// keeps the registration.
func Build(cfg *vmconfig.VmConfig) (*Registry, []Duplicate) {
	r := New()
	refs := vmconfig.Devices(cfg)

	var dupOrder []string
	claims := make(map[string][]string)
	for _, ref := range refs {
		id := lo.FromPtr(ref.ID)
		if id == "" {
			continue
		}
		claims[id] = append(claims[id], ref.Path)
		if len(claims[id]) == 2 {
			dupOrder = append(dupOrder, id)
		}
		if len(claims[id]) == 1 {
			r.entries[id] = Entry{Family: ref.Family, Index: ref.Index}
		}
	}

	for _, ref := range refs {
		if lo.FromPtr(ref.ID) != "" {
			continue
		}
		r.entries[r.generate(ref.Family, ref.Index)] = Entry{Family: ref.Family, Index: ref.Index}
	}

	dups := lo.Map(dupOrder, func(id string, _ int) Duplicate {
		return Duplicate{ID: id, Fields: claims[id]}
	})
	return r, dups
}

// Register records the device at index of family f. With an explicit id the
// id must be free; otherwise an id derived from the family and position is
// generated.
func (r *Registry) Register(f vmconfig.Family, index int, explicitID *string) (string, error) {
	if id := lo.FromPtr(explicitID); id != "" {
		if _, ok := r.entries[id]; ok {
			return "", fmt.Errorf("%w: %s", ErrDuplicateIdentifier, id)
		}
		r.entries[id] = Entry{Family: f, Index: index}
		return id, nil
	}
	id := r.generate(f, index)
	r.entries[id] = Entry{Family: f, Index: index}
	return id, nil
}

// Unregister removes id. Later devices of the same family move up one
// position, mirroring removal from the family's list.
func (r *Registry) Unregister(id string) error {
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.entries, id)
	for other, oe := range r.entries {
		if oe.Family == e.Family && oe.Index > e.Index {
			oe.Index--
			r.entries[other] = oe
		}
	}
	return nil
}

// Resolve returns where id lives.
func (r *Registry) Resolve(id string) (Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Exists reports whether id is registered.
func (r *Registry) Exists(id string) bool {
	_, ok := r.entries[id]
	return ok
}

// Lookup returns the identifier of the device at index of family f.
func (r *Registry) Lookup(f vmconfig.Family, index int) (string, bool) {
	for id, e := range r.entries {
		if e.Family == f && e.Index == index {
			return id, true
		}
	}
	return "", false
}

// IDs returns every registered identifier, sorted.
func (r *Registry) IDs() []string {
	ids := lo.Keys(r.entries)
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Clone returns an independent copy, used for tentative hotplug merges.
func (r *Registry) Clone() *Registry {
	out := New()
	for id, e := range r.entries {
		out.entries[id] = e
	}
	return out
}

// Assign writes registered identifiers into the devices of cfg that have an
// id field. Singletons keep their identifier in the registry only.
func (r *Registry) Assign(cfg *vmconfig.VmConfig) {
	for id, e := range r.entries {
		if e.Family.Singleton() {
			continue
		}
		vmconfig.SetDeviceID(cfg, e.Family, e.Index, id)
	}
}

// Verify checks that the registry describes exactly the devices of cfg.
func (r *Registry) Verify(cfg *vmconfig.VmConfig) error {
	refs := vmconfig.Devices(cfg)
	if len(refs) != len(r.entries) {
		return fmt.Errorf("%w: %d devices, %d identifiers", ErrInconsistent, len(refs), len(r.entries))
	}
	byPos := make(map[Entry]string, len(r.entries))
	for id, e := range r.entries {
		byPos[e] = id
	}
	for _, ref := range refs {
		id, ok := byPos[Entry{Family: ref.Family, Index: ref.Index}]
		if !ok {
			return fmt.Errorf("%w: %s has no identifier", ErrInconsistent, ref.Path)
		}
		if explicit := lo.FromPtr(ref.ID); explicit != "" && explicit != id {
			return fmt.Errorf("%w: %s is %q, registry has %q", ErrInconsistent, ref.Path, explicit, id)
		}
	}
	return nil
}

// generate returns _<family><n> for the first free n starting at index.
func (r *Registry) generate(f vmconfig.Family, index int) string {
	for n := index; ; n++ {
		id := fmt.Sprintf("_%s%d", f, n)
		if _, taken := r.entries[id]; !taken {
			return id
		}
	}
}
