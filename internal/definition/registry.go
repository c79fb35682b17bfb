package definition

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
	"sync/atomic"
)

// snapshot is never mutated after it is stored.
type snapshot struct {
	forms    map[string]FormDefinition
	checksum string
}

// Registry holds the loaded form definitions. Readers never block: each
// Replace publishes a fresh immutable snapshot.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []FormDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace publishes defs as the new registry contents. On a duplicate ID
// the later definition wins; callers validate first.
func (r *Registry) Replace(defs []FormDefinition) {
	forms := make(map[string]FormDefinition, len(defs))
	sums := make([]string, 0, len(defs))
	for _, def := range defs {
		forms[def.ID] = def
		sums = append(sums, def.Checksum)
	}
	slices.Sort(sums)

	h := sha256.New()
	for i, sum := range sums {
		if i > 0 {
			h.Write([]byte{':'})
		}
		h.Write([]byte(sum))
	}
	r.snap.Store(&snapshot{forms: forms, checksum: hex.EncodeToString(h.Sum(nil))})
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetForm returns the form definition with the given ID.
func (r *Registry) GetForm(formID string) (FormDefinition, bool) {
	f, ok := r.current().forms[formID]
	return f, ok
}

// AllForms returns every form definition ordered by ID.
func (r *Registry) AllForms() []FormDefinition {
	s := r.current()
	ids := slices.Sorted(maps.Keys(s.forms))
	defs := make([]FormDefinition, len(ids))
	for i, id := range ids {
		defs[i] = s.forms[id]
	}
	return defs
}

// Len returns the number of loaded forms.
func (r *Registry) Len() int {
	return len(r.current().forms)
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
