// Package mapping builds and serves the field mapping registry: for each
// entity, which raw source column feeds each canonical field, and with what
// confidence. A mapping row with an empty SourceField is meaningful: it
// records that no candidate cleared the confidence threshold, so the field is
// deliberately left unmapped rather than guessed.
package mapping

import (
	"sort"
	"sync"

	"github.com/ledgermap/ledgermap/pkg/schema"
)

// FieldMapping links one canonical field to its best-matching raw source
// field. At most one row exists per (entity, canonical field, source).
type FieldMapping struct {
	Entity         schema.Entity `json:"entity"`
	CanonicalField string        `json:"canonical_field"`
	Source         schema.Source `json:"source"`
	SourceTable    string        `json:"source_table"`
	SourceField    string        `json:"source_field"` // empty = no trusted mapping
	Confidence     float64       `json:"confidence"`
}

// Mapped reports whether a trusted source field was found.
func (m FieldMapping) Mapped() bool {
	return m.SourceField != ""
}

// Registry is the shared, read-mostly view of field mappings. Reads may run
// concurrently across entities; rebuilding an entity's mappings excludes
// concurrent reads for that entity only.
type Registry struct {
	mu       sync.Mutex
	entities map[schema.Entity]*entityMappings
}

type entityMappings struct {
	mu       sync.RWMutex
	bySource map[schema.Source]map[string]FieldMapping
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[schema.Entity]*entityMappings),
	}
}

func (r *Registry) entity(entity schema.Entity) *entityMappings {
	r.mu.Lock()
	defer r.mu.Unlock()
	em, ok := r.entities[entity]
	if !ok {
		em = &entityMappings{
			bySource: make(map[schema.Source]map[string]FieldMapping),
		}
		r.entities[entity] = em
	}
	return em
}

// Replace overwrites the persisted mappings for one (entity, source) pair.
// Mapping is a function of the current schema, not of history.
func (r *Registry) Replace(entity schema.Entity, source schema.Source, mappings []FieldMapping) {
	em := r.entity(entity)
	em.mu.Lock()
	defer em.mu.Unlock()

	byField := make(map[string]FieldMapping, len(mappings))
	for _, m := range mappings {
		if m.Entity == entity && m.Source == source {
			byField[m.CanonicalField] = m
		}
	}
	em.bySource[source] = byField
}

// Lookup returns the mapping for one canonical field, if any row exists.
func (r *Registry) Lookup(entity schema.Entity, source schema.Source, canonicalField string) (FieldMapping, bool) {
	em := r.entity(entity)
	em.mu.RLock()
	defer em.mu.RUnlock()

	m, ok := em.bySource[source][canonicalField]
	return m, ok
}

// List returns every mapping row for an entity, sorted by source then
// canonical field. This is the diagnostics inspection interface.
func (r *Registry) List(entity schema.Entity) []FieldMapping {
	em := r.entity(entity)
	em.mu.RLock()
	defer em.mu.RUnlock()

	var out []FieldMapping
	for _, byField := range em.bySource {
		for _, m := range byField {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].CanonicalField < out[j].CanonicalField
	})
	return out
}

// Apply translates one raw source row into a canonical payload using the
// entity's mappings for that source. Raw columns without a trusted mapping
// are dropped; canonical fields whose mapping is absent stay unset.
func (r *Registry) Apply(entity schema.Entity, source schema.Source, raw map[string]any) map[string]any {
	em := r.entity(entity)
	em.mu.RLock()
	defer em.mu.RUnlock()

	payload := make(map[string]any)
	for canonical, m := range em.bySource[source] {
		if !m.Mapped() {
			continue
		}
		if v, ok := raw[m.SourceField]; ok {
			payload[canonical] = v
		}
	}
	return payload
}
