package sources

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ledgermap/ledgermap/pkg/errors"
	"github.com/ledgermap/ledgermap/pkg/logging"
	"github.com/ledgermap/ledgermap/pkg/mapping"
	"github.com/ledgermap/ledgermap/pkg/reconcile"
	"github.com/ledgermap/ledgermap/pkg/schema"
)

// lineItemsKey is the raw JSON field that carries an entity's nested line
// item documents.
const lineItemsKey = "line_items"

// JSONLoader reads one entity's JSON API sync: an array of documents, each
// carrying its line items nested under "line_items".
type JSONLoader struct {
	entity   schema.Entity
	schema   *schema.Schema
	registry *mapping.Registry
}

// NewJSONLoader creates a loader for one entity backed by the given mapping
// registry.
func NewJSONLoader(entity schema.Entity, registry *mapping.Registry) (*JSONLoader, error) {
	s, err := schema.Get(entity)
	if err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, errors.NewValidationError("registry", nil, "registry cannot be nil")
	}
	return &JSONLoader{entity: entity, schema: s, registry: registry}, nil
}

// Load parses the sync and returns one source record per document. Nested
// line items keep their document order.
func (l *JSONLoader) Load(r io.Reader) ([]reconcile.SourceRecord, error) {
	var docs []map[string]any
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, errors.WrapParse("json", "sync", err)
	}

	out := make([]reconcile.SourceRecord, 0, len(docs))
	for i, doc := range docs {
		payload := l.registry.Apply(l.entity, schema.SourceJSON, doc)
		key, err := recordKey(l.schema, payload, i+1)
		if err != nil {
			return nil, err
		}

		rec := reconcile.SourceRecord{
			Entity:     l.entity,
			Key:        key,
			Source:     schema.SourceJSON,
			Payload:    payload,
			ObservedAt: observedAt(payload),
		}

		if l.schema.HasLineItems() {
			lines, err := l.loadLines(key, doc)
			if err != nil {
				return nil, err
			}
			rec.Lines = lines
		}
		out = append(out, rec)
	}

	logging.Debug().
		Str("entity", l.entity.String()).
		Int("records", len(out)).
		Msg("JSON sync loaded")
	return out, nil
}

func (l *JSONLoader) loadLines(key string, doc map[string]any) ([]reconcile.LineItem, error) {
	raw, ok := doc[lineItemsKey]
	if !ok {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, errors.WrapParse("json", "sync",
			fmt.Errorf("document %s: line_items is not an array", key))
	}

	var lines []reconcile.LineItem
	for i, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			return nil, errors.WrapParse("json", "sync",
				fmt.Errorf("document %s: line item %d is not an object", key, i+1))
		}
		lines = append(lines, reconcile.LineItem{
			Key:      key,
			Position: i + 1,
			Payload:  l.registry.Apply(l.entity, schema.SourceJSON, fields),
		})
	}
	return lines, nil
}
