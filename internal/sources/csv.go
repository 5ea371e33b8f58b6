package sources

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/ledgermap/ledgermap/pkg/errors"
	"github.com/ledgermap/ledgermap/pkg/flatten"
	"github.com/ledgermap/ledgermap/pkg/logging"
	"github.com/ledgermap/ledgermap/pkg/mapping"
	"github.com/ledgermap/ledgermap/pkg/reconcile"
	"github.com/ledgermap/ledgermap/pkg/schema"
)

// CSVLoader reads one entity's CSV export. The export is flat: line-item
// entities repeat the header columns on every line row, so the loader
// re-aggregates rows by business key before handing records to the engine.
type CSVLoader struct {
	entity   schema.Entity
	schema   *schema.Schema
	registry *mapping.Registry
}

// NewCSVLoader creates a loader for one entity backed by the given mapping
// registry.
func NewCSVLoader(entity schema.Entity, registry *mapping.Registry) (*CSVLoader, error) {
	s, err := schema.Get(entity)
	if err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, errors.NewValidationError("registry", nil, "registry cannot be nil")
	}
	return &CSVLoader{entity: entity, schema: s, registry: registry}, nil
}

// Load parses the export and returns one source record per business key.
// File order is preserved within each key so line items keep their export
// positions.
func (l *CSVLoader) Load(r io.Reader) ([]reconcile.SourceRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.WrapParse("csv", "export", fmt.Errorf("empty file"))
	}
	if err != nil {
		return nil, errors.WrapParse("csv", "export", err)
	}

	var (
		order  []string
		byKey  = map[string][]flatten.FlatRecord{}
		rowNum = 1
	)
	lineFields := map[string]bool{}
	for _, name := range l.schema.LineFieldNames() {
		lineFields[name] = true
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WrapParse("csv", "export", err)
		}
		rowNum++

		raw := make(map[string]any, len(header))
		for i, label := range header {
			if i < len(row) && row[i] != "" {
				raw[label] = row[i]
			}
		}

		payload := l.registry.Apply(l.entity, schema.SourceCSV, raw)
		key, err := recordKey(l.schema, payload, rowNum)
		if err != nil {
			return nil, err
		}

		group, seen := byKey[key]
		if !seen {
			order = append(order, key)
		}

		position := 0
		if l.schema.HasLineItems() && hasAny(payload, lineFields) {
			position = len(group) + 1
		}

		// A repeated key is only valid as a line row of a line-item entity.
		// A second header-grain row for the same key must surface, never be
		// silently collapsed into the first.
		if seen && position == 0 {
			return nil, errors.NewAmbiguousKeyError(l.entity.String(), schema.SourceCSV.String(), key, 2)
		}

		byKey[key] = append(group, flatten.FlatRecord{
			Key:      key,
			Position: position,
			Fields:   payload,
		})
	}

	flattener := flatten.New(l.schema.FieldNames(), l.schema.LineFieldNames())

	out := make([]reconcile.SourceRecord, 0, len(order))
	for _, key := range order {
		headerRec, items, err := flattener.Aggregate(byKey[key])
		if err != nil {
			return nil, err
		}

		rec := reconcile.SourceRecord{
			Entity:     l.entity,
			Key:        key,
			Source:     schema.SourceCSV,
			Payload:    headerRec.Fields,
			ObservedAt: observedAt(headerRec.Fields),
		}
		for i, item := range items {
			rec.Lines = append(rec.Lines, reconcile.LineItem{
				Key:      key,
				Position: i + 1,
				Payload:  item.Fields,
			})
		}
		out = append(out, rec)
	}

	logging.Debug().
		Str("entity", l.entity.String()).
		Int("rows", rowNum-1).
		Int("records", len(out)).
		Msg("CSV export loaded")
	return out, nil
}

func hasAny(payload map[string]any, fields map[string]bool) bool {
	for name := range fields {
		if _, ok := payload[name]; ok {
			return true
		}
	}
	return false
}
