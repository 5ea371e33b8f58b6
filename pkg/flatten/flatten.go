// Package flatten expands header/line-item records to a uniform grain and
// performs the symmetric aggregation. It operates strictly within one source;
// merging records across sources belongs to the reconciliation engine.
package flatten

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/ledgermap/ledgermap/pkg/errors"
)

// Record is a header or line-item payload at its natural grain.
type Record struct {
	Key    string
	Fields map[string]any
}

// FlatRecord is one line-grain row: every header field plus one item's
// fields. Position is the stable insertion order from the source, 1-based.
// A header with no items flattens to a single row with Position 0 and no
// item fields.
type FlatRecord struct {
	Key      string
	Position int
	Fields   map[string]any
}

// Flattener expands and re-aggregates records for one entity. Header and item
// field names must be disjoint; the split is what makes aggregation an exact
// inverse of flattening.
type Flattener struct {
	headerFields map[string]bool
	itemFields   map[string]bool
}

// New creates a Flattener for an entity's header and line-item field names.
func New(headerFields, itemFields []string) *Flattener {
	f := &Flattener{
		headerFields: make(map[string]bool, len(headerFields)),
		itemFields:   make(map[string]bool, len(itemFields)),
	}
	for _, name := range headerFields {
		f.headerFields[name] = true
	}
	for _, name := range itemFields {
		f.itemFields[name] = true
	}
	return f
}

// Flatten expands one header plus its ordered items into line-grain rows.
// Empty items still yield exactly one header-only row, so entities without
// line items are never silently dropped.
func (f *Flattener) Flatten(header Record, items []Record) []FlatRecord {
	if len(items) == 0 {
		return []FlatRecord{{
			Key:    header.Key,
			Fields: copyFields(header.Fields, f.headerFields),
		}}
	}

	out := make([]FlatRecord, 0, len(items))
	for i, item := range items {
		fields := copyFields(header.Fields, f.headerFields)
		for name, v := range item.Fields {
			if f.itemFields[name] {
				fields[name] = v
			}
		}
		out = append(out, FlatRecord{
			Key:      header.Key,
			Position: i + 1,
			Fields:   fields,
		})
	}
	return out
}

// Aggregate reverses Flatten for one business key: it rebuilds the header
// and the ordered item list from line-grain rows. All rows must share one
// key; a header-only row (Position 0) yields no items.
func (f *Flattener) Aggregate(rows []FlatRecord) (Record, []Record, error) {
	if len(rows) == 0 {
		return Record{}, nil, errors.NewValidationError("rows", nil, "cannot aggregate zero rows")
	}

	key := rows[0].Key
	for _, row := range rows {
		if row.Key != key {
			return Record{}, nil, errors.NewValidationError("key", row.Key,
				fmt.Sprintf("aggregate called with mixed keys %q and %q", key, row.Key))
		}
	}

	ordered := append([]FlatRecord(nil), rows...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	header := Record{
		Key:    key,
		Fields: copyFields(ordered[0].Fields, f.headerFields),
	}

	var items []Record
	for _, row := range ordered {
		if row.Position == 0 {
			continue // header-only row carries no item
		}
		items = append(items, Record{
			Key:    key,
			Fields: copyFields(row.Fields, f.itemFields),
		})
	}
	return header, items, nil
}

// Verify checks the lossless round-trip invariant for one header and its
// items. A mismatch means a Flattener bug; callers must halt the entity's run
// rather than emit possibly-wrong data.
func (f *Flattener) Verify(header Record, items []Record) error {
	flat := f.Flatten(header, items)
	gotHeader, gotItems, err := f.Aggregate(flat)
	if err != nil {
		return errors.NewFlattenMismatchError(header.Key, err.Error())
	}

	if gotHeader.Key != header.Key {
		return errors.NewFlattenMismatchError(header.Key,
			fmt.Sprintf("aggregated key %q differs", gotHeader.Key))
	}
	if !reflect.DeepEqual(gotHeader.Fields, copyFields(header.Fields, f.headerFields)) {
		return errors.NewFlattenMismatchError(header.Key, "header payload differs after round-trip")
	}
	if len(gotItems) != len(items) {
		return errors.NewFlattenMismatchError(header.Key,
			fmt.Sprintf("expected %d items, aggregated %d", len(items), len(gotItems)))
	}
	for i := range items {
		want := copyFields(items[i].Fields, f.itemFields)
		if !reflect.DeepEqual(gotItems[i].Fields, want) {
			return errors.NewFlattenMismatchError(header.Key,
				fmt.Sprintf("item %d payload differs after round-trip", i+1))
		}
	}
	return nil
}

func copyFields(fields map[string]any, allowed map[string]bool) map[string]any {
	out := make(map[string]any, len(allowed))
	for name, v := range fields {
		if allowed[name] {
			out[name] = v
		}
	}
	return out
}
