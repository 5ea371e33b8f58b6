// Package reconcile merges the CSV-sourced and JSON-sourced row sets of one
// entity into a single reconciled result tagged with provenance per record.
// Each run computes a full fresh result over already-materialized inputs;
// nothing is patched in place, so provenance tags can never go stale.
package reconcile

import (
	"context"
	"sort"
	"time"

	"github.com/ledgermap/ledgermap/pkg/errors"
	"github.com/ledgermap/ledgermap/pkg/flatten"
	"github.com/ledgermap/ledgermap/pkg/logging"
	"github.com/ledgermap/ledgermap/pkg/schema"
)

// Provenance states which source(s) produced a reconciled record and why.
type Provenance string

// Provenance tags.
const (
	CSVOnly      Provenance = "CSV_ONLY"
	JSONOnly     Provenance = "JSON_ONLY"
	CSVPreferred Provenance = "CSV_PREFERRED"
	JSONFresh    Provenance = "JSON_FRESH"
	Merged       Provenance = "MERGED"
)

// String returns the string representation of a provenance tag.
func (p Provenance) String() string {
	return string(p)
}

// SourceRecord is one source's view of a record, already normalized to
// canonical columns. Uniqueness of Key is required at header grain within
// one source; nested line items live in Lines.
type SourceRecord struct {
	Entity     schema.Entity
	Key        string
	Source     schema.Source
	Payload    map[string]any
	Lines      []LineItem
	ObservedAt time.Time // zero = missing timestamp, oldest possible
}

// LineItem is one line-grain row owned by its header record. Position is the
// stable insertion order from the source, 1-based.
type LineItem struct {
	Key      string
	Position int
	Payload  map[string]any
}

// Record is one reconciled record. Never mutated after creation within a run.
type Record struct {
	Entity     schema.Entity
	Key        string
	Payload    map[string]any
	Provenance Provenance
	Lines      []LineItem
	ObservedAt time.Time
}

// Reconciler is the engine surface the rest of the system consumes.
type Reconciler interface {
	// Reconcile merges one entity's two source row sets into a fresh
	// reconciled result set.
	Reconcile(ctx context.Context, entity schema.Entity, csv, json []SourceRecord) (*Result, error)
}

// engine is the default implementation of Reconciler.
type engine struct {
	strategy Strategy
}

// Option configures a Reconciler.
type Option func(*engine) error

// New creates a new Reconciler with options.
func New(opts ...Option) (Reconciler, error) {
	e := &engine{
		strategy: NewFreshnessStrategy(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// WithStrategy sets the header precedence strategy.
func WithStrategy(strategy Strategy) Option {
	return func(e *engine) error {
		if strategy == nil {
			return errors.NewValidationError("strategy", nil, "strategy cannot be nil")
		}
		e.strategy = strategy
		return nil
	}
}

// Reconcile merges one entity's CSV and JSON row sets.
//
// The algorithm partitions business keys into CSV-only, JSON-only and
// overlapping; overlapping keys are resolved by the precedence strategy
// (freshness with a CSV tie-break by default); for line-item-bearing
// entities, line items attach preferentially from JSON after the header is
// resolved. An overlapping record that carries line items is tagged Merged
// unless a CSV-won header carries only the CSV export's own lines, in which
// case nothing from the JSON sync survived and the header tag stands.
func (e *engine) Reconcile(ctx context.Context, entity schema.Entity, csv, json []SourceRecord) (*Result, error) {
	s, err := schema.Get(entity)
	if err != nil {
		return nil, err
	}

	builder := NewResultBuilder().
		WithEntity(entity).
		WithStrategy(e.strategy)

	csvByKey, err := indexByKey(entity, schema.SourceCSV, csv)
	if err != nil {
		return nil, err
	}
	jsonByKey, err := indexByKey(entity, schema.SourceJSON, json)
	if err != nil {
		return nil, err
	}

	// Structural invariant: flattening each source's records must round-trip
	// before their line items are trusted. A mismatch is a bug, not data.
	if s.HasLineItems() {
		f := flatten.New(s.FieldNames(), s.LineFieldNames())
		for _, byKey := range []map[string]SourceRecord{csvByKey, jsonByKey} {
			for _, rec := range byKey {
				if err := verifyLines(f, rec); err != nil {
					return nil, err
				}
			}
		}
	}

	log := logging.FromContext(ctx)

	for _, key := range unionKeys(csvByKey, jsonByKey) {
		csvRec, inCSV := csvByKey[key]
		jsonRec, inJSON := jsonByKey[key]

		var rec Record
		var info Info

		switch {
		case inCSV && !inJSON:
			rec = newRecord(entity, csvRec)
			rec.Provenance = CSVOnly
			info = Info{
				Key:    key,
				Header: schema.SourceCSV,
				Reason: "present in CSV export only",
			}

		case inJSON && !inCSV:
			rec = newRecord(entity, jsonRec)
			rec.Provenance = JSONOnly
			info = Info{
				Key:    key,
				Header: schema.SourceJSON,
				Reason: "present in JSON sync only",
			}

		default:
			winner, reason := e.strategy.Resolve(key, csvRec, jsonRec)
			if winner == schema.SourceJSON {
				rec = newRecord(entity, jsonRec)
				rec.Provenance = JSONFresh
			} else {
				rec = newRecord(entity, csvRec)
				rec.Provenance = CSVPreferred
			}
			info = Info{
				Key:      key,
				Header:   winner,
				Reason:   reason,
				CSVSeen:  csvRec.ObservedAt,
				JSONSeen: jsonRec.ObservedAt,
			}

			// Enrichment: line items attach preferentially from JSON, which
			// carries the detailed nested documents. Attaching lines never
			// changes which source's header fields won. Merged means both
			// sources contributed; a CSV-won header carrying only the CSV
			// export's own lines keeps its header tag.
			if s.HasLineItems() {
				lines, lineSource := pickLines(csvRec, jsonRec)
				if len(lines) > 0 {
					rec.Lines = lines
					info.Lines = lineSource
					if winner != schema.SourceCSV || lineSource != schema.SourceCSV {
						rec.Provenance = Merged
					}
				}
			}
		}

		info.Tag = rec.Provenance
		builder.WithRecord(rec, info)
	}

	result := builder.Build()

	// Post-hoc uniqueness check. Duplicate business keys in the output
	// indicate an upstream key-normalization bug, not valid data.
	seen := make(map[string]bool, len(result.Records))
	for _, rec := range result.Records {
		if seen[rec.Key] {
			return nil, errors.NewAmbiguousKeyError(entity.String(), "reconciled", rec.Key, 2)
		}
		seen[rec.Key] = true
	}

	log.Debug().
		Str("entity", entity.String()).
		Int("csv_records", len(csvByKey)).
		Int("json_records", len(jsonByKey)).
		Int("reconciled", len(result.Records)).
		Msg("Reconciliation complete")

	return result, nil
}

// indexByKey builds the header-grain index for one source. More than one
// header row per business key aborts the entity's run; silent deduplication
// would hide an upstream identity bug.
func indexByKey(entity schema.Entity, source schema.Source, records []SourceRecord) (map[string]SourceRecord, error) {
	byKey := make(map[string]SourceRecord, len(records))
	for _, rec := range records {
		if _, dup := byKey[rec.Key]; dup {
			return nil, errors.NewAmbiguousKeyError(entity.String(), source.String(), rec.Key, 2)
		}
		byKey[rec.Key] = rec
	}
	return byKey, nil
}

// verifyLines checks the flatten round-trip invariant for one source record.
func verifyLines(f *flatten.Flattener, rec SourceRecord) error {
	header := flatten.Record{Key: rec.Key, Fields: rec.Payload}
	items := make([]flatten.Record, 0, len(rec.Lines))
	for _, line := range rec.Lines {
		items = append(items, flatten.Record{Key: rec.Key, Fields: line.Payload})
	}
	return f.Verify(header, items)
}

// pickLines selects the line items to attach to a resolved header. JSON
// documents carry the richer nested detail, so JSON lines win whenever
// present; the CSV export's lines are the fallback.
func pickLines(csv, json SourceRecord) ([]LineItem, schema.Source) {
	if len(json.Lines) > 0 {
		return cloneLines(json.Lines), schema.SourceJSON
	}
	if len(csv.Lines) > 0 {
		return cloneLines(csv.Lines), schema.SourceCSV
	}
	return nil, ""
}

func newRecord(entity schema.Entity, src SourceRecord) Record {
	return Record{
		Entity:     entity,
		Key:        src.Key,
		Payload:    clonePayload(src.Payload),
		Lines:      cloneLines(src.Lines),
		ObservedAt: src.ObservedAt,
	}
}

func clonePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}

func cloneLines(lines []LineItem) []LineItem {
	if len(lines) == 0 {
		return nil
	}
	out := make([]LineItem, len(lines))
	for i, line := range lines {
		out[i] = LineItem{
			Key:      line.Key,
			Position: line.Position,
			Payload:  clonePayload(line.Payload),
		}
	}
	return out
}

// unionKeys returns the sorted union of both sources' business keys so runs
// are reproducible.
func unionKeys(csv, json map[string]SourceRecord) []string {
	keys := make([]string, 0, len(csv)+len(json))
	for key := range csv {
		keys = append(keys, key)
	}
	for key := range json {
		if _, ok := csv[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
