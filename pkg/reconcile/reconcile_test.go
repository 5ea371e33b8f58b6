package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermap/ledgermap/pkg/errors"
	"github.com/ledgermap/ledgermap/pkg/schema"
)

func mustTime(t *testing.T, raw string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, raw)
	require.NoError(t, err)
	return ts.UTC()
}

func contactRecord(key string, source schema.Source, seen time.Time, name string) SourceRecord {
	return SourceRecord{
		Entity: schema.EntityContact,
		Key:    key,
		Source: source,
		Payload: map[string]any{
			"contact_id":   key,
			"contact_name": name,
		},
		ObservedAt: seen,
	}
}

func TestReconcileUnionCardinality(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	older := mustTime(t, "2024-01-01T00:00:00Z")
	newer := mustTime(t, "2024-06-01T00:00:00Z")

	csv := []SourceRecord{
		contactRecord("C-001", schema.SourceCSV, older, "Acme"),
		contactRecord("C-002", schema.SourceCSV, older, "Globex"),
		contactRecord("C-003", schema.SourceCSV, older, "Initech"),
	}
	json := []SourceRecord{
		contactRecord("C-002", schema.SourceJSON, newer, "Globex Corp"),
		contactRecord("C-004", schema.SourceJSON, newer, "Umbrella"),
	}

	result, err := engine.Reconcile(context.Background(), schema.EntityContact, csv, json)
	require.NoError(t, err)

	// Four distinct business keys across both sources, four records out.
	assert.Len(t, result.Records, 4)
	assert.Len(t, result.Provenance, 4)
	assert.Equal(t, 4, result.Metadata.Stats.Total)

	keys := make([]string, 0, len(result.Records))
	for _, rec := range result.Records {
		keys = append(keys, rec.Key)
	}
	assert.Equal(t, []string{"C-001", "C-002", "C-003", "C-004"}, keys,
		"records sorted by business key")
}

func TestReconcileSingleSourceTags(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	seen := mustTime(t, "2024-03-15T10:00:00Z")
	csv := []SourceRecord{contactRecord("C-010", schema.SourceCSV, seen, "Acme")}
	json := []SourceRecord{contactRecord("C-020", schema.SourceJSON, seen, "Globex")}

	result, err := engine.Reconcile(context.Background(), schema.EntityContact, csv, json)
	require.NoError(t, err)
	require.Len(t, result.Records, 2)

	assert.Equal(t, CSVOnly, result.Records[0].Provenance)
	assert.Equal(t, "Acme", result.Records[0].Payload["contact_name"])
	assert.Equal(t, JSONOnly, result.Records[1].Provenance)
	assert.Equal(t, "Globex", result.Records[1].Payload["contact_name"])

	info, ok := result.Provenance.Get("C-010")
	require.True(t, ok)
	assert.Equal(t, schema.SourceCSV, info.Header)
}

func TestReconcileCSVWinsOnNewerAndOnTie(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	older := mustTime(t, "2024-01-01T00:00:00Z")
	newer := mustTime(t, "2024-06-01T00:00:00Z")

	tests := []struct {
		name    string
		csvSeen time.Time
		want    string
	}{
		{"csv strictly newer", newer, "CSV Name"},
		{"exact tie", older, "CSV Name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			csv := []SourceRecord{contactRecord("C-100", schema.SourceCSV, tt.csvSeen, "CSV Name")}
			json := []SourceRecord{contactRecord("C-100", schema.SourceJSON, older, "JSON Name")}

			result, err := engine.Reconcile(context.Background(), schema.EntityContact, csv, json)
			require.NoError(t, err)
			require.Len(t, result.Records, 1)

			rec := result.Records[0]
			assert.Equal(t, CSVPreferred, rec.Provenance)
			assert.Equal(t, tt.want, rec.Payload["contact_name"])

			info, ok := result.Provenance.Get("C-100")
			require.True(t, ok)
			assert.Equal(t, schema.SourceCSV, info.Header)
		})
	}
}

func TestReconcileJSONFreshWins(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	older := mustTime(t, "2024-01-01T00:00:00Z")
	newer := mustTime(t, "2024-06-01T00:00:00Z")

	csv := []SourceRecord{contactRecord("C-200", schema.SourceCSV, older, "Stale Name")}
	json := []SourceRecord{contactRecord("C-200", schema.SourceJSON, newer, "Fresh Name")}

	result, err := engine.Reconcile(context.Background(), schema.EntityContact, csv, json)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	rec := result.Records[0]
	assert.Equal(t, JSONFresh, rec.Provenance)
	assert.Equal(t, "Fresh Name", rec.Payload["contact_name"])
	assert.Equal(t, newer, rec.ObservedAt)
}

func TestReconcileMissingTimestampLoses(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	seen := mustTime(t, "2024-02-01T00:00:00Z")

	// A record without a last-modified timestamp counts as oldest possible,
	// so the timestamped side always wins the overlap.
	csv := []SourceRecord{contactRecord("C-300", schema.SourceCSV, time.Time{}, "Undated CSV")}
	json := []SourceRecord{contactRecord("C-300", schema.SourceJSON, seen, "Dated JSON")}

	result, err := engine.Reconcile(context.Background(), schema.EntityContact, csv, json)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, JSONFresh, result.Records[0].Provenance)

	// Both undated falls through to the tie rule: CSV keeps precedence.
	csv[0].Payload["contact_name"] = "Undated CSV"
	json = []SourceRecord{contactRecord("C-300", schema.SourceJSON, time.Time{}, "Undated JSON")}
	result, err = engine.Reconcile(context.Background(), schema.EntityContact, csv, json)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, CSVPreferred, result.Records[0].Provenance)
	assert.Equal(t, "Undated CSV", result.Records[0].Payload["contact_name"])
}

func TestReconcileMergedBillWithJSONLines(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	older := mustTime(t, "2024-01-10T00:00:00Z")
	newer := mustTime(t, "2024-01-20T00:00:00Z")

	csv := []SourceRecord{{
		Entity: schema.EntityBill,
		Key:    "B1",
		Source: schema.SourceCSV,
		Payload: map[string]any{
			"bill_id":     "B1",
			"bill_number": "BILL-001",
			"total":       150.0,
		},
		ObservedAt: older,
	}}
	json := []SourceRecord{{
		Entity: schema.EntityBill,
		Key:    "B1",
		Source: schema.SourceJSON,
		Payload: map[string]any{
			"bill_id":     "B1",
			"bill_number": "BILL-001",
			"total":       175.0,
		},
		Lines: []LineItem{
			{Key: "B1", Position: 1, Payload: map[string]any{"line_item_id": "L1", "item_name": "Widget", "quantity": 2.0}},
			{Key: "B1", Position: 2, Payload: map[string]any{"line_item_id": "L2", "item_name": "Gadget", "quantity": 1.0}},
			{Key: "B1", Position: 3, Payload: map[string]any{"line_item_id": "L3", "item_name": "Gizmo", "quantity": 4.0}},
		},
		ObservedAt: newer,
	}}

	result, err := engine.Reconcile(context.Background(), schema.EntityBill, csv, json)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	rec := result.Records[0]
	assert.Equal(t, Merged, rec.Provenance,
		"overlapping key with attached line items is a merge of both sources")
	assert.Equal(t, 175.0, rec.Payload["total"], "JSON header fields won on freshness")
	require.Len(t, rec.Lines, 3)
	assert.Equal(t, "L1", rec.Lines[0].Payload["line_item_id"])
	assert.Equal(t, "L3", rec.Lines[2].Payload["line_item_id"])

	info, ok := result.Provenance.Get("B1")
	require.True(t, ok)
	assert.Equal(t, Merged, info.Tag)
	assert.Equal(t, schema.SourceJSON, info.Header)
	assert.Equal(t, schema.SourceJSON, info.Lines)
	assert.Equal(t, 1, result.Metadata.Stats.Merged)
}

func TestReconcileOverlapWithoutLinesKeepsHeaderTag(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	older := mustTime(t, "2024-01-10T00:00:00Z")
	newer := mustTime(t, "2024-01-20T00:00:00Z")

	mk := func(source schema.Source, seen time.Time) SourceRecord {
		return SourceRecord{
			Entity:     schema.EntityInvoice,
			Key:        "INV-9",
			Source:     source,
			Payload:    map[string]any{"invoice_id": "INV-9", "status": "draft"},
			ObservedAt: seen,
		}
	}

	result, err := engine.Reconcile(context.Background(), schema.EntityInvoice,
		[]SourceRecord{mk(schema.SourceCSV, newer)},
		[]SourceRecord{mk(schema.SourceJSON, older)})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	// Neither source carried line items, so there is nothing to merge.
	assert.Equal(t, CSVPreferred, result.Records[0].Provenance)
	assert.Empty(t, result.Records[0].Lines)
}

func TestReconcileCSVLinesFallbackKeepsHeaderTag(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	seen := mustTime(t, "2024-05-01T00:00:00Z")

	csv := []SourceRecord{{
		Entity:  schema.EntityInvoice,
		Key:     "INV-7",
		Source:  schema.SourceCSV,
		Payload: map[string]any{"invoice_id": "INV-7"},
		Lines: []LineItem{
			{Key: "INV-7", Position: 1, Payload: map[string]any{"line_item_id": "L1", "quantity": 1.0}},
		},
		ObservedAt: seen,
	}}
	json := []SourceRecord{{
		Entity:     schema.EntityInvoice,
		Key:        "INV-7",
		Source:     schema.SourceJSON,
		Payload:    map[string]any{"invoice_id": "INV-7"},
		ObservedAt: seen,
	}}

	result, err := engine.Reconcile(context.Background(), schema.EntityInvoice, csv, json)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	// The JSON sync contributed nothing: the CSV header won and the attached
	// lines are the CSV export's own, so this is not a cross-source merge.
	rec := result.Records[0]
	assert.Equal(t, CSVPreferred, rec.Provenance)
	require.Len(t, rec.Lines, 1)
	assert.Equal(t, "L1", rec.Lines[0].Payload["line_item_id"])

	info, _ := result.Provenance.Get("INV-7")
	assert.Equal(t, CSVPreferred, info.Tag)
	assert.Equal(t, schema.SourceCSV, info.Lines)
	assert.Equal(t, schema.SourceCSV, info.Header, "tie keeps CSV header precedence")
}

func TestReconcileJSONHeaderWithCSVLinesMerges(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	older := mustTime(t, "2024-05-01T00:00:00Z")
	newer := mustTime(t, "2024-05-09T00:00:00Z")

	csv := []SourceRecord{{
		Entity:  schema.EntityInvoice,
		Key:     "INV-8",
		Source:  schema.SourceCSV,
		Payload: map[string]any{"invoice_id": "INV-8", "total": 40.0},
		Lines: []LineItem{
			{Key: "INV-8", Position: 1, Payload: map[string]any{"line_item_id": "L1", "quantity": 2.0}},
		},
		ObservedAt: older,
	}}
	json := []SourceRecord{{
		Entity:     schema.EntityInvoice,
		Key:        "INV-8",
		Source:     schema.SourceJSON,
		Payload:    map[string]any{"invoice_id": "INV-8", "total": 45.0},
		ObservedAt: newer,
	}}

	result, err := engine.Reconcile(context.Background(), schema.EntityInvoice, csv, json)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	// JSON won the header but only the CSV export had lines; the record is a
	// genuine cross-source composite.
	rec := result.Records[0]
	assert.Equal(t, Merged, rec.Provenance)
	assert.Equal(t, 45.0, rec.Payload["total"])
	require.Len(t, rec.Lines, 1)

	info, _ := result.Provenance.Get("INV-8")
	assert.Equal(t, schema.SourceJSON, info.Header)
	assert.Equal(t, schema.SourceCSV, info.Lines)
}

func TestFreshnessStrategyReasons(t *testing.T) {
	strategy := NewFreshnessStrategy()
	older := mustTime(t, "2024-06-01T00:00:00Z")
	newer := mustTime(t, "2024-06-05T00:00:00Z")

	// A strictly newer CSV timestamp is the only way this branch fires;
	// equal timestamps fall through to the tie rule, so the reason must not
	// claim "or equal".
	winner, reason := strategy.Resolve("C-1",
		SourceRecord{ObservedAt: newer}, SourceRecord{ObservedAt: older})
	assert.Equal(t, schema.SourceCSV, winner)
	assert.Contains(t, reason, "CSV export newer (")
	assert.NotContains(t, reason, "or equal")

	winner, reason = strategy.Resolve("C-1",
		SourceRecord{ObservedAt: older}, SourceRecord{ObservedAt: newer})
	assert.Equal(t, schema.SourceJSON, winner)
	assert.Contains(t, reason, "JSON sync newer")

	winner, reason = strategy.Resolve("C-1",
		SourceRecord{ObservedAt: older}, SourceRecord{ObservedAt: older})
	assert.Equal(t, schema.SourceCSV, winner)
	assert.Contains(t, reason, "tie")
}

func TestReconcileDuplicateKeyAborts(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	seen := mustTime(t, "2024-04-01T00:00:00Z")
	csv := []SourceRecord{
		contactRecord("C-500", schema.SourceCSV, seen, "First"),
		contactRecord("C-500", schema.SourceCSV, seen, "Second"),
	}

	result, err := engine.Reconcile(context.Background(), schema.EntityContact, csv, nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.IsAmbiguousKey(err))

	var ambiguous *errors.AmbiguousKeyError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, "C-500", ambiguous.Key)
	assert.Equal(t, "CSV", ambiguous.Source)
}

func TestReconcileUnknownEntity(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	_, err = engine.Reconcile(context.Background(), schema.Entity("ledger"), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestReconcilePayloadIsolation(t *testing.T) {
	engine, err := New()
	require.NoError(t, err)

	seen := mustTime(t, "2024-04-01T00:00:00Z")
	src := contactRecord("C-600", schema.SourceCSV, seen, "Original")

	result, err := engine.Reconcile(context.Background(), schema.EntityContact,
		[]SourceRecord{src}, nil)
	require.NoError(t, err)

	// Mutating the input payload after the run must not alter the result.
	src.Payload["contact_name"] = "Mutated"
	assert.Equal(t, "Original", result.Records[0].Payload["contact_name"])
}

func TestSourcePriorityStrategy(t *testing.T) {
	engine, err := New(WithStrategy(NewSourcePriorityStrategy(schema.SourceJSON)))
	require.NoError(t, err)

	older := mustTime(t, "2024-01-01T00:00:00Z")
	newer := mustTime(t, "2024-06-01T00:00:00Z")

	// CSV is newer, but the fixed-priority strategy ignores timestamps.
	csv := []SourceRecord{contactRecord("C-700", schema.SourceCSV, newer, "CSV Name")}
	json := []SourceRecord{contactRecord("C-700", schema.SourceJSON, older, "JSON Name")}

	result, err := engine.Reconcile(context.Background(), schema.EntityContact, csv, json)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, JSONFresh, result.Records[0].Provenance)
	assert.Equal(t, "JSON Name", result.Records[0].Payload["contact_name"])
	assert.Equal(t, "source-priority", result.Metadata.Strategy)
}

func TestNewRejectsNilStrategy(t *testing.T) {
	_, err := New(WithStrategy(nil))
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestProvenanceMapReport(t *testing.T) {
	m := Map{
		"A-1": {Key: "A-1", Tag: CSVOnly, Reason: "present in CSV export only"},
		"A-2": {Key: "A-2", Tag: Merged, Reason: "JSON sync newer", Lines: schema.SourceJSON},
	}

	report := m.Report()
	assert.Contains(t, report, "2 records reconciled")
	assert.Contains(t, report, "1 CSV_ONLY")
	assert.Contains(t, report, "1 MERGED")
	assert.Contains(t, report, "A-2: MERGED (JSON sync newer), lines from JSON")

	counts := m.CountByTag()
	assert.Equal(t, 1, counts[CSVOnly])
	assert.Equal(t, 1, counts[Merged])
	assert.Equal(t, []string{"A-1", "A-2"}, m.Keys())
}
