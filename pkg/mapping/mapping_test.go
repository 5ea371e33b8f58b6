package mapping_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermap/ledgermap/pkg/mapping"
	"github.com/ledgermap/ledgermap/pkg/schema"
)

func contactFields() (csv, json mapping.Fields) {
	csv = mapping.Fields{
		Table: "Contacts.csv",
		Names: []string{
			"Contact ID", "Contact Name", "Company Name", "EmailID",
			"Phone", "Billing Address", "Shipping Address", "Status",
			"Last Modified Time",
		},
	}
	json = mapping.Fields{
		Table: "contacts",
		Names: []string{
			"contact_id", "contact_name", "company_name", "email",
			"billing_address", "shipping_address", "status",
			"last_modified_time", "obscure_custom_field",
		},
	}
	return csv, json
}

func TestBuildExactMatches(t *testing.T) {
	b := mapping.NewBuilder()
	csv, json := contactFields()

	mappings, err := b.Build(schema.EntityContact, csv, json)
	require.NoError(t, err)

	byKey := indexMappings(mappings)

	// CSV "Contact ID" normalizes exactly onto contact_id.
	m := byKey[key(schema.SourceCSV, "contact_id")]
	assert.Equal(t, "Contact ID", m.SourceField)
	assert.Equal(t, mapping.ConfidenceExact, m.Confidence)
	assert.Equal(t, "Contacts.csv", m.SourceTable)
	assert.True(t, m.Mapped())

	// "EmailID" normalizes to email_id, also exact.
	m = byKey[key(schema.SourceCSV, "email_id")]
	assert.Equal(t, "EmailID", m.SourceField)
	assert.Equal(t, mapping.ConfidenceExact, m.Confidence)
}

func TestBuildFuzzyAndAbsent(t *testing.T) {
	b := mapping.NewBuilder()
	csv, json := contactFields()

	mappings, err := b.Build(schema.EntityContact, csv, json)
	require.NoError(t, err)

	byKey := indexMappings(mappings)

	// JSON "email" is a token-boundary substring of canonical email_id.
	m := byKey[key(schema.SourceJSON, "email_id")]
	assert.Equal(t, "email", m.SourceField)
	assert.Equal(t, mapping.ConfidenceSubstring, m.Confidence)

	// The JSON feed has no phone column at all: the row exists but records
	// absence, not a guess.
	m = byKey[key(schema.SourceJSON, "phone")]
	assert.False(t, m.Mapped())
	assert.Empty(t, m.SourceField)
	assert.Zero(t, m.Confidence)
}

func TestBuildIdempotent(t *testing.T) {
	b := mapping.NewBuilder()
	csv, json := contactFields()

	first, err := b.Build(schema.EntityContact, csv, json)
	require.NoError(t, err)
	second, err := b.Build(schema.EntityContact, csv, json)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBuildUnknownEntity(t *testing.T) {
	b := mapping.NewBuilder()
	_, err := b.Build(schema.Entity("estimate"), mapping.Fields{}, mapping.Fields{})
	assert.Error(t, err)
}

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		canonical string
		raw       string
		want      float64
	}{
		{"exact after normalization", "contact_id", "Contact ID", mapping.ConfidenceExact},
		{"exact identity", "invoice_number", "invoice_number", mapping.ConfidenceExact},
		{"substring at token boundary", "email_id", "email", mapping.ConfidenceSubstring},
		{"near miss typo", "invoice_number", "Invoice Numbr", mapping.ConfidenceSimilar},
		{"no token boundary", "rate", "corporate", 0},
		{"unrelated", "contact_id", "obscure_custom_field", 0},
		{"empty raw", "contact_id", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapping.Score(tt.canonical, tt.raw))
		})
	}
}

func TestHighThresholdDropsFuzzyMatches(t *testing.T) {
	b := mapping.NewBuilder(mapping.WithThreshold(0.9))
	csv, json := contactFields()

	mappings, err := b.Build(schema.EntityContact, csv, json)
	require.NoError(t, err)

	byKey := indexMappings(mappings)

	// Substring confidence 0.8 no longer clears the threshold.
	m := byKey[key(schema.SourceJSON, "email_id")]
	assert.False(t, m.Mapped())

	// Exact matches survive.
	m = byKey[key(schema.SourceCSV, "contact_id")]
	assert.True(t, m.Mapped())
}

func TestRegistryReplaceAndLookup(t *testing.T) {
	reg := mapping.NewRegistry()
	b := mapping.NewBuilder()
	csv, json := contactFields()

	mappings, err := b.Build(schema.EntityContact, csv, json)
	require.NoError(t, err)

	reg.Replace(schema.EntityContact, schema.SourceCSV, mappings)
	reg.Replace(schema.EntityContact, schema.SourceJSON, mappings)

	m, ok := reg.Lookup(schema.EntityContact, schema.SourceCSV, "contact_id")
	require.True(t, ok)
	assert.Equal(t, "Contact ID", m.SourceField)

	list := reg.List(schema.EntityContact)
	assert.NotEmpty(t, list)
	for i := 1; i < len(list); i++ {
		if list[i-1].Source == list[i].Source {
			assert.Less(t, list[i-1].CanonicalField, list[i].CanonicalField)
		}
	}
}

func TestRegistryApply(t *testing.T) {
	reg := mapping.NewRegistry()
	b := mapping.NewBuilder()
	csv, json := contactFields()

	mappings, err := b.Build(schema.EntityContact, csv, json)
	require.NoError(t, err)
	reg.Replace(schema.EntityContact, schema.SourceCSV, mappings)

	payload := reg.Apply(schema.EntityContact, schema.SourceCSV, map[string]any{
		"Contact ID":   "C-100",
		"Contact Name": "Acme Traders",
		"EmailID":      "billing@acme.example",
		"Unmapped Col": "ignored",
	})

	assert.Equal(t, "C-100", payload["contact_id"])
	assert.Equal(t, "Acme Traders", payload["contact_name"])
	assert.Equal(t, "billing@acme.example", payload["email_id"])
	assert.NotContains(t, payload, "Unmapped Col")
}

func TestRegistryConcurrentReads(t *testing.T) {
	reg := mapping.NewRegistry()
	b := mapping.NewBuilder()
	csv, json := contactFields()

	mappings, err := b.Build(schema.EntityContact, csv, json)
	require.NoError(t, err)
	reg.Replace(schema.EntityContact, schema.SourceCSV, mappings)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Lookup(schema.EntityContact, schema.SourceCSV, "contact_id")
				reg.List(schema.EntityContact)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			reg.Replace(schema.EntityContact, schema.SourceCSV, mappings)
		}
	}()
	wg.Wait()
}

func key(source schema.Source, field string) string {
	return string(source) + ":" + field
}

func indexMappings(mappings []mapping.FieldMapping) map[string]mapping.FieldMapping {
	out := make(map[string]mapping.FieldMapping, len(mappings))
	for _, m := range mappings {
		out[key(m.Source, m.CanonicalField)] = m
	}
	return out
}
