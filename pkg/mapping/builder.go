package mapping

import (
	"sort"

	"github.com/ledgermap/ledgermap/pkg/logging"
	"github.com/ledgermap/ledgermap/pkg/normalize"
	"github.com/ledgermap/ledgermap/pkg/schema"
)

// Fixed confidence scale. Exact normalized-name equality is full confidence;
// the fuzzy fallbacks sit on a declining scale below it so a threshold can
// cleanly separate "trusted" from "guessed".
const (
	ConfidenceExact     = 1.0
	ConfidenceSubstring = 0.8
	ConfidenceSimilar   = 0.6

	// DefaultThreshold keeps exact, substring and similarity matches and
	// drops everything weaker.
	DefaultThreshold = 0.6

	// similarityFloor is the minimum normalized Levenshtein similarity for
	// the ConfidenceSimilar tier.
	similarityFloor = 0.75
)

// Fields describes one source's raw field set for a mapping build.
type Fields struct {
	Table string
	Names []string
}

// Builder constructs field mappings by matching raw source fields against an
// entity's canonical schema.
type Builder struct {
	threshold float64
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithThreshold sets the confidence threshold below which no mapping is
// recorded.
func WithThreshold(threshold float64) BuilderOption {
	return func(b *Builder) {
		b.threshold = threshold
	}
}

// NewBuilder creates a Builder with the default threshold.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{threshold: DefaultThreshold}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build matches each canonical field of entity against both sources' raw
// field sets and returns one FieldMapping row per (canonical field, source).
// Sub-threshold candidates produce a row with an empty SourceField: absence
// of a mapping is recorded, never a low-confidence guess. Build is
// deterministic and idempotent over the same inputs.
func (b *Builder) Build(entity schema.Entity, csv, json Fields) ([]FieldMapping, error) {
	s, err := schema.Get(entity)
	if err != nil {
		return nil, err
	}

	canonical := append(s.FieldNames(), s.LineFieldNames()...)

	var out []FieldMapping
	for _, pair := range []struct {
		source schema.Source
		fields Fields
	}{
		{schema.SourceCSV, csv},
		{schema.SourceJSON, json},
	} {
		names := append([]string(nil), pair.fields.Names...)
		sort.Strings(names)

		for _, field := range canonical {
			m := FieldMapping{
				Entity:         entity,
				CanonicalField: field,
				Source:         pair.source,
				SourceTable:    pair.fields.Table,
			}

			best, confidence := bestMatch(field, names)
			if confidence >= b.threshold {
				m.SourceField = best
				m.Confidence = confidence
			} else if confidence > 0 {
				logging.Debug().
					Str("entity", entity.String()).
					Str("source", pair.source.String()).
					Str("canonical_field", field).
					Str("candidate", best).
					Float64("confidence", confidence).
					Msg("Dropping sub-threshold mapping candidate")
			}

			out = append(out, m)
		}
	}

	return out, nil
}

// bestMatch scores every raw field against a canonical field and returns the
// strongest candidate. Raw names must be pre-sorted; on score ties the
// lexicographically smallest raw field wins, keeping results reproducible.
func bestMatch(canonicalField string, sortedRaw []string) (string, float64) {
	var best string
	var bestScore float64

	for _, raw := range sortedRaw {
		score := Score(canonicalField, raw)
		if score > bestScore {
			best = raw
			bestScore = score
		}
	}
	return best, bestScore
}

// Score rates how well a raw source field matches a canonical field on the
// fixed confidence scale. Both names are normalized first, so "Contact ID"
// scores 1.0 against "contact_id".
func Score(canonicalField, rawField string) float64 {
	canonical := normalize.Column(canonicalField)
	raw := normalize.Column(rawField)

	if canonical == "" || raw == "" {
		return 0
	}
	if canonical == raw {
		return ConfidenceExact
	}
	if contains(canonical, raw) || contains(raw, canonical) {
		return ConfidenceSubstring
	}
	if similarity(canonical, raw) >= similarityFloor {
		return ConfidenceSimilar
	}
	return 0
}

// contains reports whether inner is a token-boundary substring of outer.
// Single-character fragments are not meaningful containment.
func contains(outer, inner string) bool {
	if len(inner) < 2 || len(inner) >= len(outer) {
		return false
	}
	idx := indexOf(outer, inner)
	return idx >= 0
}

func indexOf(outer, inner string) int {
	for i := 0; i+len(inner) <= len(outer); i++ {
		if outer[i:i+len(inner)] == inner {
			// Containment counts only when it lines up with underscore
			// token boundaries, so "rate" does not match "corporate".
			startOK := i == 0 || outer[i-1] == '_'
			end := i + len(inner)
			endOK := end == len(outer) || outer[end] == '_'
			if startOK && endOK {
				return i
			}
		}
	}
	return -1
}
