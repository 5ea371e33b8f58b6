package reconcile

import (
	"fmt"
	"time"

	"github.com/ledgermap/ledgermap/pkg/freshness"
	"github.com/ledgermap/ledgermap/pkg/schema"
)

// Strategy decides which source's header fields win when a business key
// appears in both sources.
type Strategy interface {
	// Name returns the strategy identifier for logs and run metadata.
	Name() string

	// Description returns a human-readable summary of the policy.
	Description() string

	// Resolve picks the winning source for one overlapping key and returns
	// the reason for the decision.
	Resolve(key string, csv, json SourceRecord) (schema.Source, string)
}

// FreshnessStrategy resolves overlaps by last-modified timestamp. A missing
// timestamp is treated as the oldest possible value, and ties go to CSV: the
// export is the hand-audited source, so it keeps precedence unless the sync
// is strictly newer.
type FreshnessStrategy struct{}

// NewFreshnessStrategy returns the default freshness-based strategy.
func NewFreshnessStrategy() *FreshnessStrategy {
	return &FreshnessStrategy{}
}

// Name returns the strategy identifier.
func (s *FreshnessStrategy) Name() string {
	return "freshness"
}

// Description returns a human-readable summary of the policy.
func (s *FreshnessStrategy) Description() string {
	return "newest last-modified timestamp wins, CSV on tie"
}

// Resolve picks the fresher source for one overlapping key.
func (s *FreshnessStrategy) Resolve(key string, csv, json SourceRecord) (schema.Source, string) {
	switch freshness.Compare(csv.ObservedAt, json.ObservedAt) {
	case freshness.B:
		return schema.SourceJSON, fmt.Sprintf("JSON sync newer (%s > %s)",
			formatSeen(json.ObservedAt), formatSeen(csv.ObservedAt))
	case freshness.A:
		return schema.SourceCSV, fmt.Sprintf("CSV export newer (%s > %s)",
			formatSeen(csv.ObservedAt), formatSeen(json.ObservedAt))
	default:
		return schema.SourceCSV, "timestamps tie, CSV export keeps precedence"
	}
}

// SourcePriorityStrategy resolves every overlap in favor of one fixed source
// regardless of timestamps. Useful for forced re-imports where one source is
// known authoritative.
type SourcePriorityStrategy struct {
	preferred schema.Source
}

// NewSourcePriorityStrategy returns a strategy that always prefers the given
// source.
func NewSourcePriorityStrategy(preferred schema.Source) *SourcePriorityStrategy {
	return &SourcePriorityStrategy{preferred: preferred}
}

// Name returns the strategy identifier.
func (s *SourcePriorityStrategy) Name() string {
	return "source-priority"
}

// Description returns a human-readable summary of the policy.
func (s *SourcePriorityStrategy) Description() string {
	return fmt.Sprintf("always prefer %s", s.preferred)
}

// Resolve picks the fixed preferred source.
func (s *SourcePriorityStrategy) Resolve(key string, csv, json SourceRecord) (schema.Source, string) {
	return s.preferred, fmt.Sprintf("fixed precedence for %s", s.preferred)
}

func formatSeen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}
