package reconcile

import (
	"time"

	"github.com/ledgermap/ledgermap/pkg/schema"
)

// Result is the complete outcome of one reconciliation run for one entity.
type Result struct {
	Entity     schema.Entity
	Records    []Record
	Provenance Map
	Metadata   Metadata
}

// Metadata describes how a run was produced.
type Metadata struct {
	Strategy    string
	Description string
	StartedAt   time.Time
	FinishedAt  time.Time
	Stats       Stats
}

// Stats tallies a run's outcome per provenance tag.
type Stats struct {
	Total        int
	CSVOnly      int
	JSONOnly     int
	CSVPreferred int
	JSONFresh    int
	Merged       int
}

// ResultBuilder accumulates records and provenance during a run and produces
// an immutable Result.
type ResultBuilder struct {
	entity     schema.Entity
	records    []Record
	provenance Map
	strategy   Strategy
	startedAt  time.Time
}

// NewResultBuilder creates a new result builder.
func NewResultBuilder() *ResultBuilder {
	return &ResultBuilder{
		provenance: make(Map),
		startedAt:  time.Now().UTC(),
	}
}

// WithEntity sets the entity being reconciled.
func (b *ResultBuilder) WithEntity(entity schema.Entity) *ResultBuilder {
	b.entity = entity
	return b
}

// WithStrategy records the precedence strategy in the run metadata.
func (b *ResultBuilder) WithStrategy(strategy Strategy) *ResultBuilder {
	b.strategy = strategy
	return b
}

// WithRecord appends a reconciled record and its provenance.
func (b *ResultBuilder) WithRecord(rec Record, info Info) *ResultBuilder {
	b.records = append(b.records, rec)
	b.provenance[rec.Key] = info
	return b
}

// Build finalizes the run into a Result.
func (b *ResultBuilder) Build() *Result {
	stats := Stats{Total: len(b.records)}
	for _, rec := range b.records {
		switch rec.Provenance {
		case CSVOnly:
			stats.CSVOnly++
		case JSONOnly:
			stats.JSONOnly++
		case CSVPreferred:
			stats.CSVPreferred++
		case JSONFresh:
			stats.JSONFresh++
		case Merged:
			stats.Merged++
		}
	}

	meta := Metadata{
		StartedAt:  b.startedAt,
		FinishedAt: time.Now().UTC(),
		Stats:      stats,
	}
	if b.strategy != nil {
		meta.Strategy = b.strategy.Name()
		meta.Description = b.strategy.Description()
	}

	return &Result{
		Entity:     b.entity,
		Records:    b.records,
		Provenance: b.provenance,
		Metadata:   meta,
	}
}
