// Package ledgermap reconciles a flat CSV export and a nested JSON API sync
// of the same business records into one canonical view with per-record
// provenance. The facade ties together mapping discovery, source loading,
// the reconciliation engine and optional SQLite persistence.
package ledgermap

import (
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ledgermap/ledgermap/internal/sources"
	"github.com/ledgermap/ledgermap/internal/store"
	"github.com/ledgermap/ledgermap/pkg/errors"
	"github.com/ledgermap/ledgermap/pkg/logging"
	"github.com/ledgermap/ledgermap/pkg/mapping"
	"github.com/ledgermap/ledgermap/pkg/reconcile"
	"github.com/ledgermap/ledgermap/pkg/schema"
)

// Inputs holds one entity's two raw source streams.
type Inputs struct {
	CSV  io.Reader
	JSON io.Reader
}

// Ledgermap is the top-level reconciliation service.
type Ledgermap interface {
	// BuildMappings discovers field mappings for an entity from both
	// sources' raw column names and installs them in the registry.
	BuildMappings(ctx context.Context, entity schema.Entity, csv, json mapping.Fields) ([]mapping.FieldMapping, error)

	// Mappings returns the installed mapping rows for an entity.
	Mappings(ctx context.Context, entity schema.Entity) ([]mapping.FieldMapping, error)

	// Reconcile loads both sources of one entity and produces a fresh
	// reconciled result.
	Reconcile(ctx context.Context, entity schema.Entity, in Inputs) (*reconcile.Result, error)

	// ReconcileAll reconciles several entities concurrently.
	ReconcileAll(ctx context.Context, inputs map[schema.Entity]Inputs) (map[schema.Entity]*reconcile.Result, error)

	// Close releases held resources.
	Close() error
}

// ledgermap is the internal implementation of the Ledgermap interface.
type ledgermap struct {
	mu       sync.RWMutex
	config   *config
	registry *mapping.Registry
	builder  *mapping.Builder
	engine   reconcile.Reconciler
	store    *store.Store
}

// New creates a new Ledgermap instance with the given options.
func New(opts ...Option) (Ledgermap, error) {
	lm := &ledgermap{
		config:   defaultConfig(),
		registry: mapping.NewRegistry(),
	}

	for _, opt := range opts {
		if err := opt(lm.config); err != nil {
			return nil, fmt.Errorf("applying options: %w", err)
		}
	}

	if lm.config.logger != nil {
		logging.SetDefault(*lm.config.logger)
	}

	lm.builder = mapping.NewBuilder(mapping.WithThreshold(lm.config.threshold))

	engine, err := reconcile.New(reconcile.WithStrategy(lm.config.strategy))
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	lm.engine = engine

	if lm.config.storePath != "" {
		s, err := store.Open(lm.config.storePath)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		lm.store = s
		if err := lm.restoreMappings(context.Background()); err != nil {
			s.Close()
			return nil, fmt.Errorf("restoring mappings: %w", err)
		}
	}

	return lm, nil
}

// restoreMappings loads previously persisted mapping rows into the registry.
func (l *ledgermap) restoreMappings(ctx context.Context) error {
	for _, entity := range schema.Entities() {
		rows, err := l.store.Mappings(ctx, entity)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}
		for _, source := range []schema.Source{schema.SourceCSV, schema.SourceJSON} {
			l.registry.Replace(entity, source, rows)
		}
	}
	return nil
}

// BuildMappings discovers field mappings for an entity and installs them.
func (l *ledgermap) BuildMappings(ctx context.Context, entity schema.Entity, csv, json mapping.Fields) ([]mapping.FieldMapping, error) {
	rows, err := l.builder.Build(entity, csv, json)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	for _, source := range []schema.Source{schema.SourceCSV, schema.SourceJSON} {
		l.registry.Replace(entity, source, rows)
	}
	l.mu.Unlock()

	if l.store != nil {
		for _, source := range []schema.Source{schema.SourceCSV, schema.SourceJSON} {
			var bySource []mapping.FieldMapping
			for _, row := range rows {
				if row.Source == source {
					bySource = append(bySource, row)
				}
			}
			if err := l.store.ReplaceMappings(ctx, entity, source, bySource); err != nil {
				return nil, err
			}
		}
	}

	logging.Ctx(ctx).Info().
		Str("entity", entity.String()).
		Int("mappings", len(rows)).
		Msg("Field mappings installed")
	return rows, nil
}

// Mappings returns the installed mapping rows for an entity.
func (l *ledgermap) Mappings(ctx context.Context, entity schema.Entity) ([]mapping.FieldMapping, error) {
	if _, err := schema.Get(entity); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.registry.List(entity), nil
}

// Reconcile loads both sources of one entity and produces a fresh result.
// When a store is configured the run is persisted before it is returned.
func (l *ledgermap) Reconcile(ctx context.Context, entity schema.Entity, in Inputs) (*reconcile.Result, error) {
	if in.CSV == nil || in.JSON == nil {
		return nil, errors.NewValidationError("inputs", nil, "both CSV and JSON inputs are required")
	}

	l.mu.RLock()
	if len(l.registry.List(entity)) == 0 {
		l.mu.RUnlock()
		return nil, errors.NewNotFoundError("field mappings", entity.String())
	}
	l.mu.RUnlock()

	csvLoader, err := sources.NewCSVLoader(entity, l.registry)
	if err != nil {
		return nil, err
	}
	jsonLoader, err := sources.NewJSONLoader(entity, l.registry)
	if err != nil {
		return nil, err
	}

	csvRecords, err := csvLoader.Load(in.CSV)
	if err != nil {
		return nil, err
	}
	jsonRecords, err := jsonLoader.Load(in.JSON)
	if err != nil {
		return nil, err
	}

	result, err := l.engine.Reconcile(ctx, entity, csvRecords, jsonRecords)
	if err != nil {
		return nil, err
	}

	if l.store != nil {
		runID, err := l.store.SaveRun(ctx, result)
		if err != nil {
			return nil, err
		}
		logging.Ctx(ctx).Info().
			Str("entity", entity.String()).
			Str("run_id", runID).
			Int("records", len(result.Records)).
			Msg("Reconciliation run persisted")
	}

	return result, nil
}

// ReconcileAll reconciles several entities concurrently. The first failing
// entity cancels the rest; partial results are discarded.
func (l *ledgermap) ReconcileAll(ctx context.Context, inputs map[schema.Entity]Inputs) (map[schema.Entity]*reconcile.Result, error) {
	g, ctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	results := make(map[schema.Entity]*reconcile.Result, len(inputs))

	for entity, in := range inputs {
		entity, in := entity, in
		g.Go(func() error {
			result, err := l.Reconcile(ctx, entity, in)
			if err != nil {
				return fmt.Errorf("reconciling %s: %w", entity, err)
			}
			mu.Lock()
			results[entity] = result
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Close releases held resources.
func (l *ledgermap) Close() error {
	if l.store != nil {
		return l.store.Close()
	}
	return nil
}
