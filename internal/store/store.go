// Package store persists field mappings and reconciliation runs in an
// embedded SQLite database. Every reconciliation run is written as a whole
// under a fresh run id inside one transaction, so readers never observe a
// half-written run.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ledgermap/ledgermap/pkg/errors"
	"github.com/ledgermap/ledgermap/pkg/logging"
	"github.com/ledgermap/ledgermap/pkg/mapping"
	"github.com/ledgermap/ledgermap/pkg/reconcile"
	"github.com/ledgermap/ledgermap/pkg/schema"
)

// Store is a SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Run is the stored header of one persisted reconciliation run.
type Run struct {
	ID         string
	Entity     schema.Entity
	Strategy   string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS field_mappings (
	entity          TEXT NOT NULL,
	source          TEXT NOT NULL,
	canonical_field TEXT NOT NULL,
	source_table    TEXT NOT NULL,
	source_field    TEXT NOT NULL,
	confidence      REAL NOT NULL,
	PRIMARY KEY (entity, source, canonical_field)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	entity      TEXT NOT NULL,
	strategy    TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	total       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS reconciled_records (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	entity      TEXT NOT NULL,
	record_key  TEXT NOT NULL,
	provenance  TEXT NOT NULL,
	payload     TEXT NOT NULL,
	observed_at TEXT NOT NULL,
	PRIMARY KEY (run_id, record_key)
);

CREATE TABLE IF NOT EXISTS reconciled_line_items (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	record_key TEXT NOT NULL,
	position   INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	PRIMARY KEY (run_id, record_key, position)
);
`

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WrapStore("open", "", err)
	}

	// modernc.org/sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.WrapStore("configure", "", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.WrapStore("migrate", "", err)
	}

	logging.Debug().Str("path", path).Msg("Store opened")
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.WrapStore("close", "", err)
	}
	return nil
}

// ReplaceMappings atomically swaps the stored mapping rows for one entity and
// source pair.
func (s *Store) ReplaceMappings(ctx context.Context, entity schema.Entity, source schema.Source, mappings []mapping.FieldMapping) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapStore("begin", "field_mappings", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM field_mappings WHERE entity = ? AND source = ?",
		entity.String(), source.String()); err != nil {
		return errors.WrapStore("delete", "field_mappings", err)
	}

	for _, m := range mappings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO field_mappings (entity, source, canonical_field, source_table, source_field, confidence)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			m.Entity.String(), m.Source.String(), m.CanonicalField, m.SourceTable, m.SourceField, m.Confidence); err != nil {
			return errors.WrapStore("insert", "field_mappings", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapStore("commit", "field_mappings", err)
	}
	return nil
}

// Mappings loads every stored mapping row for an entity, sorted by source
// then canonical field.
func (s *Store) Mappings(ctx context.Context, entity schema.Entity) ([]mapping.FieldMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity, source, canonical_field, source_table, source_field, confidence
		 FROM field_mappings WHERE entity = ?
		 ORDER BY source, canonical_field`,
		entity.String())
	if err != nil {
		return nil, errors.WrapStore("query", "field_mappings", err)
	}
	defer rows.Close()

	var out []mapping.FieldMapping
	for rows.Next() {
		var m mapping.FieldMapping
		var ent, src string
		if err := rows.Scan(&ent, &src, &m.CanonicalField, &m.SourceTable, &m.SourceField, &m.Confidence); err != nil {
			return nil, errors.WrapStore("scan", "field_mappings", err)
		}
		m.Entity = schema.Entity(ent)
		m.Source = schema.Source(src)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStore("query", "field_mappings", err)
	}
	return out, nil
}

// SaveRun persists one reconciliation result under a fresh run id. The run
// header, records and line items commit together or not at all.
func (s *Store) SaveRun(ctx context.Context, result *reconcile.Result) (string, error) {
	if result == nil {
		return "", errors.NewValidationError("result", nil, "result cannot be nil")
	}

	runID := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.WrapStore("begin", "runs", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, entity, strategy, started_at, finished_at, total)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID,
		result.Entity.String(),
		result.Metadata.Strategy,
		result.Metadata.StartedAt.UTC().Format(time.RFC3339Nano),
		result.Metadata.FinishedAt.UTC().Format(time.RFC3339Nano),
		result.Metadata.Stats.Total); err != nil {
		return "", errors.WrapStore("insert", "runs", err)
	}

	for _, rec := range result.Records {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return "", errors.WrapStore("encode", "reconciled_records", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reconciled_records (run_id, entity, record_key, provenance, payload, observed_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			runID, rec.Entity.String(), rec.Key, rec.Provenance.String(),
			string(payload), formatObserved(rec.ObservedAt)); err != nil {
			return "", errors.WrapStore("insert", "reconciled_records", err)
		}

		for _, line := range rec.Lines {
			linePayload, err := json.Marshal(line.Payload)
			if err != nil {
				return "", errors.WrapStore("encode", "reconciled_line_items", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO reconciled_line_items (run_id, record_key, position, payload)
				 VALUES (?, ?, ?, ?)`,
				runID, rec.Key, line.Position, string(linePayload)); err != nil {
				return "", errors.WrapStore("insert", "reconciled_line_items", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", errors.WrapStore("commit", "runs", err)
	}

	logging.Debug().
		Str("run_id", runID).
		Str("entity", result.Entity.String()).
		Int("records", len(result.Records)).
		Msg("Run persisted")
	return runID, nil
}

// Runs lists stored run headers for an entity, newest first.
func (s *Store) Runs(ctx context.Context, entity schema.Entity) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity, strategy, started_at, finished_at, total
		 FROM runs WHERE entity = ?
		 ORDER BY started_at DESC`,
		entity.String())
	if err != nil {
		return nil, errors.WrapStore("query", "runs", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var ent, started, finished string
		if err := rows.Scan(&r.ID, &ent, &r.Strategy, &started, &finished, &r.Total); err != nil {
			return nil, errors.WrapStore("scan", "runs", err)
		}
		r.Entity = schema.Entity(ent)
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, errors.WrapStore("parse", "runs", err)
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, errors.WrapStore("parse", "runs", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStore("query", "runs", err)
	}
	return out, nil
}

// Records loads the reconciled records of one persisted run, with line items
// reattached in position order.
func (s *Store) Records(ctx context.Context, runID string) ([]reconcile.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity, record_key, provenance, payload, observed_at
		 FROM reconciled_records WHERE run_id = ?
		 ORDER BY record_key`,
		runID)
	if err != nil {
		return nil, errors.WrapStore("query", "reconciled_records", err)
	}
	defer rows.Close()

	var out []reconcile.Record
	for rows.Next() {
		var rec reconcile.Record
		var ent, prov, payload, observed string
		if err := rows.Scan(&ent, &rec.Key, &prov, &payload, &observed); err != nil {
			return nil, errors.WrapStore("scan", "reconciled_records", err)
		}
		rec.Entity = schema.Entity(ent)
		rec.Provenance = reconcile.Provenance(prov)
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return nil, errors.WrapStore("decode", "reconciled_records", err)
		}
		if observed != "" {
			if rec.ObservedAt, err = time.Parse(time.RFC3339Nano, observed); err != nil {
				return nil, errors.WrapStore("parse", "reconciled_records", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStore("query", "reconciled_records", err)
	}

	if len(out) == 0 {
		return nil, errors.NewNotFoundError("run", runID)
	}

	for i := range out {
		lines, err := s.lineItems(ctx, runID, out[i].Key)
		if err != nil {
			return nil, err
		}
		out[i].Lines = lines
	}
	return out, nil
}

func (s *Store) lineItems(ctx context.Context, runID, key string) ([]reconcile.LineItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, payload FROM reconciled_line_items
		 WHERE run_id = ? AND record_key = ?
		 ORDER BY position`,
		runID, key)
	if err != nil {
		return nil, errors.WrapStore("query", "reconciled_line_items", err)
	}
	defer rows.Close()

	var out []reconcile.LineItem
	for rows.Next() {
		line := reconcile.LineItem{Key: key}
		var payload string
		if err := rows.Scan(&line.Position, &payload); err != nil {
			return nil, errors.WrapStore("scan", "reconciled_line_items", err)
		}
		if err := json.Unmarshal([]byte(payload), &line.Payload); err != nil {
			return nil, errors.WrapStore("decode", "reconciled_line_items", err)
		}
		out = append(out, line)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStore("query", "reconciled_line_items", err)
	}
	return out, nil
}

func formatObserved(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
