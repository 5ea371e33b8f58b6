// Package sources loads the two raw inputs of a reconciliation run: the flat
// CSV export and the nested JSON API sync. Both loaders emit canonical source
// records, so by the time the engine sees data the source shapes are gone.
package sources

import (
	"fmt"
	"time"

	"github.com/ledgermap/ledgermap/pkg/errors"
	"github.com/ledgermap/ledgermap/pkg/freshness"
	"github.com/ledgermap/ledgermap/pkg/schema"
)

// lastModifiedField is the canonical datetime column every entity carries.
const lastModifiedField = "last_modified_time"

// recordKey extracts the business key from a canonical payload.
func recordKey(s *schema.Schema, payload map[string]any, position int) (string, error) {
	v, ok := payload[s.Key]
	if !ok {
		return "", errors.NewValidationError(s.Key, nil,
			fmt.Sprintf("row %d has no value for the business key", position))
	}
	key := fmt.Sprintf("%v", v)
	if key == "" {
		return "", errors.NewValidationError(s.Key, v,
			fmt.Sprintf("row %d has an empty business key", position))
	}
	return key, nil
}

// observedAt extracts and parses the last-modified timestamp from a canonical
// payload. Absent or unparseable values yield the zero time, which the
// freshness rules treat as oldest possible.
func observedAt(payload map[string]any) time.Time {
	v, ok := payload[lastModifiedField]
	if !ok {
		return time.Time{}
	}
	raw, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	ts, ok := freshness.Parse(raw)
	if !ok {
		return time.Time{}
	}
	return ts
}
