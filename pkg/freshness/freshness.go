// Package freshness decides which of two record versions is newer. Timestamps
// from the two exports arrive in heterogeneous formats and precisions; they
// are normalized onto a single absolute instant before comparison. A missing
// timestamp is treated as oldest possible, so a record with no observed
// timestamp never wins on freshness.
package freshness

import (
	"strconv"
	"strings"
	"time"
)

// Winner identifies which side of a comparison is fresher.
type Winner int

// Comparison outcomes.
const (
	Tie Winner = iota
	A
	B
)

// String returns the string representation of a winner.
func (w Winner) String() string {
	switch w {
	case A:
		return "A"
	case B:
		return "B"
	default:
		return "TIE"
	}
}

// layouts are the timestamp formats the two exports are known to produce,
// tried in order. Date-only layouts compare at midnight UTC.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// Parse normalizes a raw timestamp string to an absolute instant. The second
// return value reports whether the input was parseable; callers treat an
// unparseable or empty timestamp as missing, never as an error.
func Parse(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}

	// Unix seconds, which the JSON sync emits for some entities.
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), true
	}

	return time.Time{}, false
}

// Compare reports which of two instants is strictly newer. A zero instant is
// oldest possible: it loses to any real timestamp and ties with another zero.
// Exact equality is a Tie; the caller owns the tie-break policy.
func Compare(a, b time.Time) Winner {
	switch {
	case a.IsZero() && b.IsZero():
		return Tie
	case a.IsZero():
		return B
	case b.IsZero():
		return A
	case a.After(b):
		return A
	case b.After(a):
		return B
	default:
		return Tie
	}
}
