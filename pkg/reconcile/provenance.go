package reconcile

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ledgermap/ledgermap/pkg/schema"
)

// Info records how one reconciled record was produced: the provenance tag,
// which source's header fields won, where the line items came from, and the
// timestamps that drove the decision.
type Info struct {
	Key      string        `json:"key"`
	Tag      Provenance    `json:"tag"`
	Header   schema.Source `json:"header"`
	Lines    schema.Source `json:"lines,omitempty"`
	Reason   string        `json:"reason"`
	CSVSeen  time.Time     `json:"csv_seen,omitzero"`
	JSONSeen time.Time     `json:"json_seen,omitzero"`
}

// Map holds provenance info for every record of one run, keyed by business
// key.
type Map map[string]Info

// Get returns the provenance info for a business key.
func (m Map) Get(key string) (Info, bool) {
	info, ok := m[key]
	return info, ok
}

// Keys returns the business keys in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// CountByTag tallies records per provenance tag.
func (m Map) CountByTag() map[Provenance]int {
	counts := make(map[Provenance]int)
	for _, info := range m {
		counts[info.Tag]++
	}
	return counts
}

// Report renders an audit summary of the run, one line per record.
func (m Map) Report() string {
	var sb strings.Builder
	counts := m.CountByTag()
	sb.WriteString(fmt.Sprintf("%d records reconciled", len(m)))
	for _, tag := range []Provenance{CSVOnly, JSONOnly, CSVPreferred, JSONFresh, Merged} {
		if n := counts[tag]; n > 0 {
			sb.WriteString(fmt.Sprintf(", %d %s", n, tag))
		}
	}
	sb.WriteString("\n")
	for _, key := range m.Keys() {
		info := m[key]
		sb.WriteString(fmt.Sprintf("  %s: %s (%s)", key, info.Tag, info.Reason))
		if info.Lines != "" {
			sb.WriteString(fmt.Sprintf(", lines from %s", info.Lines))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
