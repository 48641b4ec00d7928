// Package dedup collapses historical versions of a record to the row with
// the latest event time.
package dedup

import (
	"sort"

	"github.com/vexsearch/offstore/internal/eventtime"
	"github.com/vexsearch/offstore/internal/partition"
	"github.com/vexsearch/offstore/internal/value"
)

// Result describes one deduplication pass.
type Result struct {
	// VersionsSeen is the number of input rows.
	VersionsSeen int
	// Dropped is the number of superseded rows removed.
	Dropped int
	// Skipped is set when a required column is missing and the input was
	// returned unchanged.
	Skipped bool
}

// Deduplicate returns a partition holding, per identity, the row with the
// greatest event time. Unparsable event times sort before every parsable
// one; among equal event times the first row wins. Surviving rows keep
// their original relative order. Rows with a null identity are kept as is.
// The input is not modified.
func Deduplicate(p *partition.Partition, identityColumn, eventTimeColumn string) (*partition.Partition, Result) {
	res := Result{VersionsSeen: p.NumRows()}
	if identityColumn == "" || eventTimeColumn == "" || !p.HasColumn(identityColumn) || !p.HasColumn(eventTimeColumn) {
		res.Skipped = true
		return p, res
	}

	best := make(map[string]int, p.NumRows())
	keep := make([]int, 0, p.NumRows())
	for i := range p.Rows {
		id := p.Get(i, identityColumn)
		if value.IsNull(id) {
			keep = append(keep, i)
			continue
		}
		key := value.Key(id)
		cur, seen := best[key]
		if !seen || eventtime.Compare(p.Get(i, eventTimeColumn), p.Get(cur, eventTimeColumn)) > 0 {
			best[key] = i
		}
	}
	for _, i := range best {
		keep = append(keep, i)
	}
	sort.Ints(keep)

	res.Dropped = p.NumRows() - len(keep)
	if res.Dropped == 0 {
		return p, res
	}
	out := &partition.Partition{
		Columns: append([]string(nil), p.Columns...),
		Rows:    make([]partition.Row, len(keep)),
	}
	for j, i := range keep {
		out.Rows[j] = p.Rows[i]
	}
	return out, res
}
