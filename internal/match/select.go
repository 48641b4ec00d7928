package match

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/vexsearch/offstore/internal/partition"
	"github.com/vexsearch/offstore/internal/transform"
	"github.com/vexsearch/offstore/internal/value"
)

// AllKey is the per-key count bucket used by transforms.
const AllKey = "*"

// Filter is a column = literal constraint. A column absent from the
// partition reads as null.
type Filter struct {
	Column string
	Value  any
}

func (f Filter) String() string {
	return fmt.Sprintf("%s=%s", f.Column, value.Format(f.Value))
}

// Selection is the set of selected rows of one partition.
type Selection struct {
	Rows *roaring.Bitmap
	// Keys counts selected rows per match key: the old value for exact and
	// mapping specs, "<col>=<cv>, <target>=<old>" for conditional mappings
	// and AllKey for transforms.
	Keys map[string]int
}

// Count returns the number of selected rows.
func (s *Selection) Count() int {
	return int(s.Rows.GetCardinality())
}

// MatchesFilters reports whether row i satisfies every filter.
func MatchesFilters(p *partition.Partition, i int, filters []Filter) bool {
	for _, f := range filters {
		if !value.Equal(p.Get(i, f.Column), f.Value) {
			return false
		}
	}
	return true
}

// Evaluate reports whether row i is selected by spec and filters, and the
// match key it counts under.
func Evaluate(spec Spec, p *partition.Partition, i int, filters []Filter) (string, bool) {
	if !MatchesFilters(p, i, filters) {
		return "", false
	}
	key, _, ok := resolve(spec, p, i)
	return key, ok
}

// Select evaluates every row of p.
func Select(spec Spec, p *partition.Partition, filters []Filter) *Selection {
	sel := &Selection{Rows: roaring.New(), Keys: make(map[string]int)}
	for i := range p.Rows {
		key, ok := Evaluate(spec, p, i, filters)
		if !ok {
			continue
		}
		sel.Rows.Add(uint32(i))
		sel.Keys[key]++
	}
	return sel
}

// Assign computes the new target value for a selected row. fellBack is
// true when a transform substituted the current time.
func Assign(spec Spec, p *partition.Partition, i int) (v any, fellBack bool) {
	if t, ok := spec.(*Transform); ok {
		out := transform.Apply(t.Func, p.Rows[i], t.Column)
		return out.Value, out.FellBackToNow
	}
	_, pair, ok := resolve(spec, p, i)
	if !ok {
		return p.Get(i, spec.Target()), false
	}
	return pair.New, false
}

func resolve(spec Spec, p *partition.Partition, i int) (string, *Pair, bool) {
	target := spec.Target()
	if !p.HasColumn(target) {
		if _, ok := spec.(*Transform); ok {
			// Every filtered row is eligible when the column is being created.
			return AllKey, nil, true
		}
		return "", nil, false
	}
	cur := p.Get(i, target)

	switch s := spec.(type) {
	case *Exact:
		if value.Equal(cur, s.Old) {
			return value.Format(s.Old), &Pair{Old: s.Old, New: s.New}, true
		}
	case *Mapping:
		if pair, ok := s.Lookup(cur); ok {
			return value.Format(pair.Old), &pair, true
		}
	case *ConditionalMapping:
		for _, c := range s.Conditions {
			if !p.HasColumn(c.Column) || !value.Equal(p.Get(i, c.Column), c.Value) {
				continue
			}
			if pair, ok := c.Mapping.Lookup(cur); ok {
				key := fmt.Sprintf("%s=%s, %s=%s", c.Column, value.Format(c.Value), target, value.Format(pair.Old))
				return key, &pair, true
			}
		}
	case *Transform:
		if !s.OnlyMissing || value.IsNull(cur) {
			return AllKey, nil, true
		}
	}
	return "", nil, false
}
