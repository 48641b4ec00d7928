// Package match defines the match specifications that select rows for
// mutation and the literal or computed values they assign.
package match

import (
	"fmt"
	"sort"

	"github.com/vexsearch/offstore/internal/transform"
	"github.com/vexsearch/offstore/internal/value"
)

// Kind names a match specification variant.
type Kind string

const (
	KindExact       Kind = "exact"
	KindMapping     Kind = "mapping"
	KindConditional Kind = "conditional_mapping"
	KindTransform   Kind = "transform"
)

// Spec is one of *Exact, *Mapping, *ConditionalMapping or *Transform.
type Spec interface {
	Kind() Kind
	// Target is the column being mutated.
	Target() string
	sealed()
}

// Exact selects rows whose target equals Old and assigns New.
// A nil Old selects rows where the target is null.
type Exact struct {
	Column string
	Old    any
	New    any
}

func (*Exact) Kind() Kind       { return KindExact }
func (s *Exact) Target() string { return s.Column }
func (*Exact) sealed()          {}

// Pair is one old to new assignment.
type Pair struct {
	Old any
	New any
}

// Mapping selects rows whose target equals one of the Old values.
type Mapping struct {
	Column string
	Pairs  []Pair
	index  map[string]int
}

// NewMapping builds a mapping; pairs are kept in the given order and a
// duplicate old value keeps its last assignment.
func NewMapping(column string, pairs []Pair) (*Mapping, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: mapping for %q is empty", ErrInvalidSpecification, column)
	}
	m := &Mapping{Column: column, index: make(map[string]int, len(pairs))}
	for _, p := range pairs {
		k := value.Key(p.Old)
		if i, ok := m.index[k]; ok {
			m.Pairs[i].New = p.New
			continue
		}
		m.index[k] = len(m.Pairs)
		m.Pairs = append(m.Pairs, p)
	}
	return m, nil
}

// Lookup returns the pair whose old value equals v.
func (m *Mapping) Lookup(v any) (Pair, bool) {
	i, ok := m.index[value.Key(v)]
	if !ok {
		return Pair{}, false
	}
	return m.Pairs[i], true
}

func (*Mapping) Kind() Kind       { return KindMapping }
func (s *Mapping) Target() string { return s.Column }
func (*Mapping) sealed()          {}

// Condition is the mapping that applies when Column equals Value.
type Condition struct {
	Column  string
	Value   any
	Mapping *Mapping
}

// ConditionalMapping applies the first condition whose column equals its
// value and whose mapping contains the target value.
type ConditionalMapping struct {
	Column     string
	Conditions []Condition
}

// NewConditionalMapping builds a conditional mapping over one condition
// column. rules maps condition values to old to new assignments.
func NewConditionalMapping(target, conditionColumn string, rules map[string]map[string]any) (*ConditionalMapping, error) {
	return NewMultiConditionalMapping(target, map[string]map[string]map[string]any{conditionColumn: rules})
}

// NewMultiConditionalMapping builds a conditional mapping from
// column -> condition value -> old -> new. Conditions are ordered by column,
// then by condition value.
func NewMultiConditionalMapping(target string, rules map[string]map[string]map[string]any) (*ConditionalMapping, error) {
	cm := &ConditionalMapping{Column: target}
	for _, col := range sortedKeys(rules) {
		if col == "" {
			return nil, fmt.Errorf("%w: empty condition column", ErrInvalidSpecification)
		}
		byValue := rules[col]
		for _, cv := range sortedKeys(byValue) {
			m, err := NewMapping(target, mapPairs(byValue[cv]))
			if err != nil {
				return nil, fmt.Errorf("%w: condition %s=%s has no assignments", ErrInvalidSpecification, col, cv)
			}
			cm.Conditions = append(cm.Conditions, Condition{Column: col, Value: cv, Mapping: m})
		}
	}
	if len(cm.Conditions) == 0 {
		return nil, fmt.Errorf("%w: conditional mapping for %q is empty", ErrInvalidSpecification, target)
	}
	return cm, nil
}

func (*ConditionalMapping) Kind() Kind       { return KindConditional }
func (s *ConditionalMapping) Target() string { return s.Column }
func (*ConditionalMapping) sealed()          {}

// Transform selects every filtered row, or only rows where the target is
// null when OnlyMissing is set, and computes the new value with Func.
type Transform struct {
	Column      string
	Func        transform.Transform
	OnlyMissing bool
}

func (*Transform) Kind() Kind       { return KindTransform }
func (s *Transform) Target() string { return s.Column }
func (*Transform) sealed()          {}

// TargetsAbsent reports whether spec only selects rows whose target is null,
// which lets the pruner narrow the file set.
func TargetsAbsent(spec Spec) bool {
	switch s := spec.(type) {
	case *Exact:
		return value.IsNull(s.Old)
	case *Transform:
		return s.OnlyMissing
	}
	return false
}

// Describe renders spec for logs and confirmation prompts.
func Describe(spec Spec) string {
	switch s := spec.(type) {
	case *Exact:
		return fmt.Sprintf("%s: %s -> %s", s.Column, value.Format(s.Old), value.Format(s.New))
	case *Mapping:
		return fmt.Sprintf("%s: %d value mappings", s.Column, len(s.Pairs))
	case *ConditionalMapping:
		return fmt.Sprintf("%s: %d conditional mappings", s.Column, len(s.Conditions))
	case *Transform:
		if s.OnlyMissing {
			return fmt.Sprintf("%s: %s (missing values only)", s.Column, s.Func.Name())
		}
		return fmt.Sprintf("%s: %s", s.Column, s.Func.Name())
	}
	return string(spec.Kind())
}

func mapPairs(m map[string]any) []Pair {
	pairs := make([]Pair, 0, len(m))
	for _, k := range sortedKeys(m) {
		pairs = append(pairs, Pair{Old: k, New: value.Normalize(m[k])})
	}
	return pairs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
