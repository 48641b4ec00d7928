package match

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vexsearch/offstore/internal/transform"
	"github.com/vexsearch/offstore/internal/value"
)

// Params are the user-supplied inputs of a match specification. Exactly one
// of Exact, Mapping/MappingFile, Conditional or Transform must be set.
type Params struct {
	Column string

	Exact *Pair

	Mapping     []Pair
	MappingFile string

	// Conditional is either {"<col>": {"<cv>": {"<old>": "<new>"}}} or, with
	// ConditionColumn set, {"<cv>": {"<old>": "<new>"}}.
	Conditional     string
	ConditionColumn string

	Transform   *transform.Config
	OnlyMissing bool
}

// Build validates params and returns the active specification.
func Build(p Params) (Spec, error) {
	return BuildWith(transform.NewRegistry(), p)
}

// BuildWith is Build with an explicit transform registry.
func BuildWith(reg *transform.Registry, p Params) (Spec, error) {
	if strings.TrimSpace(p.Column) == "" {
		return nil, fmt.Errorf("%w: target column is required", ErrInvalidSpecification)
	}

	var supplied []string
	if p.Exact != nil {
		supplied = append(supplied, "old/new value")
	}
	if len(p.Mapping) > 0 || p.MappingFile != "" {
		supplied = append(supplied, "mapping")
	}
	if p.Conditional != "" {
		supplied = append(supplied, "conditional mapping")
	}
	if p.Transform != nil {
		supplied = append(supplied, "transform")
	}
	switch len(supplied) {
	case 0:
		return nil, fmt.Errorf("%w: one of old/new value, mapping, conditional mapping or transform is required", ErrInvalidSpecification)
	case 1:
	default:
		return nil, fmt.Errorf("%w: only one variant may be given, got %s", ErrInvalidSpecification, strings.Join(supplied, " and "))
	}
	if len(p.Mapping) > 0 && p.MappingFile != "" {
		return nil, fmt.Errorf("%w: mapping pairs and mapping file are mutually exclusive", ErrInvalidSpecification)
	}
	if p.OnlyMissing && p.Transform == nil {
		return nil, fmt.Errorf("%w: only-missing applies to transforms", ErrInvalidSpecification)
	}

	switch {
	case p.Exact != nil:
		return &Exact{Column: p.Column, Old: value.Normalize(p.Exact.Old), New: value.Normalize(p.Exact.New)}, nil

	case p.MappingFile != "":
		pairs, err := LoadMappingFile(p.MappingFile)
		if err != nil {
			return nil, err
		}
		return NewMapping(p.Column, pairs)

	case len(p.Mapping) > 0:
		return NewMapping(p.Column, p.Mapping)

	case p.Conditional != "":
		return ParseConditionalMapping(p.Column, p.ConditionColumn, []byte(p.Conditional))

	default:
		fn, err := reg.New(*p.Transform)
		if err != nil {
			return nil, err
		}
		return &Transform{Column: p.Column, Func: fn, OnlyMissing: p.OnlyMissing}, nil
	}
}

// ParseConditionalMapping decodes a conditional mapping document. With an
// empty conditionColumn the outer object is keyed by condition column.
func ParseConditionalMapping(target, conditionColumn string, data []byte) (*ConditionalMapping, error) {
	if conditionColumn != "" {
		var rules map[string]map[string]any
		if err := decodeJSON(data, &rules); err != nil {
			return nil, fmt.Errorf("%w: conditional mapping: %v", ErrInvalidSpecification, err)
		}
		return NewConditionalMapping(target, conditionColumn, rules)
	}
	var rules map[string]map[string]map[string]any
	if err := decodeJSON(data, &rules); err != nil {
		return nil, fmt.Errorf("%w: conditional mapping (expected {column: {value: {old: new}}}): %v", ErrInvalidSpecification, err)
	}
	return NewMultiConditionalMapping(target, rules)
}

// LoadMappingFile reads old to new pairs from a .json object or a .csv file
// with old_value and new_value columns.
func LoadMappingFile(path string) ([]Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: mapping file: %v", ErrInvalidSpecification, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var m map[string]any
		if err := decodeJSON(data, &m); err != nil {
			return nil, fmt.Errorf("%w: mapping file %s: %v", ErrInvalidSpecification, path, err)
		}
		return mapPairs(m), nil
	case ".csv":
		return readCSVMapping(path, data)
	}
	return nil, fmt.Errorf("%w: mapping file %s: supported formats are .json and .csv", ErrInvalidSpecification, path)
}

func readCSVMapping(path string, data []byte) ([]Pair, error) {
	r := csv.NewReader(bytes.NewReader(data))
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: mapping file %s: %v", ErrInvalidSpecification, path, err)
	}
	oldIdx, newIdx := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "old_value":
			oldIdx = i
		case "new_value":
			newIdx = i
		}
	}
	if oldIdx < 0 || newIdx < 0 {
		return nil, fmt.Errorf("%w: mapping file %s needs old_value and new_value columns", ErrInvalidSpecification, path)
	}

	var pairs []Pair
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: mapping file %s: %v", ErrInvalidSpecification, path, err)
		}
		pairs = append(pairs, Pair{Old: rec[oldIdx], New: value.FromLiteral(rec[newIdx])})
	}
	return pairs, nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
