package match

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vexsearch/offstore/internal/partition"
	"github.com/vexsearch/offstore/internal/transform"
)

func conditionalFixture() *partition.Partition {
	p := partition.New("id", "category", "status")
	n := 0
	for _, cat := range []string{"A", "B"} {
		for _, st := range []string{"old1", "old2", "old3"} {
			for k := 0; k < 2; k++ {
				p.Append(partition.Row{"id": n, "category": cat, "status": st})
				n++
			}
		}
	}
	return p
}

func TestBuildRejectsConflictingVariants(t *testing.T) {
	tests := []struct {
		name string
		p    Params
	}{
		{"none", Params{Column: "status"}},
		{"no column", Params{Exact: &Pair{Old: "a", New: "b"}}},
		{"exact and mapping", Params{Column: "status", Exact: &Pair{Old: "a", New: "b"}, Mapping: []Pair{{Old: "x", New: "y"}}}},
		{"mapping and transform", Params{Column: "status", MappingFile: "m.json", Transform: &transform.Config{Type: transform.TypeUppercase}}},
		{"empty conditional", Params{Column: "status", Conditional: `{}`}},
		{"bad conditional json", Params{Column: "status", Conditional: `{"A": "x"}`}},
		{"only missing without transform", Params{Column: "status", Exact: &Pair{Old: "a", New: "b"}, OnlyMissing: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Build(tc.p); !errors.Is(err, ErrInvalidSpecification) {
				t.Fatalf("expected ErrInvalidSpecification, got %v", err)
			}
		})
	}
}

func TestBuildTransformErrorsPassThrough(t *testing.T) {
	_, err := Build(Params{Column: "c", Transform: &transform.Config{Type: "nope"}})
	if !errors.Is(err, transform.ErrUnsupportedTransform) {
		t.Fatalf("expected ErrUnsupportedTransform, got %v", err)
	}
	_, err = Build(Params{Column: "c", Transform: &transform.Config{Type: transform.TypeCopyFromColumn}})
	if !errors.Is(err, transform.ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got %v", err)
	}
}

func TestExactSelection(t *testing.T) {
	p := partition.New("id", "status")
	for i, st := range []any{"ABNORMAL", "NORMAL", "ABNORMAL", nil} {
		p.Append(partition.Row{"id": i, "status": st})
	}
	spec, err := Build(Params{Column: "status", Exact: &Pair{Old: "ABNORMAL", New: "NORMAL"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	sel := Select(spec, p, nil)
	if sel.Count() != 2 || !sel.Rows.Contains(0) || !sel.Rows.Contains(2) {
		t.Fatalf("unexpected selection %v", sel.Rows.ToArray())
	}
	if sel.Keys["ABNORMAL"] != 2 {
		t.Errorf("expected key count 2, got %v", sel.Keys)
	}
	if v, _ := Assign(spec, p, 0); v != "NORMAL" {
		t.Errorf("expected NORMAL, got %v", v)
	}
	if TargetsAbsent(spec) {
		t.Error("exact with a literal old value does not target absent values")
	}
}

func TestExactNullAndMissingColumn(t *testing.T) {
	p := partition.New("id", "status")
	p.Append(partition.Row{"id": 1, "status": nil})
	p.Append(partition.Row{"id": 2, "status": "x"})

	spec, _ := Build(Params{Column: "status", Exact: &Pair{Old: nil, New: "filled"}})
	if !TargetsAbsent(spec) {
		t.Fatal("exact with null old value targets absent values")
	}
	if sel := Select(spec, p, nil); sel.Count() != 1 || !sel.Rows.Contains(0) {
		t.Fatalf("expected row 0 selected, got %v", sel.Rows.ToArray())
	}

	missing, _ := Build(Params{Column: "region", Exact: &Pair{Old: nil, New: "eu"}})
	if sel := Select(missing, p, nil); sel.Count() != 0 {
		t.Fatalf("missing target column must select nothing, got %v", sel.Rows.ToArray())
	}
}

func TestMappingSelection(t *testing.T) {
	p := partition.New("id", "tier")
	for i, v := range []any{"gold", "silver", "bronze", int64(3)} {
		p.Append(partition.Row{"id": i, "tier": v})
	}
	spec, err := Build(Params{Column: "tier", Mapping: []Pair{
		{Old: "gold", New: "g"},
		{Old: "silver", New: "s"},
		{Old: "3", New: "three"},
	}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	sel := Select(spec, p, nil)
	if sel.Count() != 3 {
		t.Fatalf("expected 3 rows, got %v", sel.Rows.ToArray())
	}
	if sel.Keys["gold"] != 1 || sel.Keys["silver"] != 1 || sel.Keys["3"] != 1 {
		t.Errorf("unexpected keys %v", sel.Keys)
	}
	if v, _ := Assign(spec, p, 3); v != "three" {
		t.Errorf("numeric value should match loosely, got %v", v)
	}
}

func TestConditionalMappingFixture(t *testing.T) {
	p := conditionalFixture()
	spec, err := NewConditionalMapping("status", "category", map[string]map[string]any{
		"A": {"old1": "new1"},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	sel := Select(spec, p, nil)
	for i := range p.Rows {
		selected := sel.Rows.Contains(uint32(i))
		want := p.Get(i, "category") == "A" && p.Get(i, "status") == "old1"
		if selected != want {
			t.Errorf("row %d (%v/%v): selected=%v want %v", i, p.Get(i, "category"), p.Get(i, "status"), selected, want)
		}
		if selected {
			if v, _ := Assign(spec, p, i); v != "new1" {
				t.Errorf("row %d: expected new1, got %v", i, v)
			}
		}
	}
	if sel.Keys["category=A, status=old1"] != 2 {
		t.Errorf("unexpected keys %v", sel.Keys)
	}
}

func TestParseConditionalMappingShapes(t *testing.T) {
	p := conditionalFixture()

	short, err := ParseConditionalMapping("status", "category", []byte(`{"A": {"old1": "new1"}}`))
	if err != nil {
		t.Fatalf("short form: %v", err)
	}
	full, err := ParseConditionalMapping("status", "", []byte(`{"category": {"A": {"old1": "new1"}, "B": {"old2": "new2"}}}`))
	if err != nil {
		t.Fatalf("full form: %v", err)
	}
	if got := Select(short, p, nil).Count(); got != 2 {
		t.Errorf("short form selected %d rows, want 2", got)
	}
	if got := Select(full, p, nil).Count(); got != 4 {
		t.Errorf("full form selected %d rows, want 4", got)
	}
}

func TestConditionalMissingConditionColumn(t *testing.T) {
	p := partition.New("status")
	p.Append(partition.Row{"status": "old1"})
	spec, _ := NewConditionalMapping("status", "category", map[string]map[string]any{"A": {"old1": "new1"}})
	if Select(spec, p, nil).Count() != 0 {
		t.Fatal("rows without the condition column must not be selected")
	}
}

func TestFilters(t *testing.T) {
	p := conditionalFixture()
	spec, _ := Build(Params{Column: "status", Exact: &Pair{Old: "old2", New: "x"}})

	sel := Select(spec, p, []Filter{{Column: "category", Value: "B"}})
	if sel.Count() != 2 {
		t.Fatalf("expected 2 rows, got %d", sel.Count())
	}
	for _, i := range sel.Rows.ToArray() {
		if p.Get(int(i), "category") != "B" {
			t.Errorf("row %d violates filter", i)
		}
	}

	if Select(spec, p, []Filter{{Column: "absent", Value: "x"}}).Count() != 0 {
		t.Error("a filter on an absent column only matches null")
	}
	if Select(spec, p, []Filter{{Column: "absent", Value: nil}}).Count() != 4 {
		t.Error("a null filter on an absent column matches every row")
	}
}

func TestTransformSelection(t *testing.T) {
	p := partition.New("id", "name")
	p.Append(partition.Row{"id": 1, "name": "ann"})
	p.Append(partition.Row{"id": 2, "name": nil})

	spec, err := Build(Params{Column: "name", Transform: &transform.Config{Type: transform.TypeUppercase}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	sel := Select(spec, p, nil)
	if sel.Count() != 2 || sel.Keys[AllKey] != 2 {
		t.Fatalf("transform selects every row, got %v", sel.Rows.ToArray())
	}
	if v, _ := Assign(spec, p, 0); v != "ANN" {
		t.Errorf("expected ANN, got %v", v)
	}

	missing, _ := Build(Params{Column: "name", OnlyMissing: true, Transform: &transform.Config{Type: transform.TypeCopyFromColumn, SourceColumn: "id"}})
	if !TargetsAbsent(missing) {
		t.Fatal("only-missing transform targets absent values")
	}
	sel = Select(missing, p, nil)
	if sel.Count() != 1 || !sel.Rows.Contains(1) {
		t.Fatalf("expected only row 1, got %v", sel.Rows.ToArray())
	}

	newCol, _ := Build(Params{Column: "created", Transform: &transform.Config{Type: transform.TypeCopyFromColumn, SourceColumn: "id"}})
	if Select(newCol, p, nil).Count() != 2 {
		t.Error("a transform into a new column selects every row")
	}
}

func TestLoadMappingFile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "m.json")
	os.WriteFile(jsonPath, []byte(`{"a": "A", "b": 2}`), 0o644)
	pairs, err := LoadMappingFile(jsonPath)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(pairs) != 2 || pairs[0].Old != "a" || pairs[1].New != int64(2) {
		t.Errorf("unexpected pairs %v", pairs)
	}

	csvPath := filepath.Join(dir, "m.csv")
	os.WriteFile(csvPath, []byte("note,old_value,new_value\nx,old1,new1\ny,old2,new2\n"), 0o644)
	pairs, err = LoadMappingFile(csvPath)
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(pairs) != 2 || pairs[1].Old != "old2" || pairs[1].New != "new2" {
		t.Errorf("unexpected pairs %v", pairs)
	}

	badCSV := filepath.Join(dir, "bad.csv")
	os.WriteFile(badCSV, []byte("from,to\na,b\n"), 0o644)
	if _, err := LoadMappingFile(badCSV); !errors.Is(err, ErrInvalidSpecification) {
		t.Errorf("expected ErrInvalidSpecification for missing headers, got %v", err)
	}

	txt := filepath.Join(dir, "m.txt")
	os.WriteFile(txt, []byte("a=b"), 0o644)
	if _, err := LoadMappingFile(txt); !errors.Is(err, ErrInvalidSpecification) {
		t.Errorf("expected ErrInvalidSpecification for .txt, got %v", err)
	}

	spec, err := Build(Params{Column: "c", MappingFile: csvPath})
	if err != nil || spec.Kind() != KindMapping {
		t.Fatalf("build from file: %v %v", spec, err)
	}
}
