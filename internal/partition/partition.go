// Package partition models columnar partition files and moves them between
// the object store and memory.
package partition

import (
	"slices"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/vexsearch/offstore/internal/value"
)

// Row is one physical record. A column missing from the map is null.
type Row map[string]any

// Partition is a decoded partition file. Schema is the Arrow schema the
// file was read with and is nil for partitions built in memory.
type Partition struct {
	Schema  *arrow.Schema
	Columns []string
	Rows    []Row
}

// New returns an empty partition with the given column order.
func New(columns ...string) *Partition {
	return &Partition{Columns: slices.Clone(columns)}
}

// NumRows returns the row count.
func (p *Partition) NumRows() int {
	return len(p.Rows)
}

// HasColumn reports whether the column is part of the schema.
func (p *Partition) HasColumn(name string) bool {
	return slices.Contains(p.Columns, name)
}

// AddColumn appends a column whose value is null in every row.
// It is a no-op when the column already exists.
func (p *Partition) AddColumn(name string) {
	if p.HasColumn(name) {
		return
	}
	p.Columns = append(p.Columns, name)
}

// Append adds a row, normalizing its values and extending the schema with
// any new column names in sorted order.
func (p *Partition) Append(row Row) {
	normalized := make(Row, len(row))
	var added []string
	for k, v := range row {
		normalized[k] = value.Normalize(v)
		if !p.HasColumn(k) {
			added = append(added, k)
		}
	}
	slices.Sort(added)
	p.Columns = append(p.Columns, added...)
	p.Rows = append(p.Rows, normalized)
}

// Get returns the value of column in row i.
func (p *Partition) Get(i int, column string) any {
	return p.Rows[i][column]
}

// Set assigns the value of column in row i, adding the column if needed.
func (p *Partition) Set(i int, column string, v any) {
	p.AddColumn(column)
	if p.Rows[i] == nil {
		p.Rows[i] = Row{}
	}
	p.Rows[i][column] = value.Normalize(v)
}

// Column returns the values of a column in row order.
func (p *Partition) Column(name string) []any {
	out := make([]any, len(p.Rows))
	for i, r := range p.Rows {
		out[i] = r[name]
	}
	return out
}

// Keep retains the rows at the given indices, in the order given.
func (p *Partition) Keep(indices []int) {
	rows := make([]Row, len(indices))
	for j, i := range indices {
		rows[j] = p.Rows[i]
	}
	p.Rows = rows
}

// Clone returns a deep copy.
func (p *Partition) Clone() *Partition {
	out := &Partition{
		Schema:  p.Schema,
		Columns: slices.Clone(p.Columns),
		Rows:    make([]Row, len(p.Rows)),
	}
	for i, r := range p.Rows {
		c := make(Row, len(r))
		for k, v := range r {
			c[k] = v
		}
		out.Rows[i] = c
	}
	return out
}
