package partition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/vexsearch/offstore/internal/eventtime"
	"github.com/vexsearch/offstore/internal/value"
)

var parquetMagic = []byte("PAR1")

var (
	// ErrFormat is returned for bytes that are not a readable Parquet file.
	ErrFormat = errors.New("invalid partition format")
	// ErrColumns is returned when column lengths disagree with the row count.
	ErrColumns = errors.New("partition columns inconsistent")
	// ErrTooLarge is returned for partitions beyond the decoder's limit.
	ErrTooLarge = errors.New("partition too large")
)

const maxRows = 1 << 28

// errIncompatible marks a value the column's Arrow type cannot hold.
var errIncompatible = errors.New("value does not fit column type")

// IsParquet reports whether data is framed as a Parquet file.
func IsParquet(data []byte) bool {
	return len(data) >= 2*len(parquetMagic) &&
		bytes.Equal(data[:len(parquetMagic)], parquetMagic) &&
		bytes.Equal(data[len(data)-len(parquetMagic):], parquetMagic)
}

// Decode reads a Parquet file into a Partition. The file's Arrow schema is
// kept so Encode can write the same column types back.
func Decode(ctx context.Context, data []byte) (*Partition, error) {
	if !IsParquet(data) {
		return nil, fmt.Errorf("%w: missing PAR1 framing", ErrFormat)
	}
	mem := memory.DefaultAllocator
	tbl, err := pqarrow.ReadTable(ctx, bytes.NewReader(data),
		parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	defer tbl.Release()

	n := tbl.NumRows()
	if n > maxRows {
		return nil, fmt.Errorf("%w: %d rows", ErrTooLarge, n)
	}

	p := &Partition{
		Schema:  tbl.Schema(),
		Columns: make([]string, 0, tbl.NumCols()),
		Rows:    make([]Row, n),
	}
	for i := range p.Rows {
		p.Rows[i] = Row{}
	}

	for c := 0; c < int(tbl.NumCols()); c++ {
		col := tbl.Column(c)
		name := col.Name()
		p.Columns = append(p.Columns, name)

		i := 0
		for _, chunk := range col.Data().Chunks() {
			if i+chunk.Len() > len(p.Rows) {
				return nil, fmt.Errorf("%w: column %q has more than %d values", ErrColumns, name, n)
			}
			for j := 0; j < chunk.Len(); j++ {
				if v := cellValue(chunk, j); v != nil {
					p.Rows[i][name] = v
				}
				i++
			}
		}
		if i != len(p.Rows) {
			return nil, fmt.Errorf("%w: column %q has %d values, want %d", ErrColumns, name, i, n)
		}
	}
	return p, nil
}

// cellValue converts one Arrow cell to the partition value model.
// Timestamps and dates become ISO-8601 strings.
func cellValue(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Binary:
		return string(a.Value(i))
	case *array.Boolean:
		return a.Value(i)
	case *array.Int8:
		return int64(a.Value(i))
	case *array.Int16:
		return int64(a.Value(i))
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Int64:
		return a.Value(i)
	case *array.Uint8:
		return int64(a.Value(i))
	case *array.Uint16:
		return int64(a.Value(i))
	case *array.Uint32:
		return int64(a.Value(i))
	case *array.Uint64:
		return value.Normalize(a.Value(i))
	case *array.Float32:
		return float64(a.Value(i))
	case *array.Float64:
		return a.Value(i)
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC().Format(time.RFC3339Nano)
	case *array.Date32:
		return a.Value(i).ToTime().Format(time.DateOnly)
	case *array.Date64:
		return a.Value(i).ToTime().UTC().Format(time.DateOnly)
	default:
		return arr.ValueStr(i)
	}
}

// Encode writes p as a zstd-compressed Parquet file. Columns present in the
// source schema keep their Arrow type unless a value no longer fits, in which
// case the column is written as a string. New columns get a type inferred
// from their values.
func Encode(p *Partition) ([]byte, error) {
	mem := memory.DefaultAllocator
	fields := make([]arrow.Field, len(p.Columns))
	cols := make([]arrow.Array, len(p.Columns))
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()

	for i, name := range p.Columns {
		values := p.Column(name)
		field, ok := p.sourceField(name)
		if !ok {
			field = arrow.Field{Name: name, Type: inferType(values)}
		}
		arr, err := buildColumn(mem, field.Type, values)
		if errors.Is(err, errIncompatible) {
			field = arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Metadata: field.Metadata}
			arr, err = buildColumn(mem, field.Type, values)
		}
		if err != nil {
			return nil, fmt.Errorf("encode column %q: %w", name, err)
		}
		field.Nullable = field.Nullable || arr.NullN() > 0 || !ok
		fields[i] = field
		cols[i] = arr
	}

	var meta *arrow.Metadata
	if p.Schema != nil {
		md := p.Schema.Metadata()
		meta = &md
	}
	schema := arrow.NewSchema(fields, meta)
	rec := array.NewRecord(schema, cols, int64(len(p.Rows)))
	defer rec.Release()

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithAllocator(mem),
	)
	w, err := pqarrow.NewFileWriter(schema, &buf, props,
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return nil, fmt.Errorf("open parquet writer: %w", err)
	}
	if rec.NumRows() > 0 {
		if err := w.Write(rec); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("write row group: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *Partition) sourceField(name string) (arrow.Field, bool) {
	if p.Schema == nil {
		return arrow.Field{}, false
	}
	idx := p.Schema.FieldIndices(name)
	if len(idx) == 0 {
		return arrow.Field{}, false
	}
	return p.Schema.Field(idx[0]), true
}

// inferType picks int64, float64 or bool when every non-null value has that
// kind, and string otherwise.
func inferType(values []any) arrow.DataType {
	var ints, floats, bools, total int
	for _, v := range values {
		switch v.(type) {
		case nil:
			continue
		case int64:
			ints++
		case float64:
			floats++
		case bool:
			bools++
		}
		total++
	}
	switch {
	case total == 0:
		return arrow.BinaryTypes.String
	case ints == total:
		return arrow.PrimitiveTypes.Int64
	case ints+floats == total:
		return arrow.PrimitiveTypes.Float64
	case bools == total:
		return arrow.FixedWidthTypes.Boolean
	}
	return arrow.BinaryTypes.String
}

func buildColumn(mem memory.Allocator, dt arrow.DataType, values []any) (arrow.Array, error) {
	b := array.NewBuilder(mem, dt)
	defer b.Release()
	b.Reserve(len(values))
	for _, v := range values {
		if err := appendValue(b, v); err != nil {
			return nil, err
		}
	}
	return b.NewArray(), nil
}

func appendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch b := b.(type) {
	case *array.StringBuilder:
		b.Append(value.Format(v))
	case *array.LargeStringBuilder:
		b.Append(value.Format(v))
	case *array.BinaryBuilder:
		b.AppendString(value.Format(v))
	case *array.BooleanBuilder:
		x, ok := toBool(v)
		if !ok {
			return errIncompatible
		}
		b.Append(x)
	case *array.Int64Builder:
		n, ok := toInt(v, math.MinInt64, math.MaxInt64)
		if !ok {
			return errIncompatible
		}
		b.Append(n)
	case *array.Int32Builder:
		n, ok := toInt(v, math.MinInt32, math.MaxInt32)
		if !ok {
			return errIncompatible
		}
		b.Append(int32(n))
	case *array.Float64Builder:
		f, ok := toFloat(v)
		if !ok {
			return errIncompatible
		}
		b.Append(f)
	case *array.Float32Builder:
		f, ok := toFloat(v)
		if !ok {
			return errIncompatible
		}
		b.Append(float32(f))
	case *array.TimestampBuilder:
		t, ok := eventtime.Parse(v)
		if !ok {
			return errIncompatible
		}
		ts, err := arrow.TimestampFromTime(t, b.Type().(*arrow.TimestampType).Unit)
		if err != nil {
			return errIncompatible
		}
		b.Append(ts)
	case *array.Date32Builder:
		t, ok := eventtime.Parse(v)
		if !ok {
			return errIncompatible
		}
		b.Append(arrow.Date32FromTime(t))
	default:
		if err := b.AppendValueFromString(value.Format(v)); err != nil {
			return fmt.Errorf("%w: %v", errIncompatible, err)
		}
	}
	return nil
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(x)
		return b, err == nil
	}
	return false, false
}

func toInt(v any, lo, hi int64) (int64, bool) {
	var n int64
	switch x := v.(type) {
	case int64:
		n = x
	case float64:
		if x != math.Trunc(x) || x < math.MinInt64 || x > math.MaxInt64 {
			return 0, false
		}
		n = int64(x)
	case string:
		parsed, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	return n, n >= lo && n <= hi
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}
