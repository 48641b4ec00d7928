package partition

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/vexsearch/offstore/internal/cache"
	"github.com/vexsearch/offstore/pkg/objectstore"
)

func fixture() *Partition {
	p := New("id", "status", "event_time")
	p.Append(Row{"id": "a", "status": "ABNORMAL", "event_time": "2024-01-01T00:00:00Z"})
	p.Append(Row{"id": "b", "status": nil, "event_time": "2024-01-02T00:00:00Z"})
	p.Append(Row{"id": "c", "status": "NORMAL", "event_time": "2024-01-02T00:00:00Z", "score": 1.5})
	return p
}

func TestAppendExtendsSchema(t *testing.T) {
	p := fixture()
	if len(p.Columns) != 4 || p.Columns[3] != "score" {
		t.Fatalf("unexpected columns %v", p.Columns)
	}
	if p.Get(0, "score") != nil {
		t.Errorf("missing cell should read as null")
	}
	if p.Get(2, "score") != 1.5 {
		t.Errorf("expected 1.5, got %v", p.Get(2, "score"))
	}
}

func TestSetAddsColumn(t *testing.T) {
	p := fixture()
	p.Set(1, "region", "eu")
	if !p.HasColumn("region") {
		t.Fatal("expected region column")
	}
	if p.Get(1, "region") != "eu" || p.Get(0, "region") != nil {
		t.Errorf("unexpected region values %v", p.Column("region"))
	}
}

func TestKeepAndClone(t *testing.T) {
	p := fixture()
	c := p.Clone()
	p.Keep([]int{2, 0})
	if p.NumRows() != 2 || p.Get(0, "id") != "c" || p.Get(1, "id") != "a" {
		t.Fatalf("unexpected rows after Keep: %v", p.Rows)
	}
	if c.NumRows() != 3 {
		t.Fatalf("clone should be unaffected, got %d rows", c.NumRows())
	}
	c.Set(0, "status", "X")
	if p.Get(1, "status") != "ABNORMAL" {
		t.Error("clone shares row maps with original")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	p := fixture()
	data, err := Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !IsParquet(data) {
		t.Fatal("expected PAR1 framing")
	}
	got, err := Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !slices.Equal(got.Columns, p.Columns) {
		t.Fatalf("columns = %v, want %v", got.Columns, p.Columns)
	}
	for i := range p.Rows {
		for _, col := range p.Columns {
			if got.Get(i, col) != p.Get(i, col) {
				t.Errorf("row %d col %s: got %#v want %#v", i, col, got.Get(i, col), p.Get(i, col))
			}
		}
	}
	if _, present := got.Rows[1]["status"]; present {
		t.Error("null cells should not be materialized")
	}
	if f, _ := got.sourceField("score"); f.Type.ID() != arrow.FLOAT64 {
		t.Errorf("score inferred as %s, want double", f.Type)
	}
}

func TestCodecKeepsSourceTypes(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String},
		{Name: "qty", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		{Name: "event_time", Type: &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}},
	}, nil)
	p := &Partition{Schema: schema, Columns: []string{"id", "qty", "event_time"}}
	p.Rows = []Row{
		{"id": "a", "qty": int64(3), "event_time": "2024-01-01T00:00:00Z"},
		{"id": "b", "event_time": "2024-01-02T12:30:00.5Z"},
	}

	data, err := Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	tests := []struct {
		col  string
		want arrow.Type
	}{
		{"id", arrow.STRING},
		{"qty", arrow.INT32},
		{"event_time", arrow.TIMESTAMP},
	}
	for _, tc := range tests {
		f, ok := got.sourceField(tc.col)
		if !ok || f.Type.ID() != tc.want {
			t.Errorf("column %s: got %v, want %s", tc.col, f.Type, tc.want)
		}
	}
	if got.Get(0, "qty") != int64(3) || got.Get(1, "qty") != nil {
		t.Errorf("qty = %v", got.Column("qty"))
	}
	if got.Get(0, "event_time") != "2024-01-01T00:00:00Z" || got.Get(1, "event_time") != "2024-01-02T12:30:00.5Z" {
		t.Errorf("event_time = %v", got.Column("event_time"))
	}
}

func TestCodecWidensIncompatibleColumn(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "code", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	p := &Partition{Schema: schema, Columns: []string{"code"}, Rows: []Row{
		{"code": int64(1)},
		{"code": "REVIEW"},
	}}

	data, err := Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f, _ := got.sourceField("code"); f.Type.ID() != arrow.STRING {
		t.Fatalf("code written as %s, want utf8", f.Type)
	}
	if got.Get(0, "code") != "1" || got.Get(1, "code") != "REVIEW" {
		t.Errorf("code = %v", got.Column("code"))
	}
}

func TestCodecEmptyPartition(t *testing.T) {
	data, err := Encode(New("id", "status"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.NumRows() != 0 || len(got.Columns) != 2 {
		t.Errorf("got %d rows, columns %v", got.NumRows(), got.Columns)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	valid, err := Encode(fixture())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tests := map[string][]byte{
		"empty":      nil,
		"no framing": []byte("not a parquet file"),
		"bad footer": []byte("PAR1xxxxxxxxxxxxxxxxxxxxPAR1"),
		"truncated":  valid[:len(valid)-5],
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(context.Background(), data); !errors.Is(err, ErrFormat) {
				t.Fatalf("expected ErrFormat, got %v", err)
			}
		})
	}
}

func TestSourceListReadWrite(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	src := NewSource(store, ".parquet")

	data, _ := Encode(fixture())
	for _, key := range []string{
		"ds/b.parquet",
		"ds/a.parquet",
		"ds/a_backup_1700000000.parquet",
		"ds/readme.txt",
	} {
		if _, err := store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), nil); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	objs, err := src.List(ctx, "ds/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(objs) != 2 || objs[0].Key != "ds/a.parquet" || objs[1].Key != "ds/b.parquet" {
		t.Fatalf("unexpected listing %v", objs)
	}

	backups, err := src.ListBackups(ctx, "ds/")
	if err != nil || len(backups) != 1 {
		t.Fatalf("expected one backup, got %v (%v)", backups, err)
	}

	snap, err := src.Read(ctx, "ds/a.parquet")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(snap.Raw, data) || snap.ETag == "" {
		t.Fatal("snapshot should carry raw bytes and etag")
	}

	snap.Partition.Set(0, "status", "NORMAL")
	if _, err := src.Write(ctx, snap.Key, snap.Partition, snap.ETag); err != nil {
		t.Fatalf("write: %v", err)
	}
	// The etag moved, so a second conditional write with the stale etag fails.
	_, err = src.Write(ctx, snap.Key, snap.Partition, snap.ETag)
	var werr *WriteError
	if !errors.As(err, &werr) || werr.Stage != StageOverwrite {
		t.Fatalf("expected overwrite WriteError, got %v", err)
	}
	if !errors.Is(err, ErrWrite) || !errors.Is(err, objectstore.ErrPrecondition) {
		t.Errorf("error should match ErrWrite and ErrPrecondition: %v", err)
	}

	again, err := src.Read(ctx, "ds/a.parquet")
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	if again.Partition.Get(0, "status") != "NORMAL" {
		t.Errorf("expected NORMAL, got %v", again.Partition.Get(0, "status"))
	}
}

func TestSourceReadErrors(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	src := NewSource(store, "")

	_, err := src.Read(ctx, "missing")
	var rerr *ReadError
	if !errors.As(err, &rerr) || rerr.Path != "missing" {
		t.Fatalf("expected ReadError for missing key, got %v", err)
	}
	if !errors.Is(err, objectstore.ErrNotFound) || !errors.Is(err, ErrRead) {
		t.Errorf("expected ErrNotFound and ErrRead in chain: %v", err)
	}

	store.Put(ctx, "junk", bytes.NewReader([]byte("junk")), 4, nil)
	if _, err := src.Read(ctx, "junk"); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
}

func TestSourceCopy(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	src := NewSource(store, "")
	store.Put(ctx, "a", bytes.NewReader([]byte("x")), 1, nil)

	if err := src.Copy(ctx, "a", "a_backup_1"); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if _, ok := store.Snapshot("a_backup_1"); !ok {
		t.Fatal("expected copy to exist")
	}
	err := src.Copy(ctx, "nope", "nope_backup_1")
	var werr *WriteError
	if !errors.As(err, &werr) || werr.Stage != StageBackup {
		t.Fatalf("expected backup WriteError, got %v", err)
	}
}

type countingStore struct {
	*objectstore.MemoryStore
	gets int
}

func (s *countingStore) Get(ctx context.Context, key string, opts *objectstore.GetOptions) (io.ReadCloser, *objectstore.ObjectInfo, error) {
	s.gets++
	return s.MemoryStore.Get(ctx, key, opts)
}

func TestSourceReadCache(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: objectstore.NewMemoryStore()}
	c := cache.NewMemoryCache(1 << 20)
	src := NewSource(store, "").WithCache(c)

	p := New("id")
	p.Append(Row{"id": "a"})
	if _, err := src.Write(ctx, "k", p, ""); err != nil {
		t.Fatal(err)
	}

	first, err := src.Read(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	second, err := src.Read(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if store.gets != 1 {
		t.Fatalf("expected one download, got %d", store.gets)
	}
	if first.ETag != second.ETag || !bytes.Equal(first.Raw, second.Raw) {
		t.Fatal("cached read differs from the download")
	}
	// Decoded partitions are not shared.
	second.Partition.Set(0, "id", "changed")
	if first.Partition.Get(0, "id") != "a" {
		t.Fatal("cached reads share a partition")
	}

	// A write invalidates the entry; the next read sees the new content.
	p.Set(0, "id", "b")
	if _, err := src.Write(ctx, "k", p, second.ETag); err != nil {
		t.Fatal(err)
	}
	third, err := src.Read(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if store.gets != 2 || third.Partition.Get(0, "id") != "b" {
		t.Fatalf("gets=%d id=%v", store.gets, third.Partition.Get(0, "id"))
	}

	// An out-of-band overwrite changes the etag and misses the cache.
	p.Set(0, "id", "c")
	data, _ := Encode(p)
	if _, err := store.Put(ctx, "k", bytes.NewReader(data), int64(len(data)), nil); err != nil {
		t.Fatal(err)
	}
	fourth, err := src.Read(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if store.gets != 3 || fourth.Partition.Get(0, "id") != "c" {
		t.Fatalf("gets=%d id=%v", store.gets, fourth.Partition.Get(0, "id"))
	}
}
