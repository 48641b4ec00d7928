package partition

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/vexsearch/offstore/internal/cache"
	"github.com/vexsearch/offstore/pkg/objectstore"
)

// BackupMarker separates the original base name from the backup timestamp.
const BackupMarker = "_backup_"

const contentType = "application/vnd.apache.parquet"

// Snapshot is a partition as read, with the raw bytes and etag it was read at.
type Snapshot struct {
	Key       string
	ETag      string
	Raw       []byte
	Partition *Partition
}

// Source lists, reads and writes partitions on an object store.
type Source struct {
	store  objectstore.Store
	suffix string
	cache  *cache.MemoryCache
}

// NewSource returns a Source selecting keys ending in suffix.
// An empty suffix selects every key.
func NewSource(store objectstore.Store, suffix string) *Source {
	return &Source{store: store, suffix: suffix}
}

// WithCache makes Read serve unchanged partitions from c. Each cached read
// costs a Head request instead of a download.
func (s *Source) WithCache(c *cache.MemoryCache) *Source {
	s.cache = c
	return s
}

// Store returns the underlying object store.
func (s *Source) Store() objectstore.Store {
	return s.store
}

// Suffix returns the partition key suffix.
func (s *Source) Suffix() string {
	return s.suffix
}

// IsBackupKey reports whether key names a backup copy.
func IsBackupKey(key string) bool {
	return strings.Contains(key, BackupMarker)
}

// List returns the partitions under prefix sorted by key, skipping backups.
func (s *Source) List(ctx context.Context, prefix string) ([]objectstore.ObjectInfo, error) {
	objects, err := objectstore.ListAll(ctx, s.store, prefix)
	if err != nil {
		return nil, err
	}
	out := objects[:0]
	for _, obj := range objects {
		if IsBackupKey(obj.Key) || !strings.HasSuffix(obj.Key, s.suffix) {
			continue
		}
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ListBackups returns backup copies under prefix.
func (s *Source) ListBackups(ctx context.Context, prefix string) ([]objectstore.ObjectInfo, error) {
	objects, err := objectstore.ListAll(ctx, s.store, prefix)
	if err != nil {
		return nil, err
	}
	out := objects[:0]
	for _, obj := range objects {
		if IsBackupKey(obj.Key) {
			out = append(out, obj)
		}
	}
	return out, nil
}

// Read fetches and decodes one partition.
func (s *Source) Read(ctx context.Context, key string) (*Snapshot, error) {
	if s.cache != nil {
		info, err := s.store.Head(ctx, key)
		if err != nil {
			return nil, &ReadError{Path: key, Err: err}
		}
		if raw, ok := s.cache.Get(key, info.ETag); ok {
			return s.decode(ctx, key, info.ETag, raw)
		}
	}

	body, info, err := s.store.Get(ctx, key, nil)
	if err != nil {
		return nil, &ReadError{Path: key, Err: err}
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, &ReadError{Path: key, Err: err}
	}
	snap, err := s.decode(ctx, key, info.ETag, raw)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		// Partitions over the budget are simply not cached.
		_ = s.cache.Put(key, info.ETag, raw)
	}
	return snap, nil
}

func (s *Source) decode(ctx context.Context, key, etag string, raw []byte) (*Snapshot, error) {
	p, err := Decode(ctx, raw)
	if err != nil {
		return nil, &ReadError{Path: key, Err: err}
	}
	return &Snapshot{Key: key, ETag: etag, Raw: raw, Partition: p}, nil
}

// Write encodes p and overwrites key. When ifMatch is set the write only
// succeeds if the object still has that etag.
func (s *Source) Write(ctx context.Context, key string, p *Partition, ifMatch string) (*objectstore.ObjectInfo, error) {
	data, err := Encode(p)
	if err != nil {
		return nil, &WriteError{Path: key, Stage: StageEncode, Err: err}
	}
	return s.WriteRaw(ctx, key, data, ifMatch)
}

// WriteRaw overwrites key with already encoded bytes.
func (s *Source) WriteRaw(ctx context.Context, key string, data []byte, ifMatch string) (*objectstore.ObjectInfo, error) {
	opts := &objectstore.PutOptions{ContentType: contentType}
	var (
		info *objectstore.ObjectInfo
		err  error
	)
	if ifMatch != "" {
		info, err = s.store.PutIfMatch(ctx, key, bytes.NewReader(data), int64(len(data)), ifMatch, opts)
	} else {
		info, err = s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), opts)
	}
	if s.cache != nil {
		s.cache.Delete(key)
	}
	if err != nil {
		return nil, &WriteError{Path: key, Stage: StageOverwrite, Err: err}
	}
	return info, nil
}

// Copy duplicates src to dst inside the store.
func (s *Source) Copy(ctx context.Context, src, dst string) error {
	if _, err := s.store.Copy(ctx, src, dst); err != nil {
		return &WriteError{Path: src, Stage: StageBackup, Err: fmt.Errorf("copy to %s: %w", dst, err)}
	}
	return nil
}

// Delete removes key.
func (s *Source) Delete(ctx context.Context, key string) error {
	if s.cache != nil {
		s.cache.Delete(key)
	}
	return s.store.Delete(ctx, key)
}
