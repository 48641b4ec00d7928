package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FSStore lays objects out under root/objects with a JSON sidecar per key
// under root/meta holding the ETag and modification time.
type FSStore struct {
	root string
	mu   sync.RWMutex
}

type fsMeta struct {
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`
	ContentType  string    `json:"content_type"`
	Checksum     string    `json:"checksum,omitempty"`
}

func (m *fsMeta) info(key string) *ObjectInfo {
	return &ObjectInfo{
		Key:          key,
		Size:         m.Size,
		ETag:         m.ETag,
		LastModified: m.LastModified,
		ContentType:  m.ContentType,
	}
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) objectPath(key string) string {
	return filepath.Join(s.root, "objects", filepath.FromSlash(key))
}

func (s *FSStore) metaPath(key string) string {
	return filepath.Join(s.root, "meta", filepath.FromSlash(key)+".json")
}

func (s *FSStore) Get(ctx context.Context, key string, opts *GetOptions) (io.ReadCloser, *ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.readMeta(key)
	if err != nil {
		return nil, nil, err
	}
	if opts != nil && opts.IfMatch != "" && meta.ETag != opts.IfMatch {
		return nil, nil, ErrPrecondition
	}

	// Read fully under the lock so a concurrent Put cannot tear the body.
	data, err := os.ReadFile(s.objectPath(key))
	if err != nil {
		return nil, nil, mapFSError(err)
	}
	return io.NopCloser(bytes.NewReader(data)), meta.info(key), nil
}

func (s *FSStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.readMeta(key)
	if err != nil {
		return nil, err
	}
	return meta.info(key), nil
}

func (s *FSStore) Put(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(key, data, opts)
}

func (s *FSStore) putLocked(key string, data []byte, opts *PutOptions) (*ObjectInfo, error) {
	objPath := s.objectPath(key)
	metaPath := s.metaPath(key)

	if err := os.MkdirAll(filepath.Dir(objPath), 0755); err != nil {
		return nil, mapFSError(err)
	}
	if err := os.MkdirAll(filepath.Dir(metaPath), 0755); err != nil {
		return nil, mapFSError(err)
	}

	sum := sha256.Sum256(data)
	checksum := base64.StdEncoding.EncodeToString(sum[:])
	if opts != nil && opts.Checksum != "" && checksum != opts.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch: expected %s, got %s", ErrChecksumFailed, opts.Checksum, checksum)
	}

	// Write to a temp file and rename so readers never observe a partial object.
	tmp := objPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return nil, mapFSError(err)
	}
	if err := os.Rename(tmp, objPath); err != nil {
		os.Remove(tmp)
		return nil, mapFSError(err)
	}

	meta := fsMeta{
		Size:         int64(len(data)),
		ETag:         fmt.Sprintf("%x", sum[:16]),
		LastModified: time.Now(),
		Checksum:     checksum,
	}
	if opts != nil {
		meta.ContentType = opts.ContentType
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(metaPath, metaData, 0644); err != nil {
		return nil, mapFSError(err)
	}
	return meta.info(key), nil
}

func (s *FSStore) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.readMeta(key); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.putLocked(key, data, opts)
}

func (s *FSStore) PutIfMatch(ctx context.Context, key string, body io.Reader, size int64, etag string, opts *PutOptions) (*ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMeta(key)
	if err != nil {
		return nil, err
	}
	if meta.ETag != etag {
		return nil, ErrPrecondition
	}
	return s.putLocked(key, data, opts)
}

func (s *FSStore) Copy(ctx context.Context, srcKey, dstKey string) (*ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMeta(srcKey)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.objectPath(srcKey))
	if err != nil {
		return nil, mapFSError(err)
	}
	return s.putLocked(dstKey, data, &PutOptions{ContentType: meta.ContentType})
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.objectPath(key)); err != nil && !os.IsNotExist(err) {
		return mapFSError(err)
	}
	if err := os.Remove(s.metaPath(key)); err != nil && !os.IsNotExist(err) {
		return mapFSError(err)
	}
	return nil
}

func (s *FSStore) List(ctx context.Context, opts *ListOptions) (*ListResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metaDir := filepath.Join(s.root, "meta")
	if _, err := os.Stat(metaDir); os.IsNotExist(err) {
		return &ListResult{}, nil
	}

	prefix, marker, maxKeys := "", "", 1000
	if opts != nil {
		prefix = opts.Prefix
		marker = opts.Marker
		if opts.MaxKeys > 0 {
			maxKeys = opts.MaxKeys
		}
	}

	var keys []string
	err := filepath.WalkDir(metaDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		rel, err := filepath.Rel(metaDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(strings.TrimSuffix(rel, ".json"))
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		if marker != "" && key <= marker {
			return nil
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, mapFSError(err)
	}
	sort.Strings(keys)

	result := &ListResult{}
	for i, key := range keys {
		if i >= maxKeys {
			result.IsTruncated = true
			result.NextMarker = keys[i-1]
			break
		}
		meta, err := s.readMeta(key)
		if err != nil {
			continue
		}
		result.Objects = append(result.Objects, *meta.info(key))
	}
	return result, nil
}

func (s *FSStore) readMeta(key string) (*fsMeta, error) {
	data, err := os.ReadFile(s.metaPath(key))
	if err != nil {
		return nil, mapFSError(err)
	}

	var meta fsMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func mapFSError(err error) error {
	switch {
	case os.IsNotExist(err):
		return ErrNotFound
	case os.IsPermission(err):
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	default:
		return err
	}
}
