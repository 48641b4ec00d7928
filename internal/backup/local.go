package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vexsearch/offstore/internal/partition"
)

// Local writes backups under a directory on the local filesystem, mirroring
// the partition key layout.
type Local struct {
	dir    string
	suffix string
}

// NewLocal returns a Local store rooted at dir.
func NewLocal(dir, suffix string) (*Local, error) {
	if dir == "" {
		return nil, errors.New("backup directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &Local{dir: abs, suffix: suffix}, nil
}

func (l *Local) Mode() string { return "local" }

// Dir returns the backup root.
func (l *Local) Dir() string { return l.dir }

func (l *Local) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimLeft(key, "/")))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(l.dir, clean), nil
}

func (l *Local) Create(ctx context.Context, snap *partition.Snapshot, at time.Time) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		path, err := l.path(Key(snap.Key, l.suffix, at, attempt))
		if err != nil {
			return Record{}, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return Record{}, err
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return Record{}, err
		}
		if _, err := f.Write(snap.Raw); err != nil {
			f.Close()
			return Record{}, err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return Record{}, err
		}
		if err := f.Close(); err != nil {
			return Record{}, err
		}

		got, err := os.ReadFile(path)
		if err != nil {
			return Record{}, err
		}
		if err := verify(path, snap.Raw, got); err != nil {
			return Record{}, err
		}
		return Record{
			Source:    snap.Key,
			Location:  path,
			Mode:      l.Mode(),
			Size:      int64(len(snap.Raw)),
			Checksum:  Checksum(snap.Raw),
			CreatedAt: at.UTC(),
		}, nil
	}
	return Record{}, fmt.Errorf("no free backup name for %s after %d attempts", snap.Key, maxAttempts)
}

func (l *Local) Open(ctx context.Context, location string) ([]byte, error) {
	return os.ReadFile(location)
}

func (l *Local) Delete(ctx context.Context, location string) error {
	rel, err := filepath.Rel(l.dir, location)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("%w: %s is outside %s", ErrInvalidKey, location, l.dir)
	}
	if err := os.Remove(location); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
