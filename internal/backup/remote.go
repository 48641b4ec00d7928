package backup

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/vexsearch/offstore/internal/partition"
	"github.com/vexsearch/offstore/pkg/objectstore"
)

// Remote copies partitions to sibling keys in the same object store.
type Remote struct {
	source *partition.Source
}

// NewRemote returns a Remote store writing next to the partitions of source.
func NewRemote(source *partition.Source) *Remote {
	return &Remote{source: source}
}

func (r *Remote) Mode() string { return "remote" }

func (r *Remote) Create(ctx context.Context, snap *partition.Snapshot, at time.Time) (Record, error) {
	store := r.source.Store()
	for attempt := 0; attempt < maxAttempts; attempt++ {
		dst := Key(snap.Key, r.source.Suffix(), at, attempt)
		if _, err := store.Head(ctx, dst); err == nil {
			continue
		} else if !objectstore.IsNotFoundError(err) {
			return Record{}, err
		}

		if err := r.source.Copy(ctx, snap.Key, dst); err != nil {
			return Record{}, err
		}
		// The copy is server side; it must match what the worker read.
		got, err := r.Open(ctx, dst)
		if err != nil {
			return Record{}, err
		}
		if err := verify(dst, snap.Raw, got); err != nil {
			_ = store.Delete(ctx, dst)
			return Record{}, err
		}
		return Record{
			Source:    snap.Key,
			Location:  dst,
			Mode:      r.Mode(),
			Size:      int64(len(snap.Raw)),
			Checksum:  Checksum(snap.Raw),
			CreatedAt: at.UTC(),
		}, nil
	}
	return Record{}, fmt.Errorf("no free backup key for %s after %d attempts", snap.Key, maxAttempts)
}

func (r *Remote) Open(ctx context.Context, location string) ([]byte, error) {
	body, _, err := r.source.Store().Get(ctx, location, nil)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

func (r *Remote) Delete(ctx context.Context, location string) error {
	if !partition.IsBackupKey(location) {
		return fmt.Errorf("%w: %s is not a backup key", ErrInvalidKey, location)
	}
	return r.source.Delete(ctx, location)
}
