// Package backup stores verified copies of partitions before they are
// overwritten.
package backup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/vexsearch/offstore/internal/partition"
)

var (
	// ErrVerification is returned when a backup does not read back as the
	// bytes that were backed up.
	ErrVerification = errors.New("backup verification failed")
	// ErrInvalidKey is returned for partition keys that cannot be mapped to
	// a backup location.
	ErrInvalidKey = errors.New("invalid partition key for backup")
)

// Record describes one created backup.
type Record struct {
	Source    string    `json:"source"`
	Location  string    `json:"location"`
	Mode      string    `json:"mode"`
	Size      int64     `json:"size"`
	Checksum  uint64    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

// Store creates, reads and removes backups.
type Store interface {
	Mode() string
	// Create persists a copy of snap and verifies it before returning.
	Create(ctx context.Context, snap *partition.Snapshot, at time.Time) (Record, error)
	// Open returns the bytes of a backup.
	Open(ctx context.Context, location string) ([]byte, error)
	Delete(ctx context.Context, location string) error
}

// Key derives the backup key of a partition key: the timestamp is inserted
// before suffix, e.g. a/part.parquet -> a/part_backup_1700000000.parquet.
// attempt > 0 disambiguates backups taken within the same second.
func Key(key, suffix string, at time.Time, attempt int) string {
	stamp := partition.BackupMarker + strconv.FormatInt(at.Unix(), 10)
	if attempt > 0 {
		stamp += "_" + strconv.Itoa(attempt)
	}
	if suffix != "" && strings.HasSuffix(key, suffix) {
		return strings.TrimSuffix(key, suffix) + stamp + suffix
	}
	return key + stamp
}

// Checksum fingerprints backup content.
func Checksum(data []byte) uint64 {
	return xxhash.Sum64(data)
}

func verify(location string, want []byte, got []byte) error {
	if Checksum(got) != Checksum(want) || len(got) != len(want) {
		return fmt.Errorf("%w: %s differs from the source read", ErrVerification, location)
	}
	return nil
}

const maxAttempts = 10

// ParseTime returns the creation time encoded in a backup key or path.
func ParseTime(key string) (time.Time, bool) {
	i := strings.LastIndex(key, partition.BackupMarker)
	if i < 0 {
		return time.Time{}, false
	}
	rest := key[i+len(partition.BackupMarker):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(rest[:end], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0).UTC(), true
}
