// Package objectstore abstracts the object storage holding offline-store
// partitions. Implementations exist for S3-compatible services (minio-go),
// the local filesystem and memory.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	ErrNotFound       = errors.New("object not found")
	ErrPrecondition   = errors.New("precondition failed")
	ErrAlreadyExists  = errors.New("object already exists")
	ErrChecksumFailed = errors.New("checksum verification failed")
	ErrAccessDenied   = errors.New("access denied")
	// ErrThrottled marks a transient rate-limit response. Only throttled
	// operations are retried by RetryingStore.
	ErrThrottled = errors.New("request throttled")
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

type ListResult struct {
	Objects     []ObjectInfo
	NextMarker  string
	IsTruncated bool
}

type GetOptions struct {
	IfMatch string
}

type PutOptions struct {
	ContentType string
	Checksum    string
}

type ListOptions struct {
	Prefix  string
	Marker  string
	MaxKeys int
}

type Store interface {
	Get(ctx context.Context, key string, opts *GetOptions) (io.ReadCloser, *ObjectInfo, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error)
	PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error)
	PutIfMatch(ctx context.Context, key string, body io.Reader, size int64, etag string, opts *PutOptions) (*ObjectInfo, error)
	Copy(ctx context.Context, srcKey, dstKey string) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, opts *ListOptions) (*ListResult, error)
}

// Config selects and configures a Store implementation.
type Config struct {
	Type      string
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	RootPath  string
}

// New builds the store named by cfg.Type ("s3", "minio", "fs" or "memory").
func New(cfg Config) (Store, error) {
	switch cfg.Type {
	case "s3", "minio":
		return NewS3Store(S3Config{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			UseSSL:    cfg.UseSSL,
		})
	case "fs", "filesystem":
		if cfg.RootPath == "" {
			return nil, errors.New("fs object store requires a root path")
		}
		return NewFSStore(cfg.RootPath)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown object store type %q", cfg.Type)
	}
}

// IsNotFoundError reports whether err means the object does not exist.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsThrottledError reports whether err is a retryable rate-limit response.
func IsThrottledError(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// ListAll pages through every object under prefix.
func ListAll(ctx context.Context, store Store, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	marker := ""
	for {
		result, err := store.List(ctx, &ListOptions{
			Prefix:  prefix,
			Marker:  marker,
			MaxKeys: 1000,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		objects = append(objects, result.Objects...)
		if !result.IsTruncated || result.NextMarker == "" {
			break
		}
		marker = result.NextMarker
	}
	return objects, nil
}
