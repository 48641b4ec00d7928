package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

type S3Store struct {
	client *minio.Client
	bucket string
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	// minio-go expects host:port, not a URL.
	endpoint := cfg.Endpoint
	secure := cfg.UseSSL
	if strings.HasPrefix(endpoint, "https://") {
		endpoint = strings.TrimPrefix(endpoint, "https://")
		secure = true
	} else if strings.HasPrefix(endpoint, "http://") {
		endpoint = strings.TrimPrefix(endpoint, "http://")
		secure = false
	}

	opts := &minio.Options{
		Secure: secure,
		Region: cfg.Region,
	}
	if cfg.AccessKey != "" {
		opts.Creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		opts.Creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}

	client, err := minio.New(endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

func (s *S3Store) Get(ctx context.Context, key string, opts *GetOptions) (io.ReadCloser, *ObjectInfo, error) {
	getOpts := minio.GetObjectOptions{}
	if opts != nil && opts.IfMatch != "" {
		getOpts.SetMatchETag(opts.IfMatch)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, getOpts)
	if err != nil {
		return nil, nil, s.mapError(err)
	}

	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, nil, s.mapError(err)
	}

	return obj, s.objectInfo(key, stat), nil
}

func (s *S3Store) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	stat, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, s.mapError(err)
	}
	return s.objectInfo(key, stat), nil
}

func (s *S3Store) objectInfo(key string, stat minio.ObjectInfo) *ObjectInfo {
	return &ObjectInfo{
		Key:          key,
		Size:         stat.Size,
		ETag:         strings.Trim(stat.ETag, "\""),
		LastModified: stat.LastModified,
		ContentType:  stat.ContentType,
	}
}

func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	reader, size, putOpts, err := s.preparePut(body, size, opts)
	if err != nil {
		return nil, err
	}
	return s.put(ctx, key, reader, size, putOpts)
}

func (s *S3Store) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	reader, size, putOpts, err := s.preparePut(body, size, opts)
	if err != nil {
		return nil, err
	}
	putOpts.SetMatchETagExcept("*")

	info, err := s.put(ctx, key, reader, size, putOpts)
	if errors.Is(err, ErrPrecondition) {
		return nil, ErrAlreadyExists
	}
	return info, err
}

func (s *S3Store) PutIfMatch(ctx context.Context, key string, body io.Reader, size int64, etag string, opts *PutOptions) (*ObjectInfo, error) {
	reader, size, putOpts, err := s.preparePut(body, size, opts)
	if err != nil {
		return nil, err
	}
	putOpts.SetMatchETag(etag)
	return s.put(ctx, key, reader, size, putOpts)
}

func (s *S3Store) put(ctx context.Context, key string, reader io.Reader, size int64, putOpts minio.PutObjectOptions) (*ObjectInfo, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, reader, size, putOpts)
	if err != nil {
		return nil, s.mapError(err)
	}
	return &ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ETag:         strings.Trim(info.ETag, "\""),
		LastModified: info.LastModified,
	}, nil
}

// Copy performs a server-side copy, so backups never round-trip the data
// through this process.
func (s *S3Store) Copy(ctx context.Context, srcKey, dstKey string) (*ObjectInfo, error) {
	info, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: s.bucket, Object: srcKey},
	)
	if err != nil {
		return nil, s.mapError(err)
	}
	return &ObjectInfo{
		Key:          dstKey,
		Size:         info.Size,
		ETag:         strings.Trim(info.ETag, "\""),
		LastModified: info.LastModified,
	}, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, opts *ListOptions) (*ListResult, error) {
	listOpts := minio.ListObjectsOptions{Recursive: true}
	maxKeys := 1000
	if opts != nil {
		listOpts.Prefix = opts.Prefix
		listOpts.StartAfter = opts.Marker
		if opts.MaxKeys > 0 {
			maxKeys = opts.MaxKeys
		}
	}
	listOpts.MaxKeys = maxKeys

	// Cancel the listing goroutine when we stop early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := &ListResult{}
	for obj := range s.client.ListObjects(ctx, s.bucket, listOpts) {
		if obj.Err != nil {
			return nil, s.mapError(obj.Err)
		}

		result.Objects = append(result.Objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         strings.Trim(obj.ETag, "\""),
			LastModified: obj.LastModified,
			ContentType:  obj.ContentType,
		})

		if len(result.Objects) >= maxKeys {
			result.IsTruncated = true
			result.NextMarker = obj.Key
			break
		}
	}

	return result, nil
}

func (s *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (s *S3Store) mapError(err error) error {
	if err == nil {
		return nil
	}

	errResp := minio.ToErrorResponse(err)
	switch errResp.Code {
	case "NoSuchKey":
		return ErrNotFound
	case "PreconditionFailed":
		return ErrPrecondition
	case "AccessDenied":
		return fmt.Errorf("%w: %s", ErrAccessDenied, errResp.Message)
	case "SlowDown", "ThrottlingException", "RequestLimitExceeded", "TooManyRequests":
		return fmt.Errorf("%w: %s", ErrThrottled, errResp.Message)
	}

	switch errResp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusPreconditionFailed:
		return ErrPrecondition
	case http.StatusConflict:
		return ErrAlreadyExists
	case http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %v", ErrThrottled, err)
	}

	return err
}

func (s *S3Store) preparePut(body io.Reader, size int64, opts *PutOptions) (io.Reader, int64, minio.PutObjectOptions, error) {
	putOpts := minio.PutObjectOptions{}
	if opts != nil && opts.ContentType != "" {
		putOpts.ContentType = opts.ContentType
	}

	if opts == nil || opts.Checksum == "" {
		return body, size, putOpts, nil
	}

	var buf bytes.Buffer
	hash := sha256.New()
	if _, err := io.Copy(&buf, io.TeeReader(body, hash)); err != nil {
		return nil, 0, minio.PutObjectOptions{}, fmt.Errorf("failed to compute checksum: %w", err)
	}
	computed := base64.StdEncoding.EncodeToString(hash.Sum(nil))
	if computed != opts.Checksum {
		return nil, 0, minio.PutObjectOptions{}, fmt.Errorf("%w: checksum mismatch: expected %s, got %s", ErrChecksumFailed, opts.Checksum, computed)
	}
	putOpts.UserMetadata = map[string]string{"X-Amz-Checksum-SHA256": opts.Checksum}

	return bytes.NewReader(buf.Bytes()), int64(buf.Len()), putOpts, nil
}
