package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/vexsearch/offstore/internal/metrics"
)

// RetryPolicy bounds the exponential backoff applied to throttled calls.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, fails with a non-throttling error, or the
// attempt cap is reached. The final throttling error is returned wrapped so
// callers can still match ErrThrottled.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn()
		if err == nil || !IsThrottledError(err) {
			return err
		}
		metrics.IncThrottleRetry(op)
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", op, attempts, err)
}

// RetryingStore retries throttled operations with exponential backoff. All
// other errors pass through untouched.
type RetryingStore struct {
	inner  Store
	policy RetryPolicy
}

func NewRetryingStore(inner Store, policy RetryPolicy) *RetryingStore {
	return &RetryingStore{inner: inner, policy: policy}
}

func (s *RetryingStore) Get(ctx context.Context, key string, opts *GetOptions) (io.ReadCloser, *ObjectInfo, error) {
	var (
		rc   io.ReadCloser
		info *ObjectInfo
	)
	err := s.policy.Do(ctx, "get", func() error {
		var err error
		rc, info, err = s.inner.Get(ctx, key, opts)
		return err
	})
	return rc, info, err
}

func (s *RetryingStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	var info *ObjectInfo
	err := s.policy.Do(ctx, "head", func() error {
		var err error
		info, err = s.inner.Head(ctx, key)
		return err
	})
	return info, err
}

// bodyBytes buffers a request body so it can be replayed across attempts.
func bodyBytes(body io.Reader) ([]byte, error) {
	if b, ok := body.(*bytes.Reader); ok {
		data := make([]byte, b.Len())
		if _, err := io.ReadFull(b, data); err != nil {
			return nil, err
		}
		return data, nil
	}
	return io.ReadAll(body)
}

func (s *RetryingStore) Put(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	data, err := bodyBytes(body)
	if err != nil {
		return nil, err
	}
	var info *ObjectInfo
	err = s.policy.Do(ctx, "put", func() error {
		var err error
		info, err = s.inner.Put(ctx, key, bytes.NewReader(data), int64(len(data)), opts)
		return err
	})
	return info, err
}

func (s *RetryingStore) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	data, err := bodyBytes(body)
	if err != nil {
		return nil, err
	}
	var info *ObjectInfo
	err = s.policy.Do(ctx, "put_if_absent", func() error {
		var err error
		info, err = s.inner.PutIfAbsent(ctx, key, bytes.NewReader(data), int64(len(data)), opts)
		return err
	})
	return info, err
}

func (s *RetryingStore) PutIfMatch(ctx context.Context, key string, body io.Reader, size int64, etag string, opts *PutOptions) (*ObjectInfo, error) {
	data, err := bodyBytes(body)
	if err != nil {
		return nil, err
	}
	var info *ObjectInfo
	err = s.policy.Do(ctx, "put_if_match", func() error {
		var err error
		info, err = s.inner.PutIfMatch(ctx, key, bytes.NewReader(data), int64(len(data)), etag, opts)
		return err
	})
	return info, err
}

func (s *RetryingStore) Copy(ctx context.Context, srcKey, dstKey string) (*ObjectInfo, error) {
	var info *ObjectInfo
	err := s.policy.Do(ctx, "copy", func() error {
		var err error
		info, err = s.inner.Copy(ctx, srcKey, dstKey)
		return err
	})
	return info, err
}

func (s *RetryingStore) Delete(ctx context.Context, key string) error {
	return s.policy.Do(ctx, "delete", func() error {
		return s.inner.Delete(ctx, key)
	})
}

func (s *RetryingStore) List(ctx context.Context, opts *ListOptions) (*ListResult, error) {
	var result *ListResult
	err := s.policy.Do(ctx, "list", func() error {
		var err error
		result, err = s.inner.List(ctx, opts)
		return err
	})
	return result, err
}
