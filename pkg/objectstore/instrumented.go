package objectstore

import (
	"context"
	"io"
	"time"

	"github.com/vexsearch/offstore/internal/metrics"
)

// InstrumentedStore records latency, outcome and transferred bytes of every
// call to the wrapped Store.
type InstrumentedStore struct {
	inner Store
}

func NewInstrumentedStore(inner Store) *InstrumentedStore {
	return &InstrumentedStore{inner: inner}
}

func observe(op string, start time.Time, err error) {
	metrics.ObserveObjectStoreOp(op, time.Since(start).Seconds(), err)
}

// countingReader reports the bytes read from a Get body when it is closed.
type countingReader struct {
	io.ReadCloser
	n int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.n += int64(n)
	return n, err
}

func (r *countingReader) Close() error {
	metrics.AddObjectStoreBytes("read", r.n)
	return r.ReadCloser.Close()
}

func (s *InstrumentedStore) Get(ctx context.Context, key string, opts *GetOptions) (io.ReadCloser, *ObjectInfo, error) {
	start := time.Now()
	body, info, err := s.inner.Get(ctx, key, opts)
	observe("get", start, err)
	if err != nil {
		return nil, nil, err
	}
	return &countingReader{ReadCloser: body}, info, nil
}

func (s *InstrumentedStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	start := time.Now()
	info, err := s.inner.Head(ctx, key)
	observe("head", start, err)
	return info, err
}

func (s *InstrumentedStore) put(op string, size int64, call func() (*ObjectInfo, error)) (*ObjectInfo, error) {
	start := time.Now()
	info, err := call()
	observe(op, start, err)
	if err == nil {
		metrics.AddObjectStoreBytes("write", size)
	}
	return info, err
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	return s.put("put", size, func() (*ObjectInfo, error) {
		return s.inner.Put(ctx, key, body, size, opts)
	})
}

func (s *InstrumentedStore) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	return s.put("put_if_absent", size, func() (*ObjectInfo, error) {
		return s.inner.PutIfAbsent(ctx, key, body, size, opts)
	})
}

func (s *InstrumentedStore) PutIfMatch(ctx context.Context, key string, body io.Reader, size int64, etag string, opts *PutOptions) (*ObjectInfo, error) {
	return s.put("put_if_match", size, func() (*ObjectInfo, error) {
		return s.inner.PutIfMatch(ctx, key, body, size, etag, opts)
	})
}

// Copy is server side; no bytes are counted.
func (s *InstrumentedStore) Copy(ctx context.Context, srcKey, dstKey string) (*ObjectInfo, error) {
	start := time.Now()
	info, err := s.inner.Copy(ctx, srcKey, dstKey)
	observe("copy", start, err)
	return info, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, key)
	observe("delete", start, err)
	return err
}

func (s *InstrumentedStore) List(ctx context.Context, opts *ListOptions) (*ListResult, error) {
	start := time.Now()
	result, err := s.inner.List(ctx, opts)
	observe("list", start, err)
	return result, err
}
