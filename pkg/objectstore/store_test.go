package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, NewMemoryStore())
}

func TestFSStore(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create fs store: %v", err)
	}
	runStoreTests(t, store)
}

func runStoreTests(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("basic CRUD", func(t *testing.T) {
		testBasicCRUD(t, ctx, store)
	})
	t.Run("conditional writes", func(t *testing.T) {
		testConditionalWrites(t, ctx, store)
	})
	t.Run("copy", func(t *testing.T) {
		testCopy(t, ctx, store)
	})
	t.Run("list pagination", func(t *testing.T) {
		testListPagination(t, ctx, store)
	})
}

func readAll(t *testing.T, ctx context.Context, store Store, key string) []byte {
	t.Helper()
	rc, _, err := store.Get(ctx, key, nil)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	return data
}

func testBasicCRUD(t *testing.T, ctx context.Context, store Store) {
	key := "test/basic/object.bin"
	content := []byte("hello world")

	info, err := store.Put(ctx, key, bytes.NewReader(content), int64(len(content)), nil)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if info.Size != int64(len(content)) {
		t.Errorf("size mismatch: got %d, want %d", info.Size, len(content))
	}
	if info.ETag == "" {
		t.Error("ETag should not be empty")
	}

	headInfo, err := store.Head(ctx, key)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if headInfo.ETag != info.ETag {
		t.Errorf("head etag mismatch: got %s, want %s", headInfo.ETag, info.ETag)
	}

	if got := readAll(t, ctx, store, key); !bytes.Equal(got, content) {
		t.Errorf("content mismatch: got %q, want %q", got, content)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Head(ctx, key); !IsNotFoundError(err) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func testConditionalWrites(t *testing.T, ctx context.Context, store Store) {
	key := "test/conditional/object.bin"

	info, err := store.PutIfAbsent(ctx, key, bytes.NewReader([]byte("v1")), 2, nil)
	if err != nil {
		t.Fatalf("PutIfAbsent failed: %v", err)
	}
	if _, err := store.PutIfAbsent(ctx, key, bytes.NewReader([]byte("v2")), 2, nil); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	if _, err := store.PutIfMatch(ctx, key, bytes.NewReader([]byte("v2")), 2, "bogus", nil); !errors.Is(err, ErrPrecondition) {
		t.Errorf("expected ErrPrecondition, got %v", err)
	}
	if _, err := store.PutIfMatch(ctx, key, bytes.NewReader([]byte("v2")), 2, info.ETag, nil); err != nil {
		t.Fatalf("PutIfMatch with current etag failed: %v", err)
	}
	if got := readAll(t, ctx, store, key); string(got) != "v2" {
		t.Errorf("expected v2, got %q", got)
	}
}

func testCopy(t *testing.T, ctx context.Context, store Store) {
	src := "test/copy/src.bin"
	dst := "test/copy/dst.bin"
	content := []byte("partition bytes")

	if _, err := store.Put(ctx, src, bytes.NewReader(content), int64(len(content)), nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := store.Copy(ctx, src, dst); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}

	// Overwriting the source must not affect the copy.
	if _, err := store.Put(ctx, src, bytes.NewReader([]byte("changed")), 7, nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if got := readAll(t, ctx, store, dst); !bytes.Equal(got, content) {
		t.Errorf("copy content mismatch: got %q, want %q", got, content)
	}

	if _, err := store.Copy(ctx, "test/copy/missing.bin", dst); !IsNotFoundError(err) {
		t.Errorf("expected ErrNotFound copying missing object, got %v", err)
	}
}

func testListPagination(t *testing.T, ctx context.Context, store Store) {
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("test/list/part-%02d.bin", i)
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte{byte(i)}), 1, nil); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	page, err := store.List(ctx, &ListOptions{Prefix: "test/list/", MaxKeys: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page.Objects) != 2 || !page.IsTruncated {
		t.Fatalf("expected truncated page of 2, got %d (truncated=%v)", len(page.Objects), page.IsTruncated)
	}

	all, err := ListAll(ctx, store, "test/list/")
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 objects, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Key >= all[i].Key {
			t.Errorf("keys not sorted: %s >= %s", all[i-1].Key, all[i].Key)
		}
	}
}

type throttlingStore struct {
	*MemoryStore
	failures int
	calls    int
}

func (s *throttlingStore) Put(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	s.calls++
	if s.calls <= s.failures {
		io.Copy(io.Discard, body)
		return nil, fmt.Errorf("%w: slow down", ErrThrottled)
	}
	return s.MemoryStore.Put(ctx, key, body, size, opts)
}

func TestRetryingStoreRetriesThrottling(t *testing.T) {
	ctx := context.Background()
	inner := &throttlingStore{MemoryStore: NewMemoryStore(), failures: 2}
	store := NewRetryingStore(inner, RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond})

	if _, err := store.Put(ctx, "k", bytes.NewReader([]byte("payload")), 7, nil); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls)
	}
	if got := readAll(t, ctx, store, "k"); string(got) != "payload" {
		t.Errorf("body not replayed intact: %q", got)
	}
}

func TestRetryingStoreGivesUp(t *testing.T) {
	ctx := context.Background()
	inner := &throttlingStore{MemoryStore: NewMemoryStore(), failures: 10}
	store := NewRetryingStore(inner, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})

	_, err := store.Put(ctx, "k", bytes.NewReader([]byte("x")), 1, nil)
	if !IsThrottledError(err) {
		t.Fatalf("expected throttling error after exhausting retries, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryingStoreDoesNotRetryOtherErrors(t *testing.T) {
	ctx := context.Background()
	calls := 0
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	err := policy.Do(ctx, "get", func() error {
		calls++
		return ErrNotFound
	})
	if !IsNotFoundError(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
}

func TestNewSelectsImplementation(t *testing.T) {
	if _, err := New(Config{Type: "memory"}); err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if _, err := New(Config{Type: "fs", RootPath: t.TempDir()}); err != nil {
		t.Fatalf("fs store: %v", err)
	}
	if _, err := New(Config{Type: "fs"}); err == nil {
		t.Error("expected error for fs store without root path")
	}
	if _, err := New(Config{Type: "tape"}); err == nil {
		t.Error("expected error for unknown store type")
	}
}
