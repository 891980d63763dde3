package storage

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStorePutGetDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Put(ctx, "2026/3/14/abc.jpg", []byte("jpeg-bytes")); err != nil {
		t.Fatalf("put: %v", err)
	}

	data, err := store.Get(ctx, "2026/3/14/abc.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("got %q, want jpeg-bytes", data)
	}

	if err := store.Delete(ctx, "2026/3/14/abc.jpg"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "2026/3/14/abc.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreCopiesData(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	buf := []byte("original")
	if err := store.Put(ctx, "k", buf); err != nil {
		t.Fatalf("put: %v", err)
	}
	buf[0] = 'X'

	data, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "original" {
		t.Fatalf("stored object aliased caller buffer: %q", data)
	}
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	store := NewRedisStore(nil, "media", 0)
	if got := store.objectKey("2026/3/14/abc.jpg"); got != "media:2026/3/14/abc.jpg" {
		t.Fatalf("objectKey = %q", got)
	}
	if store.ttl != DefaultTTL {
		t.Fatalf("ttl = %v, want %v", store.ttl, DefaultTTL)
	}

	unprefixed := NewRedisStore(nil, "", 0)
	if got := unprefixed.objectKey("k"); got != "k" {
		t.Fatalf("objectKey = %q", got)
	}
}
