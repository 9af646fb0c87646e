package storage

import (
	"context"
	"errors"
	"testing"
)

func TestLocalStorage_PutGet(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	content := []byte("hello world")
	etag, err := store.Put(ctx, "snapshots/a.json.sz", content)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if etag != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Errorf("unexpected etag %s", etag)
	}

	exists, err := store.Exists(ctx, "snapshots/a.json.sz")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	got, err := store.Get(ctx, "snapshots/a.json.sz")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestLocalStorage_GetNotFound(t *testing.T) {
	store, _ := NewLocalStorage(t.TempDir())

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_Delete(t *testing.T) {
	store, _ := NewLocalStorage(t.TempDir())
	ctx := context.Background()

	if _, err := store.Put(ctx, "x", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "x"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if exists, _ := store.Exists(ctx, "x"); exists {
		t.Error("expected object to be gone")
	}
	// Idempotent
	if err := store.Delete(ctx, "x"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestLocalStorage_ConditionalPut(t *testing.T) {
	store, _ := NewLocalStorage(t.TempDir())
	ctx := context.Background()

	etag, err := store.ConditionalPut(ctx, "latest.json", []byte("v1"), "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := store.ConditionalPut(ctx, "latest.json", []byte("v2"), ""); !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("expected precondition failure when object exists, got %v", err)
	}
	if _, err := store.ConditionalPut(ctx, "latest.json", []byte("v2"), "stale"); !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("expected precondition failure on stale etag, got %v", err)
	}
	if _, err := store.ConditionalPut(ctx, "latest.json", []byte("v2"), etag); err != nil {
		t.Errorf("expected update with matching etag, got %v", err)
	}
	if _, err := store.ConditionalPut(ctx, "other.json", []byte("v1"), etag); !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("expected precondition failure for missing object, got %v", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	store, _ := NewLocalStorage(t.TempDir())
	ctx := context.Background()

	for _, p := range []string{"snapshots/b.json.sz", "snapshots/a.json.sz", "other/c"} {
		if _, err := store.Put(ctx, p, []byte(p)); err != nil {
			t.Fatal(err)
		}
	}

	objects, err := store.ListObjects(ctx, "snapshots")
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 2 || objects[0] != "snapshots/a.json.sz" || objects[1] != "snapshots/b.json.sz" {
		t.Errorf("unexpected objects: %v", objects)
	}

	empty, err := store.ListObjects(ctx, "nothing")
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty list, got %v (%v)", empty, err)
	}
}
