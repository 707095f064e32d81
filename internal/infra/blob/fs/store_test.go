package fs

import (
	"bloodledger/internal/blob/core"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStorePutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "events/e1/drive.jpg", bytes.NewReader([]byte("jpeg")), core.PutOptions{ContentType: "image/jpeg", Metadata: map[string]string{"event": "e1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "events/e1/drive.jpg" || info.Size != 4 || info.URL != "http://local.blob/events/e1/drive.jpg" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "events/e1/drive.jpg", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected exists error, got %v", err)
	}

	head, err := store.Head(ctx, "events/e1/drive.jpg")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	got, rc, err := store.Get(ctx, "events/e1/drive.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(body) != "jpeg" || got.ETag != head.ETag || got.Metadata["event"] != "e1" || got.ContentType != "image/jpeg" {
		t.Fatalf("unexpected blob %q %+v", body, got)
	}

	if _, err := store.Put(ctx, "donors/d1/me.png", bytes.NewReader([]byte("png")), core.PutOptions{}); err != nil {
		t.Fatalf("put donor photo: %v", err)
	}
	list, err := store.List(ctx, "events/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "events/e1/drive.jpg" {
		t.Fatalf("unexpected list %+v", list)
	}
	all, _ := store.List(ctx, "")
	if len(all) != 2 || all[0].Key != "donors/d1/me.png" {
		t.Fatalf("expected sorted listing of two blobs, got %+v", all)
	}

	if ok, err := store.Delete(ctx, "events/e1/drive.jpg"); err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if ok, err := store.Delete(ctx, "events/e1/drive.jpg"); err != nil || ok {
		t.Fatalf("expected missing delete, ok=%v err=%v", ok, err)
	}
	if _, err := store.Head(ctx, "events/e1/drive.jpg"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, _, err := store.Get(ctx, "events/e1/drive.jpg"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreRejectsTraversalKeys(t *testing.T) {
	store := newTempStore(t)
	ctx := context.Background()
	for _, key := range []string{"", "/etc/passwd", "../escape", "a/../../b"} {
		if _, err := store.Put(ctx, key, bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
			t.Fatalf("key %q: expected invalid key, got %v", key, err)
		}
	}
}

func TestStoreCorruptSidecar(t *testing.T) {
	store := newTempStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, "k.png", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(store.Root(), "k.png.meta"), []byte("{"), 0o644); err != nil {
		t.Fatalf("corrupt sidecar: %v", err)
	}
	if _, err := store.Head(ctx, "k.png"); err == nil || errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if _, err := store.List(ctx, ""); err == nil {
		t.Fatalf("expected list to surface decode error")
	}
}

func TestPresignURL(t *testing.T) {
	store := newTempStore(t)
	ctx := context.Background()
	url, err := store.PresignURL(ctx, "donors/d1/me.png", core.SignedURLOptions{})
	if err != nil || url != "http://local.blob/donors/d1/me.png" {
		t.Fatalf("unexpected presign %q %v", url, err)
	}
	if _, err := store.PresignURL(ctx, "donors/d1/me.png", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if store.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
}

func TestNewDefaultsRoot(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	store, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if store.Root() != defaultRoot {
		t.Fatalf("unexpected root %s", store.Root())
	}
	if _, err := os.Stat(filepath.Join(dir, "blobdata")); err != nil {
		t.Fatalf("expected default root created: %v", err)
	}
}
