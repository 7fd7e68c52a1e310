package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func newTestCatalog(t *testing.T) (*MediaCatalog, *Store, string) {
	t.Helper()
	s := newTestStore(t)
	root := t.TempDir()
	return NewMediaCatalog(s, root), s, root
}

func TestUploadThenListServesOriginalBytes(t *testing.T) {
	cat, _, root := newTestCatalog(t)
	ctx := context.Background()
	payload := []byte("ID3\x03fake mp3 bytes")

	asset, err := cat.Upload(ctx, payload, "song.mp3", "audio/mpeg")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if asset.ID == 0 {
		t.Fatalf("catalog path should assign an id: %+v", asset)
	}
	if asset.Title != "song" || asset.MimeType != "audio/mpeg" {
		t.Fatalf("unexpected asset: %+v", asset)
	}

	assets, err := cat.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(assets) != 1 {
		t.Fatalf("expected exactly 1 asset, got %d", len(assets))
	}

	name := strings.TrimPrefix(assets[0].StorageURL, MediaURLPrefix)
	data, err := os.ReadFile(filepath.Join(root, name))
	if err != nil {
		t.Fatalf("storage url does not resolve: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatal("stored bytes differ from upload")
	}
}

func TestListFallsBackToFilesystemScan(t *testing.T) {
	cat, s, _ := newTestCatalog(t)
	ctx := context.Background()

	if _, err := cat.Upload(ctx, []byte("abc"), "track one.mp3", "audio/mpeg"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	s.available.Store(false)

	assets, err := cat.List(ctx)
	if err != nil {
		t.Fatalf("degraded list: %v", err)
	}
	if len(assets) != 1 {
		t.Fatalf("expected 1 asset from scan, got %d", len(assets))
	}
	a := assets[0]
	if a.ID == 0 || a.Title == "" || a.StorageURL == "" || a.MimeType == "" || a.UploadedAt.IsZero() {
		t.Fatalf("fallback record incomplete: %+v", a)
	}
	if !strings.HasPrefix(a.StorageURL, MediaURLPrefix) {
		t.Fatalf("fallback storage url malformed: %q", a.StorageURL)
	}
}

func TestUploadSucceedsWithStoreDown(t *testing.T) {
	cat, s, root := newTestCatalog(t)
	s.available.Store(false)

	asset, err := cat.Upload(context.Background(), []byte("abc"), "offline.mp3", "audio/mpeg")
	if err != nil {
		t.Fatalf("degraded upload: %v", err)
	}
	if asset.ID == 0 {
		t.Fatalf("expected synthesized id: %+v", asset)
	}
	name := strings.TrimPrefix(asset.StorageURL, MediaURLPrefix)
	if _, err := os.Stat(filepath.Join(root, name)); err != nil {
		t.Fatalf("file write is the success criterion, but: %v", err)
	}
}

func TestDeleteByIDRemovesRowAndFile(t *testing.T) {
	cat, _, root := newTestCatalog(t)
	ctx := context.Background()

	asset, err := cat.Upload(ctx, []byte("abc"), "gone.mp3", "audio/mpeg")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := cat.Delete(ctx, strconv.FormatUint(uint64(asset.ID), 10), ""); err != nil {
		t.Fatalf("delete: %v", err)
	}

	assets, err := cat.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(assets) != 0 {
		t.Fatalf("asset still listed after delete: %v", assets)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Fatalf("file survived delete: %v", entries)
	}
}

func TestDeleteUnknownIsNotFoundAndTouchesNothing(t *testing.T) {
	cat, _, root := newTestCatalog(t)
	ctx := context.Background()

	if _, err := cat.Upload(ctx, []byte("abc"), "keep.mp3", "audio/mpeg"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := cat.Delete(ctx, "999999", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 1 {
		t.Fatalf("delete of unknown id touched the filesystem: %v", entries)
	}
}

func TestDeleteFallsBackToFilenameHint(t *testing.T) {
	cat, s, root := newTestCatalog(t)
	ctx := context.Background()

	asset, err := cat.Upload(ctx, []byte("abc"), "hinted.mp3", "audio/mpeg")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	name := strings.TrimPrefix(asset.StorageURL, MediaURLPrefix)
	s.available.Store(false)

	if err := cat.Delete(ctx, "not-a-number", name); err != nil {
		t.Fatalf("filename delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, name)); !os.IsNotExist(err) {
		t.Fatalf("file survived filename delete: %v", err)
	}
}

func TestDeleteFilenameHintCannotEscapeRoot(t *testing.T) {
	cat, s, _ := newTestCatalog(t)
	s.available.Store(false)

	outside := filepath.Join(t.TempDir(), "victim.txt")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	err := cat.Delete(context.Background(), "x", "../"+filepath.Base(filepath.Dir(outside))+"/victim.txt")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for escaping hint, got %v", err)
	}
	if _, statErr := os.Stat(outside); statErr != nil {
		t.Fatalf("file outside the root was touched: %v", statErr)
	}
}

func TestFilenameDeleteCleansMatchingRow(t *testing.T) {
	cat, _, _ := newTestCatalog(t)
	ctx := context.Background()

	asset, err := cat.Upload(ctx, []byte("abc"), "row.mp3", "audio/mpeg")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	name := strings.TrimPrefix(asset.StorageURL, MediaURLPrefix)

	// Delete by filename while the store is up: the row must not dangle.
	if err := cat.Delete(ctx, name, ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	assets, err := cat.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(assets) != 0 {
		t.Fatalf("dangling catalog row after filename delete: %v", assets)
	}
}
