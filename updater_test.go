package fsmirror_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mwantia/fsmirror"
	cachememory "github.com/mwantia/fsmirror/cache/memory"
	"github.com/mwantia/fsmirror/data"
	"github.com/mwantia/fsmirror/scanner"
	storagememory "github.com/mwantia/fsmirror/storage/memory"
)

// newTestVolume creates an opened volume over in-memory backends and
// populates the cache with a recursive scan of the seeded storage.
func newTestVolume(t *testing.T, seed func(st *storagememory.MemoryStorage)) (*fsmirror.Volume, *storagememory.MemoryStorage) {
	t.Helper()
	ctx := context.Background()

	st := storagememory.NewMemoryStorage()
	if seed != nil {
		seed(st)
	}

	vol, err := fsmirror.NewVolume(st, cachememory.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewVolume failed: %v", err)
	}
	if err := vol.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		vol.Close(ctx)
	})

	if _, err := vol.Scanner().Scan(ctx, "", scanner.ScanRecursive, false); err != nil {
		t.Fatalf("initial scan failed: %v", err)
	}

	return vol, st
}

func getEntry(t *testing.T, vol *fsmirror.Volume, path string) *data.Entry {
	t.Helper()

	entry, err := vol.Cache().Get(context.Background(), path)
	if err != nil {
		t.Fatalf("Get %q failed: %v", path, err)
	}

	return entry
}

func TestUpdaterUpdateNewFile(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	vol, st := newTestVolume(t, func(st *storagememory.MemoryStorage) {
		st.PutDir("docs", base)
		st.PutFile("docs/old.txt", 10, base)
	})

	rootBefore := getEntry(t, vol, "")
	docsBefore := getEntry(t, vol, "docs")

	// A new file appears on storage
	changeTime := time.Now()
	st.PutFile("docs/new.txt", 30, changeTime)
	st.Touch("docs", changeTime)

	if err := vol.Updater().Update(ctx, "docs/new.txt", changeTime); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	entry := getEntry(t, vol, "docs/new.txt")
	if entry.Size != 30 {
		t.Errorf("size = %d, expected 30", entry.Size)
	}

	docs := getEntry(t, vol, "docs")
	if docs.Size != 40 {
		t.Errorf("folder size = %d, expected 40", docs.Size)
	}
	if !docs.MTime.Equal(changeTime) {
		t.Errorf("folder mtime = %v, expected %v", docs.MTime, changeTime)
	}
	if docs.ETag == docsBefore.ETag {
		t.Error("folder etag should be replaced")
	}
	if !docs.StorageMTime.Equal(changeTime) {
		t.Errorf("parent storage mtime not realigned, got %v", docs.StorageMTime)
	}

	root := getEntry(t, vol, "")
	if root.Size != 40 {
		t.Errorf("root size = %d, expected 40", root.Size)
	}
	if !root.MTime.After(rootBefore.MTime) {
		t.Error("root mtime should advance")
	}
}

func TestUpdaterUpdateModifiedFile(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	vol, st := newTestVolume(t, func(st *storagememory.MemoryStorage) {
		st.PutDir("docs", base)
		st.PutFile("docs/f.txt", 10, base)
	})

	before := getEntry(t, vol, "docs/f.txt")

	changeTime := time.Now()
	st.PutFile("docs/f.txt", 25, changeTime)

	if err := vol.Updater().Update(ctx, "docs/f.txt", changeTime); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	entry := getEntry(t, vol, "docs/f.txt")
	if entry.ID != before.ID {
		t.Error("update should preserve entry identity")
	}
	if entry.Size != 25 {
		t.Errorf("size = %d, expected 25", entry.Size)
	}
	if entry.ETag == before.ETag {
		t.Error("etag should be replaced")
	}

	docs := getEntry(t, vol, "docs")
	if docs.Size != 25 {
		t.Errorf("folder size = %d, expected 25", docs.Size)
	}
}

func TestUpdaterUpdatePartialNoOp(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	vol, st := newTestVolume(t, func(st *storagememory.MemoryStorage) {
		st.PutDir("docs", base)
		st.PutFile("docs/f.txt", 10, base)
	})

	docsBefore := getEntry(t, vol, "docs")

	st.PutFile("docs/upload.zip.part", 99, time.Now())

	if err := vol.Updater().Update(ctx, "docs/upload.zip.part", time.Now()); err != nil {
		t.Fatalf("Update of partial path must be a no-op, got: %v", err)
	}

	if exists, _ := vol.Cache().InCache(ctx, "docs/upload.zip.part"); exists {
		t.Error("partial file must not be cached")
	}

	docs := getEntry(t, vol, "docs")
	if docs.Size != docsBefore.Size || docs.ETag != docsBefore.ETag || !docs.MTime.Equal(docsBefore.MTime) {
		t.Error("partial update must leave ancestors untouched")
	}
}

func TestUpdaterUpdateAbortsOnScanFailure(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	vol, _ := newTestVolume(t, func(st *storagememory.MemoryStorage) {
		st.PutDir("docs", base)
		st.PutFile("docs/f.txt", 10, base)
	})

	docsBefore := getEntry(t, vol, "docs")

	// The path was never written to storage
	if err := vol.Updater().Update(ctx, "docs/ghost.txt", time.Now()); err == nil {
		t.Fatal("expected an error for a path missing on storage")
	}

	docs := getEntry(t, vol, "docs")
	if docs.ETag != docsBefore.ETag || !docs.MTime.Equal(docsBefore.MTime) {
		t.Error("aborted update must not touch ancestors")
	}
}

func TestUpdaterRemove(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	vol, st := newTestVolume(t, func(st *storagememory.MemoryStorage) {
		st.PutDir("docs", base)
		st.PutFile("docs/keep.txt", 10, base)
		st.PutDir("docs/sub", base)
		st.PutFile("docs/sub/gone.txt", 30, base)
	})

	docsBefore := getEntry(t, vol, "docs")

	st.Remove("docs/sub")

	if err := vol.Updater().Remove(ctx, "docs/sub"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	for _, path := range []string{"docs/sub", "docs/sub/gone.txt"} {
		if exists, _ := vol.Cache().InCache(ctx, path); exists {
			t.Errorf("%q should be removed from the cache", path)
		}
	}

	docs := getEntry(t, vol, "docs")
	if docs.Size != 10 {
		t.Errorf("folder size = %d, expected 10", docs.Size)
	}
	if docs.ETag == docsBefore.ETag {
		t.Error("folder etag should be replaced")
	}
	if !docs.MTime.After(docsBefore.MTime) {
		t.Error("folder mtime should advance")
	}

	root := getEntry(t, vol, "")
	if root.Size != 10 {
		t.Errorf("root size = %d, expected 10", root.Size)
	}
}

func TestUpdaterRemoveUncached(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	vol, _ := newTestVolume(t, func(st *storagememory.MemoryStorage) {
		st.PutDir("docs", base)
		st.PutFile("docs/f.txt", 10, base)
	})

	// Idempotent: the entry is not cached, corrections still run
	if err := vol.Updater().Remove(ctx, "docs/never-seen.txt"); err != nil {
		t.Fatalf("Remove of uncached path failed: %v", err)
	}

	docs := getEntry(t, vol, "docs")
	if docs.Size != 10 {
		t.Errorf("folder size = %d, expected 10", docs.Size)
	}
}

func TestUpdaterDisableEnable(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	vol, st := newTestVolume(t, func(st *storagememory.MemoryStorage) {
		st.PutDir("docs", base)
		st.PutFile("docs/f.txt", 10, base)
	})

	updater := vol.Updater()
	if !updater.Enabled() {
		t.Fatal("updater should start enabled")
	}

	updater.Disable()

	changeTime := time.Now()
	st.PutFile("docs/late.txt", 5, changeTime)

	if err := updater.Update(ctx, "docs/late.txt", changeTime); err != nil {
		t.Fatalf("disabled Update failed: %v", err)
	}
	if exists, _ := vol.Cache().InCache(ctx, "docs/late.txt"); exists {
		t.Error("disabled updater must not write to the cache")
	}
	if err := updater.Remove(ctx, "docs/f.txt"); err != nil {
		t.Fatalf("disabled Remove failed: %v", err)
	}
	if exists, _ := vol.Cache().InCache(ctx, "docs/f.txt"); !exists {
		t.Error("disabled updater must not remove cache entries")
	}

	// Propagation stays available while disabled
	docsBefore := getEntry(t, vol, "docs")
	if err := updater.Propagate(ctx, "docs/f.txt", changeTime); err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}
	if docs := getEntry(t, vol, "docs"); docs.ETag == docsBefore.ETag {
		t.Error("Propagate must work while the updater is disabled")
	}

	updater.Enable()

	if err := updater.Update(ctx, "docs/late.txt", changeTime); err != nil {
		t.Fatalf("Update after Enable failed: %v", err)
	}
	if exists, _ := vol.Cache().InCache(ctx, "docs/late.txt"); !exists {
		t.Error("re-enabled updater should resume maintenance")
	}
}

func TestUpdaterRenameSameVolume(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	vol, st := newTestVolume(t, func(st *storagememory.MemoryStorage) {
		st.PutDir("a", base)
		st.PutDir("b", base)
		st.PutFile("a/image.txt", 20, base)
	})

	before := getEntry(t, vol, "a/image.txt")

	// The physical move already happened; the updater is told after
	st.Remove("a/image.txt")
	st.PutFile("b/image.jpg", 20, time.Now())

	if err := vol.Updater().RenameFromStorage(ctx, nil, "a/image.txt", "b/image.jpg"); err != nil {
		t.Fatalf("RenameFromStorage failed: %v", err)
	}

	if exists, _ := vol.Cache().InCache(ctx, "a/image.txt"); exists {
		t.Error("source entry should be gone")
	}

	moved := getEntry(t, vol, "b/image.jpg")
	if moved.ID != before.ID {
		t.Error("same-volume rename should preserve entry identity")
	}
	if moved.ContentType != data.ContentTypeImageJPEG {
		t.Errorf("content type = %q, expected image/jpeg", moved.ContentType)
	}

	if a := getEntry(t, vol, "a"); a.Size != 0 {
		t.Errorf("source folder size = %d, expected 0", a.Size)
	}
	if b := getEntry(t, vol, "b"); b.Size != 20 {
		t.Errorf("target folder size = %d, expected 20", b.Size)
	}
}

func TestUpdaterRenameSameExtensionKeepsContentType(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	vol, st := newTestVolume(t, func(st *storagememory.MemoryStorage) {
		st.PutDir("a", base)
		st.PutFile("a/one.txt", 5, base)
	})

	before := getEntry(t, vol, "a/one.txt")

	st.Remove("a/one.txt")
	st.PutFile("a/two.txt", 5, time.Now())

	if err := vol.Updater().RenameFromStorage(ctx, nil, "a/one.txt", "a/two.txt"); err != nil {
		t.Fatalf("RenameFromStorage failed: %v", err)
	}

	moved := getEntry(t, vol, "a/two.txt")
	if moved.ContentType != before.ContentType {
		t.Errorf("content type changed to %q", moved.ContentType)
	}
	if a := getEntry(t, vol, "a"); a.Size != 5 {
		t.Errorf("folder size = %d, expected 5", a.Size)
	}
}

func TestUpdaterRenameOverwritesTarget(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	vol, st := newTestVolume(t, func(st *storagememory.MemoryStorage) {
		st.PutDir("d", base)
		st.PutFile("d/src.txt", 7, base)
		st.PutFile("d/dst.txt", 3, base)
	})

	occupied := getEntry(t, vol, "d/dst.txt")

	st.Remove("d/src.txt")
	st.PutFile("d/dst.txt", 7, time.Now())

	if err := vol.Updater().RenameFromStorage(ctx, nil, "d/src.txt", "d/dst.txt"); err != nil {
		t.Fatalf("RenameFromStorage failed: %v", err)
	}

	entry := getEntry(t, vol, "d/dst.txt")
	if entry.ID == occupied.ID {
		t.Error("occupied target should be replaced, not reused")
	}
	if entry.Size != 7 {
		t.Errorf("size = %d, expected 7", entry.Size)
	}

	if d := getEntry(t, vol, "d"); d.Size != 7 {
		t.Errorf("folder size = %d, expected 7", d.Size)
	}
}

func TestUpdaterRenameAcrossVolumes(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	sourceVol, sourceStorage := newTestVolume(t, func(st *storagememory.MemoryStorage) {
		st.PutDir("out", base)
		st.PutDir("out/docs", base)
		st.PutFile("out/docs/a.txt", 10, base)
		st.PutFile("out/docs/b.txt", 30, base)
	})
	targetVol, targetStorage := newTestVolume(t, func(st *storagememory.MemoryStorage) {
		st.PutDir("in", base)
	})

	// Physical cross-storage move of the whole directory
	moveTime := time.Now()
	sourceStorage.Remove("out/docs")
	targetStorage.PutDir("in/docs", moveTime)
	targetStorage.PutFile("in/docs/a.txt", 10, moveTime)
	targetStorage.PutFile("in/docs/b.txt", 30, moveTime)

	if err := targetVol.Updater().RenameFromStorage(ctx, sourceVol, "out/docs", "in/docs"); err != nil {
		t.Fatalf("RenameFromStorage failed: %v", err)
	}

	for _, path := range []string{"out/docs", "out/docs/a.txt", "out/docs/b.txt"} {
		if exists, _ := sourceVol.Cache().InCache(ctx, path); exists {
			t.Errorf("source entry %q should be gone", path)
		}
	}

	docs := getEntry(t, targetVol, "in/docs")
	if docs.Size != 40 {
		t.Errorf("moved folder size = %d, expected 40", docs.Size)
	}

	a := getEntry(t, targetVol, "in/docs/a.txt")
	if a.Size != 10 {
		t.Errorf("moved file size = %d, expected 10", a.Size)
	}

	if out := getEntry(t, sourceVol, "out"); out.Size != 0 {
		t.Errorf("source folder size = %d, expected 0", out.Size)
	}
	if in := getEntry(t, targetVol, "in"); in.Size != 40 {
		t.Errorf("target folder size = %d, expected 40", in.Size)
	}

	// Both roots propagate from one shared timestamp
	if root := getEntry(t, sourceVol, ""); root.MTime.Before(moveTime) {
		t.Errorf("source root mtime %v should be at or after the move", root.MTime)
	}
	if root := getEntry(t, targetVol, ""); root.MTime.Before(moveTime) {
		t.Errorf("target root mtime %v should be at or after the move", root.MTime)
	}
}

func TestUpdaterRenamePartialNoOp(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	vol, _ := newTestVolume(t, func(st *storagememory.MemoryStorage) {
		st.PutDir("docs", base)
		st.PutFile("docs/f.txt", 10, base)
	})

	docsBefore := getEntry(t, vol, "docs")

	if err := vol.Updater().RenameFromStorage(ctx, nil, "docs/upload.part", "docs/upload.zip"); err != nil {
		t.Fatalf("partial rename must be a no-op, got: %v", err)
	}

	docs := getEntry(t, vol, "docs")
	if docs.ETag != docsBefore.ETag || !docs.MTime.Equal(docsBefore.MTime) {
		t.Error("partial rename must leave the cache untouched")
	}
}

func TestUpdaterPropagatePartialNoOp(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	vol, _ := newTestVolume(t, func(st *storagememory.MemoryStorage) {
		st.PutDir("docs", base)
		st.PutFile("docs/f.txt", 10, base)
	})

	docsBefore := getEntry(t, vol, "docs")
	rootBefore := getEntry(t, vol, "")

	if err := vol.Updater().Propagate(ctx, "docs/upload.part", time.Now()); err != nil {
		t.Fatalf("Propagate of partial path must be a no-op, got: %v", err)
	}

	docs := getEntry(t, vol, "docs")
	if docs.ETag != docsBefore.ETag || !docs.MTime.Equal(docsBefore.MTime) {
		t.Error("partial propagation must leave ancestors untouched")
	}
	root := getEntry(t, vol, "")
	if root.ETag != rootBefore.ETag || !root.MTime.Equal(rootBefore.MTime) {
		t.Error("partial propagation must leave the root untouched")
	}
}

func TestUpdaterRenameContentTypeFailureKeepsTarget(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	vol, st := newTestVolume(t, func(st *storagememory.MemoryStorage) {
		st.PutDir("a", base)
		st.PutFile("a/src.txt", 7, base)
		st.PutFile("a/dst.jpg", 3, base)
	})

	occupied := getEntry(t, vol, "a/dst.jpg")
	source := getEntry(t, vol, "a/src.txt")

	// The target vanished from storage, so the content-type lookup
	// for the changed extension fails before anything is removed
	st.Remove("a/src.txt")
	st.Remove("a/dst.jpg")

	if err := vol.Updater().RenameFromStorage(ctx, nil, "a/src.txt", "a/dst.jpg"); err == nil {
		t.Fatal("expected an error from the failing content-type lookup")
	}

	target := getEntry(t, vol, "a/dst.jpg")
	if target.ID != occupied.ID || target.Size != 3 {
		t.Error("a failing lookup must leave the occupied target intact")
	}
	src := getEntry(t, vol, "a/src.txt")
	if src.ID != source.ID {
		t.Error("a failing lookup must leave the source entry intact")
	}
}

func TestUpdaterCustomPartialSuffix(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	st := storagememory.NewMemoryStorage()
	st.PutDir("docs", base)
	st.PutFile("docs/f.txt", 10, base)

	vol, err := fsmirror.NewVolume(st, cachememory.NewMemoryStore(),
		fsmirror.WithPartialSuffix(".tmp"))
	if err != nil {
		t.Fatalf("NewVolume failed: %v", err)
	}
	if err := vol.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		vol.Close(ctx)
	})
	if _, err := vol.Scanner().Scan(ctx, "", scanner.ScanRecursive, false); err != nil {
		t.Fatalf("initial scan failed: %v", err)
	}

	changeTime := time.Now()
	st.PutFile("docs/upload.tmp", 9, changeTime)

	if err := vol.Updater().Update(ctx, "docs/upload.tmp", changeTime); err != nil {
		t.Fatalf("Update of overridden partial suffix failed: %v", err)
	}
	if exists, _ := vol.Cache().InCache(ctx, "docs/upload.tmp"); exists {
		t.Error("\".tmp\" should be partial under the overridden suffix")
	}

	// The default suffix no longer applies
	st.PutFile("docs/archive.part", 4, changeTime)

	if err := vol.Updater().Update(ctx, "docs/archive.part", changeTime); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if exists, _ := vol.Cache().InCache(ctx, "docs/archive.part"); !exists {
		t.Error("\".part\" should be a regular file under the overridden suffix")
	}
}

func TestUpdaterRejectsEscapingPath(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	vol, _ := newTestVolume(t, func(st *storagememory.MemoryStorage) {
		st.PutDir("docs", base)
		st.PutFile("docs/f.txt", 10, base)
	})

	updater := vol.Updater()

	if err := updater.Update(ctx, "../outside", time.Now()); !errors.Is(err, data.ErrInvalidPath) {
		t.Errorf("Update: expected ErrInvalidPath, got %v", err)
	}
	if err := updater.Remove(ctx, "../outside"); !errors.Is(err, data.ErrInvalidPath) {
		t.Errorf("Remove: expected ErrInvalidPath, got %v", err)
	}
	if err := updater.Propagate(ctx, "../outside", time.Now()); !errors.Is(err, data.ErrInvalidPath) {
		t.Errorf("Propagate: expected ErrInvalidPath, got %v", err)
	}
	if err := updater.RenameFromStorage(ctx, nil, "../outside", "docs/in.txt"); !errors.Is(err, data.ErrInvalidPath) {
		t.Errorf("RenameFromStorage: expected ErrInvalidPath, got %v", err)
	}
}

func TestUpdaterRenameUncachedSource(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	vol, st := newTestVolume(t, func(st *storagememory.MemoryStorage) {
		st.PutDir("docs", base)
		st.PutFile("docs/f.txt", 10, base)
	})

	// The source was never cached; corrections and propagation still run
	st.PutFile("docs/appeared.txt", 4, time.Now())

	docsBefore := getEntry(t, vol, "docs")

	if err := vol.Updater().RenameFromStorage(ctx, nil, "docs/unknown.txt", "docs/appeared.txt"); err != nil {
		t.Fatalf("RenameFromStorage failed: %v", err)
	}

	if exists, _ := vol.Cache().InCache(ctx, "docs/appeared.txt"); exists {
		t.Error("an uncached source must not materialize a target entry")
	}
	if docs := getEntry(t, vol, "docs"); docs.ETag == docsBefore.ETag {
		t.Error("ancestors should still propagate")
	}
}
