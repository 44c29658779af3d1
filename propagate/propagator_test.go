package propagate_test

import (
	"context"
	"testing"
	"time"

	"github.com/mwantia/fsmirror/cache/memory"
	"github.com/mwantia/fsmirror/data"
	"github.com/mwantia/fsmirror/propagate"
)

func seedDir(t *testing.T, store *memory.MemoryStore, path string, mtime time.Time) *data.Entry {
	t.Helper()

	entry := &data.Entry{
		Path:         path,
		Type:         data.TypeDirectory,
		MTime:        mtime,
		StorageMTime: mtime,
		ETag:         data.NewETag(),
		ContentType:  data.ContentTypeDirectory,
	}
	if _, err := store.Insert(context.Background(), entry); err != nil {
		t.Fatalf("Insert %q failed: %v", path, err)
	}

	return entry
}

func TestPropagateChange(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()
	if err := store.Open(ctx); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	old := time.Now().Add(-time.Hour)
	root := seedDir(t, store, "", old)
	a := seedDir(t, store, "a", old)
	b := seedDir(t, store, "a/b", old)

	p := propagate.NewPropagator(store, nil)

	changeTime := time.Now()
	if err := p.PropagateChange(ctx, "a/b/file.txt", changeTime); err != nil {
		t.Fatalf("PropagateChange failed: %v", err)
	}

	for _, seeded := range []*data.Entry{root, a, b} {
		entry, err := store.Get(ctx, seeded.Path)
		if err != nil {
			t.Fatalf("Get %q failed: %v", seeded.Path, err)
		}
		if !entry.MTime.Equal(changeTime) {
			t.Errorf("mtime of %q = %v, expected %v", seeded.Path, entry.MTime, changeTime)
		}
		if entry.ETag == seeded.ETag {
			t.Errorf("etag of %q should be replaced", seeded.Path)
		}
		if !entry.StorageMTime.Equal(old) {
			t.Errorf("storage mtime of %q must not be touched", seeded.Path)
		}
	}
}

func TestPropagateChangeMonotonic(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()
	if err := store.Open(ctx); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	future := time.Now().Add(time.Hour)
	seedDir(t, store, "", future)
	seedDir(t, store, "a", future)

	p := propagate.NewPropagator(store, nil)

	if err := p.PropagateChange(ctx, "a/file.txt", time.Now()); err != nil {
		t.Fatalf("PropagateChange failed: %v", err)
	}

	for _, path := range []string{"", "a"} {
		entry, err := store.Get(ctx, path)
		if err != nil {
			t.Fatalf("Get %q failed: %v", path, err)
		}
		if !entry.MTime.Equal(future) {
			t.Errorf("mtime of %q regressed to %v", path, entry.MTime)
		}
	}
}

func TestPropagateChangeSkipsUncached(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()
	if err := store.Open(ctx); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	old := time.Now().Add(-time.Hour)
	seedDir(t, store, "", old)
	// "a" and "a/b" are deliberately not cached

	p := propagate.NewPropagator(store, nil)

	changeTime := time.Now()
	if err := p.PropagateChange(ctx, "a/b/file.txt", changeTime); err != nil {
		t.Fatalf("uncached ancestors should be skipped, got: %v", err)
	}

	root, err := store.Get(ctx, "")
	if err != nil {
		t.Fatalf("Get root failed: %v", err)
	}
	if !root.MTime.Equal(changeTime) {
		t.Errorf("root mtime = %v, expected %v", root.MTime, changeTime)
	}
}

func TestPropagateChangeRootPath(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()
	if err := store.Open(ctx); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	old := time.Now().Add(-time.Hour)
	root := seedDir(t, store, "", old)

	p := propagate.NewPropagator(store, nil)

	// The root has no ancestors; propagation is a no-op
	if err := p.PropagateChange(ctx, "", time.Now()); err != nil {
		t.Fatalf("PropagateChange failed: %v", err)
	}

	entry, _ := store.Get(ctx, "")
	if !entry.MTime.Equal(old) || entry.ETag != root.ETag {
		t.Error("propagating the root itself must not touch any entry")
	}
}
