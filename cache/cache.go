package cache

import (
	"context"

	"github.com/mwantia/fsmirror/data"
)

// Store is the persistent metadata index mirroring storage content.
//
// Stores only provide primitive per-entry operations; the derived
// protocol operations (folder-size correction, cross-store moves) are
// package functions built on top of this interface.
//
// Implementations must provide atomic per-entry read-modify-write,
// since the updater issues multiple independent calls that are not
// wrapped in a single cross-call transaction.
type Store interface {
	// Name returns the identifier name defined for this store
	Name() string
	// Open is part of the lifecycle behaviour and gets called when opening this store.
	Open(ctx context.Context) error
	// Close is part of the lifecycle behaviour and gets called when closing this store.
	Close(ctx context.Context) error

	// InCache checks whether path has a cache entry.
	InCache(ctx context.Context, path string) (bool, error)

	// Get returns the entry at path, or data.ErrNotExist.
	Get(ctx context.Context, path string) (*data.Entry, error)

	// GetID resolves the entry id of path. Returns data.EntryIDAbsent
	// with a nil error when the path is simply not cached; a non-nil
	// error signals a backend failure.
	GetID(ctx context.Context, path string) (int64, error)

	// GetParentID resolves the entry id of the direct parent of path.
	GetParentID(ctx context.Context, path string) (int64, error)

	// Insert adds a new entry and returns its assigned id. The entry's
	// ParentID is resolved from the cached parent, if any.
	Insert(ctx context.Context, entry *data.Entry) (int64, error)

	// Update applies a partial update to the entry with the given id.
	Update(ctx context.Context, id int64, update *data.EntryUpdate) error

	// Remove deletes the entry at path and, for directories, every
	// cached descendant. Returns data.ErrNotExist for absent paths.
	Remove(ctx context.Context, path string) error

	// Move renames the entry at src to dst within this store,
	// preserving entry identity. Cached descendants move along.
	Move(ctx context.Context, src, dst string) error

	// Children returns the direct children of the directory at path.
	Children(ctx context.Context, path string) ([]*data.Entry, error)
}

// FolderSizer is an optional interface for stores that can compute a
// directory's aggregate child size natively (e.g. a SQL SUM). The
// generic folder-size correction probes for it and falls back to a
// children walk otherwise.
type FolderSizer interface {
	FolderSize(ctx context.Context, path string) (int64, error)
}
