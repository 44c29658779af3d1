package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwantia/fsmirror/data"
)

// CorrectFolderSize recomputes the aggregate size of every directory on
// the ancestor chain of path, from path itself up to and including the
// root, using only cached children. No storage rescan happens here.
//
// A seed entry (typically a fresh scan result for path) substitutes for
// re-reading path from the store. Absent entries on the chain are
// skipped; the chain walk continues regardless, so the correction stays
// idempotent for already-missing paths.
func CorrectFolderSize(ctx context.Context, store Store, path string, seed *data.Entry) error {
	entry := seed

	for {
		if entry == nil {
			cached, err := store.Get(ctx, path)
			if err != nil && !errors.Is(err, data.ErrNotExist) {
				return fmt.Errorf("failed to read entry '%s': %w", path, err)
			}
			entry = cached
		}

		if entry != nil && entry.IsDir() {
			size, err := folderSize(ctx, store, path)
			if err != nil {
				return fmt.Errorf("failed to compute folder size of '%s': %w", path, err)
			}

			if size != entry.Size && entry.ID != data.EntryIDAbsent {
				update := &data.EntryUpdate{
					Mask:  data.UpdateSize,
					Entry: &data.Entry{Size: size},
				}
				if err := store.Update(ctx, entry.ID, update); err != nil {
					return fmt.Errorf("failed to update folder size of '%s': %w", path, err)
				}
			}
		}

		if path == "" {
			return nil
		}

		path = data.ParentPath(path)
		entry = nil
	}
}

// folderSize computes the sum of the direct children sizes of path,
// using the store's native aggregate when available.
func folderSize(ctx context.Context, store Store, path string) (int64, error) {
	if sizer, ok := store.(FolderSizer); ok {
		return sizer.FolderSize(ctx, path)
	}

	children, err := store.Children(ctx, path)
	if err != nil {
		if errors.Is(err, data.ErrNotExist) {
			return 0, nil
		}

		return 0, err
	}

	var size int64
	for _, child := range children {
		size += child.Size
	}

	return size, nil
}
