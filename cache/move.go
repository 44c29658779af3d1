package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwantia/fsmirror/data"
)

// MoveAcross transfers the entry at srcPath (and, for directories, its
// whole cached subtree) from the src store into the dst store under
// dstPath. Destination ids are newly assigned; the source subtree is
// removed as part of this operation's contract, so no entry ever exists
// in both stores after a successful return.
//
// The destination is written before the source is deleted. A failure
// mid-copy leaves the source intact.
func MoveAcross(ctx context.Context, dst, src Store, srcPath, dstPath string) error {
	entry, err := src.Get(ctx, srcPath)
	if err != nil {
		return fmt.Errorf("failed to read source entry '%s': %w", srcPath, err)
	}

	if err := copyInto(ctx, dst, src, entry, srcPath, dstPath); err != nil {
		return err
	}

	if err := src.Remove(ctx, srcPath); err != nil && !errors.Is(err, data.ErrNotExist) {
		return fmt.Errorf("failed to remove source entry '%s': %w", srcPath, err)
	}

	return nil
}

// copyInto inserts a clone of entry at dstPath and descends into cached
// children for directories.
func copyInto(ctx context.Context, dst, src Store, entry *data.Entry, srcPath, dstPath string) error {
	clone := entry.Clone()
	clone.ID = data.EntryIDAbsent
	clone.ParentID = data.EntryIDAbsent
	clone.Path = data.RebasePath(entry.Path, srcPath, dstPath)

	if _, err := dst.Insert(ctx, clone); err != nil {
		return fmt.Errorf("failed to copy entry to '%s': %w", clone.Path, err)
	}

	if !entry.IsDir() {
		return nil
	}

	children, err := src.Children(ctx, entry.Path)
	if err != nil {
		if errors.Is(err, data.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("failed to list children of '%s': %w", entry.Path, err)
	}

	for _, child := range children {
		if err := copyInto(ctx, dst, src, child, srcPath, dstPath); err != nil {
			return err
		}
	}

	return nil
}
