package fsmirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwantia/fsmirror/cache"
	"github.com/mwantia/fsmirror/data"
)

// RenameFromStorage records that the node at sourcePath on the source
// volume moved to targetPath on this volume. The source may live on a
// different storage backend than this updater's own; each side's cache,
// updater and propagator are addressed through its volume.
//
// An already-occupied target is removed first (overwrite semantics,
// last write wins). Moves within the same volume preserve entry
// identity; cross-volume moves copy the cached subtree into this
// volume's store and drop it from the source store.
//
// When the file extension changes, the content type is re-resolved from
// this volume's storage, since a bare identity copy would carry the
// stale extension-derived type forward. Both sides' parent folder sizes
// and physical parent mtimes are corrected, the moved node's own
// physical mtime is resynced without disturbing its logical mtime, and
// both sides propagate with a single shared timestamp.
func (u *Updater) RenameFromStorage(ctx context.Context, source *Volume, sourcePath, targetPath string) error {
	if !u.Enabled() {
		return nil
	}

	sourcePath, err := data.CleanPath(sourcePath)
	if err != nil {
		return err
	}
	targetPath, err = data.CleanPath(targetPath)
	if err != nil {
		return err
	}

	if source == nil {
		source = u.vol
	}

	// Each side classifies with its own volume's partial suffix
	if source.isPartial(sourcePath) || u.vol.isPartial(targetPath) {
		return nil
	}

	// One timestamp keeps both sides' propagation consistent
	now := time.Now()

	sourceStore := source.store

	inSource, err := sourceStore.InCache(ctx, sourcePath)
	if err != nil {
		return fmt.Errorf("failed to check source '%s': %w", sourcePath, err)
	}

	if inSource {
		sameExt := data.Extension(sourcePath) == data.Extension(targetPath)

		var contentType data.ContentType
		if !sameExt {
			// Resolve before the destructive target removal, so a
			// failing lookup cannot leave both entries gone
			contentType, err = u.vol.storage.ContentType(ctx, targetPath)
			if err != nil {
				return fmt.Errorf("failed to resolve content type of '%s': %w", targetPath, err)
			}
		}

		inTarget, err := u.vol.store.InCache(ctx, targetPath)
		if err != nil {
			return fmt.Errorf("failed to check target '%s': %w", targetPath, err)
		}
		if inTarget {
			// Overwrite semantics, last write wins
			if err := u.vol.store.Remove(ctx, targetPath); err != nil && !errors.Is(err, data.ErrNotExist) {
				return fmt.Errorf("failed to overwrite target '%s': %w", targetPath, err)
			}
		}

		if source == u.vol {
			// Identity-preserving rename within the same volume
			if err := u.vol.store.Move(ctx, sourcePath, targetPath); err != nil {
				return fmt.Errorf("failed to move '%s' to '%s': %w", sourcePath, targetPath, err)
			}
		} else {
			if err := cache.MoveAcross(ctx, u.vol.store, sourceStore, sourcePath, targetPath); err != nil {
				return fmt.Errorf("failed to move '%s' across stores: %w", sourcePath, err)
			}
		}

		if !sameExt {
			if err := u.updateContentType(ctx, targetPath, contentType); err != nil {
				return err
			}
		}

		u.log.Debug("renamed '%s' to '%s'", sourcePath, targetPath)
	}

	// Recount both parents from their remaining cached children
	if err := cache.CorrectFolderSize(ctx, sourceStore, data.ParentPath(sourcePath), nil); err != nil {
		return err
	}
	if err := cache.CorrectFolderSize(ctx, u.vol.store, data.ParentPath(targetPath), nil); err != nil {
		return err
	}

	// Realign physical parent mtimes through each side's own updater
	if err := source.updater.correctParentStorageMTime(ctx, sourcePath); err != nil {
		return err
	}
	if err := u.correctParentStorageMTime(ctx, targetPath); err != nil {
		return err
	}

	// A move changes the physical mtime of the moved node itself on
	// many backends; resync it without touching the logical mtime
	if err := u.correctStorageMTime(ctx, targetPath); err != nil {
		return err
	}

	if err := source.propagator.PropagateChange(ctx, sourcePath, now); err != nil {
		return err
	}

	return u.vol.propagator.PropagateChange(ctx, targetPath, now)
}

// updateContentType rewrites only the content type of the entry at
// path.
func (u *Updater) updateContentType(ctx context.Context, path string, contentType data.ContentType) error {
	id, err := u.vol.store.GetID(ctx, path)
	if err != nil {
		return err
	}
	if id == data.EntryIDAbsent {
		return nil
	}

	update := &data.EntryUpdate{
		Mask:  data.UpdateContentType,
		Entry: &data.Entry{ContentType: contentType},
	}

	return u.vol.store.Update(ctx, id, update)
}

// correctStorageMTime resyncs the physical mtime of the entry at path
// itself from the backend, leaving the logical mtime alone.
func (u *Updater) correctStorageMTime(ctx context.Context, path string) error {
	id, err := u.vol.store.GetID(ctx, path)
	if err != nil {
		return err
	}
	if id == data.EntryIDAbsent {
		return nil
	}

	mtime, err := u.vol.storage.FileMTime(ctx, path)
	if err != nil {
		if errors.Is(err, data.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("failed to read mtime of '%s': %w", path, err)
	}

	update := &data.EntryUpdate{
		Mask:  data.UpdateStorageMTime,
		Entry: &data.Entry{StorageMTime: mtime},
	}

	return u.vol.store.Update(ctx, id, update)
}
