package scanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwantia/fsmirror/cache"
	"github.com/mwantia/fsmirror/data"
	"github.com/mwantia/fsmirror/log"
	"github.com/mwantia/fsmirror/storage"
)

// ScanMode controls how deep a scan descends.
type ScanMode int

const (
	// ScanShallow inspects exactly the requested node; its
	// descendants, if any, are not touched.
	ScanShallow ScanMode = iota
	// ScanRecursive descends into directories and reconciles the
	// whole cached subtree with storage.
	ScanRecursive
)

// Scanner inspects single paths on the backing storage and writes fresh
// metadata for them into the cache store.
type Scanner struct {
	storage storage.Storage
	store   cache.Store
	log     *log.Logger

	partialSuffix string
}

func NewScanner(st storage.Storage, store cache.Store, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.Discard()
	}

	return &Scanner{
		storage:       st,
		store:         store,
		log:           logger,
		partialSuffix: PartialExtension,
	}
}

// SetPartialSuffix overrides the suffix marking in-transit artifacts.
// An empty suffix keeps the default.
func (s *Scanner) SetPartialSuffix(suffix string) {
	if suffix != "" {
		s.partialSuffix = suffix
	}
}

// Scan refreshes the cache entry for path from the physical state on
// storage and returns it. Without force, a node whose type and storage
// mtime (and, for files, size) are unchanged is returned as-is from the
// cache.
//
// Storage failures are surfaced; nothing is written in that case.
func (s *Scanner) Scan(ctx context.Context, path string, mode ScanMode, force bool) (*data.Entry, error) {
	if IsPartialPath(path, s.partialSuffix) {
		return nil, data.ErrPartialFile
	}

	info, err := s.storage.Stat(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat '%s': %w", path, err)
	}

	entry, err := s.scanNode(ctx, path, info, force)
	if err != nil {
		return nil, err
	}

	if mode == ScanRecursive && info.IsDir() {
		size, err := s.scanChildren(ctx, path, force)
		if err != nil {
			return nil, err
		}

		if size != entry.Size {
			entry.Size = size
			update := &data.EntryUpdate{
				Mask:  data.UpdateSize,
				Entry: &data.Entry{Size: size},
			}
			if err := s.store.Update(ctx, entry.ID, update); err != nil {
				return nil, fmt.Errorf("failed to update folder size of '%s': %w", path, err)
			}
		}
	}

	return entry, nil
}

// scanNode reconciles a single node with its physical state.
func (s *Scanner) scanNode(ctx context.Context, path string, info *storage.FileInfo, force bool) (*data.Entry, error) {
	cached, err := s.store.Get(ctx, path)
	if err != nil && !errors.Is(err, data.ErrNotExist) {
		return nil, fmt.Errorf("failed to read cached entry '%s': %w", path, err)
	}

	if cached != nil && !force && unchanged(cached, info) {
		return cached, nil
	}

	entry := &data.Entry{
		Path:         path,
		Type:         info.Type,
		Size:         info.Size,
		MTime:        info.MTime,
		StorageMTime: info.MTime,
		ETag:         data.NewETag(),
		ContentType:  info.ContentType,
	}

	if cached == nil {
		if _, err := s.store.Insert(ctx, entry); err != nil {
			return nil, fmt.Errorf("failed to insert entry '%s': %w", path, err)
		}

		s.log.Debug("scanned new entry '%s'", path)
		return entry, nil
	}

	entry.ID = cached.ID
	entry.ParentID = cached.ParentID

	mask := data.UpdateMTime | data.UpdateStorageMTime | data.UpdateETag | data.UpdateContentType
	if info.IsDir() {
		// Directory sizes are aggregates maintained by folder-size
		// correction, never taken from storage
		entry.Size = cached.Size
	} else {
		mask |= data.UpdateSize
	}

	if err := s.store.Update(ctx, cached.ID, &data.EntryUpdate{Mask: mask, Entry: entry}); err != nil {
		return nil, fmt.Errorf("failed to update entry '%s': %w", path, err)
	}

	s.log.Debug("rescanned entry '%s'", path)
	return entry, nil
}

// scanChildren reconciles the direct children of a directory, descends
// into subdirectories and drops cached entries that vanished from
// storage. Returns the aggregate size of the directory.
func (s *Scanner) scanChildren(ctx context.Context, path string, force bool) (int64, error) {
	infos, err := s.storage.List(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("failed to list '%s': %w", path, err)
	}

	seen := make(map[string]bool, len(infos))
	var size int64

	for _, info := range infos {
		if IsPartialPath(info.Path, s.partialSuffix) {
			continue
		}
		seen[info.Path] = true

		child, err := s.scanNode(ctx, info.Path, info, force)
		if err != nil {
			return 0, err
		}

		if info.IsDir() {
			childSize, err := s.scanChildren(ctx, info.Path, force)
			if err != nil {
				return 0, err
			}

			if childSize != child.Size {
				update := &data.EntryUpdate{
					Mask:  data.UpdateSize,
					Entry: &data.Entry{Size: childSize},
				}
				if err := s.store.Update(ctx, child.ID, update); err != nil {
					return 0, err
				}
			}

			size += childSize
			continue
		}

		size += child.Size
	}

	// Drop cached children no longer present on storage
	cachedChildren, err := s.store.Children(ctx, path)
	if err != nil && !errors.Is(err, data.ErrNotExist) {
		return 0, err
	}

	for _, cached := range cachedChildren {
		if seen[cached.Path] {
			continue
		}

		if err := s.store.Remove(ctx, cached.Path); err != nil && !errors.Is(err, data.ErrNotExist) {
			return 0, err
		}

		s.log.Debug("removed vanished entry '%s'", cached.Path)
	}

	return size, nil
}

// unchanged reports whether the cached entry still matches the physical
// state. Directory sizes are aggregates and not compared.
func unchanged(cached *data.Entry, info *storage.FileInfo) bool {
	if cached.Type != info.Type {
		return false
	}
	if !cached.StorageMTime.Equal(info.MTime) {
		return false
	}

	return info.IsDir() || cached.Size == info.Size
}
