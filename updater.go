package fsmirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mwantia/fsmirror/cache"
	"github.com/mwantia/fsmirror/data"
	"github.com/mwantia/fsmirror/log"
	"github.com/mwantia/fsmirror/scanner"
)

// Updater is the decision layer of the cache maintenance protocol. On
// each storage mutation it filters out in-transit paths, scans the
// single affected node, keeps the index and folder sizes correct,
// bubbles the change up the ancestor chain and realigns the physical
// mtime recorded for the parent directory.
//
// Every public operation runs synchronously to completion; concurrent
// invocations against the same path rely on the cache store's own
// per-entry atomicity.
type Updater struct {
	mu      sync.RWMutex
	enabled bool

	vol *Volume
	log *log.Logger
}

func newUpdater(vol *Volume, logger *log.Logger) *Updater {
	if logger == nil {
		logger = log.Discard()
	}

	return &Updater{
		enabled: true,
		vol:     vol,
		log:     logger,
	}
}

// Disable suppresses all cache side effects of Update, Remove and
// RenameFromStorage until Enable is called. Propagate is unaffected.
// Callers performing bulk operations with their own consistency
// strategy use this to take over cache maintenance temporarily.
func (u *Updater) Disable() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.enabled = false
}

// Enable resumes automatic cache maintenance.
func (u *Updater) Enable() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.enabled = true
}

// Enabled returns whether cache maintenance is currently active.
func (u *Updater) Enabled() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()

	return u.enabled
}

// Propagate bubbles a change at path up the ancestor chain. A zero t
// defaults to the current time. Partial paths are ignored entirely.
func (u *Updater) Propagate(ctx context.Context, path string, t time.Time) error {
	path, err := data.CleanPath(path)
	if err != nil {
		return err
	}
	if u.vol.isPartial(path) {
		return nil
	}

	if t.IsZero() {
		t = time.Now()
	}

	return u.vol.propagator.PropagateChange(ctx, path, t)
}

// Update records that the content or metadata at path changed and
// keeps all ancestors consistent: the node is rescanned shallowly, the
// parent's physical mtime is realigned, folder sizes on the ancestor
// chain are recomputed incrementally from the scan result, and the
// change is propagated with t (zero = now).
//
// If the scan fails the operation aborts before any aggregate data is
// written.
func (u *Updater) Update(ctx context.Context, path string, t time.Time) error {
	path, err := data.CleanPath(path)
	if err != nil {
		return err
	}
	if !u.Enabled() || u.vol.isPartial(path) {
		return nil
	}

	if t.IsZero() {
		t = time.Now()
	}

	entry, err := u.vol.scanner.Scan(ctx, path, scanner.ScanShallow, false)
	if err != nil {
		return fmt.Errorf("update of '%s' aborted: %w", path, err)
	}

	if err := u.correctParentStorageMTime(ctx, path); err != nil {
		return err
	}

	if err := cache.CorrectFolderSize(ctx, u.vol.store, path, entry); err != nil {
		return err
	}

	u.log.Debug("updated '%s'", path)
	return u.vol.propagator.PropagateChange(ctx, path, t)
}

// Remove deletes path from the cache, recursively for directories, and
// fixes the ancestors: the parent's folder size is recounted from the
// remaining cached children, its physical mtime realigned, and the
// change propagated with the current time.
//
// Removing a path absent from the cache is idempotent; the correction
// steps still run.
func (u *Updater) Remove(ctx context.Context, path string) error {
	path, err := data.CleanPath(path)
	if err != nil {
		return err
	}
	if !u.Enabled() || u.vol.isPartial(path) {
		return nil
	}

	parent := data.ParentPath(path)

	if err := u.vol.store.Remove(ctx, path); err != nil {
		if !errors.Is(err, data.ErrNotExist) {
			return fmt.Errorf("remove of '%s' failed: %w", path, err)
		}

		u.log.Debug("remove of uncached '%s'", path)
	}

	if err := cache.CorrectFolderSize(ctx, u.vol.store, parent, nil); err != nil {
		return err
	}

	if err := u.correctParentStorageMTime(ctx, path); err != nil {
		return err
	}

	u.log.Debug("removed '%s'", path)
	return u.vol.propagator.PropagateChange(ctx, path, time.Now())
}

// correctParentStorageMTime realigns the physical mtime recorded for
// the direct parent directory of path with the backend, so that later
// comparisons against the physical state stay accurate. The logical
// mtime used for propagation is untouched.
//
// An uncached parent is a silent no-op; it will be populated by a
// future scan. The same applies when the parent vanished from storage.
func (u *Updater) correctParentStorageMTime(ctx context.Context, path string) error {
	id, err := u.vol.store.GetParentID(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to resolve parent of '%s': %w", path, err)
	}
	if id == data.EntryIDAbsent {
		return nil
	}

	parent := data.ParentPath(path)
	mtime, err := u.vol.storage.FileMTime(ctx, parent)
	if err != nil {
		if errors.Is(err, data.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("failed to read mtime of '%s': %w", parent, err)
	}

	update := &data.EntryUpdate{
		Mask:  data.UpdateStorageMTime,
		Entry: &data.Entry{StorageMTime: mtime},
	}

	return u.vol.store.Update(ctx, id, update)
}
