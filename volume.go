// Package fsmirror maintains consistency of a hierarchical metadata
// cache that mirrors the state of an underlying storage backend.
//
// Whenever a node on the backing storage is created, modified, removed
// or moved, the Updater keeps the cache index and the derived aggregate
// metadata (folder sizes, logical mtimes, etags) of every ancestor
// directory correct without rescanning the whole tree.
package fsmirror

import (
	"context"

	"github.com/mwantia/fsmirror/cache"
	"github.com/mwantia/fsmirror/log"
	"github.com/mwantia/fsmirror/propagate"
	"github.com/mwantia/fsmirror/scanner"
	"github.com/mwantia/fsmirror/storage"
)

// Volume binds one storage backend to its cache store and the
// collaborators working on them. Every storage exposes its own scanner,
// propagator and updater instances; cross-storage moves address the
// source side through its own volume.
type Volume struct {
	storage    storage.Storage
	store      cache.Store
	scanner    *scanner.Scanner
	propagator *propagate.Propagator
	updater    *Updater
	log        *log.Logger

	partialSuffix string
}

func NewVolume(st storage.Storage, store cache.Store, opts ...VolumeOption) (*Volume, error) {
	options := newDefaultVolumeOptions()
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	vol := &Volume{
		storage:       st,
		store:         store,
		log:           options.Logger,
		partialSuffix: options.PartialSuffix,
	}

	vol.scanner = scanner.NewScanner(st, store, vol.log.Named("scanner"))
	vol.scanner.SetPartialSuffix(vol.partialSuffix)
	vol.propagator = propagate.NewPropagator(store, vol.log.Named("propagate"))
	vol.updater = newUpdater(vol, vol.log.Named("updater"))

	if options.UpdaterDisabled {
		vol.updater.Disable()
	}

	return vol, nil
}

// Open opens the storage backend and the cache store.
func (v *Volume) Open(ctx context.Context) error {
	if err := v.storage.Open(ctx); err != nil {
		return err
	}

	return v.store.Open(ctx)
}

// Close closes the cache store and the storage backend.
func (v *Volume) Close(ctx context.Context) error {
	if err := v.store.Close(ctx); err != nil {
		return err
	}

	return v.storage.Close(ctx)
}

// Storage returns the physical backend this volume mirrors.
func (v *Volume) Storage() storage.Storage {
	return v.storage
}

// Cache returns the metadata cache store of this volume.
func (v *Volume) Cache() cache.Store {
	return v.store
}

// Scanner returns the scanner bound to this volume.
func (v *Volume) Scanner() *scanner.Scanner {
	return v.scanner
}

// Propagator returns the propagator bound to this volume.
func (v *Volume) Propagator() *propagate.Propagator {
	return v.propagator
}

// Updater returns the updater bound to this volume.
func (v *Volume) Updater() *Updater {
	return v.updater
}

// isPartial classifies a path with this volume's partial suffix.
func (v *Volume) isPartial(path string) bool {
	return scanner.IsPartialPath(path, v.partialSuffix)
}
