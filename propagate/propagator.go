package propagate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwantia/fsmirror/cache"
	"github.com/mwantia/fsmirror/data"
	"github.com/mwantia/fsmirror/log"
)

// Propagator bubbles a change timestamp up the ancestor chain of a
// path, advancing each cached ancestor's logical mtime and replacing
// its etag.
type Propagator struct {
	store cache.Store
	log   *log.Logger
}

func NewPropagator(store cache.Store, logger *log.Logger) *Propagator {
	if logger == nil {
		logger = log.Discard()
	}

	return &Propagator{
		store: store,
		log:   logger,
	}
}

// PropagateChange walks every ancestor directory of path, from its
// direct parent up to and including the root, and advances the logical
// mtime to the later of the ancestor's current value and t. An
// ancestor's timestamp never regresses. Every touched ancestor gets a
// fresh etag.
//
// Uncached ancestors are skipped; they will be populated by a future
// scan.
func (p *Propagator) PropagateChange(ctx context.Context, path string, t time.Time) error {
	for _, ancestor := range data.Ancestors(path) {
		entry, err := p.store.Get(ctx, ancestor)
		if err != nil {
			if errors.Is(err, data.ErrNotExist) {
				continue
			}

			return fmt.Errorf("failed to read ancestor '%s': %w", ancestor, err)
		}

		mtime := entry.MTime
		if t.After(mtime) {
			mtime = t
		}

		update := &data.EntryUpdate{
			Mask: data.UpdateMTime | data.UpdateETag,
			Entry: &data.Entry{
				MTime: mtime,
				ETag:  data.NewETag(),
			},
		}
		if err := p.store.Update(ctx, entry.ID, update); err != nil {
			return fmt.Errorf("failed to propagate to '%s': %w", ancestor, err)
		}
	}

	p.log.Debug("propagated change of '%s'", path)
	return nil
}
